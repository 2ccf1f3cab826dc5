package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/admitrag/internal/ai"
	"github.com/xxxsen/admitrag/internal/model"
	appErr "github.com/xxxsen/admitrag/internal/pkg/errors"
)

// QaImporter bulk-loads question/answer pairs from CSV, embedding them in
// batches before insert.
type QaImporter struct {
	store    QaWriter
	embedder ai.IEmbedder
	batch    int
}

// QaWriter is the insert side of the qa pair store.
type QaWriter interface {
	AddMany(ctx context.Context, pairs []model.QaPair) error
}

func NewQaImporter(store QaWriter, embedder ai.IEmbedder, batch int) *QaImporter {
	if batch <= 0 {
		batch = 32
	}
	return &QaImporter{store: store, embedder: embedder, batch: batch}
}

// ImportCSV reads a header-mapped CSV (question and answer required; topic,
// source_url and is_generated optional) and inserts every row with its
// question embedding. Returns the number of pairs imported.
func (s *QaImporter) ImportCSV(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open qa csv: %w", err)
	}
	defer f.Close()

	pairs, err := parseQaCSV(f)
	if err != nil {
		return 0, err
	}
	imported := 0
	for start := 0; start < len(pairs); start += s.batch {
		end := start + s.batch
		if end > len(pairs) {
			end = len(pairs)
		}
		chunk := pairs[start:end]
		questions := make([]string, 0, len(chunk))
		for _, pair := range chunk {
			questions = append(questions, pair.Question)
		}
		vectors, err := s.embedder.EmbedMany(ctx, questions)
		if err != nil {
			return imported, fmt.Errorf("embed qa batch: %w", err)
		}
		for i := range chunk {
			chunk[i].Embedding = vectors[i]
		}
		if err := s.store.AddMany(ctx, chunk); err != nil {
			return imported, fmt.Errorf("insert qa batch: %w", err)
		}
		imported += len(chunk)
		logutil.GetLogger(ctx).Info("qa batch imported", zap.Int("imported", imported), zap.Int("total", len(pairs)))
	}
	return imported, nil
}

func parseQaCSV(r io.Reader) ([]model.QaPair, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := map[string]int{}
	for i, col := range header {
		cols[strings.ToLower(strings.TrimSpace(col))] = i
	}
	questionIdx, ok := cols["question"]
	if !ok {
		return nil, fmt.Errorf("%w: csv must have a question column", appErr.ErrInvalid)
	}
	answerIdx, ok := cols["answer"]
	if !ok {
		return nil, fmt.Errorf("%w: csv must have an answer column", appErr.ErrInvalid)
	}

	field := func(record []string, name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var pairs []model.QaPair
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		if questionIdx >= len(record) || answerIdx >= len(record) {
			continue
		}
		question := strings.TrimSpace(record[questionIdx])
		answer := strings.TrimSpace(record[answerIdx])
		if question == "" || answer == "" {
			continue
		}
		isGenerated, _ := strconv.ParseBool(field(record, "is_generated"))
		pairs = append(pairs, model.QaPair{
			Question:    question,
			Answer:      answer,
			Topic:       field(record, "topic"),
			SourceURL:   field(record, "source_url"),
			IsGenerated: isGenerated,
		})
	}
	return pairs, nil
}
