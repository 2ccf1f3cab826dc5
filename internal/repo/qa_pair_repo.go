package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/pgvector/pgvector-go"

	"github.com/xxxsen/admitrag/internal/model"
	"github.com/xxxsen/admitrag/internal/pkg/dbutil"
)

type QaPairRepo struct {
	db *sql.DB
}

func NewQaPairRepo(db *sql.DB) *QaPairRepo {
	return &QaPairRepo{db: db}
}

func (r *QaPairRepo) Add(ctx context.Context, qa *model.QaPair) error {
	const query = `
		INSERT INTO qa_pairs (question, answer, source_url, topic, is_generated, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	var embedding interface{}
	if len(qa.Embedding) > 0 {
		embedding = pgvector.NewVector(qa.Embedding)
	}
	qa.Ctime = time.Now().UnixMilli()
	return r.db.QueryRowContext(ctx, query,
		qa.Question, qa.Answer, qa.SourceURL, qa.Topic, qa.IsGenerated, embedding, qa.Ctime,
	).Scan(&qa.ID)
}

func (r *QaPairRepo) AddMany(ctx context.Context, pairs []model.QaPair) error {
	if len(pairs) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	rows := make([]map[string]interface{}, 0, len(pairs))
	for _, qa := range pairs {
		var embedding interface{}
		if len(qa.Embedding) > 0 {
			embedding = pgvector.NewVector(qa.Embedding)
		}
		rows = append(rows, map[string]interface{}{
			"question":     qa.Question,
			"answer":       qa.Answer,
			"source_url":   qa.SourceURL,
			"topic":        qa.Topic,
			"is_generated": qa.IsGenerated,
			"embedding":    embedding,
			"ctime":        now,
		})
	}
	sqlStr, args, err := builder.BuildInsert("qa_pairs", rows)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// FindTopK returns up to k candidates ordered by ascending cosine distance.
// Rank is the 0-based position, similarity is 1 - distance. No similarity
// floor is applied here: filtering is the caller's policy so that excluded
// hits stay visible for audit.
func (r *QaPairRepo) FindTopK(ctx context.Context, queryVec []float32, k int) ([]model.QaPairHit, error) {
	const query = `
		SELECT id, question, answer, source_url, topic, is_generated, ctime,
		       embedding <=> $1 AS distance
		FROM qa_pairs
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1, id
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, pgvector.NewVector(queryVec), k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var hits []model.QaPairHit
	for rows.Next() {
		var hit model.QaPairHit
		if err := rows.Scan(
			&hit.QaPair.ID,
			&hit.QaPair.Question,
			&hit.QaPair.Answer,
			&hit.QaPair.SourceURL,
			&hit.QaPair.Topic,
			&hit.QaPair.IsGenerated,
			&hit.QaPair.Ctime,
			&hit.Distance,
		); err != nil {
			return nil, err
		}
		hit.Rank = len(hits)
		hit.Similarity = 1 - hit.Distance
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (r *QaPairRepo) ListMissingEmbedding(ctx context.Context, limit int) ([]model.QaPair, error) {
	const query = `
		SELECT id, question, answer, source_url, topic, is_generated, ctime
		FROM qa_pairs
		WHERE embedding IS NULL
		ORDER BY id
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var pairs []model.QaPair
	for rows.Next() {
		var qa model.QaPair
		if err := rows.Scan(&qa.ID, &qa.Question, &qa.Answer, &qa.SourceURL, &qa.Topic, &qa.IsGenerated, &qa.Ctime); err != nil {
			return nil, err
		}
		pairs = append(pairs, qa)
	}
	return pairs, rows.Err()
}

func (r *QaPairRepo) UpdateEmbedding(ctx context.Context, id int64, vec []float32) error {
	const query = `UPDATE qa_pairs SET embedding = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, pgvector.NewVector(vec), id)
	return err
}

func (r *QaPairRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM qa_pairs`).Scan(&count)
	return count, err
}
