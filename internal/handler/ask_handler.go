package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/admitrag/internal/pkg/errcode"
	"github.com/xxxsen/admitrag/internal/pkg/response"
	"github.com/xxxsen/admitrag/internal/service"
)

type AskHandler struct {
	rag *service.RagService
}

func NewAskHandler(rag *service.RagService) *AskHandler {
	return &AskHandler{rag: rag}
}

type askRequest struct {
	Question string `json:"question"`
	// Verbose skips the answer cache and returns retrieval details.
	Verbose bool `json:"verbose"`
}

type askSource struct {
	Rank       int     `json:"rank"`
	Question   string  `json:"question"`
	Similarity float64 `json:"similarity"`
	SourceURL  string  `json:"source_url,omitempty"`
}

func (h *AskHandler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		response.Error(c, errcode.ErrInvalid, "question is required")
		return
	}

	if !req.Verbose {
		answer, err := h.rag.Answer(c.Request.Context(), req.Question)
		if err != nil {
			handleError(c, err)
			return
		}
		response.Success(c, gin.H{"answer": answer})
		return
	}

	details, err := h.rag.AnswerDetailed(c.Request.Context(), req.Question)
	if err != nil {
		handleError(c, err)
		return
	}
	sources := make([]askSource, 0, len(details.Hits))
	for _, hit := range details.Hits {
		sources = append(sources, askSource{
			Rank:       hit.Rank,
			Question:   hit.QaPair.Question,
			Similarity: hit.Similarity,
			SourceURL:  hit.QaPair.SourceURL,
		})
	}
	response.Success(c, gin.H{
		"answer":       details.AnswerText,
		"sources":      sources,
		"used_sources": details.UsedHits,
		"latency_ms":   details.LatencyMSTotal,
		"cost_usd":     details.CostUSD,
	})
}
