package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/xxxsen/admitrag/internal/eval"
	"github.com/xxxsen/admitrag/internal/pkg/errcode"
	"github.com/xxxsen/admitrag/internal/pkg/response"
)

type EvalHandler struct {
	pipeline *eval.Pipeline
}

func NewEvalHandler(pipeline *eval.Pipeline) *EvalHandler {
	return &EvalHandler{pipeline: pipeline}
}

func (h *EvalHandler) Report(c *gin.Context) {
	runID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid run id")
		return
	}
	summary, err := h.pipeline.Report(c.Request.Context(), runID)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, summary)
}

func (h *EvalHandler) LatestReport(c *gin.Context) {
	dataset := c.Query("dataset")
	if dataset == "" {
		response.Error(c, errcode.ErrInvalid, "dataset is required")
		return
	}
	summary, err := h.pipeline.LatestReport(c.Request.Context(), dataset)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, summary)
}
