package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/xxxsen/admitrag/internal/pkg/response"
)

type RouterDeps struct {
	Ask  *AskHandler
	Eval *EvalHandler
}

func RegisterRoutes(api *gin.RouterGroup, deps RouterDeps) {
	api.GET("/ping", func(c *gin.Context) {
		response.Success(c, gin.H{"status": "ok"})
	})
	api.POST("/ask", deps.Ask.Ask)
	api.GET("/eval/runs/latest", deps.Eval.LatestReport)
	api.GET("/eval/runs/:id/report", deps.Eval.Report)
}
