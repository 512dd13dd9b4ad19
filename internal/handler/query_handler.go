package handler

import (
	"context"
	"errors"
	"net/http"
	"rag-api-go/internal/model"
	"rag-api-go/internal/service"
	"rag-api-go/pkg/log"

	"github.com/gin-gonic/gin"
)

// QueryHandler 负责处理问答请求。
type QueryHandler struct {
	queryService service.QueryService
}

// NewQueryHandler 创建一个新的 QueryHandler 实例。
func NewQueryHandler(queryService service.QueryService) *QueryHandler {
	return &QueryHandler{queryService: queryService}
}

// Query 处理 JSON 问答请求。top_k 缺省为 3。
func (h *QueryHandler) Query(c *gin.Context) {
	var req model.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body."})
		return
	}
	if req.TopK == 0 {
		req.TopK = 3
	}

	resp, err := h.queryService.Answer(c.Request.Context(), req.Question, req.TopK)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmptyQuestion):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Question must not be empty."})
		case errors.Is(err, service.ErrInvalidTopK):
			c.JSON(http.StatusBadRequest, gin.H{"error": "top_k must be between 1 and 10."})
		case errors.Is(err, context.DeadlineExceeded):
			// 外部调用超时：对调用方而言是可重试的瞬态错误
			c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Upstream service timed out."})
		default:
			log.Errorf("[QueryHandler] 问答失败, question: '%s', error: %v", req.Question, err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to answer the question."})
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}
