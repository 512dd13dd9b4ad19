// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"context"
	"net/http"
	"rag-api-go/pkg/es"
	"rag-api-go/pkg/log"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthHandler 负责处理健康检查请求。
type HealthHandler struct {
	store es.Store
}

// NewHealthHandler 创建一个新的 HealthHandler 实例。
func NewHealthHandler(store es.Store) *HealthHandler {
	return &HealthHandler{store: store}
}

// Health 查询向量库统计信息。统计失败时返回降级状态而不是错误码。
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	total, err := h.store.Count(ctx)
	if err != nil {
		log.Warnf("[HealthHandler] 获取向量库统计失败: %v", err)
		c.JSON(http.StatusOK, gin.H{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"total_vectors": total,
	})
}
