package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"rag-api-go/internal/config"
	"rag-api-go/internal/model"
	"rag-api-go/internal/pipeline"
	"rag-api-go/pkg/es"
	"rag-api-go/pkg/log"
	"strings"

	"github.com/gin-gonic/gin"
)

// IngestService 定义了文档摄取入口，便于在测试中替换 Processor。
type IngestService interface {
	Process(ctx context.Context, fileName string, data []byte) (int, error)
}

// 支持的上传文件扩展名
var supportedExtensions = map[string]struct{}{
	".txt":  {},
	".pdf":  {},
	".docx": {},
}

// DocumentHandler 负责处理文档上传与清空向量库的请求。
type DocumentHandler struct {
	ingestService IngestService
	store         es.Store
	ingestCfg     config.IngestConfig
}

// NewDocumentHandler 创建一个新的 DocumentHandler 实例。
func NewDocumentHandler(ingestService IngestService, store es.Store, ingestCfg config.IngestConfig) *DocumentHandler {
	return &DocumentHandler{
		ingestService: ingestService,
		store:         store,
		ingestCfg:     ingestCfg,
	}
}

// Upload 处理 multipart 文件上传：校验扩展名与大小后交给摄取管道。
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing file field."})
		return
	}
	defer file.Close()

	fileName := header.Filename
	ext := strings.ToLower(filepath.Ext(fileName))
	if _, ok := supportedExtensions[ext]; !ok {
		log.Warnf("[DocumentHandler] 不支持的文件类型: %s", fileName)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unsupported file type."})
		return
	}

	maxBytes := h.ingestCfg.MaxFileSizeBytes()
	if header.Size > maxBytes {
		log.Warnf("[DocumentHandler] 文件超出大小限制: %s, size: %d", fileName, header.Size)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("File too large (max %dMB)", h.ingestCfg.MaxFileSizeMB),
		})
		return
	}

	// header.Size 可能缺失或不可信，读取时再做一次硬限制
	data, err := io.ReadAll(io.LimitReader(file, maxBytes+1))
	if err != nil {
		log.Error("Upload: failed to read file", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read uploaded file."})
		return
	}
	if int64(len(data)) > maxBytes {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("File too large (max %dMB)", h.ingestCfg.MaxFileSizeMB),
		})
		return
	}

	added, err := h.ingestService.Process(c.Request.Context(), fileName, data)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrEmptyContent), errors.Is(err, pipeline.ErrNoChunks):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Empty file."})
		case errors.Is(err, pipeline.ErrNoEmbeddable):
			c.JSON(http.StatusBadGateway, gin.H{"error": "Embedding service unavailable."})
		case errors.Is(err, pipeline.ErrUpsertFailed):
			log.Errorf("[DocumentHandler] 向量写入失败: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{
				"error":            "Vector store upsert failed.",
				"chunks_persisted": added,
			})
		case errors.Is(err, context.Canceled):
			// 客户端断开，直接终止
			c.Abort()
		default:
			log.Error("Upload: ingestion failed", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error."})
		}
		return
	}

	c.JSON(http.StatusOK, model.UploadResponse{
		Message:     "File processed successfully",
		ChunksAdded: added,
		FileName:    fileName,
	})
}

// Clear 清空向量库中的全部向量。不可逆，由更严格的限流桶保护。
func (h *DocumentHandler) Clear(c *gin.Context) {
	if err := h.store.DeleteAll(c.Request.Context()); err != nil {
		log.Error("Clear: failed to delete all vectors", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to clear database."})
		return
	}
	log.Infof("[DocumentHandler] 向量库已清空, clientIP: %s", c.ClientIP())
	c.JSON(http.StatusOK, gin.H{"message": "Database cleared"})
}
