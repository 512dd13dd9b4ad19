// Package pipeline 定义了文档摄取的核心流程。
package pipeline

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"rag-api-go/internal/chunker"
	"rag-api-go/internal/config"
	"rag-api-go/internal/model"
	"rag-api-go/pkg/embedding"
	"rag-api-go/pkg/es"
	"rag-api-go/pkg/log"
	"rag-api-go/pkg/retry"
	"rag-api-go/pkg/tika"
	"strings"
	"unicode/utf8"
)

var (
	// ErrEmptyContent 表示文件提取出的文本为空白。
	ErrEmptyContent = errors.New("提取的文本内容为空")
	// ErrNoChunks 表示分块后没有任何有效分块。
	ErrNoChunks = errors.New("未生成任何文本分块")
	// ErrNoEmbeddable 表示所有分块的向量化调用均失败。
	ErrNoEmbeddable = errors.New("所有分块向量化均失败")
	// ErrUpsertFailed 表示某个批次在重试耗尽后仍未写入向量库。
	ErrUpsertFailed = errors.New("向量批量写入失败")
)

// Processor 封装了文档摄取的所有依赖和逻辑。
type Processor struct {
	extractor       tika.Extractor
	embeddingClient embedding.Client
	store           es.Store
	ingestCfg       config.IngestConfig
	embeddingCfg    config.EmbeddingConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	extractor tika.Extractor,
	embeddingClient embedding.Client,
	store es.Store,
	ingestCfg config.IngestConfig,
	embeddingCfg config.EmbeddingConfig,
) *Processor {
	return &Processor{
		extractor:       extractor,
		embeddingClient: embeddingClient,
		store:           store,
		ingestCfg:       ingestCfg,
		embeddingCfg:    embeddingCfg,
	}
}

// Process 是文档摄取的主函数：提取文本 → 分块 → 逐块向量化（容忍部分失败）→
// 分批带重试写入向量库。返回成功持久化的向量数。
func (p *Processor) Process(ctx context.Context, fileName string, data []byte) (int, error) {
	log.Infof("[Processor] 开始处理文件, FileName: %s, Size: %d字节", fileName, len(data))

	// 1. 提取文本
	textContent, err := p.extractor.ExtractText(ctx, bytes.NewReader(data), fileName)
	if err != nil {
		log.Errorf("[Processor] 提取文本失败, FileName: %s, Error: %v", fileName, err)
		return 0, fmt.Errorf("提取文本失败: %w", err)
	}
	if strings.TrimSpace(textContent) == "" {
		log.Warnf("[Processor] 提取的文本内容为空, 处理中止, FileName: %s", fileName)
		return 0, ErrEmptyContent
	}
	log.Infof("[Processor] 步骤1: 文本提取成功, 内容长度: %d 字符", utf8.RuneCountInString(textContent))

	// 2. 文本切块
	chunks := chunker.Split(textContent, p.ingestCfg.ChunkSize, p.ingestCfg.ChunkOverlap, p.ingestCfg.MaxChunks)
	log.Infof("[Processor] 步骤2: 文本分块完成, chunkSize: %d, overlap: %d, 共生成 %d 个分块",
		p.ingestCfg.ChunkSize, p.ingestCfg.ChunkOverlap, len(chunks))
	if len(chunks) == 0 {
		log.Warnf("[Processor] 未生成任何文本分块, 处理中止, FileName: %s", fileName)
		return 0, ErrNoChunks
	}

	// 3. 逐块向量化，单块失败跳过，不中止整个文档
	fingerprint := contentFingerprint(fileName, data)
	docs := make([]model.VectorDocument, 0, len(chunks))
	for i, chunk := range chunks {
		vector, err := p.embedWithTimeout(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				// 请求级取消/超时：中止而非继续空转
				return 0, ctx.Err()
			}
			log.Warnf("[Processor] 分块 %d 向量化失败, 跳过该分块, Error: %v", i, err)
			continue
		}
		docs = append(docs, model.VectorDocument{
			VectorID:     fmt.Sprintf("%s_%d", fingerprint, i),
			FileName:     fileName,
			ChunkIndex:   i,
			TextContent:  truncateRunes(chunk, p.ingestCfg.MetadataTextLimit),
			Vector:       vector,
			ModelVersion: p.embeddingCfg.Model,
		})
	}
	if len(docs) == 0 {
		log.Errorf("[Processor] 所有分块向量化均失败, FileName: %s", fileName)
		return 0, ErrNoEmbeddable
	}
	log.Infof("[Processor] 步骤3: 向量化完成, 成功 %d/%d 个分块", len(docs), len(chunks))

	// 4. 分批带重试写入向量库；某批次重试耗尽即中止，已写入批次不回滚
	batchSize := p.ingestCfg.BatchSize
	if batchSize <= 0 {
		batchSize = 25
	}
	policy := retry.Policy{
		MaxAttempts: p.ingestCfg.Retry.MaxAttempts,
		BaseDelay:   p.ingestCfg.Retry.BaseDelay(),
		Multiplier:  p.ingestCfg.Retry.BackoffMultiplier,
	}

	persisted := 0
	for start := 0; start < len(docs); start += batchSize {
		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}
		batch := docs[start:end]
		err := retry.Do(ctx, policy, func() error {
			return p.store.BulkUpsert(ctx, batch)
		})
		if err != nil {
			log.Errorf("[Processor] 批次写入失败 (offset=%d), 已持久化 %d 个, 未持久化 %d 个, Error: %v",
				start, persisted, len(docs)-persisted, err)
			return persisted, fmt.Errorf("%w: 已持久化 %d 个向量, 未持久化 %d 个: %v",
				ErrUpsertFailed, persisted, len(docs)-persisted, err)
		}
		persisted += len(batch)
	}

	log.Infof("[Processor] 文件处理成功完成, FileName: %s, 持久化向量数: %d", fileName, persisted)
	return persisted, nil
}

// embedWithTimeout 以独立的单次调用超时执行向量化。
func (p *Processor) embedWithTimeout(ctx context.Context, text string) ([]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.embeddingCfg.Timeout())
	defer cancel()
	return p.embeddingClient.CreateEmbedding(callCtx, text)
}

// contentFingerprint 由文件名与完整内容计算确定性指纹。
// 相同文件名不同内容的重复上传会得到不同的向量 ID，避免静默覆盖。
func contentFingerprint(fileName string, data []byte) string {
	h := md5.New()
	h.Write([]byte(fileName))
	h.Write([]byte{0})
	h.Write(data)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// truncateRunes 将存储用的文本元数据截断到 limit 个 rune（与分块大小无关）。
func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
