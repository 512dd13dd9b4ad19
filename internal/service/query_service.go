// Package service 提供了问答检索相关的业务逻辑。
package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"rag-api-go/internal/config"
	"rag-api-go/internal/model"
	"rag-api-go/pkg/embedding"
	"rag-api-go/pkg/es"
	"rag-api-go/pkg/llm"
	"rag-api-go/pkg/log"
	"strings"

	"github.com/gorilla/websocket"
)

const (
	// TopK 的合法取值范围
	MinTopK = 1
	MaxTopK = 10

	defaultRules = "Answer based ONLY on the context below.\nIf the answer is not found, say so clearly."
	// 零命中时的固定答案，不调用生成模型
	defaultNoResultText = "No relevant information found."
)

var (
	// ErrEmptyQuestion 表示问题为空白。
	ErrEmptyQuestion = errors.New("问题不能为空")
	// ErrInvalidTopK 表示 topK 超出 [1, 10] 范围。
	ErrInvalidTopK = errors.New("top_k 超出合法范围")
)

// QueryService 接口定义了问答操作。
type QueryService interface {
	Answer(ctx context.Context, question string, topK int) (model.QueryResponse, error)
	StreamAnswer(ctx context.Context, question string, topK int, writer llm.MessageWriter) ([]model.Source, error)
}

type queryService struct {
	embeddingClient embedding.Client
	store           es.Store
	llmClient       llm.Client
	embeddingCfg    config.EmbeddingConfig
	llmCfg          config.LLMConfig
}

// NewQueryService 创建一个新的 QueryService 实例。
func NewQueryService(
	embeddingClient embedding.Client,
	store es.Store,
	llmClient llm.Client,
	embeddingCfg config.EmbeddingConfig,
	llmCfg config.LLMConfig,
) QueryService {
	return &queryService{
		embeddingClient: embeddingClient,
		store:           store,
		llmClient:       llmClient,
		embeddingCfg:    embeddingCfg,
		llmCfg:          llmCfg,
	}
}

// Answer 执行完整的问答流程：向量化问题 → 相似度检索 → 构建上下文 → 调用生成模型。
func (s *queryService) Answer(ctx context.Context, question string, topK int) (model.QueryResponse, error) {
	matches, err := s.retrieve(ctx, question, topK)
	if err != nil {
		return model.QueryResponse{}, err
	}
	if len(matches) == 0 {
		log.Infof("[QueryService] 检索无命中, 返回固定答案, question: '%s'", question)
		return model.QueryResponse{
			Answer:  s.noResultText(),
			Sources: []model.Source{},
		}, nil
	}

	// 调用生成模型；查询路径无兜底，失败即请求失败，不重试
	prompt := s.buildPrompt(question, matches)
	genCtx, cancel := context.WithTimeout(ctx, s.llmCfg.Timeout())
	defer cancel()
	answer, err := s.llmClient.Generate(genCtx, prompt)
	if err != nil {
		log.Errorf("[QueryService] 调用生成模型失败: %v", err)
		return model.QueryResponse{}, fmt.Errorf("failed to generate answer: %w", err)
	}

	return model.QueryResponse{
		Answer:  answer,
		Sources: buildSources(matches),
	}, nil
}

// StreamAnswer 与 Answer 相同的检索流程，但以流式分块写出答案。
// 返回答案引用的来源列表，供调用方在完成帧中下发。
func (s *queryService) StreamAnswer(ctx context.Context, question string, topK int, writer llm.MessageWriter) ([]model.Source, error) {
	matches, err := s.retrieve(ctx, question, topK)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		if err := writer.WriteMessage(websocket.TextMessage, []byte(s.noResultText())); err != nil {
			return nil, err
		}
		return []model.Source{}, nil
	}

	prompt := s.buildPrompt(question, matches)
	genCtx, cancel := context.WithTimeout(ctx, s.llmCfg.Timeout())
	defer cancel()
	if err := s.llmClient.StreamChat(genCtx, prompt, writer); err != nil {
		log.Errorf("[QueryService] 流式生成失败: %v", err)
		return nil, fmt.Errorf("failed to stream answer: %w", err)
	}
	return buildSources(matches), nil
}

// retrieve 校验输入并执行 向量化问题 → 相似度检索。
// 校验失败在任何外部调用之前返回。
func (s *queryService) retrieve(ctx context.Context, question string, topK int) ([]model.QueryMatch, error) {
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}
	if topK < MinTopK || topK > MaxTopK {
		return nil, fmt.Errorf("%w: top_k=%d, 要求 [%d, %d]", ErrInvalidTopK, topK, MinTopK, MaxTopK)
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.embeddingCfg.Timeout())
	defer cancel()
	queryVector, err := s.embeddingClient.CreateEmbedding(embedCtx, question)
	if err != nil {
		log.Errorf("[QueryService] 向量化问题失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}

	matches, err := s.store.Query(ctx, queryVector, topK)
	if err != nil {
		log.Errorf("[QueryService] 相似度检索失败: %v", err)
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	log.Infof("[QueryService] 检索完成, question: '%s', topK: %d, 命中 %d 条", question, topK, len(matches))
	return matches, nil
}

// buildPrompt 以固定指令模板组装上下文与问题。
// 上下文按检索返回顺序以空行分隔拼接。
func (s *queryService) buildPrompt(question string, matches []model.QueryMatch) string {
	rules := s.llmCfg.Prompt.Rules
	if rules == "" {
		rules = defaultRules
	}

	texts := make([]string, 0, len(matches))
	for _, m := range matches {
		texts = append(texts, m.TextContent)
	}
	contextBlock := strings.Join(texts, "\n\n")

	var sb strings.Builder
	sb.WriteString(rules)
	sb.WriteString("\n\nContext:\n")
	sb.WriteString(contextBlock)
	sb.WriteString("\n\nQuestion:\n")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:\n")
	return sb.String()
}

func (s *queryService) noResultText() string {
	if s.llmCfg.Prompt.NoResultText != "" {
		return s.llmCfg.Prompt.NoResultText
	}
	return defaultNoResultText
}

// buildSources 按命中顺序组装来源列表，得分保留 4 位小数。
func buildSources(matches []model.QueryMatch) []model.Source {
	sources := make([]model.Source, 0, len(matches))
	for _, m := range matches {
		sources = append(sources, model.Source{
			FileName:   m.FileName,
			Score:      math.Round(m.Score*10000) / 10000,
			ChunkIndex: m.ChunkIndex,
		})
	}
	return sources
}
