package pipeline

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"unicode/utf8"

	"rag-api-go/internal/config"
	"rag-api-go/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExtractor 返回固定文本，替代 Tika 客户端。
type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) ExtractText(_ context.Context, _ io.Reader, _ string) (string, error) {
	return f.text, f.err
}

// fakeEmbedder 按调用序号决定成败（分块按顺序向量化）。
type fakeEmbedder struct {
	failCalls map[int]bool // 1-based 调用序号
	calls     int
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.failCalls[f.calls] {
		return nil, errors.New("embedding api returned non-200 status")
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

// fakeStore 记录写入的文档，前 failures 次 BulkUpsert 调用返回错误；
// failAfterFirst 则让第一次之后的所有调用失败。
type fakeStore struct {
	upserted       []model.VectorDocument
	failures       int
	failAfterFirst bool
	calls          int
}

func (f *fakeStore) BulkUpsert(_ context.Context, docs []model.VectorDocument) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("bulk request failed")
	}
	if f.failAfterFirst && f.calls > 1 {
		return errors.New("bulk request failed")
	}
	f.upserted = append(f.upserted, docs...)
	return nil
}

func (f *fakeStore) Query(_ context.Context, _ []float32, _ int) ([]model.QueryMatch, error) {
	return nil, nil
}
func (f *fakeStore) DeleteAll(_ context.Context) error { return nil }
func (f *fakeStore) Count(_ context.Context) (int64, error) {
	return int64(len(f.upserted)), nil
}

func testIngestCfg() config.IngestConfig {
	return config.IngestConfig{
		ChunkSize:         10,
		ChunkOverlap:      2,
		MaxChunks:         100,
		BatchSize:         25,
		MetadataTextLimit: 1000,
		Retry:             config.RetryConfig{MaxAttempts: 3, BaseDelayMS: 1, BackoffMultiplier: 2},
	}
}

func testEmbeddingCfg() config.EmbeddingConfig {
	return config.EmbeddingConfig{Model: "test-embedding-model", TimeoutSeconds: 5}
}

// fiveChunkText 在 chunkSize=10, overlap=2 下恰好产生 5 个分块。
func fiveChunkText() string {
	return strings.Repeat("abcdefgh", 5)
}

func newTestProcessor(extractor *fakeExtractor, embedder *fakeEmbedder, store *fakeStore, cfg config.IngestConfig) *Processor {
	return NewProcessor(extractor, embedder, store, cfg, testEmbeddingCfg())
}

func TestProcess_HappyPath(t *testing.T) {
	extractor := &fakeExtractor{text: fiveChunkText()}
	embedder := &fakeEmbedder{}
	store := &fakeStore{}
	p := newTestProcessor(extractor, embedder, store, testIngestCfg())

	added, err := p.Process(context.Background(), "doc.txt", []byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, 5, added)
	assert.Len(t, store.upserted, 5)

	for i, doc := range store.upserted {
		assert.Equal(t, "doc.txt", doc.FileName)
		assert.Equal(t, i, doc.ChunkIndex)
		assert.Equal(t, "test-embedding-model", doc.ModelVersion)
		assert.NotEmpty(t, doc.VectorID)
	}
}

func TestProcess_PartialEmbeddingFailure(t *testing.T) {
	// 5 个分块中第 3 个向量化失败：跳过该分块，其余 4 个照常持久化
	extractor := &fakeExtractor{text: fiveChunkText()}
	embedder := &fakeEmbedder{failCalls: map[int]bool{3: true}}
	store := &fakeStore{}
	p := newTestProcessor(extractor, embedder, store, testIngestCfg())

	added, err := p.Process(context.Background(), "doc.txt", []byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, 4, added)
	assert.Len(t, store.upserted, 4)

	// 被跳过的是 chunk_index=2
	for _, doc := range store.upserted {
		assert.NotEqual(t, 2, doc.ChunkIndex)
	}
}

func TestProcess_AllEmbeddingsFail(t *testing.T) {
	extractor := &fakeExtractor{text: fiveChunkText()}
	embedder := &fakeEmbedder{failCalls: map[int]bool{1: true, 2: true, 3: true, 4: true, 5: true}}
	store := &fakeStore{}
	p := newTestProcessor(extractor, embedder, store, testIngestCfg())

	added, err := p.Process(context.Background(), "doc.txt", []byte("raw"))
	require.ErrorIs(t, err, ErrNoEmbeddable)
	assert.Equal(t, 0, added)
	assert.Empty(t, store.upserted)
}

func TestProcess_EmptyContent(t *testing.T) {
	extractor := &fakeExtractor{text: "   \n\t "}
	p := newTestProcessor(extractor, &fakeEmbedder{}, &fakeStore{}, testIngestCfg())

	_, err := p.Process(context.Background(), "doc.txt", []byte("raw"))
	require.ErrorIs(t, err, ErrEmptyContent)
}

func TestProcess_BatchRetrySucceedsOnThirdAttempt(t *testing.T) {
	extractor := &fakeExtractor{text: fiveChunkText()}
	embedder := &fakeEmbedder{}
	store := &fakeStore{failures: 2} // 前两次失败，第三次成功
	p := newTestProcessor(extractor, embedder, store, testIngestCfg())

	added, err := p.Process(context.Background(), "doc.txt", []byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, 5, added)
	assert.Equal(t, 3, store.calls)

	// 成功后没有重复记录
	seen := make(map[string]bool)
	for _, doc := range store.upserted {
		assert.False(t, seen[doc.VectorID], "duplicate vector id %s", doc.VectorID)
		seen[doc.VectorID] = true
	}
	assert.Len(t, seen, 5)
}

func TestProcess_BatchRetryExhausted(t *testing.T) {
	cfg := testIngestCfg()
	cfg.Retry.MaxAttempts = 2
	extractor := &fakeExtractor{text: fiveChunkText()}
	store := &fakeStore{failures: 10}
	p := newTestProcessor(extractor, &fakeEmbedder{}, store, cfg)

	added, err := p.Process(context.Background(), "doc.txt", []byte("raw"))
	require.ErrorIs(t, err, ErrUpsertFailed)
	assert.Equal(t, 0, added)
	assert.Equal(t, 2, store.calls)
}

func TestProcess_EarlierBatchesNotRolledBack(t *testing.T) {
	// batchSize=2 → 3 个批次；第一个批次成功后第二个批次一直失败
	cfg := testIngestCfg()
	cfg.BatchSize = 2
	cfg.Retry.MaxAttempts = 2
	extractor := &fakeExtractor{text: fiveChunkText()}
	store := &fakeStore{}
	p := newTestProcessor(extractor, &fakeEmbedder{}, store, cfg)

	// 第一批写入成功后让后续批次失败
	added, err := p.Process(context.Background(), "doc.txt", []byte("raw"))
	require.NoError(t, err)
	require.Equal(t, 5, added)

	store2 := &fakeStore{failAfterFirst: true}
	p2 := newTestProcessor(&fakeExtractor{text: fiveChunkText()}, &fakeEmbedder{}, store2, cfg)
	added2, err2 := p2.Process(context.Background(), "doc.txt", []byte("raw"))
	require.ErrorIs(t, err2, ErrUpsertFailed)
	assert.Equal(t, 2, added2)
	assert.Len(t, store2.upserted, 2) // 第一批不回滚
}

func TestProcess_DeterministicVectorIDs(t *testing.T) {
	cfg := testIngestCfg()
	run := func() []string {
		store := &fakeStore{}
		p := newTestProcessor(&fakeExtractor{text: fiveChunkText()}, &fakeEmbedder{}, store, cfg)
		_, err := p.Process(context.Background(), "doc.txt", []byte("same content"))
		require.NoError(t, err)
		ids := make([]string, 0, len(store.upserted))
		for _, doc := range store.upserted {
			ids = append(ids, doc.VectorID)
		}
		return ids
	}
	assert.Equal(t, run(), run())

	// 同名不同内容的重复上传必须得到不同的向量 ID
	storeA := &fakeStore{}
	pA := newTestProcessor(&fakeExtractor{text: fiveChunkText()}, &fakeEmbedder{}, storeA, cfg)
	_, err := pA.Process(context.Background(), "doc.txt", []byte("other content"))
	require.NoError(t, err)
	assert.NotEqual(t, run()[0], storeA.upserted[0].VectorID)
}

func TestProcess_MetadataTextTruncated(t *testing.T) {
	cfg := testIngestCfg()
	cfg.MetadataTextLimit = 4
	store := &fakeStore{}
	p := newTestProcessor(&fakeExtractor{text: fiveChunkText()}, &fakeEmbedder{}, store, cfg)

	_, err := p.Process(context.Background(), "doc.txt", []byte("raw"))
	require.NoError(t, err)
	for _, doc := range store.upserted {
		assert.LessOrEqual(t, utf8.RuneCountInString(doc.TextContent), 4)
	}
}
