// Package model 定义了服务内部与 API 层共用的数据结构。
package model

// VectorDocument 代表存储在 Elasticsearch 向量索引中的一条分块记录。
type VectorDocument struct {
	VectorID     string    `json:"vector_id"` // 唯一标识：hex(md5(filename‖content)) + "_" + chunkIndex
	FileName     string    `json:"filename"`
	ChunkIndex   int       `json:"chunk_index"`
	TextContent  string    `json:"text_content"` // 分块文本，按 metadata_text_limit 截断后存储
	Vector       []float32 `json:"vector"`       // 文本内容的向量表示
	ModelVersion string    `json:"model_version"`
}

// QueryMatch 是一次相似度检索返回的单条命中结果。
type QueryMatch struct {
	VectorID    string
	FileName    string
	ChunkIndex  int
	TextContent string
	Score       float64 // 相似度得分，越高越相近
}

// Source 描述答案引用的一个来源分块。
type Source struct {
	FileName   string  `json:"filename"`
	Score      float64 `json:"score"`
	ChunkIndex int     `json:"chunk_index"`
}

// QueryRequest 定义了 /query 接口的请求体结构。
type QueryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

// QueryResponse 定义了 /query 接口的响应体结构。
type QueryResponse struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// UploadResponse 定义了 /upload 接口的成功响应体结构。
type UploadResponse struct {
	Message     string `json:"message"`
	ChunksAdded int    `json:"chunks_added"`
	FileName    string `json:"filename"`
}
