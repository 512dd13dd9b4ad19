// Package es 提供了基于 Elasticsearch 的向量存储实现。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"rag-api-go/internal/config"
	"rag-api-go/internal/model"
	"rag-api-go/pkg/log"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// Store 定义了向量存储的操作集合：批量写入、相似度检索、清空与统计。
// 实现必须对并发调用安全。
type Store interface {
	BulkUpsert(ctx context.Context, docs []model.VectorDocument) error
	Query(ctx context.Context, vector []float32, topK int) ([]model.QueryMatch, error)
	DeleteAll(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
}

type elasticStore struct {
	client    *elasticsearch.Client
	indexName string
}

// NewStore 初始化 Elasticsearch 客户端并确保向量索引存在。
func NewStore(esCfg config.ElasticsearchConfig, dims int) (Store, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	s := &elasticStore{client: client, indexName: esCfg.IndexName}
	if err := s.createIndexIfNotExists(dims); err != nil {
		return nil, err
	}
	return s, nil
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则按向量维度创建它。
func (s *elasticStore) createIndexIfNotExists(dims int) error {
	res, err := s.client.Indices.Exists([]string{s.indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	// 如果 res.StatusCode 是 200，说明索引已存在
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", s.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		log.Errorf("检查索引 '%s' 是否存在时收到意外的状态码: %d", s.indexName, res.StatusCode)
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	// dense_vector 维度与 Embedding 模型配置保持一致，cosine 相似度
	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id": { "type": "keyword" },
				"filename": { "type": "keyword" },
				"chunk_index": { "type": "integer" },
				"text_content": { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" }
			}
		}
	}`, dims)

	res, err = s.client.Indices.Create(
		s.indexName,
		s.client.Indices.Create.WithBody(strings.NewReader(mapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", s.indexName, err)
		return err
	}
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", s.indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", s.indexName)
	return nil
}

// BulkUpsert 将一批向量记录通过 _bulk 接口写入索引。
// 以 vector_id 为文档 ID，重复写入为按 ID 覆盖（last-write-wins）。
func (s *elasticStore) BulkUpsert(ctx context.Context, docs []model.VectorDocument) error {
	if len(docs) == 0 {
		return nil
	}

	body, err := buildBulkBody(s.indexName, docs)
	if err != nil {
		return err
	}

	req := esapi.BulkRequest{
		Body:    bytes.NewReader(body),
		Refresh: "true",
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("bulk 请求失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("批量索引到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to bulk index documents")
	}

	// _bulk 整体 200 时仍可能存在单条失败，需要检查 errors 标志
	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("解析 bulk 响应失败: %w", err)
	}
	if bulkResp.Errors {
		for _, item := range bulkResp.Items {
			for _, r := range item {
				if r.Status >= 300 {
					log.Errorf("bulk 单条写入失败, status: %d, type: %s, reason: %s", r.Status, r.Error.Type, r.Error.Reason)
				}
			}
		}
		return errors.New("bulk response reported item-level failures")
	}
	return nil
}

// buildBulkBody 构造 _bulk 的 NDJSON 请求体。
func buildBulkBody(indexName string, docs []model.VectorDocument) ([]byte, error) {
	var buf bytes.Buffer
	for _, doc := range docs {
		meta := map[string]map[string]string{
			"index": {"_index": indexName, "_id": doc.VectorID},
		}
		metaBytes, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		docBytes, err := json.Marshal(doc)
		if err != nil {
			return nil, err
		}
		buf.Write(metaBytes)
		buf.WriteByte('\n')
		buf.Write(docBytes)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Query 以 kNN 方式检索与给定向量最相近的 topK 条记录，按相似度降序返回。
func (s *elasticStore) Query(ctx context.Context, vector []float32, topK int) ([]model.QueryMatch, error) {
	var buf bytes.Buffer
	esQuery := map[string]interface{}{
		"knn": map[string]interface{}{
			"field":          "vector",
			"query_vector":   vector,
			"k":              topK,
			"num_candidates": topK * 10,
		},
		"size": topK,
	}
	if err := json.NewEncoder(&buf).Encode(esQuery); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.indexName),
		s.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("Elasticsearch 检索返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.VectorDocument `json:"_source"`
				Score  float64              `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	matches := make([]model.QueryMatch, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		matches = append(matches, model.QueryMatch{
			VectorID:    hit.Source.VectorID,
			FileName:    hit.Source.FileName,
			ChunkIndex:  hit.Source.ChunkIndex,
			TextContent: hit.Source.TextContent,
			Score:       hit.Score,
		})
	}
	return matches, nil
}

// DeleteAll 通过 delete_by_query match_all 清空索引中的全部向量。不可逆。
func (s *elasticStore) DeleteAll(ctx context.Context) error {
	body := strings.NewReader(`{"query":{"match_all":{}}}`)
	res, err := s.client.DeleteByQuery(
		[]string{s.indexName},
		body,
		s.client.DeleteByQuery.WithContext(ctx),
		s.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("delete_by_query 请求失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("清空索引 '%s' 时 Elasticsearch 返回错误: %s", s.indexName, res.String())
		return errors.New("failed to clear index")
	}
	log.Infof("索引 '%s' 已清空", s.indexName)
	return nil
}

// Count 返回索引中的向量总数。
func (s *elasticStore) Count(ctx context.Context) (int64, error) {
	res, err := s.client.Count(
		s.client.Count.WithContext(ctx),
		s.client.Count.WithIndex(s.indexName),
	)
	if err != nil {
		return 0, fmt.Errorf("count 请求失败: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, fmt.Errorf("elasticsearch count returned an error: %s", res.Status())
	}

	var countResp struct {
		Count int64 `json:"count"`
	}
	if err := json.NewDecoder(res.Body).Decode(&countResp); err != nil {
		return 0, fmt.Errorf("解析 count 响应失败: %w", err)
	}
	return countResp.Count, nil
}
