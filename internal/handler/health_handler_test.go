package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func performHealth(store *fakeClearStore) *httptest.ResponseRecorder {
	h := NewHealthHandler(store)
	r := gin.New()
	r.GET("/health", h.Health)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHealth_Healthy(t *testing.T) {
	rec := performHealth(&fakeClearStore{count: 42})

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
	assert.Equal(t, float64(42), resp["total_vectors"])
}

func TestHealth_Degraded(t *testing.T) {
	rec := performHealth(&fakeClearStore{countErr: errors.New("connection refused")})

	// 依赖不可用时降级为 200 + status=error，而不是 5xx
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "error", resp["status"])
	assert.Contains(t, resp["message"], "connection refused")
}
