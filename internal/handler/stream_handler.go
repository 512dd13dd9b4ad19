package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"rag-api-go/internal/model"
	"rag-api-go/internal/service"
	"rag-api-go/pkg/log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // 允许所有来源
	},
}

// StreamHandler 负责处理 WebSocket 流式问答连接。
type StreamHandler struct {
	queryService service.QueryService
}

// NewStreamHandler 创建一个新的 StreamHandler。
func NewStreamHandler(queryService service.QueryService) *StreamHandler {
	return &StreamHandler{queryService: queryService}
}

// Handle 处理一个传入的 WebSocket 连接。每条入站消息是一个 JSON 问答请求，
// 答案以 {"chunk":"..."} 分块下发，结束后发送带来源列表的完成通知。
func (h *StreamHandler) Handle(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error("WebSocket 升级失败", err)
		return
	}
	defer conn.Close()

	log.Infof("WebSocket 连接已建立, clientIP: %s", c.ClientIP())

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warnf("从 WebSocket 读取消息失败: %v", err)
			break
		}

		var req model.QueryRequest
		if err := json.Unmarshal(message, &req); err != nil {
			sendError(conn, "Invalid request payload.")
			continue
		}
		if req.TopK == 0 {
			req.TopK = 3
		}

		writer := &chunkWriter{conn: conn}
		sources, err := h.queryService.StreamAnswer(c.Request.Context(), req.Question, req.TopK, writer)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrEmptyQuestion):
				sendError(conn, "Question must not be empty.")
			case errors.Is(err, service.ErrInvalidTopK):
				sendError(conn, "top_k must be between 1 and 10.")
			default:
				log.Errorf("处理流式响应失败: %v", err)
				sendError(conn, "AI service unavailable, please retry later.")
			}
			continue
		}

		sendCompletion(conn, sources)
	}
}

// chunkWriter 将原始分块包装成 {"chunk":"..."} 后写入 WebSocket。
type chunkWriter struct {
	conn *websocket.Conn
}

// WriteMessage 满足 llm.MessageWriter 接口。
func (w *chunkWriter) WriteMessage(messageType int, data []byte) error {
	payload := map[string]string{"chunk": string(data)}
	b, _ := json.Marshal(payload)
	return w.conn.WriteMessage(messageType, b)
}

func sendError(conn *websocket.Conn, msg string) {
	b, _ := json.Marshal(map[string]string{"error": msg})
	_ = conn.WriteMessage(websocket.TextMessage, b)
}

// sendCompletion 发送携带来源列表的完成通知 JSON。
func sendCompletion(conn *websocket.Conn, sources []model.Source) {
	notif := map[string]interface{}{
		"type":      "completion",
		"status":    "finished",
		"sources":   sources,
		"timestamp": time.Now().UnixMilli(),
	}
	b, _ := json.Marshal(notif)
	_ = conn.WriteMessage(websocket.TextMessage, b)
}
