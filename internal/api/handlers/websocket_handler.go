package handlers

import (
	"context"
	"strings"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/chat"
	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/middleware/validation"
	"github.com/research-agent/backend/internal/orchestrator"
	"github.com/research-agent/backend/pkg/logger"
)

const localUserID = "ws_user_id"

type WebSocketHandler struct {
	orch   *orchestrator.Orchestrator
	limits validation.Config
}

// NewWebSocketHandler checks every chat message against limits, the same
// rules the HTTP chat endpoint enforces.
func NewWebSocketHandler(orch *orchestrator.Orchestrator, limits validation.Config) *WebSocketHandler {
	return &WebSocketHandler{
		orch:   orch,
		limits: limits,
	}
}

// Upgrade rejects plain HTTP requests and captures the caller identity and
// cookies before the connection is hijacked.
func (h *WebSocketHandler) Upgrade(c *fiber.Ctx) error {
	if strings.Contains(c.Get(fiber.HeaderReferer), "/share/") {
		return errorResponse(c, fiber.StatusForbidden, "Chat API is not available on shared pages")
	}
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	c.Locals(localUserID, userID(c))
	c.Locals(modelCookie, modelFromCookie(c.Cookies(modelCookie)))
	c.Locals(searchCookie, c.Cookies(searchCookie) == "true")
	return c.Next()
}

type wsChatMessage struct {
	Type       string        `json:"type"`
	ID         string        `json:"id"`
	Messages   []llm.Message `json:"messages"`
	Model      string        `json:"model,omitempty"`
	SearchMode *bool         `json:"searchMode,omitempty"`
}

// HandleConnection runs one turn per "chat" message and relays every frame
// as its own text message.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	user, _ := c.Locals(localUserID).(string)
	if user == "" {
		user = chat.AnonymousUser
	}
	model, _ := c.Locals(modelCookie).(string)
	search, _ := c.Locals(searchCookie).(bool)

	for {
		var msg wsChatMessage
		if err := c.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			return
		}

		if msg.Type != "chat" {
			continue
		}

		cr := validation.ChatRequest{ID: msg.ID, Messages: msg.Messages}
		if reason := validation.ValidateChatRequest(&cr, h.limits); reason != "" {
			logger.Warn("Rejected WebSocket chat message", zap.String("reason", reason))
			if err := h.sendError(c, fiber.StatusBadRequest, reason); err != nil {
				return
			}
			continue
		}

		req := orchestrator.Request{
			ChatID:     cr.ID,
			UserID:     user,
			ModelID:    model,
			SearchMode: search,
			Messages:   cr.Messages,
		}
		if msg.Model != "" {
			req.ModelID = msg.Model
		}
		if msg.SearchMode != nil {
			req.SearchMode = *msg.SearchMode
		}

		if err := h.streamTurn(c, req); err != nil {
			logger.Error("Failed to stream turn", zap.String("chat_id", req.ChatID), zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) streamTurn(c *websocket.Conn, req orchestrator.Request) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	turn, err := h.orch.Prepare(ctx, req)
	if err != nil {
		status, msg := prepareStatus(err)
		logger.Warn("Rejected WebSocket turn", zap.Int("status", status), zap.Error(err))
		return h.sendError(c, status, msg)
	}

	return turn.Run(ctx, &frameWriter{conn: c})
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, status int, errorMsg string) error {
	return c.WriteJSON(fiber.Map{
		"type":   "error",
		"error":  errorMsg,
		"status": status,
	})
}

// frameWriter sends each Write as one text message. The encoder writes one
// complete frame per call.
type frameWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *frameWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
