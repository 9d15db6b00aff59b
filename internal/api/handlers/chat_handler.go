package handlers

import (
	"bufio"
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/middleware/validation"
	"github.com/research-agent/backend/internal/orchestrator"
	"github.com/research-agent/backend/pkg/logger"
)

const (
	modelCookie  = "selected-model"
	searchCookie = "search-mode"
)

type ChatHandler struct {
	orch *orchestrator.Orchestrator
}

func NewChatHandler(orch *orchestrator.Orchestrator) *ChatHandler {
	return &ChatHandler{
		orch: orch,
	}
}

// HandleChat streams one turn as framed lines over a chunked response.
func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	if strings.Contains(c.Get(fiber.HeaderReferer), "/share/") {
		return errorResponse(c, fiber.StatusForbidden, "Chat API is not available on shared pages")
	}

	req, ok := c.Locals(validation.LocalChatRequest).(*validation.ChatRequest)
	if !ok {
		req = &validation.ChatRequest{}
		if err := c.BodyParser(req); err != nil {
			logger.Error("Failed to parse request body", zap.Error(err))
			return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
		}
	}

	// The fasthttp request context is recycled once the handler returns, so
	// the turn runs on its own context and is cancelled when writes fail.
	ctx, cancel := context.WithCancel(context.Background())

	turn, err := h.orch.Prepare(ctx, orchestrator.Request{
		ChatID:     req.ID,
		UserID:     userID(c),
		ModelID:    modelFromCookie(c.Cookies(modelCookie)),
		SearchMode: c.Cookies(searchCookie) == "true",
		Messages:   req.Messages,
	})
	if err != nil {
		cancel()
		status, msg := prepareStatus(err)
		logger.Error("Failed to prepare chat turn",
			zap.String("chat_id", req.ID),
			zap.Int("status", status),
			zap.Error(err),
		)
		return errorResponse(c, status, msg)
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
	c.Set("X-Chat-ID", turn.ChatID())

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()
		if err := turn.Run(ctx, w); err != nil {
			logger.Warn("Chat stream ended early",
				zap.String("chat_id", turn.ChatID()),
				zap.Error(err),
			)
		}
	}))

	return nil
}
