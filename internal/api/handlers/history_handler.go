package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/pkg/logger"
)

type HistoryReader interface {
	GetTurnHistory(ctx context.Context, userID string, limit int) ([]models.TurnRecord, error)
}

type HistoryHandler struct {
	history HistoryReader
}

// NewHistoryHandler accepts a nil reader when turn history is disabled.
func NewHistoryHandler(history HistoryReader) *HistoryHandler {
	return &HistoryHandler{
		history: history,
	}
}

func (h *HistoryHandler) GetHistory(c *fiber.Ctx) error {
	if h.history == nil {
		return errorResponse(c, fiber.StatusServiceUnavailable, "Turn history is disabled")
	}

	user := userID(c)
	records, err := h.history.GetTurnHistory(c.Context(), user, c.QueryInt("limit", 50))
	if err != nil {
		logger.Error("Failed to get turn history", zap.String("user_id", user), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to get turn history")
	}

	return c.JSON(fiber.Map{
		"history": records,
	})
}
