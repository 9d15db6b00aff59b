package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/usage"
	"github.com/research-agent/backend/pkg/logger"
)

type UsageHandler struct {
	tracker *usage.Tracker
}

func NewUsageHandler(tracker *usage.Tracker) *UsageHandler {
	return &UsageHandler{
		tracker: tracker,
	}
}

func (h *UsageHandler) GetUsage(c *fiber.Ctx) error {
	user := userID(c)
	u, err := h.tracker.GetUserUsage(c.Context(), user)
	if err != nil {
		logger.Error("Failed to get usage", zap.String("user_id", user), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to get usage")
	}

	return c.JSON(u)
}

// RecordUsage accepts accounting callbacks from the HTTP usage reporter.
func (h *UsageHandler) RecordUsage(c *fiber.Ctx) error {
	var rec usage.Record
	if err := c.BodyParser(&rec); err != nil {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid request body")
	}
	if rec.UserID == "" {
		rec.UserID = userID(c)
	}

	err := h.tracker.Track(c.Context(), rec)
	if errors.Is(err, usage.ErrMissingField) {
		return errorResponse(c, fiber.StatusBadRequest, "model, chatId and usage are required")
	}
	if err != nil {
		logger.Error("Failed to track usage", zap.String("chat_id", rec.ChatID), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to track usage")
	}

	return c.JSON(fiber.Map{
		"success": true,
	})
}
