package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/middleware/validation"
	"github.com/research-agent/backend/internal/research"
	"github.com/research-agent/backend/pkg/logger"
)

type ResearchHandler struct {
	store *research.Store
}

func NewResearchHandler(store *research.Store) *ResearchHandler {
	return &ResearchHandler{
		store: store,
	}
}

func (h *ResearchHandler) GetResearch(c *fiber.Ctx) error {
	id := c.Params("chatId")
	if !validation.ValidChatID(id) {
		return errorResponse(c, fiber.StatusBadRequest, "Chat ID is required")
	}

	s, err := h.store.Load(c.Context(), id)
	if err != nil {
		logger.Error("Failed to load research state", zap.String("chat_id", id), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to load research state")
	}

	return c.JSON(research.NewView(s))
}

// UpdateResearch clears or reactivates the chat's research session.
func (h *ResearchHandler) UpdateResearch(c *fiber.Ctx) error {
	id := c.Params("chatId")
	if !validation.ValidChatID(id) {
		return errorResponse(c, fiber.StatusBadRequest, "Chat ID is required")
	}

	var req struct {
		IsCleared *bool `json:"isCleared"`
	}
	if err := c.BodyParser(&req); err != nil || req.IsCleared == nil {
		return errorResponse(c, fiber.StatusBadRequest, "isCleared is required")
	}

	s, err := h.store.SetCleared(c.Context(), id, *req.IsCleared)
	if err != nil {
		logger.Error("Failed to update research state", zap.String("chat_id", id), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to update research state")
	}

	logger.Info("Research state updated",
		zap.String("chat_id", id),
		zap.Bool("cleared", *req.IsCleared),
	)

	return c.JSON(research.NewView(s))
}

func (h *ResearchHandler) GetRankedSources(c *fiber.Ctx) error {
	id := c.Params("chatId")
	if !validation.ValidChatID(id) {
		return errorResponse(c, fiber.StatusBadRequest, "Chat ID is required")
	}

	s, err := h.store.Load(c.Context(), id)
	if err != nil {
		logger.Error("Failed to load research state", zap.String("chat_id", id), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to load research state")
	}

	return c.JSON(fiber.Map{
		"currentDepth": s.CurrentDepth,
		"maxDepth":     s.MaxDepth,
		"sources":      research.RankSources(s.Sources, s.CurrentDepth, s.MaxDepth),
	})
}
