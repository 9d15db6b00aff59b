package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/chat"
	"github.com/research-agent/backend/internal/middleware/validation"
	"github.com/research-agent/backend/pkg/logger"
)

type ChatsHandler struct {
	chats *chat.Repository
}

func NewChatsHandler(chats *chat.Repository) *ChatsHandler {
	return &ChatsHandler{
		chats: chats,
	}
}

func (h *ChatsHandler) ListChats(c *fiber.Ctx) error {
	user := userID(c)
	chats, err := h.chats.List(c.Context(), user)
	if err != nil {
		logger.Error("Failed to list chats", zap.String("user_id", user), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to list chats")
	}

	return c.JSON(fiber.Map{
		"chats": chats,
	})
}

func (h *ChatsHandler) GetChat(c *fiber.Ctx) error {
	id := c.Params("chatId")
	if !validation.ValidChatID(id) {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid chat id")
	}

	ch, err := h.chats.Get(c.Context(), id)
	if errors.Is(err, chat.ErrNotFound) {
		return errorResponse(c, fiber.StatusNotFound, "Chat not found")
	}
	if err != nil {
		logger.Error("Failed to get chat", zap.String("chat_id", id), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to get chat")
	}

	return c.JSON(ch)
}

// DeleteChat removes the chat, its index entry and its research state.
func (h *ChatsHandler) DeleteChat(c *fiber.Ctx) error {
	id := c.Params("chatId")
	if !validation.ValidChatID(id) {
		return errorResponse(c, fiber.StatusBadRequest, "Invalid chat id")
	}

	if err := h.chats.Delete(c.Context(), userID(c), id); err != nil {
		logger.Error("Failed to delete chat", zap.String("chat_id", id), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to delete chat")
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatsHandler) ClearChats(c *fiber.Ctx) error {
	user := userID(c)
	n, err := h.chats.ClearAll(c.Context(), user)
	if err != nil {
		logger.Error("Failed to clear chats", zap.String("user_id", user), zap.Error(err))
		return errorResponse(c, fiber.StatusInternalServerError, "Failed to clear chats")
	}

	return c.JSON(fiber.Map{
		"deleted": n,
	})
}
