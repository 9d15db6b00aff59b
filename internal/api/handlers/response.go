package handlers

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/research-agent/backend/internal/chat"
	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/orchestrator"
)

func errorResponse(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":  msg,
		"status": status,
	})
}

// userID prefers the authenticated header over the query string.
func userID(c *fiber.Ctx) string {
	if id := c.Get("X-User-ID"); id != "" {
		return id
	}
	if id := c.Query("user_id"); id != "" {
		return id
	}
	return chat.AnonymousUser
}

// modelFromCookie accepts either a bare "provider:model" id or the JSON
// model object the web client stores.
func modelFromCookie(raw string) string {
	if raw == "" {
		return ""
	}
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "{") {
		return raw
	}
	var m struct {
		ID         string `json:"id"`
		ProviderID string `json:"providerId"`
	}
	if err := json.Unmarshal([]byte(raw), &m); err != nil || m.ID == "" {
		return ""
	}
	if m.ProviderID == "" || strings.Contains(m.ID, ":") {
		return m.ID
	}
	return m.ProviderID + ":" + m.ID
}

// prepareStatus maps errors raised before streaming starts.
func prepareStatus(err error) (int, string) {
	switch {
	case errors.Is(err, llm.ErrProviderDisabled), errors.Is(err, llm.ErrUnknownProvider):
		return fiber.StatusNotFound, "Selected provider is not enabled"
	case errors.Is(err, llm.ErrInvalidModelID):
		return fiber.StatusBadRequest, "Invalid model id"
	case errors.Is(err, orchestrator.ErrNoMessages):
		return fiber.StatusBadRequest, "messages are required"
	default:
		return fiber.StatusInternalServerError, "Failed to start chat"
	}
}
