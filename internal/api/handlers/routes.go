package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

type Routes struct {
	Chat      *ChatHandler
	WebSocket *WebSocketHandler
	Chats     *ChatsHandler
	Research  *ResearchHandler
	Usage     *UsageHandler
	History   *HistoryHandler
	Health    *HealthHandler
	// ChatMiddleware guards the streaming endpoints only.
	ChatMiddleware []fiber.Handler
}

func Register(app fiber.Router, r Routes) {
	api := app.Group("/api/v1")

	chatChain := append(append([]fiber.Handler{}, r.ChatMiddleware...), r.Chat.HandleChat)
	api.Post("/chat", chatChain...)
	if r.WebSocket != nil {
		wsChain := append(append([]fiber.Handler{}, r.ChatMiddleware...), r.WebSocket.Upgrade, websocket.New(r.WebSocket.HandleConnection))
		api.Get("/chat/ws", wsChain...)
	}

	api.Get("/chats", r.Chats.ListChats)
	api.Delete("/chats", r.Chats.ClearChats)
	api.Get("/chats/:chatId", r.Chats.GetChat)
	api.Delete("/chats/:chatId", r.Chats.DeleteChat)

	api.Get("/chats/:chatId/research", r.Research.GetResearch)
	api.Put("/chats/:chatId/research", r.Research.UpdateResearch)
	api.Get("/chats/:chatId/research/ranked", r.Research.GetRankedSources)

	api.Get("/usage", r.Usage.GetUsage)
	api.Post("/usage", r.Usage.RecordUsage)

	api.Get("/history", r.History.GetHistory)

	api.Get("/health", r.Health.Health)
	api.Get("/ready", r.Health.Ready)
}
