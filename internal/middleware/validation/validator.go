package validation

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/llm"
)

const LocalChatRequest = "chat_request"

var chatIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

type Config struct {
	MaxMessageLength    int
	MaxMessages         int
	AllowedContentTypes []string
	Logger              *zap.Logger
}

// ChatRequest is the body of a streamed chat turn.
type ChatRequest struct {
	ID       string        `json:"id"`
	Messages []llm.Message `json:"messages"`
}

func ValidChatID(id string) bool {
	return chatIDPattern.MatchString(id)
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxMessageLength == 0 {
		cfg.MaxMessageLength = 100000
	}
	if cfg.MaxMessages == 0 {
		cfg.MaxMessages = 500
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json"}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// ValidateChatRequest checks a chat turn outside the HTTP middleware and
// strips NUL bytes from its messages. It returns the rejection reason, or ""
// when the request is acceptable.
func ValidateChatRequest(req *ChatRequest, cfg Config) string {
	return validateChat(req, cfg.withDefaults())
}

func Middleware(cfg Config) fiber.Handler {
	cfg = cfg.withDefaults()

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get(fiber.HeaderContentType)
			if contentType != "" {
				allowed := false
				for _, allowedType := range cfg.AllowedContentTypes {
					if strings.Contains(contentType, allowedType) {
						allowed = true
						break
					}
				}
				if !allowed {
					return reject(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
				}
			}
		}

		if c.Method() == fiber.MethodPost && strings.HasSuffix(c.Path(), "/chat") {
			var req ChatRequest
			if err := json.Unmarshal(c.Body(), &req); err != nil {
				return reject(c, fiber.StatusBadRequest, "Invalid JSON format")
			}
			if msg := validateChat(&req, cfg); msg != "" {
				cfg.Logger.Warn("Rejected chat request",
					zap.String("ip", c.IP()),
					zap.String("reason", msg),
				)
				return reject(c, fiber.StatusBadRequest, msg)
			}
			c.Locals(LocalChatRequest, &req)
		}

		return c.Next()
	}
}

func validateChat(req *ChatRequest, cfg Config) string {
	if req.ID != "" && !ValidChatID(req.ID) {
		return "Invalid chat id"
	}
	if len(req.Messages) == 0 {
		return "messages are required"
	}
	if len(req.Messages) > cfg.MaxMessages {
		return "Too many messages"
	}
	for i := range req.Messages {
		m := &req.Messages[i]
		switch m.Role {
		case llm.RoleUser, llm.RoleAssistant, llm.RoleSystem, llm.RoleTool, llm.RoleData:
		default:
			return "Invalid message role"
		}
		if utf8.RuneCountInString(m.Content) > cfg.MaxMessageLength {
			return "Message exceeds maximum length"
		}
		m.Content = sanitizeString(m.Content)
	}
	if req.Messages[len(req.Messages)-1].Role != llm.RoleUser {
		return "The last message must be from the user"
	}
	return ""
}

func reject(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":  msg,
		"status": status,
	})
}

func sanitizeString(input string) string {
	return strings.ReplaceAll(input, "\x00", "")
}
