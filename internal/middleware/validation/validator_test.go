package validation

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/research-agent/backend/internal/llm"
)

func newApp() *fiber.App {
	app := fiber.New()
	app.Use(Middleware(Config{MaxMessageLength: 10, MaxMessages: 2}))
	app.Post("/api/v1/chat", func(c *fiber.Ctx) error {
		req, ok := c.Locals(LocalChatRequest).(*ChatRequest)
		if !ok {
			return c.SendStatus(fiber.StatusInternalServerError)
		}
		return c.SendString(req.Messages[len(req.Messages)-1].Content)
	})
	return app
}

func post(t *testing.T, app *fiber.App, contentType, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest("POST", "/api/v1/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(respBody)
}

func TestChatRequestValidation(t *testing.T) {
	app := newApp()

	cases := []struct {
		name   string
		ctype  string
		body   string
		status int
	}{
		{"valid", "application/json", `{"id":"abc","messages":[{"role":"user","content":"hi\u0000"}]}`, 200},
		{"bad json", "application/json", `{`, 400},
		{"no messages", "application/json", `{"id":"abc","messages":[]}`, 400},
		{"bad id", "application/json", `{"id":"../etc","messages":[{"role":"user","content":"hi"}]}`, 400},
		{"bad role", "application/json", `{"messages":[{"role":"robot","content":"hi"}]}`, 400},
		{"too long", "application/json", `{"messages":[{"role":"user","content":"this is far too long"}]}`, 400},
		{"too many", "application/json", `{"messages":[{"role":"user","content":"a"},{"role":"assistant","content":"b"},{"role":"user","content":"c"}]}`, 400},
		{"last not user", "application/json", `{"messages":[{"role":"assistant","content":"a"}]}`, 400},
		{"content type", "text/plain", `hi`, 415},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := post(t, app, tc.ctype, tc.body)
			assert.Equal(t, tc.status, status, body)
			if tc.status == 200 {
				assert.Equal(t, "hi", body)
			} else {
				assert.Contains(t, body, `"status"`)
			}
		})
	}
}

func TestValidChatID(t *testing.T) {
	assert.True(t, ValidChatID("a1_B-2"))
	assert.False(t, ValidChatID(""))
	assert.False(t, ValidChatID("a b"))
	assert.False(t, ValidChatID(strings.Repeat("a", 129)))
}

func TestValidateChatRequestAppliesDefaults(t *testing.T) {
	req := &ChatRequest{ID: "x:research:state", Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}}
	assert.Equal(t, "Invalid chat id", ValidateChatRequest(req, Config{}))

	req = &ChatRequest{ID: "c1", Messages: []llm.Message{{Role: llm.RoleUser, Content: "a\x00b"}}}
	assert.Empty(t, ValidateChatRequest(req, Config{}))
	assert.Equal(t, "ab", req.Messages[0].Content)

	req = &ChatRequest{ID: "c1", Messages: []llm.Message{{Role: llm.RoleUser, Content: strings.Repeat("x", 100001)}}}
	assert.Equal(t, "Message exceeds maximum length", ValidateChatRequest(req, Config{}))
}
