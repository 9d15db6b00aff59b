package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/research-agent/backend/internal/chart"
	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/research"
	"github.com/research-agent/backend/internal/storage/kv"
	"github.com/research-agent/backend/pkg/logger"
)

const (
	chatVersion   = "v2"
	AnonymousUser = "anonymous"
)

var ErrNotFound = errors.New("chat not found")

type Chat struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt time.Time     `json:"createdAt"`
	UserID    string        `json:"userId"`
	Path      string        `json:"path"`
	SharePath string        `json:"sharePath,omitempty"`
	Messages  []llm.Message `json:"messages"`
}

func Key(id string) string {
	return "chat:" + id
}

func UserKey(userID string) string {
	return "user:" + chatVersion + ":chat:" + userID
}

type Repository struct {
	kv       kv.Store
	chartTag string
	now      func() time.Time
}

func NewRepository(store kv.Store, chartTag string) *Repository {
	return &Repository{kv: store, chartTag: chartTag, now: time.Now}
}

// Save writes the chat hash and indexes it under its owner in one pipeline.
func (r *Repository) Save(ctx context.Context, c *Chat) error {
	if c.ID == "" {
		return fmt.Errorf("chat id is required")
	}
	if c.UserID == "" {
		c.UserID = AnonymousUser
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = r.now()
	}
	if c.Path == "" {
		c.Path = "/search/" + c.ID
	}

	messages, err := json.Marshal(c.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}

	fields := map[string]string{
		"id":        c.ID,
		"title":     c.Title,
		"createdAt": c.CreatedAt.UTC().Format(time.RFC3339Nano),
		"userId":    c.UserID,
		"path":      c.Path,
		"sharePath": c.SharePath,
		"messages":  string(messages),
	}

	err = r.kv.Pipeline(ctx, func(p kv.Pipe) error {
		p.HSet(Key(c.ID), fields)
		p.ZAdd(UserKey(c.UserID), float64(r.now().UnixMilli()), Key(c.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save chat: %w", err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*Chat, error) {
	h, err := r.kv.HGetAll(ctx, Key(id))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	return r.decode(h), nil
}

// List returns the user's chats, most recently saved first.
func (r *Repository) List(ctx context.Context, userID string) ([]*Chat, error) {
	if userID == "" {
		return []*Chat{}, nil
	}

	keys, err := r.kv.ZRange(ctx, UserKey(userID), 0, -1, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}

	chats := make([]*Chat, len(keys))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			h, err := r.kv.HGetAll(gctx, key)
			if errors.Is(err, kv.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			c := r.decode(h)
			mu.Lock()
			chats[i] = c
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to load chats: %w", err)
	}

	out := make([]*Chat, 0, len(chats))
	for _, c := range chats {
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// Delete removes the chat, its index entry and its research state.
func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		userID = AnonymousUser
	}
	err := r.kv.Pipeline(ctx, func(p kv.Pipe) error {
		p.Del(Key(id))
		p.ZRem(UserKey(userID), Key(id))
		research.DeleteIn(p, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return nil
}

// ClearAll deletes every chat of the user and returns how many were removed.
func (r *Repository) ClearAll(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		userID = AnonymousUser
	}
	keys, err := r.kv.ZRange(ctx, UserKey(userID), 0, -1, false)
	if err != nil {
		return 0, fmt.Errorf("failed to list chats: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	err = r.kv.Pipeline(ctx, func(p kv.Pipe) error {
		for _, key := range keys {
			p.Del(key)
			p.ZRem(UserKey(userID), key)
			research.DeleteIn(p, strings.TrimPrefix(key, "chat:"))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to clear chats: %w", err)
	}
	return len(keys), nil
}

func (r *Repository) decode(h map[string]string) *Chat {
	c := &Chat{
		ID:        h["id"],
		Title:     h["title"],
		UserID:    h["userId"],
		Path:      h["path"],
		SharePath: h["sharePath"],
		Messages:  []llm.Message{},
	}
	if t, err := time.Parse(time.RFC3339Nano, h["createdAt"]); err == nil {
		c.CreatedAt = t
	}
	if raw := h["messages"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &c.Messages); err != nil {
			logger.Error("Failed to parse chat messages", zap.String("chat_id", c.ID), zap.Error(err))
			c.Messages = []llm.Message{}
		}
	}
	for i := range c.Messages {
		r.normalizeChart(&c.Messages[i])
	}
	return c
}

// normalizeChart lifts a payload still embedded in stored assistant text
// into an annotation.
func (r *Repository) normalizeChart(m *llm.Message) {
	if m.Role != llm.RoleAssistant || m.Content == "" {
		return
	}
	text, charts := chart.ExtractFromText(m.Content, r.chartTag)
	if len(charts) == 0 {
		return
	}
	m.Content = text
	for _, d := range charts {
		raw, err := json.Marshal(chart.NewAnnotation(d, text))
		if err != nil {
			continue
		}
		m.Annotations = append(m.Annotations, raw)
	}
}

// Title derives a chat title from the first user message.
func Title(messages []llm.Message) string {
	for _, m := range messages {
		if m.Role == llm.RoleUser {
			t := strings.TrimSpace(m.Content)
			if r := []rune(t); len(r) > 100 {
				t = string(r[:100])
			}
			return t
		}
	}
	return "Untitled"
}
