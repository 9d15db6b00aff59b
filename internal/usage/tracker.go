package usage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/storage/kv"
	"github.com/research-agent/backend/pkg/logger"
)

const maxHistory = 100

var ErrMissingField = errors.New("model, chatId and usage are required")

type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

func (u TokenUsage) add(o TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

type Info struct {
	FinishReason string     `json:"finishReason"`
	Usage        TokenUsage `json:"usage"`
	Timestamp    int64      `json:"timestamp"`
	Model        string     `json:"model"`
	ChatID       string     `json:"chatId"`
}

type ModelUsage struct {
	Model        string     `json:"model"`
	TotalUsage   TokenUsage `json:"totalUsage"`
	UsageHistory []Info     `json:"usageHistory"`
}

type UserUsage struct {
	UserID      string                 `json:"userId"`
	TotalUsage  TokenUsage             `json:"totalUsage"`
	ModelUsage  map[string]*ModelUsage `json:"modelUsage"`
	LastUpdated int64                  `json:"lastUpdated"`
}

// Record is one turn's accounting entry.
type Record struct {
	UserID       string     `json:"userId,omitempty"`
	Model        string     `json:"model"`
	ChatID       string     `json:"chatId"`
	Usage        TokenUsage `json:"usage"`
	FinishReason string     `json:"finishReason,omitempty"`
}

func Key(userID string) string {
	return "usage:" + userID
}

type Tracker struct {
	kv  kv.Store
	now func() time.Time

	// read-modify-write of a user's hash is serialized within the process
	mu sync.Mutex
}

func NewTracker(store kv.Store) *Tracker {
	return &Tracker{kv: store, now: time.Now}
}

func (t *Tracker) Track(ctx context.Context, rec Record) error {
	if rec.Model == "" || rec.ChatID == "" || rec.UserID == "" {
		return ErrMissingField
	}
	if rec.FinishReason == "" {
		rec.FinishReason = "stop"
	}
	if rec.Usage.TotalTokens == 0 {
		rec.Usage.TotalTokens = rec.Usage.PromptTokens + rec.Usage.CompletionTokens
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current, err := t.load(ctx, rec.UserID)
	if err != nil {
		return err
	}

	now := t.now().UnixMilli()
	mu, ok := current.ModelUsage[rec.Model]
	if !ok {
		mu = &ModelUsage{Model: rec.Model, UsageHistory: []Info{}}
		current.ModelUsage[rec.Model] = mu
	}

	current.TotalUsage = current.TotalUsage.add(rec.Usage)
	mu.TotalUsage = mu.TotalUsage.add(rec.Usage)
	mu.UsageHistory = append([]Info{{
		FinishReason: rec.FinishReason,
		Usage:        rec.Usage,
		Timestamp:    now,
		Model:        rec.Model,
		ChatID:       rec.ChatID,
	}}, mu.UsageHistory...)
	if len(mu.UsageHistory) > maxHistory {
		mu.UsageHistory = mu.UsageHistory[:maxHistory]
	}
	current.LastUpdated = now

	total, err := json.Marshal(current.TotalUsage)
	if err != nil {
		return fmt.Errorf("failed to encode usage: %w", err)
	}
	models, err := json.Marshal(current.ModelUsage)
	if err != nil {
		return fmt.Errorf("failed to encode usage: %w", err)
	}

	err = t.kv.HSet(ctx, Key(rec.UserID), map[string]string{
		"userId":      rec.UserID,
		"totalUsage":  string(total),
		"modelUsage":  string(models),
		"lastUpdated": strconv.FormatInt(now, 10),
	})
	if err != nil {
		return fmt.Errorf("failed to track usage: %w", err)
	}
	return nil
}

func (t *Tracker) GetUserUsage(ctx context.Context, userID string) (*UserUsage, error) {
	return t.load(ctx, userID)
}

func (t *Tracker) GetModelUsage(ctx context.Context, userID, model string) (TokenUsage, error) {
	u, err := t.load(ctx, userID)
	if err != nil {
		return TokenUsage{}, err
	}
	if mu, ok := u.ModelUsage[model]; ok {
		return mu.TotalUsage, nil
	}
	return TokenUsage{}, nil
}

// Breakdown returns per-model totals.
func (t *Tracker) Breakdown(ctx context.Context, userID string) (map[string]TokenUsage, error) {
	u, err := t.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]TokenUsage, len(u.ModelUsage))
	for name, mu := range u.ModelUsage {
		out[name] = mu.TotalUsage
	}
	return out, nil
}

func (t *Tracker) load(ctx context.Context, userID string) (*UserUsage, error) {
	empty := &UserUsage{
		UserID:      userID,
		ModelUsage:  map[string]*ModelUsage{},
		LastUpdated: t.now().UnixMilli(),
	}

	h, err := t.kv.HGetAll(ctx, Key(userID))
	if errors.Is(err, kv.ErrNotFound) {
		return empty, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read usage: %w", err)
	}
	if h["userId"] == "" {
		return empty, nil
	}

	u := &UserUsage{UserID: h["userId"], ModelUsage: map[string]*ModelUsage{}}
	if err := json.Unmarshal([]byte(h["totalUsage"]), &u.TotalUsage); err != nil {
		logger.Warn("Discarding malformed usage record", zap.String("user_id", userID), zap.Error(err))
		return empty, nil
	}
	if err := json.Unmarshal([]byte(h["modelUsage"]), &u.ModelUsage); err != nil {
		logger.Warn("Discarding malformed usage record", zap.String("user_id", userID), zap.Error(err))
		return empty, nil
	}
	if u.ModelUsage == nil {
		u.ModelUsage = map[string]*ModelUsage{}
	}
	u.LastUpdated, _ = strconv.ParseInt(h["lastUpdated"], 10, 64)
	return u, nil
}
