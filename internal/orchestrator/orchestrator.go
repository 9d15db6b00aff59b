package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/chat"
	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/research"
	"github.com/research-agent/backend/internal/search/web"
	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/internal/usage"
	"github.com/research-agent/backend/pkg/logger"
)

var ErrNoMessages = errors.New("at least one message is required")

type Models interface {
	Resolve(id string) (llm.Generator, llm.Model, error)
}

type Tools interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, name, arguments string) (*web.ToolResult, error)
	Search(ctx context.Context, query string, maxResults int) ([]web.Result, error)
}

type History interface {
	InsertTurn(ctx context.Context, record *models.TurnRecord) error
}

type Config struct {
	ChartTag            string
	Rules               research.Rules
	ContextWindowTokens int
	MaxTokens           int
	RelatedQuestions    bool
	MaxSearchResults    int
}

type Orchestrator struct {
	models   Models
	chats    *chat.Repository
	research *research.Store
	tools    Tools
	usage    usage.Reporter
	history  History
	cfg      Config
	now      func() time.Time
}

type Option func(*Orchestrator)

// WithTools enables the search capability.
func WithTools(t Tools) Option {
	return func(o *Orchestrator) { o.tools = t }
}

func WithHistory(h History) Option {
	return func(o *Orchestrator) { o.history = h }
}

func WithUsageReporter(r usage.Reporter) Option {
	return func(o *Orchestrator) { o.usage = r }
}

func New(m Models, chats *chat.Repository, store *research.Store, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = 5
	}
	if cfg.Rules == (research.Rules{}) {
		cfg.Rules = research.DefaultRules()
	}
	o := &Orchestrator{
		models:   m,
		chats:    chats,
		research: store,
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type Request struct {
	ChatID     string
	UserID     string
	ModelID    string
	SearchMode bool
	Messages   []llm.Message
}

// Prepare resolves the model, loads the chat's research state and opens the
// first model stream. Errors returned here happen before any output is
// written; the caller owns ctx for the whole turn and must Close the turn.
func (o *Orchestrator) Prepare(ctx context.Context, req Request) (*Turn, error) {
	if len(req.Messages) == 0 {
		return nil, ErrNoMessages
	}
	if req.ChatID == "" {
		req.ChatID = uuid.New().String()
	}
	if req.UserID == "" {
		req.UserID = chat.AnonymousUser
	}

	gen, model, err := o.models.Resolve(req.ModelID)
	if err != nil {
		return nil, err
	}

	loaded, err := o.research.Load(ctx, req.ChatID)
	if err != nil {
		return nil, err
	}

	t := &Turn{
		o:       o,
		req:     req,
		gen:     gen,
		model:   model,
		loaded:  loaded,
		started: o.now(),
		log: logger.With(
			zap.String("chat_id", req.ChatID),
			zap.String("model", model.ID),
		),
	}

	history := llm.TruncateMessages(req.Messages, llm.MaxAllowedTokens(o.cfg.ContextWindowTokens, o.cfg.MaxTokens))
	searching := req.SearchMode && o.tools != nil

	t.genReq = llm.GenerateRequest{
		Model:     model.Name,
		Messages:  history,
		Reasoning: model.Reasoning,
	}
	switch {
	case searching && model.ToolCalling:
		t.genReq.System = llm.SystemPrompt(o.cfg.ChartTag, true, o.now())
		t.genReq.Tools = o.tools.Definitions()
	case searching:
		t.manual = o.manualSearch(ctx, t.log, latestUserMessage(req.Messages))
		t.genReq.System = llm.ManualSearchPrompt(o.cfg.ChartTag, formatResults(t.manual.results), o.now())
	default:
		t.genReq.System = llm.SystemPrompt(o.cfg.ChartTag, false, o.now())
	}

	st, err := gen.Stream(ctx, t.genReq)
	if err != nil {
		return nil, fmt.Errorf("failed to start model stream: %w", err)
	}
	t.first = st

	t.log.Info("Turn prepared",
		zap.Bool("search", searching),
		zap.Bool("tool_calling", model.ToolCalling),
		zap.Int("history", len(history)),
	)
	return t, nil
}

type manualSearch struct {
	id      string
	query   string
	results []web.Result
	err     error
}

func (o *Orchestrator) manualSearch(ctx context.Context, log *zap.Logger, query string) *manualSearch {
	ms := &manualSearch{id: "call_" + uuid.New().String(), query: query}
	if strings.TrimSpace(query) == "" {
		return ms
	}
	ms.results, ms.err = o.tools.Search(ctx, query, o.cfg.MaxSearchResults)
	if ms.err != nil {
		log.Warn("Manual search failed, answering without results", zap.Error(ms.err))
	}
	return ms
}

func latestUserMessage(messages []llm.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == llm.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func formatResults(results []web.Result) string {
	if len(results) == 0 {
		return "No results."
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\n%s\n", i+1, r.Title, r.URL)
		body := r.Content
		if body == "" {
			body = r.Snippet
		}
		if runes := []rune(body); len(runes) > 1500 {
			body = string(runes[:1500])
		}
		b.WriteString(body)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
