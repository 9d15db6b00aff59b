package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/chart"
	"github.com/research-agent/backend/internal/chat"
	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/metrics"
	"github.com/research-agent/backend/internal/research"
	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/internal/stream"
	"github.com/research-agent/backend/internal/usage"
)

// finalize runs after the model is done: chart annotations, related
// questions, persistence and accounting. Only write failures are returned.
func (t *Turn) finalize(ctx context.Context, reason stream.FinishReason, responses []llm.Message) error {
	transcript := make([]llm.Message, 0, len(t.req.Messages)+len(responses)+1)
	transcript = append(transcript, t.req.Messages...)
	transcript = append(transcript, responses...)

	t.attachCharts(transcript)

	if t.relatedEnabled(reason) {
		ann, err := t.relatedQuestions(ctx, transcript)
		if err != nil {
			return err
		}
		transcript = append(transcript, llm.Message{Role: llm.RoleData, Annotations: []json.RawMessage{ann}})
	}

	if err := t.persist(ctx, transcript); err != nil {
		return err
	}

	u := t.enc.Usage()
	finish := string(reason)
	if t.enc.Errored() {
		finish = string(stream.FinishError)
	}
	if t.o.usage != nil {
		t.o.usage.Report(ctx, usage.Record{
			UserID: t.req.UserID,
			Model:  t.model.ID,
			ChatID: t.req.ChatID,
			Usage: usage.TokenUsage{
				PromptTokens:     u.PromptTokens,
				CompletionTokens: u.CompletionTokens,
				TotalTokens:      u.TotalTokens(),
			},
			FinishReason: finish,
		})
	}

	t.recordHistory(ctx, finish, responses, u)
	return nil
}

// attachCharts puts the extracted charts on the last assistant message; its
// content already has the payload stripped.
func (t *Turn) attachCharts(transcript []llm.Message) {
	if len(t.charts) == 0 {
		return
	}
	for i := len(transcript) - 1; i >= len(t.req.Messages); i-- {
		m := &transcript[i]
		if m.Role != llm.RoleAssistant || len(m.ToolCalls) > 0 {
			continue
		}
		for _, d := range t.charts {
			raw, err := json.Marshal(chart.NewAnnotation(d, strings.TrimSpace(m.Content)))
			if err != nil {
				continue
			}
			m.Annotations = append(m.Annotations, raw)
		}
		return
	}
}

func (t *Turn) relatedEnabled(reason stream.FinishReason) bool {
	return t.o.cfg.RelatedQuestions &&
		!t.model.Reasoning &&
		reason != stream.FinishError &&
		!t.enc.Errored()
}

// relatedQuestions streams an empty suggestion list, then the generated one.
// Generation failures degrade to the empty list.
func (t *Turn) relatedQuestions(ctx context.Context, transcript []llm.Message) (json.RawMessage, error) {
	empty := llm.RelatedQuestions{Items: []llm.RelatedQuestion{}}
	if err := t.annotate(Annotation{Type: AnnotationRelated, Data: empty}); err != nil {
		return nil, err
	}

	rq, u, err := llm.GenerateRelatedQuestions(ctx, t.gen, t.model.Name, transcript)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		metrics.RelatedQuestionFailures.Inc()
		t.log.Warn("Related questions failed, continuing without suggestions", zap.Error(err))
		rq = empty
	}
	metrics.LLMTokensUsed.WithLabelValues(t.model.ID, "related").Add(float64(u.TotalTokens()))

	final := Annotation{Type: AnnotationRelated, Data: rq}
	if err := t.annotate(final); err != nil {
		return nil, err
	}
	raw, _ := json.Marshal(final)
	return raw, nil
}

// persist saves the transcript and research state. Failures surface as an
// Error frame; the stream still finishes.
func (t *Turn) persist(ctx context.Context, transcript []llm.Message) error {
	c := &chat.Chat{
		ID:       t.req.ChatID,
		UserID:   t.req.UserID,
		Title:    chat.Title(transcript),
		Messages: transcript,
	}
	if existing, err := t.o.chats.Get(ctx, t.req.ChatID); err == nil {
		c.CreatedAt = existing.CreatedAt
		c.Title = existing.Title
		c.SharePath = existing.SharePath
	} else if !errors.Is(err, chat.ErrNotFound) {
		t.log.Warn("Failed to read existing chat", zap.Error(err))
	}

	if err := t.o.chats.Save(ctx, c); err != nil {
		metrics.PersistenceFailures.WithLabelValues("chat").Inc()
		t.log.Error("Failed to save chat", zap.Error(err))
		if werr := t.enc.Error("failed to save chat"); werr != nil {
			return writeErr{werr}
		}
	}

	current := t.settleResearch()
	if !researchChanged(t.loaded, current) {
		return nil
	}
	err := t.o.research.Save(ctx, t.req.ChatID, t.loaded, current)
	if err == nil || errors.Is(err, research.ErrSessionCleared) {
		return nil
	}
	metrics.PersistenceFailures.WithLabelValues("research").Inc()
	t.log.Error("Failed to save research state", zap.Error(err))
	if werr := t.enc.Error("failed to save research state"); werr != nil {
		return writeErr{werr}
	}
	return nil
}

// settleResearch marks the session idle once the turn is over, completing
// whatever activity is still pending.
func (t *Turn) settleResearch() research.Session {
	current := t.ctrl.Snapshot()
	if !current.IsActive {
		return current
	}
	next, err := t.ctrl.Dispatch(research.ActiveSet{Active: false})
	if err != nil {
		t.log.Warn("Failed to settle research session", zap.Error(err))
		return current
	}
	return next
}

func researchChanged(loaded, current research.Session) bool {
	return len(current.Sources) != len(loaded.Sources) ||
		len(current.Activity) != len(loaded.Activity) ||
		current.CurrentDepth != loaded.CurrentDepth ||
		current.MaxDepth != loaded.MaxDepth ||
		current.CompletedSteps != loaded.CompletedSteps ||
		current.TotalExpectedSteps != loaded.TotalExpectedSteps ||
		current.IsActive != loaded.IsActive ||
		current.AdaptiveThreshold != loaded.AdaptiveThreshold ||
		current.MinRelevanceScore != loaded.MinRelevanceScore ||
		!maps.Equal(current.DepthScores, loaded.DepthScores)
}

func (t *Turn) recordHistory(ctx context.Context, finish string, responses []llm.Message, u stream.Usage) {
	if t.o.history == nil {
		return
	}

	var answer strings.Builder
	for _, m := range responses {
		if m.Role == llm.RoleAssistant && m.Content != "" {
			if answer.Len() > 0 {
				answer.WriteString("\n\n")
			}
			answer.WriteString(m.Content)
		}
	}

	s := t.ctrl.Snapshot()
	var fresh []research.Source
	if len(s.Sources) > len(t.loaded.Sources) {
		fresh = s.Sources[len(t.loaded.Sources):]
	}
	ranked := research.RankSources(fresh, s.CurrentDepth, s.MaxDepth)

	record := &models.TurnRecord{
		ID:               uuid.New().String(),
		ChatID:           t.req.ChatID,
		UserID:           t.req.UserID,
		Model:            t.model.ID,
		QueryText:        latestUserMessage(t.req.Messages),
		Response:         answer.String(),
		FinishReason:     finish,
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		DepthReached:     s.CurrentDepth,
		SearchUsed:       t.steps > 0 || t.manual != nil,
		LatencyMS:        int(t.o.now().Sub(t.started).Milliseconds()),
		CreatedAt:        t.o.now(),
	}
	for _, rs := range ranked {
		depth := 0
		if rs.Metrics != nil {
			depth = rs.Metrics.DepthLevel
		}
		record.Sources = append(record.Sources, models.TurnSource{
			URL:            rs.URL,
			Title:          rs.Title,
			Relevance:      rs.Relevance,
			CompositeScore: rs.Score.Total,
			DepthLevel:     depth,
		})
	}

	if err := t.o.history.InsertTurn(ctx, record); err != nil {
		metrics.PersistenceFailures.WithLabelValues("history").Inc()
		t.log.Error("Failed to record turn history", zap.Error(err))
	}
}
