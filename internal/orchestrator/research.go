package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/metrics"
	"github.com/research-agent/backend/internal/research"
	"github.com/research-agent/backend/internal/search/web"
)

const (
	AnnotationActivity = "research-activity"
	AnnotationSource   = "research-source"
	AnnotationDepth    = "research-depth"
	AnnotationRelated  = "related-questions"

	snippetRunes = 300
)

type Annotation struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type DepthUpdate struct {
	CurrentDepth       int  `json:"currentDepth"`
	MaxDepth           int  `json:"maxDepth"`
	CompletedSteps     int  `json:"completedSteps"`
	TotalExpectedSteps int  `json:"totalExpectedSteps"`
	Advanced           bool `json:"advanced"`
}

func (t *Turn) emitManualSearch(ctx context.Context) error {
	ms := t.manual
	if ms.query == "" {
		return nil
	}

	args, _ := json.Marshal(web.SearchArgs{Query: ms.query, MaxResults: t.o.cfg.MaxSearchResults})
	if err := t.enc.ToolCallStart(ms.id, web.ToolSearch); err != nil {
		return writeErr{err}
	}
	if err := t.enc.ToolCall(ms.id, web.ToolSearch, args); err != nil {
		return writeErr{err}
	}
	if err := t.pending(research.ActivitySearch, "Searching for: "+ms.query); err != nil {
		return err
	}

	if ms.err != nil {
		metrics.ToolCalls.WithLabelValues(web.ToolSearch, "error").Inc()
		return t.record(research.ActivitySearch, research.StatusError, "Search failed: "+ms.err.Error())
	}

	metrics.ToolCalls.WithLabelValues(web.ToolSearch, "ok").Inc()
	result := &web.ToolResult{Tool: web.ToolSearch, Query: ms.query, Results: ms.results}
	if err := t.enc.ToolResult(ms.id, result); err != nil {
		return writeErr{err}
	}
	if err := t.record(research.ActivitySearch, research.StatusComplete,
		fmt.Sprintf("Found %d results for: %s", len(ms.results), ms.query)); err != nil {
		return err
	}
	return t.ingest(ms.query, ms.results)
}

// runTools executes the calls of one model step in order and returns the tool
// messages to feed back to the model.
func (t *Turn) runTools(ctx context.Context, calls []llm.ToolCall) ([]llm.Message, error) {
	msgs := make([]llm.Message, 0, len(calls))
	for _, c := range calls {
		if err := t.enc.ToolCall(c.ID, c.Name, toolArgs(c.Arguments)); err != nil {
			return nil, writeErr{err}
		}

		kind := research.ActivitySearch
		if c.Name == web.ToolRetrieve {
			kind = research.ActivityExtract
		}
		if err := t.pending(kind, describeCall(c)); err != nil {
			return nil, err
		}

		res, err := t.execute(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			metrics.ToolCalls.WithLabelValues(c.Name, "error").Inc()
			t.log.Warn("Tool call failed", zap.String("tool", c.Name), zap.Error(err))
			if err := t.record(kind, research.StatusError, fmt.Sprintf("%s failed: %v", c.Name, err)); err != nil {
				return nil, err
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, ToolCallID: c.ID, Content: errorPayload(err)})
			continue
		}

		metrics.ToolCalls.WithLabelValues(c.Name, "ok").Inc()
		if err := t.enc.ToolResult(c.ID, res); err != nil {
			return nil, writeErr{err}
		}

		query := res.Query
		if c.Name == web.ToolRetrieve {
			query = latestUserMessage(t.req.Messages)
		}
		msg := fmt.Sprintf("Found %d results for: %s", len(res.Results), res.Query)
		if kind == research.ActivityExtract {
			msg = "Extracted content from " + res.Query
		}
		if err := t.record(kind, research.StatusComplete, msg); err != nil {
			return nil, err
		}
		if err := t.ingest(query, res.Results); err != nil {
			return nil, err
		}

		content, err := json.Marshal(res)
		if err != nil {
			content = []byte(errorPayload(err))
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleTool, ToolCallID: c.ID, Content: string(content)})
	}
	return msgs, nil
}

func (t *Turn) execute(ctx context.Context, c llm.ToolCall) (*web.ToolResult, error) {
	if t.o.tools == nil {
		return nil, fmt.Errorf("tool %q is not available", c.Name)
	}
	return t.o.tools.Execute(ctx, c.Name, c.Arguments)
}

func describeCall(c llm.ToolCall) string {
	switch c.Name {
	case web.ToolSearch:
		var args web.SearchArgs
		if json.Unmarshal([]byte(c.Arguments), &args) == nil && args.Query != "" {
			return "Searching for: " + args.Query
		}
	case web.ToolRetrieve:
		var args web.RetrieveArgs
		if json.Unmarshal([]byte(c.Arguments), &args) == nil && args.URL != "" {
			return "Reading " + args.URL
		}
	}
	return "Running " + c.Name
}

func (t *Turn) tracking() bool {
	return !t.ctrl.Snapshot().IsCleared
}

// pending announces an in-flight activity on the wire only; the session
// records the outcome.
func (t *Turn) pending(kind research.ActivityType, message string) error {
	if !t.tracking() {
		return nil
	}
	s := t.ctrl.Snapshot()
	return t.annotate(Annotation{Type: AnnotationActivity, Data: research.Activity{
		ID:        uuid.New().String(),
		Type:      kind,
		Status:    research.StatusPending,
		Message:   message,
		Timestamp: t.o.now().UnixMilli(),
		Depth:     max(s.CurrentDepth, 1),
	}})
}

func (t *Turn) record(kind research.ActivityType, status research.ActivityStatus, message string) error {
	if !t.tracking() {
		return nil
	}
	s := t.ctrl.Snapshot()
	completed := s.CompletedSteps + 1
	total := max(s.TotalExpectedSteps, s.MaxDepth, completed)

	next, err := t.ctrl.Dispatch(research.ActivityAdded{
		Activity: research.Activity{
			ID:        uuid.New().String(),
			Type:      kind,
			Status:    status,
			Message:   message,
			Timestamp: t.o.now().UnixMilli(),
		},
		CompletedSteps: &completed,
		TotalSteps:     &total,
	})
	if errors.Is(err, research.ErrSessionCleared) {
		return nil
	}
	if err != nil {
		return err
	}
	return t.annotate(Annotation{Type: AnnotationActivity, Data: next.Activity[len(next.Activity)-1]})
}

// ingest scores results into the depth controller and streams each new
// source followed by the resulting depth state.
func (t *Turn) ingest(query string, results []web.Result) error {
	if !t.tracking() || len(results) == 0 {
		return nil
	}

	advanced := false
	for _, r := range results {
		content := r.Content
		if content == "" {
			content = r.Snippet
		}
		m := research.ScoreAt(content, query, r.URL, r.PublishedDate, t.o.now())
		metrics.SourcesScored.Observe(m.RelevanceScore)

		src := research.Source{
			ID:             uuid.New().String(),
			URL:            r.URL,
			Title:          r.Title,
			Relevance:      m.RelevanceScore,
			ContentSnippet: truncateRunes(r.Snippet, snippetRunes),
			QueryUsed:      query,
			PublishedDate:  r.PublishedDate,
			Timestamp:      t.o.now().UnixMilli(),
		}

		before := len(t.ctrl.Snapshot().Sources)
		next, adv, err := t.ctrl.AddSource(src, m)
		if errors.Is(err, research.ErrSessionCleared) {
			return nil
		}
		if err != nil {
			return err
		}
		if len(next.Sources) == before {
			continue
		}
		if err := t.annotate(Annotation{Type: AnnotationSource, Data: next.Sources[len(next.Sources)-1]}); err != nil {
			return err
		}
		if adv {
			advanced = true
			metrics.DepthAdvances.Inc()
			t.log.Info("Research depth advanced", zap.Int("depth", next.CurrentDepth))
			if err := t.record(research.ActivityAnalyze, research.StatusComplete,
				fmt.Sprintf("Advancing research to depth %d", next.CurrentDepth)); err != nil {
				return err
			}
		}
	}

	s := t.ctrl.Snapshot()
	return t.annotate(Annotation{Type: AnnotationDepth, Data: DepthUpdate{
		CurrentDepth:       s.CurrentDepth,
		MaxDepth:           s.MaxDepth,
		CompletedSteps:     s.CompletedSteps,
		TotalExpectedSteps: s.TotalExpectedSteps,
		Advanced:           advanced,
	}})
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
