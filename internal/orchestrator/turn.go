package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/chart"
	"github.com/research-agent/backend/internal/llm"
	"github.com/research-agent/backend/internal/metrics"
	"github.com/research-agent/backend/internal/research"
	"github.com/research-agent/backend/internal/stream"
)

// Turn is one prepared chat turn. It is not safe for concurrent use.
type Turn struct {
	o      *Orchestrator
	req    Request
	gen    llm.Generator
	model  llm.Model
	genReq llm.GenerateRequest
	first  llm.Stream
	manual *manualSearch
	log    *zap.Logger

	loaded  research.Session
	ctrl    *research.Controller
	enc     *stream.Encoder
	charts  []chart.Data
	steps   int
	started time.Time
}

func (t *Turn) ChatID() string {
	return t.req.ChatID
}

func (t *Turn) Model() llm.Model {
	return t.model
}

// Close releases the model stream if Run was never called.
func (t *Turn) Close() error {
	if t.first != nil {
		err := t.first.Close()
		t.first = nil
		return err
	}
	return nil
}

// Run streams the turn to w and persists it. The Finish frame is always the
// last frame written. A non-nil error means the caller went away or the
// writer failed, and persistence was skipped.
func (t *Turn) Run(ctx context.Context, w io.Writer) error {
	defer t.Close()

	t.enc = stream.NewEncoder(w, stream.WithFrameHook(func(k stream.Kind) {
		metrics.FramesEmitted.WithLabelValues(k.String()).Inc()
	}))
	t.ctrl = research.RestoreController(t.loaded, t.o.cfg.Rules)

	reason, responses, err := t.generate(ctx)
	if err != nil || ctx.Err() != nil {
		if err == nil {
			err = ctx.Err()
		}
		t.log.Info("Turn cancelled, skipping persistence", zap.Error(err))
		metrics.TurnTotal.WithLabelValues("cancelled").Inc()
		_ = t.enc.Finish(stream.FinishUnknown)
		return err
	}

	if err := t.finalize(ctx, reason, responses); err != nil || ctx.Err() != nil {
		metrics.TurnTotal.WithLabelValues("cancelled").Inc()
		_ = t.enc.Finish(stream.FinishUnknown)
		if err == nil {
			err = ctx.Err()
		}
		return err
	}

	if err := t.enc.Finish(reason); err != nil {
		return err
	}

	final := reason
	if t.enc.Errored() {
		final = stream.FinishError
	}
	metrics.TurnDuration.WithLabelValues(string(final)).Observe(t.o.now().Sub(t.started).Seconds())
	metrics.TurnTotal.WithLabelValues(string(final)).Inc()
	return nil
}

// generate drives the model until it stops calling tools or the research
// depth bound is reached. Model failures are written as Error frames; a
// returned error is a write failure.
func (t *Turn) generate(ctx context.Context) (stream.FinishReason, []llm.Message, error) {
	var responses []llm.Message

	if t.manual != nil {
		if err := t.emitManualSearch(ctx); err != nil {
			return "", nil, err
		}
	}

	maxSteps := t.ctrl.Snapshot().MaxDepth
	req := t.genReq
	st := t.first
	t.first = nil

	for {
		msg, calls, finish, err := t.consume(ctx, st)
		_ = st.Close()
		if err != nil {
			if ctx.Err() != nil || isWriteErr(err) {
				return "", nil, err
			}
			t.log.Error("Model stream failed", zap.Error(err))
			if werr := t.enc.Error(err.Error()); werr != nil {
				return "", nil, werr
			}
			if msg.Content != "" {
				responses = append(responses, msg)
			}
			return stream.FinishError, responses, nil
		}
		if len(calls) > 0 && t.steps >= maxSteps {
			t.log.Warn("Model kept calling tools past the depth bound", zap.Int("steps", t.steps))
			msg.ToolCalls = nil
			responses = append(responses, msg)
			return stream.FinishToolCalls, responses, nil
		}
		responses = append(responses, msg)

		if len(calls) == 0 {
			if finish == "" {
				finish = llm.FinishStop
			}
			return stream.FinishReason(finish), responses, nil
		}

		toolMsgs, err := t.runTools(ctx, calls)
		if err != nil {
			return "", nil, err
		}
		responses = append(responses, toolMsgs...)
		t.steps++

		next := req
		next.Messages = append(append([]llm.Message{}, req.Messages...), responses...)
		if t.steps >= maxSteps {
			// Depth budget spent: the model must answer from what it has.
			next.Tools = nil
		}
		st, err = t.gen.Stream(ctx, next)
		if err != nil {
			if ctx.Err() != nil {
				return "", nil, ctx.Err()
			}
			t.log.Error("Failed to continue model stream", zap.Error(err))
			if werr := t.enc.Error(err.Error()); werr != nil {
				return "", nil, werr
			}
			return stream.FinishError, responses, nil
		}
	}
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// consume pipes one model stream through the chart extractor into the
// encoder and assembles the assistant message it produced.
func (t *Turn) consume(ctx context.Context, st llm.Stream) (llm.Message, []llm.ToolCall, string, error) {
	ext := chart.NewExtractor(t.o.cfg.ChartTag,
		chart.WithLogger(t.log),
		chart.WithOutcomeHook(func(outcome string) {
			metrics.ChartOutcomes.WithLabelValues(outcome).Inc()
		}),
	)

	var (
		text    strings.Builder
		pending = map[int]*pendingCall{}
		order   []int
		finish  string
	)

	emit := func(c chart.Chunk) error {
		text.WriteString(c.Text)
		if err := t.enc.Text(c.Text); err != nil {
			return writeErr{err}
		}
		for _, d := range c.Charts {
			t.charts = append(t.charts, d)
			if err := t.annotate(chart.NewAnnotation(d, "")); err != nil {
				return err
			}
		}
		return nil
	}

	var recvErr error
	for {
		chunk, err := st.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			recvErr = err
			break
		}

		if chunk.TextDelta != "" {
			if err := emit(ext.Write(chunk.TextDelta)); err != nil {
				return llm.Message{}, nil, "", err
			}
		}

		for _, d := range chunk.ToolCalls {
			pc, ok := pending[d.Index]
			if !ok {
				id := d.ID
				if id == "" {
					id = "call_" + uuid.New().String()
				}
				pc = &pendingCall{id: id, name: d.Name}
				pending[d.Index] = pc
				order = append(order, d.Index)
				if err := t.enc.ToolCallStart(pc.id, pc.name); err != nil {
					return llm.Message{}, nil, "", writeErr{err}
				}
			}
			if pc.name == "" {
				pc.name = d.Name
			}
			if d.ArgsDelta != "" {
				pc.args.WriteString(d.ArgsDelta)
				if err := t.enc.ToolCallDelta(pc.id, d.ArgsDelta); err != nil {
					return llm.Message{}, nil, "", writeErr{err}
				}
			}
		}

		if chunk.Usage != nil {
			t.enc.ReportUsage(stream.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
			})
			metrics.LLMTokensUsed.WithLabelValues(t.model.ID, "prompt").Add(float64(chunk.Usage.PromptTokens))
			metrics.LLMTokensUsed.WithLabelValues(t.model.ID, "completion").Add(float64(chunk.Usage.CompletionTokens))
		}
		if chunk.FinishReason != "" {
			finish = chunk.FinishReason
		}
	}

	if ctx.Err() == nil {
		if err := emit(ext.Flush()); err != nil {
			return llm.Message{}, nil, "", err
		}
	}

	msg := llm.Message{Role: llm.RoleAssistant, Content: text.String()}
	if recvErr != nil {
		return msg, nil, "", recvErr
	}

	calls := make([]llm.ToolCall, 0, len(order))
	for _, idx := range order {
		pc := pending[idx]
		calls = append(calls, llm.ToolCall{ID: pc.id, Name: pc.name, Arguments: pc.args.String()})
	}
	msg.ToolCalls = calls
	if len(calls) == 0 {
		msg.ToolCalls = nil
	}
	return msg, calls, finish, nil
}

// annotate writes a single-element data frame.
func (t *Turn) annotate(v any) error {
	if err := t.enc.Data([]any{v}); err != nil {
		return writeErr{err}
	}
	return nil
}

type writeErr struct {
	err error
}

func (e writeErr) Error() string { return e.err.Error() }
func (e writeErr) Unwrap() error { return e.err }

func isWriteErr(err error) bool {
	var we writeErr
	return errors.As(err, &we)
}

func toolArgs(raw string) json.RawMessage {
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	b, _ := json.Marshal(raw)
	return b
}

func errorPayload(err error) string {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return string(b)
}
