package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"
)

var ErrStreamFinished = errors.New("stream already finished")

type flusher interface {
	Flush() error
}

type Option func(*Encoder)

// WithFrameHook registers a callback invoked after every frame is written.
func WithFrameHook(fn func(Kind)) Option {
	return func(e *Encoder) { e.onFrame = fn }
}

// Encoder writes protocol frames and keeps the usage tally for the Finish
// frame. It is safe for concurrent use.
type Encoder struct {
	mu       sync.Mutex
	w        io.Writer
	usage    Usage
	reported bool
	errored  bool
	finished bool
	onFrame  func(Kind)
}

func NewEncoder(w io.Writer, opts ...Option) *Encoder {
	e := &Encoder{w: w}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Text writes a text delta and adds its estimated completion tokens.
func (e *Encoder) Text(text string) error {
	if text == "" {
		return nil
	}
	return e.Encode(TextDelta{Text: text})
}

func (e *Encoder) Data(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal data annotation: %w", err)
	}
	return e.Encode(Data{Value: raw})
}

// Error writes an error frame. The eventual Finish reports FinishError.
func (e *Encoder) Error(message string) error {
	return e.Encode(Error{Message: message})
}

func (e *Encoder) ToolCall(id, name string, args json.RawMessage) error {
	return e.Encode(ToolCall{ToolCallID: id, ToolName: name, Args: args})
}

func (e *Encoder) ToolCallStart(id, name string) error {
	return e.Encode(ToolCallStart{ToolCallID: id, ToolName: name})
}

func (e *Encoder) ToolCallDelta(id, argsDelta string) error {
	return e.Encode(ToolCallDelta{ToolCallID: id, ArgsTextDelta: argsDelta})
}

func (e *Encoder) ToolResult(id string, result any) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal tool result: %w", err)
	}
	return e.Encode(ToolResult{ToolCallID: id, Result: raw})
}

// Finish writes the terminal frame with the cumulative usage. Only the first
// call writes; later calls return ErrStreamFinished.
func (e *Encoder) Finish(reason FinishReason) error {
	return e.Encode(Finish{FinishReason: reason})
}

// AddUsage adds to the running tally.
func (e *Encoder) AddUsage(promptTokens, completionTokens int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.usage.PromptTokens += promptTokens
	e.usage.CompletionTokens += completionTokens
}

// ReportUsage replaces the character-based estimate with provider-reported
// usage. Subsequent reports accumulate.
func (e *Encoder) ReportUsage(u Usage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.reported {
		e.usage = Usage{}
		e.reported = true
	}
	e.usage.PromptTokens += u.PromptTokens
	e.usage.CompletionTokens += u.CompletionTokens
}

func (e *Encoder) Usage() Usage {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.usage
}

func (e *Encoder) Finished() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished
}

func (e *Encoder) Errored() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.errored
}

// Encode writes any event. Raw events are rejected.
func (e *Encoder) Encode(ev Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished {
		return ErrStreamFinished
	}

	switch v := ev.(type) {
	case Raw:
		return fmt.Errorf("cannot encode raw line %q", v.Line)
	case Error:
		e.errored = true
	case Finish:
		if e.errored {
			v.FinishReason = FinishError
		}
		if v.FinishReason == "" {
			v.FinishReason = FinishUnknown
		}
		v.Usage = e.usage
		ev = v
		e.finished = true
	}

	payload, err := marshalPayload(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s frame: %w", ev.Kind(), err)
	}

	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, byte(ev.Kind()), ':')
	frame = append(frame, payload...)
	frame = append(frame, '\n')

	if _, err := e.w.Write(frame); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", ev.Kind(), err)
	}
	if f, ok := e.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("failed to flush %s frame: %w", ev.Kind(), err)
		}
	}

	if t, ok := ev.(TextDelta); ok && !e.reported {
		e.usage.CompletionTokens += EstimateTokens(t.Text)
	}
	if e.onFrame != nil {
		e.onFrame(ev.Kind())
	}
	return nil
}

// EstimateTokens approximates four characters per token.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}
