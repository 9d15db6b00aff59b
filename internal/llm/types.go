package llm

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrProviderDisabled = errors.New("provider is disabled")
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrInvalidModelID   = errors.New("model id must be provider:model")
	ErrEmptyCompletion  = errors.New("model returned no choices")
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
	// RoleData messages hold annotations in stored transcripts and are never
	// sent to a model.
	RoleData = "data"
)

type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type Message struct {
	Role        string            `json:"role"`
	Content     string            `json:"content"`
	ToolCalls   []ToolCall        `json:"toolCalls,omitempty"`
	ToolCallID  string            `json:"toolCallId,omitempty"`
	Annotations []json.RawMessage `json:"annotations,omitempty"`
}

type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type GenerateRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float32
	MaxTokens   int
	Reasoning   bool
	JSONOutput  bool
}

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// ToolCallDelta is an incremental piece of a tool call, keyed by Index. ID
// and Name usually arrive only on the first delta of a call.
type ToolCallDelta struct {
	Index     int
	ID        string
	Name      string
	ArgsDelta string
}

type Chunk struct {
	TextDelta    string
	ToolCalls    []ToolCallDelta
	FinishReason string
	Usage        *Usage
}

// Stream yields chunks until io.EOF.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

type Completion struct {
	Content string
	Usage   Usage
}

// Generator is the model-output collaborator.
type Generator interface {
	Stream(ctx context.Context, req GenerateRequest) (Stream, error)
	Complete(ctx context.Context, req GenerateRequest) (*Completion, error)
}

// Finish reasons reported on chunks, already in wire vocabulary.
const (
	FinishStop          = "stop"
	FinishLength        = "length"
	FinishContentFilter = "content-filter"
	FinishToolCalls     = "tool-calls"
	FinishOther         = "other"
)
