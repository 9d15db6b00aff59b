package stream

import (
	"bytes"
	"encoding/json"
)

type Kind byte

const (
	KindText          Kind = '0'
	KindData          Kind = '2'
	KindError         Kind = '3'
	KindToolCall      Kind = '9'
	KindToolResult    Kind = 'a'
	KindToolCallStart Kind = 'b'
	KindToolCallDelta Kind = 'c'
	KindFinish        Kind = 'd'
	// KindRaw marks a line the decoder could not interpret. It is never
	// written by the encoder.
	KindRaw Kind = 0
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindData:
		return "data"
	case KindError:
		return "error"
	case KindToolCall:
		return "tool_call"
	case KindToolResult:
		return "tool_result"
	case KindToolCallStart:
		return "tool_call_start"
	case KindToolCallDelta:
		return "tool_call_delta"
	case KindFinish:
		return "finish"
	default:
		return "raw"
	}
}

type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content-filter"
	FinishToolCalls     FinishReason = "tool-calls"
	FinishError         FinishReason = "error"
	FinishOther         FinishReason = "other"
	FinishUnknown       FinishReason = "unknown"
)

type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
}

func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}

// Event is one frame of the protocol.
type Event interface {
	Kind() Kind
}

type TextDelta struct {
	Text string
}

// Data carries an arbitrary JSON annotation.
type Data struct {
	Value json.RawMessage
}

type Error struct {
	Message string
}

type ToolCall struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
}

type ToolCallStart struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
}

type ToolCallDelta struct {
	ToolCallID    string `json:"toolCallId"`
	ArgsTextDelta string `json:"argsTextDelta"`
}

type ToolResult struct {
	ToolCallID string          `json:"toolCallId"`
	Result     json.RawMessage `json:"result"`
}

type Finish struct {
	FinishReason FinishReason `json:"finishReason"`
	Usage        Usage        `json:"usage"`
}

// Raw is an uninterpreted line passed through by the decoder.
type Raw struct {
	Line string
}

func (TextDelta) Kind() Kind     { return KindText }
func (Data) Kind() Kind          { return KindData }
func (Error) Kind() Kind         { return KindError }
func (ToolCall) Kind() Kind      { return KindToolCall }
func (ToolCallStart) Kind() Kind { return KindToolCallStart }
func (ToolCallDelta) Kind() Kind { return KindToolCallDelta }
func (ToolResult) Kind() Kind    { return KindToolResult }
func (Finish) Kind() Kind        { return KindFinish }
func (Raw) Kind() Kind           { return KindRaw }

// marshalPayload renders the payload of one frame without tag or newline.
func marshalPayload(ev Event) ([]byte, error) {
	switch e := ev.(type) {
	case TextDelta:
		return json.Marshal(e.Text)
	case Error:
		return json.Marshal(e.Message)
	case Data:
		if len(e.Value) == 0 {
			return []byte("null"), nil
		}
		return compact(e.Value)
	case ToolResult:
		if len(e.Result) == 0 {
			e.Result = json.RawMessage("null")
		}
		return json.Marshal(e)
	default:
		return json.Marshal(ev)
	}
}

func compact(raw json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
