package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripPreservesOrder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.Text("Hello, "))
	require.NoError(t, enc.ToolCallStart("call_1", "search"))
	require.NoError(t, enc.ToolCallDelta("call_1", `{"query":`))
	require.NoError(t, enc.ToolCallDelta("call_1", `"go"}`))
	require.NoError(t, enc.ToolCall("call_1", "search", json.RawMessage(`{"query":"go"}`)))
	require.NoError(t, enc.ToolResult("call_1", map[string]any{"results": []string{"a"}}))
	require.NoError(t, enc.Data(map[string]any{"type": "activity", "message": "searching"}))
	require.NoError(t, enc.Text("world\nwith a newline"))
	require.NoError(t, enc.Finish(FinishStop))

	events, err := DecodeAll(&buf)
	require.NoError(t, err)
	require.Len(t, events, 9)

	assert.Equal(t, TextDelta{Text: "Hello, "}, events[0])
	assert.Equal(t, ToolCallStart{ToolCallID: "call_1", ToolName: "search"}, events[1])
	assert.Equal(t, ToolCallDelta{ToolCallID: "call_1", ArgsTextDelta: `{"query":`}, events[2])
	assert.Equal(t, ToolCallDelta{ToolCallID: "call_1", ArgsTextDelta: `"go"}`}, events[3])
	assert.Equal(t, KindToolCall, events[4].Kind())
	assert.JSONEq(t, `{"results":["a"]}`, string(events[5].(ToolResult).Result))
	assert.JSONEq(t, `{"type":"activity","message":"searching"}`, string(events[6].(Data).Value))
	assert.Equal(t, TextDelta{Text: "world\nwith a newline"}, events[7])

	last, ok := events[len(events)-1].(Finish)
	require.True(t, ok)
	assert.Equal(t, FinishStop, last.FinishReason)
	assert.Equal(t, EstimateTokens("Hello, ")+EstimateTokens("world\nwith a newline"), last.Usage.CompletionTokens)
}

func TestFinishIsWrittenOnce(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.Finish(FinishStop))
	assert.ErrorIs(t, enc.Finish(FinishStop), ErrStreamFinished)
	assert.ErrorIs(t, enc.Text("late"), ErrStreamFinished)
	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
	assert.True(t, enc.Finished())
}

func TestErrorForcesFinishReason(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.Error("failed to save chat"))
	require.NoError(t, enc.Finish(FinishStop))

	events, err := DecodeAll(&buf)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, Error{Message: "failed to save chat"}, events[0])
	assert.Equal(t, FinishError, events[1].(Finish).FinishReason)
}

func TestReportedUsageReplacesEstimate(t *testing.T) {
	enc := NewEncoder(&bytes.Buffer{})
	require.NoError(t, enc.Text("12345678"))
	assert.Equal(t, Usage{CompletionTokens: 2}, enc.Usage())

	enc.ReportUsage(Usage{PromptTokens: 10, CompletionTokens: 5})
	require.NoError(t, enc.Text("more text that is not counted"))
	enc.ReportUsage(Usage{PromptTokens: 7, CompletionTokens: 3})
	assert.Equal(t, Usage{PromptTokens: 17, CompletionTokens: 8}, enc.Usage())
	assert.Equal(t, 25, enc.Usage().TotalTokens())

	enc.AddUsage(1, 1)
	assert.Equal(t, Usage{PromptTokens: 18, CompletionTokens: 9}, enc.Usage())
}

func TestDecoderPassesThroughUnknownLines(t *testing.T) {
	input := strings.Join([]string{
		`0:"hi"`,
		`garbage without a tag`,
		`z:{"unknown":true}`,
		`0:not json`,
		`b:"not an object"`,
		``,
		`d:{"finishReason":"stop","usage":{"promptTokens":1,"completionTokens":2}}`,
	}, "\n")

	events, err := DecodeAll(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, events, 6)

	assert.Equal(t, TextDelta{Text: "hi"}, events[0])
	assert.Equal(t, Raw{Line: "garbage without a tag"}, events[1])
	assert.Equal(t, Raw{Line: `z:{"unknown":true}`}, events[2])
	assert.Equal(t, Raw{Line: "0:not json"}, events[3])
	assert.Equal(t, Raw{Line: `b:"not an object"`}, events[4])
	assert.Equal(t, Finish{FinishReason: FinishStop, Usage: Usage{PromptTokens: 1, CompletionTokens: 2}}, events[5])
}

func TestFrameHookAndWriteErrors(t *testing.T) {
	var kinds []Kind
	enc := NewEncoder(&bytes.Buffer{}, WithFrameHook(func(k Kind) { kinds = append(kinds, k) }))
	require.NoError(t, enc.Text("a"))
	require.NoError(t, enc.Finish(FinishStop))
	assert.Equal(t, []Kind{KindText, KindFinish}, kinds)

	broken := NewEncoder(failingWriter{})
	err := broken.Text("a")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBroken))

	assert.Error(t, NewEncoder(&bytes.Buffer{}).Encode(Raw{Line: "x"}))
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 2, EstimateTokens("héllo"))
}

var errBroken = errors.New("broken pipe")

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errBroken }
