package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Decoder reads frames back into events. Lines that are not well-formed
// frames come back as Raw rather than failing the stream.
type Decoder struct {
	r *bufio.Reader
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Next returns the next event, or io.EOF once the input is exhausted.
func (d *Decoder) Next() (Event, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if line == "" && err != nil {
			return nil, io.EOF
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if err != nil {
				return nil, io.EOF
			}
			continue
		}
		return ParseLine(line), nil
	}
}

// DecodeAll reads every event until EOF.
func DecodeAll(r io.Reader) ([]Event, error) {
	d := NewDecoder(r)
	var events []Event
	for {
		ev, err := d.Next()
		if errors.Is(err, io.EOF) {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
	}
}

// ParseLine interprets a single frame line without its terminator.
func ParseLine(line string) Event {
	raw := Raw{Line: line}
	if len(line) < 2 || line[1] != ':' {
		return raw
	}
	payload := []byte(line[2:])
	if !json.Valid(payload) {
		return raw
	}

	switch Kind(line[0]) {
	case KindText:
		var s string
		if json.Unmarshal(payload, &s) != nil {
			return raw
		}
		return TextDelta{Text: s}
	case KindError:
		var s string
		if json.Unmarshal(payload, &s) != nil {
			return raw
		}
		return Error{Message: s}
	case KindData:
		return Data{Value: json.RawMessage(payload)}
	case KindToolCall:
		var tc ToolCall
		if !decodeStrict(payload, &tc) || tc.ToolCallID == "" {
			return raw
		}
		return tc
	case KindToolCallStart:
		var tc ToolCallStart
		if !decodeStrict(payload, &tc) || tc.ToolCallID == "" {
			return raw
		}
		return tc
	case KindToolCallDelta:
		var tc ToolCallDelta
		if !decodeStrict(payload, &tc) || tc.ToolCallID == "" {
			return raw
		}
		return tc
	case KindToolResult:
		var tr ToolResult
		if !decodeStrict(payload, &tr) || tr.ToolCallID == "" {
			return raw
		}
		return tr
	case KindFinish:
		var f Finish
		if !decodeStrict(payload, &f) || f.FinishReason == "" {
			return raw
		}
		return f
	default:
		return raw
	}
}

func decodeStrict(payload []byte, v any) bool {
	if !bytes.HasPrefix(bytes.TrimSpace(payload), []byte("{")) {
		return false
	}
	return json.Unmarshal(payload, v) == nil
}
