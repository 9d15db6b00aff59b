package chart

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

const (
	OutcomeExtracted = "extracted"
	OutcomeInvalid   = "invalid"
	OutcomeUnclosed  = "unclosed"
)

var fencePattern = regexp.MustCompile("(?s)```chart\\n(.*?)\\n```")

type Option func(*Extractor)

func WithLogger(l *zap.Logger) Option {
	return func(x *Extractor) { x.log = l }
}

// WithOutcomeHook observes every payload span the extractor resolves.
func WithOutcomeHook(fn func(outcome string)) Option {
	return func(x *Extractor) { x.onOutcome = fn }
}

// Chunk is what the extractor releases for one input chunk.
type Chunk struct {
	Text   string
	Charts []Data
}

// Extractor strips <tag>...</tag> chart payloads from a text stream. Text is
// released one complete line at a time, and lines from an open tag onward are
// held until the closing tag arrives.
type Extractor struct {
	open, close string

	partial string
	held    string
	charts  []Data

	log       *zap.Logger
	onOutcome func(string)
}

func NewExtractor(tag string, opts ...Option) *Extractor {
	if tag == "" {
		tag = DefaultTag
	}
	x := &Extractor{
		open:  "<" + tag + ">",
		close: "</" + tag + ">",
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *Extractor) Write(chunk string) Chunk {
	data := x.partial + chunk
	cut := strings.LastIndexByte(data, '\n')
	if cut < 0 {
		x.partial = data
		return Chunk{}
	}
	x.partial = data[cut+1:]
	return x.process(x.held+data[:cut+1], false)
}

// Flush releases everything still buffered. An unclosed payload span is
// passed through as plain text.
func (x *Extractor) Flush() Chunk {
	rest := x.held + x.partial
	x.held, x.partial = "", ""
	return x.process(rest, true)
}

// Charts returns every chart extracted so far.
func (x *Extractor) Charts() []Data {
	return append([]Data(nil), x.charts...)
}

func (x *Extractor) process(text string, final bool) Chunk {
	x.held = ""
	var out strings.Builder
	var found []Data

	for text != "" {
		i := strings.Index(text, x.open)
		if i < 0 {
			out.WriteString(text)
			break
		}
		body := i + len(x.open)
		j := strings.Index(text[body:], x.close)
		if j < 0 {
			if final {
				x.observe(OutcomeUnclosed)
				x.log.Warn("Unclosed chart payload passed through")
				out.WriteString(text)
			} else {
				out.WriteString(text[:i])
				x.held = text[i:]
			}
			break
		}
		end := body + j + len(x.close)

		d, err := Parse(text[body : body+j])
		if err != nil {
			x.observe(OutcomeInvalid)
			x.log.Warn("Chart payload rejected, passing text through", zap.Error(err))
			out.WriteString(text[:end])
			text = text[end:]
			continue
		}

		x.observe(OutcomeExtracted)
		out.WriteString(text[:i])
		found = append(found, d)
		x.charts = append(x.charts, d)
		text = text[end:]
	}

	return Chunk{Text: out.String(), Charts: found}
}

func (x *Extractor) observe(outcome string) {
	if x.onOutcome != nil {
		x.onOutcome(outcome)
	}
}

// ExtractFromText scans a complete message. It returns the trimmed text with
// every valid payload removed and the charts in order. When no tagged payload
// is present a ```chart fenced block is accepted instead. Text without a valid
// chart comes back byte for byte.
func ExtractFromText(text, tag string) (string, []Data) {
	x := NewExtractor(tag)
	x.partial = text
	res := x.Flush()
	if len(res.Charts) > 0 {
		return strings.TrimSpace(res.Text), res.Charts
	}

	loc := fencePattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return text, nil
	}
	d, err := Parse(text[loc[2]:loc[3]])
	if err != nil {
		return text, nil
	}
	return strings.TrimSpace(text[:loc[0]] + text[loc[1]:]), []Data{d}
}
