package chart

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPayload = `{"type":"bar","title":"Test","labels":["A","B"],"datasets":[{"label":"Sales","data":[1,2.5]},{"label":"Cost","data":[3,4],"borderColor":"#000","borderWidth":4,"tension":0.3}]}`

func TestExtractFromTextRoundTrip(t *testing.T) {
	text, charts := ExtractFromText("intro <payload>"+validPayload+"</payload> outro", "payload")

	assert.Equal(t, "intro  outro", text)
	require.Len(t, charts, 1)

	c := charts[0]
	assert.Equal(t, "bar", c.Type)
	assert.Equal(t, "Test", c.Title)
	assert.Equal(t, []any{"A", "B"}, c.Labels)
	require.Len(t, c.Datasets, 2)

	assert.Equal(t, Dataset{
		Label:           "Sales",
		Data:            []float64{1, 2.5},
		BorderColor:     "#4CAF50",
		BackgroundColor: "rgba(76, 175, 80, 0.1)",
		BorderWidth:     2,
		Tension:         0.1,
	}, c.Datasets[0])
	assert.Equal(t, "#000", c.Datasets[1].BorderColor)
	assert.Equal(t, 4.0, c.Datasets[1].BorderWidth)
	assert.Equal(t, 0.3, c.Datasets[1].Tension)
}

func TestMalformedPayloadLeavesTextUnchanged(t *testing.T) {
	bad := `intro <chart_data>{"type":"bar","labels":["A"],"datasets":[{"label":"x","data":[1,"two"]}]}</chart_data> outro`

	text, charts := ExtractFromText(bad, "")
	assert.Equal(t, bad, text)
	assert.Empty(t, charts)

	padded := "\n  " + bad + "  \n"
	text, charts = ExtractFromText(padded, "")
	assert.Equal(t, padded, text)
	assert.Empty(t, charts)

	fenced := "\n```chart\n{\"type\":\"bar\"\n```\n"
	text, charts = ExtractFromText(fenced, DefaultTag)
	assert.Equal(t, fenced, text)
	assert.Empty(t, charts)

	var outcomes []string
	x := NewExtractor("", WithOutcomeHook(func(o string) { outcomes = append(outcomes, o) }))
	var out strings.Builder
	out.WriteString(x.Write(bad + "\n").Text)
	out.WriteString(x.Flush().Text)
	assert.Equal(t, bad+"\n", out.String())
	assert.Empty(t, x.Charts())
	assert.Equal(t, []string{OutcomeInvalid}, outcomes)
}

func TestStreamingAcrossChunkBoundaries(t *testing.T) {
	full := "Here is a chart:\n<chart_data>\n" + validPayload + "\n</chart_data>\nThe chart shows growth.\n"

	// Split into tiny chunks so the markers themselves straddle boundaries.
	var chunks []string
	for i := 0; i < len(full); i += 7 {
		end := i + 7
		if end > len(full) {
			end = len(full)
		}
		chunks = append(chunks, full[i:end])
	}

	x := NewExtractor(DefaultTag)
	var out strings.Builder
	var charts []Data
	for _, c := range chunks {
		res := x.Write(c)
		assert.NotContains(t, res.Text, "chart_data")
		out.WriteString(res.Text)
		charts = append(charts, res.Charts...)
	}
	res := x.Flush()
	out.WriteString(res.Text)
	charts = append(charts, res.Charts...)

	assert.Equal(t, "Here is a chart:\n\nThe chart shows growth.\n", out.String())
	require.Len(t, charts, 1)
	assert.Equal(t, "bar", charts[0].Type)
	assert.Len(t, x.Charts(), 1)
}

func TestPartialLinesAreHeld(t *testing.T) {
	x := NewExtractor(DefaultTag)
	assert.Equal(t, "", x.Write("no newline yet").Text)
	assert.Equal(t, "no newline yet, done\n", x.Write(", done\nnext").Text)
	assert.Equal(t, "next", x.Flush().Text)
}

func TestUnclosedSpanIsFlushedRaw(t *testing.T) {
	var outcomes []string
	x := NewExtractor(DefaultTag, WithOutcomeHook(func(o string) { outcomes = append(outcomes, o) }))

	first := x.Write("before <chart_data>\n{\"type\":\"bar\"\n")
	assert.Equal(t, "before ", first.Text)

	rest := x.Flush()
	assert.Equal(t, "<chart_data>\n{\"type\":\"bar\"\n", rest.Text)
	assert.Empty(t, rest.Charts)
	assert.Equal(t, []string{OutcomeUnclosed}, outcomes)
}

func TestEachPayloadEmittedOnce(t *testing.T) {
	x := NewExtractor(DefaultTag)
	line := "<chart_data>" + validPayload + "</chart_data>\n"

	first := x.Write(line)
	assert.Len(t, first.Charts, 1)
	assert.Equal(t, "\n", first.Text)

	assert.Empty(t, x.Write("plain\n").Charts)
	assert.Empty(t, x.Flush().Charts)

	second := x.Write(line + line)
	assert.Len(t, second.Charts, 2)
	assert.Len(t, x.Charts(), 3)
}

func TestWrappedPayloadIsUnwrapped(t *testing.T) {
	d, err := Parse(`{"role":"assistant","data":` + validPayload + `}`)
	require.NoError(t, err)
	assert.Equal(t, "bar", d.Type)
}

func TestParseRejectsMissingFields(t *testing.T) {
	cases := []string{
		`not json`,
		`{"labels":[],"datasets":[]}`,
		`{"type":"bar","datasets":[]}`,
		`{"type":"bar","labels":[]}`,
		`{"type":"bar","labels":[],"datasets":[{"data":[1]}]}`,
		`{"type":"bar","labels":[],"datasets":[{"label":"x"}]}`,
		`{"type":"bar","labels":[],"datasets":["x"]}`,
	}
	for _, c := range cases {
		_, err := Parse(c)
		assert.ErrorIs(t, err, ErrInvalidChart, c)
	}
}

func TestFencedFallback(t *testing.T) {
	text, charts := ExtractFromText("Look:\n```chart\n"+validPayload+"\n```\nDone", DefaultTag)
	assert.Equal(t, "Look:\n\nDone", text)
	require.Len(t, charts, 1)

	plain, none := ExtractFromText("  nothing here  ", DefaultTag)
	assert.Equal(t, "  nothing here  ", plain)
	assert.Nil(t, none)
}
