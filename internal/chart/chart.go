package chart

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	DefaultTag = "chart_data"

	defaultBorderColor     = "#4CAF50"
	defaultBackgroundColor = "rgba(76, 175, 80, 0.1)"
	defaultBorderWidth     = 2
	defaultTension         = 0.1
)

var ErrInvalidChart = errors.New("invalid chart payload")

type Dataset struct {
	Label           string    `json:"label"`
	Data            []float64 `json:"data"`
	BorderColor     string    `json:"borderColor"`
	BackgroundColor string    `json:"backgroundColor"`
	BorderWidth     float64   `json:"borderWidth"`
	Tension         float64   `json:"tension"`
}

type Data struct {
	Type     string    `json:"type"`
	Title    string    `json:"title,omitempty"`
	Labels   []any     `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Annotation is the data frame carrying an extracted chart.
type Annotation struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	Data    Data   `json:"data"`
}

func NewAnnotation(d Data, content string) Annotation {
	return Annotation{Type: "chart", Role: "assistant", Content: content, Data: d}
}

// Parse decodes and validates a chart payload and fills dataset defaults. A
// payload wrapped as {"data": {...}} is unwrapped.
func Parse(payload string) (Data, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &raw); err != nil {
		return Data{}, fmt.Errorf("%w: %v", ErrInvalidChart, err)
	}
	if _, ok := raw["type"]; !ok {
		if inner, ok := raw["data"].(map[string]any); ok {
			raw = inner
		}
	}

	chartType, ok := raw["type"].(string)
	if !ok {
		return Data{}, fmt.Errorf("%w: missing type", ErrInvalidChart)
	}
	labels, ok := raw["labels"].([]any)
	if !ok {
		return Data{}, fmt.Errorf("%w: missing labels array", ErrInvalidChart)
	}
	rawDatasets, ok := raw["datasets"].([]any)
	if !ok {
		return Data{}, fmt.Errorf("%w: missing datasets array", ErrInvalidChart)
	}

	out := Data{Type: chartType, Labels: labels, Datasets: make([]Dataset, 0, len(rawDatasets))}
	if title, ok := raw["title"].(string); ok {
		out.Title = title
	}

	for i, rd := range rawDatasets {
		ds, err := parseDataset(rd)
		if err != nil {
			return Data{}, fmt.Errorf("%w: dataset %d: %v", ErrInvalidChart, i, err)
		}
		out.Datasets = append(out.Datasets, ds)
	}
	return out, nil
}

func parseDataset(v any) (Dataset, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Dataset{}, errors.New("not an object")
	}
	label, ok := m["label"].(string)
	if !ok {
		return Dataset{}, errors.New("missing label")
	}
	values, ok := m["data"].([]any)
	if !ok {
		return Dataset{}, errors.New("missing data array")
	}

	ds := Dataset{
		Label:           label,
		Data:            make([]float64, 0, len(values)),
		BorderColor:     defaultBorderColor,
		BackgroundColor: defaultBackgroundColor,
		BorderWidth:     defaultBorderWidth,
		Tension:         defaultTension,
	}
	for _, val := range values {
		n, ok := val.(float64)
		if !ok {
			return Dataset{}, fmt.Errorf("non-numeric value %v", val)
		}
		ds.Data = append(ds.Data, n)
	}

	if s, ok := m["borderColor"].(string); ok && s != "" {
		ds.BorderColor = s
	}
	if s, ok := m["backgroundColor"].(string); ok && s != "" {
		ds.BackgroundColor = s
	}
	if n, ok := m["borderWidth"].(float64); ok && n > 0 {
		ds.BorderWidth = n
	}
	if n, ok := m["tension"].(float64); ok {
		ds.Tension = n
	}
	return ds, nil
}
