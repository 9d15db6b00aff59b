package models

import "time"

type TurnRecord struct {
	ID               string
	ChatID           string
	UserID           string
	Model            string
	QueryText        string
	Response         string
	FinishReason     string
	PromptTokens     int
	CompletionTokens int
	DepthReached     int
	SearchUsed       bool
	LatencyMS        int
	CreatedAt        time.Time
	Sources          []TurnSource
}

type TurnSource struct {
	ID             int
	TurnID         string
	URL            string
	Title          string
	Relevance      float64
	CompositeScore float64
	DepthLevel     int
}
