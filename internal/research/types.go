package research

import "errors"

var (
	ErrSessionCleared = errors.New("research session is cleared")
	ErrUnknownEvent   = errors.New("unknown research event")
)

const (
	DefaultMaxDepth = 7
	MinDepth        = 1
	MaxDepthLimit   = 10

	defaultAdaptiveThreshold = 0.7
	defaultMinRelevanceScore = 0.6
)

type ActivityType string

const (
	ActivitySearch    ActivityType = "search"
	ActivityExtract   ActivityType = "extract"
	ActivityAnalyze   ActivityType = "analyze"
	ActivityReasoning ActivityType = "reasoning"
	ActivitySynthesis ActivityType = "synthesis"
	ActivityThought   ActivityType = "thought"
)

type ActivityStatus string

const (
	StatusPending  ActivityStatus = "pending"
	StatusComplete ActivityStatus = "complete"
	StatusError    ActivityStatus = "error"
)

type Activity struct {
	ID        string         `json:"id,omitempty"`
	Type      ActivityType   `json:"type"`
	Status    ActivityStatus `json:"status"`
	Message   string         `json:"message"`
	Timestamp int64          `json:"timestamp"`
	Depth     int            `json:"depth,omitempty"`
}

type SourceMetrics struct {
	RelevanceScore  float64 `json:"relevanceScore"`
	DepthLevel      int     `json:"depthLevel"`
	ContentQuality  float64 `json:"contentQuality"`
	TimeRelevance   float64 `json:"timeRelevance"`
	SourceAuthority float64 `json:"sourceAuthority"`
}

type Source struct {
	ID             string         `json:"id,omitempty"`
	URL            string         `json:"url"`
	Title          string         `json:"title"`
	Relevance      float64        `json:"relevance"`
	ContentSnippet string         `json:"contentSnippet,omitempty"`
	QueryUsed      string         `json:"queryUsed,omitempty"`
	PublishedDate  string         `json:"publishedDate,omitempty"`
	Timestamp      int64          `json:"timestamp"`
	Metrics        *SourceMetrics `json:"metrics,omitempty"`
}

// Rules are the thresholds the depth controller advances against.
type Rules struct {
	MinRelevanceForNextDepth float64
	MaxSourcesPerDepth       int
	QualityThreshold         float64
}

func DefaultRules() Rules {
	return Rules{
		MinRelevanceForNextDepth: 0.7,
		MaxSourcesPerDepth:       5,
		QualityThreshold:         0.6,
	}
}

// Session is the research state owned by a single chat.
type Session struct {
	IsActive           bool            `json:"isActive"`
	IsCleared          bool            `json:"isCleared"`
	ClearedAt          string          `json:"clearedAt,omitempty"`
	CurrentDepth       int             `json:"currentDepth"`
	MaxDepth           int             `json:"maxDepth"`
	CompletedSteps     int             `json:"completedSteps"`
	TotalExpectedSteps int             `json:"totalExpectedSteps"`
	DepthScores        map[int]float64 `json:"depthScores"`
	AdaptiveThreshold  float64         `json:"adaptiveThreshold"`
	MinRelevanceScore  float64         `json:"minRelevanceScore"`
	Activity           []Activity      `json:"activity"`
	Sources            []Source        `json:"sources"`
}

func NewSession(maxDepth int) Session {
	return Session{
		MaxDepth:          clampDepth(maxDepth),
		DepthScores:       map[int]float64{},
		AdaptiveThreshold: defaultAdaptiveThreshold,
		MinRelevanceScore: defaultMinRelevanceScore,
		Activity:          []Activity{},
		Sources:           []Source{},
	}
}

// Metrics returns the metrics of every scored source in insertion order.
func (s Session) Metrics() []SourceMetrics {
	out := make([]SourceMetrics, 0, len(s.Sources))
	for _, src := range s.Sources {
		if src.Metrics != nil {
			out = append(out, *src.Metrics)
		}
	}
	return out
}

func clampDepth(d int) int {
	if d <= 0 {
		return DefaultMaxDepth
	}
	if d < MinDepth {
		return MinDepth
	}
	if d > MaxDepthLimit {
		return MaxDepthLimit
	}
	return d
}
