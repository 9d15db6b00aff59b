package research

import (
	"fmt"
	"math"
	"sync"
)

type Event interface {
	event()
}

// SourceAdded appends a scored source at the current depth, retunes the
// thresholds and advances the depth when the current level is exhausted.
type SourceAdded struct {
	Source  Source
	Metrics SourceMetrics
}

// ActivityAdded appends an activity. Non-nil step counters replace the
// session's progress.
type ActivityAdded struct {
	Activity       Activity
	CompletedSteps *int
	TotalSteps     *int
}

// ActiveSet toggles the session's active flag. Going inactive completes any
// activity still pending.
type ActiveSet struct {
	Active bool
}

type Cleared struct {
	At string
}

type Reactivated struct{}

func (SourceAdded) event()   {}
func (ActivityAdded) event() {}
func (ActiveSet) event()     {}
func (Cleared) event()       {}
func (Reactivated) event()   {}

// Transition applies one event to a session and returns the next session.
// The input session is never modified.
func Transition(s Session, e Event, rules Rules) (Session, error) {
	if s.IsCleared {
		switch e.(type) {
		case Cleared, Reactivated:
		default:
			return s, ErrSessionCleared
		}
	}

	next := s.clone()

	switch ev := e.(type) {
	case SourceAdded:
		if containsSource(next.Sources, ev.Source) {
			return s, nil
		}
		next.activate()
		m := ev.Metrics
		m.DepthLevel = next.CurrentDepth
		src := ev.Source
		src.Metrics = &m
		next.Sources = append(next.Sources, src)

		next = OptimizeThresholds(next)
		if ShouldAdvance(next, next.Metrics(), rules) {
			next = advance(next)
		}

	case ActivityAdded:
		next.activate()
		a := ev.Activity
		if a.Depth == 0 {
			a.Depth = next.CurrentDepth
		}
		next.Activity = append(next.Activity, a)
		if ev.CompletedSteps != nil {
			next.CompletedSteps = *ev.CompletedSteps
		}
		if ev.TotalSteps != nil {
			next.TotalExpectedSteps = *ev.TotalSteps
		}

	case ActiveSet:
		next.IsActive = ev.Active
		if !ev.Active {
			for i := range next.Activity {
				if next.Activity[i].Status == StatusPending {
					next.Activity[i].Status = StatusComplete
				}
			}
		}

	case Cleared:
		next = NewSession(s.MaxDepth)
		next.IsCleared = true
		next.ClearedAt = ev.At

	case Reactivated:
		if !s.IsCleared {
			return s, nil
		}
		next = NewSession(s.MaxDepth)

	default:
		return s, fmt.Errorf("%w: %T", ErrUnknownEvent, e)
	}

	return next, nil
}

// ShouldAdvance reports whether the sources gathered at the current depth are
// numerous and good enough to dig one level deeper.
func ShouldAdvance(s Session, metrics []SourceMetrics, rules Rules) bool {
	if s.MaxDepth <= 0 || s.CurrentDepth >= s.MaxDepth {
		return false
	}

	var n int
	var relevance, quality float64
	for _, m := range metrics {
		if m.DepthLevel != s.CurrentDepth {
			continue
		}
		n++
		relevance += m.RelevanceScore
		quality += m.ContentQuality
	}
	if n == 0 || n < rules.MaxSourcesPerDepth {
		return false
	}

	depthFactor := 1 - (float64(s.CurrentDepth)/float64(s.MaxDepth))*0.3
	threshold := rules.MinRelevanceForNextDepth * depthFactor

	return relevance/float64(n) >= threshold && quality/float64(n) >= rules.QualityThreshold
}

// OptimizeThresholds recomputes the per-depth mean relevance and derives the
// adaptive thresholds from it.
func OptimizeThresholds(s Session) Session {
	next := s.clone()
	sums := map[int]float64{}
	counts := map[int]int{}
	for _, m := range next.Metrics() {
		sums[m.DepthLevel] += m.RelevanceScore
		counts[m.DepthLevel]++
	}
	for d, n := range counts {
		next.DepthScores[d] = sums[d] / float64(n)
	}
	if len(next.DepthScores) == 0 {
		return next
	}

	var total float64
	for _, v := range next.DepthScores {
		total += v
	}
	mean := total / float64(len(next.DepthScores))

	next.AdaptiveThreshold = clamp(mean, 0.5, 0.9)
	next.MinRelevanceScore = clamp(next.AdaptiveThreshold-0.1, 0.4, 0.8)
	return next
}

func advance(s Session) Session {
	s.CurrentDepth++
	s.DepthScores[s.CurrentDepth] = 0
	return s
}

func (s *Session) activate() {
	s.IsActive = true
	if s.CurrentDepth == 0 {
		s.CurrentDepth = 1
		if _, ok := s.DepthScores[1]; !ok {
			s.DepthScores[1] = 0
		}
	}
}

func (s Session) clone() Session {
	out := s
	out.DepthScores = make(map[int]float64, len(s.DepthScores))
	for k, v := range s.DepthScores {
		out.DepthScores[k] = v
	}
	out.Activity = append(make([]Activity, 0, len(s.Activity)+1), s.Activity...)
	out.Sources = append(make([]Source, 0, len(s.Sources)+1), s.Sources...)
	return out
}

func containsSource(sources []Source, src Source) bool {
	for _, s := range sources {
		if s.URL == src.URL && s.Relevance == src.Relevance {
			return true
		}
	}
	return false
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Controller serializes transitions for one session.
type Controller struct {
	mu    sync.Mutex
	state Session
	rules Rules
}

func NewController(maxDepth int, rules Rules) *Controller {
	return &Controller{state: NewSession(maxDepth), rules: rules}
}

// RestoreController resumes a session loaded from storage.
func RestoreController(s Session, rules Rules) *Controller {
	if s.DepthScores == nil {
		s.DepthScores = map[int]float64{}
	}
	if s.MaxDepth == 0 {
		s.MaxDepth = DefaultMaxDepth
	}
	return &Controller{state: s.clone(), rules: rules}
}

func (c *Controller) Dispatch(e Event) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next, err := Transition(c.state, e, c.rules)
	if err != nil {
		return c.state.clone(), err
	}
	c.state = next
	return next.clone(), nil
}

// AddSource dispatches SourceAdded and reports whether the depth advanced.
func (c *Controller) AddSource(src Source, m SourceMetrics) (Session, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	before := c.state.CurrentDepth
	next, err := Transition(c.state, SourceAdded{Source: src, Metrics: m}, c.rules)
	if err != nil {
		return c.state.clone(), false, err
	}
	c.state = next
	if before == 0 {
		before = 1
	}
	return next.clone(), next.CurrentDepth > before, nil
}

func (c *Controller) Snapshot() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}
