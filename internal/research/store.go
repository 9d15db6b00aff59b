package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/research-agent/backend/internal/storage/kv"
	"github.com/research-agent/backend/pkg/logger"
)

func StateKey(chatID string) string      { return "chat:" + chatID + ":research:state" }
func ActivitiesKey(chatID string) string { return "chat:" + chatID + ":research:activities" }
func SourcesKey(chatID string) string    { return "chat:" + chatID + ":research:sources" }

// View is the research sub-resource returned to clients.
type View struct {
	IsActive           bool       `json:"isActive"`
	IsCleared          bool       `json:"isCleared"`
	ClearedAt          string     `json:"clearedAt,omitempty"`
	Activity           []Activity `json:"activity"`
	Sources            []Source   `json:"sources"`
	CurrentDepth       int        `json:"currentDepth"`
	MaxDepth           int        `json:"maxDepth"`
	CompletedSteps     int        `json:"completedSteps"`
	TotalExpectedSteps int        `json:"totalExpectedSteps"`
}

func NewView(s Session) View {
	return View{
		IsActive:           s.IsActive,
		IsCleared:          s.IsCleared,
		ClearedAt:          s.ClearedAt,
		Activity:           DedupActivities(s.Activity),
		Sources:            DedupSources(s.Sources),
		CurrentDepth:       s.CurrentDepth,
		MaxDepth:           s.MaxDepth,
		CompletedSteps:     s.CompletedSteps,
		TotalExpectedSteps: s.TotalExpectedSteps,
	}
}

type Store struct {
	kv       kv.Store
	maxDepth int
	now      func() time.Time
}

func NewStore(store kv.Store, maxDepth int) *Store {
	return &Store{kv: store, maxDepth: clampDepth(maxDepth), now: time.Now}
}

// Load reads the state hash and both logs concurrently. A chat without
// research yet yields an idle session; a cleared one hides its logs.
func (s *Store) Load(ctx context.Context, chatID string) (Session, error) {
	var (
		state      map[string]string
		activities []string
		sources    []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h, err := s.kv.HGetAll(gctx, StateKey(chatID))
		if err != nil && !errors.Is(err, kv.ErrNotFound) {
			return err
		}
		state = h
		return nil
	})
	g.Go(func() error {
		var err error
		activities, err = s.kv.LRange(gctx, ActivitiesKey(chatID), 0, -1)
		return err
	})
	g.Go(func() error {
		var err error
		sources, err = s.kv.LRange(gctx, SourcesKey(chatID), 0, -1)
		return err
	})
	if err := g.Wait(); err != nil {
		return Session{}, fmt.Errorf("failed to load research state: %w", err)
	}

	session := decodeState(state, s.maxDepth)
	if session.IsCleared {
		return session, nil
	}

	// Lists are pushed to the head; restore chronological order.
	for i := len(activities) - 1; i >= 0; i-- {
		var a Activity
		if err := json.Unmarshal([]byte(activities[i]), &a); err != nil {
			logger.Warn("Skipping malformed research activity",
				zap.String("chat_id", chatID),
				zap.Error(err),
			)
			continue
		}
		session.Activity = append(session.Activity, a)
	}
	for i := len(sources) - 1; i >= 0; i-- {
		var src Source
		if err := json.Unmarshal([]byte(sources[i]), &src); err != nil {
			logger.Warn("Skipping malformed research source",
				zap.String("chat_id", chatID),
				zap.Error(err),
			)
			continue
		}
		session.Sources = append(session.Sources, src)
	}

	return session, nil
}

// Save writes the session counters and appends whatever current holds beyond
// loaded, all in one pipeline. A session cleared in storage since it was
// loaded is left alone. Concurrent turns of the same chat are last-write-wins.
func (s *Store) Save(ctx context.Context, chatID string, loaded, current Session) error {
	if current.IsCleared {
		return ErrSessionCleared
	}
	stored, err := s.state(ctx, chatID)
	if err != nil {
		return err
	}
	if stored.IsCleared {
		return ErrSessionCleared
	}

	newActivities, err := encodeTail(current.Activity, len(loaded.Activity))
	if err != nil {
		return fmt.Errorf("failed to encode activities: %w", err)
	}
	newSources, err := encodeTail(current.Sources, len(loaded.Sources))
	if err != nil {
		return fmt.Errorf("failed to encode sources: %w", err)
	}
	fields, err := encodeState(current, s.now())
	if err != nil {
		return err
	}

	err = s.kv.Pipeline(ctx, func(p kv.Pipe) error {
		p.HSet(StateKey(chatID), fields)
		if len(newActivities) > 0 {
			p.LPush(ActivitiesKey(chatID), newActivities...)
		}
		if len(newSources) > 0 {
			p.LPush(SourcesKey(chatID), newSources...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save research state: %w", err)
	}
	return nil
}

// SetCleared clears (dropping both logs) or reactivates a chat's research.
// Reactivating a session that is not cleared changes nothing.
func (s *Store) SetCleared(ctx context.Context, chatID string, cleared bool) (Session, error) {
	stored, err := s.state(ctx, chatID)
	if err != nil {
		return Session{}, err
	}
	if !cleared && !stored.IsCleared {
		return s.Load(ctx, chatID)
	}

	var e Event = Reactivated{}
	if cleared {
		e = Cleared{At: s.now().UTC().Format(time.RFC3339)}
	}
	next, err := Transition(stored, e, DefaultRules())
	if err != nil {
		return Session{}, err
	}

	fields, err := encodeState(next, s.now())
	if err != nil {
		return Session{}, err
	}

	err = s.kv.Pipeline(ctx, func(p kv.Pipe) error {
		p.HSet(StateKey(chatID), fields)
		p.Del(ActivitiesKey(chatID), SourcesKey(chatID))
		return nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("failed to update research state: %w", err)
	}
	return next, nil
}

func (s *Store) state(ctx context.Context, chatID string) (Session, error) {
	h, err := s.kv.HGetAll(ctx, StateKey(chatID))
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return Session{}, fmt.Errorf("failed to read research state: %w", err)
	}
	return decodeState(h, s.maxDepth), nil
}

// DeleteIn queues removal of every research key of the chat on p.
func DeleteIn(p kv.Pipe, chatID string) {
	p.Del(StateKey(chatID), ActivitiesKey(chatID), SourcesKey(chatID))
}

func encodeTail[T any](items []T, from int) ([]string, error) {
	if from > len(items) {
		from = len(items)
	}
	out := make([]string, 0, len(items)-from)
	for _, item := range items[from:] {
		data, err := json.Marshal(item)
		if err != nil {
			return nil, err
		}
		out = append(out, string(data))
	}
	return out, nil
}

func encodeState(s Session, now time.Time) (map[string]string, error) {
	scores, err := json.Marshal(s.DepthScores)
	if err != nil {
		return nil, fmt.Errorf("failed to encode depth scores: %w", err)
	}
	return map[string]string{
		"isActive":           strconv.FormatBool(s.IsActive),
		"isCleared":          strconv.FormatBool(s.IsCleared),
		"clearedAt":          s.ClearedAt,
		"currentDepth":       strconv.Itoa(s.CurrentDepth),
		"maxDepth":           strconv.Itoa(s.MaxDepth),
		"completedSteps":     strconv.Itoa(s.CompletedSteps),
		"totalExpectedSteps": strconv.Itoa(s.TotalExpectedSteps),
		"depthScores":        string(scores),
		"adaptiveThreshold":  strconv.FormatFloat(s.AdaptiveThreshold, 'f', -1, 64),
		"minRelevanceScore":  strconv.FormatFloat(s.MinRelevanceScore, 'f', -1, 64),
		"updatedAt":          now.UTC().Format(time.RFC3339),
	}, nil
}

func decodeState(h map[string]string, maxDepth int) Session {
	s := NewSession(maxDepth)
	if len(h) == 0 {
		return s
	}

	s.IsActive, _ = strconv.ParseBool(h["isActive"])
	s.IsCleared, _ = strconv.ParseBool(h["isCleared"])
	s.ClearedAt = h["clearedAt"]
	if v, err := strconv.Atoi(h["currentDepth"]); err == nil {
		s.CurrentDepth = v
	}
	if v, err := strconv.Atoi(h["maxDepth"]); err == nil && v > 0 {
		s.MaxDepth = clampDepth(v)
	}
	if v, err := strconv.Atoi(h["completedSteps"]); err == nil {
		s.CompletedSteps = v
	}
	if v, err := strconv.Atoi(h["totalExpectedSteps"]); err == nil {
		s.TotalExpectedSteps = v
	}
	if v, err := strconv.ParseFloat(h["adaptiveThreshold"], 64); err == nil {
		s.AdaptiveThreshold = v
	}
	if v, err := strconv.ParseFloat(h["minRelevanceScore"], 64); err == nil {
		s.MinRelevanceScore = v
	}
	if raw := h["depthScores"]; raw != "" {
		scores := map[int]float64{}
		if err := json.Unmarshal([]byte(raw), &scores); err == nil {
			s.DepthScores = scores
		}
	}
	return s
}
