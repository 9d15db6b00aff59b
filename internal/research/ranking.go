package research

import (
	"math"
	"sort"
)

const (
	weightRelevance = 0.35
	weightQuality   = 0.25
	weightTime      = 0.15
	weightAuthority = 0.15
	weightDepth     = 0.10
)

type ScoreBreakdown struct {
	Relevance float64 `json:"relevance"`
	Quality   float64 `json:"quality"`
	Time      float64 `json:"time"`
	Authority float64 `json:"authority"`
	Depth     float64 `json:"depth"`
}

type CompositeScore struct {
	Total     float64        `json:"total"`
	Breakdown ScoreBreakdown `json:"breakdown"`
}

type RankedSource struct {
	Source
	Score CompositeScore `json:"score"`
	Label string         `json:"label"`
}

// Rank weighs the four source metrics plus a logarithmic depth bonus. It is
// presentation only and never feeds back into ShouldAdvance.
func Rank(m SourceMetrics, currentDepth, maxDepth int) CompositeScore {
	var depthBonus float64
	if maxDepth > 0 {
		level := m.DepthLevel
		if level < 0 {
			level = 0
		}
		if level > maxDepth {
			level = maxDepth
		}
		depthBonus = math.Log10(float64(level+1)) / math.Log10(float64(maxDepth+1))
	}

	b := ScoreBreakdown{
		Relevance: unit(m.RelevanceScore) * weightRelevance,
		Quality:   unit(m.ContentQuality) * weightQuality,
		Time:      unit(m.TimeRelevance) * weightTime,
		Authority: unit(m.SourceAuthority) * weightAuthority,
		Depth:     depthBonus * weightDepth,
	}
	total := b.Relevance + b.Quality + b.Time + b.Authority + b.Depth

	return CompositeScore{
		Total:     math.Round(total*100) / 100,
		Breakdown: b,
	}
}

func Label(total float64) string {
	switch {
	case total >= 0.8:
		return "excellent"
	case total >= 0.6:
		return "good"
	case total >= 0.4:
		return "fair"
	default:
		return "basic"
	}
}

// RankSources scores the deduplicated sources and orders them best first.
// Sources stored without metrics are scored from their relevance and URL.
func RankSources(sources []Source, currentDepth, maxDepth int) []RankedSource {
	deduped := DedupSources(sources)
	out := make([]RankedSource, 0, len(deduped))
	for _, src := range deduped {
		m := SourceMetrics{
			RelevanceScore:  src.Relevance,
			DepthLevel:      1,
			TimeRelevance:   0.5,
			SourceAuthority: SourceAuthority(src.URL),
		}
		if src.Metrics != nil {
			m = *src.Metrics
		}
		score := Rank(m, currentDepth, maxDepth)
		out = append(out, RankedSource{Source: src, Score: score, Label: Label(score.Total)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score.Total > out[j].Score.Total
	})
	return out
}

func unit(v float64) float64 {
	return clamp(v, 0, 1)
}
