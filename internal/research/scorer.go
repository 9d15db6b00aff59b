package research

import (
	"math"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

var highAuthorityDomains = []string{
	"wikipedia.org",
	"github.com",
	"stackoverflow.com",
	"medium.com",
	"arxiv.org",
}

var publishedDateLayouts = []string{
	time.RFC3339,
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 Jan 2006",
}

// Score computes the metrics of one retrieved document relative to the query
// that found it. The depth level is left at 1; the controller retags it.
func Score(content, query, rawURL, publishedDate string) SourceMetrics {
	return ScoreAt(content, query, rawURL, publishedDate, time.Now())
}

func ScoreAt(content, query, rawURL, publishedDate string, now time.Time) SourceMetrics {
	return SourceMetrics{
		RelevanceScore:  RelevanceScore(content, query),
		DepthLevel:      1,
		ContentQuality:  ContentQuality(content),
		TimeRelevance:   TimeRelevance(publishedDate, now),
		SourceAuthority: SourceAuthority(rawURL),
	}
}

func RelevanceScore(content, query string) float64 {
	length := utf8.RuneCountInString(content)
	terms := strings.Fields(strings.ToLower(query))
	if length == 0 || len(terms) == 0 {
		return 0
	}

	lower := strings.ToLower(content)
	norm := float64(length) / 500

	var sum float64
	for _, term := range terms {
		count := float64(strings.Count(lower, term))
		sum += math.Min(count/norm, 1)
	}
	score := sum / float64(len(terms))

	if strings.Contains(lower, strings.ToLower(strings.TrimSpace(query))) {
		score += 0.3
	}
	return math.Min(score, 1)
}

func ContentQuality(content string) float64 {
	if content == "" {
		return 0
	}

	lengthScore := math.Min(float64(utf8.RuneCountInString(content))/2000, 1)
	structureScore := math.Min(float64(len(strings.Split(content, "\n\n")))/5, 1)

	words := strings.Fields(content)
	var diversity float64
	if len(words) > 0 {
		unique := make(map[string]struct{}, len(words))
		for _, w := range words {
			unique[strings.ToLower(w)] = struct{}{}
		}
		diversity = float64(len(unique)) / float64(len(words))
	}

	return (lengthScore + structureScore + diversity) / 3
}

// TimeRelevance is a step function of document age. Unknown or unparseable
// dates score 0.5.
func TimeRelevance(publishedDate string, now time.Time) float64 {
	published, ok := parsePublishedDate(publishedDate)
	if !ok {
		return 0.5
	}

	age := now.Sub(published).Hours() / 24
	switch {
	case age < 7:
		return 1
	case age < 30:
		return 0.9
	case age < 90:
		return 0.8
	case age < 365:
		return 0.6
	default:
		return 0.4
	}
}

func SourceAuthority(rawURL string) float64 {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0.5
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return 0.5
	}

	switch {
	case strings.HasSuffix(host, ".edu"), strings.HasSuffix(host, ".gov"):
		return 0.9
	case strings.HasSuffix(host, ".org"):
		return 0.8
	}
	for _, d := range highAuthorityDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return 0.8
		}
	}
	return 0.5
}

func parsePublishedDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range publishedDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
