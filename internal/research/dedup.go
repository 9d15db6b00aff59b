package research

type sourceKey struct {
	url       string
	relevance float64
}

type activityKey struct {
	timestamp int64
	message   string
	depth     int
}

// DedupSources keeps the first occurrence of every (url, relevance) pair. The
// same URL fetched with a different relevance stays a separate entry.
func DedupSources(sources []Source) []Source {
	seen := make(map[sourceKey]struct{}, len(sources))
	out := make([]Source, 0, len(sources))
	for _, s := range sources {
		k := sourceKey{url: s.URL, relevance: s.Relevance}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}

func DedupActivities(activities []Activity) []Activity {
	seen := make(map[activityKey]struct{}, len(activities))
	out := make([]Activity, 0, len(activities))
	for _, a := range activities {
		k := activityKey{timestamp: a.Timestamp, message: a.Message, depth: a.Depth}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, a)
	}
	return out
}
