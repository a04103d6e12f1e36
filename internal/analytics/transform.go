package analytics

import (
	"time"

	"odprt-chatbot/gateway/internal/upstream"
)

// FilterByDate keeps the points whose date falls inside [from, to],
// inclusive on both ends. Zero-dated points are dropped.
func FilterByDate(points []upstream.CountPoint, from, to time.Time) []upstream.CountPoint {
	out := make([]upstream.CountPoint, 0, len(points))
	for _, p := range points {
		d := p.Date.Time
		if d.IsZero() {
			continue
		}
		if d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Downsample thins a series to at most max points by stride sampling: every
// n-th point is kept, where n is the series length divided by max, and the
// trailing sample is replaced with the final point so the chart ends on the
// latest value without exceeding the cap.
func Downsample[T any](points []T, max int) []T {
	if max <= 0 || len(points) <= max {
		return points
	}
	stride := len(points) / max
	out := make([]T, 0, max)
	for i := 0; i < len(points) && len(out) < max; i += stride {
		out = append(out, points[i])
	}
	out[len(out)-1] = points[len(points)-1]
	return out
}

// TruncateTick shortens an axis label to max runes, appending an ellipsis
// when anything was cut.
func TruncateTick(label string, max int) string {
	runes := []rune(label)
	if max <= 0 || len(runes) <= max {
		return label
	}
	return string(runes[:max]) + "..."
}

// PieSlice is one wedge of the intervention breakdown chart.
type PieSlice struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// InterventionSlices shapes the resolved/unresolved split for the pie
// chart. Conversations flagged for intervention count as unresolved.
func InterventionSlices(stats upstream.DashboardStats) []PieSlice {
	resolved := stats.TotalConversations - stats.InterventionCount
	if resolved < 0 {
		resolved = 0
	}
	return []PieSlice{
		{Label: "Resolved", Value: resolved},
		{Label: "Needs intervention", Value: stats.InterventionCount},
	}
}

// TopTopics returns at most n topics ordered as the backend ranked them.
func TopTopics(stats upstream.DashboardStats, n int) []upstream.TopicCount {
	if n <= 0 || len(stats.TopTopics) <= n {
		return stats.TopTopics
	}
	return stats.TopTopics[:n]
}
