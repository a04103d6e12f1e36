package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"odprt-chatbot/gateway/internal/upstream"
)

func day(d int) upstream.Timestamp {
	return upstream.NewTimestamp(time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC))
}

func TestFilterByDateInclusiveBounds(t *testing.T) {
	points := []upstream.CountPoint{
		{Date: day(1), Total: 1},
		{Date: day(5), Total: 5},
		{Date: day(10), Total: 10},
		{Total: 99}, // zero date, dropped
	}

	got := FilterByDate(points,
		time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC))

	require.Len(t, got, 2)
	assert.Equal(t, 5, got[0].Total)
	assert.Equal(t, 10, got[1].Total)
}

func TestDownsampleKeepsFinalPoint(t *testing.T) {
	points := make([]int, 100)
	for i := range points {
		points[i] = i
	}

	got := Downsample(points, 10)
	assert.Equal(t, []int{0, 10, 20, 30, 40, 50, 60, 70, 80, 99}, got)
}

func TestDownsampleShortSeriesUntouched(t *testing.T) {
	points := []int{1, 2, 3}
	assert.Equal(t, points, Downsample(points, 10))
	assert.Equal(t, points, Downsample(points, 0))
}

func TestDownsampleStride(t *testing.T) {
	points := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}
	got := Downsample(points, 3)
	// stride 3 keeps 0,3,6; the trailing sample becomes the final point
	assert.Equal(t, []int{0, 3, 9}, got)
}

func TestTruncateTick(t *testing.T) {
	assert.Equal(t, "short", TruncateTick("short", 10))
	assert.Equal(t, "Grant appl...", TruncateTick("Grant applications and funding", 10))
	assert.Equal(t, "untouched", TruncateTick("untouched", 0))
}

func TestInterventionSlices(t *testing.T) {
	stats := upstream.DashboardStats{TotalConversations: 10, InterventionCount: 3}
	slices := InterventionSlices(stats)
	require.Len(t, slices, 2)
	assert.Equal(t, 7, slices[0].Value)
	assert.Equal(t, 3, slices[1].Value)

	// Inconsistent backend counts never go negative.
	slices = InterventionSlices(upstream.DashboardStats{TotalConversations: 1, InterventionCount: 5})
	assert.Equal(t, 0, slices[0].Value)
}

func TestTopTopicsLimit(t *testing.T) {
	stats := upstream.DashboardStats{TopTopics: []upstream.TopicCount{
		{Topic: "a", Frequency: 9},
		{Topic: "b", Frequency: 5},
		{Topic: "c", Frequency: 1},
	}}
	assert.Len(t, TopTopics(stats, 2), 2)
	assert.Len(t, TopTopics(stats, 0), 3)
	assert.Len(t, TopTopics(stats, 10), 3)
}

func TestExportFilename(t *testing.T) {
	now := time.Date(2025, 3, 15, 8, 30, 0, 0, time.UTC)
	assert.Equal(t, "dashboard_export_2025-03-15T08-30-00Z.xlsx", ExportFilename(now))
}
