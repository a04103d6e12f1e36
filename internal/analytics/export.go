package analytics

import (
	"fmt"
	"io"
	"time"

	"github.com/unidoc/unioffice/spreadsheet"

	"odprt-chatbot/gateway/internal/upstream"
)

// ExportFilename names a dashboard workbook for the given export instant.
func ExportFilename(now time.Time) string {
	return "dashboard_export_" + now.UTC().Format("2006-01-02T15-04-05Z") + ".xlsx"
}

// WriteXLSX renders the dashboard aggregates as a spreadsheet workbook: a
// summary sheet of scalar stats plus one sheet per time series, so the
// export carries the same data the charts show.
func WriteXLSX(w io.Writer, stats upstream.DashboardStats, r Range) error {
	wb := spreadsheet.New()
	defer wb.Close()

	summary := wb.AddSheet()
	summary.SetName("Dashboard Data")

	header := summary.AddRow()
	header.AddCell().SetString("Metric")
	header.AddCell().SetString("Value")

	addStat := func(name string, value any) {
		row := summary.AddRow()
		row.AddCell().SetString(name)
		switch v := value.(type) {
		case int:
			row.AddCell().SetNumber(float64(v))
		case float64:
			row.AddCell().SetNumber(v)
		default:
			row.AddCell().SetString(fmt.Sprint(v))
		}
	}

	addStat("Date range", r.Start.Format(dateLayout)+" to "+r.End.Format(dateLayout))
	addStat("Total conversations", stats.TotalConversations)
	addStat("Average messages per conversation", stats.AvgMessagesPerConv)
	addStat("Total users", stats.TotalUsers)
	addStat("New users in range", stats.NewUsersSinceStart)
	addStat("Conversations needing intervention", stats.InterventionCount)
	addStat("Average time spent (seconds)", stats.AvgTimeSpentSeconds)
	addStat("Average rating", stats.AvgRating)
	addStat("Total feedbacks", stats.TotalFeedbacks)
	addStat("Thumbs up", stats.TotalThumbsUp)
	addStat("Thumbs down", stats.TotalThumbsDown)

	topics := wb.AddSheet()
	topics.SetName("Top Topics")
	row := topics.AddRow()
	row.AddCell().SetString("Topic")
	row.AddCell().SetString("Frequency")
	for _, t := range stats.TopTopics {
		row = topics.AddRow()
		row.AddCell().SetString(t.Topic)
		row.AddCell().SetNumber(float64(t.Frequency))
	}

	queries := wb.AddSheet()
	queries.SetName("Queries Over Time")
	row = queries.AddRow()
	row.AddCell().SetString("Date")
	row.AddCell().SetString("Queries")
	for _, p := range stats.UserQueriesOverTime {
		row = queries.AddRow()
		row.AddCell().SetString(p.Date.Format(dateLayout))
		row.AddCell().SetNumber(float64(p.Total))
	}

	experience := wb.AddSheet()
	experience.SetName("Experience Over Time")
	row = experience.AddRow()
	row.AddCell().SetString("Date")
	row.AddCell().SetString("Average Rating")
	for _, p := range stats.UserExperienceOverTime {
		row = experience.AddRow()
		row.AddCell().SetString(p.Date.Format(dateLayout))
		row.AddCell().SetNumber(p.AvgRating)
	}

	unresolved := wb.AddSheet()
	unresolved.SetName("Unresolved Topics")
	row = unresolved.AddRow()
	row.AddCell().SetString("Faculty")
	row.AddCell().SetString("Topic")
	row.AddCell().SetString("Unresolved Count")
	for _, t := range stats.TopUnresolvedTopics {
		row = unresolved.AddRow()
		row.AddCell().SetString(t.Faculty)
		row.AddCell().SetString(t.Topic)
		row.AddCell().SetNumber(float64(t.UnresolvedCount))
	}

	feedbacks := wb.AddSheet()
	feedbacks.SetName("Recent Feedbacks")
	row = feedbacks.AddRow()
	row.AddCell().SetString("Conversation")
	row.AddCell().SetString("User")
	row.AddCell().SetString("Feedback")
	row.AddCell().SetString("Created")
	for _, f := range stats.RecentFeedbacks {
		row = feedbacks.AddRow()
		row.AddCell().SetString(f.ConversationID)
		row.AddCell().SetString(f.UserID)
		row.AddCell().SetString(f.Feedback)
		row.AddCell().SetString(f.CreatedAt.Format(time.RFC3339))
	}

	if err := wb.Validate(); err != nil {
		return fmt.Errorf("export workbook invalid: %w", err)
	}
	return wb.Save(w)
}
