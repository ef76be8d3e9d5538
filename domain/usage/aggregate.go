package usage

import "time"

// Aggregate combines multiple events into period stats.
// This is a PURE function.
func Aggregate(events []Event, periodStart, periodEnd time.Time) Stats {
	if len(events) == 0 {
		return Stats{
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		}
	}

	var (
		stats     Stats
		totalTime int64
	)
	stats.PeriodStart = periodStart
	stats.PeriodEnd = periodEnd

	for _, e := range events {
		if stats.AccountID == "" {
			stats.AccountID = e.AccountID
		}

		stats.TotalRequests++
		stats.TotalDocuments += e.Documents
		stats.TotalPages += e.Pages
		stats.TotalCredits += e.Credits
		totalTime += e.ProcessingTimeMs

		if e.IsError() {
			stats.ErrorCount++
		}
	}

	stats.AvgProcessingTimeMs = totalTime / stats.TotalRequests

	return stats
}

