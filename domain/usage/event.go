// Package usage provides usage event types and aggregation functions.
// All functions are pure - no side effects.
package usage

import "time"

// Statuses a usage event can carry.
const (
	StatusSuccess = "success"
	StatusPartial = "partial"
	StatusError   = "error"
)

// Event represents a single conversion usage event (immutable value type).
type Event struct {
	ID               int64
	AccountID        string
	RequestID        string
	Endpoint         string
	Documents        int64
	Pages            int64
	Credits          int64
	ProcessingTimeMs int64
	Status           string
	ErrorMessage     string
	CreatedAt        time.Time
}

// NewEvent creates a usage event for a completed conversion request.
func NewEvent(accountID, requestID, endpoint string, documents, pages, credits, processingTimeMs int64, status string, timestamp time.Time) Event {
	return Event{
		AccountID:        accountID,
		RequestID:        requestID,
		Endpoint:         endpoint,
		Documents:        documents,
		Pages:            pages,
		Credits:          credits,
		ProcessingTimeMs: processingTimeMs,
		Status:           status,
		CreatedAt:        timestamp,
	}
}

// WithError returns a copy of the event marked failed with the given message.
func (e Event) WithError(msg string) Event {
	e.Status = StatusError
	e.ErrorMessage = msg
	return e
}

// IsError reports whether the event recorded a failed request.
func (e Event) IsError() bool {
	return e.Status == StatusError
}

// Stats represents aggregated usage for a period (value type).
type Stats struct {
	AccountID           string
	PeriodStart         time.Time
	PeriodEnd           time.Time
	TotalRequests       int64
	TotalDocuments      int64
	TotalPages          int64
	TotalCredits        int64
	AvgProcessingTimeMs int64
	ErrorCount          int64
}
