package feed

import "time"

// EventType names a moderation feed event
type EventType string

const (
	EventReportSubmitted   EventType = "report_submitted"
	EventReportApproved    EventType = "report_approved"
	EventReportRejected    EventType = "report_rejected"
	EventReportReprocessed EventType = "report_reprocessed"
	EventReportsCleared    EventType = "reports_cleared"
)

// Event is pushed to every connected moderator
type Event struct {
	Type       EventType `json:"type"`
	ReportID   int64     `json:"report_id,omitempty"`
	UserID     int64     `json:"user_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	TrustScore *int      `json:"trust_score,omitempty"`
	Deleted    int64     `json:"deleted,omitempty"`
	At         time.Time `json:"at"`
}
