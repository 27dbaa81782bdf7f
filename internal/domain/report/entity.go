package report

import (
	"strings"
	"time"
)

// Status is the moderation state of a report
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Severity as declared by the reporter
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// ParseSeverity accepts any letter case and returns the canonical upper-case value.
func ParseSeverity(s string) (Severity, bool) {
	switch sev := Severity(strings.ToUpper(strings.TrimSpace(s))); sev {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return sev, true
	default:
		return "", false
	}
}

// Report is a geotagged flooding observation.
type Report struct {
	ID            int64    `db:"id"`
	Latitude      float64  `db:"latitude"`
	Longitude     float64  `db:"longitude"`
	Location      string   `db:"location"`
	Severity      Severity `db:"severity"`
	RainIntensity string   `db:"rain_intensity"`
	Image         *string  `db:"image"`

	// Detector classification, NULL when unknown
	ProcessedImage *string  `db:"processed_image"`
	IsWaterlogged  *bool    `db:"is_waterlogged"`
	Confidence     *float64 `db:"confidence_score"`

	UserID       *int64     `db:"user_id"`
	Status       Status     `db:"status"`
	AutoRejected bool       `db:"auto_rejected"`
	ApprovedAt   *time.Time `db:"approved_at"`
	RejectedAt   *time.Time `db:"rejected_at"`
	CreatedAt    time.Time  `db:"created_at"`
}

// AdminReport is a report joined with its owner for the moderation queue.
type AdminReport struct {
	Report
	OwnerName       *string `db:"owner_name"`
	OwnerEmail      *string `db:"owner_email"`
	OwnerTrustScore int     `db:"owner_trust_score"`
}

// Classification is the detector-derived part of a report.
type Classification struct {
	IsWaterlogged  *bool
	Confidence     *float64
	ProcessedImage *string
}

// Classification returns the report's stored classification.
func (r *Report) Classification() Classification {
	return Classification{
		IsWaterlogged:  r.IsWaterlogged,
		Confidence:     r.Confidence,
		ProcessedImage: r.ProcessedImage,
	}
}

// IsApproved returns true once a moderator approved the report
func (r *Report) IsApproved() bool {
	return r.Status == StatusApproved
}
