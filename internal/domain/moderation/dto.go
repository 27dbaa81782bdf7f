package moderation

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/floodwatch/floodwatch-api/internal/domain/report"
	"github.com/floodwatch/floodwatch-api/internal/domain/trust"
)

// CreateReportRequest is the body of POST /reports
type CreateReportRequest struct {
	Latitude      *float64    `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude     *float64    `json:"longitude" validate:"required,gte=-180,lte=180"`
	Location      string      `json:"location" validate:"required,max=500"`
	Severity      string      `json:"severity" validate:"required,severity"`
	RainIntensity textOrNumber `json:"rainIntensity" validate:"required,max=100"`
	ImageBase64   string      `json:"imageBase64,omitempty"`
}

func (r *CreateReportRequest) toInput() SubmitInput {
	return SubmitInput{
		Latitude:      *r.Latitude,
		Longitude:     *r.Longitude,
		Location:      r.Location,
		Severity:      r.Severity,
		RainIntensity: string(r.RainIntensity),
		ImageBase64:   r.ImageBase64,
	}
}

// textOrNumber accepts a JSON string or number.
type textOrNumber string

func (t *textOrNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = textOrNumber(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = textOrNumber(n.String())
	return nil
}

// ReportResponse is a report as returned by the API
type ReportResponse struct {
	ID              int64      `json:"id"`
	Latitude        float64    `json:"latitude"`
	Longitude       float64    `json:"longitude"`
	Location        string     `json:"location"`
	Severity        string     `json:"severity"`
	RainIntensity   string     `json:"rainIntensity"`
	Image           *string    `json:"image"`
	ProcessedImage  *string    `json:"processedImage"`
	IsWaterlogged   *bool      `json:"isWaterlogged"`
	ConfidenceScore *float64   `json:"confidenceScore"`
	Status          string     `json:"status"`
	UserID          *int64     `json:"userId"`
	AutoRejected    bool       `json:"autoRejected"`
	ApprovedAt      *time.Time `json:"approvedAt"`
	RejectedAt      *time.Time `json:"rejectedAt"`
	CreatedAt       time.Time  `json:"createdAt"`
}

func ReportResponseFromEntity(r *report.Report) ReportResponse {
	return ReportResponse{
		ID:              r.ID,
		Latitude:        r.Latitude,
		Longitude:       r.Longitude,
		Location:        r.Location,
		Severity:        string(r.Severity),
		RainIntensity:   r.RainIntensity,
		Image:           r.Image,
		ProcessedImage:  r.ProcessedImage,
		IsWaterlogged:   r.IsWaterlogged,
		ConfidenceScore: r.Confidence,
		Status:          string(r.Status),
		UserID:          r.UserID,
		AutoRejected:    r.AutoRejected,
		ApprovedAt:      r.ApprovedAt,
		RejectedAt:      r.RejectedAt,
		CreatedAt:       r.CreatedAt,
	}
}

func reportResponses(reports []*report.Report) []ReportResponse {
	out := make([]ReportResponse, 0, len(reports))
	for _, r := range reports {
		out = append(out, ReportResponseFromEntity(r))
	}
	return out
}

// AdminReportResponse adds the owner to a report
type AdminReportResponse struct {
	ReportResponse
	UserName   *string `json:"userName"`
	UserEmail  *string `json:"userEmail"`
	TrustScore int     `json:"trustScore"`
}

func adminReportResponses(reports []*report.AdminReport) []AdminReportResponse {
	out := make([]AdminReportResponse, 0, len(reports))
	for _, r := range reports {
		out = append(out, AdminReportResponse{
			ReportResponse: ReportResponseFromEntity(&r.Report),
			UserName:       r.OwnerName,
			UserEmail:      r.OwnerEmail,
			TrustScore:     r.OwnerTrustScore,
		})
	}
	return out
}

// ModerationResponse is returned by approve, reject and reprocess
type ModerationResponse struct {
	Report     ReportResponse `json:"report"`
	TrustScore *int           `json:"trust_score,omitempty"`
}

func moderationResponse(o *Outcome) ModerationResponse {
	return ModerationResponse{
		Report:     ReportResponseFromEntity(o.Report),
		TrustScore: o.TrustScore,
	}
}

// CleanupResponse is returned by DELETE /admin/reports
type CleanupResponse struct {
	Mode         string `json:"mode"`
	Deleted      int64  `json:"deleted"`
	UsersUpdated int    `json:"users_updated"`
}

// RecalculateResponse is returned by POST /admin/reports/recalculate-trust
type RecalculateResponse struct {
	UsersUpdated int                  `json:"users_updated"`
	Users        []trust.UserCounters `json:"users"`
}

// DiagnosticResponse describes stored classification values
type DiagnosticResponse struct {
	ReportID             int64    `json:"report_id"`
	Status               string   `json:"status"`
	AutoRejected         bool     `json:"auto_rejected"`
	HasImage             bool     `json:"has_image"`
	Image                *string  `json:"image"`
	IsWaterlogged        *bool    `json:"is_waterlogged"`
	ConfidenceScore      *float64 `json:"confidence_score"`
	ProcessedImageType   string   `json:"processed_image_type"`
	ProcessedImageLength int      `json:"processed_image_length"`
}

func diagnosticResponse(d *Diagnostic) DiagnosticResponse {
	return DiagnosticResponse{
		ReportID:             d.ReportID,
		Status:               string(d.Status),
		AutoRejected:         d.AutoRejected,
		HasImage:             d.Image != nil,
		Image:                d.Image,
		IsWaterlogged:        d.IsWaterlogged,
		ConfidenceScore:      d.Confidence,
		ProcessedImageType:   d.ProcessedImageType,
		ProcessedImageLength: d.ProcessedImageLength,
	}
}
