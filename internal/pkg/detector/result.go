package detector

import "time"

// Verdict is the detector's classification of an image.
type Verdict int

const (
	Unknown Verdict = iota
	Waterlogged
	NotWaterlogged
)

func (v Verdict) String() string {
	switch v {
	case Waterlogged:
		return "waterlogged"
	case NotWaterlogged:
		return "not_waterlogged"
	default:
		return "unknown"
	}
}

// Flag maps the verdict onto the nullable is_waterlogged column.
func (v Verdict) Flag() *bool {
	switch v {
	case Waterlogged:
		t := true
		return &t
	case NotWaterlogged:
		f := false
		return &f
	default:
		return nil
	}
}

// Result is a single detector answer.
type Result struct {
	Verdict        Verdict
	Confidence     *float64
	ProcessedImage string

	// Cause is set when the call degraded to Unknown. Diagnostics only.
	Cause error
}

// ProbeResult is the raw answer to a connectivity probe.
type ProbeResult struct {
	URL        string        `json:"detector_url"`
	ImageURL   string        `json:"image_url"`
	StatusCode int           `json:"status"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Body       any           `json:"body"`
}
