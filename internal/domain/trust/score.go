package trust

import "math"

// Counters are the derived per-user values stored on the users row.
type Counters struct {
	Total    int `json:"total_reports" db:"total_reports"`
	Approved int `json:"approved_reports" db:"approved_reports"`
	Score    int `json:"trust_score" db:"trust_score"`
}

// UserCounters pairs a user with freshly recomputed counters.
type UserCounters struct {
	UserID int64 `json:"user_id"`
	Counters
}

// Score returns round(100 * approved / total) clamped to [0, 100], or 0 when total is 0.
func Score(total, approved int) int {
	if total <= 0 {
		return 0
	}
	s := int(math.Round(100 * float64(approved) / float64(total)))
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// Compute derives counters from the approval flag of every report a user owns.
func Compute(approved []bool) Counters {
	c := Counters{Total: len(approved)}
	for _, ok := range approved {
		if ok {
			c.Approved++
		}
	}
	c.Score = Score(c.Total, c.Approved)
	return c
}
