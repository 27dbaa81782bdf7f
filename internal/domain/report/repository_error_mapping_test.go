package report

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/lib/pq"
)

func TestMapWriteError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "undefined column",
			err:  &pq.Error{Code: "42703", Message: `column "is_waterlogged" of relation "reports" does not exist`},
			want: ErrSchemaMismatch,
		},
		{
			name: "wrapped undefined column",
			err:  fmt.Errorf("insert: %w", &pq.Error{Code: "42703"}),
			want: ErrSchemaMismatch,
		},
		{
			name: "owner foreign key",
			err:  &pq.Error{Code: "23503", Constraint: "reports_user_id_fkey"},
			want: ErrOwnerNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapWriteError(tt.err); !errors.Is(got, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMapWriteErrorPassthrough(t *testing.T) {
	cases := []error{
		&pq.Error{Code: "23514", Constraint: "reports_latitude_check"},
		&pq.Error{Code: "23503", Constraint: "reports_region_fkey"},
		errors.New("connection refused"),
	}
	for _, in := range cases {
		got := mapWriteError(in)
		if errors.Is(got, ErrSchemaMismatch) || errors.Is(got, ErrOwnerNotFound) {
			t.Fatalf("expected generic error for %v, got %v", in, got)
		}
		if !errors.Is(got, in) {
			t.Fatalf("expected original error to be wrapped, got %v", got)
		}
	}
}

func TestParseSeverity(t *testing.T) {
	cases := map[string]Severity{
		"low":     SeverityLow,
		"Medium":  SeverityMedium,
		" HIGH ":  SeverityHigh,
		"extreme": "",
		"":        "",
	}
	for in, want := range cases {
		got, ok := ParseSeverity(in)
		if got != want || ok != (want != "") {
			t.Fatalf("ParseSeverity(%q) = %q,%v", in, got, ok)
		}
	}
}

func TestSelectColumns(t *testing.T) {
	got := selectColumns("r", false)
	if got[:5] != "r.id," || !strings.Contains(got, "r.is_waterlogged") {
		t.Fatalf("unexpected column list: %s", got)
	}

	legacy := selectColumns("r", true)
	for _, want := range []string{
		"r.id,",
		"NULL::text AS processed_image",
		"NULL::boolean AS is_waterlogged",
		"NULL::double precision AS confidence_score",
		"FALSE AS auto_rejected",
	} {
		if !strings.Contains(legacy, want) {
			t.Fatalf("legacy column list missing %q: %s", want, legacy)
		}
	}
	if strings.Contains(legacy, "r.auto_rejected") {
		t.Fatalf("legacy column list selects a missing column: %s", legacy)
	}
}

func TestReadWithFallback(t *testing.T) {
	var calls []bool
	err := readWithFallback(func(legacy bool) error {
		calls = append(calls, legacy)
		if !legacy {
			return &pq.Error{Code: "42703"}
		}
		return nil
	})
	if err != nil || len(calls) != 2 || !calls[1] {
		t.Fatalf("expected a legacy retry, got calls=%v err=%v", calls, err)
	}

	calls = nil
	boom := errors.New("connection reset")
	err = readWithFallback(func(legacy bool) error {
		calls = append(calls, legacy)
		return boom
	})
	if !errors.Is(err, boom) || len(calls) != 1 {
		t.Fatalf("expected no retry for other errors, got calls=%v err=%v", calls, err)
	}
}

func TestTransitionFailure(t *testing.T) {
	if err := transitionFailure("approve", &pq.Error{Code: "42703"}); !errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
	if err := transitionFailure("approve", errors.New("timeout")); errors.Is(err, ErrSchemaMismatch) {
		t.Fatalf("unexpected ErrSchemaMismatch: %v", err)
	}
}
