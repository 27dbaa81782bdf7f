package moderation

import (
	"errors"

	"github.com/floodwatch/floodwatch-api/internal/domain/report"
)

var (
	ErrForbidden          = errors.New("admin role required")
	ErrUnauthenticated    = errors.New("authenticated user required")
	ErrInvalidSeverity    = errors.New("severity must be LOW, MEDIUM or HIGH")
	ErrInvalidCoordinates = errors.New("latitude or longitude out of range")
	ErrMissingLocation    = errors.New("location is required")
	ErrNoOriginalImage    = errors.New("report has no original image")
	ErrInvalidCleanupMode = errors.New("cleanup mode must be deleteNonApproved or deleteAll")

	// ErrPersistence is a storage failure surfaced to the caller.
	ErrPersistence = errors.New("persistence failure")

	ErrReportNotFound  = report.ErrReportNotFound
	ErrAlreadyApproved = report.ErrAlreadyApproved
	ErrAlreadyRejected = report.ErrAlreadyRejected
	ErrOwnerNotFound   = report.ErrOwnerNotFound
)

// IsValidation reports whether err is a rejected submission field.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidSeverity) ||
		errors.Is(err, ErrInvalidCoordinates) ||
		errors.Is(err, ErrMissingLocation)
}

// IsConflict reports whether err is a disallowed status transition.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyApproved) || errors.Is(err, ErrAlreadyRejected)
}
