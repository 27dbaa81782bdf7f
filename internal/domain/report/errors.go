package report

import "errors"

var (
	ErrReportNotFound  = errors.New("report not found")
	ErrAlreadyApproved = errors.New("report already approved")
	ErrAlreadyRejected = errors.New("report already rejected")
	ErrOwnerNotFound   = errors.New("report owner not found")

	// ErrSchemaMismatch means the reports table lacks the classification columns.
	ErrSchemaMismatch = errors.New("reports schema is missing classification columns")
)
