package model

import "errors"

// Kind is the broad class of a failure. It decides how a caller surfaces it.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindAmbiguity         Kind = "ambiguity"
	KindSourceUnavailable Kind = "source_unavailable"
	KindConflict          Kind = "conflict"
	KindInternal          Kind = "internal"
)

var (
	ErrInvalidFilename     = errors.New("invalid filename")
	ErrInvalidLine         = errors.New("invalid line")
	ErrInvalidRow          = errors.New("invalid row")
	ErrUnresolvableCloudID = errors.New("unresolvable cloud id")
	ErrDivisionByZeroQuota = errors.New("division by zero quota")
	ErrInvalidQuota        = errors.New("invalid quota")
	ErrInvalidRange        = errors.New("invalid date range")
	ErrUnsupportedFormat   = errors.New("unsupported format")

	ErrQuotaNotFound       = errors.New("quota not found")
	ErrQuotaRecordNotFound = errors.New("quota record not found")
	ErrCloudIDMissing      = errors.New("cloud id missing")
	ErrUploadNotFound      = errors.New("upload not found")
	ErrReportNotFound      = errors.New("report not found")

	ErrAmbiguousProject = errors.New("ambiguous project")

	ErrSourceUnavailable     = errors.New("source unavailable")
	ErrPartialMetricsFailure = errors.New("partial metrics failure")

	ErrRunInProgress = errors.New("sync run already in progress")
)

type classified struct {
	err  error
	kind Kind
	code string
}

// Ordered so that the most specific sentinel in a wrapped chain wins.
var taxonomy = []classified{
	{ErrInvalidFilename, KindValidation, "invalid_filename"},
	{ErrInvalidLine, KindValidation, "invalid_line"},
	{ErrInvalidRow, KindValidation, "invalid_row"},
	{ErrUnresolvableCloudID, KindValidation, "unresolvable_cloud_id"},
	{ErrDivisionByZeroQuota, KindValidation, "division_by_zero_quota"},
	{ErrInvalidQuota, KindValidation, "invalid_quota"},
	{ErrInvalidRange, KindValidation, "invalid_range"},
	{ErrUnsupportedFormat, KindValidation, "unsupported_format"},
	{ErrQuotaNotFound, KindNotFound, "quota_not_found"},
	{ErrQuotaRecordNotFound, KindNotFound, "not_found"},
	{ErrCloudIDMissing, KindNotFound, "cloud_id_missing"},
	{ErrUploadNotFound, KindNotFound, "upload_not_found"},
	{ErrReportNotFound, KindNotFound, "report_not_found"},
	{ErrAmbiguousProject, KindAmbiguity, "ambiguous_project"},
	{ErrPartialMetricsFailure, KindSourceUnavailable, "partial_metrics_failure"},
	{ErrSourceUnavailable, KindSourceUnavailable, "source_unavailable"},
	{ErrRunInProgress, KindConflict, "run_in_progress"},
}

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) Kind {
	for _, c := range taxonomy {
		if errors.Is(err, c.err) {
			return c.kind
		}
	}
	return KindInternal
}

// CodeOf returns the stable machine-readable code for err.
func CodeOf(err error) string {
	for _, c := range taxonomy {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return "internal"
}
