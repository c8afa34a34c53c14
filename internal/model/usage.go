package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Sample sources.
const (
	SampleSourceUpload  = "upload"
	SampleSourceMetrics = "metrics"
)

// NamespaceUsageSample is the peak usage of one namespace on one day.
type NamespaceUsageSample struct {
	ProjectName string          `json:"project_name"`
	Namespace   string          `json:"namespace"`
	Date        time.Time       `json:"date"`
	CPUUsed     decimal.Decimal `json:"cpu_used"`
	MemUsed     decimal.Decimal `json:"mem_used"`
	Source      string          `json:"source"`
}

// SampleKey identifies the slot a sample occupies. Later samples for the
// same key replace earlier ones.
type SampleKey struct {
	ProjectName string
	Namespace   string
	Date        time.Time
}

func (s NamespaceUsageSample) Key() SampleKey {
	return SampleKey{ProjectName: s.ProjectName, Namespace: s.Namespace, Date: Day(s.Date)}
}

// Peak is the daily maximum of a namespace's total CPU (cores) and memory (bytes).
type Peak struct {
	CPU decimal.Decimal `json:"cpu"`
	Mem decimal.Decimal `json:"mem"`
}

// UsageReport is the utilization of one project on one day. Percentages are
// not clamped and exceed 100 when the project is over quota.
type UsageReport struct {
	ProjectName string          `json:"project_name" db:"project_name"`
	Date        time.Time       `json:"date" db:"report_date"`
	CPUPct      decimal.Decimal `json:"cpu_pct" db:"cpu_pct"`
	MemPct      decimal.Decimal `json:"mem_pct" db:"mem_pct"`
	CPUUsed     decimal.Decimal `json:"cpu_used" db:"cpu_used"`
	MemUsed     decimal.Decimal `json:"mem_used" db:"mem_used"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// ExportRow is one line of the utilization export.
type ExportRow struct {
	CloudID string          `json:"cloud_id"`
	Year    int             `json:"year"`
	Month   int             `json:"month"`
	Day     int             `json:"day"`
	CPUPct  decimal.Decimal `json:"cpu_pct"`
	MemPct  decimal.Decimal `json:"mem_pct"`
}

// ItemFailure describes one row, project or namespace that could not be
// processed in a batch. Index is the row or line number when there is one.
type ItemFailure struct {
	Index  int    `json:"index,omitempty"`
	Key    string `json:"key"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// NewItemFailure builds an ItemFailure whose code is derived from err.
func NewItemFailure(index int, key string, err error) ItemFailure {
	return ItemFailure{Index: index, Key: key, Code: CodeOf(err), Reason: err.Error()}
}

// BatchResult is the outcome of a batch operation.
type BatchResult struct {
	Succeeded int           `json:"succeeded"`
	Failures  []ItemFailure `json:"failures"`
}
