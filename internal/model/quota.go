package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quota record sources.
const (
	QuotaSourceManual  = "manual"
	QuotaSourceImport  = "import"
	QuotaSourceCluster = "cluster"
)

// QuotaKey is the unique identity of a QuotaRecord.
type QuotaKey struct {
	CloudID     string `json:"cloud_id"`
	ProjectName string `json:"project_name"`
}

func (k QuotaKey) String() string {
	return k.CloudID + "/" + k.ProjectName
}

// QuotaRecord is the allocated CPU (cores) and memory (bytes) ceiling of a project.
type QuotaRecord struct {
	CloudID     string          `json:"cloud_id" db:"cloud_id"`
	ProjectName string          `json:"project_name" db:"project_name"`
	CPUQuota    decimal.Decimal `json:"cpu_quota" db:"cpu_quota"`
	MemQuota    decimal.Decimal `json:"mem_quota" db:"mem_quota"`
	Source      string          `json:"source" db:"source"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

func (q QuotaRecord) Key() QuotaKey {
	return QuotaKey{CloudID: q.CloudID, ProjectName: q.ProjectName}
}

// SameQuota reports whether two records carry the same quota values.
// Identity, source and timestamps are ignored.
func (q QuotaRecord) SameQuota(o QuotaRecord) bool {
	return q.CPUQuota.Equal(o.CPUQuota) && q.MemQuota.Equal(o.MemQuota)
}

// QuotaImportRow is one untyped row of a quota sheet before validation.
// Row is the 1-based row number in the source sheet.
type QuotaImportRow struct {
	Row         int    `json:"row"`
	CloudID     string `json:"cloud_id" validate:"required,max=255"`
	ProjectName string `json:"project_name" validate:"required,max=255"`
	CPUQuota    string `json:"cpu_quota" validate:"required,numeric"`
	MemQuota    string `json:"mem_quota" validate:"required,numeric"`
}

// ImportResult summarizes a bulk quota import.
type ImportResult struct {
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Unchanged int           `json:"unchanged"`
	Failures  []ItemFailure `json:"failures"`
}

// Succeeded is the number of rows applied to the store.
func (r ImportResult) Succeeded() int {
	return r.Created + r.Updated + r.Unchanged
}

// ClusterQuota is one namespace quota allocation as listed by a cluster.
// CloudID is empty when the cluster carries no cloud id for the namespace.
type ClusterQuota struct {
	Cluster     string          `json:"cluster"`
	CloudID     string          `json:"cloud_id,omitempty"`
	ProjectName string          `json:"project_name"`
	Namespace   string          `json:"namespace"`
	CPUQuota    decimal.Decimal `json:"cpu_quota"`
	MemQuota    decimal.Decimal `json:"mem_quota"`
}
