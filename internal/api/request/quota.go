package request

import "github.com/shopspring/decimal"

type UpsertQuota struct {
	CloudID     string          `json:"cloud_id" validate:"required,name"`
	ProjectName string          `json:"project_name" validate:"required,name"`
	CPUQuota    decimal.Decimal `json:"cpu_quota"`
	MemQuota    decimal.Decimal `json:"mem_quota"`
}

type TriggerSync struct {
	// Date is YYYY-MM-DD. Empty means the previous day.
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}
