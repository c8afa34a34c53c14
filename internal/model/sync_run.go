package model

import "time"

// RunState is the state of an orchestrated sync run.
type RunState string

const (
	RunStateIdle         RunState = "idle"
	RunStateQuotaSyncing RunState = "quota_syncing"
	RunStateUsageSyncing RunState = "usage_syncing"
	RunStateAggregating  RunState = "aggregating"
	RunStateDone         RunState = "done"
	RunStateFailed       RunState = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s RunState) Terminal() bool {
	return s == RunStateDone || s == RunStateFailed
}

// Sync stages, used to attribute failures.
const (
	StageQuota     = "quota_sync"
	StageUsage     = "usage_sync"
	StageAggregate = "aggregate"
	StageCancelled = "cancelled"
)

// StageFailure attributes a failure to a stage and, when local, to an entity.
type StageFailure struct {
	Stage string `json:"stage"`
	ItemFailure
}

// SyncRun is the record of one orchestrated run.
type SyncRun struct {
	ID               string         `json:"id"`
	Date             time.Time      `json:"date"`
	Trigger          string         `json:"trigger"`
	State            RunState       `json:"state"`
	StartedAt        time.Time      `json:"started_at"`
	FinishedAt       *time.Time     `json:"finished_at,omitempty"`
	FailedStages     []string       `json:"failed_stages"`
	Failures         []StageFailure `json:"failures"`
	QuotasCreated    int            `json:"quotas_created"`
	QuotasUpdated    int            `json:"quotas_updated"`
	QuotasUnchanged  int            `json:"quotas_unchanged"`
	SamplesCollected int            `json:"samples_collected"`
	ReportsWritten   int            `json:"reports_written"`
}

// SyncStatus is the orchestrator's status snapshot.
type SyncStatus struct {
	State   RunState `json:"state"`
	Current *SyncRun `json:"current,omitempty"`
	Last    *SyncRun `json:"last,omitempty"`
}
