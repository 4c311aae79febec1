package model

import "time"

// RunMode selects the ingest strategy.
type RunMode string

const (
	// RunModeFirstTime seeds the store from current-only queries. Providers
	// without current-only support are skipped entirely.
	RunModeFirstTime RunMode = "first_time"
	// RunModeEnrichment adds new entities, applies lifecycle transitions, then
	// fills in non-identity fields, in that fixed order.
	RunModeEnrichment RunMode = "enrichment"
)

// RunStatus is the overall state of an ingest run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	// RunStatusPartial marks a run cut short by its deadline or by provider
	// exhaustion; merged entities are committed and checkpoints allow resume.
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// ProviderCounts is the per-provider bookkeeping for one run.
type ProviderCounts struct {
	Fetched     int  `json:"fetched"`
	Merged      int  `json:"merged"`
	Created     int  `json:"created"`
	Deactivated int  `json:"deactivated"`
	Replaced    int  `json:"replaced"`
	Invalid     int  `json:"invalid"`
	Skipped     int  `json:"skipped"`
	Exhausted   bool `json:"exhausted,omitempty"`
}

// IngestRun is the bookkeeping record for one execution.
type IngestRun struct {
	ID          string                      `json:"id"`
	Mode        RunMode                     `json:"mode"`
	DryRun      bool                        `json:"dry_run,omitempty"`
	Status      RunStatus                   `json:"status"`
	StartedAt   time.Time                   `json:"started_at"`
	CompletedAt *time.Time                  `json:"completed_at,omitempty"`
	Counts      map[Provider]ProviderCounts `json:"counts"`
	ErrorCount  int                         `json:"error_count"`
	// FlaggedFuzzy and FlaggedAmbiguous surface entities needing a human,
	// so edge cases never block ingestion of the unambiguous majority.
	FlaggedFuzzy     []string `json:"flagged_fuzzy,omitempty"`
	FlaggedAmbiguous []string `json:"flagged_ambiguous,omitempty"`
}

// ProviderCheckpoint records pagination progress so a subsequent run can
// resume a provider instead of re-fetching everything.
type ProviderCheckpoint struct {
	RunID     string    `json:"run_id"`
	Provider  Provider  `json:"provider"`
	Cursor    string    `json:"cursor"`
	Completed bool      `json:"completed"`
	UpdatedAt time.Time `json:"updated_at"`
}
