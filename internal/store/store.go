// Package store persists canonical representatives, resolution audit records,
// and ingest run bookkeeping. Three implementations share one interface:
// SQLite for single-operator use, Postgres for shared deployments, and an
// in-memory store for tests.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/resilience"
)

// ErrNotFound is returned by point lookups when no entity exists for the key.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing ingest runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Mode   model.RunMode   `json:"mode,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Transition is one requested lifecycle status change. Stores validate it
// against the current row before applying, so invalid transitions never
// reach disk regardless of which code path produced them.
type Transition struct {
	CanonicalID  string
	Status       model.Status
	Reason       model.StatusReason
	ReplacedByID string
	At           time.Time
}

// Store defines the persistence interface for the ingestion engine.
type Store interface {
	// Representatives
	GetRepresentative(ctx context.Context, canonicalID string) (*model.CanonicalRepresentative, error)
	// LookupByCrosswalk returns (nil, nil) when no entity carries the ID.
	LookupByCrosswalk(ctx context.Context, p model.Provider, externalID string) (*model.CanonicalRepresentative, error)
	LookupByOfficeSlot(ctx context.Context, slot model.OfficeSlot) ([]model.CanonicalRepresentative, error)
	// SearchByNormalizedName matches on the canonicalized name form produced
	// by the normalize package.
	SearchByNormalizedName(ctx context.Context, nameNorm string) ([]model.CanonicalRepresentative, error)
	ListActiveWithCrosswalk(ctx context.Context, p model.Provider) ([]model.CanonicalRepresentative, error)
	ListInactiveBefore(ctx context.Context, cutoff time.Time) ([]model.CanonicalRepresentative, error)
	// UpsertRepresentative inserts or replaces the full entity. A crosswalk ID
	// already claimed by a different entity yields a conflict error.
	UpsertRepresentative(ctx context.Context, rep *model.CanonicalRepresentative) error
	ApplyStatusTransition(ctx context.Context, t Transition) error

	// Resolution audit
	RecordFuzzyMatch(ctx context.Context, fm *model.FuzzyMatch) error
	ListFuzzyMatches(ctx context.Context, onlyUnresolved bool) ([]model.FuzzyMatch, error)
	ResolveFuzzyMatch(ctx context.Context, id int64) error
	RecordAmbiguousReplacement(ctx context.Context, ar *model.AmbiguousReplacement) error
	ListAmbiguousReplacements(ctx context.Context, onlyUnresolved bool) ([]model.AmbiguousReplacement, error)
	ResolveAmbiguousReplacement(ctx context.Context, id int64) error

	// Runs
	CreateRun(ctx context.Context, run *model.IngestRun) error
	UpdateRun(ctx context.Context, run *model.IngestRun) error
	GetRun(ctx context.Context, runID string) (*model.IngestRun, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error)

	// Checkpoints
	SaveCheckpoint(ctx context.Context, cp model.ProviderCheckpoint) error
	// LatestCheckpoint returns (nil, nil) when the provider has none.
	LatestCheckpoint(ctx context.Context, p model.Provider) (*model.ProviderCheckpoint, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// validateTransition checks t against the current row and, when t names a
// successor, the successor row. Returns noop=true when the transition was
// already applied, so re-running an ingest is harmless.
//
// Invariants enforced here for every backend:
//   - historical is terminal
//   - status_changed_at never moves backwards
//   - replaced_by only accompanies historical/replaced and must point at a
//     live (non-historical) entity
func validateTransition(current, successor *model.CanonicalRepresentative, t Transition) (noop bool, err error) {
	if !t.Status.Valid() {
		return false, resilience.Invalid(eris.Errorf("store: unknown status %q", t.Status))
	}
	if t.ReplacedByID != "" {
		if t.Status != model.StatusHistorical || t.Reason != model.ReasonReplaced {
			return false, resilience.Invalid(eris.New("store: replaced_by requires historical/replaced"))
		}
		if successor == nil {
			return false, resilience.Invalid(eris.Errorf("store: successor %s not found", t.ReplacedByID))
		}
		if successor.Status == model.StatusHistorical {
			return false, resilience.Conflict(eris.Errorf("store: successor %s is historical", t.ReplacedByID))
		}
	}
	if current.Status == t.Status && current.StatusReason == t.Reason && current.ReplacedByID == t.ReplacedByID {
		return true, nil
	}
	if current.Status == model.StatusHistorical {
		return false, resilience.Conflict(eris.Errorf("store: %s is historical, no further transitions", t.CanonicalID))
	}
	if t.At.Before(current.StatusChangedAt) {
		return false, resilience.Conflict(eris.Errorf("store: transition at %s predates status_changed_at %s",
			t.At.Format(time.RFC3339), current.StatusChangedAt.Format(time.RFC3339)))
	}
	return false, nil
}

// applyTransition mutates rep in place once validateTransition has passed.
func applyTransition(rep *model.CanonicalRepresentative, t Transition) {
	rep.Status = t.Status
	rep.StatusReason = t.Reason
	rep.ReplacedByID = t.ReplacedByID
	rep.StatusChangedAt = t.At
	rep.UpdatedAt = t.At
}
