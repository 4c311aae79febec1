// Package lifecycle drives the three-state status machine for canonical
// representatives: active, inactive, historical. Transitions are derived by
// comparing the store against each roster provider's current view.
package lifecycle

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/resilience"
	"github.com/choices-civics/repsync/internal/store"
)

// RosterView is what one provider reported during a run: which canonical
// entities its current roster covered, and which entities were newly created
// claiming an office slot.
type RosterView struct {
	Provider model.Provider
	// SeenCanonicalIDs are entities the provider's current roster confirmed.
	SeenCanonicalIDs map[string]bool
	// SlotClaims maps OfficeSlot.Key() to canonical IDs of entities created
	// this run that claim the slot. Used for replacement detection.
	SlotClaims map[string][]string
	// Complete is false when the provider was cut short (quota exhaustion or
	// deadline). Absence from an incomplete roster proves nothing, so no
	// deactivations are derived from it.
	Complete bool
}

// Result summarizes the transitions one roster view produced.
type Result struct {
	Deactivated int
	Replaced    int
	// AmbiguousSlots lists incumbent canonical IDs whose slot had more than
	// one simultaneous claimant. Flagged for review, left active.
	AmbiguousSlots []string
	Errors         int
}

// Options configures a Manager.
type Options struct {
	// Retention is how long an entity stays inactive before promotion to
	// historical.
	Retention time.Duration
	// ChunkSize bounds how many transitions are applied between progress log
	// lines. A failed transition is retried once, then skipped and counted.
	ChunkSize int
	// DryRun computes and logs every transition without writing.
	DryRun bool
}

// Manager applies lifecycle transitions against the store.
type Manager struct {
	store store.Store
	opts  Options
	log   *zap.Logger
	now   func() time.Time
}

// New creates a Manager. Zero-value option fields get defaults: 90 days
// retention, chunks of 25.
func New(st store.Store, opts Options) *Manager {
	if opts.Retention <= 0 {
		opts.Retention = 90 * 24 * time.Hour
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 25
	}
	return &Manager{
		store: st,
		opts:  opts,
		log:   zap.L().Named("lifecycle"),
		now:   time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Dry returns a copy of the manager that computes and logs transitions
// without writing them.
func (m *Manager) Dry() *Manager {
	opts := m.opts
	opts.DryRun = true
	return &Manager{store: m.store, opts: opts, log: m.log, now: m.now}
}

// Apply reconciles the store's active entities for one provider against the
// roster view. Entities absent from a complete roster are deactivated,
// unless exactly one new claimant took their slot, in which case the absence
// is a replacement. Multiple claimants are flagged, never auto-resolved.
func (m *Manager) Apply(ctx context.Context, runID string, view RosterView) (*Result, error) {
	res := &Result{}
	if !view.Provider.CurrentRoster() {
		return res, nil
	}
	if !view.Complete {
		m.log.Warn("incomplete roster, skipping deactivation",
			zap.String("provider", string(view.Provider)))
		return res, nil
	}

	actives, err := m.store.ListActiveWithCrosswalk(ctx, view.Provider)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	var transitions []store.Transition
	for i := range actives {
		rep := &actives[i]
		if view.SeenCanonicalIDs[rep.CanonicalID] {
			continue
		}

		claimants := otherClaimants(view.SlotClaims[rep.Slot().Key()], rep.CanonicalID)
		switch len(claimants) {
		case 0:
			transitions = append(transitions, store.Transition{
				CanonicalID: rep.CanonicalID,
				Status:      model.StatusInactive,
				Reason:      model.ReasonNotCurrentInSource,
				At:          now,
			})
		case 1:
			m.log.Info("replacement detected",
				zap.String("incumbent", rep.CanonicalID),
				zap.String("successor", claimants[0]),
				zap.String("slot", rep.Slot().Key()),
			)
			transitions = append(transitions, store.Transition{
				CanonicalID:  rep.CanonicalID,
				Status:       model.StatusHistorical,
				Reason:       model.ReasonReplaced,
				ReplacedByID: claimants[0],
				At:           now,
			})
		default:
			m.log.Warn("ambiguous replacement, holding for review",
				zap.String("incumbent", rep.CanonicalID),
				zap.Strings("claimants", claimants),
				zap.String("slot", rep.Slot().Key()),
			)
			res.AmbiguousSlots = append(res.AmbiguousSlots, rep.CanonicalID)
			if !m.opts.DryRun {
				if err := m.store.RecordAmbiguousReplacement(ctx, &model.AmbiguousReplacement{
					RunID:       runID,
					Slot:        rep.Slot(),
					IncumbentID: rep.CanonicalID,
					ClaimantIDs: claimants,
					CreatedAt:   now,
				}); err != nil {
					return nil, err
				}
			}
		}
	}

	failed := m.applyChunked(ctx, view.Provider, transitions)
	res.Errors = len(failed)

	// Counters reflect applied transitions, not queued ones.
	skipped := make(map[string]bool, len(failed))
	for _, t := range failed {
		skipped[t.CanonicalID] = true
	}
	for _, t := range transitions {
		if skipped[t.CanonicalID] {
			continue
		}
		if t.Reason == model.ReasonReplaced {
			res.Replaced++
		} else {
			res.Deactivated++
		}
	}
	return res, nil
}

// PromoteExpired moves entities that have sat inactive past the retention
// window to historical. Returns how many were promoted.
func (m *Manager) PromoteExpired(ctx context.Context) (int, error) {
	now := m.now().UTC()
	cutoff := now.Add(-m.opts.Retention)
	expired, err := m.store.ListInactiveBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	var transitions []store.Transition
	for _, rep := range expired {
		// No provider carries a retirement signal at promotion time, so
		// every retention promotion records term_ended. A source hint would
		// have set retired or deceased at deactivation already.
		transitions = append(transitions, store.Transition{
			CanonicalID: rep.CanonicalID,
			Status:      model.StatusHistorical,
			Reason:      model.ReasonTermEnded,
			At:          now,
		})
	}
	failed := m.applyChunked(ctx, "", transitions)
	return len(transitions) - len(failed), nil
}

// applyChunked writes transitions in chunks, retrying each failure once.
// Persistent failures are logged and skipped so one bad row cannot block the
// rest of the run. Returns the transitions that failed.
func (m *Manager) applyChunked(ctx context.Context, p model.Provider, transitions []store.Transition) []store.Transition {
	if m.opts.DryRun {
		for _, t := range transitions {
			m.log.Info("dry run: would transition",
				zap.String("canonical_id", t.CanonicalID),
				zap.String("status", string(t.Status)),
				zap.String("reason", string(t.Reason)),
			)
		}
		return nil
	}

	var failed []store.Transition
	for start := 0; start < len(transitions); start += m.opts.ChunkSize {
		end := start + m.opts.ChunkSize
		if end > len(transitions) {
			end = len(transitions)
		}
		for _, t := range transitions[start:end] {
			err := m.store.ApplyStatusTransition(ctx, t)
			if err != nil && !resilience.IsInvalid(err) && !resilience.IsConflict(err) {
				err = m.store.ApplyStatusTransition(ctx, t)
			}
			if err != nil {
				failed = append(failed, t)
				m.log.Error("transition failed",
					zap.String("canonical_id", t.CanonicalID),
					zap.String("status", string(t.Status)),
					zap.Error(err),
				)
			}
		}
		m.log.Debug("transition chunk applied",
			zap.String("provider", string(p)),
			zap.Int("done", end),
			zap.Int("total", len(transitions)),
		)
	}
	return failed
}

func otherClaimants(ids []string, exclude string) []string {
	var out []string
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	return out
}
