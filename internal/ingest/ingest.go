// Package ingest orchestrates multi-provider ingestion runs: fan-out
// fetching, canonical resolution, precedence merging, and lifecycle
// reconciliation, with per-provider checkpoints for resume.
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/choices-civics/repsync/internal/connector"
	"github.com/choices-civics/repsync/internal/governor"
	"github.com/choices-civics/repsync/internal/lifecycle"
	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/reconcile"
	"github.com/choices-civics/repsync/internal/resilience"
	"github.com/choices-civics/repsync/internal/resolver"
	"github.com/choices-civics/repsync/internal/store"
)

// Options selects what one run does.
type Options struct {
	Mode model.RunMode
	// Providers restricts the run; empty means every wired connector.
	Providers    []model.Provider
	Jurisdiction string
	// SkipAdd suppresses creation of new entities in enrichment mode; records
	// that would create are counted as skipped.
	SkipAdd bool
	// DryRun resolves and merges without writing entities, audit records, or
	// checkpoints. The run record itself is still written, marked dry.
	DryRun bool
	// Timeout bounds the whole run. An expired deadline commits what merged
	// and marks the run partial.
	Timeout time.Duration
	// Resume picks up each provider from its latest incomplete checkpoint.
	Resume bool
}

// Orchestrator wires connectors, resolver, reconciliation, lifecycle, and the
// store into runnable ingestion.
type Orchestrator struct {
	store      store.Store
	resolver   *resolver.Resolver
	engine     *reconcile.Engine
	lifecycle  *lifecycle.Manager
	connectors map[model.Provider]connector.Connector
	log        *zap.Logger
	now        func() time.Time

	// entityMu serializes merge-and-write per canonical ID so two providers
	// resolving onto the same entity cannot interleave read-merge-write.
	entityMu keyedMutex
}

// New creates an Orchestrator over the given connectors.
func New(st store.Store, res *resolver.Resolver, eng *reconcile.Engine, lc *lifecycle.Manager, conns map[model.Provider]connector.Connector) *Orchestrator {
	return &Orchestrator{
		store:      st,
		resolver:   res,
		engine:     eng,
		lifecycle:  lc,
		connectors: conns,
		log:        zap.L().Named("ingest"),
		now:        time.Now,
	}
}

// WithClock overrides the time source. Used by tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// providerOutcome is one connector's contribution to a run.
type providerOutcome struct {
	counts model.ProviderCounts
	view   lifecycle.RosterView
	// failed marks a hard provider failure (bad credentials, persistent
	// transport errors), as opposed to quota exhaustion or deadline.
	failed bool
	errors int
	// unresolved counts records whose canonical resolution failed. Any means
	// the roster view cannot be trusted for deactivation.
	unresolved int
	fuzzy      []string
}

// Run executes one ingestion run end to end and returns its record.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*model.IngestRun, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	run := &model.IngestRun{
		ID:        uuid.New().String(),
		Mode:      opts.Mode,
		DryRun:    opts.DryRun,
		Status:    model.RunStatusRunning,
		StartedAt: o.now().UTC(),
		Counts:    make(map[model.Provider]model.ProviderCounts),
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	o.log.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("mode", string(run.Mode)),
		zap.Bool("dry_run", run.DryRun),
	)

	roster, enrichOnly := o.selectConnectors(opts)

	outcomes := make(map[model.Provider]*providerOutcome)
	var mu sync.Mutex

	// Phase 1: roster providers in parallel. These add entities and establish
	// each provider's view of who currently serves.
	o.fanOut(ctx, run, opts, roster, outcomes, &mu)

	// Phase 2: lifecycle, enrichment mode only. Deactivations and
	// replacements come strictly from complete roster views.
	if opts.Mode == model.RunModeEnrichment {
		lc := o.lifecycle
		if opts.DryRun {
			lc = lc.Dry()
		}
		for _, conn := range roster {
			out := outcomes[conn.Provider()]
			res, err := lc.Apply(ctx, run.ID, out.view)
			if err != nil {
				o.log.Error("lifecycle failed",
					zap.String("provider", string(conn.Provider())), zap.Error(err))
				out.errors++
				continue
			}
			out.counts.Deactivated = res.Deactivated
			out.counts.Replaced = res.Replaced
			out.errors += res.Errors
			run.FlaggedAmbiguous = append(run.FlaggedAmbiguous, res.AmbiguousSlots...)
		}
		if _, err := lc.PromoteExpired(ctx); err != nil {
			o.log.Error("retention promotion failed", zap.Error(err))
		}
	}

	// Phase 3: enrichment-only providers, after lifecycle, so they decorate a
	// settled roster and never influence status.
	if opts.Mode == model.RunModeEnrichment {
		o.fanOut(ctx, run, opts, enrichOnly, outcomes, &mu)
	}

	// Summarize.
	var anyIncomplete, anyFailed, allFailed bool
	allFailed = len(outcomes) > 0
	for p, out := range outcomes {
		run.Counts[p] = out.counts
		run.ErrorCount += out.errors
		run.FlaggedFuzzy = append(run.FlaggedFuzzy, out.fuzzy...)
		if !out.view.Complete || out.counts.Exhausted {
			anyIncomplete = true
		}
		if out.failed {
			anyFailed = true
		} else {
			allFailed = false
		}
	}
	switch {
	case allFailed:
		run.Status = model.RunStatusFailed
	case anyIncomplete || anyFailed:
		run.Status = model.RunStatusPartial
	default:
		run.Status = model.RunStatusComplete
	}
	done := o.now().UTC()
	run.CompletedAt = &done

	// The summary write must land even when the run deadline cut fetching
	// short; a run stuck in status running cannot be resumed.
	if err := o.store.UpdateRun(context.WithoutCancel(ctx), run); err != nil {
		return nil, err
	}
	o.log.Info("run finished",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.Int("errors", run.ErrorCount),
	)
	return run, nil
}

// selectConnectors partitions the wired connectors into roster and
// enrichment-only sets for this run.
func (o *Orchestrator) selectConnectors(opts Options) (roster, enrichOnly []connector.Connector) {
	want := make(map[model.Provider]bool, len(opts.Providers))
	for _, p := range opts.Providers {
		want[p] = true
	}
	for _, p := range model.AllProviders() {
		conn, ok := o.connectors[p]
		if !ok {
			continue
		}
		if len(want) > 0 && !want[p] {
			continue
		}
		if conn.CurrentCapable() {
			roster = append(roster, conn)
			continue
		}
		// First-time runs seed from current rosters only.
		if opts.Mode != model.RunModeFirstTime {
			enrichOnly = append(enrichOnly, conn)
		}
	}
	return roster, enrichOnly
}

func (o *Orchestrator) fanOut(ctx context.Context, run *model.IngestRun, opts Options, conns []connector.Connector, outcomes map[model.Provider]*providerOutcome, mu *sync.Mutex) {
	g, gctx := errgroup.WithContext(ctx)
	for _, conn := range conns {
		conn := conn
		g.Go(func() error {
			out := o.runProvider(gctx, run.ID, opts, conn)
			mu.Lock()
			outcomes[conn.Provider()] = out
			mu.Unlock()
			// Provider failures are recorded, not propagated: one provider
			// must never cancel the others.
			return nil
		})
	}
	g.Wait() //nolint:errcheck
}

// runProvider drains one connector's stream, resolving and merging each
// record.
func (o *Orchestrator) runProvider(ctx context.Context, runID string, opts Options, conn connector.Connector) *providerOutcome {
	p := conn.Provider()
	out := &providerOutcome{
		view: lifecycle.RosterView{
			Provider:         p,
			SeenCanonicalIDs: make(map[string]bool),
			SlotClaims:       make(map[string][]string),
		},
	}
	log := o.log.With(zap.String("provider", string(p)), zap.String("run_id", runID))

	cursor := ""
	if opts.Resume {
		cp, err := o.store.LatestCheckpoint(ctx, p)
		if err != nil {
			log.Warn("checkpoint load failed, starting from scratch", zap.Error(err))
		} else if cp != nil && !cp.Completed {
			cursor = cp.Cursor
			log.Info("resuming from checkpoint", zap.String("cursor", cursor))
		}
	}

	var stream *connector.Stream
	if conn.CurrentCapable() {
		stream = conn.FetchCurrent(opts.Jurisdiction, cursor)
	} else {
		stream = conn.FetchAll(opts.Jurisdiction, cursor)
	}

	prevCursor := cursor
	for {
		rec, err := stream.Next(ctx)
		if err != nil {
			switch {
			case errors.Is(err, resilience.ErrExhausted):
				out.view.Complete = out.unresolved == 0
				o.saveCheckpoint(ctx, opts, runID, p, stream.Cursor(), true)
			case errors.Is(err, governor.ErrThrottled):
				log.Warn("provider quota exhausted, stopping provider")
				out.counts.Exhausted = true
			case ctx.Err() != nil:
				log.Warn("deadline reached, stopping provider")
			default:
				log.Error("provider stream failed", zap.Error(err))
				out.failed = true
				out.errors++
			}
			break
		}
		out.counts.Fetched++

		if cur := stream.Cursor(); cur != prevCursor {
			o.saveCheckpoint(ctx, opts, runID, p, cur, false)
			prevCursor = cur
		}

		if err := o.ingestRecord(ctx, runID, opts, rec, out); err != nil {
			log.Error("record ingest failed",
				zap.String("external_id", rec.ExternalID), zap.Error(err))
			out.errors++
		}
	}
	out.counts.Invalid = stream.Invalid()
	return out
}

// ingestRecord resolves one record and merges it into its canonical entity.
func (o *Orchestrator) ingestRecord(ctx context.Context, runID string, opts Options, rec model.SourceRecord, out *providerOutcome) error {
	res, err := o.resolver.Resolve(ctx, rec)
	if err != nil {
		// An unresolved record may be a sitting officeholder, so this
		// provider's roster view can no longer justify deactivations.
		out.unresolved++
		return err
	}
	// Seen the moment resolution succeeds: the roster did report this person,
	// even if the merge write below fails.
	out.view.SeenCanonicalIDs[res.CanonicalID] = true

	if res.Created {
		// Enrichment-only providers decorate existing entities; an unmatched
		// record from one never becomes a person.
		if !rec.Source.CurrentRoster() || opts.SkipAdd {
			out.counts.Skipped++
			return nil
		}
	}

	unlock := o.entityMu.lock(res.CanonicalID)
	defer unlock()

	now := o.now().UTC()
	var rep *model.CanonicalRepresentative
	if res.Created {
		rep = &model.CanonicalRepresentative{
			CanonicalID:     res.CanonicalID,
			Status:          model.StatusActive,
			StatusChangedAt: now,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	} else {
		rep, err = o.store.GetRepresentative(ctx, res.CanonicalID)
		if errors.Is(err, store.ErrNotFound) {
			// Resolved onto an entity minted earlier this batch that has not
			// been written yet (dry run, or a lost race with creation).
			rep = &model.CanonicalRepresentative{
				CanonicalID:     res.CanonicalID,
				Status:          model.StatusActive,
				StatusChangedAt: now,
				CreatedAt:       now,
				UpdatedAt:       now,
			}
		} else if err != nil {
			return err
		}
	}

	o.engine.Merge(rep, rec)
	rep.DataQualityScore = reconcile.QualityScore(rep.Provenance, now)

	if !opts.DryRun {
		if err := o.store.UpsertRepresentative(ctx, rep); err != nil {
			if resilience.IsConflict(err) {
				o.log.Error("crosswalk integrity conflict",
					zap.String("canonical_id", rep.CanonicalID),
					zap.String("source", string(rec.Source)),
					zap.String("external_id", rec.ExternalID),
					zap.Error(err),
				)
			}
			return err
		}
	}

	if res.Fuzzy {
		out.fuzzy = append(out.fuzzy, res.CanonicalID)
		if !opts.DryRun {
			if err := o.store.RecordFuzzyMatch(ctx, &model.FuzzyMatch{
				RunID:        runID,
				CanonicalID:  res.CanonicalID,
				Source:       rec.Source,
				ExternalID:   rec.ExternalID,
				IncomingName: rec.Fields.Name,
				MatchedName:  res.MatchedName,
				Score:        res.Score,
				Accepted:     true,
				CreatedAt:    now,
			}); err != nil {
				return err
			}
		}
	}

	out.counts.Merged++
	if res.Created {
		out.counts.Created++
		key := rec.Fields.Slot().Key()
		out.view.SlotClaims[key] = append(out.view.SlotClaims[key], res.CanonicalID)
	}
	return nil
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, opts Options, runID string, p model.Provider, cursor string, completed bool) {
	if opts.DryRun {
		return
	}
	err := o.store.SaveCheckpoint(ctx, model.ProviderCheckpoint{
		RunID:     runID,
		Provider:  p,
		Cursor:    cursor,
		Completed: completed,
		UpdatedAt: o.now().UTC(),
	})
	if err != nil {
		o.log.Warn("checkpoint save failed",
			zap.String("provider", string(p)), zap.Error(err))
	}
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()
	m.Lock()
	return m.Unlock
}
