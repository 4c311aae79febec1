package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choices-civics/repsync/internal/connector"
	"github.com/choices-civics/repsync/internal/governor"
	"github.com/choices-civics/repsync/internal/lifecycle"
	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/reconcile"
	"github.com/choices-civics/repsync/internal/resolver"
	"github.com/choices-civics/repsync/internal/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeConnector serves canned pages. The cursor is the page index, so resume
// behaves like a real paginated API.
type fakeConnector struct {
	provider model.Provider
	capable  bool
	pages    [][]model.SourceRecord
	// errAt, when non-nil, is returned instead of fetching page errPage.
	errAt   error
	errPage int
	// block makes every page fetch wait for context cancellation, standing in
	// for a provider slower than the run deadline.
	block bool
}

func (f *fakeConnector) Provider() model.Provider      { return f.provider }
func (f *fakeConnector) QuotaPolicy() governor.Policy  { return governor.Policy{} }
func (f *fakeConnector) CurrentCapable() bool          { return f.capable }
func (f *fakeConnector) FetchCurrent(_, cursor string) *connector.Stream {
	return f.stream(cursor)
}
func (f *fakeConnector) FetchAll(_, cursor string) *connector.Stream {
	return f.stream(cursor)
}

func (f *fakeConnector) stream(cursor string) *connector.Stream {
	return connector.NewStream(cursor, func(ctx context.Context, cur string) (connector.Page, error) {
		if f.block {
			<-ctx.Done()
			return connector.Page{}, ctx.Err()
		}
		idx := 0
		if cur != "" {
			idx, _ = strconv.Atoi(cur)
		}
		if f.errAt != nil && idx == f.errPage {
			return connector.Page{}, f.errAt
		}
		if idx >= len(f.pages) {
			return connector.Page{Cursor: cur, Done: true}, nil
		}
		return connector.Page{
			Records: f.pages[idx],
			Cursor:  strconv.Itoa(idx + 1),
			Done:    idx+1 >= len(f.pages),
		}, nil
	})
}

func senatorRecord(source model.Provider, externalID, name, district string) model.SourceRecord {
	return model.SourceRecord{
		Source:     source,
		ExternalID: externalID,
		FetchedAt:  testNow,
		Confidence: 1.0,
		Fields: model.Fields{
			Name:         name,
			Level:        model.LevelFederal,
			Office:       "U.S. Senator",
			Jurisdiction: "Vermont",
			District:     district,
			Party:        "Democratic",
		},
	}
}

func newTestOrchestrator(t *testing.T, st store.Store, conns ...connector.Connector) *Orchestrator {
	t.Helper()
	eng, err := reconcile.New()
	require.NoError(t, err)
	byProvider := make(map[model.Provider]connector.Connector, len(conns))
	for _, c := range conns {
		byProvider[c.Provider()] = c
	}
	lc := lifecycle.New(st, lifecycle.Options{}).WithClock(func() time.Time { return testNow })
	return New(st, resolver.New(st, 0.90), eng, lc, byProvider).
		WithClock(func() time.Time { return testNow })
}

func TestRunFirstTimeSeedsActiveEntities(t *testing.T) {
	st := store.NewMemory()
	congress := &fakeConnector{
		provider: model.ProviderCongress,
		capable:  true,
		pages: [][]model.SourceRecord{
			{senatorRecord(model.ProviderCongress, "L000174", "Patrick Leahy", "1")},
			{senatorRecord(model.ProviderCongress, "W000800", "Peter Welch", "2")},
		},
	}
	// Enrichment-only providers have nothing to say in a first-time run.
	fec := &fakeConnector{provider: model.ProviderFEC, capable: false}
	o := newTestOrchestrator(t, st, congress, fec)

	run, err := o.Run(context.Background(), Options{Mode: model.RunModeFirstTime})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 2, run.Counts[model.ProviderCongress].Fetched)
	assert.Equal(t, 2, run.Counts[model.ProviderCongress].Created)
	assert.Equal(t, 2, run.Counts[model.ProviderCongress].Merged)
	_, skippedProvider := run.Counts[model.ProviderFEC]
	assert.False(t, skippedProvider, "fec should not run in first_time mode")

	rep, err := st.LookupByCrosswalk(context.Background(), model.ProviderCongress, "L000174")
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, model.StatusActive, rep.Status)
	assert.Equal(t, "Patrick Leahy", rep.Name)
	assert.Greater(t, rep.DataQualityScore, 0.0)

	cp, err := st.LatestCheckpoint(context.Background(), model.ProviderCongress)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.Completed)
}

func TestRunEnrichmentIsIdempotent(t *testing.T) {
	st := store.NewMemory()
	congress := &fakeConnector{
		provider: model.ProviderCongress,
		capable:  true,
		pages: [][]model.SourceRecord{
			{senatorRecord(model.ProviderCongress, "W000800", "Peter Welch", "2")},
		},
	}
	o := newTestOrchestrator(t, st, congress)

	first, err := o.Run(context.Background(), Options{Mode: model.RunModeEnrichment})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Counts[model.ProviderCongress].Created)

	// Second run resolves through the crosswalk and merges in place.
	o2 := newTestOrchestrator(t, st, congress)
	second, err := o2.Run(context.Background(), Options{Mode: model.RunModeEnrichment})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, second.Status)
	assert.Equal(t, 0, second.Counts[model.ProviderCongress].Created)
	assert.Equal(t, 1, second.Counts[model.ProviderCongress].Merged)
	assert.Equal(t, 0, second.Counts[model.ProviderCongress].Deactivated)

	runs, err := st.ListRuns(context.Background(), store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunEnrichmentDetectsReplacement(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	// Seed the outgoing incumbent directly.
	incumbent := &model.CanonicalRepresentative{
		CanonicalID:     "rep-old",
		Level:           model.LevelFederal,
		Office:          "U.S. Senator",
		Jurisdiction:    "Vermont",
		District:        "1",
		Name:            "Patrick Leahy",
		Status:          model.StatusActive,
		StatusChangedAt: testNow.Add(-365 * 24 * time.Hour),
		Crosswalk:       map[model.Provider]string{model.ProviderCongress: "L000174"},
		CreatedAt:       testNow.Add(-365 * 24 * time.Hour),
		UpdatedAt:       testNow.Add(-365 * 24 * time.Hour),
	}
	require.NoError(t, st.UpsertRepresentative(ctx, incumbent))

	// The roster now shows a different person in the same slot.
	congress := &fakeConnector{
		provider: model.ProviderCongress,
		capable:  true,
		pages: [][]model.SourceRecord{
			{senatorRecord(model.ProviderCongress, "W000800", "Peter Welch", "1")},
		},
	}
	o := newTestOrchestrator(t, st, congress)

	run, err := o.Run(ctx, Options{Mode: model.RunModeEnrichment})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 1, run.Counts[model.ProviderCongress].Created)
	assert.Equal(t, 1, run.Counts[model.ProviderCongress].Replaced)

	old, err := st.GetRepresentative(ctx, "rep-old")
	require.NoError(t, err)
	assert.Equal(t, model.StatusHistorical, old.Status)
	assert.Equal(t, model.ReasonReplaced, old.StatusReason)
	require.NotEmpty(t, old.ReplacedByID)

	successor, err := st.GetRepresentative(ctx, old.ReplacedByID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, successor.Status)
	assert.Equal(t, "Peter Welch", successor.Name)
}

func TestRunExhaustedProviderGoesPartial(t *testing.T) {
	st := store.NewMemory()
	congress := &fakeConnector{
		provider: model.ProviderCongress,
		capable:  true,
		pages: [][]model.SourceRecord{
			{senatorRecord(model.ProviderCongress, "L000174", "Patrick Leahy", "1")},
			{senatorRecord(model.ProviderCongress, "W000800", "Peter Welch", "2")},
		},
		errAt:   governor.ErrThrottled,
		errPage: 1,
	}
	o := newTestOrchestrator(t, st, congress)

	run, err := o.Run(context.Background(), Options{Mode: model.RunModeEnrichment})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusPartial, run.Status)
	assert.True(t, run.Counts[model.ProviderCongress].Exhausted)
	assert.Equal(t, 0, run.ErrorCount, "exhaustion is not an error")

	// Page one committed before the quota ran out.
	rep, err := st.LookupByCrosswalk(context.Background(), model.ProviderCongress, "L000174")
	require.NoError(t, err)
	assert.NotNil(t, rep)

	// An incomplete roster must never trigger deactivations.
	assert.Equal(t, 0, run.Counts[model.ProviderCongress].Deactivated)
}

func TestRunDryRunWritesNoEntities(t *testing.T) {
	st := store.NewMemory()
	congress := &fakeConnector{
		provider: model.ProviderCongress,
		capable:  true,
		pages: [][]model.SourceRecord{
			{senatorRecord(model.ProviderCongress, "L000174", "Patrick Leahy", "1")},
		},
	}
	o := newTestOrchestrator(t, st, congress)

	run, err := o.Run(context.Background(), Options{Mode: model.RunModeFirstTime, DryRun: true})
	require.NoError(t, err)
	assert.True(t, run.DryRun)
	assert.Equal(t, 1, run.Counts[model.ProviderCongress].Created)

	rep, err := st.LookupByCrosswalk(context.Background(), model.ProviderCongress, "L000174")
	require.NoError(t, err)
	assert.Nil(t, rep)

	cp, err := st.LatestCheckpoint(context.Background(), model.ProviderCongress)
	require.NoError(t, err)
	assert.Nil(t, cp)

	// The run record itself is still kept for audit.
	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, got.DryRun)
}

func TestRunSkipAddSkipsUnknowns(t *testing.T) {
	st := store.NewMemory()
	congress := &fakeConnector{
		provider: model.ProviderCongress,
		capable:  true,
		pages: [][]model.SourceRecord{
			{senatorRecord(model.ProviderCongress, "W000800", "Peter Welch", "2")},
		},
	}
	o := newTestOrchestrator(t, st, congress)

	run, err := o.Run(context.Background(), Options{Mode: model.RunModeEnrichment, SkipAdd: true})
	require.NoError(t, err)
	assert.Equal(t, 1, run.Counts[model.ProviderCongress].Skipped)
	assert.Equal(t, 0, run.Counts[model.ProviderCongress].Created)

	rep, err := st.LookupByCrosswalk(context.Background(), model.ProviderCongress, "W000800")
	require.NoError(t, err)
	assert.Nil(t, rep)
}

func TestRunEnrichOnlyProviderNeverCreates(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	known := &model.CanonicalRepresentative{
		CanonicalID:     "rep-1",
		Level:           model.LevelFederal,
		Office:          "U.S. Senator",
		Jurisdiction:    "Vermont",
		District:        "2",
		Name:            "Peter Welch",
		Status:          model.StatusActive,
		StatusChangedAt: testNow.Add(-24 * time.Hour),
		Crosswalk:       map[model.Provider]string{model.ProviderFEC: "S2VT00362"},
		CreatedAt:       testNow.Add(-24 * time.Hour),
		UpdatedAt:       testNow.Add(-24 * time.Hour),
	}
	require.NoError(t, st.UpsertRepresentative(ctx, known))

	knownRec := senatorRecord(model.ProviderFEC, "S2VT00362", "Peter Welch", "2")
	knownRec.Fields.FECCandidateID = "S2VT00362"
	unknownRec := senatorRecord(model.ProviderFEC, "S0XX99999", "Totally Unknown", "9")
	unknownRec.Fields.Jurisdiction = "Ohio"

	fec := &fakeConnector{
		provider: model.ProviderFEC,
		capable:  false,
		pages:    [][]model.SourceRecord{{knownRec, unknownRec}},
	}
	o := newTestOrchestrator(t, st, fec)

	run, err := o.Run(ctx, Options{Mode: model.RunModeEnrichment})
	require.NoError(t, err)

	counts := run.Counts[model.ProviderFEC]
	assert.Equal(t, 1, counts.Merged, "known candidate enriched")
	assert.Equal(t, 1, counts.Skipped, "unknown candidate never becomes a person")
	assert.Equal(t, 0, counts.Created)

	got, err := st.GetRepresentative(ctx, "rep-1")
	require.NoError(t, err)
	assert.Equal(t, "S2VT00362", got.FECCandidateID)
}

func TestRunResumeStartsFromCheckpoint(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.SaveCheckpoint(ctx, model.ProviderCheckpoint{
		RunID:     "prior-run",
		Provider:  model.ProviderCongress,
		Cursor:    "1",
		Completed: false,
		UpdatedAt: testNow.Add(-time.Hour),
	}))

	congress := &fakeConnector{
		provider: model.ProviderCongress,
		capable:  true,
		pages: [][]model.SourceRecord{
			{senatorRecord(model.ProviderCongress, "L000174", "Patrick Leahy", "1")},
			{senatorRecord(model.ProviderCongress, "W000800", "Peter Welch", "2")},
		},
	}
	o := newTestOrchestrator(t, st, congress)

	run, err := o.Run(ctx, Options{Mode: model.RunModeEnrichment, Resume: true})
	require.NoError(t, err)

	// Only the second page was fetched.
	assert.Equal(t, 1, run.Counts[model.ProviderCongress].Fetched)
	skipped, err := st.LookupByCrosswalk(ctx, model.ProviderCongress, "L000174")
	require.NoError(t, err)
	assert.Nil(t, skipped, "page one was not re-fetched")

	cp, err := st.LatestCheckpoint(ctx, model.ProviderCongress)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.Completed)
}

func TestRunDeadlinePersistsPartialStatus(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	slow := &fakeConnector{provider: model.ProviderCongress, capable: true, block: true}
	o := newTestOrchestrator(t, st, slow)

	run, err := o.Run(context.Background(), Options{
		Mode:    model.RunModeEnrichment,
		Timeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPartial, run.Status)

	// The persisted record must agree. A run stuck in status running cannot
	// be inspected or resumed.
	got, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPartial, got.Status)
	require.NotNil(t, got.CompletedAt)
}

// flakyUpsertStore fails the first upserts, standing in for a transient
// store outage during a run.
type flakyUpsertStore struct {
	store.Store
	failures int
}

func (s *flakyUpsertStore) UpsertRepresentative(ctx context.Context, rep *model.CanonicalRepresentative) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	return s.Store.UpsertRepresentative(ctx, rep)
}

func TestRunUpsertFailureNeverDeactivates(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	incumbent := &model.CanonicalRepresentative{
		CanonicalID:     "rep-1",
		Level:           model.LevelFederal,
		Office:          "U.S. Senator",
		Jurisdiction:    "Vermont",
		District:        "2",
		Name:            "Peter Welch",
		Status:          model.StatusActive,
		StatusChangedAt: testNow.Add(-24 * time.Hour),
		Crosswalk:       map[model.Provider]string{model.ProviderCongress: "W000800"},
		CreatedAt:       testNow.Add(-24 * time.Hour),
		UpdatedAt:       testNow.Add(-24 * time.Hour),
	}
	require.NoError(t, mem.UpsertRepresentative(ctx, incumbent))

	// The roster still reports the senator, but the merge write fails once.
	st := &flakyUpsertStore{Store: mem, failures: 1}
	congress := &fakeConnector{
		provider: model.ProviderCongress,
		capable:  true,
		pages: [][]model.SourceRecord{
			{senatorRecord(model.ProviderCongress, "W000800", "Peter Welch", "2")},
		},
	}
	o := newTestOrchestrator(t, st, congress)

	run, err := o.Run(ctx, Options{Mode: model.RunModeEnrichment})
	require.NoError(t, err)
	assert.Equal(t, 1, run.ErrorCount)
	assert.Equal(t, 0, run.Counts[model.ProviderCongress].Deactivated)

	got, err := mem.GetRepresentative(ctx, "rep-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, got.Status,
		"a failed write must not read as absence from the roster")
}

func TestRunFailedProviderGoesPartial(t *testing.T) {
	st := store.NewMemory()
	broken := &fakeConnector{
		provider: model.ProviderCongress,
		capable:  true,
		errAt:    assert.AnError,
		errPage:  0,
	}
	healthy := &fakeConnector{
		provider: model.ProviderOpenStates,
		capable:  true,
		pages: [][]model.SourceRecord{
			{senatorRecord(model.ProviderOpenStates, "ocd-person/1", "Jane Doe", "3")},
		},
	}
	o := newTestOrchestrator(t, st, broken, healthy)

	run, err := o.Run(context.Background(), Options{Mode: model.RunModeEnrichment})
	require.NoError(t, err)

	assert.Equal(t, model.RunStatusPartial, run.Status)
	assert.Equal(t, 1, run.ErrorCount)
	assert.Equal(t, 1, run.Counts[model.ProviderOpenStates].Merged,
		"one provider failing must not stop the others")
}
