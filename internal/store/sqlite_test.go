package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/resilience"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testRep(canonicalID, bioguide string) *model.CanonicalRepresentative {
	now := time.Date(2025, 1, 3, 12, 0, 0, 0, time.UTC)
	return &model.CanonicalRepresentative{
		CanonicalID:     canonicalID,
		Level:           model.LevelFederal,
		Office:          "U.S. Senator",
		Jurisdiction:    "Vermont",
		Name:            "Patrick Leahy",
		Status:          model.StatusActive,
		StatusChangedAt: now,
		Crosswalk:       map[model.Provider]string{model.ProviderCongress: bioguide},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// --- Representatives ---

func TestSQLite_UpsertAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rep := testRep("rep-1", "L000174")
	require.NoError(t, st.UpsertRepresentative(ctx, rep))

	got, err := st.GetRepresentative(ctx, "rep-1")
	require.NoError(t, err)
	assert.Equal(t, "Patrick Leahy", got.Name)
	assert.Equal(t, model.StatusActive, got.Status)
	assert.Equal(t, "L000174", got.Crosswalk[model.ProviderCongress])
}

func TestSQLite_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetRepresentative(context.Background(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_UpsertIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rep := testRep("rep-1", "L000174")
	require.NoError(t, st.UpsertRepresentative(ctx, rep))

	rep.Party = "Democratic"
	require.NoError(t, st.UpsertRepresentative(ctx, rep))

	got, err := st.GetRepresentative(ctx, "rep-1")
	require.NoError(t, err)
	assert.Equal(t, "Democratic", got.Party)

	// Crosswalk still points at the same entity after the rewrite.
	byXwalk, err := st.LookupByCrosswalk(ctx, model.ProviderCongress, "L000174")
	require.NoError(t, err)
	require.NotNil(t, byXwalk)
	assert.Equal(t, "rep-1", byXwalk.CanonicalID)
}

func TestSQLite_CrosswalkConflict(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertRepresentative(ctx, testRep("rep-1", "L000174")))

	// A second entity claiming the same (provider, external ID) pair must be
	// rejected, never silently merged.
	intruder := testRep("rep-2", "L000174")
	err := st.UpsertRepresentative(ctx, intruder)
	require.Error(t, err)
	assert.True(t, resilience.IsConflict(err))

	_, err = st.GetRepresentative(ctx, "rep-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_LookupByCrosswalk_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	rep, err := st.LookupByCrosswalk(context.Background(), model.ProviderCongress, "unknown")
	require.NoError(t, err)
	assert.Nil(t, rep)
}

func TestSQLite_LookupByOfficeSlot(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertRepresentative(ctx, testRep("rep-1", "L000174")))

	other := testRep("rep-2", "S000033")
	other.Jurisdiction = "Ohio"
	require.NoError(t, st.UpsertRepresentative(ctx, other))

	reps, err := st.LookupByOfficeSlot(ctx, model.OfficeSlot{Office: "U.S. Senator", Jurisdiction: "Vermont"})
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, "rep-1", reps[0].CanonicalID)
}

func TestSQLite_SearchByNormalizedName(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rep := testRep("rep-1", "L000174")
	rep.Name = "José García"
	require.NoError(t, st.UpsertRepresentative(ctx, rep))

	// Diacritics and case fold away in the indexed form.
	reps, err := st.SearchByNormalizedName(ctx, "jose garcia")
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, "rep-1", reps[0].CanonicalID)
}

func TestSQLite_ListActiveWithCrosswalk(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertRepresentative(ctx, testRep("rep-1", "L000174")))

	inactive := testRep("rep-2", "S000033")
	inactive.Jurisdiction = "Ohio"
	inactive.Status = model.StatusInactive
	require.NoError(t, st.UpsertRepresentative(ctx, inactive))

	stateOnly := testRep("rep-3", "")
	stateOnly.Jurisdiction = "Texas"
	stateOnly.Crosswalk = map[model.Provider]string{model.ProviderOpenStates: "ocd-person/123"}
	require.NoError(t, st.UpsertRepresentative(ctx, stateOnly))

	reps, err := st.ListActiveWithCrosswalk(ctx, model.ProviderCongress)
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, "rep-1", reps[0].CanonicalID)
}

func TestSQLite_ListInactiveBefore(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	old := testRep("rep-1", "L000174")
	old.Status = model.StatusInactive
	old.StatusChangedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpsertRepresentative(ctx, old))

	recent := testRep("rep-2", "S000033")
	recent.Jurisdiction = "Ohio"
	recent.Status = model.StatusInactive
	recent.StatusChangedAt = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpsertRepresentative(ctx, recent))

	reps, err := st.ListInactiveBefore(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, reps, 1)
	assert.Equal(t, "rep-1", reps[0].CanonicalID)
}

// --- Status transitions ---

func TestSQLite_Transition_ActiveToInactive(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rep := testRep("rep-1", "L000174")
	require.NoError(t, st.UpsertRepresentative(ctx, rep))

	at := rep.StatusChangedAt.Add(24 * time.Hour)
	err := st.ApplyStatusTransition(ctx, Transition{
		CanonicalID: "rep-1",
		Status:      model.StatusInactive,
		Reason:      model.ReasonNotCurrentInSource,
		At:          at,
	})
	require.NoError(t, err)

	got, err := st.GetRepresentative(ctx, "rep-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusInactive, got.Status)
	assert.Equal(t, model.ReasonNotCurrentInSource, got.StatusReason)
	assert.True(t, got.StatusChangedAt.Equal(at))
}

func TestSQLite_Transition_HistoricalIsTerminal(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rep := testRep("rep-1", "L000174")
	rep.Status = model.StatusHistorical
	rep.StatusReason = model.ReasonRetired
	require.NoError(t, st.UpsertRepresentative(ctx, rep))

	err := st.ApplyStatusTransition(ctx, Transition{
		CanonicalID: "rep-1",
		Status:      model.StatusActive,
		At:          rep.StatusChangedAt.Add(time.Hour),
	})
	require.Error(t, err)
	assert.True(t, resilience.IsConflict(err))
}

func TestSQLite_Transition_Replacement(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	incumbent := testRep("rep-1", "L000174")
	require.NoError(t, st.UpsertRepresentative(ctx, incumbent))
	successor := testRep("rep-2", "W000800")
	successor.Name = "Peter Welch"
	require.NoError(t, st.UpsertRepresentative(ctx, successor))

	err := st.ApplyStatusTransition(ctx, Transition{
		CanonicalID:  "rep-1",
		Status:       model.StatusHistorical,
		Reason:       model.ReasonReplaced,
		ReplacedByID: "rep-2",
		At:           incumbent.StatusChangedAt.Add(time.Hour),
	})
	require.NoError(t, err)

	got, err := st.GetRepresentative(ctx, "rep-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusHistorical, got.Status)
	assert.Equal(t, "rep-2", got.ReplacedByID)
}

func TestSQLite_Transition_ReplacedByMustBeLive(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	incumbent := testRep("rep-1", "L000174")
	require.NoError(t, st.UpsertRepresentative(ctx, incumbent))
	dead := testRep("rep-2", "W000800")
	dead.Status = model.StatusHistorical
	require.NoError(t, st.UpsertRepresentative(ctx, dead))

	err := st.ApplyStatusTransition(ctx, Transition{
		CanonicalID:  "rep-1",
		Status:       model.StatusHistorical,
		Reason:       model.ReasonReplaced,
		ReplacedByID: "rep-2",
		At:           incumbent.StatusChangedAt.Add(time.Hour),
	})
	require.Error(t, err)
	assert.True(t, resilience.IsConflict(err))
}

func TestSQLite_Transition_MonotonicTime(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rep := testRep("rep-1", "L000174")
	require.NoError(t, st.UpsertRepresentative(ctx, rep))

	err := st.ApplyStatusTransition(ctx, Transition{
		CanonicalID: "rep-1",
		Status:      model.StatusInactive,
		Reason:      model.ReasonNotCurrentInSource,
		At:          rep.StatusChangedAt.Add(-time.Hour),
	})
	require.Error(t, err)
	assert.True(t, resilience.IsConflict(err))
}

func TestSQLite_Transition_IdempotentNoop(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rep := testRep("rep-1", "L000174")
	require.NoError(t, st.UpsertRepresentative(ctx, rep))

	tr := Transition{
		CanonicalID: "rep-1",
		Status:      model.StatusInactive,
		Reason:      model.ReasonNotCurrentInSource,
		At:          rep.StatusChangedAt.Add(time.Hour),
	}
	require.NoError(t, st.ApplyStatusTransition(ctx, tr))

	// Re-applying the same transition is a no-op and keeps the original
	// change timestamp.
	tr.At = tr.At.Add(time.Hour)
	require.NoError(t, st.ApplyStatusTransition(ctx, tr))

	got, err := st.GetRepresentative(ctx, "rep-1")
	require.NoError(t, err)
	assert.True(t, got.StatusChangedAt.Equal(rep.StatusChangedAt.Add(time.Hour)))
}

// --- Audit records ---

func TestSQLite_FuzzyMatchRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	fm := &model.FuzzyMatch{
		RunID:        "run-1",
		CanonicalID:  "rep-1",
		Source:       model.ProviderCivicInfo,
		ExternalID:   "div/office/jon smith",
		IncomingName: "Jon Smith",
		MatchedName:  "John Smith",
		Score:        0.91,
		Accepted:     true,
	}
	require.NoError(t, st.RecordFuzzyMatch(ctx, fm))
	assert.NotZero(t, fm.ID)

	open, err := st.ListFuzzyMatches(ctx, true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "Jon Smith", open[0].IncomingName)

	require.NoError(t, st.ResolveFuzzyMatch(ctx, fm.ID))
	open, err = st.ListFuzzyMatches(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, open)

	all, err := st.ListFuzzyMatches(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLite_AmbiguousReplacementRoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ar := &model.AmbiguousReplacement{
		RunID:       "run-1",
		Slot:        model.OfficeSlot{Office: "U.S. Senator", Jurisdiction: "Vermont"},
		IncumbentID: "rep-1",
		ClaimantIDs: []string{"rep-2", "rep-3"},
	}
	require.NoError(t, st.RecordAmbiguousReplacement(ctx, ar))
	assert.NotZero(t, ar.ID)

	open, err := st.ListAmbiguousReplacements(ctx, true)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, []string{"rep-2", "rep-3"}, open[0].ClaimantIDs)

	require.NoError(t, st.ResolveAmbiguousReplacement(ctx, ar.ID))
	open, err = st.ListAmbiguousReplacements(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, open)
}

// --- Runs and checkpoints ---

func TestSQLite_RunLifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run := &model.IngestRun{
		ID:        "run-1",
		Mode:      model.RunModeEnrichment,
		Status:    model.RunStatusRunning,
		StartedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Counts:    map[model.Provider]model.ProviderCounts{},
	}
	require.NoError(t, st.CreateRun(ctx, run))

	run.Status = model.RunStatusComplete
	done := run.StartedAt.Add(10 * time.Minute)
	run.CompletedAt = &done
	run.Counts[model.ProviderCongress] = model.ProviderCounts{Fetched: 535, Merged: 535}
	require.NoError(t, st.UpdateRun(ctx, run))

	got, err := st.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, got.Status)
	assert.Equal(t, 535, got.Counts[model.ProviderCongress].Fetched)

	list, err := st.ListRuns(ctx, RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = st.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSQLite_CheckpointLatest(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	cp, err := st.LatestCheckpoint(ctx, model.ProviderCongress)
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, st.SaveCheckpoint(ctx, model.ProviderCheckpoint{
		RunID:     "run-1",
		Provider:  model.ProviderCongress,
		Cursor:    "250",
		UpdatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, st.SaveCheckpoint(ctx, model.ProviderCheckpoint{
		RunID:     "run-1",
		Provider:  model.ProviderCongress,
		Cursor:    "500",
		Completed: true,
		UpdatedAt: time.Date(2025, 6, 1, 0, 5, 0, 0, time.UTC),
	}))

	cp, err = st.LatestCheckpoint(ctx, model.ProviderCongress)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, "500", cp.Cursor)
	assert.True(t, cp.Completed)
}
