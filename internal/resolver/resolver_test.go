package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/store"
)

func seedRep(t *testing.T, st *store.MemoryStore, rep *model.CanonicalRepresentative) {
	t.Helper()
	require.NoError(t, st.UpsertRepresentative(context.Background(), rep))
}

func senatorRep(id, bioguide, name string) *model.CanonicalRepresentative {
	now := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	return &model.CanonicalRepresentative{
		CanonicalID:     id,
		Office:          "U.S. Senator",
		Jurisdiction:    "Vermont",
		Name:            name,
		Status:          model.StatusActive,
		StatusChangedAt: now,
		Crosswalk:       map[model.Provider]string{model.ProviderCongress: bioguide},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func senatorRecord(source model.Provider, externalID, name string) model.SourceRecord {
	return model.SourceRecord{
		Source:     source,
		ExternalID: externalID,
		FetchedAt:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		Fields: model.Fields{
			Name:         name,
			Office:       "U.S. Senator",
			Jurisdiction: "Vermont",
		},
		Confidence: 0.9,
	}
}

func TestResolve_ExactCrosswalk(t *testing.T) {
	st := store.NewMemory()
	seedRep(t, st, senatorRep("rep-1", "W000800", "Peter Welch"))
	r := New(st, 0.90)

	res, err := r.Resolve(context.Background(), senatorRecord(model.ProviderCongress, "W000800", "Peter Welch"))
	require.NoError(t, err)
	assert.Equal(t, "rep-1", res.CanonicalID)
	assert.False(t, res.Created)
	assert.False(t, res.Fuzzy)
}

func TestResolve_BioguideShortCircuit(t *testing.T) {
	st := store.NewMemory()
	seedRep(t, st, senatorRep("rep-1", "W000800", "Peter Welch"))
	r := New(st, 0.90)

	// An FEC candidate with a totally different name form still links via the
	// shared bioguide ID.
	rec := model.SourceRecord{
		Source:     model.ProviderFEC,
		ExternalID: "S2VT00155",
		Fields: model.Fields{
			Name:       "WELCH, PETER",
			BioguideID: "W000800",
		},
	}
	res, err := r.Resolve(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, "rep-1", res.CanonicalID)
	assert.False(t, res.Fuzzy)
}

func TestResolve_FuzzyAccept(t *testing.T) {
	st := store.NewMemory()
	seedRep(t, st, senatorRep("rep-1", "W000800", "John Smith"))
	r := New(st, 0.90)

	// Unstable civicinfo IDs change between fetches; the person matches on
	// normalized name similarity within the same office slot.
	res, err := r.Resolve(context.Background(), senatorRecord(model.ProviderCivicInfo, "div/us-senator/jon smith", "Jon Smith"))
	require.NoError(t, err)
	assert.Equal(t, "rep-1", res.CanonicalID)
	assert.True(t, res.Fuzzy)
	assert.InDelta(t, 0.90, res.Score, 0.001)
	assert.Equal(t, "John Smith", res.MatchedName)
	assert.False(t, res.Created)
}

func TestResolve_BelowThresholdCreates(t *testing.T) {
	st := store.NewMemory()
	seedRep(t, st, senatorRep("rep-1", "W000800", "John Smith"))
	r := New(st, 0.90)

	res, err := r.Resolve(context.Background(), senatorRecord(model.ProviderCivicInfo, "div/us-senator/jane doe", "Jane Doe"))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.False(t, res.Fuzzy)
	assert.NotEqual(t, "rep-1", res.CanonicalID)
	assert.NotEmpty(t, res.CanonicalID)
}

func TestResolve_HistoricalNeverMatches(t *testing.T) {
	st := store.NewMemory()
	rep := senatorRep("rep-1", "W000800", "Jon Smith")
	rep.Status = model.StatusHistorical
	seedRep(t, st, rep)
	r := New(st, 0.90)

	res, err := r.Resolve(context.Background(), senatorRecord(model.ProviderCivicInfo, "div/us-senator/jon smith", "Jon Smith"))
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestResolve_SlotMismatchCreates(t *testing.T) {
	st := store.NewMemory()
	seedRep(t, st, senatorRep("rep-1", "W000800", "Jon Smith"))
	r := New(st, 0.90)

	rec := senatorRecord(model.ProviderCivicInfo, "div/governor/jon smith", "Jon Smith")
	rec.Fields.Office = "Governor"
	res, err := r.Resolve(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestResolve_TermWindowGate(t *testing.T) {
	st := store.NewMemory()
	rep := senatorRep("rep-1", "W000800", "Jon Smith")
	end := time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC)
	rep.TermEnd = &end
	seedRep(t, st, rep)
	r := New(st, 0.90)

	// Incoming term starts after the candidate's ended: same name, but a
	// different officeholder-term.
	rec := senatorRecord(model.ProviderCivicInfo, "div/us-senator/jon smith", "Jon Smith")
	start := time.Date(2025, 1, 3, 0, 0, 0, 0, time.UTC)
	rec.Fields.TermStart = &start
	res, err := r.Resolve(context.Background(), rec)
	require.NoError(t, err)
	assert.True(t, res.Created)
}

func TestResolve_PendingIndexDeduplicates(t *testing.T) {
	st := store.NewMemory()
	r := New(st, 0.90)
	ctx := context.Background()

	first, err := r.Resolve(ctx, senatorRecord(model.ProviderOpenStates, "ocd-person/1", "Ann Lee"))
	require.NoError(t, err)
	assert.True(t, first.Created)

	// Same external ID again before the first resolution was persisted: the
	// batch-local index hands back the same canonical ID.
	again, err := r.Resolve(ctx, senatorRecord(model.ProviderOpenStates, "ocd-person/1", "Ann Lee"))
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, first.CanonicalID, again.CanonicalID)
}

func TestCandidatePoolCapped(t *testing.T) {
	st := store.NewMemory()
	seedRep(t, st, senatorRep("rep-1", "A000001", "Jon Smith"))
	seedRep(t, st, senatorRep("rep-2", "A000002", "Ann Lee"))
	seedRep(t, st, senatorRep("rep-3", "A000003", "Bob Jones"))
	ctx := context.Background()
	rec := senatorRecord(model.ProviderCivicInfo, "div/us-senator/jon smith", "Jon Smith")

	capped, err := New(st, 0.90).WithMaxCandidates(2).candidates(ctx, rec, "jon smith")
	require.NoError(t, err)
	assert.Len(t, capped, 2)

	all, err := New(st, 0.90).candidates(ctx, rec, "jon smith")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "jon smith", "jon smith", 1},
		{"one edit in ten", "jon smith", "john smith", 0.9},
		{"empty incoming", "", "jon smith", 0},
		{"disjoint", "abc", "xyz", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 0.001)
		})
	}
}
