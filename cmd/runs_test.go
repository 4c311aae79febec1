package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/choices-civics/repsync/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	started := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	done := started.Add(42 * time.Second)

	runs := []model.IngestRun{
		{
			ID:          "0c9a2f6e-1111-2222-3333-444455556666",
			Mode:        model.RunModeEnrichment,
			Status:      model.RunStatusComplete,
			StartedAt:   started,
			CompletedAt: &done,
			Counts: map[model.Provider]model.ProviderCounts{
				model.ProviderCongress:   {Fetched: 535, Created: 2},
				model.ProviderOpenStates: {Fetched: 180, Created: 1},
			},
		},
		{
			ID:        "deadbeef-0000-0000-0000-000000000000",
			Mode:      model.RunModeFirstTime,
			DryRun:    true,
			Status:    model.RunStatusPartial,
			StartedAt: started,
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)
	out := buf.String()

	assert.Contains(t, out, "0c9a2f6e")
	assert.Contains(t, out, "715") // fetched summed across providers
	assert.Contains(t, out, "complete")
	assert.Contains(t, out, "first_time (dry)")
	assert.Contains(t, out, "42s")
	assert.NotContains(t, out, "deadbeef-0000", "IDs are truncated")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "0c9a2f6e", truncateID("0c9a2f6e-1111-2222-3333-444455556666"))
	assert.Equal(t, "short", truncateID("short"))
}

func TestFormatFuzzyMatches(t *testing.T) {
	var buf bytes.Buffer
	formatFuzzyMatches(&buf, []model.FuzzyMatch{
		{
			ID:           7,
			CanonicalID:  "0c9a2f6e-1111-2222-3333-444455556666",
			Source:       model.ProviderCivicInfo,
			ExternalID:   "",
			IncomingName: "Jon Smith",
			MatchedName:  "John Smith",
			Score:        0.905,
		},
	})
	out := buf.String()

	assert.Contains(t, out, "Jon Smith")
	assert.Contains(t, out, "John Smith")
	assert.Contains(t, out, "0.905")
	assert.Contains(t, out, "civicinfo")
}

func TestFormatAmbiguousHolds(t *testing.T) {
	var buf bytes.Buffer
	formatAmbiguousHolds(&buf, []model.AmbiguousReplacement{
		{
			ID:          3,
			Slot:        model.OfficeSlot{Office: "U.S. Senator", Jurisdiction: "Vermont", District: "1"},
			IncumbentID: "0c9a2f6e-1111-2222-3333-444455556666",
			ClaimantIDs: []string{"aaaaaaaa-0000-0000-0000-000000000000", "bbbbbbbb-0000-0000-0000-000000000000"},
		},
	})
	out := buf.String()

	assert.Contains(t, out, "U.S. Senator|Vermont|1")
	assert.Contains(t, out, "aaaaaaaa,bbbbbbbb")
}
