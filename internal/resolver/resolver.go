// Package resolver maps incoming source records onto canonical entities.
//
// Resolution is a cascade: exact crosswalk match, cross-provider ID
// short-circuit, then normalized fuzzy name matching gated on office and
// term overlap. Anything below the certainty threshold becomes a new entity
// rather than a silent merge.
package resolver

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/normalize"
	"github.com/choices-civics/repsync/internal/store"
)

// Resolution is the outcome of resolving one source record.
type Resolution struct {
	Record      model.SourceRecord
	CanonicalID string
	// Created is true when no existing entity matched and a new canonical ID
	// was minted.
	Created bool
	// Fuzzy is true when the match came from name similarity rather than an
	// exact identifier. Every fuzzy resolution is audit-logged by the caller.
	Fuzzy       bool
	Score       float64
	MatchedName string
}

// Resolver resolves source records against the canonical store. Safe for
// concurrent use; in-flight new entities are tracked so two records for the
// same person in one batch resolve to one canonical ID.
type Resolver struct {
	store     store.Store
	threshold float64
	// maxCandidates caps how many candidates one fuzzy resolution scores.
	// Zero means unbounded.
	maxCandidates int
	log           *zap.Logger

	mu      sync.Mutex
	pending map[string]string // source|external_id -> canonical ID minted this batch
}

// New creates a Resolver. threshold is the minimum normalized similarity for
// a fuzzy match, in (0, 1].
func New(st store.Store, threshold float64) *Resolver {
	return &Resolver{
		store:     st,
		threshold: threshold,
		log:       zap.L().Named("resolver"),
		pending:   make(map[string]string),
	}
}

// WithMaxCandidates caps the fuzzy candidate pool per resolution. Slot
// candidates are gathered before name-index candidates, so the cap trims the
// less specific end of the pool.
func (r *Resolver) WithMaxCandidates(n int) *Resolver {
	r.maxCandidates = n
	return r
}

// Resolve maps rec onto an existing canonical entity or mints a new one.
// The store is only read; the caller persists the merge result and any audit
// records, so dry runs can resolve without writing.
func (r *Resolver) Resolve(ctx context.Context, rec model.SourceRecord) (*Resolution, error) {
	// Exact crosswalk match is authoritative.
	if existing, err := r.store.LookupByCrosswalk(ctx, rec.Source, rec.ExternalID); err != nil {
		return nil, err
	} else if existing != nil {
		return &Resolution{Record: rec, CanonicalID: existing.CanonicalID}, nil
	}

	if id, ok := r.pendingID(rec.Source, rec.ExternalID); ok {
		return &Resolution{Record: rec, CanonicalID: id}, nil
	}

	// A provider reporting a bioguide ID links straight onto the federal
	// roster's crosswalk without a name comparison.
	if rec.Source != model.ProviderCongress && rec.Fields.BioguideID != "" {
		existing, err := r.store.LookupByCrosswalk(ctx, model.ProviderCongress, rec.Fields.BioguideID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return &Resolution{Record: rec, CanonicalID: existing.CanonicalID}, nil
		}
		if id, ok := r.pendingID(model.ProviderCongress, rec.Fields.BioguideID); ok {
			return &Resolution{Record: rec, CanonicalID: id}, nil
		}
	}

	res, err := r.resolveFuzzy(ctx, rec)
	if err != nil {
		return nil, err
	}
	if res != nil {
		return res, nil
	}

	// No match anywhere: new canonical entity.
	id := r.mint(rec)
	return &Resolution{Record: rec, CanonicalID: id, Created: true}, nil
}

// resolveFuzzy returns nil when no candidate clears the threshold.
func (r *Resolver) resolveFuzzy(ctx context.Context, rec model.SourceRecord) (*Resolution, error) {
	incoming := normalize.Name(rec.Fields.Name)
	if incoming == "" {
		return nil, nil
	}

	candidates, err := r.candidates(ctx, rec, incoming)
	if err != nil {
		return nil, err
	}

	var (
		best      *model.CanonicalRepresentative
		bestScore float64
	)
	for i := range candidates {
		c := &candidates[i]
		// Historical entities never absorb new records; a returning person is
		// a new officeholder-term.
		if c.Status == model.StatusHistorical {
			continue
		}
		if c.Slot() != rec.Fields.Slot() {
			continue
		}
		if !termsOverlap(c.TermStart, c.TermEnd, rec.Fields.TermStart, rec.Fields.TermEnd) {
			continue
		}
		score := Similarity(incoming, normalize.Name(c.Name))
		if score >= r.threshold && score > bestScore {
			best = c
			bestScore = score
		}
	}
	if best == nil {
		return nil, nil
	}

	r.log.Info("fuzzy match",
		zap.String("source", string(rec.Source)),
		zap.String("external_id", rec.ExternalID),
		zap.String("incoming", rec.Fields.Name),
		zap.String("matched", best.Name),
		zap.Float64("score", bestScore),
	)
	return &Resolution{
		Record:      rec,
		CanonicalID: best.CanonicalID,
		Fuzzy:       true,
		Score:       bestScore,
		MatchedName: best.Name,
	}, nil
}

// candidates gathers potential matches from the office slot and the
// normalized-name index, deduplicated by canonical ID.
func (r *Resolver) candidates(ctx context.Context, rec model.SourceRecord, incoming string) ([]model.CanonicalRepresentative, error) {
	bySlot, err := r.store.LookupByOfficeSlot(ctx, rec.Fields.Slot())
	if err != nil {
		return nil, err
	}
	byName, err := r.store.SearchByNormalizedName(ctx, incoming)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(bySlot)+len(byName))
	out := make([]model.CanonicalRepresentative, 0, len(bySlot)+len(byName))
	for _, c := range append(bySlot, byName...) {
		if seen[c.CanonicalID] {
			continue
		}
		seen[c.CanonicalID] = true
		out = append(out, c)
		if r.maxCandidates > 0 && len(out) >= r.maxCandidates {
			break
		}
	}
	return out, nil
}

func (r *Resolver) pendingID(p model.Provider, externalID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.pending[pendingKey(p, externalID)]
	return id, ok
}

func (r *Resolver) mint(rec model.SourceRecord) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pendingKey(rec.Source, rec.ExternalID)
	if id, ok := r.pending[key]; ok {
		return id
	}
	id := uuid.New().String()
	r.pending[key] = id
	if rec.Source != model.ProviderCongress && rec.Fields.BioguideID != "" {
		r.pending[pendingKey(model.ProviderCongress, rec.Fields.BioguideID)] = id
	}
	return id
}

func pendingKey(p model.Provider, externalID string) string {
	return string(p) + "|" + externalID
}

// Similarity is normalized Levenshtein similarity over already-normalized
// names: 1 is identical, 0 shares nothing.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	maxLen := utf8.RuneCountInString(a)
	if lb := utf8.RuneCountInString(b); lb > maxLen {
		maxLen = lb
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1 - float64(dist)/float64(maxLen)
}

// termsOverlap reports whether two term windows intersect. Nil bounds are
// open-ended, so records without term data still match.
func termsOverlap(aStart, aEnd, bStart, bEnd *time.Time) bool {
	if aStart != nil && bEnd != nil && bEnd.Before(*aStart) {
		return false
	}
	if bStart != nil && aEnd != nil && aEnd.Before(*bStart) {
		return false
	}
	return true
}
