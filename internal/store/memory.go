package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/normalize"
	"github.com/choices-civics/repsync/internal/resilience"
)

// MemoryStore is an in-memory Store used by tests and dry runs. All methods
// hand out clones so callers never observe each other's mutations.
type MemoryStore struct {
	mu sync.RWMutex

	reps      map[string]*model.CanonicalRepresentative
	crosswalk map[model.Provider]map[string]string // provider -> external ID -> canonical ID

	fuzzy       []model.FuzzyMatch
	ambiguous   []model.AmbiguousReplacement
	nextFuzzyID int64
	nextAmbigID int64

	runs        map[string]*model.IngestRun
	runOrder    []string
	checkpoints map[model.Provider]model.ProviderCheckpoint
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		reps:        make(map[string]*model.CanonicalRepresentative),
		crosswalk:   make(map[model.Provider]map[string]string),
		nextFuzzyID: 1,
		nextAmbigID: 1,
		runs:        make(map[string]*model.IngestRun),
		checkpoints: make(map[model.Provider]model.ProviderCheckpoint),
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (s *MemoryStore) Close() error                      { return nil }

func (s *MemoryStore) GetRepresentative(ctx context.Context, canonicalID string) (*model.CanonicalRepresentative, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rep, ok := s.reps[canonicalID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "representative %s", canonicalID)
	}
	return rep.Clone(), nil
}

func (s *MemoryStore) LookupByCrosswalk(ctx context.Context, p model.Provider, externalID string) (*model.CanonicalRepresentative, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids, ok := s.crosswalk[p]
	if !ok {
		return nil, nil
	}
	canonicalID, ok := ids[externalID]
	if !ok {
		return nil, nil
	}
	return s.reps[canonicalID].Clone(), nil
}

func (s *MemoryStore) LookupByOfficeSlot(ctx context.Context, slot model.OfficeSlot) ([]model.CanonicalRepresentative, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CanonicalRepresentative
	for _, rep := range s.reps {
		if rep.Slot() == slot {
			out = append(out, *rep.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryStore) SearchByNormalizedName(ctx context.Context, nameNorm string) ([]model.CanonicalRepresentative, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CanonicalRepresentative
	for _, rep := range s.reps {
		if normalize.Name(rep.Name) == nameNorm {
			out = append(out, *rep.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryStore) ListActiveWithCrosswalk(ctx context.Context, p model.Provider) ([]model.CanonicalRepresentative, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CanonicalRepresentative
	for _, rep := range s.reps {
		if rep.Status != model.StatusActive {
			continue
		}
		if _, ok := rep.Crosswalk[p]; !ok {
			continue
		}
		out = append(out, *rep.Clone())
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryStore) ListInactiveBefore(ctx context.Context, cutoff time.Time) ([]model.CanonicalRepresentative, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.CanonicalRepresentative
	for _, rep := range s.reps {
		if rep.Status == model.StatusInactive && rep.StatusChangedAt.Before(cutoff) {
			out = append(out, *rep.Clone())
		}
	}
	sortByID(out)
	return out, nil
}

func (s *MemoryStore) UpsertRepresentative(ctx context.Context, rep *model.CanonicalRepresentative) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Crosswalk uniqueness: every (provider, external ID) pair maps to at most
	// one canonical entity across the whole store.
	for p, extID := range rep.Crosswalk {
		if ids, ok := s.crosswalk[p]; ok {
			if owner, claimed := ids[extID]; claimed && owner != rep.CanonicalID {
				return resilience.Conflict(eris.Errorf(
					"store: crosswalk %s:%s already owned by %s", p, extID, owner))
			}
		}
	}

	// Drop crosswalk entries the entity no longer carries.
	if prev, ok := s.reps[rep.CanonicalID]; ok {
		for p, extID := range prev.Crosswalk {
			if rep.Crosswalk[p] != extID {
				delete(s.crosswalk[p], extID)
			}
		}
	}
	for p, extID := range rep.Crosswalk {
		if s.crosswalk[p] == nil {
			s.crosswalk[p] = make(map[string]string)
		}
		s.crosswalk[p][extID] = rep.CanonicalID
	}
	s.reps[rep.CanonicalID] = rep.Clone()
	return nil
}

func (s *MemoryStore) ApplyStatusTransition(ctx context.Context, t Transition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.reps[t.CanonicalID]
	if !ok {
		return eris.Wrapf(ErrNotFound, "representative %s", t.CanonicalID)
	}
	var successor *model.CanonicalRepresentative
	if t.ReplacedByID != "" {
		successor = s.reps[t.ReplacedByID]
	}
	noop, err := validateTransition(current, successor, t)
	if err != nil || noop {
		return err
	}
	applyTransition(current, t)
	return nil
}

func (s *MemoryStore) RecordFuzzyMatch(ctx context.Context, fm *model.FuzzyMatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fm.ID = s.nextFuzzyID
	s.nextFuzzyID++
	if fm.CreatedAt.IsZero() {
		fm.CreatedAt = time.Now().UTC()
	}
	s.fuzzy = append(s.fuzzy, *fm)
	return nil
}

func (s *MemoryStore) ListFuzzyMatches(ctx context.Context, onlyUnresolved bool) ([]model.FuzzyMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.FuzzyMatch
	for _, fm := range s.fuzzy {
		if onlyUnresolved && fm.Resolved {
			continue
		}
		out = append(out, fm)
	}
	return out, nil
}

func (s *MemoryStore) ResolveFuzzyMatch(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.fuzzy {
		if s.fuzzy[i].ID == id {
			s.fuzzy[i].Resolved = true
			return nil
		}
	}
	return eris.Wrapf(ErrNotFound, "fuzzy match %d", id)
}

func (s *MemoryStore) RecordAmbiguousReplacement(ctx context.Context, ar *model.AmbiguousReplacement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ar.ID = s.nextAmbigID
	s.nextAmbigID++
	if ar.CreatedAt.IsZero() {
		ar.CreatedAt = time.Now().UTC()
	}
	s.ambiguous = append(s.ambiguous, *ar)
	return nil
}

func (s *MemoryStore) ListAmbiguousReplacements(ctx context.Context, onlyUnresolved bool) ([]model.AmbiguousReplacement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AmbiguousReplacement
	for _, ar := range s.ambiguous {
		if onlyUnresolved && ar.Resolved {
			continue
		}
		out = append(out, ar)
	}
	return out, nil
}

func (s *MemoryStore) ResolveAmbiguousReplacement(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.ambiguous {
		if s.ambiguous[i].ID == id {
			s.ambiguous[i].Resolved = true
			return nil
		}
	}
	return eris.Wrapf(ErrNotFound, "ambiguous replacement %d", id)
}

func (s *MemoryStore) CreateRun(ctx context.Context, run *model.IngestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return resilience.Conflict(eris.Errorf("store: run %s already exists", run.ID))
	}
	s.runs[run.ID] = cloneRun(run)
	s.runOrder = append(s.runOrder, run.ID)
	return nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, run *model.IngestRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; !exists {
		return eris.Wrapf(ErrNotFound, "run %s", run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return cloneRun(run), nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.IngestRun
	// Newest first.
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		run := s.runs[s.runOrder[i]]
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.Mode != "" && run.Mode != filter.Mode {
			continue
		}
		out = append(out, *cloneRun(run))
	}
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) SaveCheckpoint(ctx context.Context, cp model.ProviderCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[cp.Provider] = cp
	return nil
}

func (s *MemoryStore) LatestCheckpoint(ctx context.Context, p model.Provider) (*model.ProviderCheckpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp, ok := s.checkpoints[p]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func cloneRun(run *model.IngestRun) *model.IngestRun {
	cp := *run
	cp.Counts = make(map[model.Provider]model.ProviderCounts, len(run.Counts))
	for k, v := range run.Counts {
		cp.Counts[k] = v
	}
	cp.FlaggedFuzzy = append([]string(nil), run.FlaggedFuzzy...)
	cp.FlaggedAmbiguous = append([]string(nil), run.FlaggedAmbiguous...)
	if run.CompletedAt != nil {
		t := *run.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func sortByID(reps []model.CanonicalRepresentative) {
	sort.Slice(reps, func(i, j int) bool {
		return strings.Compare(reps[i].CanonicalID, reps[j].CanonicalID) < 0
	})
}
