package model

import "time"

// Status is the lifecycle state of a canonical representative.
type Status string

const (
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusHistorical Status = "historical"
)

// Valid reports whether s is a known lifecycle status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusHistorical:
		return true
	}
	return false
}

// StatusReason records why the last status transition happened.
type StatusReason string

const (
	ReasonTermEnded          StatusReason = "term_ended"
	ReasonReplaced           StatusReason = "replaced"
	ReasonRetired            StatusReason = "retired"
	ReasonDeceased           StatusReason = "deceased"
	ReasonNotCurrentInSource StatusReason = "not_current_in_source"
)

// NameParts holds the structured form of a representative's name.
type NameParts struct {
	First  string `json:"first,omitempty"`
	Middle string `json:"middle,omitempty"`
	Last   string `json:"last,omitempty"`
	Suffix string `json:"suffix,omitempty"`
}

// ProvenanceAttempt is one provider's reported value for a field. Values are
// stored in canonical string form so the quality score is re-derivable from
// provenance alone.
type ProvenanceAttempt struct {
	Source     Provider  `json:"source"`
	Value      string    `json:"value"`
	FetchedAt  time.Time `json:"fetched_at"`
	Confidence float64   `json:"confidence"`
}

// FieldProvenance records, for one displayed field, which source won and what
// every reporting source said.
type FieldProvenance struct {
	Winner   ProvenanceAttempt   `json:"winner"`
	Attempts []ProvenanceAttempt `json:"attempts"`
}

// Verified reports whether the winning value came from a government source.
func (fp FieldProvenance) Verified() bool {
	return fp.Winner.Source.Government()
}

// CanonicalRepresentative is the durable, deduplicated entity for one real
// officeholder-term.
type CanonicalRepresentative struct {
	CanonicalID  string    `json:"canonical_id"`
	Level        Level     `json:"level"`
	Office       string    `json:"office"`
	Jurisdiction string    `json:"jurisdiction"`
	District     string    `json:"district,omitempty"`
	Party        string    `json:"party,omitempty"`
	Name         string    `json:"name"`
	NameParts    NameParts `json:"name_parts"`

	Status Status `json:"status"`
	// ReplacedByID points to the succeeding entity. Set only when Status is
	// historical with ReasonReplaced, and must resolve to a non-historical
	// entity (chains only resolve forward).
	ReplacedByID    string       `json:"replaced_by_id,omitempty"`
	StatusReason    StatusReason `json:"status_reason,omitempty"`
	StatusChangedAt time.Time    `json:"status_changed_at"`

	// Crosswalk maps each provider that has ever matched this entity to its
	// native identifier. Unique per provider across the whole store.
	Crosswalk map[Provider]string `json:"crosswalk"`

	TermStart      *time.Time `json:"term_start,omitempty"`
	TermEnd        *time.Time `json:"term_end,omitempty"`
	Email          string     `json:"email,omitempty"`
	Phone          string     `json:"phone,omitempty"`
	URL            string     `json:"url,omitempty"`
	FECCandidateID string     `json:"fec_candidate_id,omitempty"`

	DataQualityScore float64                    `json:"data_quality_score"`
	Provenance       map[string]FieldProvenance `json:"field_provenance"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Slot returns the office slot the entity occupies.
func (r *CanonicalRepresentative) Slot() OfficeSlot {
	return OfficeSlot{Office: r.Office, Jurisdiction: r.Jurisdiction, District: r.District}
}

// Clone returns a deep copy. Stores hand out clones so callers never share
// mutable maps.
func (r *CanonicalRepresentative) Clone() *CanonicalRepresentative {
	cp := *r
	cp.Crosswalk = make(map[Provider]string, len(r.Crosswalk))
	for k, v := range r.Crosswalk {
		cp.Crosswalk[k] = v
	}
	cp.Provenance = make(map[string]FieldProvenance, len(r.Provenance))
	for k, v := range r.Provenance {
		attempts := make([]ProvenanceAttempt, len(v.Attempts))
		copy(attempts, v.Attempts)
		v.Attempts = attempts
		cp.Provenance[k] = v
	}
	if r.TermStart != nil {
		ts := *r.TermStart
		cp.TermStart = &ts
	}
	if r.TermEnd != nil {
		te := *r.TermEnd
		cp.TermEnd = &te
	}
	return &cp
}

// FuzzyMatch is an audit record for a below-certainty resolver decision.
// Every fuzzy merge is logged and reversible; none happen silently.
type FuzzyMatch struct {
	ID           int64     `json:"id,omitempty"`
	RunID        string    `json:"run_id"`
	CanonicalID  string    `json:"canonical_id"`
	Source       Provider  `json:"source"`
	ExternalID   string    `json:"external_id"`
	IncomingName string    `json:"incoming_name"`
	MatchedName  string    `json:"matched_name"`
	Score        float64   `json:"score"`
	Accepted     bool      `json:"accepted"`
	Resolved     bool      `json:"resolved"`
	CreatedAt    time.Time `json:"created_at"`
}

// AmbiguousReplacement flags two simultaneous claimants to one office slot.
// Held for manual review; no automatic transition is applied.
type AmbiguousReplacement struct {
	ID          int64      `json:"id,omitempty"`
	RunID       string     `json:"run_id"`
	Slot        OfficeSlot `json:"slot"`
	IncumbentID string     `json:"incumbent_id"`
	ClaimantIDs []string   `json:"claimant_ids"`
	Resolved    bool       `json:"resolved"`
	CreatedAt   time.Time  `json:"created_at"`
}
