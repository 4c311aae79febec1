package model

import "time"

// Level is the tier of government an office belongs to.
type Level string

const (
	LevelFederal Level = "federal"
	LevelState   Level = "state"
	LevelLocal   Level = "local"
)

// Fields is the normalized attribute bag a connector produces for one
// official. Every attribute is optional; reconciliation decides which
// provider's value wins per field.
type Fields struct {
	Name        string    `json:"name,omitempty"`
	FirstName   string    `json:"first_name,omitempty"`
	MiddleName  string    `json:"middle_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	Suffix      string    `json:"suffix,omitempty"`
	Level       Level     `json:"level,omitempty"`
	Office      string    `json:"office,omitempty"`
	Jurisdiction string   `json:"jurisdiction,omitempty"`
	District    string    `json:"district,omitempty"`
	Party       string    `json:"party,omitempty"`
	TermStart   *time.Time `json:"term_start,omitempty"`
	TermEnd     *time.Time `json:"term_end,omitempty"`
	Email       string    `json:"email,omitempty"`
	Phone       string    `json:"phone,omitempty"`
	URL         string    `json:"url,omitempty"`
	// FECCandidateID is the campaign-finance candidate identifier, distinct
	// from the crosswalk external ID of the FEC provider itself because the
	// congress roster also reports it.
	FECCandidateID string `json:"fec_candidate_id,omitempty"`
	// BioguideID as reported by a non-congress provider. Used to short-circuit
	// resolution onto the congress crosswalk without a fuzzy pass.
	BioguideID string `json:"bioguide_id,omitempty"`
}

// Slot returns the office slot the record claims.
func (f Fields) Slot() OfficeSlot {
	return OfficeSlot{Office: f.Office, Jurisdiction: f.Jurisdiction, District: f.District}
}

// SourceRecord is one provider's view of one official at one point in time.
// Immutable once created by a connector's mapToIntermediate function.
type SourceRecord struct {
	Source     Provider  `json:"source"`
	ExternalID string    `json:"external_id"`
	FetchedAt  time.Time `json:"fetched_at"`
	Fields     Fields    `json:"fields"`
	// Confidence is provider-declared or heuristically assigned, in [0, 1].
	Confidence float64 `json:"confidence"`
	// Raw is the original payload, retained for invalid-record audit logging
	// and provenance. Never parsed past the connector boundary.
	Raw []byte `json:"-"`
}

// OfficeSlot identifies a specific elected position.
type OfficeSlot struct {
	Office       string `json:"office"`
	Jurisdiction string `json:"jurisdiction"`
	District     string `json:"district,omitempty"`
}

// Key returns a stable composite key for map usage.
func (s OfficeSlot) Key() string {
	return s.Office + "|" + s.Jurisdiction + "|" + s.District
}
