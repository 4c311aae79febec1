// Package reconcile merges per-provider source records into canonical
// representatives under a field-level precedence table, keeping full
// provenance for every displayed value.
package reconcile

import (
	_ "embed"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/choices-civics/repsync/internal/model"
)

//go:embed precedence.yaml
var precedenceYAML []byte

type categoryConfig struct {
	Order    []model.Provider `yaml:"order"`
	Freshest bool             `yaml:"freshest"`
}

type precedenceConfig struct {
	Categories map[string]categoryConfig `yaml:"categories"`
	Fields     map[string]string         `yaml:"fields"`
}

// Engine merges source records into canonical entities. Immutable after
// construction, safe for concurrent use.
type Engine struct {
	cfg  precedenceConfig
	defs []fieldDef
}

// New parses the embedded precedence table.
func New() (*Engine, error) {
	var cfg precedenceConfig
	if err := yaml.Unmarshal(precedenceYAML, &cfg); err != nil {
		return nil, eris.Wrap(err, "reconcile: parse precedence table")
	}
	for field, cat := range cfg.Fields {
		if _, ok := cfg.Categories[cat]; !ok {
			return nil, eris.Errorf("reconcile: field %s references unknown category %s", field, cat)
		}
	}
	e := &Engine{cfg: cfg, defs: fieldDefs()}
	for _, d := range e.defs {
		if _, ok := cfg.Fields[d.name]; !ok {
			return nil, eris.Errorf("reconcile: field %s missing from precedence table", d.name)
		}
	}
	return e, nil
}

// Merge folds recs into rep, recomputing every field's winner from the full
// attempt history. rep is mutated in place; pass a clone when the original
// must survive. The result is independent of the order of recs: attempts are
// keyed by source (latest fetch per source wins its slot) and the winner
// ordering is a total order.
func (e *Engine) Merge(rep *model.CanonicalRepresentative, recs ...model.SourceRecord) {
	if rep.Provenance == nil {
		rep.Provenance = make(map[string]model.FieldProvenance)
	}
	if rep.Crosswalk == nil {
		rep.Crosswalk = make(map[model.Provider]string)
	}

	for _, rec := range recs {
		if _, claimed := rep.Crosswalk[rec.Source]; !claimed {
			rep.Crosswalk[rec.Source] = rec.ExternalID
		}
		for _, d := range e.defs {
			value := d.get(rec.Fields)
			if value == "" {
				continue
			}
			e.recordAttempt(rep, d.name, model.ProvenanceAttempt{
				Source:     rec.Source,
				Value:      value,
				FetchedAt:  rec.FetchedAt,
				Confidence: rec.Confidence,
			})
		}
		if rec.FetchedAt.After(rep.UpdatedAt) {
			rep.UpdatedAt = rec.FetchedAt
		}
	}

	for _, d := range e.defs {
		fp, ok := rep.Provenance[d.name]
		if !ok {
			continue
		}
		fp.Winner = e.pickWinner(d.name, fp.Attempts)
		rep.Provenance[d.name] = fp
		d.set(rep, fp.Winner.Value)
	}
}

// recordAttempt upserts the attempt for its source, keeping the most recent
// fetch per provider.
func (e *Engine) recordAttempt(rep *model.CanonicalRepresentative, field string, a model.ProvenanceAttempt) {
	fp := rep.Provenance[field]
	for i := range fp.Attempts {
		if fp.Attempts[i].Source == a.Source {
			if a.FetchedAt.After(fp.Attempts[i].FetchedAt) {
				fp.Attempts[i] = a
			}
			rep.Provenance[field] = fp
			return
		}
	}
	fp.Attempts = append(fp.Attempts, a)
	sort.Slice(fp.Attempts, func(i, j int) bool {
		return fp.Attempts[i].Source < fp.Attempts[j].Source
	})
	rep.Provenance[field] = fp
}

// pickWinner orders attempts by (precedence rank, government class, fetch
// recency, provider name) and takes the first. The final name tiebreak makes
// the ordering total, so merge output never depends on input order.
func (e *Engine) pickWinner(field string, attempts []model.ProvenanceAttempt) model.ProvenanceAttempt {
	cat := e.cfg.Categories[e.cfg.Fields[field]]
	best := attempts[0]
	for _, a := range attempts[1:] {
		if e.beats(cat, a, best) {
			best = a
		}
	}
	return best
}

func (e *Engine) beats(cat categoryConfig, a, b model.ProvenanceAttempt) bool {
	if !cat.Freshest {
		ra, rb := rank(cat.Order, a.Source), rank(cat.Order, b.Source)
		if ra != rb {
			return ra < rb
		}
	}
	// Government values are never displaced by non-government ones.
	if a.Source.Government() != b.Source.Government() {
		return a.Source.Government()
	}
	if !a.FetchedAt.Equal(b.FetchedAt) {
		return a.FetchedAt.After(b.FetchedAt)
	}
	return a.Source < b.Source
}

func rank(order []model.Provider, p model.Provider) int {
	for i, o := range order {
		if o == p {
			return i
		}
	}
	return len(order)
}

// coreFields are the fields counted toward completeness.
var coreFields = []string{
	"name", "party", "office", "jurisdiction",
	"term_start", "term_end", "email", "phone", "url",
}

// QualityScore derives the entity's data quality in [0, 1] from provenance
// alone: 0.5 completeness, 0.3 source agreement, 0.2 freshness. now anchors
// the freshness decay so scoring stays reproducible.
func QualityScore(provenance map[string]model.FieldProvenance, now time.Time) float64 {
	var present int
	for _, f := range coreFields {
		if fp, ok := provenance[f]; ok && fp.Winner.Value != "" {
			present++
		}
	}
	completeness := float64(present) / float64(len(coreFields))

	var agreeSum float64
	var agreeFields int
	for _, fp := range provenance {
		if len(fp.Attempts) < 2 {
			continue
		}
		var agreeing int
		for _, a := range fp.Attempts {
			if a.Value == fp.Winner.Value {
				agreeing++
			}
		}
		agreeSum += float64(agreeing) / float64(len(fp.Attempts))
		agreeFields++
	}
	agreement := 1.0
	if agreeFields > 0 {
		agreement = agreeSum / float64(agreeFields)
	}

	var freshSum float64
	var freshFields int
	for _, fp := range provenance {
		age := now.Sub(fp.Winner.FetchedAt)
		f := 1 - age.Hours()/(365*24)
		if f < 0 {
			f = 0
		}
		freshSum += f
		freshFields++
	}
	freshness := 0.0
	if freshFields > 0 {
		freshness = freshSum / float64(freshFields)
	}

	return 0.5*completeness + 0.3*agreement + 0.2*freshness
}

// fieldDef binds a canonical field name to its accessor on source records and
// its setter on the canonical entity. Times travel as RFC3339 strings so the
// provenance log holds displayable values.
type fieldDef struct {
	name string
	get  func(f model.Fields) string
	set  func(r *model.CanonicalRepresentative, v string)
}

func fieldDefs() []fieldDef {
	return []fieldDef{
		{"name", func(f model.Fields) string { return f.Name },
			func(r *model.CanonicalRepresentative, v string) { r.Name = v }},
		{"first_name", func(f model.Fields) string { return f.FirstName },
			func(r *model.CanonicalRepresentative, v string) { r.NameParts.First = v }},
		{"middle_name", func(f model.Fields) string { return f.MiddleName },
			func(r *model.CanonicalRepresentative, v string) { r.NameParts.Middle = v }},
		{"last_name", func(f model.Fields) string { return f.LastName },
			func(r *model.CanonicalRepresentative, v string) { r.NameParts.Last = v }},
		{"suffix", func(f model.Fields) string { return f.Suffix },
			func(r *model.CanonicalRepresentative, v string) { r.NameParts.Suffix = v }},
		{"party", func(f model.Fields) string { return f.Party },
			func(r *model.CanonicalRepresentative, v string) { r.Party = v }},
		{"level", func(f model.Fields) string { return string(f.Level) },
			func(r *model.CanonicalRepresentative, v string) { r.Level = model.Level(v) }},
		{"office", func(f model.Fields) string { return f.Office },
			func(r *model.CanonicalRepresentative, v string) { r.Office = v }},
		{"jurisdiction", func(f model.Fields) string { return f.Jurisdiction },
			func(r *model.CanonicalRepresentative, v string) { r.Jurisdiction = v }},
		{"district", func(f model.Fields) string { return f.District },
			func(r *model.CanonicalRepresentative, v string) { r.District = v }},
		{"term_start", func(f model.Fields) string { return timeValue(f.TermStart) },
			func(r *model.CanonicalRepresentative, v string) { r.TermStart = parseTime(v) }},
		{"term_end", func(f model.Fields) string { return timeValue(f.TermEnd) },
			func(r *model.CanonicalRepresentative, v string) { r.TermEnd = parseTime(v) }},
		{"fec_candidate_id", func(f model.Fields) string { return f.FECCandidateID },
			func(r *model.CanonicalRepresentative, v string) { r.FECCandidateID = v }},
		{"email", func(f model.Fields) string { return f.Email },
			func(r *model.CanonicalRepresentative, v string) { r.Email = v }},
		{"phone", func(f model.Fields) string { return f.Phone },
			func(r *model.CanonicalRepresentative, v string) { r.Phone = v }},
		{"url", func(f model.Fields) string { return f.URL },
			func(r *model.CanonicalRepresentative, v string) { r.URL = v }},
	}
}

func timeValue(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v string) *time.Time {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
