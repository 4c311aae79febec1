package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/normalize"
	"github.com/choices-civics/repsync/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
//
// Representatives are stored as a JSON document plus indexed columns for the
// lookup paths the resolver needs (crosswalk, office slot, normalized name).
// The document is the source of truth; the columns are derived on every write.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS representatives (
	canonical_id      TEXT PRIMARY KEY,
	status            TEXT NOT NULL,
	status_changed_at DATETIME NOT NULL,
	office            TEXT NOT NULL,
	jurisdiction      TEXT NOT NULL,
	district          TEXT NOT NULL DEFAULT '',
	name_norm         TEXT NOT NULL,
	doc               TEXT NOT NULL,
	created_at        DATETIME NOT NULL,
	updated_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS crosswalk (
	source       TEXT NOT NULL,
	external_id  TEXT NOT NULL,
	canonical_id TEXT NOT NULL REFERENCES representatives(canonical_id),
	PRIMARY KEY (source, external_id)
);

CREATE TABLE IF NOT EXISTS fuzzy_matches (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id        TEXT NOT NULL,
	canonical_id  TEXT NOT NULL,
	source        TEXT NOT NULL,
	external_id   TEXT NOT NULL,
	incoming_name TEXT NOT NULL,
	matched_name  TEXT NOT NULL,
	score         REAL NOT NULL,
	accepted      INTEGER NOT NULL DEFAULT 0,
	resolved      INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ambiguous_replacements (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id       TEXT NOT NULL,
	office       TEXT NOT NULL,
	jurisdiction TEXT NOT NULL,
	district     TEXT NOT NULL DEFAULT '',
	incumbent_id TEXT NOT NULL,
	claimant_ids TEXT NOT NULL,
	resolved     INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	doc          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	run_id     TEXT NOT NULL,
	provider   TEXT NOT NULL,
	cursor     TEXT NOT NULL,
	completed  INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL,
	PRIMARY KEY (run_id, provider)
);

CREATE INDEX IF NOT EXISTS idx_reps_status ON representatives(status);
CREATE INDEX IF NOT EXISTS idx_reps_slot ON representatives(office, jurisdiction, district);
CREATE INDEX IF NOT EXISTS idx_reps_name_norm ON representatives(name_norm);
CREATE INDEX IF NOT EXISTS idx_crosswalk_canonical ON crosswalk(canonical_id);
CREATE INDEX IF NOT EXISTS idx_fuzzy_resolved ON fuzzy_matches(resolved);
CREATE INDEX IF NOT EXISTS idx_ambiguous_resolved ON ambiguous_replacements(resolved);
CREATE INDEX IF NOT EXISTS idx_runs_status ON ingest_runs(status);
CREATE INDEX IF NOT EXISTS idx_checkpoints_provider ON checkpoints(provider, updated_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetRepresentative(ctx context.Context, canonicalID string) (*model.CanonicalRepresentative, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT doc FROM representatives WHERE canonical_id = ?`, canonicalID)
	rep, err := scanRepresentative(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "representative %s", canonicalID)
	}
	return rep, err
}

func (s *SQLiteStore) LookupByCrosswalk(ctx context.Context, p model.Provider, externalID string) (*model.CanonicalRepresentative, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT r.doc FROM representatives r
		 JOIN crosswalk c ON c.canonical_id = r.canonical_id
		 WHERE c.source = ? AND c.external_id = ?`,
		string(p), externalID)
	rep, err := scanRepresentative(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rep, err
}

func (s *SQLiteStore) LookupByOfficeSlot(ctx context.Context, slot model.OfficeSlot) ([]model.CanonicalRepresentative, error) {
	return s.queryRepresentatives(ctx,
		`SELECT doc FROM representatives
		 WHERE office = ? AND jurisdiction = ? AND district = ?
		 ORDER BY canonical_id`,
		slot.Office, slot.Jurisdiction, slot.District)
}

func (s *SQLiteStore) SearchByNormalizedName(ctx context.Context, nameNorm string) ([]model.CanonicalRepresentative, error) {
	return s.queryRepresentatives(ctx,
		`SELECT doc FROM representatives WHERE name_norm = ? ORDER BY canonical_id`,
		nameNorm)
}

func (s *SQLiteStore) ListActiveWithCrosswalk(ctx context.Context, p model.Provider) ([]model.CanonicalRepresentative, error) {
	return s.queryRepresentatives(ctx,
		`SELECT r.doc FROM representatives r
		 JOIN crosswalk c ON c.canonical_id = r.canonical_id
		 WHERE r.status = ? AND c.source = ?
		 ORDER BY r.canonical_id`,
		string(model.StatusActive), string(p))
}

func (s *SQLiteStore) ListInactiveBefore(ctx context.Context, cutoff time.Time) ([]model.CanonicalRepresentative, error) {
	return s.queryRepresentatives(ctx,
		`SELECT doc FROM representatives
		 WHERE status = ? AND status_changed_at < ?
		 ORDER BY canonical_id`,
		string(model.StatusInactive), cutoff.UTC())
}

func (s *SQLiteStore) UpsertRepresentative(ctx context.Context, rep *model.CanonicalRepresentative) error {
	doc, err := json.Marshal(rep)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal representative")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert")
	}
	defer tx.Rollback()

	for p, extID := range rep.Crosswalk {
		var owner string
		err := tx.QueryRowContext(ctx,
			`SELECT canonical_id FROM crosswalk WHERE source = ? AND external_id = ?`,
			string(p), extID).Scan(&owner)
		if err != nil && err != sql.ErrNoRows {
			return eris.Wrap(err, "sqlite: check crosswalk")
		}
		if err == nil && owner != rep.CanonicalID {
			return resilience.Conflict(eris.Errorf(
				"store: crosswalk %s:%s already owned by %s", p, extID, owner))
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO representatives
		 (canonical_id, status, status_changed_at, office, jurisdiction, district, name_norm, doc, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (canonical_id) DO UPDATE SET
		   status = excluded.status, status_changed_at = excluded.status_changed_at,
		   office = excluded.office, jurisdiction = excluded.jurisdiction,
		   district = excluded.district, name_norm = excluded.name_norm,
		   doc = excluded.doc, updated_at = excluded.updated_at`,
		rep.CanonicalID, string(rep.Status), rep.StatusChangedAt.UTC(),
		rep.Office, rep.Jurisdiction, rep.District, normalize.Name(rep.Name),
		string(doc), rep.CreatedAt.UTC(), rep.UpdatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert representative %s", rep.CanonicalID)
	}

	// Crosswalk rows are regenerated from the document on every write.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM crosswalk WHERE canonical_id = ?`, rep.CanonicalID); err != nil {
		return eris.Wrap(err, "sqlite: clear crosswalk")
	}
	for p, extID := range rep.Crosswalk {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO crosswalk (source, external_id, canonical_id) VALUES (?, ?, ?)`,
			string(p), extID, rep.CanonicalID); err != nil {
			return eris.Wrapf(err, "sqlite: insert crosswalk %s:%s", p, extID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert")
}

func (s *SQLiteStore) ApplyStatusTransition(ctx context.Context, t Transition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin transition")
	}
	defer tx.Rollback()

	current, err := scanRepresentative(tx.QueryRowContext(ctx,
		`SELECT doc FROM representatives WHERE canonical_id = ?`, t.CanonicalID))
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "representative %s", t.CanonicalID)
	}
	if err != nil {
		return err
	}

	var successor *model.CanonicalRepresentative
	if t.ReplacedByID != "" {
		successor, err = scanRepresentative(tx.QueryRowContext(ctx,
			`SELECT doc FROM representatives WHERE canonical_id = ?`, t.ReplacedByID))
		if err != nil && err != sql.ErrNoRows {
			return err
		}
	}

	noop, err := validateTransition(current, successor, t)
	if err != nil {
		return err
	}
	if noop {
		return nil
	}
	applyTransition(current, t)

	doc, err := json.Marshal(current)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal representative")
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE representatives SET status = ?, status_changed_at = ?, doc = ?, updated_at = ?
		 WHERE canonical_id = ?`,
		string(current.Status), current.StatusChangedAt.UTC(), string(doc),
		current.UpdatedAt.UTC(), t.CanonicalID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: apply transition %s", t.CanonicalID)
	}
	if err := checkRowsAffected(res, "representative", t.CanonicalID); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit transition")
}

func (s *SQLiteStore) RecordFuzzyMatch(ctx context.Context, fm *model.FuzzyMatch) error {
	if fm.CreatedAt.IsZero() {
		fm.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO fuzzy_matches
		 (run_id, canonical_id, source, external_id, incoming_name, matched_name, score, accepted, resolved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fm.RunID, fm.CanonicalID, string(fm.Source), fm.ExternalID,
		fm.IncomingName, fm.MatchedName, fm.Score, fm.Accepted, fm.Resolved, fm.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: record fuzzy match")
	}
	fm.ID, err = res.LastInsertId()
	return eris.Wrap(err, "sqlite: fuzzy match id")
}

func (s *SQLiteStore) ListFuzzyMatches(ctx context.Context, onlyUnresolved bool) ([]model.FuzzyMatch, error) {
	query := `SELECT id, run_id, canonical_id, source, external_id, incoming_name, matched_name, score, accepted, resolved, created_at
	          FROM fuzzy_matches`
	if onlyUnresolved {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list fuzzy matches")
	}
	defer rows.Close()

	var out []model.FuzzyMatch
	for rows.Next() {
		var fm model.FuzzyMatch
		if err := rows.Scan(&fm.ID, &fm.RunID, &fm.CanonicalID, &fm.Source, &fm.ExternalID,
			&fm.IncomingName, &fm.MatchedName, &fm.Score, &fm.Accepted, &fm.Resolved, &fm.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fuzzy match")
		}
		out = append(out, fm)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list fuzzy matches iterate")
}

func (s *SQLiteStore) ResolveFuzzyMatch(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE fuzzy_matches SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve fuzzy match %d", id)
	}
	return checkRowsAffected(res, "fuzzy_match", "")
}

func (s *SQLiteStore) RecordAmbiguousReplacement(ctx context.Context, ar *model.AmbiguousReplacement) error {
	if ar.CreatedAt.IsZero() {
		ar.CreatedAt = time.Now().UTC()
	}
	claimants, err := json.Marshal(ar.ClaimantIDs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal claimants")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ambiguous_replacements
		 (run_id, office, jurisdiction, district, incumbent_id, claimant_ids, resolved, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ar.RunID, ar.Slot.Office, ar.Slot.Jurisdiction, ar.Slot.District,
		ar.IncumbentID, string(claimants), ar.Resolved, ar.CreatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: record ambiguous replacement")
	}
	ar.ID, err = res.LastInsertId()
	return eris.Wrap(err, "sqlite: ambiguous replacement id")
}

func (s *SQLiteStore) ListAmbiguousReplacements(ctx context.Context, onlyUnresolved bool) ([]model.AmbiguousReplacement, error) {
	query := `SELECT id, run_id, office, jurisdiction, district, incumbent_id, claimant_ids, resolved, created_at
	          FROM ambiguous_replacements`
	if onlyUnresolved {
		query += ` WHERE resolved = 0`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ambiguous replacements")
	}
	defer rows.Close()

	var out []model.AmbiguousReplacement
	for rows.Next() {
		var ar model.AmbiguousReplacement
		var claimants string
		if err := rows.Scan(&ar.ID, &ar.RunID, &ar.Slot.Office, &ar.Slot.Jurisdiction,
			&ar.Slot.District, &ar.IncumbentID, &claimants, &ar.Resolved, &ar.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ambiguous replacement")
		}
		if err := json.Unmarshal([]byte(claimants), &ar.ClaimantIDs); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal claimants")
		}
		out = append(out, ar)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list ambiguous replacements iterate")
}

func (s *SQLiteStore) ResolveAmbiguousReplacement(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ambiguous_replacements SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve ambiguous replacement %d", id)
	}
	return checkRowsAffected(res, "ambiguous_replacement", "")
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.IngestRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO ingest_runs (id, mode, status, started_at, completed_at, doc) VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Mode), string(run.Status), run.StartedAt.UTC(), nullTime(run.CompletedAt), string(doc),
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *model.IngestRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingest_runs SET status = ?, completed_at = ?, doc = ? WHERE id = ?`,
		string(run.Status), nullTime(run.CompletedAt), string(doc), run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run %s", run.ID)
	}
	return checkRowsAffected(res, "run", run.ID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM ingest_runs WHERE id = ?`, runID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	var run model.IngestRun
	if err := json.Unmarshal([]byte(doc), &run); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run")
	}
	return &run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error) {
	query := `SELECT doc FROM ingest_runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Mode != "" {
		query += ` AND mode = ?`
		args = append(args, string(filter.Mode))
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		var run model.IngestRun
		if err := json.Unmarshal([]byte(doc), &run); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal run")
		}
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp model.ProviderCheckpoint) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (run_id, provider, cursor, completed, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, provider) DO UPDATE SET
		   cursor = excluded.cursor, completed = excluded.completed, updated_at = excluded.updated_at`,
		cp.RunID, string(cp.Provider), cp.Cursor, cp.Completed, cp.UpdatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: save checkpoint")
}

func (s *SQLiteStore) LatestCheckpoint(ctx context.Context, p model.Provider) (*model.ProviderCheckpoint, error) {
	var cp model.ProviderCheckpoint
	err := s.db.QueryRowContext(ctx,
		`SELECT run_id, provider, cursor, completed, updated_at FROM checkpoints
		 WHERE provider = ? ORDER BY updated_at DESC LIMIT 1`,
		string(p),
	).Scan(&cp.RunID, &cp.Provider, &cp.Cursor, &cp.Completed, &cp.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest checkpoint")
	}
	return &cp, nil
}

// helpers

func (s *SQLiteStore) queryRepresentatives(ctx context.Context, query string, args ...any) ([]model.CanonicalRepresentative, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query representatives")
	}
	defer rows.Close()

	var out []model.CanonicalRepresentative
	for rows.Next() {
		rep, err := scanRepresentative(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rep)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: representatives iterate")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRepresentative(row scannable) (*model.CanonicalRepresentative, error) {
	var doc string
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan representative")
	}
	var rep model.CanonicalRepresentative
	if err := json.Unmarshal([]byte(doc), &rep); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal representative")
	}
	return &rep, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
