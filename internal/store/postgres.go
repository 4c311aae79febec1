package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/choices-civics/repsync/internal/model"
	"github.com/choices-civics/repsync/internal/normalize"
	"github.com/choices-civics/repsync/internal/resilience"
)

// Pool is the subset of pgxpool.Pool the store uses. Satisfied by pgxmock in
// tests.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool. Same document-plus-index
// layout as the SQLite store, with JSONB documents.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests.
func NewPostgresFromPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS representatives (
	canonical_id      TEXT PRIMARY KEY,
	status            TEXT NOT NULL,
	status_changed_at TIMESTAMPTZ NOT NULL,
	office            TEXT NOT NULL,
	jurisdiction      TEXT NOT NULL,
	district          TEXT NOT NULL DEFAULT '',
	name_norm         TEXT NOT NULL,
	doc               JSONB NOT NULL,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS crosswalk (
	source       TEXT NOT NULL,
	external_id  TEXT NOT NULL,
	canonical_id TEXT NOT NULL REFERENCES representatives(canonical_id),
	PRIMARY KEY (source, external_id)
);

CREATE TABLE IF NOT EXISTS fuzzy_matches (
	id            BIGSERIAL PRIMARY KEY,
	run_id        TEXT NOT NULL,
	canonical_id  TEXT NOT NULL,
	source        TEXT NOT NULL,
	external_id   TEXT NOT NULL,
	incoming_name TEXT NOT NULL,
	matched_name  TEXT NOT NULL,
	score         DOUBLE PRECISION NOT NULL,
	accepted      BOOLEAN NOT NULL DEFAULT false,
	resolved      BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ambiguous_replacements (
	id           BIGSERIAL PRIMARY KEY,
	run_id       TEXT NOT NULL,
	office       TEXT NOT NULL,
	jurisdiction TEXT NOT NULL,
	district     TEXT NOT NULL DEFAULT '',
	incumbent_id TEXT NOT NULL,
	claimant_ids JSONB NOT NULL,
	resolved     BOOLEAN NOT NULL DEFAULT false,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ingest_runs (
	id           TEXT PRIMARY KEY,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	doc          JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	run_id     TEXT NOT NULL,
	provider   TEXT NOT NULL,
	cursor     TEXT NOT NULL,
	completed  BOOLEAN NOT NULL DEFAULT false,
	updated_at TIMESTAMPTZ NOT NULL,
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) GetRepresentative(ctx context.Context, canonicalID string) (*model.CanonicalRepresentative, error) {
	rep, err := scanRepDoc(s.pool.QueryRow(ctx,
		`SELECT doc FROM representatives WHERE canonical_id = $1`, canonicalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "representative %s", canonicalID)
	}
	return rep, err
}

func (s *PostgresStore) LookupByCrosswalk(ctx context.Context, p model.Provider, externalID string) (*model.CanonicalRepresentative, error) {
	rep, err := scanRepDoc(s.pool.QueryRow(ctx,
		`SELECT r.doc FROM representatives r
		 JOIN crosswalk c ON c.canonical_id = r.canonical_id
		 WHERE c.source = $1 AND c.external_id = $2`,
		string(p), externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rep, err
}

func (s *PostgresStore) LookupByOfficeSlot(ctx context.Context, slot model.OfficeSlot) ([]model.CanonicalRepresentative, error) {
	return s.queryReps(ctx,
		`SELECT doc FROM representatives
		 WHERE office = $1 AND jurisdiction = $2 AND district = $3
		 ORDER BY canonical_id`,
		slot.Office, slot.Jurisdiction, slot.District)
}

func (s *PostgresStore) SearchByNormalizedName(ctx context.Context, nameNorm string) ([]model.CanonicalRepresentative, error) {
	return s.queryReps(ctx,
		`SELECT doc FROM representatives WHERE name_norm = $1 ORDER BY canonical_id`,
		nameNorm)
}

func (s *PostgresStore) ListActiveWithCrosswalk(ctx context.Context, p model.Provider) ([]model.CanonicalRepresentative, error) {
	return s.queryReps(ctx,
		`SELECT r.doc FROM representatives r
		 JOIN crosswalk c ON c.canonical_id = r.canonical_id
		 WHERE r.status = $1 AND c.source = $2
		 ORDER BY r.canonical_id`,
		string(model.StatusActive), string(p))
}

func (s *PostgresStore) ListInactiveBefore(ctx context.Context, cutoff time.Time) ([]model.CanonicalRepresentative, error) {
	return s.queryReps(ctx,
		`SELECT doc FROM representatives
		 WHERE status = $1 AND status_changed_at < $2
		 ORDER BY canonical_id`,
		string(model.StatusInactive), cutoff.UTC())
}

func (s *PostgresStore) UpsertRepresentative(ctx context.Context, rep *model.CanonicalRepresentative) error {
	doc, err := json.Marshal(rep)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal representative")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx)

	for p, extID := range rep.Crosswalk {
		var owner string
		err := tx.QueryRow(ctx,
			`SELECT canonical_id FROM crosswalk WHERE source = $1 AND external_id = $2`,
			string(p), extID).Scan(&owner)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return eris.Wrap(err, "postgres: check crosswalk")
		}
		if err == nil && owner != rep.CanonicalID {
			return resilience.Conflict(eris.Errorf(
				"store: crosswalk %s:%s already owned by %s", p, extID, owner))
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO representatives
		 (canonical_id, status, status_changed_at, office, jurisdiction, district, name_norm, doc, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (canonical_id) DO UPDATE SET
		   status = excluded.status, status_changed_at = excluded.status_changed_at,
		   office = excluded.office, jurisdiction = excluded.jurisdiction,
		   district = excluded.district, name_norm = excluded.name_norm,
		   doc = excluded.doc, updated_at = excluded.updated_at`,
		rep.CanonicalID, string(rep.Status), rep.StatusChangedAt.UTC(),
		rep.Office, rep.Jurisdiction, rep.District, normalize.Name(rep.Name),
		doc, rep.CreatedAt.UTC(), rep.UpdatedAt.UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert representative %s", rep.CanonicalID)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM crosswalk WHERE canonical_id = $1`, rep.CanonicalID); err != nil {
		return eris.Wrap(err, "postgres: clear crosswalk")
	}
	for p, extID := range rep.Crosswalk {
		if _, err := tx.Exec(ctx,
			`INSERT INTO crosswalk (source, external_id, canonical_id) VALUES ($1, $2, $3)`,
			string(p), extID, rep.CanonicalID); err != nil {
			return eris.Wrapf(err, "postgres: insert crosswalk %s:%s", p, extID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit upsert")
}

func (s *PostgresStore) ApplyStatusTransition(ctx context.Context, t Transition) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin transition")
	}
	defer tx.Rollback(ctx)

	current, err := scanRepDoc(tx.QueryRow(ctx,
		`SELECT doc FROM representatives WHERE canonical_id = $1 FOR UPDATE`, t.CanonicalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "representative %s", t.CanonicalID)
	}
	if err != nil {
		return err
	}

	var successor *model.CanonicalRepresentative
	if t.ReplacedByID != "" {
		successor, err = scanRepDoc(tx.QueryRow(ctx,
			`SELECT doc FROM representatives WHERE canonical_id = $1`, t.ReplacedByID))
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
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
		return eris.Wrap(err, "postgres: marshal representative")
	}
	tag, err := tx.Exec(ctx,
		`UPDATE representatives SET status = $1, status_changed_at = $2, doc = $3, updated_at = $4
		 WHERE canonical_id = $5`,
		string(current.Status), current.StatusChangedAt.UTC(), doc,
		current.UpdatedAt.UTC(), t.CanonicalID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: apply transition %s", t.CanonicalID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("representative not found: %s", t.CanonicalID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit transition")
}

func (s *PostgresStore) RecordFuzzyMatch(ctx context.Context, fm *model.FuzzyMatch) error {
	if fm.CreatedAt.IsZero() {
		fm.CreatedAt = time.Now().UTC()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO fuzzy_matches
		 (run_id, canonical_id, source, external_id, incoming_name, matched_name, score, accepted, resolved, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		fm.RunID, fm.CanonicalID, string(fm.Source), fm.ExternalID,
		fm.IncomingName, fm.MatchedName, fm.Score, fm.Accepted, fm.Resolved, fm.CreatedAt,
	).Scan(&fm.ID)
	return eris.Wrap(err, "postgres: record fuzzy match")
}

func (s *PostgresStore) ListFuzzyMatches(ctx context.Context, onlyUnresolved bool) ([]model.FuzzyMatch, error) {
	query := `SELECT id, run_id, canonical_id, source, external_id, incoming_name, matched_name, score, accepted, resolved, created_at
	          FROM fuzzy_matches`
	if onlyUnresolved {
		query += ` WHERE resolved = false`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list fuzzy matches")
	}
	defer rows.Close()

	var out []model.FuzzyMatch
	for rows.Next() {
		var fm model.FuzzyMatch
		if err := rows.Scan(&fm.ID, &fm.RunID, &fm.CanonicalID, &fm.Source, &fm.ExternalID,
			&fm.IncomingName, &fm.MatchedName, &fm.Score, &fm.Accepted, &fm.Resolved, &fm.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan fuzzy match")
		}
		out = append(out, fm)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list fuzzy matches iterate")
}

func (s *PostgresStore) ResolveFuzzyMatch(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE fuzzy_matches SET resolved = true WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve fuzzy match %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("fuzzy_match not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) RecordAmbiguousReplacement(ctx context.Context, ar *model.AmbiguousReplacement) error {
	if ar.CreatedAt.IsZero() {
		ar.CreatedAt = time.Now().UTC()
	}
	claimants, err := json.Marshal(ar.ClaimantIDs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal claimants")
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO ambiguous_replacements
		 (run_id, office, jurisdiction, district, incumbent_id, claimant_ids, resolved, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		ar.RunID, ar.Slot.Office, ar.Slot.Jurisdiction, ar.Slot.District,
		ar.IncumbentID, claimants, ar.Resolved, ar.CreatedAt,
	).Scan(&ar.ID)
	return eris.Wrap(err, "postgres: record ambiguous replacement")
}

func (s *PostgresStore) ListAmbiguousReplacements(ctx context.Context, onlyUnresolved bool) ([]model.AmbiguousReplacement, error) {
	query := `SELECT id, run_id, office, jurisdiction, district, incumbent_id, claimant_ids, resolved, created_at
	          FROM ambiguous_replacements`
	if onlyUnresolved {
		query += ` WHERE resolved = false`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ambiguous replacements")
	}
	defer rows.Close()

	var out []model.AmbiguousReplacement
	for rows.Next() {
		var ar model.AmbiguousReplacement
		var claimants []byte
		if err := rows.Scan(&ar.ID, &ar.RunID, &ar.Slot.Office, &ar.Slot.Jurisdiction,
			&ar.Slot.District, &ar.IncumbentID, &claimants, &ar.Resolved, &ar.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan ambiguous replacement")
		}
		if err := json.Unmarshal(claimants, &ar.ClaimantIDs); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal claimants")
		}
		out = append(out, ar)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list ambiguous replacements iterate")
}

func (s *PostgresStore) ResolveAmbiguousReplacement(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ambiguous_replacements SET resolved = true WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve ambiguous replacement %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("ambiguous_replacement not found: %d", id)
	}
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.IngestRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO ingest_runs (id, mode, status, started_at, completed_at, doc) VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, string(run.Mode), string(run.Status), run.StartedAt.UTC(), run.CompletedAt, doc,
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) UpdateRun(ctx context.Context, run *model.IngestRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ingest_runs SET status = $1, completed_at = $2, doc = $3 WHERE id = $4`,
		string(run.Status), run.CompletedAt, doc, run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run %s", run.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", run.ID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.IngestRun, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM ingest_runs WHERE id = $1`, runID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	var run model.IngestRun
	if err := json.Unmarshal(doc, &run); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run")
	}
	return &run, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.IngestRun, error) {
	query := `SELECT doc FROM ingest_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Mode != "" {
		query += fmt.Sprintf(` AND mode = $%d`, argIdx)
		args = append(args, string(filter.Mode))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.IngestRun
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		var run model.IngestRun
		if err := json.Unmarshal(doc, &run); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal run")
		}
		runs = append(runs, run)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp model.ProviderCheckpoint) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO checkpoints (run_id, provider, cursor, completed, updated_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (run_id, provider) DO UPDATE SET
		   cursor = $3, completed = $4, updated_at = $5`,
		cp.RunID, string(cp.Provider), cp.Cursor, cp.Completed, cp.UpdatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: save checkpoint")
}

func (s *PostgresStore) LatestCheckpoint(ctx context.Context, p model.Provider) (*model.ProviderCheckpoint, error) {
	var cp model.ProviderCheckpoint
	err := s.pool.QueryRow(ctx,
		`SELECT run_id, provider, cursor, completed, updated_at FROM checkpoints
		 WHERE provider = $1 ORDER BY updated_at DESC LIMIT 1`,
		string(p),
	).Scan(&cp.RunID, &cp.Provider, &cp.Cursor, &cp.Completed, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest checkpoint")
	}
	return &cp, nil
}

// helpers

func (s *PostgresStore) queryReps(ctx context.Context, query string, args ...any) ([]model.CanonicalRepresentative, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query representatives")
	}
	defer rows.Close()

	var out []model.CanonicalRepresentative
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, eris.Wrap(err, "postgres: scan representative")
		}
		var rep model.CanonicalRepresentative
		if err := json.Unmarshal(doc, &rep); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal representative")
		}
		out = append(out, rep)
	}
	return out, eris.Wrap(rows.Err(), "postgres: representatives iterate")
}

func scanRepDoc(row pgx.Row) (*model.CanonicalRepresentative, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan representative")
	}
	var rep model.CanonicalRepresentative
	if err := json.Unmarshal(doc, &rep); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal representative")
	}
	return &rep, nil
}
