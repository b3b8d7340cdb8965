package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite" // register the "sqlite" driver

	"github.com/sells-group/provider-trust/internal/geo"
	"github.com/sells-group/provider-trust/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection serializes writers and keeps pragmas in effect.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS providers (
	id                   TEXT PRIMARY KEY,
	npi_number           TEXT NOT NULL UNIQUE,
	first_name           TEXT NOT NULL DEFAULT '',
	last_name            TEXT NOT NULL DEFAULT '',
	organization_name    TEXT NOT NULL DEFAULT '',
	display_name         TEXT NOT NULL DEFAULT '',
	taxonomy_code        TEXT NOT NULL DEFAULT '',
	taxonomy_description TEXT NOT NULL DEFAULT '',
	address_line_1       TEXT NOT NULL DEFAULT '',
	address_line_2       TEXT NOT NULL DEFAULT '',
	city                 TEXT NOT NULL DEFAULT '',
	state                TEXT NOT NULL DEFAULT '',
	postal_code          TEXT NOT NULL DEFAULT '',
	country              TEXT NOT NULL DEFAULT 'US',
	phone                TEXT NOT NULL DEFAULT '',
	fax                  TEXT NOT NULL DEFAULT '',
	location             BLOB,
	raw_data             TEXT NOT NULL,
	integrity_hash       TEXT NOT NULL,
	last_verified        TEXT NOT NULL,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS provider_edges (
	source_provider_id TEXT NOT NULL REFERENCES providers(id),
	target_provider_id TEXT NOT NULL REFERENCES providers(id),
	edge_type          TEXT NOT NULL,
	weight             REAL NOT NULL CHECK (weight > 0 AND weight <= 1),
	PRIMARY KEY (source_provider_id, target_provider_id, edge_type)
);

CREATE INDEX IF NOT EXISTS idx_provider_edges_target ON provider_edges(target_provider_id);

CREATE TABLE IF NOT EXISTS trust_runs (
	id             TEXT PRIMARY KEY,
	computed_at    TEXT NOT NULL,
	provider_count INTEGER NOT NULL,
	edge_count     INTEGER NOT NULL,
	self_loops     INTEGER NOT NULL DEFAULT 0,
	damping        REAL NOT NULL,
	iterations     INTEGER NOT NULL,
	converged      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trust_runs_computed_at ON trust_runs(computed_at);

CREATE TABLE IF NOT EXISTS trust_scores (
	run_id      TEXT NOT NULL REFERENCES trust_runs(id),
	provider_id TEXT NOT NULL REFERENCES providers(id),
	npi_number  TEXT NOT NULL,
	score       REAL NOT NULL CHECK (score >= 0),
	rank        INTEGER NOT NULL,
	degree      INTEGER NOT NULL,
	computed_at TEXT NOT NULL,
	PRIMARY KEY (run_id, provider_id),
	UNIQUE (run_id, rank)
);

CREATE TABLE IF NOT EXISTS workflow_executions (
	id            TEXT PRIMARY KEY,
	workflow_type TEXT NOT NULL,
	input_params  TEXT NOT NULL,
	status        TEXT NOT NULL,
	evidence      TEXT NOT NULL DEFAULT '[]',
	provider_id   TEXT,
	error         TEXT NOT NULL DEFAULT '',
	started_at    TEXT NOT NULL,
	completed_at  TEXT
);

CREATE INDEX IF NOT EXISTS idx_workflow_executions_status ON workflow_executions(status);
CREATE INDEX IF NOT EXISTS idx_workflow_executions_started_at ON workflow_executions(started_at);
`

// Ping checks connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

// Migrate applies the bootstrap DDL. It is safe to run repeatedly.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sqliteProviderColumns = `id, npi_number, first_name, last_name, organization_name, display_name,
	taxonomy_code, taxonomy_description, address_line_1, address_line_2, city, state,
	postal_code, country, phone, fax, location, raw_data, integrity_hash, last_verified,
	created_at, updated_at`

// UpsertProvider inserts or refreshes a provider keyed by NPI number in one
// statement. A nil coordinate keeps the stored location.
func (s *SQLiteStore) UpsertProvider(ctx context.Context, p *model.Provider) (*UpsertResult, error) {
	location, err := geo.EncodeEWKB(p.Latitude, p.Longitude)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert provider")
	}
	newID := uuid.New().String()
	now := time.Now().UTC()
	verified := utcOrNow(p.LastVerified)

	var (
		id        string
		storedLoc []byte
		createdAt string
	)
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO providers (`+sqliteProviderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (npi_number) DO UPDATE SET
			first_name = excluded.first_name,
			last_name = excluded.last_name,
			organization_name = excluded.organization_name,
			display_name = excluded.display_name,
			taxonomy_code = excluded.taxonomy_code,
			taxonomy_description = excluded.taxonomy_description,
			address_line_1 = excluded.address_line_1,
			address_line_2 = excluded.address_line_2,
			city = excluded.city,
			state = excluded.state,
			postal_code = excluded.postal_code,
			country = excluded.country,
			phone = excluded.phone,
			fax = excluded.fax,
			location = COALESCE(excluded.location, providers.location),
			raw_data = excluded.raw_data,
			integrity_hash = excluded.integrity_hash,
			last_verified = excluded.last_verified,
			updated_at = excluded.updated_at
		RETURNING id, location, created_at`,
		newID, p.NPINumber, p.FirstName, p.LastName, p.OrganizationName, p.DisplayName,
		p.TaxonomyCode, p.TaxonomyDescription, p.AddressLine1, p.AddressLine2, p.City, p.State,
		p.PostalCode, p.Country, p.Phone, p.Fax, nullBlob(location), string(p.RawData), p.IntegrityHash, formatTime(verified),
		formatTime(now), formatTime(now),
	).Scan(&id, &storedLoc, &createdAt)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: upsert provider %s", p.NPINumber)
	}

	out := *p
	out.ID = id
	out.LastVerified = verified
	out.UpdatedAt = now
	if out.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert provider")
	}
	if out.Latitude, out.Longitude, err = geo.DecodeEWKB(storedLoc); err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert provider")
	}
	return &UpsertResult{Provider: &out, Created: id == newID}, nil
}

// GetProviderByNPI returns ErrNotFound for an unknown NPI.
func (s *SQLiteStore) GetProviderByNPI(ctx context.Context, npi string) (*model.Provider, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteProviderColumns+` FROM providers WHERE npi_number = ?`, npi)
	p, err := scanSQLiteProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get provider %s", npi)
	}
	return p, nil
}

type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ListProviders returns all providers ordered by NPI number.
func (s *SQLiteStore) ListProviders(ctx context.Context) ([]model.Provider, error) {
	return listSQLiteProviders(ctx, s.db)
}

func listSQLiteProviders(ctx context.Context, q sqlQuerier) ([]model.Provider, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+sqliteProviderColumns+` FROM providers ORDER BY npi_number`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list providers")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Provider
	for rows.Next() {
		p, err := scanSQLiteProvider(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan provider")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list providers iterate")
}

func listSQLiteEdges(ctx context.Context, q sqlQuerier) ([]model.ProviderEdge, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT source_provider_id, target_provider_id, edge_type, weight
		FROM provider_edges
		ORDER BY source_provider_id, target_provider_id, edge_type`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list edges")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ProviderEdge
	for rows.Next() {
		var e model.ProviderEdge
		var edgeType string
		if err := rows.Scan(&e.SourceID, &e.TargetID, &edgeType, &e.Weight); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan edge")
		}
		e.Type = model.EdgeType(edgeType)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list edges iterate")
}

// ReplaceEdges deletes every edge and inserts edges in one transaction.
func (s *SQLiteStore) ReplaceEdges(ctx context.Context, edges []model.ProviderEdge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: replace edges: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM provider_edges`); err != nil {
		return eris.Wrap(err, "sqlite: replace edges: delete")
	}

	if len(edges) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO provider_edges (source_provider_id, target_provider_id, edge_type, weight)
			VALUES (?, ?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: replace edges: prepare")
		}
		defer stmt.Close() //nolint:errcheck

		for _, e := range edges {
			if _, err := stmt.ExecContext(ctx, e.SourceID, e.TargetID, string(e.Type), e.Weight); err != nil {
				return eris.Wrapf(err, "sqlite: insert edge %s->%s %s", e.SourceID, e.TargetID, e.Type)
			}
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: replace edges: commit")
}

// ListEdges returns the stored edge set.
func (s *SQLiteStore) ListEdges(ctx context.Context) ([]model.ProviderEdge, error) {
	return listSQLiteEdges(ctx, s.db)
}

// Snapshot reads providers and edges inside one transaction.
func (s *SQLiteStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshot: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	providers, err := listSQLiteProviders(ctx, tx)
	if err != nil {
		return nil, err
	}
	edges, err := listSQLiteEdges(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshot: commit")
	}
	return &Snapshot{Providers: providers, Edges: edges}, nil
}

// SaveTrustRanking appends a run header and its scores in one transaction.
func (s *SQLiteStore) SaveTrustRanking(ctx context.Context, ranking *model.TrustRanking) error {
	r := ranking.Run
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: save trust ranking: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO trust_runs (id, computed_at, provider_count, edge_count, self_loops, damping, iterations, converged)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, formatTime(r.ComputedAt), r.ProviderCount, r.EdgeCount, r.SelfLoops, r.Damping, r.Iterations, r.Converged,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: insert trust run %s", r.ID)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trust_scores (run_id, provider_id, npi_number, score, rank, degree, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: save trust ranking: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	for _, sc := range ranking.Scores {
		if _, err := stmt.ExecContext(ctx, r.ID, sc.ProviderID, sc.NPINumber, sc.Score, sc.Rank, sc.Degree, formatTime(sc.ComputedAt)); err != nil {
			return eris.Wrapf(err, "sqlite: insert trust score %s", sc.NPINumber)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: save trust ranking: commit")
}

// LatestTrustRun returns the most recent run or ErrNotFound.
func (s *SQLiteStore) LatestTrustRun(ctx context.Context) (*model.TrustRun, error) {
	var r model.TrustRun
	var computedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, computed_at, provider_count, edge_count, self_loops, damping, iterations, converged
		FROM trust_runs ORDER BY computed_at DESC, rowid DESC LIMIT 1`,
	).Scan(&r.ID, &computedAt, &r.ProviderCount, &r.EdgeCount, &r.SelfLoops, &r.Damping, &r.Iterations, &r.Converged)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest trust run")
	}
	if r.ComputedAt, err = parseTime(computedAt); err != nil {
		return nil, eris.Wrap(err, "sqlite: latest trust run")
	}
	return &r, nil
}

// TopTrustScores returns up to limit scores of runID in rank order.
func (s *SQLiteStore) TopTrustScores(ctx context.Context, runID string, limit int) ([]model.TrustScore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts.run_id, ts.provider_id, ts.npi_number, COALESCE(p.display_name, ''), ts.score, ts.rank, ts.degree, ts.computed_at
		FROM trust_scores ts
		LEFT JOIN providers p ON p.id = ts.provider_id
		WHERE ts.run_id = ?
		ORDER BY ts.rank ASC
		LIMIT ?`,
		runID, clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: top trust scores %s", runID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.TrustScore
	for rows.Next() {
		var sc model.TrustScore
		var computedAt string
		if err := rows.Scan(&sc.RunID, &sc.ProviderID, &sc.NPINumber, &sc.DisplayName, &sc.Score, &sc.Rank, &sc.Degree, &computedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trust score")
		}
		if sc.ComputedAt, err = parseTime(computedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan trust score")
		}
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: top trust scores iterate")
}

// CreateExecution inserts a new execution row.
func (s *SQLiteStore) CreateExecution(ctx context.Context, exec *model.WorkflowExecution) error {
	input, evidence, err := marshalExecution(exec)
	if err != nil {
		return eris.Wrap(err, "sqlite: create execution")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO workflow_executions (id, workflow_type, input_params, status, evidence, provider_id, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.WorkflowType, string(input), string(exec.Status), string(evidence), nullString(exec.ProviderID),
		exec.Error, formatTime(exec.StartedAt), formatNullTime(exec.CompletedAt),
	)
	return eris.Wrapf(err, "sqlite: create execution %s", exec.ID)
}

// UpdateExecution persists status, evidence, error and completion of a
// non-terminal execution. Updating a terminal row returns ErrTerminal.
func (s *SQLiteStore) UpdateExecution(ctx context.Context, exec *model.WorkflowExecution) error {
	_, evidence, err := marshalExecution(exec)
	if err != nil {
		return eris.Wrap(err, "sqlite: update execution")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = ?, evidence = ?, provider_id = ?, error = ?, completed_at = ?
		WHERE id = ? AND status NOT IN ('success', 'failed')`,
		string(exec.Status), string(evidence), nullString(exec.ProviderID), exec.Error,
		formatNullTime(exec.CompletedAt), exec.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update execution %s", exec.ID)
	}
	n, err := checkRowsAffected(res)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update execution %s", exec.ID)
	}
	if n > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM workflow_executions WHERE id = ?`, exec.ID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: update execution %s", exec.ID)
	}
	return ErrTerminal
}

const sqliteExecutionColumns = `id, workflow_type, input_params, status, evidence, COALESCE(provider_id, ''), error, started_at, completed_at`

// GetExecution returns ErrNotFound for an unknown id.
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*model.WorkflowExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteExecutionColumns+` FROM workflow_executions WHERE id = ?`, id)
	exec, err := scanSQLiteExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get execution %s", id)
	}
	return exec, nil
}

// ListExecutions returns executions newest first.
func (s *SQLiteStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.WorkflowExecution, error) {
	query := `SELECT ` + sqliteExecutionColumns + ` FROM workflow_executions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC, id LIMIT ?`
	args = append(args, clampLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list executions")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.WorkflowExecution
	for rows.Next() {
		exec, err := scanSQLiteExecution(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan execution")
		}
		out = append(out, *exec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list executions iterate")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteProvider(row scannable) (*model.Provider, error) {
	var p model.Provider
	var location []byte
	var raw, verified, created, updated string
	err := row.Scan(&p.ID, &p.NPINumber, &p.FirstName, &p.LastName, &p.OrganizationName, &p.DisplayName,
		&p.TaxonomyCode, &p.TaxonomyDescription, &p.AddressLine1, &p.AddressLine2, &p.City, &p.State,
		&p.PostalCode, &p.Country, &p.Phone, &p.Fax, &location, &raw, &p.IntegrityHash, &verified,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	p.RawData = json.RawMessage(raw)
	if p.LastVerified, err = parseTime(verified); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	if p.Latitude, p.Longitude, err = geo.DecodeEWKB(location); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanSQLiteExecution(row scannable) (*model.WorkflowExecution, error) {
	var exec model.WorkflowExecution
	var input, evidence, status, started string
	var completed sql.NullString
	err := row.Scan(&exec.ID, &exec.WorkflowType, &input, &status, &evidence, &exec.ProviderID, &exec.Error,
		&started, &completed)
	if err != nil {
		return nil, err
	}
	exec.Status = model.ExecutionStatus(status)
	if exec.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if completed.Valid {
		t, err := parseTime(completed.String)
		if err != nil {
			return nil, err
		}
		exec.CompletedAt = &t
	}
	if err := unmarshalExecution(&exec, []byte(input), []byte(evidence)); err != nil {
		return nil, err
	}
	return &exec, nil
}
