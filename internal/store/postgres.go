package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-trust/internal/db"
	"github.com/sells-group/provider-trust/internal/geo"
	"github.com/sells-group/provider-trust/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Open(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: open")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close is left to the caller.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
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
	location             BYTEA,
	raw_data             JSONB NOT NULL,
	integrity_hash       TEXT NOT NULL,
	last_verified        TIMESTAMPTZ NOT NULL,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS provider_edges (
	source_provider_id TEXT NOT NULL REFERENCES providers(id),
	target_provider_id TEXT NOT NULL REFERENCES providers(id),
	edge_type          TEXT NOT NULL,
	weight             DOUBLE PRECISION NOT NULL CHECK (weight > 0 AND weight <= 1),
	PRIMARY KEY (source_provider_id, target_provider_id, edge_type)
);

CREATE INDEX IF NOT EXISTS idx_provider_edges_target ON provider_edges(target_provider_id);

CREATE TABLE IF NOT EXISTS trust_runs (
	id             TEXT PRIMARY KEY,
	computed_at    TIMESTAMPTZ NOT NULL,
	provider_count INTEGER NOT NULL,
	edge_count     INTEGER NOT NULL,
	self_loops     BOOLEAN NOT NULL DEFAULT false,
	damping        DOUBLE PRECISION NOT NULL,
	iterations     INTEGER NOT NULL,
	converged      BOOLEAN NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trust_runs_computed_at ON trust_runs(computed_at DESC);

CREATE TABLE IF NOT EXISTS trust_scores (
	run_id      TEXT NOT NULL REFERENCES trust_runs(id),
	provider_id TEXT NOT NULL REFERENCES providers(id),
	npi_number  TEXT NOT NULL,
	score       DOUBLE PRECISION NOT NULL CHECK (score >= 0),
	rank        INTEGER NOT NULL,
	degree      INTEGER NOT NULL,
	computed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, provider_id),
	UNIQUE (run_id, rank)
);

CREATE TABLE IF NOT EXISTS workflow_executions (
	id            TEXT PRIMARY KEY,
	workflow_type TEXT NOT NULL,
	input_params  JSONB NOT NULL,
	status        TEXT NOT NULL,
	evidence      JSONB NOT NULL DEFAULT '[]'::jsonb,
	provider_id   TEXT,
	error         TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ NOT NULL,
	completed_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_workflow_executions_status ON workflow_executions(status);
CREATE INDEX IF NOT EXISTS idx_workflow_executions_started_at ON workflow_executions(started_at DESC);
`

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

// Migrate applies the bootstrap DDL. It is safe to run repeatedly.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Close releases the pool if this store opened it.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const pgProviderColumns = `id, npi_number, first_name, last_name, organization_name, display_name,
	taxonomy_code, taxonomy_description, address_line_1, address_line_2, city, state,
	postal_code, country, phone, fax, location, raw_data, integrity_hash, last_verified,
	created_at, updated_at`

// UpsertProvider inserts or refreshes a provider keyed by NPI number in one
// statement. A nil coordinate keeps the stored location.
func (s *PostgresStore) UpsertProvider(ctx context.Context, p *model.Provider) (*UpsertResult, error) {
	location, err := geo.EncodeEWKB(p.Latitude, p.Longitude)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert provider")
	}
	newID := uuid.New().String()
	now := time.Now().UTC()
	verified := utcOrNow(p.LastVerified)

	var (
		id        string
		storedLoc []byte
		createdAt time.Time
	)
	err = s.pool.QueryRow(ctx, `
		INSERT INTO providers (`+pgProviderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $21)
		ON CONFLICT (npi_number) DO UPDATE SET
			first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name,
			organization_name = EXCLUDED.organization_name,
			display_name = EXCLUDED.display_name,
			taxonomy_code = EXCLUDED.taxonomy_code,
			taxonomy_description = EXCLUDED.taxonomy_description,
			address_line_1 = EXCLUDED.address_line_1,
			address_line_2 = EXCLUDED.address_line_2,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			postal_code = EXCLUDED.postal_code,
			country = EXCLUDED.country,
			phone = EXCLUDED.phone,
			fax = EXCLUDED.fax,
			location = COALESCE(EXCLUDED.location, providers.location),
			raw_data = EXCLUDED.raw_data,
			integrity_hash = EXCLUDED.integrity_hash,
			last_verified = EXCLUDED.last_verified,
			updated_at = EXCLUDED.updated_at
		RETURNING id, location, created_at`,
		newID, p.NPINumber, p.FirstName, p.LastName, p.OrganizationName, p.DisplayName,
		p.TaxonomyCode, p.TaxonomyDescription, p.AddressLine1, p.AddressLine2, p.City, p.State,
		p.PostalCode, p.Country, p.Phone, p.Fax, location, []byte(p.RawData), p.IntegrityHash, verified,
		now,
	).Scan(&id, &storedLoc, &createdAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: upsert provider %s", p.NPINumber)
	}

	out := *p
	out.ID = id
	out.LastVerified = verified
	out.CreatedAt = createdAt.UTC()
	out.UpdatedAt = now
	if out.Latitude, out.Longitude, err = geo.DecodeEWKB(storedLoc); err != nil {
		return nil, eris.Wrap(err, "postgres: upsert provider")
	}
	return &UpsertResult{Provider: &out, Created: id == newID}, nil
}

// GetProviderByNPI returns ErrNotFound for an unknown NPI.
func (s *PostgresStore) GetProviderByNPI(ctx context.Context, npi string) (*model.Provider, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgProviderColumns+` FROM providers WHERE npi_number = $1`, npi)
	p, err := scanPgProvider(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get provider %s", npi)
	}
	return p, nil
}

// ListProviders returns all providers ordered by NPI number.
func (s *PostgresStore) ListProviders(ctx context.Context) ([]model.Provider, error) {
	return listPgProviders(ctx, s.pool)
}

type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listPgProviders(ctx context.Context, q pgQuerier) ([]model.Provider, error) {
	rows, err := q.Query(ctx, `SELECT `+pgProviderColumns+` FROM providers ORDER BY npi_number`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list providers")
	}
	defer rows.Close()

	var out []model.Provider
	for rows.Next() {
		p, err := scanPgProvider(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan provider")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list providers iterate")
}

func listPgEdges(ctx context.Context, q pgQuerier) ([]model.ProviderEdge, error) {
	rows, err := q.Query(ctx, `
		SELECT source_provider_id, target_provider_id, edge_type, weight
		FROM provider_edges
		ORDER BY source_provider_id, target_provider_id, edge_type`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list edges")
	}
	defer rows.Close()

	var out []model.ProviderEdge
	for rows.Next() {
		var e model.ProviderEdge
		var edgeType string
		if err := rows.Scan(&e.SourceID, &e.TargetID, &edgeType, &e.Weight); err != nil {
			return nil, eris.Wrap(err, "postgres: scan edge")
		}
		e.Type = model.EdgeType(edgeType)
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list edges iterate")
}

// ReplaceEdges deletes every edge and inserts edges in one transaction.
func (s *PostgresStore) ReplaceEdges(ctx context.Context, edges []model.ProviderEdge) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: replace edges: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM provider_edges`); err != nil {
		return eris.Wrap(err, "postgres: replace edges: delete")
	}

	rows := make([][]any, len(edges))
	for i, e := range edges {
		rows[i] = []any{e.SourceID, e.TargetID, string(e.Type), e.Weight}
	}
	if _, err := db.CopyFrom(ctx, tx, "provider_edges",
		[]string{"source_provider_id", "target_provider_id", "edge_type", "weight"}, rows); err != nil {
		return eris.Wrap(err, "postgres: replace edges")
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: replace edges: commit")
}

// ListEdges returns the stored edge set.
func (s *PostgresStore) ListEdges(ctx context.Context) ([]model.ProviderEdge, error) {
	return listPgEdges(ctx, s.pool)
}

// Snapshot reads providers and edges inside one REPEATABLE READ, read-only
// transaction.
func (s *PostgresStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	providers, err := listPgProviders(ctx, tx)
	if err != nil {
		return nil, err
	}
	edges, err := listPgEdges(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot: commit")
	}
	return &Snapshot{Providers: providers, Edges: edges}, nil
}

// SaveTrustRanking appends a run header and its scores in one transaction.
func (s *PostgresStore) SaveTrustRanking(ctx context.Context, ranking *model.TrustRanking) error {
	r := ranking.Run
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: save trust ranking: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		INSERT INTO trust_runs (id, computed_at, provider_count, edge_count, self_loops, damping, iterations, converged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.ComputedAt.UTC(), r.ProviderCount, r.EdgeCount, r.SelfLoops, r.Damping, r.Iterations, r.Converged,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert trust run %s", r.ID)
	}

	rows := make([][]any, len(ranking.Scores))
	for i, sc := range ranking.Scores {
		rows[i] = []any{r.ID, sc.ProviderID, sc.NPINumber, sc.Score, sc.Rank, sc.Degree, sc.ComputedAt.UTC()}
	}
	if _, err := db.CopyFrom(ctx, tx, "trust_scores",
		[]string{"run_id", "provider_id", "npi_number", "score", "rank", "degree", "computed_at"}, rows); err != nil {
		return eris.Wrapf(err, "postgres: insert trust scores %s", r.ID)
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: save trust ranking: commit")
}

// LatestTrustRun returns the most recent run or ErrNotFound.
func (s *PostgresStore) LatestTrustRun(ctx context.Context) (*model.TrustRun, error) {
	var r model.TrustRun
	err := s.pool.QueryRow(ctx, `
		SELECT id, computed_at, provider_count, edge_count, self_loops, damping, iterations, converged
		FROM trust_runs ORDER BY computed_at DESC, id DESC LIMIT 1`,
	).Scan(&r.ID, &r.ComputedAt, &r.ProviderCount, &r.EdgeCount, &r.SelfLoops, &r.Damping, &r.Iterations, &r.Converged)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest trust run")
	}
	r.ComputedAt = r.ComputedAt.UTC()
	return &r, nil
}

// TopTrustScores returns up to limit scores of runID in rank order.
func (s *PostgresStore) TopTrustScores(ctx context.Context, runID string, limit int) ([]model.TrustScore, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ts.run_id, ts.provider_id, ts.npi_number, COALESCE(p.display_name, ''), ts.score, ts.rank, ts.degree, ts.computed_at
		FROM trust_scores ts
		LEFT JOIN providers p ON p.id = ts.provider_id
		WHERE ts.run_id = $1
		ORDER BY ts.rank ASC
		LIMIT $2`,
		runID, clampLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: top trust scores %s", runID)
	}
	defer rows.Close()

	var out []model.TrustScore
	for rows.Next() {
		var sc model.TrustScore
		if err := rows.Scan(&sc.RunID, &sc.ProviderID, &sc.NPINumber, &sc.DisplayName, &sc.Score, &sc.Rank, &sc.Degree, &sc.ComputedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan trust score")
		}
		sc.ComputedAt = sc.ComputedAt.UTC()
		out = append(out, sc)
	}
	return out, eris.Wrap(rows.Err(), "postgres: top trust scores iterate")
}

// CreateExecution inserts a new execution row.
func (s *PostgresStore) CreateExecution(ctx context.Context, exec *model.WorkflowExecution) error {
	input, evidence, err := marshalExecution(exec)
	if err != nil {
		return eris.Wrap(err, "postgres: create execution")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO workflow_executions (id, workflow_type, input_params, status, evidence, provider_id, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		exec.ID, exec.WorkflowType, input, string(exec.Status), evidence, nullString(exec.ProviderID), exec.Error,
		exec.StartedAt.UTC(), exec.CompletedAt,
	)
	return eris.Wrapf(err, "postgres: create execution %s", exec.ID)
}

// UpdateExecution persists status, evidence, error and completion of a
// non-terminal execution. Updating a terminal row returns ErrTerminal.
func (s *PostgresStore) UpdateExecution(ctx context.Context, exec *model.WorkflowExecution) error {
	_, evidence, err := marshalExecution(exec)
	if err != nil {
		return eris.Wrap(err, "postgres: update execution")
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE workflow_executions
		SET status = $1, evidence = $2, provider_id = $3, error = $4, completed_at = $5
		WHERE id = $6 AND status NOT IN ('success', 'failed')`,
		string(exec.Status), evidence, nullString(exec.ProviderID), exec.Error, exec.CompletedAt, exec.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update execution %s", exec.ID)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM workflow_executions WHERE id = $1`, exec.ID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: update execution %s", exec.ID)
	}
	return ErrTerminal
}

const pgExecutionColumns = `id, workflow_type, input_params, status, evidence, COALESCE(provider_id, ''), error, started_at, completed_at`

// GetExecution returns ErrNotFound for an unknown id.
func (s *PostgresStore) GetExecution(ctx context.Context, id string) (*model.WorkflowExecution, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+pgExecutionColumns+` FROM workflow_executions WHERE id = $1`, id)
	exec, err := scanPgExecution(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get execution %s", id)
	}
	return exec, nil
}

// ListExecutions returns executions newest first.
func (s *PostgresStore) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]model.WorkflowExecution, error) {
	query := `SELECT ` + pgExecutionColumns + ` FROM workflow_executions WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC, id`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, clampLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list executions")
	}
	defer rows.Close()

	var out []model.WorkflowExecution
	for rows.Next() {
		exec, err := scanPgExecution(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan execution")
		}
		out = append(out, *exec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list executions iterate")
}

func scanPgProvider(row pgx.Row) (*model.Provider, error) {
	var p model.Provider
	var location, raw []byte
	err := row.Scan(&p.ID, &p.NPINumber, &p.FirstName, &p.LastName, &p.OrganizationName, &p.DisplayName,
		&p.TaxonomyCode, &p.TaxonomyDescription, &p.AddressLine1, &p.AddressLine2, &p.City, &p.State,
		&p.PostalCode, &p.Country, &p.Phone, &p.Fax, &location, &raw, &p.IntegrityHash, &p.LastVerified,
		&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.RawData = json.RawMessage(raw)
	p.LastVerified = p.LastVerified.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	if p.Latitude, p.Longitude, err = geo.DecodeEWKB(location); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanPgExecution(row pgx.Row) (*model.WorkflowExecution, error) {
	var exec model.WorkflowExecution
	var input, evidence []byte
	var status string
	err := row.Scan(&exec.ID, &exec.WorkflowType, &input, &status, &evidence, &exec.ProviderID, &exec.Error,
		&exec.StartedAt, &exec.CompletedAt)
	if err != nil {
		return nil, err
	}
	exec.Status = model.ExecutionStatus(status)
	exec.StartedAt = exec.StartedAt.UTC()
	if exec.CompletedAt != nil {
		t := exec.CompletedAt.UTC()
		exec.CompletedAt = &t
	}
	if err := unmarshalExecution(&exec, input, evidence); err != nil {
		return nil, err
	}
	return &exec, nil
}
