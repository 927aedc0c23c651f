package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/subletwatch/subletwatch/internal/db"
	"github.com/subletwatch/subletwatch/internal/geocode"
	"github.com/subletwatch/subletwatch/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_job": `SELECT id, contact_id, status, properties, total_chunks, current_chunk, error_message,
	            started_at, completed_at, created_at, updated_at FROM jobs WHERE id = $1`,
	"advance_cursor": `UPDATE jobs SET current_chunk = $1, updated_at = $2
	                   WHERE id = $3 AND current_chunk = $4 AND status = $5`,
	"get_geocode": `SELECT latitude, longitude, matched FROM geocode_cache WHERE postcode = $1`,
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

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

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	contact_id    TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	properties    JSONB NOT NULL,
	total_chunks  INTEGER NOT NULL,
	current_chunk INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS match_outcomes (
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	contact_id  TEXT NOT NULL,
	postcode    TEXT NOT NULL,
	platform    TEXT NOT NULL,
	outcome     TEXT NOT NULL DEFAULT 'pending',
	found       BOOLEAN NOT NULL DEFAULT FALSE,
	method      TEXT NOT NULL DEFAULT 'none',
	confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
	listing_url TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 0,
	cost_units  INTEGER NOT NULL DEFAULT 0,
	reviewed_at TIMESTAMPTZ,
	reviewed_by TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (job_id, postcode, platform)
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	postcode  TEXT PRIMARY KEY,
	latitude  DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude DOUBLE PRECISION NOT NULL DEFAULT 0,
	matched   BOOLEAN NOT NULL DEFAULT FALSE,
	cached_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_contact ON jobs(contact_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_contact ON match_outcomes(contact_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_outcome ON match_outcomes(outcome);
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

// Pool exposes the underlying pool for callers that need raw queries.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

func (s *PostgresStore) CreateJob(ctx context.Context, contactID string, properties []model.Property, chunkSize int) (*model.Job, error) {
	if len(properties) == 0 {
		return nil, eris.New("postgres: create job: no properties")
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	total := model.TotalChunksFor(len(properties), chunkSize)

	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal properties")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, contact_id, status, properties, total_chunks, current_chunk, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 0, $6, $7)`,
		id, contactID, string(model.JobStatusPending), string(propsJSON), total, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.Job{
		ID:          id,
		ContactID:   contactID,
		Status:      model.JobStatusPending,
		Properties:  properties,
		TotalChunks: total,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, contact_id, status, properties, total_chunks, current_chunk, error_message,
		        started_at, completed_at, created_at, updated_at FROM jobs WHERE id = $1`,
		jobID,
	)
	return scanJobPG(row)
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, contact_id, status, properties, total_chunks, current_chunk, error_message,
	                 started_at, completed_at, created_at, updated_at FROM jobs WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.ContactID != "" {
		query += ` AND contact_id = ` + arg(filter.ContactID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJobPG(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	now := time.Now().UTC()

	query := `UPDATE jobs SET status = $1, updated_at = $2`
	args := []any{string(status), now}
	switch status {
	case model.JobStatusProcessing:
		query += `, started_at = COALESCE(started_at, $3)`
		args = append(args, now)
	case model.JobStatusCompleted:
		query += `, completed_at = $3`
		args = append(args, now)
	}
	query += ` WHERE id = ` + placeholder(len(args)+1)
	args = append(args, jobID)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, jobID string, message string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = $2, completed_at = $3, updated_at = $4 WHERE id = $5`,
		string(model.JobStatusFailed), message, now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func (s *PostgresStore) AdvanceJobCursor(ctx context.Context, jobID string, fromChunk int) (*model.Job, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET current_chunk = $1, updated_at = $2
		 WHERE id = $3 AND current_chunk = $4 AND status = $5`,
		fromChunk+1, time.Now().UTC(), jobID, fromChunk, string(model.JobStatusProcessing),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: advance job %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return nil, getErr
		}
		return nil, eris.Wrapf(ErrStaleChunk, "job %s chunk %d", jobID, fromChunk)
	}
	return s.GetJob(ctx, jobID)
}

func (s *PostgresStore) UpsertOutcome(ctx context.Context, o model.MatchOutcome) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO match_outcomes
		   (job_id, contact_id, postcode, platform, outcome, found, method, confidence,
		    listing_url, attempts, cost_units, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (job_id, postcode, platform) DO UPDATE SET
		   outcome = excluded.outcome,
		   found = excluded.found,
		   method = excluded.method,
		   confidence = excluded.confidence,
		   listing_url = excluded.listing_url,
		   attempts = excluded.attempts,
		   cost_units = excluded.cost_units,
		   updated_at = excluded.updated_at
		 WHERE match_outcomes.outcome NOT IN ($14, $15)`,
		o.JobID, o.ContactID, o.PropertyPostcode, string(o.Platform), string(o.Outcome),
		o.Found, string(o.Method), o.Confidence, o.ListingURL, o.Attempts, o.CostUnits, now, now,
		string(model.OutcomeInvestigate), string(model.OutcomeNoMatch),
	)
	return eris.Wrapf(err, "postgres: upsert outcome %s/%s/%s", o.JobID, o.PropertyPostcode, o.Platform)
}

func (s *PostgresStore) GetOutcome(ctx context.Context, jobID, postcode string, platform model.Platform) (*model.MatchOutcome, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT job_id, contact_id, postcode, platform, outcome, found, method, confidence,
		        listing_url, attempts, cost_units, reviewed_at, reviewed_by, created_at, updated_at
		 FROM match_outcomes WHERE job_id = $1 AND postcode = $2 AND platform = $3`,
		jobID, postcode, string(platform),
	)
	return scanOutcomePG(row)
}

func (s *PostgresStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]model.MatchOutcome, error) {
	query := `SELECT job_id, contact_id, postcode, platform, outcome, found, method, confidence,
	                 listing_url, attempts, cost_units, reviewed_at, reviewed_by, created_at, updated_at
	          FROM match_outcomes WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.JobID != "" {
		query += ` AND job_id = ` + arg(filter.JobID)
	}
	if filter.ContactID != "" {
		query += ` AND contact_id = ` + arg(filter.ContactID)
	}
	if filter.Platform != "" {
		query += ` AND platform = ` + arg(string(filter.Platform))
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ` + arg(string(filter.Outcome))
	}
	query += ` ORDER BY postcode ASC, platform ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ` + arg(limit)
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list outcomes")
	}
	defer rows.Close()

	var outcomes []model.MatchOutcome
	for rows.Next() {
		o, err := scanOutcomePG(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, *o)
	}
	return outcomes, eris.Wrap(rows.Err(), "postgres: list outcomes iterate")
}

func (s *PostgresStore) ReviewOutcome(ctx context.Context, jobID, postcode string, platform model.Platform, decision model.OutcomeState, reviewer string) error {
	if !decision.ReviewDecision() {
		return eris.Errorf("postgres: %q is not a review decision", decision)
	}

	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE match_outcomes SET outcome = $1, reviewed_at = $2, reviewed_by = $3, updated_at = $4
		 WHERE job_id = $5 AND postcode = $6 AND platform = $7 AND outcome = $8`,
		string(decision), now, reviewer, now,
		jobID, postcode, string(platform), string(model.OutcomePending),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: review outcome %s/%s/%s", jobID, postcode, platform)
	}
	if tag.RowsAffected() == 0 {
		existing, getErr := s.GetOutcome(ctx, jobID, postcode, platform)
		if getErr != nil {
			return getErr
		}
		return eris.Wrapf(ErrAlreadyReviewed, "outcome is %s", existing.Outcome)
	}
	return nil
}

func (s *PostgresStore) CountOutcomes(ctx context.Context, jobID string) (model.OutcomeCounts, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT outcome, COUNT(*) FROM match_outcomes WHERE job_id = $1 GROUP BY outcome`,
		jobID,
	)
	if err != nil {
		return model.OutcomeCounts{}, eris.Wrap(err, "postgres: count outcomes")
	}
	defer rows.Close()

	var counts model.OutcomeCounts
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return model.OutcomeCounts{}, eris.Wrap(err, "postgres: scan count")
		}
		tallyOutcome(&counts, model.OutcomeState(state), n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count outcomes iterate")
}

func (s *PostgresStore) GetGeocode(ctx context.Context, postcode string) (*geocode.CachedResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT latitude, longitude, matched FROM geocode_cache WHERE postcode = $1`,
		postcode,
	)

	var r geocode.CachedResult
	err := row.Scan(&r.Latitude, &r.Longitude, &r.Matched)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get geocode")
	}
	return &r, nil
}

func (s *PostgresStore) SetGeocode(ctx context.Context, postcode string, result geocode.CachedResult) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO geocode_cache (postcode, latitude, longitude, matched, cached_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (postcode) DO UPDATE SET
		   latitude = excluded.latitude,
		   longitude = excluded.longitude,
		   matched = excluded.matched,
		   cached_at = excluded.cached_at`,
		postcode, result.Latitude, result.Longitude, result.Matched, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: set geocode")
}

// helpers

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func scanJobPG(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var propsJSON []byte
	var startedAt, completedAt *time.Time

	err := row.Scan(&j.ID, &j.ContactID, &j.Status, &propsJSON, &j.TotalChunks, &j.CurrentChunk,
		&j.ErrorMessage, &startedAt, &completedAt, &j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "job")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan job")
	}

	if err := json.Unmarshal(propsJSON, &j.Properties); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal properties")
	}
	j.StartedAt = startedAt
	j.CompletedAt = completedAt
	return &j, nil
}

func scanOutcomePG(row pgx.Row) (*model.MatchOutcome, error) {
	var o model.MatchOutcome
	var reviewedAt *time.Time

	err := row.Scan(&o.JobID, &o.ContactID, &o.PropertyPostcode, &o.Platform, &o.Outcome,
		&o.Found, &o.Method, &o.Confidence, &o.ListingURL, &o.Attempts, &o.CostUnits,
		&reviewedAt, &o.ReviewedBy, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrap(ErrNotFound, "outcome")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan outcome")
	}

	o.ReviewedAt = reviewedAt
	return &o, nil
}
