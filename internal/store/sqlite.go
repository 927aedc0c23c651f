package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/subletwatch/subletwatch/internal/geocode"
	"github.com/subletwatch/subletwatch/internal/model"
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
CREATE TABLE IF NOT EXISTS jobs (
	id            TEXT PRIMARY KEY,
	contact_id    TEXT NOT NULL,
	status        TEXT NOT NULL DEFAULT 'pending',
	properties    TEXT NOT NULL,
	total_chunks  INTEGER NOT NULL,
	current_chunk INTEGER NOT NULL DEFAULT 0,
	error_message TEXT NOT NULL DEFAULT '',
	started_at    DATETIME,
	completed_at  DATETIME,
	created_at    DATETIME NOT NULL,
	updated_at    DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS match_outcomes (
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	contact_id  TEXT NOT NULL,
	postcode    TEXT NOT NULL,
	platform    TEXT NOT NULL,
	outcome     TEXT NOT NULL DEFAULT 'pending',
	found       INTEGER NOT NULL DEFAULT 0,
	method      TEXT NOT NULL DEFAULT 'none',
	confidence  REAL NOT NULL DEFAULT 0,
	listing_url TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 0,
	cost_units  INTEGER NOT NULL DEFAULT 0,
	reviewed_at DATETIME,
	reviewed_by TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL,
	updated_at  DATETIME NOT NULL,
	PRIMARY KEY (job_id, postcode, platform)
);

CREATE TABLE IF NOT EXISTS geocode_cache (
	postcode  TEXT PRIMARY KEY,
	latitude  REAL NOT NULL DEFAULT 0,
	longitude REAL NOT NULL DEFAULT 0,
	matched   INTEGER NOT NULL DEFAULT 0,
	cached_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_contact ON jobs(contact_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_contact ON match_outcomes(contact_id);
CREATE INDEX IF NOT EXISTS idx_outcomes_outcome ON match_outcomes(outcome);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, contactID string, properties []model.Property, chunkSize int) (*model.Job, error) {
	if len(properties) == 0 {
		return nil, eris.New("sqlite: create job: no properties")
	}

	id := uuid.New().String()
	now := time.Now().UTC()
	total := model.TotalChunksFor(len(properties), chunkSize)

	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal properties")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, contact_id, status, properties, total_chunks, current_chunk, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, ?, ?)`,
		id, contactID, string(model.JobStatusPending), string(propsJSON), total, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
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

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, contact_id, status, properties, total_chunks, current_chunk, error_message,
		        started_at, completed_at, created_at, updated_at
		 FROM jobs WHERE id = ?`,
		jobID,
	)
	return scanJob(row)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := `SELECT id, contact_id, status, properties, total_chunks, current_chunk, error_message,
	                 started_at, completed_at, created_at, updated_at
	          FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.ContactID != "" {
		query += ` AND contact_id = ?`
		args = append(args, filter.ContactID)
	}
	query += ` ORDER BY created_at DESC`

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
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error {
	now := time.Now().UTC()

	query := `UPDATE jobs SET status = ?, updated_at = ?`
	args := []any{string(status), now}
	switch status {
	case model.JobStatusProcessing:
		query += `, started_at = COALESCE(started_at, ?)`
		args = append(args, now)
	case model.JobStatusCompleted:
		query += `, completed_at = ?`
		args = append(args, now)
	}
	query += ` WHERE id = ?`
	args = append(args, jobID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	return checkRowsAffected(res, jobID)
}

func (s *SQLiteStore) FailJob(ctx context.Context, jobID string, message string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error_message = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(model.JobStatusFailed), message, now, now, jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail job %s", jobID)
	}
	return checkRowsAffected(res, jobID)
}

func (s *SQLiteStore) AdvanceJobCursor(ctx context.Context, jobID string, fromChunk int) (*model.Job, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET current_chunk = ?, updated_at = ?
		 WHERE id = ? AND current_chunk = ? AND status = ?`,
		fromChunk+1, time.Now().UTC(), jobID, fromChunk, string(model.JobStatusProcessing),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: advance job %s", jobID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		// Distinguish a lost race from a missing job.
		if _, getErr := s.GetJob(ctx, jobID); getErr != nil {
			return nil, getErr
		}
		return nil, eris.Wrapf(ErrStaleChunk, "job %s chunk %d", jobID, fromChunk)
	}
	return s.GetJob(ctx, jobID)
}

func (s *SQLiteStore) UpsertOutcome(ctx context.Context, o model.MatchOutcome) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO match_outcomes
		   (job_id, contact_id, postcode, platform, outcome, found, method, confidence,
		    listing_url, attempts, cost_units, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (job_id, postcode, platform) DO UPDATE SET
		   outcome = excluded.outcome,
		   found = excluded.found,
		   method = excluded.method,
		   confidence = excluded.confidence,
		   listing_url = excluded.listing_url,
		   attempts = excluded.attempts,
		   cost_units = excluded.cost_units,
		   updated_at = excluded.updated_at
		 WHERE match_outcomes.outcome NOT IN (?, ?)`,
		o.JobID, o.ContactID, o.PropertyPostcode, string(o.Platform), string(o.Outcome),
		o.Found, string(o.Method), o.Confidence, o.ListingURL, o.Attempts, o.CostUnits, now, now,
		string(model.OutcomeInvestigate), string(model.OutcomeNoMatch),
	)
	return eris.Wrapf(err, "sqlite: upsert outcome %s/%s/%s", o.JobID, o.PropertyPostcode, o.Platform)
}

func (s *SQLiteStore) GetOutcome(ctx context.Context, jobID, postcode string, platform model.Platform) (*model.MatchOutcome, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, contact_id, postcode, platform, outcome, found, method, confidence,
		        listing_url, attempts, cost_units, reviewed_at, reviewed_by, created_at, updated_at
		 FROM match_outcomes WHERE job_id = ? AND postcode = ? AND platform = ?`,
		jobID, postcode, string(platform),
	)
	return scanOutcome(row)
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]model.MatchOutcome, error) {
	query := `SELECT job_id, contact_id, postcode, platform, outcome, found, method, confidence,
	                 listing_url, attempts, cost_units, reviewed_at, reviewed_by, created_at, updated_at
	          FROM match_outcomes WHERE 1=1`
	var args []any

	if filter.JobID != "" {
		query += ` AND job_id = ?`
		args = append(args, filter.JobID)
	}
	if filter.ContactID != "" {
		query += ` AND contact_id = ?`
		args = append(args, filter.ContactID)
	}
	if filter.Platform != "" {
		query += ` AND platform = ?`
		args = append(args, string(filter.Platform))
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(filter.Outcome))
	}
	query += ` ORDER BY postcode ASC, platform ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list outcomes")
	}
	defer rows.Close()

	var outcomes []model.MatchOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, *o)
	}
	return outcomes, eris.Wrap(rows.Err(), "sqlite: list outcomes iterate")
}

func (s *SQLiteStore) ReviewOutcome(ctx context.Context, jobID, postcode string, platform model.Platform, decision model.OutcomeState, reviewer string) error {
	if !decision.ReviewDecision() {
		return eris.Errorf("sqlite: %q is not a review decision", decision)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE match_outcomes SET outcome = ?, reviewed_at = ?, reviewed_by = ?, updated_at = ?
		 WHERE job_id = ? AND postcode = ? AND platform = ? AND outcome = ?`,
		string(decision), now, reviewer, now,
		jobID, postcode, string(platform), string(model.OutcomePending),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: review outcome %s/%s/%s", jobID, postcode, platform)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		existing, getErr := s.GetOutcome(ctx, jobID, postcode, platform)
		if getErr != nil {
			return getErr
		}
		return eris.Wrapf(ErrAlreadyReviewed, "outcome is %s", existing.Outcome)
	}
	return nil
}

func (s *SQLiteStore) CountOutcomes(ctx context.Context, jobID string) (model.OutcomeCounts, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*) FROM match_outcomes WHERE job_id = ? GROUP BY outcome`,
		jobID,
	)
	if err != nil {
		return model.OutcomeCounts{}, eris.Wrap(err, "sqlite: count outcomes")
	}
	defer rows.Close()

	var counts model.OutcomeCounts
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return model.OutcomeCounts{}, eris.Wrap(err, "sqlite: scan count")
		}
		tallyOutcome(&counts, model.OutcomeState(state), n)
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count outcomes iterate")
}

func (s *SQLiteStore) GetGeocode(ctx context.Context, postcode string) (*geocode.CachedResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT latitude, longitude, matched FROM geocode_cache WHERE postcode = ?`,
		postcode,
	)

	var r geocode.CachedResult
	err := row.Scan(&r.Latitude, &r.Longitude, &r.Matched)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get geocode")
	}
	return &r, nil
}

func (s *SQLiteStore) SetGeocode(ctx context.Context, postcode string, result geocode.CachedResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO geocode_cache (postcode, latitude, longitude, matched, cached_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (postcode) DO UPDATE SET
		   latitude = excluded.latitude,
		   longitude = excluded.longitude,
		   matched = excluded.matched,
		   cached_at = excluded.cached_at`,
		postcode, result.Latitude, result.Longitude, result.Matched, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: set geocode")
}

// helpers

func checkRowsAffected(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "job %s", jobID)
	}
	return nil
}

func tallyOutcome(counts *model.OutcomeCounts, state model.OutcomeState, n int) {
	switch state {
	case model.OutcomePending:
		counts.Pending += n
	case model.OutcomeInvestigate:
		counts.Investigate += n
	case model.OutcomeNoMatch:
		counts.NoMatch += n
	case model.OutcomeError:
		counts.Error += n
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanJob(row scannable) (*model.Job, error) {
	var j model.Job
	var propsJSON string
	var startedAt, completedAt sql.NullTime

	err := row.Scan(&j.ID, &j.ContactID, &j.Status, &propsJSON, &j.TotalChunks, &j.CurrentChunk,
		&j.ErrorMessage, &startedAt, &completedAt, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "job")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	if err := json.Unmarshal([]byte(propsJSON), &j.Properties); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal properties")
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return &j, nil
}

func scanOutcome(row scannable) (*model.MatchOutcome, error) {
	var o model.MatchOutcome
	var reviewedAt sql.NullTime

	err := row.Scan(&o.JobID, &o.ContactID, &o.PropertyPostcode, &o.Platform, &o.Outcome,
		&o.Found, &o.Method, &o.Confidence, &o.ListingURL, &o.Attempts, &o.CostUnits,
		&reviewedAt, &o.ReviewedBy, &o.CreatedAt, &o.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "outcome")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan outcome")
	}

	if reviewedAt.Valid {
		t := reviewedAt.Time
		o.ReviewedAt = &t
	}
	return &o, nil
}
