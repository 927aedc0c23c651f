package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/subletwatch/subletwatch/internal/geocode"
	"github.com/subletwatch/subletwatch/internal/model"
)

// Sentinel errors shared by both backends. Callers test with eris.Is.
var (
	// ErrNotFound means the requested job or outcome row does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrStaleChunk means AdvanceJobCursor lost the optimistic race: the
	// job's current chunk no longer matches the caller's view.
	ErrStaleChunk = eris.New("store: stale chunk cursor")
	// ErrAlreadyReviewed means the outcome already carries a terminal
	// decision and cannot be reviewed again.
	ErrAlreadyReviewed = eris.New("store: outcome already reviewed")
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status    model.JobStatus `json:"status,omitempty"`
	ContactID string          `json:"contact_id,omitempty"`
	Limit     int             `json:"limit,omitempty"`
	Offset    int             `json:"offset,omitempty"`
}

// OutcomeFilter specifies criteria for listing match outcomes.
type OutcomeFilter struct {
	JobID     string             `json:"job_id,omitempty"`
	ContactID string             `json:"contact_id,omitempty"`
	Platform  model.Platform     `json:"platform,omitempty"`
	Outcome   model.OutcomeState `json:"outcome,omitempty"`
	Limit     int                `json:"limit,omitempty"`
	Offset    int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for the scanning pipeline.
// It doubles as the geocode cache so one handle covers both concerns.
type Store interface {
	geocode.Cache

	// Jobs
	CreateJob(ctx context.Context, contactID string, properties []model.Property, chunkSize int) (*model.Job, error)
	GetJob(ctx context.Context, jobID string) (*model.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus) error
	FailJob(ctx context.Context, jobID string, message string) error

	// AdvanceJobCursor moves current_chunk from fromChunk to fromChunk+1
	// only if the stored cursor still equals fromChunk and the job is
	// processing. A lost race returns ErrStaleChunk.
	AdvanceJobCursor(ctx context.Context, jobID string, fromChunk int) (*model.Job, error)

	// Outcomes.
	// UpsertOutcome inserts or refreshes the row keyed by (job, postcode,
	// platform). Rows a reviewer has already decided are left untouched,
	// so re-running a chunk never erases a decision.
	UpsertOutcome(ctx context.Context, outcome model.MatchOutcome) error
	ListOutcomes(ctx context.Context, filter OutcomeFilter) ([]model.MatchOutcome, error)
	GetOutcome(ctx context.Context, jobID, postcode string, platform model.Platform) (*model.MatchOutcome, error)
	// ReviewOutcome applies a terminal reviewer decision to a pending
	// outcome. Reviewing a decided row returns ErrAlreadyReviewed.
	ReviewOutcome(ctx context.Context, jobID, postcode string, platform model.Platform, decision model.OutcomeState, reviewer string) error
	CountOutcomes(ctx context.Context, jobID string) (model.OutcomeCounts, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
