// Package scheduler drives chunked job processing: an explicit loop that
// geocodes one chunk, scans every property-platform pair in it, records the
// outcomes, and advances a persisted cursor. Any worker holding the store
// handle can resume a job from its cursor after a crash.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/subletwatch/subletwatch/internal/geocode"
	"github.com/subletwatch/subletwatch/internal/model"
	"github.com/subletwatch/subletwatch/internal/scrape"
	"github.com/subletwatch/subletwatch/internal/store"
)

// PairRunner runs every search strategy for one property-platform pair.
// *scrape.Executor is the production implementation.
type PairRunner interface {
	RunPair(ctx context.Context, prop model.Property, platform model.Platform) scrape.PairResult
}

// Config tunes the chunk loop.
type Config struct {
	// ChunkSize is the number of properties processed per advance.
	// Default: 15.
	ChunkSize int

	// Platforms lists the sites each property is checked against.
	// Default: all of them.
	Platforms []model.Platform

	// Concurrency bounds simultaneous property-platform pairs within a
	// chunk. Default: 3.
	Concurrency int

	// ChunkPace is the rest between consecutive chunk advances in Run.
	// Default: 30s.
	ChunkPace time.Duration
}

// DefaultConfig returns the production chunk loop settings.
func DefaultConfig() Config {
	return Config{
		ChunkSize:   15,
		Platforms:   model.AllPlatforms(),
		Concurrency: 3,
		ChunkPace:   30 * time.Second,
	}
}

// Scheduler owns all job state transitions.
type Scheduler struct {
	store    store.Store
	resolver *geocode.Resolver
	runner   PairRunner
	cfg      Config
	log      *zap.Logger
}

// New creates a Scheduler. Zero config fields fall back to defaults.
func New(st store.Store, resolver *geocode.Resolver, runner PairRunner, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = def.Platforms
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.ChunkPace <= 0 {
		cfg.ChunkPace = def.ChunkPace
	}
	return &Scheduler{
		store:    st,
		resolver: resolver,
		runner:   runner,
		cfg:      cfg,
		log:      zap.L().With(zap.String("component", "scheduler")),
	}
}

// CreateJob persists a new pending job for the given properties.
func (s *Scheduler) CreateJob(ctx context.Context, contactID string, properties []model.Property) (*model.Job, error) {
	job, err := s.store.CreateJob(ctx, contactID, properties, s.cfg.ChunkSize)
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: create job")
	}
	s.log.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("contact_id", contactID),
		zap.Int("properties", len(properties)),
		zap.Int("total_chunks", job.TotalChunks),
	)
	return job, nil
}

// AdvanceChunk processes the job's current chunk and moves the cursor
// forward by one. It is idempotent: outcomes are upserts keyed by pair, and
// a cursor race with another worker is treated as that worker having done
// the advance. Calling it on a terminal job is a no-op.
//
// A persistence error is fatal to the advance: the job is marked failed with
// the error message so callers polling job status see it. A context
// cancellation leaves the job processing so a later worker can resume it.
func (s *Scheduler) AdvanceChunk(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.advanceChunk(ctx, jobID)
	if err != nil && ctx.Err() == nil && !errors.Is(err, store.ErrNotFound) {
		if failErr := s.store.FailJob(ctx, jobID, err.Error()); failErr != nil {
			s.log.Error("could not mark job failed", zap.String("job_id", jobID), zap.Error(failErr))
		}
	}
	return job, err
}

func (s *Scheduler) advanceChunk(ctx context.Context, jobID string) (*model.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: advance %s", jobID)
	}
	if job.Status.Terminal() {
		return job, nil
	}
	if job.Status == model.JobStatusPending {
		if err := s.store.UpdateJobStatus(ctx, jobID, model.JobStatusProcessing); err != nil {
			return nil, eris.Wrapf(err, "scheduler: start %s", jobID)
		}
	}
	if job.CurrentChunk >= job.TotalChunks {
		return s.complete(ctx, jobID)
	}

	chunk := job.Chunk(job.CurrentChunk, s.cfg.ChunkSize)
	s.log.Info("processing chunk",
		zap.String("job_id", jobID),
		zap.Int("chunk", job.CurrentChunk),
		zap.Int("of", job.TotalChunks),
		zap.Int("properties", len(chunk)),
	)

	resolved := s.resolver.ResolveAll(ctx, chunk)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, prop := range resolved {
		for _, platform := range s.cfg.Platforms {
			g.Go(func() error {
				result := s.runner.RunPair(gctx, prop, platform)
				outcome := buildOutcome(job, prop, platform, result)
				if err := s.store.UpsertOutcome(gctx, outcome); err != nil {
					return eris.Wrapf(err, "scheduler: record %s/%s", prop.Postcode, platform)
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		// The cursor stays put; the next advance replays this chunk.
		return nil, err
	}

	advanced, err := s.store.AdvanceJobCursor(ctx, jobID, job.CurrentChunk)
	if err != nil {
		if errors.Is(err, store.ErrStaleChunk) {
			s.log.Warn("chunk cursor raced, another worker advanced",
				zap.String("job_id", jobID),
				zap.Int("chunk", job.CurrentChunk),
			)
			return s.store.GetJob(ctx, jobID)
		}
		return nil, eris.Wrapf(err, "scheduler: advance cursor %s", jobID)
	}

	if advanced.CurrentChunk >= advanced.TotalChunks {
		return s.complete(ctx, jobID)
	}
	return advanced, nil
}

// Run advances the job chunk by chunk until it is terminal, resting
// ChunkPace between advances. A context cancellation leaves the job
// processing so a later worker can resume it; any other error has already
// marked the job failed by the time Run returns it.
func (s *Scheduler) Run(ctx context.Context, jobID string) (*model.Job, error) {
	for {
		job, err := s.AdvanceChunk(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				return nil, eris.Wrapf(ctx.Err(), "scheduler: run %s interrupted", jobID)
			}
			return nil, err
		}
		if job.Status.Terminal() {
			return job, nil
		}
		if err := sleepCtx(ctx, s.cfg.ChunkPace); err != nil {
			return job, eris.Wrapf(err, "scheduler: run %s interrupted", jobID)
		}
	}
}

func (s *Scheduler) complete(ctx context.Context, jobID string) (*model.Job, error) {
	if err := s.store.UpdateJobStatus(ctx, jobID, model.JobStatusCompleted); err != nil {
		return nil, eris.Wrapf(err, "scheduler: complete %s", jobID)
	}
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.log.Info("job completed", zap.String("job_id", jobID), zap.Int("chunks", job.TotalChunks))
	return job, nil
}

// buildOutcome converts a pair's trial history into the persisted record.
// A pair with no usable attempt lands in the error state; everything else is
// pending with the winning verdict as evidence for the reviewer.
func buildOutcome(job *model.Job, prop model.Property, platform model.Platform, result scrape.PairResult) model.MatchOutcome {
	outcome := model.MatchOutcome{
		JobID:            job.ID,
		ContactID:        job.ContactID,
		PropertyPostcode: prop.Postcode,
		Platform:         platform,
		Outcome:          model.OutcomePending,
		Method:           model.MethodNone,
		Attempts:         len(result.Attempts),
		CostUnits:        result.CostUnits(),
	}

	winner := result.Winner
	if winner == nil {
		outcome.Outcome = model.OutcomeError
		return outcome
	}

	if v := winner.Verdict; v != nil {
		outcome.Found = v.Found
		outcome.Method = v.Method
		outcome.Confidence = v.Confidence
		if v.Found {
			outcome.ListingURL = winner.Strategy.RequestURL
		}
	}
	return outcome
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
