package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subletwatch/subletwatch/internal/geocode"
	"github.com/subletwatch/subletwatch/internal/model"
)

func testProperties(n int) []model.Property {
	props := make([]model.Property, n)
	for i := range props {
		props[i] = model.Property{
			Postcode: fmt.Sprintf("G11 %dAW", i%10),
			Address:  fmt.Sprintf("%d Banavie Road, Glasgow G11 %dAW", i+1, i%10),
		}
	}
	return props
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetJob", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job, err := s.CreateJob(ctx, "contact-1", testProperties(16), 15)
		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, model.JobStatusPending, job.Status)
		assert.Equal(t, 2, job.TotalChunks)
		assert.Equal(t, 0, job.CurrentChunk)

		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, "contact-1", got.ContactID)
		assert.Len(t, got.Properties, 16)
		assert.Equal(t, job.Properties[0].Postcode, got.Properties[0].Postcode)
	})

	t.Run("CreateJobEmpty", func(t *testing.T) {
		s := newStore(t)

		_, err := s.CreateJob(context.Background(), "contact-1", nil, 15)
		require.Error(t, err)
	})

	t.Run("GetJobNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetJob(context.Background(), "nonexistent")
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("ListJobsFiltered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a, err := s.CreateJob(ctx, "contact-a", testProperties(3), 15)
		require.NoError(t, err)
		b, err := s.CreateJob(ctx, "contact-b", testProperties(3), 15)
		require.NoError(t, err)
		require.NoError(t, s.UpdateJobStatus(ctx, b.ID, model.JobStatusProcessing))

		all, err := s.ListJobs(ctx, JobFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 2)

		byContact, err := s.ListJobs(ctx, JobFilter{ContactID: "contact-a"})
		require.NoError(t, err)
		require.Len(t, byContact, 1)
		assert.Equal(t, a.ID, byContact[0].ID)

		processing, err := s.ListJobs(ctx, JobFilter{Status: model.JobStatusProcessing})
		require.NoError(t, err)
		require.Len(t, processing, 1)
		assert.Equal(t, b.ID, processing[0].ID)
	})

	t.Run("UpdateJobStatusTimestamps", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job, err := s.CreateJob(ctx, "contact-1", testProperties(3), 15)
		require.NoError(t, err)

		require.NoError(t, s.UpdateJobStatus(ctx, job.ID, model.JobStatusProcessing))
		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusProcessing, got.Status)
		require.NotNil(t, got.StartedAt)
		assert.Nil(t, got.CompletedAt)

		require.NoError(t, s.UpdateJobStatus(ctx, job.ID, model.JobStatusCompleted))
		got, err = s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)
	})

	t.Run("UpdateJobStatusNotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.UpdateJobStatus(context.Background(), "nonexistent", model.JobStatusProcessing)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("FailJob", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job, err := s.CreateJob(ctx, "contact-1", testProperties(3), 15)
		require.NoError(t, err)

		require.NoError(t, s.FailJob(ctx, job.ID, "proxy quota exhausted"))
		got, err := s.GetJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, model.JobStatusFailed, got.Status)
		assert.Equal(t, "proxy quota exhausted", got.ErrorMessage)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("AdvanceJobCursor", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job, err := s.CreateJob(ctx, "contact-1", testProperties(16), 15)
		require.NoError(t, err)
		require.NoError(t, s.UpdateJobStatus(ctx, job.ID, model.JobStatusProcessing))

		advanced, err := s.AdvanceJobCursor(ctx, job.ID, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, advanced.CurrentChunk)

		advanced, err = s.AdvanceJobCursor(ctx, job.ID, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, advanced.CurrentChunk)
	})

	t.Run("AdvanceJobCursorStale", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job, err := s.CreateJob(ctx, "contact-1", testProperties(16), 15)
		require.NoError(t, err)
		require.NoError(t, s.UpdateJobStatus(ctx, job.ID, model.JobStatusProcessing))

		_, err = s.AdvanceJobCursor(ctx, job.ID, 0)
		require.NoError(t, err)

		// Replaying the same advance loses the optimistic check.
		_, err = s.AdvanceJobCursor(ctx, job.ID, 0)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrStaleChunk))
	})

	t.Run("AdvanceJobCursorNotProcessing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job, err := s.CreateJob(ctx, "contact-1", testProperties(3), 15)
		require.NoError(t, err)

		_, err = s.AdvanceJobCursor(ctx, job.ID, 0)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrStaleChunk))
	})

	t.Run("AdvanceJobCursorNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.AdvanceJobCursor(context.Background(), "nonexistent", 0)
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("UpsertOutcomeInsertAndRefresh", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job, err := s.CreateJob(ctx, "contact-1", testProperties(3), 15)
		require.NoError(t, err)

		outcome := model.MatchOutcome{
			JobID:            job.ID,
			ContactID:        "contact-1",
			PropertyPostcode: "G11 5AW",
			Platform:         model.PlatformAirbnb,
			Outcome:          model.OutcomePending,
			Found:            true,
			Method:           model.MethodExact,
			Confidence:       1.0,
			ListingURL:       "https://www.airbnb.co.uk/s/homes?query=G11%205AW",
			Attempts:         1,
			CostUnits:        25,
		}
		require.NoError(t, s.UpsertOutcome(ctx, outcome))

		got, err := s.GetOutcome(ctx, job.ID, "G11 5AW", model.PlatformAirbnb)
		require.NoError(t, err)
		assert.True(t, got.Found)
		assert.Equal(t, model.MethodExact, got.Method)
		assert.InDelta(t, 1.0, got.Confidence, 1e-9)

		outcome.Found = false
		outcome.Method = model.MethodNone
		outcome.Confidence = 0
		outcome.Attempts = 2
		require.NoError(t, s.UpsertOutcome(ctx, outcome))

		got, err = s.GetOutcome(ctx, job.ID, "G11 5AW", model.PlatformAirbnb)
		require.NoError(t, err)
		assert.False(t, got.Found)
		assert.Equal(t, 2, got.Attempts)
	})

	t.Run("UpsertOutcomePreservesReviewerDecision", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job, err := s.CreateJob(ctx, "contact-1", testProperties(3), 15)
		require.NoError(t, err)

		outcome := model.MatchOutcome{
			JobID:            job.ID,
			ContactID:        "contact-1",
			PropertyPostcode: "G11 5AW",
			Platform:         model.PlatformSpareRoom,
			Outcome:          model.OutcomePending,
			Found:            true,
			Method:           model.MethodCaseInsensitive,
			Confidence:       0.9,
			Attempts:         1,
		}
		require.NoError(t, s.UpsertOutcome(ctx, outcome))
		require.NoError(t, s.ReviewOutcome(ctx, job.ID, "G11 5AW", model.PlatformSpareRoom, model.OutcomeInvestigate, "analyst@example.com"))

		// A chunk replay must not erase the decision.
		outcome.Found = false
		outcome.Attempts = 2
		require.NoError(t, s.UpsertOutcome(ctx, outcome))

		got, err := s.GetOutcome(ctx, job.ID, "G11 5AW", model.PlatformSpareRoom)
		require.NoError(t, err)
		assert.Equal(t, model.OutcomeInvestigate, got.Outcome)
		assert.True(t, got.Found)
		assert.Equal(t, 1, got.Attempts)
		assert.Equal(t, "analyst@example.com", got.ReviewedBy)
	})

	t.Run("ReviewOutcomeOnce", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job, err := s.CreateJob(ctx, "contact-1", testProperties(3), 15)
		require.NoError(t, err)

		require.NoError(t, s.UpsertOutcome(ctx, model.MatchOutcome{
			JobID:            job.ID,
			ContactID:        "contact-1",
			PropertyPostcode: "G11 5AW",
			Platform:         model.PlatformGumtree,
			Outcome:          model.OutcomePending,
		}))

		require.NoError(t, s.ReviewOutcome(ctx, job.ID, "G11 5AW", model.PlatformGumtree, model.OutcomeNoMatch, "analyst@example.com"))

		got, err := s.GetOutcome(ctx, job.ID, "G11 5AW", model.PlatformGumtree)
		require.NoError(t, err)
		assert.Equal(t, model.OutcomeNoMatch, got.Outcome)
		require.NotNil(t, got.ReviewedAt)

		err = s.ReviewOutcome(ctx, job.ID, "G11 5AW", model.PlatformGumtree, model.OutcomeInvestigate, "other@example.com")
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrAlreadyReviewed))
	})

	t.Run("ReviewOutcomeErrorStateIsFinal", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job, err := s.CreateJob(ctx, "contact-1", testProperties(3), 15)
		require.NoError(t, err)

		require.NoError(t, s.UpsertOutcome(ctx, model.MatchOutcome{
			JobID:            job.ID,
			ContactID:        "contact-1",
			PropertyPostcode: "G11 5AW",
			Platform:         model.PlatformAirbnb,
			Outcome:          model.OutcomeError,
		}))

		err = s.ReviewOutcome(ctx, job.ID, "G11 5AW", model.PlatformAirbnb, model.OutcomeInvestigate, "analyst@example.com")
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrAlreadyReviewed))
	})

	t.Run("ReviewOutcomeRejectsNonDecision", func(t *testing.T) {
		s := newStore(t)

		err := s.ReviewOutcome(context.Background(), "job", "G11 5AW", model.PlatformAirbnb, model.OutcomePending, "analyst@example.com")
		require.Error(t, err)
	})

	t.Run("ReviewOutcomeNotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.ReviewOutcome(context.Background(), "nonexistent", "G11 5AW", model.PlatformAirbnb, model.OutcomeInvestigate, "analyst@example.com")
		require.Error(t, err)
		assert.True(t, eris.Is(err, ErrNotFound))
	})

	t.Run("ListOutcomesOrderedAndFiltered", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job, err := s.CreateJob(ctx, "contact-1", testProperties(3), 15)
		require.NoError(t, err)

		for _, pc := range []string{"PA1 2BB", "EH1 1AA", "G11 5AW"} {
			for _, platform := range model.AllPlatforms() {
				require.NoError(t, s.UpsertOutcome(ctx, model.MatchOutcome{
					JobID:            job.ID,
					ContactID:        "contact-1",
					PropertyPostcode: pc,
					Platform:         platform,
					Outcome:          model.OutcomePending,
				}))
			}
		}

		all, err := s.ListOutcomes(ctx, OutcomeFilter{JobID: job.ID})
		require.NoError(t, err)
		require.Len(t, all, 9)
		assert.Equal(t, "EH1 1AA", all[0].PropertyPostcode)
		assert.Equal(t, "G11 5AW", all[3].PropertyPostcode)
		assert.Equal(t, "PA1 2BB", all[6].PropertyPostcode)

		airbnb, err := s.ListOutcomes(ctx, OutcomeFilter{JobID: job.ID, Platform: model.PlatformAirbnb})
		require.NoError(t, err)
		assert.Len(t, airbnb, 3)
	})

	t.Run("CountOutcomes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		job, err := s.CreateJob(ctx, "contact-1", testProperties(3), 15)
		require.NoError(t, err)

		seed := []struct {
			pc    string
			state model.OutcomeState
		}{
			{"EH1 1AA", model.OutcomePending},
			{"EH2 2BB", model.OutcomePending},
			{"EH3 3CC", model.OutcomeError},
		}
		for _, row := range seed {
			require.NoError(t, s.UpsertOutcome(ctx, model.MatchOutcome{
				JobID:            job.ID,
				ContactID:        "contact-1",
				PropertyPostcode: row.pc,
				Platform:         model.PlatformAirbnb,
				Outcome:          row.state,
			}))
		}
		require.NoError(t, s.ReviewOutcome(ctx, job.ID, "EH1 1AA", model.PlatformAirbnb, model.OutcomeInvestigate, "analyst@example.com"))

		counts, err := s.CountOutcomes(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, counts.Pending)
		assert.Equal(t, 1, counts.Investigate)
		assert.Equal(t, 0, counts.NoMatch)
		assert.Equal(t, 1, counts.Error)
		assert.Equal(t, 3, counts.Total())
	})

	t.Run("GeocodeCache", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		miss, err := s.GetGeocode(ctx, "G11 5AW")
		require.NoError(t, err)
		assert.Nil(t, miss)

		require.NoError(t, s.SetGeocode(ctx, "G11 5AW", geocode.CachedResult{
			Latitude:  55.8740,
			Longitude: -4.3170,
			Matched:   true,
		}))

		hit, err := s.GetGeocode(ctx, "G11 5AW")
		require.NoError(t, err)
		require.NotNil(t, hit)
		assert.InDelta(t, 55.8740, hit.Latitude, 1e-9)
		assert.InDelta(t, -4.3170, hit.Longitude, 1e-9)
		assert.True(t, hit.Matched)

		// Negative entries round-trip too.
		require.NoError(t, s.SetGeocode(ctx, "ZZ9 9ZZ", geocode.CachedResult{Matched: false}))
		neg, err := s.GetGeocode(ctx, "ZZ9 9ZZ")
		require.NoError(t, err)
		require.NotNil(t, neg)
		assert.False(t, neg.Matched)
	})
}
