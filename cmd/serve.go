package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/subletwatch/subletwatch/internal/model"
	"github.com/subletwatch/subletwatch/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for jobs, outcomes and reviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initScanEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: buildRouter(env),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func buildRouter(env *scanEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/jobs", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			ContactID  string           `json:"contact_id"`
			Properties []model.Property `json:"properties"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(body.Properties) == 0 {
			writeError(w, http.StatusBadRequest, "properties are required")
			return
		}

		job, err := env.Scheduler.CreateJob(req.Context(), body.ContactID, body.Properties)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, job)
	})

	r.Get("/jobs", func(w http.ResponseWriter, req *http.Request) {
		jobs, err := env.Store.ListJobs(req.Context(), store.JobFilter{
			Status:    model.JobStatus(req.URL.Query().Get("status")),
			ContactID: req.URL.Query().Get("contact_id"),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, jobs)
	})

	r.Get("/jobs/{id}", func(w http.ResponseWriter, req *http.Request) {
		job, err := env.Store.GetJob(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		counts, err := env.Store.CountOutcomes(req.Context(), job.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, struct {
			*model.Job
			Outcomes model.OutcomeCounts `json:"outcomes"`
		}{job, counts})
	})

	r.Post("/jobs/{id}/advance", func(w http.ResponseWriter, req *http.Request) {
		jobID := chi.URLParam(req, "id")
		if _, err := env.Store.GetJob(req.Context(), jobID); err != nil {
			writeStoreError(w, err)
			return
		}

		// Chunk processing outlives the request; poll the job for progress.
		go func() {
			if _, err := env.Scheduler.AdvanceChunk(context.Background(), jobID); err != nil {
				zap.L().Error("advance failed", zap.String("job_id", jobID), zap.Error(err))
			}
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "job_id": jobID})
	})

	r.Get("/jobs/{id}/outcomes", func(w http.ResponseWriter, req *http.Request) {
		outcomes, err := env.Store.ListOutcomes(req.Context(), store.OutcomeFilter{
			JobID:    chi.URLParam(req, "id"),
			Platform: model.Platform(req.URL.Query().Get("platform")),
			Outcome:  model.OutcomeState(req.URL.Query().Get("state")),
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, outcomes)
	})

	r.Post("/jobs/{id}/review", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Postcode string `json:"postcode"`
			Platform string `json:"platform"`
			Decision string `json:"decision"`
			Reviewer string `json:"reviewer"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		platform, ok := model.ParsePlatform(body.Platform)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown platform")
			return
		}
		decision := model.OutcomeState(body.Decision)
		if !decision.ReviewDecision() {
			writeError(w, http.StatusBadRequest, "decision must be investigate or no_match")
			return
		}

		err := env.Store.ReviewOutcome(req.Context(), chi.URLParam(req, "id"),
			body.Postcode, platform, decision, body.Reviewer)
		if err != nil {
			writeStoreError(w, err)
			return
		}

		outcome, err := env.Store.GetOutcome(req.Context(), chi.URLParam(req, "id"), body.Postcode, platform)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps store sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAlreadyReviewed):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
