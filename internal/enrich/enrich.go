// Package enrich applies realtime evaluators to new runs: each enricher
// names a check whose evaluator is run over every run matching its
// filters, storing the outcome for later querying.
package enrich

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"runlens-backend/internal/checks"
	"runlens-backend/internal/logic"
	"runlens-backend/internal/metrics"
	"runlens-backend/internal/storage"
)

const DefaultBatchSize = 20

type Store interface {
	ListEnrichers(ctx context.Context) ([]storage.Enricher, error)
	EnricherCandidates(ctx context.Context, enricherID, projectID string, filters logic.Fragment, limit int) ([]storage.Run, error)
	InsertEvaluationResult(ctx context.Context, enricherID, runID string, result json.RawMessage) error
}

type Job struct {
	Store     Store
	Registry  *checks.Registry
	BatchSize int
	Log       *slog.Logger
}

func NewJob(store Store, registry *checks.Registry, logger *slog.Logger) *Job {
	return &Job{Store: store, Registry: registry, BatchSize: DefaultBatchSize, Log: logger}
}

// Run processes one batch per enricher. Per-run failures are logged and
// left without a result row, so the next pass retries them.
func (j *Job) Run(ctx context.Context) error {
	enrichers, err := j.Store.ListEnrichers(ctx)
	if err != nil {
		return err
	}
	for _, enricher := range enrichers {
		if err := j.runEnricher(ctx, enricher); err != nil {
			j.Log.Error("enricher pass failed",
				slog.String("enricher", enricher.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (j *Job) runEnricher(ctx context.Context, enricher storage.Enricher) error {
	def, ok := j.Registry.Lookup(enricher.CheckID)
	if !ok || def.Evaluator == nil {
		j.Log.Warn("enricher references a check without an evaluator",
			slog.String("enricher", enricher.ID),
			slog.String("check", enricher.CheckID))
		return nil
	}

	filters, err := j.Registry.CompileSQL(enricher.Filters)
	if err != nil {
		return err
	}
	runs, err := j.Store.EnricherCandidates(ctx, enricher.ID, enricher.ProjectID, filters, j.BatchSize)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}

	started := time.Now()
	for i := range runs {
		run := &runs[i]
		outcome, err := def.Evaluator(ctx, run, enricher.Params)
		if err != nil {
			j.Log.Error("enrichment evaluation failed",
				slog.String("enricher", enricher.ID),
				slog.String("run", run.ID),
				slog.String("error", err.Error()))
			continue
		}
		result, err := json.Marshal(map[string]any{
			"passed":  outcome.Passed,
			"reason":  outcome.Reason,
			"details": outcome.Details,
		})
		if err != nil {
			continue
		}
		if err := j.Store.InsertEvaluationResult(ctx, enricher.ID, run.ID, result); err != nil {
			j.Log.Error("persist enrichment failed",
				slog.String("enricher", enricher.ID),
				slog.String("run", run.ID),
				slog.String("error", err.Error()))
			continue
		}
		metrics.EnrichedRuns.Inc()
	}

	j.Log.Info("enrichment batch done",
		slog.String("enricher", enricher.ID),
		slog.Int("count", len(runs)),
		slog.Duration("took", time.Since(started)))
	return nil
}
