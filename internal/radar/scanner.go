package radar

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"runlens-backend/internal/checks"
	"runlens-backend/internal/logic"
	"runlens-backend/internal/metrics"
	"runlens-backend/internal/storage"
)

const (
	// DefaultBatchSize caps how many unscanned runs one invocation
	// scores per radar; the rest wait for the next scheduled pass.
	DefaultBatchSize = 20
	// DefaultTimeout bounds a whole scan invocation so a slow
	// evaluator cannot block the next scheduled run indefinitely.
	DefaultTimeout = 2 * time.Minute
)

// Store is the persistence surface the scanner needs.
type Store interface {
	AllRadars(ctx context.Context) ([]storage.Radar, error)
	CandidateRuns(ctx context.Context, radarID, projectID string, view logic.Fragment, limit int) ([]storage.Run, error)
	RunsPassing(ctx context.Context, projectID string, ids []string, frag logic.Fragment) (map[string]bool, error)
	InsertRadarResult(ctx context.Context, rec storage.RadarResult) error
}

// Scanner finds unscanned runs per radar, scores them against the
// radar's checks and persists one verdict per (radar, run) pair.
type Scanner struct {
	Store     Store
	Registry  *checks.Registry
	Runner    *checks.Runner
	BatchSize int
	Timeout   time.Duration
	Log       *slog.Logger

	running atomic.Bool
}

func NewScanner(store Store, registry *checks.Registry, runner *checks.Runner, logger *slog.Logger) *Scanner {
	return &Scanner{
		Store:     store,
		Registry:  registry,
		Runner:    runner,
		BatchSize: DefaultBatchSize,
		Timeout:   DefaultTimeout,
		Log:       logger,
	}
}

// Running reports whether a scan is currently in progress.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// Scan processes every radar once. At most one scan runs at a time
// process-wide; overlapping invocations log and return immediately.
// The guard is released on every exit path, including errors.
func (s *Scanner) Scan(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.Log.Warn("radar scan already running, skipping")
		metrics.RadarScanSkips.Inc()
		return nil
	}
	defer s.running.Store(false)

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	radars, err := s.Store.AllRadars(ctx)
	if err != nil {
		return err
	}

	for _, radar := range radars {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.scanRadar(ctx, radar); err != nil {
			s.Log.Error("radar scan failed",
				slog.String("radar", radar.ID),
				slog.String("error", err.Error()))
		}
	}
	metrics.RadarScans.Inc()
	return nil
}

func (s *Scanner) scanRadar(ctx context.Context, radar storage.Radar) error {
	viewFrag, err := s.Registry.CompileSQL(radar.View)
	if err != nil {
		return err
	}

	runs, err := s.Store.CandidateRuns(ctx, radar.ID, radar.ProjectID, viewFrag, s.BatchSize)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}

	started := time.Now()
	s.Log.Info("scanning runs",
		slog.String("radar", radar.ID),
		slog.Int("count", len(runs)))

	if !s.Registry.HasNonSQL(radar.Checks) {
		err = s.scanWithSQL(ctx, radar, runs)
	} else {
		err = s.scanWithEvaluator(ctx, radar, runs)
	}
	if err != nil {
		return err
	}

	s.Log.Info("scan batch done",
		slog.String("radar", radar.ID),
		slog.Duration("took", time.Since(started)))
	return nil
}

// scanWithSQL scores the whole candidate set with one compiled query
// instead of an existence check per run.
func (s *Scanner) scanWithSQL(ctx context.Context, radar storage.Radar, runs []storage.Run) error {
	frag, err := s.Registry.CompileSQL(radar.Checks)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(runs))
	for _, run := range runs {
		ids = append(ids, run.ID)
	}
	passing, err := s.Store.RunsPassing(ctx, radar.ProjectID, ids, frag)
	if err != nil {
		return err
	}
	for _, run := range runs {
		passed := passing[run.ID]
		if err := s.persist(ctx, radar.ID, run.ID, passed, nil); err != nil {
			s.Log.Error("persist radar result failed",
				slog.String("radar", radar.ID),
				slog.String("run", run.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// scanWithEvaluator scores candidates one by one, keeping the full
// per-leaf evidence. A failing run is logged and skipped; its missing
// result row makes the next scan pick it up again.
func (s *Scanner) scanWithEvaluator(ctx context.Context, radar storage.Radar, runs []storage.Run) error {
	for i := range runs {
		run := &runs[i]
		result, err := s.Runner.Evaluate(ctx, run, radar.Checks)
		if err != nil {
			metrics.RadarRunErrors.Inc()
			s.Log.Error("run evaluation failed",
				slog.String("radar", radar.ID),
				slog.String("run", run.ID),
				slog.String("error", err.Error()))
			continue
		}
		details, err := json.Marshal(resultDetails(result))
		if err != nil {
			details = json.RawMessage("[]")
		}
		if err := s.persist(ctx, radar.ID, run.ID, result.Passed, details); err != nil {
			s.Log.Error("persist radar result failed",
				slog.String("radar", radar.ID),
				slog.String("run", run.ID),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *Scanner) persist(ctx context.Context, radarID, runID string, passed bool, results json.RawMessage) error {
	err := s.Store.InsertRadarResult(ctx, storage.RadarResult{
		RadarID: radarID,
		RunID:   runID,
		Passed:  passed,
		Results: results,
	})
	if err == nil {
		metrics.RadarRunsScanned.WithLabelValues(strconv.FormatBool(passed)).Inc()
	}
	return err
}

// resultDetails flattens the root result so the stored evidence is the
// list of child verdicts, matching the historical row shape.
func resultDetails(result logic.Result) any {
	if result.Details != nil {
		return result.Details
	}
	return []logic.Result{result}
}
