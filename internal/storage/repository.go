package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"runlens-backend/internal/logic"
)

type Repository struct {
	Store *Store
}

func NewRepository(store *Store) *Repository {
	return &Repository{Store: store}
}

const runColumns = `
	id, project_id, type, coalesce(name, ''), coalesce(status, ''), created_at,
	coalesce(extract(epoch from duration), 0), coalesce(cost, 0),
	coalesce(prompt_tokens, 0), coalesce(completion_tokens, 0),
	coalesce(input_text, ''), coalesce(output_text, ''), coalesce(error_text, ''),
	coalesce(feedback, 'null'::jsonb), coalesce(tags, '{}'),
	coalesce(external_user_id, ''), coalesce(template_version_id, ''),
	coalesce(metadata, 'null'::jsonb),
	coalesce(input_languages, '{}'), coalesce(output_languages, '{}')`

func scanRun(row pgx.Row) (Run, error) {
	var run Run
	err := row.Scan(
		&run.ID, &run.ProjectID, &run.Type, &run.Name, &run.Status, &run.CreatedAt,
		&run.Duration, &run.Cost,
		&run.PromptTokens, &run.CompletionTokens,
		&run.InputText, &run.OutputText, &run.ErrorText,
		&run.Feedback, &run.Tags,
		&run.ExternalUserID, &run.TemplateVersionID,
		&run.Metadata,
		&run.InputLanguages, &run.OutputLanguages,
	)
	return run, err
}

func (r *Repository) GetRun(ctx context.Context, id string) (Run, error) {
	row := r.Store.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM run WHERE id=$1`, id)
	run, err := scanRun(row)
	if err != nil {
		return Run{}, ErrNotFound
	}
	return run, nil
}

// MatchRun tests one compiled boolean fragment against a single run.
func (r *Repository) MatchRun(ctx context.Context, runID string, frag logic.Fragment) (bool, error) {
	expr, args := frag.Positional(2)
	query := `SELECT 1 FROM run WHERE id = $1 AND (` + expr + `)`
	all := append([]any{runID}, args...)
	var one int
	err := r.Store.Pool.QueryRow(ctx, query, all...).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CandidateRuns selects the oldest unscanned runs in a radar's scope:
// runs matching the view fragment with no radar_result row yet.
func (r *Repository) CandidateRuns(ctx context.Context, radarID, projectID string, view logic.Fragment, limit int) ([]Run, error) {
	expr, args := view.Positional(3)
	query := `
		SELECT ` + runColumns + `
		FROM run
		WHERE project_id = $1
		  AND (` + expr + `)
		  AND NOT EXISTS (
			SELECT 1 FROM radar_result rr WHERE rr.radar_id = $2 AND rr.run_id = run.id
		  )
		ORDER BY created_at ASC
		LIMIT ` + strconv.Itoa(limit)
	all := append([]any{projectID, radarID}, args...)
	rows, err := r.Store.Pool.Query(ctx, query, all...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RunsPassing evaluates a fully SQL-compiled predicate over a candidate
// id set in one query and reports which ids pass.
func (r *Repository) RunsPassing(ctx context.Context, projectID string, ids []string, frag logic.Fragment) (map[string]bool, error) {
	expr, args := frag.Positional(3)
	query := `SELECT id FROM run WHERE project_id = $1 AND id = any($2) AND (` + expr + `)`
	all := append([]any{projectID, ids}, args...)
	rows, err := r.Store.Pool.Query(ctx, query, all...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	passing := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		passing[id] = true
	}
	return passing, rows.Err()
}

const radarColumns = `r.id, r.project_id, coalesce(r.owner_id, ''), r.description, r.view, r.checks, r.negative, r.created_at, r.updated_at`

func scanRadar(row pgx.Row) (Radar, error) {
	var rec Radar
	var viewJSON, checksJSON []byte
	if err := row.Scan(&rec.ID, &rec.ProjectID, &rec.OwnerID, &rec.Description, &viewJSON, &checksJSON, &rec.Negative, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return Radar{}, err
	}
	view, err := logic.Parse(viewJSON)
	if err != nil {
		return Radar{}, fmt.Errorf("radar %s view: %w", rec.ID, err)
	}
	checks, err := logic.Parse(checksJSON)
	if err != nil {
		return Radar{}, fmt.Errorf("radar %s checks: %w", rec.ID, err)
	}
	rec.View = view
	rec.Checks = checks
	return rec, nil
}

func (r *Repository) AllRadars(ctx context.Context) ([]Radar, error) {
	rows, err := r.Store.Pool.Query(ctx, `SELECT `+radarColumns+` FROM radar r ORDER BY r.created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var radars []Radar
	for rows.Next() {
		rec, err := scanRadar(rows)
		if err != nil {
			return nil, err
		}
		radars = append(radars, rec)
	}
	return radars, rows.Err()
}

// ListRadars returns a project's radars with pass/fail totals.
func (r *Repository) ListRadars(ctx context.Context, projectID string) ([]Radar, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT `+radarColumns+`,
			COUNT(rr.run_id) FILTER (WHERE rr.passed) AS passed,
			COUNT(rr.run_id) FILTER (WHERE NOT rr.passed) AS failed
		FROM radar r
		LEFT JOIN radar_result rr ON rr.radar_id = r.id
		WHERE r.project_id = $1
		GROUP BY r.id
		ORDER BY r.created_at ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var radars []Radar
	for rows.Next() {
		var rec Radar
		var viewJSON, checksJSON []byte
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.OwnerID, &rec.Description, &viewJSON, &checksJSON, &rec.Negative, &rec.CreatedAt, &rec.UpdatedAt, &rec.Passed, &rec.Failed); err != nil {
			return nil, err
		}
		view, err := logic.Parse(viewJSON)
		if err != nil {
			return nil, fmt.Errorf("radar %s view: %w", rec.ID, err)
		}
		checks, err := logic.Parse(checksJSON)
		if err != nil {
			return nil, fmt.Errorf("radar %s checks: %w", rec.ID, err)
		}
		rec.View = view
		rec.Checks = checks
		radars = append(radars, rec)
	}
	return radars, rows.Err()
}

func (r *Repository) GetRadar(ctx context.Context, id, projectID string) (Radar, error) {
	row := r.Store.Pool.QueryRow(ctx, `SELECT `+radarColumns+` FROM radar r WHERE r.id=$1 AND r.project_id=$2`, id, projectID)
	rec, err := scanRadar(row)
	if err != nil {
		return Radar{}, ErrNotFound
	}
	return rec, nil
}

func (r *Repository) HasRadars(ctx context.Context, projectID string) (bool, error) {
	var one int
	err := r.Store.Pool.QueryRow(ctx, `SELECT 1 FROM radar WHERE project_id=$1 LIMIT 1`, projectID).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) CreateRadar(ctx context.Context, rec Radar) (string, error) {
	viewJSON, err := json.Marshal(rec.View)
	if err != nil {
		return "", err
	}
	checksJSON, err := json.Marshal(rec.Checks)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = r.Store.Pool.Exec(ctx, `
		INSERT INTO radar (id, project_id, owner_id, description, view, checks, negative, created_at, updated_at)
		VALUES ($1,$2,nullif($3,''),$4,$5,$6,$7,now(),now())`,
		id, rec.ProjectID, rec.OwnerID, rec.Description, viewJSON, checksJSON, rec.Negative,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) UpdateRadar(ctx context.Context, rec Radar) error {
	viewJSON, err := json.Marshal(rec.View)
	if err != nil {
		return err
	}
	checksJSON, err := json.Marshal(rec.Checks)
	if err != nil {
		return err
	}
	tag, err := r.Store.Pool.Exec(ctx, `
		UPDATE radar
		SET description=$1, view=$2, checks=$3, negative=$4, updated_at=now()
		WHERE id=$5 AND project_id=$6`,
		rec.Description, viewJSON, checksJSON, rec.Negative, rec.ID, rec.ProjectID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteRadar(ctx context.Context, id, projectID string) error {
	tag, err := r.Store.Pool.Exec(ctx, `DELETE FROM radar WHERE id=$1 AND project_id=$2`, id, projectID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteRadarResults drops every verdict for a radar; used when its
// view or checks change so the backlog is rescored from scratch.
func (r *Repository) DeleteRadarResults(ctx context.Context, radarID string) error {
	_, err := r.Store.Pool.Exec(ctx, `DELETE FROM radar_result WHERE radar_id=$1`, radarID)
	return err
}

// InsertRadarResult records one verdict. The unique (radar_id, run_id)
// constraint makes concurrent scans exclusively-once.
func (r *Repository) InsertRadarResult(ctx context.Context, rec RadarResult) error {
	results := rec.Results
	if len(results) == 0 {
		results = json.RawMessage("[]")
	}
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO radar_result (id, radar_id, run_id, passed, results, created_at)
		VALUES ($1,$2,$3,$4,$5,now())
		ON CONFLICT (radar_id, run_id) DO NOTHING`,
		uuid.NewString(), rec.RadarID, rec.RunID, rec.Passed, results,
	)
	return err
}

func (r *Repository) ActiveAlerts(ctx context.Context) ([]Alert, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, project_id, coalesce(name, ''), status, threshold, metric, time_frame_minutes,
			coalesce(emails, '{}'), coalesce(webhook_urls, '{}'), created_at, updated_at
		FROM alert
		WHERE status != 'disabled'
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var alerts []Alert
	for rows.Next() {
		var rec Alert
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.Name, &rec.Status, &rec.Threshold, &rec.Metric, &rec.TimeFrameMinutes, &rec.Emails, &rec.WebhookURLs, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	return alerts, rows.Err()
}

// MetricValue computes an alert's metric over its trailing window.
func (r *Repository) MetricValue(ctx context.Context, alert Alert) (float64, error) {
	var value float64
	switch {
	case alert.Metric == "error":
		err := r.Store.Pool.QueryRow(ctx, `
			SELECT coalesce(avg(CASE WHEN error_text IS NOT NULL AND error_text != '' THEN 1 ELSE 0 END) * 100, 0)
			FROM run
			WHERE project_id = $1
			  AND created_at >= now() - make_interval(mins => $2::int)`,
			alert.ProjectID, alert.TimeFrameMinutes).Scan(&value)
		return value, err
	case alert.Metric == "cost":
		err := r.Store.Pool.QueryRow(ctx, `
			SELECT coalesce(sum(cost), 0)
			FROM run
			WHERE project_id = $1
			  AND created_at >= now() - make_interval(mins => $2::int)`,
			alert.ProjectID, alert.TimeFrameMinutes).Scan(&value)
		return value, err
	case alert.Metric == "feedback":
		err := r.Store.Pool.QueryRow(ctx, `
			SELECT coalesce(avg(CASE WHEN feedback->>'thumb' = 'up' THEN 1 ELSE 0 END) * 100, 0)
			FROM run
			WHERE project_id = $1
			  AND created_at >= now() - make_interval(mins => $2::int)`,
			alert.ProjectID, alert.TimeFrameMinutes).Scan(&value)
		return value, err
	case strings.HasPrefix(alert.Metric, "latency_p"):
		quantile, err := strconv.ParseFloat(strings.TrimPrefix(alert.Metric, "latency_p"), 64)
		if err != nil || quantile <= 0 || quantile >= 100 {
			return 0, fmt.Errorf("unsupported metric %q", alert.Metric)
		}
		err = r.Store.Pool.QueryRow(ctx, `
			SELECT coalesce(
				percentile_cont($3) WITHIN GROUP (ORDER BY extract(epoch from duration)::float),
				0)
			FROM run
			WHERE project_id = $1
			  AND created_at >= now() - make_interval(mins => $2::int)`,
			alert.ProjectID, alert.TimeFrameMinutes, quantile/100).Scan(&value)
		return value, err
	default:
		return 0, fmt.Errorf("unsupported metric %q", alert.Metric)
	}
}

// TriggerAlert flips an alert to triggered and opens its history row in
// one transaction, so the state and the audit trail cannot diverge.
func (r *Repository) TriggerAlert(ctx context.Context, alertID string, value float64, now time.Time) error {
	tx, err := r.Store.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `UPDATE alert SET status='triggered', updated_at=$1 WHERE id=$2`, now, alertID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO alert_history (id, alert_id, start_time, end_time, trigger, status)
		VALUES ($1,$2,$3,$3,$4,'ongoing')`,
		uuid.NewString(), alertID, now, value); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ResolveAlert flips an alert back to healthy and closes its ongoing
// history row in one transaction.
func (r *Repository) ResolveAlert(ctx context.Context, alertID string, value float64, now time.Time) error {
	tx, err := r.Store.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `UPDATE alert SET status='healthy', updated_at=$1 WHERE id=$2`, now, alertID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE alert_history
		SET status='resolved', end_time=$1, trigger=$2
		WHERE alert_id=$3 AND status='ongoing'`,
		now, value, alertID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *Repository) ListEnrichers(ctx context.Context) ([]Enricher, error) {
	rows, err := r.Store.Pool.Query(ctx, `
		SELECT id, project_id, check_id, coalesce(params, '{}'::jsonb),
			coalesce(filters, '["AND", {"id": "type", "params": {"type": "llm"}}]'::jsonb),
			created_at
		FROM enricher ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var enrichers []Enricher
	for rows.Next() {
		var rec Enricher
		var paramsJSON, filtersJSON []byte
		if err := rows.Scan(&rec.ID, &rec.ProjectID, &rec.CheckID, &paramsJSON, &filtersJSON, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(paramsJSON, &rec.Params); err != nil {
			return nil, fmt.Errorf("enricher %s params: %w", rec.ID, err)
		}
		filters, err := logic.Parse(filtersJSON)
		if err != nil {
			return nil, fmt.Errorf("enricher %s filters: %w", rec.ID, err)
		}
		rec.Filters = filters
		enrichers = append(enrichers, rec)
	}
	return enrichers, rows.Err()
}

// EnricherCandidates mirrors CandidateRuns for the enrichment job,
// excluding runs that already hold an evaluation result.
func (r *Repository) EnricherCandidates(ctx context.Context, enricherID, projectID string, filters logic.Fragment, limit int) ([]Run, error) {
	expr, args := filters.Positional(3)
	query := `
		SELECT ` + runColumns + `
		FROM run
		WHERE project_id = $1
		  AND (` + expr + `)
		  AND NOT EXISTS (
			SELECT 1 FROM evaluation_result er WHERE er.enricher_id = $2 AND er.run_id = run.id
		  )
		ORDER BY created_at DESC
		LIMIT ` + strconv.Itoa(limit)
	all := append([]any{projectID, enricherID}, args...)
	rows, err := r.Store.Pool.Query(ctx, query, all...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *Repository) InsertEvaluationResult(ctx context.Context, enricherID, runID string, result json.RawMessage) error {
	_, err := r.Store.Pool.Exec(ctx, `
		INSERT INTO evaluation_result (enricher_id, run_id, result, created_at)
		VALUES ($1,$2,$3,now())
		ON CONFLICT (enricher_id, run_id) DO NOTHING`,
		enricherID, runID, result,
	)
	return err
}
