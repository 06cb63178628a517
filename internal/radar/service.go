// Package radar owns saved (scope, predicate) pairs and the batch
// scanner that scores new runs against them.
package radar

import (
	"context"
	"fmt"
	"log/slog"

	"runlens-backend/internal/logic"
	"runlens-backend/internal/storage"
)

// Events receives change notifications; the NATS publisher implements it.
type Events interface {
	Publish(subject string, payload any) error
}

// Repo is the persistence surface the service needs.
type Repo interface {
	HasRadars(ctx context.Context, projectID string) (bool, error)
	ListRadars(ctx context.Context, projectID string) ([]storage.Radar, error)
	GetRadar(ctx context.Context, id, projectID string) (storage.Radar, error)
	CreateRadar(ctx context.Context, rec storage.Radar) (string, error)
	UpdateRadar(ctx context.Context, rec storage.Radar) error
	DeleteRadar(ctx context.Context, id, projectID string) error
	DeleteRadarResults(ctx context.Context, radarID string) error
}

// Service implements radar lifecycle: default seeding on first access,
// edits that invalidate prior results, and deletion.
type Service struct {
	Repo Repo
	Bus  Events
	Log  *slog.Logger
}

func NewService(repo Repo, events Events, logger *slog.Logger) *Service {
	return &Service{Repo: repo, Bus: events, Log: logger}
}

func llmView() logic.Node {
	return logic.And(logic.Leaf("type", logic.Params{"type": "llm"}))
}

// defaultRadars are seeded the first time a project lists its radars.
func defaultRadars() []storage.Radar {
	return []storage.Radar{
		{
			Description: "Failed or slow LLM calls",
			Negative:    true,
			View:        llmView(),
			Checks: logic.Or(
				logic.Leaf("status", logic.Params{"status": "error"}),
				logic.Leaf("duration", logic.Params{"operator": "gt", "duration": float64(30)}),
			),
		},
		{
			Description: "Contains PII (Personal Identifiable Information)",
			Negative:    true,
			View:        llmView(),
			Checks: logic.And(
				logic.Leaf("pii", logic.Params{"field": "any", "type": "contains"}),
			),
		},
		{
			Description: "Contains profanity or toxic language",
			Negative:    true,
			View:        llmView(),
			Checks: logic.Or(
				logic.Leaf("toxicity", logic.Params{"field": "any", "type": "contains"}),
			),
		},
	}
}

// List returns a project's radars with verdict totals, seeding the
// defaults on first access.
func (s *Service) List(ctx context.Context, projectID string) ([]storage.Radar, error) {
	seeded, err := s.Repo.HasRadars(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !seeded {
		for _, rec := range defaultRadars() {
			rec.ProjectID = projectID
			if _, err := s.Repo.CreateRadar(ctx, rec); err != nil {
				return nil, fmt.Errorf("seed default radars: %w", err)
			}
		}
		s.Log.Info("seeded default radars", slog.String("project", projectID))
	}
	return s.Repo.ListRadars(ctx, projectID)
}

func (s *Service) Get(ctx context.Context, id, projectID string) (storage.Radar, error) {
	return s.Repo.GetRadar(ctx, id, projectID)
}

func (s *Service) Create(ctx context.Context, rec storage.Radar) (storage.Radar, error) {
	if err := validateTrees(rec); err != nil {
		return storage.Radar{}, err
	}
	id, err := s.Repo.CreateRadar(ctx, rec)
	if err != nil {
		return storage.Radar{}, err
	}
	rec.ID = id
	s.publish("radar.created", id)
	return rec, nil
}

// Update edits a radar. Changed view or checks make every prior verdict
// stale, so all results for the radar are deleted rather than rescored.
func (s *Service) Update(ctx context.Context, rec storage.Radar) error {
	if err := validateTrees(rec); err != nil {
		return err
	}
	if err := s.Repo.UpdateRadar(ctx, rec); err != nil {
		return err
	}
	if err := s.Repo.DeleteRadarResults(ctx, rec.ID); err != nil {
		return err
	}
	s.publish("radar.updated", rec.ID)
	return nil
}

func (s *Service) Delete(ctx context.Context, id, projectID string) error {
	if err := s.Repo.DeleteRadar(ctx, id, projectID); err != nil {
		return err
	}
	s.publish("radar.deleted", id)
	return nil
}

func validateTrees(rec storage.Radar) error {
	if err := rec.View.Validate(); err != nil {
		return fmt.Errorf("invalid view: %w", err)
	}
	if err := rec.Checks.Validate(); err != nil {
		return fmt.Errorf("invalid checks: %w", err)
	}
	return nil
}

func (s *Service) publish(subject, radarID string) {
	if s.Bus == nil {
		return
	}
	if err := s.Bus.Publish(subject, map[string]string{"radar_id": radarID}); err != nil {
		s.Log.Error("publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}
