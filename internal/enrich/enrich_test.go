package enrich

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"runlens-backend/internal/checks"
	"runlens-backend/internal/logic"
	"runlens-backend/internal/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memEnrichStore struct {
	enrichers []storage.Enricher
	runs      []storage.Run
	results   map[string]json.RawMessage
}

func newMemEnrichStore() *memEnrichStore {
	return &memEnrichStore{results: map[string]json.RawMessage{}}
}

func (m *memEnrichStore) ListEnrichers(ctx context.Context) ([]storage.Enricher, error) {
	return m.enrichers, nil
}

func (m *memEnrichStore) EnricherCandidates(ctx context.Context, enricherID, projectID string, filters logic.Fragment, limit int) ([]storage.Run, error) {
	var out []storage.Run
	for _, run := range m.runs {
		if run.ProjectID != projectID {
			continue
		}
		if _, done := m.results[enricherID+"/"+run.ID]; done {
			continue
		}
		out = append(out, run)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *memEnrichStore) InsertEvaluationResult(ctx context.Context, enricherID, runID string, result json.RawMessage) error {
	key := enricherID + "/" + runID
	if _, exists := m.results[key]; exists {
		return nil
	}
	m.results[key] = result
	return nil
}

func piiEnricher() storage.Enricher {
	return storage.Enricher{
		ID:        "e1",
		ProjectID: "p1",
		CheckID:   "pii",
		Params:    logic.Params{"field": "any"},
		Filters:   logic.And(logic.Leaf("type", logic.Params{"type": "llm"})),
	}
}

func TestRunStoresOutcomes(t *testing.T) {
	store := newMemEnrichStore()
	store.enrichers = []storage.Enricher{piiEnricher()}
	store.runs = []storage.Run{
		{ID: "run-1", ProjectID: "p1", InputText: "email me at jane@example.com"},
		{ID: "run-2", ProjectID: "p1", InputText: "no personal data"},
	}

	job := NewJob(store, checks.Default(), testLogger())
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(store.results))
	}

	var outcome struct {
		Passed bool   `json:"passed"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(store.results["e1/run-1"], &outcome); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !outcome.Passed || outcome.Reason == "" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestRunSkipsEnrichedRuns(t *testing.T) {
	store := newMemEnrichStore()
	store.enrichers = []storage.Enricher{piiEnricher()}
	store.runs = []storage.Run{{ID: "run-1", ProjectID: "p1"}}
	store.results["e1/run-1"] = json.RawMessage(`{"passed":true}`)

	job := NewJob(store, checks.Default(), testLogger())
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(store.results["e1/run-1"]) != `{"passed":true}` {
		t.Fatalf("existing result was overwritten")
	}
}

func TestRunIgnoresEnricherWithoutEvaluator(t *testing.T) {
	store := newMemEnrichStore()
	enricher := piiEnricher()
	enricher.CheckID = "status" // sql-only check
	store.enrichers = []storage.Enricher{enricher}
	store.runs = []storage.Run{{ID: "run-1", ProjectID: "p1"}}

	job := NewJob(store, checks.Default(), testLogger())
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.results) != 0 {
		t.Fatalf("sql-only enricher produced results")
	}
}
