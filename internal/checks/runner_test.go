package checks

import (
	"context"
	"errors"
	"testing"

	"runlens-backend/internal/logic"
	"runlens-backend/internal/storage"
)

type fakeMatcher struct {
	passed bool
	err    error
	calls  int
}

func (m *fakeMatcher) MatchRun(ctx context.Context, runID string, frag logic.Fragment) (bool, error) {
	m.calls++
	return m.passed, m.err
}

func staticCheck(id string, passed bool, calls *int) Definition {
	return Definition{
		ID: id,
		Evaluator: func(ctx context.Context, run *storage.Run, params logic.Params) (Outcome, error) {
			*calls++
			return Outcome{Passed: passed}, nil
		},
	}
}

func failingCheck(id string, calls *int) Definition {
	return Definition{
		ID: id,
		Evaluator: func(ctx context.Context, run *storage.Run, params logic.Params) (Outcome, error) {
			*calls++
			return Outcome{}, errors.New("boom")
		},
	}
}

func TestEvaluateOrShortCircuits(t *testing.T) {
	var failCalls, passCalls, neverCalls int
	registry := NewRegistry(
		staticCheck("fails", false, &failCalls),
		staticCheck("passes", true, &passCalls),
		failingCheck("never", &neverCalls),
	)
	runner := NewRunner(registry, &fakeMatcher{})
	run := &storage.Run{ID: "r1"}

	tree := logic.Or(
		logic.Leaf("fails", nil),
		logic.Leaf("passes", nil),
		logic.Leaf("never", nil),
	)
	res, err := runner.Evaluate(context.Background(), run, tree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Passed {
		t.Fatalf("expected pass")
	}
	if failCalls != 1 || passCalls != 1 {
		t.Fatalf("unexpected call counts: %d %d", failCalls, passCalls)
	}
	if neverCalls != 0 {
		t.Fatalf("child after the passing one was evaluated")
	}
}

func TestEvaluateAndShortCircuits(t *testing.T) {
	var passCalls, failCalls, neverCalls int
	registry := NewRegistry(
		staticCheck("passes", true, &passCalls),
		staticCheck("fails", false, &failCalls),
		failingCheck("never", &neverCalls),
	)
	runner := NewRunner(registry, &fakeMatcher{})
	run := &storage.Run{ID: "r1"}

	tree := logic.And(
		logic.Leaf("passes", nil),
		logic.Leaf("fails", nil),
		logic.Leaf("never", nil),
	)
	res, err := runner.Evaluate(context.Background(), run, tree)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Passed {
		t.Fatalf("expected fail")
	}
	if passCalls != 1 || failCalls != 1 {
		t.Fatalf("unexpected call counts: %d %d", passCalls, failCalls)
	}
	if neverCalls != 0 {
		t.Fatalf("child after the failing one was evaluated")
	}
}

func TestEvaluateUnknownCheckPasses(t *testing.T) {
	runner := NewRunner(NewRegistry(), &fakeMatcher{})
	res, err := runner.Evaluate(context.Background(), &storage.Run{ID: "r1"},
		logic.And(logic.Leaf("not-a-real-check", nil)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Passed {
		t.Fatalf("unknown check should pass by default")
	}
}

func TestEvaluateSQLLeafUsesMatcher(t *testing.T) {
	matcher := &fakeMatcher{passed: true}
	runner := NewRunner(Default(), matcher)
	res, err := runner.Evaluate(context.Background(), &storage.Run{ID: "r1"},
		logic.Leaf("status", logic.Params{"status": "error"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Passed || res.FilterID != "status" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if matcher.calls != 1 {
		t.Fatalf("matcher calls: %d", matcher.calls)
	}
}

func TestEvaluateNoopPasses(t *testing.T) {
	runner := NewRunner(Default(), &fakeMatcher{})
	res, err := runner.Evaluate(context.Background(), &storage.Run{ID: "r1"}, logic.MatchAll())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Passed {
		t.Fatalf("noop tree should pass")
	}
}

func TestEvaluatePropagatesErrors(t *testing.T) {
	var calls int
	runner := NewRunner(NewRegistry(failingCheck("broken", &calls)), &fakeMatcher{})
	_, err := runner.Evaluate(context.Background(), &storage.Run{ID: "r1"},
		logic.And(logic.Leaf("broken", nil)))
	if err == nil {
		t.Fatalf("expected error")
	}
}
