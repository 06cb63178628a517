package plan

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"runlens-backend/internal/checks"
	"runlens-backend/internal/logic"
)

func compile(t *testing.T, p Plan, allow AllowLists) Compiled {
	t.Helper()
	return Compile(p, "llm", allow, checks.Default())
}

func TestCompileAddsDefaultTypeLeaf(t *testing.T) {
	out := compile(t, Plan{Clauses: []Clause{{ID: "status", Values: []string{"error"}}}}, AllowLists{})
	if len(out.Unmatched) != 0 {
		t.Fatalf("unexpected unmatched: %v", out.Unmatched)
	}
	root := out.Logic
	if root.Op != logic.OpAnd || len(root.Children) != 2 {
		t.Fatalf("unexpected root: %+v", root)
	}
	if root.Children[0].CheckID != "type" || root.Children[0].Params["type"] != "llm" {
		t.Fatalf("expected default type leaf first: %+v", root.Children[0])
	}
	if root.Children[1].CheckID != "status" {
		t.Fatalf("unexpected second leaf: %+v", root.Children[1])
	}
}

func TestCompileExplicitTypeSkipsDefault(t *testing.T) {
	out := compile(t, Plan{Clauses: []Clause{{ID: "type", Values: []string{"trace"}}}}, AllowLists{})
	root := out.Logic
	if len(root.Children) != 1 {
		t.Fatalf("expected single type leaf, got %d children", len(root.Children))
	}
	if root.Children[0].Params["type"] != "trace" {
		t.Fatalf("unexpected params: %v", root.Children[0].Params)
	}
}

func TestCompileBetweenExpands(t *testing.T) {
	out := compile(t, Plan{Clauses: []Clause{
		{ID: "duration", Op: "between", Range: []float64{4, 1}},
	}}, AllowLists{})
	root := out.Logic
	pair := root.Children[1]
	if pair.Op != logic.OpAnd || len(pair.Children) != 2 {
		t.Fatalf("expected AND pair: %+v", pair)
	}
	lo, hi := pair.Children[0], pair.Children[1]
	if lo.Params["operator"] != "gt" || lo.Params["duration"] != float64(1) {
		t.Fatalf("unexpected lower bound: %v", lo.Params)
	}
	if hi.Params["operator"] != "lt" || hi.Params["duration"] != float64(4) {
		t.Fatalf("unexpected upper bound: %v", hi.Params)
	}
}

func TestCompileDurationUnitConversion(t *testing.T) {
	out := compile(t, Plan{Clauses: []Clause{
		{ID: "duration", Op: "gt", Value: float64(500), Unit: "ms"},
	}}, AllowLists{})
	leaf := out.Logic.Children[1]
	if leaf.Params["duration"] != float64(0.5) {
		t.Fatalf("expected ms conversion, got %v", leaf.Params["duration"])
	}
}

func TestCompileModelsExpansion(t *testing.T) {
	allow := AllowLists{Models: []string{"gpt-4o", "gpt-4o-mini", "claude-3-haiku"}}
	out := compile(t, Plan{Clauses: []Clause{{ID: "models", Values: []string{"gpt"}}}}, allow)
	leaf := out.Logic.Children[1]
	names := leaf.Params["names"].([]string)
	want := []string{"gpt-4o", "gpt-4o-mini"}
	if !reflect.DeepEqual(names, want) {
		t.Fatalf("unexpected expansion: %v", names)
	}
}

func TestCompileModelsExactKeepsCanonicalCase(t *testing.T) {
	allow := AllowLists{Models: []string{"GPT-4o", "gpt-4o-mini"}}
	out := compile(t, Plan{Clauses: []Clause{{ID: "models", Values: []string{"gpt-4o"}}}}, allow)
	names := out.Logic.Children[1].Params["names"].([]string)
	if !reflect.DeepEqual(names, []string{"GPT-4o"}) {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestCompileModelsUnknownReported(t *testing.T) {
	allow := AllowLists{Models: []string{"gpt-4o"}}
	out := compile(t, Plan{Clauses: []Clause{{ID: "models", Values: []string{"openai"}}}}, allow)
	if len(out.Unmatched) != 1 || !strings.Contains(out.Unmatched[0], "ignored model values: openai") {
		t.Fatalf("unexpected unmatched: %v", out.Unmatched)
	}
	// only the default type leaf remains
	if len(out.Logic.Children) != 1 {
		t.Fatalf("dropped clause still produced a node: %+v", out.Logic)
	}
}

func TestCompileUnknownFilterID(t *testing.T) {
	out := compile(t, Plan{Clauses: []Clause{{ID: "not-a-real-check"}}}, AllowLists{})
	if len(out.Unmatched) != 1 || out.Unmatched[0] != "Unsupported filter id: not-a-real-check" {
		t.Fatalf("unexpected unmatched: %v", out.Unmatched)
	}
}

func TestCompileFeedbackThumbs(t *testing.T) {
	out := compile(t, Plan{Clauses: []Clause{
		{ID: "feedback", Thumbs: []string{"thumbs up", "negative", "neutral"}},
	}}, AllowLists{})
	leaf := out.Logic.Children[1]
	types := leaf.Params["types"].([]string)
	want := []string{`{"thumb":"up"}`, `{"thumb":"down"}`, `{"thumb":null}`}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("unexpected tokens: %v", types)
	}
}

func TestCompileOrTopLevel(t *testing.T) {
	out := compile(t, Plan{
		Op: "OR",
		Clauses: []Clause{
			{ID: "status", Values: []string{"error"}},
			{ID: "cost", Op: "gt", Value: float64(1)},
		},
	}, AllowLists{})
	root := out.Logic
	if len(root.Children) != 2 {
		t.Fatalf("unexpected root children: %d", len(root.Children))
	}
	or := root.Children[1]
	if or.Op != logic.OpOr || len(or.Children) != 2 {
		t.Fatalf("expected OR wrapper: %+v", or)
	}
}

func TestCompileEmptyPlanScopesToType(t *testing.T) {
	empty := Compile(Plan{}, "llm", AllowLists{}, checks.Default())
	// a bare plan still scopes to the run type
	if len(empty.Logic.Children) != 1 || empty.Logic.Children[0].CheckID != "type" {
		t.Fatalf("unexpected tree: %+v", empty.Logic)
	}
	if len(empty.Unmatched) != 0 {
		t.Fatalf("unexpected unmatched: %v", empty.Unmatched)
	}
}

func TestCompileLanguagesDefaultField(t *testing.T) {
	out := compile(t, Plan{Clauses: []Clause{{ID: "languages", Values: []string{"fr", "de"}}}}, AllowLists{})
	leaf := out.Logic.Children[1]
	if leaf.Params["field"] != "any" {
		t.Fatalf("unexpected field: %v", leaf.Params["field"])
	}
}

func TestCompilePIIFlag(t *testing.T) {
	out := compile(t, Plan{Clauses: []Clause{{ID: "pii", Flag: "false"}}}, AllowLists{})
	leaf := out.Logic.Children[1]
	if leaf.Params["type"] != "notcontains" {
		t.Fatalf("unexpected type: %v", leaf.Params["type"])
	}
}

func TestCompileIdempotent(t *testing.T) {
	p := Plan{
		Op: "OR",
		Clauses: []Clause{
			{ID: "status", Values: []string{"error"}},
			{ID: "duration", Op: "between", Range: []float64{1, 4}},
		},
	}
	first := compile(t, p, AllowLists{})
	second := compile(t, p, AllowLists{})
	a, _ := json.Marshal(first.Logic)
	b, _ := json.Marshal(second.Logic)
	if string(a) != string(b) {
		t.Fatalf("compilation is not deterministic:\n%s\n%s", a, b)
	}
	if !reflect.DeepEqual(first.Unmatched, second.Unmatched) {
		t.Fatalf("unmatched differ: %v vs %v", first.Unmatched, second.Unmatched)
	}
}

func TestCompiledTreeIsValid(t *testing.T) {
	out := compile(t, Plan{
		Groups: []Group{{Op: "OR", Clauses: []Clause{
			{ID: "status", Values: []string{"error"}},
			{ID: "tags", Values: []string{"prod"}},
		}}},
	}, AllowLists{})
	if err := out.Logic.Validate(); err != nil {
		t.Fatalf("compiled tree invalid: %v", err)
	}
}
