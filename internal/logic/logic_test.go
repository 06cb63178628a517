package logic

import (
	"encoding/json"
	"testing"
)

func TestParseOperatorTree(t *testing.T) {
	node, err := Parse([]byte(`["AND", {"id": "type", "params": {"type": "llm"}}, ["OR", {"id": "pii", "params": {}}, {"id": "toxicity", "params": {}}]]`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if node.Kind != KindOperator || node.Op != OpAnd {
		t.Fatalf("expected AND root, got %v %q", node.Kind, node.Op)
	}
	if len(node.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(node.Children))
	}
	if node.Children[0].CheckID != "type" {
		t.Fatalf("unexpected leaf id: %s", node.Children[0].CheckID)
	}
	if node.Children[0].Params["type"] != "llm" {
		t.Fatalf("unexpected leaf params: %v", node.Children[0].Params)
	}
	or := node.Children[1]
	if or.Op != OpOr || len(or.Children) != 2 {
		t.Fatalf("unexpected nested node: %+v", or)
	}
}

func TestParseBareOperatorIsNoop(t *testing.T) {
	node, err := Parse([]byte(`"AND"`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if node.Kind != KindNoop {
		t.Fatalf("expected noop, got %v", node.Kind)
	}
}

func TestParseEmptyOperatorRejected(t *testing.T) {
	if _, err := Parse([]byte(`["AND"]`)); err == nil {
		t.Fatalf("expected error for operator with no children")
	}
	if _, err := Parse([]byte(`[]`)); err == nil {
		t.Fatalf("expected error for empty array")
	}
}

func TestParseUnknownOperator(t *testing.T) {
	if _, err := Parse([]byte(`["XOR", {"id": "pii"}]`)); err == nil {
		t.Fatalf("expected error for unknown operator")
	}
	if _, err := Parse([]byte(`"NOT"`)); err == nil {
		t.Fatalf("expected error for unknown bare operator")
	}
}

func TestParseLeafMissingID(t *testing.T) {
	if _, err := Parse([]byte(`["AND", {"params": {}}]`)); err == nil {
		t.Fatalf("expected error for leaf without id")
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	src := `["AND",{"id":"type","params":{"type":"llm"}},["OR",{"id":"pii","params":{"field":"any"}},{"id":"toxicity","params":{}}]]`
	node, err := Parse([]byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out, err := json.Marshal(node)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != src {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", out, src)
	}
}

func TestMarshalNoop(t *testing.T) {
	out, err := json.Marshal(MatchAll())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `"AND"` {
		t.Fatalf("unexpected noop encoding: %s", out)
	}
}

func TestValidateRejectsEmptyOperator(t *testing.T) {
	node := Node{Kind: KindOperator, Op: OpAnd}
	if err := node.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestFragmentPositional(t *testing.T) {
	frag := Fragment{Expr: "name = any(?) AND cost > ?", Args: []any{[]string{"gpt-4o"}, 0.5}}
	expr, args := frag.Positional(3)
	if expr != "name = any($3) AND cost > $4" {
		t.Fatalf("unexpected expr: %s", expr)
	}
	if len(args) != 2 {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestJoinParenthesizes(t *testing.T) {
	frag := Join("OR", []Fragment{
		{Expr: "status = ?", Args: []any{"error"}},
		{Expr: "cost > ?", Args: []any{1.0}},
	})
	if frag.Expr != "(status = ? OR cost > ?)" {
		t.Fatalf("unexpected expr: %s", frag.Expr)
	}
	if len(frag.Args) != 2 || frag.Args[0] != "error" {
		t.Fatalf("unexpected args: %v", frag.Args)
	}
}

func TestJoinSingle(t *testing.T) {
	frag := Join("AND", []Fragment{{Expr: "type = ?", Args: []any{"llm"}}})
	if frag.Expr != "(type = ?)" {
		t.Fatalf("unexpected expr: %s", frag.Expr)
	}
}
