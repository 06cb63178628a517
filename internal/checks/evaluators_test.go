package checks

import (
	"context"
	"strings"
	"testing"

	"runlens-backend/internal/logic"
	"runlens-backend/internal/storage"
)

func TestRegexEvaluator(t *testing.T) {
	run := &storage.Run{OutputText: "order id ORD-12345 confirmed"}
	out, err := regexEvaluator(context.Background(), run, logic.Params{"regex": `ORD-\d+`})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Passed {
		t.Fatalf("expected match")
	}
	details := out.Details.(map[string]any)
	if details["match"] != "ORD-12345" {
		t.Fatalf("unexpected match: %v", details["match"])
	}
}

func TestRegexEvaluatorNotContains(t *testing.T) {
	run := &storage.Run{OutputText: "all good"}
	out, err := regexEvaluator(context.Background(), run, logic.Params{"regex": `error`, "type": "notcontains"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Passed {
		t.Fatalf("expected pass when pattern absent")
	}
}

func TestRegexEvaluatorInvalidPattern(t *testing.T) {
	if _, err := regexEvaluator(context.Background(), &storage.Run{}, logic.Params{"regex": `[`}); err == nil {
		t.Fatalf("expected error for invalid pattern")
	}
}

func TestJSONEvaluatorValid(t *testing.T) {
	run := &storage.Run{OutputText: `{"ok": true}`}
	out, err := jsonEvaluator(context.Background(), run, logic.Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Passed {
		t.Fatalf("expected valid json to pass")
	}
}

func TestJSONEvaluatorInvalidMode(t *testing.T) {
	run := &storage.Run{OutputText: `not json at all`}
	out, err := jsonEvaluator(context.Background(), run, logic.Params{"type": "invalid"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Passed {
		t.Fatalf("expected invalid text to pass in invalid mode")
	}
	if out.Reason == "" {
		t.Fatalf("expected a parse reason")
	}
}

func TestJSONEvaluatorContains(t *testing.T) {
	run := &storage.Run{OutputText: `the payload is {"status": "ok"} as requested`}
	out, err := jsonEvaluator(context.Background(), run, logic.Params{"type": "contains"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Passed {
		t.Fatalf("expected embedded object to be found")
	}
}

func TestPIIEvaluatorEmail(t *testing.T) {
	run := &storage.Run{InputText: "contact me at jane.doe@example.com"}
	out, err := piiEvaluator(context.Background(), run, logic.Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Passed {
		t.Fatalf("expected email to be detected")
	}
	if !strings.HasPrefix(out.Reason, "PII detected") {
		t.Fatalf("unexpected reason: %s", out.Reason)
	}
}

func TestPIIEvaluatorNotContains(t *testing.T) {
	run := &storage.Run{InputText: "nothing sensitive here", OutputText: "understood"}
	out, err := piiEvaluator(context.Background(), run, logic.Params{"type": "notcontains"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Passed {
		t.Fatalf("expected clean text to pass in notcontains mode")
	}
}

func TestPIIEvaluatorFieldScoping(t *testing.T) {
	run := &storage.Run{InputText: "reach me at jane@example.com", OutputText: "noted"}
	out, err := piiEvaluator(context.Background(), run, logic.Params{"field": "output"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Passed {
		t.Fatalf("output field should not contain PII")
	}
}

func TestToxicityEvaluator(t *testing.T) {
	run := &storage.Run{OutputText: "you are an idiot"}
	out, err := toxicityEvaluator(context.Background(), run, logic.Params{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Passed {
		t.Fatalf("expected toxicity to be detected")
	}
	if !strings.HasPrefix(out.Reason, "Toxicity detected") {
		t.Fatalf("unexpected reason: %s", out.Reason)
	}
}

func TestLanguagesEvaluator(t *testing.T) {
	run := &storage.Run{InputLanguages: []string{"en"}, OutputLanguages: []string{"fr"}}
	out, err := languagesEvaluator(context.Background(), run, logic.Params{"codes": []any{"fr"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !out.Passed {
		t.Fatalf("expected fr to match")
	}

	out, err = languagesEvaluator(context.Background(), run, logic.Params{"codes": []any{"fr"}, "field": "input"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Passed {
		t.Fatalf("fr is not an input language")
	}
}
