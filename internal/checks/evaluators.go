package checks

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/valyala/fastjson"

	"runlens-backend/internal/logic"
	"runlens-backend/internal/storage"
)

func regexEvaluator(ctx context.Context, run *storage.Run, params logic.Params) (Outcome, error) {
	pattern, err := paramString(params, "regex")
	if err != nil {
		return Outcome{}, err
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Outcome{}, fmt.Errorf("invalid regex: %w", err)
	}
	field := paramStringDefault(params, "field", "output")
	matchType := paramStringDefault(params, "type", "contains")

	text := run.Field(field)
	match := re.FindString(text)
	has := match != ""

	passed := has
	if matchType == "notcontains" {
		passed = !has
	}
	return Outcome{Passed: passed, Details: map[string]any{"match": match}}, nil
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*?\}`)

func jsonEvaluator(ctx context.Context, run *storage.Run, params logic.Params) (Outcome, error) {
	field := paramStringDefault(params, "field", "output")
	matchType := paramStringDefault(params, "type", "valid")
	text := run.Field(field)

	switch matchType {
	case "valid":
		if err := fastjson.Validate(text); err != nil {
			return Outcome{Passed: false, Reason: err.Error()}, nil
		}
		return Outcome{Passed: true}, nil
	case "invalid":
		if err := fastjson.Validate(text); err != nil {
			return Outcome{Passed: true, Reason: err.Error()}, nil
		}
		return Outcome{Passed: false}, nil
	case "contains":
		for _, candidate := range jsonObjectRe.FindAllString(text, -1) {
			if fastjson.Validate(candidate) == nil {
				return Outcome{Passed: true, Details: map[string]any{"match": candidate}}, nil
			}
		}
		return Outcome{Passed: false}, nil
	default:
		return Outcome{}, fmt.Errorf("unsupported json check type: %s", matchType)
	}
}

// Heuristic detectors for personally identifiable information. These are
// intentionally coarse; precise detection belongs to an external service.
var piiPatterns = map[string]*regexp.Regexp{
	"email": regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`),
	"phone": regexp.MustCompile(`\+?[(]?[0-9]{3}[)]?[-\s.]?[0-9]{3}[-\s.]?[0-9]{4,6}`),
	"cc":    regexp.MustCompile(`(?:4[0-9]{3}(?:[ -]?[0-9]{4}){3}|5[1-5][0-9]{2}(?:[ -]?[0-9]{4}){3}|3[47][0-9]{2}(?:[ -]?[0-9]{4}){3})`),
}

func piiEvaluator(ctx context.Context, run *storage.Run, params logic.Params) (Outcome, error) {
	field := paramStringDefault(params, "field", "any")
	matchType := paramStringDefault(params, "type", "contains")

	entities, err := paramStrings(params, "entities")
	if err != nil {
		entities = []string{"email", "phone", "cc"}
	}

	var texts []string
	if field == "any" {
		texts = []string{run.InputText, run.OutputText}
	} else {
		texts = []string{run.Field(field)}
	}

	found := map[string][]string{}
	for _, entity := range entities {
		re, ok := piiPatterns[entity]
		if !ok {
			continue
		}
		for _, text := range texts {
			if matches := re.FindAllString(text, -1); len(matches) > 0 {
				found[entity] = append(found[entity], matches...)
			}
		}
	}

	has := len(found) > 0
	passed := has
	if matchType == "notcontains" {
		passed = !has
	}

	reason := "No PII detected"
	if has {
		kinds := make([]string, 0, len(found))
		for kind := range found {
			kinds = append(kinds, kind)
		}
		reason = "PII detected: " + strings.Join(kinds, ", ")
	}
	return Outcome{Passed: passed, Reason: reason, Details: found}, nil
}

// toxicWords is a small embedded word list. A text-classification
// service would replace this in deployments that need better recall.
var toxicWords = []string{
	"idiot", "stupid", "moron", "dumb", "hate you", "shut up",
	"worthless", "pathetic", "loser", "garbage person",
}

func toxicityEvaluator(ctx context.Context, run *storage.Run, params logic.Params) (Outcome, error) {
	field := paramStringDefault(params, "field", "any")
	matchType := paramStringDefault(params, "type", "contains")

	var texts []string
	if field == "any" {
		texts = []string{run.InputText, run.OutputText}
	} else {
		texts = []string{run.Field(field)}
	}

	var labels []string
	for _, text := range texts {
		lowered := strings.ToLower(text)
		for _, word := range toxicWords {
			if strings.Contains(lowered, word) {
				labels = append(labels, word)
			}
		}
	}

	has := len(labels) > 0
	passed := has
	if matchType == "notcontains" {
		passed = !has
	}

	reason := "No toxicity detected"
	if has {
		reason = "Toxicity detected: " + strings.Join(labels, ", ")
	}
	return Outcome{Passed: passed, Reason: reason, Details: map[string]any{"labels": labels}}, nil
}

// languagesEvaluator checks the language codes the enrichment pipeline
// detected for a run.
func languagesEvaluator(ctx context.Context, run *storage.Run, params logic.Params) (Outcome, error) {
	codes, err := paramStrings(params, "codes")
	if err != nil {
		return Outcome{}, err
	}
	field := paramStringDefault(params, "field", "any")

	var detected []string
	switch field {
	case "input":
		detected = run.InputLanguages
	case "output":
		detected = run.OutputLanguages
	default:
		detected = append(append([]string{}, run.InputLanguages...), run.OutputLanguages...)
	}

	for _, code := range codes {
		for _, lang := range detected {
			if strings.EqualFold(code, lang) {
				return Outcome{Passed: true, Details: map[string]any{"language": lang}}, nil
			}
		}
	}
	return Outcome{Passed: false, Details: map[string]any{"detected": detected}}, nil
}
