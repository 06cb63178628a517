// Package checks is the fixed registry of named predicates plus the two
// execution substrates over them: compiling a tree to one SQL expression
// and evaluating a tree per-run in process.
package checks

import (
	"context"
	"fmt"
	"strconv"

	"runlens-backend/internal/logic"
	"runlens-backend/internal/storage"
)

// Outcome is what a programmatic evaluator reports for one run.
type Outcome struct {
	Passed  bool
	Reason  string
	Details any
}

type SQLFunc func(params logic.Params) (logic.Fragment, error)

type EvaluatorFunc func(ctx context.Context, run *storage.Run, params logic.Params) (Outcome, error)

// Definition is one registry entry. At least one capability is expected;
// an entry with neither acts as a pass-through logic marker.
type Definition struct {
	ID        string
	SQL       SQLFunc
	Evaluator EvaluatorFunc
}

// Registry maps check ids to definitions. Read-only after construction.
type Registry struct {
	defs map[string]Definition
}

func NewRegistry(defs ...Definition) *Registry {
	m := make(map[string]Definition, len(defs))
	for _, def := range defs {
		m[def.ID] = def
	}
	return &Registry{defs: m}
}

func (r *Registry) Lookup(id string) (Definition, bool) {
	def, ok := r.defs[id]
	return def, ok
}

// Default returns the built-in check set.
func Default() *Registry {
	return NewRegistry(
		Definition{ID: "type", SQL: typeSQL},
		Definition{ID: "models", SQL: modelsSQL},
		Definition{ID: "tags", SQL: tagsSQL},
		Definition{ID: "status", SQL: statusSQL},
		Definition{ID: "users", SQL: usersSQL},
		Definition{ID: "templates", SQL: templatesSQL},
		Definition{ID: "date", SQL: dateSQL},
		Definition{ID: "duration", SQL: durationSQL},
		Definition{ID: "cost", SQL: costSQL},
		Definition{ID: "tokens", SQL: tokensSQL},
		Definition{ID: "length", SQL: lengthSQL},
		Definition{ID: "string", SQL: stringSQL},
		Definition{ID: "search", SQL: searchSQL},
		Definition{ID: "feedback", SQL: feedbackSQL},
		Definition{ID: "metadata", SQL: metadataSQL},
		Definition{ID: "radar", SQL: radarSQL},
		Definition{ID: "regex", Evaluator: regexEvaluator},
		Definition{ID: "json", Evaluator: jsonEvaluator},
		Definition{ID: "pii", Evaluator: piiEvaluator},
		Definition{ID: "toxicity", Evaluator: toxicityEvaluator},
		Definition{ID: "languages", Evaluator: languagesEvaluator},
	)
}

// Param readers. Leaf params come from decoded JSON, so numbers arrive
// as float64 and lists as []any.

func paramString(params logic.Params, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing param %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("param %q is not a string", key)
	}
	return s, nil
}

func paramStringDefault(params logic.Params, key, fallback string) string {
	if s, err := paramString(params, key); err == nil && s != "" {
		return s
	}
	return fallback
}

func paramNumber(params logic.Params, key string) (float64, error) {
	v, ok := params[key]
	if !ok {
		return 0, fmt.Errorf("missing param %q", key)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, fmt.Errorf("param %q is not numeric", key)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("param %q is not numeric", key)
	}
}

func paramStrings(params logic.Params, key string) ([]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, fmt.Errorf("missing param %q", key)
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("param %q has a non-string element", key)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("param %q is not a list", key)
	}
}
