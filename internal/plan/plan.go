// Package plan translates an externally produced normalized clause list
// (the output of natural-language parsing) into a check logic tree,
// reporting every clause it could not translate instead of failing.
package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"runlens-backend/internal/checks"
	"runlens-backend/internal/logic"
)

// Clause is one normalized filter condition. The payload shape depends
// on the check id: numeric comparisons use Op/Value/Range, multi-value
// filters use Values, feedback uses Thumbs, metadata uses Key+Value.
type Clause struct {
	ID     string    `json:"id"`
	Op     string    `json:"op,omitempty"`
	Value  any       `json:"value,omitempty"`
	Range  []float64 `json:"range,omitempty"`
	Unit   string    `json:"unit,omitempty"`
	Field  string    `json:"field,omitempty"`
	Values []string  `json:"values,omitempty"`
	ISO    any       `json:"iso,omitempty"` // string or [start, end]
	Thumbs []string  `json:"thumbs,omitempty"`
	Key    string    `json:"key,omitempty"`
	Flag   string    `json:"flag,omitempty"`
}

type Group struct {
	Op      string   `json:"op"`
	Clauses []Clause `json:"clauses"`
}

// Plan is the normalized output of the upstream language model.
type Plan struct {
	Op        string   `json:"op"`
	Clauses   []Clause `json:"clauses"`
	Groups    []Group  `json:"groups"`
	Unmatched []string `json:"unmatched"`
}

// AllowLists hold the project-scoped values a clause may reference.
type AllowLists struct {
	Models    []string
	Tags      []string
	Templates []string
}

// Compiled is the best tree the compiler could build plus diagnostics
// for everything it had to drop.
type Compiled struct {
	Logic     logic.Node
	Unmatched []string
}

// Compile builds a logic tree from a plan. Unknown or untranslatable
// clauses are recorded in Unmatched and omitted; the result is always a
// valid tree.
func Compile(p Plan, runType string, allow AllowLists, registry *checks.Registry) Compiled {
	unmatched := append([]string{}, p.Unmatched...)

	switch runType {
	case "llm", "trace", "thread":
	default:
		runType = "llm"
	}

	hasTypeClause := false
	for _, clause := range p.Clauses {
		if clause.ID == "type" {
			hasTypeClause = true
		}
	}
	for _, group := range p.Groups {
		for _, clause := range group.Clauses {
			if clause.ID == "type" {
				hasTypeClause = true
			}
		}
	}

	var top []logic.Node
	if !hasTypeClause {
		top = append(top, logic.Leaf("type", logic.Params{"type": runType}))
	}

	var elements []logic.Node
	for _, clause := range p.Clauses {
		elements = append(elements, compileClause(clause, &unmatched, allow, registry)...)
	}
	for _, group := range p.Groups {
		var members []logic.Node
		for _, clause := range group.Clauses {
			members = append(members, compileClause(clause, &unmatched, allow, registry)...)
		}
		if len(members) > 0 {
			op := group.Op
			if op != logic.OpOr {
				op = logic.OpAnd
			}
			elements = append(elements, logic.Node{Kind: logic.KindOperator, Op: op, Children: members})
		}
	}

	if len(elements) > 0 {
		if p.Op == logic.OpOr && len(elements) > 1 {
			top = append(top, logic.Or(elements...))
		} else {
			top = append(top, elements...)
		}
	}

	if len(top) == 0 {
		return Compiled{Logic: logic.MatchAll(), Unmatched: unmatched}
	}
	return Compiled{Logic: logic.And(top...), Unmatched: unmatched}
}

func compileClause(clause Clause, unmatched *[]string, allow AllowLists, registry *checks.Registry) []logic.Node {
	switch clause.ID {
	case "duration":
		return compileNumeric(clause, unmatched, "duration", "duration", true)
	case "cost":
		return compileNumeric(clause, unmatched, "cost", "cost", false)
	case "tokens":
		nodes := compileNumeric(clause, unmatched, "tokens", "tokens", false)
		field := clause.Field
		if field == "" {
			field = "total"
		}
		for i := range nodes {
			if nodes[i].Kind == logic.KindLeaf {
				nodes[i].Params["field"] = field
			}
		}
		return nodes
	case "feedback":
		tokens := feedbackTokens(clause)
		if len(tokens) == 0 {
			*unmatched = append(*unmatched, "Feedback clause did not produce any thumbs")
			return nil
		}
		return []logic.Node{logic.Leaf("feedback", logic.Params{"types": tokens})}
	case "date":
		return compileDate(clause, unmatched)
	case "status":
		value := firstValue(clause)
		if value == "" {
			*unmatched = append(*unmatched, "Status clause missing value")
			return nil
		}
		return []logic.Node{logic.Leaf("status", logic.Params{"status": value})}
	case "type":
		value := firstValue(clause)
		if value == "" {
			*unmatched = append(*unmatched, "Type clause missing value")
			return nil
		}
		return []logic.Node{logic.Leaf("type", logic.Params{"type": value})}
	case "models":
		values := clauseValues(clause)
		if len(allow.Models) > 0 {
			expanded := expandModels(values, allow.Models)
			if len(expanded) == 0 {
				*unmatched = append(*unmatched, "ignored model values: "+strings.Join(values, ","))
				return nil
			}
			values = expanded
		}
		if len(values) == 0 {
			*unmatched = append(*unmatched, "models clause missing values")
			return nil
		}
		return []logic.Node{logic.Leaf("models", logic.Params{"names": values})}
	case "tags":
		values := filterAllowed(clauseValues(clause), allow.Tags)
		if len(values) == 0 {
			*unmatched = append(*unmatched, "ignored tag values: "+strings.Join(clauseValues(clause), ","))
			return nil
		}
		return []logic.Node{logic.Leaf("tags", logic.Params{"tags": values})}
	case "templates":
		values := filterAllowed(clauseValues(clause), allow.Templates)
		if len(values) == 0 {
			*unmatched = append(*unmatched, "ignored template values: "+strings.Join(clauseValues(clause), ","))
			return nil
		}
		return []logic.Node{logic.Leaf("templates", logic.Params{"templates": values})}
	case "languages":
		values := clauseValues(clause)
		if len(values) == 0 {
			*unmatched = append(*unmatched, "Languages clause missing language codes")
			return nil
		}
		field := clause.Field
		if field == "" {
			field = "any"
		}
		return []logic.Node{logic.Leaf("languages", logic.Params{"field": field, "codes": values})}
	case "metadata":
		key := clause.Key
		if key == "" && len(clause.Values) > 0 {
			key = clause.Values[0]
		}
		value := clause.Value
		if value == nil && len(clause.Values) > 1 {
			value = clause.Values[1]
		}
		if key == "" || value == nil {
			*unmatched = append(*unmatched, "Metadata clause requires both key and value")
			return nil
		}
		return []logic.Node{logic.Leaf("metadata", logic.Params{"key": key, "value": value})}
	case "users":
		values := clauseValues(clause)
		if len(values) == 0 {
			*unmatched = append(*unmatched, "Users clause missing identifiers")
			return nil
		}
		return []logic.Node{logic.Leaf("users", logic.Params{"users": values})}
	case "pii":
		flag := clause.Flag
		if flag == "" {
			flag = firstValue(clause)
		}
		matchType := "contains"
		if flag == "false" {
			matchType = "notcontains"
		}
		field := clause.Field
		if field == "" {
			field = "any"
		}
		return []logic.Node{logic.Leaf("pii", logic.Params{"field": field, "type": matchType})}
	case "toxicity":
		field := clause.Field
		if field == "" {
			field = clause.Flag
		}
		if field == "" {
			field = "output"
		}
		return []logic.Node{logic.Leaf("toxicity", logic.Params{"field": field, "type": "contains"})}
	default:
		if _, ok := registry.Lookup(clause.ID); !ok {
			*unmatched = append(*unmatched, "Unsupported filter id: "+clause.ID)
		} else {
			*unmatched = append(*unmatched, "No compiler implemented for "+clause.ID)
		}
		return nil
	}
}

// compileNumeric handles gt/lt/gte/lte/eq/neq clauses and expands
// between ranges into AND(gt lo, lt hi) so every leaf keeps the existing
// single-operator check shape.
func compileNumeric(clause Clause, unmatched *[]string, checkID, valueKey string, convertUnit bool) []logic.Node {
	op := normalizeComparison(clause.Op, "gt")
	label := strings.ToUpper(checkID[:1]) + checkID[1:]

	if op == "between" {
		if len(clause.Range) != 2 {
			*unmatched = append(*unmatched, label+" range missing bounds")
			return nil
		}
		lo, hi := clause.Range[0], clause.Range[1]
		if lo > hi {
			lo, hi = hi, lo
		}
		if convertUnit {
			lo = toSeconds(lo, clause.Unit)
			hi = toSeconds(hi, clause.Unit)
		}
		return []logic.Node{logic.And(
			logic.Leaf(checkID, logic.Params{"operator": "gt", valueKey: lo}),
			logic.Leaf(checkID, logic.Params{"operator": "lt", valueKey: hi}),
		)}
	}

	value, ok := numericValue(clause.Value)
	if !ok {
		*unmatched = append(*unmatched, label+" clause missing numeric value")
		return nil
	}
	if convertUnit {
		value = toSeconds(value, clause.Unit)
	}
	return []logic.Node{logic.Leaf(checkID, logic.Params{"operator": op, valueKey: value})}
}

func compileDate(clause Clause, unmatched *[]string) []logic.Node {
	op := normalizeComparison(clause.Op, "gt")
	if op == "between" {
		bounds, ok := clause.ISO.([]any)
		if !ok || len(bounds) != 2 {
			*unmatched = append(*unmatched, "Date between clause missing ISO range")
			return nil
		}
		start, okStart := bounds[0].(string)
		end, okEnd := bounds[1].(string)
		if !okStart || !okEnd {
			*unmatched = append(*unmatched, "Date range contains invalid ISO values")
			return nil
		}
		return []logic.Node{logic.And(
			logic.Leaf("date", logic.Params{"operator": "gt", "date": start}),
			logic.Leaf("date", logic.Params{"operator": "lt", "date": end}),
		)}
	}

	iso, _ := clause.ISO.(string)
	if iso == "" {
		iso, _ = clause.Value.(string)
	}
	if iso == "" {
		*unmatched = append(*unmatched, "Date clause missing ISO value")
		return nil
	}
	return []logic.Node{logic.Leaf("date", logic.Params{"operator": op, "date": iso})}
}

func normalizeComparison(op, fallback string) string {
	switch strings.ToLower(op) {
	case "gt", "greater", "greater_than", "greaterthan", "more", "over", "after":
		return "gt"
	case "lt", "less", "less_than", "lessthan", "under", "before":
		return "lt"
	case "eq", "equals", "equal", "==":
		return "eq"
	case "neq", "not", "not_equal", "notequal", "!=":
		return "neq"
	case "gte", "atleast", "at_least", "minimum", ">=":
		return "gte"
	case "lte", "atmost", "at_most", "maximum", "<=":
		return "lte"
	case "between":
		return "between"
	default:
		return fallback
	}
}

func toSeconds(value float64, unit string) float64 {
	switch unit {
	case "ms":
		return value / 1000
	case "minutes":
		return value * 60
	case "hours":
		return value * 3600
	case "days":
		return value * 86400
	default: // seconds
		return value
	}
}

func numericValue(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func clauseValues(clause Clause) []string {
	if len(clause.Values) > 0 {
		return clause.Values
	}
	if clause.Value != nil {
		return []string{fmt.Sprint(clause.Value)}
	}
	return nil
}

func firstValue(clause Clause) string {
	if len(clause.Values) > 0 {
		return clause.Values[0]
	}
	if s, ok := clause.Value.(string); ok {
		return s
	}
	return ""
}

func normalizeThumb(raw string) string {
	lowered := strings.ToLower(raw)
	switch {
	case strings.Contains(lowered, "down"), strings.Contains(lowered, "negative"):
		return "down"
	case strings.Contains(lowered, "up"), strings.Contains(lowered, "positive"):
		return "up"
	case strings.Contains(lowered, "null"), strings.Contains(lowered, "neutral"):
		return "null"
	default:
		return ""
	}
}

// feedbackTokens builds one serialized {"thumb": ...} token per
// requested thumb value, matching the persisted feedback document shape.
func feedbackTokens(clause Clause) []string {
	seen := map[string]bool{}
	var thumbs []string
	add := func(thumb string) {
		if thumb != "" && !seen[thumb] {
			seen[thumb] = true
			thumbs = append(thumbs, thumb)
		}
	}
	for _, thumb := range clause.Thumbs {
		add(normalizeThumb(thumb))
	}
	for _, value := range clause.Values {
		add(normalizeThumb(value))
	}
	if s, ok := clause.Value.(string); ok {
		add(normalizeThumb(s))
	}

	tokens := make([]string, 0, len(thumbs))
	for _, thumb := range thumbs {
		var token []byte
		if thumb == "null" {
			token, _ = json.Marshal(map[string]any{"thumb": nil})
		} else {
			token, _ = json.Marshal(map[string]string{"thumb": thumb})
		}
		tokens = append(tokens, string(token))
	}
	return tokens
}

// expandModels resolves requested model names against the project's
// known models: exact matches keep the canonical casing, partial matches
// expand to every model of that family, anything else is dropped.
func expandModels(values, allowed []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, value := range values {
		normalized := strings.ToLower(value)
		matchedExact := false
		for _, candidate := range allowed {
			if strings.ToLower(candidate) == normalized {
				if !seen[candidate] {
					seen[candidate] = true
					out = append(out, candidate)
				}
				matchedExact = true
				break
			}
		}
		if matchedExact {
			continue
		}
		for _, candidate := range allowed {
			if strings.Contains(strings.ToLower(candidate), normalized) && !seen[candidate] {
				seen[candidate] = true
				out = append(out, candidate)
			}
		}
	}
	return out
}

func filterAllowed(values, allowed []string) []string {
	if len(allowed) == 0 {
		return values
	}
	var out []string
	for _, value := range values {
		for _, candidate := range allowed {
			if value == candidate {
				out = append(out, value)
				break
			}
		}
	}
	return out
}
