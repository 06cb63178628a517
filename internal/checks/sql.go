package checks

import (
	"fmt"

	"runlens-backend/internal/logic"
)

// comparisonOperator maps the stored operator tokens to SQL. Unknown
// tokens are compilation errors, never silently degraded.
func comparisonOperator(op string) (string, error) {
	switch op {
	case "gt":
		return ">", nil
	case "gte":
		return ">=", nil
	case "lt":
		return "<", nil
	case "lte":
		return "<=", nil
	case "eq":
		return "=", nil
	case "neq":
		return "!=", nil
	default:
		return "", fmt.Errorf("unsupported operator: %s", op)
	}
}

func typeSQL(params logic.Params) (logic.Fragment, error) {
	runType, err := paramString(params, "type")
	if err != nil {
		return logic.Fragment{}, err
	}
	if runType == "trace" {
		// top-level agent/chain runs count as traces
		return logic.Fragment{Expr: "(type in ('agent','chain') and parent_run_id is null)"}, nil
	}
	return logic.Fragment{Expr: "type = ?", Args: []any{runType}}, nil
}

func modelsSQL(params logic.Params) (logic.Fragment, error) {
	names, err := paramStrings(params, "names")
	if err != nil {
		return logic.Fragment{}, err
	}
	return logic.Fragment{Expr: "name = any(?)", Args: []any{names}}, nil
}

func tagsSQL(params logic.Params) (logic.Fragment, error) {
	tags, err := paramStrings(params, "tags")
	if err != nil {
		return logic.Fragment{}, err
	}
	return logic.Fragment{Expr: "tags && ?", Args: []any{tags}}, nil
}

func statusSQL(params logic.Params) (logic.Fragment, error) {
	status, err := paramString(params, "status")
	if err != nil {
		return logic.Fragment{}, err
	}
	return logic.Fragment{Expr: "status = ?", Args: []any{status}}, nil
}

func usersSQL(params logic.Params) (logic.Fragment, error) {
	users, err := paramStrings(params, "users")
	if err != nil {
		return logic.Fragment{}, err
	}
	return logic.Fragment{Expr: "external_user_id = any(?)", Args: []any{users}}, nil
}

func templatesSQL(params logic.Params) (logic.Fragment, error) {
	ids, err := paramStrings(params, "templates")
	if err != nil {
		return logic.Fragment{}, err
	}
	return logic.Fragment{Expr: "template_version_id = any(?)", Args: []any{ids}}, nil
}

func dateSQL(params logic.Params) (logic.Fragment, error) {
	op, err := paramString(params, "operator")
	if err != nil {
		return logic.Fragment{}, err
	}
	sqlOp, err := comparisonOperator(op)
	if err != nil {
		return logic.Fragment{}, err
	}
	date, err := paramString(params, "date")
	if err != nil {
		return logic.Fragment{}, err
	}
	return logic.Fragment{Expr: "created_at " + sqlOp + " ?::timestamptz", Args: []any{date}}, nil
}

func durationSQL(params logic.Params) (logic.Fragment, error) {
	op, err := paramString(params, "operator")
	if err != nil {
		return logic.Fragment{}, err
	}
	sqlOp, err := comparisonOperator(op)
	if err != nil {
		return logic.Fragment{}, err
	}
	duration, err := paramNumber(params, "duration")
	if err != nil {
		return logic.Fragment{}, err
	}
	return logic.Fragment{Expr: "duration " + sqlOp + " ? * interval '1 second'", Args: []any{duration}}, nil
}

func costSQL(params logic.Params) (logic.Fragment, error) {
	op, err := paramString(params, "operator")
	if err != nil {
		return logic.Fragment{}, err
	}
	sqlOp, err := comparisonOperator(op)
	if err != nil {
		return logic.Fragment{}, err
	}
	cost, err := paramNumber(params, "cost")
	if err != nil {
		return logic.Fragment{}, err
	}
	return logic.Fragment{Expr: "cost " + sqlOp + " ?", Args: []any{cost}}, nil
}

func tokensSQL(params logic.Params) (logic.Fragment, error) {
	op, err := paramString(params, "operator")
	if err != nil {
		return logic.Fragment{}, err
	}
	sqlOp, err := comparisonOperator(op)
	if err != nil {
		return logic.Fragment{}, err
	}
	tokens, err := paramNumber(params, "tokens")
	if err != nil {
		return logic.Fragment{}, err
	}
	field := paramStringDefault(params, "field", "total")
	switch field {
	case "total":
		return logic.Fragment{Expr: "prompt_tokens + completion_tokens " + sqlOp + " ?", Args: []any{tokens}}, nil
	case "prompt", "completion":
		return logic.Fragment{Expr: field + "_tokens " + sqlOp + " ?", Args: []any{tokens}}, nil
	default:
		return logic.Fragment{}, fmt.Errorf("unsupported tokens field: %s", field)
	}
}

func textColumn(field string) (string, error) {
	switch field {
	case "input", "output", "error":
		return field + "_text", nil
	default:
		return "", fmt.Errorf("unsupported field: %s", field)
	}
}

func lengthSQL(params logic.Params) (logic.Fragment, error) {
	op, err := paramString(params, "operator")
	if err != nil {
		return logic.Fragment{}, err
	}
	sqlOp, err := comparisonOperator(op)
	if err != nil {
		return logic.Fragment{}, err
	}
	length, err := paramNumber(params, "length")
	if err != nil {
		return logic.Fragment{}, err
	}
	column, err := textColumn(paramStringDefault(params, "field", "output"))
	if err != nil {
		return logic.Fragment{}, err
	}
	return logic.Fragment{Expr: "length(" + column + ") " + sqlOp + " ?", Args: []any{length}}, nil
}

func stringSQL(params logic.Params) (logic.Fragment, error) {
	text, err := paramString(params, "text")
	if err != nil {
		return logic.Fragment{}, err
	}
	matchType := paramStringDefault(params, "type", "contains")
	sensitive := paramStringDefault(params, "sensitive", "false") == "true"

	operator := "ILIKE"
	if sensitive {
		operator = "LIKE"
	}

	var pattern string
	switch matchType {
	case "contains":
		pattern = "%" + text + "%"
	case "notcontains":
		operator = "NOT " + operator
		pattern = "%" + text + "%"
	case "starts":
		pattern = text + "%"
	case "ends":
		pattern = "%" + text
	default:
		return logic.Fragment{}, fmt.Errorf("unsupported string match type: %s", matchType)
	}

	column := "input_text || output_text"
	switch paramStringDefault(params, "fields", "any") {
	case "input":
		column = "input_text"
	case "output":
		column = "output_text"
	}
	return logic.Fragment{Expr: column + " " + operator + " ?", Args: []any{pattern}}, nil
}

func searchSQL(params logic.Params) (logic.Fragment, error) {
	query, err := paramString(params, "query")
	if err != nil {
		return logic.Fragment{}, err
	}
	pattern := "%" + query + "%"
	return logic.Fragment{
		Expr: "(input_text ILIKE ? or output_text ILIKE ? or error_text ILIKE ?)",
		Args: []any{pattern, pattern, pattern},
	}, nil
}

// feedbackSQL matches any of the serialized thumb tokens, e.g.
// {"thumb":"up"}, against the run's feedback document.
func feedbackSQL(params logic.Params) (logic.Fragment, error) {
	types, err := paramStrings(params, "types")
	if err != nil {
		return logic.Fragment{}, err
	}
	if len(types) == 0 {
		return logic.Fragment{}, fmt.Errorf("feedback check needs at least one value")
	}
	frags := make([]logic.Fragment, 0, len(types))
	for _, token := range types {
		frags = append(frags, logic.Fragment{Expr: "feedback @> ?::jsonb", Args: []any{token}})
	}
	return logic.Join(logic.OpOr, frags), nil
}

func metadataSQL(params logic.Params) (logic.Fragment, error) {
	key, err := paramString(params, "key")
	if err != nil {
		return logic.Fragment{}, err
	}
	value, ok := params["value"]
	if !ok {
		return logic.Fragment{}, fmt.Errorf("missing param %q", "value")
	}
	return logic.Fragment{Expr: "metadata->>? = ?", Args: []any{key, fmt.Sprint(value)}}, nil
}

// radarSQL matches runs that passed any of the referenced radars.
func radarSQL(params logic.Params) (logic.Fragment, error) {
	ids, err := paramStrings(params, "ids")
	if err != nil {
		return logic.Fragment{}, err
	}
	return logic.Fragment{
		Expr: "exists (select 1 from radar_result rr where rr.run_id = run.id and rr.passed = true and rr.radar_id = any(?))",
		Args: []any{ids},
	}, nil
}
