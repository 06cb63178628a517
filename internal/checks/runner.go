package checks

import (
	"context"
	"fmt"

	"runlens-backend/internal/logic"
	"runlens-backend/internal/storage"
)

// HasNonSQL reports whether any leaf in the tree needs the evaluator
// path. Only a tree with zero such leaves may be compiled to SQL.
func (r *Registry) HasNonSQL(node logic.Node) bool {
	switch node.Kind {
	case logic.KindNoop:
		return false
	case logic.KindOperator:
		for _, child := range node.Children {
			if r.HasNonSQL(child) {
				return true
			}
		}
		return false
	case logic.KindLeaf:
		def, ok := r.Lookup(node.CheckID)
		if !ok {
			return false
		}
		return def.SQL == nil && def.Evaluator != nil
	default:
		return false
	}
}

// CompileSQL flattens an all-SQL tree into one parameterized boolean
// expression. Leaves without a SQL capability are compilation errors.
func (r *Registry) CompileSQL(node logic.Node) (logic.Fragment, error) {
	if err := node.Validate(); err != nil {
		return logic.Fragment{}, err
	}
	return r.compileNode(node)
}

func (r *Registry) compileNode(node logic.Node) (logic.Fragment, error) {
	switch node.Kind {
	case logic.KindNoop:
		return logic.Fragment{Expr: "true"}, nil
	case logic.KindOperator:
		frags := make([]logic.Fragment, 0, len(node.Children))
		for _, child := range node.Children {
			frag, err := r.compileNode(child)
			if err != nil {
				return logic.Fragment{}, err
			}
			frags = append(frags, frag)
		}
		return logic.Join(node.Op, frags), nil
	case logic.KindLeaf:
		def, ok := r.Lookup(node.CheckID)
		if !ok || def.SQL == nil {
			return logic.Fragment{}, fmt.Errorf("check %q has no SQL form", node.CheckID)
		}
		frag, err := def.SQL(node.Params)
		if err != nil {
			return logic.Fragment{}, fmt.Errorf("check %q: %w", node.CheckID, err)
		}
		return frag, nil
	default:
		return logic.Fragment{}, fmt.Errorf("unknown node kind %d", node.Kind)
	}
}

// RunMatcher tests a compiled fragment against one run. The storage
// repository implements it with a single-row existence query.
type RunMatcher interface {
	MatchRun(ctx context.Context, runID string, frag logic.Fragment) (bool, error)
}

// Runner interprets a tree against one materialized run, mixing SQL
// existence tests and in-process evaluators.
type Runner struct {
	Registry *Registry
	Matcher  RunMatcher
}

func NewRunner(registry *Registry, matcher RunMatcher) *Runner {
	return &Runner{Registry: registry, Matcher: matcher}
}

// Evaluate walks the tree left-to-right with short-circuit semantics:
// OR returns on the first passing child, AND on the first failing one.
// Children are never evaluated concurrently so the order of evaluator
// side effects stays deterministic.
func (ru *Runner) Evaluate(ctx context.Context, run *storage.Run, node logic.Node) (logic.Result, error) {
	switch node.Kind {
	case logic.KindNoop:
		return logic.Result{Passed: true}, nil
	case logic.KindOperator:
		if node.Op == logic.OpOr {
			results := make([]logic.Result, 0, len(node.Children))
			for _, child := range node.Children {
				res, err := ru.Evaluate(ctx, run, child)
				if err != nil {
					return logic.Result{}, err
				}
				if res.Passed {
					return logic.Result{Passed: true, Details: []logic.Result{res}}, nil
				}
				results = append(results, res)
			}
			return logic.Result{Passed: false, Details: results}, nil
		}
		results := make([]logic.Result, 0, len(node.Children))
		for _, child := range node.Children {
			res, err := ru.Evaluate(ctx, run, child)
			if err != nil {
				return logic.Result{}, err
			}
			results = append(results, res)
			if !res.Passed {
				return logic.Result{Passed: false, Details: results}, nil
			}
		}
		return logic.Result{Passed: true, Details: results}, nil
	case logic.KindLeaf:
		return ru.evaluateLeaf(ctx, run, node)
	default:
		return logic.Result{}, fmt.Errorf("unknown node kind %d", node.Kind)
	}
}

func (ru *Runner) evaluateLeaf(ctx context.Context, run *storage.Run, node logic.Node) (logic.Result, error) {
	def, ok := ru.Registry.Lookup(node.CheckID)
	if !ok || (def.SQL == nil && def.Evaluator == nil) {
		// Permissive default: unknown or capability-less checks pass.
		return logic.Result{Passed: true}, nil
	}
	if def.SQL != nil {
		frag, err := def.SQL(node.Params)
		if err != nil {
			return logic.Result{}, fmt.Errorf("check %q: %w", node.CheckID, err)
		}
		passed, err := ru.Matcher.MatchRun(ctx, run.ID, frag)
		if err != nil {
			return logic.Result{}, fmt.Errorf("check %q: %w", node.CheckID, err)
		}
		return logic.Result{Passed: passed, FilterID: node.CheckID}, nil
	}
	outcome, err := def.Evaluator(ctx, run, node.Params)
	if err != nil {
		return logic.Result{}, fmt.Errorf("check %q: %w", node.CheckID, err)
	}
	return logic.Result{
		Passed:   outcome.Passed,
		FilterID: node.CheckID,
		Reason:   outcome.Reason,
		Details:  outcome.Details,
	}, nil
}
