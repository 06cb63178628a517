// Package logic holds the boolean check-tree data model shared by the
// compiler, evaluator and plan builder. Trees are persisted as nested
// JSON arrays: ["AND", {"id": "type", "params": {...}}, ["OR", ...]].
package logic

import (
	"errors"
	"fmt"
)

const (
	OpAnd = "AND"
	OpOr  = "OR"
)

// Kind discriminates the node variants.
type Kind int

const (
	// KindOperator is an AND/OR node over one or more children.
	KindOperator Kind = iota
	// KindLeaf references a registered check with parameters.
	KindLeaf
	// KindNoop is a bare operator string kept for compatibility with
	// persisted trees; it always passes.
	KindNoop
)

// Params carries a leaf's check parameters as decoded JSON values.
type Params map[string]any

// Node is one element of a check tree.
type Node struct {
	Kind     Kind
	Op       string // AND or OR when Kind == KindOperator
	Children []Node
	CheckID  string // set when Kind == KindLeaf
	Params   Params
}

func And(children ...Node) Node {
	return Node{Kind: KindOperator, Op: OpAnd, Children: children}
}

func Or(children ...Node) Node {
	return Node{Kind: KindOperator, Op: OpOr, Children: children}
}

func Leaf(checkID string, params Params) Node {
	if params == nil {
		params = Params{}
	}
	return Node{Kind: KindLeaf, CheckID: checkID, Params: params}
}

// MatchAll is a tree that passes every record.
func MatchAll() Node {
	return Node{Kind: KindNoop, Op: OpAnd}
}

var errEmptyOperator = errors.New("operator node has no children")

// Validate rejects structurally malformed trees before they reach the
// compiler or evaluator.
func (n Node) Validate() error {
	switch n.Kind {
	case KindOperator:
		if n.Op != OpAnd && n.Op != OpOr {
			return fmt.Errorf("unknown logic operator %q", n.Op)
		}
		if len(n.Children) == 0 {
			return errEmptyOperator
		}
		for _, child := range n.Children {
			if err := child.Validate(); err != nil {
				return err
			}
		}
		return nil
	case KindLeaf:
		if n.CheckID == "" {
			return errors.New("leaf node missing check id")
		}
		return nil
	case KindNoop:
		if n.Op != OpAnd && n.Op != OpOr {
			return fmt.Errorf("unknown logic operator %q", n.Op)
		}
		return nil
	default:
		return fmt.Errorf("unknown node kind %d", n.Kind)
	}
}

// Result is the evidence produced per leaf and per subtree. The root
// result's Details field is the full audit trail persisted alongside
// radar verdicts.
type Result struct {
	Passed   bool   `json:"passed"`
	FilterID string `json:"filterId,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Details  any    `json:"details,omitempty"`
}
