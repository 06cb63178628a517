package logic

import (
	"encoding/json"
	"fmt"
)

// leafJSON is the persisted object shape of a leaf element.
type leafJSON struct {
	ID     string `json:"id"`
	Params Params `json:"params"`
}

// Parse decodes the persisted array-of-arrays tree shape and validates it.
func Parse(data []byte) (Node, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Node{}, fmt.Errorf("parse check logic: %w", err)
	}
	node, err := parseElement(raw)
	if err != nil {
		return Node{}, err
	}
	if err := node.Validate(); err != nil {
		return Node{}, err
	}
	return node, nil
}

func parseElement(raw json.RawMessage) (Node, error) {
	if len(raw) == 0 {
		return Node{}, fmt.Errorf("empty logic element")
	}
	switch raw[0] {
	case '"':
		var op string
		if err := json.Unmarshal(raw, &op); err != nil {
			return Node{}, err
		}
		if op != OpAnd && op != OpOr {
			return Node{}, fmt.Errorf("unknown logic operator %q", op)
		}
		return Node{Kind: KindNoop, Op: op}, nil
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(raw, &elems); err != nil {
			return Node{}, err
		}
		if len(elems) == 0 {
			return Node{}, fmt.Errorf("empty logic array")
		}
		var op string
		if err := json.Unmarshal(elems[0], &op); err != nil || (op != OpAnd && op != OpOr) {
			return Node{}, fmt.Errorf("logic array must start with AND or OR")
		}
		if len(elems) == 1 {
			return Node{}, errEmptyOperator
		}
		children := make([]Node, 0, len(elems)-1)
		for _, elem := range elems[1:] {
			child, err := parseElement(elem)
			if err != nil {
				return Node{}, err
			}
			children = append(children, child)
		}
		return Node{Kind: KindOperator, Op: op, Children: children}, nil
	case '{':
		var leaf leafJSON
		if err := json.Unmarshal(raw, &leaf); err != nil {
			return Node{}, err
		}
		if leaf.ID == "" {
			return Node{}, fmt.Errorf("leaf element missing id")
		}
		if leaf.Params == nil {
			leaf.Params = Params{}
		}
		return Node{Kind: KindLeaf, CheckID: leaf.ID, Params: leaf.Params}, nil
	default:
		return Node{}, fmt.Errorf("unexpected logic element %s", string(raw))
	}
}

// MarshalJSON writes the same array shape back out, so trees round-trip
// byte-compatibly with what the dashboard and older rows store.
func (n Node) MarshalJSON() ([]byte, error) {
	switch n.Kind {
	case KindNoop:
		return json.Marshal(n.Op)
	case KindLeaf:
		return json.Marshal(leafJSON{ID: n.CheckID, Params: n.Params})
	case KindOperator:
		elems := make([]any, 0, len(n.Children)+1)
		elems = append(elems, n.Op)
		for _, child := range n.Children {
			elems = append(elems, child)
		}
		return json.Marshal(elems)
	default:
		return nil, fmt.Errorf("unknown node kind %d", n.Kind)
	}
}

// UnmarshalJSON accepts the persisted shape without validation; callers
// loading untrusted trees should Validate afterwards (Parse does both).
func (n *Node) UnmarshalJSON(data []byte) error {
	node, err := parseElement(data)
	if err != nil {
		return err
	}
	*n = node
	return nil
}
