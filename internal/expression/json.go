package expression

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// node is the wire shape of an expression:
//
//	{"and": [...]} | {"or": [...]} | {"field": "...", "op": "...", "value": ...}
type node struct {
	And   []json.RawMessage `json:"and,omitempty"`
	Or    []json.RawMessage `json:"or,omitempty"`
	Field string            `json:"field,omitempty"`
	Op    string            `json:"op,omitempty"`
	Value any               `json:"value,omitempty"`
}

// Decode parses the JSON representation of an expression tree. A null or
// empty document decodes to a nil expression.
func Decode(data []byte) (Expression, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}

	var n node
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("decode expression: %w", err)
	}

	switch {
	case n.And != nil:
		return decodeComposite(And, n.And)
	case n.Or != nil:
		return decodeComposite(Or, n.Or)
	case n.Field != "":
		op, _ := ParseOperator(n.Op)
		return NewComparison(n.Field, op, normalize(n.Value)), nil
	default:
		return nil, fmt.Errorf("decode expression: node has neither field nor and/or children")
	}
}

func decodeComposite(kind Kind, raw []json.RawMessage) (Expression, error) {
	children := make([]Expression, 0, len(raw))
	for _, r := range raw {
		child, err := Decode(r)
		if err != nil {
			return nil, err
		}
		if child != nil {
			children = append(children, child)
		}
	}
	c, err := NewComposite(kind, children...)
	if err != nil {
		return nil, fmt.Errorf("decode expression: %w", err)
	}
	return c, nil
}

// normalize turns json.Number into int64 or float64 so translator coercion
// sees plain Go scalars.
func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalize(t[i])
		}
		return out
	default:
		return v
	}
}
