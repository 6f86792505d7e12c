// Package expression models the host-side structured query as an immutable
// boolean expression tree of comparisons joined by AND/OR composites.
package expression

import (
	"errors"
	"fmt"
	"strings"
)

// Operator is a comparison operator as emitted by the host query builder.
type Operator string

// Supported comparison operators. Negated forms are translated by wrapping
// the positive form, see Operator.Positive.
const (
	EQ          Operator = "="
	NEQ         Operator = "<>"
	IN          Operator = "IN"
	NIN         Operator = "NOT IN"
	LIKE        Operator = "LIKE"
	NotLike     Operator = "NOT LIKE"
	Contains    Operator = "CONTAINS"
	NotContains Operator = "NOT CONTAINS"
	Exists      Operator = "EXISTS"
	NotExists   Operator = "NOT EXISTS"
	GT          Operator = ">"
	GTE         Operator = ">="
	LT          Operator = "<"
	LTE         Operator = "<="
)

var negations = map[Operator]Operator{
	NEQ:         EQ,
	NIN:         IN,
	NotLike:     LIKE,
	NotContains: Contains,
	NotExists:   Exists,
}

var known = map[Operator]bool{
	EQ: true, NEQ: true, IN: true, NIN: true, LIKE: true, NotLike: true,
	Contains: true, NotContains: true, Exists: true, NotExists: true,
	GT: true, GTE: true, LT: true, LTE: true,
}

// ParseOperator normalizes a raw operator string. Unknown operators fall back
// to EQ; the second return value reports whether the operator was recognized.
func ParseOperator(raw string) (Operator, bool) {
	op := Operator(strings.ToUpper(strings.Join(strings.Fields(raw), " ")))
	switch op {
	case "==":
		return EQ, true
	case "!=":
		return NEQ, true
	case "NIN":
		return NIN, true
	case "NOT_EXISTS":
		return NotExists, true
	}
	if known[op] {
		return op, true
	}
	return EQ, false
}

// IsNegated reports whether the operator is the negation of another operator.
func (o Operator) IsNegated() bool {
	_, ok := negations[o]
	return ok
}

// Positive returns the non-negated form of the operator.
func (o Operator) Positive() Operator {
	if p, ok := negations[o]; ok {
		return p
	}
	return o
}

// IsTextMatch reports whether the operator performs full-text matching.
func (o Operator) IsTextMatch() bool {
	return o == LIKE || o == Contains
}

// Kind is the boolean connective of a composite expression.
type Kind string

const (
	And Kind = "AND"
	Or  Kind = "OR"
)

// Expression is a node of the filter expression tree. The concrete node types
// are *Comparison and *Composite.
type Expression interface {
	String() string
}

// Comparison is a leaf of the expression tree.
type Comparison struct {
	Field    string
	Operator Operator
	// Value is nil, a scalar (string, bool, int, float64) or a []any.
	Value any
}

// NewComparison builds a comparison leaf.
func NewComparison(field string, op Operator, value any) *Comparison {
	return &Comparison{Field: field, Operator: op, Value: value}
}

func (c *Comparison) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Value)
}

// Values returns the comparison value as a list. A scalar becomes a
// single-element list and nil becomes an empty list.
func (c *Comparison) Values() []any {
	switch v := c.Value.(type) {
	case nil:
		return nil
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	case []int:
		out := make([]any, len(v))
		for i := range v {
			out[i] = v[i]
		}
		return out
	default:
		return []any{v}
	}
}

// ErrEmptyComposite is returned when a composite is built without children.
var ErrEmptyComposite = errors.New("composite expression requires at least one child")

// Composite joins child expressions with AND or OR. Children keep their order.
type Composite struct {
	Kind     Kind
	Children []Expression
}

// NewComposite builds a composite node.
func NewComposite(kind Kind, children ...Expression) (*Composite, error) {
	if len(children) == 0 {
		return nil, ErrEmptyComposite
	}
	if kind != And && kind != Or {
		return nil, fmt.Errorf("unknown composite kind %q", kind)
	}
	return &Composite{Kind: kind, Children: children}, nil
}

// AndX is a convenience constructor that panics on an empty child list.
func AndX(children ...Expression) *Composite {
	c, err := NewComposite(And, children...)
	if err != nil {
		panic(err)
	}
	return c
}

// OrX is a convenience constructor that panics on an empty child list.
func OrX(children ...Expression) *Composite {
	c, err := NewComposite(Or, children...)
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Composite) String() string {
	parts := make([]string, len(c.Children))
	for i, child := range c.Children {
		parts[i] = child.String()
	}
	return "(" + strings.Join(parts, " "+string(c.Kind)+" ") + ")"
}
