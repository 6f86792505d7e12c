// Package translator rewrites host filter expressions into the Gally filter
// DSL and extracts the free-text search query from them.
package translator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/utafrali/gally-search/internal/expression"
)

// ErrUnknownExpression is returned for expression node types the visitor
// cannot dispatch. It indicates a host/translator mismatch and is not retried.
var ErrUnknownExpression = errors.New("unknown expression node")

// ErrUnmappedComparison is returned for comparisons on mapped fields
// (inventory status, customer visibility) whose operator or value has no
// Gally equivalent.
var ErrUnmappedComparison = errors.New("unmapped comparison")

// Translator holds the static configuration of a translation. It is safe for
// concurrent use; every call to Translate runs on its own Visitor.
type Translator struct {
	dialect        Dialect
	aliases        map[string]string
	assignPrefixes []string
}

// Option configures a Translator.
type Option func(*Translator)

// WithDialect selects the leaf rendering (product or document).
func WithDialect(d Dialect) Option {
	return func(t *Translator) { t.dialect = d }
}

// WithAliases replaces the attribute alias table.
func WithAliases(aliases map[string]string) Option {
	return func(t *Translator) { t.aliases = aliases }
}

// WithAssignPrefixes replaces the list of dotted assign-id field prefixes.
func WithAssignPrefixes(prefixes ...string) Option {
	return func(t *Translator) { t.assignPrefixes = prefixes }
}

// New creates a Translator. Defaults: product dialect, DefaultAliases,
// DefaultAssignPrefixes.
func New(opts ...Option) *Translator {
	t := &Translator{
		dialect:        ProductDialect{},
		aliases:        DefaultAliases(),
		assignPrefixes: DefaultAssignPrefixes,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Result is the outcome of translating one expression tree.
type Result struct {
	// Filter is nil when the expression carries no restriction.
	Filter Filter
	// SearchQuery is the free-text query extracted from all_text comparisons.
	SearchQuery string
}

// Translate converts expr, treated as the root of the query, into a filter.
func (t *Translator) Translate(expr expression.Expression) (*Result, error) {
	v := t.Visitor()
	f, err := v.Dispatch(expr, true)
	if err != nil {
		return nil, err
	}
	return &Result{Filter: f, SearchQuery: v.SearchQuery()}, nil
}

// Visitor returns a fresh visitor for a single translation pass.
func (t *Translator) Visitor() *Visitor {
	return &Visitor{t: t}
}

// Visitor walks one expression tree. It records the search query side
// channel and must not be shared between passes.
type Visitor struct {
	t           *Translator
	searchQuery string
}

// SearchQuery returns the value of the last all_text text-match seen.
func (v *Visitor) SearchQuery() string {
	return v.searchQuery
}

// Dispatch translates expr. isRoot marks the top of the tree (or an AND chain
// directly under it), where AND composites are stitched into a flat map when
// the dialect keys leaves by field name.
// A nil filter means the node imposes no restriction.
func (v *Visitor) Dispatch(expr expression.Expression, isRoot bool) (Filter, error) {
	switch e := expr.(type) {
	case nil:
		return nil, nil
	case *expression.Comparison:
		return v.walkComparison(e, false)
	case *expression.Composite:
		return v.walkComposite(e, isRoot)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownExpression, expr)
	}
}

func (v *Visitor) walkComposite(c *expression.Composite, isRoot bool) (Filter, error) {
	childRoot := isRoot && c.Kind == expression.And

	parts := make([]Filter, 0, len(c.Children))
	for _, child := range c.Children {
		f, err := v.Dispatch(child, childRoot)
		if err != nil {
			return nil, err
		}
		if f != nil {
			parts = append(parts, f)
		}
	}

	if len(parts) == 0 {
		return nil, nil
	}
	if isRoot && c.Kind == expression.And {
		if v.t.dialect.KeysByField() {
			return stitch(parts), nil
		}
		if len(parts) == 1 {
			return parts[0], nil
		}
		return Bool(KeyMust, parts...), nil
	}
	if c.Kind == expression.Or {
		return Bool(KeyShould, parts...), nil
	}
	return Bool(KeyMust, parts...), nil
}

// stitch merges root AND operands into one map. Field keys colliding across
// operands keep the last value; boolFilter operands are combined under _must.
func stitch(parts []Filter) Filter {
	out := Filter{}
	for _, part := range parts {
		for key, val := range part {
			if key == KeyBool {
				if prev, ok := out[KeyBool]; ok {
					out[KeyBool] = Filter{KeyMust: []Filter{
						{KeyBool: prev},
						{KeyBool: val},
					}}
					continue
				}
			}
			out[key] = val
		}
	}
	return out
}

func (v *Visitor) walkComparison(c *expression.Comparison, negated bool) (Filter, error) {
	if c.Operator.IsNegated() {
		positive := expression.NewComparison(c.Field, c.Operator.Positive(), c.Value)
		f, err := v.walkComparison(positive, true)
		if err != nil || f == nil {
			return nil, err
		}
		return Bool(KeyNot, f), nil
	}

	typ, field := SplitFieldType(c.Field)
	if alias, ok := v.t.aliases[field]; ok {
		field = alias
	}
	d := v.t.dialect
	op := c.Operator

	switch {
	case field == FieldAllText && op.IsTextMatch() && !negated:
		v.searchQuery = stringify(c.Value)
		return nil, nil

	case field == FieldInventoryStatus:
		return v.inventoryStatus(c)

	case strings.HasPrefix(field, FieldVisibilityCustomer+"."):
		return v.customerVisibility(field, c)
	}

	if base, id, ok := v.assignID(field); ok && op == expression.Exists {
		return d.Equal(base, CondIn, id), nil
	}

	values := c.Values()
	if strings.HasPrefix(field, FieldCategoryID) && op == expression.IN && len(values) > 1 {
		should := make([]Filter, len(values))
		for i, val := range values {
			should[i] = d.Equal(field, CondEq, stringify(val))
		}
		return Bool(KeyShould, should...), nil
	}

	switch op {
	case expression.IN:
		in := make([]any, len(values))
		for i, val := range values {
			if typ == TypeBool {
				in[i] = truthy(val)
			} else {
				in[i] = stringify(val)
			}
		}
		return d.Equal(field, CondIn, in), nil
	case expression.LIKE, expression.Contains:
		return d.Match(field, stringify(c.Value)), nil
	case expression.GTE:
		return d.Range(field, CondGTE, numeric(c.Value)), nil
	case expression.LTE:
		return d.Range(field, CondLTE, numeric(c.Value)), nil
	case expression.GT:
		return d.Range(field, CondGT, numeric(c.Value)), nil
	case expression.LT:
		return d.Range(field, CondLT, numeric(c.Value)), nil
	}

	if typ == TypeBool {
		return d.Equal(field, CondEq, truthy(c.Value)), nil
	}
	return d.Equal(field, CondEq, stringify(c.Value)), nil
}

// inventoryStatus maps the host inventory status enum onto the boolean
// stock__status field. Selecting both statuses is no restriction at all.
func (v *Visitor) inventoryStatus(c *expression.Comparison) (Filter, error) {
	var inStock, outOfStock bool
	for _, val := range c.Values() {
		s := stringify(val)
		if idx := strings.LastIndex(s, "."); idx >= 0 {
			s = s[idx+1:]
		}
		switch s {
		case StatusInStock:
			inStock = true
		case StatusOutOfStock:
			outOfStock = true
		}
	}
	switch {
	case inStock && outOfStock:
		return nil, nil
	case !inStock && !outOfStock:
		return nil, fmt.Errorf("%w: %s", ErrUnmappedComparison, c)
	}
	return v.t.dialect.Equal(FieldStockStatus, CondEq, inStock), nil
}

// customerVisibility translates visibility_customer.<id> comparisons into the
// visible/hidden per-customer fields. Only existence and equality with 1
// (visible) or -1 (hidden) have a translation.
func (v *Visitor) customerVisibility(field string, c *expression.Comparison) (Filter, error) {
	_, id, ok := splitPlaceholder(field)
	if ok {
		d := v.t.dialect
		switch c.Operator {
		case expression.Exists:
			return Bool(KeyShould,
				d.Equal(FieldVisibleForCustomer, CondEq, id),
				d.Equal(FieldHiddenForCustomer, CondEq, id),
			), nil
		case expression.EQ:
			switch stringify(c.Value) {
			case "1":
				return d.Equal(FieldVisibleForCustomer, CondEq, id), nil
			case "-1":
				return d.Equal(FieldHiddenForCustomer, CondEq, id), nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnmappedComparison, c)
}

func (v *Visitor) assignID(field string) (string, string, bool) {
	base, id, ok := splitPlaceholder(field)
	if !ok {
		return "", "", false
	}
	for _, prefix := range v.t.assignPrefixes {
		if base == prefix {
			return base, id, true
		}
	}
	return "", "", false
}
