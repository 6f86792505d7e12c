package translator

// Filter is one node of the Gally filter DSL, ready to be marshaled into the
// GraphQL "filter" argument. Key names are part of the wire contract.
type Filter map[string]any

// Wire keys of the Gally filter grammar.
const (
	KeyBool   = "boolFilter"
	KeyEqual  = "equalFilter"
	KeyMatch  = "matchFilter"
	KeyRange  = "rangeFilter"
	KeyMust   = "_must"
	KeyShould = "_should"
	KeyNot    = "_not"

	CondEq    = "eq"
	CondIn    = "in"
	CondMatch = "match"
	CondGTE   = "gte"
	CondLTE   = "lte"
	CondGT    = "gt"
	CondLT    = "lt"
)

// Bool wraps the given filters in a boolFilter under the given clause
// (KeyMust, KeyShould or KeyNot).
func Bool(clause string, filters ...Filter) Filter {
	list := make([]Filter, len(filters))
	copy(list, filters)
	return Filter{KeyBool: Filter{clause: list}}
}

// IsBool reports whether the filter is a single boolFilter wrapper.
func (f Filter) IsBool() bool {
	_, ok := f[KeyBool]
	return ok && len(f) == 1
}

// Dialect renders leaf filters. Gally exposes two input shapes: product
// queries key conditions by field name, document queries key them by filter
// type and carry the field inside.
type Dialect interface {
	Name() string
	// KeysByField reports whether leaves are keyed by field name, which
	// lets sibling leaves share one map.
	KeysByField() bool
	Equal(field, cond string, value any) Filter
	Match(field string, value any) Filter
	Range(field, cond string, value any) Filter
}

// ProductDialect renders ProductFieldFilterInput leaves:
//
//	{"price__price": {"gte": 10}}
type ProductDialect struct{}

func (ProductDialect) Name() string { return "product" }

func (ProductDialect) KeysByField() bool { return true }

func (ProductDialect) Equal(field, cond string, value any) Filter {
	return Filter{field: Filter{cond: value}}
}

func (ProductDialect) Match(field string, value any) Filter {
	return Filter{field: Filter{CondMatch: value}}
}

func (ProductDialect) Range(field, cond string, value any) Filter {
	return Filter{field: Filter{cond: value}}
}

// DocumentDialect renders EntityFieldFilterInput leaves:
//
//	{"equalFilter": {"field": "category__id", "eq": "1"}}
type DocumentDialect struct{}

func (DocumentDialect) Name() string { return "document" }

func (DocumentDialect) KeysByField() bool { return false }

func (DocumentDialect) Equal(field, cond string, value any) Filter {
	return Filter{KeyEqual: Filter{"field": field, cond: value}}
}

func (DocumentDialect) Match(field string, value any) Filter {
	return Filter{KeyMatch: Filter{"field": field, CondMatch: value}}
}

func (DocumentDialect) Range(field, cond string, value any) Filter {
	return Filter{KeyRange: Filter{"field": field, cond: value}}
}

// DialectFor picks the wire dialect for a Gally entity type.
func DialectFor(entityType string) Dialect {
	if entityType == "product" {
		return ProductDialect{}
	}
	return DocumentDialect{}
}
