package engine

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Clause is a backend neutral view of a Gally filter. A leaf has a Field; a
// branch combines its children: all Must, at least one Should (when any)
// and none of Not.
type Clause struct {
	Must   []*Clause
	Should []*Clause
	Not    []*Clause

	Field string
	Cond  string
	Value any
}

// IsLeaf reports whether the clause tests a single field.
func (c *Clause) IsLeaf() bool {
	return c.Field != ""
}

// Values returns the leaf value as a list; scalars become a one element list.
func (c *Clause) Values() []any {
	if list, ok := c.Value.([]any); ok {
		return list
	}
	return []any{c.Value}
}

// ParseFilter reads a filter in either Gally dialect. Keys of one object are
// combined with AND, in document order. A nil filter parses to nil.
func ParseFilter(filter map[string]any) (*Clause, error) {
	if len(filter) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("encode filter: %w", err)
	}
	return parseObject(gjson.ParseBytes(data))
}

func parseObject(obj gjson.Result) (*Clause, error) {
	if !obj.IsObject() {
		return nil, fmt.Errorf("filter: expected object, got %s", obj.Raw)
	}

	out := &Clause{}
	var err error
	obj.ForEach(func(key, value gjson.Result) bool {
		var parts []*Clause
		switch key.String() {
		case "boolFilter":
			var c *Clause
			c, err = parseBool(value)
			parts = []*Clause{c}
		case "equalFilter", "matchFilter", "rangeFilter":
			parts, err = parseLeaves(value.Get("field").String(), value)
		default:
			parts, err = parseLeaves(key.String(), value)
		}
		if err != nil {
			return false
		}
		out.Must = append(out.Must, parts...)
		return true
	})
	if err != nil {
		return nil, err
	}
	if len(out.Must) == 1 {
		return out.Must[0], nil
	}
	return out, nil
}

func parseBool(value gjson.Result) (*Clause, error) {
	if !value.IsObject() {
		return nil, fmt.Errorf("boolFilter: expected object, got %s", value.Raw)
	}
	out := &Clause{}
	for clause, dst := range map[string]*[]*Clause{"_must": &out.Must, "_should": &out.Should, "_not": &out.Not} {
		for _, item := range value.Get(clause).Array() {
			c, err := parseObject(item)
			if err != nil {
				return nil, err
			}
			*dst = append(*dst, c)
		}
	}
	return out, nil
}

func parseLeaves(field string, conds gjson.Result) ([]*Clause, error) {
	if field == "" {
		return nil, fmt.Errorf("filter: leaf without field: %s", conds.Raw)
	}
	if !conds.IsObject() {
		return nil, fmt.Errorf("filter %s: expected conditions object, got %s", field, conds.Raw)
	}
	var out []*Clause
	var err error
	conds.ForEach(func(key, value gjson.Result) bool {
		cond := key.String()
		switch cond {
		case "field":
			return true
		case "eq", "in", "match", "gte", "lte", "gt", "lt":
			out = append(out, &Clause{Field: field, Cond: cond, Value: value.Value()})
			return true
		default:
			err = fmt.Errorf("filter %s: unsupported condition %q", field, cond)
			return false
		}
	})
	return out, err
}
