package memory

import (
	"strings"

	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/engine"
)

func evaluate(c *engine.Clause, doc domain.Document) bool {
	if c.IsLeaf() {
		return matchLeaf(c, doc)
	}
	for _, sub := range c.Must {
		if !evaluate(sub, doc) {
			return false
		}
	}
	for _, sub := range c.Not {
		if evaluate(sub, doc) {
			return false
		}
	}
	if len(c.Should) == 0 {
		return true
	}
	for _, sub := range c.Should {
		if evaluate(sub, doc) {
			return true
		}
	}
	return false
}

// matchLeaf tests one condition. Multi-valued document fields match when any
// of their values does.
func matchLeaf(c *engine.Clause, doc domain.Document) bool {
	values := valuesOf(doc[c.Field])

	switch c.Cond {
	case "eq", "in":
		for _, want := range c.Values() {
			for _, have := range values {
				if scalar(have) == scalar(want) {
					return true
				}
			}
		}
		return false
	case "match":
		needle := strings.ToLower(scalar(c.Value))
		for _, have := range values {
			if strings.Contains(strings.ToLower(scalar(have)), needle) {
				return true
			}
		}
		return false
	}

	bound, ok := number(c.Value)
	if !ok {
		return false
	}
	for _, have := range values {
		n, ok := number(have)
		if !ok {
			continue
		}
		switch c.Cond {
		case "gte":
			if n >= bound {
				return true
			}
		case "lte":
			if n <= bound {
				return true
			}
		case "gt":
			if n > bound {
				return true
			}
		case "lt":
			if n < bound {
				return true
			}
		}
	}
	return false
}
