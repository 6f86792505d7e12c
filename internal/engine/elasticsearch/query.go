package elasticsearch

import (
	"github.com/utafrali/gally-search/internal/domain"
	"github.com/utafrali/gally-search/internal/engine"
)

// textFields are searched by the free text query.
var textFields = []string{"name.text^3", "name.autocomplete^2", "sku^2", "description.text"}

// buildSearchQuery constructs the Elasticsearch query DSL as a map.
func buildSearchQuery(req *domain.SearchRequest, clause *engine.Clause, facets []string, page, perPage int) map[string]interface{} {
	var mustClause interface{}
	if req.Query != "" {
		mustClause = map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":         req.Query,
				"fields":        textFields,
				"type":          "best_fields",
				"fuzziness":     "AUTO",
				"prefix_length": 1,
			},
		}
	} else {
		mustClause = map[string]interface{}{
			"match_all": map[string]interface{}{},
		}
	}

	boolQuery := map[string]interface{}{
		"must": []interface{}{mustClause},
	}
	if clause != nil {
		boolQuery["filter"] = []interface{}{convertClause(clause)}
	}

	esQuery := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": boolQuery,
		},
		"from":             (page - 1) * perPage,
		"size":             perPage,
		"track_total_hits": true,
		"sort":             buildSort(req.SortBy, req.SortDir),
	}

	if len(facets) > 0 {
		aggs := make(map[string]interface{}, len(facets))
		for _, field := range facets {
			aggs[field] = map[string]interface{}{
				"terms": map[string]interface{}{"field": field, "size": 50},
			}
		}
		esQuery["aggs"] = aggs
	}
	return esQuery
}

// convertClause renders a parsed Gally filter as an Elasticsearch query.
func convertClause(c *engine.Clause) map[string]interface{} {
	if c.IsLeaf() {
		return convertLeaf(c)
	}

	b := map[string]interface{}{}
	if len(c.Must) > 0 {
		b["filter"] = convertAll(c.Must)
	}
	if len(c.Should) > 0 {
		b["should"] = convertAll(c.Should)
		b["minimum_should_match"] = 1
	}
	if len(c.Not) > 0 {
		b["must_not"] = convertAll(c.Not)
	}
	return map[string]interface{}{"bool": b}
}

func convertAll(list []*engine.Clause) []interface{} {
	out := make([]interface{}, len(list))
	for i, c := range list {
		out[i] = convertClause(c)
	}
	return out
}

func convertLeaf(c *engine.Clause) map[string]interface{} {
	switch c.Cond {
	case "eq":
		return map[string]interface{}{"term": map[string]interface{}{c.Field: c.Value}}
	case "in":
		return map[string]interface{}{"terms": map[string]interface{}{c.Field: c.Values()}}
	case "match":
		return map[string]interface{}{
			"match": map[string]interface{}{c.Field + ".text": map[string]interface{}{"query": c.Value}},
		}
	default:
		return map[string]interface{}{
			"range": map[string]interface{}{c.Field: map[string]interface{}{c.Cond: c.Value}},
		}
	}
}

// buildSort constructs the sort clause. Relevance uses default scoring.
func buildSort(field, dir string) []interface{} {
	if !domain.IsValidSortDir(dir) {
		dir = domain.SortAsc
	}
	if field == "" || field == domain.SortRelevance {
		return []interface{}{
			map[string]interface{}{"_score": "desc"},
		}
	}
	return []interface{}{
		map[string]interface{}{field: dir},
		map[string]interface{}{"_score": "desc"},
	}
}
