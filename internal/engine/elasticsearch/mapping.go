package elasticsearch

// DefaultIndexPrefix prefixes every index and alias managed by the engine.
const DefaultIndexPrefix = "gally"

// buildIndexMapping returns the settings and mapping used for every index.
// Strings are indexed as keywords for exact filters, with a "text" sub field
// for full text matching.
func buildIndexMapping() string {
	return `{
  "settings": {
    "number_of_shards": 1,
    "number_of_replicas": 0,
    "analysis": {
      "analyzer": {
        "autocomplete_analyzer": {
          "type": "custom",
          "tokenizer": "autocomplete_tokenizer",
          "filter": ["lowercase"]
        },
        "autocomplete_search": {
          "type": "custom",
          "tokenizer": "standard",
          "filter": ["lowercase"]
        }
      },
      "tokenizer": {
        "autocomplete_tokenizer": {
          "type": "edge_ngram",
          "min_gram": 2,
          "max_gram": 20,
          "token_chars": ["letter", "digit"]
        }
      }
    }
  },
  "mappings": {
    "dynamic_templates": [
      {
        "strings": {
          "match_mapping_type": "string",
          "mapping": {
            "type": "keyword",
            "ignore_above": 256,
            "fields": { "text": { "type": "text", "analyzer": "standard" } }
          }
        }
      }
    ],
    "properties": {
      "id":   { "type": "keyword" },
      "name": { "type": "keyword", "ignore_above": 256, "fields": { "text": { "type": "text", "analyzer": "standard" }, "autocomplete": { "type": "text", "analyzer": "autocomplete_analyzer", "search_analyzer": "autocomplete_search" } } },
      "price__price":  { "type": "double" },
      "stock__status": { "type": "boolean" }
    }
  }
}`
}
