package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Index lifecycle statuses reported by the search engine.
const (
	IndexStatusBuilding = "indexing"
	IndexStatusReady    = "ready"
	IndexStatusLive     = "live"
)

// Index is a physical search index built for one entity type and one
// localized catalog.
type Index struct {
	Name             string `json:"name"`
	EntityType       string `json:"entity_type"`
	LocalizedCatalog string `json:"localized_catalog"`
	Status           string `json:"status"`
}

// IndicesByLocale maps localized catalog codes to index names. It keeps the
// insertion order, which is also the order used on the wire and during
// install. The zero value is empty and ready to use.
type IndicesByLocale struct {
	locales []string
	names   map[string]string
}

// NewIndicesByLocale builds a mapping from locale/index pairs.
func NewIndicesByLocale(pairs ...string) IndicesByLocale {
	var m IndicesByLocale
	for i := 0; i+1 < len(pairs); i += 2 {
		m.Set(pairs[i], pairs[i+1])
	}
	return m
}

// Set assigns the index for a locale. Re-assigning keeps the original position.
func (m *IndicesByLocale) Set(locale, index string) {
	if m.names == nil {
		m.names = make(map[string]string)
	}
	if _, ok := m.names[locale]; !ok {
		m.locales = append(m.locales, locale)
	}
	m.names[locale] = index
}

// Get returns the index assigned to a locale.
func (m IndicesByLocale) Get(locale string) (string, bool) {
	name, ok := m.names[locale]
	return name, ok
}

// Len returns the number of locales.
func (m IndicesByLocale) Len() int {
	return len(m.locales)
}

// Locales returns the locales in insertion order.
func (m IndicesByLocale) Locales() []string {
	out := make([]string, len(m.locales))
	copy(out, m.locales)
	return out
}

// Each calls fn for every pair in order and stops at the first error.
func (m IndicesByLocale) Each(fn func(locale, index string) error) error {
	for _, locale := range m.locales {
		if err := fn(locale, m.names[locale]); err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON writes a JSON object with keys in insertion order.
func (m IndicesByLocale) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, locale := range m.locales {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(locale)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.names[locale])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a JSON object preserving the document key order.
func (m *IndicesByLocale) UnmarshalJSON(data []byte) error {
	*m = IndicesByLocale{}
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("indices_by_locale: invalid json")
	}
	res := gjson.ParseBytes(data)
	if res.Type == gjson.Null {
		return nil
	}
	if !res.IsObject() {
		return fmt.Errorf("indices_by_locale: expected object, got %s", res.Type)
	}
	var err error
	res.ForEach(func(key, value gjson.Result) bool {
		if value.Type != gjson.String {
			err = fmt.Errorf("indices_by_locale: index for %q must be a string", key.String())
			return false
		}
		m.Set(key.String(), value.String())
		return true
	})
	return err
}
