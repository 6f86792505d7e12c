package reindex

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Catalogs maps website ids to the codes of their localized catalogs, in
// configuration order.
type Catalogs map[int][]string

// ParseCatalogs reads a "website:catalog" list, e.g. "1:b2c_en,1:b2c_fr,2:b2b_en".
func ParseCatalogs(raw string) (Catalogs, error) {
	out := Catalogs{}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		site, code, ok := strings.Cut(entry, ":")
		if !ok || strings.TrimSpace(code) == "" {
			return nil, fmt.Errorf("catalog entry %q: expected website:catalog", entry)
		}
		id, err := strconv.Atoi(strings.TrimSpace(site))
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("catalog entry %q: invalid website id", entry)
		}
		out[id] = append(out[id], strings.TrimSpace(code))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no localized catalog configured")
	}
	return out, nil
}

// Websites returns the configured website ids in ascending order.
func (c Catalogs) Websites() []int {
	out := make([]int, 0, len(c))
	for id := range c {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// For returns the catalogs of the given websites without duplicates. An
// empty list means every website.
func (c Catalogs) For(websiteIDs []int) []string {
	if len(websiteIDs) == 0 {
		websiteIDs = c.Websites()
	}
	seen := make(map[string]bool)
	var out []string
	for _, id := range websiteIDs {
		for _, code := range c[id] {
			if !seen[code] {
				seen[code] = true
				out = append(out, code)
			}
		}
	}
	return out
}

// websitesOf returns the websites a request applies to.
func (c Catalogs) websitesOf(ids []int) []int {
	if len(ids) == 0 {
		return c.Websites()
	}
	return ids
}
