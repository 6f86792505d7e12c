package translator

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field type prefixes used by the host search mapping ("decimal.price__price").
const (
	TypeText     = "text"
	TypeDecimal  = "decimal"
	TypeInteger  = "integer"
	TypeDatetime = "datetime"
	TypeBool     = "bool"
)

var fieldTypes = map[string]bool{
	TypeText:     true,
	TypeDecimal:  true,
	TypeInteger:  true,
	TypeDatetime: true,
	TypeBool:     true,
	"boolean":    true,
	"enum":       true,
}

// Well known host fields with dedicated translation rules.
const (
	FieldAllText            = "all_text"
	FieldInventoryStatus    = "inv_status"
	FieldStockStatus        = "stock__status"
	FieldVisibilityCustomer = "visibility_customer"
	FieldVisibleForCustomer = "visible_for_customer"
	FieldHiddenForCustomer  = "hidden_for_customer"
	FieldCategoryID         = "category__id"

	StatusInStock    = "in_stock"
	StatusOutOfStock = "out_of_stock"
)

// DefaultAssignPrefixes are dotted fields whose suffix is an embedded id
// ("assigned_to.variant_12", "category_paths.1_4_7").
var DefaultAssignPrefixes = []string{"assigned_to", "manually_added_to", "category_paths"}

// DefaultAliases maps host attribute names to Gally source field codes.
func DefaultAliases() map[string]string {
	return map[string]string{
		"system_entity_id": "id",
		"names":            "name",
		"sku_uppercase":    "sku",
	}
}

// SplitFieldType splits "decimal.price__price" into ("decimal", "price__price").
// Fields without a known type prefix are returned unchanged with an empty type.
func SplitFieldType(raw string) (string, string) {
	idx := strings.Index(raw, ".")
	if idx <= 0 {
		return "", raw
	}
	typ := raw[:idx]
	if !fieldTypes[typ] {
		return "", raw
	}
	if typ == "boolean" {
		typ = TypeBool
	}
	return typ, raw[idx+1:]
}

// splitPlaceholder splits "visibility_customer.42" into its base field and
// the embedded id.
func splitPlaceholder(field string) (string, string, bool) {
	idx := strings.Index(field, ".")
	if idx <= 0 || idx == len(field)-1 {
		return field, "", false
	}
	return field[:idx], field[idx+1:], true
}

// LoadAliases reads a YAML mapping of host field names to Gally field codes.
// Entries from the file override DefaultAliases.
func LoadAliases(path string) (map[string]string, error) {
	aliases := DefaultAliases()
	if path == "" {
		return aliases, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias file: %w", err)
	}

	var doc struct {
		Aliases map[string]string `yaml:"aliases"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse alias file %s: %w", path, err)
	}
	for k, v := range doc.Aliases {
		aliases[k] = v
	}
	return aliases, nil
}

// stringify renders a scalar the way the Gally API expects equality values.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// numeric converts range bounds to numbers; unparsable strings pass through.
func numeric(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case float64:
		return t
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return f
		}
		return t
	default:
		return v
	}
}

// truthy interprets boolean field values: "1", 1 and true are true.
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	default:
		s := stringify(v)
		return s == "1" || strings.EqualFold(s, "true")
	}
}
