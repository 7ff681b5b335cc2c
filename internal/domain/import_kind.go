package domain

import (
	"fmt"
	"strings"
)

// ImportKind enumerates the supported data categories.
type ImportKind string

const (
	ImportKindProductCosts    ImportKind = "product-costs"
	ImportKindSuppliers       ImportKind = "suppliers"
	ImportKindHistoricalSales ImportKind = "historical-sales"
)

// ImportKinds lists every supported kind in a stable order.
func ImportKinds() []ImportKind {
	return []ImportKind{ImportKindProductCosts, ImportKindSuppliers, ImportKindHistoricalSales}
}

// ParseImportKind accepts the canonical kind names, tolerating case,
// surrounding whitespace and underscores.
func ParseImportKind(raw string) (ImportKind, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "_", "-")
	for _, kind := range ImportKinds() {
		if string(kind) == normalized {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unsupported import kind %q", raw)
}
