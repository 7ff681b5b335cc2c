package repository

import (
	"fmt"
	"strings"

	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/internal/schema"
)

// CheckBatchKeys rejects a batch in which two records share a natural key.
// An upsert statement cannot touch the same target row twice, so such a
// batch fails as a whole.
func CheckBatchKeys(def schema.Definition, records []domain.CanonicalRecord) error {
	seen := make(map[string]int, len(records))
	for _, record := range records {
		key := NaturalKey(def, record)
		if first, ok := seen[key]; ok {
			return fmt.Errorf("rows %d and %d share the key %s", first, record.RowNumber, key)
		}
		seen[key] = record.RowNumber
	}
	return nil
}

// NaturalKey renders the record's key fields as "field=value" pairs.
func NaturalKey(def schema.Definition, record domain.CanonicalRecord) string {
	values := record.StorageValues()
	parts := make([]string, len(def.KeyFields))
	for i, field := range def.KeyFields {
		parts[i] = fmt.Sprintf("%s=%v", field, values[field])
	}
	return strings.Join(parts, ",")
}
