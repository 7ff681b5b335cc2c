package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the storage representation of date-only values.
const DateLayout = "2006-01-02"

// CanonicalRecord is one input row after mapping and schema coercion.
// Values hold string, int64, time.Time (date) or nil for absent optionals.
type CanonicalRecord struct {
	Kind      ImportKind
	TenantID  uuid.UUID
	RowNumber int
	Values    map[string]any
}

// ValuesToJSON renders the coerced values with dates as ISO strings, the
// shape consumed by the per-kind upsert routines.
func (r CanonicalRecord) ValuesToJSON() (json.RawMessage, error) {
	return json.Marshal(r.StorageValues())
}

// StorageValues returns the values converted to driver-friendly scalars.
func (r CanonicalRecord) StorageValues() map[string]any {
	out := make(map[string]any, len(r.Values))
	for key, value := range r.Values {
		switch v := value.(type) {
		case time.Time:
			out[key] = v.Format(DateLayout)
		default:
			out[key] = v
		}
	}
	return out
}
