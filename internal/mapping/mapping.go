// Package mapping resolves spreadsheet headers to canonical schema field
// names. A mapping is plain runtime data: a raw-header to field-name table
// checked against an explicit allowed set and a denylist.
package mapping

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ErrDeniedTarget is returned when a mapping targets a reserved key.
var ErrDeniedTarget = errors.New("mapping target is reserved")

// ErrUnknownTarget is returned when a mapping targets a field the schema does
// not declare.
var ErrUnknownTarget = errors.New("mapping target is not a schema field")

var deniedTargets = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
	"tenant_id":   {},
	"id":          {},
	"created_at":  {},
	"updated_at":  {},
}

// IsDenied reports whether a target key is on the reserved denylist.
func IsDenied(target string) bool {
	_, denied := deniedTargets[NormalizeHeader(target)]
	return denied
}

// NormalizeHeader canonicalizes a header cell: Unicode NFC, BOM removed,
// trimmed, lowercased, inner whitespace runs collapsed to "_".
func NormalizeHeader(raw string) string {
	value := norm.NFC.String(raw)
	value = strings.TrimPrefix(value, "\uFEFF")
	value = strings.ToLower(strings.TrimSpace(value))
	return strings.Join(strings.FieldsFunc(value, unicode.IsSpace), "_")
}

// Mapper projects raw rows onto canonical field names.
type Mapper struct {
	headers  []string
	targets  []string
	explicit bool
}

// New builds a mapper for a header row. With a nil or empty explicit
// mapping, normalized headers are used verbatim and must name allowed
// fields; otherwise only mapped columns survive, under their targets.
func New(headers []string, explicit map[string]string, allowed []string) (*Mapper, error) {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = struct{}{}
	}

	normalized := make([]string, len(headers))
	for i, header := range headers {
		normalized[i] = NormalizeHeader(header)
	}

	m := &Mapper{headers: normalized, targets: make([]string, len(headers))}
	if len(explicit) == 0 {
		for i, header := range normalized {
			if IsDenied(header) {
				continue
			}
			if _, ok := allowedSet[header]; ok {
				m.targets[i] = header
			}
		}
		return m, nil
	}

	table, err := Sanitize(explicit, allowed)
	if err != nil {
		return nil, err
	}
	m.explicit = true
	for i, header := range normalized {
		m.targets[i] = table[header]
	}
	return m, nil
}

// Sanitize normalizes a raw mapping's keys and validates its targets.
// Entries with an empty target are dropped. A denied or unknown target
// rejects the whole mapping.
func Sanitize(explicit map[string]string, allowed []string) (map[string]string, error) {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = struct{}{}
	}
	table := make(map[string]string, len(explicit))
	for source, target := range explicit {
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if IsDenied(target) {
			return nil, fmt.Errorf("%w: %q", ErrDeniedTarget, target)
		}
		if _, ok := allowedSet[target]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, target)
		}
		table[NormalizeHeader(source)] = target
	}
	return table, nil
}

// Targets returns the distinct canonical names this mapper can produce,
// sorted.
func (m *Mapper) Targets() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, target := range m.targets {
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	sort.Strings(out)
	return out
}

// Missing returns required names no column maps to.
func (m *Mapper) Missing(required []string) []string {
	have := make(map[string]struct{})
	for _, target := range m.targets {
		have[target] = struct{}{}
	}
	var missing []string
	for _, name := range required {
		if _, ok := have[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// Apply copies one raw row into a new record keyed by canonical name.
// When two columns map to the same target, the first non-empty cell wins.
func (m *Mapper) Apply(row []string) map[string]string {
	record := make(map[string]string, len(m.targets))
	for i, target := range m.targets {
		if target == "" || i >= len(row) {
			continue
		}
		if existing, ok := record[target]; ok && strings.TrimSpace(existing) != "" {
			continue
		}
		record[target] = row[i]
	}
	return record
}

// Raw returns the row keyed by normalized header, for error snapshots.
// Cells past the header width are kept under positional names.
func (m *Mapper) Raw(row []string) map[string]string {
	snapshot := make(map[string]string, len(row))
	for i, cell := range row {
		key := fmt.Sprintf("column_%d", i+1)
		if i < len(m.headers) && m.headers[i] != "" {
			key = m.headers[i]
		}
		snapshot[key] = cell
	}
	return snapshot
}

// Filter keeps the entries of a proposed mapping that Sanitize would accept,
// dropping the rest instead of failing. Keys keep their original spelling.
func Filter(proposed map[string]string, allowed []string) map[string]string {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, name := range allowed {
		allowedSet[name] = struct{}{}
	}
	out := make(map[string]string, len(proposed))
	for source, target := range proposed {
		target = strings.TrimSpace(target)
		if target == "" || IsDenied(target) {
			continue
		}
		if _, ok := allowedSet[target]; !ok {
			continue
		}
		out[source] = target
	}
	return out
}
