package validator

import (
	"fmt"
	"strings"
)

// FieldSpec is the subset of a schema field needed to check a definition.
type FieldSpec struct {
	Name     string
	Type     string
	Required bool
	Injected bool
}

var knownTypes = map[string]struct{}{
	"TEXT":       {},
	"INTEGER":    {},
	"MONEY":      {},
	"DATE":       {},
	"EMAIL":      {},
	"IDENTIFIER": {},
}

// ValidateDefinition ensures a schema definition is internally consistent:
// field names are unique lower_snake identifiers with known types, every key
// field is a required file field, and exactly one injected identifier exists.
func ValidateDefinition(kind string, fields []FieldSpec, keyFields []string) error {
	if strings.TrimSpace(kind) == "" {
		return fmt.Errorf("definition kind is required")
	}
	if len(fields) == 0 {
		return fmt.Errorf("definition %s declares no fields", kind)
	}

	byName := make(map[string]FieldSpec, len(fields))
	injected := 0
	for _, field := range fields {
		if !isSnakeIdentifier(field.Name) {
			return fmt.Errorf("definition %s: field name %q must be lower_snake_case", kind, field.Name)
		}
		if _, dup := byName[field.Name]; dup {
			return fmt.Errorf("definition %s: duplicate field %s", kind, field.Name)
		}
		if _, ok := knownTypes[field.Type]; !ok {
			return fmt.Errorf("definition %s: field %s has unknown type %s", kind, field.Name, field.Type)
		}
		if field.Injected {
			if field.Type != "IDENTIFIER" {
				return fmt.Errorf("definition %s: injected field %s must be an IDENTIFIER", kind, field.Name)
			}
			injected++
		}
		byName[field.Name] = field
	}
	if injected != 1 {
		return fmt.Errorf("definition %s must inject exactly one tenant identifier, found %d", kind, injected)
	}

	if len(keyFields) == 0 {
		return fmt.Errorf("definition %s declares no key fields", kind)
	}
	for _, key := range keyFields {
		field, ok := byName[key]
		if !ok {
			return fmt.Errorf("definition %s: key field %s is not declared", kind, key)
		}
		if !field.Required || field.Injected {
			return fmt.Errorf("definition %s: key field %s must be a required file field", kind, key)
		}
	}
	return nil
}

func isSnakeIdentifier(name string) bool {
	if name == "" || name[0] == '_' || name[len(name)-1] == '_' {
		return false
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return name[0] < '0' || name[0] > '9'
}
