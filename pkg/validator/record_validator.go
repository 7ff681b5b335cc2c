package validator

import (
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// FieldType identifies the post-coercion representation of a field.
type FieldType string

const (
	FieldTypeText       FieldType = "TEXT"
	FieldTypeInteger    FieldType = "INTEGER"
	FieldTypeMoney      FieldType = "MONEY"
	FieldTypeDate       FieldType = "DATE"
	FieldTypeEmail      FieldType = "EMAIL"
	FieldTypeIdentifier FieldType = "IDENTIFIER"
)

// Rules holds optional range and length constraints for a field.
type Rules struct {
	Min       *int64 `json:"min,omitempty"`
	Max       *int64 `json:"max,omitempty"`
	MaxLength int    `json:"maxLength,omitempty"`
}

// FieldDefinition represents a field definition for validation
type FieldDefinition struct {
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
	Rules    Rules     `json:"rules"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

// RecordValidator checks coerced record values against field definitions.
type RecordValidator struct{}

// NewRecordValidator creates a new record validator
func NewRecordValidator() *RecordValidator {
	return &RecordValidator{}
}

// ValidateProperties validates coerced properties against field definitions.
// Errors are ordered by field name so messages are stable.
func (rv *RecordValidator) ValidateProperties(properties map[string]any, fieldDefinitions map[string]FieldDefinition) ValidationResult {
	result := ValidationResult{
		IsValid: true,
		Errors:  []ValidationError{},
	}

	for fieldName, fieldDef := range fieldDefinitions {
		value, exists := properties[fieldName]

		if fieldDef.Required && (!exists || value == nil) {
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: "is required",
			})
			continue
		}
		if !exists || value == nil {
			continue
		}

		if err := rv.validateFieldType(value, fieldDef.Type); err != nil {
			result.Errors = append(result.Errors, ValidationError{Field: fieldName, Message: err.Error(), Value: value})
			continue
		}
		if err := rv.validateRules(value, fieldDef.Rules); err != nil {
			result.Errors = append(result.Errors, ValidationError{Field: fieldName, Message: err.Error(), Value: value})
		}
	}

	for propertyName, value := range properties {
		if _, exists := fieldDefinitions[propertyName]; !exists {
			result.Errors = append(result.Errors, ValidationError{
				Field:   propertyName,
				Message: "is not defined in schema",
				Value:   value,
			})
		}
	}

	sort.Slice(result.Errors, func(i, j int) bool {
		return result.Errors[i].Field < result.Errors[j].Field
	})
	result.IsValid = len(result.Errors) == 0
	return result
}

func (rv *RecordValidator) validateFieldType(value any, expectedType FieldType) error {
	switch expectedType {
	case FieldTypeText:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("must be text, got %T", value)
		}
	case FieldTypeEmail:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("must be an email address, got %T", value)
		}
		return ValidateEmail(str)
	case FieldTypeInteger, FieldTypeMoney:
		if _, ok := value.(int64); !ok {
			return fmt.Errorf("must be an integer, got %T", value)
		}
	case FieldTypeDate:
		if _, ok := value.(time.Time); !ok {
			return fmt.Errorf("must be a date, got %T", value)
		}
	case FieldTypeIdentifier:
		return ValidateIdentifier(value)
	default:
		return fmt.Errorf("unknown field type %s", expectedType)
	}
	return nil
}

func (rv *RecordValidator) validateRules(value any, rules Rules) error {
	switch v := value.(type) {
	case int64:
		if rules.Min != nil && v < *rules.Min {
			if *rules.Min == 0 {
				return fmt.Errorf("must not be negative")
			}
			return fmt.Errorf("must be at least %d", *rules.Min)
		}
		if rules.Max != nil && v > *rules.Max {
			return fmt.Errorf("must be at most %d", *rules.Max)
		}
	case string:
		if rules.MaxLength > 0 && utf8.RuneCountInString(v) > rules.MaxLength {
			return fmt.Errorf("must be at most %d characters", rules.MaxLength)
		}
	}
	return nil
}

// ValidateIdentifier accepts a non-nil UUID given as uuid.UUID or string.
func ValidateIdentifier(value any) error {
	switch v := value.(type) {
	case uuid.UUID:
		if v == uuid.Nil {
			return fmt.Errorf("must be a non-empty identifier")
		}
		return nil
	case string:
		id, err := uuid.Parse(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("must be a valid identifier: %v", err)
		}
		if id == uuid.Nil {
			return fmt.Errorf("must be a non-empty identifier")
		}
		return nil
	default:
		return fmt.Errorf("must be an identifier, got %T", value)
	}
}

// ValidateEmail accepts a bare address such as "ops@example.com".
func ValidateEmail(value string) error {
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		return fmt.Errorf("must be a valid email address")
	}
	return nil
}

// Int64 is a convenience for building Rules literals.
func Int64(v int64) *int64 {
	return &v
}
