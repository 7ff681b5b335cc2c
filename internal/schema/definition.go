// Package schema is the registry of row schemas, one closed variant per
// import kind.
package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/rpattn/bulkimport/internal/domain"
	"github.com/rpattn/bulkimport/pkg/validator"
)

// TenantField is the injected owner column present in every definition.
const TenantField = "tenant_id"

// Field declares one column of a row schema.
type Field struct {
	Name        string
	Type        validator.FieldType
	Required    bool
	Rules       validator.Rules
	Injected    bool
	Description string
}

// FieldError is a rejection reason for one field of one row.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate coerces a raw cell into the field's typed value. Empty input is
// absence for optional fields and a rejection for required ones.
func (f Field) Validate(raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if f.Required {
			return nil, errors.New("is required")
		}
		return nil, nil
	}
	value, err := coerce(f.Type, raw)
	if err != nil {
		return nil, err
	}
	result := recordValidator.ValidateProperties(
		map[string]any{f.Name: value},
		map[string]validator.FieldDefinition{f.Name: f.definition()},
	)
	if !result.IsValid {
		return nil, errors.New(result.Errors[0].Message)
	}
	return value, nil
}

func (f Field) definition() validator.FieldDefinition {
	return validator.FieldDefinition{Type: f.Type, Required: f.Required, Rules: f.Rules}
}

// Definition is the immutable, versioned schema of one import kind.
type Definition struct {
	Kind      domain.ImportKind
	Version   int
	Table     string
	Upsert    string
	KeyFields []string
	fields    []Field
	validator map[string]validator.FieldDefinition
}

// Fields returns the ordered field list, including the injected tenant field.
func (d Definition) Fields() []Field {
	return append([]Field(nil), d.fields...)
}

// FieldNames returns the ordered names of the fields a file may supply.
func (d Definition) FieldNames() []string {
	names := make([]string, 0, len(d.fields))
	for _, field := range d.fields {
		if field.Injected {
			continue
		}
		names = append(names, field.Name)
	}
	return names
}

// Field looks up a field by canonical name.
func (d Definition) Field(name string) (Field, bool) {
	for _, field := range d.fields {
		if field.Name == name {
			return field, true
		}
	}
	return Field{}, false
}

// StorageColumns returns the persisted column order: tenant first, then the
// file fields in declaration order.
func (d Definition) StorageColumns() []string {
	return append([]string{TenantField}, d.FieldNames()...)
}

// Validate turns one mapped row into a canonical record. The tenant id is
// injected here and never read from values. Unknown keys in values are
// ignored; the mapper decides which columns reach this point.
func (d Definition) Validate(tenantID uuid.UUID, rowNumber int, values map[string]string) (domain.CanonicalRecord, []FieldError) {
	var fieldErrors []FieldError
	properties := make(map[string]any, len(d.fields))

	for _, field := range d.fields {
		if field.Injected {
			properties[field.Name] = tenantID
			continue
		}
		value, err := field.Validate(values[field.Name])
		if err != nil {
			fieldErrors = append(fieldErrors, FieldError{Field: field.Name, Message: err.Error()})
			continue
		}
		if value != nil {
			properties[field.Name] = value
		}
	}
	if len(fieldErrors) > 0 {
		return domain.CanonicalRecord{}, fieldErrors
	}

	result := recordValidator.ValidateProperties(properties, d.validator)
	if !result.IsValid {
		for _, validationErr := range result.Errors {
			fieldErrors = append(fieldErrors, FieldError{Field: validationErr.Field, Message: validationErr.Message})
		}
		return domain.CanonicalRecord{}, fieldErrors
	}

	delete(properties, TenantField)
	for _, name := range d.FieldNames() {
		if _, ok := properties[name]; !ok {
			properties[name] = nil
		}
	}
	return domain.CanonicalRecord{
		Kind:      d.Kind,
		TenantID:  tenantID,
		RowNumber: rowNumber,
		Values:    properties,
	}, nil
}

// JoinFieldErrors renders field errors as one human-readable message.
func JoinFieldErrors(errs []FieldError) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}
