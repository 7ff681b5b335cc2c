package schema

import (
	"fmt"
	"math"

	"github.com/rpattn/bulkimport/internal/domain"
	schemavalidator "github.com/rpattn/bulkimport/internal/schema/validator"
	"github.com/rpattn/bulkimport/pkg/validator"
)

var recordValidator = validator.NewRecordValidator()

// maxStoredInteger is the largest value an INTEGER column holds.
const maxStoredInteger = math.MaxInt32

func nonNegativeInteger() validator.Rules {
	return validator.Rules{Min: validator.Int64(0), Max: validator.Int64(maxStoredInteger)}
}

var tenantField = Field{
	Name:        TenantField,
	Type:        validator.FieldTypeIdentifier,
	Required:    true,
	Injected:    true,
	Description: "owning tenant, injected from the caller's identity",
}

// registry holds one variant per import kind. Adding a kind means adding an
// entry here and a matching upsert routine in the migrations.
var registry = map[domain.ImportKind]Definition{
	domain.ImportKindProductCosts: mustDefine(domain.ImportKindProductCosts, 1,
		"product_costs", "upsert_product_costs", []string{"sku"},
		tenantField,
		Field{Name: "sku", Type: validator.FieldTypeText, Required: true, Rules: validator.Rules{MaxLength: 64}},
		Field{Name: "cost", Type: validator.FieldTypeMoney, Required: true, Rules: validator.Rules{Min: validator.Int64(0)},
			Description: "unit cost in minor currency units"},
		Field{Name: "supplier_name", Type: validator.FieldTypeText, Rules: validator.Rules{MaxLength: 200}},
		Field{Name: "reorder_point", Type: validator.FieldTypeInteger, Rules: nonNegativeInteger()},
		Field{Name: "reorder_quantity", Type: validator.FieldTypeInteger, Rules: nonNegativeInteger()},
		Field{Name: "lead_time_days", Type: validator.FieldTypeInteger,
			Rules: validator.Rules{Min: validator.Int64(0), Max: validator.Int64(365)}},
	),
	domain.ImportKindSuppliers: mustDefine(domain.ImportKindSuppliers, 1,
		"suppliers", "upsert_suppliers", []string{"name"},
		tenantField,
		Field{Name: "name", Type: validator.FieldTypeText, Required: true, Rules: validator.Rules{MaxLength: 200}},
		Field{Name: "contact_name", Type: validator.FieldTypeText, Rules: validator.Rules{MaxLength: 200}},
		Field{Name: "email", Type: validator.FieldTypeEmail, Rules: validator.Rules{MaxLength: 254}},
		Field{Name: "phone", Type: validator.FieldTypeText, Rules: validator.Rules{MaxLength: 40}},
		Field{Name: "lead_time_days", Type: validator.FieldTypeInteger,
			Rules: validator.Rules{Min: validator.Int64(0), Max: validator.Int64(365)}},
		Field{Name: "notes", Type: validator.FieldTypeText, Rules: validator.Rules{MaxLength: 2000}},
	),
	domain.ImportKindHistoricalSales: mustDefine(domain.ImportKindHistoricalSales, 1,
		"sales_history", "upsert_sales_history", []string{"sku", "sale_date"},
		tenantField,
		Field{Name: "sku", Type: validator.FieldTypeText, Required: true, Rules: validator.Rules{MaxLength: 64}},
		Field{Name: "sale_date", Type: validator.FieldTypeDate, Required: true},
		Field{Name: "quantity", Type: validator.FieldTypeInteger, Required: true,
			Rules: validator.Rules{Min: validator.Int64(1), Max: validator.Int64(maxStoredInteger)}},
		Field{Name: "revenue", Type: validator.FieldTypeMoney, Rules: validator.Rules{Min: validator.Int64(0)},
			Description: "total revenue in minor currency units"},
		Field{Name: "channel", Type: validator.FieldTypeText, Rules: validator.Rules{MaxLength: 64}},
	),
}

// Lookup returns the definition for a kind.
func Lookup(kind domain.ImportKind) (Definition, error) {
	def, ok := registry[kind]
	if !ok {
		return Definition{}, fmt.Errorf("no schema registered for import kind %q", kind)
	}
	return def, nil
}

// MustLookup is Lookup for kinds known at compile time.
func MustLookup(kind domain.ImportKind) Definition {
	def, err := Lookup(kind)
	if err != nil {
		panic(err)
	}
	return def
}

func mustDefine(kind domain.ImportKind, version int, table, upsert string, keyFields []string, fields ...Field) Definition {
	specs := make([]schemavalidator.FieldSpec, len(fields))
	defs := make(map[string]validator.FieldDefinition, len(fields))
	for i, field := range fields {
		specs[i] = schemavalidator.FieldSpec{
			Name:     field.Name,
			Type:     string(field.Type),
			Required: field.Required,
			Injected: field.Injected,
		}
		defs[field.Name] = field.definition()
	}
	if err := schemavalidator.ValidateDefinition(string(kind), specs, keyFields); err != nil {
		panic(err)
	}
	return Definition{
		Kind:      kind,
		Version:   version,
		Table:     table,
		Upsert:    upsert,
		KeyFields: append([]string(nil), keyFields...),
		fields:    fields,
		validator: defs,
	}
}
