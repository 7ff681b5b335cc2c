package validator

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestRecordValidatorRequiredField(t *testing.T) {
	v := NewRecordValidator()

	definitions := map[string]FieldDefinition{
		"sku": {Type: FieldTypeText, Required: true},
	}

	result := v.ValidateProperties(map[string]any{"sku": nil}, definitions)
	if result.IsValid {
		t.Fatalf("expected missing required field to be rejected")
	}
	if result.Errors[0].Message != "is required" {
		t.Fatalf("unexpected message %q", result.Errors[0].Message)
	}

	result = v.ValidateProperties(map[string]any{"sku": "ABC-1"}, definitions)
	if !result.IsValid {
		t.Fatalf("expected value to pass, got %+v", result.Errors)
	}
}

func TestRecordValidatorRules(t *testing.T) {
	v := NewRecordValidator()

	definitions := map[string]FieldDefinition{
		"cost":     {Type: FieldTypeMoney, Required: true, Rules: Rules{Min: Int64(0)}},
		"quantity": {Type: FieldTypeInteger, Rules: Rules{Min: Int64(1)}},
		"notes":    {Type: FieldTypeText, Rules: Rules{MaxLength: 4}},
	}

	result := v.ValidateProperties(map[string]any{
		"cost":     int64(-5),
		"quantity": int64(0),
		"notes":    "too long",
	}, definitions)
	if result.IsValid {
		t.Fatalf("expected rule violations")
	}
	if len(result.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %+v", result.Errors)
	}
	// ordered by field name
	if result.Errors[0].Field != "cost" || result.Errors[0].Message != "must not be negative" {
		t.Fatalf("unexpected first error %+v", result.Errors[0])
	}
	if result.Errors[2].Field != "quantity" || result.Errors[2].Message != "must be at least 1" {
		t.Fatalf("unexpected quantity error %+v", result.Errors[2])
	}
}

func TestRecordValidatorRejectsUnknownProperties(t *testing.T) {
	v := NewRecordValidator()
	result := v.ValidateProperties(map[string]any{"sale_date": time.Now(), "extra": "x"}, map[string]FieldDefinition{
		"sale_date": {Type: FieldTypeDate, Required: true},
	})
	if result.IsValid {
		t.Fatalf("expected extra property to be rejected")
	}
	if result.Errors[0].Field != "extra" {
		t.Fatalf("unexpected error %+v", result.Errors[0])
	}
}

func TestValidateIdentifier(t *testing.T) {
	if err := ValidateIdentifier(uuid.New()); err != nil {
		t.Fatalf("expected uuid to be accepted: %v", err)
	}
	if err := ValidateIdentifier(uuid.Nil); err == nil {
		t.Fatalf("expected nil uuid to be rejected")
	}
	if err := ValidateIdentifier("not-a-uuid"); err == nil {
		t.Fatalf("expected malformed identifier to be rejected")
	}
	if err := ValidateIdentifier(42); err == nil {
		t.Fatalf("expected non-string identifier to be rejected")
	}
}

func TestValidateEmail(t *testing.T) {
	if err := ValidateEmail("ops@example.com"); err != nil {
		t.Fatalf("expected address to be accepted: %v", err)
	}
	for _, bad := range []string{"ops", "Ops <ops@example.com>", "@example.com"} {
		if err := ValidateEmail(bad); err == nil {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}
