package schema

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rpattn/bulkimport/pkg/validator"
)

var (
	errNegative    = errors.New("must not be negative")
	errSubCent     = errors.New("must be a whole number of cents")
	errNotInteger  = errors.New("must be a whole number")
	errNotAmount   = errors.New("must be a monetary amount")
	errAmountRange = errors.New("amount is too large")

	dateLayouts = []string{
		"2006-01-02",
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006/01/02",
		"01/02/2006",
		"1/2/2006",
		"02-Jan-2006",
		"Jan 2, 2006",
	}
)

// coerce converts a trimmed, non-empty raw cell into the typed value for the
// field type. It never panics and never returns (nil, nil).
func coerce(fieldType validator.FieldType, raw string) (any, error) {
	switch fieldType {
	case validator.FieldTypeText, validator.FieldTypeEmail:
		return raw, nil
	case validator.FieldTypeInteger:
		return parseInteger(raw)
	case validator.FieldTypeMoney:
		return parseCents(raw)
	case validator.FieldTypeDate:
		return parseDate(raw)
	case validator.FieldTypeIdentifier:
		if err := validator.ValidateIdentifier(raw); err != nil {
			return nil, err
		}
		return strings.ToLower(raw), nil
	default:
		return nil, fmt.Errorf("unsupported field type %s", fieldType)
	}
}

func parseInteger(raw string) (int64, error) {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i, nil
	}
	// Allow float representations that can be losslessly converted to int.
	if f, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsInf(f, 0) && math.Mod(f, 1) == 0 &&
		math.Abs(f) < 1<<53 {
		return int64(f), nil
	}
	return 0, errNotInteger
}

// parseCents converts a decimal amount in major units into integer minor
// units without going through floating point. "$1,234.5" becomes 123450.
func parseCents(raw string) (int64, error) {
	value := strings.TrimSpace(raw)
	negative := false
	if strings.HasPrefix(value, "-") {
		negative = true
		value = strings.TrimSpace(value[1:])
	} else if strings.HasPrefix(value, "(") && strings.HasSuffix(value, ")") {
		negative = true
		value = strings.TrimSpace(value[1 : len(value)-1])
	}
	value = strings.TrimLeft(value, "$€£ ")
	if strings.HasPrefix(value, "-") {
		negative = true
		value = value[1:]
	}
	value = strings.ReplaceAll(value, ",", "")

	whole, frac, hasFrac := strings.Cut(value, ".")
	if whole == "" && (!hasFrac || frac == "") {
		return 0, errNotAmount
	}
	if whole == "" {
		whole = "0"
	}
	if !allDigits(whole) || (hasFrac && !allDigits(frac)) {
		return 0, errNotAmount
	}
	if negative {
		return 0, errNegative
	}

	frac = strings.TrimRight(frac, "0")
	if len(frac) > 2 {
		return 0, errSubCent
	}
	for len(frac) < 2 {
		frac += "0"
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > (math.MaxInt64-99)/100 {
		return 0, errAmountRange
	}
	cents, _ := strconv.ParseInt(frac, 10, 64)
	return units*100 + cents, nil
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			y, m, d := ts.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
