package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allowed = []string{"sku", "cost", "supplier_name"}

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		"  SKU ":          "sku",
		"Supplier  Name":  "supplier_name",
		"\uFEFFcost":      "cost",
		"Cafe\u0301":      "caf\u00e9",
		"lead\ttime days": "lead_time_days",
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeHeader(raw), raw)
	}
}

func TestVerbatimHeaders(t *testing.T) {
	m, err := New([]string{"SKU", "Cost", "Supplier Name", "unrelated"}, nil, allowed)
	require.NoError(t, err)

	record := m.Apply([]string{"A-1", "3.00", "Acme", "ignored"})
	assert.Equal(t, map[string]string{"sku": "A-1", "cost": "3.00", "supplier_name": "Acme"}, record)
	assert.Empty(t, m.Missing([]string{"sku", "cost"}))
	assert.Equal(t, []string{"cost", "sku", "supplier_name"}, m.Targets())
}

func TestVerbatimHeadersDropDeniedColumns(t *testing.T) {
	m, err := New([]string{"sku", "tenant_id", "__proto__"}, nil, append(allowed, "tenant_id"))
	require.NoError(t, err)
	record := m.Apply([]string{"A-1", "someone-else", "x"})
	assert.Equal(t, map[string]string{"sku": "A-1"}, record)
}

func TestExplicitMapping(t *testing.T) {
	m, err := New(
		[]string{"Item Code", "Unit Cost", "Vendor", "Notes"},
		map[string]string{"item code": "sku", "UNIT COST": "cost", "Vendor": "", "Missing Column": "supplier_name"},
		allowed,
	)
	require.NoError(t, err)

	record := m.Apply([]string{"A-1", "3.00", "Acme", "n/a"})
	assert.Equal(t, map[string]string{"sku": "A-1", "cost": "3.00"}, record)
	assert.Equal(t, []string{"supplier_name"}, m.Missing([]string{"sku", "cost", "supplier_name"}))
}

func TestExplicitMappingShortRow(t *testing.T) {
	m, err := New([]string{"code", "price"}, map[string]string{"code": "sku", "price": "cost"}, allowed)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"sku": "A-1"}, m.Apply([]string{"A-1"}))
}

func TestDuplicateTargetsFirstNonEmptyWins(t *testing.T) {
	m, err := New([]string{"code", "alt code"}, map[string]string{"code": "sku", "alt code": "sku"}, allowed)
	require.NoError(t, err)
	assert.Equal(t, "B-2", m.Apply([]string{"", "B-2"})["sku"])
	assert.Equal(t, "A-1", m.Apply([]string{"A-1", "B-2"})["sku"])
}

func TestMappingRejectsDeniedTargets(t *testing.T) {
	for _, target := range []string{"__proto__", "constructor", "prototype", "tenant_id", " ID "} {
		_, err := New([]string{"x"}, map[string]string{"x": target}, allowed)
		assert.ErrorIs(t, err, ErrDeniedTarget, target)
	}
}

func TestMappingRejectsUnknownTargets(t *testing.T) {
	_, err := New([]string{"x"}, map[string]string{"x": "price"}, allowed)
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestRawSnapshot(t *testing.T) {
	m, err := New([]string{"SKU", ""}, nil, allowed)
	require.NoError(t, err)
	assert.Equal(t,
		map[string]string{"sku": "A-1", "column_2": "x", "column_3": "extra"},
		m.Raw([]string{"A-1", "x", "extra"}),
	)
}

func TestFilterDropsUnsafeSuggestions(t *testing.T) {
	proposed := map[string]string{
		"Item Code": "sku",
		"Cost":      " cost ",
		"Owner":     "tenant_id",
		"Hack":      "__proto__",
		"Color":     "colour",
		"Ignored":   "",
	}
	got := Filter(proposed, []string{"sku", "cost", "supplier_name"})
	assert.Equal(t, map[string]string{"Item Code": "sku", "Cost": "cost"}, got)
}
