package suggest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSuggest(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/mapping-suggestions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"mapping":{"Item Code":"sku","Unit Cost":"cost"}}`))
	}))
	defer server.Close()

	client := New(server.URL+"/", time.Second)
	mapping, err := client.Suggest(context.Background(), Request{
		Kind:           "product-costs",
		Headers:        []string{"Item Code", "Unit Cost"},
		SampleRows:     [][]string{{"A-1", "1.50"}},
		ExpectedFields: []string{"sku", "cost"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Item Code": "sku", "Unit Cost": "cost"}, mapping)
	assert.Equal(t, []string{"sku", "cost"}, got.ExpectedFields)
	assert.Equal(t, [][]string{{"A-1", "1.50"}}, got.SampleRows)
}

func TestClientSuggestErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := New(server.URL, time.Second).Suggest(context.Background(), Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	_, err = New("", time.Second).Suggest(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
