package sources

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketwatch/internal/domain/market"
)

func TestSplitPair(t *testing.T) {
	tests := []struct {
		in          string
		base, quote string
		ok          bool
	}{
		{"EURUSD", "EUR", "USD", true},
		{"eur/usd", "EUR", "USD", true},
		{"GBP-JPY", "GBP", "JPY", true},
		{"EURUS", "", "", false},
	}
	for _, tt := range tests {
		base, quote, ok := SplitPair(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.base, base, tt.in)
		assert.Equal(t, tt.quote, quote, tt.in)
	}
}

func TestFrankfurter_GetQuotesBatchesPerBase(t *testing.T) {
	srv, calls := vendor(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("from") {
		case "EUR":
			assert.Equal(t, "USD,GBP", r.URL.Query().Get("to"))
			_, _ = w.Write([]byte(`{"amount":1.0,"base":"EUR","date":"2026-03-13","rates":{"USD":1.0875,"GBP":0.8512}}`))
		case "GBP":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			t.Errorf("unexpected base %q", r.URL.Query().Get("from"))
		}
	})

	f := NewFrankfurter(srv.URL, testOptions(), testLogger())
	quotes, err := f.GetQuotes(context.Background(), []string{"EURUSD", "GBPUSD", "EUR/GBP", "BAD"})
	require.NoError(t, err, "one failing base does not fail the batch")
	assert.Equal(t, int32(2), calls.Load())

	require.Len(t, quotes, 2)
	assert.Equal(t, "EURUSD", quotes[0].Symbol)
	assert.Equal(t, 1.0875, quotes[0].Price)
	assert.Equal(t, "EUR/GBP", quotes[1].Symbol, "watched spelling is preserved")
	assert.Equal(t, market.AssetForex, quotes[1].Type)
	assert.Equal(t, "2026-03-13", quotes[1].Ts.Format("2006-01-02"))
}

func TestFrankfurter_AllBasesFailing(t *testing.T) {
	srv, _ := vendor(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	f := NewFrankfurter(srv.URL, testOptions(), testLogger())
	_, err := f.GetQuotes(context.Background(), []string{"EURUSD"})
	assert.Error(t, err)
}

func TestFrankfurter_Search(t *testing.T) {
	srv, calls := vendor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/currencies", r.URL.Path)
		_, _ = w.Write([]byte(`{"EUR":"Euro","GBP":"British Pound","USD":"United States Dollar"}`))
	})

	f := NewFrankfurter(srv.URL, testOptions(), testLogger())

	results, err := f.Search(context.Background(), "pound")
	require.NoError(t, err)
	assert.Equal(t, []market.SearchResult{{Symbol: "GBPUSD", Description: "British Pound / US Dollar"}}, results)

	results, err = f.Search(context.Background(), "usd")
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", results[0].Symbol)
	assert.Equal(t, int32(1), calls.Load(), "currency list is cached")
}
