package rail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelector(t *testing.T) {
	sel := NewSelector()
	sel.Register("mobile_money", StaticRail{})

	conn, err := sel.Select("mobile_money")
	assert.NoError(t, err)
	assert.NotNil(t, conn)

	_, err = sel.Select("carrier_pigeon")
	assert.ErrorIs(t, err, ErrUnsupportedRail)
}

func TestStaticRail(t *testing.T) {
	conn := StaticRail{}

	ref, err := conn.RequestPayment(context.Background(), PaymentRequest{Reference: "r-1", Amount: 100})
	assert.NoError(t, err)
	assert.NotEmpty(t, ref)

	result, err := conn.QueryStatus(context.Background(), ref)
	assert.NoError(t, err)
	assert.Equal(t, StatusSuccessful, result.Status)
	assert.NotEmpty(t, result.ExternalTxID)
}

func TestMobileMoneyRail_RequestPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/charges", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var charge momoChargeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&charge))
		assert.Equal(t, "ref-1", charge.Reference)
		assert.Equal(t, int64(100000), charge.Amount)
		assert.Equal(t, "233201234567", charge.Phone)

		json.NewEncoder(w).Encode(momoChargeResponse{CheckoutID: "chk-42", Status: "Pending"})
	}))
	defer srv.Close()

	conn := NewMobileMoneyRail(MobileMoneyConfig{BaseURL: srv.URL, APIKey: "test-key"})
	ref, err := conn.RequestPayment(context.Background(), PaymentRequest{
		Reference: "ref-1", Amount: 100000, Currency: "GHS", Payer: "233201234567",
	})
	assert.NoError(t, err)
	assert.Equal(t, "chk-42", ref)
}

func TestMobileMoneyRail_QueryStatus(t *testing.T) {
	tests := []struct {
		name       string
		aggregator momoStatusResponse
		want       string
	}{
		{name: "success", aggregator: momoStatusResponse{Status: "Success", TransactionID: "tx-1"}, want: StatusSuccessful},
		{name: "failed", aggregator: momoStatusResponse{Status: "Failed", Message: "payer declined"}, want: StatusFailed},
		{name: "cancelled maps to failed", aggregator: momoStatusResponse{Status: "Cancelled"}, want: StatusFailed},
		{name: "pending", aggregator: momoStatusResponse{Status: "Pending"}, want: StatusPending},
		{name: "unknown vocabulary stays pending", aggregator: momoStatusResponse{Status: "Processing"}, want: StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/charges/chk-42", r.URL.Path)
				json.NewEncoder(w).Encode(tt.aggregator)
			}))
			defer srv.Close()

			conn := NewMobileMoneyRail(MobileMoneyConfig{BaseURL: srv.URL, APIKey: "test-key"})
			result, err := conn.QueryStatus(context.Background(), "chk-42")
			assert.NoError(t, err)
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, tt.aggregator.TransactionID, result.ExternalTxID)
			assert.Equal(t, tt.aggregator.Message, result.Reason)
		})
	}
}

func TestMobileMoneyRail_AggregatorDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	conn := NewMobileMoneyRail(MobileMoneyConfig{BaseURL: srv.URL})

	_, err := conn.RequestPayment(context.Background(), PaymentRequest{Reference: "ref-1"})
	assert.ErrorIs(t, err, ErrRailUnavailable)

	_, err = conn.QueryStatus(context.Background(), "chk-42")
	assert.ErrorIs(t, err, ErrRailUnavailable)
}

func TestCryptoRail_RequestPayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/watches", r.URL.Path)
		assert.Equal(t, "watch-key", r.Header.Get("X-API-Key"))

		var watch watchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&watch))
		assert.Equal(t, 6, watch.Confirmations)

		json.NewEncoder(w).Encode(watchResponse{WatchID: "w-7"})
	}))
	defer srv.Close()

	conn := NewCryptoRail(CryptoConfig{BaseURL: srv.URL, APIKey: "watch-key"})
	ref, err := conn.RequestPayment(context.Background(), PaymentRequest{
		Reference: "ref-1", Amount: 100000, Currency: "GHS", Payer: "0xabc",
	})
	assert.NoError(t, err)
	assert.Equal(t, "w-7", ref)
}

func TestCryptoRail_QueryStatus(t *testing.T) {
	tests := []struct {
		name    string
		watcher watchStatusResponse
		want    string
	}{
		{name: "confirmed", watcher: watchStatusResponse{State: "confirmed", TxHash: "0xdead"}, want: StatusSuccessful},
		{name: "expired", watcher: watchStatusResponse{State: "expired"}, want: StatusFailed},
		{name: "rejected", watcher: watchStatusResponse{State: "rejected", Reason: "wrong amount"}, want: StatusFailed},
		{name: "still watching", watcher: watchStatusResponse{State: "watching", Confirmations: 2}, want: StatusPending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/watches/w-7", r.URL.Path)
				json.NewEncoder(w).Encode(tt.watcher)
			}))
			defer srv.Close()

			conn := NewCryptoRail(CryptoConfig{BaseURL: srv.URL})
			result, err := conn.QueryStatus(context.Background(), "w-7")
			assert.NoError(t, err)
			assert.Equal(t, tt.want, result.Status)
			assert.Equal(t, tt.watcher.TxHash, result.ExternalTxID)
		})
	}
}
