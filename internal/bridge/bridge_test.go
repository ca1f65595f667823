package bridge

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kitoko/packline/internal/order"
)

func samplePacked() order.PackedOrder {
	return order.PackedOrder{
		OrderID:       "A1",
		PackedAt:      1700000000000,
		OperatorEmail: "op@example.com",
		Items:         []order.PackedItem{{SKU: "X", Quantity: 2}},
	}
}

func TestHTTPBridge_Upload(t *testing.T) {
	var gotPath string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewHTTP(srv.URL, time.Second)
	require.NoError(t, err)

	require.NoError(t, b.Upload(context.Background(), samplePacked(), "uid-1"))

	assert.Equal(t, "/users/uid-1/packedOrders/A1_1700000000000", gotPath)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &doc))
	assert.Equal(t, "A1", doc["orderId"])
	assert.Equal(t, "op@example.com", doc["operatorEmail"])
}

func TestHTTPBridge_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	b, err := NewHTTP(srv.URL, time.Second)
	require.NoError(t, err)

	err = b.Upload(context.Background(), samplePacked(), "uid-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestHTTPBridge_ServerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // Deliberately closed before use.

	b, err := NewHTTP(srv.URL, time.Second)
	require.NoError(t, err)

	err = b.Upload(context.Background(), samplePacked(), "uid-1")
	assert.Error(t, err)
}

func TestNewHTTP_RejectsRelativeURL(t *testing.T) {
	_, err := NewHTTP("not-a-url", time.Second)
	assert.Error(t, err)
}

func TestNop_AlwaysSucceeds(t *testing.T) {
	assert.NoError(t, Nop{}.Upload(context.Background(), samplePacked(), "uid-1"))
}
