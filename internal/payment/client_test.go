package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPayInvoiceSuccess(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pay" {
			t.Errorf("path = %q, want /pay", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.PayInvoice(context.Background(), 2500, "payout-addr", map[string]string{"documentId": "doc-1"})
	if err != nil {
		t.Fatalf("PayInvoice failed: %v", err)
	}
	if got["amount"] != float64(2500) {
		t.Errorf("amount = %v, want 2500", got["amount"])
	}
	if got["address"] != "payout-addr" {
		t.Errorf("address = %v", got["address"])
	}
}

func TestPayInvoiceGatewayReason(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "route not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.PayInvoice(context.Background(), 100, "payout-addr", nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "route not found") {
		t.Errorf("error = %v, want gateway reason surfaced", err)
	}
}

func TestPayInvoiceStatusOnlyFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(server.URL)
	err := client.PayInvoice(context.Background(), 100, "payout-addr", nil)
	if err == nil || !strings.Contains(err.Error(), "status 502") {
		t.Errorf("error = %v, want status 502 mentioned", err)
	}
}

func TestPayInvoiceContextCancellation(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server starts its background read and can
		// observe the client disconnect; otherwise r.Context() is never
		// canceled and Close deadlocks.
		_, _ = io.Copy(io.Discard, r.Body)
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	client := NewClient(server.URL)
	if err := client.PayInvoice(ctx, 100, "payout-addr", nil); err == nil {
		t.Fatal("expected error after cancellation")
	}
}
