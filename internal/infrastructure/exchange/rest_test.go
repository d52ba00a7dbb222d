package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"go.uber.org/zap"

	"github.com/OrWestSide/crypto-trading/internal/domain"
)

func TestRESTClient_Success(t *testing.T) {
	var gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	c := newRESTClient("test", server.URL, nil, nil, zap.NewNop())
	params := url.Values{}
	params.Set("symbol", "BTCUSDT")

	body, err := c.do(context.Background(), "GET", "/ping", params, nil, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Errorf("body = %s", body)
	}
	if gotQuery != "symbol=BTCUSDT" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestRESTClient_ExchangeFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer server.Close()

	c := newRESTClient("test", server.URL, nil, nil, zap.NewNop())
	body, err := c.do(context.Background(), "GET", "/fapi/v1/klines", nil, nil, false)
	if body != nil {
		t.Errorf("expected nil body, got %s", body)
	}
	if !errors.Is(err, domain.ErrExchange) {
		t.Fatalf("expected ErrExchange, got %v", err)
	}
	var failure *domain.RequestFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected *RequestFailure, got %T", err)
	}
	if failure.StatusCode != http.StatusBadRequest || failure.Body != `{"code":-1121,"msg":"Invalid symbol."}` {
		t.Errorf("unexpected failure %+v", failure)
	}
}

func TestRESTClient_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	c := newRESTClient("test", addr, nil, nil, zap.NewNop())
	_, err := c.do(context.Background(), "GET", "/fapi/v1/exchangeInfo", nil, nil, false)
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if errors.Is(err, domain.ErrExchange) {
		t.Fatal("transport failure must not match ErrExchange")
	}
}

func TestRESTClient_SignedRequestCarriesHeaders(t *testing.T) {
	var header http.Header
	var query string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Clone()
		query = r.URL.RawQuery
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	signer := NewQuerySigner("key", "secret")
	signer.now = fixedNow
	c := newRESTClient("test", server.URL, nil, signer, zap.NewNop())

	if _, err := c.do(context.Background(), "GET", "/fapi/v1/account", url.Values{}, nil, true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if header.Get("X-MBX-APIKEY") != "key" {
		t.Errorf("missing api key header")
	}
	want := "timestamp=1700000000000&signature=" + hmacHex("secret", "timestamp=1700000000000")
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
}
