package http_test

import (
	"context"
	"encoding/json"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	backendhttp "github.com/vivek1240/docling-api/adapters/http"
	"github.com/vivek1240/docling-api/domain/convert"
	"github.com/vivek1240/docling-api/ports"
)

func newTestClient(t *testing.T, serverURL string, cfg backendhttp.BackendConfig) *backendhttp.BackendClient {
	t.Helper()
	cfg.BaseURL = serverURL
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = time.Millisecond
	}
	client, err := backendhttp.NewBackendClient(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewBackendClient: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func sampleRequest() convert.Request {
	return convert.Request{
		Sources: []convert.Source{{Kind: "http", URL: "https://example.com/report.pdf"}},
		Options: convert.Options{ToFormats: []string{"md"}},
	}
}

func TestConvertSuccess(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.Method != nethttp.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1alpha/convert/source" {
			t.Errorf("path = %s, want /v1alpha/convert/source", r.URL.Path)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("content type = %s", got)
		}

		var req convert.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Sources) != 1 || req.Sources[0].URL != "https://example.com/report.pdf" {
			t.Errorf("unexpected sources: %+v", req.Sources)
		}

		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"source": req.Sources[0].URL, "status": "success", "pages": 12, "markdown": "# Report"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, backendhttp.BackendConfig{})

	result, err := client.Convert(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(result.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(result.Results))
	}
	doc := result.Results[0]
	if doc.Status != convert.StatusSuccess {
		t.Errorf("status = %s, want success", doc.Status)
	}
	if doc.Pages != 12 {
		t.Errorf("pages = %d, want 12", doc.Pages)
	}
	if doc.Markdown != "# Report" {
		t.Errorf("markdown = %q", doc.Markdown)
	}
	if result.ProcessingTimeMs < 0 {
		t.Errorf("processing time = %d", result.ProcessingTimeMs)
	}
}

func TestConvertRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(nethttp.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"source": "s", "status": "success", "pages": 1}},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, backendhttp.BackendConfig{})

	var retries atomic.Int32
	client.OnRetry(func() { retries.Add(1) })

	result, err := client.Convert(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(result.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(result.Results))
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("backend calls = %d, want 3", got)
	}
	if got := retries.Load(); got != 2 {
		t.Errorf("retries = %d, want 2", got)
	}
}

func TestConvertGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		calls.Add(1)
		w.WriteHeader(nethttp.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, backendhttp.BackendConfig{MaxRetries: 3})

	_, err := client.Convert(context.Background(), sampleRequest())
	if !errors.Is(err, ports.ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("backend calls = %d, want 3", got)
	}
}

func TestConvertClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		calls.Add(1)
		w.WriteHeader(nethttp.StatusUnprocessableEntity)
		w.Write([]byte(`{"detail":"unsupported format"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, backendhttp.BackendConfig{})

	_, err := client.Convert(context.Background(), sampleRequest())
	if err == nil {
		t.Fatal("expected error for 422 response")
	}
	if errors.Is(err, ports.ErrBackendTimeout) {
		t.Errorf("422 should not map to timeout: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("backend calls = %d, want 1 (no retries on 4xx)", got)
	}
}

func TestConvertTimeout(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, backendhttp.BackendConfig{Timeout: 50 * time.Millisecond})

	_, err := client.Convert(context.Background(), sampleRequest())
	if !errors.Is(err, ports.ErrBackendTimeout) {
		t.Fatalf("err = %v, want ErrBackendTimeout", err)
	}
}

func TestConvertConnectionRefused(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {}))
	server.Close() // nothing listening any more

	client := newTestClient(t, server.URL, backendhttp.BackendConfig{MaxRetries: 2})

	_, err := client.Convert(context.Background(), sampleRequest())
	if !errors.Is(err, ports.ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
}

func TestConvertPartialFailurePassthrough(t *testing.T) {
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"source": "a", "status": "success", "pages": 3},
				{"source": "b", "status": "failure", "error": "could not fetch source"},
			},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, backendhttp.BackendConfig{})

	result, err := client.Convert(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(result.Results))
	}
	if result.Results[0].Status != convert.StatusSuccess {
		t.Errorf("first status = %s", result.Results[0].Status)
	}
	if result.Results[1].Status != convert.StatusFailure {
		t.Errorf("second status = %s", result.Results[1].Status)
	}
	if result.Results[1].Error != "could not fetch source" {
		t.Errorf("second error = %q", result.Results[1].Error)
	}

	docs, pages := convert.Tally(result.Results)
	if docs != 1 || pages != 3 {
		t.Errorf("tally = (%d, %d), want (1, 3)", docs, pages)
	}
}

func TestHealthCheck(t *testing.T) {
	healthy := true
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("path = %s, want /health", r.URL.Path)
		}
		if !healthy {
			w.WriteHeader(nethttp.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, backendhttp.BackendConfig{})

	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}

	healthy = false
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ports.ErrBackendUnavailable) {
		t.Fatalf("err = %v, want ErrBackendUnavailable", err)
	}
}

func TestNewBackendClientBadURL(t *testing.T) {
	_, err := backendhttp.NewBackendClient(backendhttp.BackendConfig{BaseURL: "://bad"}, zerolog.Nop())
	if err == nil {
		t.Fatal("expected error for invalid URL")
	}
}
