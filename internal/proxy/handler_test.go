package proxy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tokengate/tokengate/internal/auth"
	"github.com/tokengate/tokengate/internal/health"
)

func TestHandler_ProxiesToUpstream(t *testing.T) {
	t.Parallel()

	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-For") == "" {
			t.Error("Expected X-Forwarded-For header on proxied request")
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	})

	handler := mustNewHandler(t, upstream.URL, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/data", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Errorf("Expected status 201 from upstream, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Errorf("Expected upstream body, got: %s", rec.Body.String())
	}
}

func TestHandler_InjectsIdentityHeaders(t *testing.T) {
	t.Parallel()

	var gotSubject, gotDomain, gotClaims string
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotSubject = r.Header.Get(HeaderAuthSubject)
		gotDomain = r.Header.Get(HeaderAuthDomain)
		gotClaims = r.Header.Get(HeaderAuthClaims)
		w.WriteHeader(http.StatusOK)
	})

	handler := mustNewHandler(t, upstream.URL, nil)

	payload := &auth.Payload{
		Subject: "svc-batch",
		Domain:  "tenant-a",
		Claims:  map[string]any{"sub": "svc-batch", "scope": "read"},
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/data", http.NoBody)
	req = req.WithContext(auth.WithPayload(req.Context(), payload))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotSubject != "svc-batch" {
		t.Errorf("Expected X-Auth-Subject svc-batch, got %q", gotSubject)
	}
	if gotDomain != "tenant-a" {
		t.Errorf("Expected X-Auth-Domain tenant-a, got %q", gotDomain)
	}

	var claims map[string]any
	if err := json.Unmarshal([]byte(gotClaims), &claims); err != nil {
		t.Fatalf("X-Auth-Claims is not valid JSON: %v", err)
	}
	if claims["scope"] != "read" {
		t.Errorf("Expected scope claim read, got %v", claims["scope"])
	}
}

func TestHandler_StripsForgedIdentityHeaders(t *testing.T) {
	t.Parallel()

	var gotSubject, gotDomain, gotClaims string
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotSubject = r.Header.Get(HeaderAuthSubject)
		gotDomain = r.Header.Get(HeaderAuthDomain)
		gotClaims = r.Header.Get(HeaderAuthClaims)
		w.WriteHeader(http.StatusOK)
	})

	handler := mustNewHandler(t, upstream.URL, nil)

	// No verified payload in context: forged values must vanish.
	req := httptest.NewRequest(http.MethodGet, "/v1/data", http.NoBody)
	req.Header.Set(HeaderAuthSubject, "forged-admin")
	req.Header.Set(HeaderAuthDomain, "forged-domain")
	req.Header.Set(HeaderAuthClaims, `{"admin":true}`)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotSubject != "" || gotDomain != "" || gotClaims != "" {
		t.Errorf("Expected forged identity headers stripped, got subject=%q domain=%q claims=%q",
			gotSubject, gotDomain, gotClaims)
	}
}

func TestHandler_ReplacesForgedSubjectWithVerified(t *testing.T) {
	t.Parallel()

	var gotSubject string
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		gotSubject = r.Header.Get(HeaderAuthSubject)
		w.WriteHeader(http.StatusOK)
	})

	handler := mustNewHandler(t, upstream.URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/data", http.NoBody)
	req.Header.Set(HeaderAuthSubject, "forged-admin")
	req = req.WithContext(auth.WithPayload(req.Context(), &auth.Payload{Subject: "svc-real"}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if gotSubject != "svc-real" {
		t.Errorf("Expected verified subject svc-real, got %q", gotSubject)
	}
}

func TestHandler_OmitsEmptyIdentityHeaders(t *testing.T) {
	t.Parallel()

	var subjectPresent bool
	upstream := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, subjectPresent = r.Header[HeaderAuthSubject]
		w.WriteHeader(http.StatusOK)
	})

	handler := mustNewHandler(t, upstream.URL, nil)

	// Anonymous grant carries no subject; no header should appear.
	req := httptest.NewRequest(http.MethodGet, "/v1/data", http.NoBody)
	req = req.WithContext(auth.WithPayload(req.Context(), &auth.Payload{}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if subjectPresent {
		t.Error("Expected no X-Auth-Subject header for empty subject")
	}
}

func TestHandler_UpstreamDownReturns502(t *testing.T) {
	t.Parallel()

	// Start and immediately stop a backend to get a dead address.
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	deadURL := upstream.URL
	upstream.Close()

	tracker := newTestTracker()
	handler := mustNewHandler(t, deadURL, tracker)

	req := httptest.NewRequest(http.MethodGet, "/v1/data", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "api_error") {
		t.Errorf("Expected api_error body, got: %s", rec.Body.String())
	}
	if state := tracker.GetState(UpstreamTarget); state != health.StateOpen {
		t.Errorf("Expected upstream circuit open after failure, got %v", state)
	}
}

func TestHandler_FailsFastWhenCircuitOpen(t *testing.T) {
	t.Parallel()

	upstreamHits := 0
	upstream := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		upstreamHits++
		w.WriteHeader(http.StatusOK)
	})

	tracker := newTestTracker()
	handler := mustNewHandler(t, upstream.URL, tracker)

	tracker.RecordFailure(UpstreamTarget, http.ErrServerClosed)

	req := httptest.NewRequest(http.MethodGet, "/v1/data", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 with open circuit, got %d", rec.Code)
	}
	if upstreamHits != 0 {
		t.Errorf("Expected no upstream contact with open circuit, got %d hits", upstreamHits)
	}
}

func TestHandler_ChargesBreakerOnUpstream5xx(t *testing.T) {
	t.Parallel()

	upstream := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	tracker := newTestTracker()
	handler := mustNewHandler(t, upstream.URL, tracker)

	req := httptest.NewRequest(http.MethodGet, "/v1/data", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	// The upstream's own 502 passes through unchanged.
	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502 passed through, got %d", rec.Code)
	}

	// The failure opened the circuit; the next request fails fast.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/data", http.NoBody))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 after circuit opened, got %d", rec.Code)
	}
}

func TestHandler_UpstreamTimeout(t *testing.T) {
	t.Parallel()

	upstream := newUpstream(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	})

	handler, err := NewHandler(upstream.URL, 50*time.Millisecond, nil, nil)
	if err != nil {
		t.Fatalf("NewHandler failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/data", http.NoBody)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Errorf("Expected status 502 on upstream timeout, got %d", rec.Code)
	}
}

func TestNewHandler_InvalidUpstreamURL(t *testing.T) {
	t.Parallel()

	_, err := NewHandler("://not-a-url", 0, nil, nil)
	if err == nil {
		t.Fatal("Expected error for invalid upstream URL")
	}
	if !strings.Contains(err.Error(), "invalid upstream URL") {
		t.Errorf("Expected invalid upstream URL error, got: %v", err)
	}
}
