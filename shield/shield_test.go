package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/omnifetch/kit"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestTraceID(t *testing.T) {
	var gotTrace string
	var gotLogger bool
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTrace = kit.GetTraceID(r.Context())
		gotLogger = r.Context().Value(LoggerKey) != nil
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	hdr := rec.Header().Get("X-Trace-ID")
	if len(hdr) != 16 {
		t.Fatalf("X-Trace-ID = %q, want 16 hex chars", hdr)
	}
	if gotTrace != hdr {
		t.Errorf("context trace %q != header %q", gotTrace, hdr)
	}
	if !gotLogger {
		t.Error("per-request logger missing from context")
	}
}

func TestTraceID_KeepsIncoming(t *testing.T) {
	h := TraceID(ok)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "upstream-abc123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Trace-ID"); got != "upstream-abc123" {
		t.Fatalf("X-Trace-ID = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "bad value\r\n")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Trace-ID"); strings.Contains(got, " ") {
		t.Fatalf("invalid incoming trace id echoed: %q", got)
	}
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(DefaultHeaders())(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, h := range []string{"X-Content-Type-Options", "X-Frame-Options", "Referrer-Policy", "Content-Security-Policy"} {
		if rec.Header().Get(h) == "" {
			t.Errorf("missing %s", h)
		}
	}

	rec = httptest.NewRecorder()
	SecurityHeaders(Headers{"x-frame-options": "SAMEORIGIN", "Referrer-Policy": ""})(ok).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get("X-Frame-Options"); got != "SAMEORIGIN" {
		t.Errorf("X-Frame-Options = %q, want SAMEORIGIN", got)
	}
	if _, set := rec.Header()["Referrer-Policy"]; set {
		t.Error("empty header value should leave the header unset")
	}
}

func TestHeadToGet(t *testing.T) {
	var method string
	h := HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { method = r.Method }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodHead, "/health", nil))
	if method != http.MethodGet {
		t.Fatalf("method = %s", method)
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/extract", strings.NewReader(`{"url":"https://example.com"}`)))
	if readErr == nil {
		t.Fatal("expected body limit error")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, "/health")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Middleware(ok)

	do := func(path, ip string) int {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	// Burst of 2, then blocked.
	for i, want := range []int{200, 200, 429} {
		if got := do("/extract", "203.0.113.1"); got != want {
			t.Fatalf("request %d: status %d, want %d", i, got, want)
		}
	}
	// Other clients are independent.
	if got := do("/extract", "203.0.113.2"); got != 200 {
		t.Fatalf("second client: status %d", got)
	}
	// Exempt prefix.
	if got := do("/health", "203.0.113.1"); got != 200 {
		t.Fatalf("exempt path: status %d", got)
	}
	// Tokens refill.
	now = now.Add(2 * time.Second)
	if got := do("/extract", "203.0.113.1"); got != 200 {
		t.Fatalf("after refill: status %d", got)
	}
}

func TestRateLimiter_GC(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.limiter("198.51.100.7")

	now = now.Add(clientIdleTTL + time.Second)
	rl.gc()
	if len(rl.clients) != 0 {
		t.Fatalf("clients = %d, want 0", len(rl.clients))
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:1234"
	if got := ExtractIP(req); got != "192.0.2.10" {
		t.Errorf("RemoteAddr: got %q", got)
	}
	req.Header.Set("X-Forwarded-For", "198.51.100.1, 10.0.0.1")
	if got := ExtractIP(req); got != "198.51.100.1" {
		t.Errorf("XFF: got %q", got)
	}
}

func TestDefaultStack(t *testing.T) {
	if n := len(DefaultStack(Config{})); n != 3 {
		t.Errorf("bare stack = %d middlewares, want 3", n)
	}
	if n := len(DefaultStack(Config{RPS: 5, Burst: 10, MaxBody: 1024})); n != 5 {
		t.Errorf("full stack = %d middlewares, want 5", n)
	}
}
