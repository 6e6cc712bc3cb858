package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"microtrax/utils"
)

func newTestApp(t *testing.T, apiKeys ...string) *application {
	t.Helper()
	tokens, err := utils.NewManager("test-secret")
	if err != nil {
		t.Fatal(err)
	}
	app := &application{
		infoLog:  log.New(io.Discard, "", 0),
		errorLog: log.New(io.Discard, "", 0),
		tokens:   tokens,
	}
	for _, k := range apiKeys {
		h, err := bcrypt.GenerateFromPassword([]byte(k), bcrypt.MinCost)
		if err != nil {
			t.Fatal(err)
		}
		app.apiKeyHashes = append(app.apiKeyHashes, h)
	}
	return app
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestRequireAPIKey(t *testing.T) {
	app := newTestApp(t, "game-server-key")
	h := app.requireAPIKey(okHandler)

	tests := []struct {
		name string
		key  string
		want int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "other", http.StatusUnauthorized},
		{"valid", "game-server-key", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/steam/user/reliability", nil)
			if tt.key != "" {
				req.Header.Set("X-API-Key", tt.key)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	app := newTestApp(t)
	h := app.requireAdmin(okHandler)

	admin, _ := app.tokens.NewJWT("ops", utils.RoleAdmin, time.Hour)
	viewer, _ := app.tokens.NewJWT("ops", "viewer", time.Hour)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"garbage", "Bearer abc", http.StatusUnauthorized},
		{"wrong role", "Bearer " + viewer, http.StatusForbidden},
		{"admin", "Bearer " + admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/transactions", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestRecoverPanic(t *testing.T) {
	app := newTestApp(t)
	h := app.recoverPanic(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if rr.Header().Get("Connection") != "close" {
		t.Fatal("expected Connection: close")
	}
	if !strings.Contains(rr.Body.String(), `"error"`) {
		t.Fatalf("body = %s", rr.Body.String())
	}
}

func TestRequestID(t *testing.T) {
	var seen string
	h := requestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(ctxRequestID).(string)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || rr.Header().Get("X-Request-ID") != seen {
		t.Fatalf("generated id %q, header %q", seen, rr.Header().Get("X-Request-ID"))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if seen != "abc-123" {
		t.Fatalf("caller id not kept: %q", seen)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(2, time.Hour)
	h := rl.Handler(okHandler)

	do := func(addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/steam/purchase/init", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 2; i++ {
		if code := do("198.51.100.1:4000"); code != http.StatusOK {
			t.Fatalf("request %d: status %d", i, code)
		}
	}
	if code := do("198.51.100.1:4001"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := do("198.51.100.2:4000"); code != http.StatusOK {
		t.Fatalf("other caller limited: %d", code)
	}
}

func TestRateLimiter_UnknownKeysShareCallerBucket(t *testing.T) {
	app := newTestApp(t, "game-server-key")
	rl := newRateLimiter(1, time.Hour)
	h := rl.Handler(app.requireAPIKey(okHandler))

	do := func(key string) int {
		req := httptest.NewRequest(http.MethodPost, "/steam/user/reliability", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		req.Header.Set("X-API-Key", key)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := do("guess-1"); code != http.StatusUnauthorized {
		t.Fatalf("first unknown key: status %d", code)
	}
	if code := do("guess-2"); code != http.StatusTooManyRequests {
		t.Fatalf("second unknown key: expected 429, got %d", code)
	}
	if len(rl.visitors) != 1 {
		t.Fatalf("visitors = %d, want 1", len(rl.visitors))
	}
	for key := range rl.visitors {
		if strings.Contains(key, "guess") {
			t.Fatalf("raw key used as bucket: %q", key)
		}
	}
}

func TestRateLimiter_VerifiedKeyBucket(t *testing.T) {
	app := newTestApp(t, "key-one", "key-two")
	rl := newRateLimiter(1, time.Hour)
	h := app.requireAPIKey(rl.Handler(okHandler))

	do := func(key, addr string) int {
		req := httptest.NewRequest(http.MethodPost, "/steam/purchase/init", nil)
		req.RemoteAddr = addr
		req.Header.Set("X-API-Key", key)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := do("key-one", "198.51.100.1:4000"); code != http.StatusOK {
		t.Fatalf("status %d", code)
	}
	// same key from another address draws from the same bucket
	if code := do("key-one", "198.51.100.2:4000"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if code := do("key-two", "198.51.100.1:4000"); code != http.StatusOK {
		t.Fatalf("other key limited: %d", code)
	}
	if code := do("not-a-key", "198.51.100.3:4000"); code != http.StatusUnauthorized {
		t.Fatalf("unknown key: status %d", code)
	}
	if len(rl.visitors) != 2 {
		t.Fatalf("visitors = %d, want 2", len(rl.visitors))
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := newRateLimiter(5, time.Minute)
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.getLimiter("ip:1.2.3.4")

	rl.now = func() time.Time { return now.Add(2 * time.Minute) }
	rl.getLimiter("ip:5.6.7.8")
	rl.Cleanup()

	if _, ok := rl.visitors["ip:1.2.3.4"]; ok {
		t.Fatal("idle visitor kept")
	}
	if _, ok := rl.visitors["ip:5.6.7.8"]; !ok {
		t.Fatal("active visitor dropped")
	}
}

func TestClientKey(t *testing.T) {
	rl := newRateLimiter(1, time.Minute)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")
	if got := rl.clientKey(req); got != "ip:10.0.0.1" {
		t.Fatalf("untrusted peer: got %q", got)
	}

	var err error
	rl.trusted, err = parseTrustedProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatal(err)
	}
	if got := rl.clientKey(req); got != "ip:203.0.113.9" {
		t.Fatalf("trusted peer: got %q", got)
	}
	// a hop the client wrote itself is left of the first untrusted one
	req.Header.Set("X-Forwarded-For", "1.1.1.1, 203.0.113.9")
	if got := rl.clientKey(req); got != "ip:203.0.113.9" {
		t.Fatalf("spoofed hop: got %q", got)
	}

	req.Header.Set("X-API-Key", "k")
	if got := rl.clientKey(req); got != "ip:203.0.113.9" {
		t.Fatalf("unverified key used: %q", got)
	}
	req = req.WithContext(context.WithValue(req.Context(), ctxAPIKey, "0"))
	if got := rl.clientKey(req); got != "key:0" {
		t.Fatalf("got %q", got)
	}
}

func TestParseTrustedProxies(t *testing.T) {
	nets, err := parseTrustedProxies([]string{"127.0.0.1", " 10.0.0.0/8 ", "", "::1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(nets) != 3 {
		t.Fatalf("parsed %d networks", len(nets))
	}
	if _, err := parseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Fatal("expected error for bad address")
	}
	if _, err := parseTrustedProxies([]string{"10.0.0.0/99"}); err == nil {
		t.Fatal("expected error for bad CIDR")
	}
}

func TestRequireAdminStream(t *testing.T) {
	app := newTestApp(t)
	h := app.requireAdminStream(okHandler)
	admin, _ := app.tokens.NewJWT("ops", utils.RoleAdmin, time.Hour)

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"no credentials", "/ws/purchases", "", http.StatusUnauthorized},
		{"bad query token", "/ws/purchases?token=abc", "", http.StatusUnauthorized},
		{"query token", "/ws/purchases?token=" + admin, "", http.StatusOK},
		{"header token", "/ws/purchases", "Bearer " + admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}

	// plain admin routes keep ignoring the query string
	req := httptest.NewRequest(http.MethodGet, "/admin/transactions?token="+admin, nil)
	rr := httptest.NewRecorder()
	app.requireAdmin(okHandler).ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("requireAdmin accepted query token: %d", rr.Code)
	}
}
