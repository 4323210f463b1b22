package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fetchtube/internal"
)

const validCookiePayload = "# Netscape HTTP Cookie File\n" +
	".youtube.com\tTRUE\t/\tTRUE\t0\tCONSENT\tYES+1\n" +
	".youtube.com\tTRUE\t/\tTRUE\t1999999999\tSID\tabc123\n"

func newTestCookieCache(t *testing.T, sourceURL string, ttl time.Duration) *CookieCache {
	t.Helper()
	cfg := internal.DefaultConfig()
	cfg.CookieSourceURL = sourceURL
	cfg.CookieTTL = ttl
	cfg.CookieFetchTimeout = 2 * time.Second
	cfg.DownloadDir = t.TempDir()
	return NewCookieCache(cfg)
}

func TestAcquireFetchesAndCaches(t *testing.T) {
	var fetches int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Write([]byte(validCookiePayload))
	}))
	defer server.Close()

	cache := newTestCookieCache(t, server.URL, time.Minute)
	defer cache.Cleanup()

	first, err := cache.Acquire(context.Background(), false)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if first.FromCache {
		t.Error("first acquire reported FromCache")
	}
	if first.UsedFallback {
		t.Error("first acquire reported UsedFallback")
	}
	if first.Content != validCookiePayload {
		t.Error("content does not match fetched payload")
	}
	if data, err := os.ReadFile(first.FilePath); err != nil || string(data) != validCookiePayload {
		t.Errorf("temp file mismatch: err=%v", err)
	}

	second, err := cache.Acquire(context.Background(), false)
	if err != nil {
		t.Fatalf("second Acquire failed: %v", err)
	}
	if !second.FromCache {
		t.Error("second acquire within TTL did not hit cache")
	}
	if got := atomic.LoadInt32(&fetches); got != 1 {
		t.Errorf("source fetched %d times, want 1", got)
	}
}

func TestAcquireForceRefreshBypassesCache(t *testing.T) {
	var fetches int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Write([]byte(validCookiePayload))
	}))
	defer server.Close()

	cache := newTestCookieCache(t, server.URL, time.Minute)
	defer cache.Cleanup()

	if _, err := cache.Acquire(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Acquire(context.Background(), true); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&fetches); got != 2 {
		t.Errorf("source fetched %d times, want 2", got)
	}
}

func TestAcquireTTLExpiry(t *testing.T) {
	var fetches int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Write([]byte(validCookiePayload))
	}))
	defer server.Close()

	cache := newTestCookieCache(t, server.URL, 10*time.Millisecond)
	defer cache.Cleanup()

	if _, err := cache.Acquire(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	bundle, err := cache.Acquire(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if bundle.FromCache {
		t.Error("stale bundle served from cache")
	}
	if got := atomic.LoadInt32(&fetches); got != 2 {
		t.Errorf("source fetched %d times, want 2", got)
	}
}

func TestAcquireFallbackOnFetchFailure(t *testing.T) {
	cache := newTestCookieCache(t, "http://127.0.0.1:1/cookies.txt", time.Minute)
	defer cache.Cleanup()

	bundle, err := cache.Acquire(context.Background(), false)
	if err != nil {
		t.Fatalf("Acquire must never fail, got: %v", err)
	}
	if !bundle.UsedFallback {
		t.Error("expected fallback bundle")
	}
	if !bundle.Valid {
		t.Error("fallback bundle must be marked valid")
	}
	if !strings.Contains(bundle.Content, "CONSENT") {
		t.Error("fallback bundle missing consent cookie")
	}
	if err := validateCookieContent(bundle.Content); err != nil {
		t.Errorf("fallback bundle fails its own validation: %v", err)
	}
}

func TestAcquireFallbackOnInvalidPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not a cookie file</html>"))
	}))
	defer server.Close()

	cache := newTestCookieCache(t, server.URL, time.Minute)
	defer cache.Cleanup()

	bundle, err := cache.Acquire(context.Background(), false)
	if err != nil {
		t.Fatalf("Acquire must never fail, got: %v", err)
	}
	if !bundle.UsedFallback {
		t.Error("invalid payload should degrade to fallback")
	}
}

func TestInvalidateForcesRefresh(t *testing.T) {
	var fetches int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Write([]byte(validCookiePayload))
	}))
	defer server.Close()

	cache := newTestCookieCache(t, server.URL, time.Hour)
	defer cache.Cleanup()

	if _, err := cache.Acquire(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	cache.Invalidate()
	bundle, err := cache.Acquire(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if bundle.FromCache {
		t.Error("invalidated bundle served from cache")
	}
	if got := atomic.LoadInt32(&fetches); got != 2 {
		t.Errorf("source fetched %d times, want 2", got)
	}
}

func TestCleanupRemovesTempFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(validCookiePayload))
	}))
	defer server.Close()

	cache := newTestCookieCache(t, server.URL, time.Minute)
	bundle, err := cache.Acquire(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	cache.Cleanup()
	if _, err := os.Stat(bundle.FilePath); !os.IsNotExist(err) {
		t.Errorf("temp file still present after Cleanup: %v", err)
	}
}

func TestValidateCookieContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid payload", validCookiePayload, false},
		{"alternate header", "# HTTP Cookie File\n.youtube.com\tTRUE\t/\tTRUE\t0\tCONSENT\tYES\n", false},
		{"missing header", ".youtube.com\tTRUE\t/\tTRUE\t0\tCONSENT\tYES\n", true},
		{"no domain cookie", "# Netscape HTTP Cookie File\n.example.com\tTRUE\t/\tTRUE\t0\tX\tY\n", true},
		{"header only", "# Netscape HTTP Cookie File\n", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateCookieContent(tt.content)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateCookieContent() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
