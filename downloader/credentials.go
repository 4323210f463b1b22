package downloader

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fetchtube/internal"
	"fetchtube/utils"
)

// maxCookieFileSize caps how much of the remote cookie payload we read.
const maxCookieFileSize = 1 << 20

// Synthesized consent cookies used when the remote source is unreachable.
// They are enough to pass the consent interstitial in anonymous mode.
var fallbackCookieContent = strings.Join([]string{
	"# Netscape HTTP Cookie File",
	"# Synthesized fallback credentials",
	".youtube.com\tTRUE\t/\tTRUE\t0\tCONSENT\tYES+cb.20210328-17-p0.en+FX+999",
	".youtube.com\tTRUE\t/\tTRUE\t0\tSOCS\tCAISEwgDEgk0ODE3Nzk3MjQaAmVuIAEaBgiA_LyaBg",
	"",
}, "\n")

// CookieCache fetches and caches the session cookie bundle used by the
// extractor. It never fails: any fetch or validation problem degrades to a
// synthesized fallback bundle so the download can still proceed.
//
// The cache is a process-wide singleton shared by all concurrent downloads.
// Concurrent refreshes are serialized; last writer wins.
type CookieCache struct {
	sourceURL string
	ttl       time.Duration
	dir       string
	client    *utils.HTTPClient
	fileOps   *utils.FileOperations

	mutex   sync.Mutex
	current *internal.CredentialBundle
}

// NewCookieCache creates a cookie cache backed by the given source URL.
// Temp files holding the materialized bundle live under dir.
func NewCookieCache(cfg *internal.Config) *CookieCache {
	return &CookieCache{
		sourceURL: cfg.CookieSourceURL,
		ttl:       cfg.CookieTTL,
		dir:       cfg.DownloadDir,
		client: utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
			Timeout: cfg.CookieFetchTimeout,
		}),
		fileOps: utils.NewFileOperations(),
	}
}

// Acquire returns the active credential bundle, refreshing it when the cached
// copy is stale, invalid, or forceRefresh is set. The returned error is always
// nil; the signature keeps the interface honest for future sources that can
// genuinely fail.
func (c *CookieCache) Acquire(ctx context.Context, forceRefresh bool) (*internal.CredentialBundle, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if !forceRefresh && c.current != nil && c.current.Valid &&
		time.Since(c.current.FetchedAt) < c.ttl {
		cached := *c.current
		cached.FromCache = true
		return &cached, nil
	}

	content, err := c.fetchRemote(ctx)
	usedFallback := false
	if err != nil {
		internal.LogWarn("Cookie fetch failed, using fallback bundle: %v", err)
		content = fallbackCookieContent
		usedFallback = true
	}

	path, werr := c.materialize(content)
	if werr != nil {
		// Out of disk or permission trouble. Hand back the content with no
		// file path; the extractor adapter skips the cookie flag in that case.
		internal.LogError("Failed to write cookie file: %v", werr)
		path = ""
	}

	c.current = &internal.CredentialBundle{
		Content:      content,
		FilePath:     path,
		FetchedAt:    time.Now(),
		Valid:        true,
		FromCache:    false,
		UsedFallback: usedFallback,
	}

	source := "remote"
	if usedFallback {
		source = "fallback"
	}
	internal.CredentialRefreshes.WithLabelValues(source).Inc()

	bundle := *c.current
	return &bundle, nil
}

// Invalidate marks the cached bundle invalid so the next Acquire refreshes
// regardless of age. Called after a bot-detection outcome.
func (c *CookieCache) Invalidate() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.current != nil {
		c.current.Valid = false
	}
}

// Cleanup removes the backing temp file. Called on process shutdown.
func (c *CookieCache) Cleanup() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.current != nil && c.current.FilePath != "" {
		if err := c.fileOps.RemoveQuietly(c.current.FilePath); err != nil {
			internal.LogDebug("Cookie file cleanup failed: %v", err)
		}
	}
	c.current = nil
}

// fetchRemote downloads and validates the cookie bundle from the source URL
func (c *CookieCache) fetchRemote(ctx context.Context) (string, error) {
	if c.sourceURL == "" {
		return "", fmt.Errorf("no cookie source configured")
	}

	resp, err := c.client.GetWithContext(ctx, c.sourceURL, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCookieFileSize))
	if err != nil {
		return "", fmt.Errorf("failed to read cookie payload: %w", err)
	}

	content := string(body)
	if err := validateCookieContent(content); err != nil {
		return "", err
	}
	return content, nil
}

// materialize writes the bundle to the cache's temp file, replacing any
// previous copy so stale files never accumulate.
func (c *CookieCache) materialize(content string) (string, error) {
	path := filepath.Join(c.dir, "session_cookies.txt")
	if err := c.fileOps.ReplaceFile(path, []byte(content), 0600); err != nil {
		return "", err
	}
	return path, nil
}

// validateCookieContent checks the payload is a Netscape-format cookie file
// with at least one cookie scoped to the target site's domain.
func validateCookieContent(content string) error {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "# Netscape HTTP Cookie File") &&
		!strings.HasPrefix(trimmed, "# HTTP Cookie File") {
		return fmt.Errorf("missing cookie file header")
	}

	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) >= 7 && strings.Contains(fields[0], "youtube.com") {
			return nil
		}
	}
	return fmt.Errorf("no cookies scoped to the target domain")
}
