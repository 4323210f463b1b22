package downloader

import (
	"math/rand"
	"strings"

	"fetchtube/internal"
)

// ProxySelector holds the configured upstream proxy list and picks one per
// download attempt. An empty list means the extractor runs direct.
type ProxySelector struct {
	proxies []string
}

// NewProxySelector parses a raw proxy list. Entries may be separated by
// commas, semicolons, or newlines; entries without an http/socks scheme are
// dropped with a warning.
func NewProxySelector(raw string) *ProxySelector {
	return &ProxySelector{proxies: parseProxyList(raw)}
}

// List returns the configured proxies
func (s *ProxySelector) List() []string {
	out := make([]string, len(s.proxies))
	copy(out, s.proxies)
	return out
}

// Pick selects a proxy uniformly at random, or "" when none are configured
func (s *ProxySelector) Pick() string {
	if len(s.proxies) == 0 {
		return ""
	}
	return s.proxies[rand.Intn(len(s.proxies))]
}

func parseProxyList(raw string) []string {
	separators := func(r rune) bool {
		return r == ',' || r == ';' || r == '\n' || r == '\r'
	}

	var proxies []string
	for _, entry := range strings.FieldsFunc(raw, separators) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if !hasProxyScheme(entry) {
			internal.LogWarn("Ignoring proxy with unsupported scheme: %s", entry)
			continue
		}
		proxies = append(proxies, entry)
	}
	return proxies
}

func hasProxyScheme(entry string) bool {
	lower := strings.ToLower(entry)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "socks4://") ||
		strings.HasPrefix(lower, "socks5://") ||
		strings.HasPrefix(lower, "socks5h://")
}
