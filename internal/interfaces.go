package internal

import "context"

// CredentialSource acquires cookie bundles for extractor invocations.
// Implementations never fail the caller: on fetch or validation failure they
// substitute a synthesized fallback bundle (UsedFallback=true).
type CredentialSource interface {
	Acquire(ctx context.Context, forceRefresh bool) (*CredentialBundle, error)
	Invalidate()
	Cleanup()
}

// ProxyPicker holds the configured upstream proxies and selects one per
// attempt. An empty configuration yields "" (no proxy).
type ProxyPicker interface {
	List() []string
	Pick() string
}
