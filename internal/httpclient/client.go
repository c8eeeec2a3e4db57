package httpclient

import (
	"net/http"
	"time"

	"publishengine/internal/logging"
)

// New returns an http.Client configured for outbound calls to a Generator
// or Publisher adapter's remote API, honoring HTTP(S)_PROXY/NO_PROXY via
// the default transport's proxy policy.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: Transport(),
	}
}

// Transport returns a clone of the default transport so callers (notably
// WrapTransportWithCircuitBreaker) can layer behavior without mutating the
// process-wide http.DefaultTransport.
func Transport() *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{Proxy: http.ProxyFromEnvironment}
	}
	return base.Clone()
}
