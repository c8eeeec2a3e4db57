// Package generator provides the Generator adapters spec.md §4.6 names:
// pluggable caption production from a task's content metadata, with a
// process-local cache so identical inputs never incur a second charge on
// retry (§4.6's determinism requirement).
package generator

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"publishengine/internal/apperrors"
	"publishengine/internal/httpclient"
	"publishengine/internal/logging"
)

// Config is the Generator's tunable behavior, sourced from
// config.GeneratorConfig.
type Config struct {
	Enabled       bool
	Endpoint      string
	Language      string
	StyleHints    []string
	MaxCaptionLen int
	Timeout       time.Duration
	CacheSize     int
}

type contentMeta struct {
	Caption string `json:"caption"`
}

// existingCaption reads a pre-authored caption out of content_data, the
// same sidecar shape the Scanner writes.
func existingCaption(contentData []byte) (string, bool) {
	if len(contentData) == 0 {
		return "", false
	}
	var meta contentMeta
	if err := json.Unmarshal(contentData, &meta); err != nil {
		return "", false
	}
	return meta.Caption, meta.Caption != ""
}

// NoopGenerator is the passthrough reference implementation: it never
// calls out, returning whatever caption the Scanner already embedded in
// content_data. It exists so a deployment can run with
// generator.enabled=false end to end without a nil Generator special case.
type NoopGenerator struct{}

func (NoopGenerator) Generate(ctx context.Context, contentData []byte) (string, error) {
	if caption, ok := existingCaption(contentData); ok {
		return caption, nil
	}
	return "", &apperrors.PermanentError{Message: "no caption present in content_data and generator is a passthrough"}
}

func (NoopGenerator) Name() string { return "noop" }

func (NoopGenerator) Healthy(ctx context.Context) error { return nil }

// Underlying is the interface CachingGenerator and the Worker Pool both
// hold: anything that turns content_data into a caption.
type Underlying interface {
	Generate(ctx context.Context, contentData []byte) (string, error)
}

// CachingGenerator wraps another Generator with an LRU cache keyed by a
// hash of (content_data, language, style hints), so retrying a task after
// a transient publish failure never regenerates (and re-charges for) the
// same caption — spec.md §4.6's "MUST be deterministic ... to avoid charge
// duplication on retry."
type CachingGenerator struct {
	underlying Underlying
	cache      *lru.Cache[string, string]
	language   string
	styleHints []string
	name       string
}

// NewCachingGenerator wraps underlying with a cache of the given size. A
// size <= 0 disables caching, degrading to a direct passthrough to
// underlying — mirroring the teacher's own "size <= 0 disables caching"
// convention for its LLM client cache.
func NewCachingGenerator(underlying Underlying, name string, language string, styleHints []string, size int) *CachingGenerator {
	var cache *lru.Cache[string, string]
	if size > 0 {
		c, err := lru.New[string, string](size)
		if err == nil {
			cache = c
		}
	}
	return &CachingGenerator{underlying: underlying, cache: cache, language: language, styleHints: styleHints, name: name}
}

func (g *CachingGenerator) Generate(ctx context.Context, contentData []byte) (string, error) {
	key := g.cacheKey(contentData)
	if g.cache != nil {
		if cached, ok := g.cache.Get(key); ok {
			return cached, nil
		}
	}
	caption, err := g.underlying.Generate(ctx, contentData)
	if err != nil {
		return "", err
	}
	if g.cache != nil {
		g.cache.Add(key, caption)
	}
	return caption, nil
}

func (g *CachingGenerator) Name() string { return g.name }

func (g *CachingGenerator) Healthy(ctx context.Context) error {
	if h, ok := g.underlying.(interface{ Healthy(context.Context) error }); ok {
		return h.Healthy(ctx)
	}
	return nil
}

func (g *CachingGenerator) cacheKey(contentData []byte) string {
	h := sha256.New()
	h.Write(contentData)
	h.Write([]byte{0})
	h.Write([]byte(g.language))
	for _, hint := range g.styleHints {
		h.Write([]byte{0})
		h.Write([]byte(hint))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HTTPGenerator calls a remote captioning API: POST content_data (plus
// language and style hints) to cfg.Endpoint, expecting a JSON
// {"caption": "..."} response truncated to cfg.MaxCaptionLen.
type HTTPGenerator struct {
	cfg    Config
	client *http.Client
}

// NewHTTPGenerator builds an HTTPGenerator whose transport is guarded by a
// circuit breaker, per the teacher's retryClient/circuitBreaker pairing for
// any external API client.
func NewHTTPGenerator(cfg Config, logger logging.Logger) *HTTPGenerator {
	client := httpclient.NewWithCircuitBreaker(cfg.Timeout, logger, "generator")
	return &HTTPGenerator{cfg: cfg, client: client}
}

type generateRequest struct {
	ContentData json.RawMessage `json:"content_data"`
	Language    string          `json:"language"`
	StyleHints  []string        `json:"style_hints,omitempty"`
}

type generateResponse struct {
	Caption string `json:"caption"`
}

func (g *HTTPGenerator) Generate(ctx context.Context, contentData []byte) (string, error) {
	body, err := json.Marshal(generateRequest{ContentData: contentData, Language: g.cfg.Language, StyleHints: g.cfg.StyleHints})
	if err != nil {
		return "", &apperrors.PermanentError{Err: err, Message: "failed to encode generator request"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", &apperrors.PermanentError{Err: err, Message: "failed to build generator request"}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", &apperrors.TransientError{Err: err, Message: "generator request failed"}
	}
	defer resp.Body.Close()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, 1<<20)
	if err != nil {
		return "", &apperrors.TransientError{Err: err, Message: "failed to read generator response"}
	}

	if err := classifyStatus(resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		return "", err
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &apperrors.TransientError{Err: err, Message: "generator returned malformed response"}
	}
	caption := parsed.Caption
	if g.cfg.MaxCaptionLen > 0 && len(caption) > g.cfg.MaxCaptionLen {
		caption = caption[:g.cfg.MaxCaptionLen]
	}
	return caption, nil
}

func (g *HTTPGenerator) Name() string { return "http" }

func (g *HTTPGenerator) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.Endpoint, nil)
	if err != nil {
		return &apperrors.PermanentError{Err: err, Message: "failed to build generator health check"}
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return &apperrors.TransientError{Err: err, Message: "generator unreachable"}
	}
	defer resp.Body.Close()
	return classifyStatus(resp.StatusCode, resp.Header.Get("Retry-After"))
}

// classifyStatus maps an HTTP response into the transient/permanent/quota
// taxonomy shared with the Publisher, mirroring the teacher's
// classifyLLMError status-code switch in internal/infra/llm/retry_client.go.
func classifyStatus(status int, retryAfter string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return apperrors.NewQuota(fmt.Errorf("http status %d", status), "rate limited", parseRetryAfter(retryAfter))
	case status >= 500:
		return &apperrors.TransientError{Err: fmt.Errorf("http status %d", status), Message: "server error"}
	default:
		return &apperrors.PermanentError{Err: fmt.Errorf("http status %d", status), Message: "request rejected"}
	}
}

func parseRetryAfter(header string) int64 {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.ParseInt(header, 10, 64); err == nil && seconds > 0 {
		return seconds
	}
	return 0
}
