package generator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"publishengine/internal/apperrors"
)

func TestNoopGeneratorReturnsExistingCaption(t *testing.T) {
	g := NoopGenerator{}
	contentData, err := json.Marshal(contentMeta{Caption: "hello world"})
	require.NoError(t, err)

	caption, err := g.Generate(context.Background(), contentData)
	require.NoError(t, err)
	require.Equal(t, "hello world", caption)
}

func TestNoopGeneratorErrorsWithoutCaption(t *testing.T) {
	g := NoopGenerator{}
	_, err := g.Generate(context.Background(), []byte(`{}`))
	require.Error(t, err)
}

type countingGenerator struct {
	calls   int
	caption string
}

func (c *countingGenerator) Generate(ctx context.Context, contentData []byte) (string, error) {
	c.calls++
	return c.caption, nil
}

func TestCachingGeneratorReturnsCachedCaptionOnSecondCall(t *testing.T) {
	underlying := &countingGenerator{caption: "cached caption"}
	g := NewCachingGenerator(underlying, "counting", "en", nil, 16)

	contentData := []byte(`{"id":1}`)
	first, err := g.Generate(context.Background(), contentData)
	require.NoError(t, err)
	second, err := g.Generate(context.Background(), contentData)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, underlying.calls)
}

func TestCachingGeneratorDistinguishesDifferentContent(t *testing.T) {
	underlying := &countingGenerator{caption: "caption"}
	g := NewCachingGenerator(underlying, "counting", "en", nil, 16)

	_, err := g.Generate(context.Background(), []byte(`{"id":1}`))
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), []byte(`{"id":2}`))
	require.NoError(t, err)

	require.Equal(t, 2, underlying.calls)
}

func TestCachingGeneratorZeroSizeDisablesCache(t *testing.T) {
	underlying := &countingGenerator{caption: "caption"}
	g := NewCachingGenerator(underlying, "counting", "en", nil, 0)

	contentData := []byte(`{"id":1}`)
	_, err := g.Generate(context.Background(), contentData)
	require.NoError(t, err)
	_, err = g.Generate(context.Background(), contentData)
	require.NoError(t, err)

	require.Equal(t, 2, underlying.calls)
}

func TestHTTPGeneratorSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"caption":"a generated caption"}`))
	}))
	defer srv.Close()

	g := NewHTTPGenerator(Config{Endpoint: srv.URL, Language: "en"}, nil)
	caption, err := g.Generate(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, "a generated caption", caption)
}

func TestHTTPGeneratorTruncatesToMaxCaptionLen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"caption":"0123456789"}`))
	}))
	defer srv.Close()

	g := NewHTTPGenerator(Config{Endpoint: srv.URL, MaxCaptionLen: 5}, nil)
	caption, err := g.Generate(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	require.Equal(t, "01234", caption)
}

func TestHTTPGeneratorClassifiesQuotaResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	g := NewHTTPGenerator(Config{Endpoint: srv.URL}, nil)
	_, err := g.Generate(context.Background(), []byte(`{}`))
	require.Error(t, err)

	cooldown, ok := apperrors.IsQuota(err)
	require.True(t, ok)
	require.Equal(t, int64(30), cooldown)
}

func TestHTTPGeneratorClassifiesPermanentResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	g := NewHTTPGenerator(Config{Endpoint: srv.URL}, nil)
	_, err := g.Generate(context.Background(), []byte(`{}`))
	require.Error(t, err)
}
