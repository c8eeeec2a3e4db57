package publisher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"publishengine/internal/apperrors"
)

func TestLoggingPublisherReturnsSyntheticID(t *testing.T) {
	p := NewLoggingPublisher(nil)
	id, err := p.Publish(context.Background(), "clip.mp4", "a caption")
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func writeTempMedia(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestHTTPPublisherPublishSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/media", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(uploadResponse{MediaID: "m-1"})
	})
	mux.HandleFunc("/posts", func(w http.ResponseWriter, r *http.Request) {
		var req createPostRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "m-1", req.MediaID)
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(postResponse{PostID: "p-1"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mediaPath := writeTempMedia(t, "fake video bytes")
	p := NewHTTPPublisher(Config{Endpoint: srv.URL}, nil)
	id, err := p.Publish(context.Background(), mediaPath, "caption")
	require.NoError(t, err)
	require.Equal(t, "p-1", id)
}

func TestHTTPPublisherMissingMediaIsPermanent(t *testing.T) {
	p := NewHTTPPublisher(Config{Endpoint: "http://127.0.0.1:0"}, nil)
	_, err := p.Publish(context.Background(), "/does/not/exist.mp4", "caption")
	require.Error(t, err)
	require.True(t, apperrors.IsPermanent(err))
}

func TestHTTPPublisherClassifiesQuotaOnUpload(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/media", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "45")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mediaPath := writeTempMedia(t, "fake video bytes")
	p := NewHTTPPublisher(Config{Endpoint: srv.URL}, nil)
	_, err := p.Publish(context.Background(), mediaPath, "caption")
	require.Error(t, err)

	cooldown, ok := apperrors.IsQuota(err)
	require.True(t, ok)
	require.Equal(t, int64(45), cooldown)
}

func TestHTTPPublisherClassifiesTransientServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/media", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(uploadResponse{MediaID: "m-1"})
	})
	mux.HandleFunc("/posts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mediaPath := writeTempMedia(t, "fake video bytes")
	p := NewHTTPPublisher(Config{Endpoint: srv.URL}, nil)
	_, err := p.Publish(context.Background(), mediaPath, "caption")
	require.Error(t, err)
	require.True(t, apperrors.IsTransient(err))
}
