// Package publisher provides the Publisher adapters spec.md §4.6 names:
// the only component that may hold platform API credentials, responsible
// for uploading media and creating the post that references it.
package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"publishengine/internal/apperrors"
	"publishengine/internal/httpclient"
	"publishengine/internal/logging"
)

// Config is the Publisher's tunable behavior, sourced from
// config.PublisherConfig.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// LoggingPublisher is the reference implementation: it never calls out,
// recording what it would have posted and returning a synthetic platform
// id of the form "dryrun-<unix nanoseconds>", so a deployment can dry-run the whole
// pipeline before wiring real credentials.
type LoggingPublisher struct {
	logger logging.Logger
}

func NewLoggingPublisher(logger logging.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logging.OrNop(logger)}
}

func (p *LoggingPublisher) Publish(ctx context.Context, mediaPath, caption string) (string, error) {
	id := fmt.Sprintf("dryrun-%d", time.Now().UnixNano())
	p.logger.Info("dry-run publish: media=%s caption=%q -> %s", mediaPath, caption, id)
	return id, nil
}

func (p *LoggingPublisher) Name() string { return "logging" }

func (p *LoggingPublisher) Healthy(ctx context.Context) error { return nil }

// HTTPPublisher uploads media in a single multipart request and creates a
// post referencing it against a Twitter/X-like platform API. Video is not
// uploaded in multiple chunked requests.
type HTTPPublisher struct {
	cfg    Config
	client *http.Client
}

// NewHTTPPublisher builds an HTTPPublisher whose transport is guarded by a
// circuit breaker, so a persistently failing platform API trips open
// rather than being hammered by every worker's retry.
func NewHTTPPublisher(cfg Config, logger logging.Logger) *HTTPPublisher {
	client := httpclient.NewWithCircuitBreaker(cfg.Timeout, logger, "publisher")
	return &HTTPPublisher{cfg: cfg, client: client}
}

type uploadResponse struct {
	MediaID string `json:"media_id"`
}

type postResponse struct {
	PostID string `json:"post_id"`
}

// Publish uploads mediaPath in one request (the file is read from disk in
// chunkSize pieces into a single multipart body, whatever its kind), then
// creates a post referencing the resulting media id.
func (p *HTTPPublisher) Publish(ctx context.Context, mediaPath, caption string) (string, error) {
	mediaID, err := p.upload(ctx, mediaPath)
	if err != nil {
		return "", err
	}
	return p.createPost(ctx, caption, mediaID)
}

const chunkSize = 4 << 20 // 4 MiB, matching typical platform chunked-upload limits

func (p *HTTPPublisher) upload(ctx context.Context, mediaPath string) (string, error) {
	f, err := os.Open(mediaPath)
	if err != nil {
		return "", &apperrors.PermanentError{Err: err, Message: "media file unreadable"}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", &apperrors.PermanentError{Err: err, Message: "media file unreadable"}
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("media", filepath.Base(mediaPath))
	if err != nil {
		return "", &apperrors.PermanentError{Err: err, Message: "failed to build upload request"}
	}

	remaining := info.Size()
	buf := make([]byte, chunkSize)
	for remaining > 0 {
		n, readErr := f.Read(buf)
		if n > 0 {
			if _, werr := part.Write(buf[:n]); werr != nil {
				return "", &apperrors.TransientError{Err: werr, Message: "failed while buffering upload chunk"}
			}
			remaining -= int64(n)
		}
		if readErr != nil {
			break
		}
	}
	if err := writer.Close(); err != nil {
		return "", &apperrors.PermanentError{Err: err, Message: "failed to finalize upload body"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+"/media", body)
	if err != nil {
		return "", &apperrors.PermanentError{Err: err, Message: "failed to build upload request"}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &apperrors.TransientError{Err: err, Message: "media upload failed"}
	}
	defer resp.Body.Close()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, 1<<16)
	if err != nil {
		return "", &apperrors.TransientError{Err: err, Message: "failed to read upload response"}
	}
	if err := classifyStatus(resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		return "", err
	}

	var parsed uploadResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &apperrors.TransientError{Err: err, Message: "upload returned malformed response"}
	}
	return parsed.MediaID, nil
}

type createPostRequest struct {
	Caption string `json:"caption"`
	MediaID string `json:"media_id"`
}

func (p *HTTPPublisher) createPost(ctx context.Context, caption, mediaID string) (string, error) {
	payload, err := json.Marshal(createPostRequest{Caption: caption, MediaID: mediaID})
	if err != nil {
		return "", &apperrors.PermanentError{Err: err, Message: "failed to encode post request"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint+"/posts", bytes.NewReader(payload))
	if err != nil {
		return "", &apperrors.PermanentError{Err: err, Message: "failed to build post request"}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &apperrors.TransientError{Err: err, Message: "post creation failed"}
	}
	defer resp.Body.Close()

	respBody, err := httpclient.ReadAllWithLimit(resp.Body, 1<<16)
	if err != nil {
		return "", &apperrors.TransientError{Err: err, Message: "failed to read post response"}
	}
	if err := classifyStatus(resp.StatusCode, resp.Header.Get("Retry-After")); err != nil {
		return "", err
	}

	var parsed postResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &apperrors.TransientError{Err: err, Message: "post creation returned malformed response"}
	}
	return parsed.PostID, nil
}

func (p *HTTPPublisher) Name() string { return "http" }

func (p *HTTPPublisher) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Endpoint+"/healthz", nil)
	if err != nil {
		return &apperrors.PermanentError{Err: err, Message: "failed to build publisher health check"}
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return &apperrors.TransientError{Err: err, Message: "publisher unreachable"}
	}
	defer resp.Body.Close()
	return classifyStatus(resp.StatusCode, resp.Header.Get("Retry-After"))
}

// classifyStatus mirrors internal/generator's classification so both
// adapters surface the same transient/permanent/quota taxonomy to the
// Worker Pool.
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
