package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"turbo-gateway/internal/config"
	"turbo-gateway/internal/metrics"
	"turbo-gateway/internal/models"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "turbo-gateway/0.2"

	// Non-streaming calls get a fixed timeout. Streaming calls do not:
	// legitimate generations can run long, so liveness relies on the HTTP
	// server's idle timeout instead.
	callTimeout = 30 * time.Second

	metadataTimeout = 10 * time.Second
)

// ErrNoBody indicates an upstream response arrived without a readable body.
var ErrNoBody = errors.New("upstream response has no body")

// UpstreamError carries the status and message of a failed backend call.
type UpstreamError struct {
	Source  models.Source
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s backend returned status %d: %s", e.Source, e.Status, e.Message)
}

// Client issues HTTP calls against the local runtime and the authenticated
// remote runtime. It holds no per-request state and is safe to share
// process-wide.
type Client struct {
	localURL  string
	remoteURL string
	apiKey    string

	timed     *http.Client
	streaming *http.Client
	metrics   *metrics.Metrics
}

// New constructs a Client from configuration. Metrics may be nil.
func New(cfg config.Config, m *metrics.Metrics) *Client {
	return &Client{
		localURL:  strings.TrimRight(cfg.Local.BaseURL, "/"),
		remoteURL: strings.TrimRight(cfg.Remote.BaseURL, "/"),
		apiKey:    cfg.Remote.APIKey,
		timed:     &http.Client{Timeout: callTimeout},
		streaming: &http.Client{},
		metrics:   m,
	}
}

func (c *Client) baseURL(src models.Source) string {
	if src == models.SourceRemote {
		return c.remoteURL
	}
	return c.localURL
}

func (c *Client) newRequest(ctx context.Context, src models.Source, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL(src)+path, body)
	if err != nil {
		return nil, fmt.Errorf("construct %s request: %w", src, err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)
	if src == models.SourceRemote {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return req, nil
}

// JSON performs a non-streaming JSON round trip against the chosen backend.
// A non-nil out receives the decoded response body.
func (c *Client) JSON(ctx context.Context, src models.Source, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := c.newRequest(ctx, src, method, path, body)
	if err != nil {
		return err
	}

	resp, err := c.timed.Do(req)
	if err != nil {
		c.metrics.ObserveUpstreamError(string(src))
		return fmt.Errorf("%s backend request failed: %w", src, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		c.metrics.ObserveUpstreamError(string(src))
		return parseUpstreamError(src, resp)
	}

	if out == nil {
		if _, err := io.Copy(io.Discard, resp.Body); err != nil {
			return fmt.Errorf("drain %s response: %w", src, err)
		}
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", src, err)
	}
	return nil
}

// Stream issues a streaming POST and hands back the raw response for
// incremental consumption. Streaming calls are never retried: a retry after
// partial delivery would corrupt the stream. The caller owns the body.
func (c *Client) Stream(ctx context.Context, src models.Source, path string, in any) (*http.Response, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := c.newRequest(ctx, src, http.MethodPost, path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}

	resp, err := c.streaming.Do(req)
	if err != nil {
		c.metrics.ObserveUpstreamError(string(src))
		return nil, fmt.Errorf("%s backend request failed: %w", src, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		c.metrics.ObserveUpstreamError(string(src))
		return nil, parseUpstreamError(src, resp)
	}
	if resp.Body == nil {
		c.metrics.ObserveUpstreamError(string(src))
		return nil, ErrNoBody
	}
	return resp, nil
}

// Forward relays an arbitrary native-surface request body to the chosen
// backend and returns the raw response for passthrough. Model management
// calls (pull, push, create) stream NDJSON progress, so the untimed client
// is used. The caller owns the body.
func (c *Client) Forward(ctx context.Context, src models.Source, method, path string, body io.Reader) (*http.Response, error) {
	req, err := c.newRequest(ctx, src, method, path, body)
	if err != nil {
		return nil, err
	}

	resp, err := c.streaming.Do(req)
	if err != nil {
		c.metrics.ObserveUpstreamError(string(src))
		return nil, fmt.Errorf("%s backend request failed: %w", src, err)
	}
	return resp, nil
}

// tagsResponse mirrors the JSON returned by GET /api/tags.
type tagsResponse struct {
	Models []struct {
		Name       string    `json:"name"`
		Model      string    `json:"model"`
		ModifiedAt time.Time `json:"modified_at"`
	} `json:"models"`
}

// Models lists the models a backend advertises. Failure is degraded to an
// empty result so that directory aggregation can answer with partial data
// when one backend is down.
func (c *Client) Models(ctx context.Context, src models.Source) []models.BackendModel {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	var tags tagsResponse
	if err := c.JSON(ctx, src, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		slog.Warn("model list unavailable", "backend", src, "err", err)
		return nil
	}

	out := make([]models.BackendModel, 0, len(tags.Models))
	for _, m := range tags.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		if name == "" {
			continue
		}
		out = append(out, models.BackendModel{
			Name:       name,
			ModifiedAt: m.ModifiedAt,
			Source:     src,
		})
	}
	return out
}

// Version reports a backend's own version string, or "unknown" when the
// backend cannot be reached.
func (c *Client) Version(ctx context.Context, src models.Source) string {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	var v struct {
		Version string `json:"version"`
	}
	if err := c.JSON(ctx, src, http.MethodGet, "/api/version", nil, &v); err != nil {
		slog.Warn("version unavailable", "backend", src, "err", err)
		return "unknown"
	}
	if v.Version == "" {
		return "unknown"
	}
	return v.Version
}

// psResponse mirrors the JSON returned by GET /api/ps.
type psResponse struct {
	Models []struct {
		Name      string    `json:"name"`
		Model     string    `json:"model"`
		Size      int64     `json:"size"`
		SizeVRAM  int64     `json:"size_vram"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"models"`
}

// Running reports the models currently loaded on the local backend. The
// remote runtime exposes no running-models introspection, so only local is
// queried. Failure degrades to an empty result.
func (c *Client) Running(ctx context.Context) []models.RunningModel {
	ctx, cancel := context.WithTimeout(ctx, metadataTimeout)
	defer cancel()

	var ps psResponse
	if err := c.JSON(ctx, models.SourceLocal, http.MethodGet, "/api/ps", nil, &ps); err != nil {
		slog.Warn("running models unavailable", "backend", models.SourceLocal, "err", err)
		return nil
	}

	out := make([]models.RunningModel, 0, len(ps.Models))
	for _, m := range ps.Models {
		name := m.Name
		if name == "" {
			name = m.Model
		}
		out = append(out, models.RunningModel{
			Name:      name,
			SizeBytes: m.Size,
			VRAMBytes: m.SizeVRAM,
			ExpiresAt: m.ExpiresAt,
			Source:    models.SourceLocal,
		})
	}
	return out
}

func parseUpstreamError(src models.Source, resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return &UpstreamError{Source: src, Status: resp.StatusCode, Message: "failed to read error body"}
	}

	// The native runtime reports {"error": "..."}; OpenAI-style remotes nest
	// the message one level deeper.
	var flat struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		return &UpstreamError{Source: src, Status: resp.StatusCode, Message: flat.Error}
	}

	var nested struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return &UpstreamError{Source: src, Status: resp.StatusCode, Message: nested.Error.Message}
	}

	return &UpstreamError{Source: src, Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}
