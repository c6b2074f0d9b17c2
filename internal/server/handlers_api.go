package server

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"turbo-gateway/internal/models"
	"turbo-gateway/internal/route"
)

// supportedEndpoints is the full endpoint list advertised by /api/version
// and the root document.
var supportedEndpoints = []string{
	"GET /",
	"GET /health",
	"GET /metrics",
	"POST /v1/chat/completions",
	"GET /v1/models",
	"POST /v1/embeddings",
	"GET /api/tags",
	"GET /api/ps",
	"GET /api/version",
	"POST /api/chat",
	"POST /api/generate",
	"POST /api/embed",
	"POST /api/embeddings",
	"POST /api/show",
	"POST /api/pull",
	"POST /api/push",
	"POST /api/create",
	"DELETE /api/delete",
	"POST /api/copy",
	"HEAD /api/blobs/:digest",
	"POST /api/blobs/:digest",
}

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"name":    "turbo-gateway",
		"version": Version,
		"surfaces": map[string]string{
			"openai": "/v1",
			"native": "/api",
		},
		"endpoints": supportedEndpoints,
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx := c.Request().Context()
	localVersion := s.client.Version(ctx, models.SourceLocal)
	remoteVersion := s.client.Version(ctx, models.SourceRemote)

	status := "ok"
	if localVersion == "unknown" && remoteVersion == "unknown" {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":       status,
		"local":        localVersion != "unknown",
		"remote":       remoteVersion != "unknown",
		"remote_turbo": s.dir.RemoteModels(),
	})
}

// nativeModelEntry is one /api/tags listing entry in the native shape, with
// the owning source added.
type nativeModelEntry struct {
	Name       string    `json:"name"`
	Model      string    `json:"model"`
	ModifiedAt time.Time `json:"modified_at"`
	Source     string    `json:"source"`
}

func (s *Server) handleTags(c echo.Context) error {
	unified := s.dir.ListUnified(c.Request().Context())
	entries := make([]nativeModelEntry, 0, len(unified))
	for _, m := range unified {
		entries = append(entries, nativeModelEntry{
			Name:       m.Name,
			Model:      m.Name,
			ModifiedAt: m.ModifiedAt,
			Source:     string(m.Source),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"models": entries})
}

type runningModelEntry struct {
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Size      int64     `json:"size"`
	SizeVRAM  int64     `json:"size_vram"`
	ExpiresAt time.Time `json:"expires_at"`
	Source    string    `json:"source"`
}

func (s *Server) handlePS(c echo.Context) error {
	running := s.dir.Running(c.Request().Context())
	entries := make([]runningModelEntry, 0, len(running))
	for _, m := range running {
		entries = append(entries, runningModelEntry{
			Name:      m.Name,
			Model:     m.Name,
			Size:      m.SizeBytes,
			SizeVRAM:  m.VRAMBytes,
			ExpiresAt: m.ExpiresAt,
			Source:    string(m.Source),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"models": entries})
}

func (s *Server) handleVersion(c echo.Context) error {
	ctx := c.Request().Context()
	return c.JSON(http.StatusOK, map[string]any{
		"version": Version,
		"local": map[string]string{
			"version": s.client.Version(ctx, models.SourceLocal),
		},
		"remote": map[string]string{
			"version": s.client.Version(ctx, models.SourceRemote),
		},
		"endpoints": supportedEndpoints,
	})
}

// handleBlobs forwards blob upload/check to the local backend; blobs live in
// the local model store by definition.
func (s *Server) handleBlobs(c echo.Context) error {
	digest := strings.TrimSpace(c.Param("digest"))
	if digest == "" {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "blob digest is required",
			Type:    "invalid_request_error",
			Param:   "digest",
		}
	}

	req := c.Request()
	resp, err := s.client.Forward(req.Context(), models.SourceLocal, req.Method, "/api/blobs/"+digest, req.Body)
	if err != nil {
		return mapUpstreamError(err, http.StatusBadGateway)
	}
	return s.relay(c, models.SourceLocal, resp)
}

// handlePassthrough serves every native-surface path without an explicit
// handler: the route table decides the backend, and the upstream response is
// relayed verbatim, including streamed NDJSON progress bodies.
func (s *Server) handlePassthrough(c echo.Context) error {
	req := c.Request()
	path := req.URL.Path

	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "failed to read request body",
			Type:    "invalid_request_error",
		}
	}

	target := models.SourceLocal
	if s.table.Decide(req.Method, path) == route.ActionModelRouted {
		target = s.table.Target(route.ModelFromBody(body))
	}

	resp, err := s.client.Forward(req.Context(), target, req.Method, path, bytes.NewReader(body))
	if err != nil {
		s.metrics.ObserveRequest("api", string(target), "502")
		return mapUpstreamError(err, http.StatusBadGateway)
	}
	return s.relay(c, target, resp)
}

// relay copies an upstream response back to the caller, flushing as bytes
// arrive so streamed bodies are not buffered.
func (s *Server) relay(c echo.Context, target models.Source, resp *http.Response) error {
	defer resp.Body.Close()

	header := c.Response().Header()
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		header.Set("Content-Type", ct)
	}
	c.Response().WriteHeader(resp.StatusCode)

	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := c.Response().Write(buf[:n]); werr != nil {
				break
			}
			c.Response().Flush()
		}
		if err != nil {
			break
		}
	}

	s.metrics.ObserveRequest("api", string(target), strconv.Itoa(resp.StatusCode))
	return nil
}
