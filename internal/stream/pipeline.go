// Package stream re-frames a backend-native NDJSON chat stream into
// Server-Sent-Event chunks in the public wire format.
//
// Every stream, including failed ones, ends with exactly one terminal chunk
// carrying a finish reason followed by the [DONE] sentinel; clients are not
// designed to handle a stream that simply dies.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"turbo-gateway/internal/metrics"
	"turbo-gateway/internal/translator"
)

const doneSentinel = "data: [DONE]\n\n"

// ErrStreamingUnsupported indicates the response writer cannot flush.
var ErrStreamingUnsupported = errors.New("response writer does not support streaming")

// Pipeline owns chunk emission order for one active stream. Frame processing
// is strictly sequential; there are no concurrent writers to the outbound
// stream.
type Pipeline struct {
	w       http.ResponseWriter
	flusher http.Flusher
	metrics *metrics.Metrics

	id      string
	created int64
	model   string
	start   time.Time

	sentRole    bool
	sentContent bool
	sentTools   bool
	chunks      int
	contentLen  int
}

// New prepares a pipeline writing to w. The model name is echoed into every
// chunk verbatim.
func New(w http.ResponseWriter, model string, m *metrics.Metrics) (*Pipeline, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &Pipeline{
		w:       w,
		flusher: flusher,
		metrics: m,
		id:      translator.NewCompletionID(),
		created: time.Now().Unix(),
		model:   model,
		start:   time.Now(),
	}, nil
}

// open writes the SSE headers and the synthetic role chunk. The role chunk
// is emitted unconditionally so clients relying on an initial role
// announcement are satisfied even if the backend sends none.
func (p *Pipeline) open() {
	if p.sentRole {
		return
	}
	header := p.w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	p.w.WriteHeader(http.StatusOK)

	p.emit(translator.RoleChunk(p.id, p.created, p.model))
	p.sentRole = true
}

// Run consumes the upstream byte stream to completion, translating each
// complete NDJSON line into a delta chunk. It always terminates the outbound
// stream properly unless the client itself went away.
func (p *Pipeline) Run(ctx context.Context, body io.ReadCloser) {
	defer body.Close()

	p.open()

	reader := bufio.NewReader(body)
	finished := false
	for !finished {
		if ctx.Err() != nil {
			p.cancelled(ctx.Err())
			return
		}

		line, err := reader.ReadBytes('\n')
		if err == nil {
			finished = p.processLine(line)
			continue
		}

		// The upstream byte stream ended. A trailing partial fragment is a
		// truncated frame and is dropped; only complete lines are processed.
		if !errors.Is(err, io.EOF) {
			if ctx.Err() != nil {
				p.cancelled(ctx.Err())
				return
			}
			slog.Warn("upstream stream read failed", "err", err)
		}
		break
	}

	if !finished && !p.sentContent {
		// Upstream closed without a completion flag and without content.
		// Downstream integrations treat a zero-content stream as a hard
		// failure, so emit one placeholder chunk before finishing.
		p.emitContent(translator.EmptyContentPlaceholder)
	}

	p.finish()
}

// Fail terminates a stream whose upstream call never produced a usable
// body: role chunk if unsent, an error content chunk embedding the reason,
// then the normal terminal chunk and sentinel.
func (p *Pipeline) Fail(reason error) {
	p.open()
	p.emitContent(fmt.Sprintf("Error: upstream request failed: %v", reason))
	p.finish()
}

// processLine parses one NDJSON frame and emits the corresponding delta
// chunks. It reports whether the frame carried the completion flag.
// Malformed frames are skipped; one corrupt line must not kill an otherwise
// healthy stream.
func (p *Pipeline) processLine(line []byte) bool {
	trimmed := trimLine(line)
	if len(trimmed) == 0 {
		return false
	}

	var frame translator.ChatResult
	if err := json.Unmarshal(trimmed, &frame); err != nil {
		slog.Warn("skipping malformed stream frame", "err", err)
		return false
	}

	if frame.Message.Content != "" {
		p.emitContent(frame.Message.Content)
	}
	if len(frame.Message.ToolCalls) > 0 {
		p.emit(translator.ToolCallChunk(p.id, p.created, p.model, frame.Message.ToolCalls))
		p.sentTools = true
	}
	return frame.Done
}

// finish emits the single terminal chunk and the out-of-band sentinel, then
// records the completion summary. Nothing is emitted after the sentinel.
func (p *Pipeline) finish() {
	reason := "stop"
	if p.sentTools {
		reason = "tool_calls"
	}
	p.emit(translator.FinishChunk(p.id, p.created, p.model, reason))
	_, _ = io.WriteString(p.w, doneSentinel)
	p.flusher.Flush()

	elapsed := time.Since(p.start)
	p.metrics.ObserveStream(elapsed)
	slog.Info("stream complete",
		"id", p.id,
		"model", p.model,
		"chunks", p.chunks,
		"content_chars", p.contentLen,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// cancelled handles a client disconnect: stop reading, produce nothing
// further. Not an error.
func (p *Pipeline) cancelled(cause error) {
	slog.Info("stream cancelled by client",
		"id", p.id,
		"model", p.model,
		"chunks", p.chunks,
		"cause", cause,
	)
}

func (p *Pipeline) emitContent(content string) {
	p.emit(translator.ContentChunk(p.id, p.created, p.model, content))
	p.sentContent = true
	p.contentLen += len(content)
}

func (p *Pipeline) emit(chunk translator.StreamChunk) {
	data, err := json.Marshal(chunk)
	if err != nil {
		slog.Error("marshal stream chunk", "err", err)
		return
	}
	if _, err := fmt.Fprintf(p.w, "data: %s\n\n", data); err != nil {
		return
	}
	p.flusher.Flush()
	p.chunks++
	p.metrics.ObserveChunk()
}

func trimLine(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}
