package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"turbo-gateway/internal/stream"
	"turbo-gateway/internal/translator"
)

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req translator.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return validationToRequestError(err)
	}

	ctx := c.Request().Context()

	if !s.dir.Knows(ctx, req.Model) {
		return requestError{
			Status:  http.StatusNotFound,
			Message: fmt.Sprintf("model %q not found", req.Model),
			Type:    "invalid_request_error",
			Param:   "model",
			Code:    "model_not_found",
		}
	}

	target := s.table.Target(req.Model)
	streaming := req.Stream && s.cfg.StreamingEnabled()
	payload := translator.ToNativeChat(req, streaming)

	if streaming {
		pipe, err := stream.New(c.Response(), req.Model, s.metrics)
		if err != nil {
			return requestError{
				Status:  http.StatusInternalServerError,
				Message: "server does not support streaming responses",
				Type:    "server_error",
			}
		}

		resp, err := s.client.Stream(ctx, target, "/api/chat", payload)
		if err != nil {
			// The wire contract still holds on failure: the stream ends with
			// a valid terminal chunk and sentinel, never an abrupt close.
			pipe.Fail(err)
			s.metrics.ObserveRequest("v1", string(target), "stream_error")
			return nil
		}

		pipe.Run(ctx, resp.Body)
		s.metrics.ObserveRequest("v1", string(target), "200")
		return nil
	}

	var result translator.ChatResult
	if err := s.client.JSON(ctx, target, http.MethodPost, "/api/chat", payload, &result); err != nil {
		mapped := mapUpstreamError(err, http.StatusBadGateway)
		if re, ok := mapped.(requestError); ok {
			s.metrics.ObserveRequest("v1", string(target), strconv.Itoa(re.Status))
		}
		return mapped
	}

	s.metrics.ObserveRequest("v1", string(target), "200")
	return c.JSON(http.StatusOK, translator.FromNativeChat(req, result))
}

func (s *Server) handleModels(c echo.Context) error {
	return c.JSON(http.StatusOK, s.dir.PublicListing(c.Request().Context()))
}

func (s *Server) handleEmbeddings(c echo.Context) error {
	var req translator.EmbeddingsRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return validationToRequestError(err)
	}

	ctx := c.Request().Context()
	target := s.table.Target(req.Model)

	records := make([]translator.EmbeddingRecord, 0, len(req.Input))
	var usage translator.Usage

	// One backend call per input item, issued sequentially; the first
	// failure aborts the whole request.
	for i, input := range req.Input {
		payload := translator.EmbedPayload{Model: req.Model, Input: input}

		var result translator.EmbedResult
		if err := s.client.JSON(ctx, target, http.MethodPost, "/api/embed", payload, &result); err != nil {
			mapped := mapUpstreamError(err, http.StatusInternalServerError)
			if re, ok := mapped.(requestError); ok {
				s.metrics.ObserveRequest("v1", string(target), strconv.Itoa(re.Status))
			}
			return mapped
		}
		if len(result.Embeddings) == 0 {
			return requestError{
				Status:  http.StatusInternalServerError,
				Message: fmt.Sprintf("backend returned no embedding for input %d", i),
				Type:    "server_error",
			}
		}

		records = append(records, translator.EmbeddingRecord{
			Object:    "embedding",
			Embedding: result.Embeddings[0],
			Index:     i,
		})
		usage.PromptTokens += result.PromptEvalCount
	}
	usage.TotalTokens = usage.PromptTokens

	s.metrics.ObserveRequest("v1", string(target), "200")
	return c.JSON(http.StatusOK, translator.EmbeddingList{
		Object: "list",
		Data:   records,
		Model:  req.Model,
		Usage:  usage,
	})
}

func (s *Server) handleCompletions(c echo.Context) error {
	return requestError{
		Status:  http.StatusBadRequest,
		Message: "the /v1/completions endpoint is deprecated; use /v1/chat/completions instead",
		Type:    "invalid_request_error",
		Code:    "deprecated_endpoint",
	}
}
