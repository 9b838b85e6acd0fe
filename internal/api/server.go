// Package api exposes the completion engine over HTTP: a completions
// endpoint with optional SSE streaming, a pre-warm endpoint for priming the
// prompt cache, plus health and metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/samcharles93/ravel/internal/inference"
	"github.com/samcharles93/ravel/internal/logger"
)

// CompletionEngine is the inference surface the server drives.
type CompletionEngine interface {
	Complete(ctx context.Context, req *inference.Request, stream inference.StreamFunc) (*inference.Result, error)
}

// PoolInfo reports lane occupancy for the health endpoint.
type PoolInfo interface {
	Size() int
	Depths() []int
}

type Server struct {
	engine CompletionEngine
	pool   PoolInfo
	model  string
	log    logger.Logger
	clock  func() time.Time
}

// NewServer builds the HTTP layer. pool may be nil; the health endpoint then
// omits lane information.
func NewServer(engine CompletionEngine, pool PoolInfo, model string, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		engine: engine,
		pool:   pool,
		model:  model,
		log:    log,
		clock:  time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/completions", s.handleCompletions)
	e.POST("/v1/prewarm", s.handlePrewarm)
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", func(c *echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

func (s *Server) handleCompletions(c *echo.Context) error {
	req, err := decodeJSON[CompletionRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	stop, err := normalizeStop(req.Stop)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	inferReq := inference.ResolveRequest(inference.RequestOptions{
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        stop,
		Seed:        req.Seed,
	})

	completionID := "cmpl-" + uuid.NewString()
	created := s.clock().Unix()
	model := req.Model
	if model == "" {
		model = s.model
	}

	if req.Stream != nil && *req.Stream {
		return s.streamCompletion(c, &inferReq, completionID, created, model)
	}

	result, err := s.engine.Complete(c.Request().Context(), &inferReq, nil)
	if err != nil {
		if errors.Is(err, inference.ErrValidation) {
			return writeBadRequest(c, err.Error())
		}
		s.log.Error("completion failed", "id", completionID, "error", err)
		return writeServerError(c, err.Error())
	}

	return c.JSON(http.StatusOK, CompletionResponse{
		ID:      completionID,
		Object:  "text_completion",
		Created: created,
		Model:   model,
		Choices: []CompletionChoice{completionChoice(result)},
		Usage:   completionUsage(result),
	})
}

func (s *Server) streamCompletion(c *echo.Context, req *inference.Request, completionID string, created int64, model string) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return writeBadRequest(c, "streaming unsupported")
	}

	emitted := false
	result, err := s.engine.Complete(c.Request().Context(), req, func(chunk string) {
		emitted = true
		_ = sendSSE(res, CompletionChunk{
			ID:      completionID,
			Object:  "text_completion.chunk",
			Created: created,
			Model:   model,
			Choices: []CompletionChoice{{Index: 0, Text: chunk}},
		})
		flusher.Flush()
	})
	if err != nil {
		if !emitted && errors.Is(err, inference.ErrValidation) {
			return writeBadRequest(c, err.Error())
		}
		s.log.Error("streaming completion failed", "id", completionID, "error", err)
		_ = sendSSE(res, map[string]any{"error": apiError{Message: err.Error(), Type: "server_error"}})
		flusher.Flush()
		return nil
	}

	choice := completionChoice(result)
	choice.Text = ""
	usage := completionUsage(result)
	_ = sendSSE(res, CompletionChunk{
		ID:      completionID,
		Object:  "text_completion.chunk",
		Created: created,
		Model:   model,
		Choices: []CompletionChoice{choice},
		Usage:   &usage,
	})
	_, _ = res.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
	return nil
}

func (s *Server) handlePrewarm(c *echo.Context) error {
	req, err := decodeJSON[PrewarmRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	// MaxTokens 0 resolves the prompt and memoizes its end state without
	// generating anything.
	zero := 0
	inferReq := inference.ResolveRequest(inference.RequestOptions{
		Prompt:    req.Prompt,
		MaxTokens: &zero,
	})
	result, err := s.engine.Complete(c.Request().Context(), &inferReq, nil)
	if err != nil {
		if errors.Is(err, inference.ErrValidation) {
			return writeBadRequest(c, err.Error())
		}
		s.log.Error("prewarm failed", "error", err)
		return writeServerError(c, err.Error())
	}

	return c.JSON(http.StatusOK, PrewarmResponse{
		PromptTokens:       result.Usage.PromptTokens,
		PromptTokensCached: result.Usage.PromptTokensCached,
	})
}

func (s *Server) handleHealth(c *echo.Context) error {
	h := healthResponse{Status: "ok", Model: s.model}
	if s.pool != nil {
		h.Lanes = s.pool.Size()
		h.LaneDepths = s.pool.Depths()
	}
	return c.JSON(http.StatusOK, h)
}

func completionChoice(result *inference.Result) CompletionChoice {
	finish := "length"
	if result.StopSequence != "" {
		finish = "stop"
	}
	return CompletionChoice{
		Index:        0,
		Text:         result.Text,
		FinishReason: &finish,
		StopSequence: result.StopSequence,
	}
}

func completionUsage(result *inference.Result) CompletionUsage {
	return CompletionUsage{
		PromptTokens:       result.Usage.PromptTokens,
		PromptTokensCached: result.Usage.PromptTokensCached,
		CompletionTokens:   result.Usage.CompletionTokens,
		TotalTokens:        result.Usage.TotalTokens(),
	}
}
