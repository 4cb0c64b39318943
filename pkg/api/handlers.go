package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/harun/sqlask/internal/tracing"
	"github.com/harun/sqlask/pkg/agent"
)

const maxChatBody = 64 << 10

// ChatRequest is the body of POST /chat and of each websocket frame.
type ChatRequest struct {
	Query    string `json:"query"`
	Model    string `json:"model"`
	MaxSteps int    `json:"max_steps,omitempty"`
}

// ChatResponse is the body of a successful POST /chat.
type ChatResponse struct {
	Response string         `json:"response"`
	Metadata agent.Metadata `json:"metadata"`
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": s.options.Banner})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	database := "unknown"
	code := http.StatusOK

	if s.health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.health.Ping(ctx); err != nil {
			status = "degraded"
			database = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			database = "ok"
		}
	}
	if s.shuttingDown() {
		status = "shutting_down"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]interface{}{
		"status":   status,
		"uptime":   time.Since(s.startTime).String(),
		"database": database,
		"runs":     s.runSlots.InUse(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": s.models.List(r.Context())})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	var req ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxChatBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	result, status, err := s.runChat(r.Context(), clientKey(r), req, nil)
	if err != nil {
		if status == http.StatusTooManyRequests {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterFrom(err)))
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ChatResponse{Response: result.Answer, Metadata: result.Metadata})
}

// admissionError is returned when a run is refused before it starts.
type admissionError struct {
	msg        string
	retryAfter int
}

func (e *admissionError) Error() string { return e.msg }

func retryAfterFrom(err error) int {
	var ae *admissionError
	if errors.As(err, &ae) && ae.retryAfter > 0 {
		return ae.retryAfter
	}
	return 1
}

// runChat admits and executes one agent run. It returns the HTTP status to
// report when err is non-nil.
func (s *Server) runChat(ctx context.Context, key string, req ChatRequest, observer agent.Observer) (agent.Result, int, error) {
	if s.shuttingDown() {
		return agent.Result{}, http.StatusServiceUnavailable, errors.New("server is shutting down")
	}

	if ok, retryAfter := s.rateLimiter.Allow(key); !ok {
		return agent.Result{}, http.StatusTooManyRequests, &admissionError{msg: "rate limit exceeded", retryAfter: retryAfter}
	}

	release, ok := s.runSlots.TryAcquire()
	if !ok {
		return agent.Result{}, http.StatusTooManyRequests, &admissionError{msg: "too many concurrent requests", retryAfter: 1}
	}
	defer release()

	s.inFlightReqs.Add(1)
	defer s.inFlightReqs.Done()

	ctx, cancel := context.WithTimeout(ctx, s.options.RequestTimeout)
	defer cancel()

	var opts []agent.RunOption
	if observer != nil {
		opts = append(opts, agent.WithObserver(observer))
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	result, err := s.runner.Run(ctx, req.Query, req.Model, req.MaxSteps, opts...)
	if err != nil {
		switch {
		case errors.Is(err, agent.ErrEmptyQuery):
			return agent.Result{}, http.StatusBadRequest, err
		case agent.IsRateLimited(err):
			logger.Warn().Err(err).Msg("Upstream rate limited")
			return agent.Result{}, http.StatusTooManyRequests, err
		default:
			logger.Error().Err(err).Msg("Agent run failed")
			return agent.Result{}, http.StatusInternalServerError, err
		}
	}

	return result, http.StatusOK, nil
}
