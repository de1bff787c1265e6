package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ent0n29/sentinel/internal/config"
	"github.com/ent0n29/sentinel/internal/observability"
	"github.com/ent0n29/sentinel/internal/orchestrator"
	"github.com/ent0n29/sentinel/internal/protocol"
	"github.com/ent0n29/sentinel/internal/safety"
)

const maxRequestBytes = 64 << 10

// Evaluator is the part of the orchestrator the API needs.
type Evaluator interface {
	Evaluate(ctx context.Context, req orchestrator.Request) (safety.Verdict, error)
}

type Server struct {
	cfg       config.Config
	evaluator Evaluator
	metrics   *observability.Metrics
	log       zerolog.Logger
	ready     func(context.Context) error
	upgrader  websocket.Upgrader

	metricsHandler http.Handler
}

func New(cfg config.Config, evaluator Evaluator, metrics *observability.Metrics, gatherer prometheus.Gatherer, log zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		evaluator: evaluator,
		metrics:   metrics,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Browsers may only stream from the same origin unless
				// APP_ALLOW_ANY_ORIGIN is set.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},

		metricsHandler: observability.MetricsHandler(gatherer),
	}
}

// SetReadiness installs a check consulted by /readyz.
func (s *Server) SetReadiness(check func(context.Context) error) {
	s.ready = check
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", s.metricsHandler)

	r.Route("/api/safety", func(r chi.Router) {
		r.Post("/analyze", s.handleAnalyze)
		r.Get("/stream", s.handleStream)
		r.Get("/perf", s.handlePerfLatency)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"conversation_store": s.cfg.ConversationStore,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":             "ready",
		"conversation_store": s.cfg.ConversationStore,
	})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	requestID := requestIDFrom(r)
	w.Header().Set("X-Request-ID", requestID)

	raw, err := readBody(r)
	if err != nil {
		s.observeTransport("http", protocol.CodeInvalidInput)
		respondError(w, http.StatusBadRequest, protocol.CodeInvalidInput, err.Error())
		return
	}
	resp, errResp := s.analyze(r.Context(), requestID, raw)
	if errResp != nil {
		s.observeTransport("http", errResp.Code)
		respondJSON(w, statusFor(errResp.Code), errResp)
		return
	}
	s.observeTransport("http", "ok")
	respondJSON(w, http.StatusOK, resp)
}

// analyze is shared by the HTTP and websocket surfaces.
func (s *Server) analyze(ctx context.Context, requestID string, raw []byte) (protocol.AnalyzeResponse, *protocol.ErrorResponse) {
	req, err := protocol.ParseAnalyzeRequest(raw)
	if err == nil {
		var verdict safety.Verdict
		verdict, err = s.evaluator.Evaluate(ctx, req.Request())
		if err == nil {
			return protocol.FromVerdict(requestID, verdict), nil
		}
	}

	code := protocol.ErrorCode(err)
	if code == protocol.CodeInternal {
		s.log.Error().Err(err).Str("request_id", requestID).Msg("analyze failed")
	}
	return protocol.AnalyzeResponse{}, &protocol.ErrorResponse{RequestID: requestID, Error: err.Error(), Code: code}
}

func (s *Server) observeTransport(transport, outcome string) {
	if s.metrics != nil {
		s.metrics.TransportMessages.WithLabelValues(transport, outcome).Inc()
	}
}

func statusFor(code string) int {
	switch code {
	case protocol.CodeInvalidInput:
		return http.StatusBadRequest
	case protocol.CodeRequestCanceled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func requestIDFrom(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Request-ID")); id != "" && len(id) <= 128 {
		return id
	}
	return uuid.NewString()
}

var errEmptyBody = errors.New("empty body")

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, errEmptyBody
	}
	defer r.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(raw) == 0 {
		return nil, errEmptyBody
	}
	if len(raw) > maxRequestBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxRequestBytes)
	}
	return raw, nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, protocol.ErrorResponse{Error: message, Code: code})
}
