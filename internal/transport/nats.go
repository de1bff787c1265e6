// Package transport exposes the analyzer over NATS request/reply.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/ent0n29/sentinel/internal/observability"
	"github.com/ent0n29/sentinel/internal/orchestrator"
	"github.com/ent0n29/sentinel/internal/protocol"
	"github.com/ent0n29/sentinel/internal/safety"
)

const queueGroup = "sentinel"

type Evaluator interface {
	Evaluate(ctx context.Context, req orchestrator.Request) (safety.Verdict, error)
}

type NATSConfig struct {
	URL     string
	Subject string
	Timeout time.Duration
}

type NATSTransport struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	cfg     NATSConfig
	handler *Handler
	log     zerolog.Logger
}

func NewNATSTransport(cfg NATSConfig, handler *Handler, log zerolog.Logger) (*NATSTransport, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.Name("sentinel"),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	log.Info().Str("url", cfg.URL).Msg("connected to nats")
	return &NATSTransport{conn: conn, cfg: cfg, handler: handler, log: log}, nil
}

// Start subscribes in a queue group so replicas share the subject.
func (t *NATSTransport) Start() error {
	sub, err := t.conn.QueueSubscribe(t.cfg.Subject, queueGroup, t.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", t.cfg.Subject, err)
	}
	t.sub = sub
	t.log.Info().Str("subject", t.cfg.Subject).Msg("subscribed")
	return nil
}

func (t *NATSTransport) handleRequest(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), t.cfg.Timeout)
	defer cancel()

	reply := t.handler.Handle(ctx, msg.Data)
	if msg.Reply == "" {
		return
	}
	if err := msg.Respond(reply); err != nil {
		t.log.Warn().Err(err).Str("subject", msg.Subject).Msg("nats respond failed")
	}
}

func (t *NATSTransport) Close() error {
	if t.sub != nil {
		_ = t.sub.Drain()
	}
	if t.conn != nil {
		t.conn.Close()
	}
	return nil
}

// Handler turns a raw request payload into a raw reply payload.
type Handler struct {
	evaluator Evaluator
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewHandler(evaluator Evaluator, metrics *observability.Metrics, log zerolog.Logger) *Handler {
	return &Handler{evaluator: evaluator, metrics: metrics, log: log}
}

func (h *Handler) Handle(ctx context.Context, data []byte) []byte {
	requestID := uuid.NewString()

	var reply any
	outcome := "ok"
	req, err := protocol.ParseAnalyzeRequest(data)
	if err == nil {
		var verdict safety.Verdict
		if verdict, err = h.evaluator.Evaluate(ctx, req.Request()); err == nil {
			reply = protocol.FromVerdict(requestID, verdict)
		}
	}
	if err != nil {
		outcome = protocol.ErrorCode(err)
		if outcome == protocol.CodeInternal {
			h.log.Error().Err(err).Str("request_id", requestID).Msg("analyze failed")
		}
		reply = protocol.ErrorResponse{RequestID: requestID, Error: err.Error(), Code: outcome}
	}
	if h.metrics != nil {
		h.metrics.TransportMessages.WithLabelValues("nats", outcome).Inc()
	}

	out, err := json.Marshal(reply)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal reply")
		out, _ = json.Marshal(protocol.ErrorResponse{RequestID: requestID, Error: "internal error", Code: protocol.CodeInternal})
	}
	return out
}
