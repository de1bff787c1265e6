// Package orchestrator runs one safety evaluation: it records the message,
// fans the detectors out concurrently, and hands their results to the policy
// engine.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/sentinel/internal/conversation"
	"github.com/ent0n29/sentinel/internal/detector"
	"github.com/ent0n29/sentinel/internal/observability"
	"github.com/ent0n29/sentinel/internal/policy"
	"github.com/ent0n29/sentinel/internal/safety"
)

const (
	DefaultDetectorTimeout = 2 * time.Second
	maxUserAge             = 150
	previewRunes           = 80
)

// Request is one message submitted for analysis.
type Request struct {
	UserID       string
	Text         string
	Timestamp    time.Time
	UserAge      int
	GuardianMode bool
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.UserID) == "":
		return fmt.Errorf("%w: user_id is required", safety.ErrInvalidInput)
	case strings.TrimSpace(r.Text) == "":
		return fmt.Errorf("%w: message text is required", safety.ErrInvalidInput)
	case r.UserAge < 0 || r.UserAge > maxUserAge:
		return fmt.Errorf("%w: user_age %d out of range 0..%d", safety.ErrInvalidInput, r.UserAge, maxUserAge)
	}
	return nil
}

type Option func(*Orchestrator)

func WithLogger(log zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTimeout sets the default per-detector deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithKindTimeout overrides the deadline for one detector kind.
func WithKindTimeout(kind safety.DetectorKind, d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeouts[kind] = d
		}
	}
}

type Orchestrator struct {
	store     conversation.Store
	engine    *policy.Engine
	detectors []detector.Detector

	log      zerolog.Logger
	metrics  *observability.Metrics
	timeout  time.Duration
	timeouts map[safety.DetectorKind]time.Duration
	now      func() time.Time
	newID    func() string
}

func New(store conversation.Store, engine *policy.Engine, detectors []detector.Detector, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if engine == nil {
		return nil, errors.New("orchestrator: policy engine is required")
	}
	if len(detectors) == 0 {
		return nil, errors.New("orchestrator: at least one detector is required")
	}
	seen := make(map[safety.DetectorKind]bool, len(detectors))
	for _, d := range detectors {
		if d == nil {
			return nil, errors.New("orchestrator: nil detector")
		}
		if seen[d.Kind()] {
			return nil, fmt.Errorf("orchestrator: duplicate detector %q", d.Kind())
		}
		seen[d.Kind()] = true
	}

	o := &Orchestrator{
		store:     store,
		engine:    engine,
		detectors: append([]detector.Detector(nil), detectors...),
		log:       zerolog.Nop(),
		timeout:   DefaultDetectorTimeout,
		timeouts:  make(map[safety.DetectorKind]time.Duration),
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

func (o *Orchestrator) timeoutFor(kind safety.DetectorKind) time.Duration {
	if d, ok := o.timeouts[kind]; ok {
		return d
	}
	return o.timeout
}

// Evaluate analyzes one message. Only invalid input and cancellation of ctx
// surface as errors; detector and store failures degrade the verdict instead.
// A canceled evaluation keeps the message in the conversation.
func (o *Orchestrator) Evaluate(ctx context.Context, req Request) (safety.Verdict, error) {
	start := time.Now()
	if err := req.validate(); err != nil {
		if o.metrics != nil {
			o.metrics.InvalidRequests.Inc()
		}
		return safety.Verdict{}, err
	}
	if err := ctx.Err(); err != nil {
		return safety.Verdict{}, fmt.Errorf("evaluate: %w", err)
	}

	uc := safety.UserContext{UserAge: req.UserAge, GuardianMode: req.GuardianMode}
	msg := safety.Message{
		ID:        o.newID(),
		UserID:    req.UserID,
		Text:      req.Text,
		Timestamp: req.Timestamp.UTC(),
	}
	if req.Timestamp.IsZero() {
		msg.Timestamp = o.now()
	}
	log := o.log.With().Str("user_id", req.UserID).Str("message_id", msg.ID).Logger()

	history, storeErr := o.store.Append(ctx, req.UserID, msg)
	if storeErr != nil {
		if err := ctx.Err(); err != nil {
			return safety.Verdict{}, fmt.Errorf("evaluate: %w", err)
		}
		if !errors.Is(storeErr, safety.ErrStoreUnavailable) {
			storeErr = fmt.Errorf("%w: %w", safety.ErrStoreUnavailable, storeErr)
		}
		log.Warn().Err(storeErr).Msg("conversation store append failed")
		if o.metrics != nil {
			o.metrics.StoreErrors.Inc()
		}
		history = nil
	} else if c, ok := o.store.(conversation.Counter); ok && o.metrics != nil {
		o.metrics.ActiveConversations.Set(float64(c.Conversations()))
	}

	results := make([]safety.DetectorResult, len(o.detectors))
	// A plain Group: detectors report failure in their result, so one bad
	// detector never cancels its siblings.
	var g errgroup.Group
	for i, d := range o.detectors {
		if storeErr != nil && detector.NeedsHistory(d) {
			results[i] = safety.Unavailable(d.Kind(), safety.ReasonStoreUnavailable, storeErr)
			o.observe(log, results[i])
			continue
		}
		i, d := i, d
		g.Go(func() error {
			results[i] = o.run(ctx, log, d, msg, history, uc)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return safety.Verdict{}, fmt.Errorf("evaluate: %w", err)
	}

	verdict := o.engine.Evaluate(results, uc)
	elapsed := time.Since(start)
	if o.metrics != nil {
		o.metrics.ObserveEvaluation(verdict.ConcernLevel.String(), elapsed)
	}

	ev := log.Info()
	if verdict.ConcernLevel >= safety.ConcernHigh {
		ev = log.Warn()
	}
	ev.Str("concern_level", verdict.ConcernLevel.String()).
		Strs("actions", actionStrings(verdict.Actions)).
		Float64("confidence", verdict.Confidence).
		Int("unavailable", len(verdict.Unavailable)).
		Bool("compounded", verdict.Compounded).
		Str("preview", policy.Preview(req.Text, previewRunes)).
		Dur("elapsed", elapsed).
		Msg("message evaluated")

	return verdict, nil
}

type outcome struct {
	res      safety.DetectorResult
	err      error
	panicked bool
}

// run executes one detector under its own deadline. A detector that ignores
// its context is abandoned at the deadline; the buffered channel lets its
// goroutine finish later without blocking.
func (o *Orchestrator) run(ctx context.Context, log zerolog.Logger, d detector.Detector, msg safety.Message, history []safety.Message, uc safety.UserContext) safety.DetectorResult {
	kind := d.Kind()
	dctx, cancel := context.WithTimeout(ctx, o.timeoutFor(kind))
	defer cancel()

	start := time.Now()
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: fmt.Errorf("%w: %v", safety.ErrDetectorCrash, p), panicked: true}
			}
		}()
		res, err := d.Analyze(dctx, msg, history, uc)
		done <- outcome{res: res, err: err}
	}()

	var res safety.DetectorResult
	select {
	case out := <-done:
		res = classify(ctx, kind, out)
	case <-dctx.Done():
		res = interrupted(ctx, kind)
	}
	res.Latency = time.Since(start)
	o.observe(log, res)
	return res
}

func classify(parent context.Context, kind safety.DetectorKind, out outcome) safety.DetectorResult {
	switch {
	case out.panicked:
		return safety.Unavailable(kind, safety.ReasonCrash, out.err)
	case out.err != nil:
		if parent.Err() != nil {
			return safety.Unavailable(kind, safety.ReasonCanceled, out.err)
		}
		if errors.Is(out.err, context.DeadlineExceeded) {
			return safety.Unavailable(kind, safety.ReasonTimeout, fmt.Errorf("%w: %w", safety.ErrDetectorTimeout, out.err))
		}
		return safety.Unavailable(kind, safety.ReasonError, out.err)
	}
	if out.res.Kind != kind {
		return safety.Unavailable(kind, safety.ReasonError, fmt.Errorf("detector returned kind %q", out.res.Kind))
	}
	if err := out.res.Validate(); err != nil {
		return safety.Unavailable(kind, safety.ReasonError, err)
	}
	return out.res
}

func interrupted(parent context.Context, kind safety.DetectorKind) safety.DetectorResult {
	if err := parent.Err(); err != nil {
		return safety.Unavailable(kind, safety.ReasonCanceled, err)
	}
	return safety.Unavailable(kind, safety.ReasonTimeout, safety.ErrDetectorTimeout)
}

func (o *Orchestrator) observe(log zerolog.Logger, res safety.DetectorResult) {
	if o.metrics != nil {
		o.metrics.ObserveDetector(string(res.Kind), string(res.Status), res.Reason, res.Latency)
	}
	if !res.Available() {
		log.Warn().
			Str("detector", string(res.Kind)).
			Str("reason", res.Reason).
			Str("error", res.Err).
			Dur("latency", res.Latency).
			Msg("detector unavailable")
	}
}

func actionStrings(s safety.ActionSet) []string {
	items := s.Slice()
	out := make([]string, len(items))
	for i, a := range items {
		out[i] = string(a)
	}
	return out
}
