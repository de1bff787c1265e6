package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/ent0n29/sentinel/internal/config"
	"github.com/ent0n29/sentinel/internal/conversation"
	"github.com/ent0n29/sentinel/internal/detector"
	"github.com/ent0n29/sentinel/internal/httpapi"
	"github.com/ent0n29/sentinel/internal/observability"
	"github.com/ent0n29/sentinel/internal/orchestrator"
	"github.com/ent0n29/sentinel/internal/policy"
	"github.com/ent0n29/sentinel/internal/transport"
)

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Orchestrator *orchestrator.Orchestrator
	Store        conversation.Store
	Policy       *policy.Engine
	Metrics      *observability.Metrics
	Registry     *prometheus.Registry
	NATS         *transport.NATSTransport

	log zerolog.Logger

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, log zerolog.Logger) (*BuildResult, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(cfg.MetricsNamespace, reg)

	policyCfg, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("policy load failed: %w", err)
	}
	engine, err := policy.NewEngine(policyCfg)
	if err != nil {
		return nil, err
	}

	detectors, err := detector.Standard(policyCfg.Content, detector.EscalationConfig{
		Window:          cfg.ConversationWindow,
		MinMessages:     cfg.EscalationMinMessages,
		SlopeThreshold:  cfg.EscalationSlopeThreshold,
		SlopeSaturation: cfg.EscalationSlopeSaturation,
	})
	if err != nil {
		return nil, fmt.Errorf("detector init failed: %w", err)
	}

	store, err := conversation.NewStore(ctx, conversation.Config{
		Backend:     cfg.ConversationStore,
		Window:      cfg.ConversationWindow,
		Shards:      cfg.ConversationShards,
		IdleTTL:     cfg.ConversationIdleTTL,
		RedisURL:    cfg.RedisURL,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("conversation store init failed: %w", err)
	}

	orch, err := orchestrator.New(store, engine, detectors,
		orchestrator.WithLogger(log.With().Str("component", "orchestrator").Logger()),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithTimeout(cfg.DetectorTimeout),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	api := httpapi.New(cfg, orch, metrics, reg, log.With().Str("component", "httpapi").Logger())
	if p, ok := store.(conversation.Pinger); ok {
		api.SetReadiness(p.Ping)
	}

	var nt *transport.NATSTransport
	if cfg.NATSURL != "" {
		handler := transport.NewHandler(orch, metrics, log.With().Str("component", "nats").Logger())
		nt, err = transport.NewNATSTransport(transport.NATSConfig{
			URL:     cfg.NATSURL,
			Subject: cfg.NATSSubject,
			Timeout: cfg.NATSTimeout,
		}, handler, log)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("nats transport init failed: %w", err)
		}
	}

	cleanup := func() error {
		var errs []error
		if nt != nil {
			errs = append(errs, nt.Close())
		}
		errs = append(errs, store.Close())
		return errors.Join(errs...)
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Orchestrator: orch,
		Store:        store,
		Policy:       engine,
		Metrics:      metrics,
		Registry:     reg,
		NATS:         nt,
		log:          log,
		Cleanup:      cleanup,
	}, nil
}

// StartJanitor evicts idle conversations in the background until ctx is done.
func (b *BuildResult) StartJanitor(ctx context.Context) {
	counter, _ := b.Store.(conversation.Counter)
	conversation.StartJanitor(ctx, b.Store, b.Config.JanitorInterval, b.Config.ConversationIdleTTL, func(n int, err error) {
		if err != nil {
			b.log.Warn().Err(err).Msg("idle eviction failed")
			return
		}
		b.Metrics.Evictions.Add(float64(n))
		if counter != nil {
			b.Metrics.ActiveConversations.Set(float64(counter.Conversations()))
		}
		if n > 0 {
			b.log.Debug().Int("evicted", n).Msg("idle conversations evicted")
		}
	})
}
