package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/ent0n29/sentinel/internal/safety"
)

// Engine turns detector results into a verdict. It holds no mutable state and
// its output depends only on which thresholds the results cross, never on the
// order they arrive in.
type Engine struct {
	cfg Config
	now func() time.Time
}

func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("policy engine: %w", err)
	}
	return &Engine{cfg: cfg, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (e *Engine) Config() Config { return e.cfg }

// signal is the contribution of one available detector.
type signal struct {
	kind    safety.DetectorKind
	level   safety.ConcernLevel
	actions []safety.ActionKind
}

// Evaluate aggregates results for uc. When a kind appears more than once the
// first occurrence wins.
func (e *Engine) Evaluate(results []safety.DetectorResult, uc safety.UserContext) safety.Verdict {
	v := safety.Verdict{
		Results:     make(map[safety.DetectorKind]safety.DetectorResult, len(results)),
		Unavailable: []safety.DetectorKind{},
		EvaluatedAt: e.now(),
	}

	var totalWeight, availableWeight float64
	var signals []signal
	for _, r := range results {
		if _, dup := v.Results[r.Kind]; dup {
			continue
		}
		v.Results[r.Kind] = r

		w := e.cfg.weight(r.Kind)
		totalWeight += w
		if !r.Available() {
			v.Unavailable = append(v.Unavailable, r.Kind)
			continue
		}
		availableWeight += w
		if s, ok := e.signalFor(r, uc); ok {
			signals = append(signals, s)
		}
	}
	sort.Slice(v.Unavailable, func(i, j int) bool { return v.Unavailable[i] < v.Unavailable[j] })

	v.Confidence = 1
	if totalWeight > 0 {
		v.Confidence = availableWeight / totalWeight
	}

	atOrAbove := 0
	for _, s := range signals {
		v.ConcernLevel = safety.MaxConcern(v.ConcernLevel, s.level)
		for _, a := range s.actions {
			v.Actions.Add(a)
		}
		if s.level >= e.cfg.Compounding.MinLevel && s.level > safety.ConcernNone {
			atOrAbove++
		}
	}

	if e.cfg.Compounding.Enabled && atOrAbove >= e.cfg.Compounding.MinSignals {
		v.ConcernLevel = v.ConcernLevel.Raise(1)
		v.Compounded = true
	}
	return v
}

func (e *Engine) signalFor(r safety.DetectorResult, uc safety.UserContext) (signal, bool) {
	switch r.Kind {
	case safety.KindAbuse:
		return e.abuseSignal(r.Abuse)
	case safety.KindCrisis:
		return e.crisisSignal(r.Crisis, uc)
	case safety.KindEscalation:
		return e.escalationSignal(r.Escalation)
	case safety.KindContent:
		return e.contentSignal(r.Content, uc)
	default:
		return signal{}, false
	}
}

func (e *Engine) abuseSignal(a *safety.AbuseResult) (signal, bool) {
	if a == nil || !a.IsAbusive {
		return signal{}, false
	}
	s := signal{kind: safety.KindAbuse, level: e.cfg.Abuse.Level(a.Confidence)}
	if s.level >= e.cfg.AbuseReviewLevel {
		s.actions = append(s.actions, safety.ActionFlagForReview)
	}
	return s, s.level > safety.ConcernNone
}

func (e *Engine) crisisSignal(c *safety.CrisisResult, uc safety.UserContext) (signal, bool) {
	if c == nil || c.InterventionLevel <= 0 {
		return signal{}, false
	}
	s := signal{kind: safety.KindCrisis, level: e.cfg.Crisis.Level(float64(c.InterventionLevel))}
	if c.CrisisDetected {
		s.actions = append(s.actions, safety.ActionFlagForReview)
		if uc.GuardianMode {
			s.actions = append(s.actions, safety.ActionNotifyGuardian)
		}
	}
	if c.InterventionLevel >= e.cfg.CrisisEscalationLevel {
		s.actions = append(s.actions, safety.ActionCrisisEscalation)
	}
	return s, true
}

func (e *Engine) escalationSignal(es *safety.EscalationResult) (signal, bool) {
	if es == nil || !es.IsEscalating {
		return signal{}, false
	}
	s := signal{kind: safety.KindEscalation, level: e.cfg.Escalation.Level(es.Confidence)}
	if s.level == safety.ConcernNone {
		return signal{}, false
	}
	s.actions = append(s.actions, safety.ActionFlagForReview)
	return s, true
}

func (e *Engine) contentSignal(c *safety.ContentResult, uc safety.UserContext) (signal, bool) {
	if c == nil || len(c.BlockedCategories) == 0 {
		return signal{}, false
	}
	rules := e.cfg.Content
	s := signal{kind: safety.KindContent, level: rules.AdultLevel}
	if uc.Protected() {
		s.level = safety.MaxConcern(s.level, rules.ProtectedLevel)
	}
	for _, category := range c.BlockedCategories {
		if rules.IsSevere(category) {
			s.level = safety.MaxConcern(s.level, rules.SevereLevel)
		}
	}
	s.actions = append(s.actions, safety.ActionContentBlock)
	if uc.GuardianMode {
		s.actions = append(s.actions, safety.ActionNotifyGuardian)
	}
	return s, true
}
