package policy

import (
	"fmt"
	"sort"

	"github.com/ent0n29/sentinel/internal/safety"
)

// Rung maps a signal value at or above At onto Level.
type Rung struct {
	At    float64             `yaml:"at"`
	Level safety.ConcernLevel `yaml:"level"`
}

// Ladder is an ascending list of rungs. A value maps to the highest rung it reaches.
type Ladder []Rung

func (l Ladder) Level(v float64) safety.ConcernLevel {
	level := safety.ConcernNone
	for _, r := range l {
		if v >= r.At {
			level = safety.MaxConcern(level, r.Level)
		}
	}
	return level
}

func (l Ladder) validate(name string) error {
	for i, r := range l {
		if r.Level <= safety.ConcernNone || r.Level > safety.ConcernCritical {
			return fmt.Errorf("%s rung %d: level must be low..critical", name, i)
		}
		if i == 0 {
			continue
		}
		prev := l[i-1]
		if r.At <= prev.At {
			return fmt.Errorf("%s rung %d: thresholds must be strictly ascending", name, i)
		}
		if r.Level < prev.Level {
			return fmt.Errorf("%s rung %d: levels must not decrease", name, i)
		}
	}
	return nil
}

// CategoryRule holds the score at which a content category is blocked.
// Minor applies to protected users (under 18 or guardian mode).
type CategoryRule struct {
	Adult float64 `yaml:"adult"`
	Minor float64 `yaml:"minor"`
}

type ContentRules struct {
	Categories map[string]CategoryRule `yaml:"categories"`
	Severe     []string                `yaml:"severe"`

	ProtectedLevel safety.ConcernLevel `yaml:"protected_level"`
	SevereLevel    safety.ConcernLevel `yaml:"severe_level"`
	AdultLevel     safety.ConcernLevel `yaml:"adult_level"`
}

// Threshold returns the blocking score for category under uc.
func (c ContentRules) Threshold(category string, uc safety.UserContext) (float64, bool) {
	rule, ok := c.Categories[category]
	if !ok {
		return 0, false
	}
	if uc.Protected() {
		return rule.Minor, true
	}
	return rule.Adult, true
}

func (c ContentRules) IsSevere(category string) bool {
	for _, s := range c.Severe {
		if s == category {
			return true
		}
	}
	return false
}

// Blocked returns the sorted categories whose score reaches the threshold for uc.
func (c ContentRules) Blocked(scores map[string]float64, uc safety.UserContext) []string {
	blocked := []string{}
	for category, score := range scores {
		threshold, ok := c.Threshold(category, uc)
		if !ok || score <= 0 {
			continue
		}
		if score >= threshold {
			blocked = append(blocked, category)
		}
	}
	sort.Strings(blocked)
	return blocked
}

// Compounding raises the concern level by one when at least MinSignals
// distinct detectors are at or above MinLevel.
type Compounding struct {
	Enabled    bool                `yaml:"enabled"`
	MinSignals int                 `yaml:"min_signals"`
	MinLevel   safety.ConcernLevel `yaml:"min_level"`
}

// Config is the tunable policy. It is loaded from YAML or built by Default.
type Config struct {
	Abuse      Ladder `yaml:"abuse"`
	Crisis     Ladder `yaml:"crisis"`
	Escalation Ladder `yaml:"escalation"`

	AbuseReviewLevel      safety.ConcernLevel `yaml:"abuse_review_level"`
	CrisisEscalationLevel int                 `yaml:"crisis_escalation_level"`

	Content     ContentRules                    `yaml:"content"`
	Compounding Compounding                     `yaml:"compounding"`
	Weights     map[safety.DetectorKind]float64 `yaml:"weights"`
}

func Default() Config {
	return Config{
		Abuse: Ladder{
			{At: 0.5, Level: safety.ConcernLow},
			{At: 0.8, Level: safety.ConcernModerate},
			{At: 0.95, Level: safety.ConcernHigh},
		},
		Crisis: Ladder{
			{At: 1, Level: safety.ConcernLow},
			{At: 2, Level: safety.ConcernModerate},
			{At: 3, Level: safety.ConcernHigh},
			{At: 4, Level: safety.ConcernCritical},
		},
		Escalation: Ladder{
			{At: 0.4, Level: safety.ConcernLow},
			{At: 0.7, Level: safety.ConcernModerate},
		},
		AbuseReviewLevel:      safety.ConcernModerate,
		CrisisEscalationLevel: 3,
		Content: ContentRules{
			Categories: map[string]CategoryRule{
				"violence":  {Adult: 0.9, Minor: 0.3},
				"drugs":     {Adult: 0.85, Minor: 0.3},
				"alcohol":   {Adult: 1.0, Minor: 0.3},
				"gambling":  {Adult: 1.0, Minor: 0.4},
				"weapons":   {Adult: 0.9, Minor: 0.3},
				"sexual":    {Adult: 0.8, Minor: 0.2},
				"extremism": {Adult: 0.5, Minor: 0.3},
			},
			Severe:         []string{"extremism"},
			ProtectedLevel: safety.ConcernModerate,
			SevereLevel:    safety.ConcernModerate,
			AdultLevel:     safety.ConcernLow,
		},
		Compounding: Compounding{
			Enabled:    false,
			MinSignals: 2,
			MinLevel:   safety.ConcernModerate,
		},
		Weights: map[safety.DetectorKind]float64{
			safety.KindAbuse:      1,
			safety.KindCrisis:     1,
			safety.KindEscalation: 1,
			safety.KindContent:    1,
		},
	}
}

func (c Config) Validate() error {
	if err := c.Abuse.validate("abuse"); err != nil {
		return err
	}
	if err := c.Crisis.validate("crisis"); err != nil {
		return err
	}
	if err := c.Escalation.validate("escalation"); err != nil {
		return err
	}
	if c.CrisisEscalationLevel < 0 || c.CrisisEscalationLevel > 4 {
		return fmt.Errorf("crisis_escalation_level must be within 0..4")
	}
	for name, rule := range c.Content.Categories {
		if rule.Minor <= 0 || rule.Adult > 1 {
			return fmt.Errorf("content category %q: thresholds must be within (0,1]", name)
		}
		// Minors are never held to a looser threshold than adults.
		if rule.Minor > rule.Adult {
			return fmt.Errorf("content category %q: minor threshold %.2f exceeds adult threshold %.2f", name, rule.Minor, rule.Adult)
		}
	}
	for _, s := range c.Content.Severe {
		if _, ok := c.Content.Categories[s]; !ok {
			return fmt.Errorf("severe category %q is not a configured category", s)
		}
	}
	if c.Compounding.Enabled && c.Compounding.MinSignals < 2 {
		return fmt.Errorf("compounding.min_signals must be at least 2")
	}
	for kind, w := range c.Weights {
		if w < 0 {
			return fmt.Errorf("weight for %s must not be negative", kind)
		}
	}
	return nil
}

func (c Config) weight(kind safety.DetectorKind) float64 {
	if w, ok := c.Weights[kind]; ok {
		return w
	}
	return 1
}
