// Package detector holds the risk detectors the orchestrator fans out to.
//
// The shipped detectors are deterministic lexicon adapters standing in for
// the statistical models; anything satisfying Detector can replace them.
package detector

import (
	"context"

	"github.com/ent0n29/sentinel/internal/policy"
	"github.com/ent0n29/sentinel/internal/safety"
)

// Detector produces one risk signal for a message. history is a snapshot of
// the user's recent messages, oldest first, including msg itself when the
// store is healthy. Implementations must not retain or mutate history and
// should return promptly once ctx is done.
type Detector interface {
	Kind() safety.DetectorKind
	Analyze(ctx context.Context, msg safety.Message, history []safety.Message, uc safety.UserContext) (safety.DetectorResult, error)
}

// Func adapts a function to Detector, mostly for tests and wrappers.
type Func struct {
	K  safety.DetectorKind
	Fn func(ctx context.Context, msg safety.Message, history []safety.Message, uc safety.UserContext) (safety.DetectorResult, error)
}

func (f Func) Kind() safety.DetectorKind { return f.K }

func (f Func) Analyze(ctx context.Context, msg safety.Message, history []safety.Message, uc safety.UserContext) (safety.DetectorResult, error) {
	return f.Fn(ctx, msg, history, uc)
}

// Stateful is implemented by detectors that read conversation history. The
// orchestrator marks them unavailable when the store cannot supply it.
type Stateful interface {
	NeedsHistory() bool
}

// NeedsHistory reports whether d depends on conversation history.
func NeedsHistory(d Detector) bool {
	s, ok := d.(Stateful)
	return ok && s.NeedsHistory()
}

// Standard returns the four built-in detectors.
func Standard(content policy.ContentRules, esc EscalationConfig) ([]Detector, error) {
	e, err := NewEscalation(esc, nil)
	if err != nil {
		return nil, err
	}
	return []Detector{NewAbuse(), NewCrisis(), e, NewContent(content)}, nil
}
