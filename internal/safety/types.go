package safety

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("conversation store unavailable")
	ErrDetectorTimeout  = errors.New("detector timed out")
	ErrDetectorCrash    = errors.New("detector crashed")
)

// Message is a single user-authored message. It is never mutated after creation.
type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// UserContext is supplied per request and never stored.
type UserContext struct {
	UserAge      int  `json:"user_age"`
	GuardianMode bool `json:"guardian_mode"`
}

func (u UserContext) IsMinor() bool { return u.UserAge < 18 }

// Protected reports whether stricter content rules apply.
func (u UserContext) Protected() bool { return u.IsMinor() || u.GuardianMode }

// ConcernLevel is the ordinal severity of a verdict.
type ConcernLevel int

const (
	ConcernNone ConcernLevel = iota
	ConcernLow
	ConcernModerate
	ConcernHigh
	ConcernCritical
)

var concernNames = [...]string{"none", "low", "moderate", "high", "critical"}

func (l ConcernLevel) String() string {
	if l < ConcernNone || l > ConcernCritical {
		return fmt.Sprintf("ConcernLevel(%d)", int(l))
	}
	return concernNames[l]
}

// Raise moves the level up by n steps, capped at critical.
func (l ConcernLevel) Raise(n int) ConcernLevel {
	out := l + ConcernLevel(n)
	if out > ConcernCritical {
		return ConcernCritical
	}
	if out < ConcernNone {
		return ConcernNone
	}
	return out
}

func MaxConcern(a, b ConcernLevel) ConcernLevel {
	if a > b {
		return a
	}
	return b
}

func ParseConcernLevel(s string) (ConcernLevel, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	for i, name := range concernNames {
		if name == in {
			return ConcernLevel(i), nil
		}
	}
	return ConcernNone, fmt.Errorf("unknown concern level %q", s)
}

func (l ConcernLevel) MarshalText() ([]byte, error) {
	if l < ConcernNone || l > ConcernCritical {
		return nil, fmt.Errorf("invalid concern level %d", int(l))
	}
	return []byte(l.String()), nil
}

func (l *ConcernLevel) UnmarshalText(b []byte) error {
	parsed, err := ParseConcernLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// ActionKind is a required follow-up for downstream systems.
type ActionKind string

const (
	ActionFlagForReview    ActionKind = "flag_for_review"
	ActionNotifyGuardian   ActionKind = "notify_guardian"
	ActionCrisisEscalation ActionKind = "crisis_escalation"
	ActionContentBlock     ActionKind = "content_block"
)

// ActionSet is a sorted, duplicate-free set of actions. The zero value is empty.
type ActionSet struct {
	items []ActionKind
}

func NewActionSet(actions ...ActionKind) ActionSet {
	var s ActionSet
	for _, a := range actions {
		s.Add(a)
	}
	return s
}

func (s *ActionSet) Add(a ActionKind) {
	i := sort.Search(len(s.items), func(i int) bool { return s.items[i] >= a })
	if i < len(s.items) && s.items[i] == a {
		return
	}
	// Copy on write: ActionSet values may share a backing array.
	items := make([]ActionKind, 0, len(s.items)+1)
	items = append(items, s.items[:i]...)
	items = append(items, a)
	s.items = append(items, s.items[i:]...)
}

func (s ActionSet) Has(a ActionKind) bool {
	i := sort.Search(len(s.items), func(i int) bool { return s.items[i] >= a })
	return i < len(s.items) && s.items[i] == a
}

func (s ActionSet) Len() int { return len(s.items) }

// Slice returns a copy of the actions in sorted order, never nil.
func (s ActionSet) Slice() []ActionKind {
	out := make([]ActionKind, len(s.items))
	copy(out, s.items)
	return out
}

// DetectorKind identifies a detector; the values double as the
// model_results keys of the external response.
type DetectorKind string

const (
	KindAbuse      DetectorKind = "abuse_detection"
	KindCrisis     DetectorKind = "crisis_intervention"
	KindEscalation DetectorKind = "escalation_detection"
	KindContent    DetectorKind = "content_filtering"
)

// AllKinds lists the detector kinds in their stable presentation order.
var AllKinds = []DetectorKind{KindAbuse, KindCrisis, KindEscalation, KindContent}

type Status string

const (
	StatusOK          Status = "ok"
	StatusUnavailable Status = "unavailable"
)

// Reasons recorded on unavailable results.
const (
	ReasonTimeout          = "timeout"
	ReasonCrash            = "crash"
	ReasonStoreUnavailable = "store_unavailable"
	ReasonCanceled         = "canceled"
	ReasonError            = "error"
)

type AbuseResult struct {
	IsAbusive  bool    `json:"is_abusive"`
	AbuseType  string  `json:"abuse_type,omitempty"`
	Confidence float64 `json:"confidence"`
}

type CrisisResult struct {
	CrisisDetected    bool     `json:"crisis_detected"`
	InterventionLevel int      `json:"intervention_level"`
	RiskScore         float64  `json:"risk_score"`
	Indicators        []string `json:"indicators,omitempty"`
}

type EscalationResult struct {
	IsEscalating bool      `json:"is_escalating"`
	Confidence   float64   `json:"confidence"`
	Slope        float64   `json:"slope"`
	Intensities  []float64 `json:"intensities,omitempty"`
}

type ContentResult struct {
	IsAppropriate     bool               `json:"is_appropriate"`
	BlockedCategories []string           `json:"blocked_categories"`
	CategoryScores    map[string]float64 `json:"category_scores,omitempty"`
}

// DetectorResult is a tagged variant: when Status is ok exactly one payload
// matching Kind is set; when unavailable every payload is nil.
type DetectorResult struct {
	Kind    DetectorKind
	Status  Status
	Reason  string
	Err     string
	Latency time.Duration

	Abuse      *AbuseResult
	Crisis     *CrisisResult
	Escalation *EscalationResult
	Content    *ContentResult
}

func (r DetectorResult) Available() bool { return r.Status == StatusOK }

// Unavailable builds the explicit marker for a detector that produced nothing.
func Unavailable(kind DetectorKind, reason string, err error) DetectorResult {
	r := DetectorResult{Kind: kind, Status: StatusUnavailable, Reason: reason}
	if err != nil {
		r.Err = err.Error()
	}
	return r
}

func AbuseOK(r AbuseResult) DetectorResult {
	return DetectorResult{Kind: KindAbuse, Status: StatusOK, Abuse: &r}
}

func CrisisOK(r CrisisResult) DetectorResult {
	return DetectorResult{Kind: KindCrisis, Status: StatusOK, Crisis: &r}
}

func EscalationOK(r EscalationResult) DetectorResult {
	return DetectorResult{Kind: KindEscalation, Status: StatusOK, Escalation: &r}
}

func ContentOK(r ContentResult) DetectorResult {
	return DetectorResult{Kind: KindContent, Status: StatusOK, Content: &r}
}

// Validate checks that Status and the payload agree.
func (r DetectorResult) Validate() error {
	set := 0
	match := false
	if r.Abuse != nil {
		set++
		match = r.Kind == KindAbuse
	}
	if r.Crisis != nil {
		set++
		match = r.Kind == KindCrisis
	}
	if r.Escalation != nil {
		set++
		match = r.Kind == KindEscalation
	}
	if r.Content != nil {
		set++
		match = r.Kind == KindContent
	}
	switch r.Status {
	case StatusOK:
		if set != 1 || !match {
			return fmt.Errorf("%s: ok result must carry exactly one %s payload", r.Kind, r.Kind)
		}
		return r.checkScores()
	case StatusUnavailable:
		if set != 0 {
			return fmt.Errorf("%s: unavailable result must not carry a payload", r.Kind)
		}
	default:
		return fmt.Errorf("%s: unknown status %q", r.Kind, r.Status)
	}
	return nil
}

// MaxInterventionLevel is the most urgent crisis intervention level.
const MaxInterventionLevel = 4

// checkScores rejects payloads a policy could misread: non-finite values,
// probabilities outside [0,1] and unknown intervention levels.
func (r DetectorResult) checkScores() error {
	switch {
	case r.Abuse != nil:
		return unitScore(r.Kind, "confidence", r.Abuse.Confidence)
	case r.Crisis != nil:
		if r.Crisis.InterventionLevel < 0 || r.Crisis.InterventionLevel > MaxInterventionLevel {
			return fmt.Errorf("%s: intervention_level %d out of range 0..%d", r.Kind, r.Crisis.InterventionLevel, MaxInterventionLevel)
		}
		return unitScore(r.Kind, "risk_score", r.Crisis.RiskScore)
	case r.Escalation != nil:
		if math.IsNaN(r.Escalation.Slope) || math.IsInf(r.Escalation.Slope, 0) {
			return fmt.Errorf("%s: slope is not finite", r.Kind)
		}
		for _, v := range r.Escalation.Intensities {
			if err := unitScore(r.Kind, "intensity", v); err != nil {
				return err
			}
		}
		return unitScore(r.Kind, "confidence", r.Escalation.Confidence)
	case r.Content != nil:
		for category, v := range r.Content.CategoryScores {
			if err := unitScore(r.Kind, "category_scores."+category, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func unitScore(kind DetectorKind, field string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s: %s %v out of range [0,1]", kind, field, v)
	}
	return nil
}

// Verdict is produced once per request and not mutated afterwards.
type Verdict struct {
	ConcernLevel ConcernLevel
	Actions      ActionSet
	Results      map[DetectorKind]DetectorResult
	Unavailable  []DetectorKind
	Confidence   float64
	Compounded   bool
	EvaluatedAt  time.Time
}

// Result returns the detector result for kind, if the detector was run.
func (v Verdict) Result(kind DetectorKind) (DetectorResult, bool) {
	r, ok := v.Results[kind]
	return r, ok
}
