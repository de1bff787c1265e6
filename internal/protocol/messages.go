package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ent0n29/sentinel/internal/orchestrator"
	"github.com/ent0n29/sentinel/internal/safety"
)

// AnalyzeRequest is the payload accepted by every transport.
type AnalyzeRequest struct {
	UserID       string     `json:"user_id"`
	Message      string     `json:"message"`
	UserAge      *int       `json:"user_age"`
	GuardianMode bool       `json:"guardian_mode"`
	Timestamp    *time.Time `json:"timestamp,omitempty"`
}

// ParseAnalyzeRequest decodes raw JSON. Decoding failures and a missing
// user_age wrap safety.ErrInvalidInput; field values are checked later by
// the orchestrator.
func ParseAnalyzeRequest(raw []byte) (AnalyzeRequest, error) {
	var req AnalyzeRequest
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return AnalyzeRequest{}, fmt.Errorf("%w: decode request: %v", safety.ErrInvalidInput, err)
	}
	if err := req.check(); err != nil {
		return AnalyzeRequest{}, err
	}
	return req, nil
}

func (r AnalyzeRequest) check() error {
	if r.UserAge == nil {
		return fmt.Errorf("%w: user_age is required", safety.ErrInvalidInput)
	}
	return nil
}

// Request converts r for the orchestrator.
func (r AnalyzeRequest) Request() orchestrator.Request {
	out := orchestrator.Request{
		UserID:       strings.TrimSpace(r.UserID),
		Text:         r.Message,
		GuardianMode: r.GuardianMode,
	}
	if r.UserAge != nil {
		out.UserAge = *r.UserAge
	}
	if r.Timestamp != nil {
		out.Timestamp = *r.Timestamp
	}
	return out
}

type AnalyzeResponse struct {
	RequestID    string       `json:"request_id,omitempty"`
	SafetyStatus SafetyStatus `json:"safety_status"`
	ModelResults ModelResults `json:"model_results"`
	EvaluatedAt  time.Time    `json:"evaluated_at"`
}

type SafetyStatus struct {
	ConcernLevel      string   `json:"concern_level"`
	ActionsRequired   []string `json:"actions_required"`
	Confidence        float64  `json:"confidence"`
	UnavailableModels []string `json:"unavailable_models"`
	Compounded        bool     `json:"compounded"`
}

// ModelStatus is embedded in every model result. Score fields are omitted
// when the model was unavailable so a missing signal never reads as safe.
type ModelStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type AbuseDetection struct {
	ModelStatus
	IsAbusive  *bool    `json:"is_abusive,omitempty"`
	AbuseType  string   `json:"abuse_type,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type CrisisIntervention struct {
	ModelStatus
	CrisisDetected    *bool    `json:"crisis_detected,omitempty"`
	InterventionLevel *int     `json:"intervention_level,omitempty"`
	RiskScore         *float64 `json:"risk_score,omitempty"`
	Indicators        []string `json:"indicators,omitempty"`
}

type EscalationDetection struct {
	ModelStatus
	IsEscalating *bool    `json:"is_escalating,omitempty"`
	Confidence   *float64 `json:"confidence,omitempty"`
}

// ContentFiltering always carries blocked_categories, as an empty list
// when nothing was blocked, unless the model was unavailable.
type ContentFiltering struct {
	ModelStatus
	IsAppropriate     *bool     `json:"is_appropriate,omitempty"`
	BlockedCategories *[]string `json:"blocked_categories,omitempty"`
}

type ModelResults struct {
	AbuseDetection      *AbuseDetection      `json:"abuse_detection,omitempty"`
	CrisisIntervention  *CrisisIntervention  `json:"crisis_intervention,omitempty"`
	EscalationDetection *EscalationDetection `json:"escalation_detection,omitempty"`
	ContentFiltering    *ContentFiltering    `json:"content_filtering,omitempty"`
}

// ErrorResponse is returned by the HTTP, websocket and NATS surfaces alike.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
	Code      string `json:"code"`
}

const (
	CodeInvalidInput    = "invalid_input"
	CodeRequestCanceled = "request_canceled"
	CodeInternal        = "internal_error"
)

// ErrorCode maps an evaluation error to its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, safety.ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeRequestCanceled
	default:
		return CodeInternal
	}
}

// FromVerdict renders v on the wire.
func FromVerdict(requestID string, v safety.Verdict) AnalyzeResponse {
	resp := AnalyzeResponse{
		RequestID:   requestID,
		EvaluatedAt: v.EvaluatedAt,
		SafetyStatus: SafetyStatus{
			ConcernLevel:      v.ConcernLevel.String(),
			ActionsRequired:   make([]string, 0, v.Actions.Len()),
			Confidence:        v.Confidence,
			UnavailableModels: make([]string, 0, len(v.Unavailable)),
			Compounded:        v.Compounded,
		},
	}
	for _, a := range v.Actions.Slice() {
		resp.SafetyStatus.ActionsRequired = append(resp.SafetyStatus.ActionsRequired, string(a))
	}
	for _, k := range v.Unavailable {
		resp.SafetyStatus.UnavailableModels = append(resp.SafetyStatus.UnavailableModels, string(k))
	}

	for kind, r := range v.Results {
		status := ModelStatus{Status: string(r.Status), Reason: r.Reason}
		switch kind {
		case safety.KindAbuse:
			m := &AbuseDetection{ModelStatus: status}
			if r.Abuse != nil {
				m.IsAbusive = &r.Abuse.IsAbusive
				m.AbuseType = r.Abuse.AbuseType
				m.Confidence = &r.Abuse.Confidence
			}
			resp.ModelResults.AbuseDetection = m
		case safety.KindCrisis:
			m := &CrisisIntervention{ModelStatus: status}
			if r.Crisis != nil {
				m.CrisisDetected = &r.Crisis.CrisisDetected
				m.InterventionLevel = &r.Crisis.InterventionLevel
				m.RiskScore = &r.Crisis.RiskScore
				m.Indicators = r.Crisis.Indicators
			}
			resp.ModelResults.CrisisIntervention = m
		case safety.KindEscalation:
			m := &EscalationDetection{ModelStatus: status}
			if r.Escalation != nil {
				m.IsEscalating = &r.Escalation.IsEscalating
				m.Confidence = &r.Escalation.Confidence
			}
			resp.ModelResults.EscalationDetection = m
		case safety.KindContent:
			m := &ContentFiltering{ModelStatus: status}
			if r.Content != nil {
				m.IsAppropriate = &r.Content.IsAppropriate
				blocked := append([]string{}, r.Content.BlockedCategories...)
				m.BlockedCategories = &blocked
			}
			resp.ModelResults.ContentFiltering = m
		}
	}
	return resp
}
