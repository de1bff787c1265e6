package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ent0n29/sentinel/internal/safety"
)

func TestParseAnalyzeRequest(t *testing.T) {
	raw := []byte(`{"user_id":" kid_user ","message":"hi","user_age":10,"guardian_mode":true}`)
	req, err := ParseAnalyzeRequest(raw)
	if err != nil {
		t.Fatalf("ParseAnalyzeRequest() error = %v", err)
	}
	r := req.Request()
	if r.UserID != "kid_user" || r.UserAge != 10 || !r.GuardianMode || r.Text != "hi" {
		t.Fatalf("unexpected request: %+v", r)
	}
	if !r.Timestamp.IsZero() {
		t.Fatalf("Timestamp = %v, want zero", r.Timestamp)
	}
}

func TestParseAnalyzeRequestRejectsBadPayloads(t *testing.T) {
	cases := []string{
		`{"user_id":"u1","message":"hi"}`,
		`{"user_id":"u1","message":"hi","user_age":"ten"}`,
		`{"user_id":"u1","message":"hi","user_age":10,"extra":1}`,
		`not json`,
	}
	for _, raw := range cases {
		_, err := ParseAnalyzeRequest([]byte(raw))
		if !errors.Is(err, safety.ErrInvalidInput) {
			t.Fatalf("ParseAnalyzeRequest(%s) error = %v, want ErrInvalidInput", raw, err)
		}
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", safety.ErrInvalidInput), CodeInvalidInput},
		{fmt.Errorf("evaluate: %w", context.Canceled), CodeRequestCanceled},
		{context.DeadlineExceeded, CodeRequestCanceled},
		{errors.New("boom"), CodeInternal},
	}
	for _, tc := range cases {
		if got := ErrorCode(tc.err); got != tc.want {
			t.Fatalf("ErrorCode(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestFromVerdict(t *testing.T) {
	v := safety.Verdict{
		ConcernLevel: safety.ConcernHigh,
		Actions:      safety.NewActionSet(safety.ActionCrisisEscalation, safety.ActionFlagForReview),
		Results: map[safety.DetectorKind]safety.DetectorResult{
			safety.KindAbuse:      safety.AbuseOK(safety.AbuseResult{}),
			safety.KindCrisis:     safety.CrisisOK(safety.CrisisResult{CrisisDetected: true, InterventionLevel: 3, RiskScore: 0.91}),
			safety.KindEscalation: safety.Unavailable(safety.KindEscalation, safety.ReasonStoreUnavailable, nil),
			safety.KindContent:    safety.ContentOK(safety.ContentResult{IsAppropriate: true}),
		},
		Unavailable: []safety.DetectorKind{safety.KindEscalation},
		Confidence:  0.75,
		EvaluatedAt: time.Unix(100, 0).UTC(),
	}

	resp := FromVerdict("req-1", v)
	if resp.SafetyStatus.ConcernLevel != "high" {
		t.Fatalf("ConcernLevel = %q, want high", resp.SafetyStatus.ConcernLevel)
	}
	if got := fmt.Sprint(resp.SafetyStatus.ActionsRequired); got != "[crisis_escalation flag_for_review]" {
		t.Fatalf("ActionsRequired = %s", got)
	}
	crisis := resp.ModelResults.CrisisIntervention
	if crisis == nil || crisis.InterventionLevel == nil || *crisis.InterventionLevel != 3 {
		t.Fatalf("CrisisIntervention = %+v", crisis)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var doc struct {
		ModelResults map[string]map[string]any `json:"model_results"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	esc := doc.ModelResults["escalation_detection"]
	if esc["status"] != "unavailable" || esc["reason"] != "store_unavailable" {
		t.Fatalf("escalation_detection = %v", esc)
	}
	if _, ok := esc["is_escalating"]; ok {
		t.Fatalf("unavailable escalation must not report is_escalating")
	}
	abuse := doc.ModelResults["abuse_detection"]
	if abuse["is_abusive"] != false || abuse["status"] != "ok" {
		t.Fatalf("abuse_detection = %v", abuse)
	}
	blocked, ok := doc.ModelResults["content_filtering"]["blocked_categories"].([]any)
	if !ok || len(blocked) != 0 {
		t.Fatalf("content_filtering.blocked_categories = %v, want empty list", doc.ModelResults["content_filtering"]["blocked_categories"])
	}
}

func TestFromVerdictUnavailableContentOmitsCategories(t *testing.T) {
	v := safety.Verdict{
		Results: map[safety.DetectorKind]safety.DetectorResult{
			safety.KindContent: safety.Unavailable(safety.KindContent, safety.ReasonTimeout, nil),
		},
		Unavailable: []safety.DetectorKind{safety.KindContent},
	}
	raw, err := json.Marshal(FromVerdict("req-2", v))
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if strings.Contains(string(raw), "blocked_categories") {
		t.Fatalf("unavailable content_filtering must not report blocked_categories: %s", raw)
	}
}
