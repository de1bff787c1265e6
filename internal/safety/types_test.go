package safety

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcernLevelOrderingAndRaise(t *testing.T) {
	assert.True(t, ConcernNone < ConcernLow)
	assert.True(t, ConcernHigh < ConcernCritical)
	assert.Equal(t, ConcernHigh, ConcernModerate.Raise(1))
	assert.Equal(t, ConcernCritical, ConcernHigh.Raise(3))
	assert.Equal(t, ConcernModerate, MaxConcern(ConcernLow, ConcernModerate))
}

func TestConcernLevelTextRoundTrip(t *testing.T) {
	data, err := json.Marshal(map[string]ConcernLevel{"level": ConcernHigh})
	require.NoError(t, err)
	assert.JSONEq(t, `{"level":"high"}`, string(data))

	var out struct {
		Level ConcernLevel `json:"level"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"level":"Critical"}`), &out))
	assert.Equal(t, ConcernCritical, out.Level)

	_, err = ParseConcernLevel("severe")
	assert.Error(t, err)
}

func TestActionSetIsSortedAndDeduplicated(t *testing.T) {
	a := NewActionSet(ActionNotifyGuardian, ActionContentBlock, ActionFlagForReview, ActionContentBlock)
	b := NewActionSet(ActionFlagForReview, ActionContentBlock, ActionNotifyGuardian)

	assert.Equal(t, a.Slice(), b.Slice())
	assert.Equal(t, []ActionKind{ActionContentBlock, ActionFlagForReview, ActionNotifyGuardian}, a.Slice())
	assert.True(t, a.Has(ActionFlagForReview))
	assert.False(t, a.Has(ActionCrisisEscalation))
}

func TestActionSetCopiesDoNotAlias(t *testing.T) {
	base := NewActionSet(ActionFlagForReview)
	other := base
	other.Add(ActionContentBlock)

	assert.Equal(t, 1, base.Len())
	assert.Equal(t, 2, other.Len())
	assert.NotNil(t, ActionSet{}.Slice())
}

func TestDetectorResultValidate(t *testing.T) {
	require.NoError(t, AbuseOK(AbuseResult{}).Validate())
	require.NoError(t, Unavailable(KindCrisis, ReasonTimeout, ErrDetectorTimeout).Validate())

	bad := AbuseOK(AbuseResult{})
	bad.Kind = KindContent
	assert.Error(t, bad.Validate())

	mixed := Unavailable(KindContent, ReasonCrash, nil)
	mixed.Content = &ContentResult{}
	assert.Error(t, mixed.Validate())
}

func TestDetectorResultValidateScores(t *testing.T) {
	valid := []DetectorResult{
		AbuseOK(AbuseResult{IsAbusive: true, Confidence: 1}),
		CrisisOK(CrisisResult{CrisisDetected: true, InterventionLevel: 4, RiskScore: 0.97}),
		EscalationOK(EscalationResult{IsEscalating: true, Confidence: 0.8, Slope: -0.1, Intensities: []float64{0, 1}}),
		ContentOK(ContentResult{IsAppropriate: true, CategoryScores: map[string]float64{"drugs": 0.6}}),
	}
	for _, r := range valid {
		assert.NoError(t, r.Validate(), "%s", r.Kind)
	}

	invalid := map[string]DetectorResult{
		"abuse nan":          AbuseOK(AbuseResult{IsAbusive: true, Confidence: math.NaN()}),
		"abuse above one":    AbuseOK(AbuseResult{IsAbusive: true, Confidence: 1.7}),
		"crisis level":       CrisisOK(CrisisResult{InterventionLevel: 5, RiskScore: 0.9}),
		"crisis negative":    CrisisOK(CrisisResult{InterventionLevel: -1}),
		"crisis risk":        CrisisOK(CrisisResult{RiskScore: math.Inf(1)}),
		"escalation conf":    EscalationOK(EscalationResult{Confidence: 1.01}),
		"escalation slope":   EscalationOK(EscalationResult{Slope: math.NaN()}),
		"escalation samples": EscalationOK(EscalationResult{Intensities: []float64{0.2, 3}}),
		"content score":      ContentOK(ContentResult{CategoryScores: map[string]float64{"violence": -0.5}}),
	}
	for name, r := range invalid {
		assert.Error(t, r.Validate(), name)
	}
}

func TestUnavailableIsNotAvailable(t *testing.T) {
	r := Unavailable(KindEscalation, ReasonStoreUnavailable, ErrStoreUnavailable)
	assert.False(t, r.Available())
	assert.Nil(t, r.Escalation)
	assert.Equal(t, ErrStoreUnavailable.Error(), r.Err)
}

func TestUserContextProtected(t *testing.T) {
	assert.True(t, UserContext{UserAge: 10}.Protected())
	assert.True(t, UserContext{UserAge: 40, GuardianMode: true}.Protected())
	assert.False(t, UserContext{UserAge: 18}.Protected())
}
