package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/sentinel/internal/safety"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLadderLevel(t *testing.T) {
	l := Default().Abuse
	assert.Equal(t, safety.ConcernNone, l.Level(0.49))
	assert.Equal(t, safety.ConcernLow, l.Level(0.5))
	assert.Equal(t, safety.ConcernModerate, l.Level(0.8))
	assert.Equal(t, safety.ConcernHigh, l.Level(1))
}

func TestValidateRejectsLooserMinorThreshold(t *testing.T) {
	cfg := Default()
	cfg.Content.Categories["violence"] = CategoryRule{Adult: 0.4, Minor: 0.6}
	assert.ErrorContains(t, cfg.Validate(), "minor threshold")
}

func TestValidateRejectsDescendingLadder(t *testing.T) {
	cfg := Default()
	cfg.Escalation = Ladder{{At: 0.7, Level: safety.ConcernModerate}, {At: 0.4, Level: safety.ConcernLow}}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownSevereCategory(t *testing.T) {
	cfg := Default()
	cfg.Content.Severe = []string{"piracy"}
	assert.Error(t, cfg.Validate())
}

func TestBlockedCategoriesForMinorsAreSuperset(t *testing.T) {
	rules := Default().Content
	scoreSets := []map[string]float64{
		{"violence": 0.6, "drugs": 0.6, "alcohol": 0.6},
		{"sexual": 0.85, "gambling": 0.5},
		{"extremism": 0.55, "weapons": 0.95},
		{"violence": 0.1},
	}
	grown := safety.UserContext{UserAge: 30}
	protected := []safety.UserContext{
		{UserAge: 10},
		{UserAge: 17},
		{UserAge: 30, GuardianMode: true},
	}
	for _, scores := range scoreSets {
		adultBlocked := rules.Blocked(scores, grown)
		for _, uc := range protected {
			minorBlocked := rules.Blocked(scores, uc)
			for _, c := range adultBlocked {
				assert.Contains(t, minorBlocked, c, "scores %v, context %+v", scores, uc)
			}
		}
	}
}

func TestBlockedCategoriesDemoMessage(t *testing.T) {
	rules := Default().Content
	scores := map[string]float64{"violence": 0.6, "drugs": 0.6, "alcohol": 0.6}

	assert.Equal(t, []string{"alcohol", "drugs", "violence"}, rules.Blocked(scores, safety.UserContext{UserAge: 10, GuardianMode: true}))
	assert.Empty(t, rules.Blocked(scores, safety.UserContext{UserAge: 25}))
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
compounding:
  enabled: true
  min_signals: 2
  min_level: moderate
escalation:
  - at: 0.5
    level: low
  - at: 0.6
    level: high
content:
  categories:
    gambling:
      adult: 0.7
      minor: 0.2
`))
	require.NoError(t, err)
	assert.True(t, cfg.Compounding.Enabled)
	assert.Equal(t, safety.ConcernModerate, cfg.Compounding.MinLevel)
	assert.Equal(t, safety.ConcernHigh, cfg.Escalation.Level(0.65))
	assert.Equal(t, CategoryRule{Adult: 0.7, Minor: 0.2}, cfg.Content.Categories["gambling"])
	assert.Contains(t, cfg.Content.Categories, "violence", "unlisted categories keep their defaults")
}

func TestParseRejectsUnknownLevel(t *testing.T) {
	_, err := Parse([]byte("abuse_review_level: severe\n"))
	assert.Error(t, err)
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().CrisisEscalationLevel, cfg.CrisisEscalationLevel)
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("crisis_escalation_level: 4\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.CrisisEscalationLevel)
}
