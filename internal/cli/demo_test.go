package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/sentinel/internal/app"
	"github.com/ent0n29/sentinel/internal/config"
)

func buildForTest(t *testing.T) *app.BuildResult {
	t.Helper()
	b, err := app.Build(context.Background(), config.Config{
		MetricsNamespace:          "test_cli",
		DetectorTimeout:           time.Second,
		ConversationStore:         "memory",
		ConversationWindow:        5,
		ConversationShards:        4,
		ConversationIdleTTL:       time.Minute,
		JanitorInterval:           time.Minute,
		EscalationMinMessages:     3,
		EscalationSlopeThreshold:  0.08,
		EscalationSlopeSaturation: 0.2,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Cleanup() })
	return b
}

func TestRunDemoReportsEveryScenario(t *testing.T) {
	b := buildForTest(t)
	var out bytes.Buffer

	require.NoError(t, runDemo(context.Background(), &out, b.Orchestrator))
	report := out.String()

	for _, sc := range scenarios {
		assert.Contains(t, report, "Testing: "+sc.name)
	}
	assert.Contains(t, report, "ABUSE DETECTED: insult")
	assert.Contains(t, report, "CRISIS DETECTED")
	assert.Contains(t, report, "CONTENT BLOCKED: alcohol, drugs, violence")
	assert.Contains(t, report, "ESCALATION DETECTED")
	assert.NotContains(t, report, "Error:")

	normal := section(report, "Normal Conversation")
	assert.Contains(t, normal, "Safety Level: NONE")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.True(t, strings.HasPrefix(out.String(), "Sentinel "))
}

// section returns the report text for one scenario.
func section(report, name string) string {
	start := strings.Index(report, "Testing: "+name)
	if start < 0 {
		return ""
	}
	rest := report[start:]
	if end := strings.Index(rest[1:], "Testing: "); end >= 0 {
		return rest[:end+1]
	}
	return rest
}
