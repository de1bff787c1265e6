package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ent0n29/sentinel/internal/app"
	"github.com/ent0n29/sentinel/internal/orchestrator"
	"github.com/ent0n29/sentinel/internal/safety"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run the built-in safety scenarios in-process",
	RunE:  demoCommand,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

type scenario struct {
	name     string
	userID   string
	messages []string
	age      int
	guardian bool
}

var scenarios = []scenario{
	{"Normal Conversation", "user123", []string{"Hello, how are you doing today?"}, 25, false},
	{"Abusive Language", "user456", []string{"I hate you! You're stupid and worthless!"}, 25, false},
	{"Crisis Situation", "user789", []string{"I can't take it anymore. I want to end it all."}, 25, false},
	{"Age-Inappropriate Content", "child_user", []string{"I saw some violent content with drugs and alcohol"}, 10, true},
	{"Escalating Conversation", "escalating_user", []string{
		"I'm getting really frustrated",
		"This is making me angry",
		"I hate this so much!",
		"I can't stand it anymore!",
	}, 25, false},
}

type evaluator interface {
	Evaluate(ctx context.Context, req orchestrator.Request) (safety.Verdict, error)
}

func demoCommand(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	// The demo always runs against a private in-memory store.
	cfg.ConversationStore = "memory"
	cfg.NATSURL = ""

	b, err := app.Build(cmd.Context(), cfg, zerolog.Nop())
	if err != nil {
		return err
	}
	defer b.Cleanup()

	return runDemo(cmd.Context(), cmd.OutOrStdout(), b.Orchestrator)
}

func runDemo(ctx context.Context, w io.Writer, eval evaluator) error {
	rule := strings.Repeat("=", 50)
	for _, sc := range scenarios {
		fmt.Fprintf(w, "\n%s\nTesting: %s\n%s\n", rule, sc.name, rule)
		for i, text := range sc.messages {
			if len(sc.messages) > 1 {
				fmt.Fprintf(w, "Message %d: %s\n", i+1, text)
			}
			v, err := eval.Evaluate(ctx, orchestrator.Request{
				UserID:       sc.userID,
				Text:         text,
				UserAge:      sc.age,
				GuardianMode: sc.guardian,
			})
			if err != nil {
				fmt.Fprintf(w, "Error: %v\n", err)
				continue
			}
			printVerdict(w, v)
		}
	}
	return nil
}

func printVerdict(w io.Writer, v safety.Verdict) {
	actions := make([]string, 0, v.Actions.Len())
	for _, a := range v.Actions.Slice() {
		actions = append(actions, string(a))
	}
	fmt.Fprintf(w, "Safety Level: %s\n", strings.ToUpper(v.ConcernLevel.String()))
	fmt.Fprintf(w, "Actions Required: %s\n", strings.Join(actions, ", "))

	if r, ok := v.Result(safety.KindAbuse); ok && r.Available() && r.Abuse.IsAbusive {
		fmt.Fprintf(w, "ABUSE DETECTED: %s (confidence: %.2f)\n", r.Abuse.AbuseType, r.Abuse.Confidence)
	}
	if r, ok := v.Result(safety.KindCrisis); ok && r.Available() && r.Crisis.CrisisDetected {
		fmt.Fprintf(w, "CRISIS DETECTED: intervention level %d (risk score: %.2f)\n", r.Crisis.InterventionLevel, r.Crisis.RiskScore)
	}
	if r, ok := v.Result(safety.KindEscalation); ok && r.Available() && r.Escalation.IsEscalating {
		fmt.Fprintf(w, "ESCALATION DETECTED (confidence: %.2f)\n", r.Escalation.Confidence)
	}
	if r, ok := v.Result(safety.KindContent); ok && r.Available() && !r.Content.IsAppropriate {
		fmt.Fprintf(w, "CONTENT BLOCKED: %s\n", strings.Join(r.Content.BlockedCategories, ", "))
	}
	for _, k := range v.Unavailable {
		r, _ := v.Result(k)
		fmt.Fprintf(w, "UNAVAILABLE: %s (%s)\n", k, r.Reason)
	}
}
