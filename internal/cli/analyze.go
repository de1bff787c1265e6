package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ent0n29/sentinel/internal/app"
	"github.com/ent0n29/sentinel/internal/orchestrator"
	"github.com/ent0n29/sentinel/internal/protocol"
)

var (
	analyzeUser     string
	analyzeAge      int
	analyzeGuardian bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze TEXT",
	Short: "Analyze one message and print the JSON verdict",
	Long: `Analyze a single message in-process and print the same JSON document
the HTTP API returns.

  sentinel analyze --user kid_user --age 10 --guardian "I saw some violent content"`,
	Args: cobra.MinimumNArgs(1),
	RunE: analyzeCommand,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeUser, "user", "cli", "User ID the message belongs to")
	analyzeCmd.Flags().IntVar(&analyzeAge, "age", 18, "User age")
	analyzeCmd.Flags().BoolVar(&analyzeGuardian, "guardian", false, "Enable guardian mode")
	rootCmd.AddCommand(analyzeCmd)
}

func analyzeCommand(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	cfg.NATSURL = ""

	b, err := app.Build(cmd.Context(), cfg, zerolog.Nop())
	if err != nil {
		return err
	}
	defer b.Cleanup()

	verdict, err := b.Orchestrator.Evaluate(cmd.Context(), orchestrator.Request{
		UserID:       analyzeUser,
		Text:         strings.Join(args, " "),
		UserAge:      analyzeAge,
		GuardianMode: analyzeGuardian,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(protocol.FromVerdict(uuid.NewString(), verdict))
}
