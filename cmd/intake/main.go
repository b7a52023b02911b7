// Command intake is the operator CLI for the intake capture engine.
//
// It validates configuration (check), drives scripted conversations through
// the full engine (simulate), reconstructs conversation histories from the
// event journal (replay), and prints version information.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/voximply/intake/internal/config"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "intake",
		Short: "Deterministic structured-data capture engine for voice agents",
		Long: `intake drives real-time conversations through collecting, validating, and
confirming structured data (email, phone, address, date/time) from noisy
speech input, chained through a branching objective graph.

This CLI validates configuration, simulates conversations from transcript
scripts, and replays recorded conversations from the event journal.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "config.yaml", "path to the YAML configuration file")

	rootCmd.AddCommand(
		newCheckCmd(),
		newSimulateCmd(),
		newReplayCmd(),
		newVersionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "intake: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("intake version %s\n", version)
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration file and objective graph",
		Long: `check loads the configuration, validates every section, constructs the
objective graph, and test-builds every capture chain against the configured
service catalog and knowledge table. Errors are reported all at once, so a
broken config surfaces every problem in a single run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			printCheckSummary(path, cfg)
			return nil
		},
	}
}

func printCheckSummary(path string, cfg *config.Config) {
	fmt.Printf("%s: ok\n", path)
	fmt.Printf("  graph:       %d nodes, start %q\n", len(cfg.Graph.Nodes), cfg.Graph.Start)
	for _, n := range cfg.Graph.Nodes {
		switch n.Kind {
		case "terminal":
			fmt.Printf("    %-20s terminal\n", n.ID)
		default:
			fmt.Printf("    %-20s sequence %v\n", n.ID, n.Fields)
		}
	}
	fmt.Printf("  recognizers: %d", len(cfg.Consensus.Recognizers))
	if cfg.Consensus.Fallback != "" {
		fmt.Printf(" (fallback %s)", cfg.Consensus.Fallback)
	}
	fmt.Println()
	fmt.Printf("  dispatch:    speech=%v language=%v\n",
		cfg.Dispatch.Speech != nil, cfg.Dispatch.Language != nil)
	fmt.Printf("  checkpoint:  %s\n", cfg.Checkpoint.Resolved())
	if cfg.Journal.Path != "" {
		fmt.Printf("  journal:     %s\n", cfg.Journal.Path)
	}
	fmt.Printf("  services:    %d  knowledge: %d  field overrides: %d\n",
		len(cfg.Services), len(cfg.Knowledge), len(cfg.Fields))
}

// newLogger builds the process logger at the configured level.
func newLogger(level config.LogLevel) *slog.Logger {
	var l slog.Level
	switch level {
	case config.LogDebug:
		l = slog.LevelDebug
	case config.LogWarn:
		l = slog.LevelWarn
	case config.LogError:
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
