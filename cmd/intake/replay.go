package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/voximply/intake/internal/config"
	"github.com/voximply/intake/internal/events"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <conversation-id>",
		Short: "Print a conversation's journaled history and final state",
		Long: `replay reads a conversation's events from the SQLite journal and prints
them in emission order, followed by the state reconstructed from the event
stream: the last known state of every field, the nodes visited, and the
conversation outcome.

The journal path comes from the config file unless --journal overrides it.`,
		Args: cobra.ExactArgs(1),
		RunE: runReplay,
	}
	cmd.Flags().String("journal", "", "journal database path (overrides the config)")
	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	conversationID := args[0]

	path, _ := cmd.Flags().GetString("journal")
	if path == "" {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cfg.Journal.Path == "" {
			return fmt.Errorf("%s has no journal.path; pass --journal", configPath)
		}
		path = cfg.Journal.Path
	}

	journal, err := events.OpenJournal(path)
	if err != nil {
		return err
	}
	defer journal.Close()

	history, err := journal.History(cmd.Context(), conversationID)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return fmt.Errorf("no events recorded for conversation %s", conversationID)
	}

	for _, e := range history {
		data := ""
		if len(e.Data) > 0 {
			if b, err := json.Marshal(e.Data); err == nil {
				data = string(b)
			}
		}
		fmt.Printf("%s  %-22s %s\n", e.Timestamp.Format("15:04:05.000"), e.Type, data)
	}

	printReconstructed(history)
	return nil
}

// printReconstructed folds the event stream back into the conversation's
// final shape.
func printReconstructed(history []events.Event) {
	fields := map[string]string{}
	var nodes []string
	outcome := "in progress"

	for _, e := range history {
		switch e.Type {
		case events.TypeTransition:
			if f, ok := e.Data["field"].(string); ok {
				if to, ok := e.Data["to"].(string); ok {
					fields[f] = to
				}
			}
		case events.TypeNodeEntered:
			if n, ok := e.Data["node"].(string); ok {
				nodes = append(nodes, n)
			}
		case events.TypeConversationEnded:
			if o, ok := e.Data["outcome"].(string); ok {
				outcome = o
			}
		}
	}

	fmt.Printf("\nreconstructed state\n")
	fmt.Printf("  outcome: %s\n", outcome)
	fmt.Printf("  path:    %v\n", nodes)

	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)
	for _, f := range names {
		fmt.Printf("  field %-10s %s\n", f, fields[f])
	}
}
