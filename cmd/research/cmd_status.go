package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <thread-id>",
	Short: "Show the checkpoint history of a research thread",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := buildApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	threadID := args[0]
	state, status, err := a.Service.State(cmd.Context(), threadID)
	if err != nil {
		return fmt.Errorf("load thread: %w", err)
	}
	history, err := a.Service.History(cmd.Context(), threadID)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Thread:    %s\n", threadID)
	fmt.Fprintf(out, "Topic:     %s\n", state.Topic)
	fmt.Fprintf(out, "Status:    %s\n", status)
	fmt.Fprintf(out, "Analysts:  %d\n", len(state.Analysts))
	fmt.Fprintf(out, "Sections:  %d\n", len(state.Sections))
	fmt.Fprintf(out, "History:   (%d checkpoints)\n", len(history))
	for _, cp := range history {
		fmt.Fprintf(out, "  v%d step=%d %s next=%v %s\n", cp.Version, cp.Step, cp.Status, cp.Next, cp.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	if state.FinalReport != "" {
		fmt.Fprintf(out, "\n%s\n", state.FinalReport)
	}
	return nil
}
