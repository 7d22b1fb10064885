package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/research-assistant/session"
)

var runFlags struct {
	topic string
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Research a topic interactively in the terminal",
	Long: `Asks for a topic, shows the generated analysts and waits for your review.
Type 'approve' to start the interviews, or describe changes to regenerate the
analysts. Type 'quit' to exit.`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runFlags.topic, "topic", "", "research topic (prompted when empty)")
}

func runRun(cmd *cobra.Command, _ []string) error {
	a, err := buildApp(nil)
	if err != nil {
		return err
	}
	defer a.Close()

	err = converse(cmd, a.Sessions, runFlags.topic)
	fmt.Fprintf(cmd.ErrOrStderr(), "usage: %s\n", a.Usage)
	return err
}

const terminalSession = "terminal"

// converse runs the session loop over the command's stdin and stdout.
func converse(cmd *cobra.Command, sessions *session.Manager, topic string) error {
	out := cmd.OutOrStdout()
	in := bufio.NewScanner(cmd.InOrStdin())
	in.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	sessions.Reset(terminalSession)
	if topic != "" {
		respond(cmd, sessions, out, topic)
	} else {
		fmt.Fprintln(out, "Enter a research topic:")
	}

	for {
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			fmt.Fprintln(out)
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "quit" || line == "exit" {
			return nil
		}
		respond(cmd, sessions, out, line)
	}
}

func respond(cmd *cobra.Command, sessions *session.Manager, out io.Writer, line string) {
	reply := sessions.Handle(cmd.Context(), terminalSession, line)
	fmt.Fprintln(out, reply.Render(session.FormatText))
	if reply.Kind == session.KindReport || reply.Kind == session.KindError {
		fmt.Fprintln(out, "\nEnter another research topic, or 'quit':")
	}
}
