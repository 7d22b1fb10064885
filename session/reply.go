package session

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/dshills/research-assistant/research"
)

// ErrorText is the only failure message shown to a user.
const ErrorText = "An error occurred. Please refresh the page and try again."

const (
	topicPrompt    = "Please enter a research topic."
	feedbackPrompt = "Type 'Approve' to proceed, or describe any changes you want to make to these personas."
)

// Kind identifies the content of a Reply.
type Kind int

const (
	KindPrompt Kind = iota
	KindAnalysts
	KindRevised
	KindReport
	KindError
)

// Reply is the answer to one session message.
type Reply struct {
	Kind     Kind
	Analysts []research.Analyst

	// Feedback is the revision request behind a KindRevised reply.
	Feedback string

	Report string
	Text   string
}

// Format selects how analyst tables are drawn.
type Format int

const (
	FormatText Format = iota
	FormatMarkdown
)

// Render returns the reply as text for display.
func (r Reply) Render(f Format) string {
	switch r.Kind {
	case KindAnalysts:
		return "I have generated the following analysts for your topic:\n\n" +
			AnalystTable(r.Analysts, f) +
			"\n\nFeedback required: " + feedbackPrompt
	case KindRevised:
		return fmt.Sprintf("Updated analysts (based on: '%s'):\n\n", r.Feedback) +
			AnalystTable(r.Analysts, f) +
			"\n\nFeedback required: Type 'Approve' to proceed, or describe further changes."
	case KindReport:
		return r.Report
	default:
		return r.Text
	}
}

// AnalystTable renders the analysts as a numbered table.
func AnalystTable(analysts []research.Analyst, f Format) string {
	w := table.NewWriter()
	w.AppendHeader(table.Row{"#", "Name", "Role", "Affiliation"})
	for i, a := range analysts {
		w.AppendRow(table.Row{i + 1, a.Name, a.Role, a.Affiliation})
	}

	if f == FormatMarkdown {
		return w.RenderMarkdown()
	}
	w.SetStyle(table.StyleLight)
	return strings.TrimRight(w.Render(), "\n")
}
