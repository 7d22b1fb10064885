package research

import (
	"github.com/dshills/research-assistant/graph"
	"github.com/dshills/research-assistant/graph/model"
)

// ResearchState is the state of one research thread.
type ResearchState struct {
	Topic       string `json:"topic"`
	MaxAnalysts int    `json:"max_analysts"`

	// HumanFeedback is the pending revision request. Nil leaves the current
	// value in place when merged; a pointer to "" clears it.
	HumanFeedback *string `json:"human_feedback,omitempty"`

	Analysts []Analyst `json:"analysts,omitempty"`

	// Sections holds one section per interview, in analyst order.
	Sections []string `json:"sections,omitempty"`

	Introduction string `json:"introduction,omitempty"`
	Body         string `json:"body,omitempty"`
	Conclusion   string `json:"conclusion,omitempty"`
	FinalReport  string `json:"final_report,omitempty"`
}

// Feedback returns the pending revision request, or "".
func (s ResearchState) Feedback() string {
	if s.HumanFeedback == nil {
		return ""
	}
	return *s.HumanFeedback
}

// ReduceResearch merges a partial ResearchState update.
func ReduceResearch(prev, delta ResearchState) ResearchState {
	prev.Topic = graph.Replace(prev.Topic, delta.Topic)
	prev.MaxAnalysts = graph.Replace(prev.MaxAnalysts, delta.MaxAnalysts)
	prev.HumanFeedback = graph.ReplacePtr(prev.HumanFeedback, delta.HumanFeedback)
	prev.Analysts = graph.ReplaceSlice(prev.Analysts, delta.Analysts)
	prev.Sections = graph.AppendOrdered(prev.Sections, delta.Sections)
	prev.Introduction = graph.Replace(prev.Introduction, delta.Introduction)
	prev.Body = graph.Replace(prev.Body, delta.Body)
	prev.Conclusion = graph.Replace(prev.Conclusion, delta.Conclusion)
	prev.FinalReport = graph.Replace(prev.FinalReport, delta.FinalReport)
	return prev
}

// InterviewState is the state of one interview branch.
type InterviewState struct {
	Analyst  Analyst         `json:"analyst"`
	Messages []model.Message `json:"messages,omitempty"`

	// Context holds the retrieved document bundles, one per search.
	Context []string `json:"context,omitempty"`

	MaxTurns   int    `json:"max_turns"`
	Transcript string `json:"transcript,omitempty"`
	Section    string `json:"section,omitempty"`
}

// ReduceInterview merges a partial InterviewState update.
func ReduceInterview(prev, delta InterviewState) InterviewState {
	prev.Analyst = graph.Replace(prev.Analyst, delta.Analyst)
	prev.Messages = graph.AppendOrdered(prev.Messages, delta.Messages)
	prev.Context = graph.AppendOrdered(prev.Context, delta.Context)
	prev.MaxTurns = graph.Replace(prev.MaxTurns, delta.MaxTurns)
	prev.Transcript = graph.Replace(prev.Transcript, delta.Transcript)
	prev.Section = graph.Replace(prev.Section, delta.Section)
	return prev
}

func ptr[T any](v T) *T {
	return &v
}
