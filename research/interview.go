package research

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/research-assistant/graph"
	"github.com/dshills/research-assistant/graph/model"
	"github.com/dshills/research-assistant/graph/tool"
)

// Interview node IDs.
const (
	NodeAskQuestion     = "ask_question"
	NodeSearchWeb       = "search_web"
	NodeSearchWikipedia = "search_wikipedia"
	NodeAnswerQuestion  = "answer_question"
	NodeSaveInterview   = "save_interview"
	NodeWriteSection    = "write_section"
)

// DefaultMaxTurns is the number of expert answers after which an interview
// ends even if the analyst has not said goodbye.
const DefaultMaxTurns = 2

const (
	documentSeparator = "\n\n---\n\n"
	noWikiResults     = "No wikipedia results."
)

// interviewer holds the capabilities used by the interview nodes.
type interviewer struct {
	worker Completer
	web    Retriever
	wiki   Retriever
	logger *slog.Logger
}

// NewInterviewGraph builds the interview graph:
//
//	ask_question -> {search_web, search_wikipedia} -> answer_question
//	answer_question -> ask_question | save_interview
//	save_interview -> write_section -> End
//
// The graph is run through Invoke; it has no interrupts and needs no store.
func NewInterviewGraph(deps Deps) (*graph.Engine[InterviewState], error) {
	if err := deps.check(); err != nil {
		return nil, err
	}

	iv := &interviewer{worker: deps.Worker, web: deps.Web, wiki: deps.Wiki, logger: deps.logger()}
	opts := append([]graph.Option{graph.WithGraphID("interview")}, deps.EngineOptions...)
	engine := graph.New[InterviewState](ReduceInterview, nil, deps.Emitter, opts...)

	nodes := []struct {
		id   string
		node graph.NodeFunc[InterviewState]
	}{
		{NodeAskQuestion, iv.askQuestion},
		{NodeSearchWeb, iv.searchWeb},
		{NodeSearchWikipedia, iv.searchWikipedia},
		{NodeAnswerQuestion, iv.answerQuestion},
		{NodeSaveInterview, iv.saveInterview},
		{NodeWriteSection, iv.writeSection},
	}
	for _, n := range nodes {
		if err := engine.Add(n.id, n.node); err != nil {
			return nil, err
		}
	}

	steps := []error{
		engine.StartAt(NodeAskQuestion),
		engine.Connect(NodeAskQuestion, NodeSearchWeb, nil),
		engine.Connect(NodeAskQuestion, NodeSearchWikipedia, nil),
		engine.Connect(NodeSearchWeb, NodeAnswerQuestion, nil),
		engine.Connect(NodeSearchWikipedia, NodeAnswerQuestion, nil),
		engine.Branch(NodeAnswerQuestion, routeMessages, NodeAskQuestion, NodeSaveInterview),
		engine.Connect(NodeSaveInterview, NodeWriteSection, nil),
		engine.Connect(NodeWriteSection, graph.End, nil),
	}
	for _, err := range steps {
		if err != nil {
			return nil, err
		}
	}
	return engine, nil
}

func (iv *interviewer) askQuestion(ctx context.Context, s InterviewState) graph.NodeResult[InterviewState] {
	question, err := iv.worker.Complete(ctx,
		questionInstructions(s.Analyst.Persona()),
		perspective(s.Messages, speakerAnalyst))
	if err != nil {
		return graph.NodeResult[InterviewState]{Err: fmt.Errorf("ask question: %w", err)}
	}
	return graph.NodeResult[InterviewState]{Delta: InterviewState{
		Messages: []model.Message{{Role: model.RoleAssistant, Name: speakerAnalyst, Content: question}},
	}}
}

func (iv *interviewer) searchWeb(ctx context.Context, s InterviewState) graph.NodeResult[InterviewState] {
	return iv.search(ctx, s, iv.web, webQueryInstructions, "")
}

func (iv *interviewer) searchWikipedia(ctx context.Context, s InterviewState) graph.NodeResult[InterviewState] {
	return iv.search(ctx, s, iv.wiki, wikiQueryInstructions, noWikiResults)
}

// search formulates a query from the conversation and retrieves documents.
// Retrieval failures are recorded in the context instead of failing the
// interview. onEmpty, when set, replaces the failure text whenever the search
// produced no documents, whether it failed or came back empty.
func (iv *interviewer) search(ctx context.Context, s InterviewState, r Retriever, instructions, onEmpty string) graph.NodeResult[InterviewState] {
	conversation := append(perspective(s.Messages, speakerExpert),
		model.Message{Role: model.RoleSystem, Content: instructions})

	raw, err := iv.worker.Complete(ctx, "", conversation)
	if err != nil {
		return graph.NodeResult[InterviewState]{Err: fmt.Errorf("formulate query: %w", err)}
	}
	query := cleanQuery(raw)

	docs, err := r.Retrieve(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return graph.NodeResult[InterviewState]{Err: ctx.Err()}
		}
		iv.logger.Warn("retrieval failed", "query", query, "error", err)
	}
	if len(docs) == 0 || err != nil {
		if onEmpty != "" {
			return contextDelta(onEmpty)
		}
		return contextDelta("Search failed for: " + query)
	}

	iv.logger.Debug("retrieved documents", "query", query, "count", len(docs))
	return contextDelta(formatDocuments(docs))
}

func (iv *interviewer) answerQuestion(ctx context.Context, s InterviewState) graph.NodeResult[InterviewState] {
	answer, err := iv.worker.Complete(ctx,
		answerInstructions(s.Analyst.Persona(), strings.Join(s.Context, documentSeparator)),
		perspective(s.Messages, speakerExpert))
	if err != nil {
		return graph.NodeResult[InterviewState]{Err: fmt.Errorf("answer question: %w", err)}
	}
	return graph.NodeResult[InterviewState]{Delta: InterviewState{
		Messages: []model.Message{{Role: model.RoleAssistant, Name: speakerExpert, Content: answer}},
	}}
}

func (iv *interviewer) saveInterview(_ context.Context, s InterviewState) graph.NodeResult[InterviewState] {
	return graph.NodeResult[InterviewState]{Delta: InterviewState{Transcript: transcript(s.Messages)}}
}

func (iv *interviewer) writeSection(ctx context.Context, s InterviewState) graph.NodeResult[InterviewState] {
	sources := strings.Join(s.Context, documentSeparator)
	section, err := iv.worker.Complete(ctx,
		sectionInstructions(s.Analyst.Description),
		[]model.Message{{Role: model.RoleUser, Content: "Use this source: " + sources}})
	if err != nil {
		return graph.NodeResult[InterviewState]{Err: fmt.Errorf("write section: %w", err)}
	}
	return graph.NodeResult[InterviewState]{Delta: InterviewState{
		Section: withRawSources(section, s.Context),
	}}
}

// routeMessages ends the interview once the expert answered MaxTurns times
// or the analyst's last question said goodbye.
func routeMessages(s InterviewState) graph.Route[InterviewState] {
	maxTurns := s.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	answers := 0
	for _, m := range s.Messages {
		if m.Name == speakerExpert {
			answers++
		}
	}
	if answers >= maxTurns {
		return graph.To[InterviewState](NodeSaveInterview)
	}

	if n := len(s.Messages); n >= 2 && strings.Contains(s.Messages[n-2].Content, terminationPhrase) {
		return graph.To[InterviewState](NodeSaveInterview)
	}
	return graph.To[InterviewState](NodeAskQuestion)
}

// perspective maps the interview onto chat roles as seen by speaker: its own
// turns are assistant turns, everything else is user input.
func perspective(messages []model.Message, speaker string) []model.Message {
	out := make([]model.Message, len(messages))
	for i, m := range messages {
		role := model.RoleUser
		if m.Name == speaker {
			role = model.RoleAssistant
		}
		out[i] = model.Message{Role: role, Content: m.Content, Name: m.Name}
	}
	return out
}

func transcript(messages []model.Message) string {
	lines := make([]string, len(messages))
	for i, m := range messages {
		lines[i] = speakerLabel(m) + ": " + m.Content
	}
	return strings.Join(lines, "\n")
}

func speakerLabel(m model.Message) string {
	switch {
	case m.Name != "":
		return strings.ToUpper(m.Name[:1]) + m.Name[1:]
	case m.Role == model.RoleAssistant:
		return "AI"
	default:
		return "Human"
	}
}

func cleanQuery(raw string) string {
	q := strings.TrimSpace(raw)
	q = strings.ReplaceAll(q, `"`, "")
	return strings.TrimSpace(q)
}

func contextDelta(bundle string) graph.NodeResult[InterviewState] {
	return graph.NodeResult[InterviewState]{Delta: InterviewState{Context: []string{bundle}}}
}

func formatDocuments(docs []tool.Document) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = fmt.Sprintf("<Document href=\"%s\"/>\n%s\n</Document>", d.ReferenceID, d.Content)
	}
	return strings.Join(parts, documentSeparator)
}
