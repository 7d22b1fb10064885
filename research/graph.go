// Package research implements the research assistant workflow: analyst
// generation with a human review loop, parallel expert interviews and the
// synthesis of the final report.
package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dshills/research-assistant/graph"
	"github.com/dshills/research-assistant/graph/emit"
	"github.com/dshills/research-assistant/graph/model"
	"github.com/dshills/research-assistant/graph/store"
	"github.com/dshills/research-assistant/graph/tool"
)

// Research node IDs.
const (
	NodeCreateAnalysts    = "create_analysts"
	NodeHumanFeedback     = "human_feedback"
	NodeConductInterview  = "conduct_interview"
	NodeWriteReport       = "write_report"
	NodeWriteIntroduction = "write_introduction"
	NodeWriteConclusion   = "write_conclusion"
	NodeFinalizeReport    = "finalize_report"
)

// Completer is the completion capability used by the workflow nodes.
// *capability.Client implements it.
type Completer interface {
	Complete(ctx context.Context, instructions string, conversation []model.Message) (string, error)
	CompleteStructured(ctx context.Context, instructions string, conversation []model.Message, schema string, out interface{}) error
}

// Retriever is the document retrieval capability.
// *capability.Retriever implements it.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]tool.Document, error)
}

// Deps wires the research graphs to their capabilities and infrastructure.
type Deps struct {
	// Planner generates analysts and synthesizes the report.
	Planner Completer

	// Worker conducts the interviews and writes sections.
	Worker Completer

	Web  Retriever
	Wiki Retriever

	// Store persists research threads. Required by NewResearchGraph.
	Store store.Store[ResearchState]

	// Emitter receives execution events of both graphs. Optional.
	Emitter emit.Emitter

	// MaxTurns bounds the expert answers per interview.
	// Default: DefaultMaxTurns.
	MaxTurns int

	// EngineOptions apply to both engines, for example
	// graph.WithMaxConcurrent or graph.WithMetrics.
	EngineOptions []graph.Option

	Logger *slog.Logger
}

var errMissingDeps = errors.New("research: missing dependency")

func (d Deps) check() error {
	switch {
	case d.Planner == nil:
		return fmt.Errorf("%w: planner", errMissingDeps)
	case d.Worker == nil:
		return fmt.Errorf("%w: worker", errMissingDeps)
	case d.Web == nil:
		return fmt.Errorf("%w: web retriever", errMissingDeps)
	case d.Wiki == nil:
		return fmt.Errorf("%w: wikipedia retriever", errMissingDeps)
	}
	return nil
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) maxTurns() int {
	if d.MaxTurns > 0 {
		return d.MaxTurns
	}
	return DefaultMaxTurns
}

// researcher holds the capabilities used by the research nodes.
type researcher struct {
	planner Completer
	logger  *slog.Logger
}

// NewResearchGraph builds the research graph:
//
//	create_analysts -> human_feedback (interrupt before)
//	human_feedback -> create_analysts | conduct_interview x N
//	conduct_interview -> {write_report, write_introduction, write_conclusion}
//	{write_report, write_introduction, write_conclusion} -> finalize_report -> End
func NewResearchGraph(deps Deps) (*graph.Engine[ResearchState], error) {
	if err := deps.check(); err != nil {
		return nil, err
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("%w: store", errMissingDeps)
	}

	interview, err := NewInterviewGraph(deps)
	if err != nil {
		return nil, fmt.Errorf("interview graph: %w", err)
	}

	rs := &researcher{planner: deps.Planner, logger: deps.logger()}
	opts := append([]graph.Option{graph.WithGraphID("research")}, deps.EngineOptions...)
	engine := graph.New[ResearchState](ReduceResearch, deps.Store, deps.Emitter, opts...)

	maxTurns := deps.maxTurns()
	conduct := graph.NewSubgraph[ResearchState, InterviewState](interview,
		func(s ResearchState) InterviewState {
			return startInterview(s, maxTurns)
		},
		func(final InterviewState) ResearchState {
			return ResearchState{Sections: []string{final.Section}}
		})

	nodes := []struct {
		id   string
		node graph.Node[ResearchState]
	}{
		{NodeCreateAnalysts, graph.NodeFunc[ResearchState](rs.createAnalysts)},
		{NodeHumanFeedback, graph.NodeFunc[ResearchState](humanFeedback)},
		{NodeConductInterview, conduct},
		{NodeWriteReport, graph.NodeFunc[ResearchState](rs.writeReport)},
		{NodeWriteIntroduction, graph.NodeFunc[ResearchState](rs.writeIntroduction)},
		{NodeWriteConclusion, graph.NodeFunc[ResearchState](rs.writeConclusion)},
		{NodeFinalizeReport, graph.NodeFunc[ResearchState](finalizeReport)},
	}
	for _, n := range nodes {
		if err := engine.Add(n.id, n.node); err != nil {
			return nil, err
		}
	}

	steps := []error{
		engine.StartAt(NodeCreateAnalysts),
		engine.Connect(NodeCreateAnalysts, NodeHumanFeedback, nil),
		engine.InterruptBefore(NodeHumanFeedback),
		engine.Branch(NodeHumanFeedback, initiateInterviews, NodeCreateAnalysts, NodeConductInterview),
		engine.Connect(NodeConductInterview, NodeWriteReport, nil),
		engine.Connect(NodeConductInterview, NodeWriteIntroduction, nil),
		engine.Connect(NodeConductInterview, NodeWriteConclusion, nil),
		engine.Connect(NodeWriteReport, NodeFinalizeReport, nil),
		engine.Connect(NodeWriteIntroduction, NodeFinalizeReport, nil),
		engine.Connect(NodeWriteConclusion, NodeFinalizeReport, nil),
		engine.Connect(NodeFinalizeReport, graph.End, nil),
	}
	for _, err := range steps {
		if err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// startInterview seeds an interview for the single analyst of a branch.
func startInterview(s ResearchState, maxTurns int) InterviewState {
	var analyst Analyst
	if len(s.Analysts) > 0 {
		analyst = s.Analysts[0]
	}
	return InterviewState{
		Analyst:  analyst,
		Messages: []model.Message{{Role: model.RoleUser, Content: openingMessage(s.Topic)}},
		MaxTurns: maxTurns,
	}
}

func (r *researcher) createAnalysts(ctx context.Context, s ResearchState) graph.NodeResult[ResearchState] {
	var out perspectives
	err := r.planner.CompleteStructured(ctx,
		analystInstructions(s.Topic, s.Feedback(), s.MaxAnalysts),
		[]model.Message{{Role: model.RoleUser, Content: "Generate the set of analysts."}},
		perspectivesSchema, &out)
	if err != nil {
		return graph.NodeResult[ResearchState]{Err: fmt.Errorf("create analysts: %w", err)}
	}

	analysts, err := validAnalysts(out.Analysts, s.MaxAnalysts)
	if err != nil {
		return graph.NodeResult[ResearchState]{Err: fmt.Errorf("create analysts: %w", err)}
	}

	r.logger.Info("generated analysts", "topic", s.Topic, "count", len(analysts), "revised", s.Feedback() != "")
	return graph.NodeResult[ResearchState]{Delta: ResearchState{
		Analysts:      analysts,
		HumanFeedback: ptr(""),
	}}
}

// validAnalysts checks generated personas. Personas beyond limit are
// dropped; an empty list or an incomplete persona is malformed output.
func validAnalysts(analysts []Analyst, limit int) ([]Analyst, error) {
	if len(analysts) == 0 {
		return nil, fmt.Errorf("%w: no analysts", model.ErrMalformedOutput)
	}
	if limit > 0 && len(analysts) > limit {
		analysts = analysts[:limit]
	}
	for i, a := range analysts {
		if !a.complete() {
			return nil, fmt.Errorf("%w: analyst %d is incomplete", model.ErrMalformedOutput, i)
		}
	}
	return analysts, nil
}

func humanFeedback(context.Context, ResearchState) graph.NodeResult[ResearchState] {
	return graph.NodeResult[ResearchState]{}
}

// initiateInterviews regenerates the analysts when feedback is pending and
// otherwise launches one interview per analyst.
func initiateInterviews(s ResearchState) graph.Route[ResearchState] {
	if s.Feedback() != "" {
		return graph.To[ResearchState](NodeCreateAnalysts)
	}

	sends := make([]graph.Send[ResearchState], len(s.Analysts))
	for i, a := range s.Analysts {
		sends[i] = graph.Send[ResearchState]{
			Node:  NodeConductInterview,
			State: ResearchState{Topic: s.Topic, Analysts: []Analyst{a}},
		}
	}
	return graph.Fan(sends...)
}

func (r *researcher) writeReport(ctx context.Context, s ResearchState) graph.NodeResult[ResearchState] {
	body, err := r.planner.Complete(ctx,
		reportInstructions(s.Topic, joinSections(s.Sections)),
		[]model.Message{{Role: model.RoleUser, Content: "Write report."}})
	if err != nil {
		return graph.NodeResult[ResearchState]{Err: fmt.Errorf("write report: %w", err)}
	}
	return graph.NodeResult[ResearchState]{Delta: ResearchState{Body: body}}
}

func (r *researcher) writeIntroduction(ctx context.Context, s ResearchState) graph.NodeResult[ResearchState] {
	intro, err := r.planner.Complete(ctx,
		introConclusionInstructions(s.Topic, joinSections(s.Sections)),
		[]model.Message{{Role: model.RoleUser, Content: "Write introduction."}})
	if err != nil {
		return graph.NodeResult[ResearchState]{Err: fmt.Errorf("write introduction: %w", err)}
	}
	return graph.NodeResult[ResearchState]{Delta: ResearchState{Introduction: intro}}
}

func (r *researcher) writeConclusion(ctx context.Context, s ResearchState) graph.NodeResult[ResearchState] {
	conclusion, err := r.planner.Complete(ctx,
		introConclusionInstructions(s.Topic, joinSections(s.Sections)),
		[]model.Message{{Role: model.RoleUser, Content: "Write conclusion."}})
	if err != nil {
		return graph.NodeResult[ResearchState]{Err: fmt.Errorf("write conclusion: %w", err)}
	}
	return graph.NodeResult[ResearchState]{Delta: ResearchState{Conclusion: conclusion}}
}

func finalizeReport(_ context.Context, s ResearchState) graph.NodeResult[ResearchState] {
	return graph.NodeResult[ResearchState]{Delta: ResearchState{
		FinalReport: assembleReport(s.Introduction, s.Body, s.Conclusion),
	}}
}

func joinSections(sections []string) string {
	return strings.Join(sections, "\n\n")
}
