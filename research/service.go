package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/research-assistant/graph"
	"github.com/dshills/research-assistant/graph/store"
)

var (
	// ErrInvalidTopic is returned by Start for an empty topic.
	ErrInvalidTopic = errors.New("research: topic cannot be empty")

	// ErrInvalidAnalystCount is returned by Start when maxAnalysts < 1.
	ErrInvalidAnalystCount = errors.New("research: max analysts must be at least 1")

	// ErrEmptyFeedback is returned by Revise for blank feedback.
	ErrEmptyFeedback = errors.New("research: feedback cannot be empty")
)

// Result is the observable state of a thread after a Service call.
type Result struct {
	ThreadID string

	// Interrupted is true while the analysts await approval.
	Interrupted bool

	Analysts []Analyst

	// Report is the final report, set once the thread is done.
	Report string

	Version int
}

// Service drives research threads through the research graph.
type Service struct {
	engine *graph.Engine[ResearchState]
}

// NewService builds the research graph from deps.
func NewService(deps Deps) (*Service, error) {
	engine, err := NewResearchGraph(deps)
	if err != nil {
		return nil, err
	}
	return &Service{engine: engine}, nil
}

// Start opens a thread for topic and runs it until the analysts are ready
// for review.
func (s *Service) Start(ctx context.Context, threadID, topic string, maxAnalysts int) (Result, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Result{}, ErrInvalidTopic
	}
	if maxAnalysts < 1 {
		return Result{}, ErrInvalidAnalystCount
	}

	out, err := s.engine.Start(ctx, threadID, ResearchState{Topic: topic, MaxAnalysts: maxAnalysts})
	if err != nil {
		return Result{}, fmt.Errorf("start research: %w", err)
	}
	return result(threadID, out), nil
}

// Approve accepts the proposed analysts and runs the thread to its final
// report.
func (s *Service) Approve(ctx context.Context, threadID string) (Result, error) {
	out, err := s.engine.Resume(ctx, threadID, nil)
	if err != nil {
		return Result{}, fmt.Errorf("approve analysts: %w", err)
	}
	return result(threadID, out), nil
}

// Revise records feedback on the proposed analysts and regenerates them. The
// thread suspends again with the new analysts.
func (s *Service) Revise(ctx context.Context, threadID, feedback string) (Result, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return Result{}, ErrEmptyFeedback
	}

	out, err := s.engine.Resume(ctx, threadID, &ResearchState{HumanFeedback: &feedback})
	if err != nil {
		return Result{}, fmt.Errorf("revise analysts: %w", err)
	}
	return result(threadID, out), nil
}

// State returns the latest checkpointed state of a thread.
func (s *Service) State(ctx context.Context, threadID string) (ResearchState, store.Status, error) {
	cp, err := s.engine.State(ctx, threadID)
	if err != nil {
		return ResearchState{}, "", err
	}
	return cp.State, cp.Status, nil
}

// History returns the checkpoints of a thread, oldest first.
func (s *Service) History(ctx context.Context, threadID string) ([]store.Checkpoint[ResearchState], error) {
	return s.engine.History(ctx, threadID)
}

func result(threadID string, out graph.Outcome[ResearchState]) Result {
	return Result{
		ThreadID:    threadID,
		Interrupted: out.Interrupted(),
		Analysts:    out.State.Analysts,
		Report:      out.State.FinalReport,
		Version:     out.Version,
	}
}
