// Package session drives the conversational boundary of the research
// assistant: one research thread per session, moving between asking for a
// topic and reviewing the proposed analysts.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/golang/groupcache/lru"
	"github.com/google/uuid"

	"github.com/dshills/research-assistant/research"
)

// Stage is the point a session's conversation has reached.
type Stage string

const (
	StageTopic    Stage = "waiting_for_topic"
	StageFeedback Stage = "waiting_for_feedback"
)

// DefaultMaxAnalysts is the number of personas requested per topic.
const DefaultMaxAnalysts = 3

// DefaultMaxSessions bounds the sessions a Manager keeps.
const DefaultMaxSessions = 1024

// Researcher runs research threads. *research.Service implements it.
type Researcher interface {
	Start(ctx context.Context, threadID, topic string, maxAnalysts int) (research.Result, error)
	Approve(ctx context.Context, threadID string) (research.Result, error)
	Revise(ctx context.Context, threadID, feedback string) (research.Result, error)
}

// approvals are the replies that accept the proposed analysts.
var approvals = map[string]bool{
	"approve": true,
	"yes":     true,
	"ok":      true,
	"go":      true,
	"proceed": true,
	"no":      true,
}

// IsApproval reports whether input accepts the proposed analysts.
func IsApproval(input string) bool {
	return approvals[strings.ToLower(strings.TrimSpace(input))]
}

// Session is the conversational state of one client.
type Session struct {
	ID       string
	ThreadID string
	Stage    Stage
}

// entry guards one session; mu serializes its turns.
type entry struct {
	mu sync.Mutex
	Session
}

// Manager owns the sessions and routes each message to the research thread
// of its session.
//
// At most maxSessions sessions are kept; the least recently used one is
// dropped to make room, and its client starts over at StageTopic.
type Manager struct {
	research    Researcher
	maxAnalysts int
	maxSessions int
	newID       func() string
	logger      *slog.Logger

	mu       sync.Mutex
	sessions *lru.Cache
}

// Option configures a Manager.
type Option func(*Manager)

// WithMaxAnalysts sets the number of personas requested per topic.
func WithMaxAnalysts(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxAnalysts = n
		}
	}
}

// WithMaxSessions sets how many sessions are kept before the least recently
// used one is evicted.
func WithMaxSessions(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxSessions = n
		}
	}
}

// WithLogger sets the logger for failed turns.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithIDGenerator replaces the uuid thread id generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// NewManager creates a Manager backed by r.
func NewManager(r Researcher, opts ...Option) *Manager {
	m := &Manager{
		research:    r,
		maxAnalysts: DefaultMaxAnalysts,
		maxSessions: DefaultMaxSessions,
		newID:       uuid.NewString,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.sessions = lru.New(m.maxSessions)
	m.sessions.OnEvicted = func(key lru.Key, _ interface{}) {
		m.logger.Debug("session evicted", "session", key)
	}
	return m
}

// Len returns the number of sessions kept.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Len()
}

// Reset starts the session over with a fresh thread, waiting for a topic.
// An unknown session is created.
func (m *Manager) Reset(sessionID string) Session {
	s := m.session(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()
	m.restart(s)
	return s.Session
}

// Get returns a snapshot of the session, if it exists.
func (m *Manager) Get(sessionID string) (Session, bool) {
	s, ok := m.lookup(sessionID)
	if !ok {
		return Session{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Session, true
}

// Handle processes one message of a session and returns the reply.
//
// At StageTopic the message is the research topic. At StageFeedback an
// approval word runs the research to its report and starts a new thread;
// anything else regenerates the analysts with the message as feedback.
// Failures never leak to the reply: the session resets and the reply is
// the generic error text. Blank input only prompts and never creates a
// session.
func (m *Manager) Handle(ctx context.Context, sessionID, input string) Reply {
	input = strings.TrimSpace(input)
	if input == "" {
		if s, ok := m.Get(sessionID); ok && s.Stage == StageFeedback {
			return Reply{Kind: KindPrompt, Text: feedbackPrompt}
		}
		return Reply{Kind: KindPrompt, Text: topicPrompt}
	}

	s := m.session(sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		reply Reply
		err   error
	)
	switch s.Stage {
	case StageFeedback:
		reply, err = m.review(ctx, s, input)
	default:
		reply, err = m.propose(ctx, s, input)
	}
	if err != nil {
		m.logger.Error("session turn failed",
			"session", s.ID, "thread", s.ThreadID, "stage", string(s.Stage), "error", err)
		m.restart(s)
		return Reply{Kind: KindError, Text: ErrorText}
	}
	return reply
}

func (m *Manager) propose(ctx context.Context, s *entry, topic string) (Reply, error) {
	res, err := m.research.Start(ctx, s.ThreadID, topic, m.maxAnalysts)
	if err != nil {
		return Reply{}, err
	}
	if !res.Interrupted {
		m.restart(s)
		return Reply{Kind: KindReport, Report: res.Report}, nil
	}

	s.Stage = StageFeedback
	return Reply{Kind: KindAnalysts, Analysts: res.Analysts}, nil
}

func (m *Manager) review(ctx context.Context, s *entry, input string) (Reply, error) {
	if IsApproval(input) {
		res, err := m.research.Approve(ctx, s.ThreadID)
		if err != nil {
			return Reply{}, err
		}
		m.logger.Info("research complete", "session", s.ID, "thread", s.ThreadID)
		m.restart(s)
		return Reply{Kind: KindReport, Report: res.Report}, nil
	}

	res, err := m.research.Revise(ctx, s.ThreadID, input)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Kind: KindRevised, Analysts: res.Analysts, Feedback: input}, nil
}

// lookup returns the session and marks it as recently used.
func (m *Manager) lookup(id string) (*entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.sessions.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// session returns the session, creating it at StageTopic if unknown.
func (m *Manager) session(id string) *entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v, ok := m.sessions.Get(id); ok {
		return v.(*entry)
	}
	s := &entry{Session: Session{ID: id, ThreadID: m.newID(), Stage: StageTopic}}
	m.sessions.Add(id, s)
	return s
}

// restart must be called with s.mu held.
func (m *Manager) restart(s *entry) {
	s.ThreadID = m.newID()
	s.Stage = StageTopic
}
