package research

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dshills/research-assistant/capability"
	"github.com/dshills/research-assistant/graph/model"
	"github.com/dshills/research-assistant/graph/store"
	"github.com/dshills/research-assistant/graph/tool"
)

// world scripts the replies of both model tiers for a whole research run.
// It is safe for concurrent use as long as its fields are not modified
// after the run starts.
type world struct {
	analysts []Analyst
	revised  []Analyst

	// thankYou makes every question end the interview.
	thankYou bool

	// sectionDelay delays the section of the analyst with that description.
	sectionDelay map[string]time.Duration

	// fail returns an error for calls whose instructions contain the key.
	fail map[string]error

	mu       sync.Mutex
	feedback []string
}

func newWorld() *world {
	return &world{
		analysts: []Analyst{
			{Name: "Ada", Role: "Physicist", Affiliation: "Lab A", Description: "entanglement distribution"},
			{Name: "Grace", Role: "Engineer", Affiliation: "Lab B", Description: "quantum repeaters"},
		},
		revised: []Analyst{
			{Name: "Milton", Role: "Economist", Affiliation: "Univ C", Description: "market adoption"},
		},
	}
}

// split separates the leading system instructions from the conversation.
func split(messages []model.Message) (string, []model.Message) {
	if len(messages) > 0 && messages[0].Role == model.RoleSystem {
		return messages[0].Content, messages[1:]
	}
	return "", messages
}

// field returns the text following label up to the end of its line.
func field(text, label string) string {
	i := strings.Index(text, label)
	if i < 0 {
		return ""
	}
	rest := text[i+len(label):]
	if j := strings.Index(rest, "\n"); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

func (w *world) reply(messages []model.Message) (model.ChatOut, error) {
	instructions, conv := split(messages)
	for key, err := range w.fail {
		if strings.Contains(instructions, key) {
			return model.ChatOut{}, err
		}
	}

	var last string
	if len(conv) > 0 {
		last = conv[len(conv)-1].Content
	}

	text, err := w.text(instructions, last)
	return model.ChatOut{Text: text, Usage: model.Usage{InputTokens: 10, OutputTokens: 5}}, err
}

func (w *world) text(instructions, last string) (string, error) {
	switch {
	case strings.Contains(instructions, "creating a set of AI analyst personas"):
		feedback := field(instructions, "guide the analysts:")
		w.mu.Lock()
		w.feedback = append(w.feedback, feedback)
		w.mu.Unlock()

		analysts := w.analysts
		if feedback != "" {
			analysts = w.revised
		}
		data, err := jsonAnalysts(analysts)
		return "```json\n" + data + "\n```", err

	case strings.Contains(instructions, "analyst interviewing an expert"):
		q := "What is new, says " + field(instructions, "Name:") + "?"
		if w.thankYou {
			q += " " + terminationPhrase + "!"
		}
		return q, nil

	case last == webQueryInstructions:
		return `"quantum web"`, nil

	case last == wikiQueryInstructions:
		return "'quantum wiki'", nil

	case strings.Contains(instructions, "expert being interviewed"):
		return "Answer for " + field(instructions, "Name:") + " [1]", nil

	case strings.Contains(instructions, "expert technical writer"):
		focus := field(instructions, "Title:")
		if d := w.sectionDelay[focus]; d > 0 {
			time.Sleep(d)
		}
		return "## " + focus, nil

	case strings.Contains(instructions, "lead research editor"):
		return "## Insights\nBody text\n## Sources\n[1] https://web.example/1", nil

	case last == "Write introduction.":
		return "## Introduction\nIntro", nil

	case last == "Write conclusion.":
		return "## Conclusion\nOutro", nil
	}
	return "", fmt.Errorf("unscripted call: %q", instructions)
}

func (w *world) feedbackSeen() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.feedback...)
}

func jsonAnalysts(analysts []Analyst) (string, error) {
	var b strings.Builder
	b.WriteString(`{"analysts": [`)
	for i, a := range analysts {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"name": %q, "role": %q, "affiliation": %q, "description": %q}`,
			a.Name, a.Role, a.Affiliation, a.Description)
	}
	b.WriteString("]}")
	return b.String(), nil
}

// harness bundles the fakes behind one set of Deps.
type harness struct {
	world   *world
	planner *model.MockChatModel
	worker  *model.MockChatModel
	web     *tool.MockRetriever
	wiki    *tool.MockRetriever
	store   store.Store[ResearchState]
}

func newHarness(w *world) *harness {
	return &harness{
		world:   w,
		planner: &model.MockChatModel{Respond: w.reply},
		worker:  &model.MockChatModel{Respond: w.reply},
		web: &tool.MockRetriever{Default: []tool.Document{
			{ReferenceID: "https://web.example/1", Content: "web finding"},
		}},
		wiki: &tool.MockRetriever{Default: []tool.Document{
			{ReferenceID: "https://wiki.example/Quantum", Content: "wiki finding"},
		}},
		store: store.NewMemStore[ResearchState](),
	}
}

func (h *harness) deps() Deps {
	return Deps{
		Planner: capability.NewClient("planner", h.planner),
		Worker:  capability.NewClient("worker", h.worker),
		Web:     capability.NewRetriever("web", h.web),
		Wiki:    capability.NewRetriever("wikipedia", h.wiki),
		Store:   h.store,
	}
}

// countCalls counts the calls whose system instructions contain marker.
func countCalls(m *model.MockChatModel, marker string) int {
	n := 0
	for _, c := range m.Calls {
		if instructions, _ := split(c.Messages); strings.Contains(instructions, marker) {
			n++
		}
	}
	return n
}

var errBoom = errors.New("boom")
