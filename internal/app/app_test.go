package app

import (
	"context"
	"strings"
	"testing"

	"github.com/dshills/research-assistant/config"
	"github.com/dshills/research-assistant/graph/model"
	"github.com/dshills/research-assistant/graph/tool"
	"github.com/dshills/research-assistant/session"
)

const analystsJSON = `{"analysts": [
  {"name": "Ada", "role": "Physicist", "affiliation": "Lab A", "description": "entanglement"},
  {"name": "Grace", "role": "Engineer", "affiliation": "Lab B", "description": "repeaters"}
]}`

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Planner.APIKey = "planner-key"
	cfg.Worker.APIKey = "worker-key"
	cfg.Worker.RequestsPerSecond = 0
	cfg.Search.TavilyAPIKey = "tvly"
	cfg.Store = config.StoreConfig{Driver: config.StoreMemory}
	cfg.Server.EnableTracing = true
	return cfg
}

func testOverrides() Overrides {
	planner := &model.MockChatModel{Respond: func(messages []model.Message) (model.ChatOut, error) {
		usage := model.Usage{InputTokens: 100, OutputTokens: 50}
		if strings.Contains(messages[0].Content, "AI analyst personas") {
			return model.ChatOut{Text: analystsJSON, Usage: usage}, nil
		}
		return model.ChatOut{Text: "## Insights\nSynthesis", Usage: usage}, nil
	}}
	worker := &model.MockChatModel{Responses: []model.ChatOut{{Text: "worker reply", Usage: model.Usage{InputTokens: 10, OutputTokens: 5}}}}
	docs := []tool.Document{{ReferenceID: "https://example.com/q", Content: "finding"}}

	return Overrides{
		Planner: planner,
		Worker:  worker,
		Web:     &tool.MockRetriever{Default: docs},
		Wiki:    &tool.MockRetriever{Default: docs},
	}
}

func TestAppRunsResearchThroughSessions(t *testing.T) {
	a, err := New(testConfig(), testOverrides())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	ctx := context.Background()
	reply := a.Sessions.Handle(ctx, "s1", "Quantum Networking")
	if reply.Kind != session.KindAnalysts || len(reply.Analysts) != 2 {
		t.Fatalf("expected two analysts, got %+v", reply)
	}

	reply = a.Sessions.Handle(ctx, "s1", "approve")
	if reply.Kind != session.KindReport {
		t.Fatalf("expected a report, got %+v", reply)
	}
	if !strings.Contains(reply.Report, "## Insights\nSynthesis") {
		t.Errorf("unexpected report:\n%s", reply.Report)
	}

	t.Run("usage is tracked per tier", func(t *testing.T) {
		snap := a.Usage.Snapshot()
		if len(snap) != 2 {
			t.Fatalf("expected planner and worker usage, got %+v", snap)
		}
		if snap[0].Tier != "planner" || snap[1].Tier != "worker" || snap[0].Calls != 4 {
			t.Errorf("unexpected usage: %+v", snap)
		}
	})

	t.Run("metrics are registered", func(t *testing.T) {
		families, err := a.Registry.Gather()
		if err != nil {
			t.Fatalf("Gather: %v", err)
		}
		names := make(map[string]bool)
		for _, f := range families {
			names[f.GetName()] = true
		}
		for _, want := range []string{"research_tokens_total", "research_checkpoints_total", "research_step_latency_ms"} {
			if !names[want] {
				t.Errorf("expected metric %s to be exported", want)
			}
		}
	})
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Search.TavilyAPIKey = ""
	if _, err := New(cfg, testOverrides()); err == nil || !strings.Contains(err.Error(), "TAVILY_API_KEY") {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestPolicyFor(t *testing.T) {
	if p := policyFor(1); p.MaxAttempts != 1 {
		t.Errorf("expected single attempt, got %d", p.MaxAttempts)
	}
	p := policyFor(5)
	if p.MaxAttempts != 5 || p.BaseDelay == 0 || p.Retryable == nil {
		t.Errorf("unexpected retrying policy: %+v", p)
	}
}

func TestNewChatModelProviders(t *testing.T) {
	for _, provider := range []string{config.ProviderGroq, config.ProviderOpenAI, config.ProviderAnthropic, config.ProviderGoogle} {
		m := newChatModel(config.ModelConfig{Provider: provider, Model: "m", APIKey: "k"})
		if m == nil {
			t.Errorf("%s: expected a chat model", provider)
		}
	}
}
