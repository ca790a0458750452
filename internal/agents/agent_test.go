package agents

import (
	"context"
	"strings"
	"testing"

	"github.com/gwyntel/splintertree/internal/config"
	"github.com/gwyntel/splintertree/internal/providers"
	"github.com/gwyntel/splintertree/internal/store"
)

type fakeProvider struct {
	name    string
	reply   string
	lastReq providers.ChatRequest
	calls   int
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	f.calls++
	f.lastReq = req
	return &providers.ChatResponse{Content: f.reply, FinishReason: "stop"}, nil
}

func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	f.calls++
	f.lastReq = req
	for _, r := range f.reply {
		onChunk(providers.StreamChunk{Content: string(r)})
	}
	onChunk(providers.StreamChunk{Done: true})
	return &providers.ChatResponse{Content: f.reply, FinishReason: "stop"}, nil
}

func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return f.name }

func testRegistry(t *testing.T) (*Registry, *fakeProvider) {
	t.Helper()
	fp := &fakeProvider{name: "openrouter", reply: "hello from the model"}
	specs := []config.AgentSpec{
		{Name: "Claude-2", Nickname: "Claude", TriggerWords: []string{"claude"}, Model: "anthropic/claude-2", Provider: "openrouter", Default: true},
		{Name: "Gemini-Pro", Nickname: "Gemini", TriggerWords: []string{"gemini"}, Model: "google/gemini-pro", Provider: "openrouter"},
		{Name: "Hidden", Model: "x/hidden", Provider: "openrouter"},
	}
	r, err := NewRegistry(specs, map[string]providers.Provider{"openrouter": fp}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	return r, fp
}

func TestTriggerMatch(t *testing.T) {
	a := &Agent{Name: "Claude-2", TriggerWords: []string{"claude"}}

	tests := []struct {
		text string
		want bool
	}{
		{"hey claude, how are you", true},
		{"HEY CLAUDE", true},
		{"claudette was here", true}, // substring match is intentional
		{"nothing relevant", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := a.TriggerMatch(tt.text); got != tt.want {
			t.Errorf("TriggerMatch(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}

	empty := &Agent{Name: "Hidden"}
	if empty.TriggerMatch("hidden") {
		t.Error("agent with no trigger words must never self-trigger")
	}
}

func TestRegistryLookup(t *testing.T) {
	r, _ := testRegistry(t)

	if a, ok := r.ByName("claude-2"); !ok || a.Name != "Claude-2" {
		t.Errorf("ByName(claude-2) = %v, %v", a, ok)
	}
	if a, ok := r.ByName("Claude"); !ok || a.Name != "Claude-2" {
		t.Errorf("ByName(nickname) = %v, %v", a, ok)
	}
	if _, ok := r.ByName("nope"); ok {
		t.Error("ByName(nope) should miss")
	}

	if r.Default() == nil || r.Default().Name != "Claude-2" {
		t.Errorf("Default() = %v", r.Default())
	}
	if got := r.DefaultOrRandom(); got.Name != "Claude-2" {
		t.Errorf("DefaultOrRandom() = %s, want the default", got.Name)
	}
}

func TestRegistryMatching(t *testing.T) {
	r, _ := testRegistry(t)

	matched := r.Matching("I want claude and gemini to both answer")
	if len(matched) != 2 {
		t.Fatalf("Matching() returned %d agents, want 2", len(matched))
	}

	if got := r.Matching("plain message"); len(got) != 0 {
		t.Errorf("Matching(plain) = %v", got)
	}
}

func TestRegistryRejectsBadConfig(t *testing.T) {
	fp := &fakeProvider{name: "openrouter"}
	provs := map[string]providers.Provider{"openrouter": fp}

	_, err := NewRegistry([]config.AgentSpec{
		{Name: "A", Model: "m", Provider: "mystery"},
	}, provs, nil)
	if err == nil {
		t.Error("expected error for unknown provider")
	}

	_, err = NewRegistry([]config.AgentSpec{
		{Name: "A", Model: "m", Provider: "openrouter", Default: true},
		{Name: "B", Model: "m", Provider: "openrouter", Default: true},
	}, provs, nil)
	if err == nil {
		t.Error("expected error for duplicate defaults")
	}

	_, err = NewRegistry(nil, provs, nil)
	if err == nil {
		t.Error("expected error for empty roster")
	}
}

func TestBuildPrompt(t *testing.T) {
	r, _ := testRegistry(t)
	a, _ := r.ByName("Claude-2")

	history := []store.Message{
		{UserID: store.SystemUserID, Content: store.SummaryPrefix + "they talked about birds"},
		{UserID: "u1", Content: "what do owls eat?"},
		{UserID: "bot", IsAssistant: true, PersonaName: "Claude-2", Content: "Mostly rodents."},
	}

	msgs := a.BuildPrompt(PromptVars{
		Username:    "gwyn",
		UserID:      "u1",
		ServerName:  "Test Server",
		ChannelName: "general",
	}, history, "and hawks?", "")

	if len(msgs) != 5 {
		t.Fatalf("got %d messages, want 5", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Errorf("msgs[0].Role = %s", msgs[0].Role)
	}
	if !strings.Contains(msgs[0].Content, "Claude-2") || !strings.Contains(msgs[0].Content, "gwyn") {
		t.Errorf("system prompt not filled: %q", msgs[0].Content)
	}

	if msgs[1].Role != "system" || msgs[1].Content != "they talked about birds" {
		t.Errorf("summary row not relabeled: %+v", msgs[1])
	}
	if msgs[2].Role != "user" {
		t.Errorf("history user row role = %s", msgs[2].Role)
	}
	if msgs[3].Role != "assistant" {
		t.Errorf("history assistant row role = %s", msgs[3].Role)
	}
	if msgs[4].Role != "user" || msgs[4].Content != "and hawks?" {
		t.Errorf("current message = %+v", msgs[4])
	}
}

func TestBuildPromptImageDescription(t *testing.T) {
	r, _ := testRegistry(t)
	a, _ := r.ByName("Claude-2") // not vision capable

	msgs := a.BuildPrompt(PromptVars{Username: "u"}, nil, "what is this?", "a red bicycle")
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Content, "Image description: a red bicycle") {
		t.Errorf("image description missing: %q", last.Content)
	}

	vision := &Agent{Name: "V", SupportsVision: true}
	msgs = vision.BuildPrompt(PromptVars{Username: "u"}, nil, "what is this?", "a red bicycle")
	last = msgs[len(msgs)-1]
	if strings.Contains(last.Content, "Image description") {
		t.Error("vision agents should receive the image itself, not alt text")
	}
}

func TestGenerateComplete(t *testing.T) {
	r, fp := testRegistry(t)
	a, _ := r.ByName("Claude-2")

	reply, err := a.Generate(context.Background(), []providers.Message{
		{Role: "user", Content: "hi"},
	}, false)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reply.Stream != nil {
		t.Error("non-streaming reply should have no stream")
	}
	if reply.Text != "hello from the model" {
		t.Errorf("Text = %q", reply.Text)
	}
	if fp.lastReq.Temperature == nil || *fp.lastReq.Temperature != config.DefaultTemperature {
		t.Errorf("Temperature = %v, want default", fp.lastReq.Temperature)
	}
	if fp.lastReq.Model != "anthropic/claude-2" {
		t.Errorf("Model = %q", fp.lastReq.Model)
	}
}

func TestGenerateStreamDrains(t *testing.T) {
	r, _ := testRegistry(t)
	a, _ := r.ByName("Claude-2")

	reply, err := a.Generate(context.Background(), []providers.Message{
		{Role: "user", Content: "hi"},
	}, true)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if reply.Stream == nil {
		t.Fatal("expected a stream reply")
	}

	var streamed strings.Builder
	for c := range reply.Stream.Chunks {
		streamed.WriteString(c)
	}
	full, err := reply.Stream.Wait()
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if full != "hello from the model" {
		t.Errorf("Wait() = %q", full)
	}
	if streamed.String() != full {
		t.Errorf("streamed %q differs from final %q", streamed.String(), full)
	}
}
