package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/quadai/quad/internal/apperr"
	"github.com/quadai/quad/internal/model/chat"
	"github.com/quadai/quad/internal/service/tool"
)

type scripted struct {
	msg *schema.Message
	err error
}

// stubModel replays a script of generate results and records every call it
// receives, including the tool bindings.
type stubModel struct {
	mu       sync.Mutex
	script   []scripted
	calls    [][]*schema.Message
	bound    [][]*schema.ToolInfo
	streamFn func(ctx context.Context) (*schema.StreamReader[*schema.Message], error)
}

func (m *stubModel) Generate(_ context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, msgs)
	if len(m.script) == 0 {
		return nil, errors.New("unscripted generate call")
	}
	next := m.script[0]
	m.script = m.script[1:]
	return next.msg, next.err
}

func (m *stubModel) Stream(ctx context.Context, msgs []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	m.calls = append(m.calls, msgs)
	fn := m.streamFn
	m.mu.Unlock()
	if fn == nil {
		return nil, errors.New("unscripted stream call")
	}
	return fn(ctx)
}

func (m *stubModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bound = append(m.bound, tools)
	return m, nil
}

type stubTool struct {
	name    string
	result  string
	err     error
	calls   int
	gotArgs string
}

func (t *stubTool) Name() string { return t.name }

func (t *stubTool) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: t.name,
		Desc: "test tool",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "query", Required: true},
		}),
	}
}

func (t *stubTool) Execute(_ context.Context, args json.RawMessage) (string, error) {
	t.calls++
	t.gotArgs = string(args)
	return t.result, t.err
}

type staticKnowledge string

func (k staticKnowledge) Snapshot() string { return string(k) }

func newTestClient(t *testing.T, m *stubModel, tools *tool.Registry, know Knowledge) *Client {
	t.Helper()
	prompts := NewPromptBuilder(know)
	prompts.now = func() time.Time { return time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC) }
	c, err := NewClient(context.Background(), m, tools, prompts, Config{
		ChunkTimeout: 200 * time.Millisecond,
		AskTimeout:   5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestAskPlainAnswer(t *testing.T) {
	m := &stubModel{script: []scripted{
		{msg: schema.AssistantMessage("The library closes at midnight.", nil)},
	}}
	c := newTestClient(t, m, nil, staticKnowledge(`{"library": {"hours": "8am-12am"}}`))

	history := []chat.Turn{
		{Role: chat.RoleUser, Content: "hi"},
		{Role: chat.RoleAssistant, Content: "Hello! How can I help?"},
	}
	got, err := c.Ask(context.Background(), "When does the library close?", history)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if got.Text != "The library closes at midnight." {
		t.Errorf("Ask() = %q", got.Text)
	}
	if got.ToolUsed {
		t.Error("Ask() reported a tool round on the plain path")
	}

	if len(m.calls) != 1 {
		t.Fatalf("model called %d times, want 1", len(m.calls))
	}
	msgs := m.calls[0]
	if len(msgs) != 4 {
		t.Fatalf("prompt has %d messages, want 4", len(msgs))
	}
	if msgs[0].Role != schema.System {
		t.Errorf("first message role = %v, want system", msgs[0].Role)
	}
	if !strings.Contains(msgs[0].Content, "Quad") || !strings.Contains(msgs[0].Content, `"library"`) {
		t.Errorf("system prompt missing persona or knowledge:\n%s", msgs[0].Content)
	}
	if msgs[1].Content != "hi" || msgs[2].Content != "Hello! How can I help?" {
		t.Errorf("history out of order: %q, %q", msgs[1].Content, msgs[2].Content)
	}
	if msgs[3].Role != schema.User || msgs[3].Content != "When does the library close?" {
		t.Errorf("last message = %v %q, want the question", msgs[3].Role, msgs[3].Content)
	}
}

func TestAskToolRound(t *testing.T) {
	search := &stubTool{name: "search_web", result: "Fall break runs October 13-17."}
	registry := tool.NewRegistry(search)

	first := schema.AssistantMessage("", []schema.ToolCall{{
		ID:       "call-1",
		Function: schema.FunctionCall{Name: "search_web", Arguments: `{"query":"fall break dates"}`},
	}})
	final := schema.AssistantMessage("Fall break is October 13 through 17.", nil)
	m := &stubModel{script: []scripted{{msg: first}, {msg: final}}}

	c := newTestClient(t, m, registry, nil)
	got, err := c.Ask(context.Background(), "When is fall break?", nil)
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if got.Text != final.Content {
		t.Errorf("Ask() = %q, want %q", got.Text, final.Content)
	}
	if !got.ToolUsed {
		t.Error("Ask() did not report the tool round")
	}

	if search.calls != 1 {
		t.Fatalf("tool executed %d times, want 1", search.calls)
	}
	if search.gotArgs != `{"query":"fall break dates"}` {
		t.Errorf("tool args = %s", search.gotArgs)
	}

	// Tools are bound for the first round only.
	if len(m.bound) != 1 || len(m.bound[0]) != 1 || m.bound[0][0].Name != "search_web" {
		t.Errorf("tool bindings = %+v, want one binding of search_web", m.bound)
	}

	if len(m.calls) != 2 {
		t.Fatalf("model called %d times, want 2", len(m.calls))
	}
	resume := m.calls[1]
	toolMsg := resume[len(resume)-1]
	if toolMsg.Role != schema.Tool || toolMsg.ToolCallID != "call-1" || toolMsg.Content != search.result {
		t.Errorf("resume prompt missing tool result, got %+v", toolMsg)
	}
	if resume[len(resume)-2] != first {
		t.Error("resume prompt missing the assistant tool request")
	}
}

func TestAskToolFailureDegrades(t *testing.T) {
	search := &stubTool{name: "search_web", err: errors.New("connect: connection refused")}
	registry := tool.NewRegistry(search)

	first := schema.AssistantMessage("", []schema.ToolCall{{
		ID:       "call-1",
		Function: schema.FunctionCall{Name: "search_web", Arguments: `{"query":"x"}`},
	}})
	fallback := schema.AssistantMessage("I don't have that information on hand.", nil)
	m := &stubModel{script: []scripted{{msg: first}, {msg: fallback}}}

	c := newTestClient(t, m, registry, nil)
	got, err := c.Ask(context.Background(), "What happened downtown today?", nil)
	if err != nil {
		t.Fatalf("Ask() error = %v, want degraded answer", err)
	}
	if got.Text != fallback.Content {
		t.Errorf("Ask() = %q, want fallback answer", got.Text)
	}
	if got.ToolUsed {
		t.Error("failed tool round still reported as used")
	}
	if search.calls != 1 {
		t.Errorf("tool executed %d times, want 1", search.calls)
	}
}

func TestAskEngineErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode apperr.Code
	}{
		{"unreachable", errors.New("dial tcp 127.0.0.1:11434: connection refused"), apperr.CodeEngineUnavailable},
		{"timeout", context.DeadlineExceeded, apperr.CodeEngineTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &stubModel{script: []scripted{{err: tt.err}}}
			registry := tool.NewRegistry(&stubTool{name: "search_web"})
			c := newTestClient(t, m, registry, nil)
			_, err := c.Ask(context.Background(), "q", nil)
			if apperr.CodeOf(err) != tt.wantCode {
				t.Errorf("Ask() error code = %v, want %v (err: %v)", apperr.CodeOf(err), tt.wantCode, err)
			}
		})
	}
}

func TestAskChainFailure(t *testing.T) {
	m := &stubModel{script: []scripted{{err: errors.New("dial tcp: connection refused")}}}
	c := newTestClient(t, m, nil, nil)
	_, err := c.Ask(context.Background(), "q", nil)
	if apperr.CodeOf(err) != apperr.CodeEngineUnavailable {
		t.Errorf("Ask() error code = %v, want %v", apperr.CodeOf(err), apperr.CodeEngineUnavailable)
	}
}

func TestResolveReply(t *testing.T) {
	if r := resolveReply(nil); r.Text != "" || r.ToolCall != nil {
		t.Errorf("resolveReply(nil) = %+v", r)
	}

	plain := resolveReply(schema.AssistantMessage("answer", nil))
	if plain.Text != "answer" || plain.ToolCall != nil {
		t.Errorf("plain reply = %+v", plain)
	}

	calls := []schema.ToolCall{
		{ID: "a", Function: schema.FunctionCall{Name: "search_web"}},
		{ID: "b", Function: schema.FunctionCall{Name: "search_web"}},
	}
	tooled := resolveReply(schema.AssistantMessage("", calls))
	if tooled.ToolCall == nil || tooled.ToolCall.ID != "a" {
		t.Errorf("tool reply did not pick the first call: %+v", tooled)
	}
}
