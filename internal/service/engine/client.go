// Package engine wraps the inference engine behind one client with a
// single-shot ask and a streaming ask. Both build the same prompt: system
// preamble with knowledge, the caller's bounded history, then the question.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/quadai/quad/internal/apperr"
	"github.com/quadai/quad/internal/logging"
	"github.com/quadai/quad/internal/model/chat"
	"github.com/quadai/quad/internal/service/tool"
)

const (
	defaultChunkTimeout = 30 * time.Second
	defaultAskTimeout   = 2 * time.Minute
)

// Config bounds how long the client waits on the engine.
type Config struct {
	// ChunkTimeout is the longest Recv waits for the next streamed fragment.
	ChunkTimeout time.Duration
	// AskTimeout bounds a whole single-shot exchange, tool round included.
	AskTimeout time.Duration
}

// Answer is a completed single-shot reply.
type Answer struct {
	Text     string
	ToolUsed bool
}

// Client drives one chat model. The streaming path goes through a compiled
// template+model chain; the single-shot path binds tools for the first round
// and resumes without them, so one side action per question is the ceiling.
type Client struct {
	model        model.ToolCallingChatModel
	chain        compose.Runnable[map[string]any, *schema.Message]
	tools        *tool.Registry
	prompts      *PromptBuilder
	chunkTimeout time.Duration
	askTimeout   time.Duration
}

func NewClient(ctx context.Context, chatModel model.ToolCallingChatModel, tools *tool.Registry, prompts *PromptBuilder, cfg Config) (*Client, error) {
	if chatModel == nil {
		return nil, errors.New("engine: chat model is required")
	}
	if prompts == nil {
		prompts = NewPromptBuilder(nil)
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = defaultChunkTimeout
	}
	if cfg.AskTimeout <= 0 {
		cfg.AskTimeout = defaultAskTimeout
	}

	template := prompt.FromMessages(schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeEngineUnavailable, "failed to assemble engine chain", err)
	}

	return &Client{
		model:        chatModel,
		chain:        runnable,
		tools:        tools,
		prompts:      prompts,
		chunkTimeout: cfg.ChunkTimeout,
		askTimeout:   cfg.AskTimeout,
	}, nil
}

// Ask produces one complete answer. When tools are registered the first round
// may request a side action; its result is fed back and generation resumes
// without tools, bounding the exchange at a single round. A failed tool
// degrades to answering without its result.
func (c *Client) Ask(ctx context.Context, question string, history []chat.Turn) (Answer, error) {
	ctx, cancel := context.WithTimeout(ctx, c.askTimeout)
	defer cancel()

	if c.tools == nil || c.tools.Empty() {
		text, err := c.invokeChain(ctx, question, history)
		return Answer{Text: text}, err
	}
	return c.askWithTools(ctx, question, history)
}

// AskStreaming starts a streamed answer. Tools never participate here, the
// reply is plain generation over the same prompt shape as Ask.
func (c *Client) AskStreaming(ctx context.Context, question string, history []chat.Turn) (TokenStream, error) {
	reader, err := c.chain.Stream(ctx, c.chainInput(question, history))
	if err != nil {
		return nil, classify(ctx, err)
	}
	return newTokenStream(reader, c.chunkTimeout), nil
}

func (c *Client) invokeChain(ctx context.Context, question string, history []chat.Turn) (string, error) {
	out, err := c.chain.Invoke(ctx, c.chainInput(question, history))
	if err != nil {
		return "", classify(ctx, err)
	}
	return out.Content, nil
}

func (c *Client) askWithTools(ctx context.Context, question string, history []chat.Turn) (Answer, error) {
	bound, err := c.model.WithTools(c.tools.Infos())
	if err != nil {
		return Answer{}, apperr.Wrap(apperr.CodeEngineUnavailable, "failed to bind tools", err)
	}

	messages := c.messages(question, history)
	first, err := bound.Generate(ctx, messages)
	if err != nil {
		return Answer{}, classify(ctx, err)
	}

	switch out := resolveReply(first); {
	case out.ToolCall != nil:
		result, toolErr := c.runTool(ctx, *out.ToolCall)
		if toolErr != nil {
			logging.Warn().
				Str("tool", out.ToolCall.Function.Name).
				Err(toolErr).
				Msg("tool invocation failed, answering without its result")
			text, err := c.invokeChain(ctx, question, history)
			return Answer{Text: text}, err
		}

		messages = append(messages, first, toolMessage(out.ToolCall.ID, result))
		final, err := c.model.Generate(ctx, messages)
		if err != nil {
			return Answer{}, classify(ctx, err)
		}
		return Answer{Text: final.Content, ToolUsed: true}, nil

	default:
		return Answer{Text: out.Text}, nil
	}
}

func (c *Client) runTool(ctx context.Context, call schema.ToolCall) (string, error) {
	t, err := c.tools.Get(call.Function.Name)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeToolFailed, "engine requested an unknown tool", err)
	}
	logging.Debug().
		Str("tool", call.Function.Name).
		Str("args", call.Function.Arguments).
		Msg("running tool round")
	return t.Execute(ctx, json.RawMessage(call.Function.Arguments))
}

func (c *Client) chainInput(question string, history []chat.Turn) map[string]any {
	return map[string]any{
		"system":  c.prompts.System(),
		"history": historyMessages(history),
		"query":   question,
	}
}

// messages builds the same prompt the chain template would, for paths that
// call the model directly.
func (c *Client) messages(question string, history []chat.Turn) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, schema.SystemMessage(c.prompts.System()))
	msgs = append(msgs, historyMessages(history)...)
	msgs = append(msgs, schema.UserMessage(question))
	return msgs
}

func historyMessages(turns []chat.Turn) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case chat.RoleUser:
			msgs = append(msgs, schema.UserMessage(t.Content))
		case chat.RoleAssistant:
			msgs = append(msgs, schema.AssistantMessage(t.Content, nil))
		}
	}
	return msgs
}

// reply is the tagged form of one engine message: either a finished answer or
// a request for exactly one side action. Engines occasionally emit several
// calls at once; only the first is honored.
type reply struct {
	Text     string
	ToolCall *schema.ToolCall
}

func resolveReply(msg *schema.Message) reply {
	if msg == nil {
		return reply{}
	}
	if len(msg.ToolCalls) > 0 {
		return reply{ToolCall: &msg.ToolCalls[0]}
	}
	return reply{Text: msg.Content}
}

func toolMessage(callID, result string) *schema.Message {
	return &schema.Message{
		Role:       schema.Tool,
		Content:    result,
		ToolCallID: callID,
	}
}

// classify maps transport failures onto the engine error taxonomy. The
// context is consulted as well because intermediate layers do not always
// preserve the error chain. Caller cancellation is passed through untouched,
// it is not an engine fault.
func classify(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return apperr.Wrap(apperr.CodeEngineTimeout, "inference engine timed out", err)
	default:
		return apperr.Wrap(apperr.CodeEngineUnavailable, "inference engine unavailable", err)
	}
}
