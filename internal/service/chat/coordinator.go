// Package chat orchestrates one question/answer exchange: load the session,
// assemble bounded context, drive the engine, persist the finished turn pair,
// and emit the interaction record.
package chat

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"time"

	"github.com/quadai/quad/internal/event"
	"github.com/quadai/quad/internal/logging"
	"github.com/quadai/quad/internal/model/analytics"
	"github.com/quadai/quad/internal/model/chat"
	"github.com/quadai/quad/internal/model/user"
	"github.com/quadai/quad/internal/service/engine"
	"github.com/quadai/quad/internal/service/session"
)

// State names the coordinator's position within one exchange. Done and
// Errored are terminal.
type State string

const (
	StateIdle          State = "idle"
	StateContextLoaded State = "context_loaded"
	StateGenerating    State = "generating"
	StateCompleting    State = "completing"
	StateDone          State = "done"
	StateErrored       State = "errored"
)

// Event is one push frame of a streamed exchange: a token, or exactly one
// terminal done/error marker.
type Event struct {
	Token string
	Done  bool
	Err   error
}

// EmitFunc delivers one Event to the caller. A returned error means the
// caller is gone and the exchange is abandoned.
type EmitFunc func(Event) error

// Engine is the inference dependency the coordinator drives.
type Engine interface {
	Ask(ctx context.Context, question string, history []chat.Turn) (engine.Answer, error)
	AskStreaming(ctx context.Context, question string, history []chat.Turn) (engine.TokenStream, error)
}

// Request is one question bound for the engine, together with the caller's
// identity and the connection metadata recorded for analytics.
type Request struct {
	SessionID string
	Question  string
	Identity  user.Identity
	ClientIP  string
	UserAgent string
}

// Coordinator runs exchanges sequentially per call. Two concurrent requests
// against the same session may both read context before either commit lands;
// the commits themselves are serialized by the session service, the race only
// affects what each answer saw.
type Coordinator struct {
	sessions  *session.Service
	engine    Engine
	assembler *Assembler
	bus       *event.Bus
}

func NewCoordinator(sessions *session.Service, eng Engine, assembler *Assembler, bus *event.Bus) *Coordinator {
	if assembler == nil {
		assembler = NewAssembler(0)
	}
	return &Coordinator{sessions: sessions, engine: eng, assembler: assembler, bus: bus}
}

// Answer runs one single-shot exchange and returns the complete reply. The
// turn pair is committed once the answer is in hand; a commit failure is
// logged, never surfaced, because the answer is already being delivered.
func (c *Coordinator) Answer(ctx context.Context, req Request) (string, error) {
	sess, err := c.sessions.Load(ctx, req.Identity, req.SessionID)
	if err != nil {
		return "", err
	}
	history := c.assembler.BuildContext(sess)

	started := time.Now()
	ans, err := c.engine.Ask(ctx, req.Question, history)
	if err != nil {
		return "", err
	}

	c.commit(ctx, req, ans.Text, time.Since(started), false, ans.ToolUsed)
	return ans.Text, nil
}

// StreamAnswer runs one streamed exchange, pushing each token through emit
// followed by exactly one terminal event. It returns the terminal state and
// the error that forced it there, if any.
//
// If the caller disconnects mid-stream the exchange is abandoned and the
// partial answer is discarded; nothing is committed to the session.
func (c *Coordinator) StreamAnswer(ctx context.Context, req Request, emit EmitFunc) (State, error) {
	state := StateIdle

	sess, err := c.sessions.Load(ctx, req.Identity, req.SessionID)
	if err != nil {
		return c.fail(state, emit, err)
	}
	state = StateContextLoaded
	history := c.assembler.BuildContext(sess)

	started := time.Now()
	stream, err := c.engine.AskStreaming(ctx, req.Question, history)
	if err != nil {
		return c.fail(state, emit, err)
	}
	defer stream.Close()
	state = StateGenerating

	var answer strings.Builder
	for {
		token, recvErr := stream.Recv(ctx)
		if errors.Is(recvErr, io.EOF) {
			break
		}
		if recvErr != nil {
			return c.fail(state, emit, recvErr)
		}
		if token == "" {
			continue
		}
		if emitErr := emit(Event{Token: token}); emitErr != nil {
			logging.Debug().
				Str("session_id", req.SessionID).
				Err(emitErr).
				Msg("caller left mid-stream, discarding partial answer")
			return StateErrored, emitErr
		}
		answer.WriteString(token)
	}
	state = StateCompleting

	c.commit(ctx, req, answer.String(), time.Since(started), true, false)

	if emitErr := emit(Event{Done: true}); emitErr != nil {
		return StateErrored, emitErr
	}
	return StateDone, nil
}

// commit persists the finished turn pair and publishes the interaction
// record. The answer has already been delivered, so failures here are logged
// rather than returned.
func (c *Coordinator) commit(ctx context.Context, req Request, answer string, took time.Duration, streamed, toolUsed bool) {
	_, err := c.sessions.Append(ctx, req.Identity, req.SessionID,
		chat.Turn{Role: chat.RoleUser, Content: req.Question},
		chat.Turn{Role: chat.RoleAssistant, Content: answer},
	)
	if err != nil {
		logging.Error().
			Str("session_id", req.SessionID).
			Err(err).
			Msg("failed to persist exchange after delivering the answer")
	}

	if c.bus == nil {
		return
	}
	rec := analytics.Record{
		Timestamp:         time.Now(),
		SessionID:         req.SessionID,
		Owner:             req.Identity.Owner(),
		ClientIP:          req.ClientIP,
		UserAgent:         req.UserAgent,
		Question:          req.Question,
		QuestionLength:    len(req.Question),
		Answer:            answer,
		AnswerLength:      len(answer),
		GenerationSeconds: math.Round(took.Seconds()*100) / 100,
		Streamed:          streamed,
		ToolUsed:          toolUsed,
	}
	if err := c.bus.Publish(event.TypeInteractionRecorded, rec); err != nil {
		logging.Warn().Err(err).Msg("failed to publish interaction record")
	}
}

// fail pushes the terminal error event so the caller's stream closes cleanly
// instead of hanging open.
func (c *Coordinator) fail(state State, emit EmitFunc, err error) (State, error) {
	logging.Warn().Str("state", string(state)).Err(err).Msg("exchange failed")
	if emitErr := emit(Event{Err: err}); emitErr != nil {
		logging.Debug().Err(emitErr).Msg("could not deliver the terminal error event")
	}
	return StateErrored, err
}
