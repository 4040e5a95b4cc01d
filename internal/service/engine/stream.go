package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/quadai/quad/internal/apperr"
)

// TokenStream is a finite, single-pass sequence of answer fragments. Recv
// blocks until the next fragment arrives, the context is done, or the
// per-chunk wait bound elapses; it returns io.EOF once the stream is
// exhausted. Close releases the producer and may be called more than once.
type TokenStream interface {
	Recv(ctx context.Context) (string, error)
	Close()
}

type streamChunk struct {
	text string
	err  error
}

// tokenStream bridges an eino stream reader onto a channel so that Recv can
// honor cancellation and the per-chunk wait bound.
type tokenStream struct {
	chunks  chan streamChunk
	stop    chan struct{}
	timeout time.Duration
	once    sync.Once
}

func newTokenStream(reader *schema.StreamReader[*schema.Message], timeout time.Duration) *tokenStream {
	if timeout <= 0 {
		timeout = defaultChunkTimeout
	}
	s := &tokenStream{
		chunks:  make(chan streamChunk),
		stop:    make(chan struct{}),
		timeout: timeout,
	}
	go s.drain(reader)
	return s
}

func (s *tokenStream) drain(reader *schema.StreamReader[*schema.Message]) {
	defer close(s.chunks)
	defer reader.Close()

	for {
		msg, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			return
		}

		var chunk streamChunk
		if err != nil {
			chunk = streamChunk{err: streamErr(err)}
		} else {
			if msg == nil || msg.Content == "" {
				continue
			}
			chunk = streamChunk{text: msg.Content}
		}

		select {
		case s.chunks <- chunk:
			if chunk.err != nil {
				return
			}
		case <-s.stop:
			return
		}
	}
}

func (s *tokenStream) Recv(ctx context.Context) (string, error) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-timer.C:
		return "", apperr.New(apperr.CodeEngineTimeout, "engine produced no output within the wait bound")
	case chunk, ok := <-s.chunks:
		if !ok {
			return "", io.EOF
		}
		return chunk.text, chunk.err
	}
}

func (s *tokenStream) Close() {
	s.once.Do(func() { close(s.stop) })
}

// streamErr maps a mid-stream failure onto the engine error taxonomy.
func streamErr(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.CodeEngineTimeout, "inference engine timed out mid-stream", err)
	default:
		return apperr.Wrap(apperr.CodeEngineUnavailable, "inference engine failed mid-stream", err)
	}
}
