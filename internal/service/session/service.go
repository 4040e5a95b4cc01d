// Package session manages conversation lifecycles: creating, loading,
// appending to, listing, and deleting persisted sessions. All identifier
// validation and ownership checks live here so callers cannot reach storage
// with an unchecked id.
package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quadai/quad/internal/apperr"
	"github.com/quadai/quad/internal/event"
	"github.com/quadai/quad/internal/logging"
	"github.com/quadai/quad/internal/model/chat"
	"github.com/quadai/quad/internal/model/user"
	"github.com/quadai/quad/internal/storage"
)

const previewRunes = 100

// Service owns session persistence. Appends to the same session are
// serialized through a per-id mutex; requests against different sessions do
// not contend.
type Service struct {
	store *storage.Store
	bus   *event.Bus

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a session service backed by store. Lifecycle events are
// published on bus.
func New(store *storage.Store, bus *event.Bus) *Service {
	return &Service{
		store: store,
		bus:   bus,
		locks: make(map[string]*sync.Mutex),
	}
}

// Create persists a new empty session owned by identity and returns it. The
// identifier carries 256 bits of entropy in URL-safe encoding.
func (s *Service) Create(ctx context.Context, identity user.Identity) (*chat.Session, error) {
	id, err := newSessionID()
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "could not create session", err)
	}
	for s.store.Exists(ctx, "sessions", id) {
		if id, err = newSessionID(); err != nil {
			return nil, apperr.Wrap(apperr.CodeInternal, "could not create session", err)
		}
	}

	now := time.Now()
	session := &chat.Session{
		ID:        id,
		Owner:     identity.Owner(),
		CreatedAt: now,
		UpdatedAt: now,
		Turns:     []chat.Turn{},
	}
	if err := s.store.Put(ctx, session, "sessions", id); err != nil {
		return nil, storageErr(err)
	}

	s.publish(event.TypeSessionCreated, event.SessionEvent{SessionID: id, Owner: session.Owner})
	return session, nil
}

// Load validates id, reads the session, and checks that identity may access
// it. Registered owners reach their own sessions; anonymous callers reach
// only the session their issued token names.
func (s *Service) Load(ctx context.Context, identity user.Identity, id string) (*chat.Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	var session chat.Session
	if err := s.store.Get(ctx, &session, "sessions", id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.New(apperr.CodeNotFound, "session not found")
		}
		return nil, storageErr(err)
	}
	if !authorized(identity, &session) {
		return nil, apperr.New(apperr.CodeUnauthorized, "session does not belong to caller")
	}
	return &session, nil
}

// Append adds turns to the session in order and persists the result as one
// durable write. Missing turn ids and timestamps are filled in. Concurrent
// appends to the same session are serialized; the updated session is
// returned.
func (s *Service) Append(ctx context.Context, identity user.Identity, id string, turns ...chat.Turn) (*chat.Session, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.Load(ctx, identity, id)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for i := range turns {
		if turns[i].ID == "" {
			turns[i].ID = uuid.NewString()
		}
		if turns[i].Timestamp.IsZero() {
			turns[i].Timestamp = now
		}
		session.Turns = append(session.Turns, turns[i])
	}
	session.UpdatedAt = now

	if err := s.store.Put(ctx, session, "sessions", id); err != nil {
		return nil, storageErr(err)
	}
	return session, nil
}

// Delete removes a session. Foreign sessions fail with an authorization
// error rather than NotFound; absent sessions fail with NotFound.
func (s *Service) Delete(ctx context.Context, identity user.Identity, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	session, err := s.Load(ctx, identity, id)
	if err != nil {
		return err
	}

	if err := s.store.Delete(ctx, "sessions", id); err != nil {
		return storageErr(err)
	}

	s.publish(event.TypeSessionDeleted, event.SessionEvent{SessionID: id, Owner: session.Owner})
	return nil
}

// List returns summaries of every session identity may access, most recently
// updated first. The preview is the first user turn, truncated.
func (s *Service) List(ctx context.Context, identity user.Identity) ([]chat.SessionSummary, error) {
	var summaries []chat.SessionSummary
	err := s.store.Scan(ctx, func(key string, data json.RawMessage) error {
		var session chat.Session
		if err := json.Unmarshal(data, &session); err != nil {
			logging.Warn().Str("session_id", key).Err(err).Msg("skipping unreadable session record")
			return nil
		}
		if !authorized(identity, &session) {
			return nil
		}
		summaries = append(summaries, summarize(&session))
		return nil
	}, "sessions")
	if err != nil {
		return nil, storageErr(err)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

// Switch validates id and confirms the caller may use the session. It does
// not mutate anything; the handler updates the caller's active-session
// cookie from the result.
func (s *Service) Switch(ctx context.Context, identity user.Identity, id string) (*chat.Session, error) {
	return s.Load(ctx, identity, id)
}

func (s *Service) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

func (s *Service) publish(t event.Type, payload event.SessionEvent) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(t, payload); err != nil {
		logging.Warn().Str("event", string(t)).Err(err).Msg("failed to publish session event")
	}
}

func authorized(identity user.Identity, session *chat.Session) bool {
	if session.Owner == chat.GuestOwner {
		return identity.ActiveSessionID == session.ID
	}
	return identity.Email == session.Owner
}

func summarize(session *chat.Session) chat.SessionSummary {
	var preview string
	for _, turn := range session.Turns {
		if turn.Role == chat.RoleUser {
			preview = truncate(turn.Content, previewRunes)
			break
		}
	}
	return chat.SessionSummary{
		ID:        session.ID,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
		Preview:   preview,
		TurnCount: len(session.Turns),
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func newSessionID() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func storageErr(err error) error {
	return apperr.Wrap(apperr.CodeStorageUnavailable, "session storage unavailable", err)
}
