// Package user manages registered accounts: registration, credential checks,
// and the list of sessions attached to each account. Accounts live in a
// single document keyed by normalized email.
package user

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/quadai/quad/internal/apperr"
	"github.com/quadai/quad/internal/event"
	"github.com/quadai/quad/internal/logging"
	"github.com/quadai/quad/internal/model/chat"
	"github.com/quadai/quad/internal/model/user"
	"github.com/quadai/quad/internal/storage"
)

const minPasswordLength = 8

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// Service owns the registered-account document. All mutations go through a
// single mutex because the whole account map is one record on disk.
type Service struct {
	store *storage.Store
	mu    sync.Mutex
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

// Register creates an account for email. The password is stored only as a
// bcrypt hash.
func (s *Service) Register(ctx context.Context, email, password string) (*user.User, error) {
	email = normalizeEmail(email)
	if !emailPattern.MatchString(email) {
		return nil, apperr.New(apperr.CodeInvalidRequest, "invalid email address")
	}
	if len(password) < minPasswordLength {
		return nil, apperr.Newf(apperr.CodeInvalidRequest, "password must be at least %d characters", minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "could not hash password", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	if _, exists := users[email]; exists {
		return nil, apperr.New(apperr.CodeInvalidRequest, "email is already registered")
	}

	account := user.User{
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
		SessionIDs:   []string{},
	}
	users[email] = account

	if err := s.saveAll(ctx, users); err != nil {
		return nil, err
	}
	return &account, nil
}

// Authenticate checks email and password against the stored hash. Unknown
// accounts and wrong passwords produce the same error so login attempts
// cannot probe for registered addresses.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*user.User, error) {
	email = normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	account, ok := users[email]
	if !ok {
		return nil, apperr.New(apperr.CodeUnauthorized, "invalid email or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.New(apperr.CodeUnauthorized, "invalid email or password")
	}
	return &account, nil
}

// Get returns the account for email.
func (s *Service) Get(ctx context.Context, email string) (*user.User, error) {
	email = normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	account, ok := users[email]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "account not found")
	}
	return &account, nil
}

// AttachSession records sessionID against the account. Attaching to an
// unknown account is a no-op so guest sessions pass through silently.
func (s *Service) AttachSession(ctx context.Context, email, sessionID string) error {
	return s.updateSessions(ctx, email, func(ids []string) []string {
		for _, id := range ids {
			if id == sessionID {
				return ids
			}
		}
		return append(ids, sessionID)
	})
}

// DetachSession removes sessionID from the account.
func (s *Service) DetachSession(ctx context.Context, email, sessionID string) error {
	return s.updateSessions(ctx, email, func(ids []string) []string {
		kept := ids[:0]
		for _, id := range ids {
			if id != sessionID {
				kept = append(kept, id)
			}
		}
		return kept
	})
}

// WatchSessions keeps account session lists in step with session lifecycle
// events until ctx is canceled.
func (s *Service) WatchSessions(ctx context.Context, bus *event.Bus) error {
	err := bus.Subscribe(ctx, event.TypeSessionCreated, func(data []byte) {
		s.applySessionEvent(ctx, data, s.AttachSession)
	})
	if err != nil {
		return err
	}
	return bus.Subscribe(ctx, event.TypeSessionDeleted, func(data []byte) {
		s.applySessionEvent(ctx, data, s.DetachSession)
	})
}

func (s *Service) applySessionEvent(ctx context.Context, data []byte, apply func(context.Context, string, string) error) {
	var ev event.SessionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		logging.Warn().Err(err).Msg("unreadable session event")
		return
	}
	if ev.Owner == chat.GuestOwner {
		return
	}
	if err := apply(ctx, ev.Owner, ev.SessionID); err != nil {
		logging.Warn().Str("owner", ev.Owner).Err(err).Msg("failed to update account session list")
	}
}

func (s *Service) updateSessions(ctx context.Context, email string, mutate func([]string) []string) error {
	email = normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()

	users, err := s.loadAll(ctx)
	if err != nil {
		return err
	}
	account, ok := users[email]
	if !ok {
		return nil
	}

	account.SessionIDs = mutate(account.SessionIDs)
	users[email] = account
	return s.saveAll(ctx, users)
}

// loadAll and saveAll expect s.mu to be held.
func (s *Service) loadAll(ctx context.Context) (map[string]user.User, error) {
	users := make(map[string]user.User)
	if err := s.store.Get(ctx, &users, "users"); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return users, nil
		}
		return nil, apperr.Wrap(apperr.CodeStorageUnavailable, "account storage unavailable", err)
	}
	return users, nil
}

func (s *Service) saveAll(ctx context.Context, users map[string]user.User) error {
	if err := s.store.Put(ctx, users, "users"); err != nil {
		return apperr.Wrap(apperr.CodeStorageUnavailable, "account storage unavailable", err)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
