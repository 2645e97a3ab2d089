package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tremho/inverse-y/internal/storage"
)

// Bucket is the logical bucket sessions live in.
const Bucket = "sessions"

// Store persists sessions in the durable object store. Read failures degrade
// to a fresh unauthenticated session; first-time callers are expected to miss.
type Store struct {
	objects storage.Store
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(objects storage.Store, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{objects: objects, logger: logger, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Get resolves the session for an incoming id. A missing or unreadable record
// yields a fresh unauthenticated session with a random id assigned. Nothing is
// written; a session only persists when the caller saves it.
func (s *Store) Get(ctx context.Context, incomingID string) (Session, error) {
	var ssn Session
	if incomingID != "" {
		err := storage.GetJSON(ctx, s.objects, Bucket, incomingID, &ssn)
		switch {
		case err == nil:
		case errors.Is(err, storage.ErrNotFound), errors.Is(err, storage.ErrDeserialization):
			s.logger.InfoContext(ctx, "session not resolved, starting fresh",
				"session_id", incomingID, "reason", err.Error())
			ssn = Session{}
		default:
			return Session{}, err
		}
	}
	if ssn.ID == "" {
		ssn.ID = uuid.NewString()
		ssn.CreatedAt = s.now().UnixMilli()
	}
	return ssn, nil
}

// Save writes the full session under its id.
func (s *Store) Save(ctx context.Context, ssn Session) error {
	return storage.PutJSON(ctx, s.objects, Bucket, ssn.ID, ssn)
}

// Delete removes the session, best effort. A missing session is not an error
// for a caller logging out.
func (s *Store) Delete(ctx context.Context, id string) {
	if err := s.objects.Delete(ctx, Bucket, id); err != nil {
		s.logger.WarnContext(ctx, "session delete failed", "session_id", id, "error", err.Error())
	}
}

// IsValid reports validity against the store's clock.
func (s *Store) IsValid(ssn Session) bool {
	return IsValid(ssn, s.now())
}
