// Package slot persists the rendezvous record each handshake coordinates
// through. A slot starts empty and is filled exactly once by the out-of-band
// completion of a browser login.
package slot

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tremho/inverse-y/internal/storage"
)

// Bucket is the logical bucket slots live in.
const Bucket = "sia-slots"

// Slot is the per-handshake record, keyed by the slot id embedded in the
// issuing ticket. FilledMs stays zero until the out-of-band leg completes.
type Slot struct {
	AppID        string          `json:"appId"`
	SIAToken     string          `json:"siaToken"`
	Redirect     string          `json:"redirect"`
	SessionID    string          `json:"sessionId"`
	CreatedMs    int64           `json:"createdMs"`
	FilledMs     int64           `json:"filledMs"`
	ProviderData json.RawMessage `json:"providerData,omitempty"`
	UserID       string          `json:"userId"`
}

// Filled reports whether the out-of-band completion has landed.
func (s Slot) Filled() bool {
	return s.FilledMs > 0
}

// Store reads and writes slots through the durable object store. Store errors
// surface unchanged; retrying is the coordinator's concern and only for the
// not-yet-filled case.
type Store struct {
	objects storage.Store
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(objects storage.Store, opts ...Option) *Store {
	s := &Store{objects: objects, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Reserve writes a fresh empty slot under slotID.
func (s *Store) Reserve(ctx context.Context, slotID string, sl Slot) error {
	if sl.CreatedMs == 0 {
		sl.CreatedMs = s.now().UnixMilli()
	}
	return storage.PutJSON(ctx, s.objects, Bucket, slotID, sl)
}

// Fetch reads the slot at slotID.
func (s *Store) Fetch(ctx context.Context, slotID string) (Slot, error) {
	var sl Slot
	if err := storage.GetJSON(ctx, s.objects, Bucket, slotID, &sl); err != nil {
		return Slot{}, err
	}
	return sl, nil
}

// Fill marks the slot completed with the provider's result. This is the write
// performed by the out-of-band leg of the flow; a slot transitions to filled
// at most once, so an already-filled slot is left untouched.
func (s *Store) Fill(ctx context.Context, slotID string, providerData json.RawMessage, userID string) (Slot, error) {
	sl, err := s.Fetch(ctx, slotID)
	if err != nil {
		return Slot{}, err
	}
	if sl.Filled() {
		return sl, nil
	}
	sl.FilledMs = s.now().UnixMilli()
	sl.ProviderData = providerData
	sl.UserID = userID
	if err := storage.PutJSON(ctx, s.objects, Bucket, slotID, sl); err != nil {
		return Slot{}, err
	}
	return sl, nil
}
