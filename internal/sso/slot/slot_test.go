package slot

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tremho/inverse-y/internal/storage"
)

func Test_ReserveThenFetch_RoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.NewMemory())

	reserved := Slot{
		AppID:     "com.example.app",
		SIAToken:  "ticket",
		SessionID: "session-1",
		CreatedMs: 1700000000000,
	}
	require.NoError(t, store.Reserve(ctx, "17abc-xyz", reserved))

	got, err := store.Fetch(ctx, "17abc-xyz")
	require.NoError(t, err)
	assert.Equal(t, reserved, got)
	assert.False(t, got.Filled())
}

func Test_Reserve_StampsCreatedMs(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1700000000000)
	store := NewStore(storage.NewMemory(), WithClock(func() time.Time { return now }))

	require.NoError(t, store.Reserve(ctx, "id", Slot{AppID: "a"}))

	got, err := store.Fetch(ctx, "id")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), got.CreatedMs)
}

func Test_Fetch_Missing(t *testing.T) {
	store := NewStore(storage.NewMemory())
	_, err := store.Fetch(context.Background(), "nope")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func Test_Fill_MarksSlotOnce(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1700000000000)
	store := NewStore(storage.NewMemory(), WithClock(func() time.Time { return now }))

	require.NoError(t, store.Reserve(ctx, "id", Slot{AppID: "a", SessionID: "s"}))

	filled, err := store.Fill(ctx, "id", json.RawMessage(`{"email":"u@example.com"}`), "user-1")
	require.NoError(t, err)
	assert.True(t, filled.Filled())
	assert.Equal(t, "user-1", filled.UserID)

	// A second completion must not overwrite the first.
	now = now.Add(time.Minute)
	again, err := store.Fill(ctx, "id", json.RawMessage(`{}`), "user-2")
	require.NoError(t, err)
	assert.Equal(t, filled.FilledMs, again.FilledMs)
	assert.Equal(t, "user-1", again.UserID)
}

func Test_Fill_MissingSlot(t *testing.T) {
	store := NewStore(storage.NewMemory())
	_, err := store.Fill(context.Background(), "nope", nil, "u")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func Test_ProviderDataPassesThroughOpaque(t *testing.T) {
	ctx := context.Background()
	store := NewStore(storage.NewMemory())
	raw := json.RawMessage(`{"nested":{"k":[1,2,3]},"unknown":"field"}`)

	require.NoError(t, store.Reserve(ctx, "id", Slot{AppID: "a"}))
	_, err := store.Fill(ctx, "id", raw, "u")
	require.NoError(t, err)

	got, err := store.Fetch(ctx, "id")
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(got.ProviderData))
}
