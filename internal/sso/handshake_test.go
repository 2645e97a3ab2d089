package sso

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tremho/inverse-y/internal/platform/metrics"
	"github.com/tremho/inverse-y/internal/session"
	"github.com/tremho/inverse-y/internal/sso/provider"
	"github.com/tremho/inverse-y/internal/sso/slot"
	"github.com/tremho/inverse-y/internal/sso/ticket"
	"github.com/tremho/inverse-y/internal/storage"
	dErrors "github.com/tremho/inverse-y/pkg/domain-errors"
)

// harness wires a coordinator against in-memory stores with a fake clock and
// a sleep that advances it instead of blocking.
type harness struct {
	coordinator *Coordinator
	tickets     *ticket.Authority
	slots       *slot.Store
	sessions    *session.Store
	objects     storage.Store
	clock       time.Time
	sleeps      []time.Duration
}

func newHarness(t *testing.T, objects storage.Store) *harness {
	t.Helper()
	h := &harness{objects: objects, clock: time.Now()}
	now := func() time.Time { return h.clock }
	h.tickets = ticket.NewAuthority("sso-manager-test", ticket.WithClock(now))
	h.slots = slot.NewStore(objects, slot.WithClock(now))
	h.sessions = session.NewStore(objects, slog.Default(), session.WithClock(now))
	h.coordinator = NewCoordinator(
		h.tickets, h.slots, h.sessions,
		provider.NewStaticSource(),
		slog.Default(),
		metrics.New(nil),
		WithClock(now),
		WithSleep(func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			h.clock = h.clock.Add(d)
			return nil
		}),
	)
	return h
}

func newSession(appID string) *session.Session {
	return &session.Session{ID: "session-1", AppID: appID, Provider: "apple"}
}

func Test_DeriveHost(t *testing.T) {
	host, err := DeriveHost("https://app.example.com/api/login")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com", host)

	host, err = DeriveHost("https://app.example.com:8443/x/y?z=1")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com:8443", host)

	host, err = DeriveHost("https://app.example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://app.example.com", host)

	_, err = DeriveHost("no-scheme")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeBadRequest))
}

func Test_Begin_IssuesTicketAndReservesSlot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory())
	ssn := newSession("com.example.app")

	page, err := h.coordinator.Begin(ctx, ssn, "https://app.example.com/api/login")
	require.NoError(t, err)
	require.NotEmpty(t, ssn.SIAToken)
	assert.Contains(t, page, "<html>")
	assert.NotContains(t, page, provider.TokenPlaceholder)
	assert.NotContains(t, page, provider.AppIDPlaceholder)

	slotID, err := h.tickets.Verify("com.example.app", ssn.SIAToken)
	require.NoError(t, err)

	reserved, err := h.slots.Fetch(ctx, slotID)
	require.NoError(t, err)
	assert.Equal(t, "com.example.app", reserved.AppID)
	assert.Equal(t, ssn.SIAToken, reserved.SIAToken)
	assert.Equal(t, ssn.ID, reserved.SessionID)
	assert.False(t, reserved.Filled())
}

func Test_Begin_SubstitutesPlaceholders(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory())
	src := &provider.StaticSource{HTML: "token=SIA_TOKEN_GOES_HERE app=APPID_GOES_HERE"}
	h.coordinator.pages = src
	ssn := newSession("com.example.app")

	page, err := h.coordinator.Begin(ctx, ssn, "https://app.example.com/login")
	require.NoError(t, err)
	assert.Equal(t, "token="+ssn.SIAToken+" app=com.example.app", page)
}

func Test_Begin_InvalidInvokingURL(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory())

	_, err := h.coordinator.Begin(ctx, newSession("com.example.app"), "no-scheme")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeBadRequest))
}

func Test_WaitFinish_FilledOnFirstPollReturnsWithoutWaiting(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory())
	ssn := newSession("com.example.app")

	_, err := h.coordinator.Begin(ctx, ssn, "https://app.example.com/login")
	require.NoError(t, err)

	slotID, err := h.tickets.Verify("com.example.app", ssn.SIAToken)
	require.NoError(t, err)
	_, err = h.slots.Fill(ctx, slotID, json.RawMessage(`{"email":"u@example.com"}`), "user-1")
	require.NoError(t, err)

	got, err := h.coordinator.WaitFinish(ctx, ssn, "user-token")
	require.NoError(t, err)
	assert.Empty(t, h.sleeps, "a filled slot must resolve without waiting")
	assert.Equal(t, "user-token", got.UserToken)
	assert.Equal(t, h.clock.UnixMilli(), got.AuthenticatedAt)
	assert.True(t, h.sessions.IsValid(got))

	persisted, err := h.sessions.Get(ctx, ssn.ID)
	require.NoError(t, err)
	assert.Equal(t, got, persisted)
}

func Test_WaitFinish_FreshlyReservedSlotDoesNotComplete(t *testing.T) {
	// A slot that merely exists is not a completed handshake; only
	// FilledMs > 0 finishes the wait.
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory())
	ssn := newSession("com.example.app")

	_, err := h.coordinator.Begin(ctx, ssn, "https://app.example.com/login")
	require.NoError(t, err)

	_, err = h.coordinator.WaitFinish(ctx, ssn, "user-token")
	require.ErrorIs(t, err, dErrors.New(dErrors.CodeTimeout, "login did not complete before timeout"))
	assert.Zero(t, ssn.AuthenticatedAt)
}

func Test_WaitFinish_BackoffScheduleThenTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory())
	ssn := newSession("com.example.app")

	_, err := h.coordinator.Begin(ctx, ssn, "https://app.example.com/login")
	require.NoError(t, err)

	start := h.clock
	_, err = h.coordinator.WaitFinish(ctx, ssn, "user-token")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeTimeout))

	want := []time.Duration{
		10000 * time.Millisecond,
		5000 * time.Millisecond,
		2500 * time.Millisecond,
		1250 * time.Millisecond,
		625 * time.Millisecond,
	}
	assert.Equal(t, want, h.sleeps)
	assert.Equal(t, 19375*time.Millisecond, h.clock.Sub(start))
}

func Test_WaitFinish_FilledMidwayCompletes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory())
	ssn := newSession("com.example.app")

	_, err := h.coordinator.Begin(ctx, ssn, "https://app.example.com/login")
	require.NoError(t, err)

	slotID, err := h.tickets.Verify("com.example.app", ssn.SIAToken)
	require.NoError(t, err)

	// Fill the slot during the second wait.
	calls := 0
	h.coordinator.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		h.clock = h.clock.Add(d)
		calls++
		if calls == 2 {
			_, err := h.slots.Fill(ctx, slotID, nil, "user-1")
			require.NoError(t, err)
		}
		return nil
	}

	got, err := h.coordinator.WaitFinish(ctx, ssn, "user-token")
	require.NoError(t, err)
	assert.Len(t, h.sleeps, 2)
	assert.True(t, h.sessions.IsValid(got))
}

func Test_WaitFinish_UnverifiableTicketCountsTowardBudget(t *testing.T) {
	// An invalid ticket reads as not-yet-resolved; the loop keeps polling
	// and the handshake ends in a timeout, not an immediate failure.
	ctx := context.Background()
	h := newHarness(t, storage.NewMemory())
	ssn := newSession("com.example.app")
	ssn.SIAToken = "garbage"

	_, err := h.coordinator.WaitFinish(ctx, ssn, "user-token")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeTimeout))
	assert.Len(t, h.sleeps, 5)
}

// faultyStore fails reads for one bucket to model a store outage.
type faultyStore struct {
	storage.Store
	failBucket string
}

func (f *faultyStore) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	if bucket == f.failBucket {
		return nil, storage.ErrGetFailed
	}
	return f.Store.Get(ctx, bucket, key)
}

func Test_WaitFinish_StoreFaultAbortsImmediately(t *testing.T) {
	ctx := context.Background()
	objects := storage.NewMemory()
	h := newHarness(t, objects)
	ssn := newSession("com.example.app")

	_, err := h.coordinator.Begin(ctx, ssn, "https://app.example.com/login")
	require.NoError(t, err)

	h.coordinator.slots = slot.NewStore(&faultyStore{Store: objects, failBucket: slot.Bucket})

	_, err = h.coordinator.WaitFinish(ctx, ssn, "user-token")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeInternal))
	assert.Empty(t, h.sleeps, "store faults must not be retried")
}

func Test_WaitFinish_ContextCancelStopsWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := newHarness(t, storage.NewMemory())
	ssn := newSession("com.example.app")

	_, err := h.coordinator.Begin(ctx, ssn, "https://app.example.com/login")
	require.NoError(t, err)

	h.coordinator.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err = h.coordinator.WaitFinish(ctx, ssn, "user-token")
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeTimeout))
}
