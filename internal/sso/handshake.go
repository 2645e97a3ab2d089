// Package sso orchestrates the asynchronous login handshake: issue a ticket,
// reserve a slot, hand the browser a login page, then poll the slot until the
// out-of-band completion lands or the backoff budget runs out.
package sso

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/tremho/inverse-y/internal/platform/metrics"
	"github.com/tremho/inverse-y/internal/session"
	"github.com/tremho/inverse-y/internal/sso/provider"
	"github.com/tremho/inverse-y/internal/sso/slot"
	"github.com/tremho/inverse-y/internal/sso/ticket"
	"github.com/tremho/inverse-y/internal/storage"
	dErrors "github.com/tremho/inverse-y/pkg/domain-errors"
)

const (
	// The wait loop starts at initialWait and halves each unsuccessful pass.
	// Once the next wait would drop under waitFloor the handshake times out;
	// that bounds the loop to five polls across roughly nineteen seconds.
	initialWait = 10 * time.Second
	waitFloor   = 500 * time.Millisecond
)

// SleepFunc waits for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Coordinator runs both legs of the handshake. The begin and wait-finish
// calls may land on different process instances; all shared state lives in
// the slot and session stores.
type Coordinator struct {
	tickets  *ticket.Authority
	slots    *slot.Store
	sessions *session.Store
	pages    provider.Source
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	sleep    SleepFunc
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithSleep injects the wait function, for tests.
func WithSleep(sleep SleepFunc) Option {
	return func(c *Coordinator) { c.sleep = sleep }
}

func NewCoordinator(
	tickets *ticket.Authority,
	slots *slot.Store,
	sessions *session.Store,
	pages provider.Source,
	logger *slog.Logger,
	m *metrics.Metrics,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		tickets:  tickets,
		slots:    slots,
		sessions: sessions,
		pages:    pages,
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		sleep:    sleepWithContext,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// DeriveHost extracts scheme://host[:port] from the invoking URL: everything
// up to the first slash past the scheme separator.
func DeriveHost(invokingURL string) (string, error) {
	sep := strings.Index(invokingURL, "://")
	if sep == -1 {
		return "", dErrors.New(dErrors.CodeBadRequest, "unable to resolve host from invoking url")
	}
	end := strings.Index(invokingURL[sep+3:], "/")
	if end == -1 {
		return invokingURL, nil
	}
	return invokingURL[:sep+3+end], nil
}

// Begin starts a login handshake for an unauthenticated session: issues a
// ticket, stores it on the session, reserves the slot, and returns the
// provider login page with the ticket and app id substituted in. The ticket
// travels to the browser-driven leg inside the page content.
func (c *Coordinator) Begin(ctx context.Context, ssn *session.Session, invokingURL string) (string, error) {
	token, slotID, err := c.tickets.Issue(ssn.AppID)
	if err != nil {
		return "", err
	}
	ssn.SIAToken = token

	err = c.slots.Reserve(ctx, slotID, slot.Slot{
		AppID:     ssn.AppID,
		SIAToken:  token,
		SessionID: ssn.ID,
	})
	if err != nil {
		return "", err
	}

	host, err := DeriveHost(invokingURL)
	if err != nil {
		return "", err
	}

	page, err := c.pages.Page(ctx, ssn.Provider)
	if err != nil {
		return "", dErrors.Newf(dErrors.CodeInternal, "load provider page: %v", err)
	}

	c.metrics.LoginsBegun.Inc()
	c.logger.InfoContext(ctx, "login handshake begun",
		"session_id", ssn.ID,
		"app_id", ssn.AppID,
		"slot_id", slotID,
		"host", host,
	)
	return provider.Substitute(page, token, ssn.AppID), nil
}

// WaitFinish polls the session's slot until the out-of-band completion fills
// it, then finalizes and persists the authenticated session. Ticket
// verification failures while polling count as not-yet-resolved and are
// charged against the backoff budget; store faults abort immediately.
func (c *Coordinator) WaitFinish(ctx context.Context, ssn *session.Session, userToken string) (session.Session, error) {
	start := c.now()
	wait := initialWait
	for {
		filled, err := c.checkSlot(ctx, ssn)
		if err != nil {
			return session.Session{}, err
		}
		if filled {
			ssn.AuthenticatedAt = c.now().UnixMilli()
			ssn.UserToken = userToken
			if err := c.sessions.Save(ctx, *ssn); err != nil {
				return session.Session{}, err
			}
			c.metrics.LoginsCompleted.Inc()
			c.metrics.WaitSeconds.Observe(c.now().Sub(start).Seconds())
			c.logger.InfoContext(ctx, "login handshake completed", "session_id", ssn.ID)
			return *ssn, nil
		}

		if err := c.sleep(ctx, wait); err != nil {
			return session.Session{}, dErrors.Newf(dErrors.CodeTimeout, "login wait canceled: %v", err)
		}
		wait /= 2
		if wait < waitFloor {
			c.metrics.LoginsTimedOut.Inc()
			c.logger.WarnContext(ctx, "login handshake timed out",
				"session_id", ssn.ID,
				"waited_ms", c.now().Sub(start).Milliseconds(),
			)
			return session.Session{}, dErrors.New(dErrors.CodeTimeout, "login did not complete before timeout")
		}
	}
}

// checkSlot reports whether the session's slot has been filled. Anything
// recoverable (unverifiable ticket, slot not yet visible) reads as "not yet";
// only store faults are errors.
func (c *Coordinator) checkSlot(ctx context.Context, ssn *session.Session) (bool, error) {
	if ssn.AppID == "" || ssn.SIAToken == "" {
		return false, nil
	}
	slotID, err := c.tickets.Verify(ssn.AppID, ssn.SIAToken)
	if err != nil {
		c.logger.DebugContext(ctx, "ticket not yet verifiable", "session_id", ssn.ID, "error", err.Error())
		return false, nil
	}
	sl, err := c.slots.Fetch(ctx, slotID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, dErrors.Newf(dErrors.CodeInternal, "slot fetch failed: %v", err)
	}
	return sl.Filled(), nil
}
