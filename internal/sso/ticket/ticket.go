// Package ticket implements the SIA ticket authority: short-lived signed
// assertions that authorize a caller to claim a pending handshake slot.
package ticket

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "github.com/tremho/inverse-y/pkg/domain-errors"
)

const (
	// Issuer is the fixed trust anchor for all SIA tickets.
	Issuer = "https://tremho.com"

	// WildcardAppID skips the audience check on verification.
	WildcardAppID = "*"

	ticketLifetime = time.Hour
)

// Claims carries the registered claims plus the slot binding. The sia marker
// distinguishes these tickets from any other token signed with the same key.
type Claims struct {
	SlotID   string `json:"slotId"`
	Sia      bool   `json:"com.tremho.jwt.sia"`
	AuthTime int64  `json:"auth_time,omitempty"`
	jwt.RegisteredClaims
}

// Authority issues and verifies SIA tickets. Construct one per process; the
// signing key is derived from the instance id and is read-only afterwards,
// so an Authority is safe for concurrent use.
type Authority struct {
	instanceID string
	key        []byte
	now        func() time.Time
}

// Option configures an Authority.
type Option func(*Authority)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authority) { a.now = now }
}

// NewAuthority derives the process-wide signing key from the instance id
// (typically "sso-manager-" plus the deployed version). Tickets signed by a
// different version reject and force a login retry, which is acceptable.
func NewAuthority(instanceID string, opts ...Option) *Authority {
	a := &Authority{
		instanceID: instanceID,
		key:        []byte(instanceID),
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// NewSlotID builds a slot identifier: hex seconds for rough chronological
// sortability plus a random suffix for uniqueness.
func (a *Authority) NewSlotID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return strconv.FormatInt(a.now().Unix(), 16) + "-" + suffix
}

// Issue creates a signed ticket for appID carrying a fresh slot id. The
// returned slot id is embedded in the ticket and recoverable only via Verify.
func (a *Authority) Issue(appID string) (token string, slotID string, err error) {
	slotID = a.NewSlotID()
	now := a.now()

	claims := Claims{
		SlotID: slotID,
		Sia:    true,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Audience:  []string{appID},
			Subject:   appID + ":sso:" + slotID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ticketLifetime)),
			ID:        a.newJTI(slotID),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	if err != nil {
		return "", "", dErrors.Newf(dErrors.CodeInternal, "ticket signing failed: %v", err)
	}
	return signed, slotID, nil
}

// Verify checks the ticket signature and claims and returns the embedded slot
// id. An empty slot id plus a CodeUnauthorized error reports any violation;
// verification is never fatal to the caller.
func (a *Authority) Verify(appID, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		return a.key, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", dErrors.New(dErrors.CodeUnauthorized, "ticket has expired")
		}
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid ticket")
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", dErrors.New(dErrors.CodeUnauthorized, "invalid ticket claims")
	}

	var violation string
	now := a.now()
	if claims.Issuer != Issuer {
		violation = "invalid iss"
	}
	if appID != WildcardAppID && !audienceMatches(claims.Audience, appID) {
		violation = "invalid aud"
	}
	iat := int64(0)
	if claims.IssuedAt != nil {
		iat = claims.IssuedAt.Unix()
	}
	if claims.AuthTime > 0 {
		if claims.AuthTime >= now.Unix() {
			violation = "created in future/clock error"
		} else if iat < claims.AuthTime {
			violation = "bad iat/auth_time"
		}
	}
	if claims.ExpiresAt != nil && claims.ExpiresAt.Before(now) {
		violation = "expired ticket"
	}
	if violation != "" {
		return "", dErrors.Newf(dErrors.CodeUnauthorized, "ticket validation: %s", violation)
	}
	if claims.SlotID == "" {
		return "", dErrors.New(dErrors.CodeUnauthorized, "ticket carries no slot id")
	}
	return claims.SlotID, nil
}

func (a *Authority) newJTI(slotID string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s\n%s\n%d", a.instanceID, slotID, a.now().UnixMilli())))
	return hex.EncodeToString(sum[:])
}

func audienceMatches(aud jwt.ClaimStrings, appID string) bool {
	for _, a := range aud {
		if a == appID {
			return true
		}
	}
	return false
}
