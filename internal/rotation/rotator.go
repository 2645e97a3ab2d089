// Package rotation tracks in-memory session spaces behind rotating encrypted
// identifiers. The client hands its identifier back on every request and
// receives a fresh one, so a captured identifier is useless for forward
// progress once its owner has moved on.
package rotation

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tremho/inverse-y/internal/platform/metrics"
)

// Header keys used by the transport layer. Header keys must be lowercase.
const (
	HeaderSessionID     = "x-tbd-session-id"
	HeaderNextSessionID = "x-tbd-next-session-id"
)

// DefaultMaxSessions caps the live session population.
const DefaultMaxSessions = 1000

// evictionRatio is the hysteresis target: eviction runs until the population
// is back under this share of capacity, so the boundary does not thrash.
const evictionRatio = 0.9

// User activity thresholds for ClassifyUser.
const (
	WelcomeBackLapse = 3 * time.Minute
	LoginExpired     = 15 * time.Minute
)

// UserState encodes the status of the user behind a session space.
type UserState int

const (
	NoUser UserState = iota
	ActiveUser
	IdleUser
	LapsedUser
)

func (s UserState) String() string {
	switch s {
	case NoUser:
		return "NO_USER"
	case ActiveUser:
		return "ACTIVE_USER"
	case IdleUser:
		return "IDLE_USER"
	case LapsedUser:
		return "LAPSED_USER"
	}
	return "UNKNOWN"
}

// ErrStaleSessionID rejects an identifier that no longer resolves to a live
// space, including ids superseded by a later rotation.
var ErrStaleSessionID = errors.New("stale session id")

// Space is the per-client in-memory record. The counter advances by exactly
// one per rotation; SessionID is its current encrypted form. The line is a
// random component bound into every identifier the space produces, so two
// spaces never encrypt to the same ciphertext even at equal counters.
type Space struct {
	SessionID      string          `json:"sessionId"`
	CreatedAt      int64           `json:"createdAt"`
	LastAccessedAt int64           `json:"lastAccessedAt"`
	IntervalTime   int64           `json:"intervalTime"`
	FirstAPI       string          `json:"firstApi"`
	LastAPI        string          `json:"lastApi"`
	AppID          string          `json:"appId,omitempty"`
	UserID         string          `json:"userId,omitempty"`
	SessionKey     string          `json:"sessionKey,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`

	line    string
	counter uint64
}

// Rotator owns the session space map. All mutation happens under one mutex:
// two requests rotating the same id concurrently must not both claim distinct
// next ids from the same prior value.
type Rotator struct {
	mu      sync.Mutex
	spaces  *lru.Cache[string, *Space]
	lines   map[string]uint64
	block   cipher.Block
	iv      []byte
	max     int
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Rotator.
type Option func(*Rotator)

// WithClock injects the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Rotator) { r.now = now }
}

// WithMaxSessions overrides the population cap.
func WithMaxSessions(max int) Option {
	return func(r *Rotator) { r.max = max }
}

// NewRotator builds a rotator with a process-random AES-256 key and IV.
// Identifiers do not survive a restart; clients simply start a new session.
func NewRotator(logger *slog.Logger, m *metrics.Metrics, opts ...Option) (*Rotator, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate rotation key: %w", err)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("generate rotation iv: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("rotation cipher: %w", err)
	}

	r := &Rotator{
		lines:   make(map[string]uint64),
		block:   block,
		iv:      iv,
		max:     DefaultMaxSessions,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	// Capacity is enforced by our own hysteresis pass, so the LRU itself is
	// sized to never auto-evict underneath us.
	cache, err := lru.New[string, *Space](r.max + 1)
	if err != nil {
		return nil, err
	}
	r.spaces = cache
	return r, nil
}

// Acquire resolves the space for incomingID and rotates its identifier in one
// locked step, returning the space and the next identifier for the client.
// Two concurrent requests presenting the same identifier cannot share a
// space: the first rotation kills the id, so the second caller starts fresh.
// Until the response delivers the next identifier, the caller is therefore
// the space's only holder and may touch its fields without further locking.
func (r *Rotator) Acquire(apiName, appID, incomingID string) (*Space, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	space, err := r.enter(apiName, appID, incomingID)
	if err != nil {
		return nil, "", err
	}
	nextID, err := r.rotate(space.SessionID)
	if err != nil {
		return nil, "", err
	}
	return space, nextID, nil
}

// Enter resumes the session space for incomingID or creates a fresh one, and
// stamps access bookkeeping. Call Leave before responding to rotate the id.
func (r *Rotator) Enter(apiName, appID, incomingID string) (*Space, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.enter(apiName, appID, incomingID)
}

// Leave advances the rotation for the given identifier and returns the next
// identifier for the client. The prior identifier is removed from the live
// map; presenting it again fails.
func (r *Rotator) Leave(sessionID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rotate(sessionID)
}

// ClassifyUser reports what the client should do about the user bound to this
// space, based on the gap since its previous access.
func (r *Rotator) ClassifyUser(space *Space) UserState {
	if space.UserID == "" {
		return NoUser
	}
	lapse := time.Duration(space.IntervalTime) * time.Millisecond
	switch {
	case lapse > LoginExpired:
		return LapsedUser
	case lapse > WelcomeBackLapse:
		return IdleUser
	default:
		return ActiveUser
	}
}

// Len reports the live session population.
func (r *Rotator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spaces.Len()
}

func (r *Rotator) enter(apiName, appID, incomingID string) (*Space, error) {
	nowMs := r.now().UnixMilli()
	space, ok := r.lookup(incomingID)
	if !ok {
		if r.spaces.Len() >= r.max {
			r.clean()
		}
		var err error
		space, err = r.newSpace(apiName, appID, nowMs)
		if err != nil {
			return nil, err
		}
		r.metrics.SessionsCreated.Inc()
		r.logger.Info("session created", "session_id", space.SessionID, "api", apiName)
	}

	if space.LastAccessedAt > 0 {
		space.IntervalTime = nowMs - space.LastAccessedAt
	}
	space.LastAccessedAt = nowMs
	space.LastAPI = apiName
	return space, nil
}

func (r *Rotator) rotate(sessionID string) (string, error) {
	space, ok := r.lookup(sessionID)
	if !ok {
		return "", ErrStaleSessionID
	}

	space.counter++
	nextID, err := r.encryptCounter(space.line, space.counter)
	if err != nil {
		return "", err
	}
	r.lines[space.line] = space.counter
	r.spaces.Remove(space.SessionID)
	space.SessionID = nextID
	r.spaces.Add(nextID, space)
	return nextID, nil
}

// lookup resolves an identifier and enforces replay protection: an id that
// decrypts to a live line below that line's current counter was superseded by
// a rotation and is being replayed.
func (r *Rotator) lookup(sessionID string) (*Space, bool) {
	if sessionID == "" {
		return nil, false
	}
	if space, ok := r.spaces.Get(sessionID); ok {
		return space, true
	}
	if line, n, err := r.decryptCounter(sessionID); err == nil {
		if current, ok := r.lines[line]; ok && n < current {
			r.metrics.RotatorReplays.Inc()
			r.logger.Warn("superseded session id rejected", "counter", n)
		}
	}
	return nil, false
}

func (r *Rotator) newSpace(apiName, appID string, nowMs int64) (*Space, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate session line: %w", err)
	}
	line := hex.EncodeToString(buf)
	id, err := r.encryptCounter(line, 1)
	if err != nil {
		return nil, err
	}
	space := &Space{
		SessionID:      id,
		CreatedAt:      nowMs,
		LastAccessedAt: nowMs,
		FirstAPI:       apiName,
		LastAPI:        apiName,
		AppID:          appID,
		line:           line,
		counter:        1,
	}
	r.lines[line] = 1
	r.spaces.Add(id, space)
	return space, nil
}

// clean evicts the most idle entries until the population is back under the
// hysteresis threshold. The LRU's oldest entry is the least recently
// accessed, which is exactly the most idle session.
func (r *Rotator) clean() {
	threshold := int(float64(r.max) * evictionRatio)
	for r.spaces.Len() > threshold {
		id, space, ok := r.spaces.RemoveOldest()
		if !ok {
			return
		}
		delete(r.lines, space.line)
		r.metrics.RotatorEvictions.Inc()
		r.logger.Info("session evicted",
			"session_id", id,
			"idle_ms", r.now().UnixMilli()-space.LastAccessedAt,
		)
	}
}

func (r *Rotator) encryptCounter(line string, n uint64) (string, error) {
	plain := []byte(line + ":" + strconv.FormatUint(n, 10))
	padded := pkcs7Pad(plain, aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(r.block, r.iv).CryptBlocks(out, padded)
	return hex.EncodeToString(out), nil
}

func (r *Rotator) decryptCounter(id string) (string, uint64, error) {
	raw, err := hex.DecodeString(id)
	if err != nil || len(raw) == 0 || len(raw)%aes.BlockSize != 0 {
		return "", 0, errors.New("malformed session id")
	}
	out := make([]byte, len(raw))
	cipher.NewCBCDecrypter(r.block, r.iv).CryptBlocks(out, raw)
	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", 0, err
	}
	line, count, ok := strings.Cut(string(plain), ":")
	if !ok {
		return "", 0, errors.New("malformed session id")
	}
	n, err := strconv.ParseUint(count, 10, 64)
	if err != nil {
		return "", 0, err
	}
	return line, n, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("bad padding")
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, errors.New("bad padding")
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, errors.New("bad padding")
		}
	}
	return data[:len(data)-pad], nil
}
