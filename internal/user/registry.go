// Package user normalizes identities resolved by SSO providers into per-app
// user records. Users are scoped to an app; the same person logging into two
// apps is two users.
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tremho/inverse-y/internal/storage"
)

// tokenIndexKey is the per-app object mapping provider+token to user id.
const tokenIndexKey = "tokenIndex"

// SSOInfo is the identity payload handed over by a provider login.
type SSOInfo struct {
	SIAToken  string `json:"siaToken"`
	UserToken string `json:"userToken"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Provider  string `json:"provider"`
}

// User is the normalized record kept per app.
type User struct {
	UserID        string     `json:"userId"`
	AppID         string     `json:"appId"`
	Provider      MultiValue `json:"provider"`
	ProviderToken string     `json:"providerToken"`
	Name          MultiValue `json:"name"`
	Email         MultiValue `json:"email"`
}

// Registry onboards and looks up users against the object store. The token
// index is cached per app and rewritten on every new association.
type Registry struct {
	objects storage.Store
	logger  *slog.Logger

	mu      sync.Mutex
	indexes map[string]map[string]string
}

func NewRegistry(objects storage.Store, logger *slog.Logger) *Registry {
	return &Registry{
		objects: objects,
		logger:  logger,
		indexes: make(map[string]map[string]string),
	}
}

func userBucket(appID string) string {
	return strings.ToLower(appID + "-users")
}

// bucketEnsurer is implemented by backends whose buckets must exist before
// the first write, such as S3.
type bucketEnsurer interface {
	EnsureBucket(ctx context.Context, bucket string) error
}

// Onboard resolves the SSO identity to a user id. Resolution order: the
// provider token index, then email association against existing users, then a
// brand new user.
func (r *Registry) Onboard(ctx context.Context, appID string, info SSOInfo) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	index, err := r.index(ctx, appID)
	if err != nil {
		return "", err
	}

	provToken := info.Provider + info.UserToken
	if userID, ok := index[provToken]; ok {
		r.logger.DebugContext(ctx, "user resolved by provider token", "user_id", userID)
		return userID, nil
	}

	userID, err := r.associate(ctx, appID, index, info)
	if err != nil {
		return "", err
	}
	if userID != "" {
		r.logger.InfoContext(ctx, "user associated by email", "user_id", userID)
	} else {
		userID, err = r.create(ctx, appID, index, info)
		if err != nil {
			return "", err
		}
		r.logger.InfoContext(ctx, "new user onboarded", "user_id", userID, "provider", info.Provider)
	}

	index[info.Provider+info.UserToken] = userID
	if err := storage.PutJSON(ctx, r.objects, userBucket(appID), tokenIndexKey, index); err != nil {
		return "", fmt.Errorf("save token index: %w", err)
	}
	return userID, nil
}

// Fetch loads one user record.
func (r *Registry) Fetch(ctx context.Context, appID, userID string) (User, error) {
	var u User
	if err := storage.GetJSON(ctx, r.objects, userBucket(appID), userID, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Save persists one user record.
func (r *Registry) Save(ctx context.Context, u User) error {
	return storage.PutJSON(ctx, r.objects, userBucket(u.AppID), u.UserID, u)
}

// index returns the cached token index for the app, loading it from the store
// on first use. A missing index object means a fresh app.
func (r *Registry) index(ctx context.Context, appID string) (map[string]string, error) {
	if index, ok := r.indexes[appID]; ok {
		return index, nil
	}
	if e, ok := r.objects.(bucketEnsurer); ok {
		if err := e.EnsureBucket(ctx, userBucket(appID)); err != nil {
			return nil, fmt.Errorf("ensure user bucket: %w", err)
		}
	}
	index := make(map[string]string)
	err := storage.GetJSON(ctx, r.objects, userBucket(appID), tokenIndexKey, &index)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load token index: %w", err)
	}
	r.indexes[appID] = index
	return index, nil
}

// associate walks the known users looking for an email match. A hit adopts
// the latest provider identity onto the existing record.
func (r *Registry) associate(ctx context.Context, appID string, index map[string]string, info SSOInfo) (string, error) {
	if info.Email == "" {
		return "", nil
	}
	seen := make(map[string]bool)
	for _, userID := range index {
		if seen[userID] {
			continue
		}
		seen[userID] = true
		u, err := r.Fetch(ctx, appID, userID)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		if !u.Email.HasValue(info.Email) {
			continue
		}
		if name := fullName(info); name != "" && !u.Name.HasValue(name) {
			u.Name.AddValue(name)
		}
		u.Provider.SetValue(info.Provider)
		u.ProviderToken = info.UserToken
		if err := r.Save(ctx, u); err != nil {
			return "", err
		}
		return u.UserID, nil
	}
	return "", nil
}

func (r *Registry) create(ctx context.Context, appID string, index map[string]string, info SSOInfo) (string, error) {
	u := User{
		UserID:        uuid.NewString(),
		AppID:         appID,
		Provider:      NewMultiValue("provider"),
		ProviderToken: info.UserToken,
		Name:          NewMultiValue("name"),
		Email:         NewMultiValue("email"),
	}
	u.Provider.SetValue(info.Provider)
	if info.Email != "" {
		u.Email.AddValue(info.Email)
	}
	if name := fullName(info); name != "" {
		u.Name.AddValue(name)
	}
	if err := r.Save(ctx, u); err != nil {
		return "", err
	}
	return u.UserID, nil
}

func fullName(info SSOInfo) string {
	return strings.TrimSpace(info.FirstName + " " + info.LastName)
}
