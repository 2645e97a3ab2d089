package user

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tremho/inverse-y/internal/storage"
)

func appleLogin(email string) SSOInfo {
	return SSOInfo{
		UserToken: "apple-token-1",
		FirstName: "Pat",
		LastName:  "Example",
		Email:     email,
		Provider:  "apple",
	}
}

func Test_Onboard_CreatesNewUser(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(storage.NewMemory(), slog.Default())

	userID, err := r.Onboard(ctx, "com.example.app", appleLogin("pat@example.com"))
	require.NoError(t, err)
	require.NotEmpty(t, userID)

	u, err := r.Fetch(ctx, "com.example.app", userID)
	require.NoError(t, err)
	assert.Equal(t, userID, u.UserID)
	assert.Equal(t, "com.example.app", u.AppID)
	assert.Equal(t, "apple", u.Provider.Value())
	assert.Equal(t, "apple-token-1", u.ProviderToken)
	assert.Equal(t, "Pat Example", u.Name.Value())
	assert.True(t, u.Email.HasValue("pat@example.com"))
}

func Test_Onboard_ResolvesByProviderToken(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(storage.NewMemory(), slog.Default())

	first, err := r.Onboard(ctx, "com.example.app", appleLogin("pat@example.com"))
	require.NoError(t, err)

	again, err := r.Onboard(ctx, "com.example.app", appleLogin("pat@example.com"))
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func Test_Onboard_AssociatesByEmailAcrossProviders(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(storage.NewMemory(), slog.Default())

	first, err := r.Onboard(ctx, "com.example.app", appleLogin("pat@example.com"))
	require.NoError(t, err)

	google := SSOInfo{
		UserToken: "google-token-9",
		FirstName: "Patricia",
		LastName:  "Example",
		Email:     "Pat@Example.com",
		Provider:  "google",
	}
	second, err := r.Onboard(ctx, "com.example.app", google)
	require.NoError(t, err)
	assert.Equal(t, first, second, "email match must associate, not duplicate")

	u, err := r.Fetch(ctx, "com.example.app", first)
	require.NoError(t, err)
	assert.Equal(t, "google", u.Provider.Value())
	assert.Equal(t, "google-token-9", u.ProviderToken)
	assert.True(t, u.Name.HasValue("Pat Example"))
	assert.True(t, u.Name.HasValue("Patricia Example"))
}

func Test_Onboard_DifferentEmailsAreDifferentUsers(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(storage.NewMemory(), slog.Default())

	first, err := r.Onboard(ctx, "com.example.app", appleLogin("pat@example.com"))
	require.NoError(t, err)

	other := appleLogin("sam@example.com")
	other.UserToken = "apple-token-2"
	second, err := r.Onboard(ctx, "com.example.app", other)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func Test_Onboard_UsersAreScopedPerApp(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(storage.NewMemory(), slog.Default())

	first, err := r.Onboard(ctx, "com.example.one", appleLogin("pat@example.com"))
	require.NoError(t, err)
	second, err := r.Onboard(ctx, "com.example.two", appleLogin("pat@example.com"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func Test_Onboard_IndexSurvivesRegistryRestart(t *testing.T) {
	ctx := context.Background()
	objects := storage.NewMemory()

	first, err := NewRegistry(objects, slog.Default()).Onboard(ctx, "com.example.app", appleLogin("pat@example.com"))
	require.NoError(t, err)

	again, err := NewRegistry(objects, slog.Default()).Onboard(ctx, "com.example.app", appleLogin("pat@example.com"))
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

// ensuringStore records bucket-ensure calls the way an S3 backend would
// receive them.
type ensuringStore struct {
	storage.Store
	ensured []string
}

func (s *ensuringStore) EnsureBucket(_ context.Context, bucket string) error {
	s.ensured = append(s.ensured, bucket)
	return nil
}

func Test_Onboard_EnsuresUserBucketOncePerApp(t *testing.T) {
	ctx := context.Background()
	objects := &ensuringStore{Store: storage.NewMemory()}
	r := NewRegistry(objects, slog.Default())

	_, err := r.Onboard(ctx, "com.example.app", appleLogin("pat@example.com"))
	require.NoError(t, err)
	_, err = r.Onboard(ctx, "com.example.app", appleLogin("sam@example.com"))
	require.NoError(t, err)

	assert.Equal(t, []string{"com.example.app-users"}, objects.ensured)
}

func Test_MultiValue(t *testing.T) {
	m := NewMultiValue("email")
	assert.Empty(t, m.Value())

	m.AddValue("a@example.com")
	m.AddValue("b@example.com")
	assert.Equal(t, "a@example.com", m.Value())
	assert.True(t, m.HasValue("A@Example.COM"))
	assert.False(t, m.HasValue("c@example.com"))

	require.True(t, m.SetPreferred("b@example.com"))
	assert.Equal(t, "b@example.com", m.Value())
	assert.False(t, m.SetPreferred("missing@example.com"))

	m.SetValue("c@example.com")
	assert.Equal(t, "c@example.com", m.Value())
	assert.Len(t, m.Values, 3)
}
