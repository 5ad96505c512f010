package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/perch-im/perch/internal/docstore/memstore"
	"github.com/perch-im/perch/internal/domain"
)

var testAccount = Account{
	Email:       "ada@example.com",
	DisplayName: "Ada",
	PhotoURL:    "https://example.com/ada.png",
}

func TestSignInRoundTripsToken(t *testing.T) {
	p := NewDevProvider([]byte("secret"), testAccount)

	id, err := p.SignIn(context.Background())
	require.NoError(t, err)

	assert.Equal(t, UserID("ada@example.com"), id.ID)
	assert.Equal(t, "ada@example.com", id.Email)
	assert.Equal(t, "Ada", id.DisplayName)
	assert.True(t, id.IsOnline)
	require.NotNil(t, p.Current())
	assert.Equal(t, id.ID, p.Current().ID)
}

func TestUserIDIsStable(t *testing.T) {
	assert.Equal(t, UserID("a@b.c"), UserID("a@b.c"))
	assert.NotEqual(t, UserID("a@b.c"), UserID("x@y.z"))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	minter := NewDevProvider([]byte("right"), testAccount)
	token, err := minter.MintToken(testAccount)
	require.NoError(t, err)

	verifier := NewDevProvider([]byte("wrong"), testAccount)
	_, err = verifier.VerifyToken(token)
	assert.Error(t, err)
}

func TestOnChangeNotifiesSignInAndOut(t *testing.T) {
	p := NewDevProvider([]byte("secret"), testAccount)

	var got []*domain.Identity
	unsub := p.OnChange(func(id *domain.Identity) {
		got = append(got, id)
	})
	defer unsub()

	_, err := p.SignIn(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.SignOut(context.Background()))

	require.Len(t, got, 2)
	assert.NotNil(t, got[0])
	assert.Nil(t, got[1])
	assert.Nil(t, p.Current())
}

func TestOnChangeUnsubscribe(t *testing.T) {
	p := NewDevProvider([]byte("secret"), testAccount)

	calls := 0
	unsub := p.OnChange(func(*domain.Identity) { calls++ })
	unsub()
	unsub() // idempotent

	_, err := p.SignIn(context.Background())
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestEnsureUserPreservesCreatedAt(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	id := domain.Identity{ID: "u1", Email: "ada@example.com", DisplayName: "Ada"}
	first, err := EnsureUser(ctx, store, id)
	require.NoError(t, err)
	require.NotZero(t, first.CreatedAt)

	second, err := EnsureUser(ctx, store, id)
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.IsOnline)
}

func TestSetPresence(t *testing.T) {
	store := memstore.New()
	ctx := context.Background()

	_, err := EnsureUser(ctx, store, domain.Identity{ID: "u1", Email: "a@b.c"})
	require.NoError(t, err)

	require.NoError(t, SetPresence(ctx, store, "u1", false))

	doc, err := store.Get(ctx, domain.UserKey("u1"))
	require.NoError(t, err)
	var user domain.Identity
	require.NoError(t, doc.Decode(&user))
	assert.False(t, user.IsOnline)
	assert.NotZero(t, user.LastSeenAt)

	assert.Error(t, SetPresence(ctx, store, "missing", true))
}
