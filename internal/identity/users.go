package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/perch-im/perch/internal/docstore"
	"github.com/perch-im/perch/internal/domain"
)

// EnsureUser creates or refreshes the signed-in user's profile document.
// CreatedAt is assigned on first sign-in and preserved afterwards; presence
// always flips to online. Returns the stored identity.
func EnsureUser(ctx context.Context, store docstore.Store, id domain.Identity) (domain.Identity, error) {
	now := time.Now().UnixMilli()
	id.IsOnline = true
	id.LastSeenAt = now
	id.CreatedAt = now

	existing, err := store.Get(ctx, domain.UserKey(id.ID))
	switch {
	case err == nil:
		var prev domain.Identity
		if decErr := existing.Decode(&prev); decErr == nil && prev.CreatedAt != 0 {
			id.CreatedAt = prev.CreatedAt
		}
	case errors.Is(err, domain.ErrNotFound):
		// First sign-in; keep the fresh CreatedAt.
	default:
		return domain.Identity{}, fmt.Errorf("load user %s: %w", id.ID, err)
	}

	doc, err := docstore.Encode(domain.UserKey(id.ID), id)
	if err != nil {
		return domain.Identity{}, err
	}
	if err := store.Set(ctx, doc); err != nil {
		return domain.Identity{}, fmt.Errorf("store user %s: %w", id.ID, err)
	}
	return id, nil
}

// SetPresence flips a user's online flag and refreshes lastSeenAt.
func SetPresence(ctx context.Context, store docstore.Store, userID string, online bool) error {
	doc, err := store.Get(ctx, domain.UserKey(userID))
	if err != nil {
		return fmt.Errorf("load user %s: %w", userID, err)
	}
	var user domain.Identity
	if err := doc.Decode(&user); err != nil {
		return fmt.Errorf("decode user %s: %w", userID, err)
	}
	user.IsOnline = online
	user.LastSeenAt = time.Now().UnixMilli()

	updated, err := docstore.Encode(doc.Key, user)
	if err != nil {
		return err
	}
	return store.Set(ctx, updated)
}
