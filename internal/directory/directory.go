// Package directory maintains the bidirectional "is-contact-of" relation
// between user identities. Edges are denormalized snapshots of the target
// profile, keyed by owner so one prefix watch covers a user's whole list.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/perch-im/perch/internal/bus"
	"github.com/perch-im/perch/internal/docstore"
	"github.com/perch-im/perch/internal/domain"
)

// Directory implements the contact directory over the remote document store.
type Directory struct {
	store  docstore.Store
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a directory backed by the given store.
func New(store docstore.Store, b *bus.Bus, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Directory{store: store, bus: b, logger: logger}
}

// AddByEmail resolves a user by exact email and adds them as a contact.
// Fails with domain.ErrNotFound when no such user exists, ErrSelfReference
// when the email resolves to the owner, and ErrAlreadyExists when the
// forward edge is already present.
func (d *Directory) AddByEmail(ctx context.Context, ownerID, email string) (domain.ContactEdge, error) {
	docs, err := d.store.Query(ctx, docstore.Query{
		Prefix: domain.UserPrefix,
		Field:  "email",
		Equals: email,
	})
	if err != nil {
		return domain.ContactEdge{}, fmt.Errorf("find user by email: %w", err)
	}
	if len(docs) == 0 {
		return domain.ContactEdge{}, fmt.Errorf("no user with email %q: %w", email, domain.ErrNotFound)
	}

	var target domain.Identity
	if err := docs[0].Decode(&target); err != nil {
		return domain.ContactEdge{}, fmt.Errorf("decode user: %w", err)
	}
	if target.ID == ownerID {
		return domain.ContactEdge{}, domain.ErrSelfReference
	}
	return d.addEdge(ctx, ownerID, target)
}

// AddByUID adds the user with the given id as a contact.
func (d *Directory) AddByUID(ctx context.Context, ownerID, targetID string) (domain.ContactEdge, error) {
	if targetID == ownerID {
		return domain.ContactEdge{}, domain.ErrSelfReference
	}
	target, err := d.getUser(ctx, targetID)
	if err != nil {
		return domain.ContactEdge{}, err
	}
	return d.addEdge(ctx, ownerID, target)
}

// addEdge writes the forward edge owner -> target and then the reverse edge
// target -> owner. The two writes are independent: a failure after the first
// leaves a one-directional relation behind.
func (d *Directory) addEdge(ctx context.Context, ownerID string, target domain.Identity) (domain.ContactEdge, error) {
	forwardKey := domain.ContactKey(ownerID, target.ID)
	if _, err := d.store.Get(ctx, forwardKey); err == nil {
		return domain.ContactEdge{}, fmt.Errorf("contact %s: %w", target.ID, domain.ErrAlreadyExists)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.ContactEdge{}, fmt.Errorf("check existing contact: %w", err)
	}

	now := time.Now().UnixMilli()
	forward := edgeFrom(ownerID, target, now)
	doc, err := docstore.Encode(forwardKey, forward)
	if err != nil {
		return domain.ContactEdge{}, err
	}
	if err := d.store.Set(ctx, doc); err != nil {
		return domain.ContactEdge{}, fmt.Errorf("write contact edge: %w", err)
	}

	owner, err := d.getUser(ctx, ownerID)
	if err != nil {
		return domain.ContactEdge{}, fmt.Errorf("resolve owner for reverse edge: %w", err)
	}
	reverse := edgeFrom(target.ID, owner, now)
	reverseDoc, err := docstore.Encode(domain.ContactKey(target.ID, ownerID), reverse)
	if err != nil {
		return domain.ContactEdge{}, err
	}
	if err := d.store.Set(ctx, reverseDoc); err != nil {
		return domain.ContactEdge{}, fmt.Errorf("write reverse contact edge: %w", err)
	}

	return forward, nil
}

// Remove deletes both directions of the relation.
func (d *Directory) Remove(ctx context.Context, ownerID, targetID string) error {
	if err := d.store.Delete(ctx, domain.ContactKey(ownerID, targetID)); err != nil {
		return fmt.Errorf("remove contact edge: %w", err)
	}
	if err := d.store.Delete(ctx, domain.ContactKey(targetID, ownerID)); err != nil {
		return fmt.Errorf("remove reverse contact edge: %w", err)
	}
	return nil
}

// IsContact reports whether the forward edge owner -> target exists.
func (d *Directory) IsContact(ctx context.Context, ownerID, targetID string) (bool, error) {
	_, err := d.store.Get(ctx, domain.ContactKey(ownerID, targetID))
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Subscribe opens a live subscription on the owner's contact list. Every
// delivery carries the entire current edge set, ordered by composite key.
// A terminal stream error is logged and announced on the bus; the caller is
// expected to resubscribe if it wants the stream back.
func (d *Directory) Subscribe(ctx context.Context, ownerID string, onChange func([]domain.ContactEdge)) (func(), error) {
	sub, err := d.store.Watch(ctx, docstore.Query{Prefix: domain.ContactPrefix(ownerID)})
	if err != nil {
		return nil, fmt.Errorf("watch contacts: %w", err)
	}

	go func() {
		for {
			select {
			case docs := <-sub.Snapshots():
				edges := make([]domain.ContactEdge, 0, len(docs))
				for _, doc := range docs {
					var edge domain.ContactEdge
					if err := doc.Decode(&edge); err != nil {
						d.logger.Warn("skipping undecodable contact edge",
							zap.String("key", doc.Key), zap.Error(err))
						continue
					}
					edges = append(edges, edge)
				}
				onChange(edges)
			case err := <-sub.Err():
				d.logger.Error("contact stream failed", zap.String("owner", ownerID), zap.Error(err))
				if d.bus != nil {
					d.bus.Publish(bus.Event{
						Kind:      bus.KindStreamFailed,
						Timestamp: time.Now(),
						Payload:   "contacts:" + ownerID,
					})
				}
				return
			case <-sub.Done():
				return
			}
		}
	}()

	return sub.Cancel, nil
}

// Search matches users by email prefix (lower-cased) or display-name prefix
// (case-sensitive), excludes excludeID, and de-duplicates across the two
// passes. The name pass is skipped when the term looks like an email.
func (d *Directory) Search(ctx context.Context, term, excludeID string) ([]domain.Identity, error) {
	docs, err := d.store.Query(ctx, docstore.Query{
		Prefix:      domain.UserPrefix,
		Field:       "email",
		ValuePrefix: strings.ToLower(term),
	})
	if err != nil {
		return nil, fmt.Errorf("search by email: %w", err)
	}

	var users []domain.Identity
	seen := make(map[string]bool)
	appendUser := func(doc docstore.Doc) {
		var user domain.Identity
		if err := doc.Decode(&user); err != nil {
			return
		}
		if user.ID == excludeID || seen[user.ID] {
			return
		}
		seen[user.ID] = true
		users = append(users, user)
	}
	for _, doc := range docs {
		appendUser(doc)
	}

	if !strings.Contains(term, "@") {
		nameDocs, err := d.store.Query(ctx, docstore.Query{
			Prefix:      domain.UserPrefix,
			Field:       "displayName",
			ValuePrefix: term,
		})
		if err != nil {
			return nil, fmt.Errorf("search by name: %w", err)
		}
		for _, doc := range nameDocs {
			appendUser(doc)
		}
	}

	return users, nil
}

// UpdatePresence refreshes the denormalized presence fields on every edge
// pointing at userID. Each edge is rewritten independently.
func (d *Directory) UpdatePresence(ctx context.Context, userID string, online bool) error {
	docs, err := d.store.Query(ctx, docstore.Query{
		Prefix: "contacts/",
		Field:  "contactId",
		Equals: userID,
	})
	if err != nil {
		return fmt.Errorf("find edges for %s: %w", userID, err)
	}

	now := time.Now().UnixMilli()
	for _, doc := range docs {
		var edge domain.ContactEdge
		if err := doc.Decode(&edge); err != nil {
			continue
		}
		edge.IsOnline = online
		edge.LastSeenAt = now
		updated, err := docstore.Encode(doc.Key, edge)
		if err != nil {
			return err
		}
		if err := d.store.Set(ctx, updated); err != nil {
			return fmt.Errorf("refresh edge %s: %w", doc.Key, err)
		}
	}
	return nil
}

func (d *Directory) getUser(ctx context.Context, userID string) (domain.Identity, error) {
	doc, err := d.store.Get(ctx, domain.UserKey(userID))
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Identity{}, fmt.Errorf("user %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Identity{}, fmt.Errorf("load user %s: %w", userID, err)
	}
	var user domain.Identity
	if err := doc.Decode(&user); err != nil {
		return domain.Identity{}, fmt.Errorf("decode user %s: %w", userID, err)
	}
	return user, nil
}

func edgeFrom(ownerID string, target domain.Identity, addedAt int64) domain.ContactEdge {
	return domain.ContactEdge{
		OwnerID:     ownerID,
		ContactID:   target.ID,
		Email:       target.Email,
		DisplayName: target.DisplayName,
		PhotoURL:    target.PhotoURL,
		IsOnline:    target.IsOnline,
		LastSeenAt:  target.LastSeenAt,
		AddedAt:     addedAt,
	}
}
