// Package registry maps pairs of user identities to shared chat threads and
// maintains each user's chat-membership index. Thread summaries for the
// sidebar are derived here.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perch-im/perch/internal/bus"
	"github.com/perch-im/perch/internal/docstore"
	"github.com/perch-im/perch/internal/domain"
)

// Registry implements the chat registry over the remote document store.
type Registry struct {
	store  docstore.Store
	bus    *bus.Bus
	logger *zap.Logger
}

// New creates a registry backed by the given store.
func New(store docstore.Store, b *bus.Bus, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, bus: b, logger: logger}
}

// GetOrCreate returns the id of the thread shared by userA and userB,
// creating it lazily on first contact. The existence check scans userA's
// membership index and cross-checks each referenced thread's participants.
//
// The store enforces no uniqueness across the pair: two concurrent callers
// can each miss the other's uncommitted thread and create duplicates.
// One-thread-per-pair holds only because a profile lock keeps a single
// client acting per user.
func (r *Registry) GetOrCreate(ctx context.Context, userA, userB string) (string, error) {
	membership, err := r.loadMembership(ctx, userA)
	if err != nil {
		return "", err
	}

	for chatID := range membership.Chats {
		thread, err := r.getThread(ctx, chatID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue // dangling index entry
			}
			return "", err
		}
		if thread.HasParticipant(userB) {
			return thread.ID, nil
		}
	}

	now := time.Now().UnixMilli()
	thread := domain.ChatThread{
		ID:             uuid.New().String(),
		ParticipantIDs: []string{userA, userB},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	doc, err := docstore.Encode(domain.ChatKey(thread.ID), thread)
	if err != nil {
		return "", err
	}
	if err := r.store.Set(ctx, doc); err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}

	for _, userID := range thread.ParticipantIDs {
		if err := r.addMembership(ctx, userID, thread.ID); err != nil {
			return "", fmt.Errorf("index thread for %s: %w", userID, err)
		}
	}
	return thread.ID, nil
}

// ListForUser returns a point-in-time view of the user's threads, sorted by
// UpdatedAt descending. Dangling index entries are skipped.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]domain.ChatThread, error) {
	membership, err := r.loadMembership(ctx, userID)
	if err != nil {
		return nil, err
	}
	return r.resolveThreads(ctx, membership), nil
}

// Subscribe watches the user's membership index and re-resolves the full
// thread set on every index change. A missing index document is created
// empty on first delivery so later writes have a target.
func (r *Registry) Subscribe(ctx context.Context, userID string, onChange func([]domain.ChatThread)) (func(), error) {
	sub, err := r.store.Watch(ctx, docstore.Query{Key: domain.MembershipKey(userID)})
	if err != nil {
		return nil, fmt.Errorf("watch memberships: %w", err)
	}

	go func() {
		for {
			select {
			case docs := <-sub.Snapshots():
				if len(docs) == 0 {
					if err := r.ensureMembershipDoc(ctx, userID); err != nil {
						r.logger.Warn("create empty membership index", zap.Error(err))
					}
					onChange(nil)
					continue
				}
				var membership domain.Membership
				if err := docs[0].Decode(&membership); err != nil {
					r.logger.Warn("skipping undecodable membership index",
						zap.String("user", userID), zap.Error(err))
					continue
				}
				onChange(r.resolveThreads(ctx, &membership))
			case err := <-sub.Err():
				r.logger.Error("chat stream failed", zap.String("user", userID), zap.Error(err))
				if r.bus != nil {
					r.bus.Publish(bus.Event{
						Kind:      bus.KindStreamFailed,
						Timestamp: time.Now(),
						Payload:   "chats:" + userID,
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

// TouchLastSeen stamps the user's per-chat last-seen marker.
func (r *Registry) TouchLastSeen(ctx context.Context, userID, chatID string) error {
	return r.updateEntry(ctx, userID, chatID, func(e *domain.MembershipEntry) {
		e.LastSeenAt = time.Now().UnixMilli()
	})
}

// SetArchived flips the archived flag on a membership entry.
func (r *Registry) SetArchived(ctx context.Context, userID, chatID string, archived bool) error {
	return r.updateEntry(ctx, userID, chatID, func(e *domain.MembershipEntry) {
		e.IsArchived = archived
	})
}

// SetMuted flips the muted flag on a membership entry.
func (r *Registry) SetMuted(ctx context.Context, userID, chatID string, muted bool) error {
	return r.updateEntry(ctx, userID, chatID, func(e *domain.MembershipEntry) {
		e.IsMuted = muted
	})
}

// resolveThreads re-fetches every referenced thread in parallel, drops
// references that no longer resolve, and sorts by UpdatedAt descending.
// Tie order is whatever the store returned, not a contract.
func (r *Registry) resolveThreads(ctx context.Context, membership *domain.Membership) []domain.ChatThread {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		threads []domain.ChatThread
	)
	for chatID := range membership.Chats {
		wg.Add(1)
		go func(chatID string) {
			defer wg.Done()
			thread, err := r.getThread(ctx, chatID)
			if err != nil {
				if !errors.Is(err, domain.ErrNotFound) {
					r.logger.Warn("resolve thread", zap.String("chat", chatID), zap.Error(err))
				}
				return
			}
			mu.Lock()
			threads = append(threads, *thread)
			mu.Unlock()
		}(chatID)
	}
	wg.Wait()

	sort.Slice(threads, func(i, j int) bool {
		return threads[i].UpdatedAt > threads[j].UpdatedAt
	})
	return threads
}

func (r *Registry) getThread(ctx context.Context, chatID string) (*domain.ChatThread, error) {
	doc, err := r.store.Get(ctx, domain.ChatKey(chatID))
	if err != nil {
		return nil, err
	}
	var thread domain.ChatThread
	if err := doc.Decode(&thread); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", chatID, err)
	}
	return &thread, nil
}

// loadMembership returns the user's index, or an empty one when the
// document does not exist yet.
func (r *Registry) loadMembership(ctx context.Context, userID string) (*domain.Membership, error) {
	doc, err := r.store.Get(ctx, domain.MembershipKey(userID))
	if errors.Is(err, domain.ErrNotFound) {
		return &domain.Membership{UserID: userID, Chats: map[string]domain.MembershipEntry{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load membership index: %w", err)
	}
	var membership domain.Membership
	if err := doc.Decode(&membership); err != nil {
		return nil, fmt.Errorf("decode membership index: %w", err)
	}
	if membership.Chats == nil {
		membership.Chats = map[string]domain.MembershipEntry{}
	}
	return &membership, nil
}

func (r *Registry) ensureMembershipDoc(ctx context.Context, userID string) error {
	if _, err := r.store.Get(ctx, domain.MembershipKey(userID)); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return r.saveMembership(ctx, &domain.Membership{
		UserID: userID,
		Chats:  map[string]domain.MembershipEntry{},
	})
}

func (r *Registry) addMembership(ctx context.Context, userID, chatID string) error {
	membership, err := r.loadMembership(ctx, userID)
	if err != nil {
		return err
	}
	membership.Chats[chatID] = domain.MembershipEntry{LastSeenAt: time.Now().UnixMilli()}
	return r.saveMembership(ctx, membership)
}

func (r *Registry) updateEntry(ctx context.Context, userID, chatID string, mutate func(*domain.MembershipEntry)) error {
	membership, err := r.loadMembership(ctx, userID)
	if err != nil {
		return err
	}
	entry, ok := membership.Chats[chatID]
	if !ok {
		return fmt.Errorf("chat %s not in %s's index: %w", chatID, userID, domain.ErrNotFound)
	}
	mutate(&entry)
	membership.Chats[chatID] = entry
	return r.saveMembership(ctx, membership)
}

func (r *Registry) saveMembership(ctx context.Context, membership *domain.Membership) error {
	doc, err := docstore.Encode(domain.MembershipKey(membership.UserID), membership)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, doc)
}
