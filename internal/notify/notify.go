// Package notify manages per-user notification feeds in the remote store.
package notify

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/perch-im/perch/internal/bus"
	"github.com/perch-im/perch/internal/docstore"
	"github.com/perch-im/perch/internal/domain"
)

// Feed publishes and tracks notifications.
type Feed struct {
	store  docstore.Store
	bus    *bus.Bus
	logger *zap.Logger
}

func New(store docstore.Store, b *bus.Bus, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{store: store, bus: b, logger: logger}
}

// Send writes a notification into the recipient's feed.
func (f *Feed) Send(ctx context.Context, note domain.Notification) (domain.Notification, error) {
	if note.RecipientID == "" {
		return domain.Notification{}, fmt.Errorf("%w: notification needs a recipient", domain.ErrValidation)
	}
	note.ID = uuid.New().String()
	note.CreatedAt = time.Now().UnixMilli()
	note.IsRead = false

	doc, err := docstore.Encode(domain.NotificationKey(note.ID), note)
	if err != nil {
		return domain.Notification{}, err
	}
	if err := f.store.Set(ctx, doc); err != nil {
		return domain.Notification{}, fmt.Errorf("write notification: %w", err)
	}
	if f.bus != nil {
		f.bus.Publish(bus.Event{Kind: bus.KindNotificationSent, Timestamp: time.Now(), Payload: note.ID})
	}
	return note, nil
}

// ContactAdded builds and sends the "X added you" notification.
func (f *Feed) ContactAdded(ctx context.Context, recipientID string, sender domain.Identity) (domain.Notification, error) {
	return f.Send(ctx, domain.Notification{
		RecipientID:    recipientID,
		SenderID:       sender.ID,
		SenderName:     sender.DisplayName,
		SenderPhotoURL: sender.PhotoURL,
		Type:           domain.NotificationContactAdded,
		Title:          "New contact",
		Body:           sender.DisplayName + " added you as a contact",
	})
}

// List returns the user's notifications, newest first.
func (f *Feed) List(ctx context.Context, userID string) ([]domain.Notification, error) {
	docs, err := f.store.Query(ctx, docstore.Query{
		Prefix: domain.NotificationPrefix,
		Field:  "recipientId",
		Equals: userID,
	})
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return f.decode(docs), nil
}

// Subscribe watches the user's feed; every delivery is the full current
// list, newest first.
func (f *Feed) Subscribe(ctx context.Context, userID string, onChange func([]domain.Notification)) (func(), error) {
	sub, err := f.store.Watch(ctx, docstore.Query{
		Prefix: domain.NotificationPrefix,
		Field:  "recipientId",
		Equals: userID,
	})
	if err != nil {
		return nil, fmt.Errorf("watch notifications: %w", err)
	}

	go func() {
		for {
			select {
			case docs := <-sub.Snapshots():
				onChange(f.decode(docs))
			case err := <-sub.Err():
				f.logger.Error("notification stream failed", zap.String("user", userID), zap.Error(err))
				if f.bus != nil {
					f.bus.Publish(bus.Event{
						Kind:      bus.KindStreamFailed,
						Timestamp: time.Now(),
						Payload:   "notifications:" + userID,
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

// MarkRead flags one notification as read.
func (f *Feed) MarkRead(ctx context.Context, noteID string) error {
	doc, err := f.store.Get(ctx, domain.NotificationKey(noteID))
	if err != nil {
		return fmt.Errorf("load notification %s: %w", noteID, err)
	}
	var note domain.Notification
	if err := doc.Decode(&note); err != nil {
		return fmt.Errorf("decode notification %s: %w", noteID, err)
	}
	if note.IsRead {
		return nil
	}
	note.IsRead = true
	updated, err := docstore.Encode(doc.Key, note)
	if err != nil {
		return err
	}
	return f.store.Set(ctx, updated)
}

// MarkAllRead flags every unread notification in the user's feed.
func (f *Feed) MarkAllRead(ctx context.Context, userID string) error {
	notes, err := f.List(ctx, userID)
	if err != nil {
		return err
	}
	for _, note := range notes {
		if note.IsRead {
			continue
		}
		if err := f.MarkRead(ctx, note.ID); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a notification from the feed.
func (f *Feed) Delete(ctx context.Context, noteID string) error {
	return f.store.Delete(ctx, domain.NotificationKey(noteID))
}

// UnreadCount reports how many notifications the user has not read.
func (f *Feed) UnreadCount(ctx context.Context, userID string) (int, error) {
	notes, err := f.List(ctx, userID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, note := range notes {
		if !note.IsRead {
			count++
		}
	}
	return count, nil
}

func (f *Feed) decode(docs []docstore.Doc) []domain.Notification {
	notes := make([]domain.Notification, 0, len(docs))
	for _, doc := range docs {
		var note domain.Notification
		if err := doc.Decode(&note); err != nil {
			f.logger.Warn("skipping undecodable notification", zap.String("key", doc.Key), zap.Error(err))
			continue
		}
		notes = append(notes, note)
	}
	sort.Slice(notes, func(i, j int) bool {
		if notes[i].CreatedAt != notes[j].CreatedAt {
			return notes[i].CreatedAt > notes[j].CreatedAt
		}
		return notes[i].ID < notes[j].ID
	})
	return notes
}
