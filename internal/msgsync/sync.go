// Package msgsync maintains the append-only ordered message log for a chat.
// It reconciles optimistic local sends with confirmed writes delivered by
// full-snapshot subscriptions, and tracks per-message multi-reader read
// acknowledgment sets.
package msgsync

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

// Synchronizer implements the message log operations over the remote store.
type Synchronizer struct {
	store   docstore.Store
	bus     *bus.Bus
	logger  *zap.Logger
	pending *pendingTracker
}

// New creates a synchronizer backed by the given store.
func New(store docstore.Store, b *bus.Bus, logger *zap.Logger) *Synchronizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synchronizer{
		store:   store,
		bus:     b,
		logger:  logger,
		pending: newPendingTracker(),
	}
}

// Send appends a text message and refreshes the parent thread's summary in
// one atomic batch: both effects commit together or neither does. The
// message is tracked optimistically until a snapshot confirms it; a commit
// failure rolls the optimistic entry back and surfaces the error.
func (s *Synchronizer) Send(ctx context.Context, chatID, senderID, text string) (domain.Message, error) {
	return s.send(ctx, chatID, senderID, text, "", text)
}

// SendImage appends an image message. The thread summary carries the fixed
// image preview text instead of a body.
func (s *Synchronizer) SendImage(ctx context.Context, chatID, senderID, imageURL string) (domain.Message, error) {
	return s.send(ctx, chatID, senderID, "", imageURL, domain.ImageSummaryText)
}

func (s *Synchronizer) send(ctx context.Context, chatID, senderID, text, imageURL, summaryText string) (domain.Message, error) {
	now := time.Now().UnixMilli()
	msg := domain.Message{
		ID:       uuid.New().String(),
		ChatID:   chatID,
		SenderID: senderID,
		Text:     text,
		ImageURL: imageURL,
		SentAt:   now,
		ReadBy:   []string{senderID},
	}

	thread, err := s.getThread(ctx, chatID)
	if err != nil {
		return domain.Message{}, err
	}
	thread.LastMessage = domain.MessageSummary{Text: summaryText, SenderID: senderID, At: now}
	thread.UpdatedAt = now

	msgDoc, err := docstore.Encode(domain.MessageKey(chatID, msg.ID), msg)
	if err != nil {
		return domain.Message{}, err
	}
	threadDoc, err := docstore.Encode(domain.ChatKey(chatID), thread)
	if err != nil {
		return domain.Message{}, err
	}

	// Optimistic: the message shows up in merged deliveries immediately.
	s.pending.add(msg)
	s.publish(bus.KindSendPending, msg.ID)

	if err := s.store.Batch(ctx, []docstore.Op{
		{Put: &msgDoc},
		{Put: &threadDoc},
	}); err != nil {
		// Roll back so the caller can restore its pre-action state.
		s.pending.remove(chatID, msg.ID)
		s.publish(bus.KindSendFailed, msg.ID)
		return domain.Message{}, fmt.Errorf("commit send: %w", err)
	}

	s.publish(bus.KindSendAck, msg.ID)
	return msg, nil
}

// MarkRead adds userID to the message's read set. Adding an id already
// present is a no-op with no observable effect.
func (s *Synchronizer) MarkRead(ctx context.Context, chatID, messageID, userID string) error {
	msg, err := s.getMessage(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	if msg.IsReadBy(userID) {
		return nil
	}
	msg.ReadBy = append(msg.ReadBy, userID)
	return s.putMessage(ctx, msg)
}

// Edit rewrites the message text and stamps the edit. The caller is not
// required to be the original sender, and the thread summary is not
// refreshed even when the edited message is the most recent one: the
// summary is a best-effort preview, not authoritative.
func (s *Synchronizer) Edit(ctx context.Context, chatID, messageID, newText string) error {
	msg, err := s.getMessage(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	msg.Text = newText
	msg.Edited = true
	msg.EditedAt = time.Now().UnixMilli()
	return s.putMessage(ctx, msg)
}

// SoftDelete tombstones a message: the text becomes the fixed placeholder
// and any image reference is cleared. The row keeps its id, sender, and
// sentAt, and remains editable afterwards like any other message.
func (s *Synchronizer) SoftDelete(ctx context.Context, chatID, messageID string) error {
	msg, err := s.getMessage(ctx, chatID, messageID)
	if err != nil {
		return err
	}
	msg.Text = domain.DeletedText
	msg.ImageURL = ""
	msg.Edited = true
	msg.EditedAt = time.Now().UnixMilli()
	return s.putMessage(ctx, msg)
}

// Subscribe watches the chat's message log. Every delivery is the entire
// current list ordered ascending by sentAt, with unconfirmed optimistic
// sends merged in; consumers must tolerate repeated deliveries of unchanged
// data.
func (s *Synchronizer) Subscribe(ctx context.Context, chatID string, onChange func([]domain.Message)) (func(), error) {
	sub, err := s.store.Watch(ctx, docstore.Query{Prefix: domain.MessagePrefix(chatID)})
	if err != nil {
		return nil, fmt.Errorf("watch messages: %w", err)
	}

	go func() {
		for {
			select {
			case docs := <-sub.Snapshots():
				confirmed := make([]domain.Message, 0, len(docs))
				for _, doc := range docs {
					var msg domain.Message
					if err := doc.Decode(&msg); err != nil {
						s.logger.Warn("skipping undecodable message",
							zap.String("key", doc.Key), zap.Error(err))
						continue
					}
					confirmed = append(confirmed, msg)
				}
				onChange(s.pending.merge(chatID, confirmed))
			case err := <-sub.Err():
				s.logger.Error("message stream failed", zap.String("chat", chatID), zap.Error(err))
				if s.bus != nil {
					s.bus.Publish(bus.Event{
						Kind:      bus.KindStreamFailed,
						Timestamp: time.Now(),
						Payload:   "messages:" + chatID,
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

func (s *Synchronizer) getThread(ctx context.Context, chatID string) (domain.ChatThread, error) {
	doc, err := s.store.Get(ctx, domain.ChatKey(chatID))
	if err != nil {
		return domain.ChatThread{}, fmt.Errorf("load thread %s: %w", chatID, err)
	}
	var thread domain.ChatThread
	if err := doc.Decode(&thread); err != nil {
		return domain.ChatThread{}, fmt.Errorf("decode thread %s: %w", chatID, err)
	}
	return thread, nil
}

func (s *Synchronizer) getMessage(ctx context.Context, chatID, messageID string) (domain.Message, error) {
	doc, err := s.store.Get(ctx, domain.MessageKey(chatID, messageID))
	if err != nil {
		return domain.Message{}, fmt.Errorf("load message %s: %w", messageID, err)
	}
	var msg domain.Message
	if err := doc.Decode(&msg); err != nil {
		return domain.Message{}, fmt.Errorf("decode message %s: %w", messageID, err)
	}
	return msg, nil
}

func (s *Synchronizer) putMessage(ctx context.Context, msg domain.Message) error {
	doc, err := docstore.Encode(domain.MessageKey(msg.ChatID, msg.ID), msg)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, doc)
}

func (s *Synchronizer) publish(kind, messageID string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: time.Now(), Payload: messageID})
}

// sortBySentAt orders messages ascending by sentAt, breaking timestamp ties
// by id so repeated deliveries are stable.
func sortBySentAt(msgs []domain.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		if msgs[i].SentAt != msgs[j].SentAt {
			return msgs[i].SentAt < msgs[j].SentAt
		}
		return msgs[i].ID < msgs[j].ID
	})
}
