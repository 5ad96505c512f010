package msgsync

import (
	"sync"

	"github.com/perch-im/perch/internal/domain"
)

// pendingTracker holds optimistic sends that have not yet been confirmed by
// a snapshot. Confirmation is by id: once the remote log contains the
// message, the local copy is discarded and the confirmed row wins.
type pendingTracker struct {
	mu     sync.Mutex
	byChat map[string]map[string]domain.Message
}

func newPendingTracker() *pendingTracker {
	return &pendingTracker{byChat: make(map[string]map[string]domain.Message)}
}

func (p *pendingTracker) add(msg domain.Message) {
	msg.Pending = true
	p.mu.Lock()
	defer p.mu.Unlock()
	chat := p.byChat[msg.ChatID]
	if chat == nil {
		chat = make(map[string]domain.Message)
		p.byChat[msg.ChatID] = chat
	}
	chat[msg.ID] = msg
}

func (p *pendingTracker) remove(chatID, messageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if chat := p.byChat[chatID]; chat != nil {
		delete(chat, messageID)
		if len(chat) == 0 {
			delete(p.byChat, chatID)
		}
	}
}

// merge appends still-unconfirmed pending sends to a confirmed snapshot and
// returns the combined list in sentAt order. Pending entries whose id
// appears in the snapshot are confirmed and dropped as a side effect.
func (p *pendingTracker) merge(chatID string, confirmed []domain.Message) []domain.Message {
	seen := make(map[string]struct{}, len(confirmed))
	for _, msg := range confirmed {
		seen[msg.ID] = struct{}{}
	}

	p.mu.Lock()
	if chat := p.byChat[chatID]; chat != nil {
		for id, msg := range chat {
			if _, ok := seen[id]; ok {
				delete(chat, id)
				continue
			}
			confirmed = append(confirmed, msg)
		}
		if len(chat) == 0 {
			delete(p.byChat, chatID)
		}
	}
	p.mu.Unlock()

	sortBySentAt(confirmed)
	return confirmed
}
