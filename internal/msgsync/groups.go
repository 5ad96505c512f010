package msgsync

import (
	"time"

	"github.com/perch-im/perch/internal/domain"
)

// groupGap is the largest sender-to-sender interval that still renders as a
// single run. A gap strictly greater than this starts a new group.
const groupGap = 5 * time.Minute

// Group is a maximal run of consecutive messages from one sender with no
// internal gap exceeding groupGap.
type Group struct {
	SenderID string
	Messages []domain.Message
}

// GroupMessages partitions an already-ordered message list into display
// groups. A new group starts when the sender changes or when the time since
// the previous message exceeds the gap threshold; a gap of exactly the
// threshold stays in the same group.
func GroupMessages(msgs []domain.Message) []Group {
	if len(msgs) == 0 {
		return nil
	}
	groups := make([]Group, 0, len(msgs))
	cur := Group{SenderID: msgs[0].SenderID, Messages: []domain.Message{msgs[0]}}
	for _, msg := range msgs[1:] {
		prev := cur.Messages[len(cur.Messages)-1]
		if msg.SenderID != cur.SenderID || msg.SentAt-prev.SentAt > groupGap.Milliseconds() {
			groups = append(groups, cur)
			cur = Group{SenderID: msg.SenderID, Messages: []domain.Message{msg}}
			continue
		}
		cur.Messages = append(cur.Messages, msg)
	}
	return append(groups, cur)
}
