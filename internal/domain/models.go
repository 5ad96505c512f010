package domain

// Identity is an authenticated user's stable id plus profile fields.
// A user document is created on first sign-in and never deleted.
type Identity struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl"`
	IsOnline    bool   `json:"isOnline"`
	LastSeenAt  int64  `json:"lastSeenAt"`
	CreatedAt   int64  `json:"createdAt"`
}

// ContactEdge is one directed "owner considers target a contact" relation.
// The snapshot fields are a denormalized copy of the target identity taken
// at the time the edge was written.
type ContactEdge struct {
	OwnerID     string `json:"ownerId"`
	ContactID   string `json:"contactId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl"`
	IsOnline    bool   `json:"isOnline"`
	LastSeenAt  int64  `json:"lastSeenAt"`
	AddedAt     int64  `json:"addedAt"`
}

// MessageSummary is the best-effort preview of a thread's latest message.
// It is written atomically with sends but deliberately not refreshed by edits.
type MessageSummary struct {
	Text     string `json:"text"`
	SenderID string `json:"senderId"`
	At       int64  `json:"at"`
}

// ChatThread is the two-party container for a message log.
type ChatThread struct {
	ID             string         `json:"id"`
	ParticipantIDs []string       `json:"participantIds"`
	LastMessage    MessageSummary `json:"lastMessage"`
	CreatedAt      int64          `json:"createdAt"`
	UpdatedAt      int64          `json:"updatedAt"`
}

// OtherParticipant returns the participant of t that is not selfID,
// or "" if selfID is not a participant of a two-party thread.
func (t *ChatThread) OtherParticipant(selfID string) string {
	for _, id := range t.ParticipantIDs {
		if id != selfID {
			return id
		}
	}
	return ""
}

// HasParticipant reports whether id is a participant of t.
func (t *ChatThread) HasParticipant(id string) bool {
	for _, p := range t.ParticipantIDs {
		if p == id {
			return true
		}
	}
	return false
}

// MembershipEntry holds one user's per-chat state.
type MembershipEntry struct {
	LastSeenAt int64 `json:"lastSeenAt"`
	IsArchived bool  `json:"isArchived"`
	IsMuted    bool  `json:"isMuted"`
}

// Membership is a user's chat-membership index: one document per user,
// mapping chat id to the user's per-chat state. An entry exists for a chat
// iff the user is a participant of the corresponding thread.
type Membership struct {
	UserID string                     `json:"userId"`
	Chats  map[string]MembershipEntry `json:"chats"`
}

// Message is one ordered entry in a thread's log. Exactly one of Text and
// ImageURL is populated at creation. ReadBy grows monotonically and always
// contains the sender. Soft delete rewrites Text with DeletedText and clears
// ImageURL; the row itself is never removed.
type Message struct {
	ID       string   `json:"id"`
	ChatID   string   `json:"chatId"`
	SenderID string   `json:"senderId"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"imageUrl,omitempty"`
	SentAt   int64    `json:"sentAt"`
	ReadBy   []string `json:"readBy"`
	Edited   bool     `json:"edited,omitempty"`
	EditedAt int64    `json:"editedAt,omitempty"`

	// Pending marks an optimistic local send that has not yet been
	// confirmed by a snapshot delivery. Never persisted.
	Pending bool `json:"-"`
}

// ReadBy membership check; the slice is small (at most two readers).
func (m *Message) IsReadBy(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// DeletedText is the fixed tombstone a soft-deleted message carries.
const DeletedText = "This message was deleted"

// ImageSummaryText is the preview text used for image sends.
const ImageSummaryText = "📷 Image"

// NotificationType enumerates notification kinds.
type NotificationType string

const (
	NotificationContactAdded NotificationType = "contact_added"
	NotificationMessage      NotificationType = "message"
)

// Notification is one entry in a user's notification feed.
type Notification struct {
	ID             string           `json:"id"`
	RecipientID    string           `json:"recipientId"`
	SenderID       string           `json:"senderId"`
	SenderName     string           `json:"senderName"`
	SenderPhotoURL string           `json:"senderPhotoUrl"`
	Type           NotificationType `json:"type"`
	Title          string           `json:"title"`
	Body           string           `json:"body"`
	IsRead         bool             `json:"isRead"`
	CreatedAt      int64            `json:"createdAt"`
}
