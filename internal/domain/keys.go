package domain

// Document key scheme. All remote documents live in a single keyspace with
// composite keys; prefix queries isolate per-owner and per-chat ranges.

// UserKey returns the document key for a user profile.
func UserKey(userID string) string {
	return "users/" + userID
}

// ContactKey returns the document key for the directed edge owner -> target.
func ContactKey(ownerID, targetID string) string {
	return "contacts/" + ownerID + "_" + targetID
}

// ContactPrefix returns the key prefix isolating all edges owned by ownerID.
func ContactPrefix(ownerID string) string {
	return "contacts/" + ownerID + "_"
}

// ChatKey returns the document key for a chat thread.
func ChatKey(chatID string) string {
	return "chats/" + chatID
}

// MembershipKey returns the document key for a user's chat-membership index.
func MembershipKey(userID string) string {
	return "userchats/" + userID
}

// MessageKey returns the document key for a message within a chat's log.
func MessageKey(chatID, messageID string) string {
	return "chats/" + chatID + "/messages/" + messageID
}

// MessagePrefix returns the key prefix isolating a chat's message log.
func MessagePrefix(chatID string) string {
	return "chats/" + chatID + "/messages/"
}

// NotificationKey returns the document key for a notification.
func NotificationKey(id string) string {
	return "notifications/" + id
}

// NotificationPrefix is the key prefix for the notifications collection.
const NotificationPrefix = "notifications/"

// UserPrefix is the key prefix for the users collection.
const UserPrefix = "users/"
