// Package appstate holds the client's in-memory read model: the signed-in
// identity, contact list, chat list, per-chat message logs, and
// connectivity. Writers are the sync pumps; readers are whatever surface
// renders the state. All getters return copies.
package appstate

import (
	"sync"
	"time"

	"github.com/perch-im/perch/internal/bus"
	"github.com/perch-im/perch/internal/domain"
	"github.com/perch-im/perch/internal/status"
)

// State is the shared read model. A zero value is not usable; call New.
type State struct {
	mu sync.RWMutex

	identity      *domain.Identity
	contacts      []domain.ContactEdge
	chats         []domain.ChatThread
	messages      map[string][]domain.Message
	notifications []domain.Notification
	activeChatID  string
	connectivity  status.State
	theme         string
	loading       bool
	lastError     string

	bus *bus.Bus
}

const defaultTheme = "dark"

func New(b *bus.Bus) *State {
	return &State{
		messages:     make(map[string][]domain.Message),
		connectivity: status.Starting,
		theme:        defaultTheme,
		loading:      true,
		bus:          b,
	}
}

func (s *State) changed() {
	if s.bus != nil {
		s.bus.Publish(bus.Event{Kind: bus.KindStateChanged, Timestamp: time.Now()})
	}
}

// SetIdentity records the signed-in user, or nil on sign-out.
func (s *State) SetIdentity(id *domain.Identity) {
	s.mu.Lock()
	if id == nil {
		s.identity = nil
	} else {
		cp := *id
		s.identity = &cp
	}
	s.mu.Unlock()
	s.changed()
}

func (s *State) Identity() *domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	cp := *s.identity
	return &cp
}

func (s *State) SetContacts(edges []domain.ContactEdge) {
	s.mu.Lock()
	s.contacts = append([]domain.ContactEdge(nil), edges...)
	s.mu.Unlock()
	s.changed()
}

func (s *State) Contacts() []domain.ContactEdge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ContactEdge(nil), s.contacts...)
}

func (s *State) SetChats(threads []domain.ChatThread) {
	s.mu.Lock()
	s.chats = append([]domain.ChatThread(nil), threads...)
	s.mu.Unlock()
	s.changed()
}

func (s *State) Chats() []domain.ChatThread {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ChatThread(nil), s.chats...)
}

// SetMessages replaces the full log for one chat. Stale deliveries for a
// chat that is no longer active are still stored; eviction happens when the
// active chat switches.
func (s *State) SetMessages(chatID string, msgs []domain.Message) {
	s.mu.Lock()
	s.messages[chatID] = append([]domain.Message(nil), msgs...)
	s.mu.Unlock()
	s.changed()
}

func (s *State) Messages(chatID string) []domain.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Message(nil), s.messages[chatID]...)
}

// SetActiveChat switches the focused chat and drops the previous chat's
// cached log so a later revisit starts from a fresh snapshot.
func (s *State) SetActiveChat(chatID string) {
	s.mu.Lock()
	if s.activeChatID != "" && s.activeChatID != chatID {
		delete(s.messages, s.activeChatID)
	}
	s.activeChatID = chatID
	s.mu.Unlock()
	s.changed()
}

func (s *State) ActiveChat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeChatID
}

func (s *State) SetNotifications(notes []domain.Notification) {
	s.mu.Lock()
	s.notifications = append([]domain.Notification(nil), notes...)
	s.mu.Unlock()
	s.changed()
}

func (s *State) Notifications() []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Notification(nil), s.notifications...)
}

func (s *State) SetConnectivity(st status.State) {
	s.mu.Lock()
	s.connectivity = st
	s.mu.Unlock()
	s.changed()
}

func (s *State) Connectivity() status.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectivity
}

func (s *State) SetTheme(theme string) {
	s.mu.Lock()
	s.theme = theme
	s.mu.Unlock()
	s.changed()
}

func (s *State) Theme() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.theme
}

func (s *State) SetLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
	s.changed()
}

func (s *State) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

func (s *State) SetLastError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
	s.changed()
}

func (s *State) LastError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// Clear resets everything except connectivity and theme. Called on sign-out
// so no per-user data survives into the next session.
func (s *State) Clear() {
	s.mu.Lock()
	s.identity = nil
	s.contacts = nil
	s.chats = nil
	s.messages = make(map[string][]domain.Message)
	s.notifications = nil
	s.activeChatID = ""
	s.loading = false
	s.lastError = ""
	s.mu.Unlock()
	s.changed()
}
