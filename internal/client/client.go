// Package client wires the identity provider, the subscription pumps, and
// the in-memory read model into one signed-in session. It owns session
// lifecycle: attach everything on sign-in, tear everything down and wipe
// per-user state on sign-out, and keep streams alive across transient
// backend failures.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/perch-im/perch/internal/appstate"
	"github.com/perch-im/perch/internal/blob"
	"github.com/perch-im/perch/internal/bus"
	"github.com/perch-im/perch/internal/directory"
	"github.com/perch-im/perch/internal/docstore"
	"github.com/perch-im/perch/internal/domain"
	"github.com/perch-im/perch/internal/identity"
	"github.com/perch-im/perch/internal/msgsync"
	"github.com/perch-im/perch/internal/notify"
	"github.com/perch-im/perch/internal/registry"
	"github.com/perch-im/perch/internal/status"
)

// Client is the top-level session orchestrator.
type Client struct {
	provider identity.Provider
	store    docstore.Store
	dir      *directory.Directory
	reg      *registry.Registry
	sync     *msgsync.Synchronizer
	feed     *notify.Feed
	blobs    blob.Store
	state    *appstate.State
	machine  *status.Machine
	bus      *bus.Bus
	logger   *zap.Logger

	mu        sync.Mutex
	sess      *session
	unsubProv func()
	stopCh    chan struct{}
}

// session is the per-signed-in-user stream set.
type session struct {
	ctx    context.Context
	cancel context.CancelFunc
	uid    string

	mu           sync.Mutex
	attach       map[string]func() (func(), error)
	cancels      map[string]func()
	attempts     map[string]int
	activeScope  string
	activeCancel func()
}

type Deps struct {
	Provider  identity.Provider
	Store     docstore.Store
	Directory *directory.Directory
	Registry  *registry.Registry
	Sync      *msgsync.Synchronizer
	Feed      *notify.Feed
	Blobs     blob.Store
	State     *appstate.State
	Machine   *status.Machine
	Bus       *bus.Bus
	Logger    *zap.Logger
}

func New(d Deps) *Client {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		provider: d.Provider,
		store:    d.Store,
		dir:      d.Directory,
		reg:      d.Registry,
		sync:     d.Sync,
		feed:     d.Feed,
		blobs:    d.Blobs,
		state:    d.State,
		machine:  d.Machine,
		bus:      d.Bus,
		logger:   logger,
	}
}

// Start hooks the client to the identity provider and begins handling
// stream failures. If a user is already signed in the session attaches
// immediately.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.stopCh != nil {
		c.mu.Unlock()
		return fmt.Errorf("client already started")
	}
	c.stopCh = make(chan struct{})
	c.mu.Unlock()

	c.transition(status.SignedOut)

	events, unsubBus := c.bus.Subscribe(bus.KindStreamFailed, 32)
	go c.handleStreamFailures(events)

	c.unsubProv = c.provider.OnChange(func(id *domain.Identity) {
		c.onIdentity(ctx, id)
	})
	if id := c.provider.Current(); id != nil {
		c.onIdentity(ctx, id)
	} else {
		c.state.SetLoading(false)
	}

	go func() {
		<-c.stopCh
		unsubBus()
	}()
	return nil
}

// Stop tears down the current session and stops failure handling.
func (c *Client) Stop() {
	c.mu.Lock()
	stopCh := c.stopCh
	c.stopCh = nil
	unsub := c.unsubProv
	c.unsubProv = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	c.endSession(context.Background())
	if stopCh != nil {
		close(stopCh)
	}
}

func (c *Client) onIdentity(ctx context.Context, id *domain.Identity) {
	if id == nil {
		c.endSession(ctx)
		return
	}
	c.beginSession(ctx, *id)
}

func (c *Client) beginSession(ctx context.Context, id domain.Identity) {
	c.endSession(ctx)
	c.state.SetLoading(true)
	c.transition(status.Connecting)

	ensured, err := identity.EnsureUser(ctx, c.store, id)
	if err != nil {
		c.logger.Error("ensure user failed", zap.Error(err))
		c.state.SetLastError(err.Error())
		c.transition(status.Error)
		return
	}
	if err := c.dir.UpdatePresence(ctx, ensured.ID, true); err != nil {
		c.logger.Warn("presence fan-out failed", zap.Error(err))
	}

	c.transition(status.Syncing)
	c.state.SetIdentity(&ensured)

	sctx, cancel := context.WithCancel(context.Background())
	sess := &session{
		ctx:      sctx,
		cancel:   cancel,
		uid:      ensured.ID,
		attach:   make(map[string]func() (func(), error)),
		cancels:  make(map[string]func()),
		attempts: make(map[string]int),
	}

	sess.attach["contacts:"+ensured.ID] = func() (func(), error) {
		return c.dir.Subscribe(sctx, ensured.ID, c.state.SetContacts)
	}
	sess.attach["chats:"+ensured.ID] = func() (func(), error) {
		return c.reg.Subscribe(sctx, ensured.ID, c.state.SetChats)
	}
	sess.attach["notifications:"+ensured.ID] = func() (func(), error) {
		return c.feed.Subscribe(sctx, ensured.ID, c.state.SetNotifications)
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	ok := true
	for scope := range sess.attach {
		if err := c.attachStream(sess, scope); err != nil {
			c.logger.Error("initial stream attach failed", zap.String("scope", scope), zap.Error(err))
			ok = false
		}
	}

	if ok {
		c.transition(status.Online)
	} else {
		c.transition(status.Degraded)
	}
	c.state.SetLoading(false)
	c.bus.Publish(bus.Event{Kind: bus.KindSignedIn, Timestamp: time.Now(), Payload: ensured.ID})
}

func (c *Client) endSession(ctx context.Context) {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess == nil {
		return
	}

	sess.cancel()
	sess.mu.Lock()
	cancels := sess.cancels
	sess.cancels = make(map[string]func())
	active := sess.activeCancel
	sess.activeCancel = nil
	sess.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	if active != nil {
		active()
	}

	// Best-effort: flip presence off before the state is wiped.
	if err := c.dir.UpdatePresence(ctx, sess.uid, false); err != nil {
		c.logger.Warn("presence clear failed", zap.Error(err))
	}

	c.state.Clear()
	c.transition(status.SignedOut)
	c.bus.Publish(bus.Event{Kind: bus.KindSignedOut, Timestamp: time.Now(), Payload: sess.uid})
}

// SetActiveChat switches the focused chat: the previous chat's message
// stream is cancelled and a new one attached.
func (c *Client) SetActiveChat(ctx context.Context, chatID string) error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("%w: no signed-in session", domain.ErrValidation)
	}

	sess.mu.Lock()
	if prev := sess.activeCancel; prev != nil {
		prev()
		sess.activeCancel = nil
	}
	if prevScope := sess.activeScope; prevScope != "" {
		delete(sess.attach, prevScope)
		delete(sess.cancels, prevScope)
		delete(sess.attempts, prevScope)
		sess.activeScope = ""
	}
	sess.mu.Unlock()

	c.state.SetActiveChat(chatID)
	if chatID == "" {
		return nil
	}

	scope := "messages:" + chatID
	attach := func() (func(), error) {
		return c.sync.Subscribe(sess.ctx, chatID, func(msgs []domain.Message) {
			c.state.SetMessages(chatID, msgs)
		})
	}
	cancel, err := attach()
	if err != nil {
		return err
	}
	sess.mu.Lock()
	sess.activeCancel = cancel
	sess.activeScope = scope
	sess.attach[scope] = attach
	sess.cancels[scope] = cancel
	sess.mu.Unlock()

	if err := c.reg.TouchLastSeen(ctx, sess.uid, chatID); err != nil {
		c.logger.Warn("touch last seen failed", zap.String("chat", chatID), zap.Error(err))
	}
	return nil
}

// AddContact adds the user behind email to the session owner's directory
// and drops a notification into the new contact's feed. The notification is
// best-effort: a failed write does not undo the edge.
func (c *Client) AddContact(ctx context.Context, email string) (domain.ContactEdge, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return domain.ContactEdge{}, fmt.Errorf("%w: no signed-in session", domain.ErrValidation)
	}

	edge, err := c.dir.AddByEmail(ctx, sess.uid, email)
	if err != nil {
		return domain.ContactEdge{}, err
	}
	if self := c.state.Identity(); self != nil {
		if _, err := c.feed.ContactAdded(ctx, edge.ContactID, *self); err != nil {
			c.logger.Warn("contact-added notification failed", zap.Error(err))
		}
	}
	return edge, nil
}

// SendImage validates and uploads an attachment, then appends the image
// message. Validation failures reject the send before any byte is stored
// or any document written.
func (c *Client) SendImage(ctx context.Context, chatID, name string, data []byte) (domain.Message, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return domain.Message{}, fmt.Errorf("%w: no signed-in session", domain.ErrValidation)
	}
	if _, err := blob.ValidateImage(data); err != nil {
		return domain.Message{}, err
	}
	url, err := c.blobs.Upload(ctx, name, data)
	if err != nil {
		return domain.Message{}, err
	}
	msg, err := c.sync.SendImage(ctx, chatID, sess.uid, url)
	if err != nil {
		// The attachment is orphaned if this cleanup fails too; log and
		// move on.
		if derr := c.blobs.Delete(ctx, url); derr != nil {
			c.logger.Warn("orphaned attachment", zap.String("url", url), zap.Error(derr))
		}
		return domain.Message{}, err
	}
	return msg, nil
}

// OpenChatWith resolves (or creates) the thread shared with the given
// contact and makes it the active chat.
func (c *Client) OpenChatWith(ctx context.Context, contactID string) (string, error) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return "", fmt.Errorf("%w: no signed-in session", domain.ErrValidation)
	}
	chatID, err := c.reg.GetOrCreate(ctx, sess.uid, contactID)
	if err != nil {
		return "", err
	}
	return chatID, c.SetActiveChat(ctx, chatID)
}

func (c *Client) transition(to status.State) {
	if err := c.machine.Transition(to); err != nil {
		c.logger.Debug("status transition skipped", zap.Error(err))
	}
	c.state.SetConnectivity(c.machine.Current())
}
