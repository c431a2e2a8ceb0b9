// Package storefront holds the per-session shopper state: the session, its
// cart and wishlist reconcilers and its notice inbox.
package storefront

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"my-teddy/cart"
	"my-teddy/notify"
	"my-teddy/session"
	"my-teddy/store"
	"my-teddy/wishlist"
)

// DefaultIdleTimeout evicts shoppers not seen for this long
const DefaultIdleTimeout = 30 * time.Minute

// ErrSessionEnded is returned for a session that was logged out
var ErrSessionEnded = errors.New("session ended")

// Shopper is everything the storefront keeps for one signed-in session
type Shopper struct {
	ID       string
	Session  *session.Session
	Cart     *cart.Reconciler
	Wishlist *wishlist.Reconciler
	Inbox    *notify.Inbox

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Shopper) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Shopper) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// close signs the owner out, which empties both mirrors, and releases the
// reconcilers.
func (s *Shopper) close() {
	s.Session.Logout()
	s.Cart.Close()
	s.Wishlist.Close()
}

// Registry maps session ids to shoppers
type Registry struct {
	carts     store.CartStore
	wishlists store.WishlistStore
	logger    *zap.Logger
	idle      time.Duration
	now       func() time.Time

	mu       sync.Mutex
	shoppers map[string]*Shopper
	ended    map[string]time.Time

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewRegistry starts a registry whose janitor evicts shoppers idle for
// longer than idle. Call Close to stop it.
func NewRegistry(carts store.CartStore, wishlists store.WishlistStore, idle time.Duration, logger *zap.Logger) *Registry {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	r := &Registry{
		carts:     carts,
		wishlists: wishlists,
		logger:    logger.Named("storefront"),
		idle:      idle,
		now:       time.Now,
		shoppers:  make(map[string]*Shopper),
		ended:     make(map[string]time.Time),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go r.janitor(idle / 2)
	return r
}

// Acquire returns the shopper for sessionID, creating one signed in as owner
// when none exists. A shopper found under a different owner is replaced.
func (r *Registry) Acquire(sessionID, owner string) (*Shopper, error) {
	var replaced *Shopper
	defer func() {
		if replaced != nil {
			replaced.close()
		}
	}()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ended[sessionID]; ok {
		return nil, ErrSessionEnded
	}
	now := r.now()
	if s, ok := r.shoppers[sessionID]; ok {
		if o, present := s.Session.Owner(); present && o == owner {
			s.touch(now)
			return s, nil
		}
		replaced = s
		delete(r.shoppers, sessionID)
	}

	inbox := notify.NewInbox(0)
	sess := session.New()
	logger := r.logger.With(zap.String("session_id", sessionID))
	s := &Shopper{
		ID:       sessionID,
		Session:  sess,
		Cart:     cart.New(sess, r.carts, inbox, logger),
		Wishlist: wishlist.New(sess, r.wishlists, inbox, logger),
		Inbox:    inbox,
		lastSeen: now,
	}
	sess.Login(owner)
	r.shoppers[sessionID] = s
	logger.Debug("shopper opened", zap.String("owner", owner))
	return s, nil
}

// Get returns the live shopper for sessionID
func (r *Registry) Get(sessionID string) (*Shopper, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.shoppers[sessionID]
	return s, ok
}

// End logs the session out and refuses it until expiresAt
func (r *Registry) End(sessionID string, expiresAt time.Time) {
	r.mu.Lock()
	s, ok := r.shoppers[sessionID]
	delete(r.shoppers, sessionID)
	r.ended[sessionID] = expiresAt
	r.mu.Unlock()
	if ok {
		s.close()
		r.logger.Debug("shopper closed", zap.String("session_id", sessionID))
	}
}

// Len is the number of live shoppers
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shoppers)
}

// Sweep evicts idle shoppers and forgets ended sessions past their expiry
func (r *Registry) Sweep() int {
	now := r.now()
	var evicted []*Shopper
	r.mu.Lock()
	for id, s := range r.shoppers {
		if now.Sub(s.idleSince()) > r.idle {
			evicted = append(evicted, s)
			delete(r.shoppers, id)
		}
	}
	for id, exp := range r.ended {
		if now.After(exp) {
			delete(r.ended, id)
		}
	}
	r.mu.Unlock()

	for _, s := range evicted {
		s.close()
	}
	if len(evicted) > 0 {
		r.logger.Info("evicted idle shoppers", zap.Int("count", len(evicted)))
	}
	return len(evicted)
}

func (r *Registry) janitor(every time.Duration) {
	defer close(r.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-t.C:
			r.Sweep()
		}
	}
}

// Close stops the janitor and closes every shopper
func (r *Registry) Close(context.Context) error {
	r.once.Do(func() {
		close(r.stop)
		<-r.done
		r.mu.Lock()
		shoppers := r.shoppers
		r.shoppers = make(map[string]*Shopper)
		r.mu.Unlock()
		for _, s := range shoppers {
			s.close()
		}
	})
	return nil
}
