// Package wishlist mirrors the signed-in owner's wishlist entries.
package wishlist

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"my-teddy/models"
	"my-teddy/notify"
	"my-teddy/reconcile"
	"my-teddy/session"
	"my-teddy/store"
)

// DefaultLoadTimeout bounds a fetch started by a login
const DefaultLoadTimeout = 10 * time.Second

// Reconciler keeps the wishlist mirror in step with the store. Entries have
// no quantity; a product is either present once or absent.
type Reconciler struct {
	store       store.WishlistStore
	notes       notify.Sink
	logger      *zap.Logger
	loadTimeout time.Duration

	opMu   sync.Mutex
	mirror reconcile.Mirror[models.WishlistEntry]
	loads  *reconcile.Loads

	unsubscribe func()
	closeOnce   sync.Once
}

// New subscribes to owner changes of provider and loads the wishlist of an
// owner already signed in.
func New(provider session.Provider, s store.WishlistStore, notes notify.Sink, logger *zap.Logger) *Reconciler {
	r := &Reconciler{
		store:       s,
		notes:       notes,
		logger:      logger.Named("wishlist"),
		loadTimeout: DefaultLoadTimeout,
		loads:       reconcile.NewLoads(),
	}
	r.unsubscribe = provider.Subscribe(r.onOwnerChange)
	r.onOwnerChange(provider.Current())
	return r
}

// Close unsubscribes from the session and waits for outstanding loads
func (r *Reconciler) Close() {
	r.closeOnce.Do(func() {
		r.unsubscribe()
		r.loads.Close()
	})
}

func (r *Reconciler) onOwnerChange(c session.Change) {
	if !r.mirror.Reset(c) {
		return
	}
	r.loads.Go(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, r.loadTimeout)
		defer cancel()
		r.opMu.Lock()
		defer r.opMu.Unlock()
		if r.mirror.Generation() != c.Generation {
			return
		}
		r.fetch(ctx, c.Owner, c.Generation)
	})
}

// fetch replaces the mirror with the owner's entries. Callers hold opMu.
func (r *Reconciler) fetch(ctx context.Context, owner string, gen uint64) reconcile.Outcome {
	entries, err := r.store.ListWishlist(ctx, owner)
	if err != nil {
		r.logger.Error("fetching wishlist", zap.String("owner", owner), zap.Error(err))
		if r.mirror.Generation() == gen {
			r.notes.Notify(notify.Error, "Failed to load wishlist")
		}
		return reconcile.Failed
	}
	if entries == nil {
		entries = []models.WishlistEntry{}
	}
	if !r.mirror.Apply(gen, entries) {
		r.logger.Debug("discarding stale wishlist load", zap.String("owner", owner), zap.Uint64("generation", gen))
		return reconcile.Stale
	}
	return reconcile.OK
}

// Load fetches the current owner's wishlist
func (r *Reconciler) Load(ctx context.Context) reconcile.Outcome {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	v := r.mirror.Snapshot()
	if !v.Present {
		return reconcile.NoOwner
	}
	return r.fetch(ctx, v.Owner, v.Generation)
}

// Settle waits for an in-flight load and fetches when none has been applied
// for the current owner yet
func (r *Reconciler) Settle(ctx context.Context) reconcile.Outcome {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	v := r.mirror.Snapshot()
	if !v.Present {
		return reconcile.NoOwner
	}
	if v.Loaded {
		return reconcile.OK
	}
	return r.fetch(ctx, v.Owner, v.Generation)
}

// Add saves productID. A product already on the list reports Duplicate with
// an informational notice; that is an expected outcome, not a failure.
func (r *Reconciler) Add(ctx context.Context, productID string) reconcile.Outcome {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	v := r.mirror.Snapshot()
	if !v.Present {
		r.notes.Notify(notify.Error, "Please login to add items to your wishlist")
		return reconcile.NoOwner
	}

	if _, err := r.store.InsertWishlist(ctx, v.Owner, productID); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			r.logger.Debug("product already in wishlist", zap.String("owner", v.Owner), zap.String("product_id", productID))
			r.notes.Notify(notify.Info, "This item is already in your wishlist")
			return reconcile.Duplicate
		}
		r.logger.Error("adding to wishlist", zap.String("owner", v.Owner), zap.Error(err))
		r.notes.Notify(notify.Error, "Failed to add item to wishlist")
		return reconcile.Failed
	}

	out := r.fetch(ctx, v.Owner, v.Generation)
	if out == reconcile.OK {
		r.notes.Notify(notify.Success, "Item successfully added to your wishlist")
	}
	return out
}

// Remove deletes the entry with entryID
func (r *Reconciler) Remove(ctx context.Context, entryID string) reconcile.Outcome {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	v := r.mirror.Snapshot()
	if !v.Present {
		return reconcile.Noop
	}
	if err := r.store.DeleteWishlist(ctx, v.Owner, entryID); err != nil {
		r.logger.Error("removing from wishlist", zap.String("owner", v.Owner), zap.Error(err))
		r.notes.Notify(notify.Error, "Failed to remove item from wishlist")
		return reconcile.Failed
	}

	out := r.fetch(ctx, v.Owner, v.Generation)
	if out == reconcile.OK {
		r.notes.Notify(notify.Success, "Item removed from your wishlist")
	}
	return out
}

// Toggle removes productID when present and adds it otherwise
func (r *Reconciler) Toggle(ctx context.Context, productID string) reconcile.Outcome {
	if id, ok := r.IDFor(productID); ok {
		return r.Remove(ctx, id)
	}
	return r.Add(ctx, productID)
}

// IsPresent reports whether productID is in the mirror
func (r *Reconciler) IsPresent(productID string) bool {
	_, ok := r.IDFor(productID)
	return ok
}

// IDFor returns the entry id holding productID
func (r *Reconciler) IDFor(productID string) (string, bool) {
	var id string
	var ok bool
	r.mirror.Read(func(entries []models.WishlistEntry) {
		for _, e := range entries {
			if e.ProductID == productID {
				id, ok = e.ID, true
				return
			}
		}
	})
	return id, ok
}

// Entries returns a copy of the mirror
func (r *Reconciler) Entries() []models.WishlistEntry {
	return r.mirror.Snapshot().Items
}

// State of the reconciler
func (r *Reconciler) State() reconcile.State {
	return r.mirror.Snapshot().State
}
