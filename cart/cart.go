// Package cart keeps an in-memory mirror of the signed-in owner's cart and
// the single remote cart record consistent with every mutation.
package cart

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"my-teddy/models"
	"my-teddy/notify"
	"my-teddy/reconcile"
	"my-teddy/session"
	"my-teddy/store"
)

// DefaultLoadTimeout bounds a fetch started by a login
const DefaultLoadTimeout = 10 * time.Second

// NewLine is what a caller adds; the line id is assigned by the reconciler.
type NewLine struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Image     string          `json:"image"`
}

// View is a consistent snapshot used for rendering
type View struct {
	State reconcile.State   `json:"state"`
	Items []models.CartLine `json:"items"`
	Total decimal.Decimal   `json:"total"`
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithIDs replaces the line id generator
func WithIDs(fn func() string) Option {
	return func(r *Reconciler) { r.newID = fn }
}

// WithLoadTimeout bounds fetches started by owner changes
func WithLoadTimeout(d time.Duration) Option {
	return func(r *Reconciler) { r.loadTimeout = d }
}

// Reconciler mediates between the mirror and the owner's cart record.
// Mutations are applied to the store one at a time in the order they are
// issued, each computed from the latest confirmed mirror.
type Reconciler struct {
	store  store.CartStore
	notes  notify.Sink
	logger *zap.Logger

	newID       func() string
	loadTimeout time.Duration

	opMu   sync.Mutex
	mirror reconcile.Mirror[models.CartLine]
	loads  *reconcile.Loads

	unsubscribe func()
	closeOnce   sync.Once
}

// New subscribes to owner changes of provider. When an owner is already
// signed in, their cart starts loading right away. Call Close to release the
// subscription.
func New(provider session.Provider, s store.CartStore, notes notify.Sink, logger *zap.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       s,
		notes:       notes,
		logger:      logger.Named("cart"),
		newID:       uuid.NewString,
		loadTimeout: DefaultLoadTimeout,
		loads:       reconcile.NewLoads(),
	}
	for _, opt := range opts {
		opt(r)
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

// fetch loads the owner's record and applies it if gen is still current.
// Callers hold opMu.
func (r *Reconciler) fetch(ctx context.Context, owner string, gen uint64) reconcile.Outcome {
	rec, err := r.store.FetchCart(ctx, owner)
	var lines []models.CartLine
	switch {
	case err == nil:
		lines = rec.Items
	case errors.Is(err, store.ErrNotFound):
		lines = []models.CartLine{}
	default:
		r.logger.Error("fetching cart", zap.String("owner", owner), zap.Error(err))
		if r.mirror.Generation() == gen {
			r.notes.Notify(notify.Error, "Failed to load cart")
		}
		return reconcile.Failed
	}
	if !r.mirror.Apply(gen, lines) {
		r.logger.Debug("discarding stale cart load", zap.String("owner", owner), zap.Uint64("generation", gen))
		return reconcile.Stale
	}
	return reconcile.OK
}

// Load fetches the current owner's cart and replaces the mirror
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
// for the current owner yet. A loaded mirror is left alone.
func (r *Reconciler) Settle(ctx context.Context) reconcile.Outcome {
	r.opMu.Lock()
	defer r.opMu.Unlock()
	_, out := r.confirmed(ctx)
	return out
}

// confirmed returns the mirror, fetching it first when no load has been
// applied for the current owner yet. Callers hold opMu.
func (r *Reconciler) confirmed(ctx context.Context) (reconcile.View[models.CartLine], reconcile.Outcome) {
	v := r.mirror.Snapshot()
	if !v.Present {
		return v, reconcile.NoOwner
	}
	if v.Loaded {
		return v, reconcile.OK
	}
	if out := r.fetch(ctx, v.Owner, v.Generation); out != reconcile.OK {
		return v, out
	}
	return r.mirror.Snapshot(), reconcile.OK
}

func (r *Reconciler) failed(op, owner string, err error, message string) reconcile.Outcome {
	r.logger.Error(op, zap.String("owner", owner), zap.Error(err))
	r.notes.Notify(notify.Error, message)
	return reconcile.Failed
}

// commit applies lines after a confirmed persist
func (r *Reconciler) commit(gen uint64, lines []models.CartLine) reconcile.Outcome {
	if !r.mirror.Apply(gen, lines) {
		return reconcile.Stale
	}
	return reconcile.OK
}

// Add puts line in the cart. A product already in the cart has its quantity
// increased by line.Quantity instead of getting a second line.
func (r *Reconciler) Add(ctx context.Context, line NewLine) reconcile.Outcome {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	v, out := r.confirmed(ctx)
	if out == reconcile.NoOwner {
		r.notes.Notify(notify.Error, "Please log in to add items to cart")
		return out
	}
	if out != reconcile.OK {
		return out
	}
	if line.Quantity < 1 || line.Price.IsNegative() {
		return reconcile.Noop
	}

	updated := v.Items
	merged := false
	for i := range updated {
		if updated[i].ProductID == line.ProductID {
			updated[i].Quantity += line.Quantity
			merged = true
			break
		}
	}
	if !merged {
		updated = append(updated, models.CartLine{
			ID:        r.newID(),
			ProductID: line.ProductID,
			Name:      line.Name,
			Price:     line.Price,
			Quantity:  line.Quantity,
			Image:     line.Image,
		})
	}

	if err := r.store.UpsertCart(ctx, models.NewCartRecord(v.Owner, updated)); err != nil {
		return r.failed("adding to cart", v.Owner, err, "Failed to add to cart")
	}
	if out := r.commit(v.Generation, updated); out != reconcile.OK {
		return out
	}
	r.notes.Notify(notify.Success, "Added to cart! 🧸")
	return reconcile.OK
}

// Remove drops the line with lineID. Removing the last line deletes the
// remote record.
func (r *Reconciler) Remove(ctx context.Context, lineID string) reconcile.Outcome {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	v, out := r.confirmed(ctx)
	if out == reconcile.NoOwner {
		return reconcile.Noop
	}
	if out != reconcile.OK {
		return out
	}

	updated := make([]models.CartLine, 0, len(v.Items))
	for _, l := range v.Items {
		if l.ID != lineID {
			updated = append(updated, l)
		}
	}
	if len(updated) == len(v.Items) {
		return reconcile.Noop
	}

	var err error
	if len(updated) == 0 {
		err = r.store.DeleteCart(ctx, v.Owner)
	} else {
		err = r.store.UpdateCart(ctx, models.NewCartRecord(v.Owner, updated))
	}
	if err != nil {
		return r.failed("removing from cart", v.Owner, err, "Failed to remove item")
	}
	if out := r.commit(v.Generation, updated); out != reconcile.OK {
		return out
	}
	r.notes.Notify(notify.Success, "Item removed from cart")
	return reconcile.OK
}

// UpdateQuantity sets the quantity of a line. Quantities below one are
// ignored; reaching zero takes an explicit Remove.
func (r *Reconciler) UpdateQuantity(ctx context.Context, lineID string, quantity int) reconcile.Outcome {
	if quantity < 1 {
		return reconcile.Noop
	}
	r.opMu.Lock()
	defer r.opMu.Unlock()

	v, out := r.confirmed(ctx)
	if out == reconcile.NoOwner {
		return reconcile.Noop
	}
	if out != reconcile.OK {
		return out
	}

	updated := v.Items
	found := false
	for i := range updated {
		if updated[i].ID == lineID {
			if updated[i].Quantity == quantity {
				return reconcile.Noop
			}
			updated[i].Quantity = quantity
			found = true
			break
		}
	}
	if !found {
		return reconcile.Noop
	}

	if err := r.store.UpdateCart(ctx, models.NewCartRecord(v.Owner, updated)); err != nil {
		return r.failed("updating cart quantity", v.Owner, err, "Failed to update quantity")
	}
	return r.commit(v.Generation, updated)
}

// Clear deletes the remote record and empties the mirror
func (r *Reconciler) Clear(ctx context.Context) reconcile.Outcome {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	v := r.mirror.Snapshot()
	if !v.Present {
		return reconcile.Noop
	}
	if err := r.store.DeleteCart(ctx, v.Owner); err != nil {
		return r.failed("clearing cart", v.Owner, err, "Failed to clear cart")
	}
	return r.commit(v.Generation, []models.CartLine{})
}

// Checkout refetches the cart and hands it to place. When place succeeds the
// remote record is deleted and the mirror emptied. No other mutation runs
// between the fetch and the delete. An error from place is returned as is
// and leaves the cart untouched.
func (r *Reconciler) Checkout(ctx context.Context, place func(View) error) (reconcile.Outcome, error) {
	r.opMu.Lock()
	defer r.opMu.Unlock()

	v := r.mirror.Snapshot()
	if !v.Present {
		return reconcile.NoOwner, nil
	}
	if out := r.fetch(ctx, v.Owner, v.Generation); out != reconcile.OK {
		return out, nil
	}
	confirmed := r.mirror.Snapshot()
	if confirmed.Generation != v.Generation {
		return reconcile.Stale, nil
	}

	if err := place(View{State: confirmed.State, Items: confirmed.Items, Total: models.LinesTotal(confirmed.Items)}); err != nil {
		return reconcile.Noop, err
	}
	if err := r.store.DeleteCart(ctx, v.Owner); err != nil {
		return r.failed("clearing cart after checkout", v.Owner, err, "Failed to clear cart"), nil
	}
	return r.commit(v.Generation, []models.CartLine{}), nil
}

// Lines returns a copy of the mirror
func (r *Reconciler) Lines() []models.CartLine {
	return r.mirror.Snapshot().Items
}

// Total is the sum of price times quantity over the current mirror
func (r *Reconciler) Total() decimal.Decimal {
	return models.LinesTotal(r.mirror.Snapshot().Items)
}

// State of the reconciler
func (r *Reconciler) State() reconcile.State {
	return r.mirror.Snapshot().State
}

// Owner currently scoping the mirror
func (r *Reconciler) Owner() (string, bool) {
	v := r.mirror.Snapshot()
	return v.Owner, v.Present
}

// View returns lines, total and state read at the same instant
func (r *Reconciler) View() View {
	v := r.mirror.Snapshot()
	return View{State: v.State, Items: v.Items, Total: models.LinesTotal(v.Items)}
}
