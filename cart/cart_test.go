package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"my-teddy/models"
	"my-teddy/notify"
	"my-teddy/reconcile"
	"my-teddy/session"
	"my-teddy/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errStore = errors.New("connection reset")

// recordingStore wraps the memory store with failure injection and an
// optional gate that holds fetches until released.
type recordingStore struct {
	*store.Memory

	mu         sync.Mutex
	calls      []string
	failFetch  error
	failUpsert error
	failUpdate error
	failDelete error
	fetchGate  chan struct{}
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Memory: store.NewMemory()}
}

func (s *recordingStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *recordingStore) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingStore) FetchCart(ctx context.Context, owner string) (*models.CartRecord, error) {
	s.record("fetch")
	s.mu.Lock()
	gate, fail := s.fetchGate, s.failFetch
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fail != nil {
		return nil, fail
	}
	return s.Memory.FetchCart(ctx, owner)
}

func (s *recordingStore) UpsertCart(ctx context.Context, rec models.CartRecord) error {
	s.record("upsert")
	if s.failUpsert != nil {
		return s.failUpsert
	}
	return s.Memory.UpsertCart(ctx, rec)
}

func (s *recordingStore) UpdateCart(ctx context.Context, rec models.CartRecord) error {
	s.record("update")
	if s.failUpdate != nil {
		return s.failUpdate
	}
	return s.Memory.UpdateCart(ctx, rec)
}

func (s *recordingStore) DeleteCart(ctx context.Context, owner string) error {
	s.record("delete")
	if s.failDelete != nil {
		return s.failDelete
	}
	return s.Memory.DeleteCart(ctx, owner)
}

type fixture struct {
	sess  *session.Session
	store *recordingStore
	inbox *notify.Inbox
	cart  *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sess:  session.New(),
		store: newRecordingStore(),
		inbox: notify.NewInbox(0),
	}
	ids := 0
	f.cart = New(f.sess, f.store, f.inbox, zaptest.NewLogger(t), WithIDs(func() string {
		ids++
		return fmt.Sprintf("line-%d", ids)
	}))
	t.Cleanup(f.cart.Close)
	return f
}

func (f *fixture) login(t *testing.T, owner string) {
	t.Helper()
	f.sess.Login(owner)
	f.cart.loads.Wait()
	require.Equal(t, reconcile.Ready, f.cart.State())
}

func teddy(productID string, price int64, qty int) NewLine {
	return NewLine{
		ProductID: productID,
		Name:      "Teddy " + productID,
		Price:     decimal.NewFromInt(price),
		Quantity:  qty,
		Image:     "/teddy.png",
	}
}

func assertTotalConsistent(t *testing.T, r *Reconciler) {
	t.Helper()
	v := r.View()
	expected := decimal.Zero
	for _, l := range v.Items {
		expected = expected.Add(l.Price.Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	assert.True(t, expected.Equal(v.Total), "total %s != %s", v.Total, expected)
	assert.True(t, expected.Equal(r.Total()))
}

func TestAddMergeRemoveScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "U")

	require.Equal(t, reconcile.OK, f.cart.Add(ctx, teddy("p1", 10, 2)))
	lines := f.cart.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.True(t, decimal.NewFromInt(20).Equal(f.cart.Total()))

	require.Equal(t, reconcile.OK, f.cart.Add(ctx, teddy("p1", 10, 1)))
	lines = f.cart.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
	assert.True(t, decimal.NewFromInt(30).Equal(f.cart.Total()))

	rec, err := f.store.Memory.FetchCart(ctx, "U")
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(30).Equal(rec.Total))

	require.Equal(t, reconcile.OK, f.cart.Remove(ctx, lines[0].ID))
	assert.Empty(t, f.cart.Lines())
	assert.True(t, f.cart.Total().IsZero())

	_, err = f.store.Memory.FetchCart(ctx, "U")
	assert.ErrorIs(t, err, store.ErrNotFound, "empty cart must be deleted, not left as an empty record")
	assert.Equal(t, []string{"fetch", "upsert", "upsert", "delete"}, f.store.Calls())
}

func TestRepeatedAddsKeepOneLinePerProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "U")

	want := 0
	for _, qty := range []int{1, 4, 2, 7, 1} {
		require.Equal(t, reconcile.OK, f.cart.Add(ctx, teddy("p1", 3, qty)))
		want += qty
		assertTotalConsistent(t, f.cart)
	}
	require.Equal(t, reconcile.OK, f.cart.Add(ctx, teddy("p2", 5, 1)))

	lines := f.cart.Lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "p1", lines[0].ProductID)
	assert.Equal(t, want, lines[0].Quantity)
	assert.Equal(t, "line-2", lines[1].ID)
	assertTotalConsistent(t, f.cart)
}

func TestConcurrentAddsAreSerialized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "U")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.cart.Add(ctx, teddy("p1", 2, 1))
		}()
	}
	wg.Wait()

	lines := f.cart.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 20, lines[0].Quantity)

	rec, err := f.store.Memory.FetchCart(ctx, "U")
	require.NoError(t, err)
	require.Len(t, rec.Items, 1)
	assert.Equal(t, 20, rec.Items[0].Quantity)
	assert.True(t, decimal.NewFromInt(40).Equal(rec.Total))
}

func TestAddWithoutOwner(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, reconcile.Unauthenticated, f.cart.State())
	assert.Equal(t, reconcile.NoOwner, f.cart.Add(context.Background(), teddy("p1", 10, 1)))

	notices := f.inbox.Drain()
	require.Len(t, notices, 1)
	assert.Equal(t, notify.Error, notices[0].Kind)
	assert.Equal(t, "Please log in to add items to cart", notices[0].Message)
	assert.Empty(t, f.store.Calls())
}

func TestMutationsWithoutOwnerAreNoops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, reconcile.Noop, f.cart.Remove(ctx, "line-1"))
	assert.Equal(t, reconcile.Noop, f.cart.UpdateQuantity(ctx, "line-1", 2))
	assert.Equal(t, reconcile.Noop, f.cart.Clear(ctx))
	assert.Equal(t, reconcile.NoOwner, f.cart.Load(ctx))
	assert.Empty(t, f.store.Calls())
	assert.Zero(t, f.inbox.Len())
}

func TestFailedUpsertLeavesMirrorUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "U")
	require.Equal(t, reconcile.OK, f.cart.Add(ctx, teddy("p1", 10, 1)))
	f.inbox.Drain()

	f.store.failUpsert = errStore
	assert.Equal(t, reconcile.Failed, f.cart.Add(ctx, teddy("p1", 10, 5)))
	assert.Equal(t, reconcile.Failed, f.cart.Add(ctx, teddy("p2", 10, 1)))

	lines := f.cart.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].Quantity)
	assert.True(t, decimal.NewFromInt(10).Equal(f.cart.Total()))

	notices := f.inbox.Drain()
	require.Len(t, notices, 2)
	assert.Equal(t, notify.Error, notices[0].Kind)
	assert.Equal(t, "Failed to add to cart", notices[0].Message)
}

func TestFailedRemoveAndUpdateLeaveMirrorUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "U")
	require.Equal(t, reconcile.OK, f.cart.Add(ctx, teddy("p1", 10, 1)))
	require.Equal(t, reconcile.OK, f.cart.Add(ctx, teddy("p2", 4, 1)))
	before := f.cart.Lines()

	f.store.failUpdate = errStore
	f.store.failDelete = errStore
	assert.Equal(t, reconcile.Failed, f.cart.Remove(ctx, before[0].ID))
	assert.Equal(t, reconcile.Failed, f.cart.UpdateQuantity(ctx, before[1].ID, 9))
	assert.Equal(t, reconcile.Failed, f.cart.Clear(ctx))

	assert.Equal(t, before, f.cart.Lines())
	assertTotalConsistent(t, f.cart)
}

func TestRemoveKeepsOtherLines(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "U")
	require.Equal(t, reconcile.OK, f.cart.Add(ctx, teddy("p1", 10, 1)))
	require.Equal(t, reconcile.OK, f.cart.Add(ctx, teddy("p2", 4, 3)))

	lines := f.cart.Lines()
	require.Equal(t, reconcile.OK, f.cart.Remove(ctx, lines[0].ID))
	assert.Equal(t, reconcile.Noop, f.cart.Remove(ctx, "missing"))

	rec, err := f.store.Memory.FetchCart(ctx, "U")
	require.NoError(t, err)
	require.Len(t, rec.Items, 1)
	assert.Equal(t, "p2", rec.Items[0].ProductID)
	assert.True(t, decimal.NewFromInt(12).Equal(rec.Total))
	assert.Equal(t, "update", f.store.Calls()[len(f.store.Calls())-1])
}

func TestUpdateQuantity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "U")
	require.Equal(t, reconcile.OK, f.cart.Add(ctx, teddy("p1", 10, 2)))
	id := f.cart.Lines()[0].ID
	calls := len(f.store.Calls())

	for _, n := range []int{0, -1} {
		assert.Equal(t, reconcile.Noop, f.cart.UpdateQuantity(ctx, id, n))
	}
	assert.Equal(t, reconcile.Noop, f.cart.UpdateQuantity(ctx, "missing", 4))
	assert.Len(t, f.store.Calls(), calls, "no remote call for a no-op")
	assert.Equal(t, 2, f.cart.Lines()[0].Quantity)

	require.Equal(t, reconcile.OK, f.cart.UpdateQuantity(ctx, id, 5))
	assert.Equal(t, 5, f.cart.Lines()[0].Quantity)
	assert.True(t, decimal.NewFromInt(50).Equal(f.cart.Total()))

	rec, err := f.store.Memory.FetchCart(ctx, "U")
	require.NoError(t, err)
	assert.Equal(t, 5, rec.Items[0].Quantity)
}

func TestClearDeletesRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "U")
	require.Equal(t, reconcile.OK, f.cart.Add(ctx, teddy("p1", 10, 2)))

	require.Equal(t, reconcile.OK, f.cart.Clear(ctx))
	assert.Empty(t, f.cart.Lines())
	_, err := f.store.Memory.FetchCart(ctx, "U")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCheckoutHandsOverFreshCartThenDeletes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.login(t, "U")
	require.Equal(t, reconcile.OK, f.cart.Add(ctx, teddy("p1", 10, 2)))
	// written by another session of the same owner
	require.NoError(t, f.store.Memory.UpsertCart(ctx, models.NewCartRecord("U", []models.CartLine{
		{ID: "line-x", ProductID: "p9", Name: "Other", Price: decimal.NewFromInt(5), Quantity: 1},
	})))

	var seen View
	out, err := f.cart.Checkout(ctx, func(v View) error {
		seen = v
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, reconcile.OK, out)
	require.Len(t, seen.Items, 1)
	assert.Equal(t, "p9", seen.Items[0].ProductID)
	assert.True(t, decimal.NewFromInt(5).Equal(seen.Total))

	assert.Empty(t, f.cart.Lines())
	_, err = f.store.Memory.FetchCart(ctx, "U")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestCheckoutKeepsCartWhenPlacingFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.cart.Checkout(ctx, func(View) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, reconcile.NoOwner, out)

	f.login(t, "U")
	require.Equal(t, reconcile.OK, f.cart.Add(ctx, teddy("p1", 10, 2)))
	out, err = f.cart.Checkout(ctx, func(View) error { return errStore })
	assert.ErrorIs(t, err, errStore)
	assert.Equal(t, reconcile.Noop, out)
	assert.Len(t, f.cart.Lines(), 1)
	_, err = f.store.Memory.FetchCart(ctx, "U")
	assert.NoError(t, err)
	assert.NotContains(t, f.store.Calls(), "delete")
}

func TestLoginLoadsRemoteCartAndLogoutClears(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Memory.UpsertCart(ctx, models.NewCartRecord("U", []models.CartLine{
		{ID: "a", ProductID: "p1", Name: "Bear", Price: decimal.RequireFromString("12.50"), Quantity: 2},
	})))

	f.login(t, "U")
	lines := f.cart.Lines()
	require.Len(t, lines, 1)
	assert.True(t, decimal.NewFromInt(25).Equal(f.cart.Total()))

	f.sess.Logout()
	assert.Equal(t, reconcile.Unauthenticated, f.cart.State())
	assert.Empty(t, f.cart.Lines())
	_, present := f.cart.Owner()
	assert.False(t, present)
}

func TestOwnerSwitchReplacesMirror(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Memory.UpsertCart(ctx, models.NewCartRecord("A", []models.CartLine{
		{ID: "a", ProductID: "p1", Price: decimal.NewFromInt(1), Quantity: 1},
	})))

	f.login(t, "A")
	require.Len(t, f.cart.Lines(), 1)

	f.login(t, "B")
	assert.Empty(t, f.cart.Lines())
	owner, _ := f.cart.Owner()
	assert.Equal(t, "B", owner)
}

func TestLoadResolvingAfterLogoutIsDiscarded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Memory.UpsertCart(ctx, models.NewCartRecord("U", []models.CartLine{
		{ID: "a", ProductID: "p1", Price: decimal.NewFromInt(9), Quantity: 1},
	})))

	gate := make(chan struct{})
	f.store.mu.Lock()
	f.store.fetchGate = gate
	f.store.mu.Unlock()

	f.sess.Login("U")
	assert.Equal(t, reconcile.Loading, f.cart.State())
	f.sess.Logout()
	close(gate)
	f.cart.loads.Wait()

	assert.Equal(t, reconcile.Unauthenticated, f.cart.State())
	assert.Empty(t, f.cart.Lines())
	assert.True(t, f.cart.Total().IsZero())
}

func TestSettleWaitsForLoginLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.Equal(t, reconcile.NoOwner, f.cart.Settle(ctx))
	require.NoError(t, f.store.Memory.UpsertCart(ctx, models.NewCartRecord("U", []models.CartLine{
		{ID: "a", ProductID: "p1", Price: decimal.NewFromInt(9), Quantity: 1},
	})))

	gate := make(chan struct{})
	f.store.mu.Lock()
	f.store.fetchGate = gate
	f.store.mu.Unlock()
	f.sess.Login("U")
	require.Eventually(t, func() bool { return len(f.store.Calls()) == 1 }, time.Second, 5*time.Millisecond)

	settled := make(chan reconcile.Outcome, 1)
	go func() { settled <- f.cart.Settle(ctx) }()
	select {
	case out := <-settled:
		close(gate)
		t.Fatalf("settle returned while the load was held: %s", out)
	case <-time.After(50 * time.Millisecond):
	}
	close(gate)

	assert.Equal(t, reconcile.OK, <-settled)
	assert.Equal(t, reconcile.Ready, f.cart.State())
	assert.Len(t, f.cart.Lines(), 1)
	assert.Equal(t, []string{"fetch"}, f.store.Calls(), "the login load is reused")

	assert.Equal(t, reconcile.OK, f.cart.Settle(ctx))
	assert.Equal(t, []string{"fetch"}, f.store.Calls())
}

func TestFailedLoadIsRetriedBeforeMutation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Memory.UpsertCart(ctx, models.NewCartRecord("U", []models.CartLine{
		{ID: "a", ProductID: "p1", Price: decimal.NewFromInt(5), Quantity: 1},
	})))

	f.store.mu.Lock()
	f.store.failFetch = errStore
	f.store.mu.Unlock()
	f.sess.Login("U")
	f.cart.loads.Wait()
	assert.Equal(t, reconcile.Loading, f.cart.State())
	assert.Equal(t, "Failed to load cart", f.inbox.Drain()[0].Message)

	f.store.mu.Lock()
	f.store.failFetch = nil
	f.store.mu.Unlock()
	require.Equal(t, reconcile.OK, f.cart.Add(ctx, teddy("p2", 1, 1)))

	// The existing remote line survives because the add was computed from a
	// confirmed fetch.
	rec, err := f.store.Memory.FetchCart(ctx, "U")
	require.NoError(t, err)
	assert.Len(t, rec.Items, 2)
}

func TestCloseStopsReactingToSession(t *testing.T) {
	f := newFixture(t)
	f.cart.Close()
	f.sess.Login("U")
	assert.Equal(t, reconcile.Unauthenticated, f.cart.State())
}
