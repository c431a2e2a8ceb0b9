package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"my-teddy/models"
)

// Memory is an in-process Store. It enforces the same uniqueness rules as
// the database backends and is used for development and tests.
type Memory struct {
	mu       sync.RWMutex
	carts    map[string]models.CartRecord
	wishlist map[string]models.WishlistEntry
	products map[string]models.Product
	orders   []models.Order
	profiles map[string]models.Profile
	users    map[string]models.User

	now func() time.Time
}

// NewMemory returns an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		carts:    make(map[string]models.CartRecord),
		wishlist: make(map[string]models.WishlistEntry),
		products: make(map[string]models.Product),
		profiles: make(map[string]models.Profile),
		users:    make(map[string]models.User),
		now:      time.Now,
	}
}

func (m *Memory) Close(context.Context) error { return nil }

func copyLines(lines []models.CartLine) []models.CartLine {
	out := make([]models.CartLine, len(lines))
	copy(out, lines)
	return out
}

func (m *Memory) FetchCart(_ context.Context, owner string) (*models.CartRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.carts[owner]
	if !ok {
		return nil, ErrNotFound
	}
	rec.Items = copyLines(rec.Items)
	return &rec, nil
}

func (m *Memory) UpsertCart(_ context.Context, rec models.CartRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Items = copyLines(rec.Items)
	m.carts[rec.Owner] = rec
	return nil
}

func (m *Memory) UpdateCart(_ context.Context, rec models.CartRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// An update matching no row is not an error, as with UPDATE ... WHERE.
	if _, ok := m.carts[rec.Owner]; !ok {
		return nil
	}
	rec.Items = copyLines(rec.Items)
	m.carts[rec.Owner] = rec
	return nil
}

func (m *Memory) DeleteCart(_ context.Context, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, owner)
	return nil
}

func (m *Memory) ListWishlist(_ context.Context, owner string) ([]models.WishlistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.WishlistEntry{}
	for _, e := range m.wishlist {
		if e.Owner != owner {
			continue
		}
		if p, ok := m.products[e.ProductID]; ok {
			e.Product = &p
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) InsertWishlist(_ context.Context, owner, productID string) (*models.WishlistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.wishlist {
		if e.Owner == owner && e.ProductID == productID {
			return nil, ErrDuplicate
		}
	}
	e := models.WishlistEntry{
		ID:        uuid.NewString(),
		Owner:     owner,
		ProductID: productID,
		CreatedAt: m.now(),
	}
	m.wishlist[e.ID] = e
	return &e, nil
}

func (m *Memory) DeleteWishlist(_ context.Context, owner, entryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.wishlist[entryID]; ok && e.Owner == owner {
		delete(m.wishlist, entryID)
	}
	return nil
}

func (m *Memory) ListProducts(context.Context) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetProduct(_ context.Context, id string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) CreateProduct(_ context.Context, p models.Product) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if _, ok := m.products[p.ID]; ok {
		return nil, ErrDuplicate
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	m.products[p.ID] = p
	return &p, nil
}

func (m *Memory) UpdateProduct(_ context.Context, p models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.products[p.ID]
	if !ok {
		return ErrNotFound
	}
	p.CreatedAt = old.CreatedAt
	m.products[p.ID] = p
	return nil
}

func (m *Memory) DeleteProduct(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return ErrNotFound
	}
	delete(m.products, id)
	return nil
}

func (m *Memory) InsertOrder(_ context.Context, o models.Order) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ID = uuid.NewString()
	o.Items = copyLines(o.Items)
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.now()
	}
	m.orders = append(m.orders, o)
	return &o, nil
}

func (m *Memory) ListOrders(_ context.Context, owner string) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []models.Order{}
	for i := len(m.orders) - 1; i >= 0; i-- {
		if m.orders[i].Owner == owner {
			out = append(out, m.orders[i])
		}
	}
	return out, nil
}

func (m *Memory) GetProfile(_ context.Context, owner string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[owner]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *Memory) UpsertProfile(_ context.Context, p models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// The avatar is only ever written by SetAvatar.
	p.AvatarURL = m.profiles[p.Owner].AvatarURL
	m.profiles[p.Owner] = p
	return nil
}

func (m *Memory) SetAvatar(_ context.Context, owner, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profiles[owner]
	p.Owner = owner
	p.AvatarURL = &url
	m.profiles[owner] = p
	return nil
}

func (m *Memory) CreateUser(_ context.Context, u models.User) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return nil, ErrDuplicate
		}
	}
	u.ID = uuid.NewString()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now()
	}
	m.users[u.ID] = u
	return &u, nil
}

func (m *Memory) UserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) UserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (m *Memory) UserByVerificationToken(_ context.Context, token string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if token != "" && u.VerificationToken == token {
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) MarkVerified(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.IsVerified = true
	u.VerificationToken = ""
	m.users[id] = u
	return nil
}
