package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"my-teddy/models"
)

//go:embed schema.sql
var schema string

// uniqueViolation is the Postgres SQLSTATE for a unique constraint breach.
const uniqueViolation = "23505"

// Postgres is a Store backed by a Postgres database
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and verifies the connection
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return NewPostgres(db), nil
}

// NewPostgres wraps an existing handle
func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (s *Postgres) Close(context.Context) error { return s.db.Close() }

// Migrate applies the schema. Statements are idempotent.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *Postgres) FetchCart(ctx context.Context, owner string) (*models.CartRecord, error) {
	rec := models.CartRecord{Owner: owner}
	var items []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT items, total FROM carts WHERE user_id = $1`, owner,
	).Scan(&items, &rec.Total)
	if err != nil {
		return nil, noRows(err)
	}
	if err := json.Unmarshal(items, &rec.Items); err != nil {
		return nil, fmt.Errorf("decoding cart items: %w", err)
	}
	return &rec, nil
}

func (s *Postgres) UpsertCart(ctx context.Context, rec models.CartRecord) error {
	items, err := json.Marshal(rec.Items)
	if err != nil {
		return fmt.Errorf("encoding cart items: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO carts (user_id, items, total, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id)
		DO UPDATE SET items = EXCLUDED.items, total = EXCLUDED.total, updated_at = now()
	`, rec.Owner, items, rec.Total)
	return err
}

func (s *Postgres) UpdateCart(ctx context.Context, rec models.CartRecord) error {
	items, err := json.Marshal(rec.Items)
	if err != nil {
		return fmt.Errorf("encoding cart items: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE carts SET items = $2, total = $3, updated_at = now() WHERE user_id = $1`,
		rec.Owner, items, rec.Total)
	return err
}

func (s *Postgres) DeleteCart(ctx context.Context, owner string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM carts WHERE user_id = $1`, owner)
	return err
}

const productColumns = `p.id, p.name, p.description, p.price, p.category, p.images, p.materials, p.size, p.stock, p.created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(row scanner, extra ...any) (models.Product, error) {
	var p models.Product
	dest := append(extra,
		&p.ID, &p.Name, &p.Description, &p.Price, &p.Category,
		pq.Array(&p.Images), &p.Materials, &p.Size, &p.Stock, &p.CreatedAt)
	err := row.Scan(dest...)
	return p, err
}

func (s *Postgres) ListWishlist(ctx context.Context, owner string) ([]models.WishlistEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT w.id, w.product_id, w.created_at, `+productColumns+`
		FROM wishlist w
		JOIN products p ON p.id = w.product_id
		WHERE w.user_id = $1
		ORDER BY w.created_at
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.WishlistEntry{}
	for rows.Next() {
		e := models.WishlistEntry{Owner: owner}
		p, err := scanProduct(rows, &e.ID, &e.ProductID, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		e.Product = &p
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Postgres) InsertWishlist(ctx context.Context, owner, productID string) (*models.WishlistEntry, error) {
	e := models.WishlistEntry{Owner: owner, ProductID: productID}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO wishlist (user_id, product_id) VALUES ($1, $2) RETURNING id, created_at`,
		owner, productID,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &e, nil
}

func (s *Postgres) DeleteWishlist(ctx context.Context, owner, entryID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM wishlist WHERE id = $1 AND user_id = $2`, entryID, owner)
	return err
}

func (s *Postgres) ListProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products p ORDER BY p.created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Postgres) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products p WHERE p.id = $1`, id))
	if err != nil {
		return nil, noRows(err)
	}
	return &p, nil
}

func (s *Postgres) CreateProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (name, description, price, category, images, materials, size, stock)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`, p.Name, p.Description, p.Price, p.Category, pq.Array(p.Images), p.Materials, p.Size, p.Stock,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Postgres) UpdateProduct(ctx context.Context, p models.Product) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, description = $3, price = $4, category = $5,
		    images = $6, materials = $7, size = $8, stock = $9
		WHERE id = $1
	`, p.ID, p.Name, p.Description, p.Price, p.Category, pq.Array(p.Images), p.Materials, p.Size, p.Stock)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func (s *Postgres) DeleteProduct(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) InsertOrder(ctx context.Context, o models.Order) (*models.Order, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, fmt.Errorf("encoding order items: %w", err)
	}
	shipping, err := json.Marshal(o.ShippingInfo)
	if err != nil {
		return nil, fmt.Errorf("encoding shipping info: %w", err)
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO orders (user_id, items, shipping_info, total, order_status, payment_status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, o.Owner, items, shipping, o.Total, o.OrderStatus, string(o.PaymentStatus),
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *Postgres) ListOrders(ctx context.Context, owner string) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, items, shipping_info, total, order_status, payment_status, created_at
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		o := models.Order{Owner: owner}
		var items, shipping []byte
		var payment string
		if err := rows.Scan(&o.ID, &items, &shipping, &o.Total, &o.OrderStatus, &payment, &o.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("decoding order items: %w", err)
		}
		if err := json.Unmarshal(shipping, &o.ShippingInfo); err != nil {
			return nil, fmt.Errorf("decoding shipping info: %w", err)
		}
		o.PaymentStatus = models.PaymentStatus(payment)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *Postgres) GetProfile(ctx context.Context, owner string) (*models.Profile, error) {
	p := models.Profile{Owner: owner}
	err := s.db.QueryRowContext(ctx, `
		SELECT name, phone, address_line1, address_line2, city, state, postal_code, country, avatar_url
		FROM profiles WHERE user_id = $1
	`, owner).Scan(&p.Name, &p.Phone, &p.AddressLine1, &p.AddressLine2,
		&p.City, &p.State, &p.PostalCode, &p.Country, &p.AvatarURL)
	if err != nil {
		return nil, noRows(err)
	}
	return &p, nil
}

func (s *Postgres) UpsertProfile(ctx context.Context, p models.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, name, phone, address_line1, address_line2, city, state, postal_code, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name, phone = EXCLUDED.phone,
			address_line1 = EXCLUDED.address_line1, address_line2 = EXCLUDED.address_line2,
			city = EXCLUDED.city, state = EXCLUDED.state,
			postal_code = EXCLUDED.postal_code, country = EXCLUDED.country
	`, p.Owner, p.Name, p.Phone, p.AddressLine1, p.AddressLine2, p.City, p.State, p.PostalCode, p.Country)
	return err
}

func (s *Postgres) SetAvatar(ctx context.Context, owner, url string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, avatar_url) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET avatar_url = EXCLUDED.avatar_url
	`, owner, url)
	return err
}

const userColumns = `id, name, email, password, role, is_verified, verification_token, created_at`

func scanUser(row scanner) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Password, &u.Role, &u.IsVerified, &u.VerificationToken, &u.CreatedAt)
	if err != nil {
		return nil, noRows(err)
	}
	return &u, nil
}

func (s *Postgres) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (name, email, password, role, is_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, u.Name, u.Email, u.Password, u.Role, u.IsVerified, u.VerificationToken,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &u, nil
}

func (s *Postgres) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

func (s *Postgres) UserByID(ctx context.Context, id string) (*models.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (s *Postgres) UserByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE verification_token = $1`, token))
}

func (s *Postgres) MarkVerified(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_verified = true, verification_token = '' WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return requireAffected(result)
}
