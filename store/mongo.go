package store

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"my-teddy/models"
)

// Mongo is a Store backed by a MongoDB database
type Mongo struct {
	client   *mongo.Client
	carts    *mongo.Collection
	wishlist *mongo.Collection
	products *mongo.Collection
	orders   *mongo.Collection
	profiles *mongo.Collection
	users    *mongo.Collection

	now func() time.Time
}

// ConnectMongo dials uri and returns a store over database name
func ConnectMongo(ctx context.Context, uri, name string) (*Mongo, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}
	m := NewMongo(client.Database(name))
	m.client = client
	return m, nil
}

// NewMongo returns a store over an already connected database
func NewMongo(db *mongo.Database) *Mongo {
	opts := options.Collection().SetRegistry(decimalRegistry())
	return &Mongo{
		carts:    db.Collection("carts", opts),
		wishlist: db.Collection("wishlist", opts),
		products: db.Collection("products", opts),
		orders:   db.Collection("orders", opts),
		profiles: db.Collection("profiles", opts),
		users:    db.Collection("users", opts),
		now:      time.Now,
	}
}

// Close disconnects the client when the store owns it
func (m *Mongo) Close(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.Disconnect(ctx)
}

// EnsureIndexes creates the uniqueness constraints the reconcilers rely on
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := []struct {
		coll  *mongo.Collection
		model mongo.IndexModel
	}{
		{m.carts, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: unique}},
		{m.wishlist, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "product_id", Value: 1}}, Options: unique}},
		{m.profiles, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}}, Options: unique}},
		{m.users, mongo.IndexModel{Keys: bson.D{{Key: "email", Value: 1}}, Options: unique}},
		{m.orders, mongo.IndexModel{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}}},
		{m.products, mongo.IndexModel{Keys: bson.D{{Key: "created_at", Value: -1}}}},
	}
	for _, idx := range indexes {
		if _, err := idx.coll.Indexes().CreateOne(ctx, idx.model); err != nil {
			return fmt.Errorf("creating index on %s: %w", idx.coll.Name(), err)
		}
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (m *Mongo) FetchCart(ctx context.Context, owner string) (*models.CartRecord, error) {
	var rec models.CartRecord
	if err := m.carts.FindOne(ctx, bson.M{"user_id": owner}).Decode(&rec); err != nil {
		return nil, notFound(err)
	}
	return &rec, nil
}

func (m *Mongo) UpsertCart(ctx context.Context, rec models.CartRecord) error {
	_, err := m.carts.ReplaceOne(ctx, bson.M{"user_id": rec.Owner}, rec, options.Replace().SetUpsert(true))
	return err
}

func (m *Mongo) UpdateCart(ctx context.Context, rec models.CartRecord) error {
	_, err := m.carts.UpdateOne(ctx, bson.M{"user_id": rec.Owner}, bson.M{
		"$set": bson.M{"items": rec.Items, "total": rec.Total},
	})
	return err
}

func (m *Mongo) DeleteCart(ctx context.Context, owner string) error {
	_, err := m.carts.DeleteOne(ctx, bson.M{"user_id": owner})
	return err
}

func (m *Mongo) ListWishlist(ctx context.Context, owner string) ([]models.WishlistEntry, error) {
	cursor, err := m.wishlist.Find(ctx, bson.M{"user_id": owner},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	entries := []models.WishlistEntry{}
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return entries, nil
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ProductID)
	}
	cursor, err = m.products.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var products []models.Product
	if err := cursor.All(ctx, &products); err != nil {
		return nil, err
	}
	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	for i := range entries {
		if p, ok := byID[entries[i].ProductID]; ok {
			entries[i].Product = &p
		}
	}
	return entries, nil
}

func (m *Mongo) InsertWishlist(ctx context.Context, owner, productID string) (*models.WishlistEntry, error) {
	e := models.WishlistEntry{
		ID:        uuid.NewString(),
		Owner:     owner,
		ProductID: productID,
		CreatedAt: m.now().UTC(),
	}
	if _, err := m.wishlist.InsertOne(ctx, e); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &e, nil
}

func (m *Mongo) DeleteWishlist(ctx context.Context, owner, entryID string) error {
	_, err := m.wishlist.DeleteOne(ctx, bson.M{"_id": entryID, "user_id": owner})
	return err
}

func (m *Mongo) ListProducts(ctx context.Context) ([]models.Product, error) {
	cursor, err := m.products.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	products := []models.Product{}
	if err := cursor.All(ctx, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (m *Mongo) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	if err := m.products.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (m *Mongo) CreateProduct(ctx context.Context, p models.Product) (*models.Product, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now().UTC()
	}
	if _, err := m.products.InsertOne(ctx, p); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &p, nil
}

func (m *Mongo) UpdateProduct(ctx context.Context, p models.Product) error {
	result, err := m.products.UpdateOne(ctx, bson.M{"_id": p.ID}, bson.M{
		"$set": bson.M{
			"name":        p.Name,
			"description": p.Description,
			"price":       p.Price,
			"category":    p.Category,
			"images":      p.Images,
			"materials":   p.Materials,
			"size":        p.Size,
			"stock":       p.Stock,
		},
	})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) DeleteProduct(ctx context.Context, id string) error {
	result, err := m.products.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (m *Mongo) InsertOrder(ctx context.Context, o models.Order) (*models.Order, error) {
	o.ID = uuid.NewString()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = m.now().UTC()
	}
	if _, err := m.orders.InsertOne(ctx, o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (m *Mongo) ListOrders(ctx context.Context, owner string) ([]models.Order, error) {
	cursor, err := m.orders.Find(ctx, bson.M{"user_id": owner},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	orders := []models.Order{}
	if err := cursor.All(ctx, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (m *Mongo) GetProfile(ctx context.Context, owner string) (*models.Profile, error) {
	var p models.Profile
	if err := m.profiles.FindOne(ctx, bson.M{"user_id": owner}).Decode(&p); err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (m *Mongo) UpsertProfile(ctx context.Context, p models.Profile) error {
	_, err := m.profiles.UpdateOne(ctx, bson.M{"user_id": p.Owner}, bson.M{
		"$set": bson.M{
			"name":          p.Name,
			"phone":         p.Phone,
			"address_line1": p.AddressLine1,
			"address_line2": p.AddressLine2,
			"city":          p.City,
			"state":         p.State,
			"postal_code":   p.PostalCode,
			"country":       p.Country,
		},
	}, options.Update().SetUpsert(true))
	return err
}

func (m *Mongo) SetAvatar(ctx context.Context, owner, url string) error {
	_, err := m.profiles.UpdateOne(ctx, bson.M{"user_id": owner},
		bson.M{"$set": bson.M{"avatar_url": url}}, options.Update().SetUpsert(true))
	return err
}

func (m *Mongo) CreateUser(ctx context.Context, u models.User) (*models.User, error) {
	u.ID = uuid.NewString()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = m.now().UTC()
	}
	if _, err := m.users.InsertOne(ctx, u); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return &u, nil
}

func (m *Mongo) findUser(ctx context.Context, filter bson.M) (*models.User, error) {
	var u models.User
	if err := m.users.FindOne(ctx, filter).Decode(&u); err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

func (m *Mongo) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return m.findUser(ctx, bson.M{"email": email})
}

func (m *Mongo) UserByID(ctx context.Context, id string) (*models.User, error) {
	return m.findUser(ctx, bson.M{"_id": id})
}

func (m *Mongo) UserByVerificationToken(ctx context.Context, token string) (*models.User, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	return m.findUser(ctx, bson.M{"verification_token": token})
}

func (m *Mongo) MarkVerified(ctx context.Context, id string) error {
	result, err := m.users.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"is_verified":        true,
			"verification_token": "",
		},
	})
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

var tDecimal = reflect.TypeOf(decimal.Decimal{})

// decimalRegistry stores decimal.Decimal values as BSON Decimal128.
func decimalRegistry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(tDecimal, bsoncodec.ValueEncoderFunc(encodeDecimal))
	reg.RegisterTypeDecoder(tDecimal, bsoncodec.ValueDecoderFunc(decodeDecimal))
	return reg
}

func encodeDecimal(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != tDecimal {
		return bsoncodec.ValueEncoderError{Name: "encodeDecimal", Types: []reflect.Type{tDecimal}, Received: val}
	}
	d := val.Interface().(decimal.Decimal)
	d128, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return fmt.Errorf("encoding decimal %s: %w", d, err)
	}
	return vw.WriteDecimal128(d128)
}

func decodeDecimal(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != tDecimal {
		return bsoncodec.ValueDecoderError{Name: "decodeDecimal", Types: []reflect.Type{tDecimal}, Received: val}
	}

	var d decimal.Decimal
	switch vr.Type() {
	case bson.TypeDecimal128:
		d128, err := vr.ReadDecimal128()
		if err != nil {
			return err
		}
		if d, err = decimal.NewFromString(d128.String()); err != nil {
			return err
		}
	case bson.TypeDouble:
		f, err := vr.ReadDouble()
		if err != nil {
			return err
		}
		d = decimal.NewFromFloat(f)
	case bson.TypeInt32:
		i, err := vr.ReadInt32()
		if err != nil {
			return err
		}
		d = decimal.NewFromInt32(i)
	case bson.TypeInt64:
		i, err := vr.ReadInt64()
		if err != nil {
			return err
		}
		d = decimal.NewFromInt(i)
	case bson.TypeString:
		s, err := vr.ReadString()
		if err != nil {
			return err
		}
		if d, err = decimal.NewFromString(s); err != nil {
			return err
		}
	case bson.TypeNull:
		if err := vr.ReadNull(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("cannot decode %v into a decimal", vr.Type())
	}
	val.Set(reflect.ValueOf(d))
	return nil
}
