package controllers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"my-teddy/checkout"
	"my-teddy/controllers"
	"my-teddy/events"
	"my-teddy/middleware"
	"my-teddy/models"
	"my-teddy/notify"
	"my-teddy/routes"
	"my-teddy/store"
	"my-teddy/storefront"
	"my-teddy/utils"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type outbox struct {
	mu   sync.Mutex
	sent []utils.Message
}

func (o *outbox) Send(_ context.Context, m utils.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, m)
	return nil
}

func (o *outbox) subjects() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.sent))
	for i, m := range o.sent {
		out[i] = m.Subject
	}
	return out
}

type harness struct {
	t         *testing.T
	store     *store.Memory
	mail      *outbox
	router    *mux.Router
	checkout  *checkout.Service
	uploadDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	mem := store.NewMemory()
	mail := &outbox{}
	tokens := utils.NewTokens("test-secret", time.Hour)
	shoppers := storefront.NewRegistry(mem, mem, time.Hour, logger)
	t.Cleanup(func() { require.NoError(t, shoppers.Close(context.Background())) })

	emails := utils.NewEmailService(mail, "http://teddy.test")
	svc := checkout.NewService(mem, events.LogPublisher{Logger: logger}, emails, logger)
	t.Cleanup(svc.Wait)
	uploadDir := t.TempDir()

	router := mux.NewRouter()
	routes.RegisterRoutes(router, routes.Controllers{
		Users:    controllers.NewUserController(mem, tokens, emails, shoppers, logger),
		Products: controllers.NewProductController(mem, logger),
		Cart:     controllers.NewCartController(mem, logger),
		Wishlist: controllers.NewWishlistController(mem, logger),
		Orders:   controllers.NewOrderController(svc, logger),
		Profile:  controllers.NewProfileController(mem, mem, uploadDir, logger),
	}, middleware.Auth(tokens, shoppers, logger), uploadDir)

	return &harness{t: t, store: mem, mail: mail, router: router, checkout: svc, uploadDir: uploadDir}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

// user stores a verified account and signs it in
func (h *harness) user(email, role string) string {
	h.t.Helper()
	hashed, err := utils.HashPassword("correct horse")
	require.NoError(h.t, err)
	_, err = h.store.CreateUser(context.Background(), models.User{
		Name:       "Shopper",
		Email:      email,
		Password:   hashed,
		Role:       role,
		IsVerified: true,
	})
	require.NoError(h.t, err)
	return h.login(email, "correct horse")
}

func (h *harness) login(email, password string) string {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/login", "", map[string]string{"email": email, "password": password})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	var body struct {
		Token string `json:"token"`
	}
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(h.t, body.Token)
	return body.Token
}

func (h *harness) product(name, price string) models.Product {
	h.t.Helper()
	p, err := h.store.CreateProduct(context.Background(), models.Product{
		Name:     name,
		Price:    decimal.RequireFromString(price),
		Category: "bears",
		Images:   []string{"/img/" + name + ".png"},
		Stock:    10,
	})
	require.NoError(h.t, err)
	return *p
}

type envelope[T any] struct {
	Outcome string          `json:"outcome"`
	Data    T               `json:"data"`
	Notices []notify.Notice `json:"notices"`
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type cartData struct {
	State string            `json:"state"`
	Items []models.CartLine `json:"items"`
	Total decimal.Decimal   `json:"total"`
}

func messages(ns []notify.Notice) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.Message
	}
	return out
}

func TestCartEndpoints(t *testing.T) {
	h := newHarness(t)
	token := h.user("ann@example.com", models.RoleUser)
	bear := h.product("Barnaby", "24.50")

	rec := h.do(http.MethodPost, "/cart", token, map[string]any{"productId": bear.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	added := decodeBody[envelope[cartData]](t, rec)
	assert.Equal(t, "ok", added.Outcome)
	require.Len(t, added.Data.Items, 1)
	line := added.Data.Items[0]
	assert.Equal(t, "Barnaby", line.Name)
	assert.Equal(t, 1, line.Quantity)
	assert.Equal(t, "/img/Barnaby.png", line.Image)
	assert.Contains(t, messages(added.Notices), "Added to cart! 🧸")

	rec = h.do(http.MethodPatch, "/cart/"+line.ID, token, map[string]int{"quantity": 3})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeBody[envelope[cartData]](t, rec)
	assert.Equal(t, "ok", updated.Outcome)
	assert.True(t, decimal.RequireFromString("73.50").Equal(updated.Data.Total), updated.Data.Total.String())

	rec = h.do(http.MethodPatch, "/cart/"+line.ID, token, map[string]int{"quantity": 0})
	assert.Equal(t, "noop", decodeBody[envelope[cartData]](t, rec).Outcome)

	rec = h.do(http.MethodGet, "/cart", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decodeBody[envelope[cartData]](t, rec)
	assert.Equal(t, "ready", current.Data.State)
	require.Len(t, current.Data.Items, 1)
	assert.Equal(t, 3, current.Data.Items[0].Quantity)
	assert.Empty(t, current.Notices, "notices are drained once")

	rec = h.do(http.MethodDelete, "/cart/"+line.ID, token, nil)
	removed := decodeBody[envelope[cartData]](t, rec)
	assert.Equal(t, "ok", removed.Outcome)
	assert.Empty(t, removed.Data.Items)

	user, err := h.store.UserByEmail(context.Background(), "ann@example.com")
	require.NoError(t, err)
	_, err = h.store.FetchCart(context.Background(), user.ID)
	assert.ErrorIs(t, err, store.ErrNotFound, "removing the last line deletes the record")
}

func TestAddToCartUnknownProduct(t *testing.T) {
	h := newHarness(t)
	token := h.user("ann@example.com", models.RoleUser)

	rec := h.do(http.MethodPost, "/cart", token, map[string]any{"productId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShopperRoutesRequireToken(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/cart", "/wishlist", "/orders", "/profile", "/notices"} {
		rec := h.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := h.do(http.MethodGet, "/cart", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWishlistEndpoints(t *testing.T) {
	h := newHarness(t)
	token := h.user("ann@example.com", models.RoleUser)
	bear := h.product("Barnaby", "24.50")

	rec := h.do(http.MethodPost, "/wishlist", token, map[string]string{"productId": bear.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	added := decodeBody[envelope[[]models.WishlistEntry]](t, rec)
	assert.Equal(t, "ok", added.Outcome)
	require.Len(t, added.Data, 1)
	entry := added.Data[0]
	require.NotNil(t, entry.Product)
	assert.Equal(t, "Barnaby", entry.Product.Name)

	rec = h.do(http.MethodPost, "/wishlist", token, map[string]string{"productId": bear.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	dup := decodeBody[envelope[[]models.WishlistEntry]](t, rec)
	assert.Equal(t, "duplicate", dup.Outcome)
	assert.Len(t, dup.Data, 1)
	require.Len(t, dup.Notices, 1)
	assert.Equal(t, notify.Info, dup.Notices[0].Kind)

	type status struct {
		InWishlist bool   `json:"inWishlist"`
		EntryID    string `json:"entryId"`
	}
	rec = h.do(http.MethodGet, "/wishlist/"+bear.ID+"/status", token, nil)
	s := decodeBody[envelope[status]](t, rec).Data
	assert.True(t, s.InWishlist)
	assert.Equal(t, entry.ID, s.EntryID)

	rec = h.do(http.MethodDelete, "/wishlist/"+entry.ID, token, nil)
	assert.Equal(t, "ok", decodeBody[envelope[[]models.WishlistEntry]](t, rec).Outcome)

	rec = h.do(http.MethodGet, "/wishlist/"+bear.ID+"/status", token, nil)
	assert.False(t, decodeBody[envelope[status]](t, rec).Data.InWishlist)
}

func TestAddToWishlistUnknownProduct(t *testing.T) {
	h := newHarness(t)
	token := h.user("ann@example.com", models.RoleUser)

	rec := h.do(http.MethodPost, "/wishlist", token, map[string]string{"productId": "missing"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
	user, err := h.store.UserByEmail(context.Background(), "ann@example.com")
	require.NoError(t, err)
	entries, err := h.store.ListWishlist(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFirstReadAfterLoginIsLoaded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bear := h.product("Barnaby", "24.50")
	hashed, err := utils.HashPassword("correct horse")
	require.NoError(t, err)
	user, err := h.store.CreateUser(ctx, models.User{
		Name: "Shopper", Email: "ann@example.com", Password: hashed, Role: models.RoleUser, IsVerified: true,
	})
	require.NoError(t, err)
	require.NoError(t, h.store.UpsertCart(ctx, models.NewCartRecord(user.ID, []models.CartLine{
		{ID: "l1", ProductID: bear.ID, Name: bear.Name, Price: bear.Price, Quantity: 2},
	})))
	_, err = h.store.InsertWishlist(ctx, user.ID, bear.ID)
	require.NoError(t, err)

	token := h.login("ann@example.com", "correct horse")

	rec := h.do(http.MethodGet, "/cart", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	current := decodeBody[envelope[cartData]](t, rec).Data
	assert.Equal(t, "ready", current.State)
	require.Len(t, current.Items, 1)
	assert.True(t, decimal.RequireFromString("49").Equal(current.Total), current.Total.String())

	rec = h.do(http.MethodGet, "/wishlist", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	saved := decodeBody[envelope[[]models.WishlistEntry]](t, rec).Data
	require.Len(t, saved, 1)
	assert.Equal(t, bear.ID, saved[0].ProductID)
}

func validForm() checkout.Form {
	return checkout.Form{
		FirstName:  "Ann",
		LastName:   "Lee",
		Email:      "ann@example.com",
		Address:    "1 Honey Lane",
		City:       "Bearville",
		ZipCode:    "12345",
		CardNumber: "4242424242424242",
		Expiry:     "12/30",
		CVV:        "123",
	}
}

func TestCheckoutEndpoint(t *testing.T) {
	h := newHarness(t)
	token := h.user("ann@example.com", models.RoleUser)
	bear := h.product("Barnaby", "24.50")

	rec := h.do(http.MethodPost, "/checkout", token, validForm())
	assert.Equal(t, http.StatusBadRequest, rec.Code, "empty cart")

	h.do(http.MethodPost, "/cart", token, map[string]any{"productId": bear.ID, "quantity": 2})

	bad := validForm()
	bad.Email = "nope"
	bad.CVV = ""
	rec = h.do(http.MethodPost, "/checkout", token, bad)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var verr struct {
		Error   string                `json:"error"`
		Details []checkout.FieldError `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verr))
	assert.Equal(t, "invalid_input", verr.Error)
	assert.ElementsMatch(t, []checkout.FieldError{
		{Field: "cvv", Message: "is required"},
		{Field: "email", Message: "is not a valid email address"},
	}, verr.Details)

	rec = h.do(http.MethodPost, "/checkout", token, validForm())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decodeBody[envelope[models.Order]](t, rec).Data
	assert.True(t, decimal.RequireFromString("49").Equal(order.Total))
	assert.Equal(t, models.OrderStatusProcessing, order.OrderStatus)
	h.checkout.Wait()
	assert.Contains(t, h.mail.subjects(), "Order Confirmation")

	rec = h.do(http.MethodGet, "/cart", token, nil)
	assert.Empty(t, decodeBody[envelope[cartData]](t, rec).Data.Items)

	rec = h.do(http.MethodGet, "/orders", token, nil)
	orders := decodeBody[envelope[[]models.Order]](t, rec).Data
	require.Len(t, orders, 1)
	assert.Equal(t, order.ID, orders[0].ID)
}

func TestProfileEndpoints(t *testing.T) {
	h := newHarness(t)
	token := h.user("ann@example.com", models.RoleUser)

	rec := h.do(http.MethodGet, "/profile", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `null`, string(decodeBody[map[string]json.RawMessage](t, rec)["profile"]))

	rec = h.do(http.MethodPut, "/profile", token, map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPut, "/profile", token, map[string]string{"name": "Ann Lee", "city": "Bearville", "phone": ""})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	p := decodeBody[models.Profile](t, rec)
	require.NotNil(t, p.Name)
	assert.Equal(t, "Ann Lee", *p.Name)
	require.NotNil(t, p.City)
	assert.Nil(t, p.Phone)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 200, G: 150, B: 90, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func upload(t *testing.T, h *harness, token, field string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile(field, "bear.png")
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/profile/avatar", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func TestUploadAvatar(t *testing.T) {
	h := newHarness(t)
	token := h.user("ann@example.com", models.RoleUser)
	user, err := h.store.UserByEmail(context.Background(), "ann@example.com")
	require.NoError(t, err)

	rec := upload(t, h, token, "avatar", []byte("plain text, not an image"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(t, h, token, "picture", pngBytes(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(t, h, token, "avatar", pngBytes(t))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	want := "/uploads/avatars/" + user.ID + "/avatar.png"
	assert.JSONEq(t, `{"avatar_url":"`+want+`"}`, rec.Body.String())

	_, err = os.Stat(filepath.Join(h.uploadDir, "avatars", user.ID, "avatar.png"))
	require.NoError(t, err)

	p, err := h.store.GetProfile(context.Background(), user.ID)
	require.NoError(t, err)
	require.NotNil(t, p.AvatarURL)
	assert.Equal(t, want, *p.AvatarURL)

	rec = h.do(http.MethodGet, want, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProductAdminEndpoints(t *testing.T) {
	h := newHarness(t)
	admin := h.user("admin@example.com", models.RoleAdmin)
	shopper := h.user("ann@example.com", models.RoleUser)
	input := map[string]any{"name": "Barnaby", "price": 24.5, "category": "bears", "stock": 3}

	rec := h.do(http.MethodPost, "/products", shopper, input)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = h.do(http.MethodPost, "/products", "", input)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/products", admin, map[string]any{"name": "", "price": 1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/products", admin, input)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[models.Product](t, rec)
	require.NotEmpty(t, created.ID)

	rec = h.do(http.MethodGet, "/products/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Barnaby", decodeBody[models.Product](t, rec).Name)

	input["name"] = "Barnaby Bear"
	rec = h.do(http.MethodPut, "/products/"+created.ID, admin, input)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Barnaby Bear", decodeBody[models.Product](t, rec).Name)

	rec = h.do(http.MethodPut, "/products/missing", admin, input)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodDelete, "/products/"+created.ID, admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = h.do(http.MethodGet, "/products/"+created.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProductListing(t *testing.T) {
	h := newHarness(t)
	h.product("Barnaby", "24.50")
	h.product("Albert", "12.00")
	cheap, err := h.store.CreateProduct(context.Background(), models.Product{
		Name: "Bunny", Price: decimal.RequireFromString("8"), Category: "rabbits", Images: []string{},
	})
	require.NoError(t, err)

	rec := h.do(http.MethodGet, "/products?category=bears&sort=price-asc", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	products := decodeBody[[]models.Product](t, rec)
	require.Len(t, products, 2)
	assert.Equal(t, "Albert", products[0].Name)

	rec = h.do(http.MethodGet, "/products?search=bun", "", nil)
	products = decodeBody[[]models.Product](t, rec)
	require.Len(t, products, 1)
	assert.Equal(t, cheap.ID, products[0].ID)

	rec = h.do(http.MethodGet, "/categories", "", nil)
	categories := decodeBody[[]string](t, rec)
	require.NotEmpty(t, categories)
	assert.Equal(t, "all", categories[0])
	assert.ElementsMatch(t, []string{"all", "bears", "rabbits"}, categories)
}

func TestRegisterVerifyLogin(t *testing.T) {
	h := newHarness(t)
	creds := map[string]string{"name": "Ann", "email": "Ann@Example.com", "password": "correct horse"}

	rec := h.do(http.MethodPost, "/register", "", map[string]string{"email": "ann@example.com", "password": "short"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/register", "", creds)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"Verify Your Email"}, h.mail.subjects())

	rec = h.do(http.MethodPost, "/register", "", creds)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPost, "/login", "", map[string]string{"email": "ann@example.com", "password": "correct horse"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "unverified")

	user, err := h.store.UserByEmail(context.Background(), "ann@example.com")
	require.NoError(t, err)
	rec = h.do(http.MethodGet, "/verify?token=garbage", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = h.do(http.MethodGet, "/verify?token="+user.VerificationToken, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.do(http.MethodPost, "/login", "", map[string]string{"email": "ann@example.com", "password": "wrong password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := h.login("ann@example.com", "correct horse")
	rec = h.do(http.MethodGet, "/cart", token, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLogoutEndsSession(t *testing.T) {
	h := newHarness(t)
	token := h.user("ann@example.com", models.RoleUser)
	other := h.login("ann@example.com", "correct horse")

	rec := h.do(http.MethodPost, "/logout", token, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = h.do(http.MethodGet, "/cart", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodGet, "/cart", other, nil)
	assert.Equal(t, http.StatusOK, rec.Code, "other sessions stay open")
}
