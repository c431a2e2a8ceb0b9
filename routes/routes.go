// Package routes wires the controllers to the HTTP router
package routes

import (
	"net/http"

	"github.com/gorilla/mux"

	"my-teddy/controllers"
	"my-teddy/middleware"
)

// Controllers groups the handlers registered on the router
type Controllers struct {
	Users    *controllers.UserController
	Products *controllers.ProductController
	Cart     *controllers.CartController
	Wishlist *controllers.WishlistController
	Orders   *controllers.OrderController
	Profile  *controllers.ProfileController
	Notices  controllers.NoticesController
}

// RegisterRoutes sets up all the routes for the application. auth guards
// every signed-in route; uploadDir is served under /uploads/.
func RegisterRoutes(router *mux.Router, c Controllers, auth mux.MiddlewareFunc, uploadDir string) {
	// Public routes
	router.HandleFunc("/register", c.Users.Register).Methods(http.MethodPost)
	router.HandleFunc("/login", c.Users.Login).Methods(http.MethodPost)
	router.HandleFunc("/verify", c.Users.VerifyEmail).Methods(http.MethodGet)
	router.HandleFunc("/products", c.Products.GetProducts).Methods(http.MethodGet)
	router.HandleFunc("/products/{id}", c.Products.GetProductByID).Methods(http.MethodGet)
	router.HandleFunc("/categories", c.Products.GetCategories).Methods(http.MethodGet)
	router.PathPrefix("/uploads/").Handler(http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploadDir)))).Methods(http.MethodGet)

	// Admin routes
	admin := router.PathPrefix("/products").Subrouter()
	admin.Use(auth)
	admin.Use(middleware.AdminMiddleware)
	admin.HandleFunc("", c.Products.CreateProduct).Methods(http.MethodPost)
	admin.HandleFunc("/{id}", c.Products.UpdateProduct).Methods(http.MethodPut)
	admin.HandleFunc("/{id}", c.Products.DeleteProduct).Methods(http.MethodDelete)

	// Protected routes
	protected := router.NewRoute().Subrouter()
	protected.Use(auth)
	protected.HandleFunc("/logout", c.Users.Logout).Methods(http.MethodPost)
	protected.HandleFunc("/notices", c.Notices.GetNotices).Methods(http.MethodGet)

	protected.HandleFunc("/cart", c.Cart.GetCart).Methods(http.MethodGet)
	protected.HandleFunc("/cart", c.Cart.AddToCart).Methods(http.MethodPost)
	protected.HandleFunc("/cart", c.Cart.ClearCart).Methods(http.MethodDelete)
	protected.HandleFunc("/cart/{lineId}", c.Cart.UpdateQuantity).Methods(http.MethodPatch)
	protected.HandleFunc("/cart/{lineId}", c.Cart.RemoveFromCart).Methods(http.MethodDelete)

	protected.HandleFunc("/wishlist", c.Wishlist.GetWishlist).Methods(http.MethodGet)
	protected.HandleFunc("/wishlist", c.Wishlist.AddToWishlist).Methods(http.MethodPost)
	protected.HandleFunc("/wishlist/{entryId}", c.Wishlist.RemoveFromWishlist).Methods(http.MethodDelete)
	protected.HandleFunc("/wishlist/{productId}/status", c.Wishlist.WishlistStatus).Methods(http.MethodGet)

	protected.HandleFunc("/checkout", c.Orders.CreateOrder).Methods(http.MethodPost)
	protected.HandleFunc("/orders", c.Orders.GetOrders).Methods(http.MethodGet)

	protected.HandleFunc("/profile", c.Profile.GetProfile).Methods(http.MethodGet)
	protected.HandleFunc("/profile", c.Profile.UpdateProfile).Methods(http.MethodPut)
	protected.HandleFunc("/profile/avatar", c.Profile.UploadAvatar).Methods(http.MethodPost)
}
