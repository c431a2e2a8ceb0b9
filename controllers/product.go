package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"my-teddy/catalog"
	"my-teddy/models"
	"my-teddy/store"
	"my-teddy/utils"
)

// ProductController handles product-related requests
type ProductController struct {
	Store  store.ProductStore
	Logger *zap.Logger
}

// NewProductController creates a new ProductController
func NewProductController(s store.ProductStore, logger *zap.Logger) *ProductController {
	return &ProductController{Store: s, Logger: logger.Named("product_controller")}
}

type productInput struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Category    string          `json:"category"`
	Images      []string        `json:"images"`
	Materials   string          `json:"materials"`
	Size        string          `json:"size"`
	Stock       int             `json:"stock"`
}

func (in productInput) product(id string) (models.Product, string) {
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return models.Product{}, "Name is required"
	case in.Price.IsNegative():
		return models.Product{}, "Price must not be negative"
	case in.Stock < 0:
		return models.Product{}, "Stock must not be negative"
	}
	images := in.Images
	if images == nil {
		images = []string{}
	}
	return models.Product{
		ID:          id,
		Name:        name,
		Description: in.Description,
		Price:       in.Price,
		Category:    strings.TrimSpace(in.Category),
		Images:      images,
		Materials:   in.Materials,
		Size:        in.Size,
		Stock:       in.Stock,
	}, ""
}

func (pc *ProductController) storeError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		utils.WriteError(w, http.StatusNotFound, "not_found", "Product not found")
		return
	}
	pc.Logger.Error(op, zap.Error(err))
	utils.WriteError(w, http.StatusInternalServerError, "internal_error", "Error "+op)
}

// GetProducts lists products filtered and sorted by the query string
func (pc *ProductController) GetProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	products, err := pc.Store.ListProducts(ctx)
	if err != nil {
		pc.storeError(w, "fetching products", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, catalog.ParseQuery(r.URL.Query()).Apply(products))
}

// GetCategories lists "all" and every category in use
func (pc *ProductController) GetCategories(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	products, err := pc.Store.ListProducts(ctx)
	if err != nil {
		pc.storeError(w, "fetching categories", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, catalog.Categories(products))
}

// GetProductByID retrieves a single product by ID
func (pc *ProductController) GetProductByID(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	product, err := pc.Store.GetProduct(ctx, mux.Vars(r)["id"])
	if err != nil {
		pc.storeError(w, "fetching product", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, product)
}

// CreateProduct handles adding a new product (Admin only)
func (pc *ProductController) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var in productInput
	if !decode(w, r, &in) {
		return
	}
	p, problem := in.product("")
	if problem != "" {
		utils.WriteError(w, http.StatusBadRequest, "invalid_input", problem)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	created, err := pc.Store.CreateProduct(ctx, p)
	if err != nil {
		pc.storeError(w, "creating product", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, created)
}

// UpdateProduct handles updating a product (Admin only)
func (pc *ProductController) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in productInput
	if !decode(w, r, &in) {
		return
	}
	p, problem := in.product(mux.Vars(r)["id"])
	if problem != "" {
		utils.WriteError(w, http.StatusBadRequest, "invalid_input", problem)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	if err := pc.Store.UpdateProduct(ctx, p); err != nil {
		pc.storeError(w, "updating product", err)
		return
	}
	updated, err := pc.Store.GetProduct(ctx, p.ID)
	if err != nil {
		pc.storeError(w, "fetching product", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, updated)
}

// DeleteProduct handles deleting a product (Admin only)
func (pc *ProductController) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := requestContext(r)
	defer cancel()
	if err := pc.Store.DeleteProduct(ctx, mux.Vars(r)["id"]); err != nil {
		pc.storeError(w, "deleting product", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
