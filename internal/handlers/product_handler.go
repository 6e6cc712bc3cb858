package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"microtrax/internal/currency"
	"microtrax/internal/models"
)

// ProductStore is the catalog the admin endpoints maintain.
type ProductStore interface {
	GetProduct(ctx context.Context, id string) (models.Product, error)
	List(ctx context.Context, f models.ProductFilter) ([]models.Product, error)
	Save(ctx context.Context, p models.Product) error
	Delete(ctx context.Context, id string) error
}

// CacheInvalidator drops cached products after a write.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, ids ...string) error
}

type ProductHandler struct {
	Store           ProductStore
	Cache           CacheInvalidator
	DefaultCurrency string
	Logger          *slog.Logger
}

type productView struct {
	models.Product
	DisplayPrice string `json:"display_price"`
}

type productInput struct {
	ID          flexID `json:"id"`
	AppID       flexID `json:"app_id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Price       *int64 `json:"price"`
	Currency    string `json:"currency"`
	Active      *bool  `json:"active"`
}

// ListProducts handles GET /products?app_id= for game clients.
func (h *ProductHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	appID := strings.TrimSpace(getParam(r, "app_id"))
	if err := models.RequireFields("app_id", appID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	products, err := h.Store.List(r.Context(), models.ProductFilter{AppID: appID, ActiveOnly: true, Limit: queryInt(r, "limit", 0)})
	if err != nil {
		h.logger().Error("list products", "app_id", appID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not list products")
		return
	}
	out := make([]productView, 0, len(products))
	for _, p := range products {
		out = append(out, productView{Product: p, DisplayPrice: currency.FormatAmount(p.Currency, p.Price)})
	}
	writeJSON(w, http.StatusOK, out)
}

// CreateProduct handles POST /admin/products.
func (h *ProductHandler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var in productInput
	if !decodeJSON(w, r, &in) {
		return
	}
	if _, err := h.Store.GetProduct(r.Context(), string(in.ID)); err == nil {
		writeError(w, http.StatusConflict, "product "+string(in.ID)+" already exists")
		return
	}
	p := models.Product{Active: true}
	h.apply(&p, in)
	h.save(w, r, p, http.StatusCreated)
}

// UpdateProduct handles PUT /admin/products/:id. Omitted fields keep their
// stored values.
func (h *ProductHandler) UpdateProduct(w http.ResponseWriter, r *http.Request) {
	id := getParam(r, "id")
	var in productInput
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.Store.GetProduct(r.Context(), id)
	if errors.Is(err, models.ErrProductNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger().Error("load product", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "could not load product")
		return
	}
	in.ID = flexID(id)
	h.apply(&p, in)
	h.save(w, r, p, http.StatusOK)
}

// DeleteProduct handles DELETE /admin/products/:id.
func (h *ProductHandler) DeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := getParam(r, "id")
	err := h.Store.Delete(r.Context(), id)
	if errors.Is(err, models.ErrProductNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		h.logger().Error("delete product", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "could not delete product")
		return
	}
	h.invalidate(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProductHandler) apply(p *models.Product, in productInput) {
	if in.ID != "" {
		p.ID = string(in.ID)
	}
	if in.AppID != "" {
		p.AppID = string(in.AppID)
	}
	if strings.TrimSpace(in.Name) != "" {
		p.Name = strings.TrimSpace(in.Name)
	}
	if in.Description != "" {
		p.Description = in.Description
	}
	if in.Category != "" {
		p.Category = in.Category
	}
	if in.Price != nil {
		p.Price = *in.Price
	}
	if in.Currency != "" {
		p.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	}
	if p.Currency == "" {
		p.Currency = h.DefaultCurrency
	}
	if in.Active != nil {
		p.Active = *in.Active
	}
}

// save enforces the currency increment before anything is stored.
func (h *ProductHandler) save(w http.ResponseWriter, r *http.Request, p models.Product, status int) {
	if err := p.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule, err := currency.Lookup(p.Currency)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if !rule.Valid(p.Price) {
		writeError(w, http.StatusUnprocessableEntity, "price "+currency.FormatAmount(rule.Code, p.Price)+" is invalid: "+currency.Describe(rule))
		return
	}

	if err := h.Store.Save(r.Context(), p); err != nil {
		h.logger().Error("save product", "id", p.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not save product")
		return
	}
	h.invalidate(r.Context(), p.ID)
	writeJSON(w, status, productView{Product: p, DisplayPrice: currency.FormatAmount(p.Currency, p.Price)})
}

func (h *ProductHandler) invalidate(ctx context.Context, id string) {
	if h.Cache == nil {
		return
	}
	if err := h.Cache.Invalidate(ctx, id); err != nil {
		h.logger().Warn("product cache invalidation failed", "id", id, "err", err)
	}
}

func (h *ProductHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}
