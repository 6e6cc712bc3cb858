package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"microtrax/internal/export"
	"microtrax/internal/models"
)

// ProductLister is the read side of the catalog.
type ProductLister interface {
	List(ctx context.Context, f models.ProductFilter) ([]models.Product, error)
}

// ItemDefPublisher uploads a rendered itemdef file.
type ItemDefPublisher interface {
	Publish(ctx context.Context, file export.ItemDefFile) (string, error)
}

type ItemDefHandler struct {
	Catalog   ProductLister
	Publisher ItemDefPublisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Preview handles GET /admin/itemdef?app_id= and returns the document
// Steam expects, as a download.
func (h *ItemDefHandler) Preview(w http.ResponseWriter, r *http.Request) {
	file, ok := h.build(w, r)
	if !ok {
		return
	}
	body, err := file.Marshal()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.ObjectKey("", file.AppID)+`"`)
	_, _ = w.Write(body)
}

// Publish handles POST /admin/itemdef/publish?app_id=.
func (h *ItemDefHandler) Publish(w http.ResponseWriter, r *http.Request) {
	if h.Publisher == nil {
		writeError(w, http.StatusServiceUnavailable, "itemdef export storage is not configured")
		return
	}
	file, ok := h.build(w, r)
	if !ok {
		return
	}
	location, err := h.Publisher.Publish(r.Context(), file)
	if err != nil {
		h.Logger.Error("publish itemdef", "app_id", file.AppID, "err", err)
		writeError(w, http.StatusBadGateway, "could not publish itemdef")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"location": location, "items": len(file.Items), "version": file.Version})
}

func (h *ItemDefHandler) build(w http.ResponseWriter, r *http.Request) (export.ItemDefFile, bool) {
	appID := strings.TrimSpace(getParam(r, "app_id"))
	if err := models.RequireFields("app_id", appID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return export.ItemDefFile{}, false
	}
	products, err := h.Catalog.List(r.Context(), models.ProductFilter{AppID: appID, ActiveOnly: true})
	if err != nil {
		h.Logger.Error("list products for itemdef", "app_id", appID, "err", err)
		writeError(w, http.StatusInternalServerError, "could not list products")
		return export.ItemDefFile{}, false
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	file, skipped, err := export.BuildItemDefs(appID, products, now())
	if errors.Is(err, models.ErrClientInput) {
		writeError(w, http.StatusBadRequest, err.Error())
		return export.ItemDefFile{}, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return export.ItemDefFile{}, false
	}
	if len(skipped) > 0 {
		h.Logger.Warn("products without numeric item ids left out of itemdef", "app_id", appID, "ids", skipped)
	}
	return file, true
}
