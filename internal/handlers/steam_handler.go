package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"microtrax/internal/models"
	"microtrax/internal/services"
)

// PurchaseFlow is what the request surface needs from the orchestrator.
type PurchaseFlow interface {
	CheckUserReliability(ctx context.Context, userID string) (models.UserReliability, error)
	CheckAppOwnership(ctx context.Context, userID, appID string) (bool, error)
	Initiate(ctx context.Context, req services.InitiateRequest) (models.Transaction, error)
	Finalize(ctx context.Context, orderID, appID string) (services.FinalizeResult, error)
	QueryStatus(ctx context.Context, orderID, transID, appID string) (models.StatusSnapshot, error)
}

type SteamHandler struct {
	Service PurchaseFlow
	Logger  *slog.Logger
}

func NewSteamHandler(s PurchaseFlow, logger *slog.Logger) *SteamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SteamHandler{Service: s, Logger: logger}
}

// flexID accepts ids sent either as JSON strings or numbers; game clients
// routinely send steam and app ids as numbers.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type reliabilityRequest struct {
	UserID flexID `json:"user_id"`
}

type ownershipRequest struct {
	UserID flexID `json:"user_id"`
	AppID  flexID `json:"app_id"`
}

type initPurchaseRequest struct {
	AppID           flexID `json:"app_id"`
	Category        string `json:"category"`
	ItemDescription string `json:"item_description"`
	ItemID          flexID `json:"item_id"`
	OrderID         flexID `json:"order_id"`
	UserID          flexID `json:"user_id"`
	Quantity        int    `json:"quantity"`
	Language        string `json:"language"`
}

type finalizeRequest struct {
	OrderID flexID `json:"order_id"`
	AppID   flexID `json:"app_id"`
}

type statusRequest struct {
	AppID   flexID `json:"app_id"`
	OrderID flexID `json:"order_id"`
	TransID flexID `json:"trans_id"`
}

type statusResponse struct {
	Success  bool              `json:"success"`
	OrderID  string            `json:"order_id"`
	TransID  string            `json:"trans_id"`
	UserID   string            `json:"user_id"`
	Status   string            `json:"status"`
	State    string            `json:"state"`
	Currency string            `json:"currency"`
	Time     string            `json:"time"`
	Country  string            `json:"country"`
	Region   string            `json:"region"`
	Items    []models.LineItem `json:"items"`
}

// CheckUserReliability handles POST /steam/user/reliability.
func (h *SteamHandler) CheckUserReliability(w http.ResponseWriter, r *http.Request) {
	var req reliabilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := models.RequireFields("user_id", string(req.UserID)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	verdict, err := h.Service.CheckUserReliability(r.Context(), string(req.UserID))
	if err != nil {
		h.fail(w, "CheckUserReliability", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": verdict.Reliable})
}

// CheckAppOwnership handles POST /steam/app/ownership.
func (h *SteamHandler) CheckAppOwnership(w http.ResponseWriter, r *http.Request) {
	var req ownershipRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := models.RequireFields("user_id", string(req.UserID), "app_id", string(req.AppID)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	owns, err := h.Service.CheckAppOwnership(r.Context(), string(req.UserID), string(req.AppID))
	if err != nil {
		h.fail(w, "CheckAppOwnership", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": owns})
}

// InitPurchase handles POST /steam/purchase/init.
func (h *SteamHandler) InitPurchase(w http.ResponseWriter, r *http.Request) {
	var req initPurchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := models.RequireFields(
		"app_id", string(req.AppID),
		"category", req.Category,
		"item_description", req.ItemDescription,
		"item_id", string(req.ItemID),
		"order_id", string(req.OrderID),
		"user_id", string(req.UserID),
	); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	txn, err := h.Service.Initiate(r.Context(), services.InitiateRequest{
		OrderID:     string(req.OrderID),
		UserID:      string(req.UserID),
		AppID:       string(req.AppID),
		ItemID:      string(req.ItemID),
		Quantity:    req.Quantity,
		Description: req.ItemDescription,
		Category:    req.Category,
		Language:    req.Language,
	})
	if err != nil {
		h.fail(w, "InitPurchase", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"trans_id": txn.TransID})
}

// FinalizePurchase handles POST /steam/purchase/finalize. A platform refusal
// is a normal answer here: {success:false, error}.
func (h *SteamHandler) FinalizePurchase(w http.ResponseWriter, r *http.Request) {
	var req finalizeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := models.RequireFields("order_id", string(req.OrderID), "app_id", string(req.AppID)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.Service.Finalize(r.Context(), string(req.OrderID), string(req.AppID))
	if err != nil {
		h.fail(w, "FinalizePurchase", err)
		return
	}
	body := map[string]any{"success": res.Success}
	if !res.Success && res.Error != "" {
		body["error"] = res.Error
	}
	writeJSON(w, http.StatusOK, body)
}

// CheckPurchaseStatus handles POST /steam/purchase/status.
func (h *SteamHandler) CheckPurchaseStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := models.RequireFields("app_id", string(req.AppID), "order_id", string(req.OrderID), "trans_id", string(req.TransID)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	snap, err := h.Service.QueryStatus(r.Context(), string(req.OrderID), string(req.TransID), string(req.AppID))
	if err != nil {
		h.fail(w, "CheckPurchaseStatus", err)
		return
	}
	items := snap.Items
	if items == nil {
		items = []models.LineItem{}
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Success:  true,
		OrderID:  snap.OrderID,
		TransID:  snap.TransID,
		UserID:   snap.UserID,
		Status:   snap.Status,
		State:    string(snap.State),
		Currency: snap.Currency,
		Time:     snap.Time,
		Country:  snap.Country,
		Region:   snap.Region,
		Items:    items,
	})
}

func (h *SteamHandler) fail(w http.ResponseWriter, op string, err error) {
	status, msg := steamErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("steam request failed", "op", op, "err", err)
	} else {
		h.Logger.Info("steam request refused", "op", op, "status", status, "err", err)
	}
	writeError(w, status, msg)
}

// steamErrorStatus maps domain and platform errors onto the response status
// and the message the caller sees.
func steamErrorStatus(err error) (int, string) {
	var (
		fieldErr *models.FieldError
		steamErr *services.SteamError
	)
	switch {
	case errors.As(err, &fieldErr):
		return http.StatusBadRequest, fieldErr.Error()
	case errors.Is(err, models.ErrClientInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrUnknownItem):
		return http.StatusBadRequest, models.ErrUnknownItem.Error()
	case errors.Is(err, models.ErrInvalidAmount):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, models.ErrPlatformAuth):
		return http.StatusForbidden, "Invalid Steam WebKey"
	case errors.As(err, &steamErr):
		status := steamErr.Status
		if status < 400 || status > 599 {
			status = http.StatusBadRequest
		}
		return status, steamErr.Description
	}
	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
