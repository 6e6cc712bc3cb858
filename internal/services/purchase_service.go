package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"microtrax/internal/currency"
	"microtrax/internal/models"
)

// SteamGateway is the subset of SteamService the purchase flow drives.
type SteamGateway interface {
	CheckUserReliability(ctx context.Context, userID string) (models.UserReliability, error)
	CheckAppOwnership(ctx context.Context, userID, appID string) (bool, error)
	InitTxn(ctx context.Context, in InitTxnRequest) (string, error)
	FinalizeTxn(ctx context.Context, orderID, appID string) error
	QueryTxn(ctx context.Context, orderID, transID, appID string) (models.StatusSnapshot, error)
}

// ProductCatalog resolves authoritative prices.
type ProductCatalog interface {
	GetProduct(ctx context.Context, itemID string) (models.Product, error)
}

// PurchaseJournal is caller-side persistence of purchase attempts. It is
// written to and used to enrich outcomes, never to gate an operation.
type PurchaseJournal interface {
	Record(ctx context.Context, txn models.Transaction) error
	UpdateState(ctx context.Context, orderID, appID string, state models.PurchaseState, platformStatus, errMsg string) error
	Get(ctx context.Context, orderID, appID string) (models.Transaction, error)
}

// OutcomeSink is notified after every finalize attempt the platform answered.
type OutcomeSink interface {
	PurchaseFinalized(ctx context.Context, outcome models.PurchaseOutcome)
}

type PurchaseConfig struct {
	Gateway SteamGateway
	Catalog ProductCatalog

	// Optional.
	Journal  PurchaseJournal
	Outcomes OutcomeSink

	// DefaultCurrency applies to products stored without one.
	DefaultCurrency string

	Logger *slog.Logger
	Now    func() time.Time
}

type PurchaseService struct {
	gateway         SteamGateway
	catalog         ProductCatalog
	journal         PurchaseJournal
	outcomes        OutcomeSink
	defaultCurrency string
	logger          *slog.Logger
	now             func() time.Time
}

func NewPurchaseService(cfg PurchaseConfig) (*PurchaseService, error) {
	if cfg.Gateway == nil || cfg.Catalog == nil {
		return nil, fmt.Errorf("purchase: gateway and catalog are required")
	}
	cur := strings.ToUpper(strings.TrimSpace(cfg.DefaultCurrency))
	if cur == "" {
		cur = "USD"
	}
	if _, err := currency.Lookup(cur); err != nil {
		return nil, fmt.Errorf("purchase: default currency: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &PurchaseService{
		gateway:         cfg.Gateway,
		catalog:         cfg.Catalog,
		journal:         cfg.Journal,
		outcomes:        cfg.Outcomes,
		defaultCurrency: cur,
		logger:          logger,
		now:             now,
	}, nil
}

// InitiateRequest carries the caller's purchase intent. It deliberately has no
// price: the amount always comes from the catalog.
type InitiateRequest struct {
	OrderID     string
	UserID      string
	AppID       string
	ItemID      string
	Quantity    int
	Description string
	Category    string
	Language    string
}

// FinalizeResult reports what the platform said about a finalize call.
type FinalizeResult struct {
	Success bool
	Error   string
	Outcome models.PurchaseOutcome
}

func (s *PurchaseService) CheckUserReliability(ctx context.Context, userID string) (models.UserReliability, error) {
	if err := models.RequireFields("user_id", userID); err != nil {
		return models.UserReliability{}, err
	}
	return s.gateway.CheckUserReliability(ctx, userID)
}

func (s *PurchaseService) CheckAppOwnership(ctx context.Context, userID, appID string) (bool, error) {
	if err := models.RequireFields("user_id", userID, "app_id", appID); err != nil {
		return false, err
	}
	return s.gateway.CheckAppOwnership(ctx, userID, appID)
}

// Initiate prices the item from the catalog, validates the amount against the
// currency rules and opens the platform transaction.
func (s *PurchaseService) Initiate(ctx context.Context, req InitiateRequest) (models.Transaction, error) {
	if err := models.RequireFields(
		"order_id", req.OrderID,
		"user_id", req.UserID,
		"app_id", req.AppID,
		"item_id", req.ItemID,
	); err != nil {
		return models.Transaction{}, err
	}
	logger := s.logger.With("op", "Initiate", "order_id", req.OrderID, "app_id", req.AppID, "item_id", req.ItemID)

	product, err := s.catalog.GetProduct(ctx, req.ItemID)
	switch {
	case errors.Is(err, models.ErrProductNotFound):
		return models.Transaction{}, fmt.Errorf("%w: %s", models.ErrUnknownItem, req.ItemID)
	case err != nil:
		return models.Transaction{}, fmt.Errorf("lookup product %s: %w", req.ItemID, err)
	case !product.Active:
		return models.Transaction{}, fmt.Errorf("%w: %s is inactive", models.ErrUnknownItem, req.ItemID)
	case product.AppID != "" && product.AppID != req.AppID:
		return models.Transaction{}, fmt.Errorf("%w: %s does not belong to app %s", models.ErrUnknownItem, req.ItemID, req.AppID)
	}

	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	cur := strings.ToUpper(strings.TrimSpace(product.Currency))
	if cur == "" {
		cur = s.defaultCurrency
	}
	amount := product.Price * int64(qty)
	if product.Price != 0 && amount/int64(qty) != product.Price {
		return models.Transaction{}, fmt.Errorf("%w: %d x %d overflows", models.ErrInvalidAmount, product.Price, qty)
	}
	if !currency.ValidateAmount(cur, amount) {
		logger.Error("catalog price violates currency increment", "currency", cur, "amount", amount)
		return models.Transaction{}, fmt.Errorf("%w: %s %d", models.ErrInvalidAmount, cur, amount)
	}

	now := s.now().UTC()
	txn := models.Transaction{
		OrderID:     req.OrderID,
		AppID:       req.AppID,
		UserID:      req.UserID,
		ItemID:      product.ID,
		Quantity:    qty,
		Amount:      amount,
		Currency:    cur,
		Category:    firstNonEmpty(product.Category, req.Category),
		Description: firstNonEmpty(product.Description, req.Description, product.Name),
		State:       models.PurchaseRequested,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	transID, err := s.gateway.InitTxn(ctx, InitTxnRequest{
		OrderID:     txn.OrderID,
		UserID:      txn.UserID,
		AppID:       txn.AppID,
		ItemID:      txn.ItemID,
		Quantity:    txn.Quantity,
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		Description: txn.Description,
		Category:    txn.Category,
		Language:    req.Language,
	})
	if err != nil {
		if errors.Is(err, models.ErrPlatformRejected) {
			_ = advance(&txn, models.PurchaseFailed)
			txn.Error = describe(err)
			s.record(ctx, txn)
		}
		return txn, err
	}

	txn.TransID = transID
	if err := advance(&txn, models.PurchaseInitiated); err != nil {
		return txn, err
	}
	s.record(ctx, txn)
	logger.Info("purchase initiated", "trans_id", transID, "amount", amount, "currency", cur)
	return txn, nil
}

// Finalize asks the platform to complete the order. The remote call is always
// made: the platform decides what a repeated finalize means. The journal only
// moves along lifecycle edges, so a refusal never reopens or fails a settled
// order, and a refusal on an open order leaves it for the reconciler.
func (s *PurchaseService) Finalize(ctx context.Context, orderID, appID string) (FinalizeResult, error) {
	if err := models.RequireFields("order_id", orderID, "app_id", appID); err != nil {
		return FinalizeResult{}, err
	}
	logger := s.logger.With("op", "Finalize", "order_id", orderID, "app_id", appID)

	err := s.gateway.FinalizeTxn(ctx, orderID, appID)
	if err != nil && !errors.Is(err, models.ErrPlatformRejected) {
		return FinalizeResult{}, err
	}
	result := FinalizeResult{Success: err == nil}
	if err != nil {
		result.Error = describe(err)
	}

	txn, known := s.lookup(ctx, orderID, appID)
	outcome := s.outcomeFor(ctx, orderID, appID, txn, known)
	if err == nil {
		outcome.Status = models.PurchaseFinalized
	} else {
		outcome.Status = models.PurchaseFailed
		outcome.Error = result.Error
	}
	result.Outcome = outcome

	if known {
		switch {
		case IsTerminal(txn.State):
			logger.Info("finalize answered for settled order", "state", txn.State, "success", result.Success, "error", result.Error)
			return result, nil
		case err != nil:
			s.updateJournal(ctx, logger, orderID, appID, txn.State, txn.PlatformStatus, result.Error)
		case CanTransition(txn.State, models.PurchaseFinalized):
			s.updateJournal(ctx, logger, orderID, appID, models.PurchaseFinalized, "", "")
		default:
			logger.Warn("finalize accepted from unexpected state", "state", txn.State)
			return result, nil
		}
	}
	if s.outcomes != nil {
		s.outcomes.PurchaseFinalized(ctx, outcome)
	}
	logger.Info("finalize answered", "status", outcome.Status, "error", outcome.Error)

	return result, nil
}

// QueryStatus returns the platform's current view of a transaction. Amounts
// that violate the currency rules are logged, not rejected.
func (s *PurchaseService) QueryStatus(ctx context.Context, orderID, transID, appID string) (models.StatusSnapshot, error) {
	if err := models.RequireFields("order_id", orderID, "app_id", appID); err != nil {
		return models.StatusSnapshot{}, err
	}
	logger := s.logger.With("op", "QueryStatus", "order_id", orderID, "app_id", appID)

	snap, err := s.gateway.QueryTxn(ctx, orderID, transID, appID)
	if err != nil {
		return models.StatusSnapshot{}, err
	}
	snap.State = StateFromPlatformStatus(snap.Status)
	s.checkAmounts(logger, snap)

	if txn, known := s.lookup(ctx, orderID, appID); known {
		if CanReconcile(txn.State, snap.State, snap.Status) {
			s.updateJournal(ctx, logger, orderID, appID, snap.State, snap.Status, "")
		} else {
			logger.Warn("platform status does not move recorded state",
				"state", txn.State,
				"platform_status", snap.Status,
			)
		}
	}
	return snap, nil
}

func (s *PurchaseService) checkAmounts(logger *slog.Logger, snap models.StatusSnapshot) {
	rule, err := currency.Lookup(snap.Currency)
	if err != nil {
		if snap.Currency != "" {
			logger.Warn("platform reported unknown currency", "currency", snap.Currency)
		}
		return
	}
	for _, it := range snap.Items {
		if !rule.Valid(it.Amount) {
			logger.Warn("platform amount violates currency increment",
				"item_id", it.ItemID,
				"amount", it.Amount,
				"currency", rule.Code,
				"min_increment", rule.MinIncrement,
			)
		}
	}
}

// lookup returns the journal row for the order, if the journal has one.
func (s *PurchaseService) lookup(ctx context.Context, orderID, appID string) (models.Transaction, bool) {
	if s.journal == nil {
		return models.Transaction{}, false
	}
	txn, err := s.journal.Get(ctx, orderID, appID)
	if err != nil {
		if !errors.Is(err, models.ErrTransactionNotFound) {
			s.logger.Warn("journal lookup failed", "order_id", orderID, "err", err)
		}
		return models.Transaction{}, false
	}
	return txn, true
}

func (s *PurchaseService) updateJournal(ctx context.Context, logger *slog.Logger, orderID, appID string, state models.PurchaseState, platformStatus, errMsg string) {
	if err := s.journal.UpdateState(ctx, orderID, appID, state, platformStatus, errMsg); err != nil && !errors.Is(err, models.ErrTransactionNotFound) {
		logger.Warn("journal update failed", "err", err)
	}
}

// outcomeFor fills amount and currency from the journal row, falling back to
// a platform lookup by order id.
func (s *PurchaseService) outcomeFor(ctx context.Context, orderID, appID string, txn models.Transaction, known bool) models.PurchaseOutcome {
	out := models.PurchaseOutcome{OrderID: orderID, AppID: appID, OccurredAt: s.now().UTC()}
	if known {
		out.TransID = txn.TransID
		out.Amount = txn.Amount
		out.Currency = txn.Currency
		return out
	}
	snap, err := s.gateway.QueryTxn(ctx, orderID, "", appID)
	if err != nil {
		s.logger.Warn("outcome lookup failed", "order_id", orderID, "err", err)
		return out
	}
	out.TransID = snap.TransID
	out.Amount = snap.Total()
	out.Currency = snap.Currency
	return out
}

func (s *PurchaseService) record(ctx context.Context, txn models.Transaction) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Record(ctx, txn); err != nil {
		s.logger.Warn("journal record failed", "order_id", txn.OrderID, "err", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
