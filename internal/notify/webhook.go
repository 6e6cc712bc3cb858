package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"microtrax/internal/models"
)

type WebhookConfig struct {
	SuccessURL string
	FailureURL string
	Secret     string
	Timeout    time.Duration
	Client     *http.Client
	Logger     *slog.Logger
}

// WebhookNotifier posts signed outcome events to the game backend.
type WebhookNotifier struct {
	successURL string
	failureURL string
	secret     string
	client     *http.Client
	logger     *slog.Logger
	newID      func() string
}

type webhookEvent struct {
	Event      string               `json:"event"`
	OrderID    string               `json:"order_id"`
	AppID      string               `json:"app_id"`
	TransID    string               `json:"trans_id,omitempty"`
	Status     models.PurchaseState `json:"status"`
	Amount     int64                `json:"amount"`
	Currency   string               `json:"currency"`
	Error      string               `json:"error,omitempty"`
	OccurredAt time.Time            `json:"occurred_at"`
}

func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	if strings.TrimSpace(cfg.SuccessURL) == "" && strings.TrimSpace(cfg.FailureURL) == "" {
		return nil, errors.New("webhook: at least one url is required")
	}
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("webhook: secret is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookNotifier{
		successURL: strings.TrimSpace(cfg.SuccessURL),
		failureURL: strings.TrimSpace(cfg.FailureURL),
		secret:     cfg.Secret,
		client:     client,
		logger:     logger,
		newID:      func() string { return uuid.NewString() },
	}, nil
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) Notify(ctx context.Context, o models.PurchaseOutcome) error {
	target, event := w.successURL, "purchase.finalized"
	if !o.Succeeded() {
		target, event = w.failureURL, "purchase.failed"
	}
	if target == "" {
		return nil
	}

	body, err := json.Marshal(webhookEvent{
		Event:      event,
		OrderID:    o.OrderID,
		AppID:      o.AppID,
		TransID:    o.TransID,
		Status:     o.Status,
		Amount:     o.Amount,
		Currency:   o.Currency,
		Error:      o.Error,
		OccurredAt: o.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	eventID := w.newID()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, Sign(body, w.secret))
	req.Header.Set(EventIDHeader, eventID)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %s answered %d", target, resp.StatusCode)
	}
	w.logger.Debug("webhook delivered", "order_id", o.OrderID, "event_id", eventID, "event", event)
	return nil
}
