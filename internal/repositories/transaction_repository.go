package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"microtrax/internal/models"
)

// TransactionRepository is the purchase journal: one row per (app_id, order_id).
type TransactionRepository struct {
	DB      *sql.DB
	Dialect Dialect
	Now     func() time.Time

	once sync.Once
	err  error
}

func NewTransactionRepository(db *sql.DB, dialect Dialect) *TransactionRepository {
	return &TransactionRepository{DB: db, Dialect: dialect, Now: time.Now}
}

const transactionColumns = `order_id, app_id, trans_id, user_id, item_id, quantity, amount, currency, category, description, state, platform_status, error_text, created_at, updated_at`

func (r *TransactionRepository) ensureSchema(ctx context.Context) error {
	r.once.Do(func() {
		const ddl = `
CREATE TABLE IF NOT EXISTS purchase_transactions (
    order_id VARCHAR(64) NOT NULL,
    app_id VARCHAR(32) NOT NULL,
    trans_id VARCHAR(64) NOT NULL DEFAULT '',
    user_id VARCHAR(32) NOT NULL,
    item_id VARCHAR(64) NOT NULL,
    quantity INT NOT NULL,
    amount BIGINT NOT NULL,
    currency VARCHAR(16) NOT NULL,
    category VARCHAR(128) NOT NULL DEFAULT '',
    description TEXT NOT NULL,
    state VARCHAR(16) NOT NULL,
    platform_status VARCHAR(32) NOT NULL DEFAULT '',
    error_text TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (app_id, order_id)
)`
		_, r.err = r.DB.ExecContext(ctx, ddl)
	})
	return r.err
}

func (r *TransactionRepository) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

// Record stores the attempt. A retried order id overwrites the previous row.
func (r *TransactionRepository) Record(ctx context.Context, t models.Transaction) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	if t.OrderID == "" || t.AppID == "" {
		return fmt.Errorf("order_id and app_id are required")
	}
	now := r.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now

	q := `INSERT INTO purchase_transactions (` + transactionColumns + `) VALUES (` + placeholders(15) + `) ` +
		r.Dialect.Upsert([]string{"app_id", "order_id"}, []string{
			"trans_id", "user_id", "item_id", "quantity", "amount", "currency", "category",
			"description", "state", "platform_status", "error_text", "updated_at",
		})
	_, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(q),
		t.OrderID, t.AppID, t.TransID, t.UserID, t.ItemID, t.Quantity, t.Amount, t.Currency, t.Category,
		t.Description, string(t.State), t.PlatformStatus, t.Error, t.CreatedAt, t.UpdatedAt)
	return err
}

// UpdateState returns models.ErrTransactionNotFound for orders the journal
// never saw. An empty platformStatus leaves the stored one untouched.
func (r *TransactionRepository) UpdateState(ctx context.Context, orderID, appID string, state models.PurchaseState, platformStatus, errMsg string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	q := `UPDATE purchase_transactions SET state = ?, error_text = ?, updated_at = ?`
	args := []any{string(state), errMsg, r.now()}
	if platformStatus != "" {
		q += `, platform_status = ?`
		args = append(args, platformStatus)
	}
	q += ` WHERE app_id = ? AND order_id = ?`
	args = append(args, appID, orderID)

	res, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(q), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return models.ErrTransactionNotFound
	}
	return nil
}

func (r *TransactionRepository) Get(ctx context.Context, orderID, appID string) (models.Transaction, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.Transaction{}, err
	}
	row := r.DB.QueryRowContext(ctx,
		r.Dialect.Rebind(`SELECT `+transactionColumns+` FROM purchase_transactions WHERE app_id = ? AND order_id = ?`),
		appID, orderID)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Transaction{}, models.ErrTransactionNotFound
	}
	return t, err
}

// List returns newest rows first.
func (r *TransactionRepository) List(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	var (
		where []string
		args  []any
	)
	if f.AppID != "" {
		where = append(where, "app_id = ?")
		args = append(args, f.AppID)
	}
	if len(f.States) > 0 {
		where = append(where, "state IN ("+placeholders(len(f.States))+")")
		for _, s := range f.States {
			args = append(args, string(s))
		}
	}
	if !f.UpdatedBefore.IsZero() {
		where = append(where, "updated_at < ?")
		args = append(args, f.UpdatedBefore.UTC())
	}
	q := `SELECT ` + transactionColumns + ` FROM purchase_transactions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY updated_at DESC"
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	q += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := r.DB.QueryContext(ctx, r.Dialect.Rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTransaction(s rowScanner) (models.Transaction, error) {
	var (
		t     models.Transaction
		state string
	)
	err := s.Scan(&t.OrderID, &t.AppID, &t.TransID, &t.UserID, &t.ItemID, &t.Quantity, &t.Amount, &t.Currency,
		&t.Category, &t.Description, &state, &t.PlatformStatus, &t.Error, &t.CreatedAt, &t.UpdatedAt)
	t.State = models.PurchaseState(state)
	return t, err
}
