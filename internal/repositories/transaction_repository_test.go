package repositories

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"microtrax/internal/models"
)

var transactionRowColumns = []string{
	"order_id", "app_id", "trans_id", "user_id", "item_id", "quantity", "amount", "currency", "category",
	"description", "state", "platform_status", "error_text", "created_at", "updated_at",
}

func newJournal(t *testing.T) (*TransactionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS purchase_transactions").WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewTransactionRepository(db, DialectMySQL)
	repo.Now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return repo, mock
}

func TestTransactionRepository_Record(t *testing.T) {
	repo, mock := newJournal(t)
	mock.ExpectExec(`INSERT INTO purchase_transactions .* ON DUPLICATE KEY UPDATE trans_id = VALUES\(trans_id\)`).
		WithArgs("1", "480", "T-1", "u", "1001", 1, int64(199), "USD", "gold", "Gold pack", "initiated", "", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Record(context.Background(), models.Transaction{
		OrderID: "1", AppID: "480", TransID: "T-1", UserID: "u", ItemID: "1001", Quantity: 1,
		Amount: 199, Currency: "USD", Category: "gold", Description: "Gold pack", State: models.PurchaseInitiated,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransactionRepository_UpdateState(t *testing.T) {
	repo, mock := newJournal(t)
	mock.ExpectExec(`UPDATE purchase_transactions SET state = \?, error_text = \?, updated_at = \?, platform_status = \? WHERE app_id = \? AND order_id = \?`).
		WithArgs("authorized", "", sqlmock.AnyArg(), "Approved", "480", "1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE purchase_transactions SET state = \?, error_text = \?, updated_at = \? WHERE app_id = \? AND order_id = \?`).
		WithArgs("failed", "denied", sqlmock.AnyArg(), "480", "2").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.UpdateState(context.Background(), "1", "480", models.PurchaseAuthorized, "Approved", ""); err != nil {
		t.Fatalf("update: %v", err)
	}
	err := repo.UpdateState(context.Background(), "2", "480", models.PurchaseFailed, "", "denied")
	if !errors.Is(err, models.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestTransactionRepository_GetAndList(t *testing.T) {
	repo, mock := newJournal(t)
	now := time.Now()
	row := []driver.Value{"1", "480", "T-1", "u", "1001", 1, int64(199), "USD", "gold", "Gold pack", "initiated", "Init", "", now, now}

	mock.ExpectQuery(`SELECT .* FROM purchase_transactions WHERE app_id = \? AND order_id = \?`).
		WithArgs("480", "1").
		WillReturnRows(sqlmock.NewRows(transactionRowColumns).AddRow(row...))
	mock.ExpectQuery(`SELECT .* FROM purchase_transactions WHERE app_id = \? AND order_id = \?`).
		WithArgs("480", "missing").
		WillReturnRows(sqlmock.NewRows(transactionRowColumns))
	mock.ExpectQuery(`SELECT .* FROM purchase_transactions WHERE state IN \(\?, \?\) AND updated_at < \? ORDER BY updated_at DESC LIMIT 50`).
		WithArgs("initiated", "authorized", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(transactionRowColumns).AddRow(row...))

	txn, err := repo.Get(context.Background(), "1", "480")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if txn.State != models.PurchaseInitiated || txn.TransID != "T-1" || txn.PlatformStatus != "Init" {
		t.Fatalf("unexpected txn %+v", txn)
	}
	if _, err := repo.Get(context.Background(), "missing", "480"); !errors.Is(err, models.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}

	list, err := repo.List(context.Background(), models.TransactionFilter{
		States:        []models.PurchaseState{models.PurchaseInitiated, models.PurchaseAuthorized},
		UpdatedBefore: now,
		Limit:         50,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 row got %d", len(list))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
