package main

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"microtrax/internal/export"
	"microtrax/internal/models"
)

type fakeJournal struct {
	rows   []models.Transaction
	filter models.TransactionFilter
}

func (f *fakeJournal) List(_ context.Context, filter models.TransactionFilter) ([]models.Transaction, error) {
	f.filter = filter
	return f.rows, nil
}

type fakeQuerier struct {
	calls []string
	fail  map[string]bool
}

func (f *fakeQuerier) QueryStatus(_ context.Context, orderID, transID, appID string) (models.StatusSnapshot, error) {
	f.calls = append(f.calls, orderID+"/"+transID+"/"+appID)
	if f.fail[orderID] {
		return models.StatusSnapshot{}, errors.New("steam unavailable")
	}
	return models.StatusSnapshot{OrderID: orderID, TransID: transID}, nil
}

func TestReconciler_QueriesPendingPurchases(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	journal := &fakeJournal{rows: []models.Transaction{
		{OrderID: "1", TransID: "t1", AppID: "480", State: models.PurchaseInitiated},
		{OrderID: "2", TransID: "t2", AppID: "480", State: models.PurchaseAuthorized},
		{OrderID: "3", TransID: "t3", AppID: "570", State: models.PurchaseInitiated},
	}}
	steam := &fakeQuerier{fail: map[string]bool{"2": true}}

	rc := &reconciler{
		journal:  journal,
		steam:    steam,
		minAge:   2 * time.Minute,
		batch:    50,
		now:      func() time.Time { return now },
		errorLog: log.New(io.Discard, "", 0),
	}
	n, err := rc.run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if n != 2 {
		t.Fatalf("checked = %d, want 2", n)
	}
	if len(steam.calls) != 3 || steam.calls[2] != "3/t3/570" {
		t.Fatalf("calls = %v", steam.calls)
	}

	f := journal.filter
	if !f.UpdatedBefore.Equal(now.Add(-2*time.Minute)) || f.Limit != 50 {
		t.Fatalf("filter = %+v", f)
	}
	if len(f.States) != 2 || f.States[0] != models.PurchaseInitiated || f.States[1] != models.PurchaseAuthorized {
		t.Fatalf("states = %v", f.States)
	}
}

type fakeCatalog struct {
	products map[string][]models.Product
}

func (f *fakeCatalog) List(_ context.Context, filter models.ProductFilter) ([]models.Product, error) {
	return f.products[filter.AppID], nil
}

type fakePublisher struct {
	files []export.ItemDefFile
}

func (f *fakePublisher) Publish(_ context.Context, file export.ItemDefFile) (string, error) {
	f.files = append(f.files, file)
	return "s3://bucket/itemdef.json", nil
}

func TestItemDefExporter(t *testing.T) {
	catalog := &fakeCatalog{products: map[string][]models.Product{
		"480": {
			{ID: "100", AppID: "480", Name: "Sword", Price: 199, Currency: "USD", Active: true},
			{ID: "skin-red", AppID: "480", Name: "Red", Price: 99, Currency: "USD", Active: true},
		},
	}}
	pub := &fakePublisher{}
	quiet := log.New(io.Discard, "", 0)
	ex := &itemDefExporter{
		catalog:   catalog,
		publisher: pub,
		appIDs:    []string{"480", "not-a-number"},
		now:       func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) },
		infoLog:   quiet,
		errorLog:  quiet,
	}

	err := ex.run(context.Background())
	if !errors.Is(err, models.ErrClientInput) {
		t.Fatalf("expected client input error for bad app id, got %v", err)
	}
	if len(pub.files) != 1 {
		t.Fatalf("published %d files", len(pub.files))
	}
	if file := pub.files[0]; file.AppID != 480 || len(file.Items) != 1 || file.Items[0].ItemDefID != 100 {
		t.Fatalf("unexpected file %+v", file)
	}
}

type recordedJob struct {
	name    string
	success bool
}

type fakeRecorder struct{ jobs []recordedJob }

func (f *fakeRecorder) RecordJob(job string, _ time.Duration, success bool) {
	f.jobs = append(f.jobs, recordedJob{job, success})
}

func TestTimedJob(t *testing.T) {
	rec := &fakeRecorder{}
	quiet := log.New(io.Discard, "", 0)

	var deadlineSet bool
	timedJob(context.Background(), "ok", time.Second, rec, quiet, func(ctx context.Context) error {
		_, deadlineSet = ctx.Deadline()
		return nil
	})()
	timedJob(context.Background(), "bad", time.Second, rec, quiet, func(context.Context) error {
		return errors.New("boom")
	})()

	if !deadlineSet {
		t.Fatal("job context has no deadline")
	}
	want := []recordedJob{{"ok", true}, {"bad", false}}
	if len(rec.jobs) != 2 || rec.jobs[0] != want[0] || rec.jobs[1] != want[1] {
		t.Fatalf("recorded %v", rec.jobs)
	}
}
