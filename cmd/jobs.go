package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"microtrax/internal/export"
	"microtrax/internal/models"
)

const (
	reconcileTimeout = 2 * time.Minute
	exportTimeout    = 1 * time.Minute
)

type journalLister interface {
	List(ctx context.Context, f models.TransactionFilter) ([]models.Transaction, error)
}

type statusQuerier interface {
	QueryStatus(ctx context.Context, orderID, transID, appID string) (models.StatusSnapshot, error)
}

type catalogLister interface {
	List(ctx context.Context, f models.ProductFilter) ([]models.Product, error)
}

type itemDefPublisher interface {
	Publish(ctx context.Context, file export.ItemDefFile) (string, error)
}

type jobRecorder interface {
	RecordJob(job string, elapsed time.Duration, success bool)
}

// reconciler asks Steam about purchases left unfinished in the journal.
// QueryStatus records the platform-derived state as a side effect.
type reconciler struct {
	journal  journalLister
	steam    statusQuerier
	minAge   time.Duration
	batch    int
	now      func() time.Time
	errorLog *log.Logger
}

func (rc *reconciler) run(ctx context.Context) (int, error) {
	rows, err := rc.journal.List(ctx, models.TransactionFilter{
		States:        []models.PurchaseState{models.PurchaseInitiated, models.PurchaseAuthorized},
		UpdatedBefore: rc.now().Add(-rc.minAge),
		Limit:         rc.batch,
	})
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}

	checked := 0
	for _, t := range rows {
		if ctx.Err() != nil {
			return checked, ctx.Err()
		}
		if _, err := rc.steam.QueryStatus(ctx, t.OrderID, t.TransID, t.AppID); err != nil {
			rc.errorLog.Printf("reconcile: order=%s app=%s: %v", t.OrderID, t.AppID, err)
			continue
		}
		checked++
	}
	return checked, nil
}

// itemDefExporter publishes itemdef.json for each configured app.
type itemDefExporter struct {
	catalog   catalogLister
	publisher itemDefPublisher
	appIDs    []string
	now       func() time.Time
	infoLog   *log.Logger
	errorLog  *log.Logger
}

func (ex *itemDefExporter) run(ctx context.Context) error {
	var firstErr error
	for _, appID := range ex.appIDs {
		products, err := ex.catalog.List(ctx, models.ProductFilter{AppID: appID, ActiveOnly: true})
		if err != nil {
			return fmt.Errorf("list catalog: %w", err)
		}
		file, skipped, err := export.BuildItemDefs(appID, products, ex.now())
		if err != nil {
			ex.errorLog.Printf("itemdef export: app=%s: %v", appID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if len(skipped) > 0 {
			ex.infoLog.Printf("itemdef export: app=%s skipped non-numeric ids %v", appID, skipped)
		}
		uri, err := ex.publisher.Publish(ctx, file)
		if err != nil {
			ex.errorLog.Printf("itemdef export: app=%s: %v", appID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ex.infoLog.Printf("itemdef export: app=%s published %d items to %s", appID, len(file.Items), uri)
	}
	return firstErr
}

// timedJob wraps fn with a deadline and a metrics observation.
func timedJob(ctx context.Context, name string, timeout time.Duration, rec jobRecorder, errorLog *log.Logger, fn func(context.Context) error) func() {
	return func() {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		start := time.Now()
		err := fn(runCtx)
		if rec != nil {
			rec.RecordJob(name, time.Since(start), err == nil)
		}
		if err != nil {
			errorLog.Printf("%s: %v", name, err)
		}
	}
}

// startJobs schedules the background jobs and returns the running scheduler.
func (app *application) startJobs(ctx context.Context) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	rc := &reconciler{
		journal:  app.transactionRepo,
		steam:    app.purchaseService,
		minAge:   app.cfg.Reconcile.MinAge,
		batch:    app.cfg.Reconcile.Batch,
		now:      time.Now,
		errorLog: app.errorLog,
	}
	_, err := c.AddFunc(app.cfg.Reconcile.Schedule, timedJob(ctx, "reconcile", reconcileTimeout, app.metrics, app.errorLog, func(ctx context.Context) error {
		n, err := rc.run(ctx)
		if n > 0 {
			app.infoLog.Printf("reconcile: refreshed %d purchases", n)
		}
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("reconcile schedule %q: %w", app.cfg.Reconcile.Schedule, err)
	}

	if app.uploader != nil && app.cfg.Export.Schedule != "" && len(app.cfg.Export.AppIDs) > 0 {
		ex := &itemDefExporter{
			catalog:   app.productRepo,
			publisher: app.uploader,
			appIDs:    app.cfg.Export.AppIDs,
			now:       time.Now,
			infoLog:   app.infoLog,
			errorLog:  app.errorLog,
		}
		if _, err := c.AddFunc(app.cfg.Export.Schedule, timedJob(ctx, "itemdef_export", exportTimeout, app.metrics, app.errorLog, ex.run)); err != nil {
			return nil, fmt.Errorf("export schedule %q: %w", app.cfg.Export.Schedule, err)
		}
	}

	c.Start()
	app.infoLog.Printf("scheduler started with %d jobs", len(c.Entries()))
	return c, nil
}
