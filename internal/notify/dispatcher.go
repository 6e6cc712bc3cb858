package notify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"microtrax/internal/models"
)

// Notifier delivers one outcome to one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, outcome models.PurchaseOutcome) error
}

// ErrQueueFull is reported when an outcome is dropped.
var ErrQueueFull = errors.New("notify: dispatch queue is full")

type DispatcherConfig struct {
	Workers   int
	QueueSize int
	// Timeout bounds one outcome across all notifiers.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dispatcher fans finalize outcomes out to every notifier on a fixed worker
// pool. It satisfies services.OutcomeSink.
type Dispatcher struct {
	notifiers []Notifier
	queue     chan models.PurchaseOutcome
	timeout   time.Duration
	logger    *slog.Logger

	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

func NewDispatcher(cfg DispatcherConfig, notifiers ...Notifier) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Dispatcher{
		queue:   make(chan models.PurchaseOutcome, cfg.QueueSize),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
	for _, n := range notifiers {
		if n != nil {
			d.notifiers = append(d.notifiers, n)
		}
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// PurchaseFinalized enqueues the outcome without blocking the caller.
func (d *Dispatcher) PurchaseFinalized(_ context.Context, o models.PurchaseOutcome) {
	if err := d.Enqueue(o); err != nil {
		d.logger.Error("outcome dropped", "order_id", o.OrderID, "app_id", o.AppID, "err", err)
	}
}

func (d *Dispatcher) Enqueue(o models.PurchaseOutcome) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errors.New("notify: dispatcher closed")
	}
	select {
	case d.queue <- o:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops accepting outcomes and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
	})
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for o := range d.queue {
		d.deliver(o)
	}
}

func (d *Dispatcher) deliver(o models.PurchaseOutcome) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	for _, n := range d.notifiers {
		if err := n.Notify(ctx, o); err != nil {
			d.logger.Error("notification failed", "notifier", n.Name(), "order_id", o.OrderID, "err", err)
		}
	}
}
