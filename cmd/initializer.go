package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	firebase "firebase.google.com/go"
	"github.com/aws/aws-sdk-go/service/ses"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"google.golang.org/api/option"

	"microtrax/internal/config"
	"microtrax/internal/export"
	"microtrax/internal/handlers"
	"microtrax/internal/metrics"
	"microtrax/internal/notify"
	"microtrax/internal/repositories"
	"microtrax/internal/services"
	"microtrax/utils"
)

type application struct {
	errorLog *log.Logger
	infoLog  *log.Logger
	logger   *slog.Logger
	cfg      config.Config

	db    *sql.DB
	redis *redis.Client

	productRepo     *repositories.ProductRepository
	transactionRepo *repositories.TransactionRepository
	productCache    *repositories.ProductCache
	purchaseService *services.PurchaseService

	steamHandler       *handlers.SteamHandler
	currencyHandler    *handlers.CurrencyHandler
	productHandler     *handlers.ProductHandler
	transactionHandler *handlers.TransactionHandler
	itemDefHandler     *handlers.ItemDefHandler

	hub        *PurchaseHub
	dispatcher *notify.Dispatcher
	metrics    *metrics.Metrics
	uploader   *export.Uploader

	tokens          *utils.Manager
	apiKeyHashes    [][]byte
	generalLimiter  *rateLimiter
	purchaseLimiter *rateLimiter
}

func initializeApp(ctx context.Context, cfg config.Config, db *sql.DB, errorLog, infoLog *log.Logger) (*application, error) {
	logger := slog.Default()
	m := metrics.New()

	dialect := repositories.DialectFor(cfg.Database.Driver)
	productRepo := repositories.NewProductRepository(db, dialect)
	transactionRepo := repositories.NewTransactionRepository(db, dialect)

	// Каталог: Redis, если настроен, иначе напрямую в БД.
	var (
		rdb     *redis.Client
		cache   *repositories.ProductCache
		catalog services.ProductCatalog = productRepo
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			errorLog.Printf("redis ping failed, cache runs degraded: %v", err)
		}
		cache = repositories.NewProductCache(rdb, productRepo, cfg.Redis.TTL, logger.With("component", "product_cache"))
		catalog = cache
	}

	steam, err := services.NewSteamService(services.SteamConfig{
		WebKey:   cfg.Steam.WebKey,
		BaseURL:  cfg.Steam.BaseURL,
		Sandbox:  cfg.Steam.Sandbox,
		Language: cfg.Steam.Language,
		Timeout:  cfg.Steam.Timeout,
		Client:   &http.Client{Timeout: cfg.Steam.Timeout},
		Logger:   logger.With("component", "steam"),
		Metrics:  m,
	})
	if err != nil {
		return nil, err
	}

	hub := NewPurchaseHub(infoLog, errorLog)
	notifiers := []notify.Notifier{m, hub}
	extra, err := buildNotifiers(ctx, cfg, logger, infoLog)
	if err != nil {
		return nil, err
	}
	notifiers = append(notifiers, extra...)
	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		Workers:   cfg.Notify.Workers,
		QueueSize: cfg.Notify.QueueSize,
		Logger:    logger.With("component", "notify"),
	}, notifiers...)

	purchases, err := services.NewPurchaseService(services.PurchaseConfig{
		Gateway:         steam,
		Catalog:         catalog,
		Journal:         transactionRepo,
		Outcomes:        dispatcher,
		DefaultCurrency: cfg.Steam.BillingCurrency,
		Logger:          logger.With("component", "purchase"),
	})
	if err != nil {
		return nil, err
	}

	var uploader *export.Uploader
	if cfg.Export.Bucket != "" {
		sess, err := export.NewSession(export.S3Config{
			Bucket:    cfg.Export.Bucket,
			Prefix:    cfg.Export.Prefix,
			Region:    cfg.AWS.Region,
			Endpoint:  cfg.AWS.Endpoint,
			AccessKey: cfg.AWS.AccessKey,
			SecretKey: cfg.AWS.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("aws session: %w", err)
		}
		uploader, err = export.NewS3Uploader(sess, cfg.Export.Bucket, cfg.Export.Prefix)
		if err != nil {
			return nil, err
		}
	}

	tokens, err := utils.NewManager(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, err
	}
	hashes := make([][]byte, 0, len(cfg.Auth.APIKeyHashes))
	for _, h := range cfg.Auth.APIKeyHashes {
		hashes = append(hashes, []byte(h))
	}
	proxies, err := parseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, err
	}
	generalLimiter := newRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	generalLimiter.trusted = proxies
	purchaseLimiter := newRateLimiter(cfg.RateLimit.PurchaseRequests, cfg.RateLimit.Window)
	purchaseLimiter.trusted = proxies

	var (
		cacheInvalidator handlers.CacheInvalidator
		itemDefPublisher handlers.ItemDefPublisher
	)
	if cache != nil {
		cacheInvalidator = cache
	}
	if uploader != nil {
		itemDefPublisher = uploader
	}

	return &application{
		errorLog:        errorLog,
		infoLog:         infoLog,
		logger:          logger,
		cfg:             cfg,
		db:              db,
		redis:           rdb,
		productRepo:     productRepo,
		transactionRepo: transactionRepo,
		productCache:    cache,
		purchaseService: purchases,

		steamHandler:    handlers.NewSteamHandler(purchases, logger.With("component", "http")),
		currencyHandler: &handlers.CurrencyHandler{},
		productHandler: &handlers.ProductHandler{
			Store:           productRepo,
			Cache:           cacheInvalidator,
			DefaultCurrency: cfg.Steam.BillingCurrency,
			Logger:          logger,
		},
		transactionHandler: &handlers.TransactionHandler{Journal: transactionRepo, Logger: logger},
		itemDefHandler: &handlers.ItemDefHandler{
			Catalog:   productRepo,
			Publisher: itemDefPublisher,
			Logger:    logger,
		},

		hub:        hub,
		dispatcher: dispatcher,
		metrics:    m,
		uploader:   uploader,

		tokens:          tokens,
		apiKeyHashes:    hashes,
		generalLimiter:  generalLimiter,
		purchaseLimiter: purchaseLimiter,
	}, nil
}

// buildNotifiers wires the optional outbound channels that are configured.
func buildNotifiers(ctx context.Context, cfg config.Config, logger *slog.Logger, infoLog *log.Logger) ([]notify.Notifier, error) {
	var out []notify.Notifier

	if cfg.Webhooks.SuccessURL != "" || cfg.Webhooks.FailureURL != "" {
		wh, err := notify.NewWebhookNotifier(notify.WebhookConfig{
			SuccessURL: cfg.Webhooks.SuccessURL,
			FailureURL: cfg.Webhooks.FailureURL,
			Secret:     cfg.Webhooks.Secret,
			Timeout:    cfg.Webhooks.Timeout,
			Logger:     logger.With("component", "webhook"),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
		infoLog.Printf("webhook notifications enabled")
	}

	if cfg.Firebase.CredentialsFile != "" {
		fb, err := firebase.NewApp(ctx, nil, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
		if err != nil {
			return nil, fmt.Errorf("firebase app: %w", err)
		}
		client, err := fb.Messaging(ctx)
		if err != nil {
			return nil, fmt.Errorf("firebase messaging: %w", err)
		}
		out = append(out, notify.NewPushNotifier(client))
		infoLog.Printf("push notifications enabled")
	}

	if cfg.Email.From != "" && len(cfg.Email.Recipients) > 0 {
		sess, err := export.NewSession(export.S3Config{
			Region:    cfg.AWS.Region,
			AccessKey: cfg.AWS.AccessKey,
			SecretKey: cfg.AWS.SecretKey,
		})
		if err != nil {
			return nil, fmt.Errorf("aws session: %w", err)
		}
		mailer, err := notify.NewEmailNotifier(ses.New(sess), cfg.Email.From, cfg.Email.Recipients, cfg.Email.FailedOnly)
		if err != nil {
			return nil, err
		}
		out = append(out, mailer)
		infoLog.Printf("email notifications enabled")
	}
	return out, nil
}

func openDB(driver, dsn string) (*sql.DB, error) {
	if driver == "" {
		driver = "mysql"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		log.Printf("Failed to open DB: %v", err)
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err = db.PingContext(ctx); err != nil {
		log.Printf("Failed to ping DB: %v", err)
		_ = db.Close()
		return nil, err
	}
	db.SetMaxIdleConns(35)
	db.SetConnMaxIdleTime(5 * time.Minute)
	log.Println("Successfully connected to database")
	return db, nil
}

func (app *application) close() {
	app.dispatcher.Close()
	if app.redis != nil {
		if err := app.redis.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			app.errorLog.Printf("redis close: %v", err)
		}
	}
}
