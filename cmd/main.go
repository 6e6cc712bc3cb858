package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"microtrax/internal/config"
	"microtrax/utils"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = config.DefaultPath
	}

	addr := flag.String("addr", "", "HTTP network address (overrides server.address)")
	cfgFile := flag.String("config", configPath, "path to the YAML config")
	issueFor := flag.String("issue-admin-token", "", "print an admin JWT for the given subject and exit")
	tokenTTL := flag.Duration("token-ttl", 0, "lifetime of the issued admin token (default auth.admin_token_ttl)")
	flag.Parse()

	infoLog := log.New(os.Stdout, "INFO\t", log.Ldate|log.Ltime)
	errorLog := log.New(os.Stderr, "ERROR\t", log.Ldate|log.Ltime|log.Lshortfile)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		errorLog.Fatal(err)
	}
	if *addr != "" {
		cfg.Server.Address = *addr
	}

	if *issueFor != "" {
		ttl := cfg.Auth.AdminTTL
		if *tokenTTL > 0 {
			ttl = *tokenTTL
		}
		if err := issueAdminToken(cfg.Auth.JWTSecret, *issueFor, ttl); err != nil {
			errorLog.Fatal(err)
		}
		return
	}

	if err := cfg.Validate(); err != nil {
		errorLog.Fatal(err)
	}

	db, err := openDB(cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		errorLog.Fatal(err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := initializeApp(ctx, cfg, db, errorLog, infoLog)
	if err != nil {
		errorLog.Fatal(err)
	}
	defer app.close()

	go app.hub.Run(ctx)
	app.generalLimiter.StartCleanup(ctx, time.Minute)
	app.purchaseLimiter.StartCleanup(ctx, time.Minute)

	scheduler, err := app.startJobs(ctx)
	if err != nil {
		errorLog.Fatal(err)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: true,
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-API-Key", "X-Request-ID"},
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		ErrorLog:     errorLog,
		Handler:      addSecurityHeaders(c.Handler(app.routes())),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		infoLog.Printf("Starting server on %s", cfg.Server.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errorLog.Print(err)
		}
	case <-ctx.Done():
		infoLog.Print("shutting down")
	}

	<-scheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errorLog.Printf("shutdown: %v", err)
	}
}

func issueAdminToken(secret, subject string, ttl time.Duration) error {
	tokens, err := utils.NewManager(secret)
	if err != nil {
		return fmt.Errorf("issue admin token: %w", err)
	}
	token, err := tokens.NewJWT(subject, utils.RoleAdmin, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
