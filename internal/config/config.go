package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

const DefaultPath = "config/config.yaml"

type Config struct {
	Server struct {
		Address        string   `yaml:"address"`
		AllowedOrigins []string `yaml:"allowed_origins"`
		// Peers allowed to set X-Forwarded-For, as CIDRs or addresses.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Addr     string        `yaml:"addr"`
		Password string        `yaml:"password"`
		DB       int           `yaml:"db"`
		TTL      time.Duration `yaml:"ttl"`
	} `yaml:"redis"`
	Steam struct {
		WebKey          string        `yaml:"webkey"`
		BaseURL         string        `yaml:"base_url"`
		Sandbox         bool          `yaml:"sandbox"`
		Language        string        `yaml:"language"`
		Timeout         time.Duration `yaml:"timeout"`
		BillingCurrency string        `yaml:"billing_currency"`
	} `yaml:"steam"`
	Auth struct {
		// APIKeyHashes are bcrypt hashes of the keys game servers send in X-API-Key.
		APIKeyHashes []string      `yaml:"api_key_hashes"`
		JWTSecret    string        `yaml:"jwt_secret"`
		AdminTTL     time.Duration `yaml:"admin_token_ttl"`
	} `yaml:"auth"`
	RateLimit struct {
		Requests         int           `yaml:"requests"`
		PurchaseRequests int           `yaml:"purchase_requests"`
		Window           time.Duration `yaml:"window"`
	} `yaml:"rate_limit"`
	Webhooks struct {
		SuccessURL string        `yaml:"success_url"`
		FailureURL string        `yaml:"failure_url"`
		Secret     string        `yaml:"secret"`
		Timeout    time.Duration `yaml:"timeout"`
	} `yaml:"webhooks"`
	Notify struct {
		Workers   int `yaml:"workers"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"notify"`
	Firebase struct {
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"firebase"`
	AWS struct {
		Region    string `yaml:"region"`
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
	} `yaml:"aws"`
	Email struct {
		From       string   `yaml:"from"`
		Recipients []string `yaml:"recipients"`
		FailedOnly bool     `yaml:"failed_only"`
	} `yaml:"email"`
	Export struct {
		Bucket   string   `yaml:"bucket"`
		Prefix   string   `yaml:"prefix"`
		Schedule string   `yaml:"schedule"`
		AppIDs   []string `yaml:"app_ids"`
	} `yaml:"export"`
	Reconcile struct {
		Schedule string        `yaml:"schedule"`
		MinAge   time.Duration `yaml:"min_age"`
		Batch    int           `yaml:"batch"`
	} `yaml:"reconcile"`
}

// Load reads the YAML file at path (DefaultPath when empty), applies
// environment overrides and defaults. A missing file is allowed so the
// service can be configured from the environment alone.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

// applyEnv lets secrets and deployment specifics come from the environment.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("STEAM_WEBKEY", &c.Steam.WebKey)
	str("STEAM_BASE_URL", &c.Steam.BaseURL)
	str("DATABASE_DRIVER", &c.Database.Driver)
	str("DATABASE_URL", &c.Database.URL)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("WEBHOOK_SECRET", &c.Webhooks.Secret)
	str("WEBHOOK_SUCCESS_URL", &c.Webhooks.SuccessURL)
	str("WEBHOOK_FAILURE_URL", &c.Webhooks.FailureURL)
	str("FIREBASE_CREDENTIALS", &c.Firebase.CredentialsFile)
	str("AWS_REGION", &c.AWS.Region)
	str("AWS_ACCESS_KEY_ID", &c.AWS.AccessKey)
	str("AWS_SECRET_ACCESS_KEY", &c.AWS.SecretKey)
	str("EXPORT_BUCKET", &c.Export.Bucket)

	if v, ok := lookup("PORT"); ok && strings.TrimSpace(v) != "" {
		c.Server.Address = ":" + strings.TrimPrefix(strings.TrimSpace(v), ":")
	}
	if v, ok := lookup("STEAM_SANDBOX"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse STEAM_SANDBOX: %w", err)
		}
		c.Steam.Sandbox = b
	}
	if v, ok := lookup("STEAM_TIMEOUT"); ok && strings.TrimSpace(v) != "" {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("parse STEAM_TIMEOUT: %w", err)
		}
		c.Steam.Timeout = d
	}
	if v, ok := lookup("TRUSTED_PROXIES"); ok && strings.TrimSpace(v) != "" {
		c.Server.TrustedProxies = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				c.Server.TrustedProxies = append(c.Server.TrustedProxies, p)
			}
		}
	}
	if v, ok := lookup("API_KEY_HASHES"); ok && strings.TrimSpace(v) != "" {
		c.Auth.APIKeyHashes = nil
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				c.Auth.APIKeyHashes = append(c.Auth.APIKeyHashes, h)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":4001"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "mysql"
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 5 * time.Minute
	}
	if c.Steam.Timeout <= 0 {
		c.Steam.Timeout = 10 * time.Second
	}
	if c.Steam.Language == "" {
		c.Steam.Language = "en"
	}
	if c.Steam.BillingCurrency == "" {
		c.Steam.BillingCurrency = "USD"
	}
	c.Steam.BillingCurrency = strings.ToUpper(c.Steam.BillingCurrency)
	if c.Auth.AdminTTL <= 0 {
		c.Auth.AdminTTL = 12 * time.Hour
	}
	if c.RateLimit.Requests <= 0 {
		c.RateLimit.Requests = 100
	}
	if c.RateLimit.PurchaseRequests <= 0 {
		c.RateLimit.PurchaseRequests = 30
	}
	if c.RateLimit.Window <= 0 {
		c.RateLimit.Window = 15 * time.Minute
	}
	if c.Webhooks.Timeout <= 0 {
		c.Webhooks.Timeout = 5 * time.Second
	}
	if c.Notify.Workers <= 0 {
		c.Notify.Workers = 4
	}
	if c.Notify.QueueSize <= 0 {
		c.Notify.QueueSize = 256
	}
	if c.AWS.Region == "" {
		c.AWS.Region = "us-east-1"
	}
	if c.Reconcile.Schedule == "" {
		c.Reconcile.Schedule = "@every 5m"
	}
	if c.Reconcile.MinAge <= 0 {
		c.Reconcile.MinAge = 2 * time.Minute
	}
	if c.Reconcile.Batch <= 0 {
		c.Reconcile.Batch = 100
	}
}

// Validate reports every missing required setting at once.
func (c Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Steam.WebKey) == "" {
		missing = append(missing, "steam.webkey")
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		missing = append(missing, "database.url")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		missing = append(missing, "auth.jwt_secret")
	}
	if len(c.Auth.APIKeyHashes) == 0 {
		missing = append(missing, "auth.api_key_hashes")
	}
	if (c.Webhooks.SuccessURL != "" || c.Webhooks.FailureURL != "") && strings.TrimSpace(c.Webhooks.Secret) == "" {
		missing = append(missing, "webhooks.secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing %s", strings.Join(missing, ", "))
	}
	switch c.Database.Driver {
	case "mysql", "pgx":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}
