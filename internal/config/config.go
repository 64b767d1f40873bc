package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr                   string `yaml:"addr"`
		Env                    string `yaml:"env"`
		ShutdownTimeoutSeconds int    `yaml:"shutdown_timeout_seconds"`
	} `yaml:"server"`
	DB struct {
		DSN      string `yaml:"dsn"`
		MaxConns int32  `yaml:"max_conns"`
	} `yaml:"db"`
	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Paystack struct {
		BaseURL        string `yaml:"base_url"`
		SecretKey      string `yaml:"secret_key"`
		CallbackURL    string `yaml:"callback_url"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"paystack"`
	Cloudinary struct {
		CloudName string `yaml:"cloud_name"`
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
		Folder    string `yaml:"folder"`
	} `yaml:"cloudinary"`
	Requests struct {
		DailyLimit      int `yaml:"daily_limit"`
		DefaultTTLHours int `yaml:"default_ttl_hours"`
	} `yaml:"requests"`
	Offers struct {
		DefaultTTLHours int `yaml:"default_ttl_hours"`
	} `yaml:"offers"`
	Payout struct {
		DelaySeconds int    `yaml:"delay_seconds"`
		FeePercent   string `yaml:"fee_percent"`
		MaxAttempts  int    `yaml:"max_attempts"`
	} `yaml:"payout"`
	Worker struct {
		IntervalSeconds int64 `yaml:"interval_seconds"`
		BatchSize       int   `yaml:"batch_size"`
	} `yaml:"worker"`
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Env, "production")
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

func (c *Config) PaystackTimeout() time.Duration {
	return time.Duration(c.Paystack.TimeoutSeconds) * time.Second
}

func (c *Config) OfferTTL() time.Duration {
	return time.Duration(c.Offers.DefaultTTLHours) * time.Hour
}

func (c *Config) RequestTTL() time.Duration {
	return time.Duration(c.Requests.DefaultTTLHours) * time.Hour
}

func (c *Config) PayoutDelay() time.Duration {
	return time.Duration(c.Payout.DelaySeconds) * time.Second
}

func (c *Config) WorkerInterval() time.Duration {
	return time.Duration(c.Worker.IntervalSeconds) * time.Second
}

// FeePercent is validated by Load, so the parse cannot fail afterwards.
func (c *Config) FeePercent() decimal.Decimal {
	d, _ := decimal.NewFromString(c.Payout.FeePercent)
	return d
}

func Load(path string) (*Config, error) {
	// .env is optional; real environment variables still win over it.
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, os.ErrNotExist) && os.Getenv("CONFIG_PATH") == "":
		// no file: run from env only
	default:
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.Env == "" {
		cfg.Server.Env = "development"
	}
	if cfg.Server.ShutdownTimeoutSeconds <= 0 {
		cfg.Server.ShutdownTimeoutSeconds = 5
	}
	if cfg.Mongo.Database == "" {
		cfg.Mongo.Database = "campusmarket"
	}
	if cfg.Paystack.BaseURL == "" {
		cfg.Paystack.BaseURL = "https://api.paystack.co"
	}
	if cfg.Paystack.TimeoutSeconds <= 0 {
		cfg.Paystack.TimeoutSeconds = 10
	}
	if cfg.Requests.DailyLimit <= 0 {
		cfg.Requests.DailyLimit = 10
	}
	if cfg.Requests.DefaultTTLHours <= 0 {
		cfg.Requests.DefaultTTLHours = 30 * 24
	}
	if cfg.Offers.DefaultTTLHours <= 0 {
		cfg.Offers.DefaultTTLHours = 7 * 24
	}
	if cfg.Payout.DelaySeconds <= 0 {
		cfg.Payout.DelaySeconds = 5
	}
	if cfg.Payout.FeePercent == "" {
		cfg.Payout.FeePercent = "0"
	}
	if cfg.Payout.MaxAttempts <= 0 {
		cfg.Payout.MaxAttempts = 5
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 20
	}
	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 20
	}
}

func validate(cfg *Config) error {
	if cfg.DB.DSN == "" {
		return errors.New("db.dsn is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required")
	}
	fee, err := decimal.NewFromString(cfg.Payout.FeePercent)
	if err != nil {
		return errors.New("payout.fee_percent must be a decimal")
	}
	if fee.IsNegative() || fee.GreaterThan(decimal.NewFromInt(100)) {
		return errors.New("payout.fee_percent must be between 0 and 100")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.Server.Env = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("DB_MAX_CONNS"); v != "" {
		cfg.DB.MaxConns = int32(atoiOr(int(cfg.DB.MaxConns), v))
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		cfg.Mongo.URI = v
	}
	if v := os.Getenv("MONGO_DATABASE"); v != "" {
		cfg.Mongo.Database = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("PAYSTACK_BASE_URL"); v != "" {
		cfg.Paystack.BaseURL = v
	}
	if v := os.Getenv("PAYSTACK_SECRET_KEY"); v != "" {
		cfg.Paystack.SecretKey = v
	}
	if v := os.Getenv("PAYSTACK_CALLBACK_URL"); v != "" {
		cfg.Paystack.CallbackURL = v
	}
	if v := os.Getenv("CLOUDINARY_CLOUD_NAME"); v != "" {
		cfg.Cloudinary.CloudName = v
	}
	if v := os.Getenv("CLOUDINARY_API_KEY"); v != "" {
		cfg.Cloudinary.APIKey = v
	}
	if v := os.Getenv("CLOUDINARY_API_SECRET"); v != "" {
		cfg.Cloudinary.APISecret = v
	}
	if v := os.Getenv("REQUESTS_DAILY_LIMIT"); v != "" {
		cfg.Requests.DailyLimit = atoiOr(cfg.Requests.DailyLimit, v)
	}
	if v := os.Getenv("OFFER_TTL_HOURS"); v != "" {
		cfg.Offers.DefaultTTLHours = atoiOr(cfg.Offers.DefaultTTLHours, v)
	}
	if v := os.Getenv("PAYOUT_DELAY_SECONDS"); v != "" {
		cfg.Payout.DelaySeconds = atoiOr(cfg.Payout.DelaySeconds, v)
	}
	if v := os.Getenv("PAYOUT_FEE_PERCENT"); v != "" {
		cfg.Payout.FeePercent = strings.TrimSpace(v)
	}
	if v := os.Getenv("PAYOUT_MAX_ATTEMPTS"); v != "" {
		cfg.Payout.MaxAttempts = atoiOr(cfg.Payout.MaxAttempts, v)
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoi64Or(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_BATCH_SIZE"); v != "" {
		cfg.Worker.BatchSize = atoiOr(cfg.Worker.BatchSize, v)
	}
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
