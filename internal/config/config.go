package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env          string  `yaml:"env" env:"ENV" env-default:"local"`
	JWTSecret    string  `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	ExchangeRate float64 `yaml:"exchange_rate" env:"EXCHANGE_RATE" env-default:"1330"`
	DocsDir      string  `yaml:"docs_dir" env-default:"./api"`
	Scraping     `yaml:"scraping"`
	Refresh      `yaml:"refresh"`
	RabbitMQ     `yaml:"rabbitmq"`
	Postgres     `yaml:"postgres"`
	HTTPServer   `yaml:"http_server"`
	Redis        `yaml:"redis"`
	SMTP         `yaml:"smtp"`
}

// HTTPServer.WriteTimeout bounds POST /admin/refresh, which answers only after the pass ends.
type HTTPServer struct {
	Address      string        `yaml:"address" env-default:"localhost:8080"`
	Timeout      time.Duration `yaml:"timeout" env-default:"4s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env-default:"60s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env-default:"30m"`
}

// Scraping gates live upstream fetches. Browser selects the headless Chrome loader
// and must stay off where no Chrome binary is installed.
type Scraping struct {
	Enabled        bool          `yaml:"enabled" env:"SCRAPING_ENABLED" env-default:"false"`
	Browser        bool          `yaml:"browser" env:"SCRAPING_BROWSER" env-default:"false"`
	RequestTimeout time.Duration `yaml:"request_timeout" env-default:"30s"`
	UserAgent      string        `yaml:"user_agent" env-default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"`
}

type Refresh struct {
	AutoStart           bool          `yaml:"auto_start" env-default:"true"`
	Interval            time.Duration `yaml:"interval" env-default:"2h"`
	BatchSize           int           `yaml:"batch_size" env-default:"5"`
	StaleAfter          time.Duration `yaml:"stale_after" env-default:"2h"`
	ItemDelay           time.Duration `yaml:"item_delay" env-default:"5s"`
	LockTTL             time.Duration `yaml:"lock_ttl" env-default:"30m"`
	MaxPriceChangeRatio float64       `yaml:"max_price_change_ratio" env-default:"0"`
}

type Postgres struct {
	Host     string `yaml:"host" env-default:"postgres"`
	Port     int    `yaml:"port" env-default:"5432"`
	User     string `yaml:"user" env-required:"true"`
	Password string `yaml:"password" env-required:"true"`
	DBName   string `yaml:"dbname" env-required:"true"`
	SSLMode  string `yaml:"sslmode" env-default:"disable"`
}

type RabbitMQ struct {
	URL            string `yaml:"url" env-required:"true"`
	EventsQueue    string `yaml:"events_queue" env-default:"price_events"`
	RefreshQueue   string `yaml:"refresh_queue" env-default:"refresh_requests"`
	WorkerPoolSize int    `yaml:"worker_pool_size" env-default:"1"`
}

type Redis struct {
	Addr       string        `yaml:"addr" env-default:"redis:6379"`
	Db         int           `yaml:"db" env-default:"1"`
	DefaultTTL time.Duration `yaml:"default_ttl" env-default:"5m"`
}

type SMTP struct {
	Enabled  bool   `yaml:"enabled" env-default:"false"`
	Host     string `yaml:"host" env-default:"smtp"`
	Port     int    `yaml:"port" env-default:"587"`
	User     string `yaml:"user"`
	Password string `yaml:"password" env:"SMTP_PASSWORD"`
	From     string `yaml:"from" env-default:"noreply@kbeauty.local"`
	To       string `yaml:"to"`
}

// MustLoad reads the YAML file and applies environment overrides.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		log.Fatal(err)
	}

	return cfg
}

func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", configPath)
	}

	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("cannot read config %s: %w", configPath, err)
	}

	if cfg.ExchangeRate <= 0 {
		return nil, fmt.Errorf("exchange_rate must be positive, got %v", cfg.ExchangeRate)
	}

	return &cfg, nil
}

// Path returns CONFIG_PATH or the default location.
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}

	return "./config/config.yaml"
}
