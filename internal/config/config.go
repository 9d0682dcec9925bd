package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
type Config struct {
	PostgresURL   string `mapstructure:"POSTGRES_URL"`
	RunMigrations bool   `mapstructure:"RUN_MIGRATIONS"`
	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	CacheTTLHours int    `mapstructure:"CACHE_TTL_HOURS"`
	ServerPort    string `mapstructure:"SERVER_PORT"`
	LogLevel      string `mapstructure:"LOG_LEVEL"`

	Categories          []string `mapstructure:"CRAWL_CATEGORIES"`
	StartPage           int      `mapstructure:"START_PAGE"`
	PageSize            int      `mapstructure:"PAGE_SIZE"`
	PageIntervalSeconds int      `mapstructure:"PAGE_INTERVAL_SECONDS"`
	ErrorBackoffSeconds int      `mapstructure:"ERROR_BACKOFF_SECONDS"`
	CrawlEveryHours     int      `mapstructure:"CRAWL_EVERY_HOURS"`
	SweepEveryHours     int      `mapstructure:"SWEEP_EVERY_HOURS"`

	SearchURL          string   `mapstructure:"SEARCH_URL"`
	DetailURL          string   `mapstructure:"DETAIL_URL"`
	TenderBaseURL      string   `mapstructure:"TENDER_BASE_URL"`
	MarketplaceRPS     float64  `mapstructure:"MARKETPLACE_RPS"`
	HTTPTimeoutSeconds int      `mapstructure:"HTTP_TIMEOUT_SECONDS"`
	InsecureTLS        bool     `mapstructure:"INSECURE_TLS"`
	Proxies            []string `mapstructure:"PROXIES"`

	ReportsDir        string `mapstructure:"REPORTS_DIR"`
	ReportWindowStart int    `mapstructure:"REPORT_WINDOW_START"`
	ReportWindowEnd   int    `mapstructure:"REPORT_WINDOW_END"`

	DiskAPIURL           string `mapstructure:"DISK_API_URL"`
	DiskToken            string `mapstructure:"DISK_TOKEN"`
	DiskRoot             string `mapstructure:"DISK_ROOT"`
	NonresidentialFolder string `mapstructure:"NONRESIDENTIAL_FOLDER"`
	ParkingSpacesFolder  string `mapstructure:"PARKING_SPACES_FOLDER"`
	UploadRetryRounds    int    `mapstructure:"UPLOAD_RETRY_ROUNDS"`
	UploadPollIntervalMS int    `mapstructure:"UPLOAD_POLL_INTERVAL_MS"`
	UploadPollAttempts   int    `mapstructure:"UPLOAD_POLL_ATTEMPTS"`
	UploadConcurrency    int    `mapstructure:"UPLOAD_CONCURRENCY"`
	PublicHostFrom       string `mapstructure:"PUBLIC_HOST_FROM"`
	PublicHostTo         string `mapstructure:"PUBLIC_HOST_TO"`

	BackgroundWorkers      int `mapstructure:"BACKGROUND_WORKERS"`
	BackgroundQueue        int `mapstructure:"BACKGROUND_QUEUE"`
	ShutdownTimeoutSeconds int `mapstructure:"SHUTDOWN_TIMEOUT_SECONDS"`

	Timezone              string `mapstructure:"TIMEZONE"`
	PriceRegex            string `mapstructure:"PRICE_REGEX"`
	AreaRegex             string `mapstructure:"AREA_REGEX"`
	ParkingPlaceRegex     string `mapstructure:"PARKING_PLACE_REGEX"`
	DateTimeSecondsLayout string `mapstructure:"DATETIME_SECONDS_LAYOUT"`
	DateTimeLayout        string `mapstructure:"DATETIME_LAYOUT"`

	// Parsing is compiled from the raw pattern fields once at load time.
	Parsing Parsing `mapstructure:"-"`
}

// Load reads configuration from file or environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// A missing .env is fine, production passes everything through the environment.
	_ = v.ReadInConfig()

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	parsing, err := NewParsing(cfg.PriceRegex, cfg.AreaRegex, cfg.ParkingPlaceRegex,
		cfg.DateTimeSecondsLayout, cfg.DateTimeLayout, cfg.Timezone)
	if err != nil {
		return nil, err
	}
	cfg.Parsing = parsing
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("POSTGRES_URL", "")
	v.SetDefault("RUN_MIGRATIONS", true)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CACHE_TTL_HOURS", 0)
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("CRAWL_CATEGORIES", []string{"nonresidential", "parking_space"})
	v.SetDefault("START_PAGE", 1)
	v.SetDefault("PAGE_SIZE", 20)
	v.SetDefault("PAGE_INTERVAL_SECONDS", 300)
	v.SetDefault("ERROR_BACKOFF_SECONDS", 60)
	v.SetDefault("CRAWL_EVERY_HOURS", 5)
	v.SetDefault("SWEEP_EVERY_HOURS", 12)

	v.SetDefault("SEARCH_URL", "https://api.investmoscow.ru/investmoscow/tender/v2/filtered-tenders/searchTenderObjects")
	v.SetDefault("DETAIL_URL", "https://api.investmoscow.ru/investmoscow/tender/v1/object-info/getTenderObjectInformation")
	v.SetDefault("TENDER_BASE_URL", "https://investmoscow.ru/tenders/tender/")
	v.SetDefault("MARKETPLACE_RPS", 2.0)
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 60)
	v.SetDefault("INSECURE_TLS", false)
	v.SetDefault("PROXIES", []string{})

	v.SetDefault("REPORTS_DIR", "/tmp/reports")
	v.SetDefault("REPORT_WINDOW_START", 12)
	v.SetDefault("REPORT_WINDOW_END", 20)

	v.SetDefault("DISK_API_URL", "https://cloud-api.yandex.net/v1/disk")
	v.SetDefault("DISK_TOKEN", "")
	v.SetDefault("DISK_ROOT", "app:")
	v.SetDefault("NONRESIDENTIAL_FOLDER", "nonresidential")
	v.SetDefault("PARKING_SPACES_FOLDER", "parking_spaces")
	v.SetDefault("UPLOAD_RETRY_ROUNDS", 2)
	v.SetDefault("UPLOAD_POLL_INTERVAL_MS", 2000)
	v.SetDefault("UPLOAD_POLL_ATTEMPTS", 5)
	v.SetDefault("UPLOAD_CONCURRENCY", 4)
	v.SetDefault("PUBLIC_HOST_FROM", "yadi.sk")
	v.SetDefault("PUBLIC_HOST_TO", "disk.yandex.ru")

	v.SetDefault("BACKGROUND_WORKERS", 4)
	v.SetDefault("BACKGROUND_QUEUE", 64)
	v.SetDefault("SHUTDOWN_TIMEOUT_SECONDS", 30)

	v.SetDefault("TIMEZONE", DefaultTimezone)
	v.SetDefault("PRICE_REGEX", DefaultPriceRegex)
	v.SetDefault("AREA_REGEX", DefaultAreaRegex)
	v.SetDefault("PARKING_PLACE_REGEX", DefaultParkingPlaceRegex)
	v.SetDefault("DATETIME_SECONDS_LAYOUT", DefaultDateTimeSecondsLayout)
	v.SetDefault("DATETIME_LAYOUT", DefaultDateTimeLayout)
}

func (c *Config) validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive, got %d", c.PageSize)
	}
	if c.StartPage < 1 {
		return fmt.Errorf("START_PAGE must be at least 1, got %d", c.StartPage)
	}
	if c.ReportWindowStart < 0 || c.ReportWindowEnd < c.ReportWindowStart {
		return fmt.Errorf("invalid report window [%d, %d)", c.ReportWindowStart, c.ReportWindowEnd)
	}
	if c.PageIntervalSeconds < 0 || c.ErrorBackoffSeconds < 0 {
		return fmt.Errorf("PAGE_INTERVAL_SECONDS and ERROR_BACKOFF_SECONDS must not be negative")
	}
	if c.CrawlEveryHours <= 0 || c.SweepEveryHours <= 0 {
		return fmt.Errorf("CRAWL_EVERY_HOURS and SWEEP_EVERY_HOURS must be positive")
	}
	if c.UploadRetryRounds < 0 {
		return fmt.Errorf("UPLOAD_RETRY_ROUNDS must not be negative")
	}
	if c.BackgroundWorkers <= 0 || c.BackgroundQueue <= 0 {
		return fmt.Errorf("BACKGROUND_WORKERS and BACKGROUND_QUEUE must be positive")
	}
	return nil
}

func (c *Config) PageInterval() time.Duration {
	return time.Duration(c.PageIntervalSeconds) * time.Second
}

func (c *Config) ErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoffSeconds) * time.Second
}

func (c *Config) CrawlEvery() time.Duration {
	return time.Duration(c.CrawlEveryHours) * time.Hour
}

func (c *Config) SweepEvery() time.Duration {
	return time.Duration(c.SweepEveryHours) * time.Hour
}

func (c *Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}

func (c *Config) UploadPollInterval() time.Duration {
	return time.Duration(c.UploadPollIntervalMS) * time.Millisecond
}

func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
