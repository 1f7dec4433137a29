package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gharsathi/internal/billing"
	"gharsathi/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverMongo  = "mongo"

	SinkLog      = "log"
	SinkTelegram = "telegram"
)

type Config struct {
	App           AppConfig          `yaml:"app"`
	Database      DatabaseConfig     `yaml:"database"`
	Redis         RedisConfig        `yaml:"redis"`
	Mongo         MongoConfig        `yaml:"mongo"`
	Billing       billing.Policy     `yaml:"billing"`
	Booking       BookingConfig      `yaml:"booking"`
	API           APIConfig          `yaml:"api"`
	Monitoring    MonitoringConfig   `yaml:"monitoring"`
	Logging       LoggingConfig      `yaml:"logging"`
	Notifications NotificationConfig `yaml:"notifications"`
	Telegram      TelegramConfig     `yaml:"telegram"`
	Backup        BackupConfig       `yaml:"backup"`
	Exports       ExportConfig       `yaml:"exports"`
	Google        GoogleConfig       `yaml:"google"`
	// Actors seeds the identity directory and backs it when the database is unreachable.
	Actors []models.Actor `yaml:"actors"`
}

type BookingConfig struct {
	// NodeID separates booking code sequences between processes (0-1023).
	NodeID      int64 `yaml:"node_id"`
	NoteRetries int   `yaml:"note_retries"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderActor  string         `yaml:"header_actor"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

// GoogleConfig enables the spreadsheet mirror when both fields are set.
type GoogleConfig struct {
	GoogleCredentialsFile string `yaml:"credentials_file"`
	BookingSpreadSheetID  string `yaml:"booking_spreadsheet_id"`
	SheetName             string `yaml:"sheet_name"`
}

func (g GoogleConfig) Enabled() bool {
	return g.GoogleCredentialsFile != "" && g.BookingSpreadSheetID != ""
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MongoConfig struct {
	URI        string        `yaml:"uri"`
	Database   string        `yaml:"database"`
	Collection string        `yaml:"collection"`
	Timeout    time.Duration `yaml:"timeout"`
}

type NotificationConfig struct {
	Enabled bool `yaml:"enabled"`
	// Sink is "log" or "telegram".
	Sink          string        `yaml:"sink"`
	UseRedisQueue bool          `yaml:"use_redis_queue"`
	QueueSize     int           `yaml:"queue_size"`
	MaxRetries    int           `yaml:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	PollInterval  time.Duration `yaml:"poll_interval"`
	BatchSize     int           `yaml:"batch_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

func Load(configPath string) (*Config, error) {
	// Загружаем .env файл если существует
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return errors.New("database path is required")
		}
	case DriverMemory:
	case DriverRedis:
		if c.Redis.Address == "" {
			return errors.New("redis address is required for the redis driver")
		}
	case DriverMongo:
		if c.Mongo.URI == "" {
			return errors.New("mongo uri is required for the mongo driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	if c.Billing.MinimumCharge <= 0 || c.Billing.HourlyRate <= 0 {
		return errors.New("billing minimum_charge and hourly_rate must be positive")
	}
	if c.Booking.NodeID < 0 || c.Booking.NodeID > 1023 {
		return fmt.Errorf("booking node_id %d out of range 0-1023", c.Booking.NodeID)
	}

	if c.Notifications.Enabled {
		// Outbox уведомлений живёт в sqlite независимо от драйвера заявок
		if c.Database.Path == "" {
			return errors.New("database path is required for the notification outbox")
		}
		switch c.Notifications.Sink {
		case SinkLog:
		case SinkTelegram:
			if c.Telegram.BotToken == "" || c.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE" {
				return errors.New("telegram bot token is required for the telegram sink")
			}
		default:
			return fmt.Errorf("unknown notification sink %q", c.Notifications.Sink)
		}
		if c.Notifications.UseRedisQueue && c.Redis.Address == "" {
			return errors.New("redis address is required for the redis notification queue")
		}
	}

	return ValidateActors(c.Actors)
}

func ValidateActors(actors []models.Actor) error {
	seen := make(map[string]bool)
	for _, a := range actors {
		if a.ID == "" {
			return fmt.Errorf("actor '%s' has empty id", a.Name)
		}
		if a.ID == models.SystemActorID || a.Role == models.RoleSystem {
			return fmt.Errorf("actor '%s' cannot use the reserved system identity", a.ID)
		}
		if !a.Role.Valid() {
			return fmt.Errorf("actor '%s' has unknown role %q", a.ID, a.Role)
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate actor id found: %s", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "gharsathi"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = DriverSQLite
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "gharsathi"
	}
	if c.Mongo.Collection == "" {
		c.Mongo.Collection = "bookings"
	}
	if c.Mongo.Timeout == 0 {
		c.Mongo.Timeout = 10 * time.Second
	}

	def := billing.DefaultPolicy()
	if c.Billing.MinimumCharge == 0 {
		c.Billing.MinimumCharge = def.MinimumCharge
	}
	if c.Billing.HourlyRate == 0 {
		c.Billing.HourlyRate = def.HourlyRate
	}
	if c.Booking.NoteRetries == 0 {
		c.Booking.NoteRetries = 5
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	// auth enabled by default when API is enabled
	if !c.API.Auth.Enabled {
		c.API.Auth.Enabled = true
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderActor == "" {
		c.API.Auth.HeaderActor = "x-actor-id"
	}

	// Notification defaults
	if c.Notifications.Sink == "" {
		c.Notifications.Sink = SinkLog
	}
	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = models.NotificationQueueSize
	}
	if c.Notifications.MaxRetries == 0 {
		c.Notifications.MaxRetries = 5
	}
	if c.Notifications.BaseDelay == 0 {
		c.Notifications.BaseDelay = 2 * time.Second
	}
	if c.Notifications.MaxDelay == 0 {
		c.Notifications.MaxDelay = 5 * time.Minute
	}
	if c.Notifications.PollInterval == 0 {
		c.Notifications.PollInterval = 10 * time.Second
	}
	if c.Notifications.BatchSize == 0 {
		c.Notifications.BatchSize = 50
	}

	if c.Backup.Enabled && c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}
