package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gharsathi/internal/billing"
	"gharsathi/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// Create a temporary config file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("GHARSATHI_DB_PATH", filepath.Join(tmpDir, "gharsathi.db"))

	yamlContent := `
database:
  driver: sqlite
  path: "${GHARSATHI_DB_PATH}"
billing:
  minimum_charge: 250
notifications:
  enabled: true
  base_delay: 3s
actors:
  - id: "u-1"
    role: user
    name: "Sita"
  - id: "p-1"
    role: provider
    name: "Ram Electricals"
    telegram_chat_id: 42
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tmpDir, "gharsathi.db"), cfg.Database.Path)
	assert.Equal(t, 250.0, cfg.Billing.MinimumCharge)
	assert.Equal(t, float64(models.HourlyRate), cfg.Billing.HourlyRate)
	assert.Equal(t, 3*time.Second, cfg.Notifications.BaseDelay)
	assert.Equal(t, SinkLog, cfg.Notifications.Sink)
	require.Len(t, cfg.Actors, 2)
	assert.Equal(t, models.RoleProvider, cfg.Actors[1].Role)
	assert.Equal(t, int64(42), cfg.Actors[1].TelegramChatID)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{Database: DatabaseConfig{Driver: DriverSQLite, Path: "path"}, Billing: billing.DefaultPolicy()}
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing sqlite path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "memory needs nothing", mutate: func(c *Config) { c.Database = DatabaseConfig{Driver: DriverMemory} }},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "postgres" }, wantErr: true},
		{name: "redis without address", mutate: func(c *Config) { c.Database.Driver = DriverRedis }, wantErr: true},
		{name: "mongo without uri", mutate: func(c *Config) { c.Database.Driver = DriverMongo }, wantErr: true},
		{name: "zero hourly rate", mutate: func(c *Config) { c.Billing.HourlyRate = 0 }, wantErr: true},
		{name: "node id out of range", mutate: func(c *Config) { c.Booking.NodeID = 1024 }, wantErr: true},
		{
			name: "telegram sink without token",
			mutate: func(c *Config) {
				c.Notifications = NotificationConfig{Enabled: true, Sink: SinkTelegram}
			},
			wantErr: true,
		},
		{
			name: "notifications need the sqlite outbox",
			mutate: func(c *Config) {
				c.Database = DatabaseConfig{Driver: DriverMemory}
				c.Notifications = NotificationConfig{Enabled: true, Sink: SinkLog}
			},
			wantErr: true,
		},
		{
			name: "redis queue without address",
			mutate: func(c *Config) {
				c.Notifications = NotificationConfig{Enabled: true, Sink: SinkLog, UseRedisQueue: true}
			},
			wantErr: true,
		},
		{
			name: "duplicate actor id",
			mutate: func(c *Config) {
				c.Actors = []models.Actor{{ID: "u-1", Role: models.RoleUser}, {ID: "u-1", Role: models.RoleProvider}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, billing.DefaultPolicy(), cfg.Billing)
	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
	assert.Equal(t, "x-actor-id", cfg.API.Auth.HeaderActor)
	assert.Equal(t, models.NotificationQueueSize, cfg.Notifications.QueueSize)
	assert.Equal(t, 5, cfg.Booking.NoteRetries)
	assert.Equal(t, "bookings", cfg.Mongo.Collection)
}

func TestValidateActors(t *testing.T) {
	tests := []struct {
		name    string
		actors  []models.Actor
		wantErr bool
	}{
		{
			name:   "Valid actors",
			actors: []models.Actor{{ID: "u-1", Role: models.RoleUser}, {ID: "p-1", Role: models.RoleProvider}},
		},
		{name: "Empty ID", actors: []models.Actor{{Role: models.RoleUser}}, wantErr: true},
		{name: "Reserved system id", actors: []models.Actor{{ID: models.SystemActorID, Role: models.RoleUser}}, wantErr: true},
		{name: "System role", actors: []models.Actor{{ID: "x", Role: models.RoleSystem}}, wantErr: true},
		{name: "Unknown role", actors: []models.Actor{{ID: "x", Role: "admin"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateActors(tt.actors)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateActors() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGoogleConfigEnabled(t *testing.T) {
	assert.False(t, GoogleConfig{}.Enabled())
	assert.False(t, GoogleConfig{GoogleCredentialsFile: "creds.json"}.Enabled())
	assert.True(t, GoogleConfig{GoogleCredentialsFile: "creds.json", BookingSpreadSheetID: "sheet"}.Enabled())
}
