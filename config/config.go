// Package config loads process configuration from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/Skryldev/mcp-user-tools/db"
)

// Config is the configuration of the tool server.
type Config struct {
	Database Database `envPrefix:"DATABASE_"`
	Server   struct {
		Port            string        `env:"PORT" envDefault:"8082"`
		RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"30s"`
		ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"10s"`
		WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	} `envPrefix:"SERVER_"`
	Log  Log `envPrefix:"LOG_"`
	OTel struct {
		Endpoint    string `env:"EXPORTER_OTLP_ENDPOINT"`
		ServiceName string `env:"SERVICE_NAME" envDefault:"mcp-user-tools"`
	} `envPrefix:"OTEL_"`
}

// Database describes how to reach the users database.
type Database struct {
	Driver   string `env:"DRIVER" envDefault:"sqlite3"`
	DSN      string `env:"DSN"`
	Username string `env:"USERNAME" envDefault:"sa"`
	Password string `env:"PASSWORD"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT"`
	Name     string `env:"NAME" envDefault:"mcp_users"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`

	MaxOpenConns    int           `env:"MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns    int           `env:"MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxIdleTime time.Duration `env:"MAX_IDLE_TIME" envDefault:"60s"`
	ConnectAttempts int           `env:"CONNECT_ATTEMPTS" envDefault:"3"`
	QueryTimeout    time.Duration `env:"QUERY_TIMEOUT" envDefault:"10s"`
	SlowQuery       time.Duration `env:"SLOW_QUERY_THRESHOLD" envDefault:"200ms"`
}

// Log configures the process logger.
type Log struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
	// File enables a rotating file sink instead of stdout.
	File       string `env:"FILE"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB" envDefault:"50"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"5"`
}

// sqliteDefaultDSN is used when the sqlite3 driver is selected without a DSN.
const sqliteDefaultDSN = "mcp_users.db?_busy_timeout=5000&_journal_mode=WAL"

// DriverOptions returns the structured connection parameters used to build
// a DSN when none is configured.
func (d Database) DriverOptions() db.DriverOptions {
	opts := db.DriverOptions{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.Username,
		Password: d.Password,
		Database: d.Name,
		SSLMode:  d.SSLMode,
	}
	if d.Driver == "sqlite3" && d.DSN == "" {
		opts.Database = sqliteDefaultDSN
	}
	return opts
}

// DBConfig returns the pool configuration for db.OpenWithDriver.
func (d Database) DBConfig(hooks ...db.Hook) db.Config {
	return db.Config{
		DSN:             d.DSN,
		DriverName:      d.Driver,
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxIdleTime: d.ConnMaxIdleTime,
		ConnectAttempts: d.ConnectAttempts,
		ConnectBackoff:  time.Second,
		AutoBootstrap:   true,
		Hooks:           hooks,
	}
}

// Load reads the server configuration.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Stdio is the configuration of the stdio bridge.
type Stdio struct {
	ServerURL string `env:"SERVER_URL" envDefault:"http://localhost:8082/mcp"`
	// ServerCommand, when set, is started if the server is not healthy.
	ServerCommand  []string      `env:"MCP_SERVER_COMMAND" envSeparator:" "`
	StartupTimeout time.Duration `env:"MCP_STARTUP_TIMEOUT" envDefault:"30s"`
	CallTimeout    time.Duration `env:"MCP_CALL_TIMEOUT" envDefault:"60s"`
	Log            Log           `envPrefix:"LOG_"`
}

// LoadStdio reads the stdio bridge configuration.
func LoadStdio() (*Stdio, error) {
	cfg := &Stdio{}
	if err := parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(cfg any) error {
	_ = godotenv.Load()

	if err := env.Parse(cfg); err != nil {
		var aggErr env.AggregateError
		if errors.As(err, &aggErr) && len(aggErr.Errors) > 0 {
			// first error only, keeps the startup log readable
			return aggErr.Errors[0]
		}
		return err
	}
	return nil
}
