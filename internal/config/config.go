// Package config provides centralized configuration management for tablesync.
// It loads configuration from environment variables, an optional YAML file and
// command-line flags, applies defaults and validates all settings on startup
// to fail fast on misconfiguration.
package config

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidMode is returned when the sync mode is not export or import.
var ErrInvalidMode = errors.New("invalid sync mode")

// Mode is the direction of a sync run.
type Mode string

const (
	ModeExport Mode = "export" // database table -> file
	ModeImport Mode = "import" // file -> database table
)

// ParseMode parses a mode name. Accepted values are export, e, import and i,
// case-insensitive and surrounding whitespace ignored.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "export", "e":
		return ModeExport, nil
	case "import", "i":
		return ModeImport, nil
	default:
		return "", fmt.Errorf("%w: %q (want export or import)", ErrInvalidMode, s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// FileFormat is the on-disk format of exchanged files.
type FileFormat string

const (
	FormatCSV  FileFormat = "csv"
	FormatXLSX FileFormat = "xlsx"
)

// ParseFileFormat maps a format name to a FileFormat.
// "csv" (case-insensitive, trimmed) selects CSV; anything else selects the
// spreadsheet format.
func ParseFileFormat(s string) FileFormat {
	if strings.EqualFold(strings.TrimSpace(s), "csv") {
		return FormatCSV
	}
	return FormatXLSX
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (f *FileFormat) UnmarshalText(text []byte) error {
	*f = ParseFileFormat(string(text))
	return nil
}

// Extension returns the file extension without the leading dot.
func (f FileFormat) Extension() string {
	if f == FormatCSV {
		return "csv"
	}
	return "xlsx"
}

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Sync     SyncConfig
	Database DatabaseConfig
	Schedule ScheduleConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

// SyncConfig holds the settings consumed by the sync processor.
type SyncConfig struct {
	// Mode is the sync direction (required)
	Mode Mode `env:"SYNC_MODE" envAlt:"syncMode" required:"true"`

	// Tables is a comma-separated list of table names (required)
	Tables []string `env:"SYNC_TABLES" envAlt:"TABLE" required:"true"`

	// FileFormat selects csv or xlsx (default: xlsx)
	FileFormat FileFormat `env:"SYNC_FILE_FORMAT" envAlt:"fileFormat" default:"xlsx"`

	// Folder is where files are written and read (default: ./data)
	Folder string `env:"SYNC_FILE_FOLDER" envAlt:"fileFolder" default:"./data"`

	// CSVEncoding is the character set of CSV files (default: utf-8)
	CSVEncoding string `env:"SYNC_CSV_ENCODING" default:"utf-8"`

	// ContinueOnError keeps processing remaining tables after a failure (default: false)
	ContinueOnError bool `env:"SYNC_CONTINUE_ON_ERROR" default:"false"`
}

// FileName returns the date-stamped file name for a table.
func (c SyncConfig) FileName(table string, day time.Time) string {
	return fmt.Sprintf("%s_%s.%s", table, day.Format("20060102"), c.FileFormat.Extension())
}

// FilePath returns the full path of the date-stamped file for a table.
func (c SyncConfig) FilePath(table string, day time.Time) string {
	return filepath.Join(c.Folder, c.FileName(table, day))
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// SourceURL is the connection descriptor read by exports (required)
	SourceURL string `env:"SOURCE_DB" envAlt:"sourceDb" required:"true"`

	// DestinationURL is the connection descriptor written by imports (required)
	DestinationURL string `env:"DESTINATION_DB" envAlt:"destinationDb" required:"true"`

	// ConnectTimeout bounds each connection attempt (default: 30s)
	ConnectTimeout time.Duration `env:"DB_CONNECT_TIMEOUT" default:"30s"`
}

// ScheduleConfig holds recurrence settings for long-running modes.
type ScheduleConfig struct {
	// Cron is an optional cron expression; when set it replaces Interval
	Cron string `env:"SYNC_CRON"`

	// Interval is the delay between runs (default: 24h)
	Interval time.Duration `env:"SYNC_INTERVAL" default:"24h"`

	// RunOnStart runs once immediately when the scheduler starts (default: true)
	RunOnStart bool `env:"SYNC_RUN_ON_START" default:"true"`

	// RetryImmediately refires a failed run once without waiting (default: false)
	RetryImmediately bool `env:"SYNC_RETRY_IMMEDIATELY" default:"false"`
}

// ServerConfig holds ops HTTP server settings.
type ServerConfig struct {
	// Enabled starts the ops server in serve mode (default: true)
	Enabled bool `env:"SERVER_ENABLED" default:"true"`

	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading a request (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing a response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// APIKeys are accepted in X-API-Key for POST /api/run; empty disables the check
	APIKeys []string `env:"SERVER_API_KEYS"`

	// TrustedProxies are CIDRs whose X-Real-IP / X-Forwarded-For headers are honored
	TrustedProxies []string `env:"SERVER_TRUSTED_PROXIES"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
