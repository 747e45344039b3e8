package config

import (
	"encoding"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"
	"golang.org/x/text/encoding/htmlindex"
)

// Sources lists the optional configuration inputs layered over the
// environment. Later sources override earlier ones:
// YAML file, then environment, then explicitly set flags.
type Sources struct {
	// File is a YAML file whose keys are lower-case variable names
	// (sync_mode, source_db, ...). Empty means no file.
	File string

	// Flags are command-line flags. Only flags the user set are applied.
	Flags *pflag.FlagSet
}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"mode":              "sync_mode",
	"tables":            "sync_tables",
	"format":            "sync_file_format",
	"folder":            "sync_file_folder",
	"encoding":          "sync_csv_encoding",
	"continue-on-error": "sync_continue_on_error",
	"source":            "source_db",
	"destination":       "destination_db",
	"cron":              "sync_cron",
	"interval":          "sync_interval",
	"log-level":         "log_level",
	"log-format":        "log_format",
	"port":              "server_port",
}

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	return LoadFrom(Sources{})
}

// LoadFrom reads configuration from the given sources and the environment.
// The data folder is created if it does not exist; no database connection is
// opened.
func LoadFrom(src Sources) (*Config, error) {
	k, err := layer(src)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	cfg := &Config{}
	if err := loadStruct(reflect.ValueOf(cfg).Elem(), k); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	if err := os.MkdirAll(cfg.Sync.Folder, 0o755); err != nil {
		return nil, fmt.Errorf("config load: create folder %s: %w", cfg.Sync.Folder, err)
	}

	return cfg, nil
}

// layer builds the koanf instance holding every raw value, keyed by the
// lower-cased variable name.
func layer(src Sources) (*koanf.Koanf, error) {
	k := koanf.New(".")

	if src.File != "" {
		if err := k.Load(file.Provider(src.File), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", src.File, err)
		}
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if src.Flags != nil {
		flags := src.Flags
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("read flags: %w", err)
		}
	}

	return k, nil
}

// lookup returns the trimmed value for a variable name, or "". A YAML list
// is joined with commas so it parses like the environment form.
func lookup(k *koanf.Koanf, name string) (string, error) {
	if name == "" {
		return "", nil
	}
	key := strings.ToLower(name)
	if !k.Exists(key) {
		return "", nil
	}

	switch v := k.Get(key).(type) {
	case []any:
		parts := make([]string, len(v))
		for i, item := range v {
			s, err := scalar(name, item)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ","), nil
	case []string:
		return strings.TrimSpace(strings.Join(v, ",")), nil
	default:
		return scalar(name, v)
	}
}

// scalar renders a single configuration value. Nested structures are rejected.
func scalar(name string, v any) (string, error) {
	switch v.(type) {
	case map[string]any, []any:
		return "", fmt.Errorf("%s: expected a value or a list of values, got %T", name, v)
	case nil:
		return "", nil
	}
	return strings.TrimSpace(fmt.Sprint(v)), nil
}

// loadStruct recursively populates struct fields from the layered sources.
func loadStruct(v reflect.Value, k *koanf.Koanf) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal, k); err != nil {
				return err
			}
			continue
		}

		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary name, then alternate
		value, err := lookup(k, envName)
		if err != nil {
			return err
		}
		if value == "" {
			if value, err = lookup(k, envAlt); err != nil {
				return err
			}
		}

		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	if field.CanAddr() && field.Addr().Type().Implements(textUnmarshalerType) {
		return field.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(value))
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := parseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// parseDuration accepts Go duration strings and bare integers, which are
// read as seconds.
func parseDuration(value string) (time.Duration, error) {
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(value)
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Sync validation
	if c.Sync.Mode != ModeExport && c.Sync.Mode != ModeImport {
		errs = append(errs, fmt.Sprintf("SYNC_MODE (%q) must be export or import", c.Sync.Mode))
	}
	if len(c.Sync.Tables) == 0 {
		errs = append(errs, "SYNC_TABLES must name at least one table")
	}
	if c.Sync.Folder == "" {
		errs = append(errs, "SYNC_FILE_FOLDER must not be empty")
	}
	if _, err := htmlindex.Get(c.Sync.CSVEncoding); err != nil {
		errs = append(errs, fmt.Sprintf("SYNC_CSV_ENCODING (%q) is not a known character set", c.Sync.CSVEncoding))
	}

	// Database validation
	if c.Database.SourceURL == "" {
		errs = append(errs, "SOURCE_DB is required")
	}
	if c.Database.DestinationURL == "" {
		errs = append(errs, "DESTINATION_DB is required")
	}
	if c.Database.ConnectTimeout <= 0 {
		errs = append(errs, "DB_CONNECT_TIMEOUT must be positive")
	}

	// Schedule validation
	if c.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
			errs = append(errs, fmt.Sprintf("SYNC_CRON (%q) is invalid: %v", c.Schedule.Cron, err))
		}
	}
	if c.Schedule.Interval <= 0 {
		errs = append(errs, "SYNC_INTERVAL must be positive")
	}

	// Server validation
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
		}
		if c.Server.ReadTimeout < 0 {
			errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
		}
		if c.Server.ShutdownTimeout <= 0 {
			errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
		}
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// String returns a safe string representation of the config for logging.
// Connection descriptors are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Sync: {Mode: %s, Tables: %v, FileFormat: %s, Folder: %q, ContinueOnError: %v}, ",
		c.Sync.Mode, c.Sync.Tables, c.Sync.FileFormat, c.Sync.Folder, c.Sync.ContinueOnError))
	b.WriteString(fmt.Sprintf("Database: {Source: %s, Destination: %s}, ",
		maskURL(c.Database.SourceURL), maskURL(c.Database.DestinationURL)))
	b.WriteString(fmt.Sprintf("Schedule: {Cron: %q, Interval: %s, RunOnStart: %v}, ",
		c.Schedule.Cron, c.Schedule.Interval, c.Schedule.RunOnStart))
	b.WriteString(fmt.Sprintf("Server: {Enabled: %v, Host: %q, Port: %d, APIKeys: %d configured}, ",
		c.Server.Enabled, c.Server.Host, c.Server.Port, len(c.Server.APIKeys)))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

// maskURL keeps the scheme of a descriptor so operators can tell drivers
// apart, and hides the rest.
func maskURL(u string) string {
	if u == "" {
		return "[UNSET]"
	}
	if i := strings.Index(u, "://"); i > 0 {
		return u[:i] + "://[MASKED]"
	}
	return "[MASKED]"
}
