package config

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/angas/meteolog-go/logging"
)

// Error marks a configuration problem. Nothing is fetched when Load
// returns one.
type Error struct {
	Section string
	Err     error
}

func (e *Error) Error() string {
	if e.Section == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Section, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type AppConfigDatabase struct {
	// Path to the run-log SQLite database, default: "meteolog.db"
	Path *string
}

func (d AppConfigDatabase) GetPath() string {
	if d.Path == nil {
		return "meteolog.db"
	}
	return *d.Path
}

type AppConfigLogging struct {
	// Min log level for the console: "DEBUG", "INFO", "WARN", "ERROR", default: "INFO"
	ConsoleLevel *string `mapstructure:"console_level"`
	// Min log level for the run-log database, default: "INFO"
	DbLevel *string `mapstructure:"db_level"`
	// Log attributes format in the run-log database: "TEXT", "JSON", default: "JSON"
	DbFormat *string `mapstructure:"db_format"`
}

func (l AppConfigLogging) GetConsoleLevel() slog.Level {
	return logging.LevelFromString(l.ConsoleLevel)
}

func (l AppConfigLogging) GetDbLevel() slog.Level {
	return logging.LevelFromString(l.DbLevel)
}

func (l AppConfigLogging) GetDbFormat() logging.LogAttrFormat {
	if l.DbFormat == nil {
		return "JSON"
	}
	if strings.EqualFold(*l.DbFormat, "text") {
		return "TEXT"
	}
	return "JSON"
}

type AppConfigArchive struct {
	// Directory holding one archive subdirectory per provider, default: "data"
	DataDir *string `mapstructure:"data_dir"`
	// Width of the resampling grid in minutes, must divide 24h evenly, default: 30
	IntervalMinutes *int `mapstructure:"interval_minutes"`
	// How many days weekly files are kept before pruning, 0 disables, default: 90
	WeeklyRetentionDays *int `mapstructure:"weekly_retention_days"`
}

func (a AppConfigArchive) GetDataDir() string {
	if a.DataDir == nil {
		return "data"
	}
	return *a.DataDir
}

func (a AppConfigArchive) GetInterval() time.Duration {
	if a.IntervalMinutes == nil {
		return 30 * time.Minute
	}
	return time.Duration(*a.IntervalMinutes) * time.Minute
}

func (a AppConfigArchive) GetWeeklyRetention() time.Duration {
	if a.WeeklyRetentionDays == nil {
		return 90 * 24 * time.Hour
	}
	return time.Duration(*a.WeeklyRetentionDays) * 24 * time.Hour
}

type AppConfigFetch struct {
	// HTTP request timeout in seconds, default: 30
	TimeoutSeconds *int `mapstructure:"timeout_seconds"`
	// How many times a failed request is retried before giving up, default: 3
	MaxRetries *int `mapstructure:"max_retries"`
	// First retry delay in seconds, doubled per attempt, default: 1
	InitialBackoffSeconds *int `mapstructure:"initial_backoff_seconds"`
	// Upper bound for the retry delay in seconds, default: 30
	MaxBackoffSeconds *int `mapstructure:"max_backoff_seconds"`
}

func (f AppConfigFetch) GetTimeout() time.Duration {
	if f.TimeoutSeconds == nil {
		return 30 * time.Second
	}
	return time.Duration(*f.TimeoutSeconds) * time.Second
}

func (f AppConfigFetch) GetMaxRetries() int {
	if f.MaxRetries == nil {
		return 3
	}
	return *f.MaxRetries
}

func (f AppConfigFetch) GetInitialBackoff() time.Duration {
	if f.InitialBackoffSeconds == nil {
		return time.Second
	}
	return time.Duration(*f.InitialBackoffSeconds) * time.Second
}

func (f AppConfigFetch) GetMaxBackoff() time.Duration {
	if f.MaxBackoffSeconds == nil {
		return 30 * time.Second
	}
	return time.Duration(*f.MaxBackoffSeconds) * time.Second
}

type AppConfigRunLog struct {
	// Maximum number of log entries kept in the database, default: 10000
	MaxLogEntries *int `mapstructure:"max_log_entries"`
	// How many days run journal rows are kept, 0 disables purging, default: 365
	RunRetentionDays *int `mapstructure:"run_retention_days"`
}

func (r AppConfigRunLog) GetMaxLogEntries() int {
	if r.MaxLogEntries == nil {
		return 10000
	}
	return *r.MaxLogEntries
}

func (r AppConfigRunLog) GetRunRetention() time.Duration {
	if r.RunRetentionDays == nil {
		return 365 * 24 * time.Hour
	}
	return time.Duration(*r.RunRetentionDays) * 24 * time.Hour
}

type AppConfigTtn struct {
	// Regional cluster address, default: "https://eu1.cloud.thethings.network"
	Server        *string `validate:"omitempty,url"`
	ApplicationID string  `mapstructure:"application_id" validate:"required"`
	DeviceID      string  `mapstructure:"device_id" validate:"required"`
	Token         string  `validate:"required"` // API key with storage read rights
}

func (t AppConfigTtn) GetServer() string {
	if t.Server == nil {
		return "https://eu1.cloud.thethings.network"
	}
	return *t.Server
}

type AppConfigEcowitt struct {
	Server         string // Optional, the provider falls back to api.ecowitt.net
	ApplicationKey string `mapstructure:"application_key" validate:"required"`
	ApiKey         string `mapstructure:"api_key" validate:"required"`
	Mac            string `validate:"required"` // Station MAC as shown in the Ecowitt console
}

type AppConfigTtnMqtt struct {
	Broker string `validate:"required"`
	// Broker port, default: 1883
	Port     *int   `validate:"omitempty,min=1,max=65535"`
	Username string `validate:"required"` // Application id including tenant, e.g. "my-app@ttn"
	Password string `validate:"required"` // API key with messages read rights
	DeviceID string `mapstructure:"device_id" validate:"required"`
	// How long one run listens for uplinks, default: 60s
	ListenFor *time.Duration `mapstructure:"listen_for"`
}

func (t AppConfigTtnMqtt) GetPort() int {
	if t.Port == nil {
		return 1883
	}
	return *t.Port
}

func (t AppConfigTtnMqtt) GetListenFor() time.Duration {
	if t.ListenFor == nil {
		return 60 * time.Second
	}
	return *t.ListenFor
}

type AppConfigProvider struct {
	Name string `validate:"required"`
	Type string `validate:"required,oneof=ttn ecowitt ttn-mqtt"`
	// Disabled providers are skipped entirely, default: true
	Enabled *bool
	// How far back one run reaches, default: 168h
	Lookback *time.Duration
	// Archive directory for this provider, default: <data_dir>/<name>
	OutputDir string            `mapstructure:"output_dir"`
	Ttn       *AppConfigTtn     `validate:"required_if=Type ttn"`
	Ecowitt   *AppConfigEcowitt `validate:"required_if=Type ecowitt"`
	TtnMqtt   *AppConfigTtnMqtt `mapstructure:"ttn_mqtt" validate:"required_if=Type ttn-mqtt"`
}

func (p AppConfigProvider) GetEnabled() bool {
	if p.Enabled == nil {
		return true
	}
	return *p.Enabled
}

func (p AppConfigProvider) GetLookback() time.Duration {
	if p.Lookback == nil {
		return 168 * time.Hour
	}
	return *p.Lookback
}

func (p AppConfigProvider) GetOutputDir(dataDir string) string {
	if p.OutputDir == "" {
		return filepath.Join(dataDir, p.Name)
	}
	return p.OutputDir
}

type AppConfig struct {
	Database  AppConfigDatabase
	Logging   AppConfigLogging
	Archive   AppConfigArchive
	Fetch     AppConfigFetch
	RunLog    AppConfigRunLog     `mapstructure:"run_log"`
	Providers []AppConfigProvider `validate:"dive"`
}

var validate = validator.New()

// Station names become directory and file name parts, so they must stay
// plain. Leading dots are out to keep relative paths unambiguous.
var safeName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

var envPlaceholder = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv substitutes ${VAR} placeholders from the process
// environment. Unknown variables are left as-is so the parse error
// points at the literal placeholder instead of an empty value.
func expandEnv(raw []byte) []byte {
	return envPlaceholder.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := string(envPlaceholder.FindSubmatch(m)[1])
		if val, ok := os.LookupEnv(name); ok {
			return []byte(val)
		}
		return m
	})
}

func Load(path string) (*AppConfig, error) {
	if path == "" {
		path = filepath.Join("config", "config.yaml")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("unable to read config file: %w", err)}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadConfig(bytes.NewReader(expandEnv(raw))); err != nil {
		return nil, &Error{Err: fmt.Errorf("unable to parse config file: %w", err)}
	}

	var c AppConfig
	if err := v.Unmarshal(&c); err != nil {
		return nil, &Error{Err: fmt.Errorf("unable to unmarshal config file: %w", err)}
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return &c, nil
}

func (c *AppConfig) validate() error {
	if err := validate.Struct(c); err != nil {
		return &Error{Err: err}
	}

	if d := c.Archive.GetInterval(); d <= 0 || 24*time.Hour%d != 0 {
		return &Error{Section: "archive", Err: fmt.Errorf("interval %s must divide 24h evenly", d)}
	}

	seen := make(map[string]struct{})
	for i, p := range c.Providers {
		entry := fmt.Sprintf("providers[%d] (%s)", i, p.Name)
		if !safeName.MatchString(p.Name) {
			return &Error{Section: entry, Err: errors.New("name must be letters, digits, dot, dash or underscore")}
		}
		if _, dup := seen[p.Name]; dup {
			return &Error{Section: entry, Err: errors.New("duplicate provider name")}
		}
		seen[p.Name] = struct{}{}

		if p.Lookback != nil && *p.Lookback <= 0 {
			return &Error{Section: entry, Err: errors.New("lookback must be positive")}
		}
	}

	return nil
}
