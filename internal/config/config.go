// Package config holds the explicit configuration of awrlens: server,
// client and logging sections, loaded from defaults, a YAML or JSON file,
// an optional .env file and AWRLENS_* environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"awrlens/internal/awr"
	"awrlens/internal/logging"
)

// Storage backends for ServerConfig.Storage.
const (
	StorageSQLite = "sqlite"
	StorageMemory = "memory"
)

// Duration reads "30s"-style strings from YAML and JSON.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	return d.set(s)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		d.Duration = 0
		return nil
	}
	if u, err := strconv.Unquote(s); err == nil {
		return d.set(u)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or integer nanoseconds: %w", err)
	}
	d.Duration = time.Duration(n)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) { return json.Marshal(d.String()) }

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

func (d *Duration) set(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is passed explicitly to every component; nothing reads it globally.
type Config struct {
	Server ServerConfig `yaml:"server" json:"server"`
	Client ClientConfig `yaml:"client" json:"client"`
	Log    LogConfig    `yaml:"log" json:"log"`
}

// ServerConfig configures `awrlens serve`.
type ServerConfig struct {
	Addr    string `yaml:"addr" json:"addr"`
	DataDir string `yaml:"data_dir" json:"data_dir"`
	// DBPath defaults to <data_dir>/awrlens.db.
	DBPath  string `yaml:"db_path" json:"db_path"`
	Storage string `yaml:"storage" json:"storage"`

	MaxUploadBytes int64    `yaml:"max_upload_bytes" json:"max_upload_bytes"`
	Extensions     []string `yaml:"extensions" json:"extensions"`

	Workers   int `yaml:"workers" json:"workers"`
	QueueSize int `yaml:"queue_size" json:"queue_size"`

	RulesDir      string `yaml:"rules_dir" json:"rules_dir"`
	AsyncAnalysis bool   `yaml:"async_analysis" json:"async_analysis"`

	// Upload idempotency keys live in Redis when RedisAddr is set.
	RedisAddr      string   `yaml:"redis_addr" json:"redis_addr"`
	RedisPassword  string   `yaml:"redis_password" json:"redis_password"`
	RedisDB        int      `yaml:"redis_db" json:"redis_db"`
	IdempotencyTTL Duration `yaml:"idempotency_ttl" json:"idempotency_ttl"`
}

// ClientConfig configures the CLI and MCP commands that talk to a server.
type ClientConfig struct {
	BaseURL        string   `yaml:"base_url" json:"base_url"`
	Token          string   `yaml:"token" json:"token"`
	Timeout        Duration `yaml:"timeout" json:"timeout"`
	MaxUploadBytes int64    `yaml:"max_upload_bytes" json:"max_upload_bytes"`
	Extensions     []string `yaml:"extensions" json:"extensions"`
	PageSize       int      `yaml:"page_size" json:"page_size"`

	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst"`

	Poll PollConfig `yaml:"poll" json:"poll"`
}

type PollConfig struct {
	InitialInterval Duration `yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval" json:"max_interval"`
	MaxElapsed      Duration `yaml:"max_elapsed" json:"max_elapsed"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	poll := awr.DefaultPollConfig()
	return Config{
		Server: ServerConfig{
			Addr:           ":8000",
			DataDir:        ".awrlens",
			Storage:        StorageSQLite,
			MaxUploadBytes: awr.DefaultMaxUploadBytes,
			Extensions:     append([]string(nil), awr.DefaultExtensions...),
			Workers:        2,
			QueueSize:      64,
			IdempotencyTTL: Duration{24 * time.Hour},
		},
		Client: ClientConfig{
			BaseURL:        awr.DefaultBaseURL,
			Timeout:        Duration{awr.DefaultTimeout},
			MaxUploadBytes: awr.DefaultMaxUploadBytes,
			Extensions:     append([]string(nil), awr.DefaultExtensions...),
			PageSize:       awr.DefaultPageSize,
			RateBurst:      1,
			Poll: PollConfig{
				InitialInterval: Duration{poll.InitialInterval},
				MaxInterval:     Duration{poll.MaxInterval},
				MaxElapsed:      Duration{poll.MaxElapsed},
			},
		},
		Log: LogConfig{Level: "info", Format: logging.FormatText},
	}
}

// DBFile is the SQLite path the server opens.
func (s ServerConfig) DBFile() string {
	if s.DBPath != "" {
		return s.DBPath
	}
	return filepath.Join(s.DataDir, "awrlens.db")
}

// AWR converts the client section into the client core's Config.
func (c ClientConfig) AWR() awr.Config {
	return awr.Config{
		BaseURL:        c.BaseURL,
		Token:          c.Token,
		Timeout:        c.Timeout.Duration,
		MaxUploadBytes: c.MaxUploadBytes,
		Extensions:     append([]string(nil), c.Extensions...),
		Poll: awr.PollConfig{
			InitialInterval: c.Poll.InitialInterval.Duration,
			MaxInterval:     c.Poll.MaxInterval.Duration,
			MaxElapsed:      c.Poll.MaxElapsed.Duration,
		},
	}
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var result *multierror.Error
	add := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf(format, args...))
	}

	s := c.Server
	if strings.TrimSpace(s.Addr) == "" {
		add("server.addr is required")
	}
	switch s.Storage {
	case StorageSQLite:
		if s.DataDir == "" && s.DBPath == "" {
			add("server.data_dir or server.db_path is required for sqlite storage")
		}
	case StorageMemory:
	default:
		add("server.storage %q must be %s or %s", s.Storage, StorageSQLite, StorageMemory)
	}
	if s.DataDir == "" {
		add("server.data_dir is required for uploads")
	}
	if s.MaxUploadBytes <= 0 {
		add("server.max_upload_bytes must be positive")
	}
	checkExtensions(add, "server.extensions", s.Extensions)
	if s.Workers < 1 {
		add("server.workers must be at least 1")
	}
	if s.QueueSize < 1 {
		add("server.queue_size must be at least 1")
	}
	if s.RedisDB < 0 {
		add("server.redis_db must not be negative")
	}
	if s.IdempotencyTTL.Duration <= 0 {
		add("server.idempotency_ttl must be positive")
	}

	cl := c.Client
	if u, err := url.Parse(cl.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("client.base_url %q must be an http or https URL", cl.BaseURL)
	}
	if cl.Timeout.Duration <= 0 {
		add("client.timeout must be positive")
	}
	if cl.MaxUploadBytes <= 0 {
		add("client.max_upload_bytes must be positive")
	}
	checkExtensions(add, "client.extensions", cl.Extensions)
	if cl.PageSize < 1 || cl.PageSize > awr.MaxPageSize {
		add("client.page_size must be between 1 and %d", awr.MaxPageSize)
	}
	if cl.RateLimit < 0 {
		add("client.rate_limit must not be negative")
	}
	if cl.RateLimit > 0 && cl.RateBurst < 1 {
		add("client.rate_burst must be at least 1 when rate_limit is set")
	}
	p := cl.Poll
	if p.InitialInterval.Duration <= 0 || p.MaxInterval.Duration <= 0 || p.MaxElapsed.Duration <= 0 {
		add("client.poll intervals must be positive")
	} else if p.InitialInterval.Duration > p.MaxInterval.Duration {
		add("client.poll.initial_interval %s exceeds max_interval %s", p.InitialInterval, p.MaxInterval)
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %v", err)
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		add("log.format: %v", err)
	}
	return result.ErrorOrNil()
}

func checkExtensions(add func(string, ...any), field string, exts []string) {
	if len(exts) == 0 {
		add("%s must list at least one extension", field)
	}
	for _, e := range exts {
		if !strings.HasPrefix(e, ".") || len(e) < 2 {
			add("%s entry %q must look like .html", field, e)
		}
	}
}
