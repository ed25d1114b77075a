package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "AWRLENS_"

// DefaultEnvFile is read when present and LoadOptions.EnvFile is empty.
const DefaultEnvFile = ".env"

// LoadOptions names the optional inputs of Load.
type LoadOptions struct {
	// Path is a YAML or JSON config file; empty means defaults only.
	Path string
	// EnvFile is loaded into the process environment without overriding
	// variables that are already set. A missing DefaultEnvFile is ignored.
	EnvFile string
}

// Load applies defaults, then the config file, then the environment, and
// validates the result.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()
	if opts.Path != "" {
		if err := LoadFile(&cfg, opts.Path); err != nil {
			return nil, err
		}
	}
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

// LoadFile overlays a config file onto cfg. Format is detected by extension
// (.yaml/.yml or .json) or, failing that, by the first non-space character.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	return Decode(cfg, data, filepath.Ext(path))
}

// Decode overlays data onto cfg; fields absent from data keep their value.
func Decode(cfg *Config, data []byte, ext string) error {
	ext = strings.ToLower(ext)
	if ext == ".yml" {
		ext = ".yaml"
	}
	if ext == "" && strings.HasPrefix(strings.TrimSpace(string(data)), "{") {
		ext = ".json"
	}
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parse config json: %w", err)
		}
		return nil
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

// ApplyEnv overlays AWRLENS_* variables read through lookup. Every malformed
// value is reported.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	var result *multierror.Error
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	str := func(name string, dst *string) {
		if v, ok := get(name); ok {
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s%s: %q is not an integer", EnvPrefix, name, v))
				return
			}
			*dst = n
		}
	}
	bytes := func(name string, dst *int64) {
		if v, ok := get(name); ok {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				result = multierror.Append(result, fmt.Errorf("%s%s: %q is not a byte count", EnvPrefix, name, v))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *Duration) {
		if v, ok := get(name); ok {
			if err := dst.set(v); err != nil {
				result = multierror.Append(result, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
			}
		}
	}
	list := func(name string, dst *[]string) {
		if v, ok := get(name); ok {
			var out []string
			for _, e := range strings.Split(v, ",") {
				if e = strings.TrimSpace(e); e != "" {
					out = append(out, e)
				}
			}
			*dst = out
		}
	}

	str("SERVER_ADDR", &cfg.Server.Addr)
	str("DATA_DIR", &cfg.Server.DataDir)
	str("DB_PATH", &cfg.Server.DBPath)
	str("STORAGE", &cfg.Server.Storage)
	bytes("MAX_UPLOAD_BYTES", &cfg.Server.MaxUploadBytes)
	list("EXTENSIONS", &cfg.Server.Extensions)
	integer("WORKERS", &cfg.Server.Workers)
	integer("QUEUE_SIZE", &cfg.Server.QueueSize)
	str("RULES_DIR", &cfg.Server.RulesDir)
	if v, ok := get("ASYNC_ANALYSIS"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%sASYNC_ANALYSIS: %q is not a boolean", EnvPrefix, v))
		} else {
			cfg.Server.AsyncAnalysis = b
		}
	}
	str("REDIS_ADDR", &cfg.Server.RedisAddr)
	str("REDIS_PASSWORD", &cfg.Server.RedisPassword)
	integer("REDIS_DB", &cfg.Server.RedisDB)
	duration("IDEMPOTENCY_TTL", &cfg.Server.IdempotencyTTL)

	str("API_URL", &cfg.Client.BaseURL)
	str("TOKEN", &cfg.Client.Token)
	duration("TIMEOUT", &cfg.Client.Timeout)
	bytes("CLIENT_MAX_UPLOAD_BYTES", &cfg.Client.MaxUploadBytes)
	integer("PAGE_SIZE", &cfg.Client.PageSize)
	if v, ok := get("RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%sRATE_LIMIT: %q is not a number", EnvPrefix, v))
		} else {
			cfg.Client.RateLimit = f
		}
	}
	integer("RATE_BURST", &cfg.Client.RateBurst)
	duration("POLL_INITIAL", &cfg.Client.Poll.InitialInterval)
	duration("POLL_MAX", &cfg.Client.Poll.MaxInterval)
	duration("POLL_MAX_ELAPSED", &cfg.Client.Poll.MaxElapsed)

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	return result.ErrorOrNil()
}
