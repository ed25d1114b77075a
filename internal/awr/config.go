package awr

import "time"

// Defaults match the server's limits.
const (
	DefaultBaseURL        = "http://localhost:8000/api/v1"
	DefaultTimeout        = 30 * time.Second
	DefaultMaxUploadBytes = 50 << 20
	DefaultPageSize       = 20
	MaxPageSize           = 100
)

// DefaultExtensions are the accepted report file extensions.
var DefaultExtensions = []string{".html", ".htm"}

// Config is the explicit configuration of a Client. The zero value of any
// field falls back to the matching default in DefaultConfig.
type Config struct {
	BaseURL string
	Token   string

	// Timeout bounds every single request, including reading its body.
	Timeout time.Duration

	// MaxUploadBytes and Extensions are enforced before any network call.
	MaxUploadBytes int64
	Extensions     []string

	Poll PollConfig
}

// PollConfig bounds the observe-until-terminal loops.
type PollConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxElapsed      time.Duration
}

// DefaultConfig returns a Config pointing at a local server.
func DefaultConfig() Config {
	return Config{
		BaseURL:        DefaultBaseURL,
		Timeout:        DefaultTimeout,
		MaxUploadBytes: DefaultMaxUploadBytes,
		Extensions:     append([]string(nil), DefaultExtensions...),
		Poll:           DefaultPollConfig(),
	}
}

// DefaultPollConfig polls from 500ms up to every 5s, for at most 10 minutes.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		MaxElapsed:      10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = d.MaxUploadBytes
	}
	if len(c.Extensions) == 0 {
		c.Extensions = d.Extensions
	}
	if c.Poll.InitialInterval <= 0 {
		c.Poll.InitialInterval = d.Poll.InitialInterval
	}
	if c.Poll.MaxInterval <= 0 {
		c.Poll.MaxInterval = d.Poll.MaxInterval
	}
	if c.Poll.MaxElapsed <= 0 {
		c.Poll.MaxElapsed = d.Poll.MaxElapsed
	}
	return c
}
