package gateway

import (
	"time"

	"github.com/flemzord/sgate/internal/security"
)

// Config holds HTTP gateway configuration.
type Config struct {
	Bind string     `yaml:"bind"`
	Auth AuthConfig `yaml:"auth"`

	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout bounds a whole response. Zero leaves streaming
	// responses to the relay's upstream timeout.
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	MaxBodySize  int `yaml:"max_body_size"`
	MaxJSONDepth int `yaml:"max_json_depth"`

	// OriginPatterns lists browser origins allowed on the websocket
	// endpoint. Empty allows same-origin and non-browser clients only.
	OriginPatterns []string `yaml:"origin_patterns"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = security.DefaultMaxBodySize
	}
	if c.MaxJSONDepth <= 0 {
		c.MaxJSONDepth = security.DefaultMaxJSONDepth
	}
}

// AuthConfig configures authentication.
//
// BearerToken and the basic credentials grant admin access. A request
// carrying the bearer token on a client route is served on the internal
// channel. APIKeys maps client keys to the account they bill.
type AuthConfig struct {
	BearerToken string            `yaml:"bearer_token"`
	BasicUser   string            `yaml:"basic_user"`
	BasicPass   string            `yaml:"basic_pass"`
	APIKeys     map[string]string `yaml:"api_keys"`
}

// IsConfigured returns true if any admin auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}

// secrets returns every credential value, for log redaction.
func (a AuthConfig) secrets() []string {
	out := make([]string, 0, len(a.APIKeys)+2)
	if a.BearerToken != "" {
		out = append(out, a.BearerToken)
	}
	if a.BasicPass != "" {
		out = append(out, a.BasicPass)
	}
	for k := range a.APIKeys {
		out = append(out, k)
	}
	return out
}
