package gateway

import "time"

// Config holds HTTP gateway configuration.
type Config struct {
	Bind            string        `yaml:"bind"`
	Auth            AuthConfig    `yaml:"auth"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// TurnTimeout bounds a background turn, both calls and all retries.
	TurnTimeout time.Duration `yaml:"turn_timeout"`

	// TurnsPerMinute limits turn and reparse triggers per session.
	// Zero disables limiting.
	TurnsPerMinute int `yaml:"turns_per_minute"`

	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// OriginPatterns are the websocket origins accepted besides the
	// request host.
	OriginPatterns []string `yaml:"origin_patterns"`

	// PingInterval is how often idle subscribers are pinged.
	PingInterval time.Duration `yaml:"ping_interval"`

	// AuditLog is a JSONL file receiving audit events. Empty disables it.
	AuditLog string `yaml:"audit_log"`
}

// defaults fills zero values with sensible defaults.
func (c *Config) defaults() {
	if c.Bind == "" {
		c.Bind = "127.0.0.1:8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	if c.TurnTimeout <= 0 {
		c.TurnTimeout = 15 * time.Minute
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
}

// AuthConfig configures authentication for API endpoints.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token"`
	BasicUser   string `yaml:"basic_user"`
	BasicPass   string `yaml:"basic_pass"`
}

// IsConfigured returns true if any auth method is configured.
func (a AuthConfig) IsConfigured() bool {
	return a.BearerToken != "" || (a.BasicUser != "" && a.BasicPass != "")
}
