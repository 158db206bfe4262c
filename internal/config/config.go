package config

import "time"

// RelayConfig is the root configuration for a relay daemon instance.
type RelayConfig struct {
	Instance InstanceConfig `yaml:"instance"`
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Hub      HubConfig      `yaml:"hub"`
	Database DatabaseConfig `yaml:"database"`
}

// InstanceConfig identifies this relay instance.
type InstanceConfig struct {
	ID  string `yaml:"id"`
	Env string `yaml:"env"`
}

// ServerConfig holds the HTTP and websocket listener settings.
type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
}

// AuthConfig holds session token settings.
type AuthConfig struct {
	Secret           string        `yaml:"secret"` // Shared HMAC secret, usually ${PRAXIS_AUTH_SECRET}
	Issuer           string        `yaml:"issuer"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// HubConfig holds the per-session broadcast queue settings.
type HubConfig struct {
	SessionBuffer int           `yaml:"session_buffer"`
	SendTimeout   time.Duration `yaml:"send_timeout"`
}

// DatabaseConfig selects and configures the backing store.
type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver   string   `yaml:"driver"`
	Postgres DBConfig `yaml:"postgres"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}
