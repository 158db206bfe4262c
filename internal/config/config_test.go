package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const minimalConfig = `
instance:
  id: relay-test
auth:
  secret: test-secret
`

func TestLoadWithDefaults(t *testing.T) {
	cfg, err := LoadWithDefaults(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadWithDefaults() error = %v", err)
	}

	if cfg.Server.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.Server.ListenAddr, DefaultListenAddr)
	}
	if cfg.Auth.HandshakeTimeout != DefaultHandshakeTimeout {
		t.Errorf("HandshakeTimeout = %v, want %v", cfg.Auth.HandshakeTimeout, DefaultHandshakeTimeout)
	}
	if cfg.Hub.SessionBuffer != DefaultSessionBuffer {
		t.Errorf("SessionBuffer = %d, want %d", cfg.Hub.SessionBuffer, DefaultSessionBuffer)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Driver = %q, want memory", cfg.Database.Driver)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("PRAXIS_TEST_SECRET", "from-env")

	cfg, err := Load(writeConfig(t, `
instance:
  id: relay-test
auth:
  secret: ${PRAXIS_TEST_SECRET}
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Secret != "from-env" {
		t.Errorf("Secret = %q, want from-env", cfg.Auth.Secret)
	}
}

func TestLoadAndValidate_FullConfig(t *testing.T) {
	cfg, err := LoadAndValidate(writeConfig(t, `
instance:
  id: relay-1
  env: prod
server:
  listen_addr: ":9000"
  ping_interval: 20s
auth:
  secret: super-secret
  handshake_timeout: 5s
hub:
  session_buffer: 128
database:
  driver: postgres
  postgres:
    host: db.internal
    name: praxis
    user: relay
    password: pw
`))
	if err != nil {
		t.Fatalf("LoadAndValidate() error = %v", err)
	}

	if cfg.Server.ListenAddr != ":9000" {
		t.Errorf("ListenAddr = %q, want :9000", cfg.Server.ListenAddr)
	}
	if cfg.Server.PingInterval != 20*time.Second {
		t.Errorf("PingInterval = %v, want 20s", cfg.Server.PingInterval)
	}
	if cfg.Auth.HandshakeTimeout != 5*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 5s", cfg.Auth.HandshakeTimeout)
	}
	if cfg.Database.Postgres.Port != DefaultDBPort {
		t.Errorf("Postgres.Port = %d, want %d", cfg.Database.Postgres.Port, DefaultDBPort)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RelayConfig)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *RelayConfig) { c.Instance.ID = "" },
			wantErr: "instance.id",
		},
		{
			name:    "missing auth secret",
			mutate:  func(c *RelayConfig) { c.Auth.Secret = "" },
			wantErr: "auth.secret",
		},
		{
			name:    "bad driver",
			mutate:  func(c *RelayConfig) { c.Database.Driver = "sqlite" },
			wantErr: "database.driver",
		},
		{
			name: "postgres missing host",
			mutate: func(c *RelayConfig) {
				c.Database.Driver = "postgres"
				c.Database.Postgres.Host = ""
			},
			wantErr: "database.postgres.host",
		},
		{
			name: "min conns above max",
			mutate: func(c *RelayConfig) {
				c.Database.Driver = "postgres"
				c.Database.Postgres.MinConns = 20
			},
			wantErr: "min_conns",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &RelayConfig{
				Instance: InstanceConfig{ID: "relay-1"},
				Auth:     AuthConfig{Secret: "s"},
				Database: DatabaseConfig{
					Driver: "memory",
					Postgres: DBConfig{
						Host: "h", Name: "n", User: "u", Password: "p",
					},
				},
			}
			cfg.applyDefaults()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() error = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() error = nil, want error")
	}
}
