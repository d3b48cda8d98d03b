package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLoadFile tests layering of defaults, file and environment
func TestLoadFile(t *testing.T) {
	tests := []struct {
		name        string
		env         map[string]string
		yaml        string
		wantErr     bool
		validateCfg func(*testing.T, *Config)
	}{
		{
			name: "defaults only",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "127.0.0.1", cfg.Server.Host)
				assert.Equal(t, DefaultServerPort, cfg.Server.Port)
				assert.Equal(t, 3, cfg.API.MaxAttempts)
				assert.Equal(t, 30*time.Second, cfg.API.Timeout)
				assert.Equal(t, 72*time.Hour, cfg.License.OfflineGrace)
				assert.Equal(t, "BootCasosV2/1.0.0", cfg.License.UserAgent())
				assert.True(t, filepath.IsAbs(cfg.License.StorePath))
			},
		},
		{
			name: "file overrides defaults",
			yaml: "api:\n  base_url: https://auth.test\n  max_attempts: 5\nlicense:\n  offline_grace: 24h\n",
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "https://auth.test", cfg.API.BaseURL)
				assert.Equal(t, 5, cfg.API.MaxAttempts)
				assert.Equal(t, 24*time.Hour, cfg.License.OfflineGrace)
			},
		},
		{
			name: "env overrides file",
			yaml: "api:\n  max_attempts: 5\n",
			env: map[string]string{
				"BOOTLICENSE_API_MAX_ATTEMPTS":              "2",
				"BOOTLICENSE_LICENSE_REVALIDATION_INTERVAL": "15m",
				"BOOTLICENSE_LICENSE_STORE_PATH":            "/var/lib/boot/license.dat",
			},
			validateCfg: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 2, cfg.API.MaxAttempts)
				assert.Equal(t, 15*time.Minute, cfg.License.RevalidationInterval)
				assert.Equal(t, "/var/lib/boot/license.dat", cfg.License.StorePath)
			},
		},
		{
			name:    "invalid base url",
			env:     map[string]string{"BOOTLICENSE_API_BASE_URL": "not a url"},
			wantErr: true,
		},
		{
			name:    "zero attempts",
			env:     map[string]string{"BOOTLICENSE_API_MAX_ATTEMPTS": "0"},
			wantErr: true,
		},
		{
			name:    "malformed duration",
			env:     map[string]string{"BOOTLICENSE_LICENSE_OFFLINE_GRACE": "forever"},
			wantErr: true,
		},
		{
			name:    "malformed yaml",
			yaml:    "api: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			path := ""
			if tt.yaml != "" {
				path = filepath.Join(t.TempDir(), "config.yaml")
				require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			}

			cfg, err := LoadFile(path)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validateCfg(t, cfg)
		})
	}
}

// TestValidate tests validation of individual fields
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default is valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "ftp scheme", mutate: func(c *Config) { c.API.BaseURL = "ftp://x.test" }, wantErr: true},
		{name: "max below base delay", mutate: func(c *Config) { c.API.MaxDelay = time.Millisecond }, wantErr: true},
		{name: "jitter above one", mutate: func(c *Config) { c.API.Jitter = 1.5 }, wantErr: true},
		{name: "short secret", mutate: func(c *Config) { c.License.AppSecret = "short" }, wantErr: true},
		{name: "zero grace", mutate: func(c *Config) { c.License.OfflineGrace = 0 }, wantErr: true},
		{name: "interval equal to grace", mutate: func(c *Config) { c.License.RevalidationInterval = c.License.OfflineGrace }, wantErr: true},
		{name: "interval beyond grace", mutate: func(c *Config) { c.License.RevalidationInterval = 96 * time.Hour }, wantErr: true},
		{name: "unknown exporter", mutate: func(c *Config) { c.Telemetry.TraceExporter = "jaeger" }, wantErr: true},
		{
			name: "invalid log output is fixed",
			mutate: func(c *Config) {
				c.Logging.Output = "syslog"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Contains(t, []string{"stdout", "file", "both"}, cfg.Logging.Output)
		})
	}
}

func TestPathsResolve(t *testing.T) {
	p := &Paths{ExecutableDir: filepath.FromSlash("/opt/boot")}

	assert.Equal(t, filepath.Join("/opt/boot", "data", "license.dat"), p.Resolve("data/license.dat"))
	assert.Equal(t, "", p.Resolve(""))

	abs, err := filepath.Abs("license.dat")
	require.NoError(t, err)
	assert.Equal(t, abs, p.Resolve(abs))
}

func TestEnsureDirectories(t *testing.T) {
	root := t.TempDir()
	p := &Paths{
		ExecutableDir: root,
		DataDir:       filepath.Join(root, "data"),
		LogsDir:       filepath.Join(root, "logs"),
	}

	require.NoError(t, p.EnsureDirectories())
	assert.DirExists(t, p.DataDir)
	assert.DirExists(t, p.LogsDir)
}

func TestServerAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:8765", Default().Server.Addr())
}
