package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

const secretMask = "***"

// Default returns a Config with sensible defaults for a fresh home.
func Default() *Config {
	return &Config{
		DefaultAgent: DefaultAgentConfig{
			ID:                     "ceo",
			DisplayName:            "CEO",
			Role:                   "Chief Executive",
			BootstrapFiles:         []string{"AGENTS.md", "SOUL.md", "IDENTITY.md"},
			BootstrapMaxChars:      20000,
			BootstrapTotalMaxChars: 60000,
		},
		Settings: Settings{
			TaskCronEnabled:                 false,
			NotifyManagersOfInactiveAgents:  false,
			MaxInactivityMinutes:            120,
			InactiveAgentNotificationTarget: NotifyAllManagers,
		},
		Providers: ProvidersConfig{
			Default:        "openclaw",
			Command:        "openclaw",
			TimeoutMinutes: 15,
		},
		Gateway: GatewayConfig{
			URL: "ws://127.0.0.1:18790/ws",
		},
		Scheduler: SchedulerConfig{
			IntervalMinutes: 1,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4628,
		},
	}
}

// Load reads the config document (JSON5, comments tolerated), then overlays
// env vars. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("OPENCLAW_CMD", &c.Providers.Command)
	envStr("OPENCLAW_ARGUMENTS", &c.Providers.Arguments)
	envStr("OPENGOAT_GATEWAY_URL", &c.Gateway.URL)
	envStr("OPENGOAT_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("OPENGOAT_HOST", &c.Server.Host)
	if v := os.Getenv("OPENGOAT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("TASK_CRON_INTERVAL_MINUTES"); v != "" {
		if mins, err := strconv.Atoi(v); err == nil && mins > 0 {
			c.Scheduler.IntervalMinutes = mins
		}
	}

	// Tracing
	envStr("OPENGOAT_TRACING_ENDPOINT", &c.Tracing.Endpoint)
	envStr("OPENGOAT_TRACING_PROTOCOL", &c.Tracing.Protocol)
	envStr("OPENGOAT_TRACING_SERVICE_NAME", &c.Tracing.ServiceName)
	if v := os.Getenv("OPENGOAT_TRACING_ENABLED"); v != "" {
		c.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("OPENGOAT_TRACING_INSECURE"); v != "" {
		c.Tracing.Insecure = v == "true" || v == "1"
	}

	// Tailscale (tsnet)
	envStr("OPENGOAT_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("OPENGOAT_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("OPENGOAT_TSNET_DIR", &c.Tailscale.StateDir)
}

// Save writes the config as strict JSON with an atomic replace so a crash
// mid-write never leaves a torn document.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// MaskedCopy returns a deep copy with secrets replaced for logging and
// API responses.
func (c *Config) MaskedCopy() *Config {
	cp := *c
	if cp.Gateway.Token != "" {
		cp.Gateway.Token = secretMask
	}
	if cp.Authentication.PasswordVerifier != "" {
		cp.Authentication.PasswordVerifier = secretMask
	}
	return &cp
}
