package config

import (
	"fmt"
	"strings"
)

// Config is the root document stored at <home>/config.json. It carries the
// global settings, the default agent block, and runtime wiring for the
// provider, gateway, scheduler and tracing.
type Config struct {
	DefaultAgent   DefaultAgentConfig `json:"defaultAgent"`
	Settings       Settings           `json:"settings"`
	Authentication AuthConfig         `json:"authentication,omitempty"`
	Providers      ProvidersConfig    `json:"providers,omitempty"`
	Gateway        GatewayConfig      `json:"gateway,omitempty"`
	Scheduler      SchedulerConfig    `json:"scheduler,omitempty"`
	Tracing        TracingConfig      `json:"tracing,omitempty"`
	Runs           RunsConfig         `json:"runs,omitempty"`
	Server         ServerConfig       `json:"server,omitempty"`
	Tailscale      TailscaleConfig    `json:"tailscale,omitempty"`
}

// DefaultAgentConfig describes the root agent every home starts with. It is
// owned by config.json and never rewritten by agent provisioning.
type DefaultAgentConfig struct {
	ID                     string   `json:"id"`
	DisplayName            string   `json:"displayName"`
	Role                   string   `json:"role,omitempty"`
	BootstrapFiles         []string `json:"bootstrapFiles,omitempty"`
	BootstrapMaxChars      int      `json:"bootstrapMaxChars,omitempty"`
	BootstrapTotalMaxChars int      `json:"bootstrapTotalMaxChars,omitempty"`
}

// Settings are the runtime knobs exposed over GET/POST /api/settings.
type Settings struct {
	TaskCronEnabled                 bool   `json:"taskCronEnabled"`
	NotifyManagersOfInactiveAgents  bool   `json:"notifyManagersOfInactiveAgents"`
	MaxInactivityMinutes            int    `json:"maxInactivityMinutes"`
	InactiveAgentNotificationTarget string `json:"inactiveAgentNotificationTarget"`
}

// Notification targets for the inactivity sweep.
const (
	NotifyAllManagers = "all-managers"
	NotifyCEOOnly     = "ceo-only"
)

// MaxInactivityMinutes bounds (one minute to one week).
const (
	MinInactivityMinutes = 1
	MaxInactivityBound   = 10080
)

// Validate checks settings bounds and enumerations.
func (s Settings) Validate() error {
	if s.MaxInactivityMinutes < MinInactivityMinutes || s.MaxInactivityMinutes > MaxInactivityBound {
		return fmt.Errorf("maxInactivityMinutes must be between %d and %d", MinInactivityMinutes, MaxInactivityBound)
	}
	switch s.InactiveAgentNotificationTarget {
	case NotifyAllManagers, NotifyCEOOnly:
	default:
		return fmt.Errorf("inactiveAgentNotificationTarget must be %q or %q", NotifyAllManagers, NotifyCEOOnly)
	}
	return nil
}

// AuthConfig stores the optional password gate. PasswordVerifier is an
// encoded argon2id verifier; the plaintext never touches disk.
type AuthConfig struct {
	Enabled          bool   `json:"enabled"`
	Username         string `json:"username,omitempty"`
	PasswordVerifier string `json:"passwordVerifier,omitempty"`
}

// HasPassword reports whether a verifier is stored.
func (a AuthConfig) HasPassword() bool { return a.PasswordVerifier != "" }

// ProvidersConfig selects and parameterises the provider runtime.
type ProvidersConfig struct {
	Default        string `json:"default,omitempty"`
	Command        string `json:"command,omitempty"`
	Arguments      string `json:"arguments,omitempty"`
	TimeoutMinutes int    `json:"timeoutMinutes,omitempty"`
}

// CommandArgs splits the configured argument string on whitespace.
func (p ProvidersConfig) CommandArgs() []string {
	return strings.Fields(p.Arguments)
}

// GatewayConfig points at the OpenClaw gateway WebSocket endpoint used for
// the RPC fallback path. Token comes from env OPENGOAT_GATEWAY_TOKEN when
// not stored.
type GatewayConfig struct {
	URL   string `json:"url,omitempty"`
	Token string `json:"token,omitempty"`
}

// SchedulerConfig controls the task cron loop cadence.
type SchedulerConfig struct {
	IntervalMinutes int `json:"intervalMinutes,omitempty"`
}

// TracingConfig configures the optional OTLP trace exporter.
type TracingConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "http" (default) or "grpc"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"serviceName,omitempty"`
}

// RunsConfig toggles per-invocation trace directories under runs/.
type RunsConfig struct {
	RecordEnabled bool `json:"recordEnabled,omitempty"`
}

// ServerConfig is the HTTP bind address for the control plane itself.
type ServerConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// Addr joins host and port for net/http.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// TailscaleConfig configures the optional tsnet listener.
// Requires building with -tags tsnet. Auth key from env only (never persisted).
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"stateDir,omitempty"`
	AuthKey   string `json:"-"` // from env OPENGOAT_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`
}
