// Package config loads and validates the broker configuration from a
// YAML file with environment-variable expansion and built-in defaults.
package config

import (
	"path/filepath"

	"github.com/fred-drake/carapace/pkg/ratelimit"
)

// Config is the complete broker configuration.
type Config struct {
	Transport        TransportConfig     `yaml:"transport"`
	RateLimit        ratelimit.Config    `yaml:"rate_limit"`
	Audit            AuditConfig         `yaml:"audit"`
	Confirmation     ConfirmationConfig  `yaml:"confirmation"`
	Handler          HandlerConfig       `yaml:"handler"`
	API              APIConfig           `yaml:"api"`
	ToolRestrictions map[string][]string `yaml:"tool_restrictions"`
}

// TransportConfig locates the IPC socket files. The directory is created
// with mode 0700.
type TransportConfig struct {
	SocketDir string `yaml:"socket_dir"`
}

// RequestEndpoint is the ROUTER socket address for the request channel.
func (t TransportConfig) RequestEndpoint() string {
	return "ipc://" + filepath.Join(t.SocketDir, "requests.sock")
}

// EventEndpoint is the PUB socket address for the event bus.
func (t TransportConfig) EventEndpoint() string {
	return "ipc://" + filepath.Join(t.SocketDir, "events.sock")
}

// IngressEndpoint is the external publisher the broker subscribes to for
// inbound events (message.inbound, session lifecycle signals).
func (t TransportConfig) IngressEndpoint() string {
	return "ipc://" + filepath.Join(t.SocketDir, "ingress.sock")
}

// AuditConfig locates the per-group JSONL audit files.
type AuditConfig struct {
	Dir string `yaml:"dir"`
}

// ConfirmationConfig sizes the high-risk confirmation gate.
type ConfirmationConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// HandlerConfig bounds stage-6 dispatch.
type HandlerConfig struct {
	TimeoutMS        int `yaml:"timeout_ms"`
	MaxResponseBytes int `yaml:"max_response_bytes"`
}

// APIConfig configures the admin HTTP server.
type APIConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}
