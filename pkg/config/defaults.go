package config

import "github.com/fred-drake/carapace/pkg/ratelimit"

// Defaults returns the built-in configuration. User YAML overrides these
// field by field.
func Defaults() Config {
	return Config{
		Transport: TransportConfig{
			SocketDir: "/run/carapace",
		},
		RateLimit: ratelimit.Config{
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		Audit: AuditConfig{
			Dir: "/var/lib/carapace/audit",
		},
		Confirmation: ConfirmationConfig{
			TimeoutSeconds: 300,
		},
		Handler: HandlerConfig{
			TimeoutMS:        30_000,
			MaxResponseBytes: 1 << 20,
		},
		API: APIConfig{
			ListenAddr: "127.0.0.1:8321",
		},
	}
}
