package config

import "fmt"

// validate rejects configurations the broker cannot safely run with.
func validate(cfg *Config) error {
	if cfg.Transport.SocketDir == "" {
		return fmt.Errorf("transport.socket_dir is required")
	}
	if cfg.Audit.Dir == "" {
		return fmt.Errorf("audit.dir is required")
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("rate_limit.requests_per_minute must be positive, got %v", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("rate_limit.burst_size must be positive, got %d", cfg.RateLimit.BurstSize)
	}
	if cfg.Confirmation.TimeoutSeconds <= 0 {
		return fmt.Errorf("confirmation.timeout_seconds must be positive, got %d", cfg.Confirmation.TimeoutSeconds)
	}
	if cfg.Handler.TimeoutMS <= 0 {
		return fmt.Errorf("handler.timeout_ms must be positive, got %d", cfg.Handler.TimeoutMS)
	}
	if cfg.Handler.MaxResponseBytes <= 0 {
		return fmt.Errorf("handler.max_response_bytes must be positive, got %d", cfg.Handler.MaxResponseBytes)
	}
	if cfg.API.ListenAddr == "" {
		return fmt.Errorf("api.listen_addr is required")
	}
	for tool, groups := range cfg.ToolRestrictions {
		if len(groups) == 0 {
			return fmt.Errorf("tool_restrictions.%s must list at least one group", tool)
		}
	}
	return nil
}
