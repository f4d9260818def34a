package config

import "go.uber.org/zap"

// ProductionWarnings returns the insecure settings a production deployment
// should not run with.
func (c *Config) ProductionWarnings() []string {
	var warnings []string
	if c.CORSAllowedOrigins == "*" {
		warnings = append(warnings, "cors_allowed_origins is a wildcard")
	}
	if c.SCIMTokens == "" {
		warnings = append(warnings, "no SCIM bearer tokens configured, all provisioning requests will be rejected")
	}
	if !c.EnableRateLimit {
		warnings = append(warnings, "rate limiting is disabled")
	}
	if c.RedisURL == "" && c.EnableRateLimit {
		warnings = append(warnings, "rate limiting enabled without a redis_url, limits will not be enforced")
	}
	return warnings
}

// LogSecurityWarnings logs actionable security warnings when running in
// production with insecure defaults. Call this at service startup after
// configuration is loaded.
func (c *Config) LogSecurityWarnings(log *zap.Logger) {
	if !c.IsProduction() {
		return
	}

	warnings := c.ProductionWarnings()

	for _, w := range warnings {
		log.Warn("SECURITY", zap.String("warning", w))
	}

	if len(warnings) > 0 {
		log.Warn("SECURITY: production deployment has insecure configuration",
			zap.Int("warning_count", len(warnings)))
	}
}
