// Package config provides configuration loading from environment variables.
package config

import "time"

// ServiceConfig holds configuration for the DRMAA service.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string
	ShutdownDrainWait time.Duration // Time to wait for load balancer to drain (0 to skip)

	Contact          string        // Contact string passed to Session.Init
	CategoriesFile   string        // YAML job categories (optional)
	PollInitial      time.Duration // First wait poll interval
	PollMax          time.Duration // Poll interval cap
	QueryRate        float64       // Scheduler status queries per second
	BreakerThreshold int           // Consecutive connection failures before the circuit opens
	BreakerCooldown  time.Duration // Open circuit duration before the scheduler is probed again
	LossWindow       time.Duration // Sustained failure before the session is invalidated

	EventsURL   string   // Status-change webhook (optional)
	EventsKey   string   // HMAC signing key for the webhook
	EventsTypes []string // Event type filter, empty means all
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),

		Contact:          GetEnv("DRMAA_CONTACT", "slurm"),
		CategoriesFile:   GetEnv("DRMAA_CATEGORIES_FILE", ""),
		PollInitial:      GetDurationEnv("DRMAA_POLL_INITIAL", 500*time.Millisecond),
		PollMax:          GetDurationEnv("DRMAA_POLL_MAX", 4*time.Second),
		QueryRate:        GetFloatEnv("DRMAA_QUERY_RATE", 20),
		BreakerThreshold: GetIntEnv("DRMAA_BREAKER_THRESHOLD", 5),
		BreakerCooldown:  GetDurationEnv("DRMAA_BREAKER_COOLDOWN", 5*time.Second),
		LossWindow:       GetDurationEnv("DRMAA_LOSS_WINDOW", 5*time.Minute),

		EventsURL:   GetEnv("EVENTS_URL", ""),
		EventsKey:   GetSecretFile(GetEnv("EVENTS_KEY_FILE", "")),
		EventsTypes: GetListEnv("EVENTS_TYPES"),
	}
}
