package models

import (
	"fmt"
	"time"

	"coursehall/api_video/pkg/config"
)

// AccessConfig is the eagerly-validated configuration for the video
// access-control subsystem. It is constructed once at startup so missing
// configuration fails the process immediately rather than on first use.
type AccessConfig struct {
	TokenSecret           []byte
	TokenTTL              time.Duration
	MaxConcurrentSessions int
	MaxDailyViews         int
	WatermarkEnabled      bool
	SweepInterval         time.Duration

	// Anti-piracy rule knobs
	RapidRequestLimit  int
	RapidRequestWindow time.Duration
	MaxSessionsPerIP   int
}

// LoadAccessConfig reads the access-control configuration from the
// environment and validates it.
func LoadAccessConfig() (AccessConfig, error) {
	cfg := AccessConfig{
		TokenSecret:           []byte(config.GetEnv("VIDEO_TOKEN_SECRET", "")),
		TokenTTL:              config.GetEnvDuration("VIDEO_TOKEN_TTL", 2*time.Hour),
		MaxConcurrentSessions: config.GetEnvInt("MAX_CONCURRENT_SESSIONS", 3),
		MaxDailyViews:         config.GetEnvInt("MAX_DAILY_VIEWS", 50),
		WatermarkEnabled:      config.GetEnvBool("WATERMARK_ENABLED", true),
		SweepInterval:         config.GetEnvDuration("SESSION_SWEEP_INTERVAL", time.Hour),
		RapidRequestLimit:     config.GetEnvInt("RAPID_REQUEST_LIMIT", 30),
		RapidRequestWindow:    config.GetEnvDuration("RAPID_REQUEST_WINDOW", time.Minute),
		MaxSessionsPerIP:      config.GetEnvInt("MAX_SESSIONS_PER_IP", 5),
	}
	return cfg, cfg.Validate()
}

// Validate reports the first configuration problem found.
func (c AccessConfig) Validate() error {
	if len(c.TokenSecret) == 0 {
		return fmt.Errorf("VIDEO_TOKEN_SECRET is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token TTL must be positive, got %v", c.TokenTTL)
	}
	if c.MaxConcurrentSessions <= 0 {
		return fmt.Errorf("max concurrent sessions must be positive, got %d", c.MaxConcurrentSessions)
	}
	if c.MaxDailyViews <= 0 {
		return fmt.Errorf("max daily views must be positive, got %d", c.MaxDailyViews)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("sweep interval must be positive, got %v", c.SweepInterval)
	}
	if c.RapidRequestLimit <= 0 {
		return fmt.Errorf("rapid request limit must be positive, got %d", c.RapidRequestLimit)
	}
	if c.MaxSessionsPerIP <= 0 {
		return fmt.Errorf("max sessions per IP must be positive, got %d", c.MaxSessionsPerIP)
	}
	return nil
}
