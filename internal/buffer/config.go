package buffer

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the tuning parameters of a Manager.
// Zero values are replaced by the defaults from DefaultConfig.
type Config struct {
	// DebounceInterval is the quiet period after the last message before a flush.
	DebounceInterval time.Duration
	// MaxBufferSize flushes a buffer immediately once it holds this many messages.
	MaxBufferSize int
	// MaxBufferAge force-flushes an open buffer idle for longer than this.
	MaxBufferAge time.Duration
	// MaxBufferLifetime drops any buffer older than this, whatever its state.
	MaxBufferLifetime time.Duration
	// CleanupInterval controls the health monitor, which runs every half interval.
	CleanupInterval time.Duration
	// MaxInterMessageGap splits a conversation into a new buffer when exceeded.
	MaxInterMessageGap time.Duration
	// MaxProcessingAttempts bounds the attempts per batch before it is abandoned.
	MaxProcessingAttempts int
	// StuckThreshold marks an attempt as stuck when it has not resolved in time.
	StuckThreshold time.Duration
	// EmergencyInactivity evicts buffers without activity for longer than this.
	EmergencyInactivity time.Duration
	// RetryBaseDelay is the delay before the second attempt; it doubles after that.
	RetryBaseDelay time.Duration
	// MaxRetryDelay caps the retry delay.
	MaxRetryDelay time.Duration
	// LatencyWindow is the number of recent flush latencies kept for averaging.
	LatencyWindow int
	// ProcessingTimeout bounds a single attempt through its context. Zero disables it.
	ProcessingTimeout time.Duration
}

// DefaultConfig returns the default buffer configuration.
func DefaultConfig() Config {
	return Config{
		DebounceInterval:      5 * time.Second,
		MaxBufferSize:         10,
		MaxBufferAge:          30 * time.Second,
		MaxBufferLifetime:     10 * time.Minute,
		CleanupInterval:       60 * time.Second,
		MaxInterMessageGap:    15 * time.Second,
		MaxProcessingAttempts: 3,
		StuckThreshold:        2 * time.Minute,
		EmergencyInactivity:   30 * time.Minute,
		RetryBaseDelay:        time.Second,
		MaxRetryDelay:         30 * time.Second,
		LatencyWindow:         100,
	}
}

// WithDefaults returns a copy with zero fields filled from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.DebounceInterval == 0 {
		c.DebounceInterval = d.DebounceInterval
	}
	if c.MaxBufferSize == 0 {
		c.MaxBufferSize = d.MaxBufferSize
	}
	if c.MaxBufferAge == 0 {
		c.MaxBufferAge = d.MaxBufferAge
	}
	if c.MaxBufferLifetime == 0 {
		c.MaxBufferLifetime = d.MaxBufferLifetime
	}
	if c.CleanupInterval == 0 {
		c.CleanupInterval = d.CleanupInterval
	}
	if c.MaxInterMessageGap == 0 {
		c.MaxInterMessageGap = d.MaxInterMessageGap
	}
	if c.MaxProcessingAttempts == 0 {
		c.MaxProcessingAttempts = d.MaxProcessingAttempts
	}
	if c.StuckThreshold == 0 {
		c.StuckThreshold = d.StuckThreshold
	}
	if c.EmergencyInactivity == 0 {
		c.EmergencyInactivity = d.EmergencyInactivity
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = d.RetryBaseDelay
	}
	if c.MaxRetryDelay == 0 {
		c.MaxRetryDelay = d.MaxRetryDelay
	}
	if c.LatencyWindow == 0 {
		c.LatencyWindow = d.LatencyWindow
	}
	return c
}

// Validate checks the configuration for values the manager cannot run with.
func (c Config) Validate() error {
	var errs []error

	positive := map[string]time.Duration{
		"debounce_interval":     c.DebounceInterval,
		"max_buffer_age":        c.MaxBufferAge,
		"max_buffer_lifetime":   c.MaxBufferLifetime,
		"cleanup_interval":      c.CleanupInterval,
		"max_inter_message_gap": c.MaxInterMessageGap,
		"stuck_threshold":       c.StuckThreshold,
		"emergency_inactivity":  c.EmergencyInactivity,
		"retry_base_delay":      c.RetryBaseDelay,
		"max_retry_delay":       c.MaxRetryDelay,
	}
	for name, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	if c.MaxBufferSize < 1 {
		errs = append(errs, fmt.Errorf("max_buffer_size must be at least 1, got %d", c.MaxBufferSize))
	}
	if c.MaxProcessingAttempts < 1 {
		errs = append(errs, fmt.Errorf("max_processing_attempts must be at least 1, got %d", c.MaxProcessingAttempts))
	}
	if c.LatencyWindow < 1 {
		errs = append(errs, fmt.Errorf("latency_window must be at least 1, got %d", c.LatencyWindow))
	}
	if c.ProcessingTimeout < 0 {
		errs = append(errs, fmt.Errorf("processing_timeout must not be negative, got %s", c.ProcessingTimeout))
	}
	if c.MaxRetryDelay > 0 && c.RetryBaseDelay > c.MaxRetryDelay {
		errs = append(errs, fmt.Errorf("retry_base_delay (%s) exceeds max_retry_delay (%s)", c.RetryBaseDelay, c.MaxRetryDelay))
	}
	if c.MaxBufferLifetime > 0 && c.MaxBufferAge > c.MaxBufferLifetime {
		errs = append(errs, fmt.Errorf("max_buffer_age (%s) exceeds max_buffer_lifetime (%s)", c.MaxBufferAge, c.MaxBufferLifetime))
	}

	return errors.Join(errs...)
}

// monitorInterval is the period of the health monitor.
func (c Config) monitorInterval() time.Duration {
	if d := c.CleanupInterval / 2; d > 0 {
		return d
	}
	return c.CleanupInterval
}

// retryDelay returns the delay before the attempt following attempt number
// attempts: min(base * 2^(attempts-1), max).
func (c Config) retryDelay(attempts int) time.Duration {
	delay := c.RetryBaseDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= c.MaxRetryDelay {
			return c.MaxRetryDelay
		}
	}
	if delay > c.MaxRetryDelay {
		return c.MaxRetryDelay
	}
	return delay
}
