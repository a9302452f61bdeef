// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Call lifecycle timing
const (
	// IncomingRingTimeout is how long an unanswered incoming call rings before auto-decline
	IncomingRingTimeout = 30 * time.Second

	// OutgoingRingTimeout is how long the caller waits before marking the call missed.
	// Longer than IncomingRingTimeout so the callee's decline normally arrives first.
	OutgoingRingTimeout = 45 * time.Second

	// DemoMaxCallDuration is the demo auto-hangup for connected calls
	DemoMaxCallDuration = 30 * time.Second
)

// Call history limits
const (
	// CallHistoryLimit is the number of history entries kept per user
	CallHistoryLimit = 50
)

// Remote write constants
const (
	// RemoteWriteTimeout bounds a single fail-soft remote write
	RemoteWriteTimeout = 5 * time.Second

	// SignalTTL is how long a signal row lives in the call_signals table
	SignalTTL = 60 * time.Second
)

// Remote dependency circuit breaker
const (
	// BreakerFailureThreshold is the number of consecutive remote failures that opens the breaker
	BreakerFailureThreshold = 5

	// BreakerCooldown is how long an open breaker rejects remote writes
	BreakerCooldown = 30 * time.Second

	// RedisHealthCheckInterval is the interval between Redis health probes
	RedisHealthCheckInterval = 10 * time.Second
)

// Signal channel topic prefixes
const (
	// CallTopicPrefix prefixes per-user call row change topics
	CallTopicPrefix = "calls:user:"

	// SignalTopicPrefix prefixes per-user signal topics
	SignalTopicPrefix = "signals:user:"
)

// Time-related constants
const (
	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteWait bounds a single WebSocket write
	WebSocketWriteWait = 10 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 10 * time.Second
)

// Database connection constants
const (
	// MaxConnLifetime is the maximum lifetime of a database connection
	MaxConnLifetime = 1 * time.Hour

	// MaxConnIdleTime is the maximum idle time for a database connection
	MaxConnIdleTime = 30 * time.Minute

	// HealthCheckPeriod is the interval between database health checks
	HealthCheckPeriod = 1 * time.Minute
)

// Profile cache
const (
	// ProfileCacheTTL is how long a resolved display identity is reused
	ProfileCacheTTL = 10 * time.Minute

	// ProfileCacheSize caps the number of cached profiles
	ProfileCacheSize = 500

	// ProfileCacheCleanupInterval is how often expired profiles are swept
	ProfileCacheCleanupInterval = time.Minute
)
