package config

import (
	"fmt"
	"time"

	"riffline-calling/pkg/constants"
	"riffline-calling/pkg/env"
)

// Config holds all configuration for the call agent
type Config struct {
	Server    ServerConfig
	Device    DeviceConfig
	Call      CallConfig
	Signal    SignalConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Cassandra CassandraConfig
	NATS      NATSConfig
	History   HistoryConfig
	JWT       JWTConfig
	Log       LogConfig
}

// ServerConfig holds the local UI gateway configuration
type ServerConfig struct {
	Host        string
	Port        int
	Environment string // development, staging, production
	ServiceName string
	// AllowedOrigins is a comma-separated list added to the local UI origins
	AllowedOrigins string
}

// DeviceConfig identifies the signed-in user of this device
type DeviceConfig struct {
	UserID string
}

// CallConfig holds call state machine timing
type CallConfig struct {
	RingTimeout     time.Duration
	OutgoingTimeout time.Duration
	MaxDuration     time.Duration // 0 disables the auto-hangup
}

// SignalConfig selects the realtime feed transport
type SignalConfig struct {
	Transport string // redis, nats, memory
	TTL       time.Duration
}

// DatabaseConfig holds CockroachDB configuration
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
	Timeout  time.Duration
}

// CassandraConfig holds Cassandra configuration for the call_signals table
type CassandraConfig struct {
	Enabled  bool
	Hosts    []string
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL  string
	Name string
}

// HistoryConfig holds local call history settings
type HistoryConfig struct {
	Dir   string
	Limit int
}

// JWTConfig holds the auth provider's token settings
type JWTConfig struct {
	Secret   string
	Audience string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level    string // debug, info, warn, error
	Format   string // json, text
	Output   string // stdout, file
	FilePath string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:           env.GetString("HOST", "127.0.0.1"),
			Port:           env.GetInt("PORT", 8085),
			Environment:    env.GetString("ENV", "development"),
			ServiceName:    env.GetString("SERVICE_NAME", "call-agent"),
			AllowedOrigins: env.GetString("ALLOWED_ORIGINS", ""),
		},
		Device: DeviceConfig{
			UserID: env.GetString("DEVICE_USER_ID", ""),
		},
		Call: CallConfig{
			RingTimeout:     env.GetDuration("CALL_RING_TIMEOUT", constants.IncomingRingTimeout),
			OutgoingTimeout: env.GetDuration("CALL_OUTGOING_TIMEOUT", constants.OutgoingRingTimeout),
			MaxDuration:     env.GetDuration("CALL_MAX_DURATION", 0),
		},
		Signal: SignalConfig{
			Transport: env.GetString("SIGNAL_TRANSPORT", "redis"),
			TTL:       env.GetDuration("SIGNAL_TTL", constants.SignalTTL),
		},
		Database: DatabaseConfig{
			Enabled:  env.GetBool("DB_ENABLED", true),
			Host:     env.GetString("DB_HOST", "localhost"),
			Port:     env.GetInt("DB_PORT", 26257),
			User:     env.GetString("DB_USER", "root"),
			Password: env.GetStringFromFile("DB_PASSWORD", ""),
			Database: env.GetString("DB_NAME", "riffline"),
			SSLMode:  env.GetString("DB_SSL_MODE", "disable"),
			MaxConns: env.GetInt("DB_MAX_CONNS", 5),
			MinConns: env.GetInt("DB_MIN_CONNS", 1),
		},
		Redis: RedisConfig{
			Host:     env.GetString("REDIS_HOST", "localhost"),
			Port:     env.GetInt("REDIS_PORT", 6379),
			Password: env.GetStringFromFile("REDIS_PASSWORD", ""),
			DB:       env.GetInt("REDIS_DB", 0),
			PoolSize: env.GetInt("REDIS_POOL_SIZE", 10),
			Timeout:  env.GetDuration("REDIS_TIMEOUT", 5*time.Second),
		},
		Cassandra: CassandraConfig{
			Enabled:  env.GetBool("CASSANDRA_ENABLED", false),
			Hosts:    env.GetSlice("CASSANDRA_HOSTS", []string{"localhost"}),
			Keyspace: env.GetString("CASSANDRA_KEYSPACE", "riffline"),
			Username: env.GetString("CASSANDRA_USERNAME", ""),
			Password: env.GetStringFromFile("CASSANDRA_PASSWORD", ""),
			Timeout:  env.GetDuration("CASSANDRA_TIMEOUT", 600*time.Millisecond),
		},
		NATS: NATSConfig{
			URL:  env.GetString("NATS_URL", "nats://localhost:4222"),
			Name: env.GetString("NATS_CLIENT_NAME", "riffline-call-agent"),
		},
		History: HistoryConfig{
			Dir:   env.GetString("HISTORY_DIR", "./data"),
			Limit: env.GetInt("CALL_HISTORY_LIMIT", constants.CallHistoryLimit),
		},
		JWT: JWTConfig{
			Secret:   env.GetStringFromFile("JWT_SECRET", ""),
			Audience: env.GetString("JWT_AUDIENCE", "riffline-api"),
		},
		Log: LogConfig{
			Level:    env.GetString("LOG_LEVEL", "info"),
			Format:   env.GetString("LOG_FORMAT", "json"),
			Output:   env.GetString("LOG_OUTPUT", "stdout"),
			FilePath: env.GetString("LOG_FILE_PATH", "/logs/call-agent.log"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Device.UserID == "" {
		return fmt.Errorf("DEVICE_USER_ID must be set")
	}

	switch c.Signal.Transport {
	case "redis", "nats", "memory":
	default:
		return fmt.Errorf("unknown SIGNAL_TRANSPORT %q (want redis, nats or memory)", c.Signal.Transport)
	}

	if c.Call.RingTimeout <= 0 || c.Call.OutgoingTimeout <= 0 {
		return fmt.Errorf("call ring timeouts must be positive")
	}
	if c.Call.MaxDuration < 0 {
		return fmt.Errorf("CALL_MAX_DURATION must not be negative")
	}

	if c.History.Limit <= 0 {
		return fmt.Errorf("CALL_HISTORY_LIMIT must be positive")
	}

	if c.Server.Environment == "production" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters in production")
	}

	return nil
}
