package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/efreitasn/marketbroker/internal/domain"
	"github.com/shopspring/decimal"
)

// Config holds all runtime configuration for the market broker.
type Config struct {
	Port             int
	AdminPort        int
	LogLevel         string
	InitialStock     decimal.Decimal
	SaleDuration     time.Duration
	SweepInterval    time.Duration
	BroadcastQueue   int
	SessionQueue     int
	HeartbeatTimeout time.Duration
	ShutdownTimeout  time.Duration
}

// Load reads configuration from environment variables, applies defaults,
// and validates values. It returns an error for any invalid value.
func Load() (*Config, error) {
	port, err := getInt("PORT", 5000)
	if err != nil {
		return nil, fmt.Errorf("invalid PORT: %w", err)
	}

	adminPort, err := getInt("ADMIN_PORT", 5001)
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_PORT: %w", err)
	}

	logLevel := getStr("LOG_LEVEL", "info")
	if !isValidLogLevel(logLevel) {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %q, must be one of: debug, info, warn, error", logLevel)
	}

	initialStock, err := getFloat("INITIAL_STOCK", 1000)
	if err != nil {
		return nil, fmt.Errorf("invalid INITIAL_STOCK: %w", err)
	}
	if initialStock <= 0 {
		return nil, fmt.Errorf("invalid INITIAL_STOCK: must be positive, got %v", initialStock)
	}

	saleDuration, err := getDuration("SALE_DURATION", domain.MaxSaleDuration)
	if err != nil {
		return nil, fmt.Errorf("invalid SALE_DURATION: %w", err)
	}
	if saleDuration <= 0 || saleDuration > domain.MaxSaleDuration {
		return nil, fmt.Errorf("invalid SALE_DURATION: must be in (0s, %s], got %s", domain.MaxSaleDuration, saleDuration)
	}

	sweepInterval, err := getDuration("SWEEP_INTERVAL", 1*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
	}
	// Coarser than 1s would let sales outlive their deadline beyond the
	// documented jitter bound.
	if sweepInterval <= 0 || sweepInterval > 1*time.Second {
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL: must be in (0s, 1s], got %s", sweepInterval)
	}

	broadcastQueue, err := getInt("BROADCAST_QUEUE", 256)
	if err != nil {
		return nil, fmt.Errorf("invalid BROADCAST_QUEUE: %w", err)
	}
	if broadcastQueue <= 0 {
		return nil, fmt.Errorf("invalid BROADCAST_QUEUE: must be positive, got %d", broadcastQueue)
	}

	sessionQueue, err := getInt("SESSION_QUEUE", 64)
	if err != nil {
		return nil, fmt.Errorf("invalid SESSION_QUEUE: %w", err)
	}
	if sessionQueue <= 0 {
		return nil, fmt.Errorf("invalid SESSION_QUEUE: must be positive, got %d", sessionQueue)
	}

	heartbeatTimeout, err := getDuration("HEARTBEAT_TIMEOUT", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid HEARTBEAT_TIMEOUT: %w", err)
	}
	if heartbeatTimeout < 0 {
		return nil, fmt.Errorf("invalid HEARTBEAT_TIMEOUT: must be >= 0, got %s", heartbeatTimeout)
	}

	shutdownTimeout, err := getDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
	}

	return &Config{
		Port:             port,
		AdminPort:        adminPort,
		LogLevel:         logLevel,
		InitialStock:     decimal.NewFromFloat(initialStock),
		SaleDuration:     saleDuration,
		SweepInterval:    sweepInterval,
		BroadcastQueue:   broadcastQueue,
		SessionQueue:     sessionQueue,
		HeartbeatTimeout: heartbeatTimeout,
		ShutdownTimeout:  shutdownTimeout,
	}, nil
}

func getStr(key, defaultVal string) string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	return v
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

func getFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	return time.ParseDuration(v)
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}
