package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const ReconcileJobInterval = 5 * time.Minute

// How long the session manager waits for runners to close on shutdown.
const SessionShutdownTimeout = 15 * time.Second

// Engine bridge socket timeouts.
const (
	EngineDialTimeout    = 15 * time.Second
	EngineWriteTimeout   = 10 * time.Second
	EngineRequestTimeout = 30 * time.Second
)
