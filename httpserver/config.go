package httpserver

import (
	"log/slog"
	"time"
)

// Config holds the settings of a node's API server.
type Config struct {
	ListenAddr string
	// MetricsAddr serves /metrics when non-empty.
	MetricsAddr string
	EnablePprof bool
	Log         *slog.Logger

	// DrainDuration is how long Shutdown keeps the server up after /readyz
	// starts failing.
	DrainDuration            time.Duration
	GracefulShutdownDuration time.Duration
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
}
