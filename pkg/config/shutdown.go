package config

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const defaultShutdownTimeout = 10 * time.Second

// ShutdownConfig bounds how long the HTTP, gRPC and pprof servers may drain in-flight
// requests, including checkouts holding row locks, once a stop signal arrives.
type ShutdownConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// String returns a string representation of the ShutdownConfig.
func (c *ShutdownConfig) String() string {
	var b strings.Builder
	b.WriteString("\n--- Shutdown ---\n")
	b.WriteString(fmt.Sprintf("  drain timeout: %s\n", c.Timeout))
	return b.String()
}

func (c *ShutdownConfig) Validate() error {
	if c.Timeout == 0 {
		c.Timeout = defaultShutdownTimeout
	}
	if c.Timeout < 0 {
		return fmt.Errorf("shutdown drain timeout must be positive: %s", c.Timeout)
	}
	return nil
}

// DrainContext returns the context a server drains under. It is detached from the
// canceled run context so that in-flight requests can still finish.
func (c *ShutdownConfig) DrainContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.Timeout)
}
