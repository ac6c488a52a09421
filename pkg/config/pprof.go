package config

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// PProfConfig controls the debug listener serving net/http/pprof profiles of the service,
// e.g. lock contention during checkout bursts. It is off unless explicitly enabled.
type PProfConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// String returns a string representation of the pprof configuration.
func (c *PProfConfig) String() string {
	var b strings.Builder
	b.WriteString("\n--- PProf ---\n")
	b.WriteString(fmt.Sprintf("  enabled: %t\n", c.Enabled))
	if c.Enabled {
		b.WriteString(fmt.Sprintf("  address: %s\n", c.Addr))
	}
	return b.String()
}

func (c *PProfConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Addr == "" {
		return fmt.Errorf("pprof is enabled but address is not configured")
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return fmt.Errorf("invalid pprof address %q: %w", c.Addr, err)
	}
	return nil
}

// Server returns the pprof listener. Profiles are registered on http.DefaultServeMux
// by importing net/http/pprof.
func (c *PProfConfig) Server() *http.Server {
	return &http.Server{
		Addr:              c.Addr,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
