package config

import (
	"fmt"
	"strings"
	"time"
)

const defaultLockTimeout = 3 * time.Second

// CheckoutConfig bounds how long a transaction waits for cart and stock row locks.
type CheckoutConfig struct {
	LockTimeout time.Duration `koanf:"locktimeout"`
}

// String returns a string representation of the CheckoutConfig.
func (c *CheckoutConfig) String() string {
	var b strings.Builder
	b.WriteString("\n--- Checkout ---\n")
	b.WriteString(fmt.Sprintf("  locktimeout: %s\n", c.LockTimeout))
	return b.String()
}

func (c *CheckoutConfig) Validate() error {
	if c.LockTimeout == 0 {
		c.LockTimeout = defaultLockTimeout
	}
	if c.LockTimeout < time.Millisecond {
		return fmt.Errorf("checkout lock timeout must be at least 1ms: %s", c.LockTimeout)
	}
	return nil
}
