package config

import (
	"strings"

	"github.com/abgdnv/marketplace/pkg/config"
	"github.com/abgdnv/marketplace/pkg/config/configloader"
)

var _ configloader.Validator = (*Config)(nil)

type Config struct {
	HTTPServer     config.HTTPConfig           `koanf:"server"`
	Database       config.DatabaseConfig       `koanf:"database"`
	Log            config.LogConfig            `koanf:"log"`
	PProf          config.PProfConfig          `koanf:"pprof"`
	Nats           config.NATSConfig           `koanf:"nats"`
	CircuitBreaker config.CircuitBreakerConfig `koanf:"circuitbreaker"`
	Shutdown       config.ShutdownConfig       `koanf:"shutdown"`
	Telemetry      config.TelemetryConfig      `koanf:"telemetry"`
	GRPC           config.GrpcServerConfig     `koanf:"grpc"`
	Checkout       config.CheckoutConfig       `koanf:"checkout"`
}

func (c *Config) String() string {
	var b strings.Builder
	b.WriteString(c.HTTPServer.String())
	b.WriteString(c.Database.String())
	b.WriteString(c.Checkout.String())
	b.WriteString(c.Nats.String())
	if c.Nats.Enabled {
		b.WriteString(c.CircuitBreaker.String())
	}
	b.WriteString(c.GRPC.String())
	b.WriteString(c.Telemetry.String())
	b.WriteString(c.Log.String())
	b.WriteString(c.PProf.String())
	b.WriteString(c.Shutdown.String())
	return b.String()
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	validators := []configloader.Validator{
		&c.HTTPServer,
		&c.Database,
		&c.Log,
		&c.PProf,
		&c.Nats,
		&c.Shutdown,
		&c.Telemetry,
		&c.GRPC,
		&c.Checkout,
	}
	// the breaker only guards the NATS publisher
	if c.Nats.Enabled {
		validators = append(validators, &c.CircuitBreaker)
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
