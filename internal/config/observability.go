package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// ObservabilityConfig configures the admin server that `apptentivectl serve`
// and the mock API expose next to their main work.
type ObservabilityConfig struct {
	// Enabled only matters to the mock API; serve always starts the server.
	Enabled bool `envconfig:"ENABLED" default:"false"`

	// Host defaults to loopback: the SDK runs on developer machines, not
	// behind a cluster network policy.
	Host string `envconfig:"HOST" default:"127.0.0.1"`
	Port string `envconfig:"PORT" default:"9090"`

	// Timeout bounds reads and writes; idle connections get three times as long.
	Timeout time.Duration `envconfig:"TIMEOUT" default:"5s" validate:"min=1s"`

	LivenessPath  string `envconfig:"LIVENESS_PATH" default:"/healthz"`
	ReadinessPath string `envconfig:"READINESS_PATH" default:"/readyz"`
	MetricsPath   string `envconfig:"METRICS_PATH" default:"/metrics"`
}

// Address returns host:port.
func (o *ObservabilityConfig) Address() string {
	return net.JoinHostPort(o.Host, o.Port)
}

// Validate checks the listen address and that the three routes are distinct
// absolute paths.
func (o *ObservabilityConfig) Validate() error {
	if err := validatePort(o.Port, "observability"); err != nil {
		return err
	}
	if err := validateNoWhitespace(o.Host, "observability host"); err != nil {
		return err
	}

	seen := make(map[string]string, 3)
	for _, route := range []struct{ name, path string }{
		{"liveness", o.LivenessPath},
		{"readiness", o.ReadinessPath},
		{"metrics", o.MetricsPath},
	} {
		if !strings.HasPrefix(route.path, "/") {
			return fmt.Errorf("observability %s path must start with '/', got %q", route.name, route.path)
		}
		if other, dup := seen[route.path]; dup {
			return fmt.Errorf("observability %s and %s paths are both %q", other, route.name, route.path)
		}
		seen[route.path] = route.name
	}
	return nil
}
