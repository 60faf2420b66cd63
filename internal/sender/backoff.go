package sender

import (
	"math"
	"time"

	"github.com/rafaeljc/apptentivekit/internal/config"
)

// Config holds the retry schedule of the sender.
type Config struct {
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Multiplier  float64
	// Jitter spreads each delay by up to this fraction in either direction.
	Jitter float64
	// IdleInterval is how long Run sleeps when there is nothing to do and no
	// wake-up arrives.
	IdleInterval time.Duration
}

// ConfigFrom maps the environment configuration onto a sender Config.
func ConfigFrom(c config.SenderConfig) Config {
	return Config{
		BaseBackoff:  c.BaseBackoff,
		MaxBackoff:   c.MaxBackoff,
		Multiplier:   c.Multiplier,
		Jitter:       c.Jitter,
		IdleInterval: c.IdleInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = time.Second
	}
	if c.MaxBackoff < c.BaseBackoff {
		c.MaxBackoff = max(5*time.Minute, c.BaseBackoff)
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2
	}
	c.Jitter = min(max(c.Jitter, 0), 1)
	if c.IdleInterval <= 0 {
		c.IdleInterval = 30 * time.Second
	}
	return c
}

// Backoff returns the delay before retry number attempt (1-based).
// random must be in [0, 1); 0.5 yields the un-jittered delay.
func (c Config) Backoff(attempt int, random float64) time.Duration {
	attempt = max(attempt, 1)

	d := float64(c.BaseBackoff) * math.Pow(c.Multiplier, float64(attempt-1))
	d = min(d, float64(c.MaxBackoff))
	d += d * c.Jitter * (2*random - 1)

	return max(time.Duration(d), 0)
}
