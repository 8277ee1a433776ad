// File: bridge/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bridge-layer configuration. Transport tuning lives in transport.Config.

package bridge

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-udp/api"
	"github.com/momentics/hioload-udp/control"
)

// Config holds parameters fixed for the lifetime of a Bridge.
type Config struct {
	PollInterval         time.Duration            // Sleep between poll iterations
	ErrorPolicy          api.PollErrorPolicy      // What to do when ManualPoll fails
	MaxConsecutiveErrors int                      // Failing polls in a row before ExitOnError stops the loop
	ErrorLogInterval     time.Duration            // Minimum spacing of repeated poll-error warnings
	StatsEvery           int                      // Publish transport stats every N polls
	Logger               logrus.FieldLogger       // Destination for lifecycle and error logs
	Metrics              *control.MetricsRegistry // Counter sink; a private registry when nil
	Probes               *control.DebugProbes     // Optional live-state probes, "bridge." prefixed
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:         time.Millisecond,    // one poll per millisecond
		ErrorPolicy:          api.ContinueOnError, // tolerate transient failures
		MaxConsecutiveErrors: 1,                   // exit policy stops on the first failure
		ErrorLogInterval:     time.Second,         // at most one poll warning per second
		StatsEvery:           100,                 // mirror transport stats ~10 times a second
		Logger:               logrus.StandardLogger(),
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = d.MaxConsecutiveErrors
	}
	if c.ErrorLogInterval <= 0 {
		c.ErrorLogInterval = d.ErrorLogInterval
	}
	if c.StatsEvery <= 0 {
		c.StatsEvery = d.StatsEvery
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	if c.Metrics == nil {
		c.Metrics = control.NewMetricsRegistry()
	}
	return c
}
