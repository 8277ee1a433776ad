// File: transport/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Transport tuning knobs, defaults and YAML loading.

package transport

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-udp/api"
)

// Config holds socket-level parameters. The bridge passes it through untouched.
type Config struct {
	IdleConnectionTimeout     time.Duration `yaml:"idle_connection_timeout"`     // Silence after which a peer times out
	HeartbeatInterval         time.Duration `yaml:"heartbeat_interval"`          // Keep-alive period; zero disables heartbeats
	MaxPacketSize             int           `yaml:"max_packet_size"`             // Largest payload accepted by Send
	MaxFragments              int           `yaml:"max_fragments"`               // Upper bound on fragments per payload
	FragmentSize              int           `yaml:"fragment_size"`               // Payload bytes per fragment / unreliable datagram
	FragmentReassemblyTimeout time.Duration `yaml:"fragment_reassembly_timeout"` // Incomplete fragment groups are dropped after this
	ReceiveBufferMaxSize      int           `yaml:"receive_buffer_max_size"`     // Largest datagram read from the socket
	MaxPacketsInFlight        int           `yaml:"max_packets_in_flight"`       // Unacknowledged reliable packets per peer
	RTTSmoothingFactor        float64       `yaml:"rtt_smoothing_factor"`        // Weight of a new RTT sample
	RTTMaxValue               time.Duration `yaml:"rtt_max_value"`               // Ceiling for the resend timeout
	MinResendTimeout          time.Duration `yaml:"min_resend_timeout"`          // Floor for the resend timeout
	MaxReceivesPerPoll        int           `yaml:"max_receives_per_poll"`       // Datagrams read in one ManualPoll
	SocketReadBuffer          int           `yaml:"socket_read_buffer"`          // SO_RCVBUF; zero keeps the OS default
	SocketWriteBuffer         int           `yaml:"socket_write_buffer"`         // SO_SNDBUF; zero keeps the OS default
}

// DefaultConfig returns the values used by Bind.
func DefaultConfig() Config {
	return Config{
		IdleConnectionTimeout:     5 * time.Second,
		HeartbeatInterval:         0,
		MaxPacketSize:             16 * 1024,
		MaxFragments:              16,
		FragmentSize:              1024,
		FragmentReassemblyTimeout: 5 * time.Second,
		ReceiveBufferMaxSize:      1452,
		MaxPacketsInFlight:        512,
		RTTSmoothingFactor:        0.10,
		RTTMaxValue:               250 * time.Millisecond,
		MinResendTimeout:          20 * time.Millisecond,
		MaxReceivesPerPoll:        256,
	}
}

// Validate rejects values the socket cannot work with.
func (c Config) Validate() error {
	switch {
	case c.IdleConnectionTimeout <= 0:
		return fmt.Errorf("%w: idle_connection_timeout must be positive", api.ErrInvalidConfig)
	case c.HeartbeatInterval < 0:
		return fmt.Errorf("%w: heartbeat_interval must not be negative", api.ErrInvalidConfig)
	case c.HeartbeatInterval > 0 && c.HeartbeatInterval >= c.IdleConnectionTimeout:
		return fmt.Errorf("%w: heartbeat_interval must be shorter than idle_connection_timeout", api.ErrInvalidConfig)
	case c.FragmentSize <= 0:
		return fmt.Errorf("%w: fragment_size must be positive", api.ErrInvalidConfig)
	case c.MaxFragments <= 0 || c.MaxFragments > 255:
		return fmt.Errorf("%w: max_fragments must be in [1, 255]", api.ErrInvalidConfig)
	case c.MaxPacketSize <= 0 || c.MaxPacketSize > c.FragmentSize*c.MaxFragments:
		return fmt.Errorf("%w: max_packet_size must be in [1, fragment_size*max_fragments]", api.ErrInvalidConfig)
	case c.ReceiveBufferMaxSize < c.FragmentSize+maxHeaderSize:
		return fmt.Errorf("%w: receive_buffer_max_size must fit fragment_size plus %d header bytes", api.ErrInvalidConfig, maxHeaderSize)
	case c.FragmentReassemblyTimeout <= 0:
		return fmt.Errorf("%w: fragment_reassembly_timeout must be positive", api.ErrInvalidConfig)
	case c.MaxPacketsInFlight <= 0:
		return fmt.Errorf("%w: max_packets_in_flight must be positive", api.ErrInvalidConfig)
	case c.RTTSmoothingFactor <= 0 || c.RTTSmoothingFactor > 1:
		return fmt.Errorf("%w: rtt_smoothing_factor must be in (0, 1]", api.ErrInvalidConfig)
	case c.MinResendTimeout <= 0 || c.RTTMaxValue < c.MinResendTimeout:
		return fmt.Errorf("%w: need 0 < min_resend_timeout <= rtt_max_value", api.ErrInvalidConfig)
	case c.MaxReceivesPerPoll <= 0:
		return fmt.Errorf("%w: max_receives_per_poll must be positive", api.ErrInvalidConfig)
	case c.SocketReadBuffer < 0 || c.SocketWriteBuffer < 0:
		return fmt.Errorf("%w: socket buffer sizes must not be negative", api.ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads a YAML document and overlays it on DefaultConfig.
// Durations use Go syntax ("250ms", "5s").
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read transport config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse transport config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("transport config %s: %w", path, err)
	}
	return cfg, nil
}
