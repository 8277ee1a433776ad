// File: bridge/bridge.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bridge owns the receive side and the background poll goroutine.

package bridge

import (
	"net/netip"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-udp/api"
	"github.com/momentics/hioload-udp/control"
	"github.com/momentics/hioload-udp/internal/concurrency"
	"github.com/momentics/hioload-udp/transport"
)

// Bridge turns a transport into a per-frame event source. It is meant to be
// used from a single goroutine.
type Bridge struct {
	cfg Config
	log logrus.FieldLogger

	// both nil until bound and again once the stop has been observed
	done   chan struct{}
	events *concurrency.Mailbox[api.SocketEvent]
	local  netip.AddrPort
}

// New creates an unbound bridge. A nil cfg means DefaultConfig.
func New(cfg *Config) *Bridge {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := cfg.withDefaults()
	return &Bridge{
		cfg: c,
		log: c.Logger.WithField("component", "bridge"),
	}
}

// Bind opens a UDP transport on address with default transport settings.
func (b *Bridge) Bind(address string) (*Handle, error) {
	return b.BindWithConfig(address, transport.DefaultConfig())
}

// BindWithConfig opens a UDP transport on address and starts polling it.
// Transport failures come back as *api.BindError and no goroutine is started.
func (b *Bridge) BindWithConfig(address string, cfg transport.Config) (*Handle, error) {
	if b.Running() {
		return nil, api.ErrAlreadyBound
	}
	sock, err := transport.BindWithConfig(address, cfg)
	if err != nil {
		b.log.WithError(err).WithField("address", address).Warn("bind failed")
		return nil, err
	}
	return b.start(sock), nil
}

// BindTransport starts polling an already bound transport. The bridge takes
// ownership and closes it on shutdown.
func (b *Bridge) BindTransport(t api.Transport) (*Handle, error) {
	if b.Running() {
		return nil, api.ErrAlreadyBound
	}
	return b.start(t), nil
}

func (b *Bridge) start(t api.Transport) *Handle {
	local := t.LocalAddr()
	log := b.log.WithField("local_addr", local.String())

	sends := concurrency.NewMailbox[api.Packet]()
	events := concurrency.NewMailbox[api.SocketEvent]()
	stop := new(concurrency.Flag)
	done := make(chan struct{})

	loop := newPollLoop(t, &b.cfg, log, sends, events, stop, done)
	go loop.run()

	b.done = done
	b.events = events
	b.local = local

	if b.cfg.Probes != nil {
		registerProbes(b.cfg.Probes, local, sends, events, stop)
	}

	h := &Handle{
		sends:   sends,
		stop:    stop,
		local:   local,
		log:     log,
		metrics: b.cfg.Metrics,
	}
	// best effort release for a handle dropped without Close
	runtime.SetFinalizer(h, (*Handle).release)
	log.Info("bridge bound")
	return h
}

// PollEvent returns the next queued event without blocking. It returns false
// when nothing is pending, when the bridge was never bound, or once the poll
// goroutine has exited; the first time that exit is seen the goroutine is
// joined and the bridge becomes unbound.
func (b *Bridge) PollEvent() (api.NetworkEvent, bool) {
	if b.events == nil {
		return api.NetworkEvent{}, false
	}
	ev, status := b.events.TryRecv()
	switch status {
	case concurrency.Received:
		return api.NormalizeEvent(ev), true
	case concurrency.Empty:
		return api.NetworkEvent{}, false
	}
	<-b.done
	if b.cfg.Probes != nil {
		b.cfg.Probes.UnregisterPrefix(probePrefix)
	}
	b.log.WithField("local_addr", b.local.String()).Info("bridge stopped")
	b.events = nil
	b.done = nil
	return api.NetworkEvent{}, false
}

// Running reports whether a poll goroutine is registered, i.e. the bridge
// was bound and its stop has not been observed by PollEvent yet.
func (b *Bridge) Running() bool {
	return b.done != nil
}

// LocalAddr returns the address of the current binding, if any.
func (b *Bridge) LocalAddr() netip.AddrPort {
	if !b.Running() {
		return netip.AddrPort{}
	}
	return b.local
}

// Metrics exposes the registry the bridge publishes to.
func (b *Bridge) Metrics() *control.MetricsRegistry {
	return b.cfg.Metrics
}

const probePrefix = "bridge."

// registerProbes exposes state that is safe to read from any goroutine.
func registerProbes(
	dp *control.DebugProbes,
	local netip.AddrPort,
	sends *concurrency.Mailbox[api.Packet],
	events *concurrency.Mailbox[api.SocketEvent],
	stop *concurrency.Flag,
) {
	dp.RegisterProbe(probePrefix+"local_addr", func() any { return local.String() })
	dp.RegisterProbe(probePrefix+"stopping", func() any { return stop.IsSet() })
	dp.RegisterProbe(probePrefix+"queued_sends", func() any { return sends.Len() })
	dp.RegisterProbe(probePrefix+"queued_events", func() any { return events.Len() })
}
