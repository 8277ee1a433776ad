// File: bridge/handle.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Handle is the outbound side of a binding. Releasing it is what stops the
// poll goroutine.

package bridge

import (
	"bytes"
	"fmt"
	"net/netip"
	"runtime"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-udp/api"
	"github.com/momentics/hioload-udp/control"
	"github.com/momentics/hioload-udp/internal/concurrency"
)

// Handle queues packets for the poll goroutine. Send may be called from any
// goroutine. Exactly one Handle exists per binding.
type Handle struct {
	sends   *concurrency.Mailbox[api.Packet]
	stop    *concurrency.Flag
	local   netip.AddrPort
	log     logrus.FieldLogger
	metrics *control.MetricsRegistry
}

// Send queues p for the next poll. The payload is copied. After Close, or
// after the poll goroutine exited on its own, Send fails with an error
// wrapping api.ErrSendAfterShutdown.
func (h *Handle) Send(p api.Packet) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if h.stop.IsSet() {
		return fmt.Errorf("%w: packet to %s", api.ErrSendAfterShutdown, p.Addr)
	}
	p.Payload = bytes.Clone(p.Payload)
	if !h.sends.Push(p) {
		return fmt.Errorf("%w: packet to %s", api.ErrSendAfterShutdown, p.Addr)
	}
	h.metrics.Add(metricPacketsEnqueued, 1)
	return nil
}

// MustSend is Send for callers that treat a failure as a bug.
func (h *Handle) MustSend(p api.Packet) {
	if err := h.Send(p); err != nil {
		panic(err)
	}
}

// Close raises the shutdown flag. The poll goroutine flushes packets already
// queued, closes the transport and exits within one poll interval.
// Idempotent; always returns nil.
func (h *Handle) Close() error {
	runtime.SetFinalizer(h, nil)
	h.release()
	return nil
}

func (h *Handle) release() {
	if h.stop.Set() {
		h.log.Debug("handle released")
	}
}

// LocalAddr returns the bound address, with an ephemeral port resolved.
func (h *Handle) LocalAddr() netip.AddrPort {
	return h.local
}
