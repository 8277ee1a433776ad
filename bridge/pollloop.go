// File: bridge/pollloop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Background goroutine that owns the transport.

package bridge

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/momentics/hioload-udp/api"
	"github.com/momentics/hioload-udp/control"
	"github.com/momentics/hioload-udp/internal/concurrency"
)

// Metric names published by the poll loop and Handle.
const (
	metricPacketsEnqueued = "bridge.packets_enqueued"
	metricPacketsSent     = "bridge.packets_sent"
	metricSendErrors      = "bridge.send_errors"
	metricEventsReceived  = "bridge.events_received"
	metricPollErrors      = "bridge.poll_errors"
	metricPolls           = "bridge.polls"

	transportMetricPrefix = "transport."
)

// statser is implemented by transports that expose counters.
type statser interface {
	Stats() map[string]int64
}

type pollLoop struct {
	t       api.Transport
	cfg     *Config
	log     logrus.FieldLogger
	metrics *control.MetricsRegistry
	warn    *rate.Limiter

	sends  *concurrency.Mailbox[api.Packet]
	events *concurrency.Mailbox[api.SocketEvent]
	stop   *concurrency.Flag
	done   chan struct{}
}

func newPollLoop(
	t api.Transport,
	cfg *Config,
	log logrus.FieldLogger,
	sends *concurrency.Mailbox[api.Packet],
	events *concurrency.Mailbox[api.SocketEvent],
	stop *concurrency.Flag,
	done chan struct{},
) *pollLoop {
	return &pollLoop{
		t:       t,
		cfg:     cfg,
		log:     log,
		metrics: cfg.Metrics,
		warn:    rate.NewLimiter(rate.Every(cfg.ErrorLogInterval), 1),
		sends:   sends,
		events:  events,
		stop:    stop,
		done:    done,
	}
}

// run polls until the shutdown flag is raised or, under ExitOnError, the
// transport keeps failing. done is closed last.
func (l *pollLoop) run() {
	defer l.finish()
	l.log.WithFields(logrus.Fields{
		"poll_interval": l.cfg.PollInterval,
		"error_policy":  l.cfg.ErrorPolicy,
	}).Info("poll loop started")

	failures := 0
	for polls := 1; !l.stop.IsSet(); polls++ {
		l.drainSends()
		err := l.t.ManualPoll(time.Now())
		l.forwardEvents()
		l.metrics.Add(metricPolls, 1)

		if err != nil {
			failures++
			l.metrics.Add(metricPollErrors, 1)
			if l.cfg.ErrorPolicy == api.ExitOnError && failures >= l.cfg.MaxConsecutiveErrors {
				l.log.WithError(err).WithField("consecutive_failures", failures).Error("poll failed, stopping")
				// later sends must fail rather than queue into a dead loop
				l.stop.Set()
				break
			}
			if l.warn.Allow() {
				l.log.WithError(err).WithField("consecutive_failures", failures).Warn("poll failed")
			}
		} else {
			failures = 0
		}

		if polls%l.cfg.StatsEvery == 0 {
			l.publishStats()
		}
		time.Sleep(l.cfg.PollInterval)
	}
	l.shutdown()
}

// drainSends hands every queued packet to the transport in FIFO order.
func (l *pollLoop) drainSends() {
	for {
		p, status := l.sends.TryRecv()
		if status != concurrency.Received {
			return
		}
		if err := l.t.Send(p); err != nil {
			l.metrics.Add(metricSendErrors, 1)
			l.log.WithError(err).WithField("peer", p.Addr.String()).Debug("send rejected")
			continue
		}
		l.metrics.Add(metricPacketsSent, 1)
	}
}

// forwardEvents moves everything the transport produced into the receive mailbox.
func (l *pollLoop) forwardEvents() {
	for {
		ev, ok := l.t.Recv()
		if !ok {
			return
		}
		l.events.Push(ev)
		l.metrics.Add(metricEventsReceived, 1)
	}
}

// shutdown flushes packets queued before the flag was seen, then releases
// the transport and disconnects the receive mailbox.
func (l *pollLoop) shutdown() {
	l.sends.Close()
	l.drainSends()
	if err := l.t.ManualPoll(time.Now()); err != nil {
		l.log.WithError(err).Debug("final poll failed")
	}
	l.forwardEvents()
	l.events.Close()
	l.publishStats()
	l.closeTransport()
	l.log.Info("poll loop stopped")
}

// finish runs on every exit from run, including a panic inside the
// transport, and leaves both mailboxes disconnected so Handle.Send and
// PollEvent observe the shutdown.
func (l *pollLoop) finish() {
	if r := recover(); r != nil {
		l.stop.Set()
		l.log.WithField("panic", r).Error("poll loop panicked")
		l.closeTransport()
	}
	l.sends.Close()
	l.events.Close()
	close(l.done)
}

func (l *pollLoop) closeTransport() {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("transport close panicked")
		}
	}()
	if err := l.t.Close(); err != nil {
		l.log.WithError(err).Warn("transport close failed")
	}
}

func (l *pollLoop) publishStats() {
	if s, ok := l.t.(statser); ok {
		l.metrics.SetCounters(transportMetricPrefix, s.Stats())
	}
}
