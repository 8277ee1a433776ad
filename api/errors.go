// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-udp.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrTransportClosed   = errors.New("transport is closed")
	ErrSendAfterShutdown = errors.New("send after shutdown")
	ErrAlreadyBound      = errors.New("bridge already bound")
	ErrPacketTooLarge    = errors.New("packet too large")
	ErrInvalidPacket     = errors.New("invalid packet")
	ErrTooManyInFlight   = errors.New("too many reliable packets in flight")
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrMalformedDatagram = errors.New("malformed datagram")
	ErrNoResolvedAddress = errors.New("address resolved to nothing")
)

// BindError reports a failure to bind a transport to an address.
// No background goroutine exists when a BindError is returned.
type BindError struct {
	Address string
	Err     error
}

// Error implements the error interface.
func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Address, e.Err)
}

// Unwrap exposes the transport failure (address in use, resolution, permissions).
func (e *BindError) Unwrap() error {
	return e.Err
}
