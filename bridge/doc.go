// Package bridge
// Author: momentics <momentics@gmail.com>
//
// Non-blocking bridge between a poll-driven transport and a frame loop.
//
// Binding starts one background goroutine that owns the transport. It
// forwards packets queued through the returned Handle, polls the transport
// roughly once per millisecond and queues every resulting event for
// Bridge.PollEvent, which never blocks.
//
// Closing the Handle is the only way to stop the goroutine. The bridge
// notices the stop when PollEvent finds the event queue disconnected; it then
// joins the goroutine and reports itself stopped.
//
// Typical frame loop:
//
//	b := bridge.New(nil)
//	h, err := b.Bind("0.0.0.0:7777")
//	...
//	defer h.Close()
//	for frame := range frames {
//		for {
//			ev, ok := b.PollEvent()
//			if !ok {
//				break
//			}
//			handle(ev)
//		}
//	}
package bridge
