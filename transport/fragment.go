// File: transport/fragment.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Splitting of large reliable payloads and time-bounded reassembly.

package transport

import (
	"bytes"
	"net/netip"
	"strconv"

	"github.com/patrickmn/go-cache"
)

type fragmentGroup struct {
	parts [][]byte
	have  int
}

// splitPayload cuts payload into chunks of at most size bytes.
// An empty payload still yields one (empty) chunk.
func splitPayload(payload []byte, size int) [][]byte {
	if len(payload) <= size {
		return [][]byte{payload}
	}
	chunks := make([][]byte, 0, (len(payload)+size-1)/size)
	for len(payload) > size {
		chunks = append(chunks, payload[:size])
		payload = payload[size:]
	}
	return append(chunks, payload)
}

// fragmentKey includes the sender's epoch so a reconnected peer restarting
// its group counter never completes a stale group.
func fragmentKey(addr netip.AddrPort, epoch, group uint16) string {
	return addr.String() + "#" + strconv.Itoa(int(epoch)) + "#" + strconv.Itoa(int(group))
}

// reassembler collects fragments per (peer, group). Groups that stay
// incomplete expire after the cache's default TTL.
type reassembler struct {
	groups       *cache.Cache
	maxFragments int
}

func newReassembler(cfg Config) *reassembler {
	// no janitor goroutine: ManualPoll calls expire()
	return &reassembler{
		groups:       cache.New(cfg.FragmentReassemblyTimeout, 0),
		maxFragments: cfg.MaxFragments,
	}
}

// add stores one fragment and returns the whole payload once every piece arrived.
func (r *reassembler) add(addr netip.AddrPort, h header, payload []byte) ([]byte, bool) {
	if int(h.count) > r.maxFragments {
		return nil, false
	}
	key := fragmentKey(addr, h.epoch, h.group)
	var g *fragmentGroup
	if v, ok := r.groups.Get(key); ok {
		g = v.(*fragmentGroup)
	} else {
		g = &fragmentGroup{parts: make([][]byte, h.count)}
		r.groups.SetDefault(key, g)
	}
	if len(g.parts) != int(h.count) {
		return nil, false
	}
	if g.parts[h.index] == nil {
		g.parts[h.index] = bytes.Clone(payload)
		g.have++
	}
	if g.have < len(g.parts) {
		return nil, false
	}
	r.groups.Delete(key)
	return bytes.Join(g.parts, nil), true
}

func (r *reassembler) expire() {
	r.groups.DeleteExpired()
}

func (r *reassembler) pending() int {
	return r.groups.ItemCount()
}
