// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named state probes for live inspection of a running bridge.

package control

import (
	"sort"
	"strings"
	"sync"
)

// DebugProbes holds registered probe functions. Probes are called from
// whatever goroutine dumps the state, so they must be safe for that.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]func() any
}

// NewDebugProbes creates a probe registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{
		probes: make(map[string]func() any),
	}
}

// RegisterProbe inserts or replaces a named debug hook.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.probes[name] = fn
}

// UnregisterPrefix drops every probe whose name starts with prefix.
func (dp *DebugProbes) UnregisterPrefix(prefix string) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	for name := range dp.probes {
		if strings.HasPrefix(name, prefix) {
			delete(dp.probes, name)
		}
	}
}

// Names lists registered probes in sorted order.
func (dp *DebugProbes) Names() []string {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	names := make([]string, 0, len(dp.probes))
	for name := range dp.probes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DumpState returns output of all probes.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	out := make(map[string]any, len(dp.probes))
	for k, fn := range dp.probes {
		out[k] = fn()
	}
	return out
}
