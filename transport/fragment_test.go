package transport

import (
	"bytes"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-udp/api"
)

func TestSplitPayload(t *testing.T) {
	assert.Equal(t, [][]byte{{}}, splitPayload([]byte{}, 4))
	assert.Equal(t, [][]byte{[]byte("abcd")}, splitPayload([]byte("abcd"), 4))
	assert.Equal(t, [][]byte{[]byte("abcd"), []byte("ef")}, splitPayload([]byte("abcdef"), 4))
}

func TestReassembler_OutOfOrderAndDuplicates(t *testing.T) {
	r := newReassembler(DefaultConfig())
	addr := netip.MustParseAddrPort("10.0.0.1:4000")
	frag := func(i uint8) header {
		return header{kind: kindFragment, delivery: api.Reliable, group: 3, index: i, count: 3}
	}

	_, done := r.add(addr, frag(2), []byte("cc"))
	require.False(t, done)
	_, done = r.add(addr, frag(0), []byte("aa"))
	require.False(t, done)
	_, done = r.add(addr, frag(0), []byte("zz"))
	require.False(t, done)
	assert.Equal(t, 1, r.pending())

	whole, done := r.add(addr, frag(1), []byte("bb"))
	require.True(t, done)
	assert.Equal(t, []byte("aabbcc"), whole)
	assert.Zero(t, r.pending())
}

func TestReassembler_GroupsArePerPeer(t *testing.T) {
	r := newReassembler(DefaultConfig())
	a := netip.MustParseAddrPort("10.0.0.1:4000")
	b := netip.MustParseAddrPort("10.0.0.2:4000")
	h := header{kind: kindFragment, delivery: api.Reliable, group: 1, count: 2}

	r.add(a, h, []byte("a0"))
	h.index = 1
	_, done := r.add(b, h, []byte("b1"))
	assert.False(t, done)
	assert.Equal(t, 2, r.pending())
}

func TestReassembler_RejectsTooManyFragments(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxFragments = 2
	r := newReassembler(cfg)
	h := header{kind: kindFragment, delivery: api.Reliable, count: 3}
	_, done := r.add(netip.MustParseAddrPort("10.0.0.1:1"), h, bytes.Repeat([]byte{1}, 4))
	assert.False(t, done)
	assert.Zero(t, r.pending())
}

func TestReassembler_ExpiresIncompleteGroups(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FragmentReassemblyTimeout = 10 * time.Millisecond
	r := newReassembler(cfg)
	h := header{kind: kindFragment, delivery: api.Reliable, count: 2}
	r.add(netip.MustParseAddrPort("10.0.0.1:1"), h, []byte("x"))
	require.Equal(t, 1, r.pending())

	require.Eventually(t, func() bool {
		r.expire()
		return r.pending() == 0
	}, time.Second, 5*time.Millisecond)
}
