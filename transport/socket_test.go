package transport

import (
	"bytes"
	"errors"
	"net"
	"net/netip"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-udp/api"
)

const pollDeadline = 3 * time.Second

func bindLoopback(t *testing.T, cfg Config) *Socket {
	t.Helper()
	s, err := BindWithConfig("127.0.0.1:0", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// recorder drives sockets and keeps every event they produce.
type recorder struct {
	events map[*Socket][]api.SocketEvent
}

func newRecorder() *recorder {
	return &recorder{events: make(map[*Socket][]api.SocketEvent)}
}

func (r *recorder) poll(t *testing.T, socks ...*Socket) {
	t.Helper()
	now := time.Now()
	for _, s := range socks {
		require.NoError(t, s.ManualPoll(now))
		for {
			ev, ok := s.Recv()
			if !ok {
				break
			}
			r.events[s] = append(r.events[s], ev)
		}
	}
}

func (r *recorder) until(t *testing.T, cond func() bool, socks ...*Socket) {
	t.Helper()
	deadline := time.Now().Add(pollDeadline)
	for time.Now().Before(deadline) {
		r.poll(t, socks...)
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %s", pollDeadline)
}

// relay forwards datagrams between two sockets and can drop them on the way.
type relay struct {
	conn *net.UDPConn
	a, b netip.AddrPort
	drop func(from netip.AddrPort, datagram []byte) bool
	buf  []byte
}

func newRelay(t *testing.T, a, b netip.AddrPort) *relay {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &relay{conn: conn, a: a, b: b, buf: make([]byte, 64*1024)}
}

func (r *relay) addr() netip.AddrPort {
	return r.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// forward moves everything currently queued on the relay socket.
func (r *relay) forward() {
	for {
		r.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, from, err := r.conn.ReadFromUDPAddrPort(r.buf)
		if err != nil {
			return
		}
		from = unmap(from)
		if r.drop != nil && r.drop(from, r.buf[:n]) {
			continue
		}
		to := r.b
		if from == r.b {
			to = r.a
		}
		r.conn.WriteToUDPAddrPort(r.buf[:n], to)
	}
}

func (r *recorder) kinds(s *Socket) []api.SocketEventKind {
	var out []api.SocketEventKind
	for _, ev := range r.events[s] {
		out = append(out, ev.Kind)
	}
	return out
}

func (r *recorder) packets(s *Socket) []api.Packet {
	var out []api.Packet
	for _, ev := range r.events[s] {
		if ev.Kind == api.SocketPacket {
			out = append(out, ev.Packet)
		}
	}
	return out
}

func TestSocket_BindReportsEphemeralPort(t *testing.T) {
	s := bindLoopback(t, DefaultConfig())
	assert.Equal(t, netip.MustParseAddr("127.0.0.1"), s.LocalAddr().Addr())
	assert.NotZero(t, s.LocalAddr().Port())

	require.NoError(t, s.ManualPoll(time.Now()))
	_, ok := s.Recv()
	assert.False(t, ok)
}

func TestSocket_BindAddressInUse(t *testing.T) {
	s := bindLoopback(t, DefaultConfig())

	_, err := Bind(s.LocalAddr().String())
	var be *api.BindError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, s.LocalAddr().String(), be.Address)
	assert.ErrorIs(t, err, syscall.EADDRINUSE)
}

func TestSocket_BindRejectsBadAddressAndConfig(t *testing.T) {
	_, err := Bind("not an address")
	var be *api.BindError
	assert.ErrorAs(t, err, &be)

	cfg := DefaultConfig()
	cfg.FragmentSize = 0
	_, err = BindWithConfig("127.0.0.1:0", cfg)
	assert.ErrorIs(t, err, api.ErrInvalidConfig)
}

func TestSocket_ConnectThenMessage(t *testing.T) {
	a := bindLoopback(t, DefaultConfig())
	b := bindLoopback(t, DefaultConfig())
	rec := newRecorder()

	require.NoError(t, a.Send(api.UnreliablePacket(b.LocalAddr(), []byte("ping"))))
	rec.until(t, func() bool { return len(rec.events[b]) >= 2 }, a, b)

	require.Equal(t, []api.SocketEventKind{api.SocketConnect, api.SocketPacket}, rec.kinds(b))
	assert.Equal(t, a.LocalAddr(), rec.events[b][0].Addr)
	pkt := rec.events[b][1].Packet
	assert.Equal(t, a.LocalAddr(), pkt.Addr)
	assert.Equal(t, []byte("ping"), pkt.Payload)
	assert.Equal(t, api.Unreliable, pkt.Delivery)
	assert.Equal(t, 1, b.ConnectionCount())
}

func TestSocket_ReliableOrderedFragments(t *testing.T) {
	a := bindLoopback(t, DefaultConfig())
	b := bindLoopback(t, DefaultConfig())
	rec := newRecorder()

	var sent [][]byte
	for i := 0; i < 3; i++ {
		payload := bytes.Repeat([]byte{byte('a' + i)}, 3000)
		sent = append(sent, payload)
		require.NoError(t, a.Send(api.ReliableOrdered(b.LocalAddr(), payload, 2)))
	}
	rec.until(t, func() bool {
		return len(rec.packets(b)) == 3 && a.Stats()["in_flight"] == 0
	}, a, b)

	for i, p := range rec.packets(b) {
		assert.Equal(t, sent[i], p.Payload)
		assert.Equal(t, api.Reliable, p.Delivery)
		assert.Equal(t, api.OrderingOrdered, p.Ordering)
		assert.Equal(t, uint8(2), p.Stream)
	}
	assert.Zero(t, b.Stats()["fragment_groups"])
}

func TestSocket_ResendsUntilAcknowledged(t *testing.T) {
	a := bindLoopback(t, DefaultConfig())
	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()
	dst := peer.LocalAddr().(*net.UDPAddr).AddrPort()

	require.NoError(t, a.Send(api.ReliableUnordered(dst, []byte("hello"))))

	buf := make([]byte, 2048)
	readOne := func() []byte {
		deadline := time.Now().Add(pollDeadline)
		for time.Now().Before(deadline) {
			require.NoError(t, a.ManualPoll(time.Now()))
			peer.SetReadDeadline(time.Now().Add(5 * time.Millisecond))
			n, _, err := peer.ReadFromUDPAddrPort(buf)
			if err == nil {
				return bytes.Clone(buf[:n])
			}
		}
		t.Fatal("no datagram from socket")
		return nil
	}

	first := readOne()
	second := readOne()
	assert.Equal(t, first, second)
	assert.GreaterOrEqual(t, a.Stats()["resends"], int64(1))

	h, payload, err := decodeHeader(first)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), payload)

	ack := (&header{kind: kindAck, hasAck: true, ack: h.seq}).appendTo(nil)
	_, err = peer.WriteToUDPAddrPort(ack, a.LocalAddr())
	require.NoError(t, err)

	rec := newRecorder()
	rec.until(t, func() bool { return a.Stats()["in_flight"] == 0 }, a)
}

func TestSocket_TimeoutThenDisconnect(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleConnectionTimeout = 100 * time.Millisecond
	a := bindLoopback(t, cfg)
	b := bindLoopback(t, cfg)
	rec := newRecorder()

	require.NoError(t, a.Send(api.UnreliablePacket(b.LocalAddr(), []byte("bye"))))
	rec.until(t, func() bool { return len(rec.events[b]) >= 2 }, a, b)
	require.NoError(t, a.Close())

	rec.until(t, func() bool { return len(rec.events[b]) >= 4 }, b)
	assert.Equal(t, []api.SocketEventKind{
		api.SocketConnect, api.SocketPacket, api.SocketTimeout, api.SocketDisconnect,
	}, rec.kinds(b))
	assert.Equal(t, a.LocalAddr(), rec.events[b][3].Addr)
	assert.Zero(t, b.ConnectionCount())
}

func TestSocket_HeartbeatKeepsPeersAlive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleConnectionTimeout = 200 * time.Millisecond
	cfg.HeartbeatInterval = 40 * time.Millisecond
	a := bindLoopback(t, cfg)
	b := bindLoopback(t, cfg)
	rec := newRecorder()

	require.NoError(t, a.Send(api.UnreliablePacket(b.LocalAddr(), []byte("hi"))))
	rec.until(t, func() bool { return len(rec.packets(b)) == 1 }, a, b)
	require.NoError(t, b.Send(api.UnreliablePacket(a.LocalAddr(), []byte("hi"))))
	rec.until(t, func() bool { return len(rec.packets(a)) == 1 }, a, b)

	stop := time.Now().Add(600 * time.Millisecond)
	for time.Now().Before(stop) {
		rec.poll(t, a, b)
		time.Sleep(time.Millisecond)
	}
	assert.NotContains(t, rec.kinds(a), api.SocketTimeout)
	assert.NotContains(t, rec.kinds(b), api.SocketTimeout)
	assert.Equal(t, 1, a.ConnectionCount())
	assert.Equal(t, 1, b.ConnectionCount())
	assert.Positive(t, a.Stats()["heartbeats"])
}

func TestSocket_DropsMalformedDatagrams(t *testing.T) {
	s := bindLoopback(t, DefaultConfig())
	raw, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(s.LocalAddr()))
	require.NoError(t, err)
	defer raw.Close()
	_, err = raw.Write([]byte("definitely not a header"))
	require.NoError(t, err)

	rec := newRecorder()
	rec.until(t, func() bool { return s.Stats()["malformed"] == 1 }, s)
	assert.Empty(t, rec.events[s])
	assert.Zero(t, s.ConnectionCount())
}

func TestSocket_SendValidation(t *testing.T) {
	cfg := DefaultConfig()
	s := bindLoopback(t, cfg)
	dst := netip.MustParseAddrPort("127.0.0.1:9")

	err := s.Send(api.ReliableUnordered(dst, make([]byte, cfg.MaxPacketSize+1)))
	assert.ErrorIs(t, err, api.ErrPacketTooLarge)

	err = s.Send(api.UnreliablePacket(dst, make([]byte, cfg.FragmentSize+1)))
	assert.ErrorIs(t, err, api.ErrPacketTooLarge)

	err = s.Send(api.Packet{Addr: dst, Ordering: api.OrderingOrdered})
	assert.ErrorIs(t, err, api.ErrInvalidPacket)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	err = s.Send(api.UnreliablePacket(dst, nil))
	assert.True(t, errors.Is(err, api.ErrTransportClosed))
	assert.ErrorIs(t, s.ManualPoll(time.Now()), api.ErrTransportClosed)
}

func TestSocket_TooManyInFlight(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPacketsInFlight = 2
	s := bindLoopback(t, cfg)
	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()
	dst := peer.LocalAddr().(*net.UDPAddr).AddrPort()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Send(api.ReliableUnordered(dst, []byte{byte(i)})))
	}
	err = s.ManualPoll(time.Now())
	assert.ErrorIs(t, err, api.ErrTooManyInFlight)
	assert.Equal(t, int64(2), s.Stats()["in_flight"])
}

func TestSocket_AppliesBufferSizes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SocketReadBuffer = 256 * 1024
	cfg.SocketWriteBuffer = 256 * 1024
	s := bindLoopback(t, cfg)
	assert.True(t, s.LocalAddr().IsValid())
}

func TestSocket_ReliableBurstBeyondAckWindow(t *testing.T) {
	a := bindLoopback(t, DefaultConfig())
	b := bindLoopback(t, DefaultConfig())
	rec := newRecorder()

	const total = 40
	for i := 0; i < total; i++ {
		require.NoError(t, a.Send(api.ReliableUnordered(b.LocalAddr(), []byte{byte(i)})))
	}
	rec.poll(t, a)
	// only as many sequence numbers as one ack field covers are outstanding
	assert.Equal(t, int64(total), a.Stats()["in_flight"])
	assert.Equal(t, int64(total-ackWindowSize-1), a.Stats()["backlog"])

	rec.until(t, func() bool {
		return len(rec.packets(b)) == total && a.Stats()["in_flight"] == 0
	}, a, b)
	seen := make(map[byte]bool)
	for _, p := range rec.packets(b) {
		seen[p.Payload[0]] = true
	}
	assert.Len(t, seen, total)
	assert.Zero(t, a.Stats()["backlog"])
}

func TestSocket_RecoversFromLostFirstDatagram(t *testing.T) {
	a := bindLoopback(t, DefaultConfig())
	b := bindLoopback(t, DefaultConfig())
	r := newRelay(t, a.LocalAddr(), b.LocalAddr())
	dropped := false
	r.drop = func(from netip.AddrPort, _ []byte) bool {
		if from == a.LocalAddr() && !dropped {
			dropped = true
			return true
		}
		return false
	}
	rec := newRecorder()

	const total = 40
	for i := 0; i < total; i++ {
		require.NoError(t, a.Send(api.ReliableOrdered(r.addr(), []byte{byte(i)}, 0)))
	}
	rec.until(t, func() bool {
		r.forward()
		return len(rec.packets(b)) == total && a.Stats()["in_flight"] == 0
	}, a, b)

	require.True(t, dropped)
	for i, p := range rec.packets(b) {
		assert.Equal(t, []byte{byte(i)}, p.Payload)
	}
	assert.Positive(t, a.Stats()["resends"])
}

func TestSocket_FreshPeerDoesNotAcknowledge(t *testing.T) {
	a := bindLoopback(t, DefaultConfig())
	b := bindLoopback(t, DefaultConfig())
	r := newRelay(t, a.LocalAddr(), b.LocalAddr())
	blockA := true
	r.drop = func(from netip.AddrPort, _ []byte) bool {
		return blockA && from == a.LocalAddr()
	}
	rec := newRecorder()

	require.NoError(t, a.Send(api.ReliableUnordered(r.addr(), []byte("from a"))))
	rec.poll(t, a)
	r.forward()

	// b has heard nothing from a, so its packet carries no acknowledgement
	require.NoError(t, b.Send(api.ReliableUnordered(r.addr(), []byte("from b"))))
	rec.until(t, func() bool {
		r.forward()
		return len(rec.packets(a)) == 1
	}, a, b)
	assert.Equal(t, int64(1), a.Stats()["in_flight"])

	blockA = false
	rec.until(t, func() bool {
		r.forward()
		return len(rec.packets(b)) == 1 && a.Stats()["in_flight"] == 0
	}, a, b)
	assert.Equal(t, []byte("from a"), rec.packets(b)[0].Payload)
}

func TestSocket_DropsOversizedDatagram(t *testing.T) {
	cfg := DefaultConfig()
	s := bindLoopback(t, cfg)
	raw, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(s.LocalAddr()))
	require.NoError(t, err)
	defer raw.Close()

	datagram := (&header{kind: kindData}).appendTo(nil)
	datagram = append(datagram, bytes.Repeat([]byte{'x'}, 3000)...)
	require.Greater(t, len(datagram), cfg.ReceiveBufferMaxSize)
	_, err = raw.Write(datagram)
	require.NoError(t, err)

	rec := newRecorder()
	rec.until(t, func() bool { return s.Stats()["oversized"] == 1 }, s)
	assert.Empty(t, rec.events[s])
	assert.Zero(t, s.ConnectionCount())
}

func TestSocket_OrderedStreamSurvivesOneSidedTimeout(t *testing.T) {
	a := bindLoopback(t, DefaultConfig())
	cfg := DefaultConfig()
	cfg.IdleConnectionTimeout = 150 * time.Millisecond
	b := bindLoopback(t, cfg)
	rec := newRecorder()

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Send(api.ReliableOrdered(b.LocalAddr(), []byte{byte(i)}, 1)))
	}
	rec.until(t, func() bool {
		return len(rec.packets(b)) == 3 && a.Stats()["in_flight"] == 0
	}, a, b)

	// only b expires the connection; a keeps its stream indices
	rec.until(t, func() bool { return b.ConnectionCount() == 0 }, b)
	require.Equal(t, 1, a.ConnectionCount())

	require.NoError(t, a.Send(api.ReliableOrdered(b.LocalAddr(), []byte{3}, 1)))
	rec.until(t, func() bool {
		return len(rec.packets(b)) == 4 && a.Stats()["in_flight"] == 0
	}, a, b)

	assert.Equal(t, []api.SocketEventKind{
		api.SocketConnect, api.SocketPacket, api.SocketPacket, api.SocketPacket,
		api.SocketTimeout, api.SocketDisconnect,
		api.SocketConnect, api.SocketPacket,
	}, rec.kinds(b))
	assert.Equal(t, []byte{3}, rec.packets(b)[3].Payload)
}
