package router

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/krisarmstrong/bacstack/pkg/npdu"
)

const dispatchSettle = 20 * time.Millisecond

// memTransport is a loopback Transport recording every frame it was
// asked to send, for assertions from the test goroutine.
type memTransport struct {
	mu     sync.Mutex
	frames [][]byte
	macs   [][]byte
}

func (m *memTransport) SendFrame(mac []byte, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = append(m.frames, append([]byte{}, payload...))
	m.macs = append(m.macs, append([]byte{}, mac...))
	return nil
}

func (m *memTransport) MaxNPDULength() uint32 { return 1476 }

func (m *memTransport) last() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) == 0 {
		return nil
	}
	return m.frames[len(m.frames)-1]
}

func (m *memTransport) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.frames)
}

func newTestRouter(t *testing.T) (*NetworkRouter, *memTransport, *memTransport, chan npdu.NPDU) {
	t.Helper()
	table := NewRoutingTable()
	t1 := &memTransport{}
	t2 := &memTransport{}
	table.AddPort(&RouterPort{ID: 1, Network: 10, LocalMAC: []byte{0x01}, Transport: t1})
	table.AddPort(&RouterPort{ID: 2, Network: 20, LocalMAC: []byte{0x02}, Transport: t2})

	delivered := make(chan npdu.NPDU, 16)
	r := NewNetworkRouter(table, func(n npdu.NPDU, _ int) { delivered <- n }, nil)
	t.Cleanup(r.Close)
	return r, t1, t2, delivered
}

func waitDelivered(t *testing.T, ch chan npdu.NPDU) npdu.NPDU {
	t.Helper()
	select {
	case n := <-ch:
		return n
	case <-time.After(time.Second):
		t.Fatal("nothing delivered")
		return npdu.NPDU{}
	}
}

func TestDeliverLocalNoDestination(t *testing.T) {
	r, _, _, delivered := newTestRouter(t)
	n := npdu.NPDU{Payload: []byte{0xAA}}
	r.OnPortReceive(1, []byte{0xAB}, mustEncode(t, n))
	got := waitDelivered(t, delivered)
	if !bytes.Equal(got.Payload, []byte{0xAA}) {
		t.Fatalf("payload = % x", got.Payload)
	}
}

func TestGlobalBroadcastDeliversAndFloods(t *testing.T) {
	r, t1, t2, delivered := newTestRouter(t)
	n := npdu.NPDU{
		Destination: &npdu.Address{Net: 0xFFFF},
		HopCount:    255,
		Payload:     []byte{0xBB},
	}
	r.OnPortReceive(1, []byte{0xAB}, mustEncode(t, n))
	waitDelivered(t, delivered)

	// Arrival was port 1; only port 2 (the non-arrival port) should flood.
	if t1.count() != 0 {
		t.Fatalf("arrival port got a re-flood: %d frames", t1.count())
	}
	if t2.count() != 1 {
		t.Fatalf("port 2 flood count = %d, want 1", t2.count())
	}
}

func TestDirectlyConnectedForwarding(t *testing.T) {
	r, _, t2, delivered := newTestRouter(t)
	n := npdu.NPDU{
		Destination: &npdu.Address{Net: 20, Mac: []byte{0x42}},
		HopCount:    255,
		Payload:     []byte{0xCC},
	}
	r.OnPortReceive(1, []byte{0xAB}, mustEncode(t, n))

	time.Sleep(dispatchSettle)
	if t2.count() != 1 {
		t.Fatalf("expected 1 frame out port 2, got %d", t2.count())
	}
	out, err := npdu.Decode(t2.last())
	if err != nil {
		t.Fatalf("decode forwarded frame: %v", err)
	}
	if out.Destination != nil {
		t.Fatalf("destination should be stripped on directly-connected emit: %+v", out.Destination)
	}
	if out.Source == nil || out.Source.Net != 10 {
		t.Fatalf("expected injected source network 10, got %+v", out.Source)
	}
	select {
	case <-delivered:
		t.Fatal("directly-connected traffic should not be delivered locally")
	default:
	}
}

func TestUnknownNetworkDiscarded(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	n := npdu.NPDU{
		Destination: &npdu.Address{Net: 99, Mac: []byte{0x01}},
		HopCount:    255,
		Payload:     []byte{0x01},
	}
	r.OnPortReceive(1, []byte{0xAB}, mustEncode(t, n))
	time.Sleep(dispatchSettle)
	if r.Discarded() == 0 {
		t.Fatalf("expected discard counter to have incremented")
	}
}

func TestNextHopRoutingDecrementsHopCount(t *testing.T) {
	r, _, t2, _ := newTestRouter(t)
	r.Table.UpdateRoute(30, 2, []byte{0x55})

	n := npdu.NPDU{
		Destination: &npdu.Address{Net: 30, Mac: []byte{0x77}},
		HopCount:    5,
		Payload:     []byte{0x9},
	}
	r.OnPortReceive(1, []byte{0xAB}, mustEncode(t, n))

	time.Sleep(dispatchSettle)
	if t2.count() != 1 {
		t.Fatalf("expected forward via next hop, got %d frames", t2.count())
	}
	out, err := npdu.Decode(t2.last())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.HopCount != 4 {
		t.Fatalf("hop count = %d, want 4", out.HopCount)
	}
	if out.Destination == nil || out.Destination.Net != 30 {
		t.Fatalf("destination not preserved: %+v", out.Destination)
	}
}

func TestHopExhaustionDiscards(t *testing.T) {
	r, _, t2, _ := newTestRouter(t)
	r.Table.UpdateRoute(30, 2, []byte{0x55})

	n := npdu.NPDU{
		Destination: &npdu.Address{Net: 30, Mac: []byte{0x77}},
		HopCount:    0,
		Payload:     []byte{0x9},
	}
	r.OnPortReceive(1, []byte{0xAB}, mustEncode(t, n))
	time.Sleep(dispatchSettle)
	if t2.count() != 0 {
		t.Fatalf("expected no forward on hop exhaustion, got %d", t2.count())
	}
}

func TestSendGlobalBroadcastFloodsEveryPort(t *testing.T) {
	r, t1, t2, _ := newTestRouter(t)
	if err := r.Send([]byte{0x1}, 0xFFFF, nil, false, npdu.PriorityNormal); err != nil {
		t.Fatalf("send: %v", err)
	}
	if t1.count() != 1 || t2.count() != 1 {
		t.Fatalf("expected 1 frame on each port, got %d/%d", t1.count(), t2.count())
	}
}

func TestSendToUnknownNetworkErrors(t *testing.T) {
	r, _, _, _ := newTestRouter(t)
	if err := r.Send([]byte{0x1}, 77, []byte{0x1}, false, npdu.PriorityNormal); err == nil {
		t.Fatal("expected error sending to unknown network")
	}
}

func mustEncode(t *testing.T, n npdu.NPDU) []byte {
	t.Helper()
	buf, err := n.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf
}
