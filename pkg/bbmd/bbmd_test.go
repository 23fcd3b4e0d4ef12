package bbmd

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/krisarmstrong/bacstack/pkg/apdu"
	"github.com/krisarmstrong/bacstack/pkg/bip"
	"github.com/krisarmstrong/bacstack/pkg/npdu"
)

// confirmedRequestNPDU builds a minimal NPDU payload whose inner APDU is
// a Confirmed-Request, for exercising the broadcast-path suppression
// rule (Annex J.2.2: Confirmed-Request PDUs never reach the local
// application via a broadcast-class delivery path).
func confirmedRequestNPDU(t *testing.T) []byte {
	t.Helper()
	apduBytes, err := apdu.ConfirmedRequest{InvokeID: 1, ServiceChoice: 0x0c}.Encode()
	if err != nil {
		t.Fatalf("encode confirmed request: %v", err)
	}
	buf, err := npdu.NPDU{Payload: apduBytes}.Encode()
	if err != nil {
		t.Fatalf("encode npdu: %v", err)
	}
	return buf
}

type sentFrame struct {
	frame []byte
	dest  bip.Mac
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentFrame
}

func (f *fakeSender) send(frame []byte, dest bip.Mac) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentFrame{frame: append([]byte{}, frame...), dest: dest})
	return nil
}

func (f *fakeSender) forwardedTo() map[bip.Mac]bip.Mac {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[bip.Mac]bip.Mac)
	for _, s := range f.sent {
		frame, err := bip.Decode(s.frame)
		if err != nil || frame.Function != bip.FuncForwardedNPDU {
			continue
		}
		originator, _, err := bip.DecodeForwardedNPDU(frame.Payload)
		if err != nil {
			continue
		}
		out[s.dest] = originator
	}
	return out
}

func mac(b byte) bip.Mac {
	return bip.NewMac([4]byte{10, 0, 0, b}, 47808)
}

// Fixture 6: BDT={self, peer_P}, FDT={fd_F}. An Original-Broadcast-NPDU
// arrives from S=peer (not in BDT). Exactly two Forwarded-NPDUs are
// sent — one to peer_P, one to fd_F — and neither is destined to self.
func TestBBMDRelayFanOut(t *testing.T) {
	self := mac(1)
	peerP := mac(2)
	fdF := mac(3)
	source := mac(4)

	fs := &fakeSender{}
	var delivered [][]byte
	m := NewManager(self, fs.send, func(payload []byte, originator bip.Mac) {
		delivered = append(delivered, payload)
	})
	m.SetBDT([]BDTEntry{{Address: self}, {Address: peerP}})
	m.fdt[fdF] = &FDTEntry{Address: fdF, TTL: 300, Expiry: time.Now().Add(time.Hour)}

	npduPayload := []byte{0xCA, 0xFE}
	consumed := m.OnInbound(bip.FuncOriginalBroadcastNPDU, npduPayload, source)
	if consumed {
		t.Fatal("Original-Broadcast-NPDU must not be consumed so the transport still delivers locally")
	}

	fs.mu.Lock()
	n := len(fs.sent)
	fs.mu.Unlock()
	if n != 2 {
		t.Fatalf("expected exactly 2 Forwarded-NPDUs sent, got %d", n)
	}
	dests := fs.forwardedTo()
	if _, ok := dests[peerP]; !ok {
		t.Fatal("expected a Forwarded-NPDU to peer_P")
	}
	if _, ok := dests[fdF]; !ok {
		t.Fatal("expected a Forwarded-NPDU to fd_F")
	}
	if _, ok := dests[self]; ok {
		t.Fatal("must not forward to self")
	}
}

func TestBBMDRegisterForeignDevice(t *testing.T) {
	self := mac(1)
	fs := &fakeSender{}
	m := NewManager(self, fs.send, nil)

	fd := mac(9)
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, 600)

	m.OnInbound(bip.FuncRegisterForeignDevice, payload, fd)

	entries := m.FDT()
	if len(entries) != 1 || entries[0].Address != fd || entries[0].TTL != 600 {
		t.Fatalf("got FDT %+v", entries)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.sent) != 1 {
		t.Fatalf("expected 1 BVLC-Result sent, got %d", len(fs.sent))
	}
	frame, err := bip.Decode(fs.sent[0].frame)
	if err != nil || frame.Function != bip.FuncResult {
		t.Fatalf("got %+v, err=%v", frame, err)
	}
	if code := binary.BigEndian.Uint16(frame.Payload); code != bip.ResultSuccess {
		t.Fatalf("result code = 0x%04x, want Success", code)
	}
}

func TestBBMDRegisterRejectsZeroTTL(t *testing.T) {
	m := NewManager(mac(1), (&fakeSender{}).send, nil)
	payload := make([]byte, 2) // ttl = 0
	m.OnInbound(bip.FuncRegisterForeignDevice, payload, mac(9))
	if len(m.FDT()) != 0 {
		t.Fatal("zero-TTL registration must be rejected")
	}
}

func TestBBMDRegisterNAKsWhenNotAccepting(t *testing.T) {
	fs := &fakeSender{}
	m := NewManager(mac(1), fs.send, nil)
	m.SetAcceptRegistrations(false)

	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, 300)
	m.OnInbound(bip.FuncRegisterForeignDevice, payload, mac(9))

	if len(m.FDT()) != 0 {
		t.Fatal("registration must be rejected when accept_registrations is false")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	frame, _ := bip.Decode(fs.sent[0].frame)
	code := binary.BigEndian.Uint16(frame.Payload)
	if code != bip.ResultRegisterForeignDeviceNAK {
		t.Fatalf("code = 0x%04x, want RegisterFD NAK", code)
	}
}

func TestBBMDForwardedNPDUEchoDropped(t *testing.T) {
	self := mac(1)
	fs := &fakeSender{}
	var delivered bool
	m := NewManager(self, fs.send, func([]byte, bip.Mac) { delivered = true })

	payload := bip.EncodeForwardedNPDU(self, []byte{0x01})
	m.OnInbound(bip.FuncForwardedNPDU, payload, mac(5))

	if delivered {
		t.Fatal("a Forwarded-NPDU whose originator is ourselves must be dropped as an echo")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.sent) != 0 {
		t.Fatal("echoed Forwarded-NPDU must not be replayed")
	}
}

func TestBBMDForwardedNPDUReplaysToOtherFDsExceptOriginator(t *testing.T) {
	self := mac(1)
	originator := mac(7)
	fdA := mac(8)

	fs := &fakeSender{}
	var deliveredPayload []byte
	m := NewManager(self, fs.send, func(payload []byte, _ bip.Mac) { deliveredPayload = payload })
	m.fdt[fdA] = &FDTEntry{Address: fdA, Expiry: time.Now().Add(time.Hour)}
	m.fdt[originator] = &FDTEntry{Address: originator, Expiry: time.Now().Add(time.Hour)}

	inner := []byte{0xDE, 0xAD}
	payload := bip.EncodeForwardedNPDU(originator, inner)
	consumed := m.OnInbound(bip.FuncForwardedNPDU, payload, originator)
	if !consumed {
		t.Fatal("Forwarded-NPDU must be consumed")
	}
	if !bytes.Equal(deliveredPayload, inner) {
		t.Fatalf("delivered = % x, want % x", deliveredPayload, inner)
	}

	dests := fs.forwardedTo()
	if _, ok := dests[fdA]; !ok {
		t.Fatal("expected replay to fdA")
	}
	if _, ok := dests[originator]; ok {
		t.Fatal("must not replay back to the originator")
	}
}

func TestBBMDForwardedNPDUDropsConfirmedRequestFromLocalDelivery(t *testing.T) {
	self := mac(1)
	originator := mac(7)

	fs := &fakeSender{}
	var delivered bool
	m := NewManager(self, fs.send, func([]byte, bip.Mac) { delivered = true })

	inner := confirmedRequestNPDU(t)
	payload := bip.EncodeForwardedNPDU(originator, inner)
	m.OnInbound(bip.FuncForwardedNPDU, payload, originator)

	if delivered {
		t.Fatal("a Confirmed-Request arriving as Forwarded-NPDU must not reach the local application")
	}
}

func TestBBMDDistributeBroadcastDropsConfirmedRequestFromLocalDelivery(t *testing.T) {
	fs := &fakeSender{}
	var delivered bool
	m := NewManager(mac(1), fs.send, func([]byte, bip.Mac) { delivered = true })
	src := mac(9)
	m.fdt[src] = &FDTEntry{Address: src, Expiry: time.Now().Add(time.Hour)}

	m.OnInbound(bip.FuncDistributeBroadcast, confirmedRequestNPDU(t), src)

	if delivered {
		t.Fatal("a Confirmed-Request arriving as Distribute-Broadcast-to-Network must not reach the local application")
	}
}

func TestBBMDDistributeBroadcastRejectsUnregisteredSource(t *testing.T) {
	fs := &fakeSender{}
	m := NewManager(mac(1), fs.send, nil)

	m.OnInbound(bip.FuncDistributeBroadcast, []byte{0x01}, mac(9))

	fs.mu.Lock()
	defer fs.mu.Unlock()
	if len(fs.sent) != 1 {
		t.Fatalf("expected 1 NAK sent, got %d", len(fs.sent))
	}
	frame, _ := bip.Decode(fs.sent[0].frame)
	code := binary.BigEndian.Uint16(frame.Payload)
	if code != bip.ResultDistributeBroadcastToNetworkNAK {
		t.Fatalf("code = 0x%04x, want DistributeBroadcast NAK", code)
	}
}

func TestBBMDSweepReclaimsExpiredEntries(t *testing.T) {
	m := NewManager(mac(1), (&fakeSender{}).send, nil)
	m.fdt[mac(2)] = &FDTEntry{Address: mac(2), Expiry: time.Now().Add(-time.Second)}
	m.fdt[mac(3)] = &FDTEntry{Address: mac(3), Expiry: time.Now().Add(time.Hour)}

	m.sweepExpired()

	entries := m.FDT()
	if len(entries) != 1 || entries[0].Address != mac(3) {
		t.Fatalf("got %+v, want only mac(3) to survive", entries)
	}
}

func TestBBMDDeleteFDTEntry(t *testing.T) {
	fs := &fakeSender{}
	m := NewManager(mac(1), fs.send, nil)
	m.fdt[mac(5)] = &FDTEntry{Address: mac(5), Expiry: time.Now().Add(time.Hour)}

	m.OnInbound(bip.FuncDeleteFDTEntry, mac(5)[:], mac(5))
	if len(m.FDT()) != 0 {
		t.Fatal("expected entry removed")
	}

	// Deleting again (absent) should NAK.
	m.OnInbound(bip.FuncDeleteFDTEntry, mac(5)[:], mac(5))
	fs.mu.Lock()
	defer fs.mu.Unlock()
	last := fs.sent[len(fs.sent)-1]
	frame, _ := bip.Decode(last.frame)
	code := binary.BigEndian.Uint16(frame.Payload)
	if code != bip.ResultDeleteFDTEntryNAK {
		t.Fatalf("code = 0x%04x, want DeleteFDTEntry NAK", code)
	}
}
