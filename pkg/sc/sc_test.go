package sc

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

var errClosed = errors.New("sc: fake socket closed")

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	dest := VMAC{1, 2, 3, 4, 5, 6}
	src := VMAC{6, 5, 4, 3, 2, 1}
	msg := Message{
		Function:    FuncEncapsulatedNPDU,
		MessageID:   42,
		DestVMAC:    &dest,
		SrcVMAC:     &src,
		DataOptions: []byte{0xAA},
		Payload:     []byte{0x01, 0x02, 0x03},
	}
	raw := msg.Encode()
	got, err := Decode(raw, false)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Function != msg.Function || got.MessageID != msg.MessageID {
		t.Fatalf("got %+v", got)
	}
	if *got.DestVMAC != dest || *got.SrcVMAC != src {
		t.Fatalf("vmac mismatch: %+v", got)
	}
	if !bytes.Equal(got.DataOptions, msg.DataOptions) || !bytes.Equal(got.Payload, msg.Payload) {
		t.Fatalf("payload/options mismatch: %+v", got)
	}
}

func TestDecodeSkipPayloadOmitsBody(t *testing.T) {
	msg := Message{Function: FuncEncapsulatedNPDU, MessageID: 1, Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF}}
	got, err := Decode(msg.Encode(), true)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Payload != nil {
		t.Fatalf("expected nil payload with skipPayload, got % x", got.Payload)
	}
}

func TestConnectPayloadRoundTrip(t *testing.T) {
	id := uuid.New()
	p := ConnectRequestPayload{VMAC: VMAC{1, 1, 1, 1, 1, 1}, UUID: id, MaxBVLC: 1600, MaxNPDU: 1497}
	got, err := DecodeConnectRequestPayload(p.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.VMAC != p.VMAC || got.UUID != p.UUID || got.MaxBVLC != p.MaxBVLC || got.MaxNPDU != p.MaxNPDU {
		t.Fatalf("got %+v", got)
	}
}

func TestBVLCResultPayloadNAKRoundTrip(t *testing.T) {
	p := BVLCResultPayload{
		ForFunction:  FuncConnectRequest,
		ResultCode:   ResultNAK,
		ErrorClass:   7,
		ErrorCode:    0x0071,
		ErrorDetails: "duplicate vmac",
	}
	got, err := DecodeBVLCResultPayload(p.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ErrorCode != p.ErrorCode || got.ErrorDetails != p.ErrorDetails {
		t.Fatalf("got %+v", got)
	}
}

// fakeSocket is an in-memory duplex pairing two Connections for tests,
// avoiding any real network I/O.
type fakeSocket struct {
	name string
	out  chan []byte
	in   chan []byte
	mu   sync.Mutex
	closed bool
}

func newFakeSocketPair() (Socket, Socket) {
	ab := make(chan []byte, 16)
	ba := make(chan []byte, 16)
	a := &fakeSocket{name: "a", out: ab, in: ba}
	b := &fakeSocket{name: "b", out: ba, in: ab}
	return a, b
}

func (f *fakeSocket) Send(data []byte) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return errClosed
	}
	f.out <- append([]byte{}, data...)
	return nil
}

func (f *fakeSocket) Recv() ([]byte, error) {
	data, ok := <-f.in
	if !ok {
		return nil, errClosed
	}
	return data, nil
}

func (f *fakeSocket) WriteNoDrain(data []byte) bool {
	return f.Send(data) == nil
}

func (f *fakeSocket) Drain() error { return nil }

func (f *fakeSocket) SetMaxFrameSize(int) {}

func (f *fakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.out)
	}
	return nil
}

func TestHandshakeInitiateAndAccept(t *testing.T) {
	clientWS, serverWS := newFakeSocketPair()

	clientUUID, serverUUID := uuid.New(), uuid.New()
	client := NewConnection(VMAC{1}, clientUUID, DefaultConfig(), 1600, 1497, false)
	server := NewConnection(VMAC{2}, serverUUID, DefaultConfig(), 1600, 1497, false)

	var wg sync.WaitGroup
	var clientErr, serverErr error
	wg.Add(2)
	go func() { defer wg.Done(); serverErr = server.Accept(serverWS, nil) }()
	go func() { defer wg.Done(); clientErr = client.Initiate(clientWS) }()
	wg.Wait()

	if clientErr != nil || serverErr != nil {
		t.Fatalf("client err=%v server err=%v", clientErr, serverErr)
	}
	if client.State() != StateConnected || server.State() != StateConnected {
		t.Fatalf("client state=%s server state=%s", client.State(), server.State())
	}
	if client.PeerVMAC != (VMAC{2}) || server.PeerVMAC != (VMAC{1}) {
		t.Fatalf("peer vmac mismatch: client=%v server=%v", client.PeerVMAC, server.PeerVMAC)
	}

	client.Disconnect()
	server.Disconnect()
}

func TestHandshakeNegotiatesSmallerMaxSizes(t *testing.T) {
	clientWS, serverWS := newFakeSocketPair()

	client := NewConnection(VMAC{1}, uuid.New(), DefaultConfig(), 1600, 1497, false)
	server := NewConnection(VMAC{2}, uuid.New(), DefaultConfig(), 1500, 1400, false)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = server.Accept(serverWS, nil) }()
	go func() { defer wg.Done(); _ = client.Initiate(clientWS) }()
	wg.Wait()

	if got := client.NegotiatedMaxBVLC(); got != 1500 {
		t.Fatalf("client negotiated MaxBVLC = %d, want 1500", got)
	}
	if got := server.NegotiatedMaxBVLC(); got != 1500 {
		t.Fatalf("server negotiated MaxBVLC = %d, want 1500", got)
	}
	if got := client.NegotiatedMaxNPDU(); got != 1400 {
		t.Fatalf("client negotiated MaxNPDU = %d, want 1400", got)
	}
	if got := server.NegotiatedMaxNPDU(); got != 1400 {
		t.Fatalf("server negotiated MaxNPDU = %d, want 1400", got)
	}

	client.Disconnect()
	server.Disconnect()
}

func TestHandshakeRejectsCollidingVMAC(t *testing.T) {
	clientWS, serverWS := newFakeSocketPair()
	client := NewConnection(VMAC{1}, uuid.New(), DefaultConfig(), 1600, 1497, false)
	server := NewConnection(VMAC{2}, uuid.New(), DefaultConfig(), 1600, 1497, false)

	collisionCalled := false
	client.OnVMACCollision = func() { collisionCalled = true }

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_ = server.Accept(serverWS, func(VMAC, uuid.UUID) bool { return false })
	}()
	go func() {
		defer wg.Done()
		_ = client.Initiate(clientWS)
	}()
	wg.Wait()

	if client.State() != StateIdle || server.State() != StateIdle {
		t.Fatalf("expected both idle after collision, got client=%s server=%s", client.State(), server.State())
	}
	if !collisionCalled {
		t.Fatal("expected OnVMACCollision to fire")
	}
}

func TestConnectedMessageDelivery(t *testing.T) {
	clientWS, serverWS := newFakeSocketPair()
	client := NewConnection(VMAC{1}, uuid.New(), DefaultConfig(), 1600, 1497, false)
	server := NewConnection(VMAC{2}, uuid.New(), DefaultConfig(), 1600, 1497, false)

	received := make(chan Message, 1)
	server.OnMessage = func(msg Message, raw []byte) { received <- msg }

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = server.Accept(serverWS, nil) }()
	go func() { defer wg.Done(); _ = client.Initiate(clientWS) }()
	wg.Wait()

	if err := client.SendMessage(Message{Function: FuncEncapsulatedNPDU, MessageID: 7, Payload: []byte{0x10, 0x01}}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Function != FuncEncapsulatedNPDU || !bytes.Equal(msg.Payload, []byte{0x10, 0x01}) {
			t.Fatalf("got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message never delivered")
	}

	client.Disconnect()
	server.Disconnect()
}

func TestGracefulDisconnect(t *testing.T) {
	clientWS, serverWS := newFakeSocketPair()
	client := NewConnection(VMAC{1}, uuid.New(), DefaultConfig(), 1600, 1497, false)
	server := NewConnection(VMAC{2}, uuid.New(), DefaultConfig(), 1600, 1497, false)

	serverDisconnected := make(chan struct{})
	server.OnDisconnected = func() { close(serverDisconnected) }

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = server.Accept(serverWS, nil) }()
	go func() { defer wg.Done(); _ = client.Initiate(clientWS) }()
	wg.Wait()

	client.Disconnect()

	select {
	case <-serverDisconnected:
	case <-time.After(time.Second):
		t.Fatal("server never observed disconnect")
	}
	if client.State() != StateIdle || server.State() != StateIdle {
		t.Fatalf("expected both idle, got client=%s server=%s", client.State(), server.State())
	}
}
