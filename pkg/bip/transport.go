package bip

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/krisarmstrong/bacstack/pkg/apdu"
	"github.com/krisarmstrong/bacstack/pkg/bacerr"
	"github.com/krisarmstrong/bacstack/pkg/logging"
	"github.com/krisarmstrong/bacstack/pkg/npdu"
)

// NPDUHandler receives a decoded NPDU payload from the transport,
// tagged with the MAC it arrived from.
type NPDUHandler func(payload []byte, src Mac)

// BBMDHook is the subset of BBMD behavior the transport calls into
// for every inbound BVLC and every outbound local broadcast. Defined
// here (rather than imported from pkg/bbmd) so bip has no dependency
// on bbmd; pkg/bbmd depends on bip instead.
type BBMDHook interface {
	// OnOutboundBroadcast is invoked after this transport sends a local
	// broadcast, so the BBMD can relay it to BDT peers and registered FDs.
	OnOutboundBroadcast(npduPayload []byte)
	// OnInbound offers an arriving BVLC to the BBMD first. A true
	// return means the BBMD fully handled the message and the
	// transport must not process it further.
	OnInbound(fn Function, payload []byte, src Mac) (consumed bool)
}

// ForeignDeviceHook reports whether this transport is registered as a
// foreign device with a remote BBMD, redirecting local broadcasts
// through Distribute-Broadcast-to-Network instead of a subnet broadcast.
type ForeignDeviceHook interface {
	Registered() bool
	BBMDAddress() Mac
}

type pendingKey struct{ dest Mac }

// Transport is a UDP-backed BACnet/IP port implementing Annex J.
type Transport struct {
	conn          *net.UDPConn
	localMac      Mac
	broadcastMac  Mac
	onReceive     NPDUHandler
	bbmd          BBMDHook
	fd            ForeignDeviceHook
	Injector      *bacerr.Injector
	Logger        *logging.Logger

	pendingMu sync.Mutex
	pending   map[pendingKey]chan []byte

	closed chan struct{}
}

// New binds a UDP socket at localMac and starts the receive loop.
// broadcastMac is the subnet's directed-broadcast address (same port).
func New(localMac, broadcastMac Mac, onReceive NPDUHandler) (*Transport, error) {
	ip := localMac.IP()
	addr := &net.UDPAddr{IP: net.IPv4(ip[0], ip[1], ip[2], ip[3]), Port: int(localMac.Port())}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("bip: listen %s: %w", addr, err)
	}
	t := &Transport{
		conn:         conn,
		localMac:     localMac,
		broadcastMac: broadcastMac,
		onReceive:    onReceive,
		pending:      make(map[pendingKey]chan []byte),
		closed:       make(chan struct{}),
	}
	go t.receiveLoop()
	return t, nil
}

// Close stops the receive loop and releases the socket.
func (t *Transport) Close() error {
	close(t.closed)
	return t.conn.Close()
}

// AttachBBMD wires a local BBMD instance into this transport.
func (t *Transport) AttachBBMD(b BBMDHook) { t.bbmd = b }

// AttachForeignDevice wires a foreign-device registration client in.
func (t *Transport) AttachForeignDevice(fd ForeignDeviceHook) { t.fd = fd }

// LocalMAC returns this transport's bound MAC.
func (t *Transport) LocalMAC() Mac { return t.localMac }

// SendRawFrame writes an already-encoded BVLL frame to dst verbatim,
// for a BBMD Manager's SendFunc (it builds its own management frames
// with Encode and must not have them re-wrapped as Original-Unicast-NPDU).
func (t *Transport) SendRawFrame(frame []byte, dst Mac) error {
	return t.sendRaw(frame, dst)
}

// MaxNPDULength satisfies router.Transport.
func (t *Transport) MaxNPDULength() uint32 { return 1476 }

// SendFrame satisfies router.Transport: a nil mac means broadcast.
func (t *Transport) SendFrame(mac []byte, payload []byte) error {
	if len(mac) == 0 {
		return t.SendBroadcast(payload)
	}
	var m Mac
	copy(m[:], mac)
	return t.SendUnicast(payload, m)
}

// SendUnicast sends an NPDU as Original-Unicast-NPDU to dst.
func (t *Transport) SendUnicast(npduPayload []byte, dst Mac) error {
	return t.sendRaw(Encode(FuncOriginalUnicastNPDU, npduPayload), dst)
}

// SendBroadcast sends an NPDU as a local broadcast, or — if a foreign
// device registration is active — as Distribute-Broadcast-to-Network
// to our BBMD.
func (t *Transport) SendBroadcast(npduPayload []byte) error {
	var err error
	if t.fd != nil && t.fd.Registered() {
		err = t.sendRaw(Encode(FuncDistributeBroadcast, npduPayload), t.fd.BBMDAddress())
	} else {
		err = t.sendRaw(Encode(FuncOriginalBroadcastNPDU, npduPayload), t.broadcastMac)
	}
	if t.bbmd != nil {
		t.bbmd.OnOutboundBroadcast(npduPayload)
	}
	return err
}

// SendManagementRequest sends a BVLC management frame and blocks for
// its BVLC-Result response (or timeout). Only one request per
// destination may be outstanding at a time.
func (t *Transport) SendManagementRequest(fn Function, dest Mac, payload []byte, timeout time.Duration) ([]byte, error) {
	key := pendingKey{dest: dest}
	ch := make(chan []byte, 1)

	t.pendingMu.Lock()
	t.pending[key] = ch
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, key)
		t.pendingMu.Unlock()
	}()

	if err := t.sendRaw(Encode(fn, payload), dest); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-time.After(timeout):
		return nil, fmt.Errorf("bip: management request to %s timed out", dest)
	}
}

func (t *Transport) sendRaw(frame []byte, dst Mac) error {
	frame, err := t.Injector.Apply("bip.send", frame)
	if err != nil {
		return err
	}
	ip := dst.IP()
	addr := &net.UDPAddr{IP: net.IPv4(ip[0], ip[1], ip[2], ip[3]), Port: int(dst.Port())}
	_, err = t.conn.WriteToUDP(frame, addr)
	return err
}

func (t *Transport) receiveLoop() {
	buf := make([]byte, 1500)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closed:
				return
			default:
				if t.Logger != nil {
					t.Logger.Warning("bip: read error: %v", err)
				}
				continue
			}
		}
		src := macFromUDPAddr(addr)
		if src == t.localMac {
			continue // loopback/echo prevention
		}

		raw, err := t.Injector.Apply("bip.recv", append([]byte{}, buf[:n]...))
		if err != nil {
			continue
		}
		frame, err := Decode(raw)
		if err != nil {
			if t.Logger != nil {
				t.Logger.Warning("bip: malformed BVLL frame from %s: %v", src, err)
			}
			continue
		}
		t.handleFrame(frame, src)
	}
}

func (t *Transport) handleFrame(frame Frame, src Mac) {
	if frame.Function == FuncForwardedNPDU {
		originator, _, err := DecodeForwardedNPDU(frame.Payload)
		if err == nil && originator == t.localMac {
			return // our own forwarded broadcast echoed back
		}
	}

	if t.bbmd != nil && t.bbmd.OnInbound(frame.Function, frame.Payload, src) {
		return
	}

	switch frame.Function {
	case FuncOriginalUnicastNPDU:
		t.deliver(frame.Payload, src)

	case FuncOriginalBroadcastNPDU:
		if IsConfirmedRequest(frame.Payload) {
			return
		}
		t.deliver(frame.Payload, src)

	case FuncForwardedNPDU:
		originator, inner, err := DecodeForwardedNPDU(frame.Payload)
		if err != nil || IsConfirmedRequest(inner) {
			return
		}
		t.deliver(inner, originator)

	case FuncResult:
		t.handleResult(frame.Payload, src)

	case FuncRegisterForeignDevice, FuncReadBDT, FuncWriteBDT, FuncReadFDT, FuncDeleteFDTEntry, FuncDistributeBroadcast:
		// No BBMD attached to service these management functions.
		t.nak(frame.Function, src)

	default:
	}
}

func (t *Transport) handleResult(payload []byte, src Mac) {
	if t.fd != nil && t.fd.Registered() && src != t.fd.BBMDAddress() {
		return // anti-spoof: only our registered BBMD may answer
	}
	t.pendingMu.Lock()
	ch, ok := t.pending[pendingKey{dest: src}]
	t.pendingMu.Unlock()
	if ok {
		select {
		case ch <- payload:
		default:
		}
	}
}

func (t *Transport) nak(fn Function, dest Mac) {
	code, ok := nakForFunction[fn]
	if !ok {
		code = ResultSuccess
	}
	_ = t.sendRaw(Encode(FuncResult, EncodeResult(code)), dest)
}

func (t *Transport) deliver(payload []byte, src Mac) {
	if t.onReceive != nil {
		t.onReceive(payload, src)
	}
}

// IsConfirmedRequest reports whether npduPayload's inner APDU is a
// Confirmed-Request; such PDUs are forbidden on broadcast channels
// (Annex J.2.2) and must be dropped by any receiver delivering to the
// local application along a broadcast-class path.
func IsConfirmedRequest(npduPayload []byte) bool {
	n, err := npdu.Decode(npduPayload)
	if err != nil || n.IsNetworkMessage || len(n.Payload) == 0 {
		return false
	}
	return apdu.PDUType(n.Payload[0]>>4) == apdu.TypeConfirmedRequest
}

func macFromUDPAddr(addr *net.UDPAddr) Mac {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return Mac{}
	}
	var ip [4]byte
	copy(ip[:], ip4)
	return NewMac(ip, uint16(addr.Port))
}
