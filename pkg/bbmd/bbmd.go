// Package bbmd implements the Broadcast Distribution Management Device
// (Annex J.4): the Broadcast Distribution Table, Foreign Device Table,
// and the forwarded-NPDU relay rules that let BACnet/IP broadcasts
// cross subnet boundaries.
package bbmd

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/krisarmstrong/bacstack/pkg/bip"
	"github.com/krisarmstrong/bacstack/pkg/logging"
)

// BDTEntrySize is the wire size of one Broadcast Distribution Table
// entry: a 6-byte MAC plus a 10-byte broadcast mask. The mask is
// accepted on the wire but otherwise ignored by this implementation.
const BDTEntrySize = 16

// FDTEntrySize is the wire size of one Foreign Device Table entry in
// a Read-FDT-Ack response: 6-byte MAC, 2-byte TTL, 2-byte seconds remaining.
const FDTEntrySize = 10

// DefaultGracePeriod extends every FDT entry's lifetime past its
// stated TTL before the sweep reclaims it, per spec's unspecified-but-
// configurable grace window.
const DefaultGracePeriod = 30 * time.Second

// DefaultMaxFDTEntries bounds the Foreign Device Table.
const DefaultMaxFDTEntries = 64

// SendFunc transmits a raw BVLL frame to dest.
type SendFunc func(frame []byte, dest bip.Mac) error

// DeliverFunc hands a relayed broadcast's inner NPDU to the local
// application, tagged with the address it originated from.
type DeliverFunc func(npduPayload []byte, originator bip.Mac)

// BDTEntry is one configured peer BBMD.
type BDTEntry struct {
	Address bip.Mac
}

// FDTEntry is one registered foreign device.
type FDTEntry struct {
	Address bip.Mac
	TTL     uint16
	Expiry  time.Time
}

// Manager owns BDT/FDT state for one local BBMD and implements
// bip.BBMDHook so a Transport can delegate inbound BVLC management
// traffic and outbound local broadcasts to it.
type Manager struct {
	mu                sync.Mutex
	self              bip.Mac
	bdt               []BDTEntry
	fdt               map[bip.Mac]*FDTEntry
	acceptRegistrations bool
	maxFDTEntries     int
	grace             time.Duration

	send    SendFunc
	deliver DeliverFunc
	Logger  *logging.Logger

	sweepStop chan struct{}
}

// NewManager builds a BBMD bound to self, using send to transmit BVLL
// frames and deliver to hand relayed broadcasts to the local application.
func NewManager(self bip.Mac, send SendFunc, deliver DeliverFunc) *Manager {
	return &Manager{
		self:                self,
		fdt:                 make(map[bip.Mac]*FDTEntry),
		acceptRegistrations: true,
		maxFDTEntries:       DefaultMaxFDTEntries,
		grace:               DefaultGracePeriod,
		send:                send,
		deliver:             deliver,
	}
}

// SetAcceptRegistrations toggles whether Register-Foreign-Device succeeds.
func (m *Manager) SetAcceptRegistrations(accept bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acceptRegistrations = accept
}

// SetBDT replaces the Broadcast Distribution Table wholesale.
func (m *Manager) SetBDT(entries []BDTEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bdt = append([]BDTEntry{}, entries...)
}

// BDT returns a snapshot of the current Broadcast Distribution Table.
func (m *Manager) BDT() []BDTEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]BDTEntry{}, m.bdt...)
}

// FDT returns a snapshot of the current Foreign Device Table.
func (m *Manager) FDT() []FDTEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FDTEntry, 0, len(m.fdt))
	for _, e := range m.fdt {
		out = append(out, *e)
	}
	return out
}

// StartSweep begins a periodic reclaim of expired FDT entries.
func (m *Manager) StartSweep(interval time.Duration) {
	m.mu.Lock()
	if m.sweepStop != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.sweepStop = stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweepExpired()
			case <-stop:
				return
			}
		}
	}()
}

// StopSweep halts the periodic FDT reclaim, if running.
func (m *Manager) StopSweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sweepStop != nil {
		close(m.sweepStop)
		m.sweepStop = nil
	}
}

func (m *Manager) sweepExpired() {
	now := time.Now()
	m.mu.Lock()
	for addr, e := range m.fdt {
		if now.After(e.Expiry) {
			delete(m.fdt, addr)
		}
	}
	m.mu.Unlock()
}

// OnOutboundBroadcast relays a locally-originated broadcast to every
// BDT peer and registered foreign device, per spec's fan-out property.
func (m *Manager) OnOutboundBroadcast(npduPayload []byte) {
	m.relay(npduPayload, m.self)
}

// OnInbound handles a BVLC arriving on the attached transport. A true
// return means the frame was fully handled and must not be processed
// further by the transport.
func (m *Manager) OnInbound(fn bip.Function, payload []byte, src bip.Mac) bool {
	switch fn {
	case bip.FuncOriginalBroadcastNPDU:
		m.relay(payload, src)
		return false // transport still delivers locally

	case bip.FuncForwardedNPDU:
		m.handleForwardedNPDU(payload)
		return true

	case bip.FuncDistributeBroadcast:
		m.handleDistributeBroadcast(payload, src)
		return true

	case bip.FuncRegisterForeignDevice:
		m.handleRegister(payload, src)
		return true

	case bip.FuncReadBDT:
		m.handleReadBDT(src)
		return true

	case bip.FuncWriteBDT:
		m.handleWriteBDT(payload, src)
		return true

	case bip.FuncReadFDT:
		m.handleReadFDT(src)
		return true

	case bip.FuncDeleteFDTEntry:
		m.handleDeleteFDTEntry(payload, src)
		return true

	default:
		return false
	}
}

// relay builds a Forwarded-NPDU carrying our address as originator and
// unicasts it to every BDT entry except ourselves and excludeAddr, and
// to every FDT entry except excludeAddr.
func (m *Manager) relay(npduPayload []byte, excludeAddr bip.Mac) {
	frame := bip.Encode(bip.FuncForwardedNPDU, bip.EncodeForwardedNPDU(m.self, npduPayload))

	m.mu.Lock()
	bdt := append([]BDTEntry{}, m.bdt...)
	fdt := make([]bip.Mac, 0, len(m.fdt))
	for addr := range m.fdt {
		fdt = append(fdt, addr)
	}
	m.mu.Unlock()

	for _, e := range bdt {
		if e.Address == m.self || e.Address == excludeAddr {
			continue
		}
		m.sendTo(frame, e.Address)
	}
	for _, addr := range fdt {
		if addr == excludeAddr {
			continue
		}
		m.sendTo(frame, addr)
	}
}

func (m *Manager) handleForwardedNPDU(payload []byte) {
	originator, inner, err := bip.DecodeForwardedNPDU(payload)
	if err != nil || originator == m.self {
		return
	}
	if m.deliver != nil && !bip.IsConfirmedRequest(inner) {
		m.deliver(inner, originator)
	}

	frame := bip.Encode(bip.FuncForwardedNPDU, payload)
	m.mu.Lock()
	fdt := make([]bip.Mac, 0, len(m.fdt))
	for addr := range m.fdt {
		if addr != originator {
			fdt = append(fdt, addr)
		}
	}
	m.mu.Unlock()
	for _, addr := range fdt {
		m.sendTo(frame, addr)
	}
}

func (m *Manager) handleDistributeBroadcast(payload []byte, src bip.Mac) {
	m.mu.Lock()
	_, registered := m.fdt[src]
	m.mu.Unlock()
	if !registered {
		m.sendResult(bip.ResultDistributeBroadcastToNetworkNAK, src)
		return
	}
	m.relay(payload, src)
	if m.deliver != nil && !bip.IsConfirmedRequest(payload) {
		m.deliver(payload, src)
	}
}

func (m *Manager) handleRegister(payload []byte, src bip.Mac) {
	if len(payload) != 2 {
		m.sendResult(bip.ResultRegisterForeignDeviceNAK, src)
		return
	}
	ttl := binary.BigEndian.Uint16(payload)
	if ttl == 0 {
		m.sendResult(bip.ResultRegisterForeignDeviceNAK, src)
		return
	}

	m.mu.Lock()
	_, exists := m.fdt[src]
	if !m.acceptRegistrations || (!exists && len(m.fdt) >= m.maxFDTEntries) {
		m.mu.Unlock()
		m.sendResult(bip.ResultRegisterForeignDeviceNAK, src)
		return
	}
	m.fdt[src] = &FDTEntry{
		Address: src,
		TTL:     ttl,
		Expiry:  time.Now().Add(time.Duration(ttl)*time.Second + m.grace),
	}
	m.mu.Unlock()
	m.sendResult(bip.ResultSuccess, src)
}

// DeleteFDTEntryByString removes a registered foreign device given its
// "a.b.c.d:port" MAC string, for administrative use (e.g. the API's
// manual FDT delete endpoint). It returns an error if no such entry
// exists or the MAC string is malformed.
func (m *Manager) DeleteFDTEntryByString(mac string) error {
	addr, err := bip.ParseMac(mac)
	if err != nil {
		return err
	}
	m.mu.Lock()
	_, ok := m.fdt[addr]
	if ok {
		delete(m.fdt, addr)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("bbmd: no foreign device registered at %s", mac)
	}
	return nil
}

func (m *Manager) handleDeleteFDTEntry(payload []byte, src bip.Mac) {
	if len(payload) != 6 {
		m.sendResult(bip.ResultDeleteFDTEntryNAK, src)
		return
	}
	var addr bip.Mac
	copy(addr[:], payload)

	m.mu.Lock()
	_, ok := m.fdt[addr]
	if ok {
		delete(m.fdt, addr)
	}
	m.mu.Unlock()

	if ok {
		m.sendResult(bip.ResultSuccess, src)
	} else {
		m.sendResult(bip.ResultDeleteFDTEntryNAK, src)
	}
}

func (m *Manager) handleReadBDT(src bip.Mac) {
	entries := m.BDT()
	buf := make([]byte, 0, len(entries)*BDTEntrySize)
	for _, e := range entries {
		buf = append(buf, e.Address[:]...)
		buf = append(buf, make([]byte, BDTEntrySize-6)...)
	}
	m.sendTo(bip.Encode(bip.FuncReadBDTAck, buf), src)
}

func (m *Manager) handleWriteBDT(payload []byte, src bip.Mac) {
	if len(payload) == 0 || len(payload)%BDTEntrySize != 0 {
		m.sendResult(bip.ResultWriteBDTNAK, src)
		return
	}
	entries := make([]BDTEntry, 0, len(payload)/BDTEntrySize)
	for i := 0; i < len(payload); i += BDTEntrySize {
		var addr bip.Mac
		copy(addr[:], payload[i:i+6])
		entries = append(entries, BDTEntry{Address: addr})
	}
	m.SetBDT(entries)
	m.sendResult(bip.ResultSuccess, src)
}

func (m *Manager) handleReadFDT(src bip.Mac) {
	now := time.Now()
	m.mu.Lock()
	buf := make([]byte, 0, len(m.fdt)*FDTEntrySize)
	for _, e := range m.fdt {
		remaining := uint16(0)
		if d := e.Expiry.Sub(now); d > 0 {
			remaining = uint16(d.Seconds())
		}
		buf = append(buf, e.Address[:]...)
		ttlBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(ttlBuf, e.TTL)
		buf = append(buf, ttlBuf...)
		remBuf := make([]byte, 2)
		binary.BigEndian.PutUint16(remBuf, remaining)
		buf = append(buf, remBuf...)
	}
	m.mu.Unlock()
	m.sendTo(bip.Encode(bip.FuncReadFDTAck, buf), src)
}

func (m *Manager) sendResult(code uint16, dest bip.Mac) {
	m.sendTo(bip.Encode(bip.FuncResult, bip.EncodeResult(code)), dest)
}

func (m *Manager) sendTo(frame []byte, dest bip.Mac) {
	if m.send == nil {
		return
	}
	if err := m.send(frame, dest); err != nil && m.Logger != nil {
		m.Logger.Warning("bbmd: send to %s failed: %v", dest, err)
	}
}
