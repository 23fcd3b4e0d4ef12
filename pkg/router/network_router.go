package router

import (
	"sync/atomic"
	"time"

	"github.com/krisarmstrong/bacstack/pkg/bacerr"
	"github.com/krisarmstrong/bacstack/pkg/logging"
	"github.com/krisarmstrong/bacstack/pkg/npdu"
)

// DeliverFunc hands a locally-addressed NPDU's payload up to the
// application/TSM layer. arrivalPort is -1 for the router's own
// virtual port (locally originated traffic looped back to itself).
type DeliverFunc func(n npdu.NPDU, arrivalPort int)

// NetworkMessageFunc handles an inbound network-layer message (DNET
// discovery, Who-Is-Router-To-Network, reject/busy signaling). The
// router itself only transcribes the forwarding decision tree; message
// semantics live one layer up so NetworkRouter stays free of the
// message-type catalogue.
type NetworkMessageFunc func(n npdu.NPDU, arrivalPort int)

// inbound is one NPDU queued for the dispatch goroutine, tagged with
// the port it arrived on (-1 for locally-originated sends) and the
// sender's datalink MAC as the transport saw it.
type inbound struct {
	n    npdu.NPDU
	port int
	mac  []byte
}

// NetworkRouter applies Figure 6-12 forwarding to every NPDU it sees.
// All routing decisions run on a single internal goroutine reading
// from cmd, so RoutingTable mutation during forwarding needs no
// additional locking beyond what RoutingTable already provides for
// concurrent administrative readers.
type NetworkRouter struct {
	Table *RoutingTable

	Deliver        DeliverFunc
	NetworkMessage NetworkMessageFunc
	Logger         *logging.Logger

	cmd  chan inbound
	done chan struct{}

	discarded atomic.Uint64
}

// Discarded reports how many inbound NPDUs have been dropped for lack
// of a route since the router started.
func (r *NetworkRouter) Discarded() uint64 {
	return r.discarded.Load()
}

// NewNetworkRouter builds a router over an existing table. deliver is
// called for every NPDU destined for the local application; if nil,
// locally-addressed traffic is silently dropped.
func NewNetworkRouter(table *RoutingTable, deliver DeliverFunc, netMsg NetworkMessageFunc) *NetworkRouter {
	r := &NetworkRouter{
		Table:          table,
		Deliver:        deliver,
		NetworkMessage: netMsg,
		cmd:            make(chan inbound, 256),
		done:           make(chan struct{}),
	}
	go r.run()
	return r
}

// Close stops the dispatch goroutine.
func (r *NetworkRouter) Close() {
	close(r.done)
}

// OnPortReceive is the callback each port's transport invokes when a
// datagram arrives; it decodes the NPDU and queues it for dispatch.
// mac is the sender's datalink address as the transport saw it — the
// only place that still knows it once the NPDU itself omits a Source
// (Clause 6.2.2 lets a directly-connected sender do exactly that).
func (r *NetworkRouter) OnPortReceive(portID int, mac []byte, raw []byte) {
	n, err := npdu.Decode(raw)
	if err != nil {
		r.logf("router: malformed NPDU from port %d: %v", portID, err)
		return
	}
	select {
	case r.cmd <- inbound{n: n, port: portID, mac: mac}:
	case <-r.done:
	}
}

func (r *NetworkRouter) run() {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case in := <-r.cmd:
			r.processNPDU(in.n, in.port, in.mac)
		case now := <-tick.C:
			for net, e := range r.Table.GetAllEntries() {
				if e.Reachability == Busy && !now.Before(e.BusyUntil) {
					r.Table.MarkAvailable(net)
				}
			}
		case <-r.done:
			return
		}
	}
}

// processNPDU implements the Figure 6-12 decision tree.
func (r *NetworkRouter) processNPDU(n npdu.NPDU, arrivalPort int, arrivalMac []byte) {
	if n.IsNetworkMessage {
		if r.NetworkMessage != nil {
			r.NetworkMessage(n, arrivalPort)
		}
		return
	}

	if n.Destination == nil {
		r.deliverLocal(n, arrivalPort, arrivalMac)
		return
	}

	if n.Destination.Net == 0xFFFF {
		r.deliverLocal(n, arrivalPort, arrivalMac)
		for _, p := range r.Table.GetAllPorts() {
			if p.ID == arrivalPort {
				continue
			}
			r.floodPort(p, n)
		}
		return
	}

	if port, ok := r.Table.GetPortForNetwork(n.Destination.Net); ok {
		r.deliverDirectlyConnected(port, n, arrivalPort, arrivalMac)
		return
	}

	entry, ok := r.Table.GetEntry(n.Destination.Net)
	if !ok || entry.Reachability == Unreachable {
		r.discarded.Add(1)
		r.logf("router: no route to network %d, discarding", n.Destination.Net)
		return
	}

	if n.HopCount == 0 {
		r.logf("router: hop count exhausted toward network %d, discarding", n.Destination.Net)
		return
	}
	n.HopCount--

	port, ok := r.Table.GetPort(entry.Port)
	if !ok {
		r.discarded.Add(1)
		return
	}
	r.emit(port, entry.NextHop, n)
}

// deliverLocal hands the NPDU payload to the application layer,
// stamping SNET/SADR from the arrival port and MAC if the sender did
// not already carry a source (directly-connected device on that port).
func (r *NetworkRouter) deliverLocal(n npdu.NPDU, arrivalPort int, arrivalMac []byte) {
	if r.Deliver == nil {
		return
	}
	r.Deliver(r.stampArrival(n, arrivalPort, arrivalMac), arrivalPort)
}

// deliverDirectlyConnected strips the destination fields and emits the
// NPDU on the port serving that network, injecting SNET/SADR from the
// arrival port and MAC when the original sender omitted a source (it
// is directly reachable and doesn't need to self-identify across a
// router hop).
func (r *NetworkRouter) deliverDirectlyConnected(port *RouterPort, n npdu.NPDU, arrivalPort int, arrivalMac []byte) {
	out := r.stampArrival(n, arrivalPort, arrivalMac)
	out.Destination = nil
	out.HopCount = 0
	r.emit(port, n.Destination.Mac, out)
}

// stampArrival fills in n's Source from the arrival port's network and
// the sender's datalink MAC when the NPDU didn't already carry one. A
// present Source must carry a non-empty MAC (npdu.Encode rejects an
// empty one), so with no MAC to inject this leaves n untouched rather
// than produce an NPDU that can never be re-encoded.
func (r *NetworkRouter) stampArrival(n npdu.NPDU, arrivalPort int, arrivalMac []byte) npdu.NPDU {
	if n.Source != nil || len(arrivalMac) == 0 {
		return n
	}
	if ap, ok := r.Table.GetPort(arrivalPort); ok {
		n.Source = &npdu.Address{Net: ap.Network, Mac: arrivalMac}
	}
	return n
}

// floodPort re-emits a global broadcast on a single port, addressed as
// a local broadcast on that network (empty MAC).
func (r *NetworkRouter) floodPort(port *RouterPort, n npdu.NPDU) {
	out := n
	out.Destination = nil
	out.HopCount = 0
	r.emit(port, nil, out)
}

// emit encodes the NPDU and hands it to the port's transport, marking
// the destination network Busy on a send failure (treated as
// transport-level backpressure) rather than surfacing the error to the
// caller — ASHRAE routes congestion through routing-table state, not
// synchronous error returns.
func (r *NetworkRouter) emit(port *RouterPort, mac []byte, n npdu.NPDU) {
	buf, err := n.Encode()
	if err != nil {
		r.logf("router: failed to encode outbound NPDU on port %d: %v", port.ID, err)
		return
	}
	if err := port.Transport.SendFrame(mac, buf); err != nil {
		r.logf("router: send failed on port %d: %v", port.ID, err)
		if n.Destination != nil {
			r.Table.MarkBusy(n.Destination.Net, 0)
		}
	}
}

// Send is the outbound entry point used by the TSM/application layer.
// destNet == 0 with destMac == nil means "deliver to the locally hosted
// application" (a loopback, mainly useful in tests); destNet ==
// 0xFFFF means global broadcast.
func (r *NetworkRouter) Send(payload []byte, destNet uint16, destMac []byte, expectingReply bool, priority npdu.Priority) error {
	if destNet == 0xFFFF {
		n := npdu.NPDU{
			Priority:       priority,
			ExpectingReply: expectingReply,
			Destination:    &npdu.Address{Net: 0xFFFF, Mac: nil},
			HopCount:       255,
			Payload:        payload,
		}
		for _, p := range r.Table.GetAllPorts() {
			r.floodPort(p, n)
		}
		return nil
	}

	if port, ok := r.Table.GetPortForNetwork(destNet); ok {
		n := npdu.NPDU{Priority: priority, ExpectingReply: expectingReply, Payload: payload}
		r.emit(port, destMac, n)
		return nil
	}

	entry, ok := r.Table.GetEntry(destNet)
	if !ok || entry.Reachability == Unreachable {
		return bacerr.NewAbort(0, bacerr.AbortOtherError)
	}
	port, ok := r.Table.GetPort(entry.Port)
	if !ok {
		return bacerr.NewAbort(0, bacerr.AbortOtherError)
	}
	n := npdu.NPDU{
		Priority:       priority,
		ExpectingReply: expectingReply,
		Destination:    &npdu.Address{Net: destNet, Mac: destMac},
		HopCount:       255,
		Payload:        payload,
	}
	r.emit(port, entry.NextHop, n)
	return nil
}

func (r *NetworkRouter) logf(format string, args ...interface{}) {
	if r.Logger != nil {
		r.Logger.Protocol(format, args...)
	}
}
