package daemon

import (
	"github.com/krisarmstrong/bacstack/pkg/apdu"
	"github.com/krisarmstrong/bacstack/pkg/bacerr"
	"github.com/krisarmstrong/bacstack/pkg/npdu"
	"github.com/krisarmstrong/bacstack/pkg/router"
	"github.com/krisarmstrong/bacstack/pkg/tsm"
)

// stampSource re-encodes raw (an NPDU received directly on arrivalNet,
// not via a router hop) with its Source address filled in from the
// arrival network/MAC when the sender omitted one, so the application
// layer always has an address to reply to. A directly-connected sender
// legitimately omits Source (Clause 6.2.2); the datalink is the only
// place that still knows who it was.
func stampSource(raw []byte, arrivalNet uint16, arrivalMac []byte) []byte {
	n, err := npdu.Decode(raw)
	if err != nil || n.IsNetworkMessage || n.Source != nil {
		return raw
	}
	n.Source = &npdu.Address{Net: arrivalNet, Mac: arrivalMac}
	out, err := n.Encode()
	if err != nil {
		return raw
	}
	return out
}

// defaultServiceHandler rejects every confirmed service request: this
// stack is a protocol core with no object model, so it has nothing to
// execute a service against. Embedding applications that do implement
// services supply their own tsm.ServiceHandler instead.
func defaultServiceHandler(_ string, _ uint8, _ uint8, _ []byte) tsm.ServiceResult {
	return tsm.ServiceResult{RejectReason: bacerr.RejectUnrecognizedService, Kind: tsm.OutcomeReject}
}

// deliver is the router's DeliverFunc: it decodes the APDU riding
// inside a locally-addressed NPDU and hands it to whichever TSM owns
// that PDU type.
func (d *Daemon) deliver(n npdu.NPDU, arrivalPort int) {
	if len(n.Payload) == 0 {
		return
	}
	a, err := apdu.Decode(n.Payload)
	if err != nil {
		return
	}

	port, ok := d.table.GetPort(arrivalPort)
	var arrivalNet uint16
	if ok {
		arrivalNet = port.Network
	}
	peer := addressToPeer(n.Source, arrivalNet)

	switch v := a.(type) {
	case apdu.ConfirmedRequest:
		d.server.HandleConfirmedRequest(peer, v)
	case apdu.UnconfirmedRequest:
		// No object model: unconfirmed service requests have no
		// handler to run against and are discarded after arrival.
	default:
		d.client.HandleIncoming(peer, a)
	}
}

// networkMessage answers the Clause 6.4 network-layer messages the
// router hands up for anything it can't decide by table lookup alone.
func (d *Daemon) networkMessage(n npdu.NPDU, arrivalPort int) {
	switch n.NetworkMessageType {
	case router.MsgWhoIsRouterToNetwork:
		requested := router.DecodeNetworkNumberList(n.Payload)
		reachable := d.table.GetReachableNetworks(arrivalPort)
		if len(requested) > 0 {
			reachable = intersect(reachable, requested)
		}
		if len(reachable) == 0 {
			return
		}
		d.sendNetworkMessage(arrivalPort, n.Source, router.MsgIAmRouterToNetwork, router.EncodeNetworkNumberList(reachable))

	case router.MsgIAmRouterToNetwork, router.MsgICouldBeRouterToNetwork:
		if n.Source == nil {
			return
		}
		for _, net := range router.DecodeNetworkNumberList(n.Payload) {
			d.table.UpdateRoute(net, arrivalPort, n.Source.Mac)
		}

	case router.MsgRouterBusyToNetwork:
		for _, net := range router.DecodeNetworkNumberList(n.Payload) {
			d.table.MarkBusy(net, 0)
		}

	case router.MsgRouterAvailableToNetwork:
		for _, net := range router.DecodeNetworkNumberList(n.Payload) {
			d.table.MarkAvailable(net)
		}

	case router.MsgRejectMessageToNetwork:
		if len(n.Payload) >= 3 {
			net := uint16(n.Payload[1])<<8 | uint16(n.Payload[2])
			d.table.MarkUnreachable(net)
		}
	}
}

func (d *Daemon) sendNetworkMessage(portID int, dest *npdu.Address, msgType uint8, payload []byte) {
	port, ok := d.table.GetPort(portID)
	if !ok {
		return
	}
	out := npdu.NPDU{
		IsNetworkMessage:   true,
		NetworkMessageType: msgType,
		Payload:            payload,
	}
	buf, err := out.Encode()
	if err != nil {
		return
	}
	var mac []byte
	if dest != nil {
		mac = dest.Mac
	}
	_ = port.Transport.SendFrame(mac, buf)
}

func intersect(have, want []uint16) []uint16 {
	set := make(map[uint16]bool, len(want))
	for _, n := range want {
		set[n] = true
	}
	out := make([]uint16, 0, len(have))
	for _, n := range have {
		if set[n] {
			out = append(out, n)
		}
	}
	return out
}

// sendAPDU is the shared SendFunc both TSMs use: it encodes a, resolves
// peer back to a network/MAC pair, and routes it through the
// NetworkRouter.
func (d *Daemon) sendAPDU(peer string, a apdu.APDU) error {
	payload, err := a.Encode()
	if err != nil {
		return err
	}
	net, mac, err := parsePeerKey(peer)
	if err != nil {
		return err
	}
	return d.net.Send(payload, net, mac, expectsReply(a), npdu.PriorityNormal)
}

func expectsReply(a apdu.APDU) bool {
	_, ok := a.(apdu.ConfirmedRequest)
	return ok
}
