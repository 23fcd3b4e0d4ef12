package router

import "encoding/binary"

// Network-layer message types (Clause 6.4.1, Table 6-1). NetworkRouter
// itself only transcribes these as opaque NPDUs with IsNetworkMessage
// set; encoding/decoding and responding to them is left to the
// application layer that owns NetworkMessageFunc, per this package's
// design (see NetworkMessageFunc's doc comment).
const (
	MsgWhoIsRouterToNetwork     uint8 = 0x00
	MsgIAmRouterToNetwork       uint8 = 0x01
	MsgICouldBeRouterToNetwork  uint8 = 0x02
	MsgRejectMessageToNetwork   uint8 = 0x03
	MsgRouterBusyToNetwork      uint8 = 0x04
	MsgRouterAvailableToNetwork uint8 = 0x05
)

// RejectReason is the one-octet reason code carried by
// Reject-Message-To-Network (Clause 6.4.5).
type RejectReason uint8

const (
	RejectOtherReason               RejectReason = 0
	RejectNotDirectlyConnected      RejectReason = 1
	RejectBusy                      RejectReason = 2
	RejectUnknownNetworkMessageType RejectReason = 3
	RejectMessageTooLong            RejectReason = 4
	RejectSecurityError             RejectReason = 5
	RejectAddressingError           RejectReason = 6
)

// EncodeNetworkNumberList serializes Who-Is-Router-To-Network (when
// nets is empty, meaning "any network") and I-Am-Router-To-Network /
// I-Could-Be-Router-To-Network payloads: a flat list of 2-octet
// network numbers.
func EncodeNetworkNumberList(nets []uint16) []byte {
	out := make([]byte, 0, len(nets)*2)
	for _, n := range nets {
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, n)
		out = append(out, buf...)
	}
	return out
}

// DecodeNetworkNumberList parses the payload EncodeNetworkNumberList produces.
func DecodeNetworkNumberList(payload []byte) []uint16 {
	out := make([]uint16, 0, len(payload)/2)
	for i := 0; i+1 < len(payload); i += 2 {
		out = append(out, binary.BigEndian.Uint16(payload[i:i+2]))
	}
	return out
}

// EncodeRejectMessageToNetwork serializes a Reject-Message-To-Network payload.
func EncodeRejectMessageToNetwork(reason RejectReason, net uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = byte(reason)
	binary.BigEndian.PutUint16(buf[1:3], net)
	return buf
}
