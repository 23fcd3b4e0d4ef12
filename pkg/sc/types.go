// Package sc implements the BACnet Secure Connect transport (Annex AB):
// BVLC-SC message framing over a binary WebSocket, the per-connection
// initiating/accepting handshake state machine, heartbeat keep-alive,
// and hub-mode VMAC routing.
package sc

// Function is the one-byte BVLC-SC function code (Annex AB.2.2, Table AB-1).
type Function uint8

const (
	FuncBVLCResult               Function = 0x00
	FuncEncapsulatedNPDU         Function = 0x01
	FuncAddressResolution        Function = 0x02
	FuncAddressResolutionACK     Function = 0x03
	FuncAdvertisement            Function = 0x04
	FuncAdvertisementSolicitation Function = 0x05
	FuncConnectRequest           Function = 0x06
	FuncConnectAccept            Function = 0x07
	FuncDisconnectRequest        Function = 0x08
	FuncDisconnectACK            Function = 0x09
	FuncHeartbeatRequest         Function = 0x0A
	FuncHeartbeatACK             Function = 0x0B
)

// ResultCode is the one-byte result carried in a BVLC-Result payload.
type ResultCode uint8

const (
	ResultACK ResultCode = 0x00
	ResultNAK ResultCode = 0x01
)

// responseFunctions SHALL NOT themselves elicit a BVLC-Result NAK on
// decode failure (AB.3.1.4) — prevents NAK response loops.
var responseFunctions = map[Function]bool{
	FuncBVLCResult:           true,
	FuncConnectAccept:        true,
	FuncDisconnectACK:        true,
	FuncHeartbeatACK:         true,
	FuncAddressResolutionACK: true,
}

func isResponseFunction(fn Function) bool { return responseFunctions[fn] }
