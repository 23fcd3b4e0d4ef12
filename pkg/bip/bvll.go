// Package bip implements the BACnet/IP transport (Annex J): BVLL
// framing over UDP, unicast/broadcast delivery, and the hooks a BBMD
// or foreign-device client attaches to for Annex J.5/J.6 forwarding.
package bip

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

// Function is the one-byte BVLC function code (Annex J.2, Table J-1).
type Function uint8

const (
	FuncResult                  Function = 0x00
	FuncWriteBDT                Function = 0x01
	FuncReadBDT                 Function = 0x02
	FuncReadBDTAck              Function = 0x03
	FuncForwardedNPDU           Function = 0x04
	FuncRegisterForeignDevice   Function = 0x05
	FuncReadFDT                 Function = 0x06
	FuncReadFDTAck              Function = 0x07
	FuncDeleteFDTEntry          Function = 0x08
	FuncDistributeBroadcast     Function = 0x09
	FuncOriginalUnicastNPDU     Function = 0x0A
	FuncOriginalBroadcastNPDU   Function = 0x0B
)

// bvlcType is the fixed first octet of every BVLL frame.
const bvlcType = 0x81

// Result codes carried in a 2-byte BVLC-Result payload.
const (
	ResultSuccess                   uint16 = 0x0000
	ResultWriteBDTNAK                uint16 = 0x0010
	ResultReadBDTNAK                 uint16 = 0x0020
	ResultRegisterForeignDeviceNAK   uint16 = 0x0030
	ResultReadFDTNAK                 uint16 = 0x0040
	ResultDeleteFDTEntryNAK          uint16 = 0x0050
	ResultDistributeBroadcastToNetworkNAK uint16 = 0x0060
)

// nakForFunction maps a management function to the NAK result code
// returned when no BBMD is attached to service it.
var nakForFunction = map[Function]uint16{
	FuncWriteBDT:              ResultWriteBDTNAK,
	FuncReadBDT:               ResultReadBDTNAK,
	FuncRegisterForeignDevice: ResultRegisterForeignDeviceNAK,
	FuncReadFDT:               ResultReadFDTNAK,
	FuncDeleteFDTEntry:        ResultDeleteFDTEntryNAK,
	FuncDistributeBroadcast:   ResultDistributeBroadcastToNetworkNAK,
}

// Frame is a decoded BVLL message.
type Frame struct {
	Function Function
	Payload  []byte
}

// Encode serializes a BVLL frame: type, function, 2-byte total length, payload.
func Encode(fn Function, payload []byte) []byte {
	total := 4 + len(payload)
	out := make([]byte, 4, total)
	out[0] = bvlcType
	out[1] = byte(fn)
	binary.BigEndian.PutUint16(out[2:4], uint16(total))
	return append(out, payload...)
}

// Decode parses a BVLL frame and validates the declared length against
// the actual datagram size.
func Decode(buf []byte) (Frame, error) {
	if len(buf) < 4 {
		return Frame{}, fmt.Errorf("bip: frame shorter than fixed BVLL header")
	}
	if buf[0] != bvlcType {
		return Frame{}, fmt.Errorf("bip: unexpected BVLC type 0x%02x", buf[0])
	}
	total := int(binary.BigEndian.Uint16(buf[2:4]))
	if total != len(buf) {
		return Frame{}, fmt.Errorf("bip: declared length %d does not match datagram length %d", total, len(buf))
	}
	return Frame{Function: Function(buf[1]), Payload: append([]byte{}, buf[4:]...)}, nil
}

// Mac is the 6-byte BACnet/IP MAC address: 4-byte IPv4 plus 2-byte port.
type Mac [6]byte

// NewMac packs an IPv4 address and port into a Mac.
func NewMac(ip [4]byte, port uint16) Mac {
	var m Mac
	copy(m[:4], ip[:])
	binary.BigEndian.PutUint16(m[4:6], port)
	return m
}

// IP returns the 4-byte IPv4 address portion.
func (m Mac) IP() [4]byte { var ip [4]byte; copy(ip[:], m[:4]); return ip }

// Port returns the UDP port portion.
func (m Mac) Port() uint16 { return binary.BigEndian.Uint16(m[4:6]) }

func (m Mac) String() string {
	ip := m.IP()
	return fmt.Sprintf("%d.%d.%d.%d:%d", ip[0], ip[1], ip[2], ip[3], m.Port())
}

// ParseMac parses the "a.b.c.d:port" form produced by Mac.String.
func ParseMac(s string) (Mac, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Mac{}, fmt.Errorf("bip: invalid mac %q: %w", s, err)
	}
	ip := net.ParseIP(host).To4()
	if ip == nil {
		return Mac{}, fmt.Errorf("bip: invalid mac %q: not an IPv4 address", s)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Mac{}, fmt.Errorf("bip: invalid mac %q: bad port: %w", s, err)
	}
	var ipArr [4]byte
	copy(ipArr[:], ip)
	return NewMac(ipArr, uint16(port)), nil
}

// EncodeForwardedNPDU prepends the 6-byte originating MAC to an NPDU
// payload, per Annex J.4.4.
func EncodeForwardedNPDU(originator Mac, npdu []byte) []byte {
	out := make([]byte, 6, 6+len(npdu))
	copy(out, originator[:])
	return append(out, npdu...)
}

// DecodeForwardedNPDU splits a Forwarded-NPDU payload into its
// originator MAC and inner NPDU bytes.
func DecodeForwardedNPDU(payload []byte) (Mac, []byte, error) {
	if len(payload) < 6 {
		return Mac{}, nil, fmt.Errorf("bip: forwarded-NPDU payload shorter than 6-byte originator")
	}
	var m Mac
	copy(m[:], payload[:6])
	return m, payload[6:], nil
}

// EncodeResult serializes a 2-byte BVLC-Result payload.
func EncodeResult(code uint16) []byte {
	out := make([]byte, 2)
	binary.BigEndian.PutUint16(out, code)
	return out
}
