package sc

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

const (
	flagDestPresent        = 1 << 0
	flagSrcPresent         = 1 << 1
	flagDataOptionsPresent = 1 << 2
)

// Message is a decoded BVLC-SC frame: 1-byte function, 1-byte control
// flags, 2-byte message ID, optional destination/source VMACs, optional
// data options, then the payload.
type Message struct {
	Function    Function
	MessageID   uint16
	DestVMAC    *VMAC
	SrcVMAC     *VMAC
	DataOptions []byte
	Payload     []byte
}

// Encode serializes m to its wire form.
func (m Message) Encode() []byte {
	flags := byte(0)
	if m.DestVMAC != nil {
		flags |= flagDestPresent
	}
	if m.SrcVMAC != nil {
		flags |= flagSrcPresent
	}
	if len(m.DataOptions) > 0 {
		flags |= flagDataOptionsPresent
	}

	out := make([]byte, 4)
	out[0] = byte(m.Function)
	out[1] = flags
	binary.BigEndian.PutUint16(out[2:4], m.MessageID)

	if m.DestVMAC != nil {
		out = append(out, m.DestVMAC[:]...)
	}
	if m.SrcVMAC != nil {
		out = append(out, m.SrcVMAC[:]...)
	}
	if len(m.DataOptions) > 0 {
		optLen := make([]byte, 2)
		binary.BigEndian.PutUint16(optLen, uint16(len(m.DataOptions)))
		out = append(out, optLen...)
		out = append(out, m.DataOptions...)
	}
	return append(out, m.Payload...)
}

// Decode parses a BVLC-SC frame. When skipPayload is true (hub-mode
// fast path), the trailing payload bytes are not copied out — only the
// routing-relevant header fields are populated.
func Decode(buf []byte, skipPayload bool) (Message, error) {
	if len(buf) < 4 {
		return Message{}, fmt.Errorf("sc: frame shorter than fixed BVLC-SC header")
	}
	m := Message{Function: Function(buf[0]), MessageID: binary.BigEndian.Uint16(buf[2:4])}
	flags := buf[1]
	pos := 4

	if flags&flagDestPresent != 0 {
		if len(buf) < pos+6 {
			return Message{}, fmt.Errorf("sc: truncated destination VMAC")
		}
		var v VMAC
		copy(v[:], buf[pos:pos+6])
		m.DestVMAC = &v
		pos += 6
	}
	if flags&flagSrcPresent != 0 {
		if len(buf) < pos+6 {
			return Message{}, fmt.Errorf("sc: truncated source VMAC")
		}
		var v VMAC
		copy(v[:], buf[pos:pos+6])
		m.SrcVMAC = &v
		pos += 6
	}
	if flags&flagDataOptionsPresent != 0 {
		if len(buf) < pos+2 {
			return Message{}, fmt.Errorf("sc: truncated data-options length")
		}
		n := int(binary.BigEndian.Uint16(buf[pos : pos+2]))
		pos += 2
		if len(buf) < pos+n {
			return Message{}, fmt.Errorf("sc: truncated data-options chunk")
		}
		m.DataOptions = append([]byte{}, buf[pos:pos+n]...)
		pos += n
	}
	if !skipPayload {
		m.Payload = append([]byte{}, buf[pos:]...)
	}
	return m, nil
}

// connectPayload is the shared wire shape of Connect-Request and
// Connect-Accept: VMAC, device UUID, and each side's max BVLC/NPDU sizes.
type connectPayload struct {
	VMAC     VMAC
	UUID     uuid.UUID
	MaxBVLC  uint16
	MaxNPDU  uint16
}

func (p connectPayload) encode() []byte {
	out := make([]byte, 0, 26)
	out = append(out, p.VMAC[:]...)
	uuidBytes, _ := p.UUID.MarshalBinary()
	out = append(out, uuidBytes...)
	sizes := make([]byte, 4)
	binary.BigEndian.PutUint16(sizes[0:2], p.MaxBVLC)
	binary.BigEndian.PutUint16(sizes[2:4], p.MaxNPDU)
	return append(out, sizes...)
}

func decodeConnectPayload(buf []byte) (connectPayload, error) {
	if len(buf) < 26 {
		return connectPayload{}, fmt.Errorf("sc: connect payload shorter than 26 bytes")
	}
	var p connectPayload
	copy(p.VMAC[:], buf[0:6])
	if err := p.UUID.UnmarshalBinary(buf[6:22]); err != nil {
		return connectPayload{}, fmt.Errorf("sc: malformed device UUID: %w", err)
	}
	p.MaxBVLC = binary.BigEndian.Uint16(buf[22:24])
	p.MaxNPDU = binary.BigEndian.Uint16(buf[24:26])
	return p, nil
}

// ConnectRequestPayload is the Connect-Request message body.
type ConnectRequestPayload connectPayload

func (p ConnectRequestPayload) Encode() []byte { return connectPayload(p).encode() }

func DecodeConnectRequestPayload(buf []byte) (ConnectRequestPayload, error) {
	p, err := decodeConnectPayload(buf)
	return ConnectRequestPayload(p), err
}

// ConnectAcceptPayload is the Connect-Accept message body.
type ConnectAcceptPayload connectPayload

func (p ConnectAcceptPayload) Encode() []byte { return connectPayload(p).encode() }

func DecodeConnectAcceptPayload(buf []byte) (ConnectAcceptPayload, error) {
	p, err := decodeConnectPayload(buf)
	return ConnectAcceptPayload(p), err
}

// BVLCResultPayload is the BVLC-Result message body. ErrorHeaderMarker,
// ErrorClass, ErrorCode, and ErrorDetails are only present (and only
// meaningful) when ResultCode is ResultNAK.
type BVLCResultPayload struct {
	ForFunction       Function
	ResultCode        ResultCode
	ErrorHeaderMarker byte
	ErrorClass        uint16
	ErrorCode         uint16
	ErrorDetails      string
}

func (p BVLCResultPayload) Encode() []byte {
	out := []byte{byte(p.ForFunction), byte(p.ResultCode)}
	if p.ResultCode != ResultNAK {
		return out
	}
	out = append(out, p.ErrorHeaderMarker)
	rest := make([]byte, 4)
	binary.BigEndian.PutUint16(rest[0:2], p.ErrorClass)
	binary.BigEndian.PutUint16(rest[2:4], p.ErrorCode)
	out = append(out, rest...)
	return append(out, []byte(p.ErrorDetails)...)
}

func DecodeBVLCResultPayload(buf []byte) (BVLCResultPayload, error) {
	if len(buf) < 2 {
		return BVLCResultPayload{}, fmt.Errorf("sc: BVLC-Result payload shorter than 2 bytes")
	}
	p := BVLCResultPayload{ForFunction: Function(buf[0]), ResultCode: ResultCode(buf[1])}
	if p.ResultCode != ResultNAK {
		return p, nil
	}
	if len(buf) < 7 {
		return BVLCResultPayload{}, fmt.Errorf("sc: NAK BVLC-Result payload shorter than 7 bytes")
	}
	p.ErrorHeaderMarker = buf[2]
	p.ErrorClass = binary.BigEndian.Uint16(buf[3:5])
	p.ErrorCode = binary.BigEndian.Uint16(buf[5:7])
	p.ErrorDetails = string(buf[7:])
	return p, nil
}
