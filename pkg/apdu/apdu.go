// Package apdu encodes and decodes the seven Application Protocol Data
// Unit variants (Clause 20.1): Confirmed-Request, Unconfirmed-Request,
// Simple-ACK, Complex-ACK, Segment-ACK, Error, Reject, and Abort.
package apdu

import (
	"fmt"

	"github.com/krisarmstrong/bacstack/pkg/bacerr"
)

// PDUType is the high nibble of the first APDU byte.
type PDUType uint8

const (
	TypeConfirmedRequest   PDUType = 0x0
	TypeUnconfirmedRequest PDUType = 0x1
	TypeSimpleACK          PDUType = 0x2
	TypeComplexACK         PDUType = 0x3
	TypeSegmentACK         PDUType = 0x4
	TypeError              PDUType = 0x5
	TypeReject             PDUType = 0x6
	TypeAbort              PDUType = 0x7
)

// APDU is implemented by every one of the seven wire variants.
type APDU interface {
	Type() PDUType
	Encode() ([]byte, error)
}

// maxAPDUTable maps the 4-bit max-APDU-length-accepted code to an octet
// count (Clause 20.1.2.4, Table 20-4, collapsed to the six sizes spec'd).
var maxAPDUTable = [6]uint32{50, 128, 206, 480, 1024, 1476}

func maxAPDUCode(octets uint32) uint8 {
	for i, v := range maxAPDUTable {
		if octets <= v {
			return uint8(i)
		}
	}
	return uint8(len(maxAPDUTable) - 1)
}

func maxAPDUFromCode(code uint8) uint32 {
	if int(code) < len(maxAPDUTable) {
		return maxAPDUTable[code]
	}
	return maxAPDUTable[len(maxAPDUTable)-1]
}

// maxSegmentsCode packs a segment count into the log2-encoded nibble; 0
// means unlimited.
func maxSegmentsCode(count uint16) uint8 {
	if count == 0 {
		return 0
	}
	code := uint8(1)
	cap := uint16(2)
	for cap < count && code < 7 {
		cap <<= 1
		code++
	}
	return code
}

func maxSegmentsFromCode(code uint8) uint16 {
	if code == 0 {
		return 0 // unlimited
	}
	if code > 7 {
		return 0
	}
	return uint16(1) << code
}

// ConfirmedRequest is the Confirmed-Request-PDU (Clause 20.1.2).
type ConfirmedRequest struct {
	Segmented                 bool
	MoreFollows               bool
	SegmentedResponseAccepted bool
	MaxSegmentsAccepted       uint16 // 0 = unlimited
	MaxAPDULengthAccepted     uint32
	InvokeID                  uint8
	SequenceNumber            uint8 // valid only if Segmented
	ProposedWindowSize        uint8 // valid only if Segmented
	ServiceChoice             uint8
	ServiceData               []byte
}

func (ConfirmedRequest) Type() PDUType { return TypeConfirmedRequest }

// Encode serializes a Confirmed-Request-PDU.
func (c ConfirmedRequest) Encode() ([]byte, error) {
	if c.MoreFollows && !c.Segmented {
		return nil, bacerr.NewAbort(c.InvokeID, bacerr.AbortInvalidAPDUInThisState)
	}
	flags := byte(0)
	if c.Segmented {
		flags |= 0x08
	}
	if c.MoreFollows {
		flags |= 0x04
	}
	if c.SegmentedResponseAccepted {
		flags |= 0x02
	}
	b0 := byte(TypeConfirmedRequest)<<4 | flags
	b1 := maxSegmentsCode(c.MaxSegmentsAccepted)<<4 | maxAPDUCode(c.MaxAPDULengthAccepted)

	out := []byte{b0, b1, c.InvokeID}
	if c.Segmented {
		out = append(out, c.SequenceNumber, c.ProposedWindowSize)
	}
	out = append(out, c.ServiceChoice)
	out = append(out, c.ServiceData...)
	return out, nil
}

// UnconfirmedRequest is the Unconfirmed-Request-PDU (Clause 20.1.3).
type UnconfirmedRequest struct {
	ServiceChoice uint8
	ServiceData   []byte
}

func (UnconfirmedRequest) Type() PDUType { return TypeUnconfirmedRequest }

func (u UnconfirmedRequest) Encode() ([]byte, error) {
	out := []byte{byte(TypeUnconfirmedRequest) << 4, u.ServiceChoice}
	out = append(out, u.ServiceData...)
	return out, nil
}

// SimpleACK is the Simple-ACK-PDU (Clause 20.1.4).
type SimpleACK struct {
	InvokeID      uint8
	ServiceChoice uint8
}

func (SimpleACK) Type() PDUType { return TypeSimpleACK }

func (s SimpleACK) Encode() ([]byte, error) {
	return []byte{byte(TypeSimpleACK) << 4, s.InvokeID, s.ServiceChoice}, nil
}

// ComplexACK is the Complex-ACK-PDU (Clause 20.1.5).
type ComplexACK struct {
	Segmented          bool
	MoreFollows        bool
	InvokeID           uint8
	SequenceNumber     uint8
	ProposedWindowSize uint8
	ServiceChoice      uint8
	ServiceData        []byte
}

func (ComplexACK) Type() PDUType { return TypeComplexACK }

func (c ComplexACK) Encode() ([]byte, error) {
	if c.MoreFollows && !c.Segmented {
		return nil, bacerr.NewAbort(c.InvokeID, bacerr.AbortInvalidAPDUInThisState)
	}
	flags := byte(0)
	if c.Segmented {
		flags |= 0x08
	}
	if c.MoreFollows {
		flags |= 0x04
	}
	out := []byte{byte(TypeComplexACK)<<4 | flags, c.InvokeID}
	if c.Segmented {
		out = append(out, c.SequenceNumber, c.ProposedWindowSize)
	}
	out = append(out, c.ServiceChoice)
	out = append(out, c.ServiceData...)
	return out, nil
}

// SegmentACK is the Segment-ACK-PDU (Clause 20.1.6).
type SegmentACK struct {
	NegativeAck      bool
	SentByServer     bool
	InvokeID         uint8
	SequenceNumber   uint8
	ActualWindowSize uint8
}

func (SegmentACK) Type() PDUType { return TypeSegmentACK }

func (s SegmentACK) Encode() ([]byte, error) {
	flags := byte(0)
	if s.NegativeAck {
		flags |= 0x02
	}
	if s.SentByServer {
		flags |= 0x01
	}
	return []byte{byte(TypeSegmentACK)<<4 | flags, s.InvokeID, s.SequenceNumber, s.ActualWindowSize}, nil
}

// Error is the Error-PDU (Clause 20.1.7).
type Error struct {
	InvokeID      uint8
	ServiceChoice uint8
	Class         bacerr.ErrorClass
	Code          bacerr.ErrorCode
}

func (Error) Type() PDUType { return TypeError }

func (e Error) Encode() ([]byte, error) {
	out := []byte{byte(TypeError) << 4, e.InvokeID, e.ServiceChoice}
	out = append(out, byte(e.Class), byte(e.Code))
	return out, nil
}

// Reject is the Reject-PDU (Clause 20.1.8).
type Reject struct {
	InvokeID uint8
	Reason   bacerr.RejectReason
}

func (Reject) Type() PDUType { return TypeReject }

func (r Reject) Encode() ([]byte, error) {
	return []byte{byte(TypeReject) << 4, r.InvokeID, byte(r.Reason)}, nil
}

// Abort is the Abort-PDU (Clause 20.1.9).
type Abort struct {
	InvokeID     uint8
	SentByServer bool
	Reason       bacerr.AbortReason
}

func (Abort) Type() PDUType { return TypeAbort }

func (a Abort) Encode() ([]byte, error) {
	flags := byte(0)
	if a.SentByServer {
		flags |= 0x01
	}
	return []byte{byte(TypeAbort)<<4 | flags, a.InvokeID, byte(a.Reason)}, nil
}

// Decode parses any of the seven APDU variants from buf.
func Decode(buf []byte) (APDU, error) {
	if len(buf) < 2 {
		return nil, bacerr.NewAbort(0, bacerr.AbortOtherError)
	}
	pduType := PDUType(buf[0] >> 4)
	flags := buf[0] & 0x0F

	switch pduType {
	case TypeConfirmedRequest:
		return decodeConfirmedRequest(buf, flags)
	case TypeUnconfirmedRequest:
		if len(buf) < 2 {
			return nil, bacerr.NewAbort(0, bacerr.AbortOtherError)
		}
		return UnconfirmedRequest{ServiceChoice: buf[1], ServiceData: append([]byte{}, buf[2:]...)}, nil
	case TypeSimpleACK:
		if len(buf) < 3 {
			return nil, bacerr.NewAbort(0, bacerr.AbortOtherError)
		}
		return SimpleACK{InvokeID: buf[1], ServiceChoice: buf[2]}, nil
	case TypeComplexACK:
		return decodeComplexACK(buf, flags)
	case TypeSegmentACK:
		if len(buf) < 4 {
			return nil, bacerr.NewAbort(0, bacerr.AbortOtherError)
		}
		return SegmentACK{
			NegativeAck:      flags&0x02 != 0,
			SentByServer:     flags&0x01 != 0,
			InvokeID:         buf[1],
			SequenceNumber:   buf[2],
			ActualWindowSize: buf[3],
		}, nil
	case TypeError:
		if len(buf) < 5 {
			return nil, bacerr.NewAbort(0, bacerr.AbortOtherError)
		}
		return Error{
			InvokeID:      buf[1],
			ServiceChoice: buf[2],
			Class:         bacerr.ErrorClass(buf[3]),
			Code:          bacerr.ErrorCode(buf[4]),
		}, nil
	case TypeReject:
		if len(buf) < 3 {
			return nil, bacerr.NewAbort(0, bacerr.AbortOtherError)
		}
		return Reject{InvokeID: buf[1], Reason: bacerr.RejectReason(buf[2])}, nil
	case TypeAbort:
		if len(buf) < 3 {
			return nil, bacerr.NewAbort(0, bacerr.AbortOtherError)
		}
		return Abort{InvokeID: buf[1], SentByServer: flags&0x01 != 0, Reason: bacerr.AbortReason(buf[2])}, nil
	default:
		return nil, bacerr.NewAbort(0, bacerr.AbortOtherError)
	}
}

func decodeConfirmedRequest(buf []byte, flags byte) (APDU, error) {
	if len(buf) < 4 {
		return nil, bacerr.NewAbort(0, bacerr.AbortOtherError)
	}
	segmented := flags&0x08 != 0
	moreFollows := flags&0x04 != 0
	if moreFollows && !segmented {
		return nil, bacerr.NewAbort(buf[2], bacerr.AbortInvalidAPDUInThisState)
	}

	maxSegCode := buf[1] >> 4
	maxAPDUCodeVal := buf[1] & 0x0F

	c := ConfirmedRequest{
		Segmented:                 segmented,
		MoreFollows:               moreFollows,
		SegmentedResponseAccepted: flags&0x02 != 0,
		MaxSegmentsAccepted:       maxSegmentsFromCode(maxSegCode),
		MaxAPDULengthAccepted:     maxAPDUFromCode(maxAPDUCodeVal),
		InvokeID:                  buf[2],
	}

	pos := 3
	if segmented {
		if len(buf) < pos+2 {
			return nil, bacerr.NewAbort(c.InvokeID, bacerr.AbortOtherError)
		}
		c.SequenceNumber = buf[pos]
		c.ProposedWindowSize = buf[pos+1]
		pos += 2
	}
	if len(buf) < pos+1 {
		return nil, bacerr.NewAbort(c.InvokeID, bacerr.AbortOtherError)
	}
	c.ServiceChoice = buf[pos]
	c.ServiceData = append([]byte{}, buf[pos+1:]...)
	return c, nil
}

func decodeComplexACK(buf []byte, flags byte) (APDU, error) {
	if len(buf) < 3 {
		return nil, bacerr.NewAbort(0, bacerr.AbortOtherError)
	}
	segmented := flags&0x08 != 0
	moreFollows := flags&0x04 != 0
	if moreFollows && !segmented {
		return nil, bacerr.NewAbort(buf[1], bacerr.AbortInvalidAPDUInThisState)
	}

	c := ComplexACK{
		Segmented:   segmented,
		MoreFollows: moreFollows,
		InvokeID:    buf[1],
	}
	pos := 2
	if segmented {
		if len(buf) < pos+2 {
			return nil, bacerr.NewAbort(c.InvokeID, bacerr.AbortOtherError)
		}
		c.SequenceNumber = buf[pos]
		c.ProposedWindowSize = buf[pos+1]
		pos += 2
	}
	if len(buf) < pos+1 {
		return nil, bacerr.NewAbort(c.InvokeID, bacerr.AbortOtherError)
	}
	c.ServiceChoice = buf[pos]
	c.ServiceData = append([]byte{}, buf[pos+1:]...)
	return c, nil
}

// String renders a PDUType for logging.
func (t PDUType) String() string {
	switch t {
	case TypeConfirmedRequest:
		return "ConfirmedRequest"
	case TypeUnconfirmedRequest:
		return "UnconfirmedRequest"
	case TypeSimpleACK:
		return "SimpleACK"
	case TypeComplexACK:
		return "ComplexACK"
	case TypeSegmentACK:
		return "SegmentACK"
	case TypeError:
		return "Error"
	case TypeReject:
		return "Reject"
	case TypeAbort:
		return "Abort"
	default:
		return fmt.Sprintf("PDUType(%d)", uint8(t))
	}
}
