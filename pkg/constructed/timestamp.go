package constructed

import "github.com/krisarmstrong/bacstack/pkg/tagcodec"

// TimeStampKind identifies which arm of the BACnetTimeStamp CHOICE is
// populated.
type TimeStampKind int

const (
	TimeStampTime TimeStampKind = iota
	TimeStampSequenceNumber
	TimeStampDateTime
)

// TimeStamp is BACnetTimeStamp ::= CHOICE { time [0] Time,
// sequence-number [1] Unsigned, datetime [2] BACnetDateTime }, used by
// event/alarm notification parameters and change-of-value subscriptions.
type TimeStamp struct {
	Kind           TimeStampKind
	Time           tagcodec.Time
	SequenceNumber uint32
	DateTime       DateTime
}

// Encode serializes the populated arm under its context tag.
func (ts TimeStamp) Encode() []byte {
	var out []byte
	switch ts.Kind {
	case TimeStampTime:
		payload := tagcodec.EncodeTime(ts.Time)
		out = append(out, tagcodec.EncodeTag(0, tagcodec.Context, uint32(len(payload)))...)
		out = append(out, payload...)
	case TimeStampSequenceNumber:
		payload := tagcodec.EncodeUnsigned(uint64(ts.SequenceNumber))
		out = append(out, tagcodec.EncodeTag(1, tagcodec.Context, uint32(len(payload)))...)
		out = append(out, payload...)
	case TimeStampDateTime:
		out = append(out, tagcodec.EncodeOpeningTag(2)...)
		out = append(out, ts.DateTime.Encode()...)
		out = append(out, tagcodec.EncodeClosingTag(2)...)
	}
	return out
}

// DecodeTimeStamp reads the CHOICE based on the leading tag's context
// number.
func DecodeTimeStamp(buf []byte, offset int) (TimeStamp, int, error) {
	tag, pos, err := peekTag(buf, offset)
	if err != nil {
		return TimeStamp{}, offset, err
	}

	switch tag.Number {
	case 0:
		t, next, derr := tagcodec.DecodeTag(buf, offset)
		if derr != nil {
			return TimeStamp{}, offset, derr
		}
		if next+int(t.Length) > len(buf) {
			return TimeStamp{}, offset, newDecodeError("timestamp: time payload truncated")
		}
		tm, derr := tagcodec.DecodeTime(buf[next : next+int(t.Length)])
		if derr != nil {
			return TimeStamp{}, offset, derr
		}
		return TimeStamp{Kind: TimeStampTime, Time: tm}, next + int(t.Length), nil
	case 1:
		t, next, derr := tagcodec.DecodeTag(buf, offset)
		if derr != nil {
			return TimeStamp{}, offset, derr
		}
		if next+int(t.Length) > len(buf) {
			return TimeStamp{}, offset, newDecodeError("timestamp: sequence-number payload truncated")
		}
		v, derr := tagcodec.DecodeUnsigned(buf[next : next+int(t.Length)])
		if derr != nil {
			return TimeStamp{}, offset, derr
		}
		return TimeStamp{Kind: TimeStampSequenceNumber, SequenceNumber: uint32(v)}, next + int(t.Length), nil
	case 2:
		pos, err = expectOpening(buf, offset, 2)
		if err != nil {
			return TimeStamp{}, offset, err
		}
		dt, next, derr := DecodeDateTime(buf, pos)
		if derr != nil {
			return TimeStamp{}, offset, derr
		}
		next, err = expectClosing(buf, next, 2)
		if err != nil {
			return TimeStamp{}, offset, err
		}
		return TimeStamp{Kind: TimeStampDateTime, DateTime: dt}, next, nil
	default:
		return TimeStamp{}, offset, newDecodeError("timestamp: unknown choice tag %d", tag.Number)
	}
}
