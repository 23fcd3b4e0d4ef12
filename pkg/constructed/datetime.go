package constructed

import "github.com/krisarmstrong/bacstack/pkg/tagcodec"

// DateTime is BACnetDateTime ::= SEQUENCE { date Date, time Time }, encoded
// as two back-to-back application-tagged primitives with no wrapper of its
// own; callers that need it inside a CHOICE or SEQUENCE field wrap it in a
// context opening/closing tag pair themselves.
type DateTime struct {
	Date tagcodec.Date
	Time tagcodec.Time
}

// Encode serializes the date then the time, each application-tagged.
func (dt DateTime) Encode() []byte {
	var out []byte
	dateBytes := tagcodec.EncodeDate(dt.Date)
	out = append(out, tagcodec.EncodeTag(tagcodec.TagDate, tagcodec.Application, uint32(len(dateBytes)))...)
	out = append(out, dateBytes...)

	timeBytes := tagcodec.EncodeTime(dt.Time)
	out = append(out, tagcodec.EncodeTag(tagcodec.TagTime, tagcodec.Application, uint32(len(timeBytes)))...)
	out = append(out, timeBytes...)
	return out
}

// DecodeDateTime reads an application-tagged Date followed by an
// application-tagged Time starting at offset.
func DecodeDateTime(buf []byte, offset int) (DateTime, int, error) {
	dateTag, pos, err := tagcodec.DecodeTag(buf, offset)
	if err != nil {
		return DateTime{}, offset, err
	}
	if dateTag.Class != tagcodec.Application || dateTag.Number != tagcodec.TagDate {
		return DateTime{}, offset, newDecodeError("datetime: expected application Date tag, got number=%d class=%v", dateTag.Number, dateTag.Class)
	}
	if pos+int(dateTag.Length) > len(buf) {
		return DateTime{}, offset, newDecodeError("datetime: date payload truncated")
	}
	date, err := tagcodec.DecodeDate(buf[pos : pos+int(dateTag.Length)])
	if err != nil {
		return DateTime{}, offset, err
	}
	pos += int(dateTag.Length)

	timeTag, pos2, err := tagcodec.DecodeTag(buf, pos)
	if err != nil {
		return DateTime{}, offset, err
	}
	if timeTag.Class != tagcodec.Application || timeTag.Number != tagcodec.TagTime {
		return DateTime{}, offset, newDecodeError("datetime: expected application Time tag, got number=%d class=%v", timeTag.Number, timeTag.Class)
	}
	if pos2+int(timeTag.Length) > len(buf) {
		return DateTime{}, offset, newDecodeError("datetime: time payload truncated")
	}
	tm, err := tagcodec.DecodeTime(buf[pos2 : pos2+int(timeTag.Length)])
	if err != nil {
		return DateTime{}, offset, err
	}
	pos2 += int(timeTag.Length)

	return DateTime{Date: date, Time: tm}, pos2, nil
}
