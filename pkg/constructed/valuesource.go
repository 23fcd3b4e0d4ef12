package constructed

import "github.com/krisarmstrong/bacstack/pkg/tagcodec"

// ValueSourceKind identifies which arm of the BACnetValueSource CHOICE is
// populated.
type ValueSourceKind int

const (
	ValueSourceNone ValueSourceKind = iota
	ValueSourceObject
	ValueSourceAddress
)

// ValueSource is BACnetValueSource ::= CHOICE { none [0] Null,
// object [1] BACnetDeviceObjectReference, address [2] BACnetAddress },
// used to report who last wrote a command-prioritized property.
type ValueSource struct {
	Kind    ValueSourceKind
	Object  ObjectPropertyReference
	Address Address
}

// Encode serializes the populated arm under its context tag.
func (vs ValueSource) Encode() ([]byte, error) {
	switch vs.Kind {
	case ValueSourceNone:
		return tagcodec.EncodeTag(0, tagcodec.Context, 0), nil
	case ValueSourceObject:
		var out []byte
		out = append(out, tagcodec.EncodeOpeningTag(1)...)
		inner, err := vs.Object.Encode()
		if err != nil {
			return nil, err
		}
		out = append(out, inner...)
		out = append(out, tagcodec.EncodeClosingTag(1)...)
		return out, nil
	case ValueSourceAddress:
		var out []byte
		out = append(out, tagcodec.EncodeOpeningTag(2)...)
		out = append(out, vs.Address.Encode()...)
		out = append(out, tagcodec.EncodeClosingTag(2)...)
		return out, nil
	default:
		return nil, newDecodeError("value source: invalid kind %d", vs.Kind)
	}
}

// DecodeValueSource reads the CHOICE based on the leading tag's context
// number.
func DecodeValueSource(buf []byte, offset int) (ValueSource, int, error) {
	tag, _, err := peekTag(buf, offset)
	if err != nil {
		return ValueSource{}, offset, err
	}

	switch tag.Number {
	case 0:
		_, next, derr := tagcodec.DecodeTag(buf, offset)
		if derr != nil {
			return ValueSource{}, offset, derr
		}
		return ValueSource{Kind: ValueSourceNone}, next, nil
	case 1:
		pos, err := expectOpening(buf, offset, 1)
		if err != nil {
			return ValueSource{}, offset, err
		}
		ref, next, derr := DecodeObjectPropertyReference(buf, pos)
		if derr != nil {
			return ValueSource{}, offset, derr
		}
		next, err = expectClosing(buf, next, 1)
		if err != nil {
			return ValueSource{}, offset, err
		}
		return ValueSource{Kind: ValueSourceObject, Object: ref}, next, nil
	case 2:
		pos, err := expectOpening(buf, offset, 2)
		if err != nil {
			return ValueSource{}, offset, err
		}
		addr, next, derr := DecodeAddress(buf, pos)
		if derr != nil {
			return ValueSource{}, offset, derr
		}
		next, err = expectClosing(buf, next, 2)
		if err != nil {
			return ValueSource{}, offset, err
		}
		return ValueSource{Kind: ValueSourceAddress, Address: addr}, next, nil
	default:
		return ValueSource{}, offset, newDecodeError("value source: unknown choice tag %d", tag.Number)
	}
}
