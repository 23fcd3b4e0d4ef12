package constructed

import "github.com/krisarmstrong/bacstack/pkg/tagcodec"

// context tag numbers for BACnetDeviceObjectPropertyReference.
const (
	devObjRefTagObjectID    uint8 = 0
	devObjRefTagPropertyID  uint8 = 1
	devObjRefTagArrayIndex  uint8 = 2
	devObjRefTagDeviceID    uint8 = 3
)

// ObjectPropertyReference is BACnetDeviceObjectPropertyReference: a
// reference to a property (optionally an element of an array property) of
// an object, optionally qualified with the device that owns it. Used by
// the ValueSource CHOICE's object variant.
type ObjectPropertyReference struct {
	Object             tagcodec.ObjectIdentifier
	PropertyIdentifier uint32
	ArrayIndex         *uint32
	Device             *tagcodec.ObjectIdentifier
}

// Encode serializes the reference as a flat run of context-tagged fields
// (no CHOICE wrapper of its own — it is always a field of something else).
func (r ObjectPropertyReference) Encode() ([]byte, error) {
	var out []byte

	objBytes, err := tagcodec.EncodeObjectIdentifier(r.Object)
	if err != nil {
		return nil, err
	}
	out = append(out, tagcodec.EncodeTag(devObjRefTagObjectID, tagcodec.Context, uint32(len(objBytes)))...)
	out = append(out, objBytes...)

	propBytes := tagcodec.EncodeUnsigned(uint64(r.PropertyIdentifier))
	out = append(out, tagcodec.EncodeTag(devObjRefTagPropertyID, tagcodec.Context, uint32(len(propBytes)))...)
	out = append(out, propBytes...)

	if r.ArrayIndex != nil {
		idxBytes := tagcodec.EncodeUnsigned(uint64(*r.ArrayIndex))
		out = append(out, tagcodec.EncodeTag(devObjRefTagArrayIndex, tagcodec.Context, uint32(len(idxBytes)))...)
		out = append(out, idxBytes...)
	}

	if r.Device != nil {
		devBytes, err := tagcodec.EncodeObjectIdentifier(*r.Device)
		if err != nil {
			return nil, err
		}
		out = append(out, tagcodec.EncodeTag(devObjRefTagDeviceID, tagcodec.Context, uint32(len(devBytes)))...)
		out = append(out, devBytes...)
	}

	return out, nil
}

// DecodeObjectPropertyReference parses a flat run of context-tagged fields
// starting at offset, stopping at the first tag that isn't one of this
// type's known field numbers (so callers can embed it inside a larger
// sequence without a length prefix).
func DecodeObjectPropertyReference(buf []byte, offset int) (ObjectPropertyReference, int, error) {
	var ref ObjectPropertyReference
	pos := offset

	tag, next, err := tagcodec.DecodeTag(buf, pos)
	if err != nil {
		return ref, offset, err
	}
	if tag.Number != devObjRefTagObjectID || tag.Class != tagcodec.Context {
		return ref, offset, newDecodeError("object property reference: expected context tag 0 for object-identifier")
	}
	if next+int(tag.Length) > len(buf) {
		return ref, offset, newDecodeError("object property reference: object-identifier payload truncated")
	}
	obj, err := tagcodec.DecodeObjectIdentifier(buf[next : next+int(tag.Length)])
	if err != nil {
		return ref, offset, err
	}
	ref.Object = obj
	pos = next + int(tag.Length)

	tag, next, err = tagcodec.DecodeTag(buf, pos)
	if err != nil {
		return ref, offset, err
	}
	if tag.Number != devObjRefTagPropertyID || tag.Class != tagcodec.Context {
		return ref, offset, newDecodeError("object property reference: expected context tag 1 for property-identifier")
	}
	if next+int(tag.Length) > len(buf) {
		return ref, offset, newDecodeError("object property reference: property-identifier payload truncated")
	}
	propVal, err := tagcodec.DecodeUnsigned(buf[next : next+int(tag.Length)])
	if err != nil {
		return ref, offset, err
	}
	ref.PropertyIdentifier = uint32(propVal)
	pos = next + int(tag.Length)

	if pos < len(buf) {
		peeked, _, err := peekTag(buf, pos)
		if err == nil && peeked.Number == devObjRefTagArrayIndex && peeked.Class == tagcodec.Context && !peeked.IsClosing {
			tag, next, err = tagcodec.DecodeTag(buf, pos)
			if err != nil {
				return ref, offset, err
			}
			if next+int(tag.Length) > len(buf) {
				return ref, offset, newDecodeError("object property reference: array-index payload truncated")
			}
			idxVal, err := tagcodec.DecodeUnsigned(buf[next : next+int(tag.Length)])
			if err != nil {
				return ref, offset, err
			}
			idx := uint32(idxVal)
			ref.ArrayIndex = &idx
			pos = next + int(tag.Length)
		}
	}

	if pos < len(buf) {
		peeked, _, err := peekTag(buf, pos)
		if err == nil && peeked.Number == devObjRefTagDeviceID && peeked.Class == tagcodec.Context && !peeked.IsClosing {
			tag, next, err = tagcodec.DecodeTag(buf, pos)
			if err != nil {
				return ref, offset, err
			}
			if next+int(tag.Length) > len(buf) {
				return ref, offset, newDecodeError("object property reference: device-identifier payload truncated")
			}
			dev, err := tagcodec.DecodeObjectIdentifier(buf[next : next+int(tag.Length)])
			if err != nil {
				return ref, offset, err
			}
			ref.Device = &dev
			pos = next + int(tag.Length)
		}
	}

	return ref, pos, nil
}
