package constructed

import "github.com/krisarmstrong/bacstack/pkg/tagcodec"

// PriorityArraySlots is the fixed slot count of BACnetPriorityArray
// (Clause 12.2.16): sixteen priority slots, 1 (highest) through 16 (lowest,
// "manual life safety" excepted).
const PriorityArraySlots = 16

// PriorityArray is BACnetPriorityArray: sixteen slots, each either
// relinquished (nil, encoded as an application Null) or holding the raw
// application-tagged encoding of a present value. The payload type varies
// by the owning property's datatype, so this layer carries the encoded
// bytes opaquely rather than interpreting them.
type PriorityArray struct {
	Slots [PriorityArraySlots][]byte
}

// Encode serializes all sixteen slots in order.
func (pa PriorityArray) Encode() []byte {
	var out []byte
	nullTag := tagcodec.EncodeTag(tagcodec.TagNull, tagcodec.Application, 0)
	for _, slot := range pa.Slots {
		if slot == nil {
			out = append(out, nullTag...)
			continue
		}
		out = append(out, slot...)
	}
	return out
}

// DecodePriorityArray reads sixteen application-tagged slot values (each
// either a Null or some other primitive's full tag+payload encoding)
// starting at offset.
func DecodePriorityArray(buf []byte, offset int) (PriorityArray, int, error) {
	var pa PriorityArray
	pos := offset
	for i := 0; i < PriorityArraySlots; i++ {
		tag, next, err := tagcodec.DecodeTag(buf, pos)
		if err != nil {
			return pa, offset, err
		}
		if tag.Class == tagcodec.Application && tag.Number == tagcodec.TagNull {
			pos = next
			continue
		}
		if next+int(tag.Length) > len(buf) {
			return pa, offset, newDecodeError("priority array: slot %d payload truncated", i+1)
		}
		end := next + int(tag.Length)
		pa.Slots[i] = append([]byte{}, buf[pos:end]...)
		pos = end
	}
	return pa, pos, nil
}

// EffectiveSlot returns the 1-indexed highest-priority non-relinquished
// slot's encoded value, or nil if every slot is relinquished (meaning the
// property falls back to its Relinquish-Default value).
func (pa PriorityArray) EffectiveSlot() (int, []byte) {
	for i, slot := range pa.Slots {
		if slot != nil {
			return i + 1, slot
		}
	}
	return 0, nil
}
