package constructed

import "github.com/krisarmstrong/bacstack/pkg/tagcodec"

// FaultParameter is the BACnetFaultParameter CHOICE (Clause 13.4): each
// variant is identified by its own context tag number and carries that
// number as the CHOICE's opening/closing wrapper tag.
type FaultParameter interface {
	faultTag() uint8
	encodeInner() []byte
}

// EncodeFaultParameter wraps a variant's inner encoding in the CHOICE's opening/closing
// tag pair.
func EncodeFaultParameter(fp FaultParameter) []byte {
	var out []byte
	out = append(out, tagcodec.EncodeOpeningTag(fp.faultTag())...)
	out = append(out, fp.encodeInner()...)
	out = append(out, tagcodec.EncodeClosingTag(fp.faultTag())...)
	return out
}

// FaultNone is the "none" variant (tag 0): no fault condition algorithm is
// active for the property.
type FaultNone struct{}

func (FaultNone) faultTag() uint8 { return 0 }
func (FaultNone) encodeInner() []byte {
	return tagcodec.EncodeTag(tagcodec.TagNull, tagcodec.Application, 0)
}

// FaultCharacterString is the "fault-characterstring" variant (tag 1): a
// list of character-string values that indicate a fault condition.
type FaultCharacterString struct {
	FaultValues []string
}

func (FaultCharacterString) faultTag() uint8 { return 1 }
func (f FaultCharacterString) encodeInner() []byte {
	var out []byte
	out = append(out, tagcodec.EncodeOpeningTag(0)...)
	for _, s := range f.FaultValues {
		payload := tagcodec.EncodeCharacterString(tagcodec.CharacterString{Value: s})
		out = append(out, tagcodec.EncodeTag(tagcodec.TagCharacterString, tagcodec.Application, uint32(len(payload)))...)
		out = append(out, payload...)
	}
	out = append(out, tagcodec.EncodeClosingTag(0)...)
	return out
}

// FaultExtended is the "fault-extended" variant (tag 2): a vendor-specific
// fault algorithm identified by vendor ID and fault type, carrying opaque
// vendor-defined parameters.
type FaultExtended struct {
	VendorID          uint16
	ExtendedFaultType uint32
	Parameters        []byte
}

func (FaultExtended) faultTag() uint8 { return 2 }
func (f FaultExtended) encodeInner() []byte {
	var out []byte
	vidBytes := tagcodec.EncodeUnsigned(uint64(f.VendorID))
	out = append(out, tagcodec.EncodeTag(0, tagcodec.Context, uint32(len(vidBytes)))...)
	out = append(out, vidBytes...)

	eftBytes := tagcodec.EncodeUnsigned(uint64(f.ExtendedFaultType))
	out = append(out, tagcodec.EncodeTag(1, tagcodec.Context, uint32(len(eftBytes)))...)
	out = append(out, eftBytes...)

	out = append(out, tagcodec.EncodeOpeningTag(2)...)
	out = append(out, f.Parameters...)
	out = append(out, tagcodec.EncodeClosingTag(2)...)
	return out
}

// FaultLifeSafety is the "fault-life-safety" variant (tag 3): a pair of
// lists naming life-safety states and modes that indicate a fault.
type FaultLifeSafety struct {
	FaultValues []uint32
	ModeValues  []uint32
}

func (FaultLifeSafety) faultTag() uint8 { return 3 }
func (f FaultLifeSafety) encodeInner() []byte {
	var out []byte
	out = append(out, tagcodec.EncodeOpeningTag(0)...)
	for _, v := range f.FaultValues {
		payload := tagcodec.EncodeUnsigned(uint64(v))
		out = append(out, tagcodec.EncodeTag(tagcodec.TagEnumerated, tagcodec.Application, uint32(len(payload)))...)
		out = append(out, payload...)
	}
	out = append(out, tagcodec.EncodeClosingTag(0)...)

	out = append(out, tagcodec.EncodeOpeningTag(1)...)
	for _, m := range f.ModeValues {
		payload := tagcodec.EncodeUnsigned(uint64(m))
		out = append(out, tagcodec.EncodeTag(tagcodec.TagEnumerated, tagcodec.Application, uint32(len(payload)))...)
		out = append(out, payload...)
	}
	out = append(out, tagcodec.EncodeClosingTag(1)...)
	return out
}

// DecodeFaultParameter reads the CHOICE opening tag to determine the
// variant, decodes its inner fields, and consumes the matching closing tag.
func DecodeFaultParameter(buf []byte, offset int) (FaultParameter, int, error) {
	tag, pos, err := peekTag(buf, offset)
	if err != nil {
		return nil, offset, err
	}
	if !tag.IsOpening {
		return nil, offset, newDecodeError("fault parameter: expected opening tag, got number=%d", tag.Number)
	}
	choiceTag := tag.Number

	var fp FaultParameter
	switch choiceTag {
	case 0:
		if _, pos, err = tagcodec.DecodeTag(buf, pos); err != nil {
			return nil, offset, err
		}
		fp = FaultNone{}
	case 1:
		var values []string
		pos, err = expectOpening(buf, pos, 0)
		if err != nil {
			return nil, offset, err
		}
		for {
			peeked, _, perr := peekTag(buf, pos)
			if perr != nil {
				return nil, offset, perr
			}
			if peeked.IsClosing && peeked.Number == 0 {
				break
			}
			t, next, derr := tagcodec.DecodeTag(buf, pos)
			if derr != nil {
				return nil, offset, derr
			}
			if next+int(t.Length) > len(buf) {
				return nil, offset, newDecodeError("fault parameter: character string payload truncated")
			}
			cs, derr := tagcodec.DecodeCharacterString(buf[next : next+int(t.Length)])
			if derr != nil {
				return nil, offset, derr
			}
			values = append(values, cs.Value)
			pos = next + int(t.Length)
		}
		pos, err = expectClosing(buf, pos, 0)
		if err != nil {
			return nil, offset, err
		}
		fp = FaultCharacterString{FaultValues: values}
	case 2:
		vidTag, next, derr := tagcodec.DecodeTag(buf, pos)
		if derr != nil {
			return nil, offset, derr
		}
		vidVal, derr := tagcodec.DecodeUnsigned(buf[next : next+int(vidTag.Length)])
		if derr != nil {
			return nil, offset, derr
		}
		pos = next + int(vidTag.Length)

		eftTag, next, derr := tagcodec.DecodeTag(buf, pos)
		if derr != nil {
			return nil, offset, derr
		}
		eftVal, derr := tagcodec.DecodeUnsigned(buf[next : next+int(eftTag.Length)])
		if derr != nil {
			return nil, offset, derr
		}
		pos = next + int(eftTag.Length)

		pos, err = expectOpening(buf, pos, 2)
		if err != nil {
			return nil, offset, err
		}
		start := pos
		for {
			peeked, _, perr := peekTag(buf, pos)
			if perr != nil {
				return nil, offset, perr
			}
			if peeked.IsClosing && peeked.Number == 2 {
				break
			}
			_, next, derr := tagcodec.DecodeTag(buf, pos)
			if derr != nil {
				return nil, offset, derr
			}
			pos = next
		}
		params := append([]byte{}, buf[start:pos]...)
		pos, err = expectClosing(buf, pos, 2)
		if err != nil {
			return nil, offset, err
		}
		fp = FaultExtended{VendorID: uint16(vidVal), ExtendedFaultType: uint32(eftVal), Parameters: params}
	case 3:
		var faultValues, modeValues []uint32
		pos, err = expectOpening(buf, pos, 0)
		if err != nil {
			return nil, offset, err
		}
		for {
			peeked, _, perr := peekTag(buf, pos)
			if perr != nil {
				return nil, offset, perr
			}
			if peeked.IsClosing && peeked.Number == 0 {
				break
			}
			t, next, derr := tagcodec.DecodeTag(buf, pos)
			if derr != nil {
				return nil, offset, derr
			}
			v, derr := tagcodec.DecodeUnsigned(buf[next : next+int(t.Length)])
			if derr != nil {
				return nil, offset, derr
			}
			faultValues = append(faultValues, uint32(v))
			pos = next + int(t.Length)
		}
		pos, err = expectClosing(buf, pos, 0)
		if err != nil {
			return nil, offset, err
		}

		pos, err = expectOpening(buf, pos, 1)
		if err != nil {
			return nil, offset, err
		}
		for {
			peeked, _, perr := peekTag(buf, pos)
			if perr != nil {
				return nil, offset, perr
			}
			if peeked.IsClosing && peeked.Number == 1 {
				break
			}
			t, next, derr := tagcodec.DecodeTag(buf, pos)
			if derr != nil {
				return nil, offset, derr
			}
			v, derr := tagcodec.DecodeUnsigned(buf[next : next+int(t.Length)])
			if derr != nil {
				return nil, offset, derr
			}
			modeValues = append(modeValues, uint32(v))
			pos = next + int(t.Length)
		}
		pos, err = expectClosing(buf, pos, 1)
		if err != nil {
			return nil, offset, err
		}
		fp = FaultLifeSafety{FaultValues: faultValues, ModeValues: modeValues}
	default:
		return nil, offset, newDecodeError("fault parameter: unknown choice tag %d", choiceTag)
	}

	pos, err = expectClosing(buf, pos, choiceTag)
	if err != nil {
		return nil, offset, err
	}
	return fp, pos, nil
}
