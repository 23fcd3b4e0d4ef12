package constructed

import "github.com/krisarmstrong/bacstack/pkg/tagcodec"

// RecipientKind identifies which arm of the BACnetRecipient CHOICE is
// populated.
type RecipientKind int

const (
	RecipientDevice RecipientKind = iota
	RecipientAddress
)

// Recipient is BACnetRecipient ::= CHOICE { device [0] ObjectIdentifier,
// address [1] BACnetAddress }, used by notification-class recipient lists
// and COV subscriptions.
type Recipient struct {
	Kind    RecipientKind
	Device  tagcodec.ObjectIdentifier
	Address Address
}

// Encode serializes the populated arm under its context tag.
func (r Recipient) Encode() ([]byte, error) {
	var out []byte
	switch r.Kind {
	case RecipientDevice:
		payload, err := tagcodec.EncodeObjectIdentifier(r.Device)
		if err != nil {
			return nil, err
		}
		out = append(out, tagcodec.EncodeTag(0, tagcodec.Context, uint32(len(payload)))...)
		out = append(out, payload...)
	case RecipientAddress:
		out = append(out, tagcodec.EncodeOpeningTag(1)...)
		out = append(out, r.Address.Encode()...)
		out = append(out, tagcodec.EncodeClosingTag(1)...)
	}
	return out, nil
}

// DecodeRecipient reads the CHOICE based on the leading tag's context
// number.
func DecodeRecipient(buf []byte, offset int) (Recipient, int, error) {
	tag, _, err := peekTag(buf, offset)
	if err != nil {
		return Recipient{}, offset, err
	}

	switch tag.Number {
	case 0:
		t, next, derr := tagcodec.DecodeTag(buf, offset)
		if derr != nil {
			return Recipient{}, offset, derr
		}
		if next+int(t.Length) > len(buf) {
			return Recipient{}, offset, newDecodeError("recipient: device payload truncated")
		}
		dev, derr := tagcodec.DecodeObjectIdentifier(buf[next : next+int(t.Length)])
		if derr != nil {
			return Recipient{}, offset, derr
		}
		return Recipient{Kind: RecipientDevice, Device: dev}, next + int(t.Length), nil
	case 1:
		pos, err := expectOpening(buf, offset, 1)
		if err != nil {
			return Recipient{}, offset, err
		}
		addr, next, derr := DecodeAddress(buf, pos)
		if derr != nil {
			return Recipient{}, offset, derr
		}
		next, err = expectClosing(buf, next, 1)
		if err != nil {
			return Recipient{}, offset, err
		}
		return Recipient{Kind: RecipientAddress, Address: addr}, next, nil
	default:
		return Recipient{}, offset, newDecodeError("recipient: unknown choice tag %d", tag.Number)
	}
}
