package constructed

import "github.com/krisarmstrong/bacstack/pkg/tagcodec"

// context tag numbers for BACnetAddress.
const (
	addrTagNetworkNumber uint8 = 0
	addrTagMACAddress    uint8 = 1
)

// Address is BACnetAddress ::= SEQUENCE { network-number Unsigned16,
// mac-address OCTET STRING }. Network 0 means "local" (mac-address is the
// directly-connected MAC); the transport layers (pkg/bip, pkg/sc) convert
// to/from their own native address representations at the boundary.
type Address struct {
	NetworkNumber uint16
	MACAddress    []byte
}

// Encode serializes the address as two context-tagged fields (no CHOICE
// wrapper — callers that embed it inside a CHOICE variant add the
// opening/closing pair themselves).
func (a Address) Encode() []byte {
	var out []byte
	netBytes := tagcodec.EncodeUnsigned(uint64(a.NetworkNumber))
	out = append(out, tagcodec.EncodeTag(addrTagNetworkNumber, tagcodec.Context, uint32(len(netBytes)))...)
	out = append(out, netBytes...)

	out = append(out, tagcodec.EncodeTag(addrTagMACAddress, tagcodec.Context, uint32(len(a.MACAddress)))...)
	out = append(out, a.MACAddress...)
	return out
}

// DecodeAddress parses a flat pair of context-tagged fields starting at
// offset.
func DecodeAddress(buf []byte, offset int) (Address, int, error) {
	var addr Address

	tag, next, err := tagcodec.DecodeTag(buf, offset)
	if err != nil {
		return addr, offset, err
	}
	if tag.Number != addrTagNetworkNumber || tag.Class != tagcodec.Context {
		return addr, offset, newDecodeError("address: expected context tag 0 for network-number")
	}
	if next+int(tag.Length) > len(buf) {
		return addr, offset, newDecodeError("address: network-number payload truncated")
	}
	netVal, err := tagcodec.DecodeUnsigned(buf[next : next+int(tag.Length)])
	if err != nil {
		return addr, offset, err
	}
	addr.NetworkNumber = uint16(netVal)
	pos := next + int(tag.Length)

	tag, next, err = tagcodec.DecodeTag(buf, pos)
	if err != nil {
		return addr, offset, err
	}
	if tag.Number != addrTagMACAddress || tag.Class != tagcodec.Context {
		return addr, offset, newDecodeError("address: expected context tag 1 for mac-address")
	}
	if next+int(tag.Length) > len(buf) {
		return addr, offset, newDecodeError("address: mac-address payload truncated")
	}
	addr.MACAddress = append([]byte{}, buf[next:next+int(tag.Length)]...)
	pos = next + int(tag.Length)

	return addr, pos, nil
}
