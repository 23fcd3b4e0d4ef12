package sc

import "fmt"

// VMAC is a BACnet/SC virtual MAC address (Annex AB.1): a 6-byte value
// carried in Connect-Request/Accept and in every routed data message.
type VMAC [6]byte

func (v VMAC) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", v[0], v[1], v[2], v[3], v[4], v[5])
}

// Broadcast is the reserved all-ones VMAC meaning "every connected peer".
var Broadcast = VMAC{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// IsBroadcast reports whether v is the reserved broadcast VMAC.
func (v VMAC) IsBroadcast() bool { return v == Broadcast }
