package daemon

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/krisarmstrong/bacstack/pkg/npdu"
)

// peerKey encodes a network/MAC pair into the opaque string TSM peers
// are keyed by. The TSM only ever round-trips this string back to
// sendAPDU, so its shape is private to this package.
func peerKey(net uint16, mac []byte) string {
	return fmt.Sprintf("%d/%s", net, hex.EncodeToString(mac))
}

// PeerAddress builds the peer key a caller driving this Daemon's
// ClientTSM directly needs to address a device on network net at mac.
func PeerAddress(net uint16, mac []byte) string {
	return peerKey(net, mac)
}

// parsePeerKey is peerKey's inverse.
func parsePeerKey(peer string) (uint16, []byte, error) {
	netStr, macStr, ok := strings.Cut(peer, "/")
	if !ok {
		return 0, nil, fmt.Errorf("daemon: malformed peer %q", peer)
	}
	net, err := strconv.ParseUint(netStr, 10, 16)
	if err != nil {
		return 0, nil, fmt.Errorf("daemon: malformed peer %q: %w", peer, err)
	}
	mac, err := hex.DecodeString(macStr)
	if err != nil {
		return 0, nil, fmt.Errorf("daemon: malformed peer %q: %w", peer, err)
	}
	return uint16(net), mac, nil
}

// addressToPeer derives a peer key from a decoded NPDU's address
// fields and the port it arrived on, stamping in the arrival port's
// network number when the sender didn't carry a Source (it is
// directly connected and the router never needed to address it).
func addressToPeer(a *npdu.Address, arrivalNet uint16) string {
	if a == nil {
		return peerKey(arrivalNet, nil)
	}
	return peerKey(a.Net, a.Mac)
}
