package sc

import (
	"sync"

	"github.com/krisarmstrong/bacstack/pkg/logging"
)

// Hub hosts many accepting Connections keyed by peer VMAC and routes
// Encapsulated-NPDU traffic between them: destination=Broadcast fans
// out to every peer but the source, destination=VMAC routes to that
// peer alone.
type Hub struct {
	mu    sync.RWMutex
	peers map[VMAC]*Connection
	Logger *logging.Logger
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{peers: make(map[VMAC]*Connection)}
}

// Register adds conn under its peer VMAC once its handshake completes.
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[conn.PeerVMAC] = conn
}

// Unregister removes a peer, e.g. from its OnDisconnected callback.
func (h *Hub) Unregister(vmac VMAC) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.peers, vmac)
}

// PeerCount reports how many peers are currently registered.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// HasPeer reports whether vmac is already registered, so a caller
// accepting a new connection can reject a colliding VMAC before
// Register silently overwrites the existing peer.
func (h *Hub) HasPeer(vmac VMAC) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.peers[vmac]
	return ok
}

// Route forwards a received Encapsulated-NPDU message from source to
// its addressed destination(s). raw is the original frame, forwarded
// as-is (no re-encoding) to save cost, per the hub-mode fast path.
func (h *Hub) Route(msg Message, raw []byte, source VMAC) {
	if msg.DestVMAC == nil {
		return
	}
	dest := *msg.DestVMAC

	h.mu.RLock()
	defer h.mu.RUnlock()

	if dest.IsBroadcast() {
		for vmac, peer := range h.peers {
			if vmac == source {
				continue
			}
			h.forward(peer, raw)
		}
		return
	}

	if peer, ok := h.peers[dest]; ok {
		h.forward(peer, raw)
	}
}

func (h *Hub) forward(peer *Connection, raw []byte) {
	if err := peer.SendRaw(raw); err != nil && h.Logger != nil {
		h.Logger.Warning("sc hub: forward to %s failed: %v", peer.PeerVMAC, err)
	}
}
