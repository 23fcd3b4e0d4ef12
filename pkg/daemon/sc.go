package daemon

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/krisarmstrong/bacstack/pkg/logging"
	"github.com/krisarmstrong/bacstack/pkg/sc"
)

// scNode is one point-to-point BACnet/SC port: a single Connection
// that either dialed out or was accepted, wired directly into the
// router like any other transport.
type scNode struct {
	network  uint16
	portID   int
	conn     *sc.Connection
	listener *http.Server // non-nil when this port accepts rather than dials
}

// MaxNPDULength satisfies router.Transport, reporting the negotiated
// ceiling (min of our and the peer's advertised MaxNPDU) rather than
// our own advertised value alone.
func (n *scNode) MaxNPDULength() uint32 { return uint32(n.conn.NegotiatedMaxNPDU()) }

// SendFrame satisfies router.Transport; BACnet/SC is point-to-point so
// mac is advisory and mostly ignored (there is exactly one peer).
func (n *scNode) SendFrame(mac []byte, payload []byte) error {
	return n.conn.SendMessage(sc.Message{Function: sc.FuncEncapsulatedNPDU, MessageID: 0, Payload: payload})
}

func (n *scNode) close() error {
	if n.listener != nil {
		_ = n.listener.Close()
	}
	if n.conn != nil {
		n.conn.Disconnect()
	}
	return nil
}

// wireSCNode constructs the OnMessage/OnDisconnected glue common to
// both dialed and accepted node connections, feeding decoded NPDUs
// into the router under portID.
func (d *Daemon) wireSCNode(conn *sc.Connection, network uint16, portID int) {
	conn.OnMessage = func(msg sc.Message, raw []byte) {
		if msg.Function != sc.FuncEncapsulatedNPDU {
			return
		}
		peerMac := conn.PeerVMAC[:]
		d.net.OnPortReceive(portID, peerMac, stampSource(msg.Payload, network, peerMac))
	}
}

// dialSCNode opens an outbound BACnet/SC connection (AB.6.2 initiating role).
func dialSCNode(dialURL string, localVMAC sc.VMAC, localUUID uuid.UUID) (*sc.Connection, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	wsConn, _, err := dialer.Dial(dialURL, nil)
	if err != nil {
		return nil, fmt.Errorf("daemon: dial sc endpoint %s: %w", dialURL, err)
	}
	conn := sc.NewConnection(localVMAC, localUUID, sc.DefaultConfig(), 1497, 1497, false)
	socket := sc.NewGorillaSocket(wsConn)
	if err := conn.Initiate(socket); err != nil {
		return nil, fmt.Errorf("daemon: sc handshake to %s: %w", dialURL, err)
	}
	return conn, nil
}

// acceptSCNode starts an HTTP server that upgrades its single expected
// peer connection and hands it off through accepted.
func acceptSCNode(listenURL string, localVMAC sc.VMAC, localUUID uuid.UUID, accepted chan<- *sc.Connection) (*http.Server, error) {
	u, err := url.Parse(listenURL)
	if err != nil {
		return nil, fmt.Errorf("daemon: invalid sc listen url %q: %w", listenURL, err)
	}
	upgrader := websocket.Upgrader{Subprotocols: []string{"hub.bsc.bacnet.org"}}

	mux := http.NewServeMux()
	mux.HandleFunc(u.Path, func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := sc.NewConnection(localVMAC, localUUID, sc.DefaultConfig(), 1497, 1497, false)
		socket := sc.NewGorillaSocket(wsConn)
		if err := conn.Accept(socket, func(sc.VMAC, uuid.UUID) bool { return true }); err != nil {
			logging.Warning("sc: accept from %s failed: %v", r.RemoteAddr, err)
			return
		}
		accepted <- conn
	})

	srv := &http.Server{Addr: u.Host, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("sc: listener on %s failed: %v", u.Host, err)
		}
	}()
	return srv, nil
}

// hubServer runs this daemon's BACnet/SC hub function (AB.6.1): a pure
// message relay between every connected peer, addressed by VMAC. Hub
// peers are never added to the routing table — the hub has no
// application layer of its own, only Hub.Route's fan-out/unicast relay.
type hubServer struct {
	srv *http.Server
	hub *sc.Hub
}

func newHubServer(listenURL string, localVMAC sc.VMAC, localUUID uuid.UUID, hub *sc.Hub) (*hubServer, error) {
	u, err := url.Parse(listenURL)
	if err != nil {
		return nil, fmt.Errorf("daemon: invalid sc hub url %q: %w", listenURL, err)
	}
	upgrader := websocket.Upgrader{Subprotocols: []string{"hub.bsc.bacnet.org"}}

	mux := http.NewServeMux()
	mux.HandleFunc(u.Path, func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := sc.NewConnection(localVMAC, localUUID, sc.DefaultConfig(), 1497, 1497, true)
		socket := sc.NewGorillaSocket(wsConn)
		checker := func(vmac sc.VMAC, _ uuid.UUID) bool {
			return !hub.HasPeer(vmac)
		}
		if err := conn.Accept(socket, checker); err != nil {
			logging.Warning("sc hub: accept from %s failed: %v", r.RemoteAddr, err)
			return
		}
		hub.Register(conn)
		peer := conn.PeerVMAC
		conn.OnDisconnected = func() { hub.Unregister(peer) }
		conn.OnMessage = func(msg sc.Message, raw []byte) {
			if msg.Function == sc.FuncEncapsulatedNPDU {
				hub.Route(msg, raw, peer)
			}
		}
	})

	srv := &http.Server{Addr: u.Host, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error("sc hub: listener on %s failed: %v", u.Host, err)
		}
	}()
	return &hubServer{srv: srv, hub: hub}, nil
}

func (h *hubServer) close(ctx context.Context) error {
	return h.srv.Shutdown(ctx)
}
