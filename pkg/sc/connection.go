package sc

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krisarmstrong/bacstack/pkg/bacerr"
	"github.com/krisarmstrong/bacstack/pkg/logging"
)

// State is a Connection's position in the AB.6.2 handshake/lifecycle
// state machine.
type State int

const (
	StateIdle State = iota
	StateAwaitingAccept
	StateAwaitingRequest
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingAccept:
		return "AwaitingAccept"
	case StateAwaitingRequest:
		return "AwaitingRequest"
	case StateConnected:
		return "Connected"
	case StateDisconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// Role records which side of the handshake this Connection played.
type Role int

const (
	RoleInitiating Role = iota
	RoleAccepting
)

// Config tunes connection timeouts.
type Config struct {
	ConnectWaitTimeout    time.Duration
	DisconnectWaitTimeout time.Duration
	HeartbeatTimeout      time.Duration
}

// DefaultConfig matches the AB.6.3 defaults.
func DefaultConfig() Config {
	return Config{
		ConnectWaitTimeout:    10 * time.Second,
		DisconnectWaitTimeout: 5 * time.Second,
		HeartbeatTimeout:      300 * time.Second,
	}
}

// VMACCollisionChecker reports whether (vmac, uuid) may proceed; false
// means a collision and the accepting side should NAK.
type VMACCollisionChecker func(vmac VMAC, id uuid.UUID) bool

// Connection is one BACnet/SC WebSocket connection's handshake,
// heartbeat, and disconnect state machine (AB.6.2).
type Connection struct {
	config      Config
	localVMAC   VMAC
	localUUID   uuid.UUID
	maxBVLC     uint16
	maxNPDU     uint16
	hubMode     bool
	Logger      *logging.Logger

	mu         sync.Mutex
	state      State
	role       Role
	ws         Socket
	msgIDCtr   uint16
	lastRecv   time.Time

	PeerVMAC    VMAC
	PeerUUID    uuid.UUID
	PeerMaxBVLC uint16
	PeerMaxNPDU uint16

	OnConnected      func()
	OnDisconnected   func()
	OnMessage        func(msg Message, raw []byte)
	OnVMACCollision  func()

	stop     chan struct{}
	tasksWG  sync.WaitGroup
}

// NewConnection builds a Connection in the Idle state. maxBVLC/maxNPDU
// are this side's advertised maximum BVLC frame and APDU/NPDU sizes.
func NewConnection(localVMAC VMAC, localUUID uuid.UUID, config Config, maxBVLC, maxNPDU uint16, hubMode bool) *Connection {
	return &Connection{
		config:    config,
		localVMAC: localVMAC,
		localUUID: localUUID,
		maxBVLC:   maxBVLC,
		maxNPDU:   maxNPDU,
		hubMode:   hubMode,
		state:     StateIdle,
	}
}

// NegotiatedMaxBVLC returns the smaller of our advertised MaxBVLC and
// the peer's, the effective frame-size ceiling for this connection
// once connected (AB.6.2: neither side may send a frame the other
// didn't advertise room for). Before the handshake completes this
// returns our own advertised value.
func (c *Connection) NegotiatedMaxBVLC() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return negotiatedMax(c.maxBVLC, c.PeerMaxBVLC)
}

// NegotiatedMaxNPDU returns the smaller of our advertised MaxNPDU and
// the peer's.
func (c *Connection) NegotiatedMaxNPDU() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return negotiatedMax(c.maxNPDU, c.PeerMaxNPDU)
}

// negotiatedMax returns the smaller of local and peer, or local alone
// if peer hasn't been learned yet (zero value).
func negotiatedMax(local, peer uint16) uint16 {
	if peer == 0 || peer > local {
		return local
	}
	return peer
}

// State returns the current handshake/lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Role returns which side of the handshake this connection played.
func (c *Connection) Role() Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Connection) nextMsgID() uint16 {
	c.msgIDCtr++
	return c.msgIDCtr
}

func (c *Connection) transition(to State) {
	from := c.state
	c.state = to
	if c.Logger != nil {
		c.Logger.Debugf(2, "sc connection %s: %s -> %s", c.localVMAC, from, to)
	}
}

// Initiate runs the initiating-peer handshake (Figure AB-11) over an
// already-established WebSocket.
func (c *Connection) Initiate(ws Socket) error {
	c.mu.Lock()
	if c.state != StateIdle {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("sc: cannot initiate: state is %s, expected Idle", s)
	}
	c.role = RoleInitiating
	c.ws = ws
	ws.SetMaxFrameSize(int(c.maxBVLC))
	c.transition(StateAwaitingAccept)
	c.mu.Unlock()

	payload := ConnectRequestPayload{VMAC: c.localVMAC, UUID: c.localUUID, MaxBVLC: c.maxBVLC, MaxNPDU: c.maxNPDU}
	req := Message{Function: FuncConnectRequest, MessageID: c.nextMsgID(), Payload: payload.Encode()}
	if err := ws.Send(req.Encode()); err != nil {
		c.goIdle()
		return err
	}

	raw, err := recvWithTimeout(ws, c.config.ConnectWaitTimeout)
	if err != nil {
		c.goIdle()
		return err
	}
	resp, err := Decode(raw, false)
	if err != nil {
		c.goIdle()
		return err
	}

	switch resp.Function {
	case FuncConnectAccept:
		accept, err := DecodeConnectAcceptPayload(resp.Payload)
		if err != nil {
			c.goIdle()
			return err
		}
		c.mu.Lock()
		c.PeerVMAC = accept.VMAC
		c.PeerUUID = accept.UUID
		c.PeerMaxBVLC = accept.MaxBVLC
		c.PeerMaxNPDU = accept.MaxNPDU
		ws.SetMaxFrameSize(int(negotiatedMax(c.maxBVLC, c.PeerMaxBVLC)))
		c.transition(StateConnected)
		c.mu.Unlock()
		c.startBackgroundTasks()
		if c.OnConnected != nil {
			c.OnConnected()
		}
		return nil

	case FuncBVLCResult:
		result, err := DecodeBVLCResultPayload(resp.Payload)
		if err == nil && result.ResultCode == ResultNAK && result.ErrorCode == uint16(bacerr.ErrorCodeDuplicateVMAC) && c.OnVMACCollision != nil {
			c.OnVMACCollision()
		}
		c.goIdle()
		return fmt.Errorf("sc: connect request NAK'd")

	default:
		c.goIdle()
		return fmt.Errorf("sc: unexpected response function %d while awaiting accept", resp.Function)
	}
}

// Accept runs the accepting-peer handshake (Figure AB-12) over an
// already-established WebSocket. checker (if non-nil) may reject a
// colliding VMAC.
func (c *Connection) Accept(ws Socket, checker VMACCollisionChecker) error {
	c.mu.Lock()
	if c.state != StateIdle {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("sc: cannot accept: state is %s, expected Idle", s)
	}
	c.role = RoleAccepting
	c.ws = ws
	ws.SetMaxFrameSize(int(c.maxBVLC))
	c.transition(StateAwaitingRequest)
	c.mu.Unlock()

	raw, err := recvWithTimeout(ws, c.config.ConnectWaitTimeout)
	if err != nil {
		c.goIdle()
		return err
	}
	req, err := Decode(raw, false)
	if err != nil {
		c.goIdle()
		return err
	}
	if req.Function != FuncConnectRequest {
		c.goIdle()
		return fmt.Errorf("sc: expected connect-request, got function %d", req.Function)
	}
	reqPayload, err := DecodeConnectRequestPayload(req.Payload)
	if err != nil {
		c.goIdle()
		return err
	}

	if checker != nil && !checker(reqPayload.VMAC, reqPayload.UUID) {
		nak := BVLCResultPayload{
			ForFunction:       FuncConnectRequest,
			ResultCode:        ResultNAK,
			ErrorClass:        uint16(bacerr.ErrorClassCommunication),
			ErrorCode:         uint16(bacerr.ErrorCodeDuplicateVMAC),
		}
		nakMsg := Message{Function: FuncBVLCResult, MessageID: req.MessageID, Payload: nak.Encode()}
		_ = ws.Send(nakMsg.Encode())
		c.goIdle()
		return fmt.Errorf("sc: rejected colliding VMAC %s", reqPayload.VMAC)
	}

	c.mu.Lock()
	c.PeerVMAC = reqPayload.VMAC
	c.PeerUUID = reqPayload.UUID
	c.PeerMaxBVLC = reqPayload.MaxBVLC
	c.PeerMaxNPDU = reqPayload.MaxNPDU
	ws.SetMaxFrameSize(int(negotiatedMax(c.maxBVLC, c.PeerMaxBVLC)))
	c.mu.Unlock()

	accept := ConnectAcceptPayload{VMAC: c.localVMAC, UUID: c.localUUID, MaxBVLC: c.maxBVLC, MaxNPDU: c.maxNPDU}
	acceptMsg := Message{Function: FuncConnectAccept, MessageID: req.MessageID, Payload: accept.Encode()}
	if err := ws.Send(acceptMsg.Encode()); err != nil {
		c.goIdle()
		return err
	}

	c.mu.Lock()
	c.transition(StateConnected)
	c.mu.Unlock()
	c.startBackgroundTasks()
	if c.OnConnected != nil {
		c.OnConnected()
	}
	return nil
}

// SendMessage encodes and sends msg. Only valid while Connected.
func (c *Connection) SendMessage(msg Message) error {
	c.mu.Lock()
	ws, ok := c.ws, c.state == StateConnected
	c.mu.Unlock()
	if !ok || ws == nil {
		return fmt.Errorf("sc: cannot send: connection not Connected")
	}
	return ws.Send(msg.Encode())
}

// SendRaw sends pre-encoded bytes, used by a hub forwarding a frame
// without re-encoding it.
func (c *Connection) SendRaw(data []byte) error {
	c.mu.Lock()
	ws, ok := c.ws, c.state == StateConnected
	c.mu.Unlock()
	if !ok || ws == nil {
		return fmt.Errorf("sc: cannot send: connection not Connected")
	}
	return ws.Send(data)
}

// WriteRawNoDrain buffers pre-encoded bytes without flushing; pair
// with Drain. Used by hub broadcast to batch writes across many peers.
func (c *Connection) WriteRawNoDrain(data []byte) bool {
	c.mu.Lock()
	ws, ok := c.ws, c.state == StateConnected
	c.mu.Unlock()
	if !ok || ws == nil {
		return false
	}
	return ws.WriteNoDrain(data)
}

// Drain flushes any writes buffered by WriteRawNoDrain.
func (c *Connection) Drain() error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return nil
	}
	return ws.Drain()
}

// Disconnect performs a graceful close: stop background tasks first
// for exclusive socket access, send Disconnect-Request, best-effort
// await Disconnect-ACK, then close the transport.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.state != StateConnected || c.ws == nil {
		c.mu.Unlock()
		c.goIdle()
		return
	}
	c.transition(StateDisconnecting)
	ws := c.ws
	c.mu.Unlock()

	c.stopBackgroundTasks()

	msg := Message{Function: FuncDisconnectRequest, MessageID: c.nextMsgID()}
	if err := ws.Send(msg.Encode()); err != nil {
		c.goIdle()
		return
	}

	raw, err := recvWithTimeout(ws, c.config.DisconnectWaitTimeout)
	if err == nil {
		if resp, err := Decode(raw, false); err == nil {
			_ = resp // Disconnect-ACK or BVLC-Result both proceed to Idle
		}
	}
	c.goIdle()
}

func (c *Connection) startBackgroundTasks() {
	c.mu.Lock()
	c.lastRecv = time.Now()
	c.stop = make(chan struct{})
	role := c.role
	c.mu.Unlock()

	c.tasksWG.Add(1)
	go c.receiveLoop()
	if role == RoleInitiating {
		c.tasksWG.Add(1)
		go c.heartbeatLoop()
	}
}

func (c *Connection) stopBackgroundTasks() {
	c.mu.Lock()
	stop := c.stop
	c.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	c.tasksWG.Wait()
}

func (c *Connection) receiveLoop() {
	defer c.tasksWG.Done()
	for {
		c.mu.Lock()
		connected := c.state == StateConnected
		ws := c.ws
		stop := c.stop
		c.mu.Unlock()
		if !connected || ws == nil {
			return
		}

		type recvResult struct {
			data []byte
			err  error
		}
		ch := make(chan recvResult, 1)
		go func() {
			data, err := ws.Recv()
			ch <- recvResult{data, err}
		}()

		select {
		case <-stop:
			return
		case r := <-ch:
			if r.err != nil {
				if c.Logger != nil {
					c.Logger.Warning("sc connection %s receive error: %v", c.localVMAC, r.err)
				}
				c.mu.Lock()
				still := c.state == StateConnected
				c.mu.Unlock()
				if still {
					c.goIdle()
				}
				return
			}
			c.mu.Lock()
			c.lastRecv = time.Now()
			c.mu.Unlock()

			msg, err := Decode(r.data, c.hubMode)
			if err != nil {
				c.sendDecodeErrorNAK(r.data, err)
				continue
			}
			c.handleMessage(msg, r.data)
		}
	}
}

func (c *Connection) handleMessage(msg Message, raw []byte) {
	c.mu.Lock()
	connected := c.state == StateConnected
	ws := c.ws
	c.mu.Unlock()
	if !connected {
		return
	}

	switch msg.Function {
	case FuncDisconnectRequest:
		if ws != nil {
			ack := Message{Function: FuncDisconnectACK, MessageID: msg.MessageID}
			_ = ws.Send(ack.Encode())
		}
		c.goIdle()
		return

	case FuncHeartbeatRequest:
		if ws != nil {
			ack := Message{Function: FuncHeartbeatACK, MessageID: msg.MessageID}
			_ = ws.Send(ack.Encode())
		}
		return

	case FuncHeartbeatACK:
		if c.Logger != nil {
			c.Logger.Debugf(2, "sc heartbeat ack received: %s", c.localVMAC)
		}
		return
	}

	if c.OnMessage != nil {
		c.OnMessage(msg, raw)
	}
}

func (c *Connection) sendDecodeErrorNAK(raw []byte, decodeErr error) {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return
	}
	forFunction := FuncBVLCResult
	if len(raw) > 0 {
		forFunction = Function(raw[0])
	}
	if isResponseFunction(forFunction) {
		return
	}
	details := decodeErr.Error()
	if len(details) > 128 {
		details = details[:128]
	}
	nak := BVLCResultPayload{
		ForFunction:       forFunction,
		ResultCode:        ResultNAK,
		ErrorClass:        uint16(bacerr.ErrorClassCommunication),
		ErrorCode:         uint16(bacerr.ErrorCodeOther),
		ErrorDetails:      details,
	}
	msg := Message{Function: FuncBVLCResult, MessageID: 0, Payload: nak.Encode()}
	_ = ws.Send(msg.Encode())
}

func (c *Connection) heartbeatLoop() {
	defer c.tasksWG.Done()
	for {
		c.mu.Lock()
		connected := c.state == StateConnected
		ws := c.ws
		stop := c.stop
		lastRecv := c.lastRecv
		c.mu.Unlock()
		if !connected || ws == nil {
			return
		}

		remaining := c.config.HeartbeatTimeout - time.Since(lastRecv)
		if remaining > 0 {
			select {
			case <-stop:
				return
			case <-time.After(remaining):
			}
		}

		c.mu.Lock()
		connected = c.state == StateConnected
		lastRecv = c.lastRecv
		c.mu.Unlock()
		if !connected {
			return
		}
		if time.Since(lastRecv) < c.config.HeartbeatTimeout {
			continue
		}

		hb := Message{Function: FuncHeartbeatRequest, MessageID: c.nextMsgID()}
		if c.Logger != nil {
			c.Logger.Debugf(2, "sc heartbeat sent: %s", c.localVMAC)
		}
		if err := ws.Send(hb.Encode()); err != nil {
			return
		}
	}
}

func (c *Connection) goIdle() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	wasConnected := c.state == StateConnected || c.state == StateDisconnecting
	c.transition(StateIdle)
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
	if wasConnected && c.OnDisconnected != nil {
		c.OnDisconnected()
	}
}
