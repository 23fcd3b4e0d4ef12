// Package tsm implements the transaction state machine (Clause 5):
// client-side outstanding confirmed requests with invoke-ID
// arbitration, retry/timeout handling and segmentation, and the
// server-side mirror that de-duplicates retried requests and drives a
// service handler to completion.
package tsm

import (
	"fmt"
	"sync"
	"time"

	"github.com/krisarmstrong/bacstack/pkg/apdu"
	"github.com/krisarmstrong/bacstack/pkg/bacerr"
	"github.com/krisarmstrong/bacstack/pkg/logging"
	"github.com/krisarmstrong/bacstack/pkg/segmentation"
)

// Defaults per spec: a client transaction is resent up to three times
// on 3-second APDU timeouts and aborts when the fourth APDU timer
// expires unanswered, and a segment window uses a single segment timer
// of four times the 2-second segment timeout.
const (
	DefaultAPDUTimeout   = 3 * time.Second
	DefaultMaxRetries    = 3
	DefaultSegmentTimeout = 2 * time.Second
	DefaultSegmentMultiple = 4

	ourMaxSegments = 64
)

// SendFunc hands one APDU to the network layer for a given peer key.
// The peer key is opaque to the TSM — callers typically derive it from
// a BACnetAddress via fmt.Sprintf or a transport-specific encoding.
type SendFunc func(peer string, a apdu.APDU) error

// OutcomeKind classifies how a client transaction ended.
type OutcomeKind int

const (
	OutcomeSimpleACK OutcomeKind = iota
	OutcomeComplexACK
	OutcomeError
	OutcomeReject
	OutcomeAbort
)

// Outcome is delivered on a client transaction's result channel
// exactly once.
type Outcome struct {
	Kind          OutcomeKind
	ServiceChoice uint8
	Payload       []byte // reassembled service data, for ComplexACK

	ErrClass bacerr.ErrorClass
	ErrCode  bacerr.ErrorCode

	RejectReason bacerr.RejectReason
	AbortReason  bacerr.AbortReason
}

// clientTxn is one outstanding confirmed request awaiting a result.
type clientTxn struct {
	mu sync.Mutex

	peer          string
	invokeID      uint8
	serviceChoice uint8
	maxAPDULength uint32
	windowSize    uint8

	retries    int
	maxRetries int
	timer      *time.Timer

	sender   *segmentation.Sender
	receiver *segmentation.Receiver

	lastRequest apdu.ConfirmedRequest
	result      chan Outcome
	completed   bool
}

func (t *clientTxn) complete(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.completed {
		return
	}
	t.completed = true
	if t.timer != nil {
		t.timer.Stop()
	}
	t.result <- o
	close(t.result)
}

// clientPeer tracks invoke-ID allocation and live transactions for one
// remote peer, per Clause 5.4.2's "scan for an unused value" rule.
type clientPeer struct {
	mu          sync.Mutex
	inUse       [256]bool
	tombstoned  [256]bool
	txns        map[uint8]*clientTxn
}

func newClientPeer() *clientPeer {
	return &clientPeer{txns: make(map[uint8]*clientTxn)}
}

// ErrNoFreeInvokeID is returned when a peer already has 256 confirmed
// requests outstanding; the caller is expected to retry once one
// completes (the core's cooperative scheduler would await this instead
// of erroring, but a thread-based Go TSM surfaces it synchronously).
var ErrNoFreeInvokeID = fmt.Errorf("tsm: no free invoke ID for peer")

// ClientTSM manages outstanding client-side confirmed transactions.
type ClientTSM struct {
	mu    sync.Mutex
	peers map[string]*clientPeer

	send           SendFunc
	Logger         *logging.Logger
	APDUTimeout    time.Duration
	MaxRetries     int
	SegmentTimeout time.Duration
}

// NewClientTSM builds a ClientTSM with ASHRAE 135's default timers.
func NewClientTSM(send SendFunc) *ClientTSM {
	return &ClientTSM{
		peers:          make(map[string]*clientPeer),
		send:           send,
		APDUTimeout:    DefaultAPDUTimeout,
		MaxRetries:     DefaultMaxRetries,
		SegmentTimeout: DefaultSegmentTimeout,
	}
}

func (c *ClientTSM) peerFor(peer string) *clientPeer {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.peers[peer]
	if !ok {
		p = newClientPeer()
		c.peers[peer] = p
	}
	return p
}

func (p *clientPeer) allocate() (uint8, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < 256; i++ {
		id := uint8(i)
		if !p.inUse[id] && !p.tombstoned[id] {
			p.inUse[id] = true
			return id, true
		}
	}
	return 0, false
}

func (p *clientPeer) free(id uint8, tombstoneFor time.Duration) {
	p.mu.Lock()
	delete(p.txns, id)
	p.inUse[id] = false
	p.mu.Unlock()

	if tombstoneFor <= 0 {
		return
	}
	p.mu.Lock()
	p.tombstoned[id] = true
	p.mu.Unlock()
	time.AfterFunc(tombstoneFor, func() {
		p.mu.Lock()
		p.tombstoned[id] = false
		p.mu.Unlock()
	})
}

// Request issues a confirmed request and returns a channel that
// receives exactly one Outcome. maxAPDULength/peerMaxSegments describe
// what the peer declared it can accept; segResponseAccepted mirrors
// segmented_response_accepted in the outbound ConfirmedRequest.
func (c *ClientTSM) Request(peer string, serviceChoice uint8, payload []byte, maxAPDULength uint32, peerMaxSegments uint16, windowSize uint8, segResponseAccepted bool) (<-chan Outcome, error) {
	p := c.peerFor(peer)
	id, ok := p.allocate()
	if !ok {
		return nil, ErrNoFreeInvokeID
	}
	if windowSize == 0 {
		windowSize = 1
	}

	txn := &clientTxn{
		peer:          peer,
		invokeID:      id,
		serviceChoice: serviceChoice,
		maxAPDULength: maxAPDULength,
		windowSize:    windowSize,
		maxRetries:    c.MaxRetries,
		result:        make(chan Outcome, 1),
	}

	unsegmentedLimit := int(maxAPDULength) - 4
	if unsegmentedLimit < 0 {
		unsegmentedLimit = 0
	}

	if len(payload) > unsegmentedLimit {
		sender, err := segmentation.NewSender(payload, maxAPDULength, segmentation.ConfirmedRequestOverhead, peerMaxSegments, windowSize)
		if err != nil {
			p.free(id, 0)
			return nil, err
		}
		txn.sender = sender
		p.mu.Lock()
		p.txns[id] = txn
		p.mu.Unlock()
		c.sendWindow(p, txn)
		return txn.result, nil
	}

	txn.lastRequest = apdu.ConfirmedRequest{
		Segmented:                 false,
		SegmentedResponseAccepted: segResponseAccepted,
		MaxAPDULengthAccepted:     maxAPDULength,
		InvokeID:                  id,
		ServiceChoice:             serviceChoice,
		ServiceData:               payload,
	}
	p.mu.Lock()
	p.txns[id] = txn
	p.mu.Unlock()

	c.emit(txn, txn.lastRequest)
	c.armAPDUTimer(p, txn)
	return txn.result, nil
}

// Cancel drops interest in a transaction's result, per §5's
// tombstone rule: late responses for this invoke ID are discarded
// instead of being (mis)delivered to whatever transaction reuses the
// ID next.
func (c *ClientTSM) Cancel(peer string, invokeID uint8) {
	p := c.peerFor(peer)
	p.mu.Lock()
	txn, ok := p.txns[invokeID]
	p.mu.Unlock()
	if !ok {
		return
	}
	txn.mu.Lock()
	txn.completed = true
	if txn.timer != nil {
		txn.timer.Stop()
	}
	txn.mu.Unlock()
	p.free(invokeID, c.APDUTimeout*time.Duration(c.MaxRetries+1))
}

func (c *ClientTSM) emit(txn *clientTxn, a apdu.APDU) {
	if err := c.send(txn.peer, a); err != nil && c.Logger != nil {
		c.Logger.Warning("tsm: send failed for invoke ID %d: %v", txn.invokeID, err)
	}
}

func (c *ClientTSM) armAPDUTimer(p *clientPeer, txn *clientTxn) {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.timer != nil {
		txn.timer.Stop()
	}
	txn.timer = time.AfterFunc(c.APDUTimeout, func() { c.onAPDUTimeout(p, txn) })
}

func (c *ClientTSM) onAPDUTimeout(p *clientPeer, txn *clientTxn) {
	txn.mu.Lock()
	if txn.completed {
		txn.mu.Unlock()
		return
	}
	if txn.retries >= txn.maxRetries {
		txn.mu.Unlock()
		txn.complete(Outcome{Kind: OutcomeAbort, AbortReason: bacerr.AbortTsmTimeout})
		p.free(txn.invokeID, c.APDUTimeout*time.Duration(c.MaxRetries+1))
		return
	}
	txn.retries++
	req := txn.lastRequest
	txn.mu.Unlock()

	c.emit(txn, req)
	c.armAPDUTimer(p, txn)
}

func (c *ClientTSM) armSegmentTimer(p *clientPeer, txn *clientTxn) {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	if txn.timer != nil {
		txn.timer.Stop()
	}
	txn.timer = time.AfterFunc(c.SegmentTimeout*DefaultSegmentMultiple, func() { c.onSegmentTimeout(p, txn) })
}

func (c *ClientTSM) onSegmentTimeout(p *clientPeer, txn *clientTxn) {
	txn.mu.Lock()
	if txn.completed {
		txn.mu.Unlock()
		return
	}
	txn.mu.Unlock()
	txn.complete(Outcome{Kind: OutcomeAbort, AbortReason: bacerr.AbortTsmTimeout})
	p.free(txn.invokeID, c.APDUTimeout*time.Duration(c.MaxRetries+1))
}

// sendWindow transmits the sender's current window as a run of
// Confirmed-Request segments and arms the segment timer.
func (c *ClientTSM) sendWindow(p *clientPeer, txn *clientTxn) {
	segs := txn.sender.FillWindow()
	for _, seg := range segs {
		cr := apdu.ConfirmedRequest{
			Segmented:             true,
			MoreFollows:           seg.MoreFollows,
			ProposedWindowSize:    txn.windowSize,
			MaxAPDULengthAccepted: txn.maxAPDULength,
			InvokeID:              txn.invokeID,
			SequenceNumber:        seg.Seq,
			ServiceChoice:         txn.serviceChoice,
			ServiceData:           seg.Bytes,
		}
		txn.mu.Lock()
		txn.lastRequest = cr
		txn.mu.Unlock()
		c.emit(txn, cr)
	}
	c.armSegmentTimer(p, txn)
}

// HandleIncoming dispatches an APDU arriving on this peer's handle to
// the matching outstanding transaction.
func (c *ClientTSM) HandleIncoming(peer string, a apdu.APDU) {
	p := c.peerFor(peer)

	var invokeID uint8
	switch v := a.(type) {
	case apdu.SimpleACK:
		invokeID = v.InvokeID
	case apdu.ComplexACK:
		invokeID = v.InvokeID
	case apdu.SegmentACK:
		invokeID = v.InvokeID
	case apdu.Error:
		invokeID = v.InvokeID
	case apdu.Reject:
		invokeID = v.InvokeID
	case apdu.Abort:
		invokeID = v.InvokeID
	default:
		return
	}

	p.mu.Lock()
	txn, ok := p.txns[invokeID]
	p.mu.Unlock()
	if !ok {
		return // tombstoned or unknown invoke ID: discard silently
	}

	switch v := a.(type) {
	case apdu.SimpleACK:
		txn.complete(Outcome{Kind: OutcomeSimpleACK, ServiceChoice: v.ServiceChoice})
		p.free(invokeID, 0)

	case apdu.ComplexACK:
		c.handleComplexACK(p, txn, v)

	case apdu.SegmentACK:
		c.handleSegmentACK(p, txn, v)

	case apdu.Error:
		txn.complete(Outcome{Kind: OutcomeError, ServiceChoice: v.ServiceChoice, ErrClass: v.Class, ErrCode: v.Code})
		p.free(invokeID, 0)

	case apdu.Reject:
		txn.complete(Outcome{Kind: OutcomeReject, RejectReason: v.Reason})
		p.free(invokeID, 0)

	case apdu.Abort:
		txn.complete(Outcome{Kind: OutcomeAbort, AbortReason: v.Reason})
		p.free(invokeID, 0)
	}
}

func (c *ClientTSM) handleComplexACK(p *clientPeer, txn *clientTxn, v apdu.ComplexACK) {
	if !v.Segmented {
		txn.complete(Outcome{Kind: OutcomeComplexACK, ServiceChoice: v.ServiceChoice, Payload: v.ServiceData})
		p.free(txn.invokeID, 0)
		return
	}

	txn.mu.Lock()
	if txn.receiver == nil {
		txn.receiver = segmentation.NewReceiver(v.ProposedWindowSize, ourMaxSegments)
	}
	receiver := txn.receiver
	txn.mu.Unlock()

	switch receiver.HandleSegment(v.SequenceNumber, v.ServiceData, v.MoreFollows) {
	case segmentation.Continue:
		c.armSegmentTimer(p, txn)
	case segmentation.SendAck:
		c.emit(txn, apdu.SegmentACK{InvokeID: txn.invokeID, SequenceNumber: v.SequenceNumber, ActualWindowSize: receiver.EffectiveWindow()})
		c.armSegmentTimer(p, txn)
	case segmentation.Complete:
		txn.complete(Outcome{Kind: OutcomeComplexACK, ServiceChoice: v.ServiceChoice, Payload: receiver.Buffer()})
		p.free(txn.invokeID, 0)
	case segmentation.ResendLastAck:
		c.emit(txn, apdu.SegmentACK{InvokeID: txn.invokeID, SequenceNumber: v.SequenceNumber, ActualWindowSize: receiver.EffectiveWindow()})
	case segmentation.Abort:
		txn.complete(Outcome{Kind: OutcomeAbort, AbortReason: bacerr.AbortOtherError})
		p.free(txn.invokeID, 0)
	}
}

func (c *ClientTSM) handleSegmentACK(p *clientPeer, txn *clientTxn, v apdu.SegmentACK) {
	txn.mu.Lock()
	sender := txn.sender
	txn.mu.Unlock()
	if sender == nil {
		return
	}
	sender.HandleSegmentAck(v.SequenceNumber, v.ActualWindowSize, v.NegativeAck)
	if !sender.Done() {
		c.sendWindow(p, txn)
	}
	// once Done, the transaction stays open awaiting the Complex-ACK
	// (or Simple-ACK) that concludes the service itself.
}
