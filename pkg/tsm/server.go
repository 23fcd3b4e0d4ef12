package tsm

import (
	"sync"

	"github.com/krisarmstrong/bacstack/pkg/apdu"
	"github.com/krisarmstrong/bacstack/pkg/bacerr"
	"github.com/krisarmstrong/bacstack/pkg/logging"
	"github.com/krisarmstrong/bacstack/pkg/segmentation"
)

// ServiceResult is what a ServiceHandler returns once it has finished
// processing a (possibly reassembled) confirmed request.
type ServiceResult struct {
	Kind          OutcomeKind // SimpleACK, ComplexACK, Error, Reject, or Abort
	ServiceChoice uint8
	Payload       []byte

	ErrClass bacerr.ErrorClass
	ErrCode  bacerr.ErrorCode

	RejectReason RejectReason
	AbortReason  bacerr.AbortReason
}

// RejectReason aliases bacerr's so callers importing only tsm still
// have a name for it in ServiceResult literals.
type RejectReason = bacerr.RejectReason

// ServiceHandler executes one confirmed service request and returns
// its outcome. It runs synchronously on the TSM's calling goroutine;
// callers needing to do blocking work should dispatch internally and
// block here, matching the core's single-scheduler-thread model.
type ServiceHandler func(peer string, invokeID uint8, serviceChoice uint8, payload []byte) ServiceResult

type serverTxnState int

const (
	serverIdle serverTxnState = iota
	serverAwaitingSegments
	serverDone
)

type serverTxn struct {
	state        serverTxnState
	receiver     *segmentation.Receiver
	lastResponse apdu.APDU
}

type serverKey struct {
	peer     string
	invokeID uint8
}

// ServerTSM tracks in-flight server-side confirmed transactions,
// de-duplicating retried requests and driving segmented responses.
type ServerTSM struct {
	mu      sync.Mutex
	txns    map[serverKey]*serverTxn
	send    SendFunc
	handler ServiceHandler
	Logger  *logging.Logger
}

// NewServerTSM builds a ServerTSM dispatching completed requests to handler.
func NewServerTSM(send SendFunc, handler ServiceHandler) *ServerTSM {
	return &ServerTSM{txns: make(map[serverKey]*serverTxn), send: send, handler: handler}
}

// HandleConfirmedRequest processes one inbound Confirmed-Request,
// reassembling segments and de-duplicating retries as described in
// §4.7's server-side section.
func (s *ServerTSM) HandleConfirmedRequest(peer string, cr apdu.ConfirmedRequest) {
	key := serverKey{peer: peer, invokeID: cr.InvokeID}

	s.mu.Lock()
	txn, exists := s.txns[key]
	if exists && txn.state == serverDone {
		resp := txn.lastResponse
		s.mu.Unlock()
		if resp != nil {
			s.emit(peer, resp)
		}
		return
	}
	if !exists {
		txn = &serverTxn{state: serverIdle}
		s.txns[key] = txn
	}
	s.mu.Unlock()

	if !cr.Segmented {
		s.complete(peer, cr.InvokeID, cr.ServiceChoice, cr.ServiceData, cr.SegmentedResponseAccepted, key, txn)
		return
	}

	s.mu.Lock()
	if txn.receiver == nil {
		txn.receiver = segmentation.NewReceiver(cr.ProposedWindowSize, ourMaxSegments)
		txn.state = serverAwaitingSegments
	}
	receiver := txn.receiver
	s.mu.Unlock()

	switch receiver.HandleSegment(cr.SequenceNumber, cr.ServiceData, cr.MoreFollows) {
	case segmentation.Continue:
		// nothing to send yet
	case segmentation.SendAck, segmentation.ResendLastAck:
		s.emit(peer, apdu.SegmentACK{SentByServer: true, InvokeID: cr.InvokeID, SequenceNumber: cr.SequenceNumber, ActualWindowSize: receiver.EffectiveWindow()})
	case segmentation.Complete:
		s.emit(peer, apdu.SegmentACK{SentByServer: true, InvokeID: cr.InvokeID, SequenceNumber: cr.SequenceNumber, ActualWindowSize: receiver.EffectiveWindow()})
		s.complete(peer, cr.InvokeID, cr.ServiceChoice, receiver.Buffer(), cr.SegmentedResponseAccepted, key, txn)
	case segmentation.Abort:
		s.emit(peer, apdu.Abort{SentByServer: true, InvokeID: cr.InvokeID, Reason: bacerr.AbortOtherError})
		s.mu.Lock()
		delete(s.txns, key)
		s.mu.Unlock()
	}
}

func (s *ServerTSM) complete(peer string, invokeID uint8, serviceChoice uint8, payload []byte, segRespAccepted bool, key serverKey, txn *serverTxn) {
	result := s.handler(peer, invokeID, serviceChoice, payload)

	var resp apdu.APDU
	alreadySent := false

	switch result.Kind {
	case OutcomeSimpleACK:
		resp = apdu.SimpleACK{InvokeID: invokeID, ServiceChoice: result.ServiceChoice}
	case OutcomeComplexACK:
		// A response that does not fit in one APDU needs the peer's
		// segmented_response_accepted flag; assume a fixed 1476-octet
		// local max-APDU for the single-PDU fit check, matching the
		// receiver's own advertised capability elsewhere in the stack.
		const localMaxAPDU = 1476
		if len(result.Payload) <= localMaxAPDU-5 {
			resp = apdu.ComplexACK{InvokeID: invokeID, ServiceChoice: result.ServiceChoice, ServiceData: result.Payload}
		} else if !segRespAccepted {
			resp = apdu.Abort{SentByServer: true, InvokeID: invokeID, Reason: bacerr.AbortSegmentationNotSupported}
		} else {
			sender, err := segmentation.NewSender(result.Payload, localMaxAPDU, segmentation.ComplexACKOverhead, 0, 4)
			if err != nil {
				resp = apdu.Abort{SentByServer: true, InvokeID: invokeID, Reason: bacerr.AbortBufferOverflow}
			} else {
				segs := sender.FillWindow()
				for _, seg := range segs {
					ack := apdu.ComplexACK{
						Segmented:          true,
						MoreFollows:        seg.MoreFollows,
						InvokeID:           invokeID,
						SequenceNumber:     seg.Seq,
						ProposedWindowSize: 4,
						ServiceChoice:      result.ServiceChoice,
						ServiceData:        seg.Bytes,
					}
					s.emit(peer, ack)
					resp = ack
				}
				alreadySent = true
			}
		}
	case OutcomeError:
		resp = apdu.Error{InvokeID: invokeID, ServiceChoice: result.ServiceChoice, Class: result.ErrClass, Code: result.ErrCode}
	case OutcomeReject:
		resp = apdu.Reject{InvokeID: invokeID, Reason: result.RejectReason}
	case OutcomeAbort:
		resp = apdu.Abort{SentByServer: true, InvokeID: invokeID, Reason: result.AbortReason}
	}

	if resp == nil {
		s.mu.Lock()
		delete(s.txns, key)
		s.mu.Unlock()
		return
	}
	if !alreadySent {
		s.emit(peer, resp)
	}

	s.mu.Lock()
	txn.state = serverDone
	txn.lastResponse = resp
	s.mu.Unlock()
}

func (s *ServerTSM) emit(peer string, a apdu.APDU) {
	if err := s.send(peer, a); err != nil && s.Logger != nil {
		s.Logger.Warning("tsm: server send failed: %v", err)
	}
}
