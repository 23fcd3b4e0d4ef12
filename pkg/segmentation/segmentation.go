// Package segmentation implements the sliding-window segment sender
// and receiver used by the TSM when a service payload exceeds the
// peer's negotiated max-APDU length (Clause 5.3/5.4).
package segmentation

import (
	"fmt"

	"github.com/krisarmstrong/bacstack/pkg/bacerr"
)

// Canonical per-segment header overhead, in octets, that the TSM must
// subtract from max-APDU-length before splitting a payload. These are
// fixed by the wire format (Clause 20.1.2) and must never change —
// peers negotiate max-APDU assuming them.
const (
	ConfirmedRequestOverhead = 6
	ComplexACKOverhead       = 5
)

// Outcome is what a Receiver tells its caller to do after feeding it
// one inbound segment.
type Outcome int

const (
	Continue Outcome = iota
	SendAck
	Complete
	ResendLastAck
	Abort
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "CONTINUE"
	case SendAck:
		return "SEND_ACK"
	case Complete:
		return "COMPLETE"
	case ResendLastAck:
		return "RESEND_LAST_ACK"
	case Abort:
		return "ABORT"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// OutSegment is one segment ready to transmit.
type OutSegment struct {
	Seq         uint8
	Bytes       []byte
	MoreFollows bool
}

// Sender holds a payload already split into fixed-size segments and
// tracks which have been acknowledged.
type Sender struct {
	segments    [][]byte
	windowStart int
	windowSize  uint8
}

// NewSender splits payload into segments of size maxAPDULength minus
// overhead, rejecting the transmission outright if the result would
// need more segments than the peer declared it can reassemble.
func NewSender(payload []byte, maxAPDULength uint32, overhead int, peerMaxSegments uint16, windowSize uint8) (*Sender, error) {
	segmentSize := int(maxAPDULength) - overhead
	if segmentSize <= 0 {
		return nil, bacerr.NewAbort(0, bacerr.AbortApduTooLong)
	}

	var segments [][]byte
	for off := 0; off < len(payload); off += segmentSize {
		end := off + segmentSize
		if end > len(payload) {
			end = len(payload)
		}
		segments = append(segments, payload[off:end])
	}
	if len(segments) == 0 {
		segments = [][]byte{{}}
	}

	if peerMaxSegments != 0 && uint16(len(segments)) > peerMaxSegments {
		return nil, bacerr.NewAbort(0, bacerr.AbortBufferOverflow)
	}
	if windowSize == 0 {
		windowSize = 1
	}

	return &Sender{segments: segments, windowSize: windowSize}, nil
}

// TotalSegments returns how many segments the payload was split into.
func (s *Sender) TotalSegments() int { return len(s.segments) }

// Done reports whether every segment has been acknowledged.
func (s *Sender) Done() bool { return s.windowStart >= len(s.segments) }

// FillWindow returns up to windowSize unacknowledged segments starting
// at windowStart. The final returned segment carries
// asking-for-ack-on-window-boundary implicitly via MoreFollows=false
// when it is also the transaction's last segment.
func (s *Sender) FillWindow() []OutSegment {
	var out []OutSegment
	for i := s.windowStart; i < len(s.segments) && len(out) < int(s.windowSize); i++ {
		out = append(out, OutSegment{
			Seq:         uint8(i % 256),
			Bytes:       s.segments[i],
			MoreFollows: i != len(s.segments)-1,
		})
	}
	return out
}

// HandleSegmentAck advances the window per spec: both a positive and a
// negative ACK move windowStart to ackedSeq+1 (a negative ACK is a
// request to resend starting there); the only difference is that a
// negative ACK never indicates completion. newWindowSize renegotiates
// the window if the peer proposed a smaller one.
func (s *Sender) HandleSegmentAck(ackedSeq uint8, newWindowSize uint8, negative bool) (done bool) {
	if newWindowSize > 0 {
		s.windowSize = newWindowSize
	}

	startSeq := uint8(s.windowStart % 256)
	delta := int(ackedSeq - startSeq) // wraps correctly in uint8 arithmetic
	target := s.windowStart + delta + 1
	if target > len(s.segments) {
		target = len(s.segments)
	}
	if target > s.windowStart {
		s.windowStart = target
	}

	if negative {
		return false
	}
	return s.Done()
}

// Receiver reassembles an inbound stream of segments, tracking
// duplicate-window membership in mod-256 sequence-number space.
type Receiver struct {
	expected        uint8
	buffer          []byte
	proposedWindow  uint8
	effectiveWindow uint8
	sinceAck        uint8
	started         bool
}

// NewReceiver builds a Receiver whose effective (advertised) window is
// the smaller of what the peer proposed and our own limit.
func NewReceiver(proposedWindow, ourLimit uint8) *Receiver {
	eff := proposedWindow
	if ourLimit < eff {
		eff = ourLimit
	}
	if eff == 0 {
		eff = 1
	}
	return &Receiver{proposedWindow: proposedWindow, effectiveWindow: eff}
}

// EffectiveWindow returns the window size to advertise in ACKs.
func (r *Receiver) EffectiveWindow() uint8 { return r.effectiveWindow }

// Buffer returns the reassembled payload accumulated so far.
func (r *Receiver) Buffer() []byte { return r.buffer }

// HandleSegment feeds one inbound segment and reports what the caller
// should do next.
func (r *Receiver) HandleSegment(seq uint8, payload []byte, moreFollows bool) Outcome {
	if !r.started {
		r.started = true
		r.expected = seq
	}

	if seq == r.expected {
		r.buffer = append(r.buffer, payload...)
		r.expected++
		r.sinceAck++

		if !moreFollows {
			return Complete
		}
		if r.sinceAck >= r.effectiveWindow {
			r.sinceAck = 0
			return SendAck
		}
		return Continue
	}

	// Duplicate window: seq is within proposedWindow segments behind
	// expected in mod-256 arithmetic — the client missed our last ACK
	// and retransmitted; ask it to resend that ACK rather than abort.
	delta := uint8(r.expected - seq)
	if delta >= 1 && delta <= r.proposedWindow {
		return ResendLastAck
	}
	return Abort
}
