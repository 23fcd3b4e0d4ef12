// Command bacstack-bench drives a loopback BACnet/IP pair with a pool
// of concurrent ConfirmedRequest transactions and reports throughput
// and latency percentiles, the Go equivalent of the reference
// implementation's local stress-test scripts.
package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/krisarmstrong/bacstack/pkg/apdu"
	"github.com/krisarmstrong/bacstack/pkg/bacerr"
	"github.com/krisarmstrong/bacstack/pkg/bip"
	"github.com/krisarmstrong/bacstack/pkg/logging"
	"github.com/krisarmstrong/bacstack/pkg/npdu"
	"github.com/krisarmstrong/bacstack/pkg/router"
	"github.com/krisarmstrong/bacstack/pkg/tsm"
)

// benchServiceChoice stands in for readProperty: the benchmark doesn't
// model an object database, only the request/ack round trip the TSM
// and router add on top of raw transport.
const benchServiceChoice = 0x0c

func main() {
	var (
		workers = flag.Int("workers", 20, "concurrent ConfirmedRequest workers")
		warmup  = flag.Duration("warmup", 2*time.Second, "warmup duration before measuring")
		sustain = flag.Duration("sustain", 10*time.Second, "measured run duration")
		network = flag.Uint("network", 1, "BACnet network number shared by both endpoints")
	)
	flag.Parse()
	logging.InitColors(true)

	pair, err := newLoopbackPair(uint16(*network))
	if err != nil {
		fmt.Fprintf(os.Stderr, "bacstack-bench: %v\n", err)
		os.Exit(1)
	}
	defer pair.close()

	fmt.Printf("bacstack-bench: %d worker(s), warmup %s, sustained %s, network %d\n",
		*workers, *warmup, *sustain, *network)

	runPhase(pair, *workers, *warmup, false)
	result := runPhase(pair, *workers, *sustain, true)
	result.print(*sustain)
}

// loopbackPair is two independent router/TSM stacks wired to the same
// directly-connected network, so Send resolves locally without a
// second hop — a client and a server on one physical segment.
type loopbackPair struct {
	clientTransport *bip.Transport
	serverTransport *bip.Transport

	clientNet *router.NetworkRouter
	serverNet *router.NetworkRouter

	clientTSM *tsm.ClientTSM
	serverTSM *tsm.ServerTSM

	network   uint16
	serverMac []byte
}

func newLoopbackPair(network uint16) (*loopbackPair, error) {
	clientMac, err := bip.ParseMac("127.0.0.1:47808")
	if err != nil {
		return nil, err
	}
	serverMac, err := bip.ParseMac("127.0.0.1:47809")
	if err != nil {
		return nil, err
	}

	p := &loopbackPair{network: network, serverMac: serverMac[:]}

	clientTable := router.NewRoutingTable()
	serverTable := router.NewRoutingTable()

	p.clientNet = router.NewNetworkRouter(clientTable, func(n npdu.NPDU, _ int) {
		p.clientTSM.HandleIncoming(peerFor(n), mustDecode(n.Payload))
	}, nil)
	p.serverNet = router.NewNetworkRouter(serverTable, func(n npdu.NPDU, _ int) {
		a := mustDecode(n.Payload)
		if cr, ok := a.(apdu.ConfirmedRequest); ok {
			p.serverTSM.HandleConfirmedRequest(peerFor(n), cr)
		}
	}, nil)

	p.clientTSM = tsm.NewClientTSM(func(_ string, a apdu.APDU) error {
		payload, err := a.Encode()
		if err != nil {
			return err
		}
		return p.clientNet.Send(payload, network, serverMac[:], true, npdu.PriorityNormal)
	})
	p.serverTSM = tsm.NewServerTSM(func(_ string, a apdu.APDU) error {
		payload, err := a.Encode()
		if err != nil {
			return err
		}
		return p.serverNet.Send(payload, network, clientMac[:], false, npdu.PriorityNormal)
	}, func(_ string, _ uint8, _ uint8, _ []byte) tsm.ServiceResult {
		return tsm.ServiceResult{Kind: tsm.OutcomeSimpleACK, ServiceChoice: benchServiceChoice}
	})

	ct, err := bip.New(clientMac, clientMac, func(payload []byte, src bip.Mac) {
		p.clientNet.OnPortReceive(0, src[:], payload)
	})
	if err != nil {
		return nil, err
	}
	st, err := bip.New(serverMac, serverMac, func(payload []byte, src bip.Mac) {
		p.serverNet.OnPortReceive(0, src[:], payload)
	})
	if err != nil {
		ct.Close()
		return nil, err
	}
	p.clientTransport = ct
	p.serverTransport = st

	clientTable.AddPort(&router.RouterPort{ID: 0, Network: network, LocalMAC: clientMac[:], Transport: ct})
	serverTable.AddPort(&router.RouterPort{ID: 0, Network: network, LocalMAC: serverMac[:], Transport: st})

	return p, nil
}

func (p *loopbackPair) close() {
	p.clientNet.Close()
	p.serverNet.Close()
	p.clientTransport.Close()
	p.serverTransport.Close()
}

// peerFor keys both TSMs' transactions by a fixed string — the
// benchmark has exactly one peer on each side, so a full address-based
// peer key adds nothing a constant doesn't already give it.
func peerFor(_ npdu.NPDU) string { return "peer" }

func mustDecode(payload []byte) apdu.APDU {
	a, err := apdu.Decode(payload)
	if err != nil {
		return apdu.Error{InvokeID: 0, Class: bacerr.ErrorClassDevice, Code: bacerr.ErrorCodeOther}
	}
	return a
}

type phaseResult struct {
	ok, errs int64
	latency  []time.Duration
	mu       sync.Mutex
}

func (r *phaseResult) record(d time.Duration, ok bool) {
	if ok {
		atomic.AddInt64(&r.ok, 1)
		r.mu.Lock()
		r.latency = append(r.latency, d)
		r.mu.Unlock()
	} else {
		atomic.AddInt64(&r.errs, 1)
	}
}

func (r *phaseResult) print(elapsed time.Duration) {
	sort.Slice(r.latency, func(i, j int) bool { return r.latency[i] < r.latency[j] })
	p := func(pct float64) time.Duration {
		if len(r.latency) == 0 {
			return 0
		}
		idx := int(float64(len(r.latency)) * pct)
		if idx >= len(r.latency) {
			idx = len(r.latency) - 1
		}
		return r.latency[idx]
	}

	rps := float64(r.ok) / elapsed.Seconds()
	fmt.Println()
	fmt.Println("results:")
	fmt.Printf("  throughput: %.0f req/s\n", rps)
	fmt.Printf("  ok:         %d\n", r.ok)
	fmt.Printf("  errors:     %d\n", r.errs)
	fmt.Printf("  latency:    p50=%s p95=%s p99=%s\n", p(0.50), p(0.95), p(0.99))
}

func runPhase(p *loopbackPair, workers int, d time.Duration, measure bool) *phaseResult {
	result := &phaseResult{}
	var wg sync.WaitGroup
	stop := make(chan struct{})

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				t0 := time.Now()
				outcomes, err := p.clientTSM.Request("peer", benchServiceChoice, nil,
					1476, 64, 16, false)
				if err != nil {
					if measure {
						result.record(0, false)
					}
					continue
				}
				select {
				case o := <-outcomes:
					ok := o.Kind == tsm.OutcomeSimpleACK || o.Kind == tsm.OutcomeComplexACK
					if measure {
						result.record(time.Since(t0), ok)
					}
				case <-time.After(5 * time.Second):
					if measure {
						result.record(0, false)
					}
				}
			}
		}()
	}

	time.Sleep(d)
	close(stop)
	wg.Wait()
	return result
}
