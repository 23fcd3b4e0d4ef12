package bbmd

import (
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/krisarmstrong/bacstack/pkg/bip"
)

type fakeRequester struct {
	mu      sync.Mutex
	calls   int
	results []uint16 // result codes to return on successive calls; last value repeats
}

func (f *fakeRequester) SendManagementRequest(fn bip.Function, dest bip.Mac, payload []byte, timeout time.Duration) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fn != bip.FuncRegisterForeignDevice {
		return nil, fmt.Errorf("unexpected function %v", fn)
	}
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	code := f.results[idx]
	f.calls++
	resp := make([]byte, 2)
	binary.BigEndian.PutUint16(resp, code)
	return resp, nil
}

func (f *fakeRequester) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestForeignDeviceClientRegistersSuccessfully(t *testing.T) {
	req := &fakeRequester{results: []uint16{bip.ResultSuccess}}
	c := NewForeignDeviceClient(req, mac(1), 300)

	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	if !c.Registered() {
		t.Fatal("expected Registered() == true after a successful registration")
	}
	if c.BBMDAddress() != mac(1) {
		t.Fatalf("BBMDAddress = %v", c.BBMDAddress())
	}
}

func TestForeignDeviceClientNAKLeavesUnregistered(t *testing.T) {
	req := &fakeRequester{results: []uint16{bip.ResultRegisterForeignDeviceNAK}}
	c := NewForeignDeviceClient(req, mac(1), 300)

	if err := c.Start(); err == nil {
		t.Fatal("expected an error from a NAK'd registration")
	}
	defer c.Stop()

	if c.Registered() {
		t.Fatal("expected Registered() == false after a NAK")
	}
}

func TestForeignDeviceClientStopClearsRegistration(t *testing.T) {
	req := &fakeRequester{results: []uint16{bip.ResultSuccess}}
	c := NewForeignDeviceClient(req, mac(1), 300)
	_ = c.Start()
	c.Stop()
	if c.Registered() {
		t.Fatal("expected Registered() == false after Stop")
	}
}
