package bbmd

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/krisarmstrong/bacstack/pkg/bip"
	"github.com/krisarmstrong/bacstack/pkg/logging"
)

// requester is the subset of *bip.Transport a ForeignDeviceClient needs;
// narrowed to ease testing without a real socket.
type requester interface {
	SendManagementRequest(fn bip.Function, dest bip.Mac, payload []byte, timeout time.Duration) ([]byte, error)
}

// ForeignDeviceClient registers this device with a remote BBMD and
// keeps the registration alive, implementing bip.ForeignDeviceHook so
// a Transport can redirect local broadcasts through it.
type ForeignDeviceClient struct {
	mu         sync.Mutex
	bbmdAddr   bip.Mac
	ttl        uint16
	registered bool

	transport requester
	stop      chan struct{}
	Logger    *logging.Logger
}

// NewForeignDeviceClient builds a client that will register with bbmdAddr
// for ttl seconds, renewing at roughly half that interval once started.
func NewForeignDeviceClient(transport requester, bbmdAddr bip.Mac, ttl uint16) *ForeignDeviceClient {
	return &ForeignDeviceClient{transport: transport, bbmdAddr: bbmdAddr, ttl: ttl}
}

// Registered satisfies bip.ForeignDeviceHook.
func (c *ForeignDeviceClient) Registered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registered
}

// BBMDAddress satisfies bip.ForeignDeviceHook.
func (c *ForeignDeviceClient) BBMDAddress() bip.Mac {
	return c.bbmdAddr
}

// Start performs the initial registration and arms periodic renewal.
// Returns the error from the initial attempt; renewal failures are
// logged rather than returned since they happen in the background.
func (c *ForeignDeviceClient) Start() error {
	c.mu.Lock()
	if c.stop != nil {
		c.mu.Unlock()
		return fmt.Errorf("bbmd: foreign device client already started")
	}
	c.stop = make(chan struct{})
	c.mu.Unlock()

	err := c.register()

	go func() {
		interval := time.Duration(c.ttl/2) * time.Second
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.register(); err != nil && c.Logger != nil {
					c.Logger.Warning("bbmd: foreign device renewal failed: %v", err)
				}
			case <-c.stop:
				return
			}
		}
	}()

	return err
}

// Stop halts renewal. It does not unregister from the remote BBMD.
func (c *ForeignDeviceClient) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
	c.registered = false
}

func (c *ForeignDeviceClient) register() error {
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, c.ttl)

	resp, err := c.transport.SendManagementRequest(bip.FuncRegisterForeignDevice, c.bbmdAddr, payload, 5*time.Second)
	if err != nil {
		c.setRegistered(false)
		return err
	}
	if len(resp) != 2 {
		c.setRegistered(false)
		return fmt.Errorf("bbmd: malformed BVLC-Result payload % x", resp)
	}
	code := binary.BigEndian.Uint16(resp)
	if code != bip.ResultSuccess {
		c.setRegistered(false)
		return fmt.Errorf("bbmd: register-foreign-device NAK 0x%04x", code)
	}
	c.setRegistered(true)
	return nil
}

func (c *ForeignDeviceClient) setRegistered(v bool) {
	c.mu.Lock()
	c.registered = v
	c.mu.Unlock()
}
