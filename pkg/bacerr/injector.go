package bacerr

import (
	"fmt"
	"sync"
)

// FaultKind names the kind of fault an Injector can apply to a named hook
// point.
type FaultKind string

const (
	// FaultDrop silently discards the datagram/call instead of letting it
	// through.
	FaultDrop FaultKind = "drop"
	// FaultCorrupt flips bits in the payload before it reaches the codec.
	FaultCorrupt FaultKind = "corrupt"
	// FaultDecodeError forces the next decode at the named hook to return
	// a synthetic error without looking at the real bytes.
	FaultDecodeError FaultKind = "decode_error"
	// FaultDelay is recorded but not itself enforced here: Check reports
	// it and Apply passes the payload through unchanged. No caller in
	// this module applies a delay for it.
	FaultDelay FaultKind = "delay"
)

// fault is one configured injection: a kind plus how many times (or
// forever, if remaining < 0) it should fire before clearing itself.
type fault struct {
	kind      FaultKind
	remaining int
}

// Injector is a thread-safe registry of named fault-injection points that
// forces a specific decode or send call to misbehave without actually
// corrupting the local network stack or OS socket layer. The BIP
// transport takes an optional Injector (hooks "bip.send" and "bip.recv");
// no test in this module arms one. A map guarded by a RWMutex.
type Injector struct {
	mu     sync.RWMutex
	faults map[string]fault
}

// NewInjector returns an empty Injector; a nil *Injector is safe to call
// every method on and always reports "no fault configured" so production
// code paths can take an optional *Injector without a nil check at every
// call site.
func NewInjector() *Injector {
	return &Injector{faults: make(map[string]fault)}
}

// Arm configures hook to misbehave with the given kind for the next count
// invocations (count < 0 arms it indefinitely).
func (inj *Injector) Arm(hook string, kind FaultKind, count int) {
	if inj == nil {
		return
	}
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.faults[hook] = fault{kind: kind, remaining: count}
}

// Disarm removes any configured fault at hook.
func (inj *Injector) Disarm(hook string) {
	if inj == nil {
		return
	}
	inj.mu.Lock()
	defer inj.mu.Unlock()
	delete(inj.faults, hook)
}

// Clear removes every configured fault.
func (inj *Injector) Clear() {
	if inj == nil {
		return
	}
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.faults = make(map[string]fault)
}

// Check reports whether hook currently has a fault configured and, if so,
// consumes one use of it (clearing it once its count reaches zero).
func (inj *Injector) Check(hook string) (FaultKind, bool) {
	if inj == nil {
		return "", false
	}
	inj.mu.Lock()
	defer inj.mu.Unlock()

	f, ok := inj.faults[hook]
	if !ok {
		return "", false
	}
	if f.remaining == 0 {
		delete(inj.faults, hook)
		return "", false
	}
	if f.remaining > 0 {
		f.remaining--
		if f.remaining == 0 {
			delete(inj.faults, hook)
		} else {
			inj.faults[hook] = f
		}
	}
	return f.kind, true
}

// Apply runs the configured fault (if any) for hook against payload,
// returning the (possibly mutated) bytes and an error if the fault should
// cause the caller to abort the operation entirely (drop/decode_error).
func (inj *Injector) Apply(hook string, payload []byte) ([]byte, error) {
	kind, armed := inj.Check(hook)
	if !armed {
		return payload, nil
	}
	switch kind {
	case FaultDrop:
		return nil, fmt.Errorf("bacerr: injected drop at %q", hook)
	case FaultDecodeError:
		return nil, fmt.Errorf("bacerr: injected decode error at %q", hook)
	case FaultCorrupt:
		corrupted := append([]byte{}, payload...)
		if len(corrupted) > 0 {
			corrupted[0] ^= 0xFF
		}
		return corrupted, nil
	default:
		return payload, nil
	}
}
