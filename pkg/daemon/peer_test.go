package daemon

import (
	"testing"

	"github.com/krisarmstrong/bacstack/pkg/npdu"
)

func TestPeerKeyRoundTrip(t *testing.T) {
	net, mac, err := parsePeerKey(peerKey(7, []byte{192, 168, 1, 1, 0xBA, 0xC0}))
	if err != nil {
		t.Fatalf("parsePeerKey: %v", err)
	}
	if net != 7 {
		t.Fatalf("net = %d, want 7", net)
	}
	if len(mac) != 6 || mac[0] != 192 || mac[5] != 0xC0 {
		t.Fatalf("mac = %x", mac)
	}
}

func TestParsePeerKeyMalformed(t *testing.T) {
	cases := []string{"", "nope", "7/zz", "abc/ba"}
	for _, c := range cases {
		if _, _, err := parsePeerKey(c); err == nil {
			t.Errorf("parsePeerKey(%q): expected error", c)
		}
	}
}

func TestAddressToPeerNilUsesArrivalNetwork(t *testing.T) {
	got := addressToPeer(nil, 42)
	want := peerKey(42, nil)
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestAddressToPeerUsesSourceAddress(t *testing.T) {
	a := &npdu.Address{Net: 3, Mac: []byte{1, 2, 3}}
	got := addressToPeer(a, 42)
	want := peerKey(3, []byte{1, 2, 3})
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
