package npdu

import (
	"bytes"
	"testing"
)

func TestMinimalUnicastFixture(t *testing.T) {
	n := NPDU{Priority: PriorityNormal, Payload: []byte{0x01, 0x02, 0x03}}
	buf, err := n.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []byte{0x01, 0x00, 0x01, 0x02, 0x03}
	if !bytes.Equal(buf, want) {
		t.Fatalf("got % x, want % x", buf, want)
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Destination != nil || got.Source != nil {
		t.Fatalf("expected no addresses, got %+v", got)
	}
	if !bytes.Equal(got.Payload, n.Payload) {
		t.Fatalf("payload mismatch: got % x, want % x", got.Payload, n.Payload)
	}
}

func TestGlobalBroadcastFixture(t *testing.T) {
	n := NPDU{
		Destination: &Address{Net: 0xFFFF, Mac: nil},
		HopCount:    255,
		Payload:     []byte{0xAA},
	}
	buf, err := n.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(buf) != 8 {
		t.Fatalf("encoded length = %d, want 8 (7-byte prefix + 1 payload byte)", len(buf))
	}
	if buf[len(buf)-1] != 0xAA {
		t.Fatalf("last byte = %#x, want 0xAA", buf[len(buf)-1])
	}

	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.IsGlobalBroadcast() {
		t.Fatal("expected IsGlobalBroadcast() == true")
	}
}

func TestRouterHopDecrementFixture(t *testing.T) {
	n := NPDU{
		Destination: &Address{Net: 20, Mac: []byte{0x0B}},
		Source:      &Address{Net: 10, Mac: []byte{0x0A}},
		HopCount:    128,
		Payload:     []byte{0xFF},
	}
	buf, err := n.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	decoded.HopCount--
	reencoded, err := decoded.Encode()
	if err != nil {
		t.Fatalf("re-encode: %v", err)
	}
	redecoded, err := Decode(reencoded)
	if err != nil {
		t.Fatalf("re-decode: %v", err)
	}
	if redecoded.HopCount != 127 {
		t.Fatalf("hop count = %d, want 127", redecoded.HopCount)
	}
	if redecoded.Destination.Net != 20 || !bytes.Equal(redecoded.Destination.Mac, []byte{0x0B}) {
		t.Fatalf("destination mismatch: %+v", redecoded.Destination)
	}
	if redecoded.Source.Net != 10 || !bytes.Equal(redecoded.Source.Mac, []byte{0x0A}) {
		t.Fatalf("source mismatch: %+v", redecoded.Source)
	}
	if !bytes.Equal(redecoded.Payload, []byte{0xFF}) {
		t.Fatalf("payload mismatch: % x", redecoded.Payload)
	}
}

func TestStructuralInvariantsRejected(t *testing.T) {
	cases := []NPDU{
		{Source: &Address{Net: 0, Mac: []byte{0x01}}},
		{Source: &Address{Net: 0xFFFF, Mac: []byte{0x01}}},
		{Source: &Address{Net: 10, Mac: nil}},
	}
	for i, n := range cases {
		if _, err := n.Encode(); err == nil {
			t.Fatalf("case %d: expected encode error for %+v", i, n)
		}
	}
}

func TestDecodeRejectsStructuralInvariants(t *testing.T) {
	// source present, SNET=0, SLEN=1
	buf := []byte{ProtocolVersion, ctrlSourcePresent, 0x00, 0x00, 0x01, 0xAA, 0x00}
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected decode error for reserved source network number")
	}

	// source present, SNET=10, SLEN=0
	buf = []byte{ProtocolVersion, ctrlSourcePresent, 0x00, 0x0A, 0x00}
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected decode error for SLEN=0 with source present")
	}
}

func TestDecodeRejectsTruncatedLengths(t *testing.T) {
	// destination present, DLEN=10 but only 1 byte follows
	buf := []byte{ProtocolVersion, ctrlDestinationPresent, 0x00, 0x14, 0x0A, 0xBB}
	if _, err := Decode(buf); err == nil {
		t.Fatal("expected decode error for DLEN exceeding remaining buffer")
	}
}

func TestNetworkMessageVendorID(t *testing.T) {
	n := NPDU{
		IsNetworkMessage:   true,
		NetworkMessageType: 0x80,
		VendorID:           4321,
		Payload:            []byte{0x01, 0x02},
	}
	buf, err := n.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.VendorID != 4321 || !got.IsNetworkMessage {
		t.Fatalf("got %+v", got)
	}
}
