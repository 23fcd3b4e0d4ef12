package tagcodec

import "testing"

func TestEncodeDecodeTagRoundTrip(t *testing.T) {
	cases := []struct {
		name   string
		number uint8
		class  TagClass
		length uint32
	}{
		{"small app tag", 4, Application, 4},
		{"small context tag", 3, Context, 0},
		{"extended number", 20, Application, 4},
		{"length 1 byte", 2, Application, 200},
		{"length 2 byte", 7, Application, 60000},
		{"length 4 byte", 6, Context, 200000},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf := EncodeTag(tc.number, tc.class, tc.length)
			got, next, err := DecodeTag(buf, 0)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if next != len(buf) {
				t.Fatalf("consumed %d bytes, want %d", next, len(buf))
			}
			if got.Number != tc.number || got.Class != tc.class || got.Length != tc.length {
				t.Fatalf("got %+v, want number=%d class=%v length=%d", got, tc.number, tc.class, tc.length)
			}
			if got.IsOpening || got.IsClosing {
				t.Fatalf("unexpected opening/closing flag on normal tag")
			}
		})
	}
}

func TestEncodeDecodeOpeningClosingTag(t *testing.T) {
	open := EncodeOpeningTag(5)
	got, next, err := DecodeTag(open, 0)
	if err != nil {
		t.Fatalf("decode opening: %v", err)
	}
	if !got.IsOpening || got.IsClosing || got.Number != 5 || !got.IsContextSpecific() {
		t.Fatalf("got %+v, want opening context tag 5", got)
	}
	if next != len(open) {
		t.Fatalf("consumed %d, want %d", next, len(open))
	}

	close := EncodeClosingTag(5)
	got, next, err = DecodeTag(close, 0)
	if err != nil {
		t.Fatalf("decode closing: %v", err)
	}
	if !got.IsClosing || got.IsOpening || got.Number != 5 {
		t.Fatalf("got %+v, want closing context tag 5", got)
	}
	if next != len(close) {
		t.Fatalf("consumed %d, want %d", next, len(close))
	}
}

func TestDecodeTagTruncated(t *testing.T) {
	if _, _, err := DecodeTag(nil, 0); err == nil {
		t.Fatal("expected error on empty buffer")
	}
	// extended number byte missing
	if _, _, err := DecodeTag([]byte{0xF8}, 0); err == nil {
		t.Fatal("expected error on missing extended number byte")
	}
	// extended length byte missing
	if _, _, err := DecodeTag([]byte{0x05}, 0); err == nil {
		t.Fatal("expected error on missing extended length byte")
	}
}

func TestDecodeTagAtOffset(t *testing.T) {
	buf := append([]byte{0xAA, 0xBB}, EncodeTag(1, Application, 1)...)
	got, next, err := DecodeTag(buf, 2)
	if err != nil {
		t.Fatalf("decode at offset: %v", err)
	}
	if got.Number != 1 || got.Length != 1 {
		t.Fatalf("got %+v", got)
	}
	if next != len(buf) {
		t.Fatalf("consumed %d, want %d", next, len(buf))
	}
}
