package fcgi

import "testing"

func TestEncodeDecodePairSizeShortForm(t *testing.T) {
	var b [4]byte
	n := encodePairSize(b[:], 127)
	if n != 1 {
		t.Fatalf("encodePairSize(127) used %d bytes, want 1", n)
	}
	size, consumed, ok := decodePairSize(b[:])
	if !ok || size != 127 || consumed != 1 {
		t.Fatalf("decodePairSize() = %d,%d,%v, want 127,1,true", size, consumed, ok)
	}
}

func TestEncodeDecodePairSizeLongForm(t *testing.T) {
	var b [4]byte
	n := encodePairSize(b[:], 128)
	if n != 4 {
		t.Fatalf("encodePairSize(128) used %d bytes, want 4", n)
	}
	size, consumed, ok := decodePairSize(b[:])
	if !ok || size != 128 || consumed != 4 {
		t.Fatalf("decodePairSize() = %d,%d,%v, want 128,4,true", size, consumed, ok)
	}
}

func TestDecodePairSizeTruncated(t *testing.T) {
	if _, _, ok := decodePairSize(nil); ok {
		t.Fatal("decodePairSize(nil) ok = true, want false")
	}
	// High bit set, declaring the 4-byte form, but only 2 bytes present.
	b := []byte{0x80, 0x00}
	if _, _, ok := decodePairSize(b); ok {
		t.Fatal("decodePairSize() on short 4-byte form: ok = true, want false")
	}
}

func TestEncodeNameValuePairsEmpty(t *testing.T) {
	if got := EncodeNameValuePairs(nil); len(got) != 0 {
		t.Fatalf("EncodeNameValuePairs(nil) = %v, want empty", got)
	}
}
