package fcgi

import "encoding/binary"

// encodePairSize writes the FastCGI length prefix for size into b and
// returns the number of bytes used (1 or 4): high bit set selects the
// 4-byte big-endian 31-bit form. Grounded on
// Canadadry-fastcgi-client/fcgi/fcgiprotocol/pairs.go's encodeSize.
func encodePairSize(b []byte, size uint32) int {
	if size <= 127 {
		b[0] = byte(size)
		return 1
	}
	binary.BigEndian.PutUint32(b, size|1<<31)
	return 4
}

// decodePairSize reads a length prefix from the head of b. ok is
// false if b is too short to contain the declared encoding.
func decodePairSize(b []byte) (size uint32, n int, ok bool) {
	if len(b) < 1 {
		return 0, 0, false
	}
	if b[0]&0x80 == 0 {
		return uint32(b[0]), 1, true
	}
	if len(b) < 4 {
		return 0, 0, false
	}
	size = binary.BigEndian.Uint32(b[:4]) &^ (1 << 31)
	return size, 4, true
}

// EncodeNameValuePairs serializes pairs using the FastCGI name-value
// pair encoding. It is used to build PARAMS-shaped content in tests
// that exercise the encode-then-decode round trip; nothing in the
// package sends a GET_VALUES_RESULT record.
func EncodeNameValuePairs(pairs map[string]string) []byte {
	var buf []byte
	var lb [4]byte
	for k, v := range pairs {
		n := encodePairSize(lb[:], uint32(len(k)))
		buf = append(buf, lb[:n]...)
		n = encodePairSize(lb[:], uint32(len(v)))
		buf = append(buf, lb[:n]...)
		buf = append(buf, k...)
		buf = append(buf, v...)
	}
	return buf
}
