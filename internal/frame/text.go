package frame

import "bytes"

// DecodeText reads a fixed-width string field starting at b[0].
//
// Sensors send text in one of two encodings. When the first byte is non-zero
// the field is contiguous ASCII of width bytes, zero padded. When it is zero
// the field is "packed": packedWidth bytes where every second byte (odd
// offsets) carries a character. Either way the result is cut at the first NUL.
//
// n is the number of bytes consumed. ok is false if b is too short.
func DecodeText(b []byte, width, packedWidth int) (s string, n int, ok bool) {
	if len(b) == 0 {
		return "", 0, false
	}
	if b[0] != 0 {
		if len(b) < width {
			return "", 0, false
		}
		return TrimNUL(b[:width]), width, true
	}
	if len(b) < packedWidth {
		return "", 0, false
	}
	out := make([]byte, 0, packedWidth/2)
	for i := 1; i < packedWidth; i += 2 {
		out = append(out, b[i])
	}
	return TrimNUL(out), packedWidth, true
}

// EncodeText writes s in the contiguous encoding, truncated or zero padded to width.
func EncodeText(s string, width int) []byte {
	out := make([]byte, width)
	copy(out, s)
	return out
}

// PackText writes s in the packed encoding (zero byte, then character) over
// packedWidth bytes. Sensors never require it on writes; it exists for
// simulating devices that reply in this form.
func PackText(s string, packedWidth int) []byte {
	out := make([]byte, packedWidth)
	for i := 0; i < len(s) && 2*i+1 < packedWidth; i++ {
		out[2*i+1] = s[i]
	}
	return out
}

// TrimNUL returns b up to its first zero byte as a string.
func TrimNUL(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
