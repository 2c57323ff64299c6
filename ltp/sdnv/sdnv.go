// Package sdnv implements the Self-Delimiting Numeric Value encoding used
// throughout LTP (RFC 5326 §3): each byte carries 7 value bits and a
// continuation bit, big-endian, with the final byte's top bit clear.
package sdnv

import (
	"errors"
)

// MaxEncodedLen32 is the longest a 32-bit value can encode to.
const MaxEncodedLen32 = 5

// MaxEncodedLen64 is the longest a 64-bit value can encode to.
const MaxEncodedLen64 = 10

// ErrTruncated is returned when the buffer ends before the terminating byte.
var ErrTruncated = errors.New("sdnv: truncated before terminator")

// ErrTooLong is returned when more bytes were consumed than the target
// width allows.
var ErrTooLong = errors.New("sdnv: encoded value too long for target width")

// ErrOverflow is returned when the decoded value would not fit the target width.
var ErrOverflow = errors.New("sdnv: decoded value overflows target width")

// EncodedLen64 returns the number of bytes Encode64 will produce for v.
func EncodedLen64(v uint64) int {
	if v == 0 {
		return 1
	}
	bits := bitLen64(v)
	return (bits + 6) / 7
}

// EncodedLen32 returns the number of bytes Encode32 will produce for v.
func EncodedLen32(v uint32) int {
	return EncodedLen64(uint64(v))
}

func bitLen64(v uint64) int {
	n := 0
	for v != 0 {
		n++
		v >>= 1
	}
	return n
}

// Encode64 appends the SDNV encoding of v to dst and returns the extended slice.
func Encode64(dst []byte, v uint64) []byte {
	n := EncodedLen64(v)
	start := len(dst)
	for i := 0; i < n; i++ {
		dst = append(dst, 0)
	}
	buf := dst[start:]
	for i := n - 1; i >= 0; i-- {
		buf[i] = byte(v & 0x7f)
		v >>= 7
	}
	for i := 0; i < n-1; i++ {
		buf[i] |= 0x80
	}
	return dst
}

// Encode32 appends the SDNV encoding of v to dst and returns the extended slice.
func Encode32(dst []byte, v uint32) []byte {
	return Encode64(dst, uint64(v))
}

// Decode64 reads one SDNV from buf, returning the value and the number of
// bytes consumed. It fails if the buffer is exhausted before the
// terminating byte, if more than MaxEncodedLen64 bytes are consumed, or if
// the value overflows 64 bits.
func Decode64(buf []byte) (value uint64, consumed int, err error) {
	var v uint64
	for i, b := range buf {
		if i == MaxEncodedLen64 {
			return 0, 0, ErrTooLong
		}
		if v>>57 != 0 {
			// shifting in 7 more bits would push a set bit past bit 63
			return 0, 0, ErrOverflow
		}
		v = (v << 7) | uint64(b&0x7f)
		if b&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, ErrTruncated
}

// Decode32 reads one SDNV from buf and fails if the value does not fit in 32 bits.
func Decode32(buf []byte) (value uint32, consumed int, err error) {
	v, n, err := Decode64(buf)
	if err != nil {
		return 0, 0, err
	}
	if v > 0xffffffff {
		return 0, 0, ErrOverflow
	}
	if n > MaxEncodedLen32 {
		return 0, 0, ErrTooLong
	}
	return uint32(v), n, nil
}

// DecodeMany decodes as many consecutive SDNVs as buf contains, stopping
// cleanly (without error) at a truncated trailing value so the caller can
// retry once more input arrives. It returns the decoded values and the
// number of bytes consumed across all of them.
func DecodeMany(buf []byte, max int) (values []uint64, consumed int, err error) {
	for len(values) < max {
		v, n, derr := Decode64(buf[consumed:])
		if derr != nil {
			if errors.Is(derr, ErrTruncated) {
				return values, consumed, nil
			}
			return values, consumed, derr
		}
		values = append(values, v)
		consumed += n
	}
	return values, consumed, nil
}
