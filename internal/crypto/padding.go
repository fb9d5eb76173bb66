package crypto

import "bytes"

// StripPadding removes PKCS#7 padding when it verifies. If the last byte is
// outside [1, BlockSize] or the trailing bytes disagree, data is returned
// unchanged and ok is false. The input slice is never modified.
func StripPadding(data []byte) (out []byte, ok bool) {
	if len(data) == 0 {
		return data, false
	}

	n := int(data[len(data)-1])
	if n < 1 || n > BlockSize || n > len(data) {
		return data, false
	}

	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return data, false
		}
	}

	return data[:len(data)-n], true
}

// Pad appends PKCS#7 padding up to the next block boundary.
func Pad(data []byte) []byte {
	n := BlockSize - len(data)%BlockSize
	out := make([]byte, len(data), len(data)+n)
	copy(out, data)
	return append(out, bytes.Repeat([]byte{byte(n)}, n)...)
}
