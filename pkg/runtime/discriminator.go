package runtime

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
)

// DiscriminatorMatches reports whether data starts with expected. Lengths of
// 1, 2, 4 and 8 compare one integer word, 9 to 16 bytes go through
// matchWide, anything else falls back to a byte slice comparison.
func DiscriminatorMatches(expected, data []byte) bool {
	n := len(expected)
	if len(data) < n {
		return false
	}
	switch n {
	case 1:
		return data[0] == expected[0]
	case 2:
		return bin.LE.Uint16(data) == bin.LE.Uint16(expected)
	case 4:
		return bin.LE.Uint32(data) == bin.LE.Uint32(expected)
	case 8:
		return bin.LE.Uint64(data) == bin.LE.Uint64(expected)
	}
	if n > 8 && n <= 16 {
		return matchWide(expected, data[:n])
	}
	return bytes.Equal(expected, data[:n])
}
