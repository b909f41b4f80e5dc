//go:build (amd64 || arm64) && !onchain

package runtime

import bin "github.com/gagliardetto/binary"

// matchWide compares 9 to 16 bytes as two overlapping 64-bit words.
func matchWide(expected, data []byte) bool {
	n := len(expected)
	return bin.LE.Uint64(expected) == bin.LE.Uint64(data) &&
		bin.LE.Uint64(expected[n-8:]) == bin.LE.Uint64(data[n-8:])
}
