//go:build !((amd64 || arm64) && !onchain)

package runtime

// matchWide compares byte by byte. The onchain target never exposes wide
// loads, whatever the host architecture.
func matchWide(expected, data []byte) bool {
	for i := range expected {
		if expected[i] != data[i] {
			return false
		}
	}
	return true
}
