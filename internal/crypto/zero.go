package crypto

import "runtime"

// Zeroize overwrites b with zeros. The call is kept alive so the
// compiler cannot drop the stores for a buffer that is about to be
// released.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
