// Package memzero wipes secret byte slices once they are no longer needed.
package memzero

// Zero overwrites every buffer with zeros. Nil and empty buffers are
// skipped.
func Zero(bufs ...[]byte) {
	for _, b := range bufs {
		clear(b)
	}
}
