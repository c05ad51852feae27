// Package audio provides the capture-device boundary for live sources.
// A device is exclusively owned by the capturer that opened it.
package audio

// Device delivers mono float samples from one capture input.
type Device interface {
	// Read blocks until frames samples are available and returns them.
	Read(frames int) ([]float32, error)

	// Close releases the capture handle and unblocks a pending Read.
	// Must tolerate concurrent and repeated calls.
	Close() error
}

// Opener opens the capture device identified by an origin key
// (e.g. "default", "hw:1"). Tests substitute fake openers.
type Opener func(origin string) (Device, error)
