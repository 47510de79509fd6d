// Package affinity binds the calling goroutine to a single logical CPU.
package affinity

import (
	"errors"
	"runtime"
)

// ErrUnsupported is returned where the platform cannot pin threads.
var ErrUnsupported = errors.New("cpu affinity not supported on this platform")

// LockAndPin locks the calling goroutine to its OS thread and pins that
// thread to core. The thread stays locked even when pinning fails. Returning
// from the goroutine without unlocking lets the runtime discard the pinned
// thread instead of reusing it.
func LockAndPin(core int) error {
	runtime.LockOSThread()
	return Pin(core)
}
