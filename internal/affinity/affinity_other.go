//go:build !linux

package affinity

// Pin is a no-op outside Linux.
func Pin(core int) error {
	return ErrUnsupported
}

// Current is unavailable outside Linux.
func Current() ([]int, error) {
	return nil, ErrUnsupported
}
