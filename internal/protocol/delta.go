package protocol

import "fmt"

// ComputeDelta returns the byte-wise XOR of current against previous. Both
// slices must be the same length.
func ComputeDelta(current, previous []byte) ([]byte, error) {
	if len(current) != len(previous) {
		return nil, fmt.Errorf("protocol: delta length mismatch: %d vs %d", len(current), len(previous))
	}
	delta := make([]byte, len(current))
	for i := range current {
		delta[i] = current[i] ^ previous[i]
	}
	return delta, nil
}

// ApplyDelta XORs delta into target in place, reconstructing the frame the
// delta was computed from.
func ApplyDelta(target, delta []byte) error {
	if len(target) != len(delta) {
		return fmt.Errorf("protocol: delta length mismatch: %d vs %d", len(target), len(delta))
	}
	for i := range delta {
		target[i] ^= delta[i]
	}
	return nil
}
