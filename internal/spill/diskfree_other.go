//go:build !(linux || darwin || freebsd)

package spill

import "math"

// freeBytes cannot be measured portably here; the guard is skipped.
func freeBytes(string) (uint64, error) { return math.MaxUint64, nil }
