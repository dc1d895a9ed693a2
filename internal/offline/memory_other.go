//go:build !linux

package offline

// totalMemoryGB is unknown off Linux; BatchSize then assumes the default.
func totalMemoryGB() float64 {
	return 0
}
