package offline

import (
	"runtime"

	"github.com/chordbook/chordsync/internal/network"
)

// Hint defaults used when the platform does not report a value.
const (
	DefaultParallelism = 4
	DefaultMemoryGB    = 4
	DefaultBatchSize   = 20
)

// CapacityHints describe the device.
type CapacityHints struct {
	Parallelism int
	MemoryGB    float64
}

// CapacityInput is everything BatchSize looks at.
type CapacityInput struct {
	Class         network.Class
	EffectiveType string
	Parallelism   int
	MemoryGB      float64
}

// BatchSize returns how many detail records to request at once.
//
//	wifi     >=8 GB and >=8 cpus: 50, >=4 GB and >=4 cpus: 30, else 20
//	metered  4g/lte/unreported:   20 with >=4 GB, else 15
//	         3g: 10, 2g and slow-2g: 5
//	other    20
//
// Missing hints count as 4 cpus and 4 GB.
func BatchSize(in CapacityInput) int {
	cpus := in.Parallelism
	if cpus <= 0 {
		cpus = DefaultParallelism
	}
	mem := in.MemoryGB
	if mem <= 0 {
		mem = DefaultMemoryGB
	}

	switch in.Class {
	case network.ClassWifi:
		switch {
		case mem >= 8 && cpus >= 8:
			return 50
		case mem >= 4 && cpus >= 4:
			return 30
		default:
			return 20
		}
	case network.ClassMetered:
		switch in.EffectiveType {
		case network.Effective3G:
			return 10
		case network.Effective2G, network.EffectiveSlow2G:
			return 5
		default:
			if mem >= 4 {
				return 20
			}
			return 15
		}
	default:
		return DefaultBatchSize
	}
}

// SystemHints reports this machine's CPU count and total memory.
func SystemHints() CapacityHints {
	return CapacityHints{
		Parallelism: runtime.NumCPU(),
		MemoryGB:    totalMemoryGB(),
	}
}

// batchSize applies BatchSize to the current connection and device.
func (m *Manager) batchSize() int {
	state := m.policy.State()
	hints := m.options.Hints()
	return BatchSize(CapacityInput{
		Class:         state.Class,
		EffectiveType: state.EffectiveType,
		Parallelism:   hints.Parallelism,
		MemoryGB:      hints.MemoryGB,
	})
}
