package engine

import (
	"fmt"
	"sync"

	"github.com/seqpipe/seqpipe/internal/pipeline"
)

// Budget is the admission-control ceiling for concurrently running
// instances: aggregate CPUs, aggregate memory, and a parallelism cap.
//
// It is the one piece of global mutable state shared between dispatch and
// completion handling, so all increments and decrements go through the
// mutex; nothing reads the counters directly.
type Budget struct {
	mu sync.Mutex

	maxCPUs     int
	maxMemoryMB int
	maxParallel int

	usedCPUs     int
	usedMemoryMB int
	running      int
}

// NewBudget creates a budget. Zero ceilings mean unlimited for that axis,
// except maxParallel which defaults to 4.
func NewBudget(maxCPUs, maxMemoryMB, maxParallel int) *Budget {
	if maxParallel <= 0 {
		maxParallel = 4
	}
	return &Budget{maxCPUs: maxCPUs, maxMemoryMB: maxMemoryMB, maxParallel: maxParallel}
}

// TryAcquire admits one instance if its resource hints fit the remaining
// budget. Hints of zero are admitted as 1 CPU / 0 MB so an unhinted
// template still counts against parallelism.
func (b *Budget) TryAcquire(res pipeline.Resources) bool {
	cpus := res.CPUs
	if cpus <= 0 {
		cpus = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running >= b.maxParallel {
		return false
	}
	if b.maxCPUs > 0 && b.usedCPUs+cpus > b.maxCPUs && b.running > 0 {
		// An instance bigger than the whole budget still runs, alone;
		// otherwise it could never be scheduled at all.
		return false
	}
	if b.maxMemoryMB > 0 && b.usedMemoryMB+res.MemoryMB > b.maxMemoryMB && b.running > 0 {
		return false
	}

	b.usedCPUs += cpus
	b.usedMemoryMB += res.MemoryMB
	b.running++
	return true
}

// Release returns an instance's resources on completion.
func (b *Budget) Release(res pipeline.Resources) {
	cpus := res.CPUs
	if cpus <= 0 {
		cpus = 1
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.usedCPUs -= cpus
	b.usedMemoryMB -= res.MemoryMB
	b.running--
	if b.usedCPUs < 0 || b.usedMemoryMB < 0 || b.running < 0 {
		panic(fmt.Sprintf("budget released below zero: cpus=%d mem=%d running=%d",
			b.usedCPUs, b.usedMemoryMB, b.running))
	}
}

// Running returns the number of admitted, not yet released instances.
func (b *Budget) Running() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}
