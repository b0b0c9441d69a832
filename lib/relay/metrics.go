package relay

import "sync"

type tickMetrics struct {
	mu sync.Mutex

	selected int
	relayed  int
	skipped  int
	errored  int
}

func (m *tickMetrics) Add(other *tickMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.selected += other.selected
	m.relayed += other.relayed
	m.skipped += other.skipped
	m.errored += other.errored
}
