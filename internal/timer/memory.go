package timer

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// MemorySchedule is the in-process Schedule: a min-heap ordered by due time
// under a single mutex. Suited to tests and single-node deployments; entries
// do not survive a restart.
type MemorySchedule struct {
	mu      sync.Mutex
	entries entryHeap
}

// NewMemorySchedule creates an empty in-memory schedule.
func NewMemorySchedule() *MemorySchedule {
	return &MemorySchedule{}
}

func (m *MemorySchedule) Insert(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	heap.Push(&m.entries, entry)
	return nil
}

func (m *MemorySchedule) DrainDue(_ context.Context, now time.Time) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []Entry
	for m.entries.Len() > 0 && !m.entries[0].DueAt.After(now) {
		due = append(due, heap.Pop(&m.entries).(Entry))
	}
	return due, nil
}

func (m *MemorySchedule) Cancel(_ context.Context, executionID, nodeID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	removed := 0
	for _, e := range m.entries {
		if e.ExecutionID == executionID && e.NodeID == nodeID {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	heap.Init(&m.entries)
	return removed, nil
}

func (m *MemorySchedule) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries.Len(), nil
}

var _ Schedule = (*MemorySchedule)(nil)

type entryHeap []Entry

func (h entryHeap) Len() int           { return len(h) }
func (h entryHeap) Less(i, j int) bool { return h[i].DueAt.Before(h[j].DueAt) }
func (h entryHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(Entry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}
