package storage

import (
	"sync"

	"github.com/maltedev/cosmetics-harvester/internal/models"
)

// ResultTable collects accepted records in arrival order up to a fixed capacity.
// Records past the capacity are dropped and counted.
type ResultTable struct {
	mu       sync.RWMutex
	records  []models.ProductRecord
	capacity int
	dropped  int
}

func NewResultTable(capacity int) *ResultTable {
	return &ResultTable{capacity: capacity}
}

// Append stores rec and reports whether it fit.
func (t *ResultTable) Append(rec models.ProductRecord) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.records) >= t.capacity {
		t.dropped++
		return false
	}
	t.records = append(t.records, rec)
	return true
}

func (t *ResultTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.records)
}

func (t *ResultTable) Capacity() int {
	return t.capacity
}

func (t *ResultTable) Dropped() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.dropped
}

// Records returns a copy of the stored records, trimmed to the actual count.
func (t *ResultTable) Records() []models.ProductRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.ProductRecord, len(t.records))
	copy(out, t.records)
	return out
}
