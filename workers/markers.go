package workers

import (
	"sync"

	"piobridge/types"
)

// MarkerStore remembers which Locked logs an agent already acted upon and how far it
// scanned. Every agent has its own store, agents never share markers.
type MarkerStore interface {
	IsProcessed(marker types.EventMarker) (bool, error)
	MarkProcessed(rec *types.RelayRecord) error
	Records() ([]*types.RelayRecord, error)
	// -1 when nothing was scanned yet
	LastScannedBlock() (int64, error)
	SetLastScannedBlock(block uint64) error
}

type MemoryMarkers struct {
	mu      sync.Mutex
	records map[string]*types.RelayRecord
	order   []string
	scanned int64
}

func NewMemoryMarkers() *MemoryMarkers {
	return &MemoryMarkers{
		records: make(map[string]*types.RelayRecord),
		scanned: -1,
	}
}

func (m *MemoryMarkers) IsProcessed(marker types.EventMarker) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[marker.String()]
	return ok, nil
}

func (m *MemoryMarkers) MarkProcessed(rec *types.RelayRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.Marker]; !ok {
		m.order = append(m.order, rec.Marker)
	}
	cp := *rec
	m.records[rec.Marker] = &cp
	return nil
}

func (m *MemoryMarkers) Records() ([]*types.RelayRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]*types.RelayRecord, 0, len(m.order))
	for _, k := range m.order {
		cp := *m.records[k]
		res = append(res, &cp)
	}
	return res, nil
}

func (m *MemoryMarkers) LastScannedBlock() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanned, nil
}

func (m *MemoryMarkers) SetLastScannedBlock(block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanned = int64(block)
	return nil
}
