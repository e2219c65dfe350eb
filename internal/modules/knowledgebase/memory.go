package knowledgebase

import (
	"sort"
	"sync"

	"github.com/aristath/layerwise/internal/domain"
)

// MemoryStore is an in-process knowledge base. The CLI loads YAML files into
// it so assessments can run without a database.
type MemoryStore struct {
	records map[string]Record
	mu      sync.RWMutex
}

// NewMemoryStore creates a store holding records.
func NewMemoryStore(records ...Record) *MemoryStore {
	s := &MemoryStore{records: make(map[string]Record, len(records))}
	for _, record := range records {
		s.Put(record)
	}
	return s
}

// Put inserts or replaces a record.
func (s *MemoryStore) Put(record Record) {
	record.ISIN = domain.NormalizeISIN(record.ISIN)
	if record.ISIN == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ISIN] = record
}

// Fetch implements Fetcher.
func (s *MemoryStore) Fetch(isins []string) (map[string]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]Record, len(isins))
	for _, isin := range UniqueISINs(isins) {
		if record, ok := s.records[isin]; ok {
			result[isin] = record
		}
	}
	return result, nil
}

// Catalog implements Catalog: complete records ordered by ISIN.
func (s *MemoryStore) Catalog() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]Record, 0, len(s.records))
	for _, record := range s.records {
		if record.IsComplete() {
			records = append(records, record)
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ISIN < records[j].ISIN })
	return records, nil
}

// Len returns the number of stored records.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
