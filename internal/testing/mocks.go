package testing

import (
	"sync"

	"github.com/aristath/layerwise/internal/modules/knowledgebase"
)

// MockKnowledgeBase wraps a MemoryStore and counts calls. It implements both
// knowledgebase.Fetcher and knowledgebase.Catalog.
type MockKnowledgeBase struct {
	store        *knowledgebase.MemoryStore
	mu           sync.Mutex
	fetchCalls   int
	catalogCalls int
	fetched      [][]string
	err          error
}

// NewMockKnowledgeBase creates a mock holding records
func NewMockKnowledgeBase(records ...knowledgebase.Record) *MockKnowledgeBase {
	return &MockKnowledgeBase{store: knowledgebase.NewMemoryStore(records...)}
}

// SetError makes every following call fail with err
func (m *MockKnowledgeBase) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Put inserts or replaces a record
func (m *MockKnowledgeBase) Put(record knowledgebase.Record) error {
	m.store.Put(record)
	return nil
}

// Fetch implements knowledgebase.Fetcher
func (m *MockKnowledgeBase) Fetch(isins []string) (map[string]knowledgebase.Record, error) {
	m.mu.Lock()
	m.fetchCalls++
	m.fetched = append(m.fetched, append([]string(nil), isins...))
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.store.Fetch(isins)
}

// Catalog implements knowledgebase.Catalog
func (m *MockKnowledgeBase) Catalog() ([]knowledgebase.Record, error) {
	m.mu.Lock()
	m.catalogCalls++
	err := m.err
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.store.Catalog()
}

// FetchCalls returns how often Fetch was called
func (m *MockKnowledgeBase) FetchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCalls
}

// CatalogCalls returns how often Catalog was called
func (m *MockKnowledgeBase) CatalogCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.catalogCalls
}

// Fetched returns the ISIN batches passed to Fetch, in call order
func (m *MockKnowledgeBase) Fetched() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.fetched...)
}
