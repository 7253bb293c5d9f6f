package consol

import (
	"sort"
	"sync"
	"time"
)

// FinancialsSource supplies the own, unconsolidated figures of an entity.
// Data is materialised before a run starts; lookups never block on I/O.
type FinancialsSource interface {
	Lookup(entityID string, asOf time.Time) (Financials, bool)
}

// StaticFinancials is an in-memory FinancialsSource keyed by entity and date.
// A lookup returns the latest figures dated on or before asOf.
type StaticFinancials struct {
	mu   sync.RWMutex
	data map[string][]Financials
}

// NewStaticFinancials returns a source preloaded with rows.
func NewStaticFinancials(rows ...Financials) *StaticFinancials {
	s := &StaticFinancials{data: make(map[string][]Financials)}
	for _, r := range rows {
		s.Put(r)
	}
	return s
}

// Put stores or replaces the figures of an entity for f.AsOf.
func (s *StaticFinancials) Put(f Financials) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.data[f.EntityID]
	for i := range list {
		if list[i].AsOf.Equal(f.AsOf) {
			list[i] = f
			return
		}
	}
	list = append(list, f)
	for i := len(list) - 1; i > 0 && list[i].AsOf.Before(list[i-1].AsOf); i-- {
		list[i], list[i-1] = list[i-1], list[i]
	}
	s.data[f.EntityID] = list
}

// Lookup implements FinancialsSource.
func (s *StaticFinancials) Lookup(entityID string, asOf time.Time) (Financials, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.data[entityID]
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].AsOf.After(asOf) {
			return list[i], true
		}
	}
	return Financials{}, false
}

// All returns every stored set of figures, grouped by entity in date order.
func (s *StaticFinancials) All() []Financials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var out []Financials
	for _, id := range ids {
		out = append(out, s.data[id]...)
	}
	return out
}
