package repository

import (
	"context"
	"sync"
)

type memoryEntityStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

func NewMemoryEntityStore() EntityStore {
	return &memoryEntityStore{collections: make(map[string]map[string][]byte)}
}

func (s *memoryEntityStore) Get(_ context.Context, collection, id string, dest any) (bool, error) {
	s.mu.RLock()
	raw, ok := s.collections[collection][id]
	s.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if err := decodeDocument(collection, id, raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (s *memoryEntityStore) Set(_ context.Context, collection, id string, doc any) error {
	raw, err := encodeDocument(collection, id, doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(collection, id, raw)
	return nil
}

func (s *memoryEntityStore) SetMany(_ context.Context, docs ...Document) error {
	raws, err := encodeBatch(docs)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, d := range docs {
		s.put(d.Collection, d.ID, raws[i])
	}
	return nil
}

// put requires s.mu held for writing.
func (s *memoryEntityStore) put(collection, id string, raw []byte) {
	fields, ok := s.collections[collection]
	if !ok {
		fields = make(map[string][]byte)
		s.collections[collection] = fields
	}
	fields[id] = raw
}

func (s *memoryEntityStore) Delete(_ context.Context, collection string, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.collections[collection], id)
	}
	return nil
}

func (s *memoryEntityStore) Exists(_ context.Context, collection, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.collections[collection][id]
	return ok, nil
}

func (s *memoryEntityStore) GetAll(_ context.Context, collection string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(s.collections[collection]))
	for id, raw := range s.collections[collection] {
		out[id] = append([]byte(nil), raw...)
	}
	return out, nil
}
