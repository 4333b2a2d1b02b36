package objectstore

import (
	"context"
	"sync"

	"github.com/trezcool/masomo-chat/core/attachment"
)

// MemoryStore keeps attachments in process memory; for tests and local runs without NATS.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]attachment.Object
}

var _ attachment.Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]attachment.Object)}
}

func (s *MemoryStore) Put(ctx context.Context, obj attachment.Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	obj.Data = append([]byte(nil), obj.Data...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[obj.Key] = obj
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (attachment.Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return attachment.Object{}, attachment.ErrNotFound
	}
	obj.Data = append([]byte(nil), obj.Data...)
	return obj, nil
}
