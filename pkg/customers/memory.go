package customers

import (
	"context"
	"maps"
	"slices"
	"sync"
)

type conversation struct {
	department string
	autoReply  bool
	address    string
}

// MemoryStore is the in-process counterpart of RedisStore.
type MemoryStore struct {
	mu            sync.RWMutex
	tags          map[string]map[string]struct{}
	fields        map[string]map[string]any
	conversations map[string]*conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tags:          make(map[string]map[string]struct{}),
		fields:        make(map[string]map[string]any),
		conversations: make(map[string]*conversation),
	}
}

func (s *MemoryStore) AddTag(_ context.Context, customerID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tags[customerID] == nil {
		s.tags[customerID] = make(map[string]struct{})
	}

	s.tags[customerID][tag] = struct{}{}

	return nil
}

func (s *MemoryStore) RemoveTag(_ context.Context, customerID, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tags[customerID], tag)

	return nil
}

func (s *MemoryStore) SetField(_ context.Context, customerID, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fields[customerID] == nil {
		s.fields[customerID] = make(map[string]any)
	}

	s.fields[customerID][field] = value

	return nil
}

func (s *MemoryStore) Tags(customerID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.tags[customerID]))
}

func (s *MemoryStore) Field(customerID, field string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.fields[customerID][field]

	return value, ok
}

func (s *MemoryStore) Profile(_ context.Context, customerID string) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile := maps.Clone(s.fields[customerID])
	if profile == nil {
		profile = make(map[string]any)
	}

	profile["id"] = customerID
	profile["tags"] = slices.Sorted(maps.Keys(s.tags[customerID]))

	return profile, nil
}

func (s *MemoryStore) conversation(conversationID string) *conversation {
	c, ok := s.conversations[conversationID]
	if !ok {
		c = &conversation{autoReply: true}
		s.conversations[conversationID] = c
	}

	return c
}

func (s *MemoryStore) SetDepartment(_ context.Context, conversationID, department string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversation(conversationID).department = department

	return nil
}

func (s *MemoryStore) DisableAutoReply(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversation(conversationID).autoReply = false

	return nil
}

func (s *MemoryStore) EnableAutoReply(_ context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversation(conversationID).autoReply = true

	return nil
}

func (s *MemoryStore) AutoReplyEnabled(_ context.Context, conversationID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.conversations[conversationID]
	if !ok {
		return true, nil
	}

	return c.autoReply, nil
}

func (s *MemoryStore) Department(_ context.Context, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.conversations[conversationID]; ok {
		return c.department, nil
	}

	return "", nil
}

func (s *MemoryStore) SetAddress(_ context.Context, conversationID, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversation(conversationID).address = address

	return nil
}

func (s *MemoryStore) Address(_ context.Context, conversationID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.conversations[conversationID]; ok && c.address != "" {
		return c.address, nil
	}

	return conversationID, nil
}
