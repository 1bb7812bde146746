// Package memory provides an in-memory remote.Store used by tests and local
// dry runs. It records every write so tests can assert on call batching.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rendertools/track-issue-sync/internal/remote"
	"github.com/spf13/cast"
)

// WriteCall captures one mutating call against the store.
type WriteCall struct {
	Op         string
	EntityType string
	ID         string
	Fields     map[string]interface{}
}

type Store struct {
	// KeyPrefix is used when generating ids, e.g. "TEST" yields "TEST-1".
	KeyPrefix string

	// Optional forced failures for error-path tests.
	CreateErr error
	UpdateErr error
	DeleteErr error

	mu       sync.Mutex
	identity remote.Identity
	entities map[string]map[string]*remote.Entity
	schemas  map[string][]remote.FieldDescriptor
	nextID   int
	writes   []WriteCall
}

func New(identity remote.Identity) *Store {
	return &Store{
		identity: identity,
		entities: map[string]map[string]*remote.Entity{},
		schemas:  map[string][]remote.FieldDescriptor{},
	}
}

func (s *Store) Identity() remote.Identity {
	return s.identity
}

// SetSchema registers the field descriptors returned by Fields for a type.
func (s *Store) SetSchema(entityType string, fields []remote.FieldDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[entityType] = fields
}

// Seed inserts an entity without recording a write.
func (s *Store) Seed(entity remote.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entities[entity.Type] == nil {
		s.entities[entity.Type] = map[string]*remote.Entity{}
	}

	clone := cloneEntity(&entity)
	s.entities[entity.Type][entity.ID] = clone
}

// Get returns a copy of the stored entity, or nil.
func (s *Store) Get(entityType string, id string) *remote.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()

	entity, ok := s.entities[entityType][id]
	if !ok {
		return nil
	}

	return cloneEntity(entity)
}

// Writes returns all mutating calls made so far, in order.
func (s *Store) Writes() []WriteCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]WriteCall, len(s.writes))
	copy(out, s.writes)
	return out
}

// WriteCount returns the number of mutating calls of the given op against
// the given entity type.
func (s *Store) WriteCount(op string, entityType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, w := range s.writes {
		if w.Op == op && w.EntityType == entityType {
			n++
		}
	}
	return n
}

func (s *Store) Find(
	ctx context.Context,
	entityType string,
	filter remote.Filter,
) ([]remote.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var results []remote.Entity

	for _, entity := range s.entities[entityType] {
		if matches(entity, filter) {
			results = append(results, *cloneEntity(entity))
		}
	}

	return results, nil
}

func (s *Store) Create(
	ctx context.Context,
	entityType string,
	fields map[string]interface{},
) (*remote.Entity, error) {
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++

	id := fmt.Sprintf("%d", s.nextID)
	if s.KeyPrefix != "" {
		id = fmt.Sprintf("%s-%d", s.KeyPrefix, s.nextID)
	}

	// Comment and worklog style sub-resources carry composite ids scoped to
	// their owning record.
	if issue := cast.ToString(fields["issue"]); issue != "" {
		id = fmt.Sprintf("%s/%d", issue, s.nextID)
	}

	entity := &remote.Entity{
		Type:   entityType,
		ID:     id,
		Fields: cloneFields(fields),
	}

	if s.entities[entityType] == nil {
		s.entities[entityType] = map[string]*remote.Entity{}
	}
	s.entities[entityType][id] = entity

	s.writes = append(s.writes, WriteCall{
		Op:         "create",
		EntityType: entityType,
		ID:         id,
		Fields:     cloneFields(fields),
	})

	return cloneEntity(entity), nil
}

func (s *Store) Update(
	ctx context.Context,
	entityType string,
	id string,
	fields map[string]interface{},
) (*remote.Entity, error) {
	if s.UpdateErr != nil {
		return nil, s.UpdateErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entity, ok := s.entities[entityType][id]
	if !ok {
		return nil, fmt.Errorf("no %s with id %s", entityType, id)
	}

	for k, v := range fields {
		entity.Fields[k] = v
	}

	s.writes = append(s.writes, WriteCall{
		Op:         "update",
		EntityType: entityType,
		ID:         id,
		Fields:     cloneFields(fields),
	})

	return cloneEntity(entity), nil
}

func (s *Store) Delete(
	ctx context.Context,
	entityType string,
	id string,
) (bool, error) {
	if s.DeleteErr != nil {
		return false, s.DeleteErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[entityType][id]; !ok {
		return false, nil
	}

	delete(s.entities[entityType], id)

	s.writes = append(s.writes, WriteCall{
		Op:         "delete",
		EntityType: entityType,
		ID:         id,
	})

	return true, nil
}

func (s *Store) Fields(
	ctx context.Context,
	entityType string,
) ([]remote.FieldDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.schemas[entityType]
	if !ok {
		return nil, fmt.Errorf("no schema for entity type %s", entityType)
	}

	return fields, nil
}

func matches(entity *remote.Entity, filter remote.Filter) bool {
	for field, want := range filter {
		var got interface{}

		if field == "id" {
			got = entity.ID
		} else {
			got = entity.Fields[field]
		}

		if cast.ToString(got) != cast.ToString(want) {
			return false
		}
	}

	return true
}

func cloneEntity(entity *remote.Entity) *remote.Entity {
	return &remote.Entity{
		Type:   entity.Type,
		ID:     entity.ID,
		Fields: cloneFields(entity.Fields),
	}
}

func cloneFields(fields map[string]interface{}) map[string]interface{} {
	clone := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		clone[k] = v
	}
	return clone
}
