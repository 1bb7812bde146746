// Package remote defines the interface the sync engine uses to talk to the
// two record-keeping systems and a registry for their concrete clients. All
// persistent bridge state (cross-reference keys, worklog author lists) lives
// behind this interface, never in process memory.
package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/rendertools/track-issue-sync/pkg/interop"
	"github.com/spf13/viper"
)

// Entity is a structured record fetched from one of the two systems.
type Entity struct {
	Type   string
	ID     string
	Fields map[string]interface{}
}

// FieldDescriptor describes one field of a remote schema. MaxLength is zero
// when the field is unbounded.
type FieldDescriptor struct {
	Name        string
	DataType    string
	MaxLength   int
	MultiValued bool
}

// Filter is an equality filter on field values. The reserved key "id"
// matches the entity id.
type Filter map[string]interface{}

// Identity is the remote account the bridge itself authenticates as. Events
// raised by this account are echoes of the bridge's own writes.
type Identity struct {
	Name  string
	Email string
}

type Store interface {
	Find(ctx context.Context, entityType string, filter Filter) ([]Entity, error)
	Create(ctx context.Context, entityType string, fields map[string]interface{}) (*Entity, error)
	Update(ctx context.Context, entityType string, id string, fields map[string]interface{}) (*Entity, error)
	Delete(ctx context.Context, entityType string, id string) (bool, error)
	Fields(ctx context.Context, entityType string) ([]FieldDescriptor, error)
	Identity() Identity
}

// FindOne returns the first entity matching the filter, or nil when nothing
// matches.
func FindOne(
	ctx context.Context,
	s Store,
	entityType string,
	filter Filter,
) (*Entity, error) {
	entities, err := s.Find(ctx, entityType, filter)
	if err != nil {
		return nil, err
	}

	if len(entities) == 0 {
		return nil, nil
	}

	return &entities[0], nil
}

type InitFn func(*interop.Interop, *viper.Viper) (Store, error)

var (
	initFns   map[string]InitFn
	storeLock sync.Mutex
)

// NewStore builds a store from the given config subtree. The subtree must
// carry a "type" key naming a registered client.
func NewStore(i *interop.Interop, cfg *viper.Viper) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("missing remote store config")
	}

	storeType := cfg.GetString("type")
	if storeType == "" {
		return nil, fmt.Errorf("missing remote store type")
	}

	i.Logger.Debugf("getting remote store for type %s...", storeType)

	storeLock.Lock()
	defer storeLock.Unlock()

	fn, ok := initFns[storeType]
	if !ok {
		return nil, fmt.Errorf("invalid remote store type: %s", storeType)
	}

	i.Logger.Debugf("initializing remote store...")
	return fn(i, cfg)
}

func RegisterStore(t string, initFn InitFn) {
	storeLock.Lock()
	defer storeLock.Unlock()

	if initFns == nil {
		initFns = make(map[string]InitFn)
	}

	initFns[t] = initFn
}
