package sync

import (
	"context"

	"github.com/rendertools/track-issue-sync/internal/remote"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// Handler owns the reconciliation of one slice of an event stream. Accept
// methods are side-effect free and decide on the payload alone; Process
// methods may read and write remote state and report whether an action was
// taken.
//
// A handler is selected by the syncer's ordered first-match dispatch: for
// any event at most one handler's Process runs.
type Handler interface {
	// Setup runs once per process lifetime and validates that the remote
	// schema the handler relies on exists. A failure aborts the channel.
	Setup(ctx context.Context) error

	AcceptSourceEvent(event *Event) bool
	ProcessSourceEvent(ctx context.Context, event *Event) (bool, error)

	AcceptTargetEvent(event *Event) bool
	ProcessTargetEvent(ctx context.Context, event *Event) (bool, error)
}

// baseHandler carries the dependencies shared by all handlers. Stores and
// settings are injected at construction; no handler reaches for globals.
type baseHandler struct {
	log      *log.Entry
	source   remote.Store
	target   remote.Store
	settings Settings
}

// sourceKeyOf returns the target key stored on a source record, or "".
func (h *baseHandler) sourceKeyOf(entity *remote.Entity) string {
	return cast.ToString(entity.Fields[h.settings.SourceKeyField])
}

// targetKeyOf returns the source id stored on a target record, or "".
func (h *baseHandler) targetKeyOf(entity *remote.Entity) string {
	return cast.ToString(entity.Fields[h.settings.TargetKeyField])
}

// findSource fetches a source record by id; nil when it does not exist.
func (h *baseHandler) findSource(
	ctx context.Context,
	entityType string,
	id string,
) (*remote.Entity, error) {
	return remote.FindOne(ctx, h.source, entityType, remote.Filter{"id": id})
}

// findTarget fetches a target record by key; nil when it does not exist.
func (h *baseHandler) findTarget(
	ctx context.Context,
	entityType string,
	key string,
) (*remote.Entity, error) {
	return remote.FindOne(ctx, h.target, entityType, remote.Filter{"id": key})
}

// requireFields loads the schema of an entity type from a store and indexes
// it by field name.
func requireFields(
	ctx context.Context,
	s remote.Store,
	entityType string,
) (map[string]remote.FieldDescriptor, error) {
	fields, err := s.Fields(ctx, entityType)
	if err != nil {
		return nil, configErrorf(
			"cannot load schema for entity type %s: %s",
			entityType,
			err,
		)
	}

	byName := make(map[string]remote.FieldDescriptor, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}

	return byName, nil
}
