package sync

import (
	"context"
	"fmt"

	"github.com/rendertools/track-issue-sync/internal/remote"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// HierarchyResolver reconciles the hierarchy asymmetry between the two
// systems: a target record has exactly one native parent attribute, while a
// source record carries a multi-valued children field. Parent updates flow
// per event; child lists are only reflected during a full resync, because
// enumerating children requires a per-record query against the target
// system and doing that on every event would be prohibitive.
type HierarchyResolver struct {
	log      *log.Entry
	source   remote.Store
	target   remote.Store
	settings Settings
}

// ValidateParentMapping rejects a multi-valued source field mapped to the
// target's single parent attribute.
func (r *HierarchyResolver) ValidateParentMapping(
	m *EntityMapping,
	sourceField remote.FieldDescriptor,
) error {
	if sourceField.MultiValued {
		return configErrorf(
			"field %s.%s is multi-valued and cannot map to the single parent attribute",
			m.SourceType,
			sourceField.Name,
		)
	}
	return nil
}

// ParentKey resolves a source-side parent reference to the target key of the
// parent's counterpart. An empty reference unsets the parent.
func (r *HierarchyResolver) ParentKey(
	ctx context.Context,
	m *EntityMapping,
	parentRef interface{},
) (interface{}, error) {
	parentID := refID(parentRef)
	if parentID == "" {
		return nil, nil
	}

	parent, err := remote.FindOne(ctx, r.source, m.SourceType, remote.Filter{
		"id": parentID,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot read parent record: %w", err)
	}
	if parent == nil {
		return nil, fmt.Errorf("parent %s (%s) does not exist", m.SourceType, parentID)
	}

	key := cast.ToString(parent.Fields[r.settings.SourceKeyField])
	if key == "" {
		return nil, fmt.Errorf(
			"parent %s (%s) is not linked to a target record",
			m.SourceType,
			parentID,
		)
	}

	return key, nil
}

// ParentSourceID resolves a target-side parent key to the id of the source
// counterpart, for target-origin parent changes.
func (r *HierarchyResolver) ParentSourceID(
	ctx context.Context,
	m *EntityMapping,
	parentKey string,
) (interface{}, error) {
	if parentKey == "" {
		return nil, nil
	}

	parent, err := remote.FindOne(ctx, r.source, m.SourceType, remote.Filter{
		r.settings.SourceKeyField: parentKey,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot resolve parent counterpart: %w", err)
	}
	if parent == nil {
		return nil, fmt.Errorf(
			"no source record is linked to parent %s",
			parentKey,
		)
	}

	return parent.ID, nil
}

// ReflectChildren enumerates every target record whose parent is targetKey
// and writes their source ids into the mapped multi-valued source field.
// Only called during a full resync.
func (r *HierarchyResolver) ReflectChildren(
	ctx context.Context,
	m *EntityMapping,
	src *remote.Entity,
	targetKey string,
) (bool, error) {
	var childrenMapping *FieldMapping

	for i := range m.FieldMappings {
		if m.FieldMappings[i].TargetField == ChildrenField {
			childrenMapping = &m.FieldMappings[i]
			break
		}
	}

	if childrenMapping == nil {
		return false, nil
	}

	children, err := r.target.Find(ctx, m.TargetType, remote.Filter{
		ParentField: targetKey,
	})
	if err != nil {
		return false, fmt.Errorf("cannot enumerate children of %s: %w", targetKey, err)
	}

	ids := make([]string, 0, len(children))
	for i := range children {
		id := cast.ToString(children[i].Fields[r.settings.TargetKeyField])
		if id == "" {
			r.log.Debugf(
				"child %s (%s) has no source counterpart, skipping",
				children[i].Type,
				children[i].ID,
			)
			continue
		}
		ids = append(ids, id)
	}

	_, err = r.source.Update(ctx, src.Type, src.ID, map[string]interface{}{
		childrenMapping.SourceField: ids,
	})
	if err != nil {
		return false, &RemoteWriteError{
			System:     OriginSource,
			EntityType: src.Type,
			EntityID:   src.ID,
			Err:        err,
		}
	}

	r.log.Infof(
		"reflected %d children of %s into %s (%s)",
		len(ids),
		targetKey,
		src.Type,
		src.ID,
	)

	return true, nil
}

// refID extracts the id from an entity reference value, which may be a raw
// id or a {type, id} map.
func refID(ref interface{}) string {
	if m, ok := ref.(map[string]interface{}); ok {
		return cast.ToString(m["id"])
	}
	return cast.ToString(ref)
}
