package sync

import (
	"context"
	"fmt"

	"github.com/rendertools/track-issue-sync/internal/remote"
	"github.com/spf13/cast"
)

// EntityHandler reconciles one record-like entity mapping. It resolves the
// linked counterpart through the cross-reference field, translates every
// changed field whose mapping permits the event's direction, and issues the
// result as a single batched write.
//
// One event writes in exactly one direction, the one matching its origin.
// The only exception is the cross-reference write-back after a create, which
// is what establishes the link in the first place.
type EntityHandler struct {
	baseHandler
	mapping    EntityMapping
	translator ValueTranslator

	sourceFields map[string]remote.FieldDescriptor
	targetFields map[string]remote.FieldDescriptor
	hierarchy    *HierarchyResolver
}

func (h *EntityHandler) Setup(ctx context.Context) error {
	var err error

	h.sourceFields, err = requireFields(ctx, h.source, h.mapping.SourceType)
	if err != nil {
		return err
	}

	h.targetFields, err = requireFields(ctx, h.target, h.mapping.TargetType)
	if err != nil {
		return err
	}

	if _, ok := h.sourceFields[h.settings.SourceKeyField]; !ok {
		return configErrorf(
			"source type %s is missing the cross-reference field %s",
			h.mapping.SourceType,
			h.settings.SourceKeyField,
		)
	}

	if _, ok := h.targetFields[h.settings.TargetKeyField]; !ok {
		return configErrorf(
			"target type %s is missing the cross-reference field %s",
			h.mapping.TargetType,
			h.settings.TargetKeyField,
		)
	}

	h.hierarchy = &HierarchyResolver{
		log:      h.log,
		source:   h.source,
		target:   h.target,
		settings: h.settings,
	}

	for _, fm := range h.mapping.FieldMappings {
		sd, ok := h.sourceFields[fm.SourceField]
		if !ok {
			return configErrorf(
				"source type %s has no field %s",
				h.mapping.SourceType,
				fm.SourceField,
			)
		}

		switch fm.TargetField {
		case ChildrenField:
			if !sd.MultiValued {
				return configErrorf(
					"children marker must map to a multi-valued source field, %s.%s is single-valued",
					h.mapping.SourceType,
					fm.SourceField,
				)
			}

		case ParentField:
			if err := h.hierarchy.ValidateParentMapping(&h.mapping, sd); err != nil {
				return err
			}

		default:
			if _, ok := h.targetFields[fm.TargetField]; !ok {
				return configErrorf(
					"target type %s has no field %s",
					h.mapping.TargetType,
					fm.TargetField,
				)
			}
		}
	}

	if sm := h.mapping.StatusMapping; sm != nil {
		if _, ok := h.sourceFields[sm.SourceField]; !ok {
			return configErrorf(
				"source type %s has no status field %s",
				h.mapping.SourceType,
				sm.SourceField,
			)
		}
		if _, ok := h.targetFields[sm.TargetField]; !ok {
			return configErrorf(
				"target type %s has no status field %s",
				h.mapping.TargetType,
				sm.TargetField,
			)
		}
	}

	return nil
}

func (h *EntityHandler) AcceptSourceEvent(event *Event) bool {
	if event.Origin != OriginSource || event.EntityType != h.mapping.SourceType {
		return false
	}

	if event.Change == ChangeDelete {
		return h.mapping.DeletionDirection.allows(OriginSource)
	}

	if event.Resync || event.Change == ChangeCreate {
		return h.mapping.SyncDirection.allows(OriginSource)
	}

	for _, field := range event.ChangedFields {
		if fm := h.mapping.fieldMappingForSource(field); fm != nil &&
			fm.TargetField != ChildrenField &&
			fm.Direction.allows(OriginSource) {
			return true
		}

		if sm := h.mapping.StatusMapping; sm != nil &&
			field == sm.SourceField &&
			sm.Direction.allows(OriginSource) {
			return true
		}
	}

	return false
}

func (h *EntityHandler) AcceptTargetEvent(event *Event) bool {
	if event.Origin != OriginTarget || event.EntityType != h.mapping.TargetType {
		return false
	}

	if event.Change == ChangeDelete {
		return h.mapping.DeletionDirection.allows(OriginTarget)
	}

	if event.Change == ChangeCreate {
		return h.mapping.SyncDirection.allows(OriginTarget)
	}

	for _, field := range event.ChangedFields {
		if fm := h.mapping.fieldMappingForTarget(field); fm != nil &&
			fm.Direction.allows(OriginTarget) {
			return true
		}

		if sm := h.mapping.StatusMapping; sm != nil &&
			field == sm.TargetField &&
			sm.Direction.allows(OriginTarget) {
			return true
		}
	}

	return false
}

func (h *EntityHandler) ProcessSourceEvent(
	ctx context.Context,
	event *Event,
) (bool, error) {
	if event.Change == ChangeDelete {
		return h.propagateSourceDeletion(ctx, event)
	}

	src, err := h.findSource(ctx, h.mapping.SourceType, event.EntityID)
	if err != nil {
		return false, fmt.Errorf("cannot read source record: %w", err)
	}
	if src == nil {
		h.log.Debugf(
			"no source %s with id %s, nothing to do",
			h.mapping.SourceType,
			event.EntityID,
		)
		return false, nil
	}

	key := h.sourceKeyOf(src)
	if key == "" {
		// An unlinked record only comes into existence on the other side
		// on an explicit create or an enable-flag rising edge.
		if event.Change != ChangeCreate && !event.Resync {
			h.log.Debugf(
				"source %s (%s) is not linked, ignoring update",
				src.Type,
				src.ID,
			)
			return false, nil
		}
		return h.createTarget(ctx, event, src)
	}

	tgt, err := h.findTarget(ctx, h.mapping.TargetType, key)
	if err != nil {
		return false, fmt.Errorf("cannot read target record: %w", err)
	}
	if tgt == nil {
		if event.Resync {
			// The linked record is gone; a full resync heals the link.
			return h.createTarget(ctx, event, src)
		}
		h.log.Warnf(
			"source %s (%s) links to missing target %s (%s)",
			src.Type,
			src.ID,
			h.mapping.TargetType,
			key,
		)
		return false, nil
	}

	updates := h.buildTargetUpdates(ctx, event, src)

	applied := false

	if len(updates) > 0 {
		if _, err := h.target.Update(ctx, tgt.Type, tgt.ID, updates); err != nil {
			return false, &RemoteWriteError{
				System:     OriginTarget,
				EntityType: tgt.Type,
				EntityID:   tgt.ID,
				Err:        err,
			}
		}
		applied = true
	}

	if event.Resync {
		reflected, err := h.hierarchy.ReflectChildren(ctx, &h.mapping, src, tgt.ID)
		if err != nil {
			return applied, err
		}
		applied = applied || reflected
	}

	return applied, nil
}

func (h *EntityHandler) ProcessTargetEvent(
	ctx context.Context,
	event *Event,
) (bool, error) {
	if event.Change == ChangeDelete {
		return h.propagateTargetDeletion(ctx, event)
	}

	tgt, err := h.findTarget(ctx, h.mapping.TargetType, event.EntityID)
	if err != nil {
		return false, fmt.Errorf("cannot read target record: %w", err)
	}
	if tgt == nil {
		h.log.Debugf(
			"no target %s with key %s, nothing to do",
			h.mapping.TargetType,
			event.EntityID,
		)
		return false, nil
	}

	srcID := h.targetKeyOf(tgt)
	if srcID == "" {
		if event.Change != ChangeCreate {
			h.log.Debugf(
				"target %s (%s) is not linked, ignoring update",
				tgt.Type,
				tgt.ID,
			)
			return false, nil
		}
		return h.createSource(ctx, tgt)
	}

	src, err := h.findSource(ctx, h.mapping.SourceType, srcID)
	if err != nil {
		return false, fmt.Errorf("cannot read source record: %w", err)
	}
	if src == nil {
		h.log.Warnf(
			"target %s (%s) links to missing source %s (%s)",
			tgt.Type,
			tgt.ID,
			h.mapping.SourceType,
			srcID,
		)
		return false, nil
	}

	updates := h.buildSourceUpdates(ctx, event, tgt)
	if len(updates) == 0 {
		return false, nil
	}

	if _, err := h.source.Update(ctx, src.Type, src.ID, updates); err != nil {
		return false, &RemoteWriteError{
			System:     OriginSource,
			EntityType: src.Type,
			EntityID:   src.ID,
			Err:        err,
		}
	}

	return true, nil
}

// buildTargetUpdates accumulates the target-side field values for every
// changed field the mapping lets through source to target. Per-field
// translation failures are warnings, never aborts.
func (h *EntityHandler) buildTargetUpdates(
	ctx context.Context,
	event *Event,
	src *remote.Entity,
) map[string]interface{} {
	updates := map[string]interface{}{}
	backRef := recordRef(src)

	for _, fm := range h.mapping.FieldMappings {
		if !event.FieldChanged(fm.SourceField) {
			continue
		}
		if !fm.Direction.allows(OriginSource) {
			continue
		}

		switch fm.TargetField {
		case ChildrenField:
			// Child lists are only reflected during a full resync, and
			// they flow target to source; never part of this write.

		case ParentField:
			key, err := h.hierarchy.ParentKey(ctx, &h.mapping, src.Fields[fm.SourceField])
			if err != nil {
				h.log.Warnf(
					"skipping parent for %s (%s): %s",
					src.Type,
					src.ID,
					err,
				)
				continue
			}
			updates[ParentField] = key

		default:
			value, err := h.translator.Translate(
				src.Fields[fm.SourceField],
				h.targetFields[fm.TargetField],
				backRef,
			)
			if err != nil {
				h.log.Warnf("skipping field %s: %s", fm.SourceField, err)
				continue
			}
			updates[fm.TargetField] = value
		}
	}

	if sm := h.mapping.StatusMapping; sm != nil &&
		event.FieldChanged(sm.SourceField) &&
		sm.Direction.allows(OriginSource) {
		status := cast.ToString(src.Fields[sm.SourceField])

		if mapped, ok := sm.targetStatus(status); ok {
			updates[sm.TargetField] = mapped
		} else if status != "" {
			h.log.Warnf(
				"no target status mapped for %q, leaving %s status untouched",
				status,
				h.mapping.TargetType,
			)
		}
	}

	return updates
}

// buildSourceUpdates is the symmetric accumulation for target-origin events.
func (h *EntityHandler) buildSourceUpdates(
	ctx context.Context,
	event *Event,
	tgt *remote.Entity,
) map[string]interface{} {
	updates := map[string]interface{}{}
	backRef := recordRef(tgt)

	for _, fm := range h.mapping.FieldMappings {
		if fm.TargetField == ChildrenField {
			continue
		}
		if !event.FieldChanged(fm.TargetField) {
			continue
		}
		if !fm.Direction.allows(OriginTarget) {
			continue
		}

		if fm.TargetField == ParentField {
			parentID, err := h.hierarchy.ParentSourceID(
				ctx,
				&h.mapping,
				cast.ToString(tgt.Fields[ParentField]),
			)
			if err != nil {
				h.log.Warnf(
					"skipping parent for %s (%s): %s",
					tgt.Type,
					tgt.ID,
					err,
				)
				continue
			}
			updates[fm.SourceField] = parentID
			continue
		}

		value, err := h.translator.Translate(
			tgt.Fields[fm.TargetField],
			h.sourceFields[fm.SourceField],
			backRef,
		)
		if err != nil {
			h.log.Warnf("skipping field %s: %s", fm.TargetField, err)
			continue
		}
		updates[fm.SourceField] = value
	}

	if sm := h.mapping.StatusMapping; sm != nil &&
		event.FieldChanged(sm.TargetField) &&
		sm.Direction.allows(OriginTarget) {
		status := cast.ToString(tgt.Fields[sm.TargetField])

		if mapped, ok := sm.sourceStatus(status); ok {
			updates[sm.SourceField] = mapped
		} else if status != "" {
			h.log.Warnf(
				"no source status mapped for %q, leaving %s status untouched",
				status,
				h.mapping.SourceType,
			)
		}
	}

	return updates
}

// createTarget creates the linked target record from the source record's
// full current field state and writes the cross-reference back.
func (h *EntityHandler) createTarget(
	ctx context.Context,
	event *Event,
	src *remote.Entity,
) (bool, error) {
	if !h.mapping.SyncDirection.allows(OriginSource) {
		return false, nil
	}

	seed := &Event{
		Origin:     OriginSource,
		EntityType: src.Type,
		EntityID:   src.ID,
		Change:     ChangeCreate,
		Resync:     true,
	}

	fields := h.buildTargetUpdates(ctx, seed, src)
	fields[h.settings.TargetKeyField] = src.ID

	created, err := h.target.Create(ctx, h.mapping.TargetType, fields)
	if err != nil {
		return false, &RemoteWriteError{
			System:     OriginTarget,
			EntityType: h.mapping.TargetType,
			EntityID:   src.ID,
			Err:        err,
		}
	}

	h.log.Infof(
		"created %s (%s) for source %s (%s)",
		created.Type,
		created.ID,
		src.Type,
		src.ID,
	)

	_, err = h.source.Update(ctx, src.Type, src.ID, map[string]interface{}{
		h.settings.SourceKeyField: created.ID,
	})
	if err != nil {
		return false, &RemoteWriteError{
			System:     OriginSource,
			EntityType: src.Type,
			EntityID:   src.ID,
			Err:        err,
		}
	}

	if event.Resync {
		if _, err := h.hierarchy.ReflectChildren(ctx, &h.mapping, src, created.ID); err != nil {
			return true, err
		}
	}

	return true, nil
}

// createSource creates the linked source record from the target record's
// field state and links both sides.
func (h *EntityHandler) createSource(
	ctx context.Context,
	tgt *remote.Entity,
) (bool, error) {
	if !h.mapping.SyncDirection.allows(OriginTarget) {
		return false, nil
	}

	seed := &Event{
		Origin:     OriginTarget,
		EntityType: tgt.Type,
		EntityID:   tgt.ID,
		Change:     ChangeCreate,
		Resync:     true,
	}

	fields := h.buildSourceUpdates(ctx, seed, tgt)
	fields[h.settings.SourceKeyField] = tgt.ID

	created, err := h.source.Create(ctx, h.mapping.SourceType, fields)
	if err != nil {
		return false, &RemoteWriteError{
			System:     OriginSource,
			EntityType: h.mapping.SourceType,
			EntityID:   tgt.ID,
			Err:        err,
		}
	}

	h.log.Infof(
		"created %s (%s) for target %s (%s)",
		created.Type,
		created.ID,
		tgt.Type,
		tgt.ID,
	)

	_, err = h.target.Update(ctx, tgt.Type, tgt.ID, map[string]interface{}{
		h.settings.TargetKeyField: created.ID,
	})
	if err != nil {
		return false, &RemoteWriteError{
			System:     OriginTarget,
			EntityType: tgt.Type,
			EntityID:   tgt.ID,
			Err:        err,
		}
	}

	return true, nil
}

func (h *EntityHandler) propagateSourceDeletion(
	ctx context.Context,
	event *Event,
) (bool, error) {
	if !h.mapping.DeletionDirection.allows(OriginSource) {
		return false, nil
	}

	// The source record is already gone, so the link is resolved from the
	// target side.
	tgt, err := remote.FindOne(ctx, h.target, h.mapping.TargetType, remote.Filter{
		h.settings.TargetKeyField: event.EntityID,
	})
	if err != nil {
		return false, fmt.Errorf("cannot resolve deleted record's counterpart: %w", err)
	}
	if tgt == nil {
		return false, nil
	}

	ok, err := h.target.Delete(ctx, tgt.Type, tgt.ID)
	if err != nil {
		return false, &RemoteWriteError{
			System:     OriginTarget,
			EntityType: tgt.Type,
			EntityID:   tgt.ID,
			Err:        err,
		}
	}

	if ok {
		h.log.Infof(
			"deleted %s (%s) after source %s (%s) was deleted",
			tgt.Type,
			tgt.ID,
			h.mapping.SourceType,
			event.EntityID,
		)
	}

	return ok, nil
}

func (h *EntityHandler) propagateTargetDeletion(
	ctx context.Context,
	event *Event,
) (bool, error) {
	if !h.mapping.DeletionDirection.allows(OriginTarget) {
		return false, nil
	}

	src, err := remote.FindOne(ctx, h.source, h.mapping.SourceType, remote.Filter{
		h.settings.SourceKeyField: event.EntityID,
	})
	if err != nil {
		return false, fmt.Errorf("cannot resolve deleted record's counterpart: %w", err)
	}
	if src == nil {
		return false, nil
	}

	ok, err := h.source.Delete(ctx, src.Type, src.ID)
	if err != nil {
		return false, &RemoteWriteError{
			System:     OriginSource,
			EntityType: src.Type,
			EntityID:   src.ID,
			Err:        err,
		}
	}

	if ok {
		h.log.Infof(
			"deleted %s (%s) after target %s (%s) was deleted",
			src.Type,
			src.ID,
			h.mapping.TargetType,
			event.EntityID,
		)
	}

	return ok, nil
}

func recordRef(entity *remote.Entity) string {
	return fmt.Sprintf("%s/%s", entity.Type, entity.ID)
}
