package sync

import (
	"context"
	"fmt"

	"github.com/rendertools/track-issue-sync/internal/remote"
	"github.com/spf13/cast"
)

// CommentHandler syncs comment-like records. A comment is always attached
// to an already-linked parent record, so its type mapping is implicit; only
// the leaf field mapping is configurable.
//
// The target API cannot set a comment's author at creation nor reassign it
// later, so the source author identity is embedded in the comment body.
type CommentHandler struct {
	baseHandler
	mapping EntityMapping

	sourceFields map[string]remote.FieldDescriptor
	bodyField    string
	authorField  string
}

func (h *CommentHandler) Setup(ctx context.Context) error {
	var err error

	h.sourceFields, err = requireFields(ctx, h.source, h.mapping.SourceType)
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

	if _, ok := h.sourceFields[h.mapping.ParentLink]; !ok {
		return configErrorf(
			"source type %s has no parent link field %s",
			h.mapping.SourceType,
			h.mapping.ParentLink,
		)
	}

	if fm := h.mapping.fieldMappingForTarget("body"); fm != nil {
		h.bodyField = fm.SourceField
	} else {
		return configErrorf(
			"comment mapping for %s needs a field mapped to body",
			h.mapping.SourceType,
		)
	}

	if fm := h.mapping.fieldMappingForTarget("author"); fm != nil {
		h.authorField = fm.SourceField
	}

	return nil
}

func (h *CommentHandler) AcceptSourceEvent(event *Event) bool {
	if event.Origin != OriginSource || event.EntityType != h.mapping.SourceType {
		return false
	}

	if event.Change == ChangeDelete {
		return h.mapping.DeletionDirection.allows(OriginSource)
	}

	if !h.mapping.SyncDirection.allows(OriginSource) {
		return false
	}

	if event.Resync || event.Change == ChangeCreate {
		return true
	}

	return event.FieldChanged(h.bodyField) ||
		(h.authorField != "" && event.FieldChanged(h.authorField))
}

func (h *CommentHandler) AcceptTargetEvent(event *Event) bool {
	if event.Origin != OriginTarget || event.EntityType != h.mapping.TargetType {
		return false
	}

	if event.Change == ChangeDelete {
		return h.mapping.DeletionDirection.allows(OriginTarget)
	}

	return h.mapping.SyncDirection.allows(OriginTarget)
}

func (h *CommentHandler) ProcessSourceEvent(
	ctx context.Context,
	event *Event,
) (bool, error) {
	if event.Change == ChangeDelete {
		return h.deleteTargetComment(ctx, event)
	}

	src, err := h.findSource(ctx, h.mapping.SourceType, event.EntityID)
	if err != nil {
		return false, fmt.Errorf("cannot read source comment: %w", err)
	}
	if src == nil {
		return false, nil
	}

	body := h.composeBody(src)

	if key := h.sourceKeyOf(src); key != "" {
		_, err := h.target.Update(ctx, h.mapping.TargetType, key, map[string]interface{}{
			"body": body,
		})
		if err != nil {
			return false, &RemoteWriteError{
				System:     OriginTarget,
				EntityType: h.mapping.TargetType,
				EntityID:   key,
				Err:        err,
			}
		}
		return true, nil
	}

	parentKey, err := h.resolveParentTargetKey(ctx, src)
	if err != nil {
		return false, err
	}
	if parentKey == "" {
		h.log.Debugf(
			"%s (%s) is not attached to a synced record, ignoring",
			src.Type,
			src.ID,
		)
		return false, nil
	}

	created, err := h.target.Create(ctx, h.mapping.TargetType, map[string]interface{}{
		"issue": parentKey,
		"body":  body,
	})
	if err != nil {
		return false, &RemoteWriteError{
			System:     OriginTarget,
			EntityType: h.mapping.TargetType,
			EntityID:   src.ID,
			Err:        err,
		}
	}

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

	return true, nil
}

func (h *CommentHandler) ProcessTargetEvent(
	ctx context.Context,
	event *Event,
) (bool, error) {
	if event.Change == ChangeDelete {
		return h.deleteSourceComment(ctx, event)
	}

	tgt, err := h.findTarget(ctx, h.mapping.TargetType, event.EntityID)
	if err != nil {
		return false, fmt.Errorf("cannot read target comment: %w", err)
	}
	if tgt == nil {
		return false, nil
	}

	body := cast.ToString(tgt.Fields["body"])

	src, err := remote.FindOne(ctx, h.source, h.mapping.SourceType, remote.Filter{
		h.settings.SourceKeyField: tgt.ID,
	})
	if err != nil {
		return false, fmt.Errorf("cannot resolve comment counterpart: %w", err)
	}

	if src != nil {
		_, err := h.source.Update(ctx, src.Type, src.ID, map[string]interface{}{
			h.bodyField: body,
		})
		if err != nil {
			return false, &RemoteWriteError{
				System:     OriginSource,
				EntityType: src.Type,
				EntityID:   src.ID,
				Err:        err,
			}
		}
		return true, nil
	}

	if event.Change != ChangeCreate {
		return false, nil
	}

	parentID, err := h.resolveParentSourceID(ctx, tgt.ID)
	if err != nil {
		return false, err
	}
	if parentID == "" {
		h.log.Debugf(
			"owning record of comment %s is not synced, ignoring",
			tgt.ID,
		)
		return false, nil
	}

	_, err = h.source.Create(ctx, h.mapping.SourceType, map[string]interface{}{
		h.bodyField:               body,
		h.mapping.ParentLink:      parentID,
		h.settings.SourceKeyField: tgt.ID,
	})
	if err != nil {
		return false, &RemoteWriteError{
			System:     OriginSource,
			EntityType: h.mapping.SourceType,
			EntityID:   tgt.ID,
			Err:        err,
		}
	}

	return true, nil
}

// composeBody renders the counterpart comment body with the source author
// identity baked in.
func (h *CommentHandler) composeBody(src *remote.Entity) string {
	body := cast.ToString(src.Fields[h.bodyField])

	if h.authorField != "" {
		if author := refName(src.Fields[h.authorField]); author != "" {
			body = fmt.Sprintf("%s\n\n[posted by %s]", body, author)
		}
	}

	return body
}

// resolveParentTargetKey picks the target record the comment attaches to: the
// first linked parent that is itself synced.
func (h *CommentHandler) resolveParentTargetKey(
	ctx context.Context,
	src *remote.Entity,
) (string, error) {
	refs := refList(src.Fields[h.mapping.ParentLink])
	if len(refs) > 1 {
		h.log.Warnf(
			"%s (%s) is attached to %d records, only the first synced one gets the comment",
			src.Type,
			src.ID,
			len(refs),
		)
	}

	for _, ref := range refs {
		parent, err := remote.FindOne(ctx, h.source, h.mapping.ParentType, remote.Filter{
			"id": refID(ref),
		})
		if err != nil {
			return "", fmt.Errorf("cannot read parent record: %w", err)
		}
		if parent == nil {
			continue
		}

		if key := h.sourceKeyOf(parent); key != "" {
			return key, nil
		}
	}

	return "", nil
}

// resolveParentSourceID maps the owning issue of a composite comment id back
// to its source record.
func (h *CommentHandler) resolveParentSourceID(
	ctx context.Context,
	commentID string,
) (string, error) {
	issueKey := issueOf(commentID)
	if issueKey == "" {
		return "", nil
	}

	parent, err := remote.FindOne(ctx, h.source, h.mapping.ParentType, remote.Filter{
		h.settings.SourceKeyField: issueKey,
	})
	if err != nil {
		return "", fmt.Errorf("cannot resolve owning record: %w", err)
	}
	if parent == nil {
		return "", nil
	}

	return parent.ID, nil
}

func (h *CommentHandler) deleteTargetComment(
	ctx context.Context,
	event *Event,
) (bool, error) {
	// The source record is gone; the front-end snapshots its
	// cross-reference into the payload.
	key := cast.ToString(event.Payload[h.settings.SourceKeyField])
	if key == "" {
		h.log.Debugf(
			"deleted %s (%s) was not linked, nothing to do",
			event.EntityType,
			event.EntityID,
		)
		return false, nil
	}

	ok, err := h.target.Delete(ctx, h.mapping.TargetType, key)
	if err != nil {
		return false, &RemoteWriteError{
			System:     OriginTarget,
			EntityType: h.mapping.TargetType,
			EntityID:   key,
			Err:        err,
		}
	}

	return ok, nil
}

func (h *CommentHandler) deleteSourceComment(
	ctx context.Context,
	event *Event,
) (bool, error) {
	src, err := remote.FindOne(ctx, h.source, h.mapping.SourceType, remote.Filter{
		h.settings.SourceKeyField: event.EntityID,
	})
	if err != nil {
		return false, fmt.Errorf("cannot resolve comment counterpart: %w", err)
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

	return ok, nil
}

// refName extracts the display name from an entity reference value.
func refName(ref interface{}) string {
	if m, ok := ref.(map[string]interface{}); ok {
		return cast.ToString(m["name"])
	}
	return cast.ToString(ref)
}

// refList normalizes a link field value into a list of references.
func refList(value interface{}) []interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case []interface{}:
		return v
	default:
		return []interface{}{v}
	}
}

// issueOf returns the owning issue key of a composite sub-resource id.
func issueOf(compositeID string) string {
	for i := 0; i < len(compositeID); i++ {
		if compositeID[i] == '/' {
			return compositeID[:i]
		}
	}
	return ""
}
