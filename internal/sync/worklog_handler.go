package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rendertools/track-issue-sync/internal/remote"
	"github.com/spf13/cast"
)

// worklogAuthor records who logged a given worklog. The target API always
// attributes worklogs to the bridge account, so the real authors are kept
// as a serialized list on the owning issue.
type worklogAuthor struct {
	Worklog string `json:"worklog"`
	Author  string `json:"author"`
}

// WorklogHandler syncs time-log records attached to a linked parent record.
type WorklogHandler struct {
	baseHandler
	mapping EntityMapping

	sourceFields  map[string]remote.FieldDescriptor
	commentField  string
	durationField string
	startedField  string
	authorField   string
}

func (h *WorklogHandler) Setup(ctx context.Context) error {
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

	if fm := h.mapping.fieldMappingForTarget("timeSpentSeconds"); fm != nil {
		h.durationField = fm.SourceField
	} else {
		return configErrorf(
			"worklog mapping for %s needs a field mapped to timeSpentSeconds",
			h.mapping.SourceType,
		)
	}

	if fm := h.mapping.fieldMappingForTarget("comment"); fm != nil {
		h.commentField = fm.SourceField
	}
	if fm := h.mapping.fieldMappingForTarget("started"); fm != nil {
		h.startedField = fm.SourceField
	}
	if fm := h.mapping.fieldMappingForTarget("author"); fm != nil {
		h.authorField = fm.SourceField
	}

	return nil
}

func (h *WorklogHandler) AcceptSourceEvent(event *Event) bool {
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

	return event.FieldChanged(h.durationField) ||
		(h.commentField != "" && event.FieldChanged(h.commentField)) ||
		(h.startedField != "" && event.FieldChanged(h.startedField))
}

func (h *WorklogHandler) AcceptTargetEvent(event *Event) bool {
	if event.Origin != OriginTarget || event.EntityType != h.mapping.TargetType {
		return false
	}

	if event.Change == ChangeDelete {
		return h.mapping.DeletionDirection.allows(OriginTarget)
	}

	return h.mapping.SyncDirection.allows(OriginTarget)
}

func (h *WorklogHandler) ProcessSourceEvent(
	ctx context.Context,
	event *Event,
) (bool, error) {
	if event.Change == ChangeDelete {
		return h.deleteTargetWorklog(ctx, event)
	}

	src, err := h.findSource(ctx, h.mapping.SourceType, event.EntityID)
	if err != nil {
		return false, fmt.Errorf("cannot read source worklog: %w", err)
	}
	if src == nil {
		return false, nil
	}

	fields := h.worklogFields(src)

	if key := h.sourceKeyOf(src); key != "" {
		_, err := h.target.Update(ctx, h.mapping.TargetType, key, fields)
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

	fields["issue"] = parentKey
	created, err := h.target.Create(ctx, h.mapping.TargetType, fields)
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

	if h.authorField != "" {
		if author := refName(src.Fields[h.authorField]); author != "" {
			h.recordAuthor(ctx, parentKey, created.ID, author)
		}
	}

	return true, nil
}

func (h *WorklogHandler) ProcessTargetEvent(
	ctx context.Context,
	event *Event,
) (bool, error) {
	if event.Change == ChangeDelete {
		return h.deleteSourceWorklog(ctx, event)
	}

	tgt, err := h.findTarget(ctx, h.mapping.TargetType, event.EntityID)
	if err != nil {
		return false, fmt.Errorf("cannot read target worklog: %w", err)
	}
	if tgt == nil {
		return false, nil
	}

	updates := map[string]interface{}{
		h.durationField: cast.ToInt(tgt.Fields["timeSpentSeconds"]) / 60,
	}
	if h.commentField != "" {
		updates[h.commentField] = cast.ToString(tgt.Fields["comment"])
	}
	if h.startedField != "" {
		if started := cast.ToString(tgt.Fields["started"]); started != "" {
			updates[h.startedField] = started
		}
	}

	src, err := remote.FindOne(ctx, h.source, h.mapping.SourceType, remote.Filter{
		h.settings.SourceKeyField: tgt.ID,
	})
	if err != nil {
		return false, fmt.Errorf("cannot resolve worklog counterpart: %w", err)
	}

	if src != nil {
		_, err := h.source.Update(ctx, src.Type, src.ID, updates)
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
			"owning record of worklog %s is not synced, ignoring",
			tgt.ID,
		)
		return false, nil
	}

	updates[h.mapping.ParentLink] = parentID
	updates[h.settings.SourceKeyField] = tgt.ID

	_, err = h.source.Create(ctx, h.mapping.SourceType, updates)
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

// worklogFields builds the target payload for a source worklog. The source
// tracks durations in minutes, the target in seconds.
func (h *WorklogHandler) worklogFields(src *remote.Entity) map[string]interface{} {
	fields := map[string]interface{}{
		"timeSpentSeconds": cast.ToInt(src.Fields[h.durationField]) * 60,
	}
	if h.commentField != "" {
		fields["comment"] = cast.ToString(src.Fields[h.commentField])
	}
	if h.startedField != "" {
		if started := cast.ToString(src.Fields[h.startedField]); started != "" {
			fields["started"] = started
		}
	}
	return fields
}

func (h *WorklogHandler) resolveParentTargetKey(
	ctx context.Context,
	src *remote.Entity,
) (string, error) {
	refs := refList(src.Fields[h.mapping.ParentLink])
	if len(refs) > 1 {
		h.log.Warnf(
			"%s (%s) is attached to %d records, only the first synced one gets the worklog",
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

func (h *WorklogHandler) resolveParentSourceID(
	ctx context.Context,
	worklogID string,
) (string, error) {
	issueKey := issueOf(worklogID)
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

func (h *WorklogHandler) deleteTargetWorklog(
	ctx context.Context,
	event *Event,
) (bool, error) {
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

	if ok {
		h.forgetAuthor(ctx, issueOf(key), key)
	}

	return ok, nil
}

func (h *WorklogHandler) deleteSourceWorklog(
	ctx context.Context,
	event *Event,
) (bool, error) {
	src, err := remote.FindOne(ctx, h.source, h.mapping.SourceType, remote.Filter{
		h.settings.SourceKeyField: event.EntityID,
	})
	if err != nil {
		return false, fmt.Errorf("cannot resolve worklog counterpart: %w", err)
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

// recordAuthor appends the worklog's real author to the owning issue's
// author list. The list is advisory, a failed write does not fail the sync.
func (h *WorklogHandler) recordAuthor(
	ctx context.Context,
	issueKey string,
	worklogKey string,
	author string,
) {
	authors, err := h.loadAuthors(ctx, issueKey)
	if err != nil {
		h.log.Warnf("cannot read worklog authors of %s: %v", issueKey, err)
		return
	}

	for i := range authors {
		if authors[i].Worklog == worklogKey {
			authors[i].Author = author
			h.storeAuthors(ctx, issueKey, authors)
			return
		}
	}

	authors = append(authors, worklogAuthor{Worklog: worklogKey, Author: author})
	h.storeAuthors(ctx, issueKey, authors)
}

// forgetAuthor drops a deleted worklog from the owning issue's author list.
func (h *WorklogHandler) forgetAuthor(
	ctx context.Context,
	issueKey string,
	worklogKey string,
) {
	if issueKey == "" {
		return
	}

	authors, err := h.loadAuthors(ctx, issueKey)
	if err != nil {
		h.log.Warnf("cannot read worklog authors of %s: %v", issueKey, err)
		return
	}

	kept := authors[:0]
	for _, a := range authors {
		if a.Worklog != worklogKey {
			kept = append(kept, a)
		}
	}

	if len(kept) != len(authors) {
		h.storeAuthors(ctx, issueKey, kept)
	}
}

func (h *WorklogHandler) loadAuthors(
	ctx context.Context,
	issueKey string,
) ([]worklogAuthor, error) {
	issue, err := remote.FindOne(ctx, h.target, h.mapping.ParentTargetType, remote.Filter{
		"id": issueKey,
	})
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, fmt.Errorf("issue %s not found", issueKey)
	}

	raw := cast.ToString(issue.Fields[h.settings.WorklogAuthorsField])
	if raw == "" {
		return nil, nil
	}

	var authors []worklogAuthor
	if err := json.Unmarshal([]byte(raw), &authors); err != nil {
		h.log.Warnf("worklog author list of %s is corrupt, resetting: %v", issueKey, err)
		return nil, nil
	}

	return authors, nil
}

func (h *WorklogHandler) storeAuthors(
	ctx context.Context,
	issueKey string,
	authors []worklogAuthor,
) {
	raw, err := json.Marshal(authors)
	if err != nil {
		h.log.Warnf("cannot serialize worklog authors of %s: %v", issueKey, err)
		return
	}

	_, err = h.target.Update(ctx, h.mapping.ParentTargetType, issueKey, map[string]interface{}{
		h.settings.WorklogAuthorsField: string(raw),
	})
	if err != nil {
		h.log.Warnf("cannot store worklog authors of %s: %v", issueKey, err)
	}
}
