package sync

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// EnableSyncHandler intercepts flips of the per-record enable flag. Turning
// the flag on replays the record's full field state through the regular
// handlers so the counterpart catches up on everything missed while syncing
// was off. Turning it off does nothing; the record simply stops syncing.
type EnableSyncHandler struct {
	log         *log.Entry
	enableField string
	primary     Handler
	secondary   []Handler
}

func (h *EnableSyncHandler) Setup(ctx context.Context) error {
	if err := h.primary.Setup(ctx); err != nil {
		return err
	}
	for _, handler := range h.secondary {
		if err := handler.Setup(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (h *EnableSyncHandler) AcceptSourceEvent(event *Event) bool {
	if event.Origin != OriginSource || event.Change != ChangeUpdate {
		return false
	}
	if !event.FieldChanged(h.enableField) {
		return false
	}
	if !event.RisingEdge() {
		if !cast.ToBool(event.NewValue()) {
			h.log.Debugf(
				"syncing turned off for %s (%s), nothing to replay",
				event.EntityType,
				event.EntityID,
			)
		}
		return false
	}
	return true
}

func (h *EnableSyncHandler) AcceptTargetEvent(event *Event) bool {
	return false
}

func (h *EnableSyncHandler) ProcessSourceEvent(
	ctx context.Context,
	event *Event,
) (bool, error) {
	h.log.Infof(
		"syncing turned on for %s (%s), replaying full state",
		event.EntityType,
		event.EntityID,
	)

	resync := *event
	resync.Change = ChangeUpdate
	resync.Resync = true

	handlers := append([]Handler{h.primary}, h.secondary...)

	lead := -1
	for i, handler := range handlers {
		if handler.AcceptSourceEvent(&resync) {
			lead = i
			break
		}
	}
	if lead < 0 {
		return false, nil
	}

	applied, err := handlers[lead].ProcessSourceEvent(ctx, &resync)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	// Dependent records (comments, worklogs, linked types) resync
	// best-effort; a failure there must not roll back the lead replay.
	for i, handler := range handlers {
		if i == lead || !handler.AcceptSourceEvent(&resync) {
			continue
		}
		if _, err := handler.ProcessSourceEvent(ctx, &resync); err != nil {
			h.log.Warnf(
				"resync of %s (%s) partially failed: %v",
				event.EntityType,
				event.EntityID,
				err,
			)
		}
	}

	return true, nil
}

func (h *EnableSyncHandler) ProcessTargetEvent(
	ctx context.Context,
	event *Event,
) (bool, error) {
	return false, nil
}
