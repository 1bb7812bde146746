package sync

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rendertools/track-issue-sync/internal/remote"
	log "github.com/sirupsen/logrus"
)

// auditor writes one record per processed event to the source system, under
// a dedicated audit entity type. Disabled unless the channel configures an
// audit event type. Audit writes never fail the sync; they are observability,
// not state.
type auditor struct {
	log       *log.Entry
	store     remote.Store
	channel   string
	eventType string
}

func newAuditor(
	logger *log.Entry,
	store remote.Store,
	channel string,
	eventType string,
) *auditor {
	return &auditor{
		log:       logger,
		store:     store,
		channel:   channel,
		eventType: eventType,
	}
}

func (a *auditor) record(ctx context.Context, event *Event, result ProcessResult) {
	if a.eventType == "" {
		return
	}

	id, err := uuid.NewV4()
	if err != nil {
		a.log.Warnf("failed to generate audit event id: %s", err)
		return
	}

	fields := map[string]interface{}{
		"event_id":    id.String(),
		"channel":     a.channel,
		"action":      string(event.Change),
		"origin":      string(event.Origin),
		"destination": string(event.Origin.Opposite()),
		"entity_type": event.EntityType,
		"entity_id":   event.EntityID,
		"applied":     result.Applied,
		"error":       result.Err != nil,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	}
	if result.Err != nil {
		fields["message"] = result.Err.Error()
	}

	if _, err := a.store.Create(ctx, a.eventType, fields); err != nil {
		a.log.Warnf("failed to push audit event: %s", err)
	}
}
