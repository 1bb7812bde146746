package sync

import (
	"context"
	"testing"

	"github.com/rendertools/track-issue-sync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptRejectsMalformedEvents(t *testing.T) {
	source, target := newTestStores()
	s := newTestSyncer(t, source, target, Settings{}, taskMapping())

	tests := []struct {
		name  string
		event *Event
		want  bool
	}{
		{
			name: "valid update",
			event: &Event{
				Origin:        OriginSource,
				EntityType:    "Task",
				EntityID:      "42",
				Change:        ChangeUpdate,
				ChangedFields: []string{"name"},
			},
			want: true,
		},
		{
			name: "unknown origin",
			event: &Event{
				Origin:     Origin("sideways"),
				EntityType: "Task",
				EntityID:   "42",
				Change:     ChangeCreate,
			},
			want: false,
		},
		{
			name: "unknown change type",
			event: &Event{
				Origin:     OriginSource,
				EntityType: "Task",
				EntityID:   "42",
				Change:     ChangeType("rename"),
			},
			want: false,
		},
		{
			name: "missing entity id",
			event: &Event{
				Origin:     OriginSource,
				EntityType: "Task",
				Change:     ChangeCreate,
			},
			want: false,
		},
		{
			name: "update without changed fields",
			event: &Event{
				Origin:     OriginSource,
				EntityType: "Task",
				EntityID:   "42",
				Change:     ChangeUpdate,
			},
			want: false,
		},
		{
			name: "no owning project",
			event: &Event{
				Origin:     OriginSource,
				EntityType: "Task",
				EntityID:   "42",
				Change:     ChangeCreate,
				Payload:    map[string]interface{}{"project": ""},
			},
			want: false,
		},
		{
			name: "project not enabled for sync",
			event: &Event{
				Origin:     OriginSource,
				EntityType: "Task",
				EntityID:   "42",
				Change:     ChangeCreate,
				Payload: map[string]interface{}{
					"project":              "demo",
					"project_sync_enabled": false,
				},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Accept(tt.event))
		})
	}
}

func TestEchoedEventsAreSuppressed(t *testing.T) {
	source, target := newTestStores()
	s := newTestSyncer(t, source, target, Settings{}, taskMapping())

	event := &Event{
		Origin:     OriginSource,
		EntityType: "Task",
		EntityID:   "42",
		Change:     ChangeCreate,
		Actor:      &Actor{Name: "task_bot"},
	}
	assert.False(t, s.Accept(event))

	event.Actor = &Actor{Name: "Alice", Email: "alice@pipeline.local"}
	assert.True(t, s.Accept(event))

	// The bridge identity of one side does not shadow human activity on
	// the other side.
	event.Origin = OriginTarget
	event.EntityType = "Issue"
	event.Actor = &Actor{Name: "task_bot"}
	assert.True(t, s.Accept(event))
}

func TestEchoGuardReportsTypedError(t *testing.T) {
	source, target := newTestStores()
	guard := NewEchoGuard(source, target)

	err := guard.Check(&Event{
		Origin: OriginSource,
		Actor:  &Actor{Name: "task_bot"},
	})
	var echoErr *EchoError
	require.ErrorAs(t, err, &echoErr)
	assert.Equal(t, OriginSource, echoErr.Origin)
	assert.Equal(t, "task_bot", echoErr.Actor)

	assert.NoError(t, guard.Check(&Event{
		Origin: OriginTarget,
		Actor:  &Actor{Name: "task_bot"},
	}))
	assert.NoError(t, guard.Check(&Event{Origin: OriginSource}))
}

func TestAtMostOneHandlerProcesses(t *testing.T) {
	storyMapping := EntityMapping{
		SourceType: "Task",
		TargetType: "Story",
		FieldMappings: []FieldMapping{
			{SourceField: "name", TargetField: "summary"},
		},
	}

	source, target := newTestStores()
	target.SetSchema("Story", issueSchema())

	linkTask(source, target, "42", "TEST-1", map[string]interface{}{
		"name": "Model hero",
	}, nil)
	target.Seed(remote.Entity{Type: "Story", ID: "TEST-1", Fields: map[string]interface{}{
		"record_id": "42",
	}})

	mapping := taskMapping()
	mapping.StatusMapping = nil

	s := newTestSyncer(t, source, target, Settings{}, mapping, storyMapping)

	result := s.Process(context.Background(), &Event{
		Origin:        OriginSource,
		EntityType:    "Task",
		EntityID:      "42",
		Change:        ChangeUpdate,
		ChangedFields: []string{"name"},
	})
	require.NoError(t, result.Err)
	assert.True(t, result.Applied)

	// Both mappings match the event; only the first one runs.
	assert.Equal(t, 1, target.WriteCount("update", "Issue"))
	assert.Equal(t, 0, target.WriteCount("update", "Story"))
}

func TestNoHandlerIsANoOp(t *testing.T) {
	source, target := newTestStores()
	s := newTestSyncer(t, source, target, Settings{}, taskMapping())

	result := s.Process(context.Background(), &Event{
		Origin:     OriginSource,
		EntityType: "Playlist",
		EntityID:   "9",
		Change:     ChangeCreate,
	})
	require.NoError(t, result.Err)
	assert.False(t, result.Applied)
	assert.Empty(t, source.Writes())
	assert.Empty(t, target.Writes())
}

func TestAuditRecordsProcessedEvents(t *testing.T) {
	source, target := newTestStores()
	s := newTestSyncer(t, source, target, Settings{
		AuditEventType: "BridgeEvent",
	}, taskMapping())

	s.Process(context.Background(), &Event{
		Origin:     OriginSource,
		EntityType: "Playlist",
		EntityID:   "9",
		Change:     ChangeCreate,
	})

	require.Equal(t, 1, source.WriteCount("create", "BridgeEvent"))

	write := source.Writes()[0]
	assert.Equal(t, "create", write.Fields["action"])
	assert.Equal(t, "source", write.Fields["origin"])
	assert.Equal(t, "target", write.Fields["destination"])
	assert.Equal(t, "Playlist", write.Fields["entity_type"])
	assert.Equal(t, false, write.Fields["applied"])
	assert.NotEmpty(t, write.Fields["event_id"])
}
