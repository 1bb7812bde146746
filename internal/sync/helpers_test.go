package sync

import (
	"context"
	"io"
	"testing"

	"github.com/rendertools/track-issue-sync/internal/remote"
	"github.com/rendertools/track-issue-sync/internal/remote/memory"
	"github.com/rendertools/track-issue-sync/pkg/interop"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func testInterop() *interop.Interop {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return &interop.Interop{Logger: logger}
}

func taskSchema() []remote.FieldDescriptor {
	return []remote.FieldDescriptor{
		{Name: "issue_key", DataType: "text"},
		{Name: "sync_enabled", DataType: "checkbox"},
		{Name: "name", DataType: "text"},
		{Name: "description", DataType: "text"},
		{Name: "status", DataType: "list"},
		{Name: "due_date", DataType: "date"},
		{Name: "estimate", DataType: "number"},
		{Name: "parent_task", DataType: "entity"},
		{Name: "subtasks", DataType: "multi_entity", MultiValued: true},
	}
}

func issueSchema() []remote.FieldDescriptor {
	return []remote.FieldDescriptor{
		{Name: "record_id", DataType: "text"},
		{Name: "summary", DataType: "text", MaxLength: 255},
		{Name: "description", DataType: "text"},
		{Name: "status", DataType: "list"},
		{Name: "duedate", DataType: "date"},
		{Name: "timeoriginalestimate", DataType: "number"},
		{Name: "worklog_authors", DataType: "text"},
	}
}

func newTestStores() (*memory.Store, *memory.Store) {
	source := memory.New(remote.Identity{Name: "task_bot", Email: "task-bot@pipeline.local"})
	source.SetSchema("Task", taskSchema())

	target := memory.New(remote.Identity{Name: "issue_bot", Email: "issue-bot@tracker.local"})
	target.KeyPrefix = "TEST"
	target.SetSchema("Issue", issueSchema())

	return source, target
}

func taskMapping() EntityMapping {
	return EntityMapping{
		SourceType: "Task",
		TargetType: "Issue",
		FieldMappings: []FieldMapping{
			{SourceField: "name", TargetField: "summary"},
			{SourceField: "description", TargetField: "description"},
			{SourceField: "due_date", TargetField: "duedate"},
		},
		StatusMapping: &StatusMapping{
			SourceField: "status",
			TargetField: "status",
			Mapping: map[string]string{
				"wtg": "To Do",
				"ip":  "In Progress",
				"fin": "Done",
			},
		},
	}
}

func newTestSyncer(
	t *testing.T,
	source *memory.Store,
	target *memory.Store,
	settings Settings,
	mappings ...EntityMapping,
) *Syncer {
	t.Helper()

	s, err := NewSyncer(testInterop(), Config{
		Name:     "test",
		Settings: settings,
		Mappings: mappings,
	}, source, target)
	require.NoError(t, err)
	require.NoError(t, s.Setup(context.Background()))

	return s
}

// linkTask seeds a source task and its linked target issue.
func linkTask(
	source *memory.Store,
	target *memory.Store,
	taskID string,
	issueKey string,
	taskFields map[string]interface{},
	issueFields map[string]interface{},
) {
	if taskFields == nil {
		taskFields = map[string]interface{}{}
	}
	taskFields["issue_key"] = issueKey
	taskFields["sync_enabled"] = true
	source.Seed(remote.Entity{Type: "Task", ID: taskID, Fields: taskFields})

	if issueFields == nil {
		issueFields = map[string]interface{}{}
	}
	issueFields["record_id"] = taskID
	target.Seed(remote.Entity{Type: "Issue", ID: issueKey, Fields: issueFields})
}
