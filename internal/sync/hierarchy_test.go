package sync

import (
	"context"
	"testing"

	"github.com/rendertools/track-issue-sync/internal/remote"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hierarchyMapping() EntityMapping {
	m := taskMapping()
	m.StatusMapping = nil
	m.FieldMappings = append(m.FieldMappings,
		FieldMapping{SourceField: "parent_task", TargetField: ParentField},
		FieldMapping{SourceField: "subtasks", TargetField: ChildrenField},
	)
	return m
}

func TestParentChangeFollowsCounterpartLink(t *testing.T) {
	source, target := newTestStores()
	linkTask(source, target, "7", "TEST-9", nil, nil)
	linkTask(source, target, "42", "TEST-1", map[string]interface{}{
		"parent_task": "7",
	}, nil)

	s := newTestSyncer(t, source, target, Settings{}, hierarchyMapping())

	result := s.Process(context.Background(), &Event{
		Origin:        OriginSource,
		EntityType:    "Task",
		EntityID:      "42",
		Change:        ChangeUpdate,
		ChangedFields: []string{"parent_task"},
	})
	require.NoError(t, result.Err)
	assert.True(t, result.Applied)

	issue := target.Get("Issue", "TEST-1")
	assert.Equal(t, "TEST-9", issue.Fields[ParentField])
}

func TestUnlinkedParentIsSkippedWithWarning(t *testing.T) {
	source, target := newTestStores()
	// Parent task exists but has no counterpart.
	source.Seed(remote.Entity{Type: "Task", ID: "7", Fields: map[string]interface{}{}})
	linkTask(source, target, "42", "TEST-1", map[string]interface{}{
		"parent_task": "7",
	}, nil)

	s := newTestSyncer(t, source, target, Settings{}, hierarchyMapping())

	result := s.Process(context.Background(), &Event{
		Origin:        OriginSource,
		EntityType:    "Task",
		EntityID:      "42",
		Change:        ChangeUpdate,
		ChangedFields: []string{"parent_task"},
	})
	require.NoError(t, result.Err)
	assert.False(t, result.Applied)
	assert.Empty(t, target.Writes())
}

func TestResyncReflectsChildren(t *testing.T) {
	source, target := newTestStores()
	linkTask(source, target, "42", "TEST-1", map[string]interface{}{
		"name":         "Model hero",
		"sync_enabled": true,
	}, nil)

	// Two children on the tracker, one of them without a counterpart.
	target.Seed(remote.Entity{Type: "Issue", ID: "TEST-2", Fields: map[string]interface{}{
		ParentField: "TEST-1",
		"record_id": "50",
	}})
	target.Seed(remote.Entity{Type: "Issue", ID: "TEST-3", Fields: map[string]interface{}{
		ParentField: "TEST-1",
	}})

	s := newTestSyncer(t, source, target, Settings{}, hierarchyMapping())

	result := s.Process(context.Background(), enableEvent(true, false))
	require.NoError(t, result.Err)
	assert.True(t, result.Applied)

	task := source.Get("Task", "42")
	assert.Equal(t, []string{"50"}, task.Fields["subtasks"])
}

func TestChildrenAreNotReflectedOutsideResync(t *testing.T) {
	source, target := newTestStores()
	linkTask(source, target, "42", "TEST-1", map[string]interface{}{
		"name": "Model hero",
	}, nil)
	target.Seed(remote.Entity{Type: "Issue", ID: "TEST-2", Fields: map[string]interface{}{
		ParentField: "TEST-1",
		"record_id": "50",
	}})

	s := newTestSyncer(t, source, target, Settings{}, hierarchyMapping())

	result := s.Process(context.Background(), &Event{
		Origin:        OriginSource,
		EntityType:    "Task",
		EntityID:      "42",
		Change:        ChangeUpdate,
		ChangedFields: []string{"name", "subtasks"},
	})
	require.NoError(t, result.Err)
	assert.True(t, result.Applied)

	task := source.Get("Task", "42")
	assert.Nil(t, task.Fields["subtasks"])
}

func TestMultiValuedParentMappingFailsSetup(t *testing.T) {
	m := taskMapping()
	m.StatusMapping = nil
	m.FieldMappings = []FieldMapping{
		// subtasks is multi-valued; the parent attribute is single.
		{SourceField: "subtasks", TargetField: ParentField},
	}

	source, target := newTestStores()

	s, err := NewSyncer(testInterop(), Config{
		Name:     "test",
		Mappings: []EntityMapping{m},
	}, source, target)
	require.NoError(t, err)

	err = s.Setup(context.Background())
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, cfgErr.Reason, "multi-valued")
}

func TestUnsettingParentClearsIt(t *testing.T) {
	source, target := newTestStores()
	linkTask(source, target, "42", "TEST-1", nil, map[string]interface{}{
		ParentField: "TEST-9",
	})

	s := newTestSyncer(t, source, target, Settings{}, hierarchyMapping())

	result := s.Process(context.Background(), &Event{
		Origin:        OriginSource,
		EntityType:    "Task",
		EntityID:      "42",
		Change:        ChangeUpdate,
		ChangedFields: []string{"parent_task"},
	})
	require.NoError(t, result.Err)
	assert.True(t, result.Applied)

	issue := target.Get("Issue", "TEST-1")
	assert.Nil(t, issue.Fields[ParentField])
}
