package sync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rendertools/track-issue-sync/internal/remote"
	"github.com/rendertools/track-issue-sync/internal/remote/memory"
	"github.com/spf13/cast"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func timeLogSchema() []remote.FieldDescriptor {
	return []remote.FieldDescriptor{
		{Name: "issue_key", DataType: "text"},
		{Name: "duration", DataType: "duration"},
		{Name: "description", DataType: "text"},
		{Name: "date", DataType: "date"},
		{Name: "user", DataType: "entity"},
		{Name: "entity", DataType: "entity"},
	}
}

func timeLogMapping() EntityMapping {
	return EntityMapping{
		Kind:             KindWorklog,
		SourceType:       "TimeLog",
		TargetType:       "worklog",
		ParentLink:       "entity",
		ParentType:       "Task",
		ParentTargetType: "Issue",
		FieldMappings: []FieldMapping{
			{SourceField: "duration", TargetField: "timeSpentSeconds"},
			{SourceField: "description", TargetField: "comment"},
			{SourceField: "date", TargetField: "started"},
			{SourceField: "user", TargetField: "author"},
		},
	}
}

func newWorklogFixture(t *testing.T) (*Syncer, *memory.Store, *memory.Store) {
	source, target := newTestStores()
	source.SetSchema("TimeLog", timeLogSchema())

	linkTask(source, target, "42", "TEST-1", nil, nil)

	s := newTestSyncer(t, source, target, Settings{}, taskMapping(), timeLogMapping())
	return s, source, target
}

func TestTimeLogCreatesWorklog(t *testing.T) {
	s, source, target := newWorklogFixture(t)

	source.Seed(remote.Entity{Type: "TimeLog", ID: "200", Fields: map[string]interface{}{
		"duration":    90,
		"description": "retopo pass",
		"date":        "2026-08-29",
		"user":        map[string]interface{}{"type": "HumanUser", "id": "5", "name": "Bob"},
		"entity":      "42",
	}})

	result := s.Process(context.Background(), &Event{
		Origin:     OriginSource,
		EntityType: "TimeLog",
		EntityID:   "200",
		Change:     ChangeCreate,
	})
	require.NoError(t, result.Err)
	assert.True(t, result.Applied)

	timeLog := source.Get("TimeLog", "200")
	key := cast.ToString(timeLog.Fields["issue_key"])
	require.NotEmpty(t, key)

	worklog := target.Get("worklog", key)
	require.NotNil(t, worklog)
	assert.Equal(t, 5400, worklog.Fields["timeSpentSeconds"])
	assert.Equal(t, "retopo pass", worklog.Fields["comment"])
	assert.Equal(t, "2026-08-29", worklog.Fields["started"])
}

func TestWorklogAuthorIsRecordedOnIssue(t *testing.T) {
	s, source, target := newWorklogFixture(t)

	source.Seed(remote.Entity{Type: "TimeLog", ID: "200", Fields: map[string]interface{}{
		"duration": 60,
		"user":     map[string]interface{}{"name": "Bob"},
		"entity":   "42",
	}})

	result := s.Process(context.Background(), &Event{
		Origin:     OriginSource,
		EntityType: "TimeLog",
		EntityID:   "200",
		Change:     ChangeCreate,
	})
	require.NoError(t, result.Err)
	assert.True(t, result.Applied)

	issue := target.Get("Issue", "TEST-1")
	raw := cast.ToString(issue.Fields["worklog_authors"])
	require.NotEmpty(t, raw)

	var authors []worklogAuthor
	require.NoError(t, json.Unmarshal([]byte(raw), &authors))
	require.Len(t, authors, 1)
	assert.Equal(t, "Bob", authors[0].Author)

	key := cast.ToString(source.Get("TimeLog", "200").Fields["issue_key"])
	assert.Equal(t, key, authors[0].Worklog)
}

func TestWorklogDeletionRemovesAuthorEntry(t *testing.T) {
	mapping := timeLogMapping()
	mapping.DeletionDirection = DeletionSourceToTarget

	source, target := newTestStores()
	source.SetSchema("TimeLog", timeLogSchema())
	linkTask(source, target, "42", "TEST-1", nil, map[string]interface{}{
		"worklog_authors": `[{"worklog":"TEST-1/9","author":"Bob"}]`,
	})
	target.Seed(remote.Entity{Type: "worklog", ID: "TEST-1/9", Fields: map[string]interface{}{
		"timeSpentSeconds": 3600,
	}})

	s := newTestSyncer(t, source, target, Settings{}, taskMapping(), mapping)

	result := s.Process(context.Background(), &Event{
		Origin:     OriginSource,
		EntityType: "TimeLog",
		EntityID:   "200",
		Change:     ChangeDelete,
		Payload:    map[string]interface{}{"issue_key": "TEST-1/9"},
	})
	require.NoError(t, result.Err)
	assert.True(t, result.Applied)

	assert.Nil(t, target.Get("worklog", "TEST-1/9"))

	issue := target.Get("Issue", "TEST-1")
	assert.Equal(t, "[]", cast.ToString(issue.Fields["worklog_authors"]))
}

func TestWorklogUpdateConvertsSecondsBack(t *testing.T) {
	s, source, target := newWorklogFixture(t)

	target.Seed(remote.Entity{Type: "worklog", ID: "TEST-1/9", Fields: map[string]interface{}{
		"timeSpentSeconds": 7200,
		"comment":          "lighting tweaks",
	}})
	source.Seed(remote.Entity{Type: "TimeLog", ID: "200", Fields: map[string]interface{}{
		"duration":  60,
		"issue_key": "TEST-1/9",
		"entity":    "42",
	}})

	result := s.Process(context.Background(), &Event{
		Origin:        OriginTarget,
		EntityType:    "worklog",
		EntityID:      "TEST-1/9",
		Change:        ChangeUpdate,
		ChangedFields: []string{"timeSpentSeconds"},
	})
	require.NoError(t, result.Err)
	assert.True(t, result.Applied)

	timeLog := source.Get("TimeLog", "200")
	assert.Equal(t, 120, timeLog.Fields["duration"])
}
