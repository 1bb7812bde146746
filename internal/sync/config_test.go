package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappingValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(m *EntityMapping)
		wantErr string
	}{
		{
			name:    "missing source type",
			mutate:  func(m *EntityMapping) { m.SourceType = "" },
			wantErr: "missing source_type",
		},
		{
			name:    "missing target type",
			mutate:  func(m *EntityMapping) { m.TargetType = "" },
			wantErr: "missing target_type",
		},
		{
			name:    "invalid kind",
			mutate:  func(m *EntityMapping) { m.Kind = "attachment" },
			wantErr: "invalid kind",
		},
		{
			name:    "invalid sync direction",
			mutate:  func(m *EntityMapping) { m.SyncDirection = "sideways" },
			wantErr: "invalid sync_direction",
		},
		{
			name:    "invalid deletion direction",
			mutate:  func(m *EntityMapping) { m.DeletionDirection = "sometimes" },
			wantErr: "invalid deletion_direction",
		},
		{
			name: "field mapping with missing fields",
			mutate: func(m *EntityMapping) {
				m.FieldMappings = append(m.FieldMappings, FieldMapping{SourceField: "name"})
			},
			wantErr: "missing fields",
		},
		{
			name: "field mapping with invalid direction",
			mutate: func(m *EntityMapping) {
				m.FieldMappings[0].Direction = "sideways"
			},
			wantErr: "invalid direction",
		},
		{
			name: "status mapping without entries",
			mutate: func(m *EntityMapping) {
				m.StatusMapping.Mapping = nil
			},
			wantErr: "no mapping entries",
		},
		{
			name: "comment mapping without parent link",
			mutate: func(m *EntityMapping) {
				m.Kind = KindComment
			},
			wantErr: "missing parent_link",
		},
		{
			name: "worklog mapping without parent types",
			mutate: func(m *EntityMapping) {
				m.Kind = KindWorklog
				m.ParentLink = "entity"
			},
			wantErr: "parent_type and parent_target_type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := taskMapping()
			tt.mutate(&m)

			err := m.Validate()
			var cfgErr *ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Reason, tt.wantErr)
		})
	}
}

func TestMappingValidateAppliesDefaults(t *testing.T) {
	m := EntityMapping{
		SourceType:    "Task",
		TargetType:    "Issue",
		SyncDirection: DirectionSourceToTarget,
		FieldMappings: []FieldMapping{
			{SourceField: "name", TargetField: "summary"},
			{SourceField: "status", TargetField: "status", Direction: DirectionBoth},
		},
	}
	require.NoError(t, m.Validate())

	assert.Equal(t, KindRecord, m.Kind)
	assert.Equal(t, DeletionNone, m.DeletionDirection)

	// Field direction inherits the entity-level direction unless set.
	assert.Equal(t, DirectionSourceToTarget, m.FieldMappings[0].Direction)
	assert.Equal(t, DirectionBoth, m.FieldMappings[1].Direction)
}

func TestSettingsDefaults(t *testing.T) {
	var s Settings
	s.applyDefaults()

	assert.Equal(t, "issue_key", s.SourceKeyField)
	assert.Equal(t, "record_id", s.TargetKeyField)
	assert.Equal(t, "sync_enabled", s.EnableField)
	assert.Equal(t, "worklog_authors", s.WorklogAuthorsField)
	assert.Empty(t, s.AuditEventType)
}

func TestDirectionAllows(t *testing.T) {
	assert.True(t, DirectionBoth.allows(OriginSource))
	assert.True(t, DirectionBoth.allows(OriginTarget))
	assert.True(t, DirectionSourceToTarget.allows(OriginSource))
	assert.False(t, DirectionSourceToTarget.allows(OriginTarget))
	assert.False(t, DirectionTargetToSource.allows(OriginSource))
	assert.True(t, DirectionTargetToSource.allows(OriginTarget))

	assert.False(t, DeletionNone.allows(OriginSource))
	assert.False(t, DeletionNone.allows(OriginTarget))
	assert.True(t, DeletionBoth.allows(OriginSource))
	assert.True(t, DeletionSourceToTarget.allows(OriginSource))
	assert.False(t, DeletionSourceToTarget.allows(OriginTarget))
}

func TestStatusMappingLookups(t *testing.T) {
	sm := &StatusMapping{
		SourceField: "status",
		TargetField: "status",
		Mapping:     map[string]string{"wtg": "To Do", "fin": "Done"},
	}

	got, ok := sm.targetStatus("wtg")
	assert.True(t, ok)
	assert.Equal(t, "To Do", got)

	_, ok = sm.targetStatus("onhold")
	assert.False(t, ok)

	got, ok = sm.sourceStatus("Done")
	assert.True(t, ok)
	assert.Equal(t, "fin", got)

	_, ok = sm.sourceStatus("Blocked")
	assert.False(t, ok)
}

func TestStatusMappingReverseLookupIsDeterministic(t *testing.T) {
	sm := &StatusMapping{
		SourceField: "status",
		TargetField: "status",
		Mapping: map[string]string{
			"wtg": "To Do",
			"rev": "Done",
			"fin": "Done",
		},
	}

	// Two source statuses share a target; the reverse lookup must not
	// depend on map iteration order.
	for i := 0; i < 50; i++ {
		got, ok := sm.sourceStatus("Done")
		require.True(t, ok)
		require.Equal(t, "fin", got)
	}
}

func TestEventFieldChanged(t *testing.T) {
	e := &Event{ChangedFields: []string{"name", "status"}}
	assert.True(t, e.FieldChanged("name"))
	assert.False(t, e.FieldChanged("description"))

	e.Resync = true
	assert.True(t, e.FieldChanged("description"))
}
