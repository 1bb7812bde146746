package sync

import "sort"

// Direction restricts which way field changes propagate.
type Direction string

const (
	DirectionBoth           Direction = "both"
	DirectionSourceToTarget Direction = "source_to_target"
	DirectionTargetToSource Direction = "target_to_source"
)

func (d Direction) valid() bool {
	switch d {
	case DirectionBoth, DirectionSourceToTarget, DirectionTargetToSource:
		return true
	}
	return false
}

// allows reports whether a change originating on the given side may
// propagate to the other side under this direction.
func (d Direction) allows(origin Origin) bool {
	switch d {
	case DirectionBoth:
		return true
	case DirectionSourceToTarget:
		return origin == OriginSource
	case DirectionTargetToSource:
		return origin == OriginTarget
	}
	return false
}

// DeletionDirection controls cross-deletion per entity mapping. The default
// is none: deletions never propagate unless explicitly opted in.
type DeletionDirection string

const (
	DeletionNone           DeletionDirection = "none"
	DeletionBoth           DeletionDirection = "both"
	DeletionSourceToTarget DeletionDirection = "source_to_target"
	DeletionTargetToSource DeletionDirection = "target_to_source"
)

func (d DeletionDirection) valid() bool {
	switch d {
	case DeletionNone, DeletionBoth, DeletionSourceToTarget, DeletionTargetToSource:
		return true
	}
	return false
}

func (d DeletionDirection) allows(origin Origin) bool {
	switch d {
	case DeletionBoth:
		return true
	case DeletionSourceToTarget:
		return origin == OriginSource
	case DeletionTargetToSource:
		return origin == OriginTarget
	}
	return false
}

// ChildrenField is the reserved marker used as target_field to reflect the
// list of child records into a multi-valued source field. It is only
// honored during a full resync.
const ChildrenField = "{{CHILDREN}}"

// ParentField is the target system's native single-parent attribute.
const ParentField = "parent"

// FieldMapping links one source field to one target field. An empty
// Direction inherits the entity-level sync direction.
type FieldMapping struct {
	SourceField string    `mapstructure:"source_field"`
	TargetField string    `mapstructure:"target_field"`
	Direction   Direction `mapstructure:"direction"`
}

// StatusMapping remaps status values between the two systems. The map is
// keyed by source status.
type StatusMapping struct {
	SourceField string            `mapstructure:"source_field"`
	TargetField string            `mapstructure:"target_field"`
	Mapping     map[string]string `mapstructure:"mapping"`
	Direction   Direction         `mapstructure:"direction"`
}

// MappingKind selects the handler an entity mapping is served by.
type MappingKind string

const (
	KindRecord  MappingKind = "record"
	KindComment MappingKind = "comment"
	KindWorklog MappingKind = "worklog"
)

// EntityMapping describes how one source entity type is synced with one
// target entity type. Mappings are immutable once the channel has started.
type EntityMapping struct {
	Kind              MappingKind       `mapstructure:"kind"`
	SourceType        string            `mapstructure:"source_type"`
	TargetType        string            `mapstructure:"target_type"`
	FieldMappings     []FieldMapping    `mapstructure:"field_mappings"`
	StatusMapping     *StatusMapping    `mapstructure:"status_mapping"`
	SyncDirection     Direction         `mapstructure:"sync_direction"`
	DeletionDirection DeletionDirection `mapstructure:"deletion_direction"`

	// ParentLink is the source field linking a comment or worklog record
	// to its owning issue-like record.
	ParentLink string `mapstructure:"parent_link"`

	// ParentType and ParentTargetType name the owning record's entity
	// types on the source and target side. Only used by comment and
	// worklog mappings.
	ParentType       string `mapstructure:"parent_type"`
	ParentTargetType string `mapstructure:"parent_target_type"`
}

// Validate normalizes defaults and rejects malformed mappings.
func (m *EntityMapping) Validate() error {
	if m.SourceType == "" {
		return configErrorf("entity mapping is missing source_type")
	}
	if m.TargetType == "" {
		return configErrorf("entity mapping for %s is missing target_type", m.SourceType)
	}

	if m.Kind == "" {
		m.Kind = KindRecord
	}
	switch m.Kind {
	case KindRecord, KindComment, KindWorklog:
	default:
		return configErrorf("entity mapping for %s has invalid kind %q", m.SourceType, m.Kind)
	}

	if m.Kind == KindComment || m.Kind == KindWorklog {
		if m.ParentLink == "" {
			return configErrorf(
				"entity mapping for %s (%s) is missing parent_link",
				m.SourceType,
				m.Kind,
			)
		}
		if m.ParentType == "" || m.ParentTargetType == "" {
			return configErrorf(
				"entity mapping for %s (%s) needs parent_type and parent_target_type",
				m.SourceType,
				m.Kind,
			)
		}
	}

	if m.SyncDirection == "" {
		m.SyncDirection = DirectionBoth
	}
	if !m.SyncDirection.valid() {
		return configErrorf(
			"entity mapping for %s has invalid sync_direction %q",
			m.SourceType,
			m.SyncDirection,
		)
	}

	if m.DeletionDirection == "" {
		m.DeletionDirection = DeletionNone
	}
	if !m.DeletionDirection.valid() {
		return configErrorf(
			"entity mapping for %s has invalid deletion_direction %q",
			m.SourceType,
			m.DeletionDirection,
		)
	}

	for i := range m.FieldMappings {
		fm := &m.FieldMappings[i]

		if fm.SourceField == "" || fm.TargetField == "" {
			return configErrorf(
				"entity mapping for %s has a field mapping with missing fields",
				m.SourceType,
			)
		}

		if fm.Direction == "" {
			fm.Direction = m.SyncDirection
		}
		if !fm.Direction.valid() {
			return configErrorf(
				"field mapping %s -> %s has invalid direction %q",
				fm.SourceField,
				fm.TargetField,
				fm.Direction,
			)
		}
	}

	if m.StatusMapping != nil {
		if m.StatusMapping.SourceField == "" {
			return configErrorf(
				"status mapping for %s is missing source_field",
				m.SourceType,
			)
		}
		if m.StatusMapping.TargetField == "" {
			m.StatusMapping.TargetField = "status"
		}
		if len(m.StatusMapping.Mapping) == 0 {
			return configErrorf(
				"status mapping for %s has no mapping entries",
				m.SourceType,
			)
		}
		if m.StatusMapping.Direction == "" {
			m.StatusMapping.Direction = m.SyncDirection
		}
		if !m.StatusMapping.Direction.valid() {
			return configErrorf(
				"status mapping for %s has invalid direction %q",
				m.SourceType,
				m.StatusMapping.Direction,
			)
		}
	}

	return nil
}

// fieldMappingForSource returns the mapping whose source side is the given
// field, or nil.
func (m *EntityMapping) fieldMappingForSource(field string) *FieldMapping {
	for i := range m.FieldMappings {
		if m.FieldMappings[i].SourceField == field {
			return &m.FieldMappings[i]
		}
	}
	return nil
}

// fieldMappingForTarget returns the mapping whose target side is the given
// field, or nil.
func (m *EntityMapping) fieldMappingForTarget(field string) *FieldMapping {
	for i := range m.FieldMappings {
		if m.FieldMappings[i].TargetField == field {
			return &m.FieldMappings[i]
		}
	}
	return nil
}

// targetStatus resolves a source status through the mapping table.
func (sm *StatusMapping) targetStatus(sourceStatus string) (string, bool) {
	v, ok := sm.Mapping[sourceStatus]
	return v, ok
}

// sourceStatus resolves a target status through the inverted mapping table.
// With duplicate target values the lowest source status wins, so the reverse
// lookup is stable across runs.
func (sm *StatusMapping) sourceStatus(targetStatus string) (string, bool) {
	statuses := make([]string, 0, len(sm.Mapping))
	for s := range sm.Mapping {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)

	for _, s := range statuses {
		if sm.Mapping[s] == targetStatus {
			return s, true
		}
	}
	return "", false
}

// Settings carries the per-channel knobs that are not entity mappings.
type Settings struct {
	// SourceKeyField is the cross-reference field on source records
	// holding the key of the linked target record.
	SourceKeyField string `mapstructure:"source_key_field"`

	// TargetKeyField is the cross-reference field on target records
	// holding the id of the linked source record.
	TargetKeyField string `mapstructure:"target_key_field"`

	// EnableField is the source checkbox that opts a record into syncing.
	EnableField string `mapstructure:"enable_field"`

	// WorklogAuthorsField is the target custom field carrying the
	// serialized worklog author list.
	WorklogAuthorsField string `mapstructure:"worklog_authors_field"`

	// AuditEventType, when set, enables one audit record per processed
	// event, created on the source system under this entity type.
	AuditEventType string `mapstructure:"audit_event_type"`
}

func (s *Settings) applyDefaults() {
	if s.SourceKeyField == "" {
		s.SourceKeyField = "issue_key"
	}
	if s.TargetKeyField == "" {
		s.TargetKeyField = "record_id"
	}
	if s.EnableField == "" {
		s.EnableField = "sync_enabled"
	}
	if s.WorklogAuthorsField == "" {
		s.WorklogAuthorsField = "worklog_authors"
	}
}

// Config is everything a Syncer needs besides its remote stores.
type Config struct {
	Name     string
	Settings Settings
	Mappings []EntityMapping
}
