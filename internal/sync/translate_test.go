package sync

import (
	"io"
	"strings"
	"testing"

	"github.com/rendertools/track-issue-sync/internal/remote"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardEntry() *log.Entry {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return log.NewEntry(logger)
}

func TestTranslateScalars(t *testing.T) {
	tr := NewStandardTranslator(discardEntry())

	tests := []struct {
		name  string
		value interface{}
		field remote.FieldDescriptor
		want  interface{}
	}{
		{
			name:  "text passes through",
			value: "Model hero",
			field: remote.FieldDescriptor{Name: "summary", DataType: "text"},
			want:  "Model hero",
		},
		{
			name:  "number from string",
			value: "90",
			field: remote.FieldDescriptor{Name: "estimate", DataType: "number"},
			want:  90,
		},
		{
			name:  "duration from float",
			value: 90.0,
			field: remote.FieldDescriptor{Name: "estimate", DataType: "duration"},
			want:  90,
		},
		{
			name:  "checkbox from string",
			value: "true",
			field: remote.FieldDescriptor{Name: "done", DataType: "checkbox"},
			want:  true,
		},
		{
			name:  "valid date",
			value: "2026-08-30",
			field: remote.FieldDescriptor{Name: "duedate", DataType: "date"},
			want:  "2026-08-30",
		},
		{
			name:  "nil stays nil",
			value: nil,
			field: remote.FieldDescriptor{Name: "summary", DataType: "text"},
			want:  nil,
		},
		{
			name:  "unknown type passes through",
			value: []string{"a", "b"},
			field: remote.FieldDescriptor{Name: "labels", DataType: "multi_entity"},
			want:  []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tr.Translate(tt.value, tt.field, "Task/42")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTranslateErrors(t *testing.T) {
	tr := NewStandardTranslator(discardEntry())

	tests := []struct {
		name  string
		value interface{}
		field remote.FieldDescriptor
	}{
		{
			name:  "not a number",
			value: "ninety",
			field: remote.FieldDescriptor{Name: "estimate", DataType: "number"},
		},
		{
			name:  "malformed date",
			value: "30/08/2026",
			field: remote.FieldDescriptor{Name: "duedate", DataType: "date"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tr.Translate(tt.value, tt.field, "Task/42")

			var trErr *TranslationError
			require.ErrorAs(t, err, &trErr)
			assert.Equal(t, tt.field.Name, trErr.Field)
		})
	}
}

func TestTruncationKeepsPointerBack(t *testing.T) {
	tr := NewStandardTranslator(discardEntry())

	long := strings.Repeat("x", 300)
	field := remote.FieldDescriptor{Name: "summary", DataType: "text", MaxLength: 255}

	got, err := tr.Translate(long, field, "Task/42")
	require.NoError(t, err)

	s := got.(string)
	assert.Len(t, s, 255)
	assert.True(t, strings.HasSuffix(s, "... [full text in Task/42]"))
}

func TestShortValuesAreNotTruncated(t *testing.T) {
	tr := NewStandardTranslator(discardEntry())

	field := remote.FieldDescriptor{Name: "summary", DataType: "text", MaxLength: 255}

	got, err := tr.Translate("short enough", field, "Task/42")
	require.NoError(t, err)
	assert.Equal(t, "short enough", got)
}
