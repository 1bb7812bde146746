package sync

import (
	"fmt"
	"time"

	"github.com/rendertools/track-issue-sync/internal/remote"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// ValueTranslator converts one field value into a form the counterpart
// field accepts. Implementations are injected into handlers, so a channel
// can swap in custom conversion logic without subclassing anything.
type ValueTranslator interface {
	// Translate converts value for the given counterpart field. backRef
	// identifies the originating record and is appended when a value has
	// to be truncated, so the full text stays recoverable.
	Translate(
		value interface{},
		field remote.FieldDescriptor,
		backRef string,
	) (interface{}, error)
}

// StandardTranslator coerces scalars by the counterpart field's data type
// and truncates over-long text.
type StandardTranslator struct {
	log *log.Entry
}

func NewStandardTranslator(logger *log.Entry) *StandardTranslator {
	return &StandardTranslator{log: logger}
}

const dateLayout = "2006-01-02"

func (t *StandardTranslator) Translate(
	value interface{},
	field remote.FieldDescriptor,
	backRef string,
) (interface{}, error) {
	if value == nil {
		return nil, nil
	}

	switch field.DataType {
	case "text", "string", "list", "":
		return t.fitText(cast.ToString(value), field, backRef), nil

	case "number", "duration":
		n, err := cast.ToIntE(value)
		if err != nil {
			return nil, &TranslationError{
				Field:  field.Name,
				Value:  value,
				Reason: "not a valid integer",
			}
		}
		return n, nil

	case "checkbox", "bool":
		return cast.ToBool(value), nil

	case "date":
		s := cast.ToString(value)
		if s == "" {
			return nil, nil
		}
		if _, err := time.Parse(dateLayout, s); err != nil {
			return nil, &TranslationError{
				Field:  field.Name,
				Value:  value,
				Reason: fmt.Sprintf("not a valid %s date", dateLayout),
			}
		}
		return s, nil
	}

	return value, nil
}

// fitText truncates a string to the field's length limit, keeping a pointer
// back to the originating record. Lossy, but recoverable by following the
// reference.
func (t *StandardTranslator) fitText(
	s string,
	field remote.FieldDescriptor,
	backRef string,
) string {
	if field.MaxLength <= 0 || len(s) <= field.MaxLength {
		return s
	}

	suffix := fmt.Sprintf("... [full text in %s]", backRef)
	if len(suffix) >= field.MaxLength {
		suffix = "..."
	}

	cut := field.MaxLength - len(suffix)
	if cut < 0 {
		cut = 0
	}

	t.log.Warnf(
		"value for field %s exceeds its %d character limit, truncating (see %s)",
		field.Name,
		field.MaxLength,
		backRef,
	)

	return s[:cut] + suffix
}
