package sync

import (
	"context"
	"fmt"

	"github.com/rendertools/track-issue-sync/internal/remote"
	"github.com/rendertools/track-issue-sync/pkg/interop"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
)

// Syncer dispatches the events of one channel to an ordered list of
// handlers. Its accept check is structural and local only; no remote call
// happens before a handler claims the event.
type Syncer struct {
	name     string
	log      *log.Entry
	source   remote.Store
	target   remote.Store
	settings Settings
	handlers []Handler
	echo     *EchoGuard
	audit    *auditor
}

// NewSyncer builds a syncer and its handler chain from the channel config.
// The handler order is fixed: the enable-flag resync wrapper first, then the
// record handlers, then comment and worklog handlers.
func NewSyncer(
	i *interop.Interop,
	cfg Config,
	source remote.Store,
	target remote.Store,
) (*Syncer, error) {
	if cfg.Name == "" {
		return nil, configErrorf("syncer needs a channel name")
	}

	cfg.Settings.applyDefaults()

	// A logger entry per channel, so logs can be filtered by channel name.
	logger := i.Logger.WithField("channel", cfg.Name)

	s := &Syncer{
		name:     cfg.Name,
		log:      logger,
		source:   source,
		target:   target,
		settings: cfg.Settings,
		echo:     NewEchoGuard(source, target),
		audit:    newAuditor(logger, source, cfg.Name, cfg.Settings.AuditEventType),
	}

	translator := NewStandardTranslator(logger)

	var recordHandlers []Handler
	var extraHandlers []Handler

	for idx := range cfg.Mappings {
		mapping := cfg.Mappings[idx]

		if err := mapping.Validate(); err != nil {
			return nil, err
		}

		base := baseHandler{
			log:      logger,
			source:   source,
			target:   target,
			settings: cfg.Settings,
		}

		switch mapping.Kind {
		case KindComment:
			extraHandlers = append(
				extraHandlers,
				&CommentHandler{baseHandler: base, mapping: mapping},
			)
		case KindWorklog:
			extraHandlers = append(
				extraHandlers,
				&WorklogHandler{baseHandler: base, mapping: mapping},
			)
		default:
			recordHandlers = append(
				recordHandlers,
				&EntityHandler{baseHandler: base, mapping: mapping, translator: translator},
			)
		}
	}

	if len(recordHandlers) == 0 {
		return nil, configErrorf(
			"channel %s has no record entity mapping",
			cfg.Name,
		)
	}

	// The resync wrapper must come first so enable-flag flips never fall
	// through to the plain handlers.
	enable := &EnableSyncHandler{
		log:         logger,
		enableField: cfg.Settings.EnableField,
		primary:     recordHandlers[0],
		secondary:   append(append([]Handler{}, recordHandlers[1:]...), extraHandlers...),
	}

	s.handlers = append(s.handlers, enable)
	s.handlers = append(s.handlers, recordHandlers...)
	s.handlers = append(s.handlers, extraHandlers...)

	return s, nil
}

func (s *Syncer) Name() string {
	return s.name
}

// Handlers returns the ordered handler chain.
func (s *Syncer) Handlers() []Handler {
	return s.handlers
}

// Setup runs every handler's setup once. The first failure aborts the
// channel.
func (s *Syncer) Setup(ctx context.Context) error {
	for _, h := range s.handlers {
		if err := h.Setup(ctx); err != nil {
			return fmt.Errorf("channel %s setup failed: %w", s.name, err)
		}
	}
	return nil
}

// Accept performs the cheap structural checks on an event. It never queries
// a remote system; rejected events are dropped silently with a debug line.
func (s *Syncer) Accept(event *Event) bool {
	if err := s.validate(event); err != nil {
		s.log.Debugf("rejecting event: %s", err)
		return false
	}

	if err := s.echo.Check(event); err != nil {
		s.log.Debugf("rejecting event: %s", err)
		return false
	}

	return true
}

func (s *Syncer) validate(event *Event) error {
	if event == nil {
		return &ValidationError{Reason: "empty event"}
	}

	if event.Origin != OriginSource && event.Origin != OriginTarget {
		return &ValidationError{Reason: fmt.Sprintf("unknown origin %q", event.Origin)}
	}

	switch event.Change {
	case ChangeCreate, ChangeUpdate, ChangeDelete:
	default:
		return &ValidationError{
			Reason: fmt.Sprintf("unknown change type %q", event.Change),
		}
	}

	if event.EntityType == "" || event.EntityID == "" {
		return &ValidationError{Reason: "missing entity type or id"}
	}

	if event.Change == ChangeUpdate && len(event.ChangedFields) == 0 {
		return &ValidationError{Reason: "update event with no changed fields"}
	}

	// The owning project and the record's own enable flag are local
	// payload facts; when the front-end supplies them they gate the event
	// before any remote call.
	if v, ok := event.Payload["project"]; ok && cast.ToString(v) == "" {
		return &ValidationError{Reason: "event has no owning project"}
	}

	if v, ok := event.Payload["project_sync_enabled"]; ok && !cast.ToBool(v) {
		return &ValidationError{Reason: "owning project is not enabled for sync"}
	}

	return nil
}

// Process walks the handler chain in order and hands the event to the
// first handler that accepts it; the rest are skipped. No handler accepting
// is a normal no-op.
func (s *Syncer) Process(ctx context.Context, event *Event) ProcessResult {
	result := ProcessResult{}

	for _, h := range s.handlers {
		var accepted bool

		if event.Origin == OriginSource {
			accepted = h.AcceptSourceEvent(event)
		} else {
			accepted = h.AcceptTargetEvent(event)
		}

		if !accepted {
			continue
		}

		var applied bool
		var err error

		if event.Origin == OriginSource {
			applied, err = h.ProcessSourceEvent(ctx, event)
		} else {
			applied, err = h.ProcessTargetEvent(ctx, event)
		}

		result = ProcessResult{Applied: applied, Err: err}
		break
	}

	if result.Err != nil {
		s.log.Errorf(
			"processing %s event for %s (%s) failed: %s",
			event.Origin,
			event.EntityType,
			event.EntityID,
			result.Err,
		)
	}

	s.audit.record(ctx, event, result)

	return result
}
