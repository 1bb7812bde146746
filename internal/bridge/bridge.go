// Package bridge assembles the configured sync channels and serializes
// event dispatch per channel. It is the layer between the transport
// front-ends and the sync engine.
package bridge

import (
	"context"
	"sync"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/rendertools/track-issue-sync/internal/remote"
	engine "github.com/rendertools/track-issue-sync/internal/sync"
	"github.com/rendertools/track-issue-sync/pkg/interop"
	"github.com/spf13/viper"
)

// channel pairs a syncer with the lock that serializes its events. Events
// of different channels run concurrently; events of one channel never do.
type channel struct {
	mu     sync.Mutex
	syncer *engine.Syncer
}

type Bridge struct {
	i        *interop.Interop
	source   remote.Store
	target   remote.Store
	channels map[string]*channel
}

// New builds the two remote stores and one syncer per configured channel.
// A malformed channel config is fatal here; a channel that fails remote
// schema validation is dropped later, in Setup.
func New(i *interop.Interop) (*Bridge, error) {
	source, err := remote.NewStore(i, viper.Sub("source"))
	if err != nil {
		return nil, &engine.ConfigurationError{
			Reason: "cannot build source store: " + err.Error(),
		}
	}

	target, err := remote.NewStore(i, viper.Sub("target"))
	if err != nil {
		return nil, &engine.ConfigurationError{
			Reason: "cannot build target store: " + err.Error(),
		}
	}

	b := &Bridge{
		i:        i,
		source:   source,
		target:   target,
		channels: map[string]*channel{},
	}

	for name := range viper.GetStringMap("channels") {
		cfg := engine.Config{Name: name}

		prefix := "channels." + name
		if err := viper.UnmarshalKey(prefix+".settings", &cfg.Settings); err != nil {
			return nil, &engine.ConfigurationError{
				Reason: "bad settings for channel " + name + ": " + err.Error(),
			}
		}
		if err := viper.UnmarshalKey(
			prefix+".entity_mappings",
			&cfg.Mappings,
		); err != nil {
			return nil, &engine.ConfigurationError{
				Reason: "bad entity mappings for channel " + name + ": " + err.Error(),
			}
		}

		syncer, err := engine.NewSyncer(i, cfg, source, target)
		if err != nil {
			return nil, err
		}

		b.channels[name] = &channel{syncer: syncer}
	}

	if len(b.channels) == 0 {
		return nil, &engine.ConfigurationError{Reason: "no channels configured"}
	}

	return b, nil
}

// Setup validates every channel against the remote schemas. A channel that
// fails is removed and logged; the remaining channels keep running. Only a
// fully failed setup is an error.
func (b *Bridge) Setup(ctx context.Context) error {
	for name, ch := range b.channels {
		if err := ch.syncer.Setup(ctx); err != nil {
			b.i.Logger.Errorf("disabling channel %s: %s", name, err)
			delete(b.channels, name)
		}
	}

	if len(b.channels) == 0 {
		return &engine.ConfigurationError{Reason: "all channels failed setup"}
	}

	return nil
}

// Channels returns the names of the live channels.
func (b *Bridge) Channels() []string {
	names := make([]string, 0, len(b.channels))
	for name := range b.channels {
		names = append(names, name)
	}
	return names
}

// Dispatch routes one event to its channel and runs it to completion. The
// channel lock makes processing sequential per channel, which is what lets
// the engine resolve conflicts by arrival order.
func (b *Bridge) Dispatch(
	ctx context.Context,
	event *engine.Event,
) (engine.ProcessResult, error) {
	ch, ok := b.channels[event.Channel]
	if !ok {
		return engine.ProcessResult{}, &engine.ConfigurationError{
			Reason: "unknown channel: " + event.Channel,
		}
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if b.i.App != nil {
		txn := b.i.App.StartTransaction("channel/" + event.Channel)
		defer txn.End()
		ctx = newrelic.NewContext(ctx, txn)
	}

	if !ch.syncer.Accept(event) {
		return engine.ProcessResult{}, nil
	}

	return ch.syncer.Process(ctx, event), nil
}
