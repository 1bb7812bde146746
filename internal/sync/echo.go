package sync

import (
	"strings"

	"github.com/rendertools/track-issue-sync/internal/remote"
)

// EchoGuard suppresses events caused by the bridge's own prior writes. Every
// outbound write is issued under the bridge's remote account, so an inbound
// event whose actor is that account is an artifact of our own update and
// must not be propagated back, or the two systems update each other forever.
type EchoGuard struct {
	source remote.Identity
	target remote.Identity
}

func NewEchoGuard(source, target remote.Store) *EchoGuard {
	return &EchoGuard{
		source: source.Identity(),
		target: target.Identity(),
	}
}

// Check returns an EchoError when the event was triggered by the bridge
// itself, nil otherwise.
func (g *EchoGuard) Check(event *Event) error {
	if event.Actor == nil {
		return nil
	}

	var self remote.Identity
	if event.Origin == OriginSource {
		self = g.source
	} else {
		self = g.target
	}

	if matchIdentity(event.Actor.Name, self.Name) ||
		matchIdentity(event.Actor.Email, self.Email) {
		return &EchoError{Origin: event.Origin, Actor: event.Actor.Name}
	}

	return nil
}

func matchIdentity(a, b string) bool {
	return a != "" && b != "" && strings.EqualFold(a, b)
}
