// Package auth gates commands on the actor's role. There is no identity
// provider here; actors self-identify per session and the gate only enforces
// what each role is allowed to do.
package auth

import (
	"errors"
	"fmt"

	"github.com/showops/cueline/go/internal/models"
)

// ErrRoleDenied is the sentinel wrapped by every denial. Handlers map it to
// HTTP 403.
var ErrRoleDenied = errors.New("role denied")

// DenialError reports which actor and capability were refused.
type DenialError struct {
	Actor      models.Actor
	Capability string
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("role %s may not %s", e.Actor.Role, e.Capability)
}

func (e *DenialError) Unwrap() error { return ErrRoleDenied }

func deny(actor models.Actor, capability string) error {
	return &DenialError{Actor: actor, Capability: capability}
}

// RequireValid rejects unknown roles outright.
func RequireValid(actor models.Actor) error {
	if !actor.Role.Valid() {
		return deny(actor, "act with an unknown role")
	}
	return nil
}

// RequireTimerControl allows operators only: load/start/stop/adjust timers,
// sub-cue timers, reset.
func RequireTimerControl(actor models.Actor) error {
	if err := RequireValid(actor); err != nil {
		return err
	}
	if !actor.Role.CanControlTimers() {
		return deny(actor, "control timers")
	}
	return nil
}

// RequireContentEdit allows editors only: schedule field edits and the audit
// log writes they produce.
func RequireContentEdit(actor models.Actor) error {
	if err := RequireValid(actor); err != nil {
		return err
	}
	if !actor.Role.CanEditContent() {
		return deny(actor, "edit content")
	}
	return nil
}
