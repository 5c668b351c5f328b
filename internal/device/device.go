// Package device polls the device bridge until a deploy target is usable.
package device

import (
	"context"
	"fmt"
)

// Role distinguishes emulators from physical devices.
type Role string

const (
	RoleEmulator Role = "emulator"
	RoleDevice   Role = "device"
)

// State is the coarse readiness of a device.
type State string

const (
	StateOnline  State = "online"
	StateOffline State = "offline"
	StateBooting State = "booting"
)

// Record is one entry of a device listing. Records are re-fetched on every
// poll and never cached.
type Record struct {
	Serial string
	Role   Role
	State  State
	// Port is the console port, emulators only.
	Port   int
}

func (r Record) String() string {
	if r.Role == RoleEmulator && r.Port > 0 {
		return fmt.Sprintf("%s(%s,%s,port=%d)", r.Serial, r.Role, r.State, r.Port)
	}
	return fmt.Sprintf("%s(%s,%s)", r.Serial, r.Role, r.State)
}

// Source enumerates attached devices.
type Source interface {
	ListDevices(ctx context.Context) ([]Record, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Record, error)

func (f SourceFunc) ListDevices(ctx context.Context) ([]Record, error) { return f(ctx) }

// Outcome is the terminal state of a wait.
type Outcome int

const (
	Ready Outcome = iota
	TimedOut
	NoDevicesPresent
)

func (o Outcome) String() string {
	switch o {
	case Ready:
		return "ready"
	case TimedOut:
		return "timed_out"
	case NoDevicesPresent:
		return "no_devices_present"
	default:
		return "unknown"
	}
}

// UnavailableError reports a wait that ended without a usable device.
type UnavailableError struct {
	Role    Role
	Outcome Outcome
	Polls   int
}

func (e *UnavailableError) Error() string {
	if e.Outcome == NoDevicesPresent {
		return fmt.Sprintf("no devices attached after %d polls", e.Polls)
	}
	return fmt.Sprintf("no online %s found after %d polls", e.Role, e.Polls)
}

// Err converts a non-ready result to an *UnavailableError.
func (r WaitResult) Err(role Role) error {
	if r.Outcome == Ready {
		return nil
	}
	return &UnavailableError{Role: role, Outcome: r.Outcome, Polls: r.Polls}
}
