// Package xerr defines the error kinds shared across the plant control
// core, per the propagation policy: leaf reads return a concrete kind,
// control-phase functions return a kind but the orchestrator never
// aborts a tick on a per-object error.
package xerr

import "fmt"

// Kind identifies the category of a control-core error. Kinds are
// reused across layers (sensors, relays, valves, circuits, DHWTs,
// heatsources) so the orchestrator can pattern-match on them without
// caring which package produced the error.
type Kind int

const (
	Unknown Kind = iota
	Invalid
	NotConfigured
	NotImplemented
	Misconfigured
	Offline
	OutOfMemory
	Exists
	Generic
	Store
	Mismatch
	StoreIO
	SensorInvalid
	SensorShort
	SensorDiscon
	SafetyTripped
	InvalidMode
	Deadzone
	Deadband
	NotFound
)

func (k Kind) String() string {
	switch k {
	case Invalid:
		return "invalid"
	case NotConfigured:
		return "not_configured"
	case NotImplemented:
		return "not_implemented"
	case Misconfigured:
		return "misconfigured"
	case Offline:
		return "offline"
	case OutOfMemory:
		return "out_of_memory"
	case Exists:
		return "exists"
	case Generic:
		return "generic"
	case Store:
		return "store"
	case Mismatch:
		return "mismatch"
	case StoreIO:
		return "store_io"
	case SensorInvalid:
		return "sensor_invalid"
	case SensorShort:
		return "sensor_short"
	case SensorDiscon:
		return "sensor_disconnected"
	case SafetyTripped:
		return "safety_tripped"
	case InvalidMode:
		return "invalid_mode"
	case Deadzone:
		return "deadzone"
	case Deadband:
		return "deadband"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Error wraps a Kind with a descriptive message; errors.Is matches on
// Kind via Is(), not on message text.
type Error struct {
	Kind Kind
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.err }

// Is reports whether target is an *Error with the same Kind, so callers
// can do errors.Is(err, xerr.New(xerr.Deadzone, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error of the given kind around an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, err: err}
}

// KindOf extracts the Kind from err, returning Unknown if err is nil
// and Generic if err carries no *Error.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if as(err, &e) {
		return e.Kind
	}
	return Generic
}

// as is a tiny local errors.As to avoid importing errors just for this.
func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// IsBenign reports whether the orchestrator should treat this error as
// a no-op signal rather than a fault worth surfacing to the alarm
// subsystem (§7: Deadzone/Deadband/NotConfigured/Offline are ignored).
func IsBenign(err error) bool {
	switch KindOf(err) {
	case Deadzone, Deadband, NotConfigured, Offline:
		return true
	default:
		return false
	}
}
