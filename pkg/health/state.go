package health

// Kind is the state without its payload.
type Kind uint8

const (
	KindRunning Kind = iota
	KindDegraded
	KindStopped
	KindDisabled
)

// String returns the persisted name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRunning:
		return "RUNNING"
	case KindDegraded:
		return "DEGRADED"
	case KindStopped:
		return "STOPPED"
	case KindDisabled:
		return "DISABLED"
	default:
		return "UNKNOWN"
	}
}

// ParseKind parses a persisted kind name.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "RUNNING":
		return KindRunning, true
	case "DEGRADED":
		return KindDegraded, true
	case "STOPPED":
		return KindStopped, true
	case "DISABLED":
		return KindDisabled, true
	default:
		return KindRunning, false
	}
}

// Reason explains a DEGRADED state.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonPermissionRevoked
	ReasonNoConnectivity
	ReasonConnectionLost
	ReasonInitializationFailed
)

// String returns the persisted name of the reason.
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "NONE"
	case ReasonPermissionRevoked:
		return "PERMISSION_REVOKED"
	case ReasonNoConnectivity:
		return "NO_CONNECTIVITY"
	case ReasonConnectionLost:
		return "CONNECTION_LOST"
	case ReasonInitializationFailed:
		return "INITIALIZATION_FAILED"
	default:
		return "UNKNOWN"
	}
}

// ParseReason parses a persisted reason name.
func ParseReason(s string) (Reason, bool) {
	switch s {
	case "NONE":
		return ReasonNone, true
	case "PERMISSION_REVOKED":
		return ReasonPermissionRevoked, true
	case "NO_CONNECTIVITY":
		return ReasonNoConnectivity, true
	case "CONNECTION_LOST":
		return ReasonConnectionLost, true
	case "INITIALIZATION_FAILED":
		return ReasonInitializationFailed, true
	default:
		return ReasonNone, false
	}
}

// State is the service health. The zero value is Running.
//
// States are comparable with ==. A reason is only carried by Degraded;
// the other constructors cannot produce one.
type State struct {
	kind   Kind
	reason Reason
}

// Running returns the RUNNING state.
func Running() State { return State{kind: KindRunning} }

// Degraded returns a DEGRADED state with the given reason.
func Degraded(reason Reason) State { return State{kind: KindDegraded, reason: reason} }

// Stopped returns the STOPPED state.
func Stopped() State { return State{kind: KindStopped} }

// Disabled returns the DISABLED state.
func Disabled() State { return State{kind: KindDisabled} }

// Kind returns the state kind.
func (s State) Kind() Kind { return s.kind }

// Reason returns the degradation reason, ReasonNone unless Degraded.
func (s State) Reason() Reason { return s.reason }

// IsRunning reports whether s is RUNNING.
func (s State) IsRunning() bool { return s.kind == KindRunning }

// IsDegraded reports whether s is DEGRADED, whatever the reason.
func (s State) IsDegraded() bool { return s.kind == KindDegraded }

// IsStopped reports whether the user stopped the relay.
func (s State) IsStopped() bool { return s.kind == KindStopped }

// IsDisabled reports whether the relay waits for the next app open.
func (s State) IsDisabled() bool { return s.kind == KindDisabled }

// Active reports whether the service should be running (RUNNING or DEGRADED).
func (s State) Active() bool {
	return s.kind == KindRunning || s.kind == KindDegraded
}

// String returns e.g. "RUNNING" or "DEGRADED(NO_CONNECTIVITY)".
func (s State) String() string {
	if s.kind == KindDegraded {
		return s.kind.String() + "(" + s.reason.String() + ")"
	}
	return s.kind.String()
}

// CanTransitionTo reports whether next is in the transition table.
// Staying in the same kind is always allowed.
func (s State) CanTransitionTo(next State) bool {
	if s.kind == next.kind {
		return true
	}
	switch s.kind {
	case KindRunning:
		return true
	case KindDegraded:
		return true
	case KindStopped:
		return next.kind == KindRunning || next.kind == KindDisabled
	case KindDisabled:
		return false
	}
	return false
}

// stateFromStore rebuilds a State from persisted strings. Unknown kinds
// fall back to Running; an unknown reason on a Degraded state becomes
// ReasonNone.
func stateFromStore(kind, reason string) State {
	k, ok := ParseKind(kind)
	if !ok {
		return Running()
	}
	if k == KindDegraded {
		r, _ := ParseReason(reason)
		return Degraded(r)
	}
	return State{kind: k}
}
