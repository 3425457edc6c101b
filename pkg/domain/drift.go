package domain

// DriftCategory is the band a measured clock drift falls into. Bands are
// non-overlapping and monotonically increasing per device class.
type DriftCategory string

const (
	DriftAcceptable DriftCategory = "ACCEPTABLE"
	DriftWarning    DriftCategory = "WARNING"
	DriftBlocked    DriftCategory = "BLOCKED"
	DriftCritical   DriftCategory = "CRITICAL"
)

func (c DriftCategory) String() string { return string(c) }

// DriftAction is the single action a drift category maps to.
//
// Policy is deterministic per category and never blended: ACCEPTABLE and
// WARNING let the originating operation proceed (WARNING flags it), BLOCKED
// and CRITICAL always reject it (CRITICAL also raises an incident).
type DriftAction string

const (
	ActionProceed        DriftAction = "proceed"
	ActionProceedFlagged DriftAction = "proceed_flagged"
	ActionReject         DriftAction = "reject"
	ActionRejectIncident DriftAction = "reject_incident"
)

func (a DriftAction) String() string { return string(a) }

// Rejects reports whether the action blocks the originating operation.
func (a DriftAction) Rejects() bool {
	return a == ActionReject || a == ActionRejectIncident
}

// ActionFor maps each category to its one action.
func (c DriftCategory) ActionFor() DriftAction {
	switch c {
	case DriftAcceptable:
		return ActionProceed
	case DriftWarning:
		return ActionProceedFlagged
	case DriftBlocked:
		return ActionReject
	case DriftCritical:
		return ActionRejectIncident
	default:
		// Fail closed: an unknown category never lets the operation through.
		return ActionRejectIncident
	}
}
