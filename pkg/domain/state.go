package domain

import "fmt"

// AttendanceState is the lifecycle state of one attendance record. Which
// transitions between states are reachable is configuration (the catalog's
// transition matrix), not code.
type AttendanceState string

const (
	StatePending  AttendanceState = "PENDING"
	StateVerified AttendanceState = "VERIFIED"
	StateFlagged  AttendanceState = "FLAGGED"
	StateRevoked  AttendanceState = "REVOKED"
	StateExcused  AttendanceState = "EXCUSED"
)

// ParseAttendanceState validates and returns an AttendanceState.
func ParseAttendanceState(s string) (AttendanceState, error) {
	st := AttendanceState(s)
	if !st.IsValid() {
		return "", fmt.Errorf("unknown attendance state: %q", s)
	}
	return st, nil
}

// IsValid reports whether the state is a known enum value.
func (s AttendanceState) IsValid() bool {
	switch s {
	case StatePending, StateVerified, StateFlagged, StateRevoked, StateExcused:
		return true
	}
	return false
}

func (s AttendanceState) String() string { return string(s) }

// DeviceClass groups client devices for per-class drift thresholds. A kiosk
// on institution power is held to tighter clock discipline than a phone.
type DeviceClass string

const (
	DeviceMobileAndroid DeviceClass = "MOBILE_ANDROID"
	DeviceMobileIOS     DeviceClass = "MOBILE_IOS"
	DeviceKiosk         DeviceClass = "KIOSK"
	DeviceWeb           DeviceClass = "WEB"
)

// IsValid reports whether the device class is a known enum value.
func (d DeviceClass) IsValid() bool {
	switch d {
	case DeviceMobileAndroid, DeviceMobileIOS, DeviceKiosk, DeviceWeb:
		return true
	}
	return false
}

func (d DeviceClass) String() string { return string(d) }
