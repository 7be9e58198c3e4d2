// Package bootmode decides, once per boot, whether to run the resident
// application or enter a firmware-update session. The decision is immutable
// for the boot cycle; it is recomputed only across a reset.
package bootmode

import (
	"fmt"
	"time"
)

// Mode is the selected boot mode.
type Mode int

const (
	Normal Mode = iota
	DFU
	Recovery
	FactoryReset
)

// String returns the mode name used in logs and status output.
func (m Mode) String() string {
	switch m {
	case Normal:
		return "normal"
	case DFU:
		return "dfu"
	case Recovery:
		return "recovery"
	case FactoryReset:
		return "factory-reset"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// ResetCause is the hardware-reported cause of the last reset.
type ResetCause int

const (
	ResetUnknown ResetCause = iota
	ResetPowerOn
	ResetSoftware
	ResetWatchdog
	ResetBrownout
)

// String returns the cause name used in logs.
func (c ResetCause) String() string {
	switch c {
	case ResetPowerOn:
		return "power-on"
	case ResetSoftware:
		return "software"
	case ResetWatchdog:
		return "watchdog"
	case ResetBrownout:
		return "brownout"
	}
	return "unknown"
}

// Decision is the boot decision for this cycle.
type Decision struct {
	Mode  Mode
	Cause ResetCause

	// Hold is the measured button hold duration, zero when the mode was
	// not selected by button input.
	Hold time.Duration

	// BootLoop is set when the boot-loop guard forced Recovery.
	BootLoop bool
}

// BootLoopError reports that a pending image failed to confirm within the
// allowed number of boot attempts and the slot swap was reverted.
type BootLoopError struct {
	Attempts int
}

func (e *BootLoopError) Error() string {
	return fmt.Sprintf("boot loop detected: %d resets without confirmation, reverted to previous image", e.Attempts)
}

// Default selector timing and guard limit.
const (
	DefaultWaitWindow    = 5000 * time.Millisecond
	DefaultGuardAttempts = 3
)
