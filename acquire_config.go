package benchd

import (
	"fmt"
	"strings"
	"time"
)

// FunctionID identifies a measurement function. Not every instrument model
// supports every function; the profile for a model rejects the ones it lacks.
type FunctionID int

// The measurement functions found on bench multimeters and counters.
const (
	FuncDCVolts FunctionID = iota
	FuncACVolts
	FuncDCCurrent
	FuncACCurrent
	FuncOhms2Wire
	FuncOhms4Wire
	FuncFrequency
	FuncContinuity
	FuncDiode
)

var functionNames = map[FunctionID]string{
	FuncDCVolts:    "DCV",
	FuncACVolts:    "ACV",
	FuncDCCurrent:  "DCI",
	FuncACCurrent:  "ACI",
	FuncOhms2Wire:  "OHMS",
	FuncOhms4Wire:  "OHMF",
	FuncFrequency:  "FREQ",
	FuncContinuity: "CONT",
	FuncDiode:      "DIODE",
}

func (f FunctionID) String() string {
	if name, ok := functionNames[f]; ok {
		return name
	}
	return fmt.Sprintf("FunctionID(%d)", int(f))
}

// ParseFunctionID converts the short name of a function ("DCV", "OHMF", ...)
// to its FunctionID.
func ParseFunctionID(name string) (FunctionID, error) {
	want := strings.ToUpper(strings.TrimSpace(name))
	for f, n := range functionNames {
		if n == want {
			return f, nil
		}
	}
	return 0, fmt.Errorf("measurement function %q is not recognized", name)
}

// TimingMode selects who paces the sample loop: benchd's own wall clock, or
// the instrument's internal integration time.
type TimingMode int

const (
	// TimingIntegration sleeps a fixed interval before every sample.
	TimingIntegration TimingMode = iota
	// TimingNPLC lets the instrument's NPLC/resolution setting govern the
	// sample rate, with only the optional sniffing delay imposed in software.
	TimingNPLC
)

func (m TimingMode) String() string {
	switch m {
	case TimingIntegration:
		return "Integration"
	case TimingNPLC:
		return "NPLC"
	}
	return fmt.Sprintf("TimingMode(%d)", int(m))
}

// RangeSelector is either auto-ranging or one explicit full-scale range value.
type RangeSelector struct {
	Auto  bool
	Value float64
}

func (r RangeSelector) String() string {
	if r.Auto {
		return "AUTO"
	}
	return fmt.Sprintf("%g", r.Value)
}

// AcquisitionConfig describes one acquisition run. It is built once by the
// controlling client and never changes for the run's lifetime.
type AcquisitionConfig struct {
	Function             FunctionID
	SampleCount          int
	Timing               TimingMode
	IntervalSeconds      float64 // meaningful iff Timing == TimingIntegration
	NplcOrResolution     float64 // meaningful iff Timing == TimingNPLC
	SniffingDelaySeconds float64 // extra pre-sample delay, 0 disables
	Range                RangeSelector
	AutoZero             bool
	OffsetCompensation   bool // 8508A-style ohms offset compensation
	LowPassFilter        bool
	Unit                 string // physical unit symbol for display scaling
}

// Validate checks the invariants of an AcquisitionConfig. A non-nil return
// means no run should start and no instrument I/O should be attempted.
func (c AcquisitionConfig) Validate() error {
	if _, ok := functionNames[c.Function]; !ok {
		return fmt.Errorf("invalid config: unknown measurement function %d", int(c.Function))
	}
	if c.SampleCount < 1 {
		return fmt.Errorf("invalid config: SampleCount=%d, want at least 1", c.SampleCount)
	}
	switch c.Timing {
	case TimingIntegration:
		if c.IntervalSeconds <= 0 {
			return fmt.Errorf("invalid config: Integration mode needs IntervalSeconds > 0, have %g", c.IntervalSeconds)
		}
	case TimingNPLC:
		if c.NplcOrResolution <= 0 {
			return fmt.Errorf("invalid config: NPLC mode needs NplcOrResolution > 0, have %g", c.NplcOrResolution)
		}
	default:
		return fmt.Errorf("invalid config: unknown timing mode %d", int(c.Timing))
	}
	if c.SniffingDelaySeconds < 0 {
		return fmt.Errorf("invalid config: SniffingDelaySeconds=%g, want >= 0", c.SniffingDelaySeconds)
	}
	if !c.Range.Auto && c.Range.Value <= 0 {
		return fmt.Errorf("invalid config: explicit range must be positive, have %g", c.Range.Value)
	}
	return nil
}

// sessionTimeoutFloor keeps slow instruments from producing spurious timeout
// errors even before the mode-dependent margin is added.
const sessionTimeoutFloor = 30 * time.Second

// SessionTimeout returns the read/write timeout to apply to the instrument
// session for this run: a fixed floor plus a margin that scales with the
// configured interval (Integration) or the NPLC/resolution knob (NPLC).
func (c AcquisitionConfig) SessionTimeout() time.Duration {
	switch c.Timing {
	case TimingNPLC:
		return sessionTimeoutFloor + time.Duration(c.NplcOrResolution*100)*time.Millisecond
	default:
		return sessionTimeoutFloor + time.Duration(c.IntervalSeconds*float64(time.Second))
	}
}

// preSampleDelay is the software delay applied before every sample, including
// the first. Sniffing is layered on whichever timing mode is active.
func (c AcquisitionConfig) preSampleDelay() time.Duration {
	seconds := c.SniffingDelaySeconds
	if c.Timing == TimingIntegration {
		seconds += c.IntervalSeconds
	}
	return time.Duration(seconds * float64(time.Second))
}
