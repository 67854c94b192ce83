package benchd

// Instrument profiles. Each supported model contributes an ordered
// configuration-command sequence and a read command as data, so the worker's
// control flow stays identical across instruments. Command order matters on
// real hardware: reset, then function, range, auto-zero, resolution, feature
// flags, trigger arming, and only then the sample loop.

import (
	"fmt"
	"strings"
	"time"
)

// SetupStep is one configuration command plus the settling time the
// instrument needs before the next command.
type SetupStep struct {
	Command string
	Settle  time.Duration
}

// InstrumentProfile describes how to configure and read one instrument model.
type InstrumentProfile struct {
	Name        string
	ReadCommand string
	units       map[FunctionID]string
	setup       func(AcquisitionConfig) ([]SetupStep, error)
}

// SetupSequence returns the ordered configuration commands for the given run.
func (p *InstrumentProfile) SetupSequence(cfg AcquisitionConfig) ([]SetupStep, error) {
	return p.setup(cfg)
}

// Unit returns the display unit symbol for a function on this instrument.
func (p *InstrumentProfile) Unit(f FunctionID) string {
	return p.units[f]
}

func (p *InstrumentProfile) unsupported(f FunctionID) error {
	return fmt.Errorf("%s does not support measurement function %s", p.Name, f)
}

var profiles = map[string]*InstrumentProfile{
	"HP34401A":   profile34401A,
	"HP3458A":    profile3458A,
	"FLUKE8508A": profile8508A,
	"SIM":        profileSim,
}

// LookupProfile finds the profile for an instrument model by name.
func LookupProfile(name string) (*InstrumentProfile, error) {
	if p, ok := profiles[strings.ToUpper(strings.TrimSpace(name))]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("instrument profile %q is not recognized", name)
}

// ProfileNames lists all known instrument profiles.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	return names
}

var dmmUnits = map[FunctionID]string{
	FuncDCVolts:    "V",
	FuncACVolts:    "V",
	FuncDCCurrent:  "A",
	FuncACCurrent:  "A",
	FuncOhms2Wire:  "Ω",
	FuncOhms4Wire:  "Ω",
	FuncFrequency:  "Hz",
	FuncContinuity: "Ω",
	FuncDiode:      "V",
}

// HP/Agilent 34401A and compatible SCPI multimeters.
var profile34401A = &InstrumentProfile{
	Name:        "HP34401A",
	ReadCommand: "READ?",
	units:       dmmUnits,
}

// The setup functions refer back to their profile for error messages, so the
// field is filled in here to avoid an initialization cycle.
func init() { profile34401A.setup = setup34401A }

var scpiConfCommands = map[FunctionID]string{
	FuncDCVolts:    "CONF:VOLT:DC",
	FuncACVolts:    "CONF:VOLT:AC",
	FuncDCCurrent:  "CONF:CURR:DC",
	FuncACCurrent:  "CONF:CURR:AC",
	FuncOhms2Wire:  "CONF:RES",
	FuncOhms4Wire:  "CONF:FRES",
	FuncFrequency:  "CONF:FREQ",
	FuncContinuity: "CONF:CONT",
	FuncDiode:      "CONF:DIOD",
}

var scpiSenseSubsystems = map[FunctionID]string{
	FuncDCVolts:   "VOLT:DC",
	FuncACVolts:   "VOLT:AC",
	FuncDCCurrent: "CURR:DC",
	FuncACCurrent: "CURR:AC",
	FuncOhms2Wire: "RES",
	FuncOhms4Wire: "FRES",
}

func setup34401A(cfg AcquisitionConfig) ([]SetupStep, error) {
	conf, ok := scpiConfCommands[cfg.Function]
	if !ok {
		return nil, profile34401A.unsupported(cfg.Function)
	}
	steps := []SetupStep{
		{"*RST", time.Second},
		{"*CLS", 300 * time.Millisecond},
		{conf, 300 * time.Millisecond},
	}
	sense := scpiSenseSubsystems[cfg.Function]
	if !cfg.Range.Auto && sense != "" {
		steps = append(steps, SetupStep{fmt.Sprintf("SENS:%s:RANG %g", sense, cfg.Range.Value), 0})
	}
	switch cfg.Function {
	case FuncDCVolts, FuncDCCurrent, FuncOhms2Wire, FuncOhms4Wire:
		azero := "SENS:ZERO:AUTO OFF"
		if cfg.AutoZero {
			azero = "SENS:ZERO:AUTO ON"
		}
		steps = append(steps, SetupStep{azero, 0})
	}
	// ACV integration is set through bandwidth, not NPLC, on this model.
	if cfg.Timing == TimingNPLC && sense != "" && cfg.Function != FuncACVolts {
		steps = append(steps, SetupStep{fmt.Sprintf("SENS:%s:NPLC %g", sense, cfg.NplcOrResolution), 0})
	}
	steps = append(steps, SetupStep{"TRIG:SOUR IMM", 0})
	return steps, nil
}

// HP 3458A reference multimeter, which speaks its own pre-SCPI dialect.
var profile3458A = &InstrumentProfile{
	Name:        "HP3458A",
	ReadCommand: "TRIG SGL",
	units:       dmmUnits,
}

func init() { profile3458A.setup = setup3458A }

var hp3458FuncCommands = map[FunctionID]string{
	FuncDCVolts:   "DCV",
	FuncACVolts:   "ACV",
	FuncDCCurrent: "DCI",
	FuncACCurrent: "ACI",
	FuncOhms2Wire: "OHM",
	FuncOhms4Wire: "OHMF",
	FuncFrequency: "FREQ",
}

func setup3458A(cfg AcquisitionConfig) ([]SetupStep, error) {
	funcCmd, ok := hp3458FuncCommands[cfg.Function]
	if !ok {
		return nil, profile3458A.unsupported(cfg.Function)
	}
	if cfg.Range.Auto {
		funcCmd += " AUTO"
	} else {
		funcCmd = fmt.Sprintf("%s %g", funcCmd, cfg.Range.Value)
	}
	steps := []SetupStep{
		{"RESET", time.Second},
		{"END ALWAYS", 0},
		{funcCmd, 300 * time.Millisecond},
	}
	azero := "AZERO OFF"
	if cfg.AutoZero {
		azero = "AZERO ON"
	}
	steps = append(steps, SetupStep{azero, 0})
	if cfg.Timing == TimingNPLC {
		steps = append(steps, SetupStep{fmt.Sprintf("NPLC %g", cfg.NplcOrResolution), 0})
	}
	steps = append(steps, SetupStep{"TRIG AUTO", 0})
	return steps, nil
}

// Fluke 8508A reference multimeter. Its resolution knob is a digit count
// (NDIG) rather than an NPLC count, and 4-wire offset-compensated ohms is a
// distinct function (TRUE_OHMS).
var profile8508A = &InstrumentProfile{
	Name:        "FLUKE8508A",
	ReadCommand: "RDG?",
	units:       dmmUnits,
}

func init() { profile8508A.setup = setup8508A }

func setup8508A(cfg AcquisitionConfig) ([]SetupStep, error) {
	var funcSteps []SetupStep
	rangeArg := "AUTO"
	if !cfg.Range.Auto {
		rangeArg = fmt.Sprintf("%g", cfg.Range.Value)
	}
	switch cfg.Function {
	case FuncDCVolts, FuncACVolts, FuncDCCurrent, FuncACCurrent:
		cmd := map[FunctionID]string{
			FuncDCVolts: "DCV", FuncACVolts: "ACV",
			FuncDCCurrent: "DCI", FuncACCurrent: "ACI",
		}[cfg.Function]
		funcSteps = []SetupStep{{fmt.Sprintf("%s %s", cmd, rangeArg), 300 * time.Millisecond}}
	case FuncOhms2Wire:
		funcSteps = []SetupStep{
			{fmt.Sprintf("OHMS %s", rangeArg), 300 * time.Millisecond},
			{"TWO_WR", 0},
		}
	case FuncOhms4Wire:
		ohmsCmd := "OHMS"
		if cfg.OffsetCompensation {
			ohmsCmd = "TRUE_OHMS"
		}
		funcSteps = []SetupStep{
			{fmt.Sprintf("%s %s", ohmsCmd, rangeArg), 300 * time.Millisecond},
			{"FOUR_WR", 0},
		}
	default:
		return nil, profile8508A.unsupported(cfg.Function)
	}

	steps := []SetupStep{
		{"*RST", time.Second},
		{"*CLS", 300 * time.Millisecond},
	}
	steps = append(steps, funcSteps...)
	azero := "AZERO OFF"
	if cfg.AutoZero {
		azero = "AZERO ON"
	}
	steps = append(steps, SetupStep{azero, 0})
	if cfg.Timing == TimingNPLC {
		steps = append(steps, SetupStep{fmt.Sprintf("NDIG %d", int(cfg.NplcOrResolution)), 0})
	}
	switch cfg.Function {
	case FuncDCVolts, FuncDCCurrent:
		filt := "FILT_OFF"
		if cfg.LowPassFilter {
			filt = "FILT_ON"
		}
		steps = append(steps, SetupStep{filt, 0})
	}
	steps = append(steps,
		SetupStep{"EXTRIG OFF", 0},
		SetupStep{"TBUFF OFF", 0},
	)
	return steps, nil
}

// Simulated instrument, for tests and hardware-free operation.
var profileSim = &InstrumentProfile{
	Name:        "SIM",
	ReadCommand: "READ?",
	units:       dmmUnits,
}

func init() {
	profileSim.setup = func(cfg AcquisitionConfig) ([]SetupStep, error) {
		conf, ok := scpiConfCommands[cfg.Function]
		if !ok {
			return nil, profileSim.unsupported(cfg.Function)
		}
		return []SetupStep{{"*RST", 0}, {conf, 0}}, nil
	}
}
