package benchd

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// RunStatistics summarizes the raw (unscaled) readings of one run.
type RunStatistics struct {
	Mean  float64
	Min   float64
	Max   float64
	Stdev float64 // sample standard deviation (Bessel-corrected), 0 when N <= 1
	N     int
}

// ComputeStats computes summary statistics over raw reading values. The
// result is independent of input order except for floating-point summation
// order. A zero-value RunStatistics is returned for an empty input.
func ComputeStats(values []float64) RunStatistics {
	if len(values) == 0 {
		return RunStatistics{}
	}
	s := RunStatistics{
		Mean: stat.Mean(values, nil),
		Min:  floats.Min(values),
		Max:  floats.Max(values),
		N:    len(values),
	}
	if s.N > 1 {
		s.Stdev = stat.StdDev(values, nil)
	}
	return s
}

// DisplayScale is the single multiplier and unit pair applied to every value
// of a run, so that readings and statistics stay in one consistent unit.
type DisplayScale struct {
	Factor  float64
	Unit    string // display spelling, e.g. "mV", "MΩ"
	CSVUnit string // text-safe spelling for CSV files, e.g. "mV", "Mohm"
}

// Apply scales a raw value into the display unit.
func (s DisplayScale) Apply(v float64) float64 {
	return v * s.Factor
}

// ScaleForDisplay derives the display scale for a run from its mean reading.
// Volts below 1 V scale to millivolts; ohms scale to kΩ/MΩ/GΩ at the usual
// thresholds; all other units pass through unscaled. The scale is derived
// once from the mean, never per value, so an outlier reading cannot land in a
// different unit than the statistics table.
func ScaleForDisplay(mean float64, baseUnit string) DisplayScale {
	identity := DisplayScale{Factor: 1, Unit: baseUnit, CSVUnit: baseUnit}
	abs := math.Abs(mean)
	switch baseUnit {
	case "V":
		if mean != 0 && abs < 1 {
			return DisplayScale{Factor: 1e3, Unit: "mV", CSVUnit: "mV"}
		}
	case "Ω":
		identity.CSVUnit = "ohm"
		switch {
		case abs >= 1e9:
			return DisplayScale{Factor: 1e-9, Unit: "GΩ", CSVUnit: "Gohm"}
		case abs >= 1e6:
			return DisplayScale{Factor: 1e-6, Unit: "MΩ", CSVUnit: "Mohm"}
		case abs >= 1e3:
			return DisplayScale{Factor: 1e-3, Unit: "kΩ", CSVUnit: "kohm"}
		}
	}
	return identity
}
