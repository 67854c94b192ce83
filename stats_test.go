package benchd

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeStats(t *testing.T) {
	values := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	s := ComputeStats(values)
	if s.N != len(values) {
		t.Errorf("N = %d, want %d", s.N, len(values))
	}
	assert.InDelta(t, 5.0, s.Mean, 1e-12, "mean")
	assert.InDelta(t, 2.0, s.Min, 1e-12, "min")
	assert.InDelta(t, 9.0, s.Max, 1e-12, "max")
	// Sample (Bessel-corrected) standard deviation: sum of squared deviations
	// is 32, so stdev = sqrt(32/7).
	assert.InDelta(t, math.Sqrt(32.0/7.0), s.Stdev, 1e-12, "stdev")

	if s.Min > s.Mean || s.Mean > s.Max {
		t.Errorf("want Min <= Mean <= Max, got %g, %g, %g", s.Min, s.Mean, s.Max)
	}
}

func TestComputeStatsDegenerate(t *testing.T) {
	s := ComputeStats([]float64{3.14})
	if s.Mean != 3.14 || s.Min != 3.14 || s.Max != 3.14 {
		t.Errorf("single-value stats = %+v, want all fields 3.14", s)
	}
	if s.Stdev != 0 {
		t.Errorf("Stdev of a single reading = %g, want 0", s.Stdev)
	}

	empty := ComputeStats(nil)
	if empty != (RunStatistics{}) {
		t.Errorf("stats of no readings = %+v, want the zero value", empty)
	}
}

func TestScaleForDisplayVolts(t *testing.T) {
	scale := ScaleForDisplay(0.0045, "V")
	if scale.Unit != "mV" || scale.Factor != 1e3 {
		t.Fatalf("scale for 4.5 mV mean = %+v, want x1000 to mV", scale)
	}
	// One shared factor for every value of the run, even values that would
	// pick a different unit on their own.
	assert.InDelta(t, 4.5, scale.Apply(0.0045), 1e-12)
	assert.InDelta(t, 0.1, scale.Apply(0.0001), 1e-12)

	if s := ScaleForDisplay(2.5, "V"); s.Factor != 1 || s.Unit != "V" {
		t.Errorf("scale for 2.5 V mean = %+v, want identity", s)
	}
	if s := ScaleForDisplay(-0.25, "V"); s.Unit != "mV" {
		t.Errorf("negative sub-volt mean got unit %q, want mV", s.Unit)
	}
	if s := ScaleForDisplay(0, "V"); s.Factor != 1 {
		t.Errorf("zero mean got factor %g, want identity", s.Factor)
	}
}

func TestScaleForDisplayOhms(t *testing.T) {
	cases := []struct {
		mean    float64
		unit    string
		csvUnit string
		factor  float64
	}{
		{25, "Ω", "ohm", 1},
		{999.9, "Ω", "ohm", 1},
		{1e3, "kΩ", "kohm", 1e-3},
		{47e3, "kΩ", "kohm", 1e-3},
		{25e6, "MΩ", "Mohm", 1e-6},
		{3.3e9, "GΩ", "Gohm", 1e-9},
	}
	for _, c := range cases {
		s := ScaleForDisplay(c.mean, "Ω")
		if s.Unit != c.unit || s.CSVUnit != c.csvUnit || s.Factor != c.factor {
			t.Errorf("ScaleForDisplay(%g, Ω) = %+v, want {%g %s %s}",
				c.mean, s, c.factor, c.unit, c.csvUnit)
		}
	}
	s := ScaleForDisplay(25e6, "Ω")
	assert.InDelta(t, 25.0, s.Apply(25e6), 1e-9)
}

func TestScaleForDisplayOtherUnits(t *testing.T) {
	for _, unit := range []string{"A", "Hz", ""} {
		s := ScaleForDisplay(0.001, unit)
		if s.Factor != 1 || s.Unit != unit || s.CSVUnit != unit {
			t.Errorf("ScaleForDisplay(0.001, %q) = %+v, want identity", unit, s)
		}
	}
}
