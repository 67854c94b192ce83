package benchd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExportLayout(t *testing.T) {
	readings := []Reading{
		{Value: 0.0045, Sequence: 1, Timestamp: time.Now()},
		{Value: 0.0001, Sequence: 2, Timestamp: time.Now()},
		{Value: 0.0050, Sequence: 3, Timestamp: time.Now()},
	}
	values := make([]float64, len(readings))
	for i, r := range readings {
		values[i] = r.Value
	}
	stats := ComputeStats(values)
	scale := ScaleForDisplay(stats.Mean, "V")

	e := &CsvExporter{OutputDir: t.TempDir()}
	path, err := e.Export("HP34401A", readings, scale, stats)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if want := filepath.Join(e.OutputDir, "HP34401A_output.csv"); path != want {
		t.Errorf("export path = %q, want %q", path, want)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("could not read exported file: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")
	if len(lines) != 7 {
		t.Fatalf("exported file has %d lines, want 7:\n%s", len(lines), raw)
	}

	if lines[0] != "Measurement,1,2,3" {
		t.Errorf("index row = %q", lines[0])
	}
	// All values share the run's scale (mV here), and the unit ends the row.
	if lines[1] != "Value,4.5,0.1,5,mV" {
		t.Errorf("value row = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "Date,") {
		t.Errorf("row 3 = %q, want a Date row", lines[2])
	}
	if _, err := time.Parse("2006-01-02", strings.TrimPrefix(lines[2], "Date,")); err != nil {
		t.Errorf("date field does not parse: %v", err)
	}
	if !strings.HasPrefix(lines[3], "Time,") {
		t.Errorf("row 4 = %q, want a Time row", lines[3])
	}
	if _, err := time.Parse("15:04:05", strings.TrimPrefix(lines[3], "Time,")); err != nil {
		t.Errorf("time field does not parse: %v", err)
	}
	if lines[4] != "" {
		t.Errorf("row 5 = %q, want a blank separator", lines[4])
	}
	if lines[5] != "Statistics,Average,Minimum,Maximum,Std Deviation" {
		t.Errorf("statistics label row = %q", lines[5])
	}
	statFields := strings.Split(lines[6], ",")
	if len(statFields) != 6 || statFields[0] != "" || statFields[5] != "mV" {
		t.Fatalf("statistics row = %q, want empty label, 4 numbers, unit", lines[6])
	}
	if statFields[1] != "3.2" { // mean of 4.5, 0.1, 5.0 mV
		t.Errorf("scaled mean = %q, want 3.2", statFields[1])
	}
	if statFields[2] != "0.1" || statFields[3] != "5" {
		t.Errorf("scaled min/max = %q/%q, want 0.1/5", statFields[2], statFields[3])
	}
}

func TestExportNoReadings(t *testing.T) {
	e := &CsvExporter{OutputDir: t.TempDir()}
	if _, err := e.Export("SIM", nil, DisplayScale{Factor: 1}, RunStatistics{}); err == nil {
		t.Error("Export of an empty run succeeded, want error")
	}
}

func TestExportCreatesOutputDir(t *testing.T) {
	e := &CsvExporter{OutputDir: filepath.Join(t.TempDir(), "deep", "results")}
	readings := []Reading{{Value: 1, Sequence: 1, Timestamp: time.Now()}}
	if _, err := e.Export("SIM", readings, DisplayScale{Factor: 1, CSVUnit: "V"},
		ComputeStats([]float64{1})); err != nil {
		t.Fatalf("Export into a missing directory failed: %v", err)
	}
}

func TestFormatCSVNumber(t *testing.T) {
	cases := map[float64]string{
		4.5:          "4.5",
		0.1:          "0.1",
		5:            "5",
		1.23456789:   "1.2345679",
		1.5e-7:       "1.5e-07",
		-0.00123456:  "-0.00123456",
		123456789.12: "1.2345679e+08",
	}
	for v, want := range cases {
		if got := formatCSVNumber(v); got != want {
			t.Errorf("formatCSVNumber(%v) = %q, want %q", v, got, want)
		}
	}
}
