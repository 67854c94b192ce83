package benchd

import (
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"
)

// CsvExporter writes finished runs to flat CSV files in the layout the
// operator tooling expects, and optionally opens each file in the OS default
// application.
type CsvExporter struct {
	OutputDir     string
	OpenAfterSave bool
}

// Export writes one run to <OutputDir>/<name>_output.csv and returns the full
// path. Readings and statistics are raw; the shared scale is applied here so
// every row of the file is in one unit.
func (e *CsvExporter) Export(name string, readings []Reading, scale DisplayScale,
	stats RunStatistics) (string, error) {
	if len(readings) == 0 {
		return "", fmt.Errorf("no readings to export")
	}
	if err := os.MkdirAll(e.OutputDir, 0775); err != nil {
		return "", err
	}
	filename := filepath.Join(e.OutputDir, fmt.Sprintf("%s_output.csv", name))
	f, err := os.Create(filename)
	if err != nil {
		return "", err
	}
	werr := writeRunCSV(f, readings, scale, stats, time.Now())
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		return "", werr
	}
	if e.OpenAfterSave {
		if err := openInDefaultApp(filename); err != nil {
			ProblemLogger.Printf("could not open %s in default application: %v", filename, err)
		}
	}
	return filename, nil
}

// writeRunCSV emits the fixed horizontal layout: a row of sample indices, a
// row of scaled values terminated by the unit, date and time rows, a blank
// separator, and a labeled statistics row pair.
func writeRunCSV(f *os.File, readings []Reading, scale DisplayScale,
	stats RunStatistics, now time.Time) error {
	w := csv.NewWriter(f)

	indexRow := make([]string, 0, len(readings)+1)
	indexRow = append(indexRow, "Measurement")
	for i := range readings {
		indexRow = append(indexRow, strconv.Itoa(i+1))
	}

	valueRow := make([]string, 0, len(readings)+2)
	valueRow = append(valueRow, "Value")
	for _, r := range readings {
		valueRow = append(valueRow, formatCSVNumber(scale.Apply(r.Value)))
	}
	valueRow = append(valueRow, scale.CSVUnit)

	rows := [][]string{
		indexRow,
		valueRow,
		{"Date", now.Format("2006-01-02")},
		{"Time", now.Format("15:04:05")},
		{},
		{"Statistics", "Average", "Minimum", "Maximum", "Std Deviation"},
		{
			"",
			formatCSVNumber(scale.Apply(stats.Mean)),
			formatCSVNumber(scale.Apply(stats.Min)),
			formatCSVNumber(scale.Apply(stats.Max)),
			formatCSVNumber(scale.Apply(stats.Stdev)),
			scale.CSVUnit,
		},
	}
	for _, row := range rows {
		if len(row) == 0 {
			// Blank separator line, written directly past the csv writer.
			w.Flush()
			if err := w.Error(); err != nil {
				return err
			}
			if _, err := f.WriteString("\n"); err != nil {
				return err
			}
			continue
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// formatCSVNumber renders with 8 significant digits. Go formatting is
// locale-invariant, so the decimal separator is always a point.
func formatCSVNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', 8, 64)
}

func openInDefaultApp(path string) error {
	switch runtime.GOOS {
	case "windows":
		return exec.Command("cmd", "/c", "start", "", path).Start()
	case "darwin":
		return exec.Command("open", path).Start()
	default:
		return exec.Command("xdg-open", path).Start()
	}
}
