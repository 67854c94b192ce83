package rundb

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// The composite types used for messages to the run database.

// ActivityMessage describes one benchd process lifetime, for the
// benchactivity table.
type ActivityMessage struct {
	ID        string
	Hostname  string
	Githash   string
	Version   string
	GoVersion string
	CPUs      int
	Start     time.Time
	End       time.Time
}

// RunMessage is the information required to make an entry in the benchruns
// table: one acquisition run, its configuration summary, and its final
// statistics.
type RunMessage struct {
	ID           string
	ActivityID   string
	Profile      string
	Address      string
	Function     string
	TimingMode   string
	SampleTarget int
	SamplesTaken int
	Mean         float64
	Min          float64
	Max          float64
	Stdev        float64
	Unit         string
	Status       string // Completed | Stopped | Failed
	Start        time.Time
	End          time.Time
}

// NewID returns a fresh sortable identifier for activities and runs.
func NewID() string {
	return ulid.Make().String()
}
