package benchd

import (
	"fmt"
	"log"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"sync"
	"time"

	"github.com/spf13/viper"

	"github.com/usnistgov/benchd/internal/rundb"
)

// RunArgs is the RPC-usable description of one acquisition run.
type RunArgs struct {
	Profile string // instrument model, e.g. "HP34401A"
	Address string // instrument address, e.g. "tcp://10.0.0.5:5025"
	Config  AcquisitionConfig
}

// ServerStatus is the status that AcquisitionControl reports to clients.
type ServerStatus struct {
	Running      bool
	Profile      string
	Address      string
	SamplesTaken int
	SampleTarget int
	Profiles     []string // all known instrument profiles
}

// ReadingUpdate is the body of one READING message on the status stream.
type ReadingUpdate struct {
	Value     float64
	Sequence  int
	Timestamp time.Time
	Unit      string
}

// StatisticsUpdate carries display-scaled summary statistics of a run.
type StatisticsUpdate struct {
	Mean    float64
	Min     float64
	Max     float64
	Stdev   float64
	Unit    string
	Samples int
}

// CompleteUpdate announces the end of a run that did not fail.
type CompleteUpdate struct {
	Samples int
	Stopped bool // true if ended early by a stop request
	CSVPath string
}

// ErrorUpdate announces a fatal run error, verbatim for the operator.
type ErrorUpdate struct {
	Message string
}

// AcquisitionControl is the RPC sub-server that configures and operates
// acquisition runs. It enforces "at most one active run" and forwards every
// worker event to the status stream.
type AcquisitionControl struct {
	clientUpdates chan<- ClientUpdate
	exporter      *CsvExporter
	db            *rundb.Connection
	caps          Capabilities
	activityID    string

	lock         sync.Mutex // guards the fields below
	activeWorker *AcquisitionWorker
	drainDone    chan struct{}
	status       ServerStatus
	lastArgs     RunArgs
}

// ConfigureRun validates a run description and stores it as the default for
// a later Start with empty arguments. The description is persisted so it
// survives a daemon restart.
func (c *AcquisitionControl) ConfigureRun(args *RunArgs, reply *bool) error {
	if _, err := LookupProfile(args.Profile); err != nil {
		return err
	}
	if err := args.Config.Validate(); err != nil {
		return err
	}
	c.lock.Lock()
	c.lastArgs = *args
	c.lock.Unlock()

	viper.Set("lastrun", args)
	if err := viper.WriteConfig(); err != nil {
		ProblemLogger.Printf("could not persist run configuration: %v", err)
	}
	c.clientUpdates <- ClientUpdate{"LASTRUN", args}
	*reply = true
	return nil
}

// Start begins an acquisition run. With empty args it reuses the last
// configured run. A non-nil return means nothing was started; once this
// returns successfully, all further outcomes arrive on the status stream.
func (c *AcquisitionControl) Start(args *RunArgs, reply *bool) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.activeWorker != nil {
		return fmt.Errorf("an acquisition run is already active (you should call Stop)")
	}

	a := *args
	if a.Profile == "" {
		a = c.lastArgs
	}
	profile, err := LookupProfile(a.Profile)
	if err != nil {
		return err
	}
	if a.Config.Unit == "" {
		a.Config.Unit = profile.Unit(a.Config.Function)
	}

	address := a.Address
	worker := NewAcquisitionWorker(profile,
		func() (InstrumentSession, error) { return OpenSession(address) }, a.Config)
	if err := worker.Start(); err != nil {
		return err
	}
	log.Printf("Starting %s run on %s: %d samples of %s\n",
		a.Profile, a.Address, a.Config.SampleCount, a.Config.Function)

	runmsg := &rundb.RunMessage{
		ID:           rundb.NewID(),
		ActivityID:   c.activityID,
		Profile:      a.Profile,
		Address:      a.Address,
		Function:     a.Config.Function.String(),
		TimingMode:   a.Config.Timing.String(),
		SampleTarget: a.Config.SampleCount,
		Unit:         a.Config.Unit,
		Start:        time.Now(),
	}

	c.activeWorker = worker
	c.drainDone = make(chan struct{})
	c.status.Running = true
	c.status.Profile = a.Profile
	c.status.Address = a.Address
	c.status.SamplesTaken = 0
	c.status.SampleTarget = a.Config.SampleCount
	metricRunsStarted.Inc()
	go c.drainEvents(worker, a, runmsg, c.drainDone)

	c.clientUpdates <- ClientUpdate{UpdateStatus, c.status}
	*reply = true
	return nil
}

// drainEvents consumes one run's events until the worker closes its channel,
// forwarding them to the status stream and recording the run in the database.
func (c *AcquisitionControl) drainEvents(w *AcquisitionWorker, args RunArgs,
	runmsg *rundb.RunMessage, done chan struct{}) {
	defer close(done)
	c.db.RecordRun(runmsg)

	unit := args.Config.Unit
	for ev := range w.Events() {
		switch ev.Kind {
		case EventReading:
			metricReadings.Inc()
			c.lock.Lock()
			c.status.SamplesTaken = ev.Reading.Sequence
			c.lock.Unlock()
			c.clientUpdates <- ClientUpdate{UpdateReading, ReadingUpdate{
				Value:     ev.Reading.Value,
				Sequence:  ev.Reading.Sequence,
				Timestamp: ev.Reading.Timestamp,
				Unit:      unit,
			}}

		case EventComplete:
			stopped := len(ev.Readings) < args.Config.SampleCount
			if stopped {
				runmsg.Status = "Stopped"
				metricRunsStopped.Inc()
			} else {
				runmsg.Status = "Completed"
				metricRunsCompleted.Inc()
			}
			csvPath := ""
			if len(ev.Readings) > 0 {
				values := make([]float64, len(ev.Readings))
				for i, r := range ev.Readings {
					values[i] = r.Value
				}
				stats := ComputeStats(values)
				scale := ScaleForDisplay(stats.Mean, unit)
				if path, err := c.exporter.Export(args.Profile, ev.Readings, scale, stats); err != nil {
					ProblemLogger.Printf("CSV export failed: %v", err)
				} else {
					csvPath = path
				}
				c.clientUpdates <- ClientUpdate{UpdateStatistics, StatisticsUpdate{
					Mean:    scale.Apply(stats.Mean),
					Min:     scale.Apply(stats.Min),
					Max:     scale.Apply(stats.Max),
					Stdev:   scale.Apply(stats.Stdev),
					Unit:    scale.Unit,
					Samples: stats.N,
				}}
				runmsg.SamplesTaken = stats.N
				runmsg.Mean = stats.Mean
				runmsg.Min = stats.Min
				runmsg.Max = stats.Max
				runmsg.Stdev = stats.Stdev
			}
			c.clientUpdates <- ClientUpdate{UpdateComplete, CompleteUpdate{
				Samples: len(ev.Readings),
				Stopped: stopped,
				CSVPath: csvPath,
			}}

		case EventError:
			runmsg.Status = "Failed"
			metricRunsFailed.Inc()
			c.clientUpdates <- ClientUpdate{UpdateError, ErrorUpdate{Message: ev.Err}}
		}
	}
	c.db.FinishRun(runmsg)

	c.lock.Lock()
	c.activeWorker = nil
	c.status.Running = false
	c.status.Profile = ""
	c.status.Address = ""
	c.lock.Unlock()
	c.broadcastUpdate()
}

// Stop requests the active run to end and waits until its partial results
// have been delivered, so a Start immediately after Stop cannot overlap runs.
func (c *AcquisitionControl) Stop(dummy *string, reply *bool) error {
	c.lock.Lock()
	w := c.activeWorker
	done := c.drainDone
	c.lock.Unlock()
	if w == nil {
		return fmt.Errorf("no acquisition run is active")
	}
	log.Printf("Stopping the active acquisition run\n")
	w.RequestStop()
	<-done
	*reply = true
	return nil
}

// SendAllStatus causes a broadcast to clients containing all broadcastable
// status info.
func (c *AcquisitionControl) SendAllStatus(dummy *string, reply *bool) error {
	c.broadcastUpdate()
	c.clientUpdates <- ClientUpdate{"SENDALL", 0}
	*reply = true
	return nil
}

func (c *AcquisitionControl) broadcastUpdate() {
	c.lock.Lock()
	status := c.status
	c.lock.Unlock()
	c.clientUpdates <- ClientUpdate{UpdateStatus, status}
}

// RunRPCServer sets up and runs a permanent JSON-RPC server. It does not
// return except on a listener error.
func RunRPCServer(messageChan chan<- ClientUpdate, portrpc int, caps Capabilities,
	db *rundb.Connection, activityID string) {

	control := &AcquisitionControl{
		clientUpdates: messageChan,
		db:            db,
		caps:          caps,
		activityID:    activityID,
		exporter: &CsvExporter{
			OutputDir:     viper.GetString("CSVDir"),
			OpenAfterSave: viper.GetBool("OpenCSV"),
		},
	}
	control.status.Profiles = ProfileNames()

	// Restore the last-used run configuration, if one was persisted.
	var last RunArgs
	if err := viper.UnmarshalKey("lastrun", &last); err == nil && last.Profile != "" {
		if err := last.Config.Validate(); err == nil {
			control.lastArgs = last
		}
	}

	go func() {
		ticker := time.NewTicker(2 * time.Second)
		for range ticker.C {
			control.broadcastUpdate()
		}
	}()

	server := rpc.NewServer()
	server.Register(control)
	server.HandleHTTP(rpc.DefaultRPCPath, rpc.DefaultDebugPath)
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", portrpc))
	if err != nil {
		log.Fatal("listen error:", err)
	}
	for {
		if conn, err := listener.Accept(); err != nil {
			log.Fatal("accept error: " + err.Error())
		} else {
			log.Printf("new connection established\n")
			go server.ServeCodec(jsonrpc.NewServerCodec(conn))
		}
	}
}
