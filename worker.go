package benchd

// AcquisitionWorker runs one acquisition against one instrument session on
// its own goroutine and streams immutable events back to its controller.

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// WorkerState is used to indicate the active/inactive/transition state of a worker
type WorkerState int

// Names for the possible values of WorkerState
const (
	WorkerInactive WorkerState = iota // Worker has not started, or its run finished
	WorkerStarting                    // Worker is in transition to Active state
	WorkerActive                      // Worker is acquiring samples
	WorkerStopping                    // A stop was requested; run is winding down
)

// Reading is one scalar measurement. Immutable once produced.
type Reading struct {
	Value     float64
	Sequence  int // 1-based
	Timestamp time.Time
}

// EventKind tags an AcquisitionEvent.
type EventKind int

// The three kinds of events a run can emit.
const (
	EventReading  EventKind = iota // one successful sample; Reading is set
	EventComplete                  // run finished cleanly; Readings is set
	EventError                     // run aborted on a fatal error; Err is set
)

// AcquisitionEvent is the message a worker posts to its controller. Events
// arrive in order on a single channel: zero or more Reading events, then
// exactly one Complete or Error event, never both.
type AcquisitionEvent struct {
	Kind     EventKind
	Reading  Reading
	Readings []Reading
	Err      string
}

// AcquisitionWorker owns one acquisition run. Construct with
// NewAcquisitionWorker, call Start once, and drain Events until it closes.
type AcquisitionWorker struct {
	profile *InstrumentProfile
	open    func() (InstrumentSession, error)
	config  AcquisitionConfig

	events   chan AcquisitionEvent
	abort    chan struct{} // close to request a cooperative stop
	readings []Reading

	state     WorkerState
	started   bool           // a worker runs at most once
	stateLock sync.Mutex     // guards state and started
	runDone   sync.WaitGroup
}

// NewAcquisitionWorker prepares a worker for one run. The session is opened
// lazily on the worker goroutine, so open failures surface as an Error event
// rather than blocking the caller on instrument I/O.
func NewAcquisitionWorker(profile *InstrumentProfile, open func() (InstrumentSession, error),
	config AcquisitionConfig) *AcquisitionWorker {
	return &AcquisitionWorker{
		profile: profile,
		open:    open,
		config:  config,
		// Buffer enough for a full run so the sample loop never blocks on a
		// slow consumer.
		events: make(chan AcquisitionEvent, config.SampleCount+4),
		abort:  make(chan struct{}),
	}
}

// Events returns the channel carrying this run's events. The channel is
// closed after the terminal Complete or Error event.
func (w *AcquisitionWorker) Events() <-chan AcquisitionEvent {
	return w.events
}

// State reports the worker's current lifecycle state.
func (w *AcquisitionWorker) State() WorkerState {
	w.stateLock.Lock()
	defer w.stateLock.Unlock()
	return w.state
}

// Start validates the configuration and begins the run on a new goroutine.
// A non-nil return means the configuration was rejected and no goroutine was
// spawned; every later failure arrives as an Error event instead.
func (w *AcquisitionWorker) Start() error {
	if err := w.config.Validate(); err != nil {
		return err
	}
	if _, err := w.profile.SetupSequence(w.config); err != nil {
		return err
	}

	w.stateLock.Lock()
	defer w.stateLock.Unlock()
	if w.started {
		return fmt.Errorf("worker was already started, cannot start again")
	}
	w.started = true
	w.state = WorkerStarting
	w.runDone.Add(1)
	go w.run()
	return nil
}

// RequestStop asks the run to end early. Idempotent. The worker notices the
// request at its next delay or loop boundary; readings gathered so far are
// still delivered in the Complete event.
func (w *AcquisitionWorker) RequestStop() {
	w.stateLock.Lock()
	defer w.stateLock.Unlock()
	switch w.state {
	case WorkerInactive, WorkerStopping:
		return
	}
	w.state = WorkerStopping
	closeIfOpen(w.abort)
}

// Wait returns once the run goroutine has finished and the events channel is
// closed.
func (w *AcquisitionWorker) Wait() {
	w.runDone.Wait()
}

func closeIfOpen(c chan struct{}) {
	select {
	case <-c:
	default:
		close(c)
	}
}

func (w *AcquisitionWorker) setState(s WorkerState) {
	w.stateLock.Lock()
	if !(s == WorkerActive && w.state == WorkerStopping) {
		// A stop request during setup must not be forgotten.
		w.state = s
	}
	w.stateLock.Unlock()
}

func (w *AcquisitionWorker) stopRequested() bool {
	select {
	case <-w.abort:
		return true
	default:
		return false
	}
}

// pause sleeps for d, or less if a stop is requested meanwhile. Reports
// whether the full pause elapsed.
func (w *AcquisitionWorker) pause(d time.Duration) bool {
	select {
	case <-w.abort:
		return false
	case <-time.After(d):
		return true
	}
}

func (w *AcquisitionWorker) emitError(format string, a ...any) {
	w.events <- AcquisitionEvent{Kind: EventError, Err: fmt.Sprintf(format, a...)}
}

func (w *AcquisitionWorker) emitComplete() {
	final := make([]Reading, len(w.readings))
	copy(final, w.readings)
	w.events <- AcquisitionEvent{Kind: EventComplete, Readings: final}
}

// run executes the whole acquisition: open, configure, sample, report.
// It is the only goroutine that touches the instrument session.
func (w *AcquisitionWorker) run() {
	defer w.runDone.Done()
	defer close(w.events)
	defer w.setState(WorkerInactive)

	session, err := w.open()
	if err != nil {
		w.emitError("could not open instrument session: %v", err)
		return
	}
	defer func() {
		// Results are already final by now, so a close failure is only logged.
		if err := session.Close(); err != nil {
			ProblemLogger.Printf("error closing instrument session: %v", err)
		}
	}()
	w.setState(WorkerActive)

	session.SetTimeout(w.config.SessionTimeout())

	steps, err := w.profile.SetupSequence(w.config)
	if err != nil {
		// Start() vetted the sequence already; this cannot normally happen.
		w.emitError("%v", err)
		return
	}
	for _, step := range steps {
		if w.stopRequested() {
			w.emitComplete()
			return
		}
		if err := session.Write(step.Command); err != nil {
			w.emitError("configuration command %q failed: %v", step.Command, err)
			return
		}
		if step.Settle > 0 && !w.pause(step.Settle) {
			w.emitComplete()
			return
		}
	}

	for i := 1; i <= w.config.SampleCount; i++ {
		if w.stopRequested() {
			break
		}
		if d := w.config.preSampleDelay(); d > 0 && !w.pause(d) {
			break
		}
		response, err := session.Query(w.profile.ReadCommand)
		if err != nil {
			w.emitError("reading %d failed: %v", i, err)
			return
		}
		value, err := parseReading(response)
		if err != nil {
			w.emitError("reading %d: %v", i, err)
			return
		}
		r := Reading{Value: value, Sequence: i, Timestamp: time.Now()}
		w.readings = append(w.readings, r)
		w.events <- AcquisitionEvent{Kind: EventReading, Reading: r}
	}
	w.emitComplete()
}

// parseReading extracts the scalar from an instrument response. Responses
// with comma-separated extra fields use only the first field.
func parseReading(response string) (float64, error) {
	field := strings.TrimSpace(response)
	if i := strings.IndexByte(field, ','); i >= 0 {
		field = strings.TrimSpace(field[:i])
	}
	value, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable instrument response %q", strings.TrimSpace(response))
	}
	return value, nil
}
