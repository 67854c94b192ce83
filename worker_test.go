package benchd

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// stubSession is a scripted InstrumentSession for worker tests.
type stubSession struct {
	response    string // returned by every read
	failReadAt  int    // 1-based read index whose Read fails; 0 disables
	failCommand string // command whose Write fails; "" disables
	perRead     time.Duration

	mu       sync.Mutex
	commands []string
	reads    int
	timeout  time.Duration
	closed   bool
}

func (s *stubSession) Write(cmd string) error {
	s.mu.Lock()
	s.commands = append(s.commands, cmd)
	s.mu.Unlock()
	if s.failCommand != "" && cmd == s.failCommand {
		return fmt.Errorf("stub: command %q rejected", cmd)
	}
	return nil
}

func (s *stubSession) Read() (string, error) {
	time.Sleep(s.perRead)
	s.mu.Lock()
	s.reads++
	n := s.reads
	s.mu.Unlock()
	if s.failReadAt > 0 && n == s.failReadAt {
		return "", fmt.Errorf("stub: read %d timed out", n)
	}
	return s.response, nil
}

func (s *stubSession) Query(cmd string) (string, error) {
	if err := s.Write(cmd); err != nil {
		return "", err
	}
	return s.Read()
}

func (s *stubSession) SetTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

func (s *stubSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func newTestWorker(cfg AcquisitionConfig, s InstrumentSession) *AcquisitionWorker {
	return NewAcquisitionWorker(profileSim,
		func() (InstrumentSession, error) { return s, nil }, cfg)
}

// drainWorker collects a whole run's events, verifying the ordering rules:
// readings in sequence order, then one terminal event, then channel close.
func drainWorker(t *testing.T, w *AcquisitionWorker) (readings []Reading, complete []Reading, completed bool, errMsg string) {
	t.Helper()
	terminal := false
	for ev := range w.Events() {
		if terminal {
			t.Errorf("event of kind %d after the terminal event", ev.Kind)
		}
		switch ev.Kind {
		case EventReading:
			if want := len(readings) + 1; ev.Reading.Sequence != want {
				t.Errorf("reading sequence = %d, want %d", ev.Reading.Sequence, want)
			}
			readings = append(readings, ev.Reading)
		case EventComplete:
			complete = ev.Readings
			completed = true
			terminal = true
		case EventError:
			errMsg = ev.Err
			terminal = true
		}
	}
	if !terminal {
		t.Error("events channel closed without a terminal event")
	}
	return
}

func quickConfig(n int) AcquisitionConfig {
	return AcquisitionConfig{
		Function:        FuncDCVolts,
		SampleCount:     n,
		Timing:          TimingIntegration,
		IntervalSeconds: 0.001,
		Range:           RangeSelector{Auto: true},
		Unit:            "V",
	}
}

func TestWorkerFullRun(t *testing.T) {
	const n = 5
	s := &stubSession{response: "1.23,+0000000E+00\n"}
	w := newTestWorker(quickConfig(n), s)
	if err := w.Start(); err != nil {
		t.Fatalf("Start() returned %v, want nil", err)
	}
	readings, complete, completed, errMsg := drainWorker(t, w)
	w.Wait()

	if errMsg != "" {
		t.Fatalf("unexpected error event: %s", errMsg)
	}
	if !completed {
		t.Fatal("no Complete event for a full run")
	}
	if len(readings) != n || len(complete) != n {
		t.Fatalf("got %d reading events and %d final readings, want %d of each",
			len(readings), len(complete), n)
	}
	for i, r := range complete {
		if r != readings[i] {
			t.Errorf("final reading %d = %+v, differs from emitted %+v", i, r, readings[i])
		}
		if r.Value != 1.23 {
			t.Errorf("reading %d value = %g, want 1.23 (first comma field)", i, r.Value)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		t.Error("session was not closed after the run")
	}
	if s.timeout < sessionTimeoutFloor {
		t.Errorf("session timeout = %v, want at least the %v floor", s.timeout, sessionTimeoutFloor)
	}
}

func TestWorkerStopPartial(t *testing.T) {
	cfg := quickConfig(100)
	cfg.IntervalSeconds = 0.15
	s := &stubSession{response: "+9.99E-01\n"}
	w := newTestWorker(cfg, s)
	if err := w.Start(); err != nil {
		t.Fatalf("Start() returned %v", err)
	}

	// Stop right after the 2nd reading, while the worker sits in the long
	// pre-sample delay for the 3rd.
	var readings, complete []Reading
	completed := false
	for ev := range w.Events() {
		switch ev.Kind {
		case EventReading:
			readings = append(readings, ev.Reading)
			if ev.Reading.Sequence == 2 {
				w.RequestStop()
				w.RequestStop() // idempotent
			}
		case EventComplete:
			complete = ev.Readings
			completed = true
		case EventError:
			t.Fatalf("unexpected error event: %s", ev.Err)
		}
	}
	w.Wait()

	if !completed {
		t.Fatal("stopped run must still produce a Complete event")
	}
	if len(readings) != 2 || len(complete) != 2 {
		t.Errorf("got %d reading events and %d final readings, want 2 of each",
			len(readings), len(complete))
	}
}

func TestWorkerStopInterruptsLongDelay(t *testing.T) {
	cfg := quickConfig(3)
	cfg.IntervalSeconds = 10 // far longer than this test should take
	w := newTestWorker(cfg, &stubSession{response: "1.0\n"})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() returned %v", err)
	}

	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	w.RequestStop()
	_, complete, completed, errMsg := drainWorker(t, w)
	w.Wait()

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("stop took %v, should interrupt the 10 s delay promptly", elapsed)
	}
	if !completed || errMsg != "" {
		t.Errorf("completed=%t errMsg=%q, want clean early completion", completed, errMsg)
	}
	if len(complete) != 0 {
		t.Errorf("got %d readings, want 0 before the first delay elapsed", len(complete))
	}
}

func TestWorkerFatalReadError(t *testing.T) {
	const failAt = 2
	s := &stubSession{response: "1.0\n", failReadAt: failAt}
	w := newTestWorker(quickConfig(5), s)
	if err := w.Start(); err != nil {
		t.Fatalf("Start() returned %v", err)
	}
	readings, _, completed, errMsg := drainWorker(t, w)
	w.Wait()

	if len(readings) != failAt-1 {
		t.Errorf("got %d readings before the failure, want %d", len(readings), failAt-1)
	}
	if errMsg == "" {
		t.Error("no Error event for a failed read")
	}
	if completed {
		t.Error("Complete event fired for an errored run")
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed {
		t.Error("session was not released after the error")
	}
}

func TestWorkerUnparseableResponse(t *testing.T) {
	w := newTestWorker(quickConfig(3), &stubSession{response: "+OVERLOAD+\n"})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() returned %v", err)
	}
	readings, _, completed, errMsg := drainWorker(t, w)
	w.Wait()
	if len(readings) != 0 || completed || errMsg == "" {
		t.Errorf("readings=%d completed=%t errMsg=%q, want immediate parse failure",
			len(readings), completed, errMsg)
	}
}

func TestWorkerSetupCommandError(t *testing.T) {
	s := &stubSession{response: "1.0\n", failCommand: "*RST"}
	w := newTestWorker(quickConfig(3), s)
	if err := w.Start(); err != nil {
		t.Fatalf("Start() returned %v", err)
	}
	readings, _, completed, errMsg := drainWorker(t, w)
	w.Wait()
	if len(readings) != 0 || completed || errMsg == "" {
		t.Errorf("readings=%d completed=%t errMsg=%q, want setup failure before sampling",
			len(readings), completed, errMsg)
	}
}

func TestWorkerOpenFailure(t *testing.T) {
	w := NewAcquisitionWorker(profileSim,
		func() (InstrumentSession, error) { return nil, fmt.Errorf("no such instrument") },
		quickConfig(2))
	if err := w.Start(); err != nil {
		t.Fatalf("Start() returned %v; open failures belong on the event channel", err)
	}
	readings, _, completed, errMsg := drainWorker(t, w)
	w.Wait()
	if len(readings) != 0 || completed || errMsg == "" {
		t.Errorf("readings=%d completed=%t errMsg=%q, want an open-failure Error event",
			len(readings), completed, errMsg)
	}
}

func TestWorkerRejectsInvalidConfig(t *testing.T) {
	cfg := quickConfig(0) // SampleCount below 1
	w := newTestWorker(cfg, &stubSession{response: "1.0\n"})
	if err := w.Start(); err == nil {
		t.Error("Start() accepted SampleCount=0")
	}
	if state := w.State(); state != WorkerInactive {
		t.Errorf("state after rejected Start = %v, want WorkerInactive", state)
	}

	cfg = quickConfig(3)
	cfg.Function = FuncContinuity // not available on the 3458A dialect
	w2 := NewAcquisitionWorker(profile3458A,
		func() (InstrumentSession, error) { return &stubSession{response: "1.0\n"}, nil }, cfg)
	if err := w2.Start(); err == nil {
		t.Error("Start() accepted a function the profile does not support")
	}
}

func TestWorkerStartTwice(t *testing.T) {
	w := newTestWorker(quickConfig(1), &stubSession{response: "1.0\n"})
	if err := w.Start(); err != nil {
		t.Fatalf("first Start() returned %v", err)
	}
	if err := w.Start(); err == nil {
		t.Error("second Start() on the same worker did not fail")
	}
	drainWorker(t, w)
	w.Wait()
	if err := w.Start(); err == nil {
		t.Error("Start() after the run finished did not fail")
	}
}

func TestWorkerIntegrationTiming(t *testing.T) {
	cfg := quickConfig(3)
	cfg.IntervalSeconds = 0.05
	start := time.Now()
	w := newTestWorker(cfg, &stubSession{response: "1.23\n"})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() returned %v", err)
	}
	readings, _, completed, errMsg := drainWorker(t, w)
	w.Wait()

	if !completed || errMsg != "" || len(readings) != 3 {
		t.Fatalf("completed=%t errMsg=%q n=%d, want a clean 3-sample run", completed, errMsg, len(readings))
	}
	interval := time.Duration(cfg.IntervalSeconds * float64(time.Second))
	if gap := readings[0].Timestamp.Sub(start); gap < interval {
		t.Errorf("first sample after %v, want at least %v (delay precedes every sample)", gap, interval)
	}
	for i := 1; i < len(readings); i++ {
		if gap := readings[i].Timestamp.Sub(readings[i-1].Timestamp); gap < interval {
			t.Errorf("gap between samples %d and %d = %v, want at least %v", i, i+1, gap, interval)
		}
	}
}

func TestWorkerSniffingDelay(t *testing.T) {
	cfg := AcquisitionConfig{
		Function:             FuncDCVolts,
		SampleCount:          2,
		Timing:               TimingNPLC,
		NplcOrResolution:     10,
		SniffingDelaySeconds: 0.05,
		Range:                RangeSelector{Auto: true},
		Unit:                 "V",
	}
	s := &stubSession{response: "1.0\n", perRead: time.Millisecond}
	start := time.Now()
	w := newTestWorker(cfg, s)
	if err := w.Start(); err != nil {
		t.Fatalf("Start() returned %v", err)
	}
	readings, _, completed, errMsg := drainWorker(t, w)
	w.Wait()

	if !completed || errMsg != "" || len(readings) != 2 {
		t.Fatalf("completed=%t errMsg=%q n=%d, want a clean 2-sample run", completed, errMsg, len(readings))
	}
	sniff := time.Duration(cfg.SniffingDelaySeconds * float64(time.Second))
	if gap := readings[0].Timestamp.Sub(start); gap < sniff {
		t.Errorf("first sample after %v, want at least the %v sniffing delay", gap, sniff)
	}
	if gap := readings[1].Timestamp.Sub(readings[0].Timestamp); gap < sniff {
		t.Errorf("inter-sample gap %v, want at least the %v sniffing delay", gap, sniff)
	}
}

func TestWorkerNplcImposesNoDelay(t *testing.T) {
	cfg := AcquisitionConfig{
		Function:         FuncDCVolts,
		SampleCount:      10,
		Timing:           TimingNPLC,
		NplcOrResolution: 100,
		Range:            RangeSelector{Auto: true},
		Unit:             "V",
	}
	start := time.Now()
	w := newTestWorker(cfg, &stubSession{response: "1.0\n"})
	if err := w.Start(); err != nil {
		t.Fatalf("Start() returned %v", err)
	}
	readings, _, completed, errMsg := drainWorker(t, w)
	w.Wait()
	if !completed || errMsg != "" || len(readings) != 10 {
		t.Fatalf("completed=%t errMsg=%q n=%d, want a clean 10-sample run", completed, errMsg, len(readings))
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("NPLC run with no sniffing took %v; the worker must not add its own delay", elapsed)
	}
}

func TestParseReading(t *testing.T) {
	good := map[string]float64{
		"+1.23456789E+00\n":   1.23456789,
		"1.23,2025-01-01\r\n": 1.23,
		"  -4.5e-3 ":          -0.0045,
		"9.99,1,2,3":          9.99,
	}
	for in, want := range good {
		v, err := parseReading(in)
		if err != nil {
			t.Errorf("parseReading(%q) returned error %v", in, err)
		} else if v != want {
			t.Errorf("parseReading(%q) = %g, want %g", in, v, want)
		}
	}
	for _, in := range []string{"", "\n", "OVLD", ",1.23", "1.2.3"} {
		if _, err := parseReading(in); err == nil {
			t.Errorf("parseReading(%q) succeeded, want error", in)
		}
	}
}
