package benchd

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// SimSession is an InstrumentSession backed by no hardware. It accepts any
// command and answers reads with a slowly wobbling value, so the full
// acquisition path can run without an instrument attached.
type SimSession struct {
	Value   float64       // center value returned by reads
	Noise   float64       // amplitude of the deterministic wobble
	PerRead time.Duration // simulated per-reading instrument time

	lock     sync.Mutex
	commands []string
	nreads   int
}

// NewSimSession returns a simulated 1 V DC source with a 10 ms reading time.
func NewSimSession() *SimSession {
	return &SimSession{Value: 1.0, Noise: 1e-5, PerRead: 10 * time.Millisecond}
}

func (s *SimSession) Write(cmd string) error {
	s.lock.Lock()
	s.commands = append(s.commands, cmd)
	s.lock.Unlock()
	return nil
}

func (s *SimSession) Read() (string, error) {
	time.Sleep(s.PerRead)
	s.lock.Lock()
	s.nreads++
	n := s.nreads
	s.lock.Unlock()
	v := s.Value + s.Noise*math.Sin(float64(n))
	return fmt.Sprintf("%+.8E\n", v), nil
}

func (s *SimSession) Query(cmd string) (string, error) {
	if err := s.Write(cmd); err != nil {
		return "", err
	}
	return s.Read()
}

func (s *SimSession) SetTimeout(d time.Duration) {}

func (s *SimSession) Close() error { return nil }

// Commands returns a copy of every command written so far.
func (s *SimSession) Commands() []string {
	s.lock.Lock()
	defer s.lock.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}
