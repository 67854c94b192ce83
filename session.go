package benchd

// InstrumentSession abstracts the transport to one bench instrument. The
// acquisition worker is the only user of a session while a run is active.

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/prologix"
	"github.com/gotmc/prologix/driver/vcp"
	"go.uber.org/multierr"
)

// InstrumentSession is the contract the acquisition worker requires from any
// instrument transport: textual commands out, textual responses back.
type InstrumentSession interface {
	// Write sends one command to the instrument without awaiting a response.
	Write(cmd string) error
	// Query sends one command and returns the instrument's response line.
	Query(cmd string) (string, error)
	// Read returns the next response line from the instrument.
	Read() (string, error)
	// SetTimeout bounds how long a single Read or Query may block.
	SetTimeout(d time.Duration)
	// Close releases the transport. Safe to call once per session.
	Close() error
}

const dialTimeout = 5 * time.Second

// OpenSession opens an instrument session for the given address. Supported
// forms are "sim:", "tcp://host:port" for raw-socket SCPI instruments, and
// "gpib://serialdevice:addr" for instruments behind a Prologix GPIB-USB
// controller (e.g. "gpib:///dev/ttyUSB0:22").
func OpenSession(address string) (InstrumentSession, error) {
	switch {
	case address == "sim:" || strings.HasPrefix(address, "sim://"):
		return NewSimSession(), nil

	case strings.HasPrefix(address, "tcp://"):
		return OpenTCPSession(strings.TrimPrefix(address, "tcp://"))

	case strings.HasPrefix(address, "gpib://"):
		spec := strings.TrimPrefix(address, "gpib://")
		i := strings.LastIndex(spec, ":")
		if i < 0 {
			return nil, fmt.Errorf("gpib address %q lacks a :addr suffix", address)
		}
		gpibAddr, err := strconv.Atoi(spec[i+1:])
		if err != nil {
			return nil, fmt.Errorf("gpib address %q: %v", address, err)
		}
		return OpenGPIBSession(spec[:i], gpibAddr)
	}
	return nil, fmt.Errorf("instrument address %q is not recognized", address)
}

// TCPSession talks SCPI to a LAN instrument over a raw TCP socket.
type TCPSession struct {
	conn    net.Conn
	reader  *bufio.Reader
	timeout time.Duration
}

// OpenTCPSession dials the instrument at host:port.
func OpenTCPSession(hostport string) (*TCPSession, error) {
	conn, err := net.DialTimeout("tcp", hostport, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("could not connect to instrument at %s: %v", hostport, err)
	}
	return &TCPSession{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		timeout: dialTimeout,
	}, nil
}

func (s *TCPSession) Write(cmd string) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	_, err := fmt.Fprintf(s.conn, "%s\n", strings.TrimSpace(cmd))
	return err
}

func (s *TCPSession) Read() (string, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return "", err
	}
	line, err := s.reader.ReadString('\n')
	if err == io.EOF && len(line) > 0 {
		return line, nil
	}
	return line, err
}

func (s *TCPSession) Query(cmd string) (string, error) {
	if err := s.Write(cmd); err != nil {
		return "", err
	}
	return s.Read()
}

func (s *TCPSession) SetTimeout(d time.Duration) {
	s.timeout = d
}

func (s *TCPSession) Close() error {
	return s.conn.Close()
}

// GPIBSession talks to an instrument behind a Prologix GPIB-USB controller
// attached as a virtual COM port.
type GPIBSession struct {
	ctrl   *prologix.Controller
	port   io.ReadWriteCloser
	reader *bufio.Reader
}

// OpenGPIBSession opens the serial device and configures the Prologix
// controller-in-charge for the instrument at the given GPIB address.
func OpenGPIBSession(serialDevice string, gpibAddr int) (*GPIBSession, error) {
	port, err := vcp.NewVCP(serialDevice)
	if err != nil {
		return nil, fmt.Errorf("could not open serial port %s: %v", serialDevice, err)
	}
	ctrl, err := prologix.NewController(port, gpibAddr, true)
	if err != nil {
		err = multierr.Append(err, port.Close())
		return nil, fmt.Errorf("could not set up GPIB controller: %v", err)
	}
	return &GPIBSession{ctrl: ctrl, port: port, reader: bufio.NewReader(ctrl)}, nil
}

func (s *GPIBSession) Write(cmd string) error {
	return s.ctrl.Command("%s", cmd)
}

// Read asks the controller to address the instrument to talk, then reads one
// response line. A bare EOF with data is a complete read (the Prologix strips
// the terminator on some instruments).
func (s *GPIBSession) Read() (string, error) {
	if err := s.ctrl.CommandController("read eoi"); err != nil {
		return "", err
	}
	line, err := s.reader.ReadString('\n')
	if err == io.EOF && len(line) > 0 {
		return line, nil
	}
	return line, err
}

func (s *GPIBSession) Query(cmd string) (string, error) {
	if err := s.Write(cmd); err != nil {
		return "", err
	}
	return s.Read()
}

// SetTimeout sets the controller's read timeout. The Prologix firmware caps
// read_tmo_ms at 3000; longer waits ride on the serial read blocking instead.
func (s *GPIBSession) SetTimeout(d time.Duration) {
	ms := d.Milliseconds()
	if ms > 3000 {
		ms = 3000
	}
	if err := s.ctrl.CommandController(fmt.Sprintf("read_tmo_ms %d", ms)); err != nil {
		ProblemLogger.Printf("could not set GPIB read timeout: %v", err)
	}
}

// Close returns the instrument to local control and closes the serial port.
func (s *GPIBSession) Close() error {
	err := s.ctrl.CommandController("loc")
	return multierr.Append(err, s.port.Close())
}
