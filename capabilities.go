package benchd

import (
	zmq "github.com/pebbe/zmq4"
	"go.bug.st/serial"

	"github.com/usnistgov/benchd/internal/rundb"
)

// Capabilities records, once at startup, which optional collaborators this
// process can actually reach. Components branch on this struct instead of
// re-probing or consulting scattered globals.
type Capabilities struct {
	Publisher   bool     // a ZMQ PUB socket can be created
	RunDatabase bool     // the run-metadata database answers a ping
	SerialPorts []string // serial devices present for GPIB controllers
}

// DetectCapabilities probes the optional collaborators. Failures are logged
// and leave the corresponding capability off; they never stop the program.
func DetectCapabilities() Capabilities {
	var caps Capabilities

	if sock, err := zmq.NewSocket(zmq.PUB); err == nil {
		sock.Close()
		caps.Publisher = true
	} else {
		ProblemLogger.Printf("ZMQ publishing unavailable: %v", err)
	}

	if err := rundb.Ping(); err == nil {
		caps.RunDatabase = true
	} else {
		ProblemLogger.Printf("run database unavailable: %v", err)
	}

	if ports, err := serial.GetPortsList(); err == nil {
		caps.SerialPorts = ports
	} else {
		ProblemLogger.Printf("could not enumerate serial ports: %v", err)
	}

	return caps
}
