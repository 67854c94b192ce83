package benchd

// Contains the client updater, which publishes JSON-encoded messages giving
// the latest benchd state and the readings of the active run.

import (
	"encoding/json"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	zmq "github.com/pebbe/zmq4"
	"github.com/spf13/viper"
)

// ClientUpdate carries one message to be published on the status port.
type ClientUpdate struct {
	tag   string
	state any
}

// Tags used on the status stream.
const (
	UpdateStatus     = "STATUS"
	UpdateReading    = "READING"
	UpdateComplete   = "COMPLETE"
	UpdateStatistics = "STATISTICS"
	UpdateError      = "ERROR"
)

// RunClientUpdater forwards any message from its input channel to the ZMQ
// publisher socket, until the abort channel closes. Each update goes out as a
// 2-frame message: tag, then JSON body.
func RunClientUpdater(messages <-chan ClientUpdate, portstatus int, abort <-chan struct{}) {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		ProblemLogger.Printf("could not create status PUB socket: %v", err)
		return
	}
	defer pubSocket.Close()
	if err := pubSocket.Bind(fmt.Sprintf("tcp://*:%d", portstatus)); err != nil {
		ProblemLogger.Printf("could not bind status port %d: %v", portstatus, err)
		return
	}

	verbose := viper.GetBool("Verbose")
	for {
		select {
		case <-abort:
			return
		case update := <-messages:
			body, err := json.Marshal(update.state)
			if err != nil {
				ProblemLogger.Printf("could not encode %s update: %v", update.tag, err)
				continue
			}
			UpdateLogger.Printf("%s %s", update.tag, body)
			if verbose {
				UpdateLogger.Print(spew.Sdump(update.state))
			}
			if _, err := pubSocket.SendMessage(update.tag, body); err != nil {
				ProblemLogger.Printf("could not publish %s update: %v", update.tag, err)
			}
		}
	}
}
