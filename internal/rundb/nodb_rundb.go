//go:build nodb
// +build nodb

// This drop-in replacement for the benchd/internal/rundb package can be
// selected at build time with the "-tags nodb" build tag. It puts no-ops in
// place of the usual communication with a ClickHouse server.

package rundb

import "fmt"

type Connection struct{}

func (db *Connection) IsConnected() bool     { return false }
func (db *Connection) Disconnect()           {}
func (db *Connection) RecordRun(*RunMessage) {}
func (db *Connection) FinishRun(*RunMessage) {}

func StartConnection(activity *ActivityMessage, abort <-chan struct{}) *Connection {
	return &Connection{}
}

func Ping() error {
	return fmt.Errorf("run database not tried: benchd was built with the '-tags nodb' flag")
}
