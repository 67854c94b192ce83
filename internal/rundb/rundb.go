//go:build !nodb

// Package rundb records acquisition-run metadata in a ClickHouse database.
package rundb

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

// Connection wraps one ClickHouse connection and the channel feeding its
// handler goroutine. A Connection with a nil conn (server absent, bad
// credentials) degrades to a harmless no-op.
type Connection struct {
	conn     clickhouse.Conn
	err      error
	activity *ActivityMessage
	runmsg   chan *RunMessage
	sync.WaitGroup
}

const databaseName = "benchd" // official SQL name of the database

// IsConnected reports whether the database is reachable and error-free.
func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// Ping checks that the ClickHouse server answers.
func Ping() error {
	db := createConnection()
	if !db.IsConnected() {
		return fmt.Errorf("run database is not connected")
	}
	defer db.conn.Close()
	if _, err := db.conn.ServerVersion(); err != nil {
		return err
	}
	return nil
}

// StartConnection opens the database, logs the activity entry, and launches
// the goroutine that serializes all further inserts.
func StartConnection(activity *ActivityMessage, abort <-chan struct{}) *Connection {
	db := createConnection()
	db.activity = activity
	db.logActivity()
	go db.handleConnection(abort)
	return db
}

func createConnection() *Connection {
	db := &Connection{}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("BENCHD_DB_USER"),
		Password: os.Getenv("BENCHD_DB_PASSWORD"),
	}
	opt := clickhouse.Options{
		Addr: []string{"localhost:9000"},
		Auth: auth,
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "benchd", Version: "unknown"},
			},
		},
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn
	db.Add(1)

	if err = conn.Ping(context.Background()); err != nil {
		db.err = err
		return db
	}
	db.runmsg = make(chan *RunMessage)
	return db
}

const chTimeFormat = "2006-01-02 15:04:05.000000"

func (db *Connection) logActivity() {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	a := db.activity
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO benchactivity VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		a.ID, a.Hostname, a.Githash, a.Version, a.GoVersion, a.CPUs,
		a.Start.Format(chTimeFormat), a.End.Format(chTimeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into benchactivity ", err)
		db.err = err
	}
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case msg := <-db.runmsg:
			db.handleRunMessage(msg)
		}
	}
}

// Disconnect stamps the activity entry's end time. The connection itself is
// left to die with the process.
func (db *Connection) Disconnect() {
	if db.IsConnected() {
		db.activity.End = time.Now()
		db.logActivity()
	}
}

// RecordRun stores a run entry in the DB (if it's open). This call blocks
// until the handler goroutine accepts the message, which guarantees the run
// row exists before any later FinishRun update for the same run.
func (db *Connection) RecordRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	db.runmsg <- msg
}

// FinishRun stamps the run's end time and stores the final entry without
// blocking the caller.
func (db *Connection) FinishRun(msg *RunMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	msg.End = time.Now()
	go func() { db.runmsg <- msg }()
}

func (db *Connection) handleRunMessage(m *RunMessage) {
	if !db.IsConnected() {
		return
	}
	const nowait = false
	if err := db.conn.AsyncInsert(context.Background(),
		`INSERT INTO benchruns VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, m.ActivityID, m.Profile, m.Address, m.Function, m.TimingMode,
		m.SampleTarget, m.SamplesTaken, m.Mean, m.Min, m.Max, m.Stdev,
		m.Unit, m.Status, m.Start.Format(chTimeFormat), m.End.Format(chTimeFormat),
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into benchruns ", err)
		db.err = err
	}
}
