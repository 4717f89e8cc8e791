// Package trace provides transparent SQL tracing for modernc.org/sqlite.
//
// It registers a "sqlite-trace" driver that wraps the standard "sqlite"
// driver and observes every Exec and Query at the database/sql/driver level.
// Switching the driver name is the only change needed:
//
//	db, _ := dbopen.Open(path, dbopen.WithDriver(trace.DriverName))
//
// Every statement is logged via slog with adaptive levels (Debug, Warn above
// SlowQuery, Error on failure) and correlated with the request through the
// trace and request ids carried by the context (kit.GetTraceID,
// kit.GetRequestID). An optional Recorder receives the same observations,
// which is how the blueprint store feeds its query metrics.
package trace

import (
	"database/sql"
	"sync"
	"time"

	sqlite "modernc.org/sqlite"
)

// DriverName is the database/sql name of the tracing driver.
const DriverName = "sqlite-trace"

// SlowQuery is the duration above which a statement is logged at Warn.
const SlowQuery = 100 * time.Millisecond

// Entry is a single SQL trace record.
type Entry struct {
	TraceID   string // correlation with the HTTP/MCP request
	RequestID string
	Op        string // "Exec" or "Query"
	Query     string
	Duration  time.Duration
	Err       error
}

// Recorder receives one Entry per traced statement. It runs on the query
// path and must not block.
type Recorder func(e Entry)

var (
	recorder   Recorder
	recorderMu sync.RWMutex
)

// SetRecorder installs the process-wide recorder. nil disables recording;
// logging is unaffected.
func SetRecorder(r Recorder) {
	recorderMu.Lock()
	recorder = r
	recorderMu.Unlock()
}

func getRecorder() Recorder {
	recorderMu.RLock()
	defer recorderMu.RUnlock()
	return recorder
}

func init() {
	sql.Register(DriverName, &TracingDriver{
		Driver: &sqlite.Driver{},
	})
}
