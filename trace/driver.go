package trace

import (
	"context"
	"database/sql/driver"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/omnifetch/kit"
)

// pragmaQuiet is how long a connection-setup PRAGMA may take before it is
// worth a trace entry.
const pragmaQuiet = 10 * time.Millisecond

// TracingDriver wraps a sqlite driver so every statement run through its
// connections is timed and reported.
type TracingDriver struct {
	driver.Driver
}

// Open opens a connection on the wrapped driver.
func (d *TracingDriver) Open(name string) (driver.Conn, error) {
	c, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	return &conn{Conn: c}, nil
}

// conn traces direct Exec/Query calls, which is the path database/sql takes
// for statements with no explicit Prepare, and hands prepared statements to
// stmt.
type conn struct {
	driver.Conn
}

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	ex, ok := c.Conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	var res driver.Result
	err := observe(ctx, "Exec", query, func() (err error) {
		res, err = ex.ExecContext(ctx, query, args)
		return err
	})
	return res, err
}

func (c *conn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	q, ok := c.Conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	var rows driver.Rows
	err := observe(ctx, "Query", query, func() (err error) {
		rows, err = q.QueryContext(ctx, query, args)
		return err
	})
	return rows, err
}

func (c *conn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	var (
		s   driver.Stmt
		err error
	)
	if pc, ok := c.Conn.(driver.ConnPrepareContext); ok {
		s, err = pc.PrepareContext(ctx, query)
	} else {
		s, err = c.Conn.Prepare(query)
	}
	if err != nil {
		return nil, err
	}
	return &stmt{Stmt: s, query: query}, nil
}

func (c *conn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if bt, ok := c.Conn.(driver.ConnBeginTx); ok {
		return bt.BeginTx(ctx, opts)
	}
	return c.Conn.Begin()
}

type stmt struct {
	driver.Stmt
	query string
}

func (s *stmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	var res driver.Result
	err := observe(ctx, "Exec", s.query, func() (err error) {
		if ec, ok := s.Stmt.(driver.StmtExecContext); ok {
			res, err = ec.ExecContext(ctx, args)
		} else {
			res, err = s.Stmt.Exec(values(args))
		}
		return err
	})
	return res, err
}

func (s *stmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	var rows driver.Rows
	err := observe(ctx, "Query", s.query, func() (err error) {
		if qc, ok := s.Stmt.(driver.StmtQueryContext); ok {
			rows, err = qc.QueryContext(ctx, args)
		} else {
			rows, err = s.Stmt.Query(values(args))
		}
		return err
	})
	return rows, err
}

// observe times run and reports it, unless the driver asked database/sql to
// fall back to another path.
func observe(ctx context.Context, op, query string, run func() error) error {
	start := time.Now()
	err := run()
	if errors.Is(err, driver.ErrSkip) {
		return err
	}
	report(ctx, Entry{
		TraceID:   kit.GetTraceID(ctx),
		RequestID: kit.GetRequestID(ctx),
		Op:        op,
		Query:     compact(query),
		Duration:  time.Since(start),
		Err:       err,
	})
	return err
}

func report(ctx context.Context, e Entry) {
	if e.Err == nil && e.Duration < pragmaQuiet && strings.HasPrefix(e.Query, "PRAGMA ") {
		return
	}

	level := slog.LevelDebug
	switch {
	case e.Err != nil:
		level = slog.LevelError
	case e.Duration > SlowQuery:
		level = slog.LevelWarn
	}
	if slog.Default().Enabled(ctx, level) {
		attrs := []slog.Attr{
			slog.String("component", "sql"),
			slog.String("op", e.Op),
			slog.String("query", e.Query),
			slog.Duration("duration", e.Duration),
		}
		if e.TraceID != "" {
			attrs = append(attrs, slog.String("trace_id", e.TraceID))
		}
		if e.RequestID != "" {
			attrs = append(attrs, slog.String("request_id", e.RequestID))
		}
		if e.Err != nil {
			attrs = append(attrs, slog.String("error", e.Err.Error()))
		}
		slog.LogAttrs(ctx, level, "trace: sql", attrs...)
	}

	if r := getRecorder(); r != nil {
		r(e)
	}
}

// compact folds a multi-line statement onto one line.
func compact(q string) string {
	return strings.Join(strings.Fields(q), " ")
}

func values(named []driver.NamedValue) []driver.Value {
	out := make([]driver.Value, len(named))
	for i, nv := range named {
		out[i] = nv.Value
	}
	return out
}
