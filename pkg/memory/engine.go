package memory

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	_ "modernc.org/sqlite"
)

// Config configures the memory engine.
type Config struct {
	// Path is the SQLite database file location.
	Path string

	// WriteRetries bounds attempts for a single Store call under
	// busy/locked contention.
	WriteRetries int

	// RetryBackoff is the base backoff; attempt N sleeps N * RetryBackoff.
	RetryBackoff time.Duration

	// BusyTimeout is how long a single statement waits on a held lock
	// before reporting SQLITE_BUSY to the retry loop.
	BusyTimeout time.Duration

	// TelemetryRingSize bounds the in-memory sample history.
	TelemetryRingSize int

	// TelemetryQueueDepth bounds the fire-and-forget persistence queue.
	// A full queue drops samples rather than blocking callers.
	TelemetryQueueDepth int

	// SlowOpThreshold flags operations in logs; it never changes behavior.
	SlowOpThreshold time.Duration
}

func (c *Config) applyDefaults() {
	if c.WriteRetries <= 0 {
		c.WriteRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 100 * time.Millisecond
	}
	if c.BusyTimeout <= 0 {
		c.BusyTimeout = 5 * time.Second
	}
	if c.TelemetryRingSize <= 0 {
		c.TelemetryRingSize = 500
	}
	if c.TelemetryQueueDepth <= 0 {
		c.TelemetryQueueDepth = 256
	}
	if c.SlowOpThreshold <= 0 {
		c.SlowOpThreshold = 250 * time.Millisecond
	}
}

// Engine is the embedded memory store and analytics engine. One instance
// per process, constructed explicitly and shared by reference; it owns the
// single underlying SQLite connection, the prepared-statement cache, and
// the telemetry ring.
type Engine struct {
	cfg   Config
	db    *sql.DB
	stmts *stmtCache
	perf  *tracker
	ready bool

	// durableTelemetry is false when only the minimal fallback schema came
	// up: perf samples then stay in memory and are never written to disk.
	durableTelemetry bool

	closeOnce sync.Once
	closeErr  error
}

// NewEngine opens (or creates) the store at cfg.Path and runs schema
// initialization and legacy migration. Schema failures degrade: first to a
// minimal single-table layout, then to a not-ready engine whose calls all
// fail fast with ErrNotInitialized. Only an unopenable database file is a
// constructor error.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("memory database path is required")
	}
	cfg.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single-process engine. One shared connection avoids writer lock
	// contention between concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	e := &Engine{cfg: cfg, db: db}

	full, err := e.initSchema()
	if err != nil {
		log.Error("memory schema initialization failed, engine is not ready", "err", err)
		e.perf = newTracker(e, cfg.TelemetryRingSize, cfg.TelemetryQueueDepth, cfg.SlowOpThreshold)
		return e, nil
	}
	e.ready = true
	e.durableTelemetry = full

	e.stmts, err = prepareStatements(db, full)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	e.perf = newTracker(e, cfg.TelemetryRingSize, cfg.TelemetryQueueDepth, cfg.SlowOpThreshold)
	return e, nil
}

// Ready reports whether schema initialization succeeded. A not-ready
// engine rejects every operation with ErrNotInitialized.
func (e *Engine) Ready() bool {
	return e != nil && e.ready
}

func (e *Engine) checkReady() error {
	if !e.Ready() {
		return ErrNotInitialized
	}
	return nil
}

// Close drains the telemetry queue, releases prepared statements and
// closes the database. Idempotent.
func (e *Engine) Close() error {
	if e == nil {
		return nil
	}
	e.closeOnce.Do(func() {
		if e.perf != nil {
			e.perf.stop()
		}
		if e.stmts != nil {
			e.stmts.close()
		}
		if e.db != nil {
			e.closeErr = e.db.Close()
		}
	})
	return e.closeErr
}

func nowMS() int64 { return time.Now().UnixMilli() }
