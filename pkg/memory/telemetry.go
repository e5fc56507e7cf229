package memory

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// tracker wraps store operations with wall-clock measurement. It owns the
// bounded in-memory sample ring and a fire-and-forget queue that persists
// samples to the perf_samples table. Telemetry never alters an operation's
// result or failure behavior; the durable copy is best-effort and may lag
// or drop samples without affecting correctness.
type tracker struct {
	engine *Engine
	slow   time.Duration

	mu   sync.Mutex
	ring []PerformanceSample
	size int

	queue  chan PerformanceSample
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newTracker(e *Engine, ringSize, queueDepth int, slow time.Duration) *tracker {
	t := &tracker{
		engine: e,
		slow:   slow,
		ring:   make([]PerformanceSample, 0, ringSize),
		size:   ringSize,
		queue:  make(chan PerformanceSample, queueDepth),
		stopCh: make(chan struct{}),
	}
	t.wg.Add(1)
	go t.runPersister()
	return t
}

// track measures fn, records a sample whether fn succeeds or fails, and
// returns fn's error unchanged.
func (t *tracker) track(operation string, fn func() (rowsAffected int64, err error)) error {
	start := time.Now()
	rows, err := fn()
	elapsed := time.Since(start)

	sample := PerformanceSample{
		Operation:    operation,
		DurationMS:   float64(elapsed.Microseconds()) / 1000.0,
		RowsAffected: rows,
		Timestamp:    start,
	}
	t.record(sample)

	if elapsed >= t.slow {
		log.Warn("slow memory operation", "operation", operation, "duration", elapsed, "rows", rows)
	}
	return err
}

func (t *tracker) record(sample PerformanceSample) {
	t.mu.Lock()
	if len(t.ring) == t.size {
		copy(t.ring, t.ring[1:])
		t.ring = t.ring[:t.size-1]
	}
	t.ring = append(t.ring, sample)
	t.mu.Unlock()

	// Non-blocking handoff: a full queue drops the sample. Backpressure on
	// the data path is never acceptable for telemetry.
	select {
	case t.queue <- sample:
	default:
	}
}

func (t *tracker) runPersister() {
	defer t.wg.Done()
	for {
		select {
		case sample := <-t.queue:
			t.persist(sample)
		case <-t.stopCh:
			for {
				select {
				case sample := <-t.queue:
					t.persist(sample)
				default:
					return
				}
			}
		}
	}
}

func (t *tracker) persist(sample PerformanceSample) {
	if !t.engine.Ready() || t.engine.stmts == nil {
		return
	}
	stmt, err := t.engine.stmts.get(stmtInsertMetric)
	if err != nil {
		return
	}
	if _, err := stmt.Exec(sample.Operation, sample.DurationMS, sample.RowsAffected, sample.Timestamp.UnixMilli()); err != nil {
		log.Debug("dropping telemetry sample", "operation", sample.Operation, "err", err)
	}
}

func (t *tracker) stop() {
	close(t.stopCh)
	t.wg.Wait()
}

// RecentSamples returns a copy of the in-memory sample history, oldest
// first.
func (e *Engine) RecentSamples() []PerformanceSample {
	e.perf.mu.Lock()
	defer e.perf.mu.Unlock()
	out := make([]PerformanceSample, len(e.perf.ring))
	copy(out, e.perf.ring)
	return out
}

// PerformanceSummary derives aggregate query statistics purely from the
// in-memory history.
func (e *Engine) PerformanceSummary() PerformanceSummary {
	e.perf.mu.Lock()
	defer e.perf.mu.Unlock()

	summary := PerformanceSummary{PerOperation: map[string]OperationStats{}}
	if len(e.perf.ring) == 0 {
		return summary
	}

	var total float64
	totals := map[string]float64{}
	for i := range e.perf.ring {
		s := e.perf.ring[i]
		total += s.DurationMS

		if summary.Slowest == nil || s.DurationMS > summary.Slowest.DurationMS {
			slowest := s
			summary.Slowest = &slowest
		}
		if summary.Fastest == nil || s.DurationMS < summary.Fastest.DurationMS {
			fastest := s
			summary.Fastest = &fastest
		}

		stats := summary.PerOperation[s.Operation]
		stats.Count++
		if s.DurationMS > stats.MaxDurationMS {
			stats.MaxDurationMS = s.DurationMS
		}
		totals[s.Operation] += s.DurationMS
		summary.PerOperation[s.Operation] = stats
	}
	for op, stats := range summary.PerOperation {
		stats.AverageMS = totals[op] / float64(stats.Count)
		summary.PerOperation[op] = stats
	}

	summary.TotalQueries = len(e.perf.ring)
	summary.AverageDurationMS = total / float64(len(e.perf.ring))
	return summary
}
