package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
)

// GetMemoryStats reports per-category counts, the stored date range and the
// current performance summary for one owner. An owner with no memories gets
// zeroed stats, not an error.
func (e *Engine) GetMemoryStats(ctx context.Context, ownerID int64) (MemoryStats, error) {
	if err := e.checkReady(); err != nil {
		return MemoryStats{}, err
	}

	stats := MemoryStats{CategoryCounts: map[string]int{}}
	err := e.perf.track("stats", func() (int64, error) {
		byCat, err := e.stmts.get(stmtStatsByCategory)
		if err != nil {
			return 0, err
		}
		rows, err := byCat.QueryContext(ctx, ownerID)
		if err != nil {
			return 0, fmt.Errorf("category stats: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var category string
			var count int
			if err := rows.Scan(&category, &count); err != nil {
				return 0, fmt.Errorf("scan category stat: %w", err)
			}
			stats.CategoryCounts[category] = count
		}
		if err := rows.Err(); err != nil {
			return 0, fmt.Errorf("iterate category stats: %w", err)
		}

		dateRange, err := e.stmts.get(stmtDateRange)
		if err != nil {
			return 0, err
		}
		var total int
		var oldestMS, newestMS int64
		if err := dateRange.QueryRowContext(ctx, ownerID).Scan(&total, &oldestMS, &newestMS); err != nil {
			return 0, fmt.Errorf("date range: %w", err)
		}
		stats.TotalMemories = total
		if total > 0 {
			stats.OldestMemory = time.UnixMilli(oldestMS)
			stats.NewestMemory = time.UnixMilli(newestMS)
		}
		return int64(total), nil
	})
	if err != nil {
		return MemoryStats{}, err
	}

	stats.Performance = e.PerformanceSummary()
	return stats, nil
}

// PruneOlderThan irreversibly deletes the owner's memories older than the
// cutoff and returns the number of rows removed.
func (e *Engine) PruneOlderThan(ctx context.Context, ownerID int64, days int) (int, error) {
	if err := e.checkReady(); err != nil {
		return 0, err
	}
	cutoff := time.Now().AddDate(0, 0, -days).UnixMilli()

	var removed int64
	err := e.perf.track("prune", func() (int64, error) {
		stmt, err := e.stmts.get(stmtPruneOld)
		if err != nil {
			return 0, err
		}
		res, err := stmt.ExecContext(ctx, ownerID, cutoff)
		if err != nil {
			return 0, fmt.Errorf("prune memories: %w", err)
		}
		removed, _ = res.RowsAffected()
		return removed, nil
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Info("pruned memories", "owner", ownerID, "days", days, "removed", removed)
	}
	return int(removed), nil
}

// Compact runs storage-level reclaim and statistics refresh. Safe to invoke
// concurrently with reads; intended for an operator-controlled schedule,
// not per-request.
func (e *Engine) Compact(ctx context.Context) error {
	if err := e.checkReady(); err != nil {
		return err
	}
	return e.perf.track("compact", func() (int64, error) {
		for _, stmt := range []string{
			`PRAGMA wal_checkpoint(TRUNCATE);`,
			`VACUUM;`,
			`ANALYZE;`,
		} {
			if _, err := e.db.ExecContext(ctx, stmt); err != nil {
				log.Warn("compaction step failed", "stmt", trimSQL(stmt), "err", err)
				return 0, fmt.Errorf("compact: %w", err)
			}
		}
		return 0, nil
	})
}

// sweepRetention deletes memories older than the retention window across
// all owners. Only the janitor calls this, on an operator-set schedule.
func (e *Engine) sweepRetention(ctx context.Context, days int) (int64, error) {
	if err := e.checkReady(); err != nil {
		return 0, err
	}
	cutoff := time.Now().AddDate(0, 0, -days).UnixMilli()
	res, err := e.db.ExecContext(ctx, `DELETE FROM memories WHERE created_at_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// sweepTelemetry removes durable telemetry rows older than the cutoff. The
// durable copy is best-effort, so losing old samples is accepted loss.
func (e *Engine) sweepTelemetry(ctx context.Context, olderThan time.Duration) (int64, error) {
	if err := e.checkReady(); err != nil {
		return 0, err
	}
	if !e.durableTelemetry {
		return 0, nil
	}
	cutoff := time.Now().Add(-olderThan).UnixMilli()
	res, err := e.db.ExecContext(ctx, `DELETE FROM perf_samples WHERE created_at_ms < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep telemetry: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
