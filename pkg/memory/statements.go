package memory

import (
	"database/sql"
	"fmt"
)

// Statement names. Every runtime read/write goes through one of these
// handles; a missing handle signals an initialization-order bug.
const (
	stmtInsert          = "insert"
	stmtByOwner         = "get_by_owner"
	stmtByOwnerCategory = "get_by_owner_and_category"
	stmtSearch          = "substring_search"
	stmtStatsByCategory = "stats_by_category"
	stmtByID            = "get_by_id"
	stmtDateRange       = "date_range"
	stmtPruneOld        = "prune_old"
	stmtInsertMetric    = "insert_metric"
)

const memoryColumns = `id, owner_id, content, category, metadata_json, embedding, created_at_ms, updated_at_ms`

var statementSQL = map[string]string{
	stmtInsert: `INSERT INTO memories (` + memoryColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	stmtByOwner: `SELECT ` + memoryColumns + ` FROM memories
		WHERE owner_id = ? ORDER BY created_at_ms DESC LIMIT ?`,
	stmtByOwnerCategory: `SELECT ` + memoryColumns + ` FROM memories
		WHERE owner_id = ? AND category = ? ORDER BY created_at_ms DESC LIMIT ?`,
	stmtSearch: `SELECT ` + memoryColumns + ` FROM memories
		WHERE owner_id = ? AND content LIKE ? ESCAPE '\' ORDER BY created_at_ms DESC LIMIT ?`,
	stmtStatsByCategory: `SELECT category, COUNT(*) FROM memories
		WHERE owner_id = ? GROUP BY category`,
	stmtByID: `SELECT ` + memoryColumns + ` FROM memories WHERE id = ?`,
	stmtDateRange: `SELECT COUNT(*), COALESCE(MIN(created_at_ms), 0), COALESCE(MAX(created_at_ms), 0)
		FROM memories WHERE owner_id = ?`,
	stmtPruneOld: `DELETE FROM memories WHERE owner_id = ? AND created_at_ms < ?`,
	stmtInsertMetric: `INSERT INTO perf_samples (operation, duration_ms, rows_affected, created_at_ms)
		VALUES (?, ?, ?, ?)`,
}

// stmtCache holds the fixed set of prepared operations, created once after
// schema initialization. It is write-once; no mutation after construction.
type stmtCache struct {
	stmts map[string]*sql.Stmt
}

// prepareStatements builds the cache. With durableTelemetry false the
// fallback schema is in effect: perf_samples may be missing or have a
// foreign shape, so the metric insert is not prepared at all and samples
// stay in memory.
func prepareStatements(db *sql.DB, durableTelemetry bool) (*stmtCache, error) {
	c := &stmtCache{stmts: make(map[string]*sql.Stmt, len(statementSQL))}
	for name, query := range statementSQL {
		if name == stmtInsertMetric && !durableTelemetry {
			continue
		}
		stmt, err := db.Prepare(query)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("prepare %s: %w", name, err)
		}
		c.stmts[name] = stmt
	}
	return c, nil
}

func (c *stmtCache) get(name string) (*sql.Stmt, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrStatementMissing, name)
	}
	stmt, ok := c.stmts[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrStatementMissing, name)
	}
	return stmt, nil
}

func (c *stmtCache) close() {
	for _, stmt := range c.stmts {
		_ = stmt.Close()
	}
}
