package memory

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
)

// legacyTable is the pre-migration layout. Rows are copied forward once,
// insert-if-absent by primary key; the table itself is never dropped.
const legacyTable = "user_memories"

// migratableColumns declares the legacy columns the migration is willing to
// copy. The actual copy list is this set intersected with the columns the
// legacy table really has, so a partially-upgraded layout cannot break
// startup.
var migratableColumns = []string{
	"id", "owner_id", "content", "category",
	"metadata_json", "embedding", "created_at_ms", "updated_at_ms",
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		owner_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		metadata_json TEXT NOT NULL DEFAULT '{}',
		embedding BLOB,
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS memories_owner_category_idx ON memories(owner_id, category, created_at_ms DESC);`,
	`CREATE INDEX IF NOT EXISTS memories_owner_recency_idx ON memories(owner_id, created_at_ms DESC);`,
	`CREATE TABLE IF NOT EXISTS perf_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		operation TEXT NOT NULL,
		duration_ms REAL NOT NULL,
		rows_affected INTEGER NOT NULL DEFAULT 0,
		created_at_ms INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS perf_samples_op_idx ON perf_samples(operation, created_at_ms DESC);`,
}

// fallbackStatements is the minimal layout attempted when the primary
// schema cannot be created: the memories table alone, no indexes, no
// telemetry persistence.
var fallbackStatements = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		owner_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		metadata_json TEXT NOT NULL DEFAULT '{}',
		embedding BLOB,
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);`,
}

func (e *Engine) pragmaStatements() []string {
	return []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
		fmt.Sprintf(`PRAGMA busy_timeout=%d;`, e.cfg.BusyTimeout.Milliseconds()),
	}
}

// initSchema guarantees the on-disk structures exist before any other
// component runs. Idempotent: every statement is IF NOT EXISTS. The
// returned bool reports whether the full schema came up; false means only
// the minimal fallback exists and durable telemetry must stay off.
// Migration failures are logged and swallowed so the engine still comes
// up with an empty new table.
func (e *Engine) initSchema() (bool, error) {
	primary := append(e.pragmaStatements(), schemaStatements...)
	if err := e.execStatements(primary); err != nil {
		log.Warn("primary schema creation failed, attempting minimal fallback", "err", err)
		if fbErr := e.execStatements(fallbackStatements); fbErr != nil {
			return false, fmt.Errorf("fallback schema: %w", fbErr)
		}
		return false, nil
	}

	if err := e.migrateLegacy(); err != nil {
		log.Warn("legacy memory migration failed, continuing with empty table", "err", err)
	}
	return true, nil
}

func (e *Engine) execStatements(stmts []string) error {
	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement %q: %w", trimSQL(stmt), err)
		}
	}
	return nil
}

// migrateLegacy copies rows from the legacy table into memories, skipping
// ids that already exist. Only columns present in both the declared
// migratable list and the live legacy layout are copied; a missing
// updated_at_ms backfills from created_at_ms.
func (e *Engine) migrateLegacy() error {
	var name string
	row := e.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, legacyTable)
	if err := row.Scan(&name); err != nil {
		// No legacy table, nothing to migrate.
		return nil
	}

	present, err := e.tableColumns(legacyTable)
	if err != nil {
		return fmt.Errorf("inspect legacy table: %w", err)
	}

	cols := make([]string, 0, len(migratableColumns))
	for _, c := range migratableColumns {
		if _, ok := present[c]; ok {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		log.Warn("legacy table shares no migratable columns, skipping", "table", legacyTable)
		return nil
	}
	required := map[string]bool{"id": false, "owner_id": false, "content": false, "created_at_ms": false}
	for _, c := range cols {
		if _, ok := required[c]; ok {
			required[c] = true
		}
	}
	for col, ok := range required {
		if !ok {
			log.Warn("legacy table missing required column, skipping migration", "table", legacyTable, "column", col)
			return nil
		}
	}

	selects := append([]string(nil), cols...)
	if _, ok := present["updated_at_ms"]; !ok {
		cols = append(cols, "updated_at_ms")
		selects = append(selects, "created_at_ms")
	}

	colList := strings.Join(cols, ", ")
	res, err := e.db.Exec(fmt.Sprintf(
		`INSERT OR IGNORE INTO memories (%s) SELECT %s FROM %s`,
		colList, strings.Join(selects, ", "), legacyTable))
	if err != nil {
		return fmt.Errorf("copy legacy rows: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Info("migrated legacy memories", "rows", n, "columns", colList)
	}
	return nil
}

func (e *Engine) tableColumns(table string) (map[string]struct{}, error) {
	rows, err := e.db.Query(fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal any
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			return nil, err
		}
		out[name] = struct{}{}
	}
	return out, rows.Err()
}

func trimSQL(sql string) string {
	line := strings.TrimSpace(sql)
	if len(line) > 96 {
		return line[:96] + "..."
	}
	return line
}
