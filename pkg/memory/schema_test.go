package memory

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openRaw(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestInitSchema_IsIdempotentAcrossRestarts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	engine, err := NewEngine(Config{Path: path})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := engine.Store(ctx, 1, "survives restart", CategoryAnnotation, nil, nil); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewEngine(Config{Path: path})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer reopened.Close()
	if !reopened.Ready() {
		t.Fatalf("engine not ready after reopen")
	}

	memories, err := reopened.Retrieve(ctx, 1, "", 10)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(memories) != 1 || memories[0].Content != "survives restart" {
		t.Fatalf("row count changed across restarts: %#v", memories)
	}
}

func TestInitSchema_FallsBackWhenPrimarySchemaFails(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	// A perf_samples table with a foreign shape makes the primary schema
	// fail at index creation; the engine must come up on the minimal
	// fallback with durable telemetry off.
	raw := openRaw(t, path)
	mustExec(t, raw, `CREATE TABLE perf_samples (x INTEGER)`)
	if err := raw.Close(); err != nil {
		t.Fatalf("close raw: %v", err)
	}

	engine, err := NewEngine(Config{Path: path})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()
	if !engine.Ready() {
		t.Fatalf("fallback schema must leave the engine ready")
	}

	id, err := engine.Store(ctx, 1, "written on the fallback schema", CategoryAnnotation, nil, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	m, err := engine.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get by id: %v", err)
	}
	if m == nil || m.Content != "written on the fallback schema" {
		t.Fatalf("fallback write not readable: %#v", m)
	}

	// In-memory telemetry still works; the durable side is explicitly off
	// rather than failing lazily at exec time.
	if samples := engine.RecentSamples(); len(samples) == 0 {
		t.Fatalf("expected in-memory samples on the fallback schema")
	}
	if _, err := engine.stmts.get(stmtInsertMetric); !errors.Is(err, ErrStatementMissing) {
		t.Fatalf("metric insert should not be prepared on the fallback schema, got %v", err)
	}
	removed, err := engine.sweepTelemetry(ctx, time.Hour)
	if err != nil || removed != 0 {
		t.Fatalf("telemetry sweep should be a no-op on the fallback schema, got %d, %v", removed, err)
	}
}

func TestMigrateLegacy_CopiesSharedColumns(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	// Legacy layout: shares a subset of the migratable columns plus one
	// unknown column that must be ignored.
	raw := openRaw(t, path)
	mustExec(t, raw, `CREATE TABLE user_memories (
		id TEXT PRIMARY KEY,
		owner_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL,
		legacy_only_flag INTEGER
	)`)
	mustExec(t, raw, `INSERT INTO user_memories (id, owner_id, content, category, created_at_ms, legacy_only_flag)
		VALUES ('legacy-1', 11, 'carried forward', 'annotation', 1700000000000, 1)`)
	if err := raw.Close(); err != nil {
		t.Fatalf("close raw: %v", err)
	}

	engine, err := NewEngine(Config{Path: path})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()

	m, err := engine.GetByID(ctx, "legacy-1")
	if err != nil {
		t.Fatalf("get migrated row: %v", err)
	}
	if m == nil {
		t.Fatalf("legacy row was not migrated")
	}
	if m.OwnerID != 11 || m.Content != "carried forward" || m.Category != "annotation" {
		t.Fatalf("migrated row mismatch: %#v", m)
	}
	if m.CreatedAt.UnixMilli() != 1700000000000 {
		t.Fatalf("created_at not preserved: %v", m.CreatedAt.UnixMilli())
	}
	// Missing updated_at_ms backfills from created_at_ms.
	if m.UpdatedAt.UnixMilli() != 1700000000000 {
		t.Fatalf("updated_at not backfilled: %v", m.UpdatedAt.UnixMilli())
	}

	// The legacy table is kept, never dropped.
	var name string
	if err := engine.db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'user_memories'`).Scan(&name); err != nil {
		t.Fatalf("legacy table missing after migration: %v", err)
	}
}

func TestMigrateLegacy_DoesNotOverwriteExistingRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	engine, err := NewEngine(Config{Path: path})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	id, err := engine.Store(ctx, 1, "current content", CategoryAnnotation, nil, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	raw := openRaw(t, path)
	mustExec(t, raw, `CREATE TABLE user_memories (
		id TEXT PRIMARY KEY,
		owner_id INTEGER NOT NULL,
		content TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	)`)
	mustExec(t, raw, `INSERT INTO user_memories (id, owner_id, content, created_at_ms, updated_at_ms)
		VALUES (?, 1, 'stale legacy content', 1600000000000, 1600000000000)`, id)
	mustExec(t, raw, `INSERT INTO user_memories (id, owner_id, content, created_at_ms, updated_at_ms)
		VALUES ('legacy-new', 1, 'fresh legacy content', 1600000000000, 1600000000000)`)
	if err := raw.Close(); err != nil {
		t.Fatalf("close raw: %v", err)
	}

	reopened, err := NewEngine(Config{Path: path})
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer reopened.Close()

	existing, err := reopened.GetByID(ctx, id)
	if err != nil {
		t.Fatalf("get existing: %v", err)
	}
	if existing == nil || existing.Content != "current content" {
		t.Fatalf("migration overwrote an existing row: %#v", existing)
	}
	migrated, err := reopened.GetByID(ctx, "legacy-new")
	if err != nil {
		t.Fatalf("get migrated: %v", err)
	}
	if migrated == nil || migrated.Content != "fresh legacy content" {
		t.Fatalf("new legacy row not migrated: %#v", migrated)
	}
}

func TestMigrateLegacy_SkipsWhenRequiredColumnsMissing(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memory.db")

	// No owner_id: the migration must skip rather than guess.
	raw := openRaw(t, path)
	mustExec(t, raw, `CREATE TABLE user_memories (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL
	)`)
	mustExec(t, raw, `INSERT INTO user_memories (id, content, created_at_ms) VALUES ('orphan', 'no owner', 1700000000000)`)
	if err := raw.Close(); err != nil {
		t.Fatalf("close raw: %v", err)
	}

	engine, err := NewEngine(Config{Path: path})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	defer engine.Close()
	if !engine.Ready() {
		t.Fatalf("skipped migration must not block readiness")
	}

	m, err := engine.GetByID(ctx, "orphan")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m != nil {
		t.Fatalf("row without required columns was migrated: %#v", m)
	}
}

func TestPrepareStatements_CoversEveryNamedOperation(t *testing.T) {
	engine := newTestEngine(t)

	for _, name := range []string{
		stmtInsert, stmtByOwner, stmtByOwnerCategory, stmtSearch,
		stmtStatsByCategory, stmtByID, stmtDateRange, stmtPruneOld,
		stmtInsertMetric,
	} {
		if _, err := engine.stmts.get(name); err != nil {
			t.Fatalf("statement %q not prepared: %v", name, err)
		}
	}
}

func TestStatementCache_MissingHandleFailsLoudly(t *testing.T) {
	engine := newTestEngine(t)

	_, err := engine.stmts.get("no_such_statement")
	if err == nil {
		t.Fatalf("expected error for unknown statement name")
	}
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
