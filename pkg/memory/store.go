package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists one memory and returns its generated id. The id is built
// from (owner, timestamp, random suffix) without a store round-trip, so it
// is available even when the insert itself fails. Transient busy/locked
// failures are retried with linear backoff; everything else, including a
// zero-rows-affected insert, propagates on the first attempt.
func (e *Engine) Store(ctx context.Context, ownerID int64, content, category string, metadata map[string]string, embedding []byte) (string, error) {
	if err := e.checkReady(); err != nil {
		return "", err
	}

	id := newMemoryID(ownerID)
	now := nowMS()
	meta := encodeMap(metadata)

	err := e.perf.track("store", func() (int64, error) {
		stmt, err := e.stmts.get(stmtInsert)
		if err != nil {
			return 0, err
		}

		var lastErr error
		for attempt := 1; attempt <= e.cfg.WriteRetries; attempt++ {
			if attempt > 1 {
				if err := sleepBackoff(ctx, time.Duration(attempt-1)*e.cfg.RetryBackoff); err != nil {
					return 0, err
				}
			}
			res, execErr := stmt.ExecContext(ctx, id, ownerID, content, category, meta, embedding, now, now)
			if execErr != nil {
				if !isBusy(execErr) {
					return 0, fmt.Errorf("insert memory: %w", execErr)
				}
				lastErr = execErr
				continue
			}
			n, _ := res.RowsAffected()
			if n == 0 {
				return 0, ErrNoRowsWritten
			}
			return n, nil
		}
		return 0, fmt.Errorf("insert memory after %d attempts: %w", e.cfg.WriteRetries, lastErr)
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Retrieve lists one owner's memories newest-first, optionally filtered to
// an exact category. An empty category means all categories. Absence of
// results is an empty slice, never an error.
func (e *Engine) Retrieve(ctx context.Context, ownerID int64, category string, limit int) ([]Memory, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	var out []Memory
	err := e.perf.track("retrieve", func() (int64, error) {
		var (
			rows *sql.Rows
			err  error
		)
		if category == "" {
			stmt, sErr := e.stmts.get(stmtByOwner)
			if sErr != nil {
				return 0, sErr
			}
			rows, err = stmt.QueryContext(ctx, ownerID, limit)
		} else {
			stmt, sErr := e.stmts.get(stmtByOwnerCategory)
			if sErr != nil {
				return 0, sErr
			}
			rows, err = stmt.QueryContext(ctx, ownerID, category, limit)
		}
		if err != nil {
			return 0, fmt.Errorf("retrieve memories: %w", err)
		}
		defer rows.Close()

		out, err = scanMemories(rows)
		return int64(len(out)), err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Search lists one owner's memories whose content contains substring,
// case-insensitively, newest-first. An empty substring is no filter and
// delegates to Retrieve.
func (e *Engine) Search(ctx context.Context, ownerID int64, substring string, limit int) ([]Memory, error) {
	if substring == "" {
		return e.Retrieve(ctx, ownerID, "", limit)
	}
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	var out []Memory
	err := e.perf.track("search", func() (int64, error) {
		stmt, err := e.stmts.get(stmtSearch)
		if err != nil {
			return 0, err
		}
		rows, err := stmt.QueryContext(ctx, ownerID, likePattern(substring), limit)
		if err != nil {
			return 0, fmt.Errorf("search memories: %w", err)
		}
		defer rows.Close()

		out, err = scanMemories(rows)
		return int64(len(out)), err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetByID fetches one memory by its globally unique id. A missing id is
// not an error: the result is (nil, nil).
func (e *Engine) GetByID(ctx context.Context, id string) (*Memory, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}

	var out *Memory
	err := e.perf.track("get_by_id", func() (int64, error) {
		stmt, err := e.stmts.get(stmtByID)
		if err != nil {
			return 0, err
		}
		row := stmt.QueryRowContext(ctx, id)
		m, err := scanMemory(row.Scan)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		if err != nil {
			return 0, fmt.Errorf("get memory by id: %w", err)
		}
		out = &m
		return 1, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func newMemoryID(ownerID int64) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("mem-%d-%d-%s", ownerID, time.Now().UnixMilli(), suffix)
}

func sleepBackoff(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// likePattern escapes LIKE metacharacters in substring and wraps it for a
// contains match. SQLite LIKE is case-insensitive for ASCII by default.
func likePattern(substring string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(substring) + "%"
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	out := []Memory{}
	for rows.Next() {
		m, err := scanMemory(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}
	return out, nil
}

func scanMemory(scan func(...any) error) (Memory, error) {
	var (
		m         Memory
		metaRaw   string
		createdMS int64
		updatedMS int64
	)
	if err := scan(&m.ID, &m.OwnerID, &m.Content, &m.Category, &metaRaw, &m.Embedding, &createdMS, &updatedMS); err != nil {
		return Memory{}, err
	}
	m.Metadata = decodeMap(metaRaw)
	m.CreatedAt = time.UnixMilli(createdMS)
	m.UpdatedAt = time.UnixMilli(updatedMS)
	return m, nil
}

func encodeMap(m map[string]string) string {
	if len(m) == 0 {
		return "{}"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// decodeMap tolerates malformed stored metadata: partially-written or
// legacy rows decode to nil rather than failing the read.
func decodeMap(raw string) map[string]string {
	if raw == "" || raw == "{}" {
		return nil
	}
	out := map[string]string{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
