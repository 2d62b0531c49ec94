package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/domain"
	"github.com/fordez/fordez-whatsapp-multiagent-ai-crm-mcp/internal/logging"
)

const timeLayout = time.RFC3339Nano

// Transcript is the append-only turn log and usage counters of one session.
type Transcript struct {
	db  *DB
	key string
}

// OpenTranscript opens the transcript database for key at path, creating it
// if needed.
func OpenTranscript(path, key string, log *logging.Logger) (*Transcript, error) {
	db, err := Open(path, log)
	if err != nil {
		return nil, err
	}
	t := &Transcript{db: db, key: key}
	if _, err := db.sql.Exec(
		`INSERT INTO session_meta (id, key_str) VALUES (1, ?) ON CONFLICT(id) DO NOTHING`, key,
	); err != nil {
		db.Close()
		return nil, fmt.Errorf("recording session key: %w", err)
	}
	return t, nil
}

// Key returns the session key the transcript belongs to.
func (t *Transcript) Key() string { return t.key }

// Path returns the backing database file.
func (t *Transcript) Path() string { return t.db.Path() }

// Close releases the database handle.
func (t *Transcript) Close() error { return t.db.Close() }

// Append adds turns atomically, in order.
func (t *Transcript) Append(ctx context.Context, turns ...domain.Turn) error {
	if len(turns) == 0 {
		return nil
	}
	tx, err := t.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO turns (role, content, tool_calls, tool_call_id, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare append: %w", err)
	}
	defer stmt.Close()

	for _, turn := range turns {
		var toolCalls sql.NullString
		if len(turn.ToolCalls) > 0 {
			data, err := json.Marshal(turn.ToolCalls)
			if err != nil {
				return fmt.Errorf("encoding tool calls: %w", err)
			}
			toolCalls = sql.NullString{String: string(data), Valid: true}
		}
		ts := turn.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, turn.Role, turn.Content, toolCalls, turn.ToolCallID, ts.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("appending %s turn: %w", turn.Role, err)
		}
	}
	return tx.Commit()
}

// History returns up to limit most recent turns in chronological order.
// A limit of zero or less returns every turn.
func (t *Transcript) History(ctx context.Context, limit int) ([]domain.Turn, error) {
	query := `SELECT role, content, tool_calls, tool_call_id, created_at FROM turns ORDER BY id`
	args := []any{}
	if limit > 0 {
		query = `SELECT role, content, tool_calls, tool_call_id, created_at FROM (
			SELECT id, role, content, tool_calls, tool_call_id, created_at FROM turns ORDER BY id DESC LIMIT ?
		) ORDER BY id`
		args = append(args, limit)
	}

	rows, err := t.db.sql.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		var toolCalls sql.NullString
		var ts string
		if err := rows.Scan(&turn.Role, &turn.Content, &toolCalls, &turn.ToolCallID, &ts); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turn.Timestamp, _ = time.Parse(timeLayout, ts)
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &turn.ToolCalls); err != nil {
				return nil, fmt.Errorf("decoding tool calls: %w", err)
			}
		}
		turns = append(turns, turn)
	}
	return turns, rows.Err()
}

// Len returns the number of stored turns.
func (t *Transcript) Len(ctx context.Context) (int, error) {
	var n int
	if err := t.db.sql.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting turns: %w", err)
	}
	return n, nil
}

// AddUsage adds u to the session's usage counters.
func (t *Transcript) AddUsage(ctx context.Context, u domain.Usage) error {
	_, err := t.db.sql.ExecContext(ctx,
		`UPDATE usage SET
			requests = requests + ?,
			input_tokens = input_tokens + ?,
			output_tokens = output_tokens + ?,
			total_tokens = total_tokens + ?,
			updated_at = ?
		 WHERE id = 1`,
		u.Requests, u.InputTokens, u.OutputTokens, u.TotalTokens, time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("recording usage: %w", err)
	}
	return nil
}

// Usage returns the accumulated usage counters.
func (t *Transcript) Usage(ctx context.Context) (domain.Usage, error) {
	var u domain.Usage
	err := t.db.sql.QueryRowContext(ctx,
		`SELECT requests, input_tokens, output_tokens, total_tokens FROM usage WHERE id = 1`,
	).Scan(&u.Requests, &u.InputTokens, &u.OutputTokens, &u.TotalTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Usage{}, nil
	}
	if err != nil {
		return domain.Usage{}, fmt.Errorf("reading usage: %w", err)
	}
	return u, nil
}

// CreatedAt returns when the transcript was first opened.
func (t *Transcript) CreatedAt(ctx context.Context) (time.Time, error) {
	var ts string
	if err := t.db.sql.QueryRowContext(ctx, `SELECT created_at FROM session_meta WHERE id = 1`).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("reading session meta: %w", err)
	}
	created, _ := time.Parse(time.DateTime, ts)
	return created, nil
}
