package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/nodeflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite
// fork). One open connection keeps writes serialized, which is the single
// point of serialization the interaction lifecycle relies on.
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// --- Interactions ---

func (s *LibSQLStore) CreateInteraction(ctx context.Context, in *Interaction) error {
	if in == nil || in.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "interaction id is required")
	}
	request, err := nullableJSON(in.RequestPayload)
	if err != nil {
		return fmt.Errorf("marshal request payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO interactions (id, workflow_id, execution_id, node_id, user_id, status, interaction_type, channel_type, request_payload, timeout_seconds, timeout_at, warning_sent, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.WorkflowID, in.ExecutionID, in.NodeID, in.UserID, string(in.Status),
		in.InteractionType, in.ChannelType, request, in.TimeoutSeconds, in.TimeoutAt,
		boolInt(in.WarningSent), timeOrNow(in.CreatedAt), timeOrNow(in.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetInteraction(ctx context.Context, id string) (*Interaction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, workflow_id, execution_id, node_id, user_id, status, interaction_type, channel_type, request_payload, response_payload, resolved_by, timeout_seconds, timeout_at, warning_sent, escalated, escalated_at, created_at, updated_at, resolved_at
		 FROM interactions WHERE id = ?`, id)

	in, err := scanInteraction(row)
	if err == sql.ErrNoRows {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "interaction %q not found", id)
	}
	return in, err
}

func (s *LibSQLStore) ListInteractions(ctx context.Context, filter InteractionFilter) ([]*Interaction, error) {
	query := `SELECT id, workflow_id, execution_id, node_id, user_id, status, interaction_type, channel_type, request_payload, response_payload, resolved_by, timeout_seconds, timeout_at, warning_sent, escalated, escalated_at, created_at, updated_at, resolved_at
		 FROM interactions WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.ChannelType != "" {
		query += " AND channel_type = ?"
		args = append(args, filter.ChannelType)
	}
	if filter.ExecutionID != "" {
		query += " AND execution_id = ?"
		args = append(args, filter.ExecutionID)
	}
	if !filter.DueBefore.IsZero() {
		query += " AND timeout_at <= ?"
		args = append(args, filter.DueBefore)
	}
	if filter.WarningSent != nil {
		query += " AND warning_sent = ?"
		args = append(args, boolInt(*filter.WarningSent))
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Interaction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) TransitionInteraction(ctx context.Context, id string, to InteractionStatus, res *Resolution) (bool, error) {
	now := time.Now().UTC()
	resolvedBy := ""
	var response sql.NullString
	resolvedAt := now
	if res != nil {
		resolvedBy = res.ResolvedBy
		if !res.At.IsZero() {
			resolvedAt = res.At
		}
		encoded, err := nullableJSON(res.ResponsePayload)
		if err != nil {
			return false, fmt.Errorf("marshal response payload: %w", err)
		}
		response = encoded
	}

	// Status guard in the WHERE clause makes the transition idempotent
	// under concurrent monitor runs.
	result, err := s.db.ExecContext(ctx,
		`UPDATE interactions
		 SET status = ?, response_payload = ?, resolved_by = ?, resolved_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(to), response, resolvedBy, resolvedAt, now, id, string(StatusPending))
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Distinguish "already terminal" from "no such interaction".
		if _, err := s.GetInteraction(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *LibSQLStore) MarkWarningSent(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE interactions SET warning_sent = 1, updated_at = ?
		 WHERE id = ? AND status = ? AND warning_sent = 0`,
		time.Now().UTC(), id, string(StatusPending))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetInteraction(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

func (s *LibSQLStore) MarkEscalated(ctx context.Context, id string, newTimeoutAt time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE interactions
		 SET escalated = 1, escalated_at = ?, timeout_at = ?, warning_sent = 0, updated_at = ?
		 WHERE id = ? AND status = ? AND escalated = 0`,
		time.Now().UTC(), newTimeoutAt, time.Now().UTC(), id, string(StatusPending))
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		if _, err := s.GetInteraction(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// --- Messages ---

func (s *LibSQLStore) AppendMessages(ctx context.Context, msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, msg := range msgs {
		if msg == nil || msg.SessionID == "" {
			_ = tx.Rollback()
			return schema.NewError(schema.ErrCodeValidation, "message session id is required")
		}
		metadata, err := nullableJSON(msg.Metadata)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("marshal message metadata: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, session_id, role, content, tool_name, metadata, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, msg.SessionID, msg.Role, msg.Content, msg.ToolName, metadata, timeOrNow(msg.CreatedAt),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *LibSQLStore) ListMessages(ctx context.Context, sessionID string, limit int) ([]*Message, error) {
	query := `SELECT id, session_id, role, content, tool_name, metadata, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at ASC`
	args := []any{sessionID}
	if limit > 0 {
		// Keep the most recent messages: bound by a reverse-ordered subquery.
		query = `SELECT id, session_id, role, content, tool_name, metadata, created_at FROM (
			SELECT id, session_id, role, content, tool_name, metadata, created_at
			FROM messages WHERE session_id = ? ORDER BY created_at DESC LIMIT ?
		) ORDER BY created_at ASC`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		msg := &Message{}
		var metadata sql.NullString
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &msg.ToolName, &metadata, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Metadata = jsonOrNil(metadata)
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *LibSQLStore) StoreSecret(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return schema.NewError(schema.ErrCodeValidation, "secret key is required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO secrets (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value)
	return err
}

func (s *LibSQLStore) GetSecret(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "secret %q not found", key)
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (s *LibSQLStore) DeleteSecret(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE key = ?`, key)
	return err
}

func (s *LibSQLStore) ListSecrets(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM secrets ORDER BY key ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row rowScanner) (*Interaction, error) {
	in := &Interaction{}
	var status string
	var request, response sql.NullString
	var warningSent, escalated int
	var escalatedAt, resolvedAt sql.NullTime

	err := row.Scan(&in.ID, &in.WorkflowID, &in.ExecutionID, &in.NodeID, &in.UserID,
		&status, &in.InteractionType, &in.ChannelType, &request, &response, &in.ResolvedBy,
		&in.TimeoutSeconds, &in.TimeoutAt, &warningSent, &escalated, &escalatedAt,
		&in.CreatedAt, &in.UpdatedAt, &resolvedAt)
	if err != nil {
		return nil, err
	}

	in.Status = InteractionStatus(status)
	in.RequestPayload = jsonOrNil(request)
	in.ResponsePayload = jsonOrNil(response)
	in.WarningSent = warningSent != 0
	in.Escalated = escalated != 0
	if escalatedAt.Valid {
		in.EscalatedAt = &escalatedAt.Time
	}
	if resolvedAt.Valid {
		in.ResolvedAt = &resolvedAt.Time
	}
	return in, nil
}

func nullableJSON(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func jsonOrNil(s sql.NullString) map[string]any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil
	}
	return m
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

var _ Store = (*LibSQLStore)(nil)
