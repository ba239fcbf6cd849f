package database

import (
	"context"
	"fmt"

	"ambassador-ledger/internal/models"
)

// InsertActivityLog appends an audit entry. There is deliberately no update
// or delete counterpart.
func (q Queries) InsertActivityLog(ctx context.Context, entry models.ActivityLog) error {
	metadata := string(entry.Metadata)
	if metadata == "" {
		metadata = "{}"
	}

	_, err := q.q.ExecContext(ctx, `INSERT INTO activity_logs (
		id, actor_id, actor_name, actor_role, action, module, target_id, metadata, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.ActorID,
		entry.ActorName,
		entry.ActorRole,
		entry.Action,
		entry.Module,
		entry.TargetID,
		metadata,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

// ListActivityLogs returns entries for a module, optionally narrowed to one
// target, in insertion order.
func (q Queries) ListActivityLogs(ctx context.Context, module, targetID string) ([]models.ActivityLog, error) {
	query := `SELECT id, actor_id, actor_name, actor_role, action, module, target_id, metadata, created_at
		FROM activity_logs WHERE module = ?`
	args := []any{module}
	if targetID != "" {
		query += " AND target_id = ?"
		args = append(args, targetID)
	}
	query += " ORDER BY rowid"

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity logs: %w", err)
	}
	defer rows.Close()

	var entries []models.ActivityLog
	for rows.Next() {
		var (
			e         models.ActivityLog
			metadata  string
			createdAt string
		)
		if err := rows.Scan(
			&e.ID,
			&e.ActorID,
			&e.ActorName,
			&e.ActorRole,
			&e.Action,
			&e.Module,
			&e.TargetID,
			&metadata,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan activity log: %w", err)
		}
		e.Metadata = []byte(metadata)
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity logs: %w", err)
	}

	return entries, nil
}
