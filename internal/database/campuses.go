package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"ambassador-ledger/internal/models"
)

// CreateCampus inserts a campus and sets its ID.
func (q Queries) CreateCampus(ctx context.Context, c *models.Campus) error {
	res, err := q.q.ExecContext(ctx,
		`INSERT INTO campuses (name, city, is_active) VALUES (?, ?, ?)`,
		c.Name, c.City, boolToInt(c.IsActive),
	)
	if err != nil {
		return fmt.Errorf("failed to insert campus: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read campus id: %w", err)
	}
	c.ID = id
	return nil
}

// GetCampus loads a campus by id.
func (q Queries) GetCampus(ctx context.Context, id int64) (models.Campus, error) {
	var (
		c        models.Campus
		isActive int
	)
	err := q.q.QueryRowContext(ctx,
		`SELECT id, name, city, is_active FROM campuses WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.City, &isActive)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Campus{}, ErrNotFound
	}
	if err != nil {
		return models.Campus{}, fmt.Errorf("failed to scan campus: %w", err)
	}
	c.IsActive = isActive == 1
	return c, nil
}

// CampusNameExists reports whether a campus other than excludeID uses name.
func (q Queries) CampusNameExists(ctx context.Context, name string, excludeID int64) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM campuses WHERE name = ? AND id != ?`, name, excludeID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check campus name: %w", err)
	}
	return n > 0, nil
}

// InsertNotification stores an in-app notification for an ambassador.
func (q Queries) InsertNotification(ctx context.Context, ambassadorID int64, title, body string) error {
	_, err := q.q.ExecContext(ctx,
		`INSERT INTO notifications (ambassador_id, title, body, is_read, created_at) VALUES (?, ?, ?, 0, ?)`,
		ambassadorID, title, body, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// CountNotifications counts notifications stored for an ambassador.
func (q Queries) CountNotifications(ctx context.Context, ambassadorID int64) (int, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE ambassador_id = ?`, ambassadorID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count notifications: %w", err)
	}
	return n, nil
}
