package lending

import (
	"context"
	"database/sql"
	"strings"

	"DLS-backend/internal/platform/db"
)

// EventStore は lend_events テーブル（貸出・返却の監査ログ）を読み書きする。
// 書き込みは Store のトランザクション内からのみ行われる。
type EventStore struct {
	db *sql.DB
}

func NewEventStore(conn *sql.DB) *EventStore { return &EventStore{db: conn} }

func insertLendEvent(ctx context.Context, ex db.DBTX, ev LendEvent) error {
	const q = `
	INSERT INTO lend_events (event_ulid, device_id, username, action, due_on, created_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	var dueOn any
	if ev.DueOn.Valid {
		dueOn = ev.DueOn.Time.Format(DateLayout)
	}
	_, err := ex.ExecContext(ctx, q,
		ev.EventULID, ev.DeviceID, ev.Username, string(ev.Action), dueOn, ev.CreatedAt)
	return err
}

func (s *EventStore) List(ctx context.Context, f EventFilter) ([]LendEvent, error) {
	sb := strings.Builder{}
	sb.WriteString(`
	SELECT event_ulid, device_id, username, action, due_on, created_at
	FROM lend_events
	WHERE 1=1`)

	args := []any{}
	if f.Username != "" {
		sb.WriteString(` AND username = ?`)
		args = append(args, f.Username)
	}
	if f.DeviceID != nil {
		sb.WriteString(` AND device_id = ?`)
		args = append(args, *f.DeviceID)
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 50
	}
	sb.WriteString(` ORDER BY created_at DESC LIMIT ?`)
	args = append(args, f.Limit)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LendEvent
	for rows.Next() {
		var ev LendEvent
		var action string
		if err := rows.Scan(&ev.EventULID, &ev.DeviceID, &ev.Username, &action, &ev.DueOn, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Action = Action(action)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
