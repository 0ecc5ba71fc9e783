package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"aetherBoard/backend/internal/board"
)

// EventStore 是服务端的持久事件日志，也是断线补拉的数据源。
//
// 建表：
//   CREATE TABLE board_events (
//     id         BIGINT AUTO_INCREMENT PRIMARY KEY,
//     board_id   VARCHAR(64)  NOT NULL,
//     event_id   VARCHAR(64)  NOT NULL UNIQUE,
//     event_type VARCHAR(64)  NOT NULL,
//     actor_id   VARCHAR(64)  NOT NULL,
//     envelope   JSON         NOT NULL,
//     created_at TIMESTAMP    NOT NULL DEFAULT CURRENT_TIMESTAMP,
//     KEY idx_board (board_id, id)
//   );
type EventStore struct{ db *sql.DB }

func NewEventStore(db *sql.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) InsertEvent(ctx context.Context, boardID string, env board.Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO board_events (board_id, event_id, event_type, actor_id, envelope) VALUES (?, ?, ?, ?, ?)`,
		boardID, env.Meta.EventID, string(env.Type), env.Meta.ActorID, b,
	)
	return err
}

// ListEventsAfter 返回 afterEventID 之后（按落库顺序）的事件信封。
// afterEventID 为空表示从头拉。
func (s *EventStore) ListEventsAfter(ctx context.Context, boardID, afterEventID string, limit int) ([]board.Envelope, error) {
	if limit <= 0 {
		limit = 500
	}
	var rows *sql.Rows
	var err error
	if afterEventID == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT envelope FROM board_events WHERE board_id = ? ORDER BY id ASC LIMIT ?`,
			boardID, limit,
		)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT envelope FROM board_events
			 WHERE board_id = ? AND id > (SELECT id FROM board_events WHERE event_id = ?)
			 ORDER BY id ASC LIMIT ?`,
			boardID, afterEventID, limit,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []board.Envelope
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var env board.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

// LastEventID 返回看板最新一个事件的 eventId（没有则为空串）。
func (s *EventStore) LastEventID(ctx context.Context, boardID string) (string, error) {
	var eventID string
	err := s.db.QueryRowContext(ctx,
		`SELECT event_id FROM board_events WHERE board_id = ? ORDER BY id DESC LIMIT 1`,
		boardID,
	).Scan(&eventID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return eventID, err
}
