package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"p2pchat/models"
)

// SaveMessage inserts a new message row. Saving the same message ID twice
// keeps the first row.
func (s *Store) SaveMessage(message models.Message) error {
	if message.MessageID == "" {
		return errors.New("message_id is required")
	}
	if message.PeerName == "" {
		return errors.New("peer_name is required")
	}
	if err := validateDirection(message.Direction); err != nil {
		return err
	}
	if message.Timestamp == 0 {
		message.Timestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO messages (
			message_id,
			peer_name,
			direction,
			content,
			timestamp
		) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(message_id) DO NOTHING`,
		message.MessageID,
		message.PeerName,
		message.Direction,
		message.Content,
		message.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert message %q: %w", message.MessageID, err)
	}

	return nil
}

// GetMessages returns the conversation with one peer ordered oldest first.
func (s *Store) GetMessages(peerName string, limit, offset int) ([]models.Message, error) {
	if peerName == "" {
		return nil, errors.New("peer_name is required")
	}
	limit, offset = normalizePage(limit, offset)

	rows, err := s.db.Query(
		`SELECT
			message_id,
			peer_name,
			direction,
			content,
			timestamp
		FROM messages
		WHERE peer_name = ?
		ORDER BY timestamp ASC, message_id ASC
		LIMIT ? OFFSET ?`,
		peerName,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("get messages for peer %q: %w", peerName, err)
	}
	return collectMessages(rows)
}

// RecentMessages returns the newest messages across all peers, oldest first.
func (s *Store) RecentMessages(limit int) ([]models.Message, error) {
	limit, _ = normalizePage(limit, 0)

	rows, err := s.db.Query(
		`SELECT message_id, peer_name, direction, content, timestamp
		FROM (
			SELECT * FROM messages
			ORDER BY timestamp DESC, message_id DESC
			LIMIT ?
		)
		ORDER BY timestamp ASC, message_id ASC`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	return collectMessages(rows)
}

// GetMessageByID fetches one message by message ID.
func (s *Store) GetMessageByID(messageID string) (*models.Message, error) {
	if messageID == "" {
		return nil, errors.New("message_id is required")
	}

	row := s.db.QueryRow(
		`SELECT
			message_id,
			peer_name,
			direction,
			content,
			timestamp
		FROM messages
		WHERE message_id = ?`,
		messageID,
	)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %q: %w", messageID, err)
	}

	return message, nil
}

// PruneMessages deletes messages older than cutoffTimestamp (unix millis).
func (s *Store) PruneMessages(cutoffTimestamp int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM messages WHERE timestamp < ?`, cutoffTimestamp)
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for prune messages: %w", err)
	}
	return deleted, nil
}

func collectMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

func scanMessage(row scanner) (*models.Message, error) {
	var message models.Message
	if err := row.Scan(
		&message.MessageID,
		&message.PeerName,
		&message.Direction,
		&message.Content,
		&message.Timestamp,
	); err != nil {
		return nil, err
	}
	return &message, nil
}
