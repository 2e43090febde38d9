package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"p2pchat/models"
)

// SavePeer records a discovered peer, refreshing name, source and last seen
// time when the endpoint is already known.
func (s *Store) SavePeer(peer models.PeerRecord) error {
	if peer.DisplayName == "" {
		return errors.New("display_name is required")
	}
	if peer.Address == "" {
		return errors.New("address is required")
	}
	if peer.Port <= 0 || peer.Port > 65535 {
		return fmt.Errorf("invalid port %d", peer.Port)
	}
	if err := validatePeerSource(peer.Source); err != nil {
		return err
	}

	seen := peer.LastSeenAt.UnixMilli()
	if peer.LastSeenAt.IsZero() {
		seen = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO peers (
			endpoint,
			display_name,
			address,
			port,
			source,
			first_seen_timestamp,
			last_seen_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			display_name = excluded.display_name,
			source = excluded.source,
			last_seen_timestamp = MAX(peers.last_seen_timestamp, excluded.last_seen_timestamp)`,
		peer.Endpoint(),
		peer.DisplayName,
		peer.Address,
		peer.Port,
		peer.Source,
		seen,
		seen,
	)
	if err != nil {
		return fmt.Errorf("save peer %q: %w", peer.Endpoint(), err)
	}

	return nil
}

// GetPeerByName returns the most recently seen peer with the given name.
func (s *Store) GetPeerByName(displayName string) (*models.PeerRecord, error) {
	if displayName == "" {
		return nil, errors.New("display_name is required")
	}

	row := s.db.QueryRow(
		`SELECT display_name, address, port, source, last_seen_timestamp
		FROM peers
		WHERE display_name = ?
		ORDER BY last_seen_timestamp DESC
		LIMIT 1`,
		displayName,
	)

	peer, err := scanPeer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get peer %q: %w", displayName, err)
	}
	return peer, nil
}

// ListPeers returns known peers ordered by name.
func (s *Store) ListPeers() ([]models.PeerRecord, error) {
	rows, err := s.db.Query(
		`SELECT display_name, address, port, source, last_seen_timestamp
		FROM peers
		ORDER BY display_name ASC, endpoint ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	defer rows.Close()

	peers := make([]models.PeerRecord, 0)
	for rows.Next() {
		peer, scanErr := scanPeer(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan peer row: %w", scanErr)
		}
		peers = append(peers, *peer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate peer rows: %w", err)
	}

	return peers, nil
}

// RemovePeer deletes one peer by endpoint.
func (s *Store) RemovePeer(endpoint string) error {
	if endpoint == "" {
		return errors.New("endpoint is required")
	}

	res, err := s.db.Exec(`DELETE FROM peers WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("remove peer %q: %w", endpoint, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for remove peer %q: %w", endpoint, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func scanPeer(row scanner) (*models.PeerRecord, error) {
	var (
		peer     models.PeerRecord
		lastSeen int64
	)
	if err := row.Scan(
		&peer.DisplayName,
		&peer.Address,
		&peer.Port,
		&peer.Source,
		&lastSeen,
	); err != nil {
		return nil, err
	}
	peer.LastSeenAt = time.UnixMilli(lastSeen)
	return &peer, nil
}
