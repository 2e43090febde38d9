package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"p2pchat/models"
)

// SaveTransfer inserts or replaces the outcome of one file transfer.
func (s *Store) SaveTransfer(transfer models.Transfer) error {
	if transfer.TransferID == "" {
		return errors.New("transfer_id is required")
	}
	if transfer.PeerName == "" {
		return errors.New("peer_name is required")
	}
	if transfer.FileName == "" {
		return errors.New("file_name is required")
	}
	if transfer.TotalSize < 0 {
		return errors.New("total_size must be >= 0")
	}
	if err := validateDirection(transfer.Direction); err != nil {
		return err
	}
	if err := validateTransferStatus(transfer.Status); err != nil {
		return err
	}
	if transfer.Timestamp == 0 {
		transfer.Timestamp = nowUnixMilli()
	}

	_, err := s.db.Exec(
		`INSERT INTO transfers (
			transfer_id,
			peer_name,
			direction,
			file_name,
			total_size,
			bytes_written,
			stored_path,
			checksum,
			status,
			error,
			timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transfer_id) DO UPDATE SET
			bytes_written = excluded.bytes_written,
			stored_path = excluded.stored_path,
			checksum = excluded.checksum,
			status = excluded.status,
			error = excluded.error,
			timestamp = excluded.timestamp`,
		transfer.TransferID,
		transfer.PeerName,
		transfer.Direction,
		transfer.FileName,
		transfer.TotalSize,
		transfer.BytesWritten,
		transfer.StoredPath,
		transfer.Checksum,
		transfer.Status,
		transfer.Error,
		transfer.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("save transfer %q: %w", transfer.TransferID, err)
	}

	return nil
}

// GetTransferByID fetches one transfer record.
func (s *Store) GetTransferByID(transferID string) (*models.Transfer, error) {
	if transferID == "" {
		return nil, errors.New("transfer_id is required")
	}

	row := s.db.QueryRow(
		`SELECT
			transfer_id,
			peer_name,
			direction,
			file_name,
			total_size,
			bytes_written,
			stored_path,
			checksum,
			status,
			error,
			timestamp
		FROM transfers
		WHERE transfer_id = ?`,
		transferID,
	)

	transfer, err := scanTransfer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transfer %q: %w", transferID, err)
	}
	return transfer, nil
}

// ListTransfers returns transfers, newest first. An empty peerName lists
// transfers with every peer.
func (s *Store) ListTransfers(peerName string, limit, offset int) ([]models.Transfer, error) {
	limit, offset = normalizePage(limit, offset)

	rows, err := s.db.Query(
		`SELECT
			transfer_id,
			peer_name,
			direction,
			file_name,
			total_size,
			bytes_written,
			stored_path,
			checksum,
			status,
			error,
			timestamp
		FROM transfers
		WHERE ? = '' OR peer_name = ?
		ORDER BY timestamp DESC, transfer_id ASC
		LIMIT ? OFFSET ?`,
		peerName,
		peerName,
		limit,
		offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	transfers := make([]models.Transfer, 0)
	for rows.Next() {
		transfer, scanErr := scanTransfer(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan transfer row: %w", scanErr)
		}
		transfers = append(transfers, *transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfer rows: %w", err)
	}

	return transfers, nil
}

func scanTransfer(row scanner) (*models.Transfer, error) {
	var transfer models.Transfer
	if err := row.Scan(
		&transfer.TransferID,
		&transfer.PeerName,
		&transfer.Direction,
		&transfer.FileName,
		&transfer.TotalSize,
		&transfer.BytesWritten,
		&transfer.StoredPath,
		&transfer.Checksum,
		&transfer.Status,
		&transfer.Error,
		&transfer.Timestamp,
	); err != nil {
		return nil, err
	}
	return &transfer, nil
}
