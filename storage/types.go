package storage

import (
	"errors"
	"fmt"
	"time"

	"p2pchat/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const defaultListLimit = 100

type scanner interface {
	Scan(dest ...any) error
}

func validateDirection(direction string) error {
	switch direction {
	case models.DirectionInbound, models.DirectionOutbound:
		return nil
	default:
		return fmt.Errorf("invalid direction %q", direction)
	}
}

func validateTransferStatus(status string) error {
	switch status {
	case models.TransferStatusComplete, models.TransferStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid transfer status %q", status)
	}
}

func validatePeerSource(source string) error {
	switch source {
	case models.PeerSourceBroadcast, models.PeerSourceResponder, models.PeerSourceMDNS:
		return nil
	default:
		return fmt.Errorf("invalid peer source %q", source)
	}
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
