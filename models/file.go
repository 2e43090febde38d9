package models

const (
	TransferStatusComplete = "complete"
	TransferStatusFailed   = "failed"
)

// Transfer records the outcome of one file transfer.
type Transfer struct {
	TransferID   string `json:"transfer_id"`
	PeerName     string `json:"peer_name"`
	Direction    string `json:"direction"`
	FileName     string `json:"file_name"`
	TotalSize    int64  `json:"total_size"`
	BytesWritten int64  `json:"bytes_written"`
	StoredPath   string `json:"stored_path"`
	Checksum     string `json:"checksum"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}
