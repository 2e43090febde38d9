package models

const (
	// DirectionInbound marks data received from a peer.
	DirectionInbound = "inbound"
	// DirectionOutbound marks data sent to a peer.
	DirectionOutbound = "outbound"
)

// Message is a decrypted chat message exchanged with a peer.
type Message struct {
	MessageID string `json:"message_id"`
	PeerName  string `json:"peer_name"`
	Direction string `json:"direction"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}
