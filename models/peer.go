package models

import (
	"net"
	"strconv"
	"time"
)

const (
	// PeerSourceBroadcast marks peers that answered our discovery broadcast.
	PeerSourceBroadcast = "broadcast"
	// PeerSourceResponder marks peers whose broadcast reached our responder.
	PeerSourceResponder = "responder"
	// PeerSourceMDNS marks peers found through mDNS browsing.
	PeerSourceMDNS = "mdns"
)

// PeerRecord is one reachable device on the local network.
type PeerRecord struct {
	DisplayName string    `json:"display_name"`
	Address     string    `json:"address"`
	Port        int       `json:"port"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	Source      string    `json:"source"`
}

// Endpoint returns the TCP dial address of the peer.
func (p PeerRecord) Endpoint() string {
	return net.JoinHostPort(p.Address, strconv.Itoa(p.Port))
}
