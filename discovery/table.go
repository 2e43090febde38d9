package discovery

import (
	"sort"
	"sync"
	"time"

	"p2pchat/models"
)

const (
	// EventPeerUpserted is emitted when a peer appears or its name changes.
	EventPeerUpserted EventType = "peer_upserted"
	// EventPeerRemoved is emitted when a peer expires from the table.
	EventPeerRemoved EventType = "peer_removed"
)

// EventType identifies peer table updates.
type EventType string

// Event carries peer table updates for console/network consumers.
type Event struct {
	Type EventType
	Peer models.PeerRecord
}

// PeerTable is the set of reachable peers keyed by endpoint.
type PeerTable struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.RWMutex
	peers  map[string]models.PeerRecord
	events chan Event
	closed bool
}

// NewPeerTable returns an empty table. Zero ttl disables expiry.
func NewPeerTable(ttl time.Duration, eventBuffer int) *PeerTable {
	return &PeerTable{
		ttl:    ttl,
		now:    time.Now,
		peers:  make(map[string]models.PeerRecord),
		events: make(chan Event, eventBuffer),
	}
}

// Events provides asynchronous table updates.
func (t *PeerTable) Events() <-chan Event {
	return t.events
}

// Upsert records or refreshes a peer.
func (t *PeerTable) Upsert(peer models.PeerRecord) {
	if peer.LastSeenAt.IsZero() {
		peer.LastSeenAt = t.now()
	}
	key := peer.Endpoint()

	t.mu.Lock()
	defer t.mu.Unlock()

	old, exists := t.peers[key]
	t.peers[key] = peer
	if !exists || old.DisplayName != peer.DisplayName {
		t.emitEvent(Event{Type: EventPeerUpserted, Peer: peer})
	}
}

// Remove drops the peer at endpoint.
func (t *PeerTable) Remove(endpoint string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	peer, exists := t.peers[endpoint]
	if !exists {
		return false
	}
	delete(t.peers, endpoint)
	t.emitEvent(Event{Type: EventPeerRemoved, Peer: peer})
	return true
}

// Sweep evicts peers not seen within the TTL and returns them.
func (t *PeerTable) Sweep() []models.PeerRecord {
	if t.ttl <= 0 {
		return nil
	}
	cutoff := t.now().Add(-t.ttl)

	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []models.PeerRecord
	for key, peer := range t.peers {
		if peer.LastSeenAt.Before(cutoff) {
			delete(t.peers, key)
			expired = append(expired, peer)
			t.emitEvent(Event{Type: EventPeerRemoved, Peer: peer})
		}
	}
	return expired
}

// Snapshot returns the current peers sorted by name, then endpoint.
func (t *PeerTable) Snapshot() []models.PeerRecord {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]models.PeerRecord, 0, len(t.peers))
	for _, peer := range t.peers {
		out = append(out, peer)
	}
	sortPeers(out)
	return out
}

// Lookup finds a peer by display name or endpoint.
func (t *PeerTable) Lookup(nameOrEndpoint string) (models.PeerRecord, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if peer, ok := t.peers[nameOrEndpoint]; ok {
		return peer, true
	}

	var (
		best  models.PeerRecord
		found bool
	)
	for _, peer := range t.peers {
		if peer.DisplayName == nameOrEndpoint && (!found || peer.LastSeenAt.After(best.LastSeenAt)) {
			best, found = peer, true
		}
	}
	return best, found
}

func (t *PeerTable) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.events)
}

func (t *PeerTable) emitEvent(event Event) {
	if t.closed {
		return
	}
	select {
	case t.events <- event:
	default:
	}
}

func sortPeers(peers []models.PeerRecord) {
	sort.Slice(peers, func(i, j int) bool {
		if peers[i].DisplayName == peers[j].DisplayName {
			return peers[i].Endpoint() < peers[j].Endpoint()
		}
		return peers[i].DisplayName < peers[j].DisplayName
	})
}
