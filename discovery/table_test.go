package discovery

import (
	"testing"
	"time"

	"p2pchat/models"
)

func TestPeerTableUpsertEmitsOnlyOnChange(t *testing.T) {
	table := NewPeerTable(time.Minute, 8)

	peer := models.PeerRecord{DisplayName: "alice", Address: "192.168.1.5", Port: 8889}
	table.Upsert(peer)
	table.Upsert(peer)

	peer.DisplayName = "alice-laptop"
	table.Upsert(peer)

	if got := len(table.Events()); got != 2 {
		t.Fatalf("expected 2 upsert events, got %d", got)
	}
	snapshot := table.Snapshot()
	if len(snapshot) != 1 || snapshot[0].DisplayName != "alice-laptop" {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if snapshot[0].LastSeenAt.IsZero() {
		t.Fatalf("expected last seen to be stamped")
	}
}

func TestPeerTableSweepEvictsExpiredPeers(t *testing.T) {
	now := time.Unix(1_706_000_000, 0)
	table := NewPeerTable(2*time.Minute, 8)
	table.now = func() time.Time { return now }

	table.Upsert(models.PeerRecord{DisplayName: "old", Address: "10.0.0.1", Port: 8889, LastSeenAt: now.Add(-3 * time.Minute)})
	table.Upsert(models.PeerRecord{DisplayName: "fresh", Address: "10.0.0.2", Port: 8889, LastSeenAt: now.Add(-time.Minute)})
	<-table.Events()
	<-table.Events()

	expired := table.Sweep()
	if len(expired) != 1 || expired[0].DisplayName != "old" {
		t.Fatalf("unexpected expired peers %+v", expired)
	}

	event := <-table.Events()
	if event.Type != EventPeerRemoved || event.Peer.DisplayName != "old" {
		t.Fatalf("unexpected event %+v", event)
	}
	if _, ok := table.Lookup("old"); ok {
		t.Fatalf("expected expired peer to be gone")
	}
	if _, ok := table.Lookup("fresh"); !ok {
		t.Fatalf("expected fresh peer to remain")
	}
}

func TestPeerTableLookupByNameOrEndpoint(t *testing.T) {
	now := time.Now()
	table := NewPeerTable(0, 8)
	table.Upsert(models.PeerRecord{DisplayName: "bob", Address: "10.0.0.3", Port: 8889, LastSeenAt: now.Add(-time.Second)})
	table.Upsert(models.PeerRecord{DisplayName: "bob", Address: "10.0.0.4", Port: 8889, LastSeenAt: now})

	peer, ok := table.Lookup("bob")
	if !ok || peer.Address != "10.0.0.4" {
		t.Fatalf("expected most recently seen bob, got %+v", peer)
	}
	peer, ok = table.Lookup("10.0.0.3:8889")
	if !ok || peer.Address != "10.0.0.3" {
		t.Fatalf("expected endpoint lookup to match, got %+v", peer)
	}
	if table.Sweep() != nil {
		t.Fatalf("expected sweep to be disabled with zero ttl")
	}
	if !table.Remove("10.0.0.3:8889") || table.Remove("10.0.0.3:8889") {
		t.Fatalf("expected remove to succeed exactly once")
	}
}
