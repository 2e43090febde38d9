package storage

import (
	"errors"
	"testing"
	"time"

	"p2pchat/models"
)

func TestPeerCRUD(t *testing.T) {
	store := newTestStore(t)

	seen := time.UnixMilli(nowUnixMilli())
	if err := store.SavePeer(models.PeerRecord{
		DisplayName: "bob",
		Address:     "192.168.1.20",
		Port:        8889,
		LastSeenAt:  seen,
		Source:      models.PeerSourceBroadcast,
	}); err != nil {
		t.Fatalf("SavePeer failed: %v", err)
	}

	// Same endpoint, new name and an older sighting.
	if err := store.SavePeer(models.PeerRecord{
		DisplayName: "bob-laptop",
		Address:     "192.168.1.20",
		Port:        8889,
		LastSeenAt:  seen.Add(-time.Minute),
		Source:      models.PeerSourceMDNS,
	}); err != nil {
		t.Fatalf("SavePeer update failed: %v", err)
	}

	peers, err := store.ListPeers()
	if err != nil {
		t.Fatalf("ListPeers failed: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("expected one peer, got %+v", peers)
	}
	if peers[0].DisplayName != "bob-laptop" || peers[0].Source != models.PeerSourceMDNS {
		t.Fatalf("unexpected peer %+v", peers[0])
	}
	if !peers[0].LastSeenAt.Equal(seen) {
		t.Fatalf("expected last seen to keep the newest sighting, got %s", peers[0].LastSeenAt)
	}

	got, err := store.GetPeerByName("bob-laptop")
	if err != nil {
		t.Fatalf("GetPeerByName failed: %v", err)
	}
	if got.Endpoint() != "192.168.1.20:8889" {
		t.Fatalf("unexpected endpoint %q", got.Endpoint())
	}

	if err := store.RemovePeer("192.168.1.20:8889"); err != nil {
		t.Fatalf("RemovePeer failed: %v", err)
	}
	if err := store.RemovePeer("192.168.1.20:8889"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second remove, got %v", err)
	}
	if _, err := store.GetPeerByName("bob-laptop"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
}

func TestSavePeerValidatesInput(t *testing.T) {
	store := newTestStore(t)

	for _, peer := range []models.PeerRecord{
		{Address: "10.0.0.1", Port: 8889, Source: models.PeerSourceBroadcast},
		{DisplayName: "x", Port: 8889, Source: models.PeerSourceBroadcast},
		{DisplayName: "x", Address: "10.0.0.1", Port: 0, Source: models.PeerSourceBroadcast},
		{DisplayName: "x", Address: "10.0.0.1", Port: 8889, Source: "carrier-pigeon"},
	} {
		if err := store.SavePeer(peer); err == nil {
			t.Fatalf("expected SavePeer(%+v) to fail", peer)
		}
	}
}
