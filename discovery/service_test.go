package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"p2pchat/models"
)

func newTestService(t *testing.T, name string, port int, broadcast string) *Service {
	t.Helper()

	svc, err := New(Config{
		DeviceName:       name,
		ServicePort:      port,
		ListenAddress:    "127.0.0.1:0",
		BroadcastAddress: broadcast,
		ResponseWindow:   300 * time.Millisecond,
		SweepInterval:    time.Hour,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := svc.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(svc.Stop)
	return svc
}

func TestDiscoveryIsSymmetric(t *testing.T) {
	bob := newTestService(t, "bob", 9101, "127.0.0.1:1")
	alice := newTestService(t, "alice", 9100, bob.LocalAddr().String())

	peers, err := alice.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(peers) != 1 {
		t.Fatalf("expected exactly one peer, got %+v", peers)
	}
	if peers[0].DisplayName != "bob" || peers[0].Port != 9101 || peers[0].Source != models.PeerSourceBroadcast {
		t.Fatalf("unexpected peer %+v", peers[0])
	}
	if _, ok := alice.Lookup("bob"); !ok {
		t.Fatalf("expected bob in alice's peer table")
	}

	waitForCondition(t, 2*time.Second, func() bool {
		peer, ok := bob.Lookup("alice")
		return ok && peer.Port == 9100 && peer.Address == "127.0.0.1" && peer.Source == models.PeerSourceResponder
	})
}

func TestDiscoveryIgnoresOwnAnnouncement(t *testing.T) {
	self := newTestService(t, "alice", 9200, "127.0.0.1:1")
	self.cfg.BroadcastAddress = self.LocalAddr().String()

	peers, err := self.Discover(context.Background())
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("expected own announcement to be ignored, got %+v", peers)
	}
	if len(self.Peers()) != 0 {
		t.Fatalf("expected empty peer table, got %+v", self.Peers())
	}
}

func TestResponderDropsMalformedDatagrams(t *testing.T) {
	bob := newTestService(t, "bob", 9301, "127.0.0.1:1")

	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket failed: %v", err)
	}
	defer conn.Close()

	for _, raw := range []string{"garbage", "P2P_DISCOVERY:carol", "P2P_RESPONSE:carol:9000"} {
		if _, err := conn.WriteTo([]byte(raw), bob.LocalAddr()); err != nil {
			t.Fatalf("WriteTo failed: %v", err)
		}
	}
	if _, err := conn.WriteTo([]byte("P2P_DISCOVERY:carol:9300"), bob.LocalAddr()); err != nil {
		t.Fatalf("WriteTo failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buffer := make([]byte, maxDatagramSize)
	n, _, err := conn.ReadFrom(buffer)
	if err != nil {
		t.Fatalf("expected a reply to the valid probe: %v", err)
	}
	if string(buffer[:n]) != "P2P_RESPONSE:bob:9301" {
		t.Fatalf("unexpected reply %q", buffer[:n])
	}

	waitForCondition(t, time.Second, func() bool {
		return len(bob.Peers()) == 1
	})
	if peers := bob.Peers(); peers[0].DisplayName != "carol" {
		t.Fatalf("unexpected peers %+v", peers)
	}
}

func TestDiscoverHonorsCancellation(t *testing.T) {
	svc := newTestService(t, "alice", 9400, "127.0.0.1:1")
	svc.cfg.ResponseWindow = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	started := time.Now()
	if _, err := svc.Discover(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if time.Since(started) > 5*time.Second {
		t.Fatalf("Discover did not return promptly after cancel")
	}
}

func TestDiscoverRequiresStart(t *testing.T) {
	svc, err := New(Config{DeviceName: "alice", ServicePort: 9500})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := svc.Discover(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}

	svc.Stop()
	if _, ok := <-svc.Events(); ok {
		t.Fatalf("expected events channel to be closed after Stop")
	}
	if err := svc.Start(); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after Stop, got %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{ServicePort: 8889}); err == nil {
		t.Fatalf("expected missing device name to fail")
	}
	if _, err := New(Config{DeviceName: "alice"}); err == nil {
		t.Fatalf("expected missing port to fail")
	}
}

func waitForCondition(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
