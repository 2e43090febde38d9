package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"p2pchat/models"
)

const (
	// DefaultPort is the UDP discovery port.
	DefaultPort = 8888
	// DefaultResponseWindow bounds how long Discover collects replies.
	DefaultResponseWindow = 5 * time.Second
	// DefaultPeerTTL is how long a peer stays listed without being seen.
	DefaultPeerTTL = 2 * time.Minute
	// DefaultSweepInterval is how often expired peers are evicted.
	DefaultSweepInterval = 30 * time.Second
	// DefaultHopLimit keeps discovery datagrams on the local segment.
	DefaultHopLimit = 1
)

var (
	// ErrDiscovery wraps socket failures of the discovery service.
	ErrDiscovery = errors.New("discovery: socket failure")
	// ErrNotStarted is returned when the service is used before Start.
	ErrNotStarted = errors.New("discovery: service is not started")
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("discovery: service is stopped")
)

// Config controls the broadcast responder, discovery window and mDNS.
type Config struct {
	DeviceName  string
	ServicePort int

	ListenAddress    string
	BroadcastAddress string
	ResponseWindow   time.Duration
	PeerTTL          time.Duration
	SweepInterval    time.Duration
	HopLimit         int
	EventBuffer      int

	EnableMDNS          bool
	MDNSService         string
	MDNSDomain          string
	MDNSRefreshInterval time.Duration
	MDNSScanTimeout     time.Duration

	Logger *zerolog.Logger

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.ListenAddress == "" {
		out.ListenAddress = fmt.Sprintf(":%d", DefaultPort)
	}
	if out.BroadcastAddress == "" {
		out.BroadcastAddress = fmt.Sprintf("255.255.255.255:%d", DefaultPort)
	}
	if out.ResponseWindow <= 0 {
		out.ResponseWindow = DefaultResponseWindow
	}
	if out.PeerTTL == 0 {
		out.PeerTTL = DefaultPeerTTL
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = DefaultSweepInterval
	}
	if out.HopLimit <= 0 {
		out.HopLimit = DefaultHopLimit
	}
	if out.EventBuffer <= 0 {
		out.EventBuffer = 128
	}
	return out.withMDNSDefaults()
}

func (c Config) validate() error {
	if strings.TrimSpace(c.DeviceName) == "" {
		return errors.New("device name is required")
	}
	if c.ServicePort <= 0 || c.ServicePort > 65535 {
		return errors.New("service port must be in 1..65535")
	}
	return nil
}

// Service answers discovery probes, runs discovery windows and keeps the
// peer table fresh.
type Service struct {
	cfg    Config
	logger zerolog.Logger
	table  *PeerTable

	lifecycleMu sync.Mutex
	conn        net.PacketConn
	mdns        *mdnsAgent
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// New validates config and builds an idle service.
func New(config Config) (*Service, error) {
	cfg := config.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Service{
		cfg:    cfg,
		logger: logger.With().Str("component", "discovery").Logger(),
		table:  NewPeerTable(cfg.PeerTTL, cfg.EventBuffer),
	}, nil
}

// Start binds the responder socket and starts the background loops.
func (s *Service) Start() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if s.ctx != nil {
		if s.ctx.Err() != nil {
			return ErrStopped
		}
		return nil
	}

	conn, err := listenUDP(context.Background(), s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("%w: listen %s: %w", ErrDiscovery, s.cfg.ListenAddress, err)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.conn = conn

	if s.cfg.EnableMDNS {
		agent, err := startMDNS(s.ctx, s.cfg, s.table, s.logger)
		if err != nil {
			s.cancel()
			_ = conn.Close()
			return err
		}
		s.mdns = agent
	}

	s.wg.Add(2)
	go s.respondLoop(conn)
	go s.sweepLoop()

	s.logger.Info().Str("address", conn.LocalAddr().String()).Msg("discovery responder listening")
	return nil
}

// Stop closes the sockets, waits for the loops and closes Events.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		s.lifecycleMu.Lock()
		if s.cancel == nil {
			s.ctx, s.cancel = context.WithCancel(context.Background())
		}
		s.cancel()
		conn := s.conn
		agent := s.mdns
		s.lifecycleMu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
		agent.stop()
		s.wg.Wait()
		s.table.close()
	})
}

// LocalAddr returns the bound responder address.
func (s *Service) LocalAddr() net.Addr {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Events provides asynchronous peer table updates.
func (s *Service) Events() <-chan Event {
	return s.table.Events()
}

// Peers returns the current peer table snapshot.
func (s *Service) Peers() []models.PeerRecord {
	return s.table.Snapshot()
}

// Lookup finds a known peer by display name or endpoint.
func (s *Service) Lookup(nameOrEndpoint string) (models.PeerRecord, bool) {
	return s.table.Lookup(nameOrEndpoint)
}

// Discover broadcasts one probe and collects replies until the response
// window ends or ctx is cancelled. Each unique replying endpoint is returned
// once and recorded in the peer table.
func (s *Service) Discover(ctx context.Context) ([]models.PeerRecord, error) {
	s.lifecycleMu.Lock()
	serviceCtx := s.ctx
	s.lifecycleMu.Unlock()
	if serviceCtx == nil {
		return nil, ErrNotStarted
	}
	if serviceCtx.Err() != nil {
		return nil, ErrStopped
	}

	probe, err := Announcement{Kind: KindDiscovery, Name: s.cfg.DeviceName, Port: s.cfg.ServicePort}.Encode()
	if err != nil {
		return nil, err
	}
	target, err := net.ResolveUDPAddr("udp4", s.cfg.BroadcastAddress)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %w", ErrDiscovery, s.cfg.BroadcastAddress, err)
	}

	conn, err := listenUDP(ctx, ":0")
	if err != nil {
		return nil, fmt.Errorf("%w: open probe socket: %w", ErrDiscovery, err)
	}
	defer conn.Close()

	if err := ipv4.NewPacketConn(conn).SetTTL(s.cfg.HopLimit); err != nil {
		s.logger.Debug().Err(err).Msg("set discovery ttl")
	}

	windowCtx, cancel := context.WithTimeout(ctx, s.cfg.ResponseWindow)
	defer cancel()
	stopClose := context.AfterFunc(serviceCtx, func() { _ = conn.Close() })
	defer stopClose()

	if _, err := conn.WriteTo(probe, target); err != nil {
		return nil, fmt.Errorf("%w: send probe: %w", ErrDiscovery, err)
	}
	s.logger.Debug().Str("target", target.String()).Msg("discovery probe sent")

	if deadline, ok := windowCtx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	stopWake := context.AfterFunc(windowCtx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stopWake()

	found := make(map[string]models.PeerRecord)
	buffer := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				break
			}
			if serviceCtx.Err() != nil {
				return nil, ErrStopped
			}
			return nil, fmt.Errorf("%w: read replies: %w", ErrDiscovery, err)
		}

		announcement, err := ParseDatagram(buffer[:n])
		if err != nil || announcement.Kind != KindResponse || s.isSelf(announcement) {
			continue
		}
		peer, ok := peerFromDatagram(announcement, addr, models.PeerSourceBroadcast)
		if !ok {
			continue
		}
		found[peer.Endpoint()] = peer
		s.table.Upsert(peer)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	peers := make([]models.PeerRecord, 0, len(found))
	for _, peer := range found {
		peers = append(peers, peer)
	}
	sortPeers(peers)
	s.logger.Info().Int("peers", len(peers)).Msg("discovery window closed")
	return peers, nil
}

func (s *Service) respondLoop(conn net.PacketConn) {
	defer s.wg.Done()

	buffer := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFrom(buffer)
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn().Err(err).Msg("discovery responder read failed")
			continue
		}

		announcement, err := ParseDatagram(buffer[:n])
		if err != nil {
			s.logger.Debug().Str("from", addr.String()).Msg("dropped malformed discovery datagram")
			continue
		}
		if announcement.Kind != KindDiscovery || s.isSelf(announcement) {
			continue
		}

		reply, err := Announcement{Kind: KindResponse, Name: s.cfg.DeviceName, Port: s.cfg.ServicePort}.Encode()
		if err != nil {
			continue
		}
		if _, err := conn.WriteTo(reply, addr); err != nil {
			s.logger.Warn().Err(err).Str("to", addr.String()).Msg("discovery reply failed")
		}

		if peer, ok := peerFromDatagram(announcement, addr, models.PeerSourceResponder); ok {
			s.table.Upsert(peer)
		}
	}
}

func (s *Service) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, peer := range s.table.Sweep() {
				s.logger.Debug().Str("peer", peer.DisplayName).Str("endpoint", peer.Endpoint()).Msg("peer expired")
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func listenUDP(ctx context.Context, address string) (net.PacketConn, error) {
	lc := net.ListenConfig{Control: socketControl}
	return lc.ListenPacket(ctx, "udp4", address)
}

func (s *Service) isSelf(a Announcement) bool {
	return a.Name == s.cfg.DeviceName && a.Port == s.cfg.ServicePort
}

func peerFromDatagram(a Announcement, from net.Addr, source string) (models.PeerRecord, bool) {
	udpAddr, ok := from.(*net.UDPAddr)
	if !ok || udpAddr.IP == nil {
		return models.PeerRecord{}, false
	}
	return models.PeerRecord{
		DisplayName: a.Name,
		Address:     udpAddr.IP.String(),
		Port:        a.Port,
		LastSeenAt:  time.Now(),
		Source:      source,
	}, true
}
