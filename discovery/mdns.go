package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog"

	"p2pchat/models"
)

const (
	// DefaultMDNSService is the mDNS service name without domain suffix.
	DefaultMDNSService = "_p2pchat._tcp"
	// DefaultMDNSDomain is the mDNS domain.
	DefaultMDNSDomain = "local."
	// DefaultMDNSRefreshInterval is the background browse interval.
	DefaultMDNSRefreshInterval = 10 * time.Second
	// DefaultMDNSScanTimeout bounds each browse.
	DefaultMDNSScanTimeout = 3 * time.Second
	// MDNSVersion is the TXT record protocol version.
	MDNSVersion = 1
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

func (c Config) withMDNSDefaults() Config {
	out := c
	if out.MDNSService == "" {
		out.MDNSService = DefaultMDNSService
	}
	if out.MDNSDomain == "" {
		out.MDNSDomain = DefaultMDNSDomain
	}
	if out.MDNSRefreshInterval <= 0 {
		out.MDNSRefreshInterval = DefaultMDNSRefreshInterval
	}
	if out.MDNSScanTimeout <= 0 {
		out.MDNSScanTimeout = DefaultMDNSScanTimeout
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

// mdnsAgent advertises this device and feeds browse results into the table.
type mdnsAgent struct {
	cfg    Config
	table  *PeerTable
	logger zerolog.Logger
	server *zeroconf.Server
	browse browseFunc

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func startMDNS(parent context.Context, cfg Config, table *PeerTable, logger zerolog.Logger) (*mdnsAgent, error) {
	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("%w: mdns resolver: %w", ErrDiscovery, err)
		}
		browse = resolver.Browse
	}

	txt := []string{
		"name=" + cfg.DeviceName,
		"version=" + strconv.Itoa(MDNSVersion),
	}
	server, err := cfg.registerFn(cfg.DeviceName, cfg.MDNSService, cfg.MDNSDomain, cfg.ServicePort, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: register mDNS service: %w", ErrDiscovery, err)
	}

	ctx, cancel := context.WithCancel(parent)
	agent := &mdnsAgent{
		cfg:    cfg,
		table:  table,
		logger: logger.With().Str("source", models.PeerSourceMDNS).Logger(),
		server: server,
		browse: browse,
		cancel: cancel,
	}
	agent.wg.Add(1)
	go agent.loop(ctx)
	return agent, nil
}

func (a *mdnsAgent) stop() {
	if a == nil {
		return
	}
	a.cancel()
	a.wg.Wait()
	if a.server != nil {
		a.server.Shutdown()
	}
}

func (a *mdnsAgent) loop(ctx context.Context) {
	defer a.wg.Done()

	a.scan(ctx)

	ticker := time.NewTicker(a.cfg.MDNSRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.scan(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (a *mdnsAgent) scan(parent context.Context) {
	scanCtx, cancel := context.WithTimeout(parent, a.cfg.MDNSScanTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-scanCtx.Done():
				return
			case entry, ok := <-entries:
				if !ok {
					return
				}
				if entry == nil {
					continue
				}
				peer, ok := peerFromEntry(entry)
				if !ok || (peer.DisplayName == a.cfg.DeviceName && peer.Port == a.cfg.ServicePort) {
					continue
				}
				a.table.Upsert(peer)
			}
		}
	}()

	if err := a.browse(scanCtx, a.cfg.MDNSService, a.cfg.MDNSDomain, entries); err != nil {
		a.logger.Warn().Err(err).Msg("mdns browse failed")
		cancel()
	}

	<-scanCtx.Done()
	<-collectorDone

	// A deadline just means this scan window ended naturally.
	if err := scanCtx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		a.logger.Warn().Err(err).Msg("mdns scan ended")
	}
}

func peerFromEntry(entry *zeroconf.ServiceEntry) (models.PeerRecord, bool) {
	if entry.Port <= 0 || len(entry.AddrIPv4) == 0 || entry.AddrIPv4[0] == nil {
		return models.PeerRecord{}, false
	}

	txt := txtToMap(entry.Text)
	name := txt["name"]
	if name == "" {
		name = strings.TrimSpace(entry.Instance)
	}
	if name == "" {
		name = strings.TrimSpace(entry.HostName)
	}
	if name == "" {
		return models.PeerRecord{}, false
	}

	return models.PeerRecord{
		DisplayName: name,
		Address:     entry.AddrIPv4[0].String(),
		Port:        entry.Port,
		LastSeenAt:  time.Now(),
		Source:      models.PeerSourceMDNS,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
