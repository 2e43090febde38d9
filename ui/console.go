package ui

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"p2pchat/models"
	"p2pchat/network"
)

const (
	defaultHistoryLimit = 20
	commandTimeout      = 30 * time.Second
)

// ErrQuit is returned by Run after /quit.
var ErrQuit = errors.New("ui: quit requested")

// Messenger is the session surface the console drives.
type Messenger interface {
	Connect(ctx context.Context, address string) (network.ConnectionInfo, error)
	Disconnect(peerName string)
	SendMessage(ctx context.Context, peerName, text string) (models.Message, error)
	SendFile(ctx context.Context, peerName, path string) (models.Transfer, error)
	Status() string
	Events() <-chan network.Event
}

// PeerDirectory lists and refreshes reachable peers.
type PeerDirectory interface {
	Discover(ctx context.Context) ([]models.PeerRecord, error)
	Peers() []models.PeerRecord
	Lookup(nameOrEndpoint string) (models.PeerRecord, bool)
}

// HistoryReader reads persisted conversations.
type HistoryReader interface {
	GetMessages(peerName string, limit, offset int) ([]models.Message, error)
	RecentMessages(limit int) ([]models.Message, error)
}

// ConsoleOptions wires a Console.
type ConsoleOptions struct {
	In        io.Reader
	Out       io.Writer
	Messenger Messenger
	Peers     PeerDirectory
	// History is optional.
	History HistoryReader
	// MessagePort is appended to bare hosts given to /connect.
	MessagePort int
	// KeyFingerprint is shown when a peer's messages cannot be decrypted.
	KeyFingerprint string
	Logger         *zerolog.Logger
}

// Console is a line-oriented front end over the manager and discovery.
type Console struct {
	opts   ConsoleOptions
	logger zerolog.Logger

	outMu sync.Mutex

	keyHintOnce sync.Once
}

// NewConsole validates options.
func NewConsole(opts ConsoleOptions) (*Console, error) {
	if opts.In == nil || opts.Out == nil {
		return nil, errors.New("console input and output are required")
	}
	if opts.Messenger == nil {
		return nil, errors.New("messenger is required")
	}
	if opts.Peers == nil {
		return nil, errors.New("peer directory is required")
	}

	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Console{
		opts:   opts,
		logger: logger.With().Str("component", "console").Logger(),
	}, nil
}

// Run prints manager events and executes commands until input ends, ctx is
// cancelled or /quit is entered.
func (c *Console) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		c.pumpEvents(ctx)
	}()
	defer func() {
		cancel()
		<-pumpDone
	}()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.opts.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	c.printf("Type /help for commands.\n")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := c.Execute(ctx, line); err != nil {
				if errors.Is(err, ErrQuit) {
					return nil
				}
				c.printf("error: %v\n", err)
			}
		}
	}
}

// Execute runs one command line.
func (c *Console) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		return fmt.Errorf("unknown input %q, commands start with /", line)
	}

	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	switch command {
	case "/help":
		c.printHelp()
		return nil
	case "/peers":
		c.printPeers(c.opts.Peers.Peers())
		return nil
	case "/discover":
		c.printf("Discovering peers...\n")
		peers, err := c.opts.Peers.Discover(ctx)
		if err != nil {
			return err
		}
		c.printPeers(peers)
		return nil
	case "/connect":
		if rest == "" {
			return errors.New("usage: /connect <peer|host[:port]>")
		}
		target, _ := splitArg(rest)
		address, err := c.resolve(target)
		if err != nil {
			return err
		}
		info, err := c.opts.Messenger.Connect(ctx, address)
		if err != nil {
			return err
		}
		c.printf("Connected to %s (%s)\n", info.PeerName, info.RemoteAddr)
		return nil
	case "/msg":
		peer, text := splitArg(rest)
		if peer == "" || text == "" {
			return errors.New("usage: /msg <peer> <text>")
		}
		if _, err := c.opts.Messenger.SendMessage(ctx, peer, text); err != nil {
			return err
		}
		c.printf("[%s] you: %s\n", peer, text)
		return nil
	case "/send":
		peer, path := splitArg(rest)
		if peer == "" || path == "" {
			return errors.New("usage: /send <peer> <path>")
		}
		path = unquote(path)
		record, err := c.opts.Messenger.SendFile(ctx, peer, path)
		if err != nil {
			return err
		}
		c.printf("Sending %s (%d bytes) to %s\n", record.FileName, record.TotalSize, peer)
		return nil
	case "/disconnect":
		peer, _ := splitArg(rest)
		if peer == "" {
			return errors.New("usage: /disconnect <peer>")
		}
		c.opts.Messenger.Disconnect(peer)
		return nil
	case "/status":
		c.printf("%s\n", c.opts.Messenger.Status())
		return nil
	case "/history":
		peer, _ := splitArg(rest)
		return c.printHistory(peer)
	case "/quit", "/exit":
		return ErrQuit
	default:
		return fmt.Errorf("unknown command %s", command)
	}
}

func (c *Console) pumpEvents(ctx context.Context) {
	events := c.opts.Messenger.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			c.printEvent(event)
		}
	}
}

func (c *Console) printEvent(event network.Event) {
	switch event.Type {
	case network.EventConnected:
		c.printf("* %s connected (%s)\n", event.PeerName, event.Role)
	case network.EventDisconnected:
		c.printf("* %s disconnected\n", event.PeerName)
	case network.EventMessageReceived:
		c.printf("[%s] %s: %s\n", event.PeerName, event.PeerName, event.Text)
	case network.EventFileReceived:
		c.printf("* received %s from %s -> %s\n", event.FileName, event.PeerName, event.Path)
	case network.EventFileSent:
		c.printf("* sent %s to %s\n", event.FileName, event.PeerName)
	case network.EventTransferFailed:
		c.printf("* transfer of %s with %s failed: %v\n", event.FileName, event.PeerName, event.Err)
	case network.EventError:
		c.printf("* error from %s: %v\n", peerLabel(event.PeerName), event.Err)
		if errors.Is(event.Err, network.ErrDecryption) {
			c.keyHintOnce.Do(c.printKeyHint)
		}
	default:
		c.logger.Debug().Str("event", string(event.Type)).Msg("unhandled event")
	}
}

func (c *Console) printPeers(peers []models.PeerRecord) {
	if len(peers) == 0 {
		c.printf("No peers found.\n")
		return
	}
	for _, peer := range peers {
		c.printf("  %-24s %-21s %-9s seen %s\n",
			peer.DisplayName, peer.Endpoint(), peer.Source, peer.LastSeenAt.Format(time.Kitchen))
	}
}

func (c *Console) printHistory(peer string) error {
	if c.opts.History == nil {
		return errors.New("history is not enabled")
	}

	var (
		messages []models.Message
		err      error
	)
	if peer == "" {
		messages, err = c.opts.History.RecentMessages(defaultHistoryLimit)
	} else {
		messages, err = c.opts.History.GetMessages(peer, defaultHistoryLimit, 0)
	}
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		c.printf("No messages.\n")
		return nil
	}
	for _, message := range messages {
		speaker := message.PeerName
		if message.Direction == models.DirectionOutbound {
			speaker = "you"
		}
		at := time.UnixMilli(message.Timestamp).Format("2006-01-02 15:04")
		c.printf("%s [%s] %s: %s\n", at, message.PeerName, speaker, message.Content)
	}
	return nil
}

func (c *Console) printKeyHint() {
	c.printf("  Messages that cannot be decrypted usually mean the devices use different keys.\n")
	if c.opts.KeyFingerprint != "" {
		c.printf("  Compare key fingerprints: this device is %s.\n", c.opts.KeyFingerprint)
	}
	c.printf("  Share the master key file or set the same shared_passphrase in config.json on both devices.\n")
}

func (c *Console) printHelp() {
	c.printf(`Commands:
  /peers                      list known peers
  /discover                   broadcast and list responding peers
  /connect <peer|host[:port]> open a session
  /msg <peer> <text>          send an encrypted message
  /send <peer> <path>         send a file
  /disconnect <peer>          close a session
  /status                     show connections
  /history [peer]             show recent messages
  /quit                       exit
Quote names that contain spaces: /msg "Pixel 8" hi
`)
}

// resolve maps a peer name or host to a dialable host:port.
func (c *Console) resolve(target string) (string, error) {
	if peer, ok := c.opts.Peers.Lookup(target); ok {
		return peer.Endpoint(), nil
	}
	if _, _, err := net.SplitHostPort(target); err == nil {
		return target, nil
	}
	if net.ParseIP(target) == nil && strings.ContainsAny(target, " ") {
		return "", fmt.Errorf("unknown peer %q, run /discover first", target)
	}
	if c.opts.MessagePort <= 0 {
		return "", fmt.Errorf("no port given for %q", target)
	}
	return net.JoinHostPort(target, strconv.Itoa(c.opts.MessagePort)), nil
}

func (c *Console) printf(format string, args ...any) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	_, _ = fmt.Fprintf(c.opts.Out, format, args...)
}

// splitArg returns the first argument, which may be double-quoted, and the
// trimmed remainder.
func splitArg(s string) (string, string) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ""
	}
	if s[0] == '"' {
		if end := strings.IndexByte(s[1:], '"'); end >= 0 {
			return s[1 : end+1], strings.TrimSpace(s[end+2:])
		}
	}
	first, rest, _ := strings.Cut(s, " ")
	return first, strings.TrimSpace(rest)
}

func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

func peerLabel(name string) string {
	if name == "" {
		return "unknown peer"
	}
	return name
}
