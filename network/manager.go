package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"p2pchat/models"
	"p2pchat/transfer"
)

const (
	defaultSendWorkers = 4
	defaultEventBuffer = 256
)

var (
	// ErrHandshake indicates the first frame of a session was missing, late or not a handshake.
	ErrHandshake = errors.New("network: handshake failed")
	// ErrConnection indicates dialing or a session read/write failed.
	ErrConnection = errors.New("network: connection failed")
	// ErrDecryption indicates an inbound message blob could not be opened.
	ErrDecryption = errors.New("network: message decryption failed")
	// ErrFatalSocket indicates the listening socket could not be opened or died.
	ErrFatalSocket = errors.New("network: listener failed")
	// ErrNotConnected indicates no registered connection for a peer name.
	ErrNotConnected = errors.New("network: peer not connected")
	// ErrNotStarted indicates the manager has not been started or was stopped.
	ErrNotStarted = errors.New("network: manager is not running")

	errReplaced = errors.New("network: replaced by newer connection")
)

// EventType names manager notifications.
type EventType string

const (
	EventConnected       EventType = "connected"
	EventDisconnected    EventType = "disconnected"
	EventMessageReceived EventType = "message_received"
	EventFileReceived    EventType = "file_received"
	EventFileSent        EventType = "file_sent"
	EventTransferFailed  EventType = "transfer_failed"
	EventError           EventType = "error"
)

// Event is one asynchronous notification from the manager.
type Event struct {
	Type      EventType
	PeerName  string
	Role      Role
	MessageID string
	Text      string
	FileName  string
	Path      string
	Size      int64
	Err       error
	At        time.Time
}

// MessageCipher is the string contract used for MESSAGE payloads.
type MessageCipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(blob string) (string, error)
}

// History persists exchanged messages and transfer outcomes.
type History interface {
	SaveMessage(models.Message) error
	SaveTransfer(models.Transfer) error
}

// Options configures a Manager.
type Options struct {
	DeviceName    string
	ListenAddress string
	Transport     Transport
	Cipher        MessageCipher
	Files         *transfer.Engine
	// History is optional.
	History History
	Logger  *zerolog.Logger

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	StallTimeout     time.Duration
	SendWorkers      int
	EventBuffer      int
}

func (o Options) withDefaults() Options {
	if o.Transport == nil {
		o.Transport = TCPTransport{}
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = DefaultStallTimeout
	}
	if o.SendWorkers <= 0 {
		o.SendWorkers = defaultSendWorkers
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = defaultEventBuffer
	}
	return o
}

// Manager accepts and dials peer sessions, dispatches inbound frames and
// serializes outbound sends through a bounded worker pool.
type Manager struct {
	options Options
	logger  zerolog.Logger

	lifecycleMu sync.Mutex
	listener    net.Listener
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	stopOnce    sync.Once
	stopping    chan struct{}

	sendPool errgroup.Group

	connMu      sync.RWMutex
	connections map[string]*Connection

	eventsMu     sync.RWMutex
	eventsClosed bool
	events       chan Event
}

// NewManager validates options and returns a stopped Manager.
func NewManager(options Options) (*Manager, error) {
	if strings.TrimSpace(options.DeviceName) == "" {
		return nil, errors.New("device name is required")
	}
	if strings.ContainsAny(options.DeviceName, "\r\n") {
		return nil, errors.New("device name must be a single line")
	}
	if options.Cipher == nil {
		return nil, errors.New("cipher is required")
	}
	if options.Files == nil {
		return nil, errors.New("file engine is required")
	}

	options = options.withDefaults()
	logger := zerolog.Nop()
	if options.Logger != nil {
		logger = *options.Logger
	}

	manager := &Manager{
		options:     options,
		logger:      logger.With().Str("component", "network").Logger(),
		stopping:    make(chan struct{}),
		connections: make(map[string]*Connection),
		events:      make(chan Event, options.EventBuffer),
	}
	manager.sendPool.SetLimit(options.SendWorkers)
	return manager, nil
}

// Start opens the listener and begins accepting sessions.
func (m *Manager) Start() error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.ctx != nil {
		return nil
	}

	listener, err := m.options.Transport.Listen(m.options.ListenAddress)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFatalSocket, err)
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.listener = listener

	m.wg.Add(1)
	go m.acceptLoop()

	m.logger.Info().Str("addr", listener.Addr().String()).Msg("listening for peers")
	return nil
}

// Stop closes the listener and every connection, then closes the event channel.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopping)

		m.lifecycleMu.Lock()
		cancel := m.cancel
		listener := m.listener
		m.lifecycleMu.Unlock()

		if cancel != nil {
			cancel()
			_ = listener.Close()
		}

		m.connMu.RLock()
		active := make([]*Connection, 0, len(m.connections))
		for _, conn := range m.connections {
			active = append(active, conn)
		}
		m.connMu.RUnlock()
		for _, conn := range active {
			m.teardown(conn, nil)
		}

		m.wg.Wait()
		_ = m.sendPool.Wait()

		m.eventsMu.Lock()
		m.eventsClosed = true
		close(m.events)
		m.eventsMu.Unlock()
	})
}

// Addr returns the listening address.
func (m *Manager) Addr() net.Addr {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.listener == nil {
		return nil
	}
	return m.listener.Addr()
}

// Events returns the notification channel. It is closed by Stop.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// Connect dials address, exchanges handshakes and registers the session as Client.
func (m *Manager) Connect(ctx context.Context, address string) (ConnectionInfo, error) {
	runCtx, err := m.runContext()
	if err != nil {
		return ConnectionInfo{}, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.options.ConnectTimeout)
	defer cancel()

	raw, err := m.options.Transport.Dial(dialCtx, address)
	if err != nil {
		return ConnectionInfo{}, fmt.Errorf("%w: %w", ErrConnection, err)
	}

	conn := newConnection(raw, RoleClient, m.options.StallTimeout)
	stopOnCancel := context.AfterFunc(ctx, func() { _ = raw.Close() })
	defer stopOnCancel()
	stopOnShutdown := context.AfterFunc(runCtx, func() { _ = raw.Close() })
	defer stopOnShutdown()

	conn.setState(StateHandshakePending)
	if err := conn.WriteFrame(HandshakeFrame(m.options.DeviceName)); err != nil {
		conn.closeWithError(err)
		return ConnectionInfo{}, fmt.Errorf("%w: send handshake: %w", ErrHandshake, err)
	}

	decoder := NewDecoder(conn.reader)
	peerName, err := m.awaitHandshake(conn, decoder)
	if err != nil {
		conn.closeWithError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ConnectionInfo{}, fmt.Errorf("%w: %w", ErrHandshake, ctxErr)
		}
		return ConnectionInfo{}, err
	}

	conn.peerName = peerName
	if !m.register(conn) {
		return ConnectionInfo{}, ErrNotStarted
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.readLoop(conn, decoder)
	}()
	return conn.Info(), nil
}

// Disconnect closes the session with peerName. Unknown peers are a no-op.
func (m *Manager) Disconnect(peerName string) {
	if conn := m.connection(peerName); conn != nil {
		m.teardown(conn, nil)
	}
}

// Connections returns registered sessions sorted by peer name.
func (m *Manager) Connections() []ConnectionInfo {
	m.connMu.RLock()
	infos := make([]ConnectionInfo, 0, len(m.connections))
	for _, conn := range m.connections {
		infos = append(infos, conn.Info())
	}
	m.connMu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].PeerName < infos[j].PeerName
	})
	return infos
}

// Status summarizes the registered sessions for display.
func (m *Manager) Status() string {
	infos := m.Connections()
	if len(infos) == 0 {
		return "Not connected"
	}

	parts := make([]string, 0, len(infos))
	for _, info := range infos {
		parts = append(parts, fmt.Sprintf("%s (%s, %s)", info.PeerName, info.Role, info.RemoteAddr))
	}
	return fmt.Sprintf("Connected to %d peer(s): %s", len(infos), strings.Join(parts, ", "))
}

// SendMessage encrypts text and writes it to peerName. It waits for the write to finish.
func (m *Manager) SendMessage(ctx context.Context, peerName, text string) (models.Message, error) {
	conn := m.connection(peerName)
	if conn == nil {
		return models.Message{}, fmt.Errorf("%w: %q", ErrNotConnected, peerName)
	}

	blob, err := m.options.Cipher.Encrypt(text)
	if err != nil {
		return models.Message{}, fmt.Errorf("encrypt message: %w", err)
	}

	err = m.submit(ctx, func() error {
		return conn.WriteFrame(MessageFrame(blob))
	})
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			m.teardown(conn, fmt.Errorf("%w: %w", ErrConnection, err))
		}
		return models.Message{}, err
	}

	message := models.Message{
		MessageID: uuid.NewString(),
		PeerName:  peerName,
		Direction: models.DirectionOutbound,
		Content:   text,
		Timestamp: time.Now().UnixMilli(),
	}
	m.saveMessage(message)
	return message, nil
}

// SendFile streams the file at path to peerName as one FILE_START, raw run and
// FILE_END under the connection's write lock.
func (m *Manager) SendFile(ctx context.Context, peerName, path string) (models.Transfer, error) {
	conn := m.connection(peerName)
	if conn == nil {
		return models.Transfer{}, fmt.Errorf("%w: %q", ErrNotConnected, peerName)
	}

	file, err := os.Open(path)
	if err != nil {
		return models.Transfer{}, fmt.Errorf("open file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	info, err := file.Stat()
	if err != nil {
		return models.Transfer{}, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return models.Transfer{}, fmt.Errorf("%q is a directory", path)
	}

	// Names that are not valid UTF-8 cannot be framed.
	fileName := strings.ToValidUTF8(filepath.Base(path), "_")
	size := info.Size()
	if err := transfer.CheckSize(size); err != nil {
		return models.Transfer{}, fmt.Errorf("send %q: %w", fileName, err)
	}
	record := models.Transfer{
		TransferID: uuid.NewString(),
		PeerName:   peerName,
		Direction:  models.DirectionOutbound,
		FileName:   fileName,
		TotalSize:  size,
		StoredPath: path,
		Timestamp:  time.Now().UnixMilli(),
	}

	var sent int64
	err = m.submit(ctx, func() error {
		return conn.withWriter(func(w io.Writer) error {
			if err := EncodeFrame(w, FileStartFrame(fileName, size)); err != nil {
				return err
			}
			n, err := m.options.Files.Send(w, fileName, file, size)
			sent = n
			if err != nil {
				return err
			}
			return EncodeFrame(w, FileEndFrame(fileName))
		})
	})
	record.BytesWritten = sent

	if err != nil {
		// A partial raw run cannot be resynchronized; the session has to go.
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			m.teardown(conn, fmt.Errorf("%w: %w", ErrConnection, err))
		}
		record.Status = models.TransferStatusFailed
		record.Error = err.Error()
		m.saveTransfer(record)
		m.emit(Event{Type: EventTransferFailed, PeerName: peerName, FileName: fileName, Size: size, Err: err})
		return record, fmt.Errorf("send %q: %w", fileName, err)
	}

	record.Status = models.TransferStatusComplete
	m.saveTransfer(record)
	m.emit(Event{Type: EventFileSent, PeerName: peerName, FileName: fileName, Path: path, Size: size})
	m.logger.Info().Str("peer", peerName).Str("file", fileName).Int64("size", size).Msg("file sent")
	return record, nil
}

func (m *Manager) acceptLoop() {
	defer m.wg.Done()

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 10 * time.Millisecond
	retry.MaxInterval = time.Second
	retry.MaxElapsedTime = 0
	retry.Reset()

	for {
		raw, err := m.listener.Accept()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			if errors.Is(err, net.ErrClosed) {
				m.logger.Error().Err(err).Msg("listener closed unexpectedly")
				m.emit(Event{Type: EventError, Err: fmt.Errorf("%w: %w", ErrFatalSocket, err)})
				return
			}

			delay := retry.NextBackOff()
			m.logger.Warn().Err(err).Dur("retry_in", delay).Msg("accept failed")
			select {
			case <-time.After(delay):
			case <-m.ctx.Done():
				return
			}
			continue
		}
		retry.Reset()

		m.wg.Add(1)
		go m.handleInbound(raw)
	}
}

func (m *Manager) handleInbound(raw net.Conn) {
	defer m.wg.Done()

	conn := newConnection(raw, RoleHost, m.options.StallTimeout)
	stopOnShutdown := context.AfterFunc(m.ctx, func() { _ = raw.Close() })
	conn.setState(StateHandshakePending)

	decoder := NewDecoder(conn.reader)
	peerName, err := m.awaitHandshake(conn, decoder)
	if err == nil {
		if err = conn.WriteFrame(HandshakeFrame(m.options.DeviceName)); err != nil {
			err = fmt.Errorf("%w: reply: %w", ErrHandshake, err)
		}
	}
	stopOnShutdown()

	if err != nil {
		conn.closeWithError(err)
		if m.ctx.Err() == nil {
			m.logger.Warn().Err(err).Str("remote", conn.remoteAddr).Msg("inbound handshake rejected")
			m.emit(Event{Type: EventError, Err: err})
		}
		return
	}

	conn.peerName = peerName
	if !m.register(conn) {
		return
	}
	m.readLoop(conn, decoder)
}

func (m *Manager) awaitHandshake(conn *Connection, decoder *Decoder) (string, error) {
	if err := conn.conn.SetReadDeadline(time.Now().Add(m.options.HandshakeTimeout)); err != nil {
		return "", fmt.Errorf("%w: set deadline: %w", ErrHandshake, err)
	}

	frame, err := decoder.Next()
	if err != nil {
		return "", fmt.Errorf("%w: from %s: %w", ErrHandshake, conn.remoteAddr, err)
	}
	if frame.Kind != KindHandshake {
		return "", fmt.Errorf("%w: from %s: expected handshake, got %s", ErrHandshake, conn.remoteAddr, frame.Kind)
	}

	if err := conn.conn.SetReadDeadline(time.Time{}); err != nil {
		return "", fmt.Errorf("%w: clear deadline: %w", ErrHandshake, err)
	}
	return frame.Payload, nil
}

// register installs conn under its peer name, replacing an older session.
func (m *Manager) register(conn *Connection) bool {
	conn.connectedAt = time.Now()
	conn.setState(StateConnected)
	conn.registered.Store(true)

	m.connMu.Lock()
	if m.ctx.Err() != nil {
		m.connMu.Unlock()
		conn.closeWithError(ErrNotStarted)
		return false
	}
	previous := m.connections[conn.peerName]
	m.connections[conn.peerName] = conn
	m.connMu.Unlock()

	if previous != nil {
		m.teardown(previous, errReplaced)
	}

	m.logger.Info().Str("peer", conn.peerName).Str("role", string(conn.role)).Str("remote", conn.remoteAddr).Msg("peer connected")
	m.emit(Event{Type: EventConnected, PeerName: conn.peerName, Role: conn.role})
	return true
}

// teardown closes conn, unregisters it and emits exactly one disconnected event.
func (m *Manager) teardown(conn *Connection, cause error) {
	if !conn.closeWithError(cause) {
		return
	}

	m.connMu.Lock()
	if m.connections[conn.peerName] == conn {
		delete(m.connections, conn.peerName)
	}
	m.connMu.Unlock()

	if !conn.registered.Load() {
		return
	}

	logEvent := m.logger.Info()
	if cause != nil && !errors.Is(cause, errReplaced) {
		logEvent = m.logger.Warn().Err(cause)
	}
	logEvent.Str("peer", conn.peerName).Msg("peer disconnected")
	m.emit(Event{Type: EventDisconnected, PeerName: conn.peerName, Role: conn.role, Err: cause})
}

func (m *Manager) readLoop(conn *Connection, decoder *Decoder) {
	var cause error
	pendingEnd := ""
	for {
		frame, err := decoder.Next()
		if err != nil {
			if errors.Is(err, ErrLostFileStart) {
				m.failInbound(conn, models.Transfer{FileName: decoder.LastFileName()}, err)
				cause = fmt.Errorf("%w: %w", ErrConnection, err)
				break
			}
			if errors.Is(err, ErrMalformedFrame) {
				m.logger.Debug().Err(err).Str("peer", conn.peerName).Msg("dropping malformed frame")
				m.emit(Event{Type: EventError, PeerName: conn.peerName, Err: err})
				continue
			}
			if !isClosedErr(err) {
				cause = fmt.Errorf("%w: %w", ErrConnection, err)
			}
			break
		}

		if pendingEnd != "" && frame.Kind != KindFileEnd {
			m.logger.Warn().Str("peer", conn.peerName).Str("file", pendingEnd).Msg("file end missing")
			pendingEnd = ""
		}

		switch frame.Kind {
		case KindMessage:
			m.handleMessage(conn, frame)
		case KindFileStart:
			if err := m.receiveFile(conn, decoder, frame); err != nil {
				cause = fmt.Errorf("%w: %w", ErrConnection, err)
			} else {
				pendingEnd = frame.FileName
			}
		case KindFileEnd:
			if frame.FileName != pendingEnd {
				m.logger.Debug().Str("peer", conn.peerName).Str("file", frame.FileName).Msg("unexpected file end")
			}
			pendingEnd = ""
		case KindHandshake:
			m.logger.Debug().Str("peer", conn.peerName).Msg("ignoring repeated handshake")
		}
		if cause != nil {
			break
		}
	}

	m.teardown(conn, cause)
}

func (m *Manager) handleMessage(conn *Connection, frame Frame) {
	text, err := m.options.Cipher.Decrypt(frame.Payload)
	if err != nil {
		err = fmt.Errorf("%w: from %q: %w", ErrDecryption, conn.peerName, err)
		m.logger.Warn().Err(err).Msg("discarding message")
		m.emit(Event{Type: EventError, PeerName: conn.peerName, Err: err})
		return
	}

	message := models.Message{
		MessageID: uuid.NewString(),
		PeerName:  conn.peerName,
		Direction: models.DirectionInbound,
		Content:   text,
		Timestamp: time.Now().UnixMilli(),
	}
	m.saveMessage(message)
	m.emit(Event{Type: EventMessageReceived, PeerName: conn.peerName, MessageID: message.MessageID, Text: text})
}

// receiveFile consumes the raw run announced by start. A returned error means
// the stream can no longer be framed and the session must end.
func (m *Manager) receiveFile(conn *Connection, decoder *Decoder, start Frame) error {
	files := m.options.Files
	record := models.Transfer{
		FileName:  start.FileName,
		TotalSize: start.Size,
	}

	if err := transfer.CheckSize(start.Size); err != nil {
		err = fmt.Errorf("%q: %w", start.FileName, err)
		m.failInbound(conn, record, err)
		return err
	}
	raw, err := decoder.Raw(files.WireSize(start.Size))
	if err != nil {
		m.failInbound(conn, record, err)
		return err
	}

	conn.reader.timeout = m.options.StallTimeout
	defer func() {
		conn.reader.timeout = 0
		_ = conn.conn.SetReadDeadline(time.Time{})
	}()

	var finalPath string
	sink, err := files.BeginReceive(start.FileName, start.Size)
	if err == nil {
		finalPath, err = files.Receive(raw, sink)
		record.BytesWritten = sink.BytesWritten()
	}

	if err != nil {
		m.failInbound(conn, record, err)
		if streamBroken(err) {
			return err
		}
		if raw.Remaining() > 0 {
			if derr := raw.Discard(); derr != nil {
				return fmt.Errorf("discard file bytes: %w", derr)
			}
		}
		return nil
	}

	record.TransferID = uuid.NewString()
	record.PeerName = conn.peerName
	record.Direction = models.DirectionInbound
	record.Status = models.TransferStatusComplete
	record.StoredPath = finalPath
	record.Timestamp = time.Now().UnixMilli()
	if sum, err := transfer.FileChecksum(finalPath); err == nil {
		record.Checksum = sum
	}
	m.saveTransfer(record)

	m.logger.Info().Str("peer", conn.peerName).Str("file", start.FileName).Str("path", finalPath).Str("sha256", record.Checksum).Msg("file received")
	m.emit(Event{Type: EventFileReceived, PeerName: conn.peerName, FileName: start.FileName, Path: finalPath, Size: start.Size})
	return nil
}

// failInbound records and reports a failed inbound transfer.
func (m *Manager) failInbound(conn *Connection, record models.Transfer, err error) {
	record.TransferID = uuid.NewString()
	record.PeerName = conn.peerName
	record.Direction = models.DirectionInbound
	record.Status = models.TransferStatusFailed
	record.Error = err.Error()
	record.Timestamp = time.Now().UnixMilli()
	m.saveTransfer(record)

	m.logger.Warn().Err(err).Str("peer", conn.peerName).Str("file", record.FileName).Msg("file transfer failed")
	m.emit(Event{Type: EventTransferFailed, PeerName: conn.peerName, FileName: record.FileName, Size: record.TotalSize, Err: err})
}

// streamBroken reports read failures after which the rest of a raw run cannot
// be drained.
func streamBroken(err error) bool {
	if errors.Is(err, transfer.ErrTruncated) || errors.Is(err, io.ErrUnexpectedEOF) || isClosedErr(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// submit runs fn on the send pool and waits for its result. ctx only cancels
// jobs that have not started; a started write is bounded by the stall timeout.
func (m *Manager) submit(ctx context.Context, fn func() error) error {
	if _, err := m.runContext(); err != nil {
		return err
	}

	result := make(chan error, 1)
	m.sendPool.Go(func() error {
		if err := ctx.Err(); err != nil {
			result <- err
			return nil
		}
		result <- fn()
		return nil
	})
	return <-result
}

func (m *Manager) runContext() (context.Context, error) {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()
	if m.ctx == nil || m.ctx.Err() != nil {
		return nil, ErrNotStarted
	}
	return m.ctx, nil
}

func (m *Manager) connection(peerName string) *Connection {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connections[peerName]
}

func (m *Manager) emit(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	m.eventsMu.RLock()
	defer m.eventsMu.RUnlock()
	if m.eventsClosed {
		return
	}
	select {
	case m.events <- event:
		return
	default:
	}

	// Disconnects wait for room until Stop begins.
	if event.Type == EventDisconnected {
		select {
		case m.events <- event:
			return
		case <-m.stopping:
		}
	}
	m.logger.Warn().Str("event", string(event.Type)).Str("peer", event.PeerName).Msg("event channel full, dropping event")
}

func (m *Manager) saveMessage(message models.Message) {
	if m.options.History == nil {
		return
	}
	if err := m.options.History.SaveMessage(message); err != nil {
		m.logger.Error().Err(err).Str("message_id", message.MessageID).Msg("save message")
	}
}

func (m *Manager) saveTransfer(record models.Transfer) {
	if m.options.History == nil {
		return
	}
	if err := m.options.History.SaveTransfer(record); err != nil {
		m.logger.Error().Err(err).Str("transfer_id", record.TransferID).Msg("save transfer")
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
