package network

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxFrameSize is the maximum accepted control frame payload size (1 MiB).
	MaxFrameSize = 1 << 20
	// DefaultConnectTimeout bounds dialing a peer.
	DefaultConnectTimeout = 10 * time.Second
	// DefaultHandshakeTimeout bounds waiting for the first frame of a session.
	DefaultHandshakeTimeout = 10 * time.Second
	// DefaultStallTimeout bounds each raw read or write during a file run.
	DefaultStallTimeout = 30 * time.Second
)

const (
	prefixHandshake = "HANDSHAKE:"
	prefixMessage   = "MESSAGE:"
	prefixFileStart = "FILE_START:"
	prefixFileEnd   = "FILE_END:"
)

var (
	// ErrFrameTooLarge indicates payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("network: frame exceeds max size")
	// ErrMalformedFrame indicates a frame with an unknown prefix or invalid fields.
	ErrMalformedFrame = errors.New("network: malformed frame")
	// ErrRawPending indicates Next was called while announced file bytes are unread.
	ErrRawPending = errors.New("network: raw file bytes pending")
	// ErrNoRawPending indicates Raw was called without a preceding FILE_START.
	ErrNoRawPending = errors.New("network: no file start pending")
	// ErrLostFileStart indicates a FILE_START that could not be parsed. Its raw
	// run has unknown length, so the stream cannot be framed again.
	ErrLostFileStart = errors.New("network: unreadable file start")
)

// FrameKind identifies a protocol unit.
type FrameKind int

const (
	KindHandshake FrameKind = iota + 1
	KindMessage
	KindFileStart
	// KindFileChunk names the raw bytes between FILE_START and FILE_END. It is never framed.
	KindFileChunk
	KindFileEnd
)

func (k FrameKind) String() string {
	switch k {
	case KindHandshake:
		return "handshake"
	case KindMessage:
		return "message"
	case KindFileStart:
		return "file_start"
	case KindFileChunk:
		return "file_chunk"
	case KindFileEnd:
		return "file_end"
	default:
		return "unknown"
	}
}

// Frame is one decoded control frame.
type Frame struct {
	Kind FrameKind
	// Payload is the device name of a handshake or the Base64 blob of a message.
	Payload  string
	FileName string
	Size     int64
}

// HandshakeFrame announces the local device name.
func HandshakeFrame(deviceName string) Frame {
	return Frame{Kind: KindHandshake, Payload: deviceName}
}

// MessageFrame carries one encrypted Base64 blob.
func MessageFrame(blob string) Frame {
	return Frame{Kind: KindMessage, Payload: blob}
}

// FileStartFrame announces a file of size plaintext bytes.
func FileStartFrame(fileName string, size int64) Frame {
	return Frame{Kind: KindFileStart, FileName: fileName, Size: size}
}

// FileEndFrame closes the raw run of fileName.
func FileEndFrame(fileName string) Frame {
	return Frame{Kind: KindFileEnd, FileName: fileName}
}

// Encode renders the frame as its text line.
func (f Frame) Encode() ([]byte, error) {
	if !utf8.ValidString(f.Payload) || !utf8.ValidString(f.FileName) {
		return nil, fmt.Errorf("%w: invalid UTF-8", ErrMalformedFrame)
	}

	switch f.Kind {
	case KindHandshake:
		if f.Payload == "" {
			return nil, fmt.Errorf("%w: empty device name", ErrMalformedFrame)
		}
		return []byte(prefixHandshake + f.Payload), nil
	case KindMessage:
		return []byte(prefixMessage + f.Payload), nil
	case KindFileStart:
		if f.FileName == "" || f.Size < 0 {
			return nil, fmt.Errorf("%w: file start needs a name and a non-negative size", ErrMalformedFrame)
		}
		return []byte(prefixFileStart + f.FileName + ":" + strconv.FormatInt(f.Size, 10)), nil
	case KindFileEnd:
		if f.FileName == "" {
			return nil, fmt.Errorf("%w: empty file name", ErrMalformedFrame)
		}
		return []byte(prefixFileEnd + f.FileName), nil
	default:
		return nil, fmt.Errorf("%w: %s frames are not encodable", ErrMalformedFrame, f.Kind)
	}
}

// ParseFrame decodes one text line. Prefixes are exact and case-sensitive.
func ParseFrame(line []byte) (Frame, error) {
	if !utf8.Valid(line) {
		return Frame{}, fmt.Errorf("%w: invalid UTF-8", ErrMalformedFrame)
	}
	text := string(line)

	switch {
	case strings.HasPrefix(text, prefixHandshake):
		name := strings.TrimPrefix(text, prefixHandshake)
		if name == "" {
			return Frame{}, fmt.Errorf("%w: empty device name", ErrMalformedFrame)
		}
		return HandshakeFrame(name), nil
	case strings.HasPrefix(text, prefixMessage):
		return MessageFrame(strings.TrimPrefix(text, prefixMessage)), nil
	case strings.HasPrefix(text, prefixFileStart):
		rest := strings.TrimPrefix(text, prefixFileStart)
		idx := strings.LastIndexByte(rest, ':')
		if idx <= 0 {
			return Frame{}, fmt.Errorf("%w: file start without name and size", ErrMalformedFrame)
		}
		size, err := strconv.ParseInt(rest[idx+1:], 10, 64)
		if err != nil || size < 0 {
			return Frame{}, fmt.Errorf("%w: invalid file size %q", ErrMalformedFrame, rest[idx+1:])
		}
		return FileStartFrame(rest[:idx], size), nil
	case strings.HasPrefix(text, prefixFileEnd):
		name := strings.TrimPrefix(text, prefixFileEnd)
		if name == "" {
			return Frame{}, fmt.Errorf("%w: empty file name", ErrMalformedFrame)
		}
		return FileEndFrame(name), nil
	default:
		head, _, _ := strings.Cut(text, ":")
		if len(head) > 32 {
			head = head[:32]
		}
		return Frame{}, fmt.Errorf("%w: unknown prefix %q", ErrMalformedFrame, head)
	}
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}

// EncodeFrame writes f as one length-prefixed frame.
func EncodeFrame(w io.Writer, f Frame) error {
	payload, err := f.Encode()
	if err != nil {
		return err
	}
	return WriteFrame(w, payload)
}

// Decoder reads frames from a stream and hands out the raw run after each FILE_START.
type Decoder struct {
	r            io.Reader
	awaitRaw     bool
	raw          *RawReader
	lastFileName string
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next decodes the next control frame. After a FILE_START the raw run must be
// consumed through Raw before Next succeeds again.
func (d *Decoder) Next() (Frame, error) {
	if d.awaitRaw || (d.raw != nil && d.raw.remaining > 0) {
		return Frame{}, ErrRawPending
	}
	d.raw = nil

	payload, err := ReadFrame(d.r)
	if err != nil {
		return Frame{}, err
	}
	frame, err := ParseFrame(payload)
	if err != nil {
		if bytes.HasPrefix(payload, []byte(prefixFileStart)) {
			d.lastFileName = lostFileName(payload)
			return Frame{}, fmt.Errorf("%w: %w", ErrLostFileStart, err)
		}
		return Frame{}, err
	}

	if frame.Kind == KindFileStart {
		d.awaitRaw = true
		d.lastFileName = frame.FileName
	}
	return frame, nil
}

// LastFileName returns the name of the most recent FILE_START, including one
// that failed to parse.
func (d *Decoder) LastFileName() string {
	return d.lastFileName
}

// lostFileName recovers a printable name from an unparseable FILE_START.
func lostFileName(payload []byte) string {
	rest := bytes.TrimPrefix(payload, []byte(prefixFileStart))
	if idx := bytes.LastIndexByte(rest, ':'); idx > 0 {
		rest = rest[:idx]
	}
	return strings.ToValidUTF8(string(rest), "\uFFFD")
}

// Raw returns a reader over the next n raw bytes announced by the last FILE_START.
func (d *Decoder) Raw(n int64) (*RawReader, error) {
	if !d.awaitRaw {
		return nil, ErrNoRawPending
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative raw length for %q", ErrMalformedFrame, d.lastFileName)
	}
	d.awaitRaw = false
	d.raw = &RawReader{r: d.r, remaining: n}
	return d.raw, nil
}

// RawReader yields exactly the announced number of raw bytes.
type RawReader struct {
	r         io.Reader
	remaining int64
}

func (rr *RawReader) Read(p []byte) (int, error) {
	if rr.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > rr.remaining {
		p = p[:rr.remaining]
	}

	n, err := rr.r.Read(p)
	rr.remaining -= int64(n)
	if errors.Is(err, io.EOF) && rr.remaining > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// Remaining returns the number of raw bytes not yet read.
func (rr *RawReader) Remaining() int64 {
	return rr.remaining
}

// Discard reads and drops the rest of the run.
func (rr *RawReader) Discard() error {
	if _, err := io.Copy(io.Discard, rr); err != nil {
		return err
	}
	if rr.remaining > 0 {
		return io.ErrUnexpectedEOF
	}
	return nil
}
