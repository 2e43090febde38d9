package transfer

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const (
	// DefaultBlockSize is the plaintext size of one raw block on the wire.
	DefaultBlockSize = 8 * 1024
	// MaxFileSize is the largest file a FILE_START may announce (1 PiB).
	MaxFileSize int64 = 1 << 50
)

var (
	// ErrTransfer is the umbrella error for failed inbound transfers.
	ErrTransfer = errors.New("transfer: failed")
	// ErrTruncated indicates the stream closed before the declared size arrived.
	ErrTruncated = fmt.Errorf("%w: stream ended before declared size", ErrTransfer)
	// ErrTooLarge indicates a declared size above MaxFileSize.
	ErrTooLarge = fmt.Errorf("%w: declared size exceeds limit", ErrTransfer)
	// ErrOverflow indicates a write past the declared size.
	ErrOverflow = fmt.Errorf("%w: write exceeds declared size", ErrTransfer)
	// ErrIncomplete indicates Finish was called before the declared size was written.
	ErrIncomplete = fmt.Errorf("%w: sink finished before declared size", ErrTransfer)
	// ErrSinkClosed indicates a write to a finished or aborted sink.
	ErrSinkClosed = errors.New("transfer: sink closed")
)

// BlockCipher seals each raw block of a file stream.
type BlockCipher interface {
	SealBlock(plaintext, additionalData []byte) ([]byte, error)
	OpenBlock(blob, additionalData []byte) ([]byte, error)
	Overhead() int
}

// Options configures an Engine.
type Options struct {
	// Dir receives completed files.
	Dir string
	// BlockSize is the plaintext block size; DefaultBlockSize when zero.
	BlockSize int
	// Cipher seals blocks when set. Both ends must agree.
	Cipher BlockCipher
}

// Engine streams outbound files and reassembles inbound byte runs into files.
type Engine struct {
	dir       string
	blockSize int
	cipher    BlockCipher

	// finalizeMu serializes collision checks and renames into dir.
	finalizeMu sync.Mutex
}

// NewEngine creates the receive directory and returns an Engine.
func NewEngine(options Options) (*Engine, error) {
	if strings.TrimSpace(options.Dir) == "" {
		return nil, errors.New("receive directory is required")
	}
	if options.BlockSize <= 0 {
		options.BlockSize = DefaultBlockSize
	}
	if err := os.MkdirAll(options.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("create receive directory: %w", err)
	}

	return &Engine{
		dir:       options.Dir,
		blockSize: options.BlockSize,
		cipher:    options.Cipher,
	}, nil
}

// Dir returns the receive directory.
func (e *Engine) Dir() string {
	return e.dir
}

// Encrypted reports whether raw blocks are sealed.
func (e *Engine) Encrypted() bool {
	return e.cipher != nil
}

// CheckSize reports whether size may be announced in a FILE_START.
func CheckSize(size int64) error {
	if size < 0 {
		return fmt.Errorf("invalid file size %d", size)
	}
	if size > MaxFileSize {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	return nil
}

// WireSize returns the number of raw bytes that follow a FILE_START for a file
// of size bytes. Sizes are clamped to 0..MaxFileSize.
func (e *Engine) WireSize(size int64) int64 {
	size = min(max(size, 0), MaxFileSize)
	if e.cipher == nil || size == 0 {
		return size
	}
	blocks := size / int64(e.blockSize)
	if size%int64(e.blockSize) != 0 {
		blocks++
	}
	return size + blocks*int64(e.cipher.Overhead())
}

// Send writes exactly size bytes of src to w as the raw run of fileName.
// It returns the number of plaintext bytes sent.
func (e *Engine) Send(w io.Writer, fileName string, src io.Reader, size int64) (int64, error) {
	if err := CheckSize(size); err != nil {
		return 0, err
	}

	buf := make([]byte, e.blockSize)
	var sent int64
	for index := 0; sent < size; index++ {
		n := int(min(int64(e.blockSize), size-sent))
		if _, err := io.ReadFull(src, buf[:n]); err != nil {
			return sent, fmt.Errorf("read block %d of %q: %w", index, fileName, err)
		}

		block := buf[:n]
		if e.cipher != nil {
			sealed, err := e.cipher.SealBlock(block, blockAAD(fileName, index))
			if err != nil {
				return sent, fmt.Errorf("seal block %d of %q: %w", index, fileName, err)
			}
			block = sealed
		}

		if _, err := w.Write(block); err != nil {
			return sent, fmt.Errorf("write block %d of %q: %w", index, fileName, err)
		}
		sent += int64(n)
	}

	return sent, nil
}

// BeginReceive opens a sink for an announced file.
func (e *Engine) BeginReceive(fileName string, totalSize int64) (*Sink, error) {
	if err := CheckSize(totalSize); err != nil {
		return nil, err
	}

	safeName := SanitizeFileName(fileName)
	file, err := os.CreateTemp(e.dir, "."+safeName+".*.part")
	if err != nil {
		return nil, fmt.Errorf("create partial file: %w", err)
	}

	return &Sink{
		engine:    e,
		Name:      fileName,
		SafeName:  safeName,
		TotalSize: totalSize,
		file:      file,
		tempPath:  file.Name(),
	}, nil
}

// Receive reads the raw run for sink from r, writes it and finishes the sink.
// On any failure the partial file is removed.
func (e *Engine) Receive(r io.Reader, sink *Sink) (string, error) {
	overhead := 0
	if e.cipher != nil {
		overhead = e.cipher.Overhead()
	}

	buf := make([]byte, e.blockSize+overhead)
	for index := 0; sink.BytesWritten() < sink.TotalSize; index++ {
		n := int(min(int64(e.blockSize), sink.TotalSize-sink.BytesWritten()))
		wire := buf[:n+overhead]

		if _, err := io.ReadFull(r, wire); err != nil {
			_ = sink.Abort()
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return "", fmt.Errorf("%w: %q received %d of %d bytes", ErrTruncated, sink.Name, sink.BytesWritten(), sink.TotalSize)
			}
			return "", fmt.Errorf("%w: read block %d of %q: %w", ErrTransfer, index, sink.Name, err)
		}

		block := wire
		if e.cipher != nil {
			opened, err := e.cipher.OpenBlock(wire, blockAAD(sink.Name, index))
			if err != nil {
				_ = sink.Abort()
				return "", fmt.Errorf("%w: block %d of %q: %w", ErrTransfer, index, sink.Name, err)
			}
			block = opened
		}

		if _, err := sink.Write(block); err != nil {
			_ = sink.Abort()
			return "", err
		}
	}

	return sink.Finish()
}

func (e *Engine) finalize(tempPath, safeName string) (string, error) {
	e.finalizeMu.Lock()
	defer e.finalizeMu.Unlock()

	ext := filepath.Ext(safeName)
	stem := strings.TrimSuffix(safeName, ext)
	candidate := filepath.Join(e.dir, safeName)
	for n := 1; ; n++ {
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			break
		} else if err != nil {
			return "", fmt.Errorf("stat %q: %w", candidate, err)
		}
		candidate = filepath.Join(e.dir, stem+" ("+strconv.Itoa(n)+")"+ext)
	}

	if err := os.Rename(tempPath, candidate); err != nil {
		return "", fmt.Errorf("move received file into place: %w", err)
	}
	return candidate, nil
}

// FileChecksum returns the SHA-256 hex digest of a file.
func FileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open file for checksum: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func blockAAD(fileName string, index int) []byte {
	return []byte(fileName + "|" + strconv.Itoa(index))
}
