package transfer

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf8"
)

const (
	maxFileNameLength = 200
	fallbackFileName  = "received.bin"
)

// Sink collects one inbound file. Bytes land in a hidden partial file that is
// renamed into the receive directory only once the declared size is complete.
type Sink struct {
	engine *Engine

	// Name is the file name as declared by the sender.
	Name string
	// SafeName is Name after sanitization.
	SafeName  string
	TotalSize int64

	mu       sync.Mutex
	written  int64
	file     *os.File
	tempPath string
	closed   bool
}

// Write appends p. A write that would pass TotalSize is rejected whole.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSinkClosed
	}
	if s.written+int64(len(p)) > s.TotalSize {
		return 0, fmt.Errorf("%w: %q has %d of %d bytes, got %d more", ErrOverflow, s.Name, s.written, s.TotalSize, len(p))
	}

	n, err := s.file.Write(p)
	s.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("write partial file: %w", err)
	}
	return n, nil
}

// BytesWritten returns the number of bytes accepted so far.
func (s *Sink) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Finish closes the sink and moves the file into place, returning its final path.
// A sink that has not reached TotalSize is aborted instead.
func (s *Sink) Finish() (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSinkClosed
	}
	if s.written != s.TotalSize {
		written := s.written
		s.mu.Unlock()
		_ = s.Abort()
		return "", fmt.Errorf("%w: %q has %d of %d bytes", ErrIncomplete, s.Name, written, s.TotalSize)
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.file.Close(); err != nil {
		_ = os.Remove(s.tempPath)
		return "", fmt.Errorf("close partial file: %w", err)
	}

	finalPath, err := s.engine.finalize(s.tempPath, s.SafeName)
	if err != nil {
		_ = os.Remove(s.tempPath)
		return "", err
	}
	return finalPath, nil
}

// Abort discards the partial file. Calling it on a closed sink is a no-op.
func (s *Sink) Abort() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.file.Close()
	if err := os.Remove(s.tempPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove partial file: %w", err)
	}
	return nil
}

// SanitizeFileName reduces a sender-supplied name to a plain base name that
// cannot escape the receive directory.
func SanitizeFileName(name string) string {
	name = strings.ToValidUTF8(name, "_")
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`<>:"|?*`, r) {
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, " .")

	if name == "" || name == "/" {
		return fallbackFileName
	}

	if len(name) > maxFileNameLength {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		stem := name[:maxFileNameLength-len(ext)]
		for !utf8.ValidString(stem) {
			stem = stem[:len(stem)-1]
		}
		name = stem + ext
	}
	return name
}
