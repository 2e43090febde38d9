package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	// MasterKeySize is the required master key length in bytes.
	MasterKeySize = 32
	// DefaultPassphraseSalt is used when a passphrase source has no explicit salt.
	DefaultPassphraseSalt = "p2pchat-lan-v1"

	masterKeyPEMType = "P2PCHAT MASTER KEY"

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

// KeySource supplies the master symmetric key. Rotation policy belongs to the source.
type KeySource interface {
	MasterKey() ([]byte, error)
}

// StaticKey is an in-memory key source.
type StaticKey []byte

// MasterKey returns a copy of the key.
func (k StaticKey) MasterKey() ([]byte, error) {
	if len(k) != MasterKeySize {
		return nil, fmt.Errorf("invalid static key length: got %d want %d", len(k), MasterKeySize)
	}
	return append([]byte(nil), k...), nil
}

// FileKeySource keeps the master key in a PEM file, generating it on first use.
type FileKeySource struct {
	Path string
}

// MasterKey loads or creates the key file.
func (s FileKeySource) MasterKey() ([]byte, error) {
	if strings.TrimSpace(s.Path) == "" {
		return nil, errors.New("master key path is required")
	}
	return EnsureMasterKey(s.Path)
}

// PassphraseKeySource stretches a passphrase shared between devices into a master key.
type PassphraseKeySource struct {
	Passphrase string
	Salt       string
}

// MasterKey derives the key with scrypt.
func (s PassphraseKeySource) MasterKey() ([]byte, error) {
	if strings.TrimSpace(s.Passphrase) == "" {
		return nil, errors.New("passphrase is required")
	}
	salt := s.Salt
	if salt == "" {
		salt = DefaultPassphraseSalt
	}

	key, err := scrypt.Key([]byte(s.Passphrase), []byte(salt), scryptN, scryptR, scryptP, MasterKeySize)
	if err != nil {
		return nil, fmt.Errorf("derive passphrase key: %w", err)
	}
	return key, nil
}

// EnsureMasterKey loads a master key from disk, generating it if absent.
func EnsureMasterKey(path string) ([]byte, error) {
	key, err := LoadMasterKey(path)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	key, err = GenerateMasterKey()
	if err != nil {
		return nil, err
	}
	if err := SaveMasterKey(path, key); err != nil {
		return nil, err
	}

	return key, nil
}

// GenerateMasterKey returns a fresh random master key.
func GenerateMasterKey() ([]byte, error) {
	key := make([]byte, MasterKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate master key: %w", err)
	}
	return key, nil
}

// LoadMasterKey reads a master key from PEM.
func LoadMasterKey(path string) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read master key: %w", err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("decode master key PEM: no PEM block")
	}
	if block.Type != masterKeyPEMType {
		return nil, fmt.Errorf("decode master key PEM: unexpected type %q", block.Type)
	}
	if len(block.Bytes) != MasterKeySize {
		return nil, fmt.Errorf("decode master key PEM: invalid key size %d", len(block.Bytes))
	}

	return block.Bytes, nil
}

// SaveMasterKey writes a master key PEM file with 0600 permissions.
func SaveMasterKey(path string, key []byte) error {
	if len(key) != MasterKeySize {
		return fmt.Errorf("save master key: invalid key size %d", len(key))
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	block := &pem.Block{
		Type:  masterKeyPEMType,
		Bytes: key,
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("write master key: %w", err)
	}

	return nil
}

// KeyFingerprint returns a hex fingerprint derived from the master key.
// Two devices can compare fingerprints to confirm they share a key.
func KeyFingerprint(master []byte) (string, error) {
	if len(master) != MasterKeySize {
		return "", fmt.Errorf("invalid master key length: got %d want %d", len(master), MasterKeySize)
	}
	sum, err := deriveSubkey(master, purposeFingerprint)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum[:8]), nil
}

// FormatFingerprint returns fingerprint text grouped in chunks of 4 uppercase chars.
func FormatFingerprint(fingerprint string) string {
	clean := strings.ToUpper(strings.ReplaceAll(fingerprint, " ", ""))
	if clean == "" {
		return ""
	}

	var b strings.Builder
	for i := 0; i < len(clean); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}

		end := min(i+4, len(clean))
		b.WriteString(clean[i:end])
	}

	return b.String()
}
