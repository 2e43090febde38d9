package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// SuiteAES256GCM seals payloads with AES-256-GCM.
	SuiteAES256GCM = "aes-256-gcm"
	// SuiteChaCha20Poly1305 seals payloads with ChaCha20-Poly1305.
	SuiteChaCha20Poly1305 = "chacha20-poly1305"

	// NonceSize is the per-blob random nonce length.
	NonceSize = 12
	// TagSize is the authentication tag length appended by the AEAD.
	TagSize = 16
	// Overhead is the number of bytes a sealed blob adds to its plaintext.
	Overhead = NonceSize + TagSize

	subkeySize = 32
)

// Purpose separates subkeys so a blob sealed for one use cannot be opened as another.
type Purpose string

const (
	PurposeMessage     Purpose = "message"
	PurposeFile        Purpose = "file"
	purposeFingerprint Purpose = "fingerprint"
)

// ErrAuthentication is returned for tampered, truncated or undecodable blobs.
var ErrAuthentication = errors.New("crypto: message authentication failed")

// Cipher is the payload encryption service. The master key is pulled from its
// KeySource on first use and cached for the lifetime of the Cipher.
type Cipher struct {
	source KeySource
	suite  string

	mu    sync.Mutex
	aeads map[Purpose]cipher.AEAD
}

// NewCipher validates the suite and returns a Cipher bound to source.
func NewCipher(source KeySource, suite string) (*Cipher, error) {
	if source == nil {
		return nil, errors.New("key source is required")
	}

	switch suite {
	case "":
		suite = SuiteAES256GCM
	case SuiteAES256GCM, SuiteChaCha20Poly1305:
	default:
		return nil, fmt.Errorf("unsupported cipher suite %q", suite)
	}

	return &Cipher{
		source: source,
		suite:  suite,
		aeads:  make(map[Purpose]cipher.AEAD),
	}, nil
}

// Suite returns the configured AEAD suite name.
func (c *Cipher) Suite() string {
	return c.suite
}

// Seal encrypts plaintext and returns nonce || ciphertext || tag.
func (c *Cipher) Seal(purpose Purpose, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := c.aead(purpose)
	if err != nil {
		return nil, err
	}

	out := make([]byte, NonceSize, NonceSize+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(out, out[:NonceSize], plaintext, additionalData), nil
}

// Open verifies and decrypts a blob produced by Seal.
func (c *Cipher) Open(purpose Purpose, blob, additionalData []byte) ([]byte, error) {
	if len(blob) < Overhead {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", ErrAuthentication, len(blob))
	}

	aead, err := c.aead(purpose)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	plaintext, err := aead.Open(nil, blob[:NonceSize], blob[NonceSize:], additionalData)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// Encrypt seals a text message and returns it as standard Base64.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	blob, err := c.Seal(PurposeMessage, []byte(plaintext), nil)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// Decrypt reverses Encrypt. Any decoding or verification failure yields ErrAuthentication.
func (c *Cipher) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", fmt.Errorf("%w: decode base64: %w", ErrAuthentication, err)
	}

	plaintext, err := c.Open(PurposeMessage, raw, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// SealBlock seals one block of a file stream.
func (c *Cipher) SealBlock(plaintext, additionalData []byte) ([]byte, error) {
	return c.Seal(PurposeFile, plaintext, additionalData)
}

// OpenBlock opens one block of a file stream.
func (c *Cipher) OpenBlock(blob, additionalData []byte) ([]byte, error) {
	return c.Open(PurposeFile, blob, additionalData)
}

// Overhead returns the bytes SealBlock adds to each block.
func (c *Cipher) Overhead() int {
	return Overhead
}

// Fingerprint returns a short identifier of the master key for out-of-band comparison.
func (c *Cipher) Fingerprint() (string, error) {
	master, err := c.source.MasterKey()
	if err != nil {
		return "", fmt.Errorf("load master key: %w", err)
	}
	return KeyFingerprint(master)
}

func (c *Cipher) aead(purpose Purpose) (cipher.AEAD, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if aead, ok := c.aeads[purpose]; ok {
		return aead, nil
	}

	master, err := c.source.MasterKey()
	if err != nil {
		return nil, fmt.Errorf("load master key: %w", err)
	}
	if len(master) != MasterKeySize {
		return nil, fmt.Errorf("invalid master key length: got %d want %d", len(master), MasterKeySize)
	}

	subkey, err := deriveSubkey(master, purpose)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(c.suite, subkey)
	if err != nil {
		return nil, err
	}
	c.aeads[purpose] = aead
	return aead, nil
}

func deriveSubkey(master []byte, purpose Purpose) ([]byte, error) {
	reader := hkdf.New(sha256.New, master, nil, []byte("p2pchat/"+string(purpose)))
	subkey := make([]byte, subkeySize)
	if _, err := io.ReadFull(reader, subkey); err != nil {
		return nil, fmt.Errorf("derive %s subkey: %w", purpose, err)
	}
	return subkey, nil
}

func newAEAD(suite string, key []byte) (cipher.AEAD, error) {
	if suite == SuiteChaCha20Poly1305 {
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("create ChaCha20-Poly1305: %w", err)
		}
		return aead, nil
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aead, nil
}
