package crypto

import (
	"bytes"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

type failingSource struct {
	calls int
	err   error
	key   []byte
}

func (s *failingSource) MasterKey() ([]byte, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.key, nil
}

func newTestCipher(t *testing.T, suite string) *Cipher {
	t.Helper()

	key, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey failed: %v", err)
	}
	c, err := NewCipher(StaticKey(key), suite)
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}
	return c
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	for _, suite := range []string{SuiteAES256GCM, SuiteChaCha20Poly1305} {
		t.Run(suite, func(t *testing.T) {
			c := newTestCipher(t, suite)

			for _, plaintext := range []string{
				"Hello, Secure P2P World!",
				"",
				"🔐 Secure Chat! 123 @#$%",
				strings.Repeat("A", 1000),
			} {
				blob, err := c.Encrypt(plaintext)
				if err != nil {
					t.Fatalf("Encrypt failed: %v", err)
				}
				if plaintext != "" && blob == plaintext {
					t.Fatalf("expected ciphertext to differ from plaintext")
				}

				got, err := c.Decrypt(blob)
				if err != nil {
					t.Fatalf("Decrypt failed: %v", err)
				}
				if got != plaintext {
					t.Fatalf("round trip mismatch: got %q want %q", got, plaintext)
				}
			}
		})
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	c := newTestCipher(t, "")

	first, err := c.Encrypt("same message")
	if err != nil {
		t.Fatalf("first Encrypt failed: %v", err)
	}
	second, err := c.Encrypt("same message")
	if err != nil {
		t.Fatalf("second Encrypt failed: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct blobs for repeated plaintext")
	}

	firstRaw, _ := base64.StdEncoding.DecodeString(first)
	secondRaw, _ := base64.StdEncoding.DecodeString(second)
	if bytes.Equal(firstRaw[:NonceSize], secondRaw[:NonceSize]) {
		t.Fatalf("expected distinct nonces")
	}

	for _, blob := range []string{first, second} {
		got, err := c.Decrypt(blob)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if got != "same message" {
			t.Fatalf("unexpected plaintext %q", got)
		}
	}
}

func TestBlobLayout(t *testing.T) {
	c := newTestCipher(t, "")

	blob, err := c.Seal(PurposeMessage, []byte("hello"), nil)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(blob) != len("hello")+Overhead {
		t.Fatalf("expected blob length %d, got %d", len("hello")+Overhead, len(blob))
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	c := newTestCipher(t, "")

	blob, err := c.Encrypt("do not touch")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		t.Fatalf("decode blob: %v", err)
	}

	// Flip one byte in each region: nonce, ciphertext, tag.
	for _, idx := range []int{0, NonceSize + 1, len(raw) - 1} {
		tampered := append([]byte(nil), raw...)
		tampered[idx] ^= 0x01

		got, err := c.Decrypt(base64.StdEncoding.EncodeToString(tampered))
		if !errors.Is(err, ErrAuthentication) {
			t.Fatalf("byte %d: expected ErrAuthentication, got %v", idx, err)
		}
		if got != "" {
			t.Fatalf("byte %d: expected no plaintext on failure, got %q", idx, got)
		}
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	c := newTestCipher(t, "")

	cases := []string{
		"not base64 !!",
		base64.StdEncoding.EncodeToString([]byte("short")),
		"plain text message",
	}
	for _, input := range cases {
		if _, err := c.Decrypt(input); !errors.Is(err, ErrAuthentication) {
			t.Fatalf("input %q: expected ErrAuthentication, got %v", input, err)
		}
	}
}

func TestDecryptWithDifferentKeyFails(t *testing.T) {
	sender := newTestCipher(t, "")
	receiver := newTestCipher(t, "")

	blob, err := sender.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if _, err := receiver.Decrypt(blob); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication with foreign key, got %v", err)
	}
}

func TestPurposesAreSeparated(t *testing.T) {
	c := newTestCipher(t, "")

	blob, err := c.SealBlock([]byte("file block"), []byte("a.txt|0"))
	if err != nil {
		t.Fatalf("SealBlock failed: %v", err)
	}
	if _, err := c.Open(PurposeMessage, blob, []byte("a.txt|0")); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected file blob to be rejected as message, got %v", err)
	}
	if _, err := c.OpenBlock(blob, []byte("a.txt|1")); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected mismatched block index to be rejected, got %v", err)
	}

	got, err := c.OpenBlock(blob, []byte("a.txt|0"))
	if err != nil {
		t.Fatalf("OpenBlock failed: %v", err)
	}
	if string(got) != "file block" {
		t.Fatalf("unexpected block plaintext %q", got)
	}
}

func TestKeySourceFailureIsNotCached(t *testing.T) {
	key, err := GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey failed: %v", err)
	}
	source := &failingSource{err: errors.New("keystore locked")}
	c, err := NewCipher(source, "")
	if err != nil {
		t.Fatalf("NewCipher failed: %v", err)
	}

	if _, err := c.Encrypt("hello"); err == nil {
		t.Fatalf("expected Encrypt to fail while key source is unavailable")
	}
	if _, err := c.Decrypt("AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication when key source fails, got %v", err)
	}

	source.err = nil
	source.key = key
	blob, err := c.Encrypt("hello")
	if err != nil {
		t.Fatalf("Encrypt after key source recovery failed: %v", err)
	}
	if _, err := c.Decrypt(blob); err != nil {
		t.Fatalf("Decrypt after key source recovery failed: %v", err)
	}

	calls := source.calls
	if _, err := c.Encrypt("again"); err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if source.calls != calls {
		t.Fatalf("expected master key to be cached after first success")
	}
}

func TestNewCipherRejectsUnknownSuite(t *testing.T) {
	if _, err := NewCipher(StaticKey(make([]byte, MasterKeySize)), "rot13"); err == nil {
		t.Fatalf("expected unsupported suite error")
	}
	if _, err := NewCipher(nil, ""); err == nil {
		t.Fatalf("expected nil key source error")
	}
}
