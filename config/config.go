package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"p2pchat/crypto"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "p2p-chat"
	// DefaultDiscoveryPort is the UDP discovery port.
	DefaultDiscoveryPort = 8888
	// DefaultMessagePort is the TCP message port.
	DefaultMessagePort = 8889
	// DefaultBroadcastAddress is the limited broadcast address probes go to.
	DefaultBroadcastAddress = "255.255.255.255"
	// DefaultResponseWindowSeconds bounds one discovery window.
	DefaultResponseWindowSeconds = 5
	// DefaultPeerTTLSeconds is how long an unseen peer stays listed.
	DefaultPeerTTLSeconds = 120
	// DefaultLogLevel is used when log_level is empty or unknown.
	DefaultLogLevel = "info"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
	// envDataDir overrides the data directory.
	envDataDir = "P2P_CHAT_DATA_DIR"
)

// DeviceConfig contains persistent local-device settings.
type DeviceConfig struct {
	DeviceID              string `json:"device_id"`
	DeviceName            string `json:"device_name"`
	DiscoveryPort         int    `json:"discovery_port"`
	MessagePort           int    `json:"message_port"`
	BroadcastAddress      string `json:"broadcast_address"`
	ResponseWindowSeconds int    `json:"response_window_seconds"`
	PeerTTLSeconds        int    `json:"peer_ttl_seconds"`
	// MasterKeyPath is created with a random key on first run. Copy it to
	// every device that should talk to this one.
	MasterKeyPath         string `json:"master_key_path"`
	SharedPassphrase      string `json:"shared_passphrase,omitempty"`
	CipherSuite           string `json:"cipher_suite"`
	EncryptFiles          *bool  `json:"encrypt_files"`
	EnableMDNS            bool   `json:"enable_mdns"`
	ReceivedFilesDir      string `json:"received_files_dir"`
	LogLevel              string `json:"log_level"`
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If P2P_CHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(envDataDir); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "keys"),
		filepath.Join(dataDir, "received_files"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*DeviceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg DeviceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *DeviceConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns the config
// and the data directory it lives in.
func LoadOrCreate() (*DeviceConfig, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, dataDir, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}

	return cfg, dataDir, nil
}

// Validate rejects settings the daemon cannot start with.
func (c *DeviceConfig) Validate() error {
	if strings.TrimSpace(c.DeviceName) == "" || strings.ContainsAny(c.DeviceName, "\r\n") {
		return fmt.Errorf("config: invalid device name %q", c.DeviceName)
	}
	if !validPort(c.DiscoveryPort) {
		return fmt.Errorf("config: invalid discovery port %d", c.DiscoveryPort)
	}
	if !validPort(c.MessagePort) {
		return fmt.Errorf("config: invalid message port %d", c.MessagePort)
	}
	if net.ParseIP(c.BroadcastAddress) == nil {
		return fmt.Errorf("config: invalid broadcast address %q", c.BroadcastAddress)
	}
	switch c.CipherSuite {
	case crypto.SuiteAES256GCM, crypto.SuiteChaCha20Poly1305:
	default:
		return fmt.Errorf("config: unsupported cipher suite %q", c.CipherSuite)
	}
	return nil
}

// KeySource selects the shared passphrase when one is configured and the
// master key file otherwise. A fresh install generates its own random master
// key, so two devices can read each other's messages only after they share
// the key file or set the same shared_passphrase.
func (c *DeviceConfig) KeySource() crypto.KeySource {
	if strings.TrimSpace(c.SharedPassphrase) != "" {
		return crypto.PassphraseKeySource{Passphrase: c.SharedPassphrase}
	}
	return crypto.FileKeySource{Path: c.MasterKeyPath}
}

// FilesEncrypted reports whether file bytes are sealed on the wire.
func (c *DeviceConfig) FilesEncrypted() bool {
	return c.EncryptFiles == nil || *c.EncryptFiles
}

// ResponseWindow returns the discovery window as a duration.
func (c *DeviceConfig) ResponseWindow() time.Duration {
	return time.Duration(c.ResponseWindowSeconds) * time.Second
}

// PeerTTL returns the peer expiry as a duration.
func (c *DeviceConfig) PeerTTL() time.Duration {
	return time.Duration(c.PeerTTLSeconds) * time.Second
}

// BroadcastTarget is the host:port discovery probes are sent to.
func (c *DeviceConfig) BroadcastTarget() string {
	return net.JoinHostPort(c.BroadcastAddress, strconv.Itoa(c.DiscoveryPort))
}

// Level parses log_level, falling back to info.
func (c *DeviceConfig) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(c.LogLevel)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

func defaultConfig(dataDir string) *DeviceConfig {
	cfg := &DeviceConfig{}
	normalizeDefaults(cfg, dataDir)
	return cfg
}

func normalizeDefaults(cfg *DeviceConfig, dataDir string) bool {
	updated := false

	if cfg.DeviceID == "" {
		cfg.DeviceID = uuid.NewString()
		updated = true
	}

	if strings.TrimSpace(cfg.DeviceName) == "" {
		deviceName := "P2P Chat Device"
		if host, err := os.Hostname(); err == nil && host != "" {
			deviceName = host
		}
		cfg.DeviceName = deviceName
		updated = true
	}

	if cfg.DiscoveryPort == 0 {
		cfg.DiscoveryPort = DefaultDiscoveryPort
		updated = true
	}
	if cfg.MessagePort == 0 {
		cfg.MessagePort = DefaultMessagePort
		updated = true
	}
	if cfg.BroadcastAddress == "" {
		cfg.BroadcastAddress = DefaultBroadcastAddress
		updated = true
	}
	if cfg.ResponseWindowSeconds <= 0 {
		cfg.ResponseWindowSeconds = DefaultResponseWindowSeconds
		updated = true
	}
	if cfg.PeerTTLSeconds <= 0 {
		cfg.PeerTTLSeconds = DefaultPeerTTLSeconds
		updated = true
	}

	if cfg.MasterKeyPath == "" {
		cfg.MasterKeyPath = filepath.Join(dataDir, "keys", "master.pem")
		updated = true
	}
	if cfg.CipherSuite == "" {
		cfg.CipherSuite = crypto.SuiteAES256GCM
		updated = true
	}
	if cfg.EncryptFiles == nil {
		encrypt := true
		cfg.EncryptFiles = &encrypt
		updated = true
	}
	if cfg.ReceivedFilesDir == "" {
		cfg.ReceivedFilesDir = filepath.Join(dataDir, "received_files")
		updated = true
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
		updated = true
	}

	return updated
}

func validPort(port int) bool {
	return port > 0 && port <= 65535
}
