package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"p2pchat/config"
	"p2pchat/crypto"
	"p2pchat/discovery"
	"p2pchat/network"
	"p2pchat/storage"
	"p2pchat/transfer"
	"p2pchat/ui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "p2pchat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, dataDir, err := config.LoadOrCreate()
	if err != nil {
		return fmt.Errorf("startup failed while loading config: %w", err)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(cfg.Level()).
		With().
		Timestamp().
		Logger()

	cipher, err := crypto.NewCipher(cfg.KeySource(), cfg.CipherSuite)
	if err != nil {
		return fmt.Errorf("startup failed while preparing cipher: %w", err)
	}
	fingerprint, err := cipher.Fingerprint()
	if err != nil {
		return fmt.Errorf("startup failed while loading master key: %w", err)
	}

	engineOptions := transfer.Options{Dir: cfg.ReceivedFilesDir}
	if cfg.FilesEncrypted() {
		engineOptions.Cipher = cipher
	}
	files, err := transfer.NewEngine(engineOptions)
	if err != nil {
		return fmt.Errorf("startup failed while preparing received files directory: %w", err)
	}

	store, dbPath, err := storage.Open(dataDir)
	if err != nil {
		return fmt.Errorf("startup failed while opening database: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error().Err(err).Msg("database close error")
		}
	}()

	manager, err := network.NewManager(network.Options{
		DeviceName:    cfg.DeviceName,
		ListenAddress: fmt.Sprintf(":%d", cfg.MessagePort),
		Cipher:        cipher,
		Files:         files,
		History:       store,
		Logger:        &logger,
	})
	if err != nil {
		return fmt.Errorf("startup failed while creating connection manager: %w", err)
	}
	if err := manager.Start(); err != nil {
		return fmt.Errorf("startup failed while listening on port %d: %w", cfg.MessagePort, err)
	}
	defer manager.Stop()

	discoveryService, err := discovery.New(discovery.Config{
		DeviceName:       cfg.DeviceName,
		ServicePort:      cfg.MessagePort,
		ListenAddress:    fmt.Sprintf(":%d", cfg.DiscoveryPort),
		BroadcastAddress: cfg.BroadcastTarget(),
		ResponseWindow:   cfg.ResponseWindow(),
		PeerTTL:          cfg.PeerTTL(),
		EnableMDNS:       cfg.EnableMDNS,
		Logger:           &logger,
	})
	if err != nil {
		return fmt.Errorf("startup failed while creating discovery: %w", err)
	}
	if err := discoveryService.Start(); err != nil {
		logger.Warn().Err(err).Msg("discovery startup failed, /discover is unavailable")
	}
	discoveryDone := make(chan struct{})
	go func() {
		defer close(discoveryDone)
		logDiscoveryEvents(discoveryService.Events(), store, logger)
	}()
	defer func() {
		discoveryService.Stop()
		<-discoveryDone
	}()

	fmt.Printf("Device ID:       %s\n", cfg.DeviceID)
	fmt.Printf("Device Name:     %s\n", cfg.DeviceName)
	if ip, err := discovery.LocalIPv4(); err == nil {
		fmt.Printf("Local Address:   %s\n", ip)
	}
	fmt.Printf("Message Port:    %d\n", cfg.MessagePort)
	fmt.Printf("Discovery Port:  %d\n", cfg.DiscoveryPort)
	fmt.Printf("Cipher:          %s (files encrypted: %t)\n", cipher.Suite(), cfg.FilesEncrypted())
	fmt.Printf("Key Fingerprint: %s\n", crypto.FormatFingerprint(fingerprint))
	fmt.Printf("Data Directory:  %s\n", dataDir)
	fmt.Printf("Database File:   %s\n", dbPath)

	console, err := ui.NewConsole(ui.ConsoleOptions{
		In:             os.Stdin,
		Out:            os.Stdout,
		Messenger:      manager,
		Peers:          discoveryService,
		History:        store,
		MessagePort:    cfg.MessagePort,
		KeyFingerprint: crypto.FormatFingerprint(fingerprint),
		Logger:         &logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := console.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("Status:          shutting down")
	return nil
}

func logDiscoveryEvents(events <-chan discovery.Event, store *storage.Store, logger zerolog.Logger) {
	for event := range events {
		switch event.Type {
		case discovery.EventPeerUpserted:
			logger.Info().
				Str("peer", event.Peer.DisplayName).
				Str("endpoint", event.Peer.Endpoint()).
				Str("source", event.Peer.Source).
				Msg("peer available")
			if err := store.SavePeer(event.Peer); err != nil {
				logger.Warn().Err(err).Str("peer", event.Peer.DisplayName).Msg("persist peer failed")
			}
		case discovery.EventPeerRemoved:
			logger.Info().Str("peer", event.Peer.DisplayName).Str("endpoint", event.Peer.Endpoint()).Msg("peer removed")
		default:
			logger.Debug().Str("event", string(event.Type)).Msg("discovery event")
		}
	}
}
