package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"

	"github.com/MKhiriev/go-vault-sync/internal/config"
	"github.com/MKhiriev/go-vault-sync/internal/crypto"
	"github.com/MKhiriev/go-vault-sync/internal/logger"
	"github.com/MKhiriev/go-vault-sync/internal/provider"
	"github.com/MKhiriev/go-vault-sync/internal/scheduler"
	"github.com/MKhiriev/go-vault-sync/internal/secretstore"
	"github.com/MKhiriev/go-vault-sync/internal/store"
	"github.com/MKhiriev/go-vault-sync/internal/syncer"
	"github.com/MKhiriev/go-vault-sync/internal/token"
	"github.com/MKhiriev/go-vault-sync/models"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

func main() {
	printBuildInfo()

	log := logger.NewLogger("syncd")
	cfg, err := config.GetStructuredConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error getting configs")
	}

	log.Debug().Any("config", cfg).Msg("received configs")

	localStore, err := store.Open(store.Config{
		DBPath:  cfg.Store.DBPath,
		BlobDir: cfg.Store.BlobDir,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error opening local store")
	}
	defer localStore.Close()

	deviceKey, err := loadDeviceKey(cfg.Store.SecretDir)
	if err != nil {
		log.Fatal().Err(err).Msg("error loading device key")
	}

	secrets, err := secretstore.NewFile(cfg.Store.SecretDir, deviceKey)
	if err != nil {
		log.Fatal().Err(err).Msg("error opening secret store")
	}

	deviceID, err := resolveDeviceID(cfg.Engine.DeviceID, secrets)
	if err != nil {
		log.Fatal().Err(err).Msg("error resolving device id")
	}
	log.Info().Str("device_id", deviceID.String()).Msg("device identity ready")

	backend, err := buildProvider(cfg, secrets, log)
	if err != nil {
		log.Fatal().Err(err).Msg("error creating provider adapter")
	}

	engine := syncer.New(syncer.Config{
		DeviceID:         deviceID,
		Debounce:         cfg.Engine.Debounce,
		PeriodicInterval: cfg.Engine.PeriodicInterval,
		BackoffFloor:     cfg.Engine.BackoffFloor,
		BackoffCap:       cfg.Engine.BackoffCap,
		PushRetryBudget:  cfg.Engine.PushRetryBudget,
		JournalRetention: cfg.Engine.JournalRetention,
		KDFParams:        kdfParams(cfg.Crypto, log),
	}, localStore, map[models.ProviderKind]provider.Provider{
		models.ProviderKind(cfg.Provider.Kind): backend,
	}, scheduler.NewTicker(), log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("error starting sync engine")
	}

	go func() {
		for status := range engine.Events() {
			log.Info().
				Str("vault", status.VaultKey).
				Str("state", string(status.State)).
				Int("conflicts", status.PendingConflicts).
				Str("error", status.LastError).
				Msg("sync status")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")
	engine.Stop()
}

// buildProvider wires the configured backend adapter with a token source
// reading from the sealed secret store.
func buildProvider(cfg *config.StructuredConfig, secrets secretstore.SecretStore, log *logger.Logger) (provider.Provider, error) {
	entry := cfg.Provider.TokenSecret
	if entry == "" {
		entry = "provider-token"
	}
	tokens := token.NewStored(secrets, entry)

	providerCfg := provider.Config{
		BaseURL:  cfg.Provider.BaseURL,
		RootPath: cfg.Provider.RootPath,
		Timeout:  cfg.Provider.Timeout,
	}

	switch models.ProviderKind(cfg.Provider.Kind) {
	case models.ProviderDrive:
		return provider.NewDrive(providerCfg, tokens, log)
	case models.ProviderGraph:
		return provider.NewGraph(providerCfg, tokens, log)
	case models.ProviderDropbox:
		return provider.NewDropbox(providerCfg, tokens, log)
	case models.ProviderWebDAV:
		return provider.NewWebDAV(providerCfg, tokens, log)
	default:
		return nil, fmt.Errorf("no adapter for provider kind %q", cfg.Provider.Kind)
	}
}

// loadDeviceKey reads the device key that seals the secret store, generating
// one on first run. The key file is the root of trust for stored tokens and
// never leaves the device.
func loadDeviceKey(secretDir string) ([]byte, error) {
	if err := os.MkdirAll(secretDir, 0o700); err != nil {
		return nil, fmt.Errorf("create secret dir: %w", err)
	}

	path := filepath.Join(secretDir, "device.key")
	key, err := os.ReadFile(path)
	if err == nil {
		if len(key) != 32 {
			return nil, fmt.Errorf("device key at %s has %d bytes, want 32", path, len(key))
		}
		return key, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read device key: %w", err)
	}

	key = make([]byte, 32)
	if _, err = io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generate device key: %w", err)
	}
	if err = os.WriteFile(path, key, 0o600); err != nil {
		return nil, fmt.Errorf("write device key: %w", err)
	}
	return key, nil
}

// resolveDeviceID returns the configured device ID, or a stable generated
// one persisted in the secret store on first run.
func resolveDeviceID(configured string, secrets secretstore.SecretStore) (uuid.UUID, error) {
	if configured != "" {
		return uuid.Parse(configured)
	}

	const entry = "device-id"
	if raw, err := secrets.Retrieve(entry); err == nil {
		return uuid.Parse(string(raw))
	}

	id := uuid.New()
	if err := secrets.Store(entry, []byte(id.String())); err != nil {
		return uuid.Nil, fmt.Errorf("persist device id: %w", err)
	}
	return id, nil
}

// kdfParams maps the configured KDF costs onto crypto.Params, keeping the
// recommended defaults for unset fields and calibrating down when a budget
// is set.
func kdfParams(cfg config.Crypto, log *logger.Logger) crypto.Params {
	p := crypto.DefaultParams()
	if cfg.ArgonTime != 0 {
		p.ArgonTime = cfg.ArgonTime
	}
	if cfg.ArgonMemoryKiB != 0 {
		p.ArgonMemory = cfg.ArgonMemoryKiB
	}
	if cfg.ArgonThreads != 0 {
		p.ArgonThreads = cfg.ArgonThreads
	}
	if cfg.PBKDF2Iters != 0 {
		p.PBKDF2Iters = cfg.PBKDF2Iters
	}

	if cfg.CalibrateBudget > 0 {
		calibrated := crypto.Calibrate(cfg.CalibrateBudget, p)
		if calibrated.ArgonMemory != p.ArgonMemory {
			log.Info().
				Uint32("memory_kib", calibrated.ArgonMemory).
				Dur("budget", cfg.CalibrateBudget).
				Msg("argon2 memory cost calibrated down")
		}
		p = calibrated
	}
	return p
}

func printBuildInfo() {
	if buildVersion == "" {
		buildVersion = "N/A"
	}
	if buildDate == "" {
		buildDate = "N/A"
	}
	if buildCommit == "" {
		buildCommit = "N/A"
	}

	fmt.Printf("Build version: %s\n", buildVersion)
	fmt.Printf("Build date: %s\n", buildDate)
	fmt.Printf("Build commit: %s\n", buildCommit)
}
