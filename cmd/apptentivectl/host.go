package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rafaeljc/apptentivekit/internal/apiclient"
	"github.com/rafaeljc/apptentivekit/internal/cache"
	"github.com/rafaeljc/apptentivekit/internal/config"
	"github.com/rafaeljc/apptentivekit/internal/conversation"
	"github.com/rafaeljc/apptentivekit/internal/credentials"
	"github.com/rafaeljc/apptentivekit/internal/logger"
	"github.com/rafaeljc/apptentivekit/internal/sender"
	"github.com/rafaeljc/apptentivekit/internal/store"
	"github.com/rafaeljc/apptentivekit/sdk/apptentive"
)

var (
	appVersion   string
	appBuild     string
	bundleID     string
	flushTimeout time.Duration
	jsonOutput   bool
)

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&appVersion, "app-version", "1.0.0", "version of the simulated host app")
	flags.StringVar(&appBuild, "app-build", "1", "build of the simulated host app")
	flags.StringVar(&bundleID, "bundle-id", "com.example.apptentivectl", "bundle identifier of the simulated host app")
	flags.DurationVar(&flushTimeout, "flush-timeout", 5*time.Second, "how long to wait for queued payloads before exiting")
	flags.BoolVar(&jsonOutput, "json", false, "print results as JSON")
}

// host owns everything one command needs: configuration, the store and a
// connected SDK client.
type host struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	manifest *cache.ManifestCache
	client   *apptentive.Client
}

// openHost loads configuration, opens the store and connects the SDK.
func openHost(cmd *cobra.Command) (*host, error) {
	ctx := cmd.Context()

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	lg := logger.New(&cfg.App)
	slog.SetDefault(lg)

	s, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Storage.Backend, err)
	}

	manifestCache, err := cache.NewManifestCache(cfg.Manifest.CacheCapacity, cfg.Manifest.CacheTTL)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	apiCfg := apiclient.ConfigFrom(cfg.API, cfg.Manifest)
	apiCfg.Logger = logger.Component(lg, "apiclient")

	client, err := apptentive.New(apptentive.Options{
		AppKey:        cfg.API.AppKey,
		AppSignature:  cfg.API.AppSignature,
		Environment:   probeEnvironment(),
		Store:         s,
		API:           apiclient.New(apiCfg),
		Presenter:     printPresenter{w: cmd.OutOrStdout()},
		Sender:        sender.ConfigFrom(cfg.Sender),
		ManifestCache: manifestCache,
		Logger:        lg,
	})
	if err != nil {
		manifestCache.Close()
		_ = s.Close()
		return nil, err
	}

	h := &host{cfg: cfg, logger: lg, store: s, manifest: manifestCache, client: client}
	if err := client.Connect(ctx); err != nil {
		if errors.Is(err, apptentive.ErrInternalInconsistency) || errors.Is(err, credentials.ErrConfiguration) {
			h.Close()
			return nil, fmt.Errorf("connect: %w", err)
		}
		// Payloads are queued locally and sent once a later run connects.
		lg.Warn("working offline", slog.String("error", err.Error()))
	}
	return h, nil
}

// Close stops the SDK and releases the store.
func (h *host) Close() {
	_ = h.client.Close()
	h.manifest.Close()
	if err := h.store.Close(); err != nil {
		h.logger.Warn("failed to close store", slog.String("error", err.Error()))
	}
}

// flush waits until the queue is empty, the sender is backing off, or the
// timeout passes. Whatever is left is sent by a later run.
func (h *host) flush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, flushTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		status, err := h.client.DeliveryStatus(ctx)
		if err != nil {
			return
		}
		if status.QueueLength == 0 || status.State == sender.StateBackingOff || status.State == sender.StateWaitingForConversation {
			if status.QueueLength > 0 {
				h.logger.Info("payloads left in queue", slog.Int("queue_length", status.QueueLength))
			}
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// probeEnvironment describes the process as if it were a device.
func probeEnvironment() apptentive.Environment {
	locale := os.Getenv("LANG")
	if i := strings.IndexByte(locale, '.'); i >= 0 {
		locale = locale[:i]
	}
	lang, country, _ := strings.Cut(locale, "_")
	_, offset := time.Now().Zone()

	return apptentive.Environment{
		Device: conversation.Device{
			OSName:         runtime.GOOS,
			OSVersion:      runtime.Version(),
			HardwareModel:  runtime.GOARCH,
			Locale:         locale,
			LocaleLanguage: lang,
			LocaleCountry:  country,
			UTCOffset:      offset,
		},
		AppRelease: conversation.AppRelease{
			BundleIdentifier: bundleID,
			Version:          appVersion,
			Build:            appBuild,
			SDKVersion:       "1.0.0",
			SDKDistribution:  "apptentivectl",
		},
	}
}

// printPresenter "shows" interactions by printing them.
type printPresenter struct {
	w io.Writer
}

func (p printPresenter) Present(_ context.Context, interaction apptentive.Interaction) error {
	_, err := fmt.Fprintf(p.w, "presenting %s interaction %s\n", interaction.Type, interaction.ID)
	return err
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

// withHost opens a host around fn and flushes the queue afterwards.
func withHost(fn func(cmd *cobra.Command, h *host, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		h, err := openHost(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		if err := fn(cmd, h, args); err != nil {
			return err
		}
		h.flush(cmd.Context())
		return nil
	}
}
