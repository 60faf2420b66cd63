package targeting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/rafaeljc/apptentivekit/internal/cache"
	"github.com/rafaeljc/apptentivekit/internal/clock"
	"github.com/rafaeljc/apptentivekit/internal/credentials"
	"github.com/rafaeljc/apptentivekit/internal/manifest"
	"github.com/rafaeljc/apptentivekit/internal/observability"
	"github.com/rafaeljc/apptentivekit/internal/validation"
)

// ErrRefreshCanceled is returned when an in-flight fetch is canceled through
// Refresher.Cancel.
var ErrRefreshCanceled = errors.New("manifest refresh canceled")

// Fetcher downloads the engagement manifest for a conversation.
type Fetcher interface {
	FetchManifest(ctx context.Context, creds credentials.Credentials) (manifest.Manifest, error)
}

// ManifestStore persists the last good manifest per conversation.
type ManifestStore interface {
	LoadManifest(ctx context.Context, conversationID string) (manifest.Manifest, bool, error)
	SaveManifest(ctx context.Context, conversationID string, m manifest.Manifest) error
}

// RefresherConfig wires a Refresher. Cache and Store are optional.
type RefresherConfig struct {
	Targeter *Targeter
	Fetcher  Fetcher
	Cache    *cache.ManifestCache
	Store    ManifestStore
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Refresher keeps the Targeter's manifest current. At most one fetch is in
// flight at a time; a failed fetch leaves the previous manifest in force.
type Refresher struct {
	targeter *Targeter
	fetcher  Fetcher
	cache    *cache.ManifestCache
	store    ManifestStore
	clock    clock.Clock
	logger   *slog.Logger

	group singleflight.Group

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewRefresher creates a Refresher. Targeter and Fetcher are required.
func NewRefresher(cfg RefresherConfig) *Refresher {
	validation.AssertNotNil(cfg.Targeter, "refresher targeter")
	validation.AssertProvided(cfg.Fetcher, "refresher fetcher")
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Refresher{
		targeter: cfg.Targeter,
		fetcher:  cfg.Fetcher,
		cache:    cfg.Cache,
		store:    cfg.Store,
		clock:    cfg.Clock,
		logger:   cfg.Logger,
	}
}

// NeedsRefresh reports whether the manifest in force has expired.
func (r *Refresher) NeedsRefresh() bool {
	return r.targeter.Manifest().Expired(r.clock.Now())
}

// Restore installs the last known manifest for a conversation, from memory
// first and then from the store. It reports whether one was found.
func (r *Refresher) Restore(ctx context.Context, conversationID string) (bool, error) {
	if r.cache != nil {
		if m, ok := r.cache.Get(conversationID); ok {
			r.targeter.SetManifest(m)
			return true, nil
		}
	}
	if r.store == nil {
		return false, nil
	}

	m, ok, err := r.store.LoadManifest(ctx, conversationID)
	if err != nil {
		return false, fmt.Errorf("load manifest: %w", err)
	}
	if !ok {
		return false, nil
	}
	r.targeter.SetManifest(m)
	if r.cache != nil {
		r.cache.Set(conversationID, m)
	}
	return true, nil
}

// RefreshIfExpired fetches only when the current manifest has expired.
func (r *Refresher) RefreshIfExpired(ctx context.Context, creds credentials.Credentials) error {
	if !r.NeedsRefresh() {
		return nil
	}
	return r.Refresh(ctx, creds)
}

// Refresh fetches a new manifest. Concurrent calls for the same conversation
// share one request.
func (r *Refresher) Refresh(ctx context.Context, creds credentials.Credentials) error {
	if !creds.HasConversation() {
		return credentials.ErrNoConversation
	}

	_, err, shared := r.group.Do(creds.ConversationID, func() (any, error) {
		return nil, r.fetch(ctx, creds)
	})
	if shared {
		r.logger.Debug("joined in-flight manifest fetch", "conversation_id", creds.ConversationID)
	}
	return err
}

func (r *Refresher) fetch(ctx context.Context, creds credentials.Credentials) error {
	fetchCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	m, err := r.fetcher.FetchManifest(fetchCtx, creds)
	if err != nil {
		observability.ManifestFetchesTotal.WithLabelValues("failure").Inc()
		if fetchCtx.Err() != nil && ctx.Err() == nil {
			err = fmt.Errorf("%w: %w", ErrRefreshCanceled, err)
		}
		r.logger.Warn("manifest fetch failed, keeping previous manifest",
			"conversation_id", creds.ConversationID,
			"error", err,
		)
		return err
	}

	observability.ManifestFetchesTotal.WithLabelValues("success").Inc()
	r.targeter.SetManifest(m)
	if r.cache != nil {
		r.cache.Set(creds.ConversationID, m)
	}
	if r.store != nil {
		if err := r.store.SaveManifest(ctx, creds.ConversationID, m); err != nil {
			r.logger.Error("failed to persist manifest",
				"conversation_id", creds.ConversationID,
				"error", err,
			)
		}
	}

	r.logger.Info("manifest refreshed",
		"conversation_id", creds.ConversationID,
		"interactions", len(m.Interactions),
		"expiry", m.Expiry,
	)
	return nil
}

// Cancel aborts the in-flight fetch, if any, and reports whether there was one.
func (r *Refresher) Cancel() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return false
	}
	r.cancel()
	r.cancel = nil
	return true
}

// InFlight reports whether a fetch is outstanding.
func (r *Refresher) InFlight() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}
