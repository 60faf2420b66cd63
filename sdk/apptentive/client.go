// Package apptentive is the entry point of the SDK core. A Client owns the
// conversation, the engagement manifest and the payload queue, and runs
// every operation on one worker goroutine so state is never shared.
package apptentive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rafaeljc/apptentivekit/internal/cache"
	"github.com/rafaeljc/apptentivekit/internal/clock"
	"github.com/rafaeljc/apptentivekit/internal/conversation"
	"github.com/rafaeljc/apptentivekit/internal/credentials"
	"github.com/rafaeljc/apptentivekit/internal/logger"
	"github.com/rafaeljc/apptentivekit/internal/payload"
	"github.com/rafaeljc/apptentivekit/internal/sender"
	"github.com/rafaeljc/apptentivekit/internal/store"
	"github.com/rafaeljc/apptentivekit/internal/targeting"
)

// Options configures a Client. AppKey, AppSignature, Store and API are
// required.
type Options struct {
	AppKey       string
	AppSignature string

	// Environment is what the host process knows about the device and the
	// app release. It wins over persisted values on every launch.
	Environment Environment

	Store store.Store
	API   API

	// Presenter shows matched interactions. Without one, a match is an
	// internal inconsistency.
	Presenter Presenter

	Sender sender.Config
	// ManifestCache is an optional in-memory layer in front of Store.
	ManifestCache *cache.ManifestCache
	SessionID     string

	Clock  clock.Clock
	Logger *slog.Logger
}

// Client is the SDK. Methods are safe for concurrent use.
type Client struct {
	logger    *slog.Logger
	clock     clock.Clock
	store     store.Store
	api       API
	presenter Presenter
	env       Environment
	appKey    string
	appSig    string

	targeter  *targeting.Targeter
	refresher *targeting.Refresher
	sender    *sender.Sender
	factory   *payload.Factory

	work chan func()
	done chan struct{}
	wg   sync.WaitGroup

	// ctx bounds background work; it is cancelled by Close.
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once

	connectMu     sync.Mutex
	connectCancel context.CancelFunc

	// Owned by the worker goroutine.
	conv      conversation.Conversation
	connected bool
}

// New creates a Client and starts its worker and delivery goroutines.
// Call Connect before engaging events.
func New(opts Options) (*Client, error) {
	if opts.AppKey == "" || opts.AppSignature == "" {
		return nil, fmt.Errorf("apptentive: %w: app key and signature are required", credentials.ErrConfiguration)
	}
	if opts.Store == nil {
		return nil, errors.New("apptentive: store is required")
	}
	if opts.API == nil {
		return nil, errors.New("apptentive: api is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	targeter := targeting.New(opts.Clock, logger.Component(opts.Logger, "targeter"))

	c := &Client{
		logger:    logger.Component(opts.Logger, "client"),
		clock:     opts.Clock,
		store:     opts.Store,
		api:       opts.API,
		presenter: opts.Presenter,
		env:       opts.Environment,
		appKey:    opts.AppKey,
		appSig:    opts.AppSignature,
		targeter:  targeter,
		refresher: targeting.NewRefresher(targeting.RefresherConfig{
			Targeter: targeter,
			Fetcher:  opts.API,
			Cache:    opts.ManifestCache,
			Store:    opts.Store,
			Clock:    opts.Clock,
			Logger:   logger.Component(opts.Logger, "refresher"),
		}),
		sender: sender.New(logger.Component(opts.Logger, "sender"), opts.Sender, opts.Store, opts.API,
			sender.WithClock(opts.Clock)),
		factory: payload.NewFactory(payload.FactoryConfig{Clock: opts.Clock, SessionID: opts.SessionID}),
		work:    make(chan func()),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	c.wg.Add(2)
	go c.loop()
	go func() {
		defer c.wg.Done()
		_ = c.sender.Run(ctx)
	}()

	return c, nil
}

func (c *Client) loop() {
	defer c.wg.Done()
	for {
		select {
		case job := <-c.work:
			job()
		case <-c.done:
			return
		}
	}
}

// call runs fn on the worker goroutine and returns its result to the caller.
func call[T any](ctx context.Context, c *Client, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	job := func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}

	select {
	case c.work <- job:
	case <-c.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func run(ctx context.Context, c *Client, fn func(ctx context.Context) error) error {
	_, err := call(ctx, c, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Close stops the worker and the delivery loop. Queued payloads stay in the
// store. The store itself is owned by the caller.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.done)
		c.wg.Wait()
		c.sender.Close()
	})
	return nil
}

// DeliveryStatus reports the state of the payload queue.
func (c *Client) DeliveryStatus(ctx context.Context) (DeliveryStatus, error) {
	select {
	case <-c.done:
		return DeliveryStatus{}, ErrClosed
	default:
	}
	return c.sender.Status(ctx)
}

// SubscribeDelivery streams delivery outcomes. The returned function stops
// the subscription.
func (c *Client) SubscribeDelivery(buffer int) (<-chan DeliveryEvent, func()) {
	return c.sender.Subscribe(buffer)
}

// Snapshot returns a copy of the current conversation.
func (c *Client) Snapshot(ctx context.Context) (Conversation, error) {
	return call(ctx, c, func(context.Context) (Conversation, error) {
		return c.conv.Clone(), nil
	})
}

// CancelConnect aborts an in-flight conversation creation. It reports
// whether a request was cancelled.
func (c *Client) CancelConnect() bool {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()
	if c.connectCancel == nil {
		return false
	}
	c.connectCancel()
	return true
}

// CancelManifestRefresh aborts an in-flight manifest fetch. The previous
// manifest stays in force.
func (c *Client) CancelManifestRefresh() bool {
	return c.refresher.Cancel()
}

// commit saves next and makes it the conversation in force. When the save
// fails the previous conversation stays in force, so memory never runs ahead
// of the store.
func (c *Client) commit(ctx context.Context, next conversation.Conversation) error {
	if err := c.store.SaveConversation(ctx, next); err != nil {
		c.logger.Error("failed to persist conversation", slog.String("error", err.Error()))
		return fmt.Errorf("persist conversation: %w", err)
	}
	c.conv = next
	return nil
}

// enqueue hands a built payload to the durable queue. A build error is
// returned unchanged.
func (c *Client) enqueue(ctx context.Context, p payload.Payload, buildErr error) error {
	if buildErr != nil {
		return buildErr
	}
	if _, err := c.sender.Enqueue(ctx, p); err != nil {
		c.logger.Error("failed to queue payload",
			slog.String("payload", p.String()),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("queue %s payload: %w", p.Kind, err)
	}
	return nil
}

// requireConnected gates payload construction on app credentials.
func (c *Client) requireConnected() error {
	if !c.connected {
		return ErrNotConnected
	}
	return nil
}
