package apptentive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rafaeljc/apptentivekit/internal/apiclient"
	"github.com/rafaeljc/apptentivekit/internal/conversation"
	"github.com/rafaeljc/apptentivekit/internal/credentials"
	"github.com/rafaeljc/apptentivekit/internal/store"
	"github.com/rafaeljc/apptentivekit/internal/targeting"
)

// Connect loads and merges the persisted conversation, creates a server
// conversation when there is none yet, and makes sure a manifest is in
// force. It can be called again after a failure; a connected client returns
// immediately.
//
// Configuration errors fail fast. A failed conversation creation leaves the
// client connected locally: events are queued and sent once a later Connect
// succeeds.
func (c *Client) Connect(ctx context.Context) error {
	return run(ctx, c, c.connect)
}

func (c *Client) connect(ctx context.Context) error {
	if !c.connected {
		if err := c.restore(ctx); err != nil {
			return err
		}
	}

	if c.conv.Credentials.State == credentials.Pending {
		if err := c.createConversation(ctx); err != nil {
			return err
		}
	}

	if found, err := c.refresher.Restore(ctx, c.conv.ID); err != nil {
		c.logger.Warn("failed to restore persisted manifest", slog.String("error", err.Error()))
	} else if found {
		c.logger.Debug("restored persisted manifest", slog.String("conversation_id", c.conv.ID))
	}
	if err := c.refresher.RefreshIfExpired(ctx, c.conv.Credentials); err != nil {
		c.logger.Warn("manifest refresh failed, keeping previous manifest", slog.String("error", err.Error()))
	}

	if c.conv.PendingUpdate {
		c.engageUpdate(ctx)
	}
	return nil
}

// engageUpdate engages the update event once per upgrade. The marker is
// persisted by restore, so an upgrade whose first launch could not reach the
// server is still engaged by a later Connect.
func (c *Client) engageUpdate(ctx context.Context) {
	next := c.conv.Clone()
	next.PendingUpdate = false
	if err := c.commit(ctx, next); err != nil {
		c.logger.Warn("failed to clear pending update", slog.String("error", err.Error()))
		return
	}
	if _, err := c.engage(ctx, targeting.SDKEvent("update")); err != nil {
		c.logger.Warn("failed to engage update event", slog.String("error", err.Error()))
	}
}

// restore merges the persisted conversation with the running environment.
func (c *Client) restore(ctx context.Context) error {
	now := c.clock.Now()
	local := conversation.New(c.env, now)

	remote, found, err := c.store.LoadConversation(ctx)
	if err != nil {
		if errors.Is(err, store.ErrCorrupt) {
			c.logger.Error("persisted conversation is corrupt", slog.String("error", err.Error()))
			return fmt.Errorf("%w: %w", ErrInternalInconsistency, err)
		}
		return fmt.Errorf("load conversation: %w", err)
	}

	creds, err := remote.Credentials.Configure(c.appKey, c.appSig)
	if err != nil {
		return err
	}

	var upgrade conversation.Upgrade
	if found {
		upgrade = conversation.DetectUpgrade(remote.AppRelease, local.AppRelease)
	}

	conv := conversation.Merge(local, remote)
	conv.Credentials = creds
	if upgrade.Version {
		conv.Metrics.ResetVersion()
	}
	if upgrade.Build {
		conv.Metrics.ResetBuild()
	}
	if upgrade.Any() {
		conv.PendingUpdate = true
	}

	if err := c.commit(ctx, conv); err != nil {
		return err
	}
	c.connected = true
	c.sender.SetCredentials(creds)

	c.logger.Info("conversation restored",
		slog.Bool("found", found),
		slog.String("state", creds.State.String()),
		slog.Bool("version_changed", upgrade.Version),
		slog.Bool("build_changed", upgrade.Build),
	)

	if found && creds.HasConversation() {
		if upgrade.Any() {
			p, err := c.factory.AppRelease(c.conv.AppRelease)
			if err := c.enqueue(ctx, p, err); err != nil {
				return err
			}
		}
		if !sameEnvironment(remote.Device, c.conv.Device) {
			p, err := c.factory.Device(c.conv.Device)
			if err := c.enqueue(ctx, p, err); err != nil {
				return err
			}
		}
	}
	return nil
}

// createConversation registers the conversation with the server. Only one
// request is in flight; CancelConnect aborts it.
func (c *Client) createConversation(ctx context.Context) error {
	reqCtx, cancel := context.WithCancel(ctx)
	c.connectMu.Lock()
	c.connectCancel = cancel
	c.connectMu.Unlock()
	defer func() {
		c.connectMu.Lock()
		c.connectCancel = nil
		c.connectMu.Unlock()
		cancel()
	}()

	resp, err := c.api.CreateConversation(reqCtx, c.conv.Credentials, apiclient.ConversationRequest{
		Device:     c.conv.Device,
		Person:     c.conv.Person,
		AppRelease: c.conv.AppRelease,
	})
	if err != nil {
		c.logger.Warn("conversation creation failed", slog.String("error", err.Error()))
		return fmt.Errorf("create conversation: %w", err)
	}

	creds, err := c.conv.Credentials.Anonymize(resp.ID, resp.Token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInternalInconsistency, err)
	}
	next := c.conv.Clone()
	next.Credentials = creds
	next.ID = resp.ID
	next.PersonID = resp.PersonID
	next.DeviceID = resp.DeviceID
	if err := c.commit(ctx, next); err != nil {
		return err
	}
	c.sender.SetCredentials(creds)

	c.logger.Info("conversation created", slog.String("conversation_id", resp.ID))
	return nil
}

// sameEnvironment compares the probed device facts.
func sameEnvironment(a, b conversation.Device) bool {
	return a.OSName == b.OSName &&
		a.OSVersion == b.OSVersion &&
		a.OSBuild == b.OSBuild &&
		a.HardwareModel == b.HardwareModel &&
		a.Locale == b.Locale &&
		a.LocaleLanguage == b.LocaleLanguage &&
		a.LocaleCountry == b.LocaleCountry &&
		a.UTCOffset == b.UTCOffset &&
		a.Carrier == b.Carrier
}
