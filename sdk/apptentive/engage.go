package apptentive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rafaeljc/apptentivekit/internal/conversation"
	"github.com/rafaeljc/apptentivekit/internal/payload"
	"github.com/rafaeljc/apptentivekit/internal/targeting"
)

// Engage reports that event happened. The event is counted and queued for
// delivery; if the manifest targets an interaction at it, the interaction is
// presented and Engage reports true.
//
// Interaction counters only move after the Presenter succeeds.
func (c *Client) Engage(ctx context.Context, event Event) (bool, error) {
	return call(ctx, c, func(ctx context.Context) (bool, error) {
		return c.engage(ctx, event)
	})
}

// CanShowInteraction reports whether engaging event would present an
// interaction, without counting or queueing anything.
func (c *Client) CanShowInteraction(ctx context.Context, event Event) (bool, error) {
	return call(ctx, c, func(context.Context) (bool, error) {
		if err := c.requireConnected(); err != nil {
			return false, err
		}
		return c.targeter.CanShow(event, c.conv), nil
	})
}

// RefreshManifest fetches the manifest now, whether or not it has expired.
func (c *Client) RefreshManifest(ctx context.Context) error {
	return run(ctx, c, func(ctx context.Context) error {
		if err := c.requireConnected(); err != nil {
			return err
		}
		return c.refresher.Refresh(ctx, c.conv.Credentials)
	})
}

func (c *Client) engage(ctx context.Context, event Event) (bool, error) {
	if err := c.record(ctx, event); err != nil {
		return false, err
	}
	c.refreshInBackground()

	interaction, ok := c.targeter.Interaction(event, c.conv)
	if !ok {
		return false, nil
	}
	if c.presenter == nil {
		c.logger.Error("interaction matched without a presenter",
			slog.String("code_point", event.CodePoint()),
			slog.String("interaction_id", interaction.ID),
		)
		return false, fmt.Errorf("%w: no presenter for interaction %s", ErrInternalInconsistency, interaction.ID)
	}

	if err := c.presenter.Present(ctx, interaction); err != nil {
		c.logger.Warn("interaction was not presented",
			slog.String("interaction_id", interaction.ID),
			slog.String("error", err.Error()),
		)
		return false, fmt.Errorf("present interaction %s: %w", interaction.ID, err)
	}

	next := c.conv.Clone()
	next.Metrics.Invoke(conversation.InteractionMetric, interaction.ID, c.clock.Now())
	if err := c.commit(ctx, next); err != nil {
		return true, err
	}

	launch := targeting.InteractionEvent("launch", interaction.Type, interaction.ID)
	if err := c.record(ctx, launch); err != nil {
		return true, err
	}
	return true, nil
}

// record counts the event's code point, persists the conversation and
// queues the event payload.
func (c *Client) record(ctx context.Context, event Event) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	codePoint := event.CodePoint()

	next := c.conv.Clone()
	next.Metrics.Invoke(conversation.CodePointMetric, codePoint, c.clock.Now())
	if err := c.commit(ctx, next); err != nil {
		return err
	}

	p, err := c.factory.Event(payload.EventInput{
		CodePoint:     codePoint,
		InteractionID: event.InteractionID,
		CustomData:    event.CustomData,
		ExtendedData:  event.ExtendedData,
	})
	return c.enqueue(ctx, p, err)
}

// refreshInBackground starts a manifest fetch when the manifest in force has
// expired. The fetch does not block the worker.
func (c *Client) refreshInBackground() {
	creds := c.conv.Credentials
	if !creds.HasConversation() || !c.refresher.NeedsRefresh() || c.refresher.InFlight() {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.refresher.Refresh(c.ctx, creds); err != nil {
			c.logger.Warn("background manifest refresh failed", slog.String("error", err.Error()))
		}
	}()
}
