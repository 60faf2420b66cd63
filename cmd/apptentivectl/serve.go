package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"
	"github.com/spf13/cobra"

	"github.com/rafaeljc/apptentivekit/internal/logger"
	"github.com/rafaeljc/apptentivekit/internal/observability"
	"github.com/rafaeljc/apptentivekit/internal/sender"
	"github.com/rafaeljc/apptentivekit/internal/store"
	"github.com/rafaeljc/apptentivekit/sdk/apptentive"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Keep the delivery loop running and expose the admin server",
		Long: `serve keeps the SDK alive so queued payloads are retried, and starts the
admin server with liveness, readiness, metrics and GET /delivery.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	h, err := openHost(cmd)
	if err != nil {
		return err
	}
	defer h.Close()

	admin := observability.NewServer(logger.Component(h.logger, "observability"), &h.cfg.Observability,
		store.Checker{Store: h.store},
		observability.CheckFunc{Label: "conversation", Fn: conversationCheck(h.client)},
	)
	admin.Handle("/delivery", deliveryHandler(h.client))
	if err := admin.Start(); err != nil {
		return fmt.Errorf("start admin server: %w", err)
	}

	events, unsubscribe := h.client.SubscribeDelivery(64)
	defer unsubscribe()

	h.logger.Info("delivery loop running", slog.String("admin_addr", admin.Addr().String()))

	ctx := cmd.Context()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case ev, ok := <-events:
			if !ok {
				break loop
			}
			logDelivery(h.logger, ev)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), h.cfg.App.ShutdownTimeout)
	defer cancel()
	if err := admin.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown admin server: %w", err)
	}
	h.logger.Info("delivery loop stopped")
	return nil
}

func logDelivery(lg *slog.Logger, ev apptentive.DeliveryEvent) {
	attrs := []any{
		slog.String("nonce", ev.Nonce),
		slog.String("kind", string(ev.Kind)),
		slog.String("outcome", string(ev.Outcome)),
		slog.Int("attempt", ev.Attempt),
	}
	if ev.Err != nil {
		attrs = append(attrs, slog.String("error", ev.Err.Error()))
	}
	if ev.Outcome == sender.OutcomeDropped {
		lg.Warn("payload delivery", attrs...)
		return
	}
	lg.Info("payload delivery", attrs...)
}

// conversationCheck reports ready once payloads can be delivered.
func conversationCheck(c *apptentive.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		status, err := c.DeliveryStatus(ctx)
		if err != nil {
			return err
		}
		if status.State == sender.StateWaitingForConversation {
			return errors.New("no server conversation yet")
		}
		return nil
	}
}

type deliveryResponse struct {
	QueueLength  int        `json:"queue_length"`
	State        string     `json:"state"`
	HeadNonce    string     `json:"head_nonce,omitempty"`
	HeadAttempts int        `json:"head_attempts,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	NextRetry    *time.Time `json:"next_retry,omitempty"`
}

func deliveryHandler(c *apptentive.Client) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		status, err := c.DeliveryStatus(r.Context())
		if err != nil {
			render.Status(r, http.StatusServiceUnavailable)
			render.JSON(w, r, map[string]string{"error": err.Error()})
			return
		}

		resp := deliveryResponse{
			QueueLength:  status.QueueLength,
			State:        status.State.String(),
			HeadNonce:    status.HeadNonce,
			HeadAttempts: status.HeadAttempts,
			LastError:    status.LastError,
		}
		if !status.NextRetry.IsZero() {
			resp.NextRetry = &status.NextRetry
		}
		render.JSON(w, r, resp)
	})
}
