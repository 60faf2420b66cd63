package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rafaeljc/apptentivekit/sdk/apptentive"
)

func newEngageCmd() *cobra.Command {
	var dryRun bool
	var customData []string

	cmd := &cobra.Command{
		Use:   "engage <event>",
		Short: "Engage a host app event and present any targeted interaction",
		Args:  cobra.ExactArgs(1),
		RunE: withHost(func(cmd *cobra.Command, h *host, args []string) error {
			event := apptentive.NewEvent(args[0])

			if dryRun {
				can, err := h.client.CanShowInteraction(cmd.Context(), event)
				if err != nil {
					return err
				}
				return report(cmd, map[string]any{"event": event.CodePoint(), "would_show": can})
			}

			if len(customData) > 0 {
				data, err := parseCustomData(customData)
				if err != nil {
					return err
				}
				event.CustomData = data
			}

			shown, err := h.client.Engage(cmd.Context(), event)
			if err != nil {
				return err
			}
			return report(cmd, map[string]any{"event": event.CodePoint(), "shown": shown})
		}),
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "only report whether an interaction would be shown")
	cmd.Flags().StringArrayVar(&customData, "data", nil, "custom data as key=value, repeatable")
	return cmd
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the conversation and the payload queue",
		Args:  cobra.NoArgs,
		RunE: withHost(func(cmd *cobra.Command, h *host, _ []string) error {
			snap, err := h.client.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			delivery, err := h.client.DeliveryStatus(cmd.Context())
			if err != nil {
				return err
			}

			return report(cmd, map[string]any{
				"conversation_id": snap.ID,
				"state":           snap.Credentials.State.String(),
				"subject":         snap.Credentials.Subject,
				"app_version":     snap.AppRelease.Version,
				"app_build":       snap.AppRelease.Build,
				"queue_length":    delivery.QueueLength,
				"delivery_state":  delivery.State.String(),
				"last_error":      delivery.LastError,
			})
		}),
	}
}

func newPersonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "person",
		Short: "Edit the person of the conversation",
	}

	setName := &cobra.Command{
		Use:   "set-name <name>",
		Short: "Set the person's name",
		Args:  cobra.ExactArgs(1),
		RunE: withHost(func(cmd *cobra.Command, h *host, args []string) error {
			return h.client.UpdatePerson(cmd.Context(), func(p *apptentive.Person) error {
				p.Name = args[0]
				return nil
			})
		}),
	}

	setEmail := &cobra.Command{
		Use:   "set-email <email>",
		Short: "Set the person's email address",
		Args:  cobra.ExactArgs(1),
		RunE: withHost(func(cmd *cobra.Command, h *host, args []string) error {
			return h.client.UpdatePerson(cmd.Context(), func(p *apptentive.Person) error {
				p.Email = args[0]
				return nil
			})
		}),
	}

	setCustom := &cobra.Command{
		Use:   "set-custom <key> <value>",
		Short: "Set a custom data entry; numbers and booleans keep their type",
		Args:  cobra.ExactArgs(2),
		RunE: withHost(func(cmd *cobra.Command, h *host, args []string) error {
			return h.client.UpdatePerson(cmd.Context(), func(p *apptentive.Person) error {
				return p.CustomData.Set(args[0], parseScalar(args[1]))
			})
		}),
	}

	cmd.AddCommand(setName, setEmail, setCustom)
	return cmd
}

func newLoginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login <jwt>",
		Short: "Authenticate the conversation with an end-user JWT",
		Args:  cobra.ExactArgs(1),
		RunE: withHost(func(cmd *cobra.Command, h *host, args []string) error {
			return h.client.Login(cmd.Context(), args[0])
		}),
	}
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Return the conversation to the anonymous state",
		Args:  cobra.NoArgs,
		RunE: withHost(func(cmd *cobra.Command, h *host, _ []string) error {
			return h.client.Logout(cmd.Context())
		}),
	}
}

func report(cmd *cobra.Command, fields map[string]any) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), fields)
	}
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%-16s %v\n", k+":", fields[k]); err != nil {
			return err
		}
	}
	return nil
}

func parseCustomData(pairs []string) (apptentive.CustomData, error) {
	data := apptentive.NewCustomData()
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return data, fmt.Errorf("custom data %q is not key=value", pair)
		}
		if err := data.Set(k, parseScalar(v)); err != nil {
			return data, err
		}
	}
	return data, nil
}

// parseScalar keeps booleans and numbers typed so criteria compare them
// as such.
func parseScalar(s string) any {
	switch s {
	case "true":
		return true
	case "false":
		return false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
