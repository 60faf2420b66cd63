package apptentive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rafaeljc/apptentivekit/internal/credentials"
)

// SendSurveyResponse queues the answers to a survey.
func (c *Client) SendSurveyResponse(ctx context.Context, surveyID string, answers map[string][]Answer) error {
	return run(ctx, c, func(ctx context.Context) error {
		if err := c.requireConnected(); err != nil {
			return err
		}
		p, err := c.factory.SurveyResponse(surveyID, answers)
		return c.enqueue(ctx, p, err)
	})
}

// SendMessage queues a message, with its attachments if any.
func (c *Client) SendMessage(ctx context.Context, msg MessageInput) error {
	return run(ctx, c, func(ctx context.Context) error {
		if err := c.requireConnected(); err != nil {
			return err
		}
		p, err := c.factory.Message(msg)
		return c.enqueue(ctx, p, err)
	})
}

// UpdatePerson applies fn to a copy of the person. If fn succeeds the change
// is persisted and queued; otherwise nothing changes.
func (c *Client) UpdatePerson(ctx context.Context, fn func(*Person) error) error {
	return run(ctx, c, func(ctx context.Context) error {
		if err := c.requireConnected(); err != nil {
			return err
		}
		next := c.conv.Clone()
		if err := fn(&next.Person); err != nil {
			return err
		}

		if err := c.commit(ctx, next); err != nil {
			return err
		}
		p, err := c.factory.Person(next.Person)
		return c.enqueue(ctx, p, err)
	})
}

// UpdateDevice applies fn to a copy of the device, like UpdatePerson.
// Environment facts are overwritten again on the next launch; use it for
// custom data.
func (c *Client) UpdateDevice(ctx context.Context, fn func(*Device) error) error {
	return run(ctx, c, func(ctx context.Context) error {
		if err := c.requireConnected(); err != nil {
			return err
		}
		next := c.conv.Clone()
		if err := fn(&next.Device); err != nil {
			return err
		}

		if err := c.commit(ctx, next); err != nil {
			return err
		}
		p, err := c.factory.Device(next.Device)
		return c.enqueue(ctx, p, err)
	})
}

// Login authenticates the conversation as the user identified by userJWT.
// The conversation must exist and be anonymous.
func (c *Client) Login(ctx context.Context, userJWT string) error {
	return run(ctx, c, func(ctx context.Context) error {
		if err := c.requireConnected(); err != nil {
			return err
		}
		creds := c.conv.Credentials
		if creds.State != credentials.Anonymous {
			return fmt.Errorf("%w: login from %s", credentials.ErrInvalidTransition, creds.State)
		}
		if _, err := credentials.SubjectFromJWT(userJWT); err != nil {
			return err
		}

		resp, err := c.api.Login(ctx, creds, userJWT)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		next, err := creds.Login(userJWT, resp.Token)
		if err != nil {
			return err
		}
		return c.setCredentials(ctx, next)
	})
}

// Logout returns the conversation to the anonymous state.
func (c *Client) Logout(ctx context.Context) error {
	return run(ctx, c, func(ctx context.Context) error {
		if err := c.requireConnected(); err != nil {
			return err
		}
		next, err := c.conv.Credentials.Logout()
		if err != nil {
			return err
		}
		return c.setCredentials(ctx, next)
	})
}

func (c *Client) setCredentials(ctx context.Context, creds credentials.Credentials) error {
	next := c.conv.Clone()
	next.Credentials = creds
	if err := c.commit(ctx, next); err != nil {
		return err
	}
	c.sender.SetCredentials(creds)
	c.logger.Info("credentials changed", slog.String("state", creds.State.String()))
	return nil
}
