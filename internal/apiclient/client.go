// Package apiclient talks to the Apptentive backend: it creates
// conversations, fetches engagement manifests, logs users in and delivers
// queued payloads.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rafaeljc/apptentivekit/internal/clock"
	"github.com/rafaeljc/apptentivekit/internal/config"
	"github.com/rafaeljc/apptentivekit/internal/conversation"
	"github.com/rafaeljc/apptentivekit/internal/credentials"
	"github.com/rafaeljc/apptentivekit/internal/manifest"
	"github.com/rafaeljc/apptentivekit/internal/observability"
	"github.com/rafaeljc/apptentivekit/internal/payload"
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 4 << 10

// Operation names used in logs and the requests metric.
const (
	OpCreateConversation = "create_conversation"
	OpFetchManifest      = "fetch_manifest"
	OpLogin              = "login"
	OpSend               = "send"
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIVersion string
	UserAgent  string
	// Timeout applies when HTTPClient is nil.
	Timeout    time.Duration
	HTTPClient *http.Client
	// MinManifestExpiry floors the Cache-Control max-age of manifests.
	MinManifestExpiry time.Duration
	Clock             clock.Clock
	Logger            *slog.Logger
}

// ConfigFrom maps the environment configuration onto a client Config.
func ConfigFrom(api config.APIConfig, m config.ManifestConfig) Config {
	return Config{
		BaseURL:           api.BaseURL,
		APIVersion:        api.APIVersion,
		UserAgent:         api.UserAgent,
		Timeout:           api.Timeout,
		MinManifestExpiry: m.MinExpiry,
	}
}

// Client is a backend API client. It is safe for concurrent use.
type Client struct {
	baseURL    string
	apiVersion string
	userAgent  string
	http       *http.Client
	minExpiry  time.Duration
	clock      clock.Clock
	logger     *slog.Logger
}

// New creates a client with defaults for unset fields.
func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		cfg.HTTPClient = &http.Client{Timeout: timeout}
	}
	if cfg.MinManifestExpiry <= 0 {
		cfg.MinManifestExpiry = manifest.DefaultMinExpiry
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "apptentivekit"
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiVersion: cfg.APIVersion,
		userAgent:  cfg.UserAgent,
		http:       cfg.HTTPClient,
		minExpiry:  cfg.MinManifestExpiry,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}
}

// ConversationRequest is the snapshot sent when creating a conversation.
type ConversationRequest struct {
	Device     conversation.Device     `json:"device"`
	Person     conversation.Person     `json:"person"`
	AppRelease conversation.AppRelease `json:"app_release"`
}

// ConversationResponse carries the identifiers issued by the server.
type ConversationResponse struct {
	Token    string `json:"token"`
	ID       string `json:"id"`
	PersonID string `json:"person_id"`
	DeviceID string `json:"device_id"`
}

// LoginResponse is returned by a successful login.
type LoginResponse struct {
	Token string `json:"token"`
}

// CreateConversation registers a new conversation. creds must hold the app
// key and signature.
func (c *Client) CreateConversation(ctx context.Context, creds credentials.Credentials, req ConversationRequest) (ConversationResponse, error) {
	var resp ConversationResponse
	if creds.State < credentials.Pending {
		return resp, fmt.Errorf("%w: app key and signature are not set", credentials.ErrConfiguration)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return resp, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	data, _, err := c.do(ctx, OpCreateConversation, creds, http.MethodPost, "conversations", payload.ContentTypeJSON, body)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, fmt.Errorf("decode conversation response: %w", err)
	}
	if resp.ID == "" || resp.Token == "" {
		return resp, fmt.Errorf("conversation response is missing id or token")
	}
	return resp, nil
}

// FetchManifest downloads the engagement manifest. Its expiry comes from the
// Cache-Control header, floored at the configured minimum.
func (c *Client) FetchManifest(ctx context.Context, creds credentials.Credentials) (manifest.Manifest, error) {
	path, err := creds.ResolvePath("conversations/:conversation_id/interactions")
	if err != nil {
		return manifest.Manifest{}, err
	}

	data, header, err := c.do(ctx, OpFetchManifest, creds, http.MethodGet, path, "", nil)
	if err != nil {
		return manifest.Manifest{}, err
	}

	now := c.clock.Now()
	return manifest.Decode(data, now, manifest.ExpiryFromHeader(header, now, c.minExpiry))
}

// Login exchanges an end-user JWT for an authenticated session on the
// current conversation.
func (c *Client) Login(ctx context.Context, creds credentials.Credentials, userJWT string) (LoginResponse, error) {
	var resp LoginResponse
	path, err := creds.ResolvePath("conversations/:conversation_id/session")
	if err != nil {
		return resp, err
	}
	body, err := json.Marshal(map[string]string{"token": userJWT})
	if err != nil {
		return resp, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	data, _, err := c.do(ctx, OpLogin, creds, http.MethodPost, path, payload.ContentTypeJSON, body)
	if err != nil {
		return resp, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return resp, nil
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return resp, fmt.Errorf("decode login response: %w", err)
	}
	return resp, nil
}

// Send delivers one payload. The body goes out exactly as it was built.
func (c *Client) Send(ctx context.Context, creds credentials.Credentials, p payload.Payload) error {
	path, err := creds.ResolvePath(p.PathTemplate)
	if err != nil {
		return err
	}
	_, _, err = c.do(ctx, OpSend, creds, p.Method, path, p.ContentType, p.Body)
	return err
}

func (c *Client) do(ctx context.Context, op string, creds credentials.Credentials, method, path, contentType string, body []byte) ([]byte, http.Header, error) {
	url := c.baseURL + "/" + strings.TrimLeft(path, "/")

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}

	for k, v := range creds.Headers(c.apiVersion) {
		req.Header[k] = v
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := c.clock.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		observability.APIRequestsTotal.WithLabelValues(op, "error").Inc()
		c.logger.Debug("api request failed",
			"operation", op,
			"method", method,
			"path", path,
			"error", err,
		)
		return nil, nil, err
	}
	defer resp.Body.Close()

	observability.APIRequestsTotal.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Inc()
	c.logger.Debug("api request completed",
		"operation", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", c.clock.Now().Sub(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, resp.Header, &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(b),
			RetryAfter: parseRetryAfter(resp.Header, c.clock.Now()),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.Header, fmt.Errorf("read %s response: %w", op, err)
	}
	return data, resp.Header, nil
}
