// Package discord implements chat.Platform and chat.RoleGateway over the
// Discord REST API.
package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/CodeMC/bot/internal/components/chat"
	httpclient "github.com/CodeMC/bot/internal/platform/http/client"
	"github.com/CodeMC/bot/internal/platform/logutil"
)

// DefaultAPIURL is the Discord REST base URL.
const DefaultAPIURL = "https://discord.com/api/v10"

// ErrUnexpectedStatus is wrapped for non-2xx answers that are neither 403 nor 404.
var ErrUnexpectedStatus = errors.New("discord: unexpected status")

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	// APIURL is the REST base URL. Empty means DefaultAPIURL.
	APIURL string
	// Token is the bot token sent as "Authorization: Bot <token>".
	Token string
	// ApplicationID is needed for interaction webhook edits.
	ApplicationID string
	// HTTPClient performs the requests.
	HTTPClient httpclient.HTTPClient
	// Logger is used for structured logging. If nil, logging is discarded.
	Logger *slog.Logger
}

// Client talks to the Discord REST API.
type Client struct {
	baseURL       string
	token         string
	applicationID string
	httpClient    httpclient.HTTPClient
	logger        *slog.Logger
}

// NewClient creates a new Discord client.
func NewClient(config ClientConfig) (*Client, error) {
	base := config.APIURL
	if base == "" {
		base = DefaultAPIURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("discord: invalid APIURL %q: %w", base, err)
	}
	if config.HTTPClient == nil {
		return nil, fmt.Errorf("discord: HTTPClient is required")
	}

	return &Client{
		baseURL:       strings.TrimRight(base, "/"),
		token:         config.Token,
		applicationID: config.ApplicationID,
		httpClient:    config.HTTPClient,
		logger:        logutil.NoopIfNil(config.Logger),
	}, nil
}

// FetchMessage implements chat.Platform.
func (c *Client) FetchMessage(ctx context.Context, channelID, messageID string) (*chat.Message, error) {
	var msg chat.Message
	path := "/channels/" + url.PathEscape(channelID) + "/messages/" + url.PathEscape(messageID)
	if err := c.do(ctx, http.MethodGet, path, nil, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// DeleteMessage implements chat.Platform.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	path := "/channels/" + url.PathEscape(channelID) + "/messages/" + url.PathEscape(messageID)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// ArchiveThread implements chat.Platform.
func (c *Client) ArchiveThread(ctx context.Context, threadID string) error {
	body := map[string]any{"archived": true}
	return c.do(ctx, http.MethodPatch, "/channels/"+url.PathEscape(threadID), body, nil)
}

// Channel implements chat.Platform.
func (c *Client) Channel(ctx context.Context, channelID string) (*chat.Channel, error) {
	var ch chat.Channel
	if err := c.do(ctx, http.MethodGet, "/channels/"+url.PathEscape(channelID), nil, &ch); err != nil {
		return nil, err
	}
	return &ch, nil
}

// SendMessage implements chat.Platform.
func (c *Client) SendMessage(ctx context.Context, channelID string, msg chat.MessageSend) (*chat.Message, error) {
	var sent chat.Message
	path := "/channels/" + url.PathEscape(channelID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, msg, &sent); err != nil {
		return nil, err
	}
	return &sent, nil
}

// EditMessage implements chat.Platform.
func (c *Client) EditMessage(ctx context.Context, channelID, messageID string, msg chat.MessageSend) error {
	path := "/channels/" + url.PathEscape(channelID) + "/messages/" + url.PathEscape(messageID)
	return c.do(ctx, http.MethodPatch, path, msg, nil)
}

// EditInteractionResponse implements chat.Platform.
func (c *Client) EditInteractionResponse(ctx context.Context, interactionToken string, msg chat.MessageSend) error {
	path := "/webhooks/" + url.PathEscape(c.applicationID) + "/" + url.PathEscape(interactionToken) + "/messages/@original"
	return c.do(ctx, http.MethodPatch, path, msg, nil)
}

// Member implements chat.Platform.
func (c *Client) Member(ctx context.Context, guildID, userID string) (*chat.Member, error) {
	var m chat.Member
	path := "/guilds/" + url.PathEscape(guildID) + "/members/" + url.PathEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GrantRole implements chat.RoleGateway.
func (c *Client) GrantRole(ctx context.Context, guildID, memberID, roleID string) error {
	return c.do(ctx, http.MethodPut, rolePath(guildID, memberID, roleID), nil, nil)
}

// RevokeRole implements chat.RoleGateway.
func (c *Client) RevokeRole(ctx context.Context, guildID, memberID, roleID string) error {
	return c.do(ctx, http.MethodDelete, rolePath(guildID, memberID, roleID), nil, nil)
}

// HasRole implements chat.RoleGateway.
func (c *Client) HasRole(ctx context.Context, guildID, memberID, roleID string) (bool, error) {
	m, err := c.Member(ctx, guildID, memberID)
	if err != nil {
		return false, err
	}
	return m.HasRole(roleID), nil
}

// RegisterCommands replaces the guild's application commands with cmds.
func (c *Client) RegisterCommands(ctx context.Context, guildID string, cmds []chat.Command) error {
	path := "/applications/" + url.PathEscape(c.applicationID) + "/guilds/" + url.PathEscape(guildID) + "/commands"
	return c.do(ctx, http.MethodPut, path, cmds, nil)
}

func rolePath(guildID, memberID, roleID string) string {
	return "/guilds/" + url.PathEscape(guildID) + "/members/" + url.PathEscape(memberID) + "/roles/" + url.PathEscape(roleID)
}

// do sends a JSON request and decodes a JSON answer into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("discord: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("discord: build %s %s: %w", method, path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bot "+c.token)
	}

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("discord: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", chat.ErrNotFound, method, path)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s", chat.ErrPermissionDenied, method, path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("discord request failed",
			"method", method,
			"path", path,
			"status", resp.StatusCode,
		)
		return fmt.Errorf("%w %d for %s %s: %s", ErrUnexpectedStatus, resp.StatusCode, method, path, strings.TrimSpace(string(snippet)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("discord: decode %s %s: %w", method, path, err)
	}
	return nil
}

// Compile-time interface checks
var _ chat.Platform = (*Client)(nil)
var _ chat.RoleGateway = (*Client)(nil)
