// Package nexus implements remote.Repository against the Nexus Repository
// Manager 3 REST API. Each account owns one hosted Maven repository, a role
// granting access to it, and a local user holding that role.
package nexus

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

	"github.com/CodeMC/bot/internal/components/remote"
	httpclient "github.com/CodeMC/bot/internal/platform/http/client"
	"github.com/CodeMC/bot/internal/platform/logutil"
)

const apiPrefix = "/service/rest/v1"

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	Config

	// HTTPClient performs the requests.
	HTTPClient httpclient.HTTPClient

	// Logger is used for structured logging. If nil, logging is discarded.
	Logger *slog.Logger
}

// Client talks to Nexus.
type Client struct {
	baseURL    string
	cfg        Config
	httpClient httpclient.HTTPClient
	logger     *slog.Logger
}

// NewClient creates a new Nexus client.
func NewClient(config ClientConfig) (*Client, error) {
	u, err := url.Parse(config.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("nexus: invalid url %q", config.URL)
	}
	if config.HTTPClient == nil {
		return nil, errors.New("nexus: HTTPClient is required")
	}
	config.Config.ApplyDefaults()

	return &Client{
		baseURL:    strings.TrimRight(config.URL, "/"),
		cfg:        config.Config,
		httpClient: config.HTTPClient,
		logger:     logutil.NoopIfNil(config.Logger),
	}, nil
}

// RepositoryName is the hosted repository (and user id) for an account.
func RepositoryName(name string) string {
	return strings.ToLower(name)
}

// RoleName is the role granting access to the account's repository.
func RoleName(name string) string {
	return RepositoryName(name) + "-role"
}

type userResponse struct {
	UserID string `json:"userId"`
}

// Exists reports whether the account's user exists.
func (c *Client) Exists(ctx context.Context, name string) (bool, error) {
	id := RepositoryName(name)
	var users []userResponse
	status, err := c.do(ctx, http.MethodGet, "/security/users", url.Values{"userId": {id}}, nil, &users)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	for _, u := range users {
		if strings.EqualFold(u.UserID, id) {
			return true, nil
		}
	}
	return false, nil
}

// Create provisions the repository, its role and the user, in that order.
// Pieces that already exist are kept, so calling Create again after a
// partial failure completes the account. An existing user gets password.
func (c *Client) Create(ctx context.Context, name, password string) error {
	repo := RepositoryName(name)
	role := RoleName(name)

	found, err := c.present(ctx, "/repositories/"+url.PathEscape(repo))
	if err != nil {
		return err
	}
	if !found {
		repository := map[string]any{
			"name":   repo,
			"online": true,
			"storage": map[string]any{
				"blobStoreName":               c.cfg.BlobStore,
				"strictContentTypeValidation": true,
				"writePolicy":                 "ALLOW",
			},
			"maven": map[string]any{
				"versionPolicy": "MIXED",
				"layoutPolicy":  "PERMISSIVE",
			},
		}
		if err := c.expect(ctx, http.MethodPost, "/repositories/maven/hosted", repository); err != nil {
			return err
		}
	}

	found, err = c.present(ctx, "/security/roles/"+url.PathEscape(role))
	if err != nil {
		return err
	}
	if !found {
		roleBody := map[string]any{
			"id":          role,
			"name":        role,
			"description": "Access to the " + repo + " repository",
			"privileges": []string{
				"nx-repository-view-maven2-" + repo + "-*",
				"nx-repository-view-maven2-public-browse",
				"nx-repository-view-maven2-public-read",
			},
			"roles": []string{},
		}
		if err := c.expect(ctx, http.MethodPost, "/security/roles", roleBody); err != nil {
			return err
		}
	}

	found, err = c.Exists(ctx, name)
	if err != nil {
		return err
	}
	if found {
		c.logger.Info("nexus user already present, resetting password", "user", repo)
		return c.ChangePassword(ctx, name, password)
	}
	user := map[string]any{
		"userId":       repo,
		"firstName":    name,
		"lastName":     name,
		"emailAddress": repo + "@" + c.cfg.EmailDomain,
		"password":     password,
		"status":       "active",
		"roles":        []string{role},
	}
	if err := c.expect(ctx, http.MethodPost, "/security/users", user); err != nil {
		return err
	}

	c.logger.Info("nexus account created", "user", repo)
	return nil
}

// ChangePassword sets the user's password.
func (c *Client) ChangePassword(ctx context.Context, name, password string) error {
	path := "/security/users/" + url.PathEscape(RepositoryName(name)) + "/change-password"
	status, err := c.send(ctx, http.MethodPut, path, nil, "text/plain", strings.NewReader(password), nil)
	if err != nil {
		return err
	}
	if !isSuccess(status) {
		return remote.StatusError("nexus", http.MethodPut, path, status, "")
	}
	return nil
}

// Delete removes the user, role and repository. Missing pieces are skipped.
func (c *Client) Delete(ctx context.Context, name string) error {
	paths := []string{
		"/security/users/" + url.PathEscape(RepositoryName(name)),
		"/security/roles/" + url.PathEscape(RoleName(name)),
		"/repositories/" + url.PathEscape(RepositoryName(name)),
	}
	for _, path := range paths {
		status, err := c.do(ctx, http.MethodDelete, path, nil, nil, nil)
		if err != nil {
			return err
		}
		if status != http.StatusNotFound && !isSuccess(status) {
			return remote.StatusError("nexus", http.MethodDelete, path, status, "")
		}
	}
	c.logger.Info("nexus account deleted", "user", RepositoryName(name))
	return nil
}

// GetRepositoryInfo returns the hosted repository, or nil when it does not exist.
func (c *Client) GetRepositoryInfo(ctx context.Context, name string) (*remote.RepoInfo, error) {
	var info remote.RepoInfo
	status, err := c.do(ctx, http.MethodGet, "/repositories/"+url.PathEscape(RepositoryName(name)), nil, nil, &info)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	return &info, nil
}

// present reports whether GET path answers with something other than 404.
func (c *Client) present(ctx context.Context, path string) (bool, error) {
	status, err := c.do(ctx, http.MethodGet, path, nil, nil, nil)
	if err != nil {
		return false, err
	}
	return status != http.StatusNotFound, nil
}

func (c *Client) expect(ctx context.Context, method, path string, in any) error {
	status, err := c.do(ctx, method, path, nil, in, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return remote.StatusError("nexus", method, path, status, "")
	}
	return nil
}

// do sends JSON and decodes a JSON answer into out on success. 404 is
// returned as a status, not an error; other failures wrap remote.ErrRemote.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) (int, error) {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("nexus: encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, query, contentType, body, out)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader, out any) (int, error) {
	target := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return 0, fmt.Errorf("nexus: build %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("%w: nexus %s %s: %v", remote.ErrRemote, method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("nexus request", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if !isSuccess(resp.StatusCode) {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("nexus request failed", "method", method, "path", path, "status", resp.StatusCode)
		return resp.StatusCode, remote.StatusError("nexus", method, path, resp.StatusCode, string(snippet))
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: nexus: decode %s %s: %v", remote.ErrRemote, method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

var _ remote.Repository = (*Client)(nil)
