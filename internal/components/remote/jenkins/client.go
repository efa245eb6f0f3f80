// Package jenkins implements remote.CI against the Jenkins REST API. Every
// account is a top-level folder named after the user; jobs live inside it.
package jenkins

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

const (
	folderClass = "com.cloudbees.hudson.plugins.folder.Folder"

	// credentialsProperty binds the folder's credential store. Rewriting
	// config.xml without it unbinds every folder credential.
	credentialsProperty = "com.cloudbees.hudson.plugins.folder.properties.FolderCredentialsProvider_-FolderCredentialsProperty"

	credentialStore = "/credentials/store/folder/domain/_"
)

// ClientConfig holds configuration for creating a Client.
type ClientConfig struct {
	Config

	// HTTPClient performs the requests.
	HTTPClient httpclient.HTTPClient

	// IsGroup classifies names for EnsureUserConfig. Nil means individual.
	IsGroup remote.GroupPredicate

	// Logger is used for structured logging. If nil, logging is discarded.
	Logger *slog.Logger
}

// Client talks to Jenkins.
type Client struct {
	baseURL    string
	cfg        Config
	httpClient httpclient.HTTPClient
	isGroup    remote.GroupPredicate
	logger     *slog.Logger
}

// NewClient creates a new Jenkins client.
func NewClient(config ClientConfig) (*Client, error) {
	u, err := url.Parse(config.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("jenkins: invalid url %q", config.URL)
	}
	if config.HTTPClient == nil {
		return nil, errors.New("jenkins: HTTPClient is required")
	}
	config.Config.ApplyDefaults()

	isGroup := config.IsGroup
	if isGroup == nil {
		isGroup = func(string) bool { return false }
	}

	return &Client{
		baseURL:    strings.TrimRight(config.URL, "/"),
		cfg:        config.Config,
		httpClient: config.HTTPClient,
		isGroup:    isGroup,
		logger:     logutil.NoopIfNil(config.Logger),
	}, nil
}

// UserExists reports whether the user's folder exists.
func (c *Client) UserExists(ctx context.Context, name string) (bool, error) {
	return c.present(ctx, folderPath(name)+"/api/json")
}

// CreateUser creates the login account (individuals only), the user's
// folder and the folder credential holding password. Pieces left behind by
// an earlier failed call are kept, so a retry completes the account.
func (c *Client) CreateUser(ctx context.Context, name, password string, isGroup bool) error {
	if !isGroup {
		if err := c.createAccount(ctx, name, password); err != nil {
			return err
		}
	}

	exists, err := c.UserExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		body, err := render(folderTemplate, folderData{Name: name, IsGroup: isGroup})
		if err != nil {
			return fmt.Errorf("jenkins: render folder config: %w", err)
		}
		if err := c.expect(ctx, http.MethodPost, "/createItem", url.Values{"name": {name}},
			"application/xml", bytes.NewReader(body)); err != nil {
			return err
		}
	}

	if err := c.ChangePassword(ctx, name, password); err != nil {
		return err
	}

	c.logger.Info("jenkins user created", "user", name, "group", isGroup)
	return nil
}

// createAccount creates the login account unless it already exists.
func (c *Client) createAccount(ctx context.Context, name, password string) error {
	exists, err := c.present(ctx, "/securityRealm/user/"+url.PathEscape(name)+"/api/json")
	if err != nil || exists {
		return err
	}
	form := url.Values{
		"username":  {name},
		"password1": {password},
		"password2": {password},
		"fullname":  {name},
		"email":     {strings.ToLower(name) + "@users.noreply.codemc.io"},
	}
	return c.expect(ctx, http.MethodPost, "/securityRealm/createAccountByAdmin", nil,
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
}

// CreateJob creates a freestyle or Maven job in the user's folder.
func (c *Client) CreateJob(ctx context.Context, name, jobName, repoLink string, freestyle bool) error {
	tmpl := mavenTemplate
	if freestyle {
		tmpl = freestyleTemplate
	}
	body, err := render(tmpl, jobData{
		RepoLink:      repoLink,
		RepositoryURL: c.cfg.RepositoryURL,
		CredentialID:  c.cfg.CredentialID,
	})
	if err != nil {
		return fmt.Errorf("jenkins: render job config: %w", err)
	}

	if err := c.expect(ctx, http.MethodPost, folderPath(name)+"/createItem", url.Values{"name": {jobName}},
		"application/xml", bytes.NewReader(body)); err != nil {
		return err
	}
	c.logger.Info("jenkins job created", "user", name, "job", jobName, "freestyle", freestyle)
	return nil
}

// TriggerBuild queues a build of the job.
func (c *Client) TriggerBuild(ctx context.Context, name, jobName string) error {
	return c.expect(ctx, http.MethodPost, jobPath(name, jobName)+"/build", nil, "", nil)
}

// DeleteUser removes the user's folder and login account. Missing pieces
// are not an error.
func (c *Client) DeleteUser(ctx context.Context, name string) error {
	if err := c.expectOrMissing(ctx, http.MethodPost, folderPath(name)+"/doDelete"); err != nil {
		return err
	}
	if err := c.expectOrMissing(ctx, http.MethodPost, "/securityRealm/user/"+url.PathEscape(name)+"/doDelete"); err != nil {
		return err
	}
	c.logger.Info("jenkins user deleted", "user", name)
	return nil
}

// DeleteJob removes a job. A missing job is not an error.
func (c *Client) DeleteJob(ctx context.Context, name, jobName string) error {
	return c.expectOrMissing(ctx, http.MethodPost, jobPath(name, jobName)+"/doDelete")
}

// ChangePassword upserts the folder credential with the repository password.
func (c *Client) ChangePassword(ctx context.Context, name, password string) error {
	body, err := render(credentialTemplate, credentialData{
		ID:       c.cfg.CredentialID,
		Username: strings.ToLower(name),
		Password: password,
	})
	if err != nil {
		return fmt.Errorf("jenkins: render credential: %w", err)
	}

	store := folderPath(name) + credentialStore
	resp, err := c.do(ctx, http.MethodPost, store+"/createCredentials", nil, "application/xml", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer drain(resp)

	switch {
	case isSuccess(resp.StatusCode):
		return nil
	case resp.StatusCode == http.StatusConflict:
		// Already present: update in place.
		return c.expect(ctx, http.MethodPost, store+"/credential/"+url.PathEscape(c.cfg.CredentialID)+"/config.xml",
			nil, "application/xml", bytes.NewReader(body))
	default:
		return c.statusError(resp, http.MethodPost, store+"/createCredentials")
	}
}

// EnsureUserConfig re-applies the baseline folder configuration. The
// folder's credential binding is carried over from the current config, and
// a folder that ends up without the repository credential is reported with
// remote.ErrCredentialMissing.
func (c *Client) EnsureUserConfig(ctx context.Context, name string) error {
	path := folderPath(name) + "/config.xml"
	current, err := c.fetch(ctx, path)
	if err != nil {
		return err
	}

	body, err := render(folderTemplate, folderData{
		Name:        name,
		IsGroup:     c.isGroup(name),
		Credentials: extractElement(current, credentialsProperty),
	})
	if err != nil {
		return fmt.Errorf("jenkins: render folder config: %w", err)
	}
	if err := c.expect(ctx, http.MethodPost, path, nil, "application/xml", bytes.NewReader(body)); err != nil {
		return err
	}

	bound, err := c.present(ctx, folderPath(name)+credentialStore+"/credential/"+url.PathEscape(c.cfg.CredentialID)+"/api/json")
	if err != nil {
		return err
	}
	if !bound {
		return fmt.Errorf("%w: jenkins folder %s has no credential %s", remote.ErrCredentialMissing, name, c.cfg.CredentialID)
	}
	return nil
}

type jobResponse struct {
	Name        string `json:"name"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Buildable   bool   `json:"buildable"`
	Color       string `json:"color"`
	LastBuild   *struct {
		Number int    `json:"number"`
		Result string `json:"result"`
	} `json:"lastBuild"`
}

// GetJobInfo returns the job's summary, or nil when it does not exist.
func (c *Client) GetJobInfo(ctx context.Context, name, jobName string) (*remote.JobInfo, error) {
	query := url.Values{"tree": {"name,url,description,buildable,color,lastBuild[number,result]"}}
	path := jobPath(name, jobName) + "/api/json"
	resp, err := c.do(ctx, http.MethodGet, path, query, "", nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if !isSuccess(resp.StatusCode) {
		return nil, c.statusError(resp, http.MethodGet, path)
	}

	var jr jobResponse
	if err := json.NewDecoder(resp.Body).Decode(&jr); err != nil {
		return nil, fmt.Errorf("%w: jenkins: decode job info: %v", remote.ErrRemote, err)
	}
	info := &remote.JobInfo{
		Name:        jr.Name,
		URL:         jr.URL,
		Description: jr.Description,
		Buildable:   jr.Buildable,
		Color:       jr.Color,
	}
	if jr.LastBuild != nil {
		info.LastBuildNumber = jr.LastBuild.Number
		info.LastBuildResult = jr.LastBuild.Result
	}
	return info, nil
}

// ListAllUsernames lists every top-level folder.
func (c *Client) ListAllUsernames(ctx context.Context) ([]string, error) {
	query := url.Values{"tree": {"jobs[name,_class]"}}
	resp, err := c.do(ctx, http.MethodGet, "/api/json", query, "", nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	if !isSuccess(resp.StatusCode) {
		return nil, c.statusError(resp, http.MethodGet, "/api/json")
	}

	var root struct {
		Jobs []struct {
			Name  string `json:"name"`
			Class string `json:"_class"`
		} `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: jenkins: decode job list: %v", remote.ErrRemote, err)
	}

	names := make([]string, 0, len(root.Jobs))
	for _, j := range root.Jobs {
		if j.Class == folderClass {
			names = append(names, j.Name)
		}
	}
	return names, nil
}

// WebURL returns the browser URL of a job.
func (c *Client) WebURL(name, jobName string) string {
	return c.baseURL + jobPath(name, jobName) + "/"
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader) (*http.Response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("jenkins: build %s %s: %w", method, path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Token)
	}

	resp, err := c.httpClient.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: jenkins %s %s: %v", remote.ErrRemote, method, path, err)
	}
	c.logger.Debug("jenkins request", "method", method, "path", path, "status", resp.StatusCode)
	return resp, nil
}

// present issues a GET and reports whether the resource exists.
func (c *Client) present(ctx context.Context, path string) (bool, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "", nil)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case isSuccess(resp.StatusCode):
		return true, nil
	default:
		return false, c.statusError(resp, http.MethodGet, path)
	}
}

// fetch returns the body of a GET that must succeed.
func (c *Client) fetch(ctx context.Context, path string) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "", nil)
	if err != nil {
		return "", err
	}
	defer drain(resp)
	if !isSuccess(resp.StatusCode) {
		return "", c.statusError(resp, http.MethodGet, path)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: jenkins GET %s: %v", remote.ErrRemote, path, err)
	}
	return string(body), nil
}

// expect performs a call that must answer 2xx or 3xx.
func (c *Client) expect(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader) error {
	resp, err := c.do(ctx, method, path, query, contentType, body)
	if err != nil {
		return err
	}
	defer drain(resp)
	if !isSuccess(resp.StatusCode) {
		return c.statusError(resp, method, path)
	}
	return nil
}

// expectOrMissing is expect with 404 treated as success.
func (c *Client) expectOrMissing(ctx context.Context, method, path string) error {
	resp, err := c.do(ctx, method, path, nil, "", nil)
	if err != nil {
		return err
	}
	defer drain(resp)
	if resp.StatusCode == http.StatusNotFound || isSuccess(resp.StatusCode) {
		return nil
	}
	return c.statusError(resp, method, path)
}

func (c *Client) statusError(resp *http.Response, method, path string) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	c.logger.Warn("jenkins request failed", "method", method, "path", path, "status", resp.StatusCode)
	return remote.StatusError("jenkins", method, path, resp.StatusCode, string(snippet))
}

// Jenkins answers most form posts with a redirect, which the outbound
// client hands back instead of following.
func isSuccess(status int) bool {
	return status >= 200 && status < 400
}

// extractElement returns the first <tag>...</tag> element of doc verbatim,
// or "" when it is absent or self-closing.
func extractElement(doc, tag string) string {
	start := strings.Index(doc, "<"+tag)
	if start < 0 {
		return ""
	}
	closing := "</" + tag + ">"
	end := strings.Index(doc[start:], closing)
	if end < 0 {
		return ""
	}
	return doc[start : start+end+len(closing)]
}

func folderPath(name string) string {
	return "/job/" + url.PathEscape(name)
}

func jobPath(name, jobName string) string {
	return folderPath(name) + "/job/" + url.PathEscape(jobName)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

var _ remote.CI = (*Client)(nil)
