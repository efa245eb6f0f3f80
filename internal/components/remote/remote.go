// Package remote defines the contracts of the two account-bearing services
// the bot provisions: the CI service and the artifact repository service.
//
// Remote services are the source of truth for account state. Nothing here
// caches whether an account exists.
package remote

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrRemote is wrapped by every adapter error caused by the remote side
// rejecting or failing a call.
var ErrRemote = errors.New("remote service error")

// ErrCredentialMissing is returned by CI.EnsureUserConfig when the account's
// repository credential is not bound on the CI side.
var ErrCredentialMissing = errors.New("repository credential not bound")

// CI is the continuous-integration service contract. A "user" is a
// per-account folder that owns jobs.
type CI interface {
	UserExists(ctx context.Context, name string) (bool, error)
	CreateUser(ctx context.Context, name, password string, isGroup bool) error
	CreateJob(ctx context.Context, name, jobName, repoLink string, freestyle bool) error
	TriggerBuild(ctx context.Context, name, jobName string) error
	DeleteUser(ctx context.Context, name string) error
	DeleteJob(ctx context.Context, name, jobName string) error

	// ChangePassword replaces the repository credential stored for name.
	ChangePassword(ctx context.Context, name, password string) error

	// EnsureUserConfig re-applies the baseline account configuration,
	// keeping the bound credential, and returns ErrCredentialMissing when
	// no credential is bound. It is idempotent.
	EnsureUserConfig(ctx context.Context, name string) error

	// GetJobInfo returns nil, nil when the job does not exist.
	GetJobInfo(ctx context.Context, name, jobName string) (*JobInfo, error)

	ListAllUsernames(ctx context.Context) ([]string, error)
}

// Repository is the artifact repository service contract.
type Repository interface {
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, name, password string) error
	ChangePassword(ctx context.Context, name, password string) error
	Delete(ctx context.Context, name string) error

	// GetRepositoryInfo returns nil, nil when the repository does not exist.
	GetRepositoryInfo(ctx context.Context, name string) (*RepoInfo, error)
}

// JobInfo describes a CI job.
type JobInfo struct {
	Name            string `json:"name"`
	URL             string `json:"url"`
	Description     string `json:"description"`
	Buildable       bool   `json:"buildable"`
	Color           string `json:"color"`
	LastBuildNumber int    `json:"last_build_number"`
	LastBuildResult string `json:"last_build_result"`
}

// RepoInfo describes a hosted repository.
type RepoInfo struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Type   string `json:"type"`
	URL    string `json:"url"`
}

// StatusError builds an ErrRemote-wrapping error for an unexpected HTTP status.
func StatusError(service, method, path string, status int, body string) error {
	body = strings.TrimSpace(body)
	if body == "" {
		return fmt.Errorf("%w: %s %s %s: status %d", ErrRemote, service, method, path, status)
	}
	return fmt.Errorf("%w: %s %s %s: status %d: %s", ErrRemote, service, method, path, status, body)
}

// GroupPredicate decides whether a username names a group (organisation)
// rather than an individual.
type GroupPredicate func(username string) bool

// NewGroupPredicate compiles pattern into a GroupPredicate. An empty pattern
// classifies every name as an individual.
func NewGroupPredicate(pattern string) (GroupPredicate, error) {
	if pattern == "" {
		return func(string) bool { return false }, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile group name pattern: %w", err)
	}
	return re.MatchString, nil
}
