// Package reconcile re-synchronizes CI and repository accounts after drift.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/CodeMC/bot/internal/appctx"
	"github.com/CodeMC/bot/internal/components/credential"
	"github.com/CodeMC/bot/internal/components/remote"
	"github.com/CodeMC/bot/internal/platform/logutil"
)

// Failure is one username that could not be reconciled.
type Failure struct {
	Username string
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Username, f.Err)
}

// Report summarizes a reconciliation pass.
type Report struct {
	Count        int
	AllSucceeded bool
	Failures     []Failure
}

// Err joins the failures, or returns nil.
func (r Report) Err() error {
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Reconciler heals accounts on both remote services.
type Reconciler struct {
	ci          remote.CI
	repo        remote.Repository
	isGroup     remote.GroupPredicate
	credentials credential.Generator
	logger      *slog.Logger
}

// New creates a Reconciler. A nil predicate treats every name as an
// individual; a nil generator uses credential.Generate.
func New(ci remote.CI, repo remote.Repository, isGroup remote.GroupPredicate, credentials credential.Generator, logger *slog.Logger) *Reconciler {
	if isGroup == nil {
		isGroup = func(string) bool { return false }
	}
	if credentials == nil {
		credentials = credential.Generate
	}
	return &Reconciler{
		ci:          ci,
		repo:        repo,
		isGroup:     isGroup,
		credentials: credentials,
		logger:      logutil.NoopIfNil(logger),
	}
}

// Reconcile heals username, or every username the CI service knows when
// username is empty. One failure never stops the rest of the pass.
func (r *Reconciler) Reconcile(ctx context.Context, username string) Report {
	ctx = appctx.WithRunID(appctx.WithLogger(ctx, r.logger), uuid.Must(uuid.NewV7()).String())
	log := appctx.GetLogger(ctx)

	names := []string{username}
	if username == "" {
		all, err := r.ci.ListAllUsernames(ctx)
		if err != nil {
			log.Error("could not enumerate CI users", "error", err)
			return Report{Failures: []Failure{{Err: fmt.Errorf("list users: %w", err)}}}
		}
		names = all
	}

	report := Report{AllSucceeded: true}
	for _, name := range names {
		report.Count++
		if err := r.reconcileOne(ctx, name); err != nil {
			log.Warn("reconciliation failed", "username", name, "error", err)
			report.AllSucceeded = false
			report.Failures = append(report.Failures, Failure{Username: name, Err: err})
		}
	}

	log.Info("reconciliation finished",
		"count", report.Count,
		"failed", len(report.Failures),
	)
	return report
}

func (r *Reconciler) reconcileOne(ctx context.Context, name string) error {
	password, err := r.credentials()
	if err != nil {
		return fmt.Errorf("generate credential: %w", err)
	}

	exists, err := r.ci.UserExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check CI user: %w", err)
	}
	if !exists {
		if err := r.ci.CreateUser(ctx, name, password, r.isGroup(name)); err != nil {
			return fmt.Errorf("create CI user: %w", err)
		}
	}
	unbound := false
	if err := r.ci.EnsureUserConfig(ctx, name); err != nil {
		if !errors.Is(err, remote.ErrCredentialMissing) {
			return fmt.Errorf("apply CI config: %w", err)
		}
		unbound = true
	}

	exists, err = r.repo.Exists(ctx, name)
	if err != nil {
		return fmt.Errorf("check repository account: %w", err)
	}
	if exists {
		if !unbound {
			return nil
		}
		// The bound password is unrecoverable; rebind both sides to a fresh one.
		appctx.GetLogger(ctx).Warn("CI credential missing, rebinding", "username", name)
		if err := r.repo.ChangePassword(ctx, name, password); err != nil {
			return fmt.Errorf("reset repository password: %w", err)
		}
		if err := r.ci.ChangePassword(ctx, name, password); err != nil {
			return fmt.Errorf("rebind CI credential: %w", err)
		}
		return nil
	}
	if err := r.repo.Create(ctx, name, password); err != nil {
		return fmt.Errorf("create repository account: %w", err)
	}
	if err := r.ci.ChangePassword(ctx, name, password); err != nil {
		return fmt.Errorf("push credential to CI: %w", err)
	}
	return nil
}
