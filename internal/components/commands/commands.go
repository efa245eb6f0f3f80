// Package commands implements the reviewer commands. Every command returns
// the reply shown to the reviewer; failures are described in the reply
// rather than returned.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/CodeMC/bot/internal/components/chat"
	"github.com/CodeMC/bot/internal/components/credential"
	"github.com/CodeMC/bot/internal/components/links"
	"github.com/CodeMC/bot/internal/components/provisioning"
	"github.com/CodeMC/bot/internal/components/reconcile"
	"github.com/CodeMC/bot/internal/components/remote"
	"github.com/CodeMC/bot/internal/platform/logutil"
)

// Config names the guild and the role granted to linked members.
type Config struct {
	GuildID      string
	AuthorRoleID string
}

// Deps are the collaborators shared with the provisioning workflow.
type Deps struct {
	Roles        chat.RoleGateway
	CI           remote.CI
	Repository   remote.Repository
	Links        *links.Registry
	Reconciler   *reconcile.Reconciler
	Orchestrator *provisioning.Orchestrator
	IsGroup      remote.GroupPredicate
	Credentials  credential.Generator
	Logger       *slog.Logger
}

// Service runs reviewer commands.
type Service struct {
	cfg  Config
	deps Deps
	log  *slog.Logger
}

// New creates a Service.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Roles == nil || deps.CI == nil || deps.Repository == nil || deps.Links == nil || deps.Reconciler == nil {
		return nil, errors.New("commands: roles, CI, repository, links and reconciler are required")
	}
	if deps.IsGroup == nil {
		deps.IsGroup = func(string) bool { return false }
	}
	if deps.Credentials == nil {
		deps.Credentials = credential.Generate
	}
	return &Service{cfg: cfg, deps: deps, log: logutil.NoopIfNil(deps.Logger)}, nil
}

// Decide starts the provisioning workflow for a reviewer decision.
func (s *Service) Decide(ctx context.Context, inv provisioning.Invocation) (<-chan *provisioning.Outcome, error) {
	if s.deps.Orchestrator == nil {
		return nil, errors.New("commands: provisioning is not configured")
	}
	return s.deps.Orchestrator.Start(ctx, inv), nil
}

// Link points username at memberID and grants the author role.
func (s *Service) Link(ctx context.Context, memberID, username string) string {
	if memberID == "" || username == "" {
		return "A member and a username are required."
	}
	if err := s.setLink(ctx, username, memberID); err != nil {
		s.log.Error("link failed", "username", username, "member_id", memberID, "error", err)
		return fmt.Sprintf("Could not link %s: %v", username, err)
	}
	reply := fmt.Sprintf("Linked %s to %s.", username, chat.Mention(memberID))
	return joinNotes(reply, s.grant(ctx, memberID))
}

// setLink updates an existing link or adds a new one.
func (s *Service) setLink(ctx context.Context, username, memberID string) error {
	existing, err := s.deps.Links.Get(ctx, username)
	if err != nil {
		return err
	}
	if existing != nil {
		return s.deps.Links.Update(ctx, username, memberID)
	}
	return s.deps.Links.Add(ctx, username, memberID)
}

// Unlink removes one of the member's links, or all of them when username is
// empty. The author role is revoked once no link remains.
func (s *Service) Unlink(ctx context.Context, memberID, username string) string {
	if memberID == "" {
		return "A member is required."
	}

	var targets []string
	if username != "" {
		link, err := s.deps.Links.Get(ctx, username)
		switch {
		case err != nil:
			return fmt.Sprintf("Could not look up %s: %v", username, err)
		case link == nil:
			return fmt.Sprintf("%s is not linked.", username)
		case link.RequesterID != memberID:
			return fmt.Sprintf("%s is linked to %s, not %s.", username, chat.Mention(link.RequesterID), chat.Mention(memberID))
		}
		targets = []string{username}
	} else {
		owned, err := s.deps.Links.ListByRequester(ctx, memberID)
		if err != nil {
			return fmt.Sprintf("Could not list links of %s: %v", chat.Mention(memberID), err)
		}
		for _, l := range owned {
			targets = append(targets, l.Username)
		}
		if len(targets) == 0 {
			return fmt.Sprintf("%s has no linked accounts.", chat.Mention(memberID))
		}
	}

	var removed []string
	for _, name := range targets {
		n, err := s.deps.Links.Remove(ctx, name)
		if err != nil {
			s.log.Error("unlink failed", "username", name, "error", err)
			return fmt.Sprintf("Could not unlink %s: %v", name, err)
		}
		if n > 0 {
			removed = append(removed, name)
		}
	}

	reply := fmt.Sprintf("Unlinked %s from %s.", strings.Join(removed, ", "), chat.Mention(memberID))
	return joinNotes(reply, s.revokeIfUnlinked(ctx, memberID))
}

// Validate reconciles username, or every CI user when it is empty.
func (s *Service) Validate(ctx context.Context, username string) string {
	rep := s.deps.Reconciler.Reconcile(ctx, username)
	if rep.AllSucceeded {
		return fmt.Sprintf("Validated %d user(s).", rep.Count)
	}
	lines := []string{fmt.Sprintf("Validated %d user(s); %d failed:", rep.Count, len(rep.Failures))}
	for _, f := range rep.Failures {
		lines = append(lines, "- "+f.Error())
	}
	return strings.Join(lines, "\n")
}

// CreateUser creates the CI user and the repository account with one fresh
// credential, links username to memberID and grants the author role.
func (s *Service) CreateUser(ctx context.Context, memberID, username string) string {
	if memberID == "" || username == "" {
		return "A member and a username are required."
	}
	d := s.deps

	exists, err := d.CI.UserExists(ctx, username)
	if err != nil {
		return fmt.Sprintf("Could not check CI user %s: %v", username, err)
	}
	if exists {
		return fmt.Sprintf("%s already exists on CI; use validate to repair it.", username)
	}

	password, err := d.Credentials()
	if err != nil {
		return fmt.Sprintf("Could not generate a credential: %v", err)
	}
	if err := d.CI.CreateUser(ctx, username, password, d.IsGroup(username)); err != nil {
		s.log.Error("create CI user failed", "username", username, "error", err)
		return fmt.Sprintf("Could not create CI user %s: %v", username, err)
	}

	var notes []string
	repoExists, err := d.Repository.Exists(ctx, username)
	switch {
	case err != nil:
		notes = append(notes, fmt.Sprintf("Could not check the repository account: %v", err))
	case repoExists:
		if err := d.Repository.ChangePassword(ctx, username, password); err != nil {
			notes = append(notes, fmt.Sprintf("Repository credential not updated: %v", err))
		}
	default:
		if err := d.Repository.Create(ctx, username, password); err != nil {
			notes = append(notes, fmt.Sprintf("Repository account not created: %v", err))
		}
	}

	if err := s.setLink(ctx, username, memberID); err != nil {
		notes = append(notes, fmt.Sprintf("Link not stored: %v", err))
	}
	notes = append(notes, s.grant(ctx, memberID)...)

	s.log.Info("user created", "username", username, "member_id", memberID)
	return joinNotes(fmt.Sprintf("Created %s for %s.", username, chat.Mention(memberID)), notes)
}

// DeleteUser removes username from both services and from the registry. The
// former owner loses the author role when no link remains.
func (s *Service) DeleteUser(ctx context.Context, username string) string {
	if username == "" {
		return "A username is required."
	}
	d := s.deps

	var notes []string
	if err := d.CI.DeleteUser(ctx, username); err != nil {
		notes = append(notes, fmt.Sprintf("CI user not deleted: %v", err))
	}
	if err := d.Repository.Delete(ctx, username); err != nil {
		notes = append(notes, fmt.Sprintf("Repository account not deleted: %v", err))
	}

	link, err := d.Links.Get(ctx, username)
	if err != nil {
		notes = append(notes, fmt.Sprintf("Could not look up the link: %v", err))
	}
	if link != nil {
		if _, err := d.Links.Remove(ctx, username); err != nil {
			notes = append(notes, fmt.Sprintf("Link not removed: %v", err))
		} else {
			notes = append(notes, s.revokeIfUnlinked(ctx, link.RequesterID)...)
		}
	}

	s.log.Info("user deleted", "username", username)
	return joinNotes(fmt.Sprintf("Deleted %s.", username), notes)
}

// ChangePassword rotates the credential on the repository first, then CI.
func (s *Service) ChangePassword(ctx context.Context, username string) string {
	if username == "" {
		return "A username is required."
	}
	password, err := s.deps.Credentials()
	if err != nil {
		return fmt.Sprintf("Could not generate a credential: %v", err)
	}
	if err := s.deps.Repository.ChangePassword(ctx, username, password); err != nil {
		return fmt.Sprintf("Could not change the repository password of %s: %v", username, err)
	}
	if err := s.deps.CI.ChangePassword(ctx, username, password); err != nil {
		return fmt.Sprintf("Repository password of %s changed but CI was not updated: %v. Run validate.", username, err)
	}
	s.log.Info("password changed", "username", username)
	return fmt.Sprintf("Changed the password of %s.", username)
}

// Info describes username across the registry and both services.
func (s *Service) Info(ctx context.Context, username, job string) string {
	if username == "" {
		return "A username is required."
	}
	d := s.deps
	lines := []string{"**" + username + "**"}

	switch link, err := d.Links.Get(ctx, username); {
	case err != nil:
		lines = append(lines, fmt.Sprintf("Linked to: unknown (%v)", err))
	case link == nil:
		lines = append(lines, "Linked to: nobody")
	default:
		lines = append(lines, "Linked to: "+chat.Mention(link.RequesterID))
	}

	switch exists, err := d.CI.UserExists(ctx, username); {
	case err != nil:
		lines = append(lines, fmt.Sprintf("CI: unknown (%v)", err))
	case !exists:
		lines = append(lines, "CI: no account")
	default:
		lines = append(lines, "CI: account exists")
	}

	if job != "" {
		switch info, err := d.CI.GetJobInfo(ctx, username, job); {
		case err != nil:
			lines = append(lines, fmt.Sprintf("Job %s: unknown (%v)", job, err))
		case info == nil:
			lines = append(lines, fmt.Sprintf("Job %s: not found", job))
		default:
			line := fmt.Sprintf("Job %s: %s", info.Name, info.URL)
			if info.LastBuildNumber > 0 {
				line += fmt.Sprintf(" (build #%d %s)", info.LastBuildNumber, info.LastBuildResult)
			}
			lines = append(lines, strings.TrimSpace(line))
		}
	}

	switch info, err := d.Repository.GetRepositoryInfo(ctx, username); {
	case err != nil:
		lines = append(lines, fmt.Sprintf("Repository: unknown (%v)", err))
	case info == nil:
		lines = append(lines, "Repository: none")
	default:
		lines = append(lines, fmt.Sprintf("Repository: %s (%s %s) %s", info.Name, info.Type, info.Format, info.URL))
	}

	return strings.Join(lines, "\n")
}

// holdsRole reports whether memberID has the author role. A failed lookup
// counts as unknown, and the caller goes ahead with the change.
func (s *Service) holdsRole(ctx context.Context, memberID string) (held, known bool) {
	held, err := s.deps.Roles.HasRole(ctx, s.cfg.GuildID, memberID, s.cfg.AuthorRoleID)
	if err != nil {
		s.log.Warn("role lookup failed", "member_id", memberID, "error", err)
		return false, false
	}
	return held, true
}

func (s *Service) grant(ctx context.Context, memberID string) []string {
	if held, known := s.holdsRole(ctx, memberID); known && held {
		return []string{"Author role already held."}
	}
	err := s.deps.Roles.GrantRole(ctx, s.cfg.GuildID, memberID, s.cfg.AuthorRoleID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chat.ErrPermissionDenied):
		return []string{"Missing permission to grant the author role; grant it manually."}
	default:
		s.log.Warn("grant role failed", "member_id", memberID, "error", err)
		return []string{fmt.Sprintf("Author role not granted: %v", err)}
	}
}

func (s *Service) revokeIfUnlinked(ctx context.Context, memberID string) []string {
	remaining, err := s.deps.Links.ListByRequester(ctx, memberID)
	if err != nil {
		return []string{fmt.Sprintf("Could not check remaining links: %v", err)}
	}
	if len(remaining) > 0 {
		return nil
	}
	if held, known := s.holdsRole(ctx, memberID); known && !held {
		return []string{"Author role not held."}
	}
	err = s.deps.Roles.RevokeRole(ctx, s.cfg.GuildID, memberID, s.cfg.AuthorRoleID)
	switch {
	case err == nil:
		return []string{"Author role revoked."}
	case errors.Is(err, chat.ErrPermissionDenied):
		return []string{"Missing permission to revoke the author role; revoke it manually."}
	default:
		s.log.Warn("revoke role failed", "member_id", memberID, "error", err)
		return []string{fmt.Sprintf("Author role not revoked: %v", err)}
	}
}

func joinNotes(reply string, notes []string) string {
	if len(notes) == 0 {
		return reply
	}
	return reply + "\n" + strings.Join(notes, "\n")
}
