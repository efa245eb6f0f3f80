// Package provisioning runs the reviewer-driven accept/deny workflow for a
// join request: it provisions the CI and repository accounts, records the
// identity link, retires the request message, posts the outcome and grants
// the author role.
//
// The workflow never rolls back. Each step's result is reported as it
// happens so the reviewer sees exactly which remote side effects exist.
package provisioning

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/google/uuid"

	"github.com/CodeMC/bot/internal/appctx"
	"github.com/CodeMC/bot/internal/components/chat"
	"github.com/CodeMC/bot/internal/components/credential"
	"github.com/CodeMC/bot/internal/components/joinrequest"
	"github.com/CodeMC/bot/internal/components/links"
	"github.com/CodeMC/bot/internal/components/remote"
	"github.com/CodeMC/bot/internal/platform/logutil"
)

const (
	colorAccepted = 0x2ECC71
	colorDenied   = 0xE74C3C
)

// Decision is the reviewer's verdict: Accept or Deny.
type Decision interface {
	isDecision()
}

// Accept approves a request. ProjectRef names the CI job; empty means the
// repository name from the request.
type Accept struct {
	ProjectRef string
}

// Deny rejects a request with a reason shown to the requester.
type Deny struct {
	Reason string
}

func (Accept) isDecision() {}
func (Deny) isDecision()   {}

// Invocation is one reviewer action.
type Invocation struct {
	OriginMessageID string
	Reviewer        chat.User
	Decision        Decision
	Progress        Progress
}

// Config holds the channel and role ids and the outcome templates.
type Config struct {
	GuildID           string
	RequestChannelID  string
	AcceptedChannelID string
	RejectedChannelID string
	AuthorRoleID      string
	FreestyleJobs     bool
	AcceptedTemplate  string
	DeniedTemplate    string
}

// Deps are the collaborators the workflow drives.
type Deps struct {
	Chat        chat.Platform
	Roles       chat.RoleGateway
	CI          remote.CI
	Repository  remote.Repository
	Links       *links.Registry
	IsGroup     remote.GroupPredicate
	Credentials credential.Generator
	Logger      *slog.Logger
}

// TemplateData is what outcome templates can reference.
type TemplateData struct {
	joinrequest.JoinRequest
	Reviewer   string
	ProjectRef string
	JobURL     string
	Reason     string
}

// Orchestrator runs workflows. It is safe for concurrent use; every
// invocation owns its own state.
type Orchestrator struct {
	cfg      Config
	deps     Deps
	accepted *template.Template
	denied   *template.Template
	logger   *slog.Logger
}

// New validates the templates and returns an Orchestrator.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Chat == nil || deps.Roles == nil || deps.CI == nil || deps.Repository == nil || deps.Links == nil {
		return nil, errors.New("provisioning: chat, roles, CI, repository and links are required")
	}
	if deps.IsGroup == nil {
		deps.IsGroup = func(string) bool { return false }
	}
	if deps.Credentials == nil {
		deps.Credentials = credential.Generate
	}

	accepted, err := parseTemplate("accepted", cfg.AcceptedTemplate)
	if err != nil {
		return nil, err
	}
	denied, err := parseTemplate("denied", cfg.DeniedTemplate)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		accepted: accepted,
		denied:   denied,
		logger:   logutil.NoopIfNil(deps.Logger),
	}, nil
}

// parseTemplate compiles text and dry-runs it so field typos fail at startup.
func parseTemplate(name, text string) (*template.Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("provisioning: parse %s template: %w", name, err)
	}
	if err := t.Execute(&bytes.Buffer{}, TemplateData{}); err != nil {
		return nil, fmt.Errorf("provisioning: %s template: %w", name, err)
	}
	return t, nil
}

// Start runs Handle on its own goroutine with a context detached from the
// caller's cancellation. The channel yields the final outcome.
func (o *Orchestrator) Start(ctx context.Context, inv Invocation) <-chan *Outcome {
	done := make(chan *Outcome, 1)
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer close(done)
		done <- o.Handle(ctx, inv)
	}()
	return done
}

// run is the state of one invocation.
type run struct {
	o        *Orchestrator
	inv      Invocation
	outcome  *Outcome
	logger   *slog.Logger
	terminal bool

	msg       *chat.Message
	req       *joinrequest.JoinRequest
	channelID string
	jobName   string
	jobURL    string
}

// Handle runs the workflow to completion. It always returns an Outcome.
func (o *Orchestrator) Handle(ctx context.Context, inv Invocation) (out *Outcome) {
	if inv.Progress == nil {
		inv.Progress = noopProgress{}
	}

	runID := uuid.Must(uuid.NewV7()).String()
	ctx = appctx.WithRunID(appctx.WithLogger(ctx, o.logger), runID)
	r := &run{
		o:       o,
		inv:     inv,
		outcome: &Outcome{RunID: runID},
		logger:  appctx.GetLogger(ctx),
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("provisioning workflow panicked", "panic", p)
			r.record(ctx, StepResult{Step: r.nextStep(), Status: StatusFailed, Detail: "internal error"})
			r.terminal = true
		}
		out = r.finish(ctx)
	}()

	_, accept := inv.Decision.(Accept)
	if inv.Decision == nil {
		r.fail(ctx, StepRetrieveArtifact, "no decision given")
		return
	}

	r.logger.Info("provisioning workflow started",
		"origin_message_id", inv.OriginMessageID,
		"reviewer", inv.Reviewer.ID,
		"accept", accept,
	)

	steps := []func(context.Context){
		r.retrieveArtifact,
		r.validateArtifact,
		r.resolveIdentity,
		r.findOutcomeChannel,
	}
	if accept {
		steps = append(steps, r.provisionRemoteAccounts)
	}
	steps = append(steps, r.archiveOriginArtifact, r.deleteOriginArtifact, r.postOutcome)
	if accept {
		steps = append(steps, r.grantRole)
	}

	for _, step := range steps {
		step(ctx)
		if r.terminal {
			break
		}
	}
	return
}

// record appends a result and reports a snapshot.
func (r *run) record(ctx context.Context, res StepResult) {
	r.outcome.Steps = append(r.outcome.Steps, res)
	r.logger.Info("provisioning step finished",
		"step", res.Step.String(),
		"status", res.Status.String(),
		"detail", res.Detail,
	)
	r.report(ctx, r.outcome.clone())
}

// report shields the workflow from a misbehaving progress sink.
func (r *run) report(ctx context.Context, snapshot *Outcome) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("progress reporter panicked", "panic", p)
		}
	}()
	r.inv.Progress.Report(ctx, snapshot)
}

func (r *run) ok(ctx context.Context, step Step, detail string) {
	r.record(ctx, StepResult{Step: step, Status: StatusOk, Detail: detail})
}

func (r *run) skip(ctx context.Context, step Step, detail string) {
	r.record(ctx, StepResult{Step: step, Status: StatusSkipped, Detail: detail})
}

// fail records a terminal failure.
func (r *run) fail(ctx context.Context, step Step, detail string) {
	r.terminal = true
	r.record(ctx, StepResult{Step: step, Status: StatusFailed, Detail: detail})
}

// failSoft records a failure the workflow continues past.
func (r *run) failSoft(ctx context.Context, step Step, detail string) {
	r.record(ctx, StepResult{Step: step, Status: StatusFailed, Detail: detail})
}

func (r *run) caveat(format string, args ...any) {
	r.outcome.Caveats = append(r.outcome.Caveats, fmt.Sprintf(format, args...))
}

func (r *run) nextStep() Step {
	if n := len(r.outcome.Steps); n > 0 {
		return r.outcome.Steps[n-1].Step + 1
	}
	return StepRetrieveArtifact
}

func (r *run) finish(ctx context.Context) *Outcome {
	out := r.outcome
	provisioned := true
	if res, ran := out.Step(StepProvisionRemoteAccounts); ran && res.Status != StatusOk {
		provisioned = false
	}
	out.Succeeded = !r.terminal && provisioned
	out.FinalMessage = r.finalMessage()
	out.Final = true

	r.logger.Info("provisioning workflow finished", "succeeded", out.Succeeded, "steps", len(out.Steps))
	r.report(ctx, out.clone())
	return out
}

func (r *run) finalMessage() string {
	out := r.outcome
	if r.terminal {
		last := out.Steps[len(out.Steps)-1]
		return fmt.Sprintf("Stopped at %q: %s. Steps already completed were not undone.", last.Step.String(), last.Detail)
	}
	name := "the request"
	if r.req != nil {
		name = r.req.ExternalAccountName
	}
	switch d := r.inv.Decision.(type) {
	case Accept:
		if !out.Succeeded {
			return fmt.Sprintf("Accepted %s, but provisioning did not complete. Run validate to retry.", name)
		}
		return fmt.Sprintf("Accepted %s: project %s is set up.", name, r.jobName)
	case Deny:
		return fmt.Sprintf("Denied %s: %s", name, d.Reason)
	}
	return ""
}

// Step 1.
func (r *run) retrieveArtifact(ctx context.Context) {
	msg, err := r.o.deps.Chat.FetchMessage(ctx, r.o.cfg.RequestChannelID, r.inv.OriginMessageID)
	if err != nil {
		if errors.Is(err, chat.ErrNotFound) {
			r.fail(ctx, StepRetrieveArtifact, fmt.Sprintf("request message %s not found", r.inv.OriginMessageID))
			return
		}
		r.fail(ctx, StepRetrieveArtifact, fmt.Sprintf("could not fetch request message: %v", err))
		return
	}
	r.msg = msg
	r.ok(ctx, StepRetrieveArtifact, "")
}

// Step 2.
func (r *run) validateArtifact(ctx context.Context) {
	if err := joinrequest.Validate(r.msg); err != nil {
		r.fail(ctx, StepValidateArtifact, err.Error())
		return
	}
	r.ok(ctx, StepValidateArtifact, "")
}

// Step 3.
func (r *run) resolveIdentity(ctx context.Context) {
	req, err := joinrequest.Parse(r.msg)
	if err != nil {
		r.fail(ctx, StepResolveIdentity, fmt.Sprintf("unresolvable fields: %v", err))
		return
	}
	r.req = req
	r.jobName = req.RepositoryName
	if a, ok := r.inv.Decision.(Accept); ok && strings.TrimSpace(a.ProjectRef) != "" {
		r.jobName = strings.TrimSpace(a.ProjectRef)
	}
	r.ok(ctx, StepResolveIdentity, fmt.Sprintf("%s (%s)", req.ExternalAccountName, req.RepositoryName))
}

// Step 4.
func (r *run) findOutcomeChannel(ctx context.Context) {
	id := r.o.cfg.RejectedChannelID
	if _, ok := r.inv.Decision.(Accept); ok {
		id = r.o.cfg.AcceptedChannelID
	}
	ch, err := r.o.deps.Chat.Channel(ctx, id)
	if err != nil {
		r.fail(ctx, StepFindOutcomeChannel, fmt.Sprintf("outcome channel %s unavailable: %v", id, err))
		return
	}
	r.channelID = ch.ID
	r.ok(ctx, StepFindOutcomeChannel, "#"+ch.Name)
}

// Step 5.
func (r *run) provisionRemoteAccounts(ctx context.Context) {
	d := r.o.deps
	name := r.req.ExternalAccountName

	password, err := d.Credentials()
	if err != nil {
		r.failSoft(ctx, StepProvisionRemoteAccounts, fmt.Sprintf("could not generate a credential: %v", err))
		return
	}

	var ciErr, repoErr error
	var notes []string

	ciExisted, err := d.CI.UserExists(ctx, name)
	switch {
	case err != nil:
		ciErr = fmt.Errorf("check user: %w", err)
	case !ciExisted:
		if err := d.CI.CreateUser(ctx, name, password, d.IsGroup(name)); err != nil {
			ciErr = fmt.Errorf("create user: %w", err)
		} else {
			notes = append(notes, "CI account created")
		}
	default:
		notes = append(notes, "CI account exists")
	}

	if ciErr == nil {
		ciErr = r.ensureJob(ctx, name, &notes)
	}

	repoExisted, err := d.Repository.Exists(ctx, name)
	repoCreated := false
	switch {
	case err != nil:
		repoErr = fmt.Errorf("check account: %w", err)
	case !repoExisted:
		if err := d.Repository.Create(ctx, name, password); err != nil {
			repoErr = fmt.Errorf("create account: %w", err)
		} else {
			repoCreated = true
			notes = append(notes, "repository account created")
		}
	default:
		notes = append(notes, "repository account exists")
	}

	// A fresh repository password must reach an already existing CI account.
	if repoCreated && ciExisted {
		if err := d.CI.ChangePassword(ctx, name, password); err != nil {
			r.caveat("CI credential for %s is out of sync with the repository; run validate: %v", name, err)
		}
	}

	switch {
	case ciErr != nil && repoErr != nil:
		r.failSoft(ctx, StepProvisionRemoteAccounts, fmt.Sprintf("CI: %v; repository: %v", ciErr, repoErr))
		return
	case ciErr != nil:
		r.caveat("Partial success: repository account for %s is ready but CI setup failed", name)
		r.failSoft(ctx, StepProvisionRemoteAccounts, fmt.Sprintf("CI: %v", ciErr))
		return
	case repoErr != nil:
		r.caveat("Partial success: CI account for %s is ready but the repository account failed", name)
		r.failSoft(ctx, StepProvisionRemoteAccounts, fmt.Sprintf("repository: %v", repoErr))
		return
	}

	added, err := d.Links.AddIfAbsent(ctx, name, r.req.RequesterID)
	if err != nil {
		r.failSoft(ctx, StepProvisionRemoteAccounts, fmt.Sprintf("accounts ready but the identity link could not be stored: %v", err))
		return
	}
	if !added {
		if existing, err := d.Links.Get(ctx, name); err == nil && existing != nil && existing.RequesterID != r.req.RequesterID {
			r.caveat("%s stays linked to %s", name, chat.Mention(existing.RequesterID))
		}
	}

	r.ok(ctx, StepProvisionRemoteAccounts, strings.Join(notes, ", "))
}

// ensureJob creates and builds the job when it does not exist yet.
func (r *run) ensureJob(ctx context.Context, name string, notes *[]string) error {
	ci := r.o.deps.CI
	info, err := ci.GetJobInfo(ctx, name, r.jobName)
	if err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if info != nil {
		r.jobURL = info.URL
		*notes = append(*notes, "job exists")
		return nil
	}

	if err := ci.CreateJob(ctx, name, r.jobName, r.req.RepositoryLink, r.o.cfg.FreestyleJobs); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	*notes = append(*notes, "job created")

	if err := ci.TriggerBuild(ctx, name, r.jobName); err != nil {
		r.caveat("First build of %s/%s could not be triggered: %v", name, r.jobName, err)
	}
	if info, err := ci.GetJobInfo(ctx, name, r.jobName); err == nil && info != nil {
		r.jobURL = info.URL
	}
	return nil
}

// Step 6.
func (r *run) archiveOriginArtifact(ctx context.Context) {
	th := r.msg.Thread
	switch {
	case th == nil:
		r.skip(ctx, StepArchiveOriginArtifact, "no thread")
	case th.Archived():
		r.skip(ctx, StepArchiveOriginArtifact, "thread already archived")
	default:
		if err := r.o.deps.Chat.ArchiveThread(ctx, th.ID); err != nil {
			r.logger.Warn("could not archive request thread", "thread_id", th.ID, "error", err)
			r.skip(ctx, StepArchiveOriginArtifact, fmt.Sprintf("could not archive thread: %v", err))
			return
		}
		r.ok(ctx, StepArchiveOriginArtifact, "")
	}
}

// Step 7.
func (r *run) deleteOriginArtifact(ctx context.Context) {
	if err := r.o.deps.Chat.DeleteMessage(ctx, r.o.cfg.RequestChannelID, r.msg.ID); err != nil {
		r.logger.Warn("could not delete request message", "message_id", r.msg.ID, "error", err)
		r.skip(ctx, StepDeleteOriginArtifact, fmt.Sprintf("could not delete request: %v", err))
		return
	}
	r.ok(ctx, StepDeleteOriginArtifact, "")
}

// Step 8.
func (r *run) postOutcome(ctx context.Context) {
	record, err := r.outcomeRecord()
	if err != nil {
		r.fail(ctx, StepPostOutcome, fmt.Sprintf("could not render outcome: %v", err))
		return
	}
	if _, err := r.o.deps.Chat.SendMessage(ctx, r.channelID, record); err != nil {
		r.fail(ctx, StepPostOutcome, fmt.Sprintf("could not post outcome: %v", err))
		return
	}
	r.ok(ctx, StepPostOutcome, "")
}

func (r *run) outcomeRecord() (chat.MessageSend, error) {
	req := r.req
	data := TemplateData{
		JoinRequest: *req,
		Reviewer:    chat.Mention(r.inv.Reviewer.ID),
		JobURL:      r.jobURL,
	}

	embed := chat.Embed{
		Fields: []chat.EmbedField{
			{Name: joinrequest.UserFieldName, Value: joinrequest.Link(req.ExternalAccountName, req.ExternalAccountLink), Inline: true},
			{Name: joinrequest.RepositoryFieldName, Value: joinrequest.Link(req.RepositoryName, req.RepositoryLink), Inline: true},
			{Name: "Reviewed by:", Value: chat.Mention(r.inv.Reviewer.ID), Inline: true},
		},
		Footer: &chat.EmbedFooter{Text: req.RequesterID},
	}

	tmpl := r.o.denied
	switch d := r.inv.Decision.(type) {
	case Accept:
		tmpl = r.o.accepted
		data.ProjectRef = r.jobName
		embed.Title = "Join Request Accepted"
		embed.Color = colorAccepted
		project := r.jobName
		if r.jobURL != "" {
			project = joinrequest.Link(r.jobName, r.jobURL)
		}
		embed.Fields = append(embed.Fields, chat.EmbedField{Name: "New Project:", Value: project})
	case Deny:
		data.Reason = d.Reason
		embed.Title = "Join Request Denied"
		embed.Color = colorDenied
		embed.Fields = append(embed.Fields, chat.EmbedField{Name: "Reason:", Value: d.Reason})
	}

	var desc bytes.Buffer
	if err := tmpl.Execute(&desc, data); err != nil {
		return chat.MessageSend{}, err
	}
	embed.Description = desc.String()

	return chat.MessageSend{
		Content: chat.Mention(req.RequesterID),
		Embeds:  []chat.Embed{embed},
	}, nil
}

// Step 9.
func (r *run) grantRole(ctx context.Context) {
	d := r.o.deps
	member, err := d.Chat.Member(ctx, r.o.cfg.GuildID, r.req.RequesterID)
	if err != nil {
		r.caveat("Could not find %s on the server; the author role was not granted", chat.Mention(r.req.RequesterID))
		r.failSoft(ctx, StepGrantOrRevokeRole, fmt.Sprintf("member unresolvable: %v", err))
		return
	}

	held, err := d.Roles.HasRole(ctx, r.o.cfg.GuildID, member.User.ID, r.o.cfg.AuthorRoleID)
	if err != nil {
		r.logger.Warn("role lookup failed", "member_id", member.User.ID, "error", err)
	}
	if held {
		r.caveat("%s already holds the author role", member.DisplayName())
		r.ok(ctx, StepGrantOrRevokeRole, member.DisplayName()+" (already held)")
		return
	}

	if err := d.Roles.GrantRole(ctx, r.o.cfg.GuildID, member.User.ID, r.o.cfg.AuthorRoleID); err != nil {
		if errors.Is(err, chat.ErrPermissionDenied) {
			r.caveat("Missing permission to grant the author role to %s; grant it manually", member.DisplayName())
			r.failSoft(ctx, StepGrantOrRevokeRole, "permission denied")
			return
		}
		r.caveat("Could not grant the author role to %s: %v", member.DisplayName(), err)
		r.failSoft(ctx, StepGrantOrRevokeRole, err.Error())
		return
	}
	r.ok(ctx, StepGrantOrRevokeRole, member.DisplayName())
}
