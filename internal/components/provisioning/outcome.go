package provisioning

import (
	"context"
	"fmt"
	"strings"
)

// Step identifies one stage of the workflow.
type Step int

const (
	StepRetrieveArtifact Step = iota + 1
	StepValidateArtifact
	StepResolveIdentity
	StepFindOutcomeChannel
	StepProvisionRemoteAccounts
	StepArchiveOriginArtifact
	StepDeleteOriginArtifact
	StepPostOutcome
	StepGrantOrRevokeRole
)

var stepNames = map[Step]string{
	StepRetrieveArtifact:        "Retrieve request",
	StepValidateArtifact:        "Validate request",
	StepResolveIdentity:         "Resolve identity",
	StepFindOutcomeChannel:      "Find outcome channel",
	StepProvisionRemoteAccounts: "Provision accounts",
	StepArchiveOriginArtifact:   "Archive thread",
	StepDeleteOriginArtifact:    "Delete request",
	StepPostOutcome:             "Post outcome",
	StepGrantOrRevokeRole:       "Grant role",
}

func (s Step) String() string {
	if name, ok := stepNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// Status is the result of a step.
type Status int

const (
	StatusOk Status = iota + 1
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// StepResult records how one step ended.
type StepResult struct {
	Step   Step
	Status Status
	Detail string
}

// Outcome is the running and final report of one workflow invocation.
// Steps are appended in execution order and never changed afterwards.
type Outcome struct {
	RunID        string
	Succeeded    bool
	Steps        []StepResult
	Caveats      []string
	FinalMessage string

	// Final is set on the last report only.
	Final bool
}

// Step returns the result recorded for s, if it ran.
func (o *Outcome) Step(s Step) (StepResult, bool) {
	for _, r := range o.Steps {
		if r.Step == s {
			return r, true
		}
	}
	return StepResult{}, false
}

// clone returns a snapshot that later appends cannot affect.
func (o *Outcome) clone() *Outcome {
	cp := *o
	cp.Steps = append([]StepResult(nil), o.Steps...)
	cp.Caveats = append([]string(nil), o.Caveats...)
	return &cp
}

// Render formats the outcome for a chat message.
func (o *Outcome) Render() string {
	var sb strings.Builder
	for _, r := range o.Steps {
		sb.WriteString(statusIcon(r.Status))
		sb.WriteString(" ")
		sb.WriteString(r.Step.String())
		if r.Detail != "" {
			sb.WriteString(": ")
			sb.WriteString(r.Detail)
		}
		sb.WriteString("\n")
	}
	if len(o.Caveats) > 0 {
		sb.WriteString("\nCaveats:\n")
		for _, c := range o.Caveats {
			sb.WriteString("- ")
			sb.WriteString(c)
			sb.WriteString("\n")
		}
	}
	if o.Final {
		sb.WriteString("\n")
		sb.WriteString(o.FinalMessage)
	} else {
		sb.WriteString("\nWorking...")
	}
	return sb.String()
}

func statusIcon(s Status) string {
	switch s {
	case StatusOk:
		return "✅"
	case StatusFailed:
		return "❌"
	default:
		return "⏭️"
	}
}

// Progress receives a snapshot after every step and once more at the end
// with Final set.
type Progress interface {
	Report(ctx context.Context, snapshot *Outcome)
}

// ProgressFunc adapts a function to Progress.
type ProgressFunc func(ctx context.Context, snapshot *Outcome)

// Report implements Progress.
func (f ProgressFunc) Report(ctx context.Context, snapshot *Outcome) { f(ctx, snapshot) }

type noopProgress struct{}

func (noopProgress) Report(context.Context, *Outcome) {}
