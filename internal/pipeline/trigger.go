package pipeline

import (
	"fmt"
	"path"

	"git.home.luguber.info/inful/relforge/internal/config"
)

// TriggerKind identifies what started a pipeline run.
type TriggerKind string

const (
	TriggerPush        TriggerKind = "push"
	TriggerPullRequest TriggerKind = "pull_request"
	TriggerManual      TriggerKind = "manual"
	TriggerSchedule    TriggerKind = "schedule"
)

// Trigger describes one triggering event.
type Trigger struct {
	Kind TriggerKind
	// Ref is the revision reference to build. Empty means the trunk branch.
	Ref string
	// Draft marks a pull request still in draft state.
	Draft bool
	// MergeRef is the synthetic merge reference of a pull request, passed to
	// the PR install script when one is configured.
	MergeRef string
	// Schedule names the schedule entry for schedule triggers.
	Schedule string
}

// Key is the cancellation identity. Two runs sharing a key cannot be in
// flight at the same time; the newer one cancels the older.
func (t Trigger) Key() string {
	return string(t.Kind) + "/" + t.Ref
}

// Publishes reports whether runs from this trigger may reach publication.
func (t Trigger) Publishes() bool { return t.Kind == TriggerManual }

// RejectedError reports a trigger the configuration does not admit.
type RejectedError struct {
	Trigger Trigger
	Reason  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("trigger %s for %q rejected: %s", e.Trigger.Kind, e.Trigger.Ref, e.Reason)
}

// Admit decides whether a trigger starts a run. Manual dispatches and
// configured schedules are always admitted; pushes must match a branch
// pattern and draft pull requests are never built.
func Admit(cfg config.TriggersConfig, t Trigger) error {
	switch t.Kind {
	case TriggerManual, TriggerSchedule:
		return nil
	case TriggerPush:
		for _, pattern := range cfg.PushBranches {
			if ok, err := path.Match(pattern, t.Ref); err == nil && ok {
				return nil
			}
		}
		return &RejectedError{Trigger: t, Reason: "branch matches no push pattern"}
	case TriggerPullRequest:
		if !cfg.PullRequests {
			return &RejectedError{Trigger: t, Reason: "pull request triggers are disabled"}
		}
		if t.Draft {
			return &RejectedError{Trigger: t, Reason: "draft pull requests are not built"}
		}
		return nil
	default:
		return &RejectedError{Trigger: t, Reason: "unknown trigger kind"}
	}
}
