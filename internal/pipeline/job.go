package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/dist"
	"git.home.luguber.info/inful/relforge/internal/gitsource"
	"git.home.luguber.info/inful/relforge/internal/logfields"
	"git.home.luguber.info/inful/relforge/internal/metrics"
	"git.home.luguber.info/inful/relforge/internal/workspace"
)

// State is a variant job's position in its lifecycle. Every job moves
// through the build states in order; a failure at any stage transitions
// directly to StateFailed.
type State string

const (
	StatePending    State = "pending"
	StateCheckedOut State = "checked-out"
	StateUIBuilt    State = "ui-built"
	StatePackaged   State = "packaged"
	StateVerified   State = "verified"
	StatePublished  State = "published"
	StateDiscarded  State = "discarded"
	StateFailed     State = "failed"
	StateCanceled   State = "canceled"
)

// Job is one variant's build within a run. Each job owns its checkout and
// workspace; nothing is shared between jobs.
type Job struct {
	ID      string
	RunID   string
	Variant config.Variant
	State   State
	Err     error

	Checkout *gitsource.Checkout
	Outputs  *dist.Outputs
	Duration time.Duration

	ws *workspace.Manager
}

// Failed reports whether the job reached a failure terminal state.
func (j *Job) Failed() bool { return j.State == StateFailed || j.State == StateCanceled }

// stage is one sequential step of a variant job. Completing fn moves the
// job into the named state.
type stage struct {
	name  string
	state State
	fn    func(ctx context.Context) error
}

// runStages executes the job's stages in order, stopping at the first
// error. Stage timing and results are recorded per variant. parent is the
// run context; ctx is the job context carrying the wall-clock ceiling.
func (j *Job) runStages(parent, ctx context.Context, stages []stage, rec metrics.Recorder) error {
	for _, st := range stages {
		select {
		case <-ctx.Done():
			err := j.classifyInterrupt(parent, ctx.Err())
			rec.IncStageResult(st.name, resultFor(j.State))
			return err
		default:
		}

		t0 := time.Now()
		err := st.fn(ctx)
		dur := time.Since(t0)
		rec.ObserveStageDuration(st.name, j.Variant.Name, dur)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				err = j.classifyInterrupt(parent, err)
			} else {
				j.State = StateFailed
				j.Err = err
			}
			rec.IncStageResult(st.name, resultFor(j.State))
			slog.Error("stage failed",
				logfields.JobID(j.ID),
				logfields.Variant(j.Variant.Name),
				logfields.Stage(st.name),
				logfields.DurationMS(float64(dur.Milliseconds())),
				logfields.Error(err))
			return err
		}

		j.State = st.state
		rec.IncStageResult(st.name, metrics.ResultSuccess)
		slog.Debug("stage complete",
			logfields.JobID(j.ID),
			logfields.Variant(j.Variant.Name),
			logfields.Stage(st.name),
			logfields.DurationMS(float64(dur.Milliseconds())))
	}
	return nil
}

// classifyInterrupt maps a context error to the job's terminal state.
// Expiry of the job's own wall-clock ceiling is a failure; cancellation
// arriving from the run context (a superseding run with the same trigger
// key, or shutdown) is a cancellation. Returns the error stored on the job.
func (j *Job) classifyInterrupt(parent context.Context, err error) error {
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		j.State = StateFailed
		j.Err = fmt.Errorf("job exceeded its wall-clock ceiling: %w", err)
	} else {
		j.State = StateCanceled
		j.Err = err
	}
	return j.Err
}

func resultFor(s State) metrics.ResultLabel {
	if s == StateCanceled {
		return metrics.ResultCanceled
	}
	return metrics.ResultFailed
}
