// Package pipeline orchestrates release builds: one run per trigger, one
// parallel job per variant, each job a strict stage sequence from checkout
// through verification, with publication reserved for manual dispatches.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/relforge/internal/assets"
	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/dist"
	"git.home.luguber.info/inful/relforge/internal/events"
	"git.home.luguber.info/inful/relforge/internal/flight"
	"git.home.luguber.info/inful/relforge/internal/gitsource"
	"git.home.luguber.info/inful/relforge/internal/history"
	"git.home.luguber.info/inful/relforge/internal/logfields"
	"git.home.luguber.info/inful/relforge/internal/metrics"
	"git.home.luguber.info/inful/relforge/internal/publish"
	"git.home.luguber.info/inful/relforge/internal/verify"
	"git.home.luguber.info/inful/relforge/internal/workspace"
)

// Outcome is the terminal state of a whole run.
type Outcome string

const (
	OutcomePublished Outcome = "published"
	OutcomeDiscarded Outcome = "discarded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// RunResult summarizes a finished run.
type RunResult struct {
	RunID     string
	Trigger   Trigger
	Ref       string
	Revision  string
	Outcome   Outcome
	Jobs      []*Job
	Published []*publish.Result
	Duration  time.Duration
}

// Pipeline executes runs against one project configuration.
type Pipeline struct {
	cfg       *config.Config
	git       *gitsource.Client
	recorder  metrics.Recorder
	store     *history.Store
	events    events.Publisher
	publisher *publish.Publisher
	flights   *flight.Group
	now       func() time.Time
}

// Option configures optional pipeline collaborators.
type Option func(*Pipeline)

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithHistory enables run history persistence.
func WithHistory(s *history.Store) Option {
	return func(p *Pipeline) { p.store = s }
}

// WithEvents enables run lifecycle event publishing.
func WithEvents(pub events.Publisher) Option {
	return func(p *Pipeline) { p.events = pub }
}

// WithPublisher enables artifact publication for manual runs.
func WithPublisher(pub *publish.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// WithFlightGroup shares a single-flight registry across pipelines. The
// daemon passes one group to every pipeline it builds so runs started
// before a config reload still block (and get canceled by) runs with the
// same trigger key started after it.
func WithFlightGroup(g *flight.Group) Option {
	return func(p *Pipeline) { p.flights = g }
}

// New creates a pipeline for the given configuration.
func New(cfg *config.Config, opts ...Option) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		git:      gitsource.NewClient(cfg.Project.Remote),
		recorder: metrics.NoopRecorder{},
		events:   events.NoopPublisher{},
		flights:  flight.NewGroup(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// InFlight exposes the currently running trigger keys and their run IDs.
func (p *Pipeline) InFlight() map[string]string { return p.flights.InFlight() }

// Execute runs the full pipeline for one trigger. A trigger the
// configuration does not admit returns a *RejectedError without starting a
// run. Starting a run cancels any in-flight run holding the same trigger
// key.
func (p *Pipeline) Execute(ctx context.Context, trigger Trigger) (*RunResult, error) {
	if err := Admit(p.cfg.Triggers, trigger); err != nil {
		return nil, err
	}

	ref := trigger.Ref
	if ref == "" {
		ref = p.cfg.Project.TrunkBranch
	}
	trigger.Ref = ref

	runID := uuid.NewString()
	started := p.now()

	ctx, release := p.flights.Begin(ctx, trigger.Key(), runID)
	defer release()

	p.recorder.AddRunsInFlight(1)
	defer p.recorder.AddRunsInFlight(-1)

	slog.Info("run started",
		logfields.RunID(runID),
		logfields.Trigger(string(trigger.Kind)),
		logfields.Ref(ref))

	if p.store != nil {
		if err := p.store.RecordRunStart(ctx, history.RunRecord{
			ID:      runID,
			Trigger: string(trigger.Kind),
			Ref:     ref,
			Started: started,
		}); err != nil {
			slog.Warn("recording run start failed", logfields.RunID(runID), logfields.Error(err))
		}
	}
	p.emitEvent(ctx, runID, trigger, "", "started", "")

	result := &RunResult{RunID: runID, Trigger: trigger, Ref: ref}

	var wg sync.WaitGroup
	jobs := make([]*Job, len(p.cfg.Variants))
	for i, variant := range p.cfg.Variants {
		job := &Job{
			ID:      uuid.NewString(),
			RunID:   runID,
			Variant: variant,
			State:   StatePending,
		}
		jobs[i] = job
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runJob(ctx, job, trigger, ref)
		}()
	}
	wg.Wait()
	result.Jobs = jobs

	// Workspaces stay alive until publication has read the artifacts.
	defer func() {
		for _, job := range jobs {
			if job.ws != nil {
				if err := job.ws.Cleanup(); err != nil {
					slog.Warn("workspace cleanup failed", logfields.JobID(job.ID), logfields.Error(err))
				}
			}
		}
	}()

	result.Outcome = p.finalize(ctx, result, jobs, trigger)
	result.Duration = p.now().Sub(started)

	for _, job := range jobs {
		p.recorder.ObserveJobDuration(job.Variant.Name, job.Duration)
		p.recorder.IncJobOutcome(job.Variant.Name, string(job.State))
		if p.store != nil {
			rec := history.JobRecord{
				RunID:    runID,
				Variant:  job.Variant.Name,
				Status:   string(job.State),
				Duration: job.Duration,
			}
			if job.Err != nil {
				rec.Error = job.Err.Error()
			}
			if job.Outputs != nil {
				rec.PackageName = job.Outputs.PackageName
				rec.PackageSize = job.Outputs.PackageSize
			}
			if err := p.store.RecordJob(ctx, rec); err != nil {
				slog.Warn("recording job failed", logfields.JobID(job.ID), logfields.Error(err))
			}
		}
	}

	for _, job := range jobs {
		if result.Revision == "" && job.Checkout != nil {
			result.Revision = job.Checkout.Revision
		}
	}

	p.recorder.IncRunOutcome(string(result.Outcome))
	if p.store != nil {
		if err := p.store.RecordRunFinish(context.WithoutCancel(ctx), runID, string(result.Outcome), p.now()); err != nil {
			slog.Warn("recording run finish failed", logfields.RunID(runID), logfields.Error(err))
		}
	}
	p.emitEvent(ctx, runID, trigger, result.Revision, string(result.Outcome), runError(jobs))

	slog.Info("run finished",
		logfields.RunID(runID),
		slog.String("outcome", string(result.Outcome)),
		logfields.DurationMS(float64(result.Duration.Milliseconds())))

	if result.Outcome == OutcomeFailed {
		return result, fmt.Errorf("run %s failed: %s", runID, runError(jobs))
	}
	if result.Outcome == OutcomeCanceled {
		return result, fmt.Errorf("run %s canceled", runID)
	}
	return result, nil
}

// runJob executes one variant job under the job timeout. Every job gets its
// own checkout, workspace and install environments.
func (p *Pipeline) runJob(ctx context.Context, job *Job, trigger Trigger, ref string) {
	jctx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout())
	defer cancel()

	t0 := time.Now()
	defer func() { job.Duration = time.Since(t0) }()

	job.ws = workspace.NewManager("")
	if err := job.ws.Create(); err != nil {
		job.State = StateFailed
		job.Err = err
		return
	}

	var treeDir string
	stages := []stage{
		{name: "checkout", state: StateCheckedOut, fn: func(ctx context.Context) error {
			dir, err := job.ws.CreateSubdir("src")
			if err != nil {
				return err
			}
			co, err := p.git.Checkout(ctx, ref, dir)
			if err != nil {
				return err
			}
			job.Checkout = co
			treeDir = dir
			return nil
		}},
		{name: "ui-build", state: StateUIBuilt, fn: func(ctx context.Context) error {
			builder := assets.NewBuilder(p.cfg.Assets)
			if !builder.Enabled() {
				return nil
			}
			return builder.Run(ctx, treeDir)
		}},
		{name: "package", state: StatePackaged, fn: func(ctx context.Context) error {
			outDir, err := p.outputDir(job)
			if err != nil {
				return err
			}
			out, err := dist.NewBuilder(p.cfg.Project).Build(job.Checkout, job.Variant, outDir)
			if err != nil {
				return err
			}
			job.Outputs = out
			p.recorder.ObservePackageSize(job.Variant.Name, out.PackageSize)
			return nil
		}},
		{name: "verify", state: StateVerified, fn: func(ctx context.Context) error {
			v := verify.NewVerifier(p.cfg.Project, p.cfg.Verify, p.git, job.ws)
			isPR := trigger.Kind == TriggerPullRequest
			return v.Run(ctx, job.Variant, job.Outputs, ref, isPR, trigger.MergeRef)
		}},
	}

	_ = job.runStages(ctx, jctx, stages, p.recorder)
}

// outputDir resolves where a job writes its artifacts: the configured
// output directory when set, the job workspace otherwise.
func (p *Pipeline) outputDir(job *Job) (string, error) {
	if p.cfg.Build.OutputDir == "" {
		return job.ws.CreateSubdir("dist")
	}
	dir := filepath.Join(p.cfg.Build.OutputDir, job.RunID, job.Variant.Name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	return dir, nil
}

// finalize decides the run outcome and, for manual runs with every variant
// verified, publishes each binary package. Automatic triggers always
// discard their artifacts.
func (p *Pipeline) finalize(ctx context.Context, result *RunResult, jobs []*Job, trigger Trigger) Outcome {
	allVerified := true
	anyCanceled := false
	for _, job := range jobs {
		if job.State != StateVerified {
			allVerified = false
		}
		if job.State == StateCanceled {
			anyCanceled = true
		}
	}
	if anyCanceled {
		return OutcomeCanceled
	}
	if !allVerified {
		for _, job := range jobs {
			if job.State == StateVerified {
				job.State = StateDiscarded
			}
		}
		return OutcomeFailed
	}

	if !trigger.Publishes() || p.publisher == nil {
		for _, job := range jobs {
			job.State = StateDiscarded
		}
		return OutcomeDiscarded
	}

	for _, job := range jobs {
		res, err := p.publisher.Publish(ctx, result.RunID, job.Outputs)
		if err != nil {
			job.State = StateFailed
			job.Err = err
			slog.Error("publication failed",
				logfields.JobID(job.ID),
				logfields.Variant(job.Variant.Name),
				logfields.Error(err))
			return OutcomeFailed
		}
		job.State = StatePublished
		result.Published = append(result.Published, res)
	}
	return OutcomePublished
}

func (p *Pipeline) emitEvent(ctx context.Context, runID string, trigger Trigger, revision, phase, errText string) {
	event := events.RunEvent{
		RunID:    runID,
		Project:  p.cfg.Project.Name,
		Trigger:  string(trigger.Kind),
		Ref:      trigger.Ref,
		Revision: revision,
		Phase:    phase,
		Error:    errText,
	}
	if err := p.events.PublishRunEvent(context.WithoutCancel(ctx), event); err != nil {
		slog.Warn("publishing run event failed", logfields.RunID(runID), logfields.Error(err))
	}
}

func runError(jobs []*Job) string {
	for _, job := range jobs {
		if job.Err != nil {
			return fmt.Sprintf("variant %s: %v", job.Variant.Name, job.Err)
		}
	}
	return ""
}
