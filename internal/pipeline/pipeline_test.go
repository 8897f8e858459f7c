package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/flight"
	"git.home.luguber.info/inful/relforge/internal/history"
	"git.home.luguber.info/inful/relforge/internal/publish"
)

// fixtureRemote builds a local git repository acting as the project remote.
func fixtureRemote(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	files := map[string]string{
		"README.md":                "# tracker\n",
		"core/engine.go":           "engine",
		"tracing/span.go":          "span",
		"packages/tracing/init.go": "tracing pkg",
	}
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
		_, err = wt.Add(filepath.FromSlash(name))
		require.NoError(t, err)
	}
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "t@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func fixtureConfig(t *testing.T, remote string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		Project: config.ProjectConfig{
			Name:        "tracker",
			Remote:      remote,
			TrunkBranch: "master",
			BaseVersion: "3.1.0",
		},
		Variants: []config.Variant{
			{Name: "dev", Default: true},
			{Name: "tracing", Include: []string{"core/**", "tracing/**", "README.md"}, InstallSubpath: "packages/tracing"},
		},
		Triggers: config.TriggersConfig{
			PushBranches: []string{"master", "release/*"},
			PullRequests: true,
		},
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

type fakeStore struct {
	uploads []string
}

func (s *fakeStore) Upload(ctx context.Context, objectName, filePath string, tags map[string]string) error {
	if _, err := os.Stat(filePath); err != nil {
		return err
	}
	s.uploads = append(s.uploads, objectName)
	return nil
}

func (s *fakeStore) DownloadURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	return "https://artifacts.example.com/" + objectName, nil
}

func TestTriggerKey(t *testing.T) {
	assert.Equal(t, "push/master", Trigger{Kind: TriggerPush, Ref: "master"}.Key())
	assert.Equal(t, "manual/v3.1.0", Trigger{Kind: TriggerManual, Ref: "v3.1.0"}.Key())
}

func TestAdmit(t *testing.T) {
	cfg := config.TriggersConfig{PushBranches: []string{"master", "release/*"}, PullRequests: true}

	assert.NoError(t, Admit(cfg, Trigger{Kind: TriggerManual, Ref: "v1.0.0"}))
	assert.NoError(t, Admit(cfg, Trigger{Kind: TriggerSchedule, Ref: "master"}))
	assert.NoError(t, Admit(cfg, Trigger{Kind: TriggerPush, Ref: "master"}))
	assert.NoError(t, Admit(cfg, Trigger{Kind: TriggerPush, Ref: "release/2026"}))
	assert.NoError(t, Admit(cfg, Trigger{Kind: TriggerPullRequest, Ref: "feature"}))

	var rejected *RejectedError
	err := Admit(cfg, Trigger{Kind: TriggerPush, Ref: "feature"})
	require.True(t, errors.As(err, &rejected))

	err = Admit(cfg, Trigger{Kind: TriggerPullRequest, Ref: "feature", Draft: true})
	require.True(t, errors.As(err, &rejected))
	assert.Contains(t, rejected.Reason, "draft")

	err = Admit(config.TriggersConfig{}, Trigger{Kind: TriggerPullRequest, Ref: "feature"})
	assert.Error(t, err)
}

func TestExecutePushRunDiscards(t *testing.T) {
	remote := fixtureRemote(t)
	cfg := fixtureConfig(t, remote)
	p := New(cfg)

	result, err := p.Execute(context.Background(), Trigger{Kind: TriggerPush, Ref: "master"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeDiscarded, result.Outcome)
	assert.Empty(t, result.Published, "push runs never publish")
	require.Len(t, result.Jobs, 2)
	for _, job := range result.Jobs {
		assert.Equal(t, StateDiscarded, job.State)
		assert.NoError(t, job.Err)
		require.NotNil(t, job.Outputs)
		assert.NotEmpty(t, job.Outputs.PackageName)
	}
	assert.NotEmpty(t, result.Revision)
}

func TestExecuteManualRunPublishes(t *testing.T) {
	remote := fixtureRemote(t)
	cfg := fixtureConfig(t, remote)
	store := &fakeStore{}
	p := New(cfg, WithPublisher(publish.NewPublisher(store, 7*24*time.Hour)))

	result, err := p.Execute(context.Background(), Trigger{Kind: TriggerManual})
	require.NoError(t, err)

	assert.Equal(t, OutcomePublished, result.Outcome)
	assert.Equal(t, "master", result.Ref, "empty manual ref defaults to the trunk branch")
	require.Len(t, result.Published, 2)
	assert.Len(t, store.uploads, 2)
	for _, job := range result.Jobs {
		assert.Equal(t, StatePublished, job.State)
	}
	for _, pub := range result.Published {
		assert.Contains(t, pub.DownloadURL, "artifacts.example.com")
	}
}

func TestExecuteRejectsUnadmittedTrigger(t *testing.T) {
	remote := fixtureRemote(t)
	cfg := fixtureConfig(t, remote)
	p := New(cfg)

	_, err := p.Execute(context.Background(), Trigger{Kind: TriggerPush, Ref: "feature"})
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
}

func TestExecuteFailsOnUnresolvableRef(t *testing.T) {
	remote := fixtureRemote(t)
	cfg := fixtureConfig(t, remote)
	p := New(cfg)

	result, err := p.Execute(context.Background(), Trigger{Kind: TriggerManual, Ref: "does-not-exist"})
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, result.Outcome)
	for _, job := range result.Jobs {
		assert.Equal(t, StateFailed, job.State)
		assert.Error(t, job.Err)
	}
}

func TestExecuteJobTimeoutFailsRun(t *testing.T) {
	remote := fixtureRemote(t)
	cfg := fixtureConfig(t, remote)
	cfg.Build.Timeout = "1ms"
	p := New(cfg)

	result, err := p.Execute(context.Background(), Trigger{Kind: TriggerPush, Ref: "master"})
	require.Error(t, err)

	// Exceeding the wall-clock ceiling is a failure, not a cancellation.
	assert.Equal(t, OutcomeFailed, result.Outcome)
	for _, job := range result.Jobs {
		assert.Equal(t, StateFailed, job.State)
		require.Error(t, job.Err)
		assert.Contains(t, job.Err.Error(), "wall-clock ceiling")
	}
}

func TestExecuteRecordsHistory(t *testing.T) {
	remote := fixtureRemote(t)
	cfg := fixtureConfig(t, remote)
	store, err := history.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	p := New(cfg, WithHistory(store))
	result, err := p.Execute(context.Background(), Trigger{Kind: TriggerPush, Ref: "master"})
	require.NoError(t, err)

	runs, err := store.RecentRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, result.RunID, runs[0].ID)
	assert.Equal(t, "discarded", runs[0].Outcome)

	jobs, err := store.JobsForRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)
}

func TestExecuteCancelsInFlightRunWithSameKey(t *testing.T) {
	remote := fixtureRemote(t)
	cfg := fixtureConfig(t, remote)
	p := New(cfg)

	trigger := Trigger{Kind: TriggerPush, Ref: "master"}

	first := make(chan *RunResult, 1)
	go func() {
		result, _ := p.Execute(context.Background(), trigger)
		first <- result
	}()

	// Wait for the first run to register its flight slot.
	require.Eventually(t, func() bool {
		return len(p.InFlight()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	second, err := p.Execute(context.Background(), trigger)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, second.Outcome)

	select {
	case result := <-first:
		// The first run either lost its slot mid-flight or finished before
		// the second started; both are legal, but it must never publish.
		assert.NotEqual(t, OutcomePublished, result.Outcome)
	case <-time.After(30 * time.Second):
		t.Fatal("first run did not finish")
	}
}

func TestPipelinesWithSharedGroupCancelAcrossInstances(t *testing.T) {
	remote := fixtureRemote(t)
	cfg := fixtureConfig(t, remote)
	group := flight.NewGroup()
	p1 := New(cfg, WithFlightGroup(group))
	p2 := New(cfg, WithFlightGroup(group))

	trigger := Trigger{Kind: TriggerPush, Ref: "master"}

	first := make(chan *RunResult, 1)
	go func() {
		result, _ := p1.Execute(context.Background(), trigger)
		first <- result
	}()

	require.Eventually(t, func() bool {
		// Both instances see the shared registry.
		return len(p1.InFlight()) == 1 && len(p2.InFlight()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	second, err := p2.Execute(context.Background(), trigger)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDiscarded, second.Outcome)

	select {
	case result := <-first:
		assert.NotEqual(t, OutcomePublished, result.Outcome)
	case <-time.After(30 * time.Second):
		t.Fatal("first run did not finish")
	}
}

func TestExecuteJobsCleanUpWorkspaces(t *testing.T) {
	remote := fixtureRemote(t)
	cfg := fixtureConfig(t, remote)
	p := New(cfg)

	result, err := p.Execute(context.Background(), Trigger{Kind: TriggerPush, Ref: "master"})
	require.NoError(t, err)
	for _, job := range result.Jobs {
		assert.Empty(t, job.ws.GetPath())
	}
}
