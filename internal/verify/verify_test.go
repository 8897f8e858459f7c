package verify

import (
	"archive/zip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/dist"
	"git.home.luguber.info/inful/relforge/internal/gitsource"
	"git.home.luguber.info/inful/relforge/internal/workspace"
)

var testProject = config.ProjectConfig{
	Name:        "tracker",
	Remote:      "unused",
	TrunkBranch: "master",
	BaseVersion: "0.0.0",
}

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

// buildArtifacts checks out the fixture remote and builds both artifact forms.
func buildArtifacts(t *testing.T, remote string, variant config.Variant) (*dist.Outputs, *gitsource.Checkout) {
	t.Helper()
	client := gitsource.NewClient(remote)
	co, err := client.Checkout(context.Background(), "master", filepath.Join(t.TempDir(), "co"))
	require.NoError(t, err)
	out, err := dist.NewBuilder(testProject).Build(co, variant, t.TempDir())
	require.NoError(t, err)
	return out, co
}

func newEnvs(t *testing.T) *workspace.Manager {
	t.Helper()
	mgr := workspace.NewManager(t.TempDir())
	require.NoError(t, mgr.Create())
	t.Cleanup(func() { _ = mgr.Cleanup() })
	return mgr
}

func TestCheckParityClean(t *testing.T) {
	remote := fixtureRemote(t)
	out, _ := buildArtifacts(t, remote, config.Variant{Name: "dev"})

	report, err := CheckParity(out.ArchivePath, out.PackagePath)
	require.NoError(t, err)
	assert.True(t, report.Clean())
	assert.NoError(t, report.Error())
}

func TestCheckParityDetectsDrift(t *testing.T) {
	remote := fixtureRemote(t)
	out, _ := buildArtifacts(t, remote, config.Variant{Name: "dev"})

	// Append an entry to the package that the archive does not carry.
	drifted := rewriteZipWithExtra(t, out.PackagePath, "sneaky.txt")

	report, err := CheckParity(out.ArchivePath, drifted)
	require.NoError(t, err)
	assert.False(t, report.Clean())
	assert.Equal(t, []string{"sneaky.txt"}, report.ExtraInPackage)
	assert.Empty(t, report.MissingFromPackage)
	require.Error(t, report.Error())
}

// rewriteZipWithExtra copies a zip adding one extra empty entry.
func rewriteZipWithExtra(t *testing.T, src, extra string) string {
	t.Helper()
	zr, err := zip.OpenReader(src)
	require.NoError(t, err)
	defer zr.Close()

	dst := filepath.Join(t.TempDir(), "drifted.zip")
	f, err := os.Create(dst)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, zf := range zr.File {
		w, err := zw.Create(zf.Name)
		require.NoError(t, err)
		rc, err := zf.Open()
		require.NoError(t, err)
		_, err = io.Copy(w, rc)
		rc.Close()
		require.NoError(t, err)
	}
	_, err = zw.Create(extra)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return dst
}

func TestLintPackagePasses(t *testing.T) {
	remote := fixtureRemote(t)
	out, _ := buildArtifacts(t, remote, config.Variant{Name: "dev"})
	require.NoError(t, LintPackage(out.PackagePath, "tracker", "dev"))
}

func TestLintPackageViolations(t *testing.T) {
	remote := fixtureRemote(t)
	out, _ := buildArtifacts(t, remote, config.Variant{Name: "dev"})

	err := LintPackage(out.PackagePath, "othername", "skinny")
	require.Error(t, err)
	var lintErr *LintError
	require.True(t, errors.As(err, &lintErr))
	assert.Len(t, lintErr.Violations, 2)
}

func TestInstallChecksAgreeOnVersion(t *testing.T) {
	remote := fixtureRemote(t)
	out, _ := buildArtifacts(t, remote, config.Variant{Name: "dev"})
	envs := newEnvs(t)

	archiveEnv, err := envs.CreateInstallEnv("archive")
	require.NoError(t, err)
	av, err := InstallFromArchive(out.ArchivePath, archiveEnv)
	require.NoError(t, err)

	binaryEnv, err := envs.CreateInstallEnv("binary")
	require.NoError(t, err)
	bv, err := InstallFromPackage(out.PackagePath, binaryEnv, true)
	require.NoError(t, err)

	assert.Equal(t, av, bv)
	assert.Equal(t, out.Version, av)
	assert.FileExists(t, filepath.Join(archiveEnv, "core", "engine.go"))
	assert.FileExists(t, filepath.Join(binaryEnv, "core", "engine.go"))
}

func TestInstallFromRemoteHonorsSubpath(t *testing.T) {
	remote := fixtureRemote(t)
	client := gitsource.NewClient(remote)
	envs := newEnvs(t)

	envA, err := envs.CreateInstallEnv("remote")
	require.NoError(t, err)
	require.NoError(t, InstallFromRemote(context.Background(), client, "master", "packages/tracing", envA))

	envB, err := envs.CreateInstallEnv("remote")
	require.NoError(t, err)
	err = InstallFromRemote(context.Background(), client, "master", "packages/absent", envB)
	require.Error(t, err)
	var instErr *InstallError
	require.True(t, errors.As(err, &instErr))
	assert.Equal(t, "remote", instErr.Mode)
}

func TestVerifierRunFullSequence(t *testing.T) {
	remote := fixtureRemote(t)
	variant := config.Variant{Name: "dev", Default: true}
	out, co := buildArtifacts(t, remote, variant)

	v := NewVerifier(testProject, config.VerifyConfig{}, gitsource.NewClient(remote), newEnvs(t))
	require.NoError(t, v.Run(context.Background(), variant, out, co.Ref, false, ""))
}

func TestVerifierParityNonFatalWhenConfigured(t *testing.T) {
	remote := fixtureRemote(t)
	variant := config.Variant{Name: "dev", Default: true}
	out, co := buildArtifacts(t, remote, variant)
	out.PackagePath = rewriteZipWithExtra(t, out.PackagePath, "sneaky.txt")

	nonFatal := false
	v := NewVerifier(testProject, config.VerifyConfig{ParityFatal: &nonFatal}, gitsource.NewClient(remote), newEnvs(t))
	// Drift is logged but the sequence continues and succeeds.
	require.NoError(t, v.Run(context.Background(), variant, out, co.Ref, false, ""))

	fatal := true
	v = NewVerifier(testProject, config.VerifyConfig{ParityFatal: &fatal}, gitsource.NewClient(remote), newEnvs(t))
	err := v.Run(context.Background(), variant, out, co.Ref, false, "")
	var parityErr *ParityError
	require.True(t, errors.As(err, &parityErr))
}

func TestVerifierRunsPRScriptOnlyForPRs(t *testing.T) {
	remote := fixtureRemote(t)
	variant := config.Variant{Name: "dev", Default: true}
	out, co := buildArtifacts(t, remote, variant)

	marker := filepath.Join(t.TempDir(), "ran")
	script := filepath.Join(t.TempDir(), "pr_install.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho \"$1\" > "+marker+"\n"), 0o755))

	cfg := config.VerifyConfig{PRInstallScript: script}

	v := NewVerifier(testProject, cfg, gitsource.NewClient(remote), newEnvs(t))
	require.NoError(t, v.Run(context.Background(), variant, out, co.Ref, false, ""))
	assert.NoFileExists(t, marker, "script must not run for non-PR triggers")

	require.NoError(t, v.Run(context.Background(), variant, out, co.Ref, true, "refs/pull/42/merge"))
	data, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Contains(t, string(data), "refs/pull/42/merge")
}
