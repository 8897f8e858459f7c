// Package verify implements the verification stage: manifest listing and
// parity, the strict metadata lint, and the three install checks. Checks run
// in a fixed order and the first failure aborts the run; there are no
// retries.
package verify

import (
	"context"
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/dist"
	"git.home.luguber.info/inful/relforge/internal/gitsource"
	"git.home.luguber.info/inful/relforge/internal/logfields"
)

// EnvFactory hands out clean, isolated install environments.
type EnvFactory interface {
	CreateInstallEnv(label string) (string, error)
}

// Verifier runs the verification sequence for one variant job.
type Verifier struct {
	project config.ProjectConfig
	cfg     config.VerifyConfig
	remote  *gitsource.Client
	envs    EnvFactory
}

// NewVerifier creates a Verifier.
func NewVerifier(project config.ProjectConfig, cfg config.VerifyConfig, remote *gitsource.Client, envs EnvFactory) *Verifier {
	return &Verifier{project: project, cfg: cfg, remote: remote, envs: envs}
}

// Run executes every check for the variant's artifacts. isPR and mergeRef
// describe the trigger: the auxiliary PR install script only runs for
// pull-request triggers.
func (v *Verifier) Run(ctx context.Context, variant config.Variant, out *dist.Outputs, ref string, isPR bool, mergeRef string) error {
	// Manifest listing, for human inspection in the job log.
	archiveEntries, err := dist.ListArchive(out.ArchivePath)
	if err != nil {
		return err
	}
	pkgEntries, err := dist.ListPackage(out.PackagePath)
	if err != nil {
		return err
	}
	slog.Info("Artifact manifests",
		logfields.Variant(variant.Name),
		slog.Int("archive_files", len(archiveEntries)),
		slog.Int("package_files", len(pkgEntries)))
	for _, e := range archiveEntries {
		slog.Debug("archive entry", slog.String("file", e))
	}
	for _, e := range pkgEntries {
		slog.Debug("package entry", slog.String("file", e))
	}

	// Manifest parity.
	report, err := CheckParity(out.ArchivePath, out.PackagePath)
	if err != nil {
		return err
	}
	if !report.Clean() {
		if v.cfg.ParityIsFatal() {
			return report.Error()
		}
		slog.Warn("Manifest parity mismatch tolerated by configuration",
			logfields.Variant(variant.Name),
			logfields.Error(report.Error()))
	}

	// Strict metadata lint.
	if err := LintPackage(out.PackagePath, v.project.Name, variant.Name); err != nil {
		return err
	}

	// Install from the source archive into a clean environment.
	archiveEnv, err := v.envs.CreateInstallEnv("archive")
	if err != nil {
		return err
	}
	archiveVersion, err := InstallFromArchive(out.ArchivePath, archiveEnv)
	if err != nil {
		return err
	}

	// Install from the binary package, forced, into its own environment.
	binaryEnv, err := v.envs.CreateInstallEnv("binary")
	if err != nil {
		return err
	}
	binaryVersion, err := InstallFromPackage(out.PackagePath, binaryEnv, true)
	if err != nil {
		return err
	}

	if archiveVersion != binaryVersion {
		return &InstallError{Mode: "binary", Err: fmt.Errorf(
			"version mismatch between install forms: archive reports %q, package reports %q",
			archiveVersion, binaryVersion)}
	}
	if archiveVersion != out.Version {
		return &InstallError{Mode: "archive", Err: fmt.Errorf(
			"installed version %q does not match built version %q", archiveVersion, out.Version)}
	}

	// Install directly from the remote revision into an ephemeral environment.
	remoteEnv, err := v.envs.CreateInstallEnv("remote")
	if err != nil {
		return err
	}
	subpath := ""
	if !variant.Default {
		subpath = variant.InstallSubpath
	}
	if err := InstallFromRemote(ctx, v.remote, ref, subpath, remoteEnv); err != nil {
		return err
	}

	// Auxiliary PR installer, pull-request triggers only.
	if isPR && v.cfg.PRInstallScript != "" {
		prEnv, err := v.envs.CreateInstallEnv("pr")
		if err != nil {
			return err
		}
		if err := RunPRInstallScript(ctx, v.cfg.PRInstallScript, mergeRef, prEnv); err != nil {
			return err
		}
	}

	slog.Info("Verification passed", logfields.Variant(variant.Name), slog.String("version", archiveVersion))
	return nil
}
