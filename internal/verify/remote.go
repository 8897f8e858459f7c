package verify

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"git.home.luguber.info/inful/relforge/internal/gitsource"
)

// InstallFromRemote installs the project directly from the revision's remote
// location into an isolated environment: the ref is cloned fresh and the
// variant's installer sub-path must exist and contain files.
func InstallFromRemote(ctx context.Context, client *gitsource.Client, ref, subpath, envDir string) error {
	co, err := client.Checkout(ctx, ref, filepath.Join(envDir, "src"))
	if err != nil {
		return &InstallError{Mode: "remote", Err: err}
	}

	target := co.Path
	if subpath != "" {
		target = filepath.Join(co.Path, filepath.FromSlash(subpath))
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		return &InstallError{Mode: "remote", Err: fmt.Errorf("installer sub-path %q: %w", subpath, err)}
	}
	if len(entries) == 0 {
		return &InstallError{Mode: "remote", Err: fmt.Errorf("installer sub-path %q is empty", subpath)}
	}
	return nil
}

// RunPRInstallScript runs the auxiliary installer script against a pull
// request's merge ref. Only invoked for pull-request triggers.
func RunPRInstallScript(ctx context.Context, script, mergeRef, workDir string) error {
	cmd := exec.CommandContext(ctx, script, mergeRef)
	cmd.Dir = workDir
	cmd.Env = append(os.Environ(), "RELFORGE_MERGE_REF="+mergeRef)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return &InstallError{Mode: "pr-script", Err: fmt.Errorf("%w: %s", err, out.String())}
	}
	return nil
}
