// Package assets runs the UI asset build inside the working copy so the
// packaging stages include its output.
package assets

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/logfields"
)

// BuildError carries the failing command and its combined output.
type BuildError struct {
	Command string
	Output  string
	Err     error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("asset build %q failed: %v", e.Command, e.Err)
}
func (e *BuildError) Unwrap() error { return e.Err }

// Builder executes the configured asset build command.
type Builder struct {
	cfg config.AssetsConfig
}

// NewBuilder creates a Builder; a zero-command config disables the stage.
func NewBuilder(cfg config.AssetsConfig) *Builder { return &Builder{cfg: cfg} }

// Enabled reports whether an asset build command is configured.
func (b *Builder) Enabled() bool { return len(b.cfg.Command) > 0 }

// Run executes the asset build in treeDir. Failure is fatal for the run; no
// partial artifact may be produced downstream.
func (b *Builder) Run(ctx context.Context, treeDir string) error {
	if !b.Enabled() {
		slog.Debug("Asset build not configured, skipping")
		return nil
	}

	workDir := treeDir
	if b.cfg.Dir != "" {
		workDir = filepath.Join(treeDir, filepath.FromSlash(b.cfg.Dir))
	}

	cmd := exec.CommandContext(ctx, b.cfg.Command[0], b.cfg.Command[1:]...)
	cmd.Dir = workDir
	cmd.Env = os.Environ()
	for k, v := range b.cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	t0 := time.Now()
	slog.Info("Building UI assets", logfields.Path(workDir), slog.Any("command", b.cfg.Command))
	if err := cmd.Run(); err != nil {
		return &BuildError{Command: b.cfg.Command[0], Output: out.String(), Err: err}
	}

	if b.cfg.Output != "" {
		outputDir := filepath.Join(treeDir, filepath.FromSlash(b.cfg.Output))
		if _, err := os.Stat(outputDir); err != nil {
			return &BuildError{
				Command: b.cfg.Command[0],
				Output:  out.String(),
				Err:     fmt.Errorf("expected output %s missing after build: %w", b.cfg.Output, err),
			}
		}
	}

	slog.Info("UI assets built", logfields.DurationMS(float64(time.Since(t0).Milliseconds())))
	return nil
}
