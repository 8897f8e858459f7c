// Package gitsource resolves revision references against a git remote and
// produces the working copies the pipeline stages read from.
package gitsource

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"git.home.luguber.info/inful/relforge/internal/logfields"
)

// Checkout is a working copy of the source tree at a resolved revision.
type Checkout struct {
	Path       string    // filesystem location of the working copy
	Ref        string    // the reference that was requested
	Revision   string    // full commit hash the ref resolved to
	CommitTime time.Time // committer timestamp, used for deterministic artifact mtimes
}

// ShortRevision returns the abbreviated commit hash.
func (c *Checkout) ShortRevision() string {
	if len(c.Revision) < 8 {
		return c.Revision
	}
	return c.Revision[:8]
}

// Client performs git operations against a single remote.
type Client struct {
	remote string
}

// NewClient creates a client for the given remote URL.
func NewClient(remote string) *Client { return &Client{remote: remote} }

// Checkout clones the remote into dir and checks out ref, which may be a
// branch name, a tag, or a commit hash. The clone fetches all branches and
// tags so any of the three forms can resolve.
func (c *Client) Checkout(ctx context.Context, ref, dir string) (*Checkout, error) {
	slog.Debug("Cloning repository", logfields.URL(c.remote), logfields.Ref(ref), logfields.Path(dir))

	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("failed to remove existing directory: %w", err)
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL:  c.remote,
		Tags: git.AllTags,
	})
	if err != nil {
		return nil, classifyCloneError(c.remote, err)
	}

	hash, err := resolve(repo, ref)
	if err != nil {
		return nil, &ResolutionError{Ref: ref, Err: err}
	}

	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true}); err != nil {
		return nil, &ResolutionError{Ref: ref, Err: err}
	}

	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read commit %s: %w", hash, err)
	}

	co := &Checkout{Path: dir, Ref: ref, Revision: hash.String(), CommitTime: commit.Committer.When}
	slog.Info("Repository checked out",
		logfields.URL(c.remote),
		logfields.Ref(ref),
		logfields.Revision(co.ShortRevision()),
		logfields.Path(dir))
	return co, nil
}

// resolve maps a reference string to a commit hash, trying the raw form
// first and then remote-tracking and tag forms.
func resolve(repo *git.Repository, ref string) (*plumbing.Hash, error) {
	candidates := []string{ref, "origin/" + ref, "refs/tags/" + ref}
	var lastErr error
	for _, cand := range candidates {
		hash, err := repo.ResolveRevision(plumbing.Revision(cand))
		if err == nil {
			return hash, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
