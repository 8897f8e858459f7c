// Package publish uploads verified binary packages to the artifact store and
// produces the human-readable run summary. Publication is only reachable for
// manually dispatched runs that passed every verification step.
package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/relforge/internal/dist"
	"git.home.luguber.info/inful/relforge/internal/logfields"
)

// PublicationError means the expected artifact was absent or the upload failed.
type PublicationError struct {
	Artifact string
	Err      error
}

func (e *PublicationError) Error() string {
	return fmt.Sprintf("publication of %s failed: %v", e.Artifact, e.Err)
}
func (e *PublicationError) Unwrap() error { return e.Err }

// Result describes one published package.
type Result struct {
	ObjectName  string    `json:"object_name"`
	DownloadURL string    `json:"download_url"`
	Expires     time.Time `json:"expires"`
	SizeBytes   int64     `json:"size_bytes"`
}

// Publisher uploads packages with a bounded retention window.
type Publisher struct {
	store     ArtifactStore
	retention time.Duration
	now       func() time.Time
}

// NewPublisher creates a Publisher.
func NewPublisher(store ArtifactStore, retention time.Duration) *Publisher {
	return &Publisher{store: store, retention: retention, now: time.Now}
}

// Publish uploads the binary package named by the distribution outputs. The
// file must still exist and match the expected name; a missing artifact is a
// publication error, not a silent skip.
func (p *Publisher) Publish(ctx context.Context, runID string, out *dist.Outputs) (*Result, error) {
	info, err := os.Stat(out.PackagePath)
	if err != nil {
		return nil, &PublicationError{Artifact: out.PackageName, Err: err}
	}
	if filepath.Base(out.PackagePath) != out.PackageName {
		return nil, &PublicationError{Artifact: out.PackageName, Err: fmt.Errorf(
			"package file %s does not match expected name", filepath.Base(out.PackagePath))}
	}

	tags := map[string]string{"run_id": runID, "version": out.Version}
	if err := p.store.Upload(ctx, out.PackageName, out.PackagePath, tags); err != nil {
		return nil, &PublicationError{Artifact: out.PackageName, Err: err}
	}

	url, err := p.store.DownloadURL(ctx, out.PackageName, p.retention)
	if err != nil {
		return nil, &PublicationError{Artifact: out.PackageName, Err: err}
	}

	res := &Result{
		ObjectName:  out.PackageName,
		DownloadURL: url,
		Expires:     p.now().Add(p.retention),
		SizeBytes:   info.Size(),
	}
	slog.Info("Package published",
		logfields.RunID(runID),
		logfields.Artifact(res.ObjectName),
		logfields.SizeBytes(res.SizeBytes),
		slog.Time("expires", res.Expires))
	return res, nil
}
