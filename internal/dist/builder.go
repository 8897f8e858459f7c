// Package dist produces the two distribution artifact forms for a build
// variant: a filtered source archive and a pre-built binary package. Given
// the same working tree and variant, output bytes are identical except for
// the Built timestamp embedded in package metadata.
package dist

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"git.home.luguber.info/inful/relforge/internal/config"
	"git.home.luguber.info/inful/relforge/internal/gitsource"
	"git.home.luguber.info/inful/relforge/internal/logfields"
)

// Outputs are the four named values the distribution build exposes to
// downstream stages.
type Outputs struct {
	ArchivePath string `json:"archive_path"`
	PackagePath string `json:"package_path"`
	PackageName string `json:"package_name"`
	PackageSize int64  `json:"package_size"`

	Version string   `json:"version"`
	Files   []string `json:"-"` // selected tree files, without generated entries
}

// Builder builds distribution artifacts for one project.
type Builder struct {
	project config.ProjectConfig
	now     func() time.Time
}

// NewBuilder creates a Builder. The clock is injectable for deterministic tests.
func NewBuilder(project config.ProjectConfig) *Builder {
	return &Builder{project: project, now: time.Now}
}

// WithClock overrides the build timestamp source.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build produces the source archive and binary package for variant into
// outDir and returns the named outputs.
func (b *Builder) Build(checkout *gitsource.Checkout, variant config.Variant, outDir string) (*Outputs, error) {
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	files, err := SelectFiles(checkout.Path, variant)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("variant %q selects no files", variant.Name)
	}

	version := ComputeVersion(b.project.BaseVersion, checkout.Ref, checkout.ShortRevision())
	stem := fmt.Sprintf("%s-%s-%s", b.project.Name, variant.Name, version)
	prefix := fmt.Sprintf("%s-%s", b.project.Name, version)

	meta := Metadata{
		Name:     b.project.Name,
		Version:  version,
		Variant:  variant.Name,
		Revision: checkout.Revision,
		Built:    b.now(),
	}

	archivePath := filepath.Join(outDir, stem+".tar.gz")
	packagePath := filepath.Join(outDir, stem+".zip")

	// VERSION rides in both forms; METADATA only in the binary package.
	versionEntry := map[string][]byte{VersionFileName: []byte(version + "\n")}
	if err := writeSourceArchive(checkout.Path, files, versionEntry, prefix, archivePath, checkout.CommitTime); err != nil {
		return nil, fmt.Errorf("source archive build failed: %w", err)
	}

	packaged := map[string][]byte{
		VersionFileName:  []byte(version + "\n"),
		MetadataFileName: meta.Encode(),
	}
	if err := writeBinaryPackage(checkout.Path, files, packaged, packagePath, checkout.CommitTime); err != nil {
		return nil, fmt.Errorf("binary package build failed: %w", err)
	}

	info, err := os.Stat(packagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat package: %w", err)
	}

	out := &Outputs{
		ArchivePath: archivePath,
		PackagePath: packagePath,
		PackageName: filepath.Base(packagePath),
		PackageSize: info.Size(),
		Version:     version,
		Files:       files,
	}
	slog.Info("Distribution built",
		logfields.Variant(variant.Name),
		logfields.Artifact(out.PackageName),
		logfields.SizeBytes(out.PackageSize),
		slog.Int("files", len(files)))
	return out, nil
}
