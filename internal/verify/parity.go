package verify

import (
	"fmt"
	"log/slog"

	"git.home.luguber.info/inful/relforge/internal/dist"
)

// ParityReport is the outcome of comparing the two artifact manifests.
type ParityReport struct {
	// MissingFromPackage lists files present in the source archive only.
	MissingFromPackage []string
	// ExtraInPackage lists files present in the binary package only.
	ExtraInPackage []string
}

// Clean reports whether the two file sets match.
func (r *ParityReport) Clean() bool {
	return len(r.MissingFromPackage) == 0 && len(r.ExtraInPackage) == 0
}

// Error renders the drift as a single error (nil when clean).
func (r *ParityReport) Error() error {
	if r.Clean() {
		return nil
	}
	return &ParityError{Report: r}
}

// ParityError is an integrity error: the artifact forms disagree on content.
type ParityError struct {
	Report *ParityReport
}

func (e *ParityError) Error() string {
	return fmt.Sprintf("manifest parity mismatch: %d missing from package, %d extra in package",
		len(e.Report.MissingFromPackage), len(e.Report.ExtraInPackage))
}

// CheckParity normalizes both manifests (top-level prefix stripped from the
// archive listing, generated metadata dropped from the package listing) and
// diffs them. Every divergent entry is logged regardless of fatality.
func CheckParity(archivePath, packagePath string) (*ParityReport, error) {
	archiveEntries, err := dist.ListArchive(archivePath)
	if err != nil {
		return nil, err
	}
	pkgEntries, err := dist.ListPackage(packagePath)
	if err != nil {
		return nil, err
	}

	archiveSet := make(map[string]bool)
	for _, e := range dist.StripArchivePrefix(archiveEntries) {
		archiveSet[e] = true
	}
	pkgSet := make(map[string]bool)
	for _, e := range pkgEntries {
		if e != dist.MetadataFileName {
			pkgSet[e] = true
		}
	}

	report := &ParityReport{}
	for _, e := range dist.StripArchivePrefix(archiveEntries) {
		if !pkgSet[e] {
			report.MissingFromPackage = append(report.MissingFromPackage, e)
		}
	}
	for _, e := range pkgEntries {
		if e == dist.MetadataFileName {
			continue
		}
		if !archiveSet[e] {
			report.ExtraInPackage = append(report.ExtraInPackage, e)
		}
	}

	for _, e := range report.MissingFromPackage {
		slog.Warn("Manifest parity: file missing from binary package", slog.String("file", e))
	}
	for _, e := range report.ExtraInPackage {
		slog.Warn("Manifest parity: file only in binary package", slog.String("file", e))
	}
	return report, nil
}
