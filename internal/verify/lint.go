package verify

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"git.home.luguber.info/inful/relforge/internal/dist"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9._-]*$`)
var revisionPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// LintError is a quality-gate error: the package metadata violates the strict
// checks. Any single violation fails the run.
type LintError struct {
	Violations []string
}

func (e *LintError) Error() string {
	return fmt.Sprintf("package metadata lint failed: %s", strings.Join(e.Violations, "; "))
}

// LintPackage runs the strict metadata linter against a binary package.
// expectedName and expectedVariant pin the metadata to the build that
// produced it.
func LintPackage(packagePath, expectedName, expectedVariant string) error {
	var violations []string

	info, err := os.Stat(packagePath)
	if err != nil {
		return fmt.Errorf("cannot stat package: %w", err)
	}
	if info.Size() == 0 {
		violations = append(violations, "package file is empty")
	}

	meta, err := dist.ReadPackageMetadata(packagePath)
	if err != nil {
		return &LintError{Violations: append(violations, err.Error())}
	}

	if !namePattern.MatchString(meta.Name) {
		violations = append(violations, fmt.Sprintf("Name %q is not a valid distribution name", meta.Name))
	}
	if meta.Name != expectedName {
		violations = append(violations, fmt.Sprintf("Name %q does not match project %q", meta.Name, expectedName))
	}
	if meta.Version == "" || strings.ContainsAny(meta.Version, " \t") {
		violations = append(violations, fmt.Sprintf("Version %q is malformed", meta.Version))
	}
	if meta.Variant != expectedVariant {
		violations = append(violations, fmt.Sprintf("Variant %q does not match job variant %q", meta.Variant, expectedVariant))
	}
	if !revisionPattern.MatchString(meta.Revision) {
		violations = append(violations, fmt.Sprintf("Revision %q is not a full commit hash", meta.Revision))
	}

	entries, err := dist.ListPackage(packagePath)
	if err != nil {
		return fmt.Errorf("cannot list package: %w", err)
	}
	metadataCount := 0
	for _, e := range entries {
		if e == dist.MetadataFileName {
			metadataCount++
		}
		if strings.HasPrefix(e, "/") || strings.Contains(e, "..") {
			violations = append(violations, fmt.Sprintf("unsafe entry path %q", e))
		}
	}
	if metadataCount != 1 {
		violations = append(violations, fmt.Sprintf("expected exactly one %s entry, found %d", dist.MetadataFileName, metadataCount))
	}

	if len(violations) > 0 {
		return &LintError{Violations: violations}
	}
	return nil
}
