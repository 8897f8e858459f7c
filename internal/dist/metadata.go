package dist

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// MetadataFileName is the package metadata entry at the root of every binary
// package. It is generated at build time and is the one artifact entry
// excluded from manifest parity.
const MetadataFileName = "METADATA"

// VersionFileName is the version marker entry present in both artifact
// forms; install checks read it after extraction.
const VersionFileName = "VERSION"

// Metadata is the binary package's embedded metadata block.
type Metadata struct {
	Name     string
	Version  string
	Variant  string
	Revision string
	Built    time.Time
}

// Encode renders the metadata in "Key: value" line format with stable key order.
func (m Metadata) Encode() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\n", m.Name)
	fmt.Fprintf(&b, "Version: %s\n", m.Version)
	fmt.Fprintf(&b, "Variant: %s\n", m.Variant)
	fmt.Fprintf(&b, "Revision: %s\n", m.Revision)
	fmt.Fprintf(&b, "Built: %s\n", m.Built.UTC().Format(time.RFC3339))
	return []byte(b.String())
}

// ParseMetadata parses an Encode()-format block. Unknown keys are rejected so
// drift in the generator surfaces in the metadata lint.
func ParseMetadata(data []byte) (Metadata, error) {
	var m Metadata
	seen := map[string]bool{}
	for i, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ": ")
		if !ok {
			return m, fmt.Errorf("metadata line %d: malformed %q", i+1, line)
		}
		if seen[key] {
			return m, fmt.Errorf("metadata line %d: duplicate key %q", i+1, key)
		}
		seen[key] = true
		switch key {
		case "Name":
			m.Name = value
		case "Version":
			m.Version = value
		case "Variant":
			m.Variant = value
		case "Revision":
			m.Revision = value
		case "Built":
			t, err := time.Parse(time.RFC3339, value)
			if err != nil {
				return m, fmt.Errorf("metadata line %d: bad Built timestamp: %w", i+1, err)
			}
			m.Built = t
		default:
			return m, fmt.Errorf("metadata line %d: unknown key %q", i+1, key)
		}
	}
	var missing []string
	for key, present := range map[string]bool{
		"Name": m.Name != "", "Version": m.Version != "",
		"Variant": m.Variant != "", "Revision": m.Revision != "",
		"Built": !m.Built.IsZero(),
	} {
		if !present {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return m, fmt.Errorf("metadata missing required keys: %s", strings.Join(missing, ", "))
	}
	return m, nil
}

// ComputeVersion derives the package version from the built revision. Release
// tag refs (vX.Y.Z...) become the tag without its "v" prefix; anything else is
// the project base version plus a local revision marker.
func ComputeVersion(baseVersion, ref, shortRevision string) string {
	if strings.HasPrefix(ref, "v") && len(ref) > 1 && ref[1] >= '0' && ref[1] <= '9' {
		return ref[1:]
	}
	return fmt.Sprintf("%s+g%s", baseVersion, shortRevision)
}
