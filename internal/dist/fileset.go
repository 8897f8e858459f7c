package dist

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"git.home.luguber.info/inful/relforge/internal/config"
)

// SelectFiles walks the checkout tree and returns the sorted, slash-separated
// relative paths selected by the variant. The .git directory is never
// included. Include patterns default to the whole tree; Exclude patterns are
// applied afterwards.
func SelectFiles(treeDir string, variant config.Variant) ([]string, error) {
	var files []string
	err := filepath.WalkDir(treeDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, rerr := filepath.Rel(treeDir, p)
		if rerr != nil {
			return rerr
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !matchAny(variant.Include, rel, true) {
			return nil
		}
		if matchAny(variant.Exclude, rel, false) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk tree %s: %w", treeDir, err)
	}
	sort.Strings(files)
	return files, nil
}

// matchAny reports whether rel matches any of the patterns. emptyMeans is
// returned for an empty pattern list (whole tree for includes, nothing for
// excludes).
func matchAny(patterns []string, rel string, emptyMeans bool) bool {
	if len(patterns) == 0 {
		return emptyMeans
	}
	for _, pat := range patterns {
		if matchGlob(pat, rel) {
			return true
		}
	}
	return false
}

// matchGlob matches a slash-separated path against a glob pattern where "**"
// spans any number of path segments and other segments use path.Match rules.
// A pattern naming a directory (no wildcards, proper prefix of rel) matches
// everything beneath it.
func matchGlob(pattern, rel string) bool {
	pattern = strings.Trim(pattern, "/")
	if pattern == "" {
		return false
	}
	if !strings.ContainsAny(pattern, "*?[") {
		return rel == pattern || strings.HasPrefix(rel, pattern+"/")
	}
	return matchSegments(strings.Split(pattern, "/"), strings.Split(rel, "/"))
}

func matchSegments(pat, segs []string) bool {
	if len(pat) == 0 {
		return len(segs) == 0
	}
	if pat[0] == "**" {
		// ** absorbs zero or more leading segments.
		for i := 0; i <= len(segs); i++ {
			if matchSegments(pat[1:], segs[i:]) {
				return true
			}
		}
		return false
	}
	if len(segs) == 0 {
		return false
	}
	ok, err := path.Match(pat[0], segs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegments(pat[1:], segs[1:])
}
