package watcher

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// defaultPatterns are always applied, on top of any user rules from
// .syncignore (§4.8).
var defaultPatterns = []string{
	".git/**",
	".DS_Store",
	"Thumbs.db",
	"*.tmp",
	"*.swp",
	".syncagent/**",
}

// IgnoreSet matches paths against a gitignore-like pattern list. Patterns
// ending in "/" match directories only; "**" matches any depth; anything
// else matches against either the path relative to the sync root or the
// path's basename. There is no third-party gitignore-matcher import in the
// retrieved pack with actual call-site usage (only indirect go.mod hits
// with no consuming code to ground an API on), so this is deliberately a
// small stdlib-based matcher (`path/filepath.Match` plus manual "**"
// handling) rather than a fabricated dependency.
type IgnoreSet struct {
	patterns []pattern
}

type pattern struct {
	raw     string
	dirOnly bool
}

// LoadIgnoreSet builds a matcher from the built-in defaults plus the rules
// in syncignorePath (typically "<syncroot>/.syncignore"), if present.
func LoadIgnoreSet(syncignorePath string) (*IgnoreSet, error) {
	set := &IgnoreSet{}
	for _, p := range defaultPatterns {
		set.add(p)
	}

	f, err := os.Open(syncignorePath)
	if os.IsNotExist(err) {
		return set, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		set.add(line)
	}
	return set, scanner.Err()
}

func (s *IgnoreSet) add(raw string) {
	p := pattern{raw: raw}
	if strings.HasSuffix(raw, "/") {
		p.dirOnly = true
		p.raw = strings.TrimSuffix(raw, "/")
	}
	s.patterns = append(s.patterns, p)
}

// Match reports whether relPath (slash-separated, relative to the sync
// root) should be ignored. isDir lets directory-only patterns apply.
func (s *IgnoreSet) Match(relPath string, isDir bool) bool {
	relPath = filepath.ToSlash(relPath)
	base := relPath
	if i := strings.LastIndex(relPath, "/"); i >= 0 {
		base = relPath[i+1:]
	}

	for _, p := range s.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		if matchPattern(p.raw, relPath, base) {
			return true
		}
	}
	return false
}

func matchPattern(pat, relPath, base string) bool {
	if strings.Contains(pat, "**") {
		return matchDoubleStar(pat, relPath)
	}
	if strings.Contains(pat, "/") {
		ok, err := filepath.Match(pat, relPath)
		return err == nil && ok
	}
	ok, err := filepath.Match(pat, base)
	return err == nil && ok
}

// matchDoubleStar handles the subset of "**" usage §4.8 needs: a "**"
// segment matches zero or more path segments. Patterns are split on "**"
// and each side is matched against a prefix/suffix of the path. A pattern
// with no leading "/" (the only kind used here) is rootless, like
// .gitignore: it's tried anchored at the full path and at every
// deeper segment boundary, so "build/**" ignores both "build/x" and
// "nested/build/x".
func matchDoubleStar(pat, relPath string) bool {
	idx := strings.Index(pat, "**")
	prefix := strings.TrimSuffix(pat[:idx], "/")
	suffix := strings.TrimPrefix(pat[idx+2:], "/")

	segments := strings.Split(relPath, "/")
	for start := 0; start < len(segments); start++ {
		candidate := strings.Join(segments[start:], "/")
		if matchAnchoredDoubleStar(prefix, suffix, candidate) {
			return true
		}
	}
	return false
}

func matchAnchoredDoubleStar(prefix, suffix, candidate string) bool {
	if prefix != "" && !(candidate == prefix || strings.HasPrefix(candidate, prefix+"/")) {
		return false
	}
	if suffix == "" {
		return true
	}
	if candidate == suffix || strings.HasSuffix(candidate, "/"+suffix) {
		return true
	}
	ok, err := filepath.Match(suffix, filepath.Base(candidate))
	return err == nil && ok
}
