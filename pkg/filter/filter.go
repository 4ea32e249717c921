// Package filter decides which relative paths participate in
// synchronization.
//
// A Filter is compiled once from an ordered list of gitignore-style rules
// and is immutable afterwards: compilation is a pure step producing one
// regular expression per rule, and matching never mutates the compiled
// state, so a Filter is safe for concurrent use.
package filter

import (
	"fmt"
	"regexp"
	"strings"
)

// Filter is an immutable compiled rule set.
type Filter struct {
	rules []rule
}

type rule struct {
	pattern string
	negate  bool
	re      *regexp.Regexp
}

// DefaultRules returns the built-in exclusions covering common VCS, IDE and
// build-output directories. Callers typically prepend these to the share's
// own rules so user rules can override them (last match wins).
func DefaultRules() []string {
	return []string{
		".git/",
		".svn/",
		".hg/",
		".bzr/",
		"CVS/",
		".idea/",
		".vscode/",
		"node_modules/",
		"__pycache__/",
		"*.pyc",
		"*.swp",
		"*~",
		".DS_Store",
		"Thumbs.db",
	}
}

// Compile builds a Filter from an ordered list of rules.
//
// Rule semantics (evaluated per relative, forward-slash path):
//   - Rules are evaluated in order and the last matching rule wins.
//   - A leading "!" negates: a matching path is un-ignored.
//   - A trailing "/" matches the directory and everything under it.
//   - "*" matches any run of characters except "/"; "?" matches a single
//     character except "/"; a leading "**/" matches any depth prefix
//     (including none); a trailing "/**" matches any depth suffix.
//   - A rule is anchored to the share root when it starts with "/" or
//     contains an interior "/"; otherwise it matches its name at any depth.
//   - Blank lines and lines starting with "#" are skipped.
func Compile(rules []string) (*Filter, error) {
	f := &Filter{}
	for _, raw := range rules {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		r := rule{pattern: line}
		if strings.HasPrefix(line, "!") {
			r.negate = true
			line = line[1:]
			if line == "" {
				continue
			}
		}

		re, err := compilePattern(line)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", r.pattern, err)
		}
		r.re = re
		f.rules = append(f.rules, r)
	}
	return f, nil
}

// compilePattern translates one gitignore-style pattern into an anchored
// regular expression over forward-slash relative paths.
func compilePattern(p string) (*regexp.Regexp, error) {
	// A trailing "/" marks a directory rule; the generated expression
	// already matches everything beneath a matched name, so the marker
	// only needs stripping.
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return nil, fmt.Errorf("empty pattern")
	}

	anchored := false
	if strings.HasPrefix(p, "/") {
		anchored = true
		p = p[1:]
	}
	if strings.HasPrefix(p, "**/") {
		// "**/" already expresses "any depth prefix"; the expression below
		// encodes it directly, so the pattern is treated as anchored.
		anchored = true
	}
	if strings.Contains(p, "/") {
		// Interior slash anchors the pattern to the share root.
		anchored = true
	}

	var sb strings.Builder
	sb.WriteString("^")
	if !anchored {
		sb.WriteString(`(.*/)?`)
	}

	for i := 0; i < len(p); {
		switch {
		case strings.HasPrefix(p[i:], "**/"):
			sb.WriteString(`(.*/)?`)
			i += 3
		case strings.HasPrefix(p[i:], "/**"):
			sb.WriteString(`/.*`)
			i += 3
		case strings.HasPrefix(p[i:], "**"):
			sb.WriteString(`.*`)
			i += 2
		case p[i] == '*':
			sb.WriteString(`[^/]*`)
			i++
		case p[i] == '?':
			sb.WriteString(`[^/]`)
			i++
		default:
			sb.WriteString(regexp.QuoteMeta(string(p[i])))
			i++
		}
	}

	// A matched name also covers everything beneath it, so that a rule
	// matching a directory excludes its entire subtree.
	sb.WriteString(`(/.*)?$`)

	return regexp.Compile(sb.String())
}

// Ignored reports whether the given share-relative path is excluded from
// synchronization. The path is normalized to forward slashes and stripped
// of any leading "/" or "./" before matching.
func (f *Filter) Ignored(path string) bool {
	path = Normalize(path)
	ignored := false
	for _, r := range f.rules {
		if r.re.MatchString(path) {
			ignored = !r.negate
		}
	}
	return ignored
}

// Apply returns the candidate paths that are not ignored, preserving their
// order.
func (f *Filter) Apply(paths []string) []string {
	kept := make([]string, 0, len(paths))
	for _, p := range paths {
		if !f.Ignored(p) {
			kept = append(kept, p)
		}
	}
	return kept
}

// Normalize converts a path to the canonical matching form: forward
// slashes, no leading "/" or "./".
func Normalize(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	path = strings.TrimPrefix(path, "./")
	path = strings.TrimPrefix(path, "/")
	return path
}
