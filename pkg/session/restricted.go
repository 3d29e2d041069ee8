package session

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultRestrictedPatterns lists the privileged pages an agent can never be
// injected into.
var DefaultRestrictedPatterns = []string{
	"chrome://*",
	"chrome-extension://*",
	"chrome-search://*",
	"edge://*",
	"about:*",
	"devtools://*",
	"view-source:*",
}

// Denylist matches page URLs against restricted glob patterns.
type Denylist struct {
	patterns []string
	globs    []glob.Glob
}

// NewDenylist compiles patterns. With no patterns the defaults are used.
func NewDenylist(patterns ...string) (*Denylist, error) {
	if len(patterns) == 0 {
		patterns = DefaultRestrictedPatterns
	}

	d := &Denylist{}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(lowerScheme(pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid restricted pattern '%s': %w", pattern, err)
		}
		d.patterns = append(d.patterns, pattern)
		d.globs = append(d.globs, g)
	}
	return d, nil
}

// Match returns the first pattern matching url. An empty URL is always
// restricted since the page cannot be identified.
func (d *Denylist) Match(url string) (string, bool) {
	if strings.TrimSpace(url) == "" {
		return "<empty url>", true
	}
	target := lowerScheme(url)
	for i, g := range d.globs {
		if g.Match(target) {
			return d.patterns[i], true
		}
	}
	return "", false
}

// Patterns returns the compiled patterns.
func (d *Denylist) Patterns() []string {
	out := make([]string, len(d.patterns))
	copy(out, d.patterns)
	return out
}

// lowerScheme lowercases the scheme of url, leaving the rest intact.
func lowerScheme(url string) string {
	i := strings.Index(url, ":")
	if i < 0 {
		return url
	}
	return strings.ToLower(url[:i]) + url[i:]
}
