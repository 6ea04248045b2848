package store

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// ignoreMatcher decides which project paths a checkpoint tracks, using gitignore
// semantics for the configured patterns and the project's own .gitignore.
type ignoreMatcher struct {
	matcher gitignore.Matcher
}

func newIgnoreMatcher(projectPath string, patterns []string, storeDirName string) (*ignoreMatcher, error) {
	var ps []gitignore.Pattern
	for _, p := range append([]string{storeDirName}, patterns...) {
		if p = strings.TrimSpace(p); p != "" {
			ps = append(ps, gitignore.ParsePattern(p, nil))
		}
	}

	projectPatterns, err := readGitignore(filepath.Join(projectPath, ".gitignore"))
	if err != nil {
		return nil, err
	}
	ps = append(ps, projectPatterns...)

	return &ignoreMatcher{matcher: gitignore.NewMatcher(ps)}, nil
}

func readGitignore(path string) ([]gitignore.Pattern, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var ps []gitignore.Pattern
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ps = append(ps, gitignore.ParsePattern(line, nil))
	}
	return ps, scanner.Err()
}

// ignored reports whether a slash-separated project-relative path is excluded
func (m *ignoreMatcher) ignored(relPath string, isDir bool) bool {
	return m.matcher.Match(strings.Split(relPath, "/"), isDir)
}
