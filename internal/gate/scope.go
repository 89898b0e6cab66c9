package gate

import (
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/HendryAvila/intentgate/internal/workspace"
)

// hasGlobMeta reports whether a scope entry should match as a glob.
func hasGlobMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[]")
}

// InScope reports whether path falls inside any owned-scope entry.
// Glob entries match gitignore-style against the normalized relative
// path; literal entries are prefix matches on the absolute path, exact or
// separator-prefixed, so "src" owns "src/foo.ts" but never "srctool.ts".
func InScope(ws *workspace.Workspace, scope []string, path string) bool {
	norm := ws.Normalize(path)
	abs := ws.Abs(path)

	for _, entry := range scope {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if hasGlobMeta(entry) {
			if matchGlob(entry, norm) {
				return true
			}
			continue
		}
		if matchPrefix(ws, entry, abs) {
			return true
		}
	}
	return false
}

func matchGlob(pattern, norm string) bool {
	pattern = strings.TrimPrefix(strings.ReplaceAll(pattern, "\\", "/"), "./")
	if ok, err := doublestar.Match(pattern, norm); err == nil && ok {
		return true
	}
	// Bare patterns match at any depth, as gitignore does.
	if !strings.Contains(pattern, "/") {
		if ok, err := doublestar.Match("**/"+pattern, norm); err == nil && ok {
			return true
		}
	}
	return false
}

func matchPrefix(ws *workspace.Workspace, entry, abs string) bool {
	entryAbs := ws.Abs(entry)
	if abs == entryAbs {
		return true
	}
	return strings.HasPrefix(abs, entryAbs+string(filepath.Separator)) ||
		strings.HasPrefix(filepath.ToSlash(abs), filepath.ToSlash(entryAbs)+"/")
}
