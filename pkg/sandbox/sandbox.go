package sandbox

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"atelier/pkg/api"
)

// Validator authorizes file-system paths against a fixed whitelist of root
// directories. The root set is computed once at construction and never
// changes for the process lifetime.
type Validator struct {
	roots []string // canonical absolute allowed roots
}

// New builds a Validator whose allowed roots are the configured output
// directory, the current working directory and the user home directory.
// Roots that cannot be resolved are skipped with a warning.
func New(outputDir string) *Validator {
	v := &Validator{}

	candidates := []string{outputDir}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, cwd)
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, home)
	}

	for _, c := range candidates {
		if c == "" {
			continue
		}
		abs, err := filepath.Abs(c)
		if err != nil {
			slog.Warn("Skipping unresolvable sandbox root", "error", err)
			continue
		}
		v.roots = append(v.roots, canonicalRoot(abs))
	}

	return v
}

// canonicalRoot resolves symlinks in a root so containment checks compare
// canonical forms on both sides (tmp dirs are often symlinked).
func canonicalRoot(abs string) string {
	abs = filepath.Clean(abs)
	if resolved, err := resolveSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// NewWithRoots builds a Validator from an explicit root list. Used by tests
// and by callers that need a tighter sandbox than the default triple.
func NewWithRoots(roots ...string) *Validator {
	v := &Validator{}
	for _, r := range roots {
		abs, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		v.roots = append(v.roots, canonicalRoot(abs))
	}
	return v
}

// deniedErr is deliberately generic: it must never echo the allowed roots or
// any directory structure of the rejected input back to the caller.
func deniedErr(op string) *api.Error {
	return api.NewError(api.KindPathDenied, op, "access to the requested path is not allowed")
}

// Resolve sanitizes a caller-supplied path and returns its canonical
// absolute form, or an api.KindPathDenied error.
//
// The traversal check runs on the raw string before any normalization:
// cleaning first and checking after would let inputs that only become
// innocuous-looking post-normalization slip through. The containment check
// is structural (filepath.Rel), not a string-prefix test, so a sibling
// directory like /data/images-evil can never pass for a root /data/images.
func (v *Validator) Resolve(raw string) (string, error) {
	const op = "resolve_path"

	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", api.NewError(api.KindInvalidInput, op, "path must not be empty")
	}
	if strings.ContainsRune(trimmed, '\x00') {
		return "", deniedErr(op)
	}
	if containsParentSegment(trimmed) {
		return "", deniedErr(op)
	}

	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", deniedErr(op)
	}
	abs = filepath.Clean(abs)

	// If the path (or an ancestor) exists as a symlink, resolve it so the
	// containment check applies to the real location, not the link.
	if resolved, err := resolveSymlinks(abs); err == nil {
		abs = resolved
	}

	for _, root := range v.roots {
		if within(root, abs) {
			return abs, nil
		}
	}
	return "", deniedErr(op)
}

// containsParentSegment reports whether the unnormalized input contains a
// ".." path segment, under either separator convention.
func containsParentSegment(p string) bool {
	for _, sep := range []string{"/", "\\"} {
		for _, seg := range strings.Split(p, sep) {
			if seg == ".." {
				return true
			}
		}
	}
	return false
}

// resolveSymlinks canonicalizes the longest existing prefix of the path and
// reattaches the non-existing remainder, so not-yet-created output files
// still validate against their real parent directory.
func resolveSymlinks(abs string) (string, error) {
	remainder := ""
	current := abs
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return abs, nil
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

// within reports whether p is root itself or a strict descendant of root.
func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	rel = filepath.Clean(rel)
	if rel == "." {
		return true
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// imageExts is the fixed extension whitelist for files accepted as image
// inputs (sources and references for edits).
var imageExts = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

// IsSupportedImageFile checks the file extension against the fixed
// whitelist, case-insensitively. Pure, no I/O.
func (v *Validator) IsSupportedImageFile(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// Roots returns a copy of the allowed root set. Intended for logging at
// startup only; never include these in caller-facing messages.
func (v *Validator) Roots() []string {
	out := make([]string, len(v.roots))
	copy(out, v.roots)
	return out
}
