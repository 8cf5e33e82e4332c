// Package paths turns web-facing paths into store-relative paths and resolves
// them to absolute filesystem paths without ever leaving the store root.
package paths

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/maneesh/blogmedia/internal/mediaerr"
)

// Resolver binds a storage root to the web mount point that serves it.
type Resolver struct {
	Root  string // Absolute filesystem root
	Mount string // Public mount point, e.g. "/uploads"
}

// NewResolver returns a resolver with a cleaned absolute root.
func NewResolver(root, mount string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Resolver{Root: abs, Mount: cleanMount(mount)}, nil
}

// Relative normalizes input against the resolver's mount.
func (r *Resolver) Relative(input string) (string, error) {
	return NormalizeToRelative(input, r.Mount)
}

// Absolute normalizes input and resolves it under the resolver's root.
func (r *Resolver) Absolute(input string) (rel, abs string, err error) {
	rel, err = r.Relative(input)
	if err != nil {
		return "", "", err
	}
	abs, err = ResolveAbsolute(r.Root, rel)
	if err != nil {
		return "", "", err
	}
	return rel, abs, nil
}

// WebPath returns the public path for a store-relative path.
func (r *Resolver) WebPath(rel string) string {
	return r.Mount + "/" + strings.TrimPrefix(filepath.ToSlash(rel), "/")
}

// NormalizeToRelative accepts a full URL, a web path under mount, or an
// already relative path and returns the slash-separated store-relative path.
func NormalizeToRelative(input, mount string) (string, error) {
	const op = "normalize"

	p := strings.TrimSpace(input)
	if p == "" {
		return "", mediaerr.BadPath(op, input, "empty path")
	}
	if strings.ContainsRune(p, 0) {
		return "", mediaerr.BadPath(op, input, "path contains NUL byte")
	}

	if u, err := url.Parse(p); err == nil && u.Scheme != "" && u.Host != "" {
		p = u.Path
	} else {
		unescaped, err := url.PathUnescape(p)
		if err != nil {
			return "", mediaerr.BadPath(op, input, "invalid escape sequence")
		}
		p = unescaped
	}
	if strings.ContainsRune(p, 0) {
		return "", mediaerr.BadPath(op, input, "path contains NUL byte")
	}
	p = strings.ReplaceAll(p, `\`, "/")

	mount = cleanMount(mount)
	switch {
	case mount != "" && (p == mount || strings.HasPrefix(p, mount+"/")):
		p = strings.TrimPrefix(p, mount)
	case strings.HasPrefix(p, "/"), filepath.VolumeName(p) != "":
		return "", mediaerr.BadPath(op, input, "absolute path outside the public mount")
	}

	segments := strings.Split(p, "/")
	kept := segments[:0]
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			return "", mediaerr.BadPath(op, input, "path contains parent segment")
		}
		kept = append(kept, seg)
	}
	if len(kept) == 0 {
		return "", mediaerr.BadPath(op, input, "path resolves to the store root")
	}
	return strings.Join(kept, "/"), nil
}

// ResolveAbsolute joins rel onto root and verifies the result stays under root,
// following symlinks when the path already exists.
func ResolveAbsolute(root, rel string) (string, error) {
	const op = "resolve"

	if rel == "" || strings.ContainsRune(rel, 0) {
		return "", mediaerr.BadPath(op, rel, "empty or invalid relative path")
	}
	slashed := filepath.ToSlash(rel)
	if strings.HasPrefix(slashed, "/") || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", mediaerr.BadPath(op, rel, "relative path is absolute")
	}
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", mediaerr.BadPath(op, rel, "path contains parent segment")
		}
	}

	cleanRoot := filepath.Clean(root)
	abs := filepath.Join(cleanRoot, filepath.FromSlash(slashed))
	if !within(cleanRoot, abs) {
		return "", mediaerr.BadPath(op, rel, "path escapes the store root")
	}

	realRoot, err := filepath.EvalSymlinks(cleanRoot)
	if err != nil {
		// Root not created yet; nothing under it can be a symlink.
		return abs, nil
	}
	realPath, err := evalExisting(abs)
	if err != nil {
		return "", mediaerr.Internal(op, rel, err)
	}
	if !within(realRoot, realPath) {
		return "", mediaerr.BadPath(op, rel, "path escapes the store root through a symlink")
	}
	return abs, nil
}

// evalExisting resolves symlinks on the longest existing prefix of p and
// re-appends the missing tail.
func evalExisting(p string) (string, error) {
	var tail []string
	cur := p
	for {
		real, err := filepath.EvalSymlinks(cur)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				real = filepath.Join(real, tail[i])
			}
			return real, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		tail = append(tail, filepath.Base(cur))
		cur = parent
	}
}

func within(root, p string) bool {
	if p == root {
		return true
	}
	return strings.HasPrefix(p, strings.TrimSuffix(root, string(filepath.Separator))+string(filepath.Separator))
}

func cleanMount(mount string) string {
	mount = strings.TrimSpace(mount)
	if mount == "" || mount == "/" {
		return ""
	}
	return "/" + strings.Trim(mount, "/")
}
