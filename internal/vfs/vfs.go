// Package vfs implements the jailed virtual filesystem (C1): a swappable
// disk- or memory-backed store with path-traversal and symlink-escape
// defenses, plus the readSync path the Module Resolver needs.
package vfs

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/kernelerr"
)

// VFS is the jailed file store shared by every kernel component that
// touches disk. Both constructors satisfy the same contract (§4.1).
type VFS struct {
	fs billy.Filesystem
	// hostRoot is the canonical (symlink-resolved) host directory the jail
	// is rooted at. Empty for the in-memory backend, which has no host
	// symlinks to escape through.
	hostRoot string
}

// NewDisk roots the jail at root on the host filesystem, resolving root
// itself through any symlinks so containment checks compare like with
// like (§4.1.2).
func NewDisk(root string) (*VFS, error) {
	canonical, err := filepath.EvalSymlinks(root)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(root, 0o755); mkErr != nil {
				return nil, kernelerr.Wrap(kernelerr.InternalSandboxErr, mkErr, "create vfs root %s", root)
			}
			canonical, err = filepath.EvalSymlinks(root)
		}
		if err != nil {
			return nil, kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "resolve vfs root %s", root)
		}
	}
	return &VFS{fs: osfs.New(canonical), hostRoot: canonical}, nil
}

// NewMemory returns an ephemeral, in-process jail for tests and
// throwaway runtimes.
func NewMemory() *VFS {
	return &VFS{fs: memfs.New()}
}

// canonicalize collapses ".."/"." and rejects any path that climbs above
// the jail root, implementing I1 (§3) and the normalization rules of
// §4.1.1–3. A leading "/" is treated as jail-root-relative, not
// host-root-relative, and stripped before cleaning so "/../x" is judged
// by the same escape check as "../x" rather than being silently
// absorbed. Symlink escapes (§4.1.4) are checked separately in
// resolveHost.
func canonicalize(p string) (string, error) {
	normalized := strings.ReplaceAll(p, "\\", "/")
	normalized = strings.TrimPrefix(normalized, "/")
	cleaned := path.Clean(normalized)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", kernelerr.New(kernelerr.SecurityViolation, "path %q escapes the jail root", p)
	}
	if cleaned == "." {
		cleaned = ""
	}
	return cleaned, nil
}

// resolveHost re-checks containment after symlink resolution for the
// disk backend (§4.1.4, §9 "symlink safety"). A path that does not yet
// exist (the common case for a fresh write) cannot be symlink-resolved
// and is accepted on the syntactic check alone.
func (v *VFS) resolveHost(rel string) error {
	if v.hostRoot == "" {
		return nil
	}
	full := filepath.Join(v.hostRoot, filepath.FromSlash(rel))
	resolved, err := filepath.EvalSymlinks(full)
	if err != nil {
		return nil // does not exist yet; nothing to escape through
	}
	if resolved != v.hostRoot && !strings.HasPrefix(resolved, v.hostRoot+string(os.PathSeparator)) {
		return kernelerr.New(kernelerr.SecurityViolation, "path %q escapes jail root via symlink", rel)
	}
	return nil
}

// ReadFile is the async read path: every caller except the Module
// Resolver should use this one (§4.1, final paragraph).
func (v *VFS) ReadFile(ctx context.Context, p string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return v.readBlocking(p)
}

// ReadSync exists solely for the Module Resolver, which cannot suspend
// across the guest/host boundary mid-call (§4.1).
func (v *VFS) ReadSync(p string) (string, error) {
	return v.readBlocking(p)
}

func (v *VFS) readBlocking(p string) (string, error) {
	rel, err := canonicalize(p)
	if err != nil {
		return "", err
	}
	if err := v.resolveHost(rel); err != nil {
		return "", err
	}
	f, err := v.fs.Open(rel)
	if err != nil {
		if os.IsNotExist(err) {
			return "", kernelerr.New(kernelerr.NotFound, "%s", p)
		}
		return "", kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "open %s", p)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return "", kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "read %s", p)
	}
	return string(data), nil
}

// WriteFile creates intermediate directories as needed (§4.1.5).
func (v *VFS) WriteFile(ctx context.Context, p string, content string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := canonicalize(p)
	if err != nil {
		return err
	}
	if err := v.resolveHost(rel); err != nil {
		return err
	}
	if dir := path.Dir(rel); dir != "." && dir != "" {
		if err := v.fs.MkdirAll(dir, 0o755); err != nil {
			return kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "mkdir %s", dir)
		}
	}
	f, err := v.fs.Create(rel)
	if err != nil {
		return kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "create %s", p)
	}
	defer f.Close()
	if _, err := f.Write([]byte(content)); err != nil {
		return kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "write %s", p)
	}
	return nil
}

// Remove is silent on absence (§4.1 contract).
func (v *VFS) Remove(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, err := canonicalize(p)
	if err != nil {
		return err
	}
	if err := v.resolveHost(rel); err != nil {
		return err
	}
	if err := util.RemoveAll(v.fs, rel); err != nil && !os.IsNotExist(err) {
		return kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "remove %s", p)
	}
	return nil
}

// Exists never surfaces an error: any failure to stat is treated as
// "does not exist" for the caller's purposes.
func (v *VFS) Exists(ctx context.Context, p string) bool {
	if ctx.Err() != nil {
		return false
	}
	rel, err := canonicalize(p)
	if err != nil {
		return false
	}
	if err := v.resolveHost(rel); err != nil {
		return false
	}
	_, err = v.fs.Stat(rel)
	return err == nil
}

// ListFiles returns paths relative to the jail root. When recursive is
// false, only the immediate children of dir are returned.
func (v *VFS) ListFiles(ctx context.Context, dir string, recursive bool) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel, err := canonicalize(dir)
	if err != nil {
		return nil, err
	}
	if err := v.resolveHost(rel); err != nil {
		return nil, err
	}

	var out []string
	var walk func(d string) error
	walk = func(d string) error {
		entries, err := v.fs.ReadDir(d)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			childRel := path.Join(d, e.Name())
			if e.IsDir() {
				if recursive {
					if err := walk(childRel); err != nil {
						return err
					}
				}
				continue
			}
			out = append(out, childRel)
		}
		return nil
	}
	if err := walk(rel); err != nil {
		return nil, kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "list %s", dir)
	}
	sort.Strings(out)
	return out, nil
}

// Root reports the canonical host root, or "" for the in-memory backend.
func (v *VFS) Root() string { return v.hostRoot }

// Billy exposes the underlying billy.Filesystem so the Git backend (C2)
// can open a worktree against the same rooted store the jail protects —
// go-git itself is billy-native, so C1 and C2 share one filesystem type
// rather than C2 re-deriving its own root handling.
func (v *VFS) Billy() billy.Filesystem { return v.fs }

// Rename moves oldPath to newPath within the jail, used by callers that
// need write-to-temp-then-rename atomicity (e.g. the registry's meta.json
// sync, §4.3).
func (v *VFS) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	oldRel, err := canonicalize(oldPath)
	if err != nil {
		return err
	}
	newRel, err := canonicalize(newPath)
	if err != nil {
		return err
	}
	if err := v.resolveHost(oldRel); err != nil {
		return err
	}
	if err := v.fs.Rename(oldRel, newRel); err != nil {
		return kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "rename %s -> %s", oldPath, newPath)
	}
	return nil
}
