// Package resolver implements C6: the synchronous inter-module require()
// a composing tool uses to pull in library tools, scoped to a single
// execution's cache.
package resolver

import (
	"context"
	"path"
	"strings"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/bridge"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/kernelerr"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/sandbox"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/vfs"
)

// defaultExtension is appended when an id has no extension (§4.6).
const defaultExtension = ".ts"

// Resolver is constructed fresh per exec_tool call: its cache must not
// persist across executions (§4.6 Caching).
type Resolver struct {
	vfs              *vfs.VFS
	host             *sandbox.Host
	allowedWriteDirs []string
	allowedFetchURLs []string
	extensions       map[string]any
	cache            map[string]map[string]any
}

func New(v *vfs.VFS, host *sandbox.Host, allowedWriteDirs, allowedFetchURLs []string, extensions map[string]any) *Resolver {
	return &Resolver{
		vfs:              v,
		host:             host,
		allowedWriteDirs: allowedWriteDirs,
		allowedFetchURLs: allowedFetchURLs,
		extensions:       extensions,
		cache:            map[string]map[string]any{},
	}
}

// Require resolves id relative to fromDir (the requiring module's own
// directory) and returns its exports. The cache entry is populated with
// an empty map *before* the target's body runs, so a dependency cycle
// observes the partially-built exports object rather than recursing
// forever (§4.6, §9).
func (r *Resolver) Require(id, fromDir string) (map[string]any, error) {
	resolved := resolvePath(id, fromDir)

	if exports, ok := r.cache[resolved]; ok {
		return exports, nil
	}

	exports := map[string]any{}
	r.cache[resolved] = exports

	source, err := r.vfs.ReadSync(resolved)
	if err != nil {
		return nil, kernelerr.New(kernelerr.GuestThrew, "module %s: %v", resolved, err)
	}

	moduleDir := path.Dir(resolved)
	br := bridge.New(r.vfs, r.allowedWriteDirs, r.allowedFetchURLs, func(childID string) (map[string]any, error) {
		return r.Require(childID, moduleDir)
	}, r.extensions)

	built, err := r.host.EvalModule(context.Background(), source, br)
	if err != nil {
		return nil, kernelerr.Wrap(kernelerr.GuestThrew, err, "module %s", resolved)
	}
	for k, v := range built {
		exports[k] = v
	}
	return exports, nil
}

// resolvePath implements §4.6's resolution rules: dot-prefixed ids
// resolve against the requiring module's directory, everything else is
// root-relative; an id with no extension gets the default appended.
func resolvePath(id, fromDir string) string {
	var p string
	if strings.HasPrefix(id, ".") {
		p = path.Join(fromDir, id)
	} else {
		p = strings.TrimPrefix(id, "/")
	}
	if path.Ext(p) == "" {
		p += defaultExtension
	}
	return p
}
