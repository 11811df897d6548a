// Package registry implements C3: the on-disk index of tool metadata,
// kept transactionally consistent with the tool files it describes.
package registry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/tidwall/pretty"
	"go.uber.org/zap"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/kernelerr"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/logging"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/vfs"
)

// State is the wire format persisted at <root>/meta.json (§6).
type State struct {
	Tools map[string]Metadata `json:"tools"`
}

// toolsPrefix gates Register (§4.3 "Gating"): the spec adopts this form
// over the source's unconditional variant as the safer one, matching
// I2's scope to files under tools/.
const toolsPrefix = "tools/"

const metaPath = "meta.json"

// Registry guards meta.json with a single mutex (§5's shared-resource
// policy): every read and write of the in-memory state and the file
// happens inside the lock, released before returning to callers.
type Registry struct {
	mu    sync.Mutex
	vfs   *vfs.VFS
	state State
	log   *zap.Logger
}

func New(v *vfs.VFS) *Registry {
	return &Registry{
		vfs:   v,
		state: State{Tools: map[string]Metadata{}},
		log:   logging.Get(logging.CategoryRegistry),
	}
}

// Hydrate loads meta.json, or initializes empty state if it does not yet
// exist — the first boot of a fresh root has no registry to load.
func (r *Registry) Hydrate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	raw, err := r.vfs.ReadFile(ctx, metaPath)
	if err != nil {
		if kernelerr.OfKind(err, kernelerr.NotFound) {
			r.state = State{Tools: map[string]Metadata{}}
			return nil
		}
		return err
	}

	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "parse meta.json")
	}
	if s.Tools == nil {
		s.Tools = map[string]Metadata{}
	}
	r.state = s
	return nil
}

// Register parses source and upserts its metadata. A no-op for paths
// outside tools/ (§4.3 Gating).
func (r *Registry) Register(ctx context.Context, toolPath, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !strings.HasPrefix(toolPath, toolsPrefix) {
		return nil
	}

	meta, err := ExtractMetadata(toolPath, source)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state.Tools == nil {
		r.state.Tools = map[string]Metadata{}
	}
	r.state.Tools[toolPath] = meta
	r.log.Debug("registered tool", zap.String("path", toolPath), zap.String("name", meta.Name))
	return nil
}

// List returns a point-in-time snapshot safe for the caller to retain.
func (r *Registry) List() map[string]Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Metadata, len(r.state.Tools))
	for k, v := range r.state.Tools {
		out[k] = v
	}
	return out
}

// Has reports whether path is a registered tool.
func (r *Registry) Has(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.state.Tools[path]
	return ok
}

// Sync atomically writes meta.json: write to a temporary sibling, then
// rename over the real path (§4.3's atomicity-with-respect-to-readers
// requirement).
func (r *Registry) Sync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, err := json.Marshal(r.state)
	if err != nil {
		return kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "marshal meta.json")
	}

	formatted := pretty.PrettyOptions(data, &pretty.Options{Width: 80, Indent: "  "})

	tmpPath := metaPath + ".tmp"
	if err := r.vfs.WriteFile(ctx, tmpPath, string(formatted)); err != nil {
		return err
	}
	if err := r.vfs.Rename(ctx, tmpPath, metaPath); err != nil {
		return err
	}
	r.log.Debug("synced meta.json", zap.Int("tools", len(r.state.Tools)))
	return nil
}
