// Package kernel implements C7: the facade that composes C1–C6, owns the
// boot/shutdown lifecycle, and orchestrates the write pipeline.
package kernel

import (
	"context"
	"fmt"
	"path"
	"sync"

	"go.uber.org/zap"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/bridge"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/config"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/gitstore"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/logging"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/registry"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/resolver"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/sandbox"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/vfs"
)

// Persister is the subset of gitstore.Store the facade depends on,
// narrowed so tests can substitute a fake without standing up a real
// remote.
type Persister interface {
	Persist(ctx context.Context, message string, files []string) (gitstore.Outcome, error)
}

// Kernel carries no mutable state beyond the boot-once guard (§5).
type Kernel struct {
	mu     sync.Mutex
	booted bool

	cfg         *config.Config
	vfs         *vfs.VFS
	git         Persister
	registry    *registry.Registry
	sandboxHost *sandbox.Host
	extensions  map[string]any
	log         *zap.Logger
}

// New constructs every non-Git component from cfg. Boot still owns
// Git hydration, since that is the step with a real network dependency.
func New(cfg *config.Config) (*Kernel, error) {
	v, err := vfs.NewDisk(cfg.RootDir)
	if err != nil {
		return nil, err
	}
	extensions, err := buildExtensions(cfg)
	if err != nil {
		return nil, err
	}
	return &Kernel{
		cfg:         cfg,
		vfs:         v,
		registry:    registry.New(v),
		sandboxHost: sandbox.New(cfg.Sandbox, cfg.AllowedImports),
		extensions:  extensions,
		log:         logging.Get(logging.CategoryFacade),
	}, nil
}

// NewForTest builds a Kernel from already-constructed components,
// bypassing New/Boot's real Git dependency. Exported for other packages'
// tests (e.g. metatools) that need a working Kernel without a remote.
func NewForTest(cfg *config.Config, v *vfs.VFS, reg *registry.Registry, host *sandbox.Host, git Persister) *Kernel {
	return &Kernel{
		cfg:         cfg,
		vfs:         v,
		registry:    reg,
		sandboxHost: host,
		git:         git,
		booted:      true,
		log:         logging.Get(logging.CategoryFacade),
	}
}

// Boot runs config-load (done by the caller before New) → git-hydrate →
// registry-hydrate (§4.7). It is idempotent: a second call is a no-op.
func (k *Kernel) Boot(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.booted {
		return nil
	}

	store, err := gitstore.Open(ctx, k.vfs, k.cfg.Git, k.cfg.Retry)
	if err != nil {
		return err
	}
	k.git = store

	if err := k.registry.Hydrate(ctx); err != nil {
		return err
	}

	k.booted = true
	k.log.Info("kernel booted", zap.String("root", k.cfg.RootDir))
	return nil
}

// Shutdown flushes logs. It does not tear down Git or VFS state, which
// is durable by construction.
func (k *Kernel) Shutdown() {
	logging.Sync()
}

// WriteTool runs the four-step write pipeline (§4.7): VFS-write →
// register → sync → persist. Any step's failure halts the chain;
// already-applied steps are not rolled back.
func (k *Kernel) WriteTool(ctx context.Context, toolPath, content, verb string) (gitstore.Outcome, error) {
	if err := k.vfs.WriteFile(ctx, toolPath, content); err != nil {
		return gitstore.Outcome{}, err
	}
	if err := k.registry.Register(ctx, toolPath, content); err != nil {
		return gitstore.Outcome{}, err
	}
	if err := k.registry.Sync(ctx); err != nil {
		return gitstore.Outcome{}, err
	}
	message := fmt.Sprintf("%s: %s", verb, toolPath)
	return k.git.Persist(ctx, message, []string{toolPath, "meta.json"})
}

// ExecTool reads a tool's source, wires a fresh bridge and resolver for
// this execution, and runs it in the sandbox (§2's execution control
// flow, §4.4–§4.6).
func (k *Kernel) ExecTool(ctx context.Context, toolPath string, args map[string]any) (sandbox.Result, error) {
	source, err := k.vfs.ReadFile(ctx, toolPath)
	if err != nil {
		return sandbox.Result{}, err
	}

	dir := path.Dir(toolPath)
	res := resolver.New(k.vfs, k.sandboxHost, k.cfg.FS.AllowedDirs, k.cfg.AllowedFetchUrls, k.extensions)
	br := bridge.New(k.vfs, k.cfg.FS.AllowedDirs, k.cfg.AllowedFetchUrls, func(id string) (map[string]any, error) {
		return res.Require(id, dir)
	}, k.extensions)

	return k.sandboxHost.CompileAndRun(ctx, source, br, args)
}

// VFS exposes the jailed store for meta-tools that operate directly on
// files without going through the write pipeline (list_files, read_file).
func (k *Kernel) VFS() *vfs.VFS { return k.vfs }

// Registry exposes the registry for check_tool and list_files-adjacent
// metadata lookups.
func (k *Kernel) Registry() *registry.Registry { return k.registry }

// Config returns the facade's immutable configuration.
func (k *Kernel) Config() *config.Config { return k.cfg }
