package metatools

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/kernel"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/kernelerr"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/logging"
)

// MetaTools wraps a *kernel.Kernel with the six fixed operations an agent
// is allowed to call (§6). It holds no state of its own beyond the
// validator instance — every call is stateless against the kernel.
type MetaTools struct {
	k        *kernel.Kernel
	validate *validator.Validate
	log      *zap.Logger
}

func New(k *kernel.Kernel) *MetaTools {
	return &MetaTools{
		k:        k,
		validate: validator.New(),
		log:      logging.Get(logging.CategoryMetaTools),
	}
}

func (m *MetaTools) checkArgs(args any) error {
	if err := m.validate.Struct(args); err != nil {
		return kernelerr.Wrap(kernelerr.ConfigInvalid, err, "invalid meta-tool arguments")
	}
	return nil
}

// ListFiles implements list_files.
func (m *MetaTools) ListFiles(ctx context.Context, args ListFilesArgs) ([]string, error) {
	if err := m.checkArgs(args); err != nil {
		return nil, err
	}
	return m.k.VFS().ListFiles(ctx, args.Dir, true)
}

// ReadFile implements read_file.
func (m *MetaTools) ReadFile(ctx context.Context, args ReadFileArgs) (string, error) {
	if err := m.checkArgs(args); err != nil {
		return "", err
	}
	return m.k.VFS().ReadFile(ctx, args.Path)
}

// WriteFile implements write_file: full-content overwrite, always
// persisted through the write pipeline (§4.7).
func (m *MetaTools) WriteFile(ctx context.Context, args WriteFileArgs) (WriteResult, error) {
	if err := m.checkArgs(args); err != nil {
		return WriteResult{}, err
	}
	if _, err := m.k.WriteTool(ctx, args.Path, args.Content, "Forge"); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Success: true, Path: args.Path, Persisted: true}, nil
}

// PatchFile implements patch_file: a literal search/replace against the
// tool's current content. Only the first occurrence of Search is
// replaced; its absence is a PatchNotFound error rather than a silent
// no-op, so the agent can tell a stale patch from a successful one.
func (m *MetaTools) PatchFile(ctx context.Context, args PatchFileArgs) (WriteResult, error) {
	if err := m.checkArgs(args); err != nil {
		return WriteResult{}, err
	}
	current, err := m.k.VFS().ReadFile(ctx, args.Path)
	if err != nil {
		return WriteResult{}, err
	}
	idx := strings.Index(current, args.Search)
	if idx < 0 {
		return WriteResult{}, kernelerr.New(kernelerr.PatchNotFound, "search text not found in %s", args.Path)
	}
	patched := current[:idx] + args.Replace + current[idx+len(args.Search):]
	if _, err := m.k.WriteTool(ctx, args.Path, patched, "Refactor"); err != nil {
		return WriteResult{}, err
	}
	return WriteResult{Success: true, Path: args.Path, Persisted: true}, nil
}

// CheckTool implements check_tool: parse + run the six lint predicates,
// never executing the guest code (§4.3, §6).
func (m *MetaTools) CheckTool(ctx context.Context, args CheckToolArgs) (CheckResult, error) {
	if err := m.checkArgs(args); err != nil {
		return CheckResult{}, err
	}
	source, err := m.k.VFS().ReadFile(ctx, args.Path)
	if err != nil {
		return CheckResult{}, err
	}
	return Lint(args.Path, source), nil
}

// ExecTool implements exec_tool. Every failure from the kernel, a guest
// failure or a missing tool file alike, is folded into the result's Error
// field instead of being returned as a Go error — only invalid arguments
// are returned as err.
func (m *MetaTools) ExecTool(ctx context.Context, args ExecToolArgs) (ExecutionResult, error) {
	if err := m.checkArgs(args); err != nil {
		return ExecutionResult{}, err
	}
	res, err := m.k.ExecTool(ctx, args.Path, args.Args)
	if err != nil {
		m.log.Warn("exec_tool failed", zap.String("path", args.Path), zap.Error(err))
		return ExecutionResult{Success: false, Logs: res.Logs, Error: err.Error()}, nil
	}
	return ExecutionResult{Success: true, Result: res.Value, Logs: res.Logs}, nil
}
