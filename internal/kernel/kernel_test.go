package kernel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/config"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/gitstore"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/registry"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/sandbox"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/vfs"
)

type fakePersister struct {
	calls    int
	messages []string
}

func (f *fakePersister) Persist(_ context.Context, message string, _ []string) (gitstore.Outcome, error) {
	f.calls++
	f.messages = append(f.messages, message)
	return gitstore.Outcome{Commit: "deadbeef"}, nil
}

func newTestKernel(t *testing.T) (*Kernel, *fakePersister) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Git.Repo = "unused"

	v, err := vfs.NewDisk(dir)
	require.NoError(t, err)

	fp := &fakePersister{}
	k := &Kernel{
		cfg:         cfg,
		vfs:         v,
		registry:    registry.New(v),
		sandboxHost: sandbox.New(cfg.Sandbox, cfg.AllowedImports),
		git:         fp,
		booted:      true,
	}
	require.NoError(t, k.Registry().Hydrate(context.Background()))
	return k, fp
}

const fibToolSource = `package main

import "context"

func Run(ctx context.Context, args map[string]any) (any, error) {
	n := int(args["n"].(float64))
	a, b := 0, 1
	for i := 0; i < n; i++ {
		a, b = b, a+b
	}
	return a, nil
}
`

func TestWriteToolRunsFullPipeline(t *testing.T) {
	k, fp := newTestKernel(t)
	ctx := context.Background()

	outcome, err := k.WriteTool(ctx, "tools/math/fib.ts", fibToolSource, "Forge")
	require.NoError(t, err)
	require.Equal(t, "deadbeef", outcome.Commit)
	require.Equal(t, 1, fp.calls)
	require.Equal(t, []string{"Forge: tools/math/fib.ts"}, fp.messages)

	got, err := k.VFS().ReadFile(ctx, "tools/math/fib.ts")
	require.NoError(t, err)
	require.Equal(t, fibToolSource, got)

	_, ok := k.Registry().List()["tools/math/fib.ts"]
	require.True(t, ok)
}

func TestExecToolRunsWrittenTool(t *testing.T) {
	k, _ := newTestKernel(t)
	ctx := context.Background()
	_, err := k.WriteTool(ctx, "tools/math/fib.ts", fibToolSource, "Forge")
	require.NoError(t, err)

	res, err := k.ExecTool(ctx, "tools/math/fib.ts", map[string]any{"n": float64(10)})
	require.NoError(t, err)
	require.Equal(t, float64(55), res.Value)
}
