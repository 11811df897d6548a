package metatools

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/config"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/gitstore"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/kernel"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/kernelerr"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/registry"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/sandbox"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/vfs"
)

type fakePersister struct{ calls int }

func (f *fakePersister) Persist(_ context.Context, _ string, _ []string) (gitstore.Outcome, error) {
	f.calls++
	return gitstore.Outcome{Commit: "deadbeef"}, nil
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

func newTestSuite(t *testing.T) *MetaTools {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default(dir)
	cfg.Git.Repo = "unused"

	v, err := vfs.NewDisk(dir)
	require.NoError(t, err)

	k := kernel.NewForTest(cfg, v, registry.New(v), sandbox.New(cfg.Sandbox, cfg.AllowedImports), &fakePersister{})
	require.NoError(t, k.Registry().Hydrate(context.Background()))
	return New(k)
}

func TestWriteReadAndListFilesRoundTrip(t *testing.T) {
	mt := newTestSuite(t)
	ctx := context.Background()

	wr, err := mt.WriteFile(ctx, WriteFileArgs{Path: "tools/math/fib.ts", Content: fibToolSource})
	require.NoError(t, err)
	require.True(t, wr.Success)
	require.True(t, wr.Persisted)

	got, err := mt.ReadFile(ctx, ReadFileArgs{Path: "tools/math/fib.ts"})
	require.NoError(t, err)
	require.Equal(t, fibToolSource, got)

	files, err := mt.ListFiles(ctx, ListFilesArgs{Dir: "tools"})
	require.NoError(t, err)
	require.Contains(t, files, "tools/math/fib.ts")
}

func TestPatchFileReplacesExactlyOnceOrFails(t *testing.T) {
	mt := newTestSuite(t)
	ctx := context.Background()
	_, err := mt.WriteFile(ctx, WriteFileArgs{Path: "tools/math/fib.ts", Content: fibToolSource})
	require.NoError(t, err)

	pr, err := mt.PatchFile(ctx, PatchFileArgs{
		Path:    "tools/math/fib.ts",
		Search:  "a, b := 0, 1",
		Replace: "a, b := 1, 1",
	})
	require.NoError(t, err)
	require.True(t, pr.Success)

	got, err := mt.ReadFile(ctx, ReadFileArgs{Path: "tools/math/fib.ts"})
	require.NoError(t, err)
	require.Contains(t, got, "a, b := 1, 1")

	_, err = mt.PatchFile(ctx, PatchFileArgs{Path: "tools/math/fib.ts", Search: "nonexistent-needle", Replace: "x"})
	require.Error(t, err)
	require.True(t, kernelerr.OfKind(err, kernelerr.PatchNotFound))
}

func TestCheckToolFlagsProcessGlobalsAndAnyParam(t *testing.T) {
	mt := newTestSuite(t)
	ctx := context.Background()

	const bad = `package main

import (
	"context"
	"os"
)

func Run(ctx context.Context, args any) (any, error) {
	os.Exit(1)
	return nil, nil
}
`
	_, err := mt.WriteFile(ctx, WriteFileArgs{Path: "tools/bad.ts", Content: bad})
	require.NoError(t, err)

	res, err := mt.CheckTool(ctx, CheckToolArgs{Path: "tools/bad.ts"})
	require.NoError(t, err)
	require.False(t, res.Valid)
	require.NotEmpty(t, res.Errors)
}

func TestCheckToolAcceptsCleanTool(t *testing.T) {
	mt := newTestSuite(t)
	ctx := context.Background()
	_, err := mt.WriteFile(ctx, WriteFileArgs{Path: "tools/math/fib.ts", Content: fibToolSource})
	require.NoError(t, err)

	res, err := mt.CheckTool(ctx, CheckToolArgs{Path: "tools/math/fib.ts"})
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Empty(t, res.Errors)
}

func TestExecToolReturnsResultWithoutGoError(t *testing.T) {
	mt := newTestSuite(t)
	ctx := context.Background()
	_, err := mt.WriteFile(ctx, WriteFileArgs{Path: "tools/math/fib.ts", Content: fibToolSource})
	require.NoError(t, err)

	res, err := mt.ExecTool(ctx, ExecToolArgs{Path: "tools/math/fib.ts", Args: map[string]any{"n": float64(10)}})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, float64(55), res.Result)
}

func TestExecToolFoldsGuestFailureIntoResult(t *testing.T) {
	mt := newTestSuite(t)
	ctx := context.Background()
	const throws = `package main

import (
	"context"
	"errors"
)

func Run(ctx context.Context, args map[string]any) (any, error) {
	return nil, errors.New("boom")
}
`
	_, err := mt.WriteFile(ctx, WriteFileArgs{Path: "tools/throws.ts", Content: throws})
	require.NoError(t, err)

	res, err := mt.ExecTool(ctx, ExecToolArgs{Path: "tools/throws.ts", Args: map[string]any{}})
	require.NoError(t, err)
	require.False(t, res.Success)
	require.NotEmpty(t, res.Error)
}
