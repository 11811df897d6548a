package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/bridge"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/config"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/sandbox"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/vfs"
)

const multiplierSource = `package main

var Exports = map[string]any{
	"multiply": func(a, b float64) float64 { return a * b },
}
`

const calcSource = `package main

import (
	"context"
	"tgp"
)

func Run(ctx context.Context, args map[string]any) (any, error) {
	exports, err := tgp.Require("./lib/multiplier")
	if err != nil {
		return nil, err
	}
	multiply := exports["multiply"].(func(float64, float64) float64)
	a := args["a"].(float64)
	b := args["b"].(float64)
	return multiply(a, b) + 100, nil
}
`

func TestComposedToolRequiresLibraryTool(t *testing.T) {
	v := vfs.NewMemory()
	ctx := context.Background()
	require.NoError(t, v.WriteFile(ctx, "tools/lib/multiplier.ts", multiplierSource))
	require.NoError(t, v.WriteFile(ctx, "tools/calc.ts", calcSource))

	host := sandbox.New(config.SandboxConfig{MemoryLimitMiB: 128, TimeoutMs: 5000}, []string{"context"})
	res := New(v, host, []string{"tools"}, nil, nil)
	br := bridge.New(v, []string{"tools"}, nil, func(id string) (map[string]any, error) {
		return res.Require(id, "tools")
	}, nil)

	result, err := host.CompileAndRun(ctx, calcSource, br, map[string]any{"a": float64(5), "b": float64(5)})
	require.NoError(t, err)
	require.Equal(t, float64(125), result.Value)
}

func TestRequireResolvesRelativeAndAppendsDefaultExtension(t *testing.T) {
	require.Equal(t, "tools/lib/multiplier.ts", resolvePath("./lib/multiplier", "tools"))
	require.Equal(t, "tools/lib/multiplier.ts", resolvePath("./multiplier", "tools/lib"))
	require.Equal(t, "tools/calc.ts", resolvePath("tools/calc", ""))
}

func TestRequireCacheReturnsSameExportsAcrossDiamondDeps(t *testing.T) {
	v := vfs.NewMemory()
	ctx := context.Background()
	require.NoError(t, v.WriteFile(ctx, "tools/lib/shared.ts", multiplierSource))

	host := sandbox.New(config.SandboxConfig{MemoryLimitMiB: 128, TimeoutMs: 5000}, []string{"context"})
	res := New(v, host, []string{"tools"}, nil, nil)

	first, err := res.Require("./lib/shared", "tools")
	require.NoError(t, err)
	second, err := res.Require("./lib/shared", "tools")
	require.NoError(t, err)

	first["marker"] = true
	require.Equal(t, true, second["marker"], "cache must return the same underlying map")
}
