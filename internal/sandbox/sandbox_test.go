package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/bridge"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/config"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/kernelerr"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/vfs"
)

const fibSource = `package main

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

const throwSource = `package main

import (
	"context"
	"errors"
)

func Run(ctx context.Context, args map[string]any) (any, error) {
	return nil, errors.New("deliberate failure")
}
`

const freezeSource = `package main

import "context"

func Run(ctx context.Context, args map[string]any) (any, error) {
	for {
	}
}
`

func newHost(timeoutMs int) *Host {
	return New(config.SandboxConfig{MemoryLimitMiB: 128, TimeoutMs: timeoutMs}, []string{"context", "errors"})
}

func newBridge() *bridge.Bridge {
	return bridge.New(vfs.NewMemory(), []string{"tools"}, nil, nil, nil)
}

const execSQLSource = `package main

import (
	"context"
	"tgp"
)

func Run(ctx context.Context, args map[string]any) (any, error) {
	rows, err := tgp.ExecSQL("select 1")
	if err != nil {
		return nil, err
	}
	return rows, nil
}
`

func TestExtensionIsReachableFromGuestAsNamedTGPMember(t *testing.T) {
	defer goleak.VerifyNone(t)
	called := false
	execSQL := func(query string, args ...any) ([]map[string]any, error) {
		called = true
		return []map[string]any{{"ok": true}}, nil
	}
	br := bridge.New(vfs.NewMemory(), []string{"tools"}, nil, nil, map[string]any{"exec_sql": execSQL})

	h := newHost(5000)
	res, err := h.CompileAndRun(context.Background(), execSQLSource, br, nil)
	require.NoError(t, err)
	require.True(t, called)
	require.NotEmpty(t, res.Value)
}

func TestCompileAndRunComputesFibonacci(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHost(5000)
	res, err := h.CompileAndRun(context.Background(), fibSource, newBridge(), map[string]any{"n": float64(10)})
	require.NoError(t, err)
	require.Equal(t, float64(55), res.Value)
}

func TestCompileAndRunSurfacesGuestError(t *testing.T) {
	defer goleak.VerifyNone(t)
	h := newHost(5000)
	_, err := h.CompileAndRun(context.Background(), throwSource, newBridge(), nil)
	require.True(t, kernelerr.OfKind(err, kernelerr.GuestThrew))
}

// TestCompileAndRunTimesOutOnInfiniteLoop does not assert goleak.VerifyNone:
// the frozen guest goroutine is deliberately abandoned, not killed (see the
// timeout case in CompileAndRun), so it is still running when this test
// returns. That abandonment is the documented tradeoff, not a leak this
// suite should fail on.
func TestCompileAndRunTimesOutOnInfiniteLoop(t *testing.T) {
	h := newHost(200)
	start := time.Now()
	_, err := h.CompileAndRun(context.Background(), freezeSource, newBridge(), nil)
	elapsed := time.Since(start)

	require.True(t, kernelerr.OfKind(err, kernelerr.Timeout))
	require.Contains(t, strings.ToLower(err.Error()), "timed out")
	require.Less(t, elapsed, 450*time.Millisecond)
}
