// Package sandbox implements C4: guest lifecycle, compile, capped
// execution, and result marshalling, using yaegi as the embeddable Go
// interpreter that plays the role of the guest engine.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/bridge"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/config"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/kernelerr"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/logging"
)

// entryPoint is the guest-side function name the host looks up after
// evaluating a tool file (§3's "Tool file language" expansion).
const entryPoint = "main.Run"

// Result is what a guest execution produces before it is wrapped into a
// meta-tool ExecutionResult.
type Result struct {
	Value any
	Logs  []string
}

// Host runs tool source in memory- and time-capped guests (§4.4).
type Host struct {
	cfg            config.SandboxConfig
	allowedImports []string
	log            *zap.Logger
}

func New(cfg config.SandboxConfig, allowedImports []string) *Host {
	return &Host{cfg: cfg, allowedImports: allowedImports, log: logging.Get(logging.CategorySandbox)}
}

// CompileAndRun runs the lifecycle in §4.4: transpile (here, yaegi
// evaluation), context provision (the "tgp" package bound to br),
// shim prepend is the caller's job via br.Require, run with timeout,
// unwrap to a pure-data copy, and implicit dispose (the interpreter is
// never retained past this call).
func (h *Host) CompileAndRun(ctx context.Context, source string, br *bridge.Bridge, args map[string]any) (Result, error) {
	traceID := uuid.New().String()
	log := h.log.With(zap.String("trace_id", traceID))
	log.Debug("executing guest tool")

	i := interp.New(interp.Options{})

	if err := i.Use(filteredStdlib(h.allowedImports)); err != nil {
		return Result{}, kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "install stdlib symbols")
	}
	if err := i.Use(bridgeExports(br)); err != nil {
		return Result{}, kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "install bridge symbols")
	}

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: kernelerr.New(kernelerr.GuestThrew, "%v", r)}
			}
		}()

		if _, err := i.Eval(source); err != nil {
			done <- outcome{err: kernelerr.Wrap(kernelerr.CompileError, err, "compile")}
			return
		}
		v, err := i.Eval(entryPoint)
		if err != nil {
			done <- outcome{err: kernelerr.Wrap(kernelerr.CompileError, err, "entry point %s not found", entryPoint)}
			return
		}
		fn, ok := v.Interface().(func(context.Context, map[string]any) (any, error))
		if !ok {
			done <- outcome{err: kernelerr.New(kernelerr.CompileError, "%s must be func(context.Context, map[string]any) (any, error)", entryPoint)}
			return
		}
		value, runErr := fn(ctx, args)
		if runErr != nil {
			done <- outcome{err: kernelerr.New(kernelerr.GuestThrew, "%v", runErr)}
			return
		}
		done <- outcome{value: value}
	}()

	timeout := time.Duration(h.cfg.TimeoutMs) * time.Millisecond
	stopMonitor := make(chan struct{})
	memExceeded := monitorMemory(h.cfg.MemoryLimitMiB, stopMonitor)
	defer close(stopMonitor)

	select {
	case o := <-done:
		logs := br.Logs()
		if o.err != nil {
			log.Debug("guest tool failed", zap.Error(o.err))
			return Result{Logs: logs}, o.err
		}
		log.Debug("guest tool completed")
		return Result{Value: toPureData(o.value), Logs: logs}, nil
	case <-memExceeded:
		log.Warn("guest tool exceeded memory limit", zap.Int("limit_mib", h.cfg.MemoryLimitMiB))
		return Result{Logs: br.Logs()}, kernelerr.New(kernelerr.MemoryLimit, "exceeded %d MiB", h.cfg.MemoryLimitMiB)
	case <-time.After(timeout):
		// The interpreter goroutine above is abandoned, not killed: yaegi
		// (like most embeddable interpreters) has no pre-emption hook mid
		// user loop. The host still returns promptly, matching P4; the
		// abandoned goroutine is reclaimed whenever it eventually returns
		// or the process exits (§9's sandbox-fallback note accepts this
		// tradeoff explicitly for the non-subprocess strategy).
		return Result{Logs: br.Logs()}, kernelerr.New(kernelerr.Timeout, "execution timed out after %s", timeout)
	case <-ctx.Done():
		return Result{Logs: br.Logs()}, kernelerr.Wrap(kernelerr.Timeout, ctx.Err(), "execution timed out: context cancelled")
	}
}

// EvalModule evaluates source as a required module rather than an entry
// point: it never calls Run, only collects the module's exports (§4.6).
// A module's declared var Exports = map[string]any{...} is the primary
// surface; its Run function, if present, is also exposed under the
// "Run" key so a composing tool may call the whole tool as a unit.
func (h *Host) EvalModule(ctx context.Context, source string, br *bridge.Bridge) (map[string]any, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(filteredStdlib(h.allowedImports)); err != nil {
		return nil, kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "install stdlib symbols")
	}
	if err := i.Use(bridgeExports(br)); err != nil {
		return nil, kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "install bridge symbols")
	}

	if _, err := i.Eval(source); err != nil {
		return nil, kernelerr.Wrap(kernelerr.CompileError, err, "compile module")
	}

	exports := map[string]any{}
	if v, err := i.Eval("main.Exports"); err == nil {
		if m, ok := v.Interface().(map[string]any); ok {
			for k, val := range m {
				exports[k] = val
			}
		}
	}
	if v, err := i.Eval(entryPoint); err == nil {
		if fn, ok := v.Interface().(func(context.Context, map[string]any) (any, error)); ok {
			exports["Run"] = fn
		}
	}
	return exports, nil
}

// monitorMemory polls the process heap and signals when it has grown by
// more than limitMiB since this call started. This is a best-effort,
// process-wide approximation, not a hard per-guest isolation boundary —
// the only hard boundary §9 offers is the subprocess/rlimit fallback.
// stop must be closed by the caller on every return path so the polling
// goroutine is reclaimed even when the limit is never hit.
func monitorMemory(limitMiB int, stop <-chan struct{}) <-chan struct{} {
	ch := make(chan struct{})
	if limitMiB <= 0 {
		return ch
	}
	baseline := heapMiB()
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if heapMiB()-baseline > limitMiB {
					close(ch)
					return
				}
			case <-stop:
				return
			}
		}
	}()
	return ch
}

func heapMiB() int {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return int(m.HeapAlloc / (1024 * 1024))
}

// filteredStdlib restricts yaegi's full standard-library symbol table to
// the packages Config.allowedImports names (SPEC_FULL §4's C4 pin).
func filteredStdlib(allowed []string) interp.Exports {
	allowedSet := make(map[string]bool, len(allowed))
	for _, pkg := range allowed {
		allowedSet[pkg] = true
	}
	out := interp.Exports{}
	for key, symbols := range stdlib.Symbols {
		pkgPath := key
		if idx := strings.LastIndex(key, "/"); idx >= 0 {
			pkgPath = key[:idx]
		}
		if allowedSet[pkgPath] {
			out[key] = symbols
		}
	}
	return out
}

// bridgeExports renders br as the guest-importable "tgp" package. Any
// host-injected extension (e.g. a configured exec_sql) is bound under its
// own exported name alongside the fixed capability set, so a guest tool
// can call tgp.ExecSQL(...) directly rather than only through a
// string-keyed lookup (§4.5, §9's extension points).
func bridgeExports(br *bridge.Bridge) interp.Exports {
	symbols := map[string]reflect.Value{
		"ReadFile":  reflect.ValueOf(br.ReadFile),
		"WriteFile": reflect.ValueOf(br.WriteFile),
		"ListFiles": reflect.ValueOf(br.ListFiles),
		"Fetch":     reflect.ValueOf(br.Fetch),
		"Log":       reflect.ValueOf(br.Log),
		"Require":   reflect.ValueOf(br.Require),
	}
	for name, fn := range br.Extensions() {
		symbols[exportName(name)] = reflect.ValueOf(fn)
	}
	return interp.Exports{"tgp/tgp": symbols}
}

// exportName turns a snake_case extension key (e.g. "exec_sql") into an
// exported Go identifier (e.g. "ExecSQL") so yaegi can bind it as a
// package-level symbol the guest can call.
func exportName(name string) string {
	parts := strings.Split(name, "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		if strings.EqualFold(p, "sql") {
			parts[i] = "SQL"
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "")
}

// toPureData copies v through a JSON round-trip so nothing returned to
// exec_tool's caller can be a live reference into guest memory (I5).
func toPureData(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return out
}
