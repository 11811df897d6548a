// Package bridge implements C5: the vetted surface of host functions a
// guest tool can reach, exposed to the interpreter as the "tgp" package.
// Every policy check runs here, in the host, never in guest code.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/kernelerr"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/logging"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/vfs"
)

// RequireFunc resolves a require() id to the target module's exported
// values, implemented by the Module Resolver (C6). The bridge forwards
// to it rather than owning resolution itself.
type RequireFunc func(id string) (map[string]any, error)

// FetchResult mirrors the member shape named in §4.5: status, headers,
// and lazily-decodable body accessors.
type FetchResult struct {
	Status     int
	StatusText string
	Headers    map[string]string
	Body       string
}

func (r FetchResult) Text() string { return r.Body }

func (r FetchResult) JSON(out any) error {
	return json.Unmarshal([]byte(r.Body), out)
}

// Bridge is constructed fresh per execution by the Kernel Facade.
// Configuration changes take effect on the next Bridge, never on one
// already handed to a running guest (§4.5).
type Bridge struct {
	mu   sync.Mutex
	logs []string

	vfs              *vfs.VFS
	allowedWriteDirs []string
	allowedFetchURLs []string
	httpClient       *resty.Client
	require          RequireFunc
	extensions       map[string]any
	log              *zap.Logger
}

// New builds a Bridge scoped to one execution. extensions carries
// host-injected extension points (e.g. exec_sql); nil means none
// installed.
func New(v *vfs.VFS, allowedWriteDirs, allowedFetchURLs []string, require RequireFunc, extensions map[string]any) *Bridge {
	return &Bridge{
		vfs:              v,
		allowedWriteDirs: allowedWriteDirs,
		allowedFetchURLs: allowedFetchURLs,
		httpClient:       resty.New(),
		require:          require,
		extensions:       extensions,
		log:              logging.Get(logging.CategoryBridge),
	}
}

// ReadFile delegates to the VFS, inheriting jail rules (§4.5).
func (b *Bridge) ReadFile(path string) (string, error) {
	return b.vfs.ReadFile(context.Background(), path)
}

// WriteFile delegates to the VFS only when path falls under one of
// config.fs.allowedDirs — a restriction independent of, and stricter
// than, the jail itself (§4.5).
func (b *Bridge) WriteFile(path, content string) error {
	if !withinAllowedDirs(path, b.allowedWriteDirs) {
		b.log.Warn("bridge write denied", zap.String("path", path))
		return kernelerr.New(kernelerr.SecurityViolation, "Write access denied: %s", path)
	}
	return b.vfs.WriteFile(context.Background(), path, content)
}

// ListFiles is a non-recursive listing via the VFS (§4.5).
func (b *Bridge) ListFiles(dir string) ([]string, error) {
	return b.vfs.ListFiles(context.Background(), dir, false)
}

// Fetch enforces HTTPS-only and an allow-list of URL prefixes. An empty
// allow-list denies all network access (§4.5).
func (b *Bridge) Fetch(url string) (FetchResult, error) {
	if !strings.HasPrefix(url, "https://") {
		return FetchResult{}, kernelerr.New(kernelerr.SecurityViolation, "fetch requires HTTPS: %s", url)
	}
	if len(b.allowedFetchURLs) == 0 || !hasAllowedPrefix(url, b.allowedFetchURLs) {
		return FetchResult{}, kernelerr.New(kernelerr.SecurityViolation, "fetch not allowed for %s", url)
	}

	resp, err := b.httpClient.R().Get(url)
	if err != nil {
		return FetchResult{}, kernelerr.Wrap(kernelerr.InternalSandboxErr, err, "fetch %s", url)
	}
	headers := make(map[string]string, len(resp.Header()))
	for k, v := range resp.Header() {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	return FetchResult{
		Status:     resp.StatusCode(),
		StatusText: resp.Status(),
		Headers:    headers,
		Body:       resp.String(),
	}, nil
}

// Log stringifies non-string arguments to JSON and appends the line to
// this execution's logs buffer; it never writes directly to process
// streams (§4.4's determinism note: logs ordering is guaranteed, wall
// time is not).
func (b *Bridge) Log(args ...any) {
	parts := make([]string, len(args))
	for i, a := range args {
		if s, ok := a.(string); ok {
			parts[i] = s
			continue
		}
		data, err := json.Marshal(a)
		if err != nil {
			parts[i] = fmt.Sprintf("%v", a)
			continue
		}
		parts[i] = string(data)
	}
	line := strings.Join(parts, " ")

	b.mu.Lock()
	b.logs = append(b.logs, line)
	b.mu.Unlock()
}

// Require forwards to the Module Resolver.
func (b *Bridge) Require(id string) (map[string]any, error) {
	if b.require == nil {
		return nil, kernelerr.New(kernelerr.InternalSandboxErr, "module resolver not wired")
	}
	return b.require(id)
}

// Extension looks up a host-injected extension point by name (e.g.
// "exec_sql"). The bridge preserves function identity here: it never
// JSON-copies the extension value (§4.5).
func (b *Bridge) Extension(name string) (any, bool) {
	v, ok := b.extensions[name]
	return v, ok
}

// Extensions returns the full set of host-injected extension points, for
// the sandbox host to bind directly into the guest's tgp namespace rather
// than only reachable through a string-keyed lookup.
func (b *Bridge) Extensions() map[string]any {
	return b.extensions
}

// Logs returns a snapshot of everything logged so far.
func (b *Bridge) Logs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.logs))
	copy(out, b.logs)
	return out
}

func withinAllowedDirs(p string, dirs []string) bool {
	clean := strings.TrimPrefix(filepath.ToSlash(filepath.Clean("/"+p)), "/")
	for _, d := range dirs {
		d = strings.TrimSuffix(filepath.ToSlash(d), "/")
		if clean == d || strings.HasPrefix(clean, d+"/") {
			return true
		}
	}
	return false
}

func hasAllowedPrefix(url string, allowed []string) bool {
	for _, p := range allowed {
		if strings.HasPrefix(url, p) {
			return true
		}
	}
	return false
}
