package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetWritesToCategoryFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Init(Config{Level: "debug", Dir: dir}))
	defer func() { require.NoError(t, Init(Config{})) }()

	log := Get(CategoryVFS)
	log.Info("jail check passed", zap.String("path", "tools/fib.ts"))
	Sync()

	data, err := os.ReadFile(filepath.Join(dir, "vfs.log"))
	require.NoError(t, err)
	require.Contains(t, string(data), "jail check passed")
}

func TestGetIsStableAcrossCalls(t *testing.T) {
	require.NoError(t, Init(Config{}))
	defer func() { require.NoError(t, Init(Config{})) }()

	a := Get(CategoryBoot)
	b := Get(CategoryBoot)
	require.Same(t, a, b)
}
