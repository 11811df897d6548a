package gitstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/stretchr/testify/require"

	"github.com/nocapro/tool-generation-protocol-sub000/internal/config"
	"github.com/nocapro/tool-generation-protocol-sub000/internal/vfs"
)

func newBareRemote(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "remote.git")
	_, err := git.PlainInit(dir, true)
	require.NoError(t, err)
	return dir
}

func gitCfgFor(remote string) config.GitConfig {
	return config.GitConfig{
		Repo:          remote,
		Branch:        "main",
		WriteStrategy: "direct",
	}
}

func seedInitialCommit(t *testing.T, remote string) {
	t.Helper()
	work := t.TempDir()
	v, err := vfs.NewDisk(work)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, v.WriteFile(ctx, "meta.json", `{"tools":{}}`))

	repo, err := git.PlainInit(work, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)
	require.NoError(t, wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName("main"),
		Create: true,
	}))
	_, err = wt.Add("meta.json")
	require.NoError(t, err)
	_, err = wt.Commit("seed", &git.CommitOptions{})
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{Name: "origin", URLs: []string{remote}})
	require.NoError(t, err)
	err = repo.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []gitconfig.RefSpec{"refs/heads/main:refs/heads/main"},
	})
	require.NoError(t, err)
}

func TestOpenClonesFreshRootThenPersistPushes(t *testing.T) {
	remote := newBareRemote(t)
	seedInitialCommit(t, remote)

	work := t.TempDir()
	v, err := vfs.NewDisk(work)
	require.NoError(t, err)

	retryCfg := config.RetryConfig{BaseMs: 10, Factor: 2, JitterMs: 1, MaxAttempts: 3}
	store, err := Open(context.Background(), v, gitCfgFor(remote), retryCfg)
	require.NoError(t, err)

	require.NoError(t, v.WriteFile(context.Background(), "tools/fib.ts", "package main\n"))
	outcome, err := store.Persist(context.Background(), "Forge: tools/fib.ts", []string{"tools/fib.ts", "meta.json"})
	require.NoError(t, err)
	require.NotEmpty(t, outcome.Commit)
}

func TestConcurrentDisjointWritesConverge(t *testing.T) {
	remote := newBareRemote(t)
	seedInitialCommit(t, remote)
	retryCfg := config.RetryConfig{BaseMs: 10, Factor: 2, JitterMs: 1, MaxAttempts: 3}

	workA := t.TempDir()
	vA, err := vfs.NewDisk(workA)
	require.NoError(t, err)
	storeA, err := Open(context.Background(), vA, gitCfgFor(remote), retryCfg)
	require.NoError(t, err)

	workB := t.TempDir()
	vB, err := vfs.NewDisk(workB)
	require.NoError(t, err)
	storeB, err := Open(context.Background(), vB, gitCfgFor(remote), retryCfg)
	require.NoError(t, err)

	require.NoError(t, vA.WriteFile(context.Background(), "tools/tool_A.ts", "package main\n"))
	_, err = storeA.Persist(context.Background(), "Forge: tools/tool_A.ts", []string{"tools/tool_A.ts", "meta.json"})
	require.NoError(t, err)

	require.NoError(t, vB.WriteFile(context.Background(), "tools/tool_B.ts", "package main\n"))
	_, err = storeB.Persist(context.Background(), "Forge: tools/tool_B.ts", []string{"tools/tool_B.ts", "meta.json"})
	require.NoError(t, err)

	workC := t.TempDir()
	vC, err := vfs.NewDisk(workC)
	require.NoError(t, err)
	_, err = Open(context.Background(), vC, gitCfgFor(remote), retryCfg)
	require.NoError(t, err)

	_, errA := os.Stat(filepath.Join(workC, "tools", "tool_A.ts"))
	_, errB := os.Stat(filepath.Join(workC, "tools", "tool_B.ts"))
	require.NoError(t, errA)
	require.NoError(t, errB)
}
