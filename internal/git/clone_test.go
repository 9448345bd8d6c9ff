package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpolishuk/apidocs/internal/apperr"
	"github.com/dpolishuk/apidocs/internal/command"
	"github.com/dpolishuk/apidocs/internal/models"
)

// fakeRunner records git invocations and simulates a clone by creating the
// destination directory.
type fakeRunner struct {
	calls    atomic.Int32
	exitCode int
	output   string
	err      error
	delay    time.Duration

	mu   sync.Mutex
	args [][]string
}

func (f *fakeRunner) Run(ctx context.Context, dir, name string, args ...string) (command.Result, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.args = append(f.args, append([]string{dir, name}, args...))
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return command.Result{}, f.err
	}
	dest := filepath.Join(dir, args[len(args)-1])
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return command.Result{}, err
	}
	return command.Result{Output: []byte(f.output), ExitCode: f.exitCode}, nil
}

func mustRef(t *testing.T, url, branch string) models.RepoRef {
	t.Helper()
	ref, err := models.NewRepoRef(url, branch)
	require.NoError(t, err)
	return ref
}

func TestFetch_ClonesOnceAndReuses(t *testing.T) {
	base := filepath.Join(t.TempDir(), "repos")
	runner := &fakeRunner{}
	svc := NewGitService(base, runner, nil)
	ref := mustRef(t, "https://host/g/demo.git", "main")

	first, err := svc.Fetch(context.Background(), ref)
	require.NoError(t, err)
	second, err := svc.Fetch(context.Background(), ref)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), runner.calls.Load())
	assert.True(t, filepath.IsAbs(first))
	assert.Equal(t, "demo", filepath.Base(first))

	absBase, _ := filepath.Abs(base)
	require.Len(t, runner.args, 1)
	assert.Equal(t, []string{absBase, "git", "clone", "-b", "main", "--", "https://host/g/demo.git", "demo"}, runner.args[0])
}

func TestFetch_ConcurrentCallsCloneOnce(t *testing.T) {
	runner := &fakeRunner{delay: 50 * time.Millisecond}
	svc := NewGitService(t.TempDir(), runner, nil)

	var wg sync.WaitGroup
	for _, branch := range []string{"main", "develop", "main", "develop"} {
		wg.Add(1)
		go func(branch string) {
			defer wg.Done()
			_, err := svc.Fetch(context.Background(), mustRef(t, "https://host/g/demo.git", branch))
			assert.NoError(t, err)
		}(branch)
	}
	wg.Wait()

	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestFetch_NonZeroExit(t *testing.T) {
	base := t.TempDir()
	runner := &fakeRunner{exitCode: 128, output: "fatal: Remote branch nope not found"}
	svc := NewGitService(base, runner, nil)

	_, err := svc.Fetch(context.Background(), mustRef(t, "https://host/g/demo.git", "nope"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindFetch, apperr.KindOf(err))
	assert.Contains(t, apperr.OutputOf(err), "Remote branch nope not found")

	// the partial directory is removed so a retry clones again
	_, statErr := os.Stat(filepath.Join(base, "demo"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestFetch_SpawnFailure(t *testing.T) {
	runner := &fakeRunner{err: &command.SpawnError{Program: "git", Err: exec.ErrNotFound}}
	svc := NewGitService(t.TempDir(), runner, nil)

	_, err := svc.Fetch(context.Background(), mustRef(t, "https://host/g/demo.git", "main"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindFetch, apperr.KindOf(err))
}

func TestFetch_Timeout(t *testing.T) {
	runner := &fakeRunner{err: context.DeadlineExceeded}
	svc := NewGitService(t.TempDir(), runner, nil)

	_, err := svc.Fetch(context.Background(), mustRef(t, "https://host/g/demo.git", "main"))
	require.Error(t, err)
	assert.Equal(t, apperr.KindFetch, apperr.KindOf(err))
	assert.True(t, apperr.IsTimeout(err))
}

func TestRefetch_ClonesAgain(t *testing.T) {
	runner := &fakeRunner{}
	svc := NewGitService(t.TempDir(), runner, nil)
	ref := mustRef(t, "https://host/g/demo.git", "main")

	path, err := svc.Fetch(context.Background(), ref)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(path, "stale.txt"), []byte("x"), 0o644))

	again, err := svc.Refetch(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, int32(2), runner.calls.Load())
	assert.NoFileExists(t, filepath.Join(path, "stale.txt"))
}

func TestCheckout_ForceWaitsForHolders(t *testing.T) {
	runner := &fakeRunner{}
	svc := NewGitService(t.TempDir(), runner, nil)
	mainRef := mustRef(t, "https://host/g/demo.git", "main")
	dev := mustRef(t, "https://host/g/demo.git", "dev")

	path, release, err := svc.Checkout(context.Background(), mainRef, false)
	require.NoError(t, err)
	marker := filepath.Join(path, "views.py")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0o644))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Refetch(context.Background(), dev)
		done <- err
	}()

	assert.Never(t, func() bool { return len(done) > 0 }, 100*time.Millisecond, 5*time.Millisecond)
	assert.FileExists(t, marker)
	assert.Equal(t, int32(1), runner.calls.Load())

	release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("re-clone did not proceed after the working copy was released")
	}
	assert.Equal(t, int32(2), runner.calls.Load())
	assert.NoFileExists(t, marker)
}

func TestCheckout_SharedHoldersDoNotBlockEachOther(t *testing.T) {
	runner := &fakeRunner{}
	svc := NewGitService(t.TempDir(), runner, nil)
	ref := mustRef(t, "https://host/g/demo.git", "main")

	first, releaseFirst, err := svc.Checkout(context.Background(), ref, false)
	require.NoError(t, err)
	defer releaseFirst()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	second, releaseSecond, err := svc.Checkout(ctx, ref, false)
	require.NoError(t, err)
	releaseSecond()
	releaseSecond()

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestCheckout_WaitHonoursContext(t *testing.T) {
	runner := &fakeRunner{}
	svc := NewGitService(t.TempDir(), runner, nil)
	ref := mustRef(t, "https://host/g/demo.git", "main")

	path, release, err := svc.Checkout(context.Background(), ref, false)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = svc.Refetch(ctx, ref)
	require.Error(t, err)
	assert.Equal(t, apperr.KindFetch, apperr.KindOf(err))
	assert.True(t, apperr.IsTimeout(err))
	assert.DirExists(t, path)
	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestGetCurrentCommit(t *testing.T) {
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "urls.py"), []byte("urlpatterns = []\n"), 0o644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("urls.py")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)

	svc := NewGitService(t.TempDir(), &fakeRunner{}, nil)
	got, err := svc.GetCurrentCommit(dir)
	require.NoError(t, err)
	assert.Equal(t, hash.String(), got)

	_, err = svc.GetCurrentCommit(t.TempDir())
	assert.Error(t, err)
}

func TestCloneRepository(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test")
	}
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}

	// A local source repository keeps the test offline.
	src := t.TempDir()
	repo, err := gogit.PlainInit(src, false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(src, "README.md"), []byte("demo"), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("README.md")
	require.NoError(t, err)
	_, err = wt.Commit("initial", &gogit.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	head, err := repo.Head()
	require.NoError(t, err)

	service := NewGitService(t.TempDir(), command.NewExecRunner(nil), nil)
	ref := mustRef(t, src, head.Name().Short())

	repoPath, err := service.Fetch(context.Background(), ref)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(repoPath, ".git"))
	assert.FileExists(t, filepath.Join(repoPath, "README.md"))
}
