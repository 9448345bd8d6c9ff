package git

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	gogit "github.com/go-git/go-git/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/dpolishuk/apidocs/internal/apperr"
	"github.com/dpolishuk/apidocs/internal/command"
	"github.com/dpolishuk/apidocs/internal/logging"
	"github.com/dpolishuk/apidocs/internal/models"
)

// exclusive is the semaphore weight a writer takes. Readers take one.
const exclusive = 1 << 30

// GitService keeps working copies of remote repositories under basePath.
// An existing working copy is reused as-is; it is never pulled.
type GitService struct {
	basePath string
	gitBin   string
	runner   command.Runner
	logger   *zap.Logger

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

func NewGitService(basePath string, runner command.Runner, logger *zap.Logger) *GitService {
	return &GitService{
		basePath: basePath,
		gitBin:   "git",
		runner:   runner,
		logger:   logging.Component(logger, "git"),
		locks:    make(map[string]*semaphore.Weighted),
	}
}

// Checkout returns the working copy of ref together with a release func.
// Until release is called the directory is neither removed nor re-cloned,
// so callers may read it for as long as they hold it. With force the
// existing copy is discarded and cloned again before it is handed out;
// that waits for every other holder of the same directory to release.
func (s *GitService) Checkout(ctx context.Context, ref models.RepoRef, force bool) (string, func(), error) {
	repoPath, err := s.repoPath(ref)
	if err != nil {
		return "", nil, err
	}
	sem := s.dirLock(ref.Name())

	if force {
		err = s.exclusively(ctx, sem, ref, func() error {
			if err := os.RemoveAll(repoPath); err != nil {
				return apperr.Wrap(apperr.KindFetch, "fetch", err, "failed to remove working copy")
			}
			s.logger.Info("working copy removed for re-clone", zap.String("repo", ref.String()))
			return s.clone(ctx, ref, repoPath)
		})
		if err != nil {
			return "", nil, err
		}
	} else {
		release, ok, err := s.shared(ctx, sem, ref, repoPath)
		if err != nil {
			return "", nil, err
		}
		if ok {
			return repoPath, release, nil
		}
		err = s.exclusively(ctx, sem, ref, func() error {
			if _, err := os.Stat(repoPath); err == nil {
				return nil
			}
			return s.clone(ctx, ref, repoPath)
		})
		if err != nil {
			return "", nil, err
		}
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return "", nil, waitErr(ref, err)
	}
	return repoPath, readHold(sem), nil
}

// Fetch returns the absolute path of the working copy for ref, cloning it
// first if the directory does not exist yet.
func (s *GitService) Fetch(ctx context.Context, ref models.RepoRef) (string, error) {
	repoPath, release, err := s.Checkout(ctx, ref, false)
	if err != nil {
		return "", err
	}
	release()
	return repoPath, nil
}

// Refetch discards the existing working copy of ref and clones it again.
func (s *GitService) Refetch(ctx context.Context, ref models.RepoRef) (string, error) {
	repoPath, release, err := s.Checkout(ctx, ref, true)
	if err != nil {
		return "", err
	}
	release()
	return repoPath, nil
}

// shared takes a read hold on an existing working copy. ok is false, with
// nothing held, when the directory is missing.
func (s *GitService) shared(ctx context.Context, sem *semaphore.Weighted, ref models.RepoRef, repoPath string) (func(), bool, error) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return nil, false, waitErr(ref, err)
	}
	_, err := os.Stat(repoPath)
	if err == nil {
		s.logger.Debug("reusing working copy", zap.String("repo", ref.String()), zap.String("path", repoPath))
		return readHold(sem), true, nil
	}
	sem.Release(1)
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, apperr.Wrap(apperr.KindFetch, "fetch", err, "failed to stat working copy")
	}
	return nil, false, nil
}

func (s *GitService) exclusively(ctx context.Context, sem *semaphore.Weighted, ref models.RepoRef, fn func() error) error {
	if err := sem.Acquire(ctx, exclusive); err != nil {
		return waitErr(ref, err)
	}
	defer sem.Release(exclusive)
	return fn()
}

// readHold releases one reader hold; calling it again is a no-op.
func readHold(sem *semaphore.Weighted) func() {
	return sync.OnceFunc(func() { sem.Release(1) })
}

func waitErr(ref models.RepoRef, err error) error {
	return apperr.Wrap(apperr.KindFetch, "fetch", err, "gave up waiting for working copy %s", ref.Name())
}

func (s *GitService) clone(ctx context.Context, ref models.RepoRef, repoPath string) error {
	name := ref.Name()
	s.logger.Info("cloning repository",
		zap.String("url", ref.URL),
		zap.String("branch", ref.Branch),
		zap.String("destination", repoPath))

	res, err := s.runner.Run(ctx, filepath.Dir(repoPath), s.gitBin, "clone", "-b", ref.Branch, "--", ref.URL, name)
	if err != nil {
		s.cleanup(repoPath)
		return apperr.Wrap(apperr.KindFetch, "fetch", err, "git clone of %s failed", ref.URL).WithOutput(res.Output)
	}
	if res.ExitCode != 0 {
		s.cleanup(repoPath)
		return apperr.New(apperr.KindFetch, "fetch", "git clone of %s exited with code %d", ref.URL, res.ExitCode).WithOutput(res.Output)
	}
	return nil
}

// cleanup removes a half-written clone so the next Fetch does not reuse it.
func (s *GitService) cleanup(repoPath string) {
	if err := os.RemoveAll(repoPath); err != nil {
		s.logger.Warn("failed to remove partial clone", zap.String("path", repoPath), zap.Error(err))
	}
}

func (s *GitService) repoPath(ref models.RepoRef) (string, error) {
	base, err := filepath.Abs(s.basePath)
	if err != nil {
		return "", apperr.Wrap(apperr.KindFetch, "fetch", err, "failed to resolve repos directory")
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return "", apperr.Wrap(apperr.KindFetch, "fetch", err, "failed to create repos directory")
	}
	return filepath.Join(base, ref.Name()), nil
}

// dirLock returns the lock of one local directory. Two branches of one
// repository share a directory name, and so share the lock.
func (s *GitService) dirLock(name string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = semaphore.NewWeighted(exclusive)
		s.locks[name] = l
	}
	return l
}

// GetCurrentCommit returns the HEAD commit hash of a working copy.
func (s *GitService) GetCurrentCommit(repoPath string) (string, error) {
	repo, err := gogit.PlainOpen(repoPath)
	if err != nil {
		return "", fmt.Errorf("failed to open repository: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to resolve HEAD: %w", err)
	}
	return head.Hash().String(), nil
}
