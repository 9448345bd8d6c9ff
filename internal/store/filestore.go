// Package store persists the latest generated OpenAPI document per
// repository branch.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/dpolishuk/apidocs/internal/apperr"
	"github.com/dpolishuk/apidocs/internal/logging"
	"github.com/dpolishuk/apidocs/internal/models"
)

// FileStore keeps one JSON file per RepoRef in a flat directory, plus a
// metadata sidecar. Files are replaced by rename so readers never observe
// a partial write and need no lock.
type FileStore struct {
	dir    string
	logger *zap.Logger
}

func NewFileStore(dir string, logger *zap.Logger) *FileStore {
	return &FileStore{dir: dir, logger: logging.Component(logger, "store")}
}

// FileName is the safe, unambiguous encoding of a RepoRef key.
func FileName(ref models.RepoRef) string {
	return url.QueryEscape(ref.Name()) + "@" + url.QueryEscape(ref.Branch) + ".json"
}

func (s *FileStore) docPath(ref models.RepoRef) string {
	return filepath.Join(s.dir, FileName(ref))
}

func (s *FileStore) metaPath(ref models.RepoRef) string {
	return filepath.Join(s.dir, FileName(ref)+".meta")
}

// Put replaces the stored document for doc.Ref.
func (s *FileStore) Put(ctx context.Context, doc models.StoredDoc) error {
	if err := ctx.Err(); err != nil {
		return apperr.Wrap(apperr.KindStore, "put", err, "store write aborted")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return apperr.Wrap(apperr.KindStore, "put", err, "failed to create docs directory")
	}

	meta, err := json.Marshal(doc)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "put", err, "failed to encode metadata")
	}

	if err := writeAtomic(s.docPath(doc.Ref), doc.Document); err != nil {
		return apperr.Wrap(apperr.KindStore, "put", err, "failed to write document")
	}
	// The sidecar is informational; the document rename above is the
	// publish point.
	if err := writeAtomic(s.metaPath(doc.Ref), meta); err != nil {
		s.logger.Warn("failed to write metadata", zap.String("repo", doc.Ref.Key()), zap.Error(err))
	}

	s.logger.Info("document stored",
		zap.String("repo", doc.Ref.Key()),
		zap.Int("bytes", len(doc.Document)),
		zap.Int("endpoints", doc.Endpoints))
	return nil
}

// Get returns the most recent document for ref.
func (s *FileStore) Get(ctx context.Context, ref models.RepoRef) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "get", err, "store read aborted")
	}
	data, err := os.ReadFile(s.docPath(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.New(apperr.KindNotFound, "get", "no document stored for %s", ref.Key())
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "get", err, "failed to read document")
	}
	return data, nil
}

// Stat returns the metadata of the stored document for ref without its
// body. A document written before metadata existed reports the file's
// modification time.
func (s *FileStore) Stat(ctx context.Context, ref models.RepoRef) (*models.StoredDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "stat", err, "store read aborted")
	}
	info, err := os.Stat(s.docPath(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, apperr.New(apperr.KindNotFound, "stat", "no document stored for %s", ref.Key())
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "stat", err, "failed to stat document")
	}

	meta := &models.StoredDoc{Ref: ref, ProducedAt: info.ModTime().UTC()}
	if data, err := os.ReadFile(s.metaPath(ref)); err == nil {
		if err := json.Unmarshal(data, meta); err != nil {
			s.logger.Warn("ignoring unreadable metadata", zap.String("repo", ref.Key()), zap.Error(err))
		}
	}
	return meta, nil
}

// writeAtomic writes data to a temporary sibling of path and renames it
// into place.
func writeAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
