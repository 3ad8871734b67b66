package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/lostfound-matcher/internal/core/domain"
)

const (
	pointerFile    = "current.yaml"
	artifactsDir   = "artifacts"
	artifactSuffix = ".json"
	watchDebounce  = 200 * time.Millisecond
)

// pointer is the on-disk form of current.yaml.
type pointer struct {
	Version   string    `yaml:"version"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// ModelStore keeps model artifacts as files and the current version in a
// YAML pointer. Every write goes through a temp file and a rename.
type ModelStore struct {
	basePath string
	now      func() time.Time
}

func NewModelStore(basePath string) (*ModelStore, error) {
	if basePath == "" {
		basePath = "./data/models"
	}
	if err := os.MkdirAll(filepath.Join(basePath, artifactsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create model dir: %w", err)
	}
	return &ModelStore{basePath: basePath, now: time.Now}, nil
}

func (s *ModelStore) SaveArtifact(_ context.Context, version string, data io.Reader) error {
	path, err := s.artifactPath(version)
	if err != nil {
		return err
	}
	return writeAtomic(path, func(w io.Writer) error {
		_, err := io.Copy(w, data)
		return err
	})
}

func (s *ModelStore) OpenArtifact(_ context.Context, version string) (io.ReadCloser, error) {
	path, err := s.artifactPath(version)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.WrapError(domain.ErrNotFound, "open model artifact", fmt.Errorf("version %s", version))
	}
	if err != nil {
		return nil, fmt.Errorf("open model artifact: %w", err)
	}
	return f, nil
}

func (s *ModelStore) CurrentVersion(_ context.Context) (string, error) {
	raw, err := os.ReadFile(filepath.Join(s.basePath, pointerFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", domain.WrapError(domain.ErrNotFound, "read model pointer", errors.New("no model published"))
	}
	if err != nil {
		return "", fmt.Errorf("read model pointer: %w", err)
	}
	var p pointer
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return "", fmt.Errorf("parse model pointer: %w", err)
	}
	if strings.TrimSpace(p.Version) == "" {
		return "", domain.WrapError(domain.ErrNotFound, "read model pointer", errors.New("empty version"))
	}
	return p.Version, nil
}

// SetCurrentVersion points current.yaml at an artifact that already exists.
func (s *ModelStore) SetCurrentVersion(_ context.Context, version string) error {
	path, err := s.artifactPath(version)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return domain.WrapError(domain.ErrNotFound, "set model pointer", fmt.Errorf("artifact %s: %w", version, err))
	}
	raw, err := yaml.Marshal(pointer{Version: version, UpdatedAt: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("encode model pointer: %w", err)
	}
	return writeAtomic(filepath.Join(s.basePath, pointerFile), func(w io.Writer) error {
		_, err := w.Write(raw)
		return err
	})
}

// Watch calls onChange after the pointer file changes, until ctx is done.
// Bursts of events within the debounce window collapse into one call.
func (s *ModelStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create model watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(s.basePath); err != nil {
		return fmt.Errorf("watch model dir: %w", err)
	}

	var (
		mu    sync.Mutex
		timer *time.Timer
	)
	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != pointerFile || !event.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, onChange)
			mu.Unlock()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("model_watch_error", "error", err)
		}
	}
}

func (s *ModelStore) artifactPath(version string) (string, error) {
	version = strings.TrimSpace(version)
	if version == "" || strings.ContainsAny(version, `/\`) || strings.HasPrefix(version, ".") {
		return "", domain.WrapError(domain.ErrInvalidInput, "model artifact", fmt.Errorf("bad version %q", version))
	}
	return filepath.Join(s.basePath, artifactsDir, version+artifactSuffix), nil
}

func writeAtomic(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
