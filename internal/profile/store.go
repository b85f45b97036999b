package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"go.uber.org/zap"

	"github.com/aidkit/loopcore/internal/logging"
)

// fileFormat is the on-disk profile document.
type fileFormat struct {
	BasalIncrement float64 `koanf:"basal_increment"`
	Entries        []Entry `koanf:"entries"`
}

// FileStore reads the basal profile and the pump's basal increment from a
// YAML file. The profile is read-mostly: the orchestrator takes one snapshot
// per cycle and never writes.
type FileStore struct {
	path   string
	logger *logging.Logger

	mu        sync.RWMutex
	schedule  Schedule
	increment float64
}

// NewFileStore loads the profile from path.
func NewFileStore(path string, logger *logging.Logger) (*FileStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &FileStore{path: path, logger: logger.Named("profile")}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the profile file and swaps in the new snapshot atomically.
// On any error the previous snapshot stays in effect.
func (s *FileStore) Reload() error {
	content, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("failed to read profile file: %w", err)
	}

	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return fmt.Errorf("failed to parse profile file %s: %w", s.path, err)
	}

	var doc fileFormat
	if err := k.Unmarshal("", &doc); err != nil {
		return fmt.Errorf("failed to unmarshal profile: %w", err)
	}
	if doc.BasalIncrement <= 0 {
		return fmt.Errorf("basal_increment must be > 0, got %v", doc.BasalIncrement)
	}

	schedule, err := NewSchedule(doc.Entries)
	if err != nil {
		return fmt.Errorf("invalid basal schedule: %w", err)
	}

	s.mu.Lock()
	s.schedule = schedule
	s.increment = doc.BasalIncrement
	s.mu.Unlock()
	return nil
}

// Schedule returns the current basal schedule snapshot.
func (s *FileStore) Schedule() Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule
}

// BasalIncrement returns the pump basal increment constant.
func (s *FileStore) BasalIncrement() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.increment
}

// Watch reloads the profile whenever the file changes on disk. It blocks
// until ctx is done. Reload failures are logged and the previous profile
// stays active.
func (s *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which drops a
	// watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Warn(ctx, "profile reload failed, keeping previous profile", zap.Error(err))
				continue
			}
			s.logger.Info(ctx, "profile reloaded", zap.Int("entries", s.Schedule().Len()))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn(ctx, "profile watcher error", zap.Error(err))
		}
	}
}
