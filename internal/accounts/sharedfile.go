package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	syncInterval    = 5 * time.Second
	syncReadTimeout = 2 * time.Second
)

// Synchronizer is a one-way importer from the shared accounts file into the
// pool. The file is the authority over the account set; the synchronizer
// polls its mtime every 5 seconds and additionally reacts to filesystem
// notifications, debounced so editor save storms collapse into one reload.
type Synchronizer struct {
	path          string
	pool          *Pool
	defaultRegion string

	sf       singleflight.Group
	limiter  *rate.Limiter
	interval time.Duration

	lastMtime     time.Time
	missingWarned bool
}

// NewSynchronizer creates a synchronizer for the given shared file path.
func NewSynchronizer(path string, pool *Pool, defaultRegion string) *Synchronizer {
	return &Synchronizer{
		path:          path,
		pool:          pool,
		defaultRegion: defaultRegion,
		limiter:       rate.NewLimiter(rate.Every(syncReadTimeout), 1),
		interval:      syncInterval,
	}
}

// Run loads the file once, then keeps the pool in sync until ctx is done.
// Periodic failures are logged and do not block request handling.
func (s *Synchronizer) Run(ctx context.Context) {
	if err := s.Sync(true); err != nil {
		slog.Warn("initial shared accounts load failed", "path", s.path, "error", err)
	}

	watcher := s.startWatcher(ctx)
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sync(false); err != nil {
				slog.Warn("shared accounts sync failed", "path", s.path, "error", err)
			}
		}
	}
}

// startWatcher watches the shared file's directory; the file itself is often
// replaced atomically (write to temp + rename), which only the directory
// watch observes.
func (s *Synchronizer) startWatcher(ctx context.Context) *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Debug("fsnotify unavailable, relying on mtime poll", "error", err)
		return nil
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		slog.Debug("cannot watch shared accounts dir, relying on mtime poll", "error", err)
		watcher.Close()
		return nil
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(s.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if !s.limiter.Allow() {
					continue
				}
				if err := s.Sync(true); err != nil {
					slog.Warn("shared accounts sync failed", "path", s.path, "error", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Debug("shared accounts watcher error", "error", err)
			}
		}
	}()
	return watcher
}

// Sync reads and applies the shared file if its mtime advanced or force is
// set. At most one synchronization runs at a time across the process;
// concurrent callers share the in-flight sync's result.
func (s *Synchronizer) Sync(force bool) error {
	_, err, _ := s.sf.Do("sync", func() (any, error) {
		return nil, s.syncOnce(force)
	})
	return err
}

func (s *Synchronizer) syncOnce(force bool) error {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			// Missing file is "empty file": drop everything, warn once per
			// transition into the missing state.
			if !s.missingWarned {
				slog.Warn("shared accounts file missing, pool emptied", "path", s.path)
				s.missingWarned = true
			}
			s.lastMtime = time.Time{}
			s.pool.ApplySnapshot(nil)
			return nil
		}
		return fmt.Errorf("stat shared accounts file: %w", err)
	}
	s.missingWarned = false

	if !force && !info.ModTime().After(s.lastMtime) {
		return nil
	}

	data, err := readFileTimeout(s.path, syncReadTimeout)
	if err != nil {
		return fmt.Errorf("read shared accounts file: %w", err)
	}

	parsed, err := ParseSharedFile(data, s.defaultRegion)
	if err != nil {
		return fmt.Errorf("parse shared accounts file: %w", err)
	}

	s.pool.ApplySnapshot(parsed)
	s.lastMtime = info.ModTime()
	total, available := s.pool.Size()
	slog.Info("shared accounts reloaded", "path", s.path, "total", total, "available", available)
	return nil
}

var errReadTimeout = errors.New("shared file read timed out")

// readFileTimeout bounds the file read. A hung network mount must not stall
// the sync single-flight forever; readers keep the previous snapshot.
func readFileTimeout(path string, timeout time.Duration) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		data, err := os.ReadFile(path)
		ch <- result{data, err}
	}()
	select {
	case r := <-ch:
		return r.data, r.err
	case <-time.After(timeout):
		return nil, errReadTimeout
	}
}
