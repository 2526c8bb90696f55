package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-parses a configuration file whenever it changes and delivers
// the results on a channel. Parse and read failures go to a side channel;
// the previous good configuration stays in effect, the watcher keeps
// running.
type Watcher struct {
	w      *fsnotify.Watcher
	path   string
	cfgC   chan *File
	errC   chan error
	logger *slog.Logger
}

// Watch starts watching the file at path. The enclosing directory is
// watched rather than the file itself: editors and atomic writers replace
// the file by rename, and a watch on the old inode would go silent after
// the first save. The watcher shuts down when ctx is cancelled or Close is
// called.
func Watch(ctx context.Context, path string, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		w:      fsw,
		path:   path,
		cfgC:   make(chan *File, 1),
		errC:   make(chan error, 8),
		logger: logger,
	}
	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	base := filepath.Base(w.path)
	for {
		select {
		case <-ctx.Done():
			w.w.Close()
			return
		case ev, ok := <-w.w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			f, err := Load(w.path)
			if err != nil {
				w.sendErr(err)
				continue
			}
			w.logger.Info("configuration reloaded", "path", w.path)
			// Latest wins: an unconsumed older config is replaced, never
			// queued behind.
			select {
			case <-w.cfgC:
			default:
			}
			w.cfgC <- f
		case err, ok := <-w.w.Errors:
			if !ok {
				return
			}
			w.sendErr(err)
		}
	}
}

// sendErr never blocks the event loop; when the consumer is not draining
// errors they are logged instead.
func (w *Watcher) sendErr(err error) {
	select {
	case w.errC <- err:
	default:
		w.logger.Warn("configuration watch error dropped", "error", err)
	}
}

// Configs returns the channel of successfully reloaded configurations.
func (w *Watcher) Configs() <-chan *File { return w.cfgC }

// Errors returns the channel of read, parse and watch errors.
func (w *Watcher) Errors() <-chan error { return w.errC }

// Close stops the watcher. Safe to call alongside context cancellation.
func (w *Watcher) Close() error { return w.w.Close() }
