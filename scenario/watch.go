package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events editors produce on save.
const watchDebounce = 150 * time.Millisecond

// Watch loads the scenario at path, calls fn with it, and calls fn again
// every time the file changes until ctx ends. A file that fails to load is
// logged and skipped; the previous version is not re-run. Errors from fn are
// logged and do not stop the watch.
func Watch(ctx context.Context, path string, l *slog.Logger, fn func(context.Context, *Scenario) error) error {
	if l == nil {
		l = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("scenario: watch: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("scenario: watch: %w", err)
	}
	defer func() {
		_ = w.Close()
	}()

	// Watch the directory: editors often replace the file by renaming a
	// temporary over it, which drops a watch on the file itself.
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("scenario: watch %s: %w", filepath.Dir(abs), err)
	}

	run := func() {
		sc, err := Load(abs)
		if err != nil {
			l.ErrorContext(ctx, "scenario reload failed", slog.String("path", abs), slog.Any("err", err))
			return
		}
		if err := fn(ctx, sc); err != nil {
			l.ErrorContext(ctx, "scenario run failed", slog.String("scenario", sc.Name), slog.Any("err", err))
		}
	}
	run()

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			l.DebugContext(ctx, "scenario file changed", slog.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
			} else {
				timer.Reset(watchDebounce)
			}
			timerCh = timer.C
		case <-timerCh:
			timerCh = nil
			run()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			l.WarnContext(ctx, "fsnotify error", slog.String("err", err.Error()))
		}
	}
}
