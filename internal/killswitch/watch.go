package killswitch

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/sovereign/internal/clock"
)

// Watch checks the switch immediately, then on every interval tick and on
// every change to the override file. When the switch trips, onHalt (if set)
// is called with the decision and Watch returns ErrHalted. It returns nil
// when ctx is cancelled.
func (s *Switch) Watch(ctx context.Context, clk clock.Clock, interval time.Duration, onHalt func(Decision)) error {
	clk = clock.OrReal(clk)

	trip := func(d Decision) error {
		if onHalt != nil {
			onHalt(d)
		}
		return ErrHalted
	}

	if d := s.Check(ctx); !d.Active {
		return trip(d)
	}

	fileEvents, closeWatcher := s.watchOverrideFile()
	defer closeWatcher()

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
		case <-fileEvents:
		}
		if d := s.Check(ctx); !d.Active {
			return trip(d)
		}
	}
}

// watchOverrideFile returns a channel that receives on every change to the
// override file. The parent directory is watched so the file may be created
// after startup. Without an override file, or if fsnotify is unavailable, the
// channel never fires and Watch degrades to polling.
func (s *Switch) watchOverrideFile() (<-chan struct{}, func()) {
	if s.overrideFile == "" {
		return nil, func() {}
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("override file watch unavailable, polling only",
			"event", "killswitch_watch_unavailable",
			"module", "killswitch",
			"error", err.Error(),
		)
		return nil, func() {}
	}

	dir := filepath.Dir(s.overrideFile)
	if err := w.Add(dir); err != nil {
		s.logger.Warn("override file watch unavailable, polling only",
			"event", "killswitch_watch_unavailable",
			"module", "killswitch",
			"path", dir,
			"error", err.Error(),
		)
		_ = w.Close()
		return nil, func() {}
	}

	target := filepath.Clean(s.overrideFile)
	out := make(chan struct{}, 1)
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				select {
				case out <- struct{}{}:
				default:
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Warn("override file watch error",
					"event", "killswitch_watch_error",
					"module", "killswitch",
					"error", err.Error(),
				)
			}
		}
	}()

	return out, func() {
		close(done)
		_ = w.Close()
		<-stopped
	}
}
