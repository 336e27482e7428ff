package registry

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// reloadLoop polls the watched directories and reloads once a changed
// fingerprint has held still for the debounce window. File-system events
// only shorten the wait until the next poll; the fingerprint comparison is
// what decides, so a missed event costs at most one interval.
func (r *Registry) reloadLoop(interval, debounce time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	events := make(chan struct{}, 1)
	if fsw, err := fsnotify.NewWatcher(); err == nil {
		defer fsw.Close()
		for _, dir := range r.dirs {
			if err := fsw.Add(dir); err != nil {
				r.logger.Warn("watch failed, relying on polling", zap.String("dir", dir), zap.Error(err))
			}
		}
		go forwardEvents(fsw, events, stop)
	} else {
		r.logger.Warn("fsnotify unavailable, relying on polling", zap.Error(err))
	}

	var (
		pending      Fingerprint
		pendingSince time.Time
	)
	wait := interval
	for {
		select {
		case <-stop:
			return
		case <-events:
		case <-time.After(wait):
		}
		wait = interval

		fp := fingerprintDirs(r.dirs)
		if fp.Equal(r.Current().fingerprint()) {
			pending = nil
			continue
		}

		now := time.Now()
		if pending == nil || !fp.Equal(pending) {
			// Still churning: restart the debounce clock and check back
			// once the window has elapsed.
			pending = fp
			pendingSince = now
			if debounce < wait {
				wait = debounce
			}
			continue
		}
		if now.Sub(pendingSince) < debounce {
			if remaining := debounce - now.Sub(pendingSince); remaining < wait {
				wait = remaining
			}
			continue
		}

		if _, err := r.Reload(context.Background()); err != nil {
			r.logger.Error("hot reload failed", zap.Error(err))
		}
		pending = nil
	}
}

func forwardEvents(fsw *fsnotify.Watcher, events chan<- struct{}, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case evt, ok := <-fsw.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			select {
			case events <- struct{}{}:
			default:
			}
		case _, ok := <-fsw.Errors:
			if !ok {
				return
			}
		}
	}
}
