package config

import (
	"context"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "serverwatch/pkg/logx"

	"github.com/fsnotify/fsnotify"
)

const (
	reloadDebounce = 250 * time.Millisecond
	rewatchMin     = 250 * time.Millisecond
	rewatchMax     = 5 * time.Second
)

// fileEvents are the ops that can change the file's content. Editors that
// save by rename show up as Create or Rename on the directory.
const fileEvents = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove | fsnotify.Chmod

// Watch reloads the config whenever the file changes, until ctx ends.
// The directory is watched rather than the file so atomic saves are seen.
func (m *ConfigManager) Watch(ctx context.Context) error {
	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	deb := &debouncer{delay: reloadDebounce, fn: func() {
		if _, err := m.Reload(ctx); err != nil {
			m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
		}
	}}
	defer deb.stop()

	delay := rewatchMin
	for ctx.Err() == nil {
		w, err := openWatcher(dir)
		if err != nil {
			m.log.Warn("config watcher unavailable", logx.String("dir", dir), logx.Duration("retry_in", delay), logx.Err(err))
		} else {
			delay = rewatchMin
			m.follow(ctx, w, name, deb.trigger)
			_ = w.Close()
			if ctx.Err() != nil {
				break
			}
			m.log.Warn("config watcher broke, recreating", logx.String("dir", dir), logx.Duration("retry_in", delay))
		}
		if !pause(ctx, delay+rand.N(delay/2+1)) {
			break
		}
		delay = min(delay*2, rewatchMax)
	}
	return nil
}

func openWatcher(dir string) (*fsnotify.Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

// follow forwards relevant events to trigger until ctx ends or w breaks.
func (m *ConfigManager) follow(ctx context.Context, w *fsnotify.Watcher, name string, trigger func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&fileEvents != 0 && strings.EqualFold(filepath.Base(ev.Name), name) {
				trigger()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err == fsnotify.ErrEventOverflow {
				m.log.Warn("config watch overflow, reloading anyway")
				trigger()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}

// debouncer collapses bursts of triggers into one call of fn after delay.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu sync.Mutex
	t  *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
	d.t = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.t != nil {
		d.t.Stop()
	}
}

func pause(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
