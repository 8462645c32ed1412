package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/unkn0wn-root/tiercache"
)

const reloadDebounce = 250 * time.Millisecond

// Tunable is the part of the cache that can change while running.
type Tunable interface {
	SetPolicy(tiercache.Policy)
	SetFeedLayout(tiercache.FeedLayout)
}

// Watcher reloads the TTL policy and feed layout when the config file
// changes. Everything else in the file needs a restart.
type Watcher struct {
	path   string
	target Tunable
	log    tiercache.Logger
	fs     *fsnotify.Watcher

	mu       sync.Mutex
	debounce *time.Timer
	onReload func(*Config, error)

	done chan struct{}
	stop chan struct{}
	once sync.Once
}

// Watch starts watching path. The directory is watched rather than the file
// so editors that replace the file on save are still seen.
func Watch(path string, target Tunable, log tiercache.Logger) (*Watcher, error) {
	if log == nil {
		log = tiercache.NopLogger{}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w := &Watcher{
		path:   abs,
		target: target,
		log:    log,
		fs:     fw,
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go w.loop()
	log.Info("watching config for policy changes", tiercache.Fields{"path": abs})
	return w, nil
}

// OnReload registers fn to run after every reload attempt, with the new
// config or the error that kept the old one in place.
func (w *Watcher) OnReload(fn func(*Config, error)) {
	w.mu.Lock()
	w.onReload = fn
	w.mu.Unlock()
}

// Close stops the watcher and waits for its loop to exit.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stop)
		err = w.fs.Close()
		<-w.done
		w.mu.Lock()
		if w.debounce != nil {
			w.debounce.Stop()
		}
		w.mu.Unlock()
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) && !ev.Op.Has(fsnotify.Rename) {
				continue
			}
			w.schedule()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Error("config watcher error", tiercache.Fields{"err": err})
		case <-w.stop:
			return
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(reloadDebounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.stop:
		return
	default:
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.log.Error("config reload failed; keeping previous policy", tiercache.Fields{"path": w.path, "err": err})
	} else {
		w.target.SetPolicy(cfg.Cache.Policy.Policy())
		w.target.SetFeedLayout(cfg.Cache.Feed.Layout())
	}

	w.mu.Lock()
	fn := w.onReload
	w.mu.Unlock()
	if fn != nil {
		fn(cfg, err)
	}
}

// WatchPolicy keeps the stack's cache policy in sync with path until the
// stack is closed.
func (s *Stack) WatchPolicy(path string) (*Watcher, error) {
	w, err := Watch(path, s.Cache, s.Logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func(context.Context) error { return w.Close() })
	return w, nil
}
