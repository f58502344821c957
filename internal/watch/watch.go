// Package watch shortens the daemon's poll wait when new frame files
// appear. Polling stays the source of truth: a missed or dropped event only
// costs latency, never correctness.
package watch

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a wait continues after the first matching
// event, so that a burst of writes to one frame causes a single wake-up.
const DefaultDebounce = 500 * time.Millisecond

// Waker blocks between scans.
type Waker interface {
	// Wait returns after d, earlier when new work may be available, or
	// with ctx.Err() when ctx is canceled.
	Wait(ctx context.Context, d time.Duration) error
	Close() error
}

// Sleeper is a Waker that only sleeps.
type Sleeper struct{}

func (Sleeper) Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (Sleeper) Close() error { return nil }

// Watcher is a Waker that also wakes on file system events in one directory.
type Watcher struct {
	fsw      *fsnotify.Watcher
	match    func(name string) bool
	wake     chan struct{}
	debounce time.Duration

	mu     sync.Mutex
	events int
	errors int

	done chan struct{}
	once sync.Once
}

// New watches dir for created, written or renamed-in files whose base name
// satisfies match.
func New(dir string, match func(name string) bool) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{
		fsw:      fsw,
		match:    match,
		wake:     make(chan struct{}, 1),
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}
	go w.pump()
	return w, nil
}

// setDebounce changes the wait that follows the first matching event.
func (w *Watcher) setDebounce(d time.Duration) { w.debounce = d }

func (w *Watcher) pump() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if w.match != nil && !w.match(filepath.Base(ev.Name)) {
				continue
			}
			w.mu.Lock()
			w.events++
			w.mu.Unlock()
			select {
			case w.wake <- struct{}{}:
			default:
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.mu.Lock()
			w.errors++
			w.mu.Unlock()
		}
	}
}

// Wait blocks for d, or for the debounce interval after the first matching
// event when that is sooner.
func (w *Watcher) Wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer func() { t.Stop() }()
	deadline := time.Now().Add(d)
	woken := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			return nil
		case <-w.wake:
			if woken {
				continue
			}
			woken = true
			if time.Until(deadline) > w.debounce {
				t.Stop()
				t = time.NewTimer(w.debounce)
			}
		}
	}
}

// Stats returns the number of matching events and watcher errors seen.
func (w *Watcher) Stats() (events, errors int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events, w.errors
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.fsw.Close()
		<-w.done
	})
	return err
}
