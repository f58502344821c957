// Package settle decides whether a frame file written by the producer is
// complete. The producer gives no completion signal of its own, so each
// Settler applies a heuristic: file age, size stability across scans, a
// marker file, or the existence of the following frame.
package settle

import (
	"os"
	"path/filepath"
	"time"

	"github.com/backmassage/framemerge/internal/config"
	"github.com/backmassage/framemerge/internal/naming"
)

// Settler reports whether the file at path is fully written.
type Settler interface {
	IsSettled(path string) bool
}

// Quiescence accepts non-empty files whose modification time is at least
// Age in the past.
type Quiescence struct {
	Age time.Duration
	Now func() time.Time // Defaults to time.Now.
}

func (q Quiescence) IsSettled(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 {
		return false
	}
	now := time.Now
	if q.Now != nil {
		now = q.Now
	}
	return now().Sub(fi.ModTime()) >= q.Age
}

type sample struct {
	size    int64
	modTime time.Time
}

// Stable accepts a non-empty file once its size and modification time are
// unchanged between two consecutive calls. It is not safe for concurrent
// use.
type Stable struct {
	seen map[string]sample
}

// NewStable returns an empty Stable settler.
func NewStable() *Stable {
	return &Stable{seen: make(map[string]sample)}
}

func (s *Stable) IsSettled(path string) bool {
	fi, err := os.Stat(path)
	if err != nil || !fi.Mode().IsRegular() || fi.Size() == 0 {
		delete(s.seen, path)
		return false
	}
	cur := sample{size: fi.Size(), modTime: fi.ModTime()}
	prev, ok := s.seen[path]
	s.seen[path] = cur
	return ok && prev == cur
}

// Forget drops the samples of paths that were merged and deleted.
func (s *Stable) Forget(path string) {
	delete(s.seen, path)
}

// Marker accepts a file once a sibling named path+Suffix exists.
type Marker struct {
	Suffix string
}

func (m Marker) IsSettled(path string) bool {
	if _, err := os.Stat(path); err != nil {
		return false
	}
	_, err := os.Stat(path + m.Suffix)
	return err == nil
}

// Successor accepts frame N once frame N+1 exists, on the assumption that
// the producer writes frames in order and finishes one before starting the
// next. The final frame therefore never settles through this rule alone.
type Successor struct {
	Pattern naming.Pattern
}

func (s Successor) IsSettled(path string) bool {
	dir, name := filepath.Split(path)
	idx, ok := s.Pattern.Parse(name)
	if !ok {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}
	_, err := os.Stat(s.Pattern.Path(dir, idx+1))
	return err == nil
}

// anySettler accepts a file when any of its members does.
type anySettler []Settler

// Any combines settlers: a file is settled when at least one of them says so.
func Any(s ...Settler) Settler { return anySettler(s) }

func (a anySettler) IsSettled(path string) bool {
	for _, s := range a {
		if s.IsSettled(path) {
			return true
		}
	}
	return false
}

// FromConfig builds the settler selected by cfg. The successor rule is
// combined with quiescence so the last frame of a finished producer still
// settles.
func FromConfig(cfg *config.Config, pattern naming.Pattern) Settler {
	switch cfg.SettleMode {
	case config.SettleStable:
		return NewStable()
	case config.SettleMarker:
		return Marker{Suffix: cfg.MarkerSuffix}
	case config.SettleSuccessor:
		return Any(Successor{Pattern: pattern}, Quiescence{Age: 10 * cfg.SettleTime})
	default:
		return Quiescence{Age: cfg.SettleTime}
	}
}
