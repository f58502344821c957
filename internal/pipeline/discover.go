package pipeline

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/backmassage/framemerge/internal/naming"
	"github.com/backmassage/framemerge/internal/planner"
	"github.com/backmassage/framemerge/internal/settle"
)

// ScanFrames lists dir (non-recursively), keeps the files whose names match
// pattern and that s reports as settled, and returns them sorted by index.
// The state file, temp files and marker files never match the pattern.
// A directory that cannot be read yields a *ScannerIOError.
func ScanFrames(dir string, pattern naming.Pattern, s settle.Settler) ([]planner.Frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &ScannerIOError{Dir: dir, Err: err}
	}

	frames := make([]planner.Frame, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, ok := pattern.Parse(e.Name())
		if !ok {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if !s.IsSettled(path) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Deleted between listing and stat.
			continue
		}
		frames = append(frames, planner.Frame{Index: idx, Path: path, Size: info.Size()})
	}
	sort.Slice(frames, func(i, j int) bool { return frames[i].Index < frames[j].Index })
	return frames, nil
}
