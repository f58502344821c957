package pipeline

import (
	"os"
	"path/filepath"

	"github.com/backmassage/framemerge/internal/fsx"
	"github.com/backmassage/framemerge/internal/naming"
	"github.com/backmassage/framemerge/internal/planner"
)

// DeleteBatchFrames removes the frame files of a committed batch and their
// completion markers (path+markerSuffix) when present. Files that are
// already gone are not errors. It must only be called once the batch is in
// the output and the state has been saved. Returns the number of frame
// files removed.
func DeleteBatchFrames(b planner.Batch, markerSuffix string) (int, error) {
	rerr := &ReclaimError{}
	removed := 0
	for _, f := range b.Frames {
		if err := fsx.RemoveIfExists(f.Path); err != nil {
			rerr.add(f.Path, err)
			continue
		}
		removed++
		if markerSuffix != "" {
			if err := fsx.RemoveIfExists(f.Path + markerSuffix); err != nil {
				rerr.add(f.Path+markerSuffix, err)
			}
		}
	}
	return removed, rerr.orNil()
}

// ReclaimMerged removes frames in [from, to] still present in dir. They were
// merged by an earlier run that stopped before deleting them.
func ReclaimMerged(dir string, pattern naming.Pattern, from, to int, markerSuffix string) (int, error) {
	if to < from {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, &ScannerIOError{Dir: dir, Err: err}
	}

	var b planner.Batch
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		idx, ok := pattern.Parse(e.Name())
		if !ok || idx < from || idx > to {
			continue
		}
		b.Frames = append(b.Frames, planner.Frame{Index: idx, Path: filepath.Join(dir, e.Name())})
	}
	return DeleteBatchFrames(b, markerSuffix)
}
