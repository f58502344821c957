package planner

import "sort"

// PlanNextBatch returns the next batch to encode, or false when none is
// ready.
//
// frames need not be sorted and may contain indices at or below lastMerged
// (leftovers of an interrupted reclaim); those are ignored. A batch starts at
// exactly lastMerged+1 and holds batchSize consecutive frames. When flush is
// set, a shorter contiguous run is returned as well. A missing lastMerged+1
// yields no batch even when later frames exist.
func PlanNextBatch(frames []Frame, lastMerged, batchSize int, flush bool) (Batch, bool) {
	if batchSize <= 0 {
		return Batch{}, false
	}
	run := contiguous(frames, lastMerged+1, batchSize)
	if len(run) == 0 {
		return Batch{}, false
	}
	if len(run) < batchSize && !flush {
		return Batch{}, false
	}
	return Batch{
		Start:  run[0].Index,
		End:    run[len(run)-1].Index,
		Frames: run,
	}, true
}

// ContiguousRun returns how many consecutive frames starting at index from
// are present in frames.
func ContiguousRun(frames []Frame, from int) int {
	return len(contiguous(frames, from, -1))
}

// contiguous collects up to limit frames with consecutive indices starting
// at from (limit < 0 means no limit). Duplicate indices keep the first seen.
func contiguous(frames []Frame, from, limit int) []Frame {
	byIndex := make([]Frame, 0, len(frames))
	for _, f := range frames {
		if f.Index >= from {
			byIndex = append(byIndex, f)
		}
	}
	sort.SliceStable(byIndex, func(i, j int) bool { return byIndex[i].Index < byIndex[j].Index })

	var run []Frame
	next := from
	for _, f := range byIndex {
		if limit >= 0 && len(run) == limit {
			break
		}
		if f.Index < next {
			continue
		}
		if f.Index != next {
			break
		}
		run = append(run, f)
		next++
	}
	return run
}
