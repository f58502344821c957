package planner

// Frame is a settled frame file found by a scan.
type Frame struct {
	Index int    // Parsed from the file name.
	Path  string // Absolute or work-dir-relative path.
	Size  int64  // Bytes on disk at scan time.
}

// Batch is a contiguous run of frames [Start, End] to be appended to the
// output in one encode.
type Batch struct {
	Start  int
	End    int
	Frames []Frame
}

// Len returns the number of frames in the batch.
func (b Batch) Len() int { return len(b.Frames) }

// Bytes returns the total size of the batch's frame files.
func (b Batch) Bytes() int64 {
	var n int64
	for _, f := range b.Frames {
		n += f.Size
	}
	return n
}

// Paths returns the frame file paths in order.
func (b Batch) Paths() []string {
	paths := make([]string, len(b.Frames))
	for i, f := range b.Frames {
		paths[i] = f.Path
	}
	return paths
}
