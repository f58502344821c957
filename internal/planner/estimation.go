package planner

// SpaceEstimate is the disk space an append needs on the output device.
type SpaceEstimate struct {
	SegmentBytes int64 // Estimated encoded size of the batch.
	JoinBytes    int64 // Size of the joined temp file (output + segment).
	Known        bool  // SegmentBytes is based on committed batches, not frame sizes.
}

// Total is the peak extra space held while an append runs: the segment plus
// the joined copy, before the old output is replaced.
func (e SpaceEstimate) Total() int64 { return e.SegmentBytes + e.JoinBytes }

// EstimateSpace predicts the space an append of b needs given the current
// output size and the number of frames already in it. The encoded size per
// frame is taken from the existing output when there is one; otherwise the
// raw size of the frame files is used, which overestimates for lossy codecs.
func EstimateSpace(b Batch, outputBytes int64, mergedFrames int) SpaceEstimate {
	est := SpaceEstimate{SegmentBytes: b.Bytes()}
	if outputBytes > 0 && mergedFrames > 0 {
		perFrame := outputBytes / int64(mergedFrames)
		// Headroom for scene changes that encode larger than the average.
		est.SegmentBytes = perFrame * int64(b.Len()) * 3 / 2
		est.Known = true
	}
	if outputBytes > 0 {
		est.JoinBytes = outputBytes + est.SegmentBytes
	}
	return est
}
