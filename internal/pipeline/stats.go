package pipeline

import "time"

// RunStats tracks counters and byte totals for one daemon run.
type RunStats struct {
	StartedAt time.Time

	Batches           int   // Batches committed by this run.
	Frames            int   // Frames committed by this run.
	OutputBytes       int64 // Current output size.
	Reclaimed         int   // Frame files deleted.
	ReclaimFailures   int   // Frame files that could not be deleted.
	TransientFailures int   // Failed appends that were retried.
	SpaceWaits        int   // Cycles skipped for lack of disk space.
	EncodeTime        time.Duration
}

// Elapsed returns the wall time since the run started.
func (s *RunStats) Elapsed() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	return time.Since(s.StartedAt)
}
