package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/backmassage/framemerge/internal/check"
	"github.com/backmassage/framemerge/internal/config"
	"github.com/backmassage/framemerge/internal/display"
	"github.com/backmassage/framemerge/internal/encoder"
	"github.com/backmassage/framemerge/internal/ffmpeg"
	"github.com/backmassage/framemerge/internal/logging"
	"github.com/backmassage/framemerge/internal/planner"
	"github.com/backmassage/framemerge/internal/settle"
	"github.com/backmassage/framemerge/internal/watch"
)

// minPoll bounds how often the work directory is rescanned.
const minPoll = 50 * time.Millisecond

// RunState is the phase of the daemon loop.
type RunState int

const (
	StateInit RunState = iota
	StateWaiting
	StateEncoding
	StateShuttingDown
	StateDone
)

func (s RunState) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateWaiting:
		return "waiting"
	case StateEncoding:
		return "encoding"
	case StateShuttingDown:
		return "shutting down"
	case StateDone:
		return "done"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// Status is how a run ended.
type Status int

const (
	Completed   Status = iota // Every expected frame merged and finalized.
	Interrupted               // Context canceled; state is consistent and resumable.
	Failed                    // Fatal error; Result.Err says why.
)

func (s Status) String() string {
	switch s {
	case Completed:
		return "completed"
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the outcome of Daemon.Run.
type Result struct {
	Status Status
	Err    error
	Stats  RunStats
}

// Daemon runs the merge loop: scan, plan, encode, persist, reclaim, wait.
// Everything happens on the goroutine that calls Run.
type Daemon struct {
	cfg  *config.Config
	log  *logging.Logger
	deps Deps

	phase   RunState
	sess    *Session
	settler settle.Settler
	waker   watch.Waker
	retry   *ffmpeg.RetryState
	stats   RunStats

	// Flush-idle tracking: the highest settled index seen and when it last
	// grew.
	highest      int
	lastProgress time.Time
	warnedPast   bool

	now func() time.Time
}

// NewDaemon returns a daemon for cfg. Zero fields of deps use the real
// backends.
func NewDaemon(cfg *config.Config, log *logging.Logger, deps Deps) *Daemon {
	return &Daemon{
		cfg:     cfg,
		log:     log,
		deps:    deps,
		retry:   ffmpeg.NewRetryState(cfg.MaxRetries),
		highest: -1,
		now:     time.Now,
	}
}

// Phase returns the current loop phase.
func (d *Daemon) Phase() RunState { return d.phase }

// Stats returns the counters of the current run.
func (d *Daemon) Stats() RunStats { return d.stats }

// Run opens the merge and loops until every expected frame is merged, ctx
// is canceled, or a fatal error occurs. Cancellation is honored between
// batches and while waiting, never during an append.
func (d *Daemon) Run(ctx context.Context) Result {
	d.stats.StartedAt = d.now()
	d.lastProgress = d.stats.StartedAt
	d.setPhase(StateInit)

	sess, err := Open(ctx, d.cfg, d.log, d.deps)
	if err != nil {
		return d.finish(Failed, err)
	}
	d.sess = sess
	if err := d.log.OpenFile(); err != nil {
		d.log.Warn("Cannot open log file, logging to the console only: %v", err)
	}
	if sess.State.Merged() > 0 {
		d.highest = sess.State.LastMergedIndex
	}
	if fi, err := os.Stat(sess.Encoder.Output()); err == nil {
		d.stats.OutputBytes = fi.Size()
	}

	d.settler = d.deps.Settler
	if d.settler == nil {
		d.settler = settle.FromConfig(d.cfg, sess.Pattern)
	}
	d.waker = d.newWaker()
	defer d.closeWaker()

	logRunHeader(d.cfg, d.log, sess)

	for {
		d.setPhase(StateWaiting)
		if ctx.Err() != nil {
			d.log.Warn("Interrupted")
			return d.finish(Interrupted, nil)
		}

		st := sess.State
		if st.Complete() {
			retryLater, err := d.finalize(ctx)
			if err != nil {
				return d.finish(Failed, err)
			}
			if !retryLater {
				return d.finish(Completed, nil)
			}
			if err := d.wait(ctx); err != nil {
				d.log.Warn("Interrupted")
				return d.finish(Interrupted, nil)
			}
			continue
		}

		frames, err := ScanFrames(st.WorkDir, sess.Pattern, d.settler)
		if err != nil {
			return d.finish(Failed, err)
		}
		frames = d.dropPastEnd(frames)

		b, ok := planner.PlanNextBatch(frames, st.LastMergedIndex, st.BatchSize, d.shouldFlush(frames))
		if !ok {
			d.log.Debug("No batch ready at frame %d (%d settled frames on disk)", st.NextIndex(), len(frames))
			if err := d.wait(ctx); err != nil {
				d.log.Warn("Interrupted")
				return d.finish(Interrupted, nil)
			}
			continue
		}

		d.setPhase(StateEncoding)
		retryLater, err := d.encode(ctx, b)
		if err != nil {
			return d.finish(Failed, err)
		}
		if retryLater {
			if err := d.wait(ctx); err != nil {
				d.log.Warn("Interrupted")
				return d.finish(Interrupted, nil)
			}
		}
	}
}

func (d *Daemon) setPhase(p RunState) {
	if d.phase != p {
		d.log.Debug("Daemon: %s -> %s", d.phase, p)
	}
	d.phase = p
}

// newWaker returns the injected waker, an fsnotify watcher on the work
// directory, or a plain sleeper when watching is off or unavailable.
func (d *Daemon) newWaker() watch.Waker {
	if d.deps.Waker != nil {
		return d.deps.Waker
	}
	if !d.cfg.Watch {
		return watch.Sleeper{}
	}
	pattern, suffix := d.sess.Pattern, d.cfg.MarkerSuffix
	w, err := watch.New(d.sess.State.WorkDir, func(name string) bool {
		if suffix != "" {
			name = strings.TrimSuffix(name, suffix)
		}
		_, ok := pattern.Parse(name)
		return ok
	})
	if err != nil {
		d.log.Warn("File watching unavailable, polling only: %v", err)
		return watch.Sleeper{}
	}
	return w
}

func (d *Daemon) closeWaker() {
	if w, ok := d.waker.(*watch.Watcher); ok {
		events, errs := w.Stats()
		d.log.Debug("Watcher: %d frame events, %d errors", events, errs)
	}
	_ = d.waker.Close()
}

// wait sleeps for the poll interval or until the waker fires. It returns an
// error only when ctx is canceled.
func (d *Daemon) wait(ctx context.Context) error {
	interval := time.Duration(d.sess.State.PollInterval)
	if interval < minPoll {
		interval = minPoll
	}
	return d.waker.Wait(ctx, interval)
}

// dropPastEnd removes frames beyond the final expected index.
func (d *Daemon) dropPastEnd(frames []planner.Frame) []planner.Frame {
	final := d.sess.State.FinalIndex()
	if final < 0 {
		return frames
	}
	kept := frames[:0]
	for _, f := range frames {
		if f.Index > final {
			if !d.warnedPast {
				d.log.Warn("Ignoring frame %d and later: past the final frame %d", f.Index, final)
				d.warnedPast = true
			}
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// shouldFlush decides whether an undersized contiguous tail may be merged:
// when it reaches the final frame, or when no new frame has settled for
// FlushIdle.
func (d *Daemon) shouldFlush(frames []planner.Frame) bool {
	st := d.sess.State
	next := st.NextIndex()
	run := planner.ContiguousRun(frames, next)

	if n := len(frames); n > 0 && frames[n-1].Index > d.highest {
		d.highest = frames[n-1].Index
		d.lastProgress = d.now()
	}
	if run == 0 {
		return false
	}
	if final := st.FinalIndex(); final >= 0 && next+run-1 >= final {
		return true
	}
	if d.cfg.FlushIdle > 0 && run < st.BatchSize {
		if idle := d.now().Sub(d.lastProgress); idle >= d.cfg.FlushIdle {
			d.log.Info("No new frames for %s, flushing %d pending frames", idle.Round(time.Second), run)
			return true
		}
	}
	return false
}

// encode appends b and commits it. retryLater is set when the batch was not
// merged for a recoverable reason (transient failure, low disk space); err
// is set when the daemon must stop.
func (d *Daemon) encode(ctx context.Context, b planner.Batch) (retryLater bool, err error) {
	st := d.sess.State
	enc := d.sess.Encoder

	// --- Disk space guard ---
	est := planner.EstimateSpace(b, d.stats.OutputBytes, st.Merged())
	basis := "frame sizes"
	if est.Known {
		basis = "output so far"
	}
	d.log.Debug("Space for %s: about %s (from %s)",
		display.FormatRange(b.Start, b.End), display.FormatBytes(est.Total()), basis)
	need := est.Total() + d.cfg.MinFreeBytes
	if err := check.EnsureSpace(d.deps.FreeSpace, st.OutputPath, need); err != nil {
		if check.IsInsufficientSpace(err) {
			d.stats.SpaceWaits++
			d.log.Warn("Waiting for disk space before %s: %v", display.FormatRange(b.Start, b.End), err)
			return true, nil
		}
		d.log.Warn("Cannot check free space, encoding anyway: %v", err)
	}

	// --- Append ---
	d.log.Info("Encoding %s", display.FormatRange(b.Start, b.End))
	commit, err := enc.Append(ctx, b)
	if err != nil {
		return d.failed("Append", err)
	}
	d.retry.Reset()

	// --- Persist ---
	if err := st.Advance(b.Start, b.End, commit.OutputBytes); err != nil {
		return false, err
	}
	if err := st.Save(); err != nil {
		return false, err
	}
	d.stats.Batches++
	d.stats.Frames += b.Len()
	d.stats.OutputBytes = commit.OutputBytes
	d.stats.EncodeTime += commit.Elapsed
	d.log.Success("Merged %s in %s (%s); output %s, %s",
		display.FormatRange(b.Start, b.End),
		commit.Elapsed.Round(time.Millisecond),
		display.FormatRate(b.Len(), commit.Elapsed),
		display.FormatBytes(commit.OutputBytes),
		display.FormatProgress(st.Merged(), st.TotalFrames))

	// --- Reclaim ---
	d.reclaim(b)
	return false, nil
}

// failed spends one attempt of the retry budget on a transient error.
// Anything else, or an exhausted budget, stops the daemon.
func (d *Daemon) failed(op string, err error) (retryLater bool, _ error) {
	var te *encoder.TransientError
	if !errors.As(err, &te) {
		return false, err
	}
	d.stats.TransientFailures++
	if !d.retry.Advance(te.Category) {
		logStderr(d.log, te.Stderr)
		return false, fmt.Errorf("giving up after %d consecutive failures: %w", d.retry.Attempt, err)
	}
	d.log.Warn("%s failed (%s, attempt %d), will retry: %v", op, d.retry.Last, d.retry.Attempt, err)
	if te.Stderr != "" && d.log.Verbose() {
		logStderr(d.log, te.Stderr)
	}
	return true, nil
}

func (d *Daemon) reclaim(b planner.Batch) {
	n, err := DeleteBatchFrames(b, d.cfg.MarkerSuffix)
	d.stats.Reclaimed += n
	if f, ok := d.settler.(interface{ Forget(path string) }); ok {
		for _, p := range b.Paths() {
			f.Forget(p)
		}
	}
	if err != nil {
		var re *ReclaimError
		if errors.As(err, &re) {
			d.stats.ReclaimFailures += len(re.Paths)
		}
		d.log.Warn("%v", err)
		return
	}
	d.log.Debug("Deleted %d frames (%s)", n, display.FormatBytes(b.Bytes()))
}

// finalize muxes audio once every frame is merged and records it. A
// transient failure leaves the output untouched and is retried like an
// append.
func (d *Daemon) finalize(ctx context.Context) (retryLater bool, err error) {
	st := d.sess.State
	if st.Finalized {
		return false, nil
	}
	if err := d.sess.Encoder.Finalize(ctx); err != nil {
		return d.failed("Audio mux", err)
	}
	d.retry.Reset()
	st.Finalized = true
	if err := st.Save(); err != nil {
		return false, err
	}
	if d.cfg.MuxAudio && d.sess.Source.HasAudio {
		d.log.Success("Added audio from %s", st.SourcePath)
	}
	return false, nil
}

func (d *Daemon) finish(status Status, err error) Result {
	d.setPhase(StateShuttingDown)
	res := Result{Status: status, Err: err, Stats: d.stats}
	logSummary(d.log, d.sess, res)
	d.setPhase(StateDone)
	return res
}

// --- Logging helpers ---

func logStderr(log *logging.Logger, stderr string) {
	if stderr == "" {
		return
	}
	log.Error("Last ffmpeg output:")
	lines := strings.Split(strings.TrimSpace(stderr), "\n")
	start := 0
	if len(lines) > 20 {
		start = len(lines) - 20
	}
	for _, l := range lines[start:] {
		log.Error("  %s", l)
	}
}

func logRunHeader(cfg *config.Config, log *logging.Logger, sess *Session) {
	st := sess.State
	p := st.Encoder
	log.Info("Encoder: %s preset %s crf %d %s", p.Codec, p.Preset, p.CRF, p.PixFmt)
	if st.TotalFrames > 0 {
		log.Info("Expecting %d frames, final index %d", st.TotalFrames, st.FinalIndex())
	}
	log.Info("Settle: %s; poll every %s", cfg.SettleMode, time.Duration(st.PollInterval))
	if cfg.FlushIdle > 0 {
		log.Info("Flush: pending frames after %s without progress", cfg.FlushIdle)
	}
	if cfg.MuxAudio && sess.Source.HasAudio {
		log.Info("Audio: muxed from the source once all frames are merged")
	}
}

func logSummary(log *logging.Logger, sess *Session, res Result) {
	s := res.Stats
	log.Info("==============================")
	switch res.Status {
	case Completed:
		log.Success("Merge complete")
	case Interrupted:
		log.Warn("Merge interrupted; resume with --resume")
	case Failed:
		log.Error("Merge failed: %v", res.Err)
	}
	if sess == nil {
		return
	}
	st := sess.State
	log.Info("  This run: %d batches, %d frames in %s (%s)",
		s.Batches, s.Frames, s.Elapsed().Round(time.Second), display.FormatRate(s.Frames, s.EncodeTime))
	log.Info("  Merged:   %s, last frame %d", display.FormatProgress(st.Merged(), st.TotalFrames), st.LastMergedIndex)
	if s.Reclaimed > 0 || s.ReclaimFailures > 0 {
		log.Info("  Deleted:  %d frames (%d could not be deleted)", s.Reclaimed, s.ReclaimFailures)
	}
	if s.TransientFailures > 0 || s.SpaceWaits > 0 {
		log.Info("  Retries:  %d failed appends, %d waits for disk space", s.TransientFailures, s.SpaceWaits)
	}
	log.Info("  Output:   %s", st.OutputPath)
}
