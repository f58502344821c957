package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/backmassage/framemerge/internal/check"
	"github.com/backmassage/framemerge/internal/config"
	"github.com/backmassage/framemerge/internal/display"
	"github.com/backmassage/framemerge/internal/logging"
	"github.com/backmassage/framemerge/internal/naming"
	"github.com/backmassage/framemerge/internal/pipeline"
	"github.com/backmassage/framemerge/internal/settle"
	"github.com/backmassage/framemerge/internal/state"
)

func newStatusCmd(cfg *config.Config, binder *config.Binder) *cobra.Command {
	return &cobra.Command{
		Use:   "status WORK_DIR",
		Short: "Show the saved progress of a merge",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := binder.Finish(cmd.Flags()); err != nil {
				return configErr(err)
			}
			st, err := state.Load(args[0])
			if err != nil {
				return configErr(err)
			}
			return printStatus(cmd.OutOrStdout(), st)
		},
	}
}

func printStatus(w io.Writer, st *state.State) error {
	fmt.Fprintf(w, "Merge %s\n", st.RunID)
	fmt.Fprintf(w, "  Source:   %s\n", st.SourcePath)
	rate := st.FrameRate
	if st.VFR {
		rate += " (variable)"
	}
	fmt.Fprintf(w, "  Rate:     %s fps\n", rate)
	fmt.Fprintf(w, "  Frames:   %s from index %d\n", filepath.Join(st.WorkDir, st.FramePattern), st.StartIndex)
	fmt.Fprintf(w, "  Output:   %s\n", st.OutputPath)
	fmt.Fprintf(w, "  Encoder:  %s preset %s crf %d\n", st.Encoder.Codec, st.Encoder.Preset, st.Encoder.CRF)
	fmt.Fprintf(w, "  Merged:   %s\n", display.FormatProgress(st.Merged(), st.TotalFrames))
	fmt.Fprintf(w, "  Next:     frame %d\n", st.NextIndex())
	fmt.Fprintf(w, "  Batches:  %d of up to %d frames\n", len(st.Batches), st.BatchSize)

	if fi, err := os.Stat(st.OutputPath); err == nil {
		fmt.Fprintf(w, "  Size:     %s\n", display.FormatBytes(fi.Size()))
	}
	if n := len(st.Batches); n > 0 {
		last := st.Batches[n-1]
		fmt.Fprintf(w, "  Last:     %s at %s\n", display.FormatRange(last.Start, last.End),
			last.CommittedAt.Local().Format(time.DateTime))
	}

	if pattern, err := naming.ParsePattern(st.FramePattern); err == nil {
		frames, err := pipeline.ScanFrames(st.WorkDir, pattern, settle.Quiescence{})
		if err == nil {
			fmt.Fprintf(w, "  Pending:  %d frames on disk\n", len(frames))
		}
	}

	switch {
	case st.Finalized:
		fmt.Fprintln(w, "  State:    complete")
	case st.Complete():
		fmt.Fprintln(w, "  State:    all frames merged, not finalized")
	default:
		fmt.Fprintln(w, "  State:    in progress")
	}
	return nil
}

func newCheckCmd(cfg *config.Config, binder *config.Binder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check ffmpeg, ffprobe, the encoder and free disk space",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := binder.Finish(cmd.Flags()); err != nil {
				return configErr(err)
			}
			log, err := logging.NewLogger(cfg)
			if err != nil {
				return configErr(err)
			}
			defer log.Close()
			if err := log.OpenFile(); err != nil {
				return configErr(err)
			}

			display.PrintBanner(os.Stdout)
			check.RunCheck(cfg, log)
			if err := check.CheckDeps(cfg); err != nil {
				if errors.Is(err, check.ErrFfmpegNotFound) || errors.Is(err, check.ErrFfprobeNotFound) {
					log.Error("Install ffmpeg or point --ffmpeg/--ffprobe at it")
				}
				return &exitError{code: exitFatal, err: err, quiet: true}
			}
			log.Success("Ready")
			return nil
		},
	}
	binder.BindRun(cmd.Flags())
	return cmd
}
