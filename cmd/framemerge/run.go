package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/backmassage/framemerge/internal/check"
	"github.com/backmassage/framemerge/internal/config"
	"github.com/backmassage/framemerge/internal/display"
	"github.com/backmassage/framemerge/internal/logging"
	"github.com/backmassage/framemerge/internal/pipeline"
	"github.com/backmassage/framemerge/internal/state"
)

func newRunCmd(cfg *config.Config, binder *config.Binder) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a merge, or continue one with --resume",
		Example: `  framemerge run -i movie.mkv -w /scratch/frames -o movie-upscaled.mp4
  framemerge run --resume /scratch/frames`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Phase 1: Bootstrap. The logger does not exist yet, so errors are
			// printed by main.
			if err := binder.Finish(cmd.Flags()); err != nil {
				return configErr(err)
			}
			if err := cfg.Validate(); err != nil {
				return configErr(err)
			}
			log, err := logging.NewLogger(cfg)
			if err != nil {
				return configErr(err)
			}
			defer log.Close()

			// Phase 2: Logger available.
			display.PrintBanner(os.Stdout)
			log.Info("=== framemerge v%s (%s) ===", version, commit)

			// On resume the encoder settings come from the saved state.
			if cfg.Mode() == config.ModeResume {
				if st, err := state.Load(cfg.ResumeDir); err == nil {
					cfg.Encoder = st.Encoder
				}
			}
			if err := check.CheckDeps(cfg); err != nil {
				log.Error("%v", err)
				return &exitError{code: exitFatal, err: err, quiet: true}
			}

			// Phase 3: Signal handling. The daemon stops between batches; an
			// encode in progress always finishes.
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case <-sigCh:
					log.Warn("Received interrupt, finishing current batch…")
					cancel()
				case <-ctx.Done():
				}
			}()

			// Phase 4: Run the daemon.
			res := pipeline.NewDaemon(cfg, log, pipeline.DefaultDeps(cfg)).Run(ctx)
			return resultError(res)
		},
	}
	binder.BindRun(cmd.Flags())
	return cmd
}

// resultError maps a daemon result onto an exit code. A clean interrupt is
// a success: the merge can be resumed.
func resultError(res pipeline.Result) error {
	switch res.Status {
	case pipeline.Completed, pipeline.Interrupted:
		return nil
	}
	if pipeline.IsConfigError(res.Err) {
		return &exitError{code: exitConfig, err: res.Err, quiet: true}
	}
	return &exitError{code: exitFatal, err: res.Err, quiet: true}
}
