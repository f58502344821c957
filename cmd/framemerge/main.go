// Command framemerge merges frame images, written into a work directory by
// an external producer, into a growing video and deletes them once they are
// safely encoded. A merge can be interrupted and resumed at any time.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/backmassage/framemerge/internal/config"
)

// version and commit are injected at build time via -ldflags.
var (
	version = "1.0.0"
	commit  = "unknown"
)

// Exit codes.
const (
	exitOK     = 0
	exitUsage  = 1 // Unexpected error or bad command line.
	exitConfig = 2 // Configuration error; nothing was changed.
	exitFatal  = 3 // Runtime or encoder failure.
)

// exitError carries the process exit code of a command. quiet errors were
// already reported through the logger.
type exitError struct {
	code  int
	err   error
	quiet bool
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func configErr(err error) error { return &exitError{code: exitConfig, err: err} }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg := config.DefaultConfig()
	root := newRootCmd(&cfg)
	root.SetArgs(args)
	err := root.Execute()
	if err == nil {
		return exitOK
	}

	var ee *exitError
	if errors.As(err, &ee) {
		if !ee.quiet {
			fmt.Fprintf(os.Stderr, "framemerge: %v\n", err)
		}
		return ee.code
	}
	fmt.Fprintf(os.Stderr, "framemerge: %v\n", err)
	return exitUsage
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	binder := config.NewBinder(cfg)
	root := &cobra.Command{
		Use:     "framemerge",
		Short:   "Append frame images to a growing video as a producer writes them",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Long: `framemerge watches a work directory for frame images written by another
program (an upscaler, for example), encodes every full batch of consecutive
frames, appends it to the output video and deletes the frames. Progress is
saved after every batch; "framemerge run --resume <work-dir>" continues
where an interrupted run stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	binder.BindGlobal(root.PersistentFlags())

	root.AddCommand(newRunCmd(cfg, binder))
	root.AddCommand(newStatusCmd(cfg, binder))
	root.AddCommand(newCheckCmd(cfg, binder))
	return root
}
