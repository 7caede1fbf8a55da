package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/Ning0612/bulkupload/internal/adapter"
	"github.com/Ning0612/bulkupload/internal/config"
	"github.com/Ning0612/bulkupload/internal/core/scan"
	"github.com/Ning0612/bulkupload/internal/domain"
	"github.com/Ning0612/bulkupload/internal/logger"
	"github.com/Ning0612/bulkupload/internal/progress"
	"github.com/Ning0612/bulkupload/internal/service"
	"github.com/Ning0612/bulkupload/internal/state"
)

// cli holds the streams and collaborators shared by every command
type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// interactive is set when stdin is a terminal; menus are only shown then
	interactive bool
	prompt      prompter
	fs          afero.Fs

	// newAdapter builds the remote store; replaced in tests
	newAdapter func(ctx context.Context, cfg *config.Config) (adapter.Adapter, error)

	configPath string
	cfg        *config.Config
}

func newCLI(stdin io.Reader, stdout, stderr io.Writer) *cli {
	interactive := false
	if f, ok := stdin.(*os.File); ok {
		interactive = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	return &cli{
		stdin:       stdin,
		stdout:      stdout,
		stderr:      stderr,
		interactive: interactive,
		prompt:      newPromptUI(stdin, stdout),
		fs:          afero.NewOsFs(),
		newAdapter:  service.NewAdapter,
	}
}

// run executes the command line and returns the process exit code
func (c *cli) run(ctx context.Context, args []string) int {
	root := c.newRootCmd()
	root.SetArgs(args)
	root.SetIn(c.stdin)
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	err := root.ExecuteContext(ctx)
	logger.Shutdown()

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(c.stderr, "Cancelled. Completed files are recorded; run again to resume.")
	case errors.Is(err, errMismatch):
		// already reported
	default:
		prefix := "Error:"
		if isTerminal(c.stderr) {
			prefix = red(prefix)
		}
		fmt.Fprintf(c.stderr, "%s %v\n", prefix, err)
	}
	return exitCode(err)
}

func (c *cli) newRootCmd() *cobra.Command {
	var opts uploadOptions

	root := &cobra.Command{
		Use:   "bulkupload [identifier] [local_directory]",
		Short: "Upload a directory tree to a remote item, resuming where the last run stopped",
		Long: `bulkupload sends every file below local_directory to the remote item named
identifier. A local ledger remembers which files were uploaded, so an
interrupted run continues with the files that are still missing.

Without arguments an interactive menu offers the identifiers used before.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          usageArgs(cobra.MaximumNArgs(2)),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.setup()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runUpload(cmd.Context(), args, opts)
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", errUsage, err)
	})

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "config file (default: search ./config.yaml, ~/.config/bulkupload)")
	root.Flags().SortFlags = false
	root.Flags().BoolVarP(&opts.dryRun, "dry-run", "n", false, "show what would be uploaded without uploading")
	root.Flags().BoolVar(&opts.noVerify, "no-verify", false, "skip the verification pass")
	root.Flags().BoolVar(&opts.strict, "strict", false, "exit with status 5 when verification finds mismatches")

	root.AddCommand(
		c.newVerifyCmd(),
		c.newLedgerCmd(),
		c.newHistoryCmd(),
		c.newWatchCmd(),
		c.newStopCmd(),
		c.newScriptCmd(),
		c.newAuthCmd(),
	)
	return root
}

// usageArgs marks argument count errors as usage errors
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := check(cmd, args); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		return nil
	}
}

// setup loads the configuration and starts logging
func (c *cli) setup() error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	c.cfg = cfg

	lc := cfg.LoggerConfig()
	lc.Console = c.stderr
	if err := logger.Init(lc); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.Get().Debug("configuration loaded", "file", cfg.ConfigFile, "transport", cfg.Transport, "data_dir", cfg.DataDir)
	return nil
}

// session is an opened ledger and remote store
type session struct {
	state *state.Manager
	store adapter.Adapter
	svc   *service.SyncService
}

func (s *session) Close() {
	if err := s.store.Close(); err != nil {
		logger.Get().Warn("failed to close remote store", "error", err)
	}
	if err := s.state.Close(); err != nil {
		logger.Get().Warn("failed to close ledger", "error", err)
	}
}

func (c *cli) openState() (*state.Manager, error) {
	st, err := state.NewManager(c.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return st, nil
}

func (c *cli) open(ctx context.Context) (*session, error) {
	st, err := c.openState()
	if err != nil {
		return nil, err
	}

	store, err := c.newAdapter(ctx, c.cfg)
	if err != nil {
		st.Close()
		return nil, err
	}

	svc, err := service.NewSyncService(c.cfg, store, st)
	if err != nil {
		store.Close()
		st.Close()
		return nil, err
	}
	svc.SetProgressReporter(progress.NewCallbackReporter(
		progress.WriterCallback(c.stderr, isTerminal(c.stderr)),
	))
	return &session{state: st, store: store, svc: svc}, nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// resolveTarget turns positional arguments into an identifier and a
// directory, falling back to the identifier memory and, on a terminal, to
// the interactive menu. The choice is remembered for the next run.
func (c *cli) resolveTarget(args []string) (string, string, error) {
	memory, err := config.LoadIdentifiers(c.fs, c.cfg.DataDir)
	if err != nil {
		return "", "", err
	}

	var identifier, dir string
	switch len(args) {
	case 2:
		identifier, dir = args[0], args[1]
	case 1:
		identifier = args[0]
	case 0:
		if !c.interactive {
			return "", "", fmt.Errorf("%w: identifier and local_directory are required", errUsage)
		}
		identifier, err = c.prompt.SelectIdentifier(memory.Names())
		if err != nil {
			return "", "", err
		}
	}

	if err := domain.ValidateIdentifier(identifier); err != nil {
		return "", "", err
	}

	if dir == "" {
		remembered, known := memory.Dir(identifier)
		switch {
		case c.interactive:
			dir, err = c.prompt.Directory(remembered)
			if err != nil {
				return "", "", err
			}
		case known:
			dir = remembered
		default:
			return "", "", fmt.Errorf("%w: no local_directory given and none remembered for %s", errUsage, identifier)
		}
	}
	dir = config.ExpandPath(dir)
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	// only remember directories that exist
	if scan.Validate(c.fs, dir) == nil && memory.Remember(identifier, dir) == nil {
		if err := memory.Save(); err != nil {
			logger.Get().Warn("failed to save identifier memory", "path", memory.Path(), "error", err)
		}
	}
	return identifier, dir, nil
}
