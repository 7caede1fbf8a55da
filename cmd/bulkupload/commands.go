package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Ning0612/bulkupload/internal/adapter/gdrive"
	"github.com/Ning0612/bulkupload/internal/daemon"
	"github.com/Ning0612/bulkupload/internal/domain"
	"github.com/Ning0612/bulkupload/internal/progress"
	"github.com/Ning0612/bulkupload/internal/scriptgen"
	"github.com/Ning0612/bulkupload/internal/service"
	"github.com/Ning0612/bulkupload/internal/state"
)

func (c *cli) newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <identifier> [local_directory]",
		Short: "Compare the local tree with the remote item without uploading",
		Long: `verify hashes every local file and compares it with the remote item.
It exits with status 5 when a file is missing, differs in size or differs in
content.`,
		Args: usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			identifier, dir, err := c.resolveTarget(args)
			if err != nil {
				return err
			}

			s, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := s.svc.VerifyOnly(cmd.Context(), identifier, dir)
			if report != nil {
				printReport(c.stdout, report)
			}
			if err != nil {
				return err
			}
			if !report.OK() {
				return errMismatch
			}
			return nil
		},
	}
}

func (c *cli) newLedgerCmd() *cobra.Command {
	var files bool

	cmd := &cobra.Command{
		Use:   "ledger [identifier]",
		Short: "Show what the ledger recorded for an identifier",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := c.openState()
			if err != nil {
				return err
			}
			defer st.Close()
			ctx := cmd.Context()

			var ids []string
			if len(args) == 1 {
				if err := domain.ValidateIdentifier(args[0]); err != nil {
					return err
				}
				ids = args
			} else if ids, err = st.Identifiers(ctx); err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Fprintln(c.stdout, "The ledger is empty.")
				return nil
			}

			tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "IDENTIFIER\tFILES\tUPLOADED\tHASHED\tSIZE")
			for _, id := range ids {
				stats, err := st.Stats(ctx, id)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\n", id, stats.Entries, stats.Uploaded, stats.Hashed,
					progress.FormatBytes(stats.Bytes))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if !files || len(args) == 0 {
				return nil
			}

			entries, err := st.Load(ctx, args[0])
			if err != nil {
				return err
			}
			paths := make([]string, 0, len(entries))
			for p := range entries {
				paths = append(paths, p)
			}
			sort.Strings(paths)

			fmt.Fprintln(c.stdout)
			tw = tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PATH\tSIZE\tUPLOADED\tHASH\tUPDATED")
			for _, p := range paths {
				e := entries[p]
				size := "unknown"
				if e.Size != domain.UnknownSize {
					size = progress.FormatBytes(e.Size)
				}
				hash := "-"
				if e.ContentHash != "" {
					hash = e.HashAlgorithm + ":" + e.ContentHash
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", p, size, e.Uploaded, hash,
					e.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&files, "files", false, "list every file recorded for the identifier")
	return cmd
}

func (c *cli) newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [identifier]",
		Short: "Show recent upload runs",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("%w: --limit must be positive", errUsage)
			}

			st, err := c.openState()
			if err != nil {
				return err
			}
			defer st.Close()

			var runs []state.RunRecord
			if len(args) == 1 {
				runs, err = st.GetHistory(cmd.Context(), args[0], limit)
			} else {
				runs, err = st.GetAllHistory(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(c.stdout, "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tIDENTIFIER\tSTATUS\tUPLOADED\tFAILED\tMISMATCHES\tSIZE\tDURATION")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
					r.StartTime.Local().Format(time.DateTime), r.Identifier, r.Status,
					r.FilesUploaded, r.FilesFailed, r.Mismatches,
					progress.FormatBytes(r.BytesUploaded), r.Duration().Round(time.Second))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "number of runs to show")
	return cmd
}

func (c *cli) newWatchCmd() *cobra.Command {
	var (
		interval time.Duration
		noVerify bool
	)

	cmd := &cobra.Command{
		Use:   "watch <identifier> [local_directory]",
		Short: "Upload now and again at a fixed interval until interrupted",
		Args:  usageArgs(cobra.RangeArgs(1, 2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			identifier, dir, err := c.resolveTarget(args)
			if err != nil {
				return err
			}

			s, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			req := service.Request{Identifier: identifier, Dir: dir, SkipVerify: noVerify}
			return s.svc.Watch(cmd.Context(), req, interval, func(res *service.RunResult, err error) {
				if res != nil {
					printRun(c.stdout, res, false)
					fmt.Fprintln(c.stdout)
				}
				if err != nil {
					fmt.Fprintf(c.stderr, "Run failed: %v\n", err)
				}
			})
		},
	}
	cmd.Flags().DurationVarP(&interval, "interval", "i", time.Hour, "time between runs")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip the verification pass")
	return cmd
}

func (c *cli) newScriptCmd() *cobra.Command {
	var opts scriptgen.Options
	var output string

	cmd := &cobra.Command{
		Use:   "script <identifier> <local_directory>",
		Short: "Write a shell script that runs this upload",
		Args:  usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Identifier = args[0]
			opts.Dir = args[1]
			if abs, err := filepath.Abs(opts.Dir); err == nil {
				opts.Dir = abs
			}
			if opts.ConfigFile == "" {
				opts.ConfigFile = c.cfg.ConfigFile
			}
			if output == "" {
				output = "upload-" + opts.Identifier + ".sh"
			}

			if err := scriptgen.Write(c.fs, output, opts); err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "script path (default upload-<identifier>.sh)")
	cmd.Flags().StringVar(&opts.Binary, "binary", "", "bulkupload executable the script runs (default from PATH)")
	cmd.Flags().StringVar(&opts.ConfigFile, "script-config", "", "config file passed to the script (default: the one in use)")
	cmd.Flags().BoolVarP(&opts.Force, "force", "f", false, "overwrite an existing script")
	return cmd
}

func (c *cli) newAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Authorize access to Google Drive for the gdrive transport",
		Long: `auth runs the Google OAuth consent flow with gdrive.client_id and
gdrive.client_secret and stores the token in gdrive.token_file
(default gdrive-token.json in the data directory).`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := gdrive.NewAuthenticator(c.cfg.GDrive.ClientID, c.cfg.GDrive.ClientSecret, c.cfg.TokenPath())
			if err != nil {
				return err
			}
			return auth.Authenticate(cmd.Context(), c.stdin, c.stdout)
		},
	}
}

func (c *cli) newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <identifier>",
		Short: "Stop the watcher running for an identifier",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath, err := daemon.WatchPIDPath(c.cfg.DataDir, args[0])
			if err != nil {
				return err
			}
			pid, err := daemon.NewPIDFile(pidPath).Stop()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.stdout, "Sent stop signal to watcher %d for %s\n", pid, args[0])
			return nil
		},
	}
}
