package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"

	"github.com/Ning0612/bulkupload/internal/core/verify"
	"github.com/Ning0612/bulkupload/internal/progress"
	"github.com/Ning0612/bulkupload/internal/service"
	"github.com/Ning0612/bulkupload/internal/state"
)

var (
	red    = color.New(color.FgHiRed, color.Bold).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
)

// colorStatus highlights a run status on terminals only
func colorStatus(w io.Writer, status string) string {
	if !isTerminal(w) {
		return status
	}
	switch status {
	case state.RunSuccess:
		return green(status)
	case state.RunFailed:
		return red(status)
	default:
		return yellow(status)
	}
}

type uploadOptions struct {
	dryRun   bool
	noVerify bool
	strict   bool
}

func (c *cli) runUpload(ctx context.Context, args []string, opts uploadOptions) error {
	identifier, dir, err := c.resolveTarget(args)
	if err != nil {
		return err
	}

	s, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	res, err := s.svc.Run(ctx, service.Request{
		Identifier: identifier,
		Dir:        dir,
		DryRun:     opts.dryRun,
		SkipVerify: opts.noVerify,
	})
	if res != nil {
		printRun(c.stdout, res, opts.dryRun)
	}
	if err != nil {
		return err
	}

	if opts.strict && res.Verify != nil && !res.Verify.OK() {
		return errMismatch
	}
	return nil
}

func printRun(w io.Writer, res *service.RunResult, dryRun bool) {
	fmt.Fprintf(w, "Item:      %s\n", res.Identifier)
	fmt.Fprintf(w, "Directory: %s\n", res.Dir)
	if res.Scan != nil {
		fmt.Fprintf(w, "Scanned:   %d files, %s\n", len(res.Scan.Files), progress.FormatBytes(res.Scan.TotalBytes))
	}

	if p := res.Plan; p != nil {
		if p.Seeded > 0 {
			fmt.Fprintf(w, "Seeded:    %d files already in the item\n", p.Seeded)
		}
		fmt.Fprintf(w, "Plan:      %d new, %d changed, %d up to date (%s to send)\n",
			p.Stats.FilesToUpload, p.Stats.FilesToReupload, p.Stats.FilesToSkip,
			progress.FormatBytes(p.Stats.BytesToTransfer))
		if dryRun {
			for _, d := range p.Transfers() {
				fmt.Fprintf(w, "  %-8s %s (%s)\n", d.Action, d.File.Path, d.Reason)
			}
			return
		}
	}

	if t := res.Transfer; t != nil {
		fmt.Fprintf(w, "Uploaded:  %d files, %s in %s", t.Succeeded, progress.FormatBytes(t.BytesUploaded), t.Duration.Round(time.Millisecond))
		if t.Conflicts > 0 {
			fmt.Fprintf(w, ", %d already present", t.Conflicts)
		}
		fmt.Fprintln(w)
		if t.Failed > 0 {
			fmt.Fprintf(w, "Failed:    %d files (retried on the next run)\n", t.Failed)
			for _, p := range t.FailedPaths {
				fmt.Fprintf(w, "  %s\n", p)
			}
		}
		if t.NotStarted > 0 {
			fmt.Fprintf(w, "Pending:   %d files not started\n", t.NotStarted)
		}
	}

	if res.Verify != nil {
		printReport(w, res.Verify)
	}
	fmt.Fprintf(w, "Status:    %s\n", colorStatus(w, res.Status))
}

func printReport(w io.Writer, r *verify.Report) {
	if r.OK() {
		fmt.Fprintf(w, "Verified:  all %d files match\n", r.Checked)
		return
	}

	fmt.Fprintf(w, "Verified:  %d files, %d mismatched, %d unreadable\n",
		r.Checked, len(r.Mismatches), len(r.Unreadable))
	for _, m := range r.Mismatches {
		switch m.Reason {
		case verify.ReasonSize:
			fmt.Fprintf(w, "  %-8s %s (local %s, remote %s)\n", m.Reason, m.Path,
				progress.FormatBytes(m.LocalSize), progress.FormatBytes(m.RemoteSize))
		default:
			fmt.Fprintf(w, "  %-8s %s\n", m.Reason, m.Path)
		}
	}
	for _, p := range r.Unreadable {
		fmt.Fprintf(w, "  %-8s %s\n", "unread", p)
	}
	if len(r.NotChecked) > 0 {
		fmt.Fprintf(w, "Pending:   %d files not verified\n", len(r.NotChecked))
	}
}
