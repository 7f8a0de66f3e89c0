package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hahimniane/alluvial-academy-sub002/internal/app"
	"github.com/hahimniane/alluvial-academy-sub002/internal/domain"
)

const usage = `usage: shiftctl <command> [flags]

commands:
  expand      expand active templates into shift occurrences
  conflicts   scan for schedule conflicts (use --apply to fix)
  reconcile   settle finished shifts and validate timesheets
  serve       run the recurring sweeps until interrupted

Every mutating command previews by default; pass --apply to write.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", "./shiftctl.yaml", "path to config file")
	apply := fs.Bool("apply", false, "write changes instead of previewing")
	deleteOrphans := fs.Bool("delete-orphans", false, "delete timesheet entries whose shift is gone (reconcile)")
	_ = fs.Parse(os.Args[2:])

	mode := domain.DryRun
	if *apply {
		mode = domain.Apply
	}

	a, err := app.New(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	defer a.Stop()

	switch cmd {
	case "expand":
		sum, err := a.Runner().ExpandAll(ctx, mode)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s: %d templates, %d created, %d skipped, %d tasks queued\n",
			mode, sum.Templates, sum.Created, sum.Skipped, sum.TasksQueued)
		for _, w := range sum.Warnings {
			fmt.Println("warning:", w)
		}
	case "conflicts":
		rep, err := a.Detector().Fix(ctx, mode, a.SnapshotDir())
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s: %d shifts scanned, %d same-category, %d single-vs-group, %d deleted, %d templates deactivated\n",
			mode, rep.ScannedShifts, rep.SameCategory, rep.SingleOverlapsGroup,
			rep.DeletedShifts, rep.DeactivatedTemplates)
		if rep.SnapshotPath != "" {
			fmt.Println("snapshot:", rep.SnapshotPath)
		}
	case "reconcile":
		rep, err := a.Engine().Sweep(ctx, mode, *deleteOrphans)
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s: %d shifts settled (%d full, %d partial, %d missed), %d entries checked, %d corrected, %d orphans\n",
			mode, rep.ScannedShifts, rep.FullyCompleted, rep.PartiallyDone, rep.Missed,
			rep.ScannedEntries, rep.CorrectedEntries, rep.Orphans)
	case "serve":
		if err := a.Start(ctx); err != nil {
			fatal(err)
		}
		<-ctx.Done()
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "fatal:", err)
	os.Exit(1)
}
