// Command db_builder opens an engine with the fluid compaction
// controller installed, then bulk-loads it to a target shape (spec §4.3,
// §6 "CLI surface"): either N entries or L levels, per the shared -N|-L
// flag. No Monkey filter policy is installed: memengine has no filter
// layer, and the -b bits-per-element flag is only carried into the
// fluid options.
//
// Usage:
//
//	db_builder [flags] <db_path>
//
// Reference: grounded on the teacher's cmd/ldb tool's flag/main-loop
// shape (stdlib flag, positional db_path, exit codes).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/fluidlsm/fluidlsm/internal/bulkload"
	"github.com/fluidlsm/fluidlsm/internal/clicommon"
	"github.com/fluidlsm/fluidlsm/internal/datagen"
	"github.com/fluidlsm/fluidlsm/internal/fluidctl"
	"github.com/fluidlsm/fluidlsm/internal/logging"
	"github.com/fluidlsm/fluidlsm/internal/memengine"
	"github.com/fluidlsm/fluidlsm/internal/vfs"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("db_builder", flag.ContinueOnError)
	flags := clicommon.Register(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "db_builder: missing db_path")
		return 2
	}
	flags.DBPath = fs.Arg(0)
	if err := flags.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "db_builder:", err)
		return 2
	}

	level := logging.LevelWarn
	if flags.Verbosity >= 1 {
		level = logging.LevelInfo
	}
	if flags.Verbosity >= 2 {
		level = logging.LevelDebug
	}
	logger := logging.NewDefaultLogger(level)

	opt := flags.ToOptions()
	if err := opt.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "db_builder: invalid fluid options:", err)
		return 1
	}

	osFS := vfs.Default()
	if flags.Destroy {
		_ = osFS.RemoveAll(flags.DBPath)
	}

	db, err := memengine.Open(memengine.Options{
		Name:            flags.DBPath,
		FS:              osFS,
		Dir:             flags.DBPath,
		Logger:          logger,
		Parallelism:     flags.Parallelism,
		SlowdownTrigger: 8 * (int(opt.LowerLevelRunMax) + 1),
		StopTrigger:     10 * (int(opt.LowerLevelRunMax) + 1),
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "db_builder: open failed:", err)
		return 1
	}

	ctl := fluidctl.New(opt, logger)
	gen := datagen.NewWithLogger(datagen.Uniform, flags.Seed, logger)
	loader := bulkload.New(ctl, opt, logger, gen)
	db.SetEventListener(loader)
	ctl.Suppress(true)

	ctx := context.Background()
	if flags.Levels > 0 {
		err = loader.BulkLoadLevels(ctx, db, "default", int(flags.Levels))
	} else {
		err = loader.BulkLoadEntries(ctx, db, "default", flags.NumEntries)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "db_builder: load failed:", err)
		return 1
	}

	ctl.Suppress(false)
	db.SetEventListener(ctl)
	bulkload.Drain(ctl, db)

	logger.Infof(logging.NSBulkLoad + "bulk load complete")
	return 0
}
