// Package clicommon holds the flag set shared by the db_builder and
// db_runner CLI tools (spec §6 "CLI surface (external collaborator, not
// core)"), so the two tools stay consistent without depending on each
// other.
package clicommon

import (
	"errors"
	"flag"
	"fmt"

	"github.com/fluidlsm/fluidlsm/internal/fluidopt"
)

// Flags is the shared flag surface for db_builder and db_runner.
type Flags struct {
	DBPath string

	T float64
	K float64
	Z float64
	B uint64
	E uint64
	Bpe float64 // bits-per-element

	NumEntries uint64
	Levels     uint64

	Destroy         bool
	MaxRocksDBLevel int
	Parallelism     int
	Seed            int64
	Verbosity       int
}

// Register binds the shared flags onto fs and returns the Flags struct
// they populate once fs.Parse has run. dbPath is taken positionally
// (spec §6 "db_path (positional)"), so callers must still read
// fs.Arg(0) after Parse and assign it to the returned Flags.DBPath.
func Register(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.Float64Var(&f.T, "T", 2, "fluid size ratio")
	fs.Float64Var(&f.K, "K", 1, "max concurrent runs per interior level")
	fs.Float64Var(&f.Z, "Z", 1, "max concurrent runs at the last level")
	fs.Uint64Var(&f.B, "B", 1<<20, "in-memory buffer size in bytes")
	fs.Uint64Var(&f.E, "E", 1024, "entry size in bytes")
	fs.Float64Var(&f.Bpe, "b", 5.0, "default bits-per-element for the Monkey filter policy")
	fs.Uint64Var(&f.NumEntries, "N", 0, "target entry count (mutually exclusive with -L)")
	fs.Uint64Var(&f.Levels, "L", 0, "target level count (mutually exclusive with -N)")
	fs.BoolVar(&f.Destroy, "d", false, "destroy any existing database at db_path before loading")
	fs.IntVar(&f.MaxRocksDBLevel, "max_rocksdb_level", 6, "maximum physical engine level")
	fs.IntVar(&f.Parallelism, "parallelism", 2, "background executor worker count")
	fs.Int64Var(&f.Seed, "seed", 0, "PRNG seed for the data generator")
	fs.IntVar(&f.Verbosity, "v", 0, "log verbosity: 0, 1, or 2")
	return f
}

// Validate enforces the one-of N|L requirement and the shared flag
// invariants (spec §6 "-N | -L (one-of)").
func (f *Flags) Validate() error {
	if f.DBPath == "" {
		return errors.New("clicommon: db_path is required")
	}
	if (f.NumEntries == 0) == (f.Levels == 0) {
		return errors.New("clicommon: exactly one of -N or -L must be set")
	}
	if f.Verbosity < 0 || f.Verbosity > 2 {
		return fmt.Errorf("clicommon: -v must be 0, 1, or 2, got %d", f.Verbosity)
	}
	return nil
}

// BulkLoadMode reports which bulk-load path the flags select.
func (f *Flags) BulkLoadMode() fluidopt.BulkLoadMode {
	if f.Levels > 0 {
		return fluidopt.BulkLoadLevels
	}
	return fluidopt.BulkLoadEntries
}

// ToOptions converts the parsed flags into a fluidopt.Options record.
func (f *Flags) ToOptions() *fluidopt.Options {
	return &fluidopt.Options{
		SizeRatio:          f.T,
		LowerLevelRunMax:   f.K,
		LargestLevelRunMax: f.Z,
		BufferSize:         f.B,
		EntrySize:          f.E,
		BitsPerElement:     f.Bpe,
		BulkLoadOpt:        f.BulkLoadMode(),
		NumEntries:         f.NumEntries,
		Levels:             f.Levels,
	}
}
