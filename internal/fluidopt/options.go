// Package fluidopt implements the Fluid LSM tuning parameters (T, K, Z, B,
// E, bits-per-element, bulk-load mode) and their load/store to a keyed text
// blob.
//
// The on-disk format is a flat "key = value" blob, one field per line, in
// the style of the teacher's RocksDB-OPTIONS-file reader: a bufio.Scanner
// over key=value lines rather than a JSON library. Reference: the original
// C++ implementation (src/tmpdb/fluid_options.{hpp,cpp}) persists six
// fields via nlohmann::json; we keep those fields and defaults, also persist
// bulk_load_opt, num_entries, levels and file_size, and use this codebase's
// own idiom for the serialization format.
package fluidopt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fluidlsm/fluidlsm/internal/logging"
	"github.com/fluidlsm/fluidlsm/internal/vfs"
)

// BulkLoadMode selects whether a bulk load is sized by entry count or by
// level count.
type BulkLoadMode int

const (
	// BulkLoadEntries sizes the load by a target number of entries (N).
	BulkLoadEntries BulkLoadMode = iota
	// BulkLoadLevels sizes the load by a target number of fluid levels (L).
	BulkLoadLevels
)

func (m BulkLoadMode) String() string {
	if m == BulkLoadLevels {
		return "LEVELS"
	}
	return "ENTRIES"
}

// Options holds the Fluid LSM tuning parameters (C1).
//
// Field names mirror the keys written to and read from the persisted blob:
// the six of §4.5 (size_ratio, lower_level_run_max, largest_level_run_max,
// buffer_size, entry_size, bits_per_element) plus bulk_load_opt,
// num_entries, levels and file_size.
type Options struct {
	SizeRatio          float64      // T, >= 2
	LowerLevelRunMax   float64      // K, >= 1
	LargestLevelRunMax float64      // Z, >= 1
	BufferSize         uint64       // B, bytes
	EntrySize          uint64       // E, bytes, >= 32
	BitsPerElement     float64      // h, default Bloom bits budget
	BulkLoadOpt        BulkLoadMode // ENTRIES or LEVELS

	NumEntries uint64 // N, used when BulkLoadOpt == BulkLoadEntries
	Levels     uint64 // L, used when BulkLoadOpt == BulkLoadLevels

	FileSize uint64 // cap on output file size; 0 means "unbounded"
}

// Default returns the parameter set the original implementation ships as
// defaults.
func Default() *Options {
	return &Options{
		SizeRatio:          2,
		LowerLevelRunMax:   1,
		LargestLevelRunMax: 1,
		BufferSize:         1 << 20,
		EntrySize:          8192,
		BitsPerElement:     5.0,
		BulkLoadOpt:        BulkLoadEntries,
		FileSize:           0,
	}
}

// Validate checks the invariants spec.md §3 requires: T >= 2, K >= 1,
// Z >= 1, E >= 32, B >= E.
func (o *Options) Validate() error {
	switch {
	case o.SizeRatio < 2:
		return fmt.Errorf("fluidopt: size_ratio must be >= 2, got %v", o.SizeRatio)
	case o.LowerLevelRunMax < 1:
		return fmt.Errorf("fluidopt: lower_level_run_max must be >= 1, got %v", o.LowerLevelRunMax)
	case o.LargestLevelRunMax < 1:
		return fmt.Errorf("fluidopt: largest_level_run_max must be >= 1, got %v", o.LargestLevelRunMax)
	case o.EntrySize < 32:
		return fmt.Errorf("fluidopt: entry_size must be >= 32, got %d", o.EntrySize)
	case o.BufferSize < o.EntrySize:
		return fmt.Errorf("fluidopt: buffer_size (%d) must be >= entry_size (%d)", o.BufferSize, o.EntrySize)
	}
	return nil
}

// Load reads Options from path via fs. A missing file is not an error: it
// logs a warning and returns the defaults, matching the original
// `read_config`'s behavior.
func Load(fs vfs.FS, path string, logger logging.Logger) (*Options, error) {
	f, err := fs.Open(path)
	if err != nil {
		logger.Warnf(logging.NSDB+"unable to read fluid options file %s: %v, using defaults", path, err)
		return Default(), nil
	}
	defer func() { _ = f.Close() }()

	opts, err := Parse(f)
	if err != nil {
		return nil, err
	}
	return opts, nil
}

// Parse reads a keyed text blob from r into an Options, seeded with
// Default() so any field the blob omits keeps its default value.
func Parse(r io.Reader) (*Options, error) {
	opts := Default()

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "size_ratio":
			opts.SizeRatio, _ = strconv.ParseFloat(value, 64)
		case "lower_level_run_max":
			opts.LowerLevelRunMax, _ = strconv.ParseFloat(value, 64)
		case "largest_level_run_max":
			opts.LargestLevelRunMax, _ = strconv.ParseFloat(value, 64)
		case "buffer_size":
			opts.BufferSize, _ = strconv.ParseUint(value, 10, 64)
		case "entry_size":
			opts.EntrySize, _ = strconv.ParseUint(value, 10, 64)
		case "bits_per_element":
			opts.BitsPerElement, _ = strconv.ParseFloat(value, 64)
		case "bulk_load_opt":
			if value == "LEVELS" {
				opts.BulkLoadOpt = BulkLoadLevels
			} else {
				opts.BulkLoadOpt = BulkLoadEntries
			}
		case "num_entries":
			opts.NumEntries, _ = strconv.ParseUint(value, 10, 64)
		case "levels":
			opts.Levels, _ = strconv.ParseUint(value, 10, 64)
		case "file_size":
			opts.FileSize, _ = strconv.ParseUint(value, 10, 64)
		}
	}

	return opts, scanner.Err()
}

// Store writes Options to path via fs, creating or truncating the file.
func Store(fs vfs.FS, path string, o *Options) error {
	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("fluidopt: unable to create or open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return Write(f, o)
}

// Write serializes Options as "key = value" lines, one field per line, in
// the declared field order of Options.
func Write(w io.Writer, o *Options) error {
	lines := []string{
		fmt.Sprintf("size_ratio = %v", o.SizeRatio),
		fmt.Sprintf("lower_level_run_max = %v", o.LowerLevelRunMax),
		fmt.Sprintf("largest_level_run_max = %v", o.LargestLevelRunMax),
		fmt.Sprintf("buffer_size = %d", o.BufferSize),
		fmt.Sprintf("entry_size = %d", o.EntrySize),
		fmt.Sprintf("bits_per_element = %v", o.BitsPerElement),
		fmt.Sprintf("bulk_load_opt = %s", o.BulkLoadOpt),
		fmt.Sprintf("num_entries = %d", o.NumEntries),
		fmt.Sprintf("levels = %d", o.Levels),
		fmt.Sprintf("file_size = %d", o.FileSize),
	}
	for _, line := range lines {
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return err
		}
	}
	return nil
}
