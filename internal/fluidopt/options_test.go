package fluidopt

import (
	"strings"
	"testing"

	"github.com/fluidlsm/fluidlsm/internal/logging"
	"github.com/fluidlsm/fluidlsm/internal/vfs"
)

func TestWriteAndReadRoundTrip(t *testing.T) {
	fs := vfs.NewMemFS()

	opts := Default()
	opts.SizeRatio = 4
	opts.LowerLevelRunMax = 3
	opts.LargestLevelRunMax = 1
	opts.BufferSize = 4 << 20
	opts.EntrySize = 1024
	opts.BitsPerElement = 7.5
	opts.BulkLoadOpt = BulkLoadLevels
	opts.Levels = 3
	opts.FileSize = 1 << 30

	if err := Store(fs, "fluid.cfg", opts); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := Load(fs, "fluid.cfg", logging.Discard)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if *got != *opts {
		t.Errorf("round-trip mismatch:\n got  %+v\n want %+v", *got, *opts)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	fs := vfs.NewMemFS()

	got, err := Load(fs, "does-not-exist.cfg", logging.Discard)
	if err != nil {
		t.Fatalf("Load returned error for missing file: %v", err)
	}

	want := Default()
	if *got != *want {
		t.Errorf("missing file should load defaults:\n got  %+v\n want %+v", *got, *want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{"defaults ok", func(*Options) {}, false},
		{"size ratio too small", func(o *Options) { o.SizeRatio = 1 }, true},
		{"K below one", func(o *Options) { o.LowerLevelRunMax = 0 }, true},
		{"Z below one", func(o *Options) { o.LargestLevelRunMax = 0 }, true},
		{"entry size too small", func(o *Options) { o.EntrySize = 16 }, true},
		{"buffer smaller than entry", func(o *Options) {
			o.EntrySize = 4096
			o.BufferSize = 2048
		}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts := Default()
			tc.mutate(opts)
			err := opts.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestParseIgnoresCommentsAndBlankLines(t *testing.T) {
	blob := "# comment\n\nsize_ratio = 10\nbuffer_size = 2048\nentry_size = 64\n"
	opts, err := Parse(strings.NewReader(blob))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if opts.SizeRatio != 10 || opts.BufferSize != 2048 || opts.EntrySize != 64 {
		t.Errorf("unexpected parse result: %+v", opts)
	}
}
