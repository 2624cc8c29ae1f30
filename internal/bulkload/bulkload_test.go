package bulkload

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/fluidlsm/fluidlsm/engine"
	"github.com/fluidlsm/fluidlsm/internal/datagen"
	"github.com/fluidlsm/fluidlsm/internal/fluidctl"
	"github.com/fluidlsm/fluidlsm/internal/fluidopt"
	"github.com/fluidlsm/fluidlsm/internal/logging"
	"github.com/fluidlsm/fluidlsm/internal/memengine"
	"github.com/fluidlsm/fluidlsm/internal/vfs"
)

type syncExecutor struct{}

func (syncExecutor) Schedule(fn func()) { fn() }

// recordingDB is a minimal engine.DB that records Put keys/values and
// simulates a single-file L0 flush, so the bulk loader's placement
// prefix contract (spec §8 property 7) can be checked without a real
// storage engine.
type recordingDB struct {
	mu       sync.Mutex
	puts     []kv
	flushes  int
	fileSeq  int
	cf       engine.ColumnFamilyMetaData
	executor engine.Executor
}

type kv struct{ key, value []byte }

func newRecordingDB() *recordingDB {
	return &recordingDB{
		executor: syncExecutor{},
		cf: engine.ColumnFamilyMetaData{
			Levels: []engine.LevelMetaData{{Level: 0}, {Level: 1}},
		},
	}
}

func (d *recordingDB) Name() string { return "rec" }
func (d *recordingDB) ColumnFamilyMetaData() *engine.ColumnFamilyMetaData {
	d.mu.Lock()
	defer d.mu.Unlock()
	cp := d.cf
	return &cp
}
func (d *recordingDB) CompactFiles(_ context.Context, opts engine.CompactionOptions) ([]engine.FileMetaData, engine.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Remove compacted inputs from level 0, and clear them so a repeat
	// drain pass sees an empty L0.
	remaining := d.cf.Levels[0].Files[:0]
	for _, f := range d.cf.Levels[0].Files {
		keep := true
		for _, name := range opts.InputFiles {
			if f.Name == name {
				keep = false
				break
			}
		}
		if keep {
			remaining = append(remaining, f)
		}
	}
	d.cf.Levels[0].Files = remaining
	return nil, engine.OKStatus
}
func (d *recordingDB) Put(_ context.Context, key, value []byte) engine.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.puts = append(d.puts, kv{append([]byte(nil), key...), append([]byte(nil), value...)})
	return engine.OKStatus
}
func (d *recordingDB) Flush(context.Context) engine.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushes++
	d.fileSeq++
	d.cf.Levels[0].Files = append(d.cf.Levels[0].Files, engine.FileMetaData{
		Name: sstName(d.fileSeq), SizeBytes: 1024,
	})
	return engine.OKStatus
}
func (d *recordingDB) Executor() engine.Executor            { return d.executor }
func (d *recordingDB) SetEventListener(engine.EventListener) {}
func (d *recordingDB) SetWriteBufferSize(uint64)             {}

func sstName(seq int) string {
	return "0000" + string(rune('0'+seq)) + ".sst"
}

func TestBulkLoadSingleRunPrefixesKeysAndValues(t *testing.T) {
	opt := fluidopt.Default()
	opt.EntrySize = 64
	ctl := fluidctl.New(opt, logging.Discard)
	gen := datagen.New(datagen.Uniform, 7)
	loader := New(ctl, opt, logging.Discard, gen)

	db := newRecordingDB()
	if err := loader.bulkLoadSingleRun(context.Background(), db, 2, 10); err != nil {
		t.Fatalf("bulkLoadSingleRun failed: %v", err)
	}

	if len(db.puts) != 10 {
		t.Fatalf("expected 10 puts, got %d", len(db.puts))
	}
	for _, p := range db.puts {
		if !strings.HasPrefix(string(p.key), "2|") {
			t.Errorf("key %q missing level prefix", p.key)
		}
		if !strings.HasPrefix(string(p.value), "2|") {
			t.Errorf("value %q missing level prefix", p.value)
		}
	}
	if db.flushes != 1 {
		t.Errorf("expected exactly 1 flush, got %d", db.flushes)
	}
}

// TestBulkLoadSingleRunFitsOneFlushAgainstRealEngine exercises the
// write_buffer_size override against an engine that actually
// auto-flushes on memtable pressure (spec §4.3 "bulk_load_single_run"):
// recordingDB never auto-flushes, so it cannot catch a loader that
// forgets to raise the threshold before a run larger than the engine's
// default write buffer.
func TestBulkLoadSingleRunFitsOneFlushAgainstRealEngine(t *testing.T) {
	opt := fluidopt.Default()
	opt.EntrySize = 1024 // spec §8 S1's entry size
	ctl := fluidctl.New(opt, logging.Discard)
	gen := datagen.New(datagen.Uniform, 7)
	loader := New(ctl, opt, logging.Discard, gen)

	db, err := memengine.Open(memengine.Options{
		Name:            "test",
		FS:              vfs.NewMemFS(),
		Dir:             "/db",
		Logger:          logging.Discard,
		WriteBufferSize: 1 << 20, // default 1 MiB
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	// 4096 entries * 1 KiB = 4 MiB: larger than the engine's default
	// write buffer, so without the override this would split across
	// several L0 files instead of flushing exactly once.
	const entries = 4096
	if err := loader.bulkLoadSingleRun(context.Background(), db, 2, entries); err != nil {
		t.Fatalf("bulkLoadSingleRun failed: %v", err)
	}

	cf := db.ColumnFamilyMetaData()
	if len(cf.Levels) == 0 || len(cf.Levels[0].Files) != 1 {
		t.Fatalf("expected exactly 1 L0 file, got %+v", cf.Levels)
	}
}

func TestCapacityPerLevelGrowsByT(t *testing.T) {
	opt := fluidopt.Default()
	opt.SizeRatio = 2
	opt.EntrySize = 1024
	opt.BufferSize = 1 << 20
	ctl := fluidctl.New(opt, logging.Discard)
	loader := New(ctl, opt, logging.Discard, datagen.New(datagen.Uniform, 1))

	caps := loader.capacityPerLevel(3)
	for i := 1; i < len(caps); i++ {
		want := uint64(float64(caps[i-1]) * opt.SizeRatio)
		if caps[i] != want {
			t.Errorf("caps[%d] = %d, want %d", i, caps[i], want)
		}
	}
}

func TestDrainTerminatesWhenNothingInFlight(t *testing.T) {
	opt := fluidopt.Default()
	ctl := fluidctl.New(opt, logging.Discard)
	db := newRecordingDB()
	// No in-flight tasks and an empty model: RequiresCompaction should
	// return false immediately and Drain must not hang.
	Drain(ctl, db)
}
