// Package memengine is a small in-process reference storage engine
// implementing the engine.DB contract (spec §6). It exists so the fluid
// compaction controller and bulk loader — whose spec explicitly treats
// "the underlying storage engine itself" as an out-of-scope external
// collaborator (spec §1) — have something real to drive end to end in
// tests and the CLI tools (spec §4, C7). It has no filter layer, so the
// Monkey filter policy is not wired into it.
//
// It is not an SST-format or WAL implementation: each physical file is a
// sorted in-memory key/value run, persisted through vfs.FS as a single
// compressed blob so compaction output genuinely exercises the
// compression stack rather than staying purely in memory.
package memengine

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/fluidlsm/fluidlsm/engine"
	"github.com/fluidlsm/fluidlsm/internal/compression"
	"github.com/fluidlsm/fluidlsm/internal/logging"
	"github.com/fluidlsm/fluidlsm/internal/vfs"
)

// entry is one key/value pair within a run.
type entry struct {
	key, value []byte
}

// DB is the in-process reference engine.
type DB struct {
	mu       sync.Mutex
	name     string
	fs       vfs.FS
	dir      string
	logger   logging.Logger
	executor *Executor
	listener engine.EventListener
	compType compression.Type

	memtable        []entry
	writeBufferSize uint64
	memtableBytes   uint64

	fileSeq atomic.Int64
	levels  []engine.LevelMetaData
	runs    map[string][]entry // file name -> sorted entries, for compaction reads

	// slowdownTrigger and stopTrigger are the back-pressure triggers
	// the driver (C7) sets on open (spec §5 "Back-pressure"); memengine
	// stores them only to report on FlushInfo, since admission control
	// itself is out of scope (spec §1 NON-GOALS).
	slowdownTrigger int
	stopTrigger     int
}

// Options configures a new in-process engine.
type Options struct {
	Name            string
	FS              vfs.FS
	Dir             string
	Logger          logging.Logger
	Parallelism     int
	WriteBufferSize uint64
	Compression     compression.Type
	SlowdownTrigger int
	StopTrigger     int
}

// Open creates a new in-process engine rooted at opts.Dir. Unlike a real
// engine there is no on-disk recovery: Open always starts from an empty
// column family (spec §1 NON-GOALS excludes recovery/WAL).
func Open(opts Options) (*DB, error) {
	fs := opts.FS
	if fs == nil {
		fs = vfs.NewMemFS()
	}
	if err := fs.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("memengine: mkdir %s: %w", opts.Dir, err)
	}
	parallelism := opts.Parallelism
	if parallelism < 1 {
		parallelism = 2
	}
	wbs := opts.WriteBufferSize
	if wbs == 0 {
		wbs = 1 << 20
	}
	compType := opts.Compression
	if compType == compression.NoCompression {
		compType = compression.LZ4Compression
	}
	db := &DB{
		name:            opts.Name,
		fs:              fs,
		dir:             opts.Dir,
		logger:          logging.OrDefault(opts.Logger),
		executor:        NewExecutor(parallelism),
		writeBufferSize: wbs,
		compType:        compType,
		runs:            make(map[string][]entry),
		levels:          []engine.LevelMetaData{{Level: 0}, {Level: 1}},
		slowdownTrigger: opts.SlowdownTrigger,
		stopTrigger:     opts.StopTrigger,
	}
	return db, nil
}

// Name implements engine.DB.
func (db *DB) Name() string { return db.name }

// Executor implements engine.DB.
func (db *DB) Executor() engine.Executor { return db.executor }

// SetEventListener implements engine.DB.
func (db *DB) SetEventListener(l engine.EventListener) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.listener = l
}

// SetWriteBufferSize overrides the memtable flush threshold, used by the
// bulk loader to size a single run so it fits in one flush (spec §4.3
// "bulk_load_single_run").
func (db *DB) SetWriteBufferSize(n uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.writeBufferSize = n
}

// ColumnFamilyMetaData implements engine.DB. Returns a deep-enough copy
// that a caller mutating the slice cannot corrupt engine state.
func (db *DB) ColumnFamilyMetaData() *engine.ColumnFamilyMetaData {
	db.mu.Lock()
	defer db.mu.Unlock()

	levels := make([]engine.LevelMetaData, len(db.levels))
	for i, lvl := range db.levels {
		files := make([]engine.FileMetaData, len(lvl.Files))
		copy(files, lvl.Files)
		levels[i] = engine.LevelMetaData{Level: lvl.Level, Files: files}
	}
	return &engine.ColumnFamilyMetaData{Name: "default", Levels: levels}
}

// Put implements engine.DB: it buffers the pair in the active memtable,
// auto-flushing if the write-buffer threshold is exceeded so the engine
// behaves like a real one under direct load (not just the bulk loader's
// explicit Flush calls).
func (db *DB) Put(ctx context.Context, key, value []byte) engine.Status {
	db.mu.Lock()
	db.memtable = append(db.memtable, entry{append([]byte(nil), key...), append([]byte(nil), value...)})
	db.memtableBytes += uint64(len(key) + len(value))
	shouldFlush := db.memtableBytes >= db.writeBufferSize
	db.mu.Unlock()

	if shouldFlush {
		return db.Flush(ctx)
	}
	return engine.OKStatus
}

// Flush implements engine.DB: it sorts the active memtable into a new
// L0 run, persists it, and fires OnFlushCompleted.
func (db *DB) Flush(ctx context.Context) engine.Status {
	db.mu.Lock()
	if len(db.memtable) == 0 {
		db.mu.Unlock()
		return engine.OKStatus
	}
	batch := db.memtable
	db.memtable = nil
	db.memtableBytes = 0
	db.mu.Unlock()

	sort.Slice(batch, func(i, j int) bool { return bytes.Compare(batch[i].key, batch[j].key) < 0 })

	name := db.nextFileName()
	size, err := db.persistRun(name, batch)
	if err != nil {
		db.logger.Errorf(logging.NSFlush+"persist %s: %v", name, err)
		return engine.IOErrorStatus(err)
	}

	db.mu.Lock()
	db.runs[name] = batch
	db.levels[0].Files = append(db.levels[0].Files, engine.FileMetaData{Name: name, SizeBytes: size})
	numL0 := len(db.levels[0].Files)
	listener := db.listener
	slowdown := db.slowdownTrigger > 0 && numL0 >= db.slowdownTrigger
	stop := db.stopTrigger > 0 && numL0 >= db.stopTrigger
	db.mu.Unlock()

	if listener != nil {
		listener.OnFlushCompleted(db, &engine.FlushInfo{
			CFName:                  "default",
			FilePath:                name,
			TriggeredWritesSlowdown: slowdown,
			TriggeredWritesStop:     stop,
		})
	}
	return engine.OKStatus
}

// CompactFiles implements engine.DB: it reads and merges the named
// input runs, writes a new compressed output run at OutputLevel,
// removes the inputs from their level, and fires
// OnCompactionCompleted.
func (db *DB) CompactFiles(ctx context.Context, opts engine.CompactionOptions) ([]engine.FileMetaData, engine.Status) {
	db.mu.Lock()
	inputSet := make(map[string]bool, len(opts.InputFiles))
	for _, n := range opts.InputFiles {
		inputSet[n] = true
	}
	var merged []entry
	for _, name := range opts.InputFiles {
		run, ok := db.runs[name]
		if !ok {
			db.mu.Unlock()
			err := fmt.Errorf("memengine: unknown input file %q", name)
			status := engine.InvalidArgumentStatus(err)
			db.fireCompactionCompleted(opts, status)
			return nil, status
		}
		merged = append(merged, run...)
	}
	// Mark inputs BeingCompacted before releasing the lock for the
	// (potentially slow) merge and persist below, so a concurrent picker
	// never selects the same file twice (spec §5, §8 "No double pick").
	db.markBeingCompacted(inputSet, true)
	db.mu.Unlock()

	sort.Slice(merged, func(i, j int) bool { return bytes.Compare(merged[i].key, merged[j].key) < 0 })
	merged = dedupeLastWins(merged)

	outName := db.nextFileName()
	size, err := db.persistRun(outName, merged)
	if err != nil {
		db.mu.Lock()
		db.markBeingCompacted(inputSet, false)
		db.mu.Unlock()
		status := engine.IOErrorStatus(err)
		db.fireCompactionCompleted(opts, status)
		return nil, status
	}

	db.mu.Lock()
	for i := range db.levels {
		db.levels[i].Files = removeFiles(db.levels[i].Files, inputSet)
	}
	for len(db.levels) <= opts.OutputLevel {
		db.levels = append(db.levels, engine.LevelMetaData{Level: len(db.levels)})
	}
	out := engine.FileMetaData{Name: outName, SizeBytes: size}
	db.levels[opts.OutputLevel].Files = append(db.levels[opts.OutputLevel].Files, out)
	db.runs[outName] = merged
	for name := range inputSet {
		delete(db.runs, name)
	}
	db.mu.Unlock()

	status := engine.OKStatus
	db.fireCompactionCompleted(opts, status)
	return []engine.FileMetaData{out}, status
}

// markBeingCompacted sets BeingCompacted on every file named in set,
// across all levels. Called with db.mu held.
func (db *DB) markBeingCompacted(set map[string]bool, compacting bool) {
	for i := range db.levels {
		for j := range db.levels[i].Files {
			if set[db.levels[i].Files[j].Name] {
				db.levels[i].Files[j].BeingCompacted = compacting
			}
		}
	}
}

func (db *DB) fireCompactionCompleted(opts engine.CompactionOptions, status engine.Status) {
	db.mu.Lock()
	listener := db.listener
	db.mu.Unlock()
	if listener == nil {
		return
	}
	listener.OnCompactionCompleted(db, &engine.CompactionInfo{
		CFName:      "default",
		Status:      status,
		InputFiles:  opts.InputFiles,
		OutputLevel: opts.OutputLevel,
	})
}

func (db *DB) nextFileName() string {
	seq := db.fileSeq.Add(1)
	return fmt.Sprintf("%06d.run", seq)
}

// persistRun encodes entries as a length-prefixed blob, compresses it
// with the engine's configured compression.Type, and writes it through
// vfs.FS so compaction output genuinely exercises both dependencies
// rather than staying purely in memory.
func (db *DB) persistRun(name string, entries []entry) (uint64, error) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, e := range entries {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.key)))
		buf.Write(lenBuf[:])
		buf.Write(e.key)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(e.value)))
		buf.Write(lenBuf[:])
		buf.Write(e.value)
	}

	compressed, err := compression.Compress(db.compType, buf.Bytes())
	if err != nil {
		return 0, err
	}

	f, err := db.fs.Create(db.dir + "/" + name)
	if err != nil {
		return 0, err
	}
	if _, err := f.Write(compressed); err != nil {
		_ = f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return uint64(len(compressed)), nil
}

func dedupeLastWins(sorted []entry) []entry {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, e := range sorted[1:] {
		if bytes.Equal(e.key, out[len(out)-1].key) {
			out[len(out)-1] = e
			continue
		}
		out = append(out, e)
	}
	return out
}

func removeFiles(files []engine.FileMetaData, remove map[string]bool) []engine.FileMetaData {
	kept := files[:0]
	for _, f := range files {
		if !remove[f.Name] {
			kept = append(kept, f)
		}
	}
	return kept
}

var _ engine.DB = (*DB)(nil)
