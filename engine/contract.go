package engine

import "context"

// CompactionOptions describes a single forced compaction request, as
// issued by the fluid compaction controller's pick_compaction step or by
// the bulk loader when materializing a run directly (spec §4.2, §4.3).
//
// Reference: rocksdb::CompactionOptions / DB::CompactFiles, narrowed to
// the fields spec.md names.
type CompactionOptions struct {
	// InputFiles names the physical files to compact, taken from one
	// fluid level (or, for the bulk loader, constructed directly).
	InputFiles []string
	// OutputLevel is the physical level the merged output is placed at.
	OutputLevel int
	// CompactionStyle distinguishes tiered (concatenate) from leveled
	// (merge-and-replace) placement; see fluidmodel for the mapping from
	// fluid level to physical levels.
	CompactionStyle CompactionStyle
}

// CompactionStyle selects how a fluid level's runs are made physical.
type CompactionStyle int

const (
	// StyleTiered keeps each run as its own physical level (concatenation).
	StyleTiered CompactionStyle = iota
	// StyleLeveled merges all runs of a fluid level into one physical level.
	StyleLeveled
)

// Executor runs background work items. The controller and bulk loader
// schedule compactions through it rather than spawning goroutines
// directly, so callers can bound concurrency and observe in-flight work.
//
// Reference: teacher's threadpool usage inside db_apis.go, generalized to
// an interface so the controller can be tested against a synchronous
// stub.
type Executor interface {
	// Schedule enqueues fn for background execution. Schedule must not
	// block the caller waiting for fn to run.
	Schedule(fn func())
}

// DB is the subset of engine behavior the fluid compaction controller,
// bulk loader, and Monkey filter policy are built against. A concrete
// engine (see internal/memengine for the in-process reference one used
// by this module's tests and CLI tools) implements it; the on-disk
// format behind it is out of scope (spec §1 NON-GOALS).
//
// Reference: rocksdb::DB's CompactFiles/GetColumnFamilyMetaData/Put/Flush
// surface, as used by the teacher's db_apis.go and event_listener.go.
type DB interface {
	// Name identifies the database (e.g. for log namespacing).
	Name() string

	// ColumnFamilyMetaData returns a snapshot of the physical level
	// structure: file names, sizes, and in-flight compaction markers.
	ColumnFamilyMetaData() *ColumnFamilyMetaData

	// CompactFiles performs a synchronous forced compaction of the named
	// input files into OutputLevel, returning per-output FileMetaData on
	// success.
	CompactFiles(ctx context.Context, opts CompactionOptions) ([]FileMetaData, Status)

	// Put writes a single key/value pair, used by the bulk loader to
	// materialize entries directly (spec §4.3).
	Put(ctx context.Context, key, value []byte) Status

	// Flush forces the active memtable to a new L0 file and fires
	// OnFlushCompleted on the registered listener.
	Flush(ctx context.Context) Status

	// Executor returns the background executor compactions are scheduled
	// on.
	Executor() Executor

	// SetWriteBufferSize overrides the memtable flush threshold. The bulk
	// loader uses this to size a run so it fits in exactly one flush
	// (spec §4.3 "bulk_load_single_run").
	SetWriteBufferSize(n uint64)

	// SetEventListener installs the listener that receives flush/compaction
	// callbacks, replacing any previously registered one. The bulk loader
	// uses this to install itself for the duration of a load and restore
	// the controller afterward (spec §4.3 "Event suppression").
	SetEventListener(l EventListener)
}
