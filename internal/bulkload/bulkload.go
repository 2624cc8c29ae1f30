// Package bulkload implements the bulk loader (spec §4.3, component
// C6): it populates an LSM from empty to a target shape by writing
// sorted runs directly into the engine and forcing each to its
// destination physical level, rather than running a full workload
// through the flush-triggered compaction path.
package bulkload

import (
	"context"
	"fmt"

	"github.com/fluidlsm/fluidlsm/engine"
	"github.com/fluidlsm/fluidlsm/internal/datagen"
	"github.com/fluidlsm/fluidlsm/internal/fluidctl"
	"github.com/fluidlsm/fluidlsm/internal/fluidmodel"
	"github.com/fluidlsm/fluidlsm/internal/fluidopt"
	"github.com/fluidlsm/fluidlsm/internal/logging"
)

// batchSize is the number of key/value pairs written per Put batch
// while materializing a run (spec §4.3 "bulk_load_single_run").
const batchSize = 1000

// outputSizeSlack matches fluidctl's choice of 1.05 uniformly, applied
// here to the bulk loader's own output_file_size_limit computation
// (spec §4.3 states 1.03; spec §9 Open Question 3 picks one factor
// uniformly across the codebase).
const outputSizeSlack = 1.05

// maxPutErrorFraction aborts a load if more than this fraction of Puts
// fail (spec §7 "Errors during bulk load's direct Put paths are
// counted... exceeding 10% of total writes aborts the load").
const maxPutErrorFraction = 0.10

// Loader drives bulk_load_entries/bulk_load_levels against an engine.DB,
// reusing the compaction controller's task primitive and retry logic for
// every forced compaction it issues (spec §4.3 "inherits its retry
// logic").
type Loader struct {
	ctl    *fluidctl.Controller
	opt    *fluidopt.Options
	logger logging.Logger
	gen    *datagen.Generator
}

// New returns a Loader that schedules its forced compactions through
// ctl and generates key/value bytes from gen.
func New(ctl *fluidctl.Controller, opt *fluidopt.Options, logger logging.Logger, gen *datagen.Generator) *Loader {
	return &Loader{ctl: ctl, opt: opt, logger: logging.OrDefault(logger), gen: gen}
}

// OnFlushCompleted implements engine.EventListener as a no-op: while the
// loader is installed as the active listener, automatic scheduling must
// not run (spec §4.3 "Event suppression").
func (l *Loader) OnFlushCompleted(engine.DB, *engine.FlushInfo) {}

// OnCompactionCompleted implements engine.EventListener, delegating to
// the controller's logging so forced-compaction failures are still
// observed.
func (l *Loader) OnCompactionCompleted(db engine.DB, info *engine.CompactionInfo) {
	l.ctl.OnCompactionCompleted(db, info)
}

var _ engine.EventListener = (*Loader)(nil)

// BulkLoadEntries computes L = estimate_levels(N, T, E, B), a top-down
// per-level capacity schedule, and invokes bulkLoad bounded at N total
// entries (spec §4.3 "bulk_load_entries").
func (l *Loader) BulkLoadEntries(ctx context.Context, db engine.DB, cf string, numEntries uint64) error {
	numLevels := l.ctl.EstimateLevels(numEntries)
	capacities := l.capacityPerLevel(numLevels)
	return l.bulkLoad(ctx, db, cf, capacities, numLevels, numEntries)
}

// BulkLoadLevels is BulkLoadEntries without an entry-count bound: it
// fills every level to full capacity (spec §4.3 "bulk_load_levels").
func (l *Loader) BulkLoadLevels(ctx context.Context, db engine.DB, cf string, numLevels int) error {
	capacities := l.capacityPerLevel(numLevels)
	return l.bulkLoad(ctx, db, cf, capacities, numLevels, ^uint64(0))
}

// capacityPerLevel computes capacity_per_level[0] = (B/E)*(T-1) and
// capacity_per_level[l] = capacity_per_level[l-1]*T (spec §4.3
// "bulk_load_entries"), indexed 0..numLevels-1 where index i corresponds
// to fluid level i+1.
func (l *Loader) capacityPerLevel(numLevels int) []uint64 {
	capacities := make([]uint64, numLevels)
	capacities[0] = uint64((float64(l.opt.BufferSize) / float64(l.opt.EntrySize)) * (l.opt.SizeRatio - 1))
	for i := 1; i < numLevels; i++ {
		capacities[i] = uint64(float64(capacities[i-1]) * l.opt.SizeRatio)
	}
	return capacities
}

// bulkLoad iterates fluid levels from L-1 down to 0 (0-indexed into
// capacities; fluid level = index+1), choosing num_runs per level
// (T-1 at level 0, Z at the last level, K at interior levels), and
// stops once max_entries is exceeded (spec §4.3 "bulk_load").
func (l *Loader) bulkLoad(ctx context.Context, db engine.DB, cf string, capacities []uint64, numLevels int, maxEntries uint64) error {
	var loaded uint64
	for i := numLevels - 1; i >= 0; i-- {
		if loaded > maxEntries {
			break
		}
		fluidLevel := i + 1
		numRuns := l.numRunsForLevel(i, numLevels)
		n, err := l.bulkLoadSingleLevel(ctx, db, cf, fluidLevel, capacities[i], numRuns)
		if err != nil {
			return fmt.Errorf("bulkload: level %d: %w", fluidLevel, err)
		}
		loaded += n
	}
	return nil
}

func (l *Loader) numRunsForLevel(levelIdx, numLevels int) int {
	switch {
	case levelIdx == 0:
		return int(l.opt.SizeRatio - 1)
	case levelIdx == numLevels-1:
		return int(l.opt.LargestLevelRunMax)
	default:
		return int(l.opt.LowerLevelRunMax)
	}
}

// bulkLoadSingleLevel writes numRuns runs of capacity/numRuns entries
// each, then forces them to the destination physical level (spec §4.3
// "bulk_load_single_level"). It returns the number of entries written.
func (l *Loader) bulkLoadSingleLevel(ctx context.Context, db engine.DB, cf string, fluidLevel int, capacity uint64, numRuns int) (uint64, error) {
	if numRuns <= 0 {
		return 0, nil
	}
	entriesPerRun := capacity / uint64(numRuns)
	var total uint64

	for run := 0; run < numRuns; run++ {
		if err := l.bulkLoadSingleRun(ctx, db, fluidLevel, entriesPerRun); err != nil {
			return total, err
		}
		total += entriesPerRun
	}

	if fluidLevel == 1 {
		// Entries land directly in physical level 0/1 on flush; no forced
		// compaction is needed to "place" fluid level 1's own runs.
		return total, nil
	}

	cfMeta := db.ColumnFamilyMetaData()
	var freshFiles []string
	if len(cfMeta.Levels) > 0 {
		for _, f := range cfMeta.Levels[0].Files {
			if !f.BeingCompacted {
				freshFiles = append(freshFiles, f.Name)
			}
		}
	}
	if len(freshFiles) == 0 {
		return total, nil
	}

	physicalOutput := fluidmodel.FluidLevelToPhysicalStartIdx(fluidLevel, int(l.opt.LowerLevelRunMax))
	task := &fluidctl.Task{
		DB:           db,
		ColumnFamily: cf,
		InputFiles:   freshFiles,
		OutputLevel:  fluidLevel,
		OriginLevel:  0,
		CompactOptions: engine.CompactionOptions{
			InputFiles:      freshFiles,
			OutputLevel:     physicalOutput,
			CompactionStyle: engine.StyleLeveled,
		},
		OutputFileSizeLimit: uint64(float64(entriesPerRun) * float64(l.opt.EntrySize) * outputSizeSlack),
	}
	l.ctl.ScheduleCompaction(task)
	return total, nil
}

// bulkLoadSingleRun materializes one run of entries entries at fluid
// level fluidLevel: write batches of key/value pairs prefixed with
// "level|", then issue a synchronous Flush (spec §4.3
// "bulk_load_single_run").
//
// It first overrides the engine's write_buffer_size to entries*E*8, so
// the whole run accumulates in one memtable and Flush produces exactly
// one physical file per run rather than splitting it across several.
func (l *Loader) bulkLoadSingleRun(ctx context.Context, db engine.DB, fluidLevel int, entries uint64) error {
	db.SetWriteBufferSize(l.opt.EntrySize * entries * 8)
	prefix := fmt.Sprintf("%d|", fluidLevel)
	var written uint64
	var putErrors uint64

	for written < entries {
		batch := batchSize
		if remaining := entries - written; remaining < uint64(batch) {
			batch = int(remaining)
		}
		for i := 0; i < batch; i++ {
			key, value := l.gen.GenerateKVPair(int(l.opt.EntrySize), prefix, prefix)
			status := db.Put(ctx, key, value)
			if !status.OK() {
				putErrors++
			}
		}
		written += uint64(batch)

		total := written
		if total > 0 && float64(putErrors)/float64(total) > maxPutErrorFraction {
			return fmt.Errorf("bulkload: %d/%d Put errors exceeds %.0f%% threshold, aborting", putErrors, total, maxPutErrorFraction*100)
		}
	}

	if status := db.Flush(ctx); !status.OK() {
		return fmt.Errorf("bulkload: flush failed: %w", fmtError(status))
	}
	return nil
}

func fmtError(s engine.Status) error {
	return fmt.Errorf("%s", s.Error())
}

// Drain reproduces the canonical drain protocol: busy-wait on the
// controller's in-flight counter reaching zero, then call
// RequiresCompaction repeatedly until it returns false (spec §4.3
// "Completion barrier").
func Drain(ctl *fluidctl.Controller, db engine.DB) {
	for ctl.CompactionsLeft() != 0 {
		// Busy-wait per spec §4.3/§9: the in-flight counter has atomic
		// load semantics and callers may poll it without the level mutex.
	}
	for ctl.RequiresCompaction(db) {
	}
}
