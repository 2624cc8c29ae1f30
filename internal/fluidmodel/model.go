// Package fluidmodel maintains the logical "fluid level" view the
// compaction controller reasons over, rebuilt from the engine's physical
// per-column-family metadata (spec §3 "Fluid level (C4)", §4.1).
//
// A fluid run groups one or more physical files that together form a
// single sorted run; a fluid level groups one or more fluid runs. The
// mapping from physical levels to fluid levels is fixed by the K
// (interior tiering width) parameter: physical levels 0 and 1 together
// form fluid level 1, and for physical level p >= 2 the fluid level is
// ceil((p-1)/(K+1)) — the extra +1 slot is left empty for an in-flight
// merge output.
package fluidmodel

import (
	"fmt"
	"math"
	"sync"

	"github.com/fluidlsm/fluidlsm/engine"
	"github.com/fluidlsm/fluidlsm/internal/fluidopt"
)

// Run is a set of physical files forming one sorted run with disjoint
// key ranges (spec §4.1 "Run.contains/add_file").
type Run struct {
	files map[string]engine.FileMetaData
}

// NewRun returns an empty run.
func NewRun() *Run {
	return &Run{files: make(map[string]engine.FileMetaData)}
}

// Contains reports whether name is already part of this run.
func (r *Run) Contains(name string) bool {
	_, ok := r.files[name]
	return ok
}

// AddFile indexes meta by name. Adding a name already present is a
// programmer error (uniqueness is required by spec §4.1) and panics.
func (r *Run) AddFile(meta engine.FileMetaData) {
	if _, ok := r.files[meta.Name]; ok {
		panic(fmt.Sprintf("fluidmodel: duplicate file %q added to run", meta.Name))
	}
	r.files[meta.Name] = meta
}

// Empty reports whether the run holds no files.
func (r *Run) Empty() bool { return len(r.files) == 0 }

// Live reports whether the run has at least one file and none of its
// files are currently being compacted.
func (r *Run) Live() bool {
	if r.Empty() {
		return false
	}
	for _, f := range r.files {
		if f.BeingCompacted {
			return false
		}
	}
	return true
}

// SizeBytes sums the run's file sizes.
func (r *Run) SizeBytes() uint64 {
	var total uint64
	for _, f := range r.files {
		total += f.SizeBytes
	}
	return total
}

// FileNames returns the run's file names in no particular order.
func (r *Run) FileNames() []string {
	names := make([]string, 0, len(r.files))
	for name := range r.files {
		names = append(names, name)
	}
	return names
}

// Level is a collection of fluid runs (spec §4.1 "Level.size/size_in_bytes/num_live_runs/contains").
type Level struct {
	Runs []*Run
}

// NewLevel returns a level with no runs.
func NewLevel() *Level {
	return &Level{}
}

// Size returns the number of non-empty runs.
func (l *Level) Size() int {
	n := 0
	for _, r := range l.Runs {
		if !r.Empty() {
			n++
		}
	}
	return n
}

// SizeInBytes sums all runs' file sizes.
func (l *Level) SizeInBytes() uint64 {
	var total uint64
	for _, r := range l.Runs {
		total += r.SizeBytes()
	}
	return total
}

// NumLiveRuns counts runs that are non-empty and have no file currently
// being compacted.
func (l *Level) NumLiveRuns() int {
	n := 0
	for _, r := range l.Runs {
		if r.Live() {
			n++
		}
	}
	return n
}

// Contains reports whether name appears in any run of this level.
func (l *Level) Contains(name string) bool {
	for _, r := range l.Runs {
		if r.Contains(name) {
			return true
		}
	}
	return false
}

// LiveFileNames returns the names of all files in live runs at this
// level — the candidate input set for a compaction task (spec §4.2
// "pick_compaction").
func (l *Level) LiveFileNames() []string {
	var names []string
	for _, r := range l.Runs {
		if !r.Live() {
			continue
		}
		names = append(names, r.FileNames()...)
	}
	return names
}

// Capacity returns the target capacity in bytes of fluid level level
// (1-indexed), per spec §3: cap(level) = (T-1) * T^level * B.
func Capacity(opt *fluidopt.Options, level int) uint64 {
	if level < 1 {
		return 0
	}
	return uint64((opt.SizeRatio - 1) * math.Pow(opt.SizeRatio, float64(level)) * float64(opt.BufferSize))
}

// EstimateLevels returns the number of fluid levels required to hold N
// entries of size E given buffer size B and size ratio T (spec §4.2
// "estimate_levels"): 1 if N*E < B, else ceil(log(N*E/B + 1) / log T).
func EstimateLevels(numEntries uint64, sizeRatio float64, entrySize, bufferSize uint64) int {
	total := float64(numEntries) * float64(entrySize)
	if total < float64(bufferSize) {
		return 1
	}
	return int(math.Ceil(math.Log(total/float64(bufferSize)+1) / math.Log(sizeRatio)))
}

// PhysicalToFluidLevel maps a physical engine level index to its fluid
// level (spec §3 "Mapping rule from physical to fluid"). k is the
// controller's interior run-max (K) parameter.
func PhysicalToFluidLevel(physical int, k int) int {
	if physical <= 1 {
		return 1
	}
	return int(math.Ceil(float64(physical-1) / float64(k+1)))
}

// FluidLevelToPhysicalStartIdx returns the lowest physical level index
// belonging to fluid level l — the inverse of PhysicalToFluidLevel, used
// to translate a fluid-level compaction target into a concrete physical
// output level.
func FluidLevelToPhysicalStartIdx(l int, k int) int {
	if l <= 1 {
		return 0
	}
	return (l-1)*(k+1) + 2
}

// Model is the controller's rebuildable logical view: an ordered
// sequence of fluid levels, indexed starting at 1 (index 0 is kept
// unused/empty to match the 1-indexed level numbering used throughout
// spec §3-§4).
type Model struct {
	mu     sync.Mutex
	Levels []*Level
}

// New returns an empty model.
func New() *Model {
	return &Model{Levels: []*Level{nil}}
}

// Lock and Unlock expose the model's level mutex so the controller can
// serialize rebuilds without holding it across engine calls (spec §5
// "Callers must never hold the controller's internal mutex across
// engine calls").
func (m *Model) Lock()   { m.mu.Lock() }
func (m *Model) Unlock() { m.mu.Unlock() }

// Level returns the fluid level at the given 1-indexed position,
// growing the model if necessary. Never returns nil.
func (m *Model) Level(l int) *Level {
	for len(m.Levels) <= l {
		m.Levels = append(m.Levels, NewLevel())
	}
	if m.Levels[l] == nil {
		m.Levels[l] = NewLevel()
	}
	return m.Levels[l]
}

// LargestOccupiedLevel returns the greatest fluid level with any
// non-empty run, or 0 for an empty model (spec §9 Open Question 2:
// unified on the fluid view so an empty DB yields 0 rather than a fatal
// condition).
func (m *Model) LargestOccupiedLevel() int {
	for l := len(m.Levels) - 1; l >= 1; l-- {
		if m.Levels[l] != nil && m.Levels[l].Size() > 0 {
			return l
		}
	}
	return 0
}

// InitOpenDB rebuilds the logical view from the engine's physical
// column-family metadata (spec §4.1 "init_open_db"), clearing prior
// state under the level mutex.
//
// Padding: if physical level 0 has fewer files than k, the fluid level
// is padded with empty runs so indices stay stable across rebuilds
// (spec §4.1 "Edge cases"); if physical level 1 is empty, an empty run
// slot is still recorded in fluid level 1.
func (m *Model) InitOpenDB(cf *engine.ColumnFamilyMetaData, k int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Levels = []*Level{nil}

	var p0, p1 engine.LevelMetaData
	if len(cf.Levels) > 0 {
		p0 = cf.Levels[0]
	}
	if len(cf.Levels) > 1 {
		p1 = cf.Levels[1]
	}

	fluid1 := NewLevel()
	for _, f := range p0.Files {
		run := NewRun()
		run.AddFile(f)
		fluid1.Runs = append(fluid1.Runs, run)
	}
	for len(fluid1.Runs) < k {
		fluid1.Runs = append(fluid1.Runs, NewRun())
	}
	p1Run := NewRun()
	for _, f := range p1.Files {
		p1Run.AddFile(f)
	}
	fluid1.Runs = append(fluid1.Runs, p1Run)
	m.Levels = append(m.Levels, fluid1)

	for p := 2; p < len(cf.Levels); p++ {
		fl := PhysicalToFluidLevel(p, k)
		level := m.Level(fl)
		run := NewRun()
		for _, f := range cf.Levels[p].Files {
			run.AddFile(f)
		}
		level.Runs = append(level.Runs, run)
	}
}
