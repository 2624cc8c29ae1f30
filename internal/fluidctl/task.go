package fluidctl

import "github.com/fluidlsm/fluidlsm/engine"

// Task is a single compaction request handed to the engine's background
// executor (spec §3 "Compaction task (C5)").
type Task struct {
	DB             engine.DB
	ColumnFamily   string
	InputFiles     []string
	OutputLevel    int
	CompactOptions engine.CompactionOptions
	OriginLevel    int
	RetryOnFail    bool
	IsRetry        bool

	// OutputFileSizeLimit is the computed cap on the merge output's file
	// size, set so the result lands on OutputLevel (spec §4.2 "Output
	// size policy").
	OutputFileSizeLimit uint64

	controller *Controller
}

// clone returns a copy of t suitable for a retry submission: same
// inputs and target, IsRetry set, and the same controller back-reference
// so the retry re-enters the same in-flight accounting (spec §4.2
// "constructs a new Task copy with is_retry = true").
func (t *Task) clone() *Task {
	cp := *t
	cp.IsRetry = true
	return &cp
}
