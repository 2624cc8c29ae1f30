package fluidctl

import (
	"context"
	"sync"
	"testing"

	"github.com/fluidlsm/fluidlsm/engine"
	"github.com/fluidlsm/fluidlsm/internal/fluidopt"
	"github.com/fluidlsm/fluidlsm/internal/logging"
)

// syncExecutor runs scheduled work synchronously so tests don't need to
// wait on goroutines.
type syncExecutor struct{}

func (syncExecutor) Schedule(fn func()) { fn() }

// stubDB is a minimal engine.DB whose CompactFiles result is scripted
// per call, used to exercise the controller's retry/terminal-failure
// classification (spec §8 S4) without a real storage engine.
type stubDB struct {
	mu       sync.Mutex
	cf       *engine.ColumnFamilyMetaData
	results  []engine.Status // consumed in order, one per CompactFiles call
	calls    int
	executor engine.Executor
}

func (s *stubDB) Name() string { return "stub" }
func (s *stubDB) ColumnFamilyMetaData() *engine.ColumnFamilyMetaData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cf
}
func (s *stubDB) CompactFiles(_ context.Context, _ engine.CompactionOptions) ([]engine.FileMetaData, engine.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx >= len(s.results) {
		return nil, engine.OKStatus
	}
	return nil, s.results[idx]
}
func (s *stubDB) Put(context.Context, []byte, []byte) engine.Status { return engine.OKStatus }
func (s *stubDB) Flush(context.Context) engine.Status               { return engine.OKStatus }
func (s *stubDB) Executor() engine.Executor                         { return s.executor }
func (s *stubDB) SetWriteBufferSize(uint64)                          {}
func (s *stubDB) SetEventListener(engine.EventListener)              {}

func threeFilesAtLevel0() *engine.ColumnFamilyMetaData {
	return &engine.ColumnFamilyMetaData{
		Levels: []engine.LevelMetaData{
			{Level: 0, Files: []engine.FileMetaData{
				{Name: "000001.sst", SizeBytes: 1024},
				{Name: "000002.sst", SizeBytes: 1024},
				{Name: "000003.sst", SizeBytes: 1024},
			}},
			{Level: 1},
		},
	}
}

func newTestController() (*Controller, *fluidopt.Options) {
	opt := fluidopt.Default()
	opt.SizeRatio = 2 // T=2, so r > T-1 = 1 triggers at fluid level 1
	opt.LowerLevelRunMax = 1
	opt.LargestLevelRunMax = 1
	c := New(opt, logging.Discard)
	return c, opt
}

func TestPickCompactionTriggersOnSaturatedLevel(t *testing.T) {
	c, _ := newTestController()
	db := &stubDB{cf: threeFilesAtLevel0(), executor: syncExecutor{}}
	c.InitOpenDB(db)

	task, err := c.PickCompaction(db, "default", 1)
	if err != nil {
		t.Fatalf("PickCompaction error: %v", err)
	}
	if task == nil {
		t.Fatal("expected a non-nil task for a saturated level")
	}
	if task.OutputLevel <= task.OriginLevel {
		t.Errorf("output_level %d must be > origin_level %d", task.OutputLevel, task.OriginLevel)
	}
	if len(task.InputFiles) == 0 {
		t.Error("expected non-empty input file set")
	}
}

func TestNoDoublePick(t *testing.T) {
	c, _ := newTestController()
	cf := threeFilesAtLevel0()
	cf.Levels[0].Files[0].BeingCompacted = true
	db := &stubDB{cf: cf, executor: syncExecutor{}}
	c.InitOpenDB(db)

	task, err := c.PickCompaction(db, "default", 1)
	if err != nil {
		t.Fatalf("PickCompaction error: %v", err)
	}
	if task != nil {
		for _, f := range task.InputFiles {
			if f == cf.Levels[0].Files[0].Name {
				t.Errorf("picked a file flagged being_compacted: %s", f)
			}
		}
	}
}

func TestRetrySemantics(t *testing.T) {
	c, _ := newTestController()
	db := &stubDB{
		cf:       threeFilesAtLevel0(),
		executor: syncExecutor{},
		results:  []engine.Status{engine.OtherStatus(nil), engine.OKStatus},
	}
	c.InitOpenDB(db)

	task, err := c.PickCompaction(db, "default", 1)
	if err != nil || task == nil {
		t.Fatalf("expected a task, got %v, err=%v", task, err)
	}
	task.RetryOnFail = true
	c.ScheduleCompaction(task)

	if got := c.CompactionsLeft(); got != 0 {
		t.Errorf("compactionsLeft = %d after retry+success, want 0", got)
	}
	if db.calls != 2 {
		t.Errorf("expected exactly 2 CompactFiles calls (original + 1 retry), got %d", db.calls)
	}
}

func TestIOErrorTerminatesWithoutRetry(t *testing.T) {
	c, _ := newTestController()
	db := &stubDB{
		cf:       threeFilesAtLevel0(),
		executor: syncExecutor{},
		results:  []engine.Status{engine.IOErrorStatus(nil)},
	}
	c.InitOpenDB(db)

	task, err := c.PickCompaction(db, "default", 1)
	if err != nil || task == nil {
		t.Fatalf("expected a task, got %v, err=%v", task, err)
	}
	task.RetryOnFail = true
	c.ScheduleCompaction(task)

	if db.calls != 1 {
		t.Errorf("IO error must not retry: got %d CompactFiles calls, want 1", db.calls)
	}
	if got := c.CompactionsLeft(); got != 0 {
		t.Errorf("compactionsLeft = %d, want 0 (terminal decrement)", got)
	}
}

func TestSuppressionMakesOnFlushCompletedNoOp(t *testing.T) {
	c, _ := newTestController()
	db := &stubDB{cf: threeFilesAtLevel0(), executor: syncExecutor{}}
	c.Suppress(true)
	c.OnFlushCompleted(db, &engine.FlushInfo{CFName: "default"})

	if got := c.CompactionsLeft(); got != 0 {
		t.Errorf("compactionsLeft = %d, want 0 while suppressed", got)
	}
	if db.calls != 0 {
		t.Errorf("expected no CompactFiles calls while suppressed, got %d", db.calls)
	}
}

func TestEstimateLevelsBoundary(t *testing.T) {
	opt := fluidopt.Default()
	opt.SizeRatio = 2
	opt.EntrySize = 1024
	opt.BufferSize = 1 << 20
	ctl := New(opt, logging.Discard)

	if got := ctl.EstimateLevels(1); got != 1 {
		t.Errorf("EstimateLevels(1) = %d, want 1 (N*E << B)", got)
	}
}
